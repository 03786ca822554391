package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the CLI and the daemon.
// Zero values mean "unspecified" and are replaced by WithDefaults.
type Config struct {
	Addr          string   `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir     string   `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	CatalogFile   string   `json:"catalog_file" yaml:"catalog_file" toml:"catalog_file"`
	SuiteFile     string   `json:"suite_file" yaml:"suite_file" toml:"suite_file"`
	ModelID       string   `json:"model_id" yaml:"model_id" toml:"model_id"`
	Backend       string   `json:"backend" yaml:"backend" toml:"backend"`
	OpenAIBaseURL string   `json:"openai_base_url" yaml:"openai_base_url" toml:"openai_base_url"`
	LlamaCtx      int      `json:"llama_ctx" yaml:"llama_ctx" toml:"llama_ctx"`
	LlamaThreads  int      `json:"llama_threads" yaml:"llama_threads" toml:"llama_threads"`
	UseGPU        bool     `json:"use_gpu" yaml:"use_gpu" toml:"use_gpu"`
	TokenFile     string   `json:"token_file" yaml:"token_file" toml:"token_file"`
	LogLevel      string   `json:"log_level" yaml:"log_level" toml:"log_level"`
	CORSOrigins   []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	MaxBodyBytes  int64    `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
}

// Defaults returns the configuration used when nothing is specified.
func Defaults() Config {
	return Config{
		Addr:         ":8080",
		ModelsDir:    "~/.modelbench/models",
		Backend:      "llama",
		LlamaCtx:     2048,
		LlamaThreads: 4,
		LogLevel:     "info",
		MaxBodyBytes: 1 << 20,
	}
}

// WithDefaults fills unset fields from Defaults.
func (c Config) WithDefaults() Config {
	d := Defaults()
	if c.Addr == "" {
		c.Addr = d.Addr
	}
	if c.ModelsDir == "" {
		c.ModelsDir = d.ModelsDir
	}
	if c.Backend == "" {
		c.Backend = d.Backend
	}
	if c.LlamaCtx <= 0 {
		c.LlamaCtx = d.LlamaCtx
	}
	if c.LlamaThreads <= 0 {
		c.LlamaThreads = d.LlamaThreads
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = d.MaxBodyBytes
	}
	return c
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	if err := DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// DecodeFile decodes path into v, picking the codec from the file extension.
// Unknown fields are ignored by every codec.
func DecodeFile(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return Decode(filepath.Ext(path), b, v)
}

// Decode decodes b into v using the codec registered for ext.
func Decode(ext string, b []byte, v any) error {
	switch ext = strings.ToLower(ext); ext {
	case ".yaml", ".yml":
		return yaml.Unmarshal(b, v)
	case ".json":
		return json.Unmarshal(b, v)
	case ".toml":
		return toml.Unmarshal(b, v)
	default:
		return fmt.Errorf("unsupported config extension: %s", ext)
	}
}
