package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", "addr: :9999\nmodels_dir: /tmp\nmodel_id: m1\nbackend: openai\nuse_gpu: true\ncors_origins: [\"http://a\"]\n")
	cfg, err := Load(p)
	if err != nil { t.Fatalf("load: %v", err) }
	if cfg.Addr != ":9999" || cfg.ModelsDir != "/tmp" || cfg.ModelID != "m1" || cfg.Backend != "openai" || !cfg.UseGPU {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "http://a" {
		t.Fatalf("unexpected cors origins: %v", cfg.CORSOrigins)
	}
}

func TestLoadJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.json", `{"addr":":7070","models_dir":"/m","llama_ctx":4096,"suite_file":"s.yaml","model_id":"m2"}`)
	cfg, err := Load(p)
	if err != nil { t.Fatalf("load: %v", err) }
	if cfg.Addr != ":7070" || cfg.ModelsDir != "/m" || cfg.LlamaCtx != 4096 || cfg.SuiteFile != "s.yaml" || cfg.ModelID != "m2" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.toml", "addr=\":8081\"\nmodels_dir=\"/x\"\nllama_threads=9\ncatalog_file=\"c.json\"\nmodel_id=\"m3\"\n")
	cfg, err := Load(p)
	if err != nil { t.Fatalf("load: %v", err) }
	if cfg.Addr != ":8081" || cfg.ModelsDir != "/x" || cfg.LlamaThreads != 9 || cfg.CatalogFile != "c.json" || cfg.ModelID != "m3" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil { t.Fatalf("expected error on empty path") }
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.txt", "not supported")
	if _, err := Load(p); err == nil { t.Fatalf("expected unsupported extension error") }
}

func TestLoadIgnoresUnknownFields(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.json", `{"addr":":1","vram_budget_mb":42}`)
	cfg, err := Load(p)
	if err != nil { t.Fatalf("load: %v", err) }
	if cfg.Addr != ":1" { t.Fatalf("unexpected cfg: %+v", cfg) }
}

func TestWithDefaults(t *testing.T) {
	cfg := Config{Addr: ":1234"}.WithDefaults()
	if cfg.Addr != ":1234" { t.Fatalf("addr overwritten: %q", cfg.Addr) }
	d := Defaults()
	if cfg.ModelsDir != d.ModelsDir || cfg.Backend != d.Backend || cfg.LlamaCtx != d.LlamaCtx || cfg.MaxBodyBytes != d.MaxBodyBytes {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}
