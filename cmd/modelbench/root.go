package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"modelbench/internal/config"
)

// app carries the resolved configuration and logger to subcommands.
type app struct {
	cfgPath string
	cfg     config.Config
	log     zerolog.Logger
	out     io.Writer
}

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// splitCSV splits a comma-separated list, dropping blanks.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func newRootCmd() *cobra.Command { return newRootCmdWith(os.Stdout) }

// newRootCmdWith builds the command tree writing command output to out.
func newRootCmdWith(out io.Writer) *cobra.Command {
	a := &app{out: out}
	d := config.Defaults()

	root := &cobra.Command{
		Use:           "modelbench",
		Short:         "Download, chat with and test on-device language models",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgPath, "config", envStr("MODELBENCH_CONFIG", ""), "Config file (.yaml, .json or .toml)")
	pf.String("models-dir", d.ModelsDir, "Local storage area for model bundles")
	pf.String("catalog", "", "Catalog file; when empty the models dir is scanned for *.gguf")
	pf.String("suite", "", "Test suite file")
	pf.String("model", "", "Model id used by prompt and test commands")
	pf.String("backend", d.Backend, "Inference backend: llama|openai|mediapipe")
	pf.String("openai-url", "", "Base URL of an OpenAI-compatible server (openai backend)")
	pf.Int("ctx", d.LlamaCtx, "Context size in tokens")
	pf.Int("threads", d.LlamaThreads, "CPU threads for inference")
	pf.Bool("gpu", false, "Offload layers to the GPU")
	pf.String("token-file", "", "File holding the download token (0600)")
	pf.String("log-level", envStr("MODELBENCH_LOG_LEVEL", d.LogLevel), "Log level: debug|info|warn|error")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg := config.Config{}
		if a.cfgPath != "" {
			c, err := config.Load(a.cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg = c
		}
		applyFlags(cmd, &cfg)
		a.cfg = cfg.WithDefaults()
		log, err := newLogger(a.cfg.LogLevel, os.Stderr)
		if err != nil {
			return err
		}
		a.log = log
		return nil
	}

	root.AddCommand(
		newServeCmd(a),
		newModelsCmd(a),
		newPullCmd(a),
		newRmCmd(a),
		newStatusCmd(a),
		newPromptCmd(a),
		newTestCmd(a),
		newTokenCmd(a),
	)
	return root
}

// applyFlags overrides file values with flags the user set explicitly.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	str := func(name string, dst *string) {
		if f.Changed(name) || *dst == "" {
			if v, err := f.GetString(name); err == nil && v != "" {
				*dst = v
			}
		}
	}
	num := func(name string, dst *int) {
		if f.Changed(name) {
			if v, err := f.GetInt(name); err == nil {
				*dst = v
			}
		}
	}
	str("models-dir", &cfg.ModelsDir)
	str("catalog", &cfg.CatalogFile)
	str("suite", &cfg.SuiteFile)
	str("model", &cfg.ModelID)
	str("backend", &cfg.Backend)
	str("openai-url", &cfg.OpenAIBaseURL)
	str("token-file", &cfg.TokenFile)
	str("log-level", &cfg.LogLevel)
	num("ctx", &cfg.LlamaCtx)
	num("threads", &cfg.LlamaThreads)
	if f.Changed("gpu") {
		cfg.UseGPU, _ = f.GetBool("gpu")
	}
	// serve-only flags
	str("addr", &cfg.Addr)
	if f.Lookup("cors-origins") != nil && f.Changed("cors-origins") {
		v, _ := f.GetString("cors-origins")
		cfg.CORSOrigins = splitCSV(v)
	}
	if f.Lookup("max-body-bytes") != nil && f.Changed("max-body-bytes") {
		cfg.MaxBodyBytes, _ = f.GetInt64("max-body-bytes")
	}
}

// newLogger returns a console logger on a terminal and JSON lines otherwise.
func newLogger(level string, w *os.File) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q", level)
	}
	var out io.Writer = w
	if isatty.IsTerminal(w.Fd()) || isatty.IsCygwinTerminal(w.Fd()) {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), nil
}
