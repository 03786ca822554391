package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	parser "github.com/gpustack/gguf-parser-go"

	"modelbench/internal/catalog"
	"modelbench/internal/common/fsutil"
)

// InitOptions tunes one model load.
type InitOptions struct {
	UseGPU      bool
	ContextSize int
	Threads     int
}

// ModelInfo is metadata read from a GGUF bundle header. Fields are empty for
// other bundle formats.
type ModelInfo struct {
	Architecture string
	FileType     string
	Parameters   string
	Size         string
}

// InitPhase marks progress of an initialization.
type InitPhase int

const (
	PhaseInitializing InitPhase = iota
	PhaseValidated
	PhaseReady
	PhaseFailed
)

func (p InitPhase) String() string {
	switch p {
	case PhaseInitializing:
		return "initializing"
	case PhaseValidated:
		return "validated"
	case PhaseReady:
		return "ready"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// InitUpdate is one step of InitializeStream.
type InitUpdate struct {
	Phase  InitPhase
	Info   ModelInfo
	Engine *Engine // set on PhaseReady
	Err    error   // set on PhaseFailed
}

// Initialize validates the bundle at modelPath and loads it through the
// backend. A Ready engine unloads its current model first and starts a fresh
// conversation. On failure the engine is left Uninitialized and the call may
// be retried.
func (e *Engine) Initialize(ctx context.Context, cfg catalog.ModelConfiguration, modelPath string, opts InitOptions) error {
	return e.initialize(ctx, cfg, modelPath, opts, func(InitUpdate) {})
}

// InitializeStream is Initialize observed mid-flight. The channel yields
// PhaseInitializing, PhaseValidated and then PhaseReady or PhaseFailed, and
// is closed afterwards.
func (e *Engine) InitializeStream(ctx context.Context, cfg catalog.ModelConfiguration, modelPath string, opts InitOptions) <-chan InitUpdate {
	ch := make(chan InitUpdate, 4)
	go func() {
		defer close(ch)
		err := e.initialize(ctx, cfg, modelPath, opts, func(u InitUpdate) { ch <- u })
		if err != nil {
			ch <- InitUpdate{Phase: PhaseFailed, Err: err}
			return
		}
		ch <- InitUpdate{Phase: PhaseReady, Info: e.Info(), Engine: e}
	}()
	return ch
}

func (e *Engine) initialize(ctx context.Context, cfg catalog.ModelConfiguration, modelPath string, opts InitOptions, progress func(InitUpdate)) error {
	if err := e.acquire(ctx, "initialize"); err != nil {
		if IsSessionClosed(err) {
			return err
		}
		return &InitializationError{Path: modelPath, Stage: "admission", Err: errors.Unwrap(err)}
	}
	defer e.release()

	e.mu.Lock()
	old := e.model
	e.model = nil
	e.state = Initializing
	e.cfg, e.path, e.info = cfg, modelPath, ModelInfo{}
	e.history, e.tools = nil, nil
	e.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	e.log.Info().Str("model", cfg.ModelID).Str("path", modelPath).Msg("engine event=init_start")
	e.publish(EventInitStart, map[string]any{"path": modelPath})
	progress(InitUpdate{Phase: PhaseInitializing})

	fail := func(stage string, err error) error {
		ierr := &InitializationError{Path: modelPath, Stage: stage, Err: err}
		e.mu.Lock()
		if e.state == Initializing {
			e.state = Uninitialized
		}
		e.lastErr = ierr
		e.mu.Unlock()
		e.log.Warn().Err(err).Str("model", cfg.ModelID).Str("stage", stage).Msg("engine event=init_failed")
		e.publish(EventInitFailed, map[string]any{"stage": stage, "error": err.Error()})
		return ierr
	}

	info, err := inspectBundle(modelPath)
	if err != nil {
		return fail("validate", err)
	}
	progress(InitUpdate{Phase: PhaseValidated, Info: info})

	m, err := e.backend.Load(ctx, LoadOptions{
		Model:       cfg,
		ModelPath:   modelPath,
		UseGPU:      opts.UseGPU,
		ContextSize: opts.ContextSize,
		Threads:     opts.Threads,
	})
	if err != nil {
		return fail("load", err)
	}

	e.mu.Lock()
	if e.state != Initializing {
		// closed meanwhile
		e.mu.Unlock()
		_ = m.Close()
		return &SessionClosedError{Op: "initialize"}
	}
	e.model = m
	e.info = info
	e.opts = opts
	e.state = Ready
	e.lastErr = nil
	e.mu.Unlock()
	e.log.Info().Str("model", cfg.ModelID).Str("arch", info.Architecture).Str("file_type", info.FileType).Msg("engine event=init_ready")
	e.publish(EventInitReady, map[string]any{"arch": info.Architecture, "file_type": info.FileType})
	return nil
}

// inspectBundle checks that path is a readable bundle. GGUF bundles must have
// a parseable header.
func inspectBundle(path string) (ModelInfo, error) {
	if strings.TrimSpace(path) == "" {
		return ModelInfo{}, errors.New("model path is empty")
	}
	if !fsutil.IsRegularFile(path) {
		return ModelInfo{}, fmt.Errorf("model file not found: %s", path)
	}
	if !strings.EqualFold(filepath.Ext(path), ".gguf") {
		return ModelInfo{}, nil
	}
	gf, err := parser.ParseGGUFFile(path)
	if err != nil {
		return ModelInfo{}, fmt.Errorf("parse gguf: %w", err)
	}
	md := gf.Metadata()
	return ModelInfo{
		Architecture: strings.TrimSpace(md.Architecture),
		FileType:     strings.TrimSpace(md.FileType.String()),
		Parameters:   md.Parameters.String(),
		Size:         md.Size.String(),
	}, nil
}
