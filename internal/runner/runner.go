// Package runner drives a test suite through the download manager and the
// inference engine and reports per-case status updates.
package runner

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"modelbench/internal/catalog"
	"modelbench/internal/download"
	"modelbench/internal/engine"
	"modelbench/internal/suite"
)

// Catalog resolves model ids.
type Catalog interface {
	FindByID(id string) (catalog.ModelConfiguration, bool)
}

// Downloader fetches bundles.
type Downloader interface {
	DownloadModel(ctx context.Context, modelID, url, bundleFilename string, opts ...download.DownloadOption) error
	GetModelPath(bundleFilename string) string
}

// Session is the inference session the runner prompts.
type Session interface {
	State() engine.State
	Model() (catalog.ModelConfiguration, string, bool)
	LoadedOptions() engine.InitOptions
	Initialize(ctx context.Context, cfg catalog.ModelConfiguration, modelPath string, opts engine.InitOptions) error
	ResetConversation(systemPrompt string) error
	Prompt(ctx context.Context, text string) (string, error)
	PromptStreaming(ctx context.Context, text string) iter.Seq2[string, error]
}

// Deps are the collaborators a Runner reads from. It never owns them.
type Deps struct {
	Catalog   Catalog
	Downloads Downloader
	Session   Session
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(r *Runner) { r.log = l } }

// WithInitOptions sets context size and threads used when loading the model.
// UseGPU is taken from each run.
func WithInitOptions(o engine.InitOptions) Option { return func(r *Runner) { r.init = o } }

// RunOptions tunes one run.
type RunOptions struct {
	UseGPU    bool
	Domain    *suite.Domain // nil runs every case
	Streaming bool
}

// Runner executes a loaded suite against one model.
type Runner struct {
	suite   *suite.Suite
	deps    Deps
	modelID string
	init    engine.InitOptions
	log     zerolog.Logger

	run sync.Mutex // serializes runs
}

// New returns a runner for s that tests modelID.
func New(s *suite.Suite, modelID string, deps Deps, opts ...Option) (*Runner, error) {
	if s == nil || s.Len() == 0 {
		return nil, &suite.SuiteLoadError{Path: "(none)", Entry: -1, Err: errors.New("no tests defined")}
	}
	if deps.Catalog == nil || deps.Downloads == nil || deps.Session == nil {
		return nil, errors.New("runner: catalog, downloads and session are required")
	}
	r := &Runner{suite: s, deps: deps, modelID: modelID, log: zerolog.Nop()}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Load reads the suite at path and returns a runner for it. Suite problems are
// reported as *suite.SuiteLoadError.
func Load(path, modelID string, deps Deps, opts ...Option) (*Runner, error) {
	s, err := suite.Load(path)
	if err != nil {
		return nil, err
	}
	return New(s, modelID, deps, opts...)
}

// ModelID returns the model under test.
func (r *Runner) ModelID() string { return r.modelID }

// AvailableDomains returns the distinct suite domains in first-appearance order.
func (r *Runner) AvailableDomains() []suite.Domain { return r.suite.Domains() }

// Cases returns the cases a run with domain d would execute.
func (r *Runner) Cases(d *suite.Domain) []suite.TestCase { return r.suite.Filter(d) }

// RunTests starts a run and returns its status updates. Every selected case is
// first reported IDLE, then RUNNING, then PASS or FAIL. A failing case never
// stops later ones; if the session becomes unusable the remaining cases fail
// with an infrastructure error. The channel is closed when the run ends.
// Runs on one Runner execute one after another.
func (r *Runner) RunTests(ctx context.Context, opts RunOptions) (<-chan TestStatus, error) {
	if strings.TrimSpace(r.modelID) == "" {
		return nil, errors.New("runner: no model configured")
	}
	cases := r.suite.Filter(opts.Domain)
	runID := uuid.NewString()
	// Room for every update so an abandoned reader never stalls the run.
	out := make(chan TestStatus, 3*len(cases)+1)

	go func() {
		defer close(out)
		r.run.Lock()
		defer r.run.Unlock()
		runsTotal.Inc()
		r.execute(ctx, runID, cases, opts, out)
	}()
	return out, nil
}

func (r *Runner) execute(ctx context.Context, runID string, cases []suite.TestCase, opts RunOptions, out chan<- TestStatus) {
	log := r.log.With().Str("run_id", runID).Str("model", r.modelID).Logger()
	log.Info().Int("cases", len(cases)).Bool("streaming", opts.Streaming).Bool("gpu", opts.UseGPU).Msg("runner event=run_start")

	emit := func(tc suite.TestCase, st State, msg string, d time.Duration) {
		out <- TestStatus{RunID: runID, Name: tc.Name, Domain: tc.Domain, State: st, Message: msg, Duration: d}
	}
	for _, tc := range cases {
		emit(tc, StateIdle, "", 0)
	}

	var fatal error
	var passed, failed int
	for _, tc := range cases {
		if fatal == nil {
			if err := ctx.Err(); err != nil {
				fatal = fmt.Errorf("run cancelled: %w", err)
			} else if r.deps.Session.State() == engine.Closed {
				fatal = engine.ErrSessionClosed
			}
		}
		if fatal != nil {
			emit(tc, StateFail, infraPrefix+fatal.Error(), 0)
			testsTotal.WithLabelValues(string(tc.Domain), "fail").Inc()
			failed++
			continue
		}

		emit(tc, StateRunning, "", 0)
		start := time.Now()
		st, msg, err := r.runCase(ctx, tc, opts)
		d := time.Since(start)
		if err != nil && engine.IsSessionClosed(err) {
			fatal = engine.ErrSessionClosed
		}
		emit(tc, st, msg, d)
		testDuration.WithLabelValues(string(tc.Domain)).Observe(d.Seconds())
		if st == StatePass {
			passed++
			testsTotal.WithLabelValues(string(tc.Domain), "pass").Inc()
		} else {
			failed++
			testsTotal.WithLabelValues(string(tc.Domain), "fail").Inc()
		}
		log.Debug().Str("test", tc.Name).Str("state", string(st)).Dur("took", d).Str("message", msg).Msg("runner event=case_done")
	}
	log.Info().Int("passed", passed).Int("failed", failed).Msg("runner event=run_done")
}

// runCase returns the final state and message of one case. The error is the
// infrastructure failure, if any.
func (r *Runner) runCase(ctx context.Context, tc suite.TestCase, opts RunOptions) (State, string, error) {
	if err := r.ensureModel(ctx, opts.UseGPU); err != nil {
		return StateFail, infraPrefix + err.Error(), err
	}
	if err := r.deps.Session.ResetConversation(tc.SystemPrompt); err != nil {
		return StateFail, infraPrefix + err.Error(), err
	}
	resp, err := r.ask(ctx, tc.Query, opts.Streaming)
	if err != nil {
		return StateFail, infraPrefix + err.Error(), err
	}
	res := tc.Validate(resp)
	switch res.Kind {
	case suite.Pass:
		return StatePass, res.Message, nil
	case suite.Fail:
		return StateFail, res.Message, nil
	default:
		return StateFail, validationPrefix + res.Message, nil
	}
}

// ensureModel makes sure the model under test is downloaded and loaded.
func (r *Runner) ensureModel(ctx context.Context, useGPU bool) error {
	cfg, ok := r.deps.Catalog.FindByID(r.modelID)
	if !ok {
		return fmt.Errorf("%w: %s", catalog.ErrModelNotFound, r.modelID)
	}
	if loaded, _, ready := r.deps.Session.Model(); ready && loaded.ModelID == cfg.ModelID && r.deps.Session.LoadedOptions().UseGPU == useGPU {
		return nil
	}
	if err := r.deps.Downloads.DownloadModel(ctx, cfg.ModelID, cfg.DownloadURL, cfg.BundleFilename); err != nil {
		return err
	}
	lo := r.init
	lo.UseGPU = useGPU
	return r.deps.Session.Initialize(ctx, cfg, r.deps.Downloads.GetModelPath(cfg.BundleFilename), lo)
}

func (r *Runner) ask(ctx context.Context, query string, streaming bool) (string, error) {
	if !streaming {
		return r.deps.Session.Prompt(ctx, query)
	}
	var b strings.Builder
	for frag, err := range r.deps.Session.PromptStreaming(ctx, query) {
		if err != nil {
			return "", err
		}
		b.WriteString(frag)
	}
	return b.String(), nil
}
