package httpapi

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"modelbench/internal/auth"
	"modelbench/internal/catalog"
	"modelbench/internal/download"
	"modelbench/internal/engine"
	"modelbench/internal/runner"
	"modelbench/internal/suite"
	"modelbench/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ListModels() []types.Model
	GetModel(id string) (types.Model, error)

	Downloads() []types.DownloadStatus
	WatchDownloads() (<-chan []types.DownloadStatus, func())
	StartDownload(id string, force bool) error
	CancelDownload(id string) (bool, error)
	DeleteBundle(id string) (bool, error)

	LoadModel(ctx context.Context, id string, useGPU bool) error
	ResetConversation(systemPrompt string) error
	// Prompt runs one turn. A nil onFragment runs it blocking.
	Prompt(ctx context.Context, text string, onFragment func(string) error) (string, error)

	Domains() ([]string, error)
	RunTests(ctx context.Context, req types.RunTestsRequest) (<-chan types.TestStatus, error)

	SetToken(token string) error
	ClearToken() error

	Status() types.StatusResponse
	Ready() bool
}

// CoreDeps are the components a Core serves. Runner and Tokens may be nil.
type CoreDeps struct {
	Catalog     *catalog.Repository
	Downloads   *download.Manager
	Engine      *engine.Engine
	Runner      *runner.Runner
	Tokens      *auth.TokenStore
	Backend     string
	InitOptions engine.InitOptions
	Log         zerolog.Logger
}

// Core implements Service over the catalog, download manager, engine, test
// runner and token store of one process.
type Core struct {
	d       CoreDeps
	ctx     context.Context
	started time.Time
	running atomic.Bool

	// loadMu serializes LoadModel so two callers don't race Initialize.
	loadMu sync.Mutex
}

var _ Service = (*Core)(nil)

// NewCore returns a Core. Background downloads started through it run under
// ctx and stop when it is canceled.
func NewCore(ctx context.Context, d CoreDeps) *Core {
	if d.Catalog == nil || d.Downloads == nil || d.Engine == nil {
		panic("httpapi: catalog, downloads and engine are required")
	}
	return &Core{d: d, ctx: ctx, started: time.Now()}
}

func (c *Core) find(id string) (catalog.ModelConfiguration, error) {
	cfg, ok := c.d.Catalog.FindByID(id)
	if !ok {
		return cfg, fmt.Errorf("%w: %s", catalog.ErrModelNotFound, id)
	}
	return cfg, nil
}

func (c *Core) modelView(cfg catalog.ModelConfiguration) types.Model {
	return types.Model{
		ID:                   cfg.ModelID,
		Family:               cfg.ModelFamily,
		DownloadURL:          cfg.DownloadURL,
		BundleFilename:       cfg.BundleFilename,
		ApproximateSizeBytes: cfg.ApproximateSizeBytes,
		SupportsTools:        cfg.SupportsTools,
		Quantization:         cfg.Quantization,
		DownloadState:        c.d.Downloads.Status(cfg.BundleFilename).Kind.String(),
	}
}

func (c *Core) ListModels() []types.Model {
	all := c.d.Catalog.All()
	out := make([]types.Model, 0, len(all))
	for _, m := range all {
		out = append(out, c.modelView(m))
	}
	return out
}

func (c *Core) GetModel(id string) (types.Model, error) {
	cfg, err := c.find(id)
	if err != nil {
		return types.Model{}, err
	}
	return c.modelView(cfg), nil
}

// DownloadView converts one status to its wire form.
func DownloadView(name string, st download.Status) types.DownloadStatus {
	return types.DownloadStatus{
		Filename:      name,
		State:         st.Kind.String(),
		Progress:      st.Progress,
		Indeterminate: st.Indeterminate(),
		BytesReceived: st.BytesReceived,
		TotalBytes:    st.TotalBytes,
		LocalPath:     st.LocalPath,
		Reason:        st.Reason,
	}
}

func downloadViews(m map[string]download.Status) []types.DownloadStatus {
	out := make([]types.DownloadStatus, 0, len(m))
	for name, st := range m {
		out = append(out, DownloadView(name, st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out
}

func (c *Core) Downloads() []types.DownloadStatus { return downloadViews(c.d.Downloads.Statuses()) }

// WatchDownloads streams the full status list on every change, starting with
// the current one. The returned func stops the stream.
func (c *Core) WatchDownloads() (<-chan []types.DownloadStatus, func()) {
	src, unsub := c.d.Downloads.Subscribe()
	out := make(chan []types.DownloadStatus)
	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			unsub()
		})
	}
	go func() {
		defer close(out)
		for m := range src {
			select {
			case out <- downloadViews(m):
			case <-done:
				return
			}
		}
	}()
	return out, stop
}

// StartDownload begins fetching the bundle of id in the background and returns
// once the request is accepted. Progress is observable via Downloads.
func (c *Core) StartDownload(id string, force bool) error {
	cfg, err := c.find(id)
	if err != nil {
		return err
	}
	var opts []download.DownloadOption
	if force {
		opts = append(opts, download.WithForce())
	}
	go func() {
		if err := c.d.Downloads.DownloadModel(c.ctx, cfg.ModelID, cfg.DownloadURL, cfg.BundleFilename, opts...); err != nil {
			c.d.Log.Warn().Err(err).Str("model", cfg.ModelID).Msg("http event=download_failed")
		}
	}()
	return nil
}

func (c *Core) CancelDownload(id string) (bool, error) {
	cfg, err := c.find(id)
	if err != nil {
		return false, err
	}
	return c.d.Downloads.CancelDownload(cfg.BundleFilename), nil
}

func (c *Core) DeleteBundle(id string) (bool, error) {
	cfg, err := c.find(id)
	if err != nil {
		return false, err
	}
	return c.d.Downloads.DeleteModel(cfg.BundleFilename)
}

// LoadModel downloads the bundle of id if needed and initializes the session
// with it.
func (c *Core) LoadModel(ctx context.Context, id string, useGPU bool) error {
	cfg, err := c.find(id)
	if err != nil {
		return err
	}
	c.loadMu.Lock()
	defer c.loadMu.Unlock()
	if err := c.d.Downloads.DownloadModel(ctx, cfg.ModelID, cfg.DownloadURL, cfg.BundleFilename); err != nil {
		return err
	}
	opts := c.d.InitOptions
	opts.UseGPU = useGPU
	return c.d.Engine.Initialize(ctx, cfg, c.d.Downloads.GetModelPath(cfg.BundleFilename), opts)
}

func (c *Core) ResetConversation(systemPrompt string) error {
	return c.d.Engine.ResetConversation(systemPrompt)
}

func (c *Core) Prompt(ctx context.Context, text string, onFragment func(string) error) (string, error) {
	if onFragment == nil {
		return c.d.Engine.Prompt(ctx, text)
	}
	var b strings.Builder
	for frag, err := range c.d.Engine.PromptStreaming(ctx, text) {
		if err != nil {
			return b.String(), err
		}
		b.WriteString(frag)
		if err := onFragment(frag); err != nil {
			return b.String(), err
		}
	}
	return b.String(), nil
}

func (c *Core) Domains() ([]string, error) {
	if c.d.Runner == nil {
		return nil, ErrNoSuite
	}
	ds := c.d.Runner.AvailableDomains()
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.String()
	}
	return out, nil
}

// RunTests starts a test run. Only one run may be active at a time; a second
// caller gets ErrBusy.
func (c *Core) RunTests(ctx context.Context, req types.RunTestsRequest) (<-chan types.TestStatus, error) {
	if c.d.Runner == nil {
		return nil, ErrNoSuite
	}
	opts := runner.RunOptions{UseGPU: req.UseGPU, Streaming: req.Streaming}
	if strings.TrimSpace(req.Domain) != "" {
		d, err := suite.ParseDomain(req.Domain)
		if err != nil {
			return nil, BadRequest(err.Error())
		}
		opts.Domain = &d
	}
	if !c.running.CompareAndSwap(false, true) {
		IncrementBackpressure("test_run")
		return nil, ErrBusy
	}
	src, err := c.d.Runner.RunTests(ctx, opts)
	if err != nil {
		c.running.Store(false)
		return nil, err
	}
	out := make(chan types.TestStatus)
	go func() {
		defer c.running.Store(false)
		defer close(out)
		for st := range src {
			select {
			case out <- TestStatusView(st):
			case <-ctx.Done():
				// keep draining so the run can finish
			}
		}
	}()
	return out, nil
}

// TestStatusView converts one runner update to its wire form.
func TestStatusView(st runner.TestStatus) types.TestStatus {
	return types.TestStatus{
		RunID:      st.RunID,
		Name:       st.Name,
		Domain:     st.Domain.String(),
		State:      string(st.State),
		Message:    st.Message,
		DurationMS: st.Duration.Milliseconds(),
	}
}

func (c *Core) SetToken(token string) error {
	if c.d.Tokens == nil {
		return engine.ErrDependencyUnavailable("token store not configured")
	}
	if strings.TrimSpace(token) == "" {
		return BadRequest("token is required")
	}
	return c.d.Tokens.Save(token)
}

func (c *Core) ClearToken() error {
	if c.d.Tokens == nil {
		return engine.ErrDependencyUnavailable("token store not configured")
	}
	return c.d.Tokens.Clear()
}

func (c *Core) Status() types.StatusResponse {
	resp := types.StatusResponse{
		EngineState:     c.d.Engine.State().String(),
		Backend:         c.d.Backend,
		CatalogSize:     c.d.Catalog.Len(),
		ActiveDownloads: c.d.Downloads.ActiveCount(),
		UptimeSeconds:   int64(time.Since(c.started).Seconds()),
		ServerTimeUnix:  time.Now().Unix(),
	}
	if cfg, _, ok := c.d.Engine.Model(); ok {
		resp.ModelID = cfg.ModelID
	}
	if err := c.d.Engine.LastError(); err != nil && !errors.Is(err, context.Canceled) {
		resp.LastError = err.Error()
	}
	return resp
}

// Ready reports whether the catalog is populated and the session usable.
func (c *Core) Ready() bool {
	return c.d.Catalog.Len() > 0 && c.d.Engine.State() != engine.Closed
}
