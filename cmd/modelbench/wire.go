package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"modelbench/internal/auth"
	"modelbench/internal/catalog"
	"modelbench/internal/download"
	"modelbench/internal/engine"
	"modelbench/internal/runner"
)

// localModels lists bundles already in the models dir. A missing dir is empty.
func (a *app) localModels() ([]catalog.ModelConfiguration, error) {
	models, err := catalog.ScanDir(a.cfg.ModelsDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return models, nil
}

// catalogProvider picks the catalog source: the catalog file when configured,
// otherwise whatever bundles already sit in the models dir.
func (a *app) catalogProvider() (catalog.Provider, error) {
	if a.cfg.CatalogFile != "" {
		return catalog.NewFileProvider(a.cfg.CatalogFile, a.log), nil
	}
	models, err := a.localModels()
	if err != nil {
		return nil, err
	}
	return catalog.StaticProvider{Models: models}, nil
}

// loadCatalog returns a repository filled once from the configured source.
func (a *app) loadCatalog() (*catalog.Repository, error) {
	repo := catalog.NewRepository(a.log)
	var models []catalog.ModelConfiguration
	var err error
	if a.cfg.CatalogFile != "" {
		models, err = catalog.LoadFile(a.cfg.CatalogFile)
	} else {
		models, err = a.localModels()
	}
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	repo.SetModels(models)
	return repo, nil
}

func (a *app) tokenStore() (*auth.TokenStore, error) {
	return auth.NewTokenStore(a.cfg.TokenFile, a.log)
}

func (a *app) downloads(tokens *auth.TokenStore, opts ...download.Option) (*download.Manager, error) {
	opts = append([]download.Option{download.WithLogger(a.log), download.WithTokenSource(tokens)}, opts...)
	return download.NewManager(a.cfg.ModelsDir, opts...)
}

func (a *app) engine() (*engine.Engine, error) {
	kind, err := engine.ParseBackendKind(a.cfg.Backend)
	if err != nil {
		return nil, err
	}
	be, err := engine.NewBackend(kind, engine.BackendConfig{
		ContextSize: a.cfg.LlamaCtx,
		Threads:     a.cfg.LlamaThreads,
		BaseURL:     a.cfg.OpenAIBaseURL,
		APIKey:      os.Getenv("OPENAI_API_KEY"),
		Log:         a.log,
	})
	if err != nil {
		return nil, err
	}
	return engine.New(be, engine.WithLogger(a.log)), nil
}

func (a *app) initOptions() engine.InitOptions {
	return engine.InitOptions{UseGPU: a.cfg.UseGPU, ContextSize: a.cfg.LlamaCtx, Threads: a.cfg.LlamaThreads}
}

// stack is the set of components most commands share.
type stack struct {
	repo   *catalog.Repository
	tokens *auth.TokenStore
	dl     *download.Manager
	eng    *engine.Engine
}

func (a *app) buildStack(withEngine bool) (*stack, error) {
	repo, err := a.loadCatalog()
	if err != nil {
		return nil, err
	}
	tokens, err := a.tokenStore()
	if err != nil {
		return nil, err
	}
	dl, err := a.downloads(tokens)
	if err != nil {
		tokens.Close()
		return nil, err
	}
	s := &stack{repo: repo, tokens: tokens, dl: dl}
	if withEngine {
		if s.eng, err = a.engine(); err != nil {
			s.close()
			return nil, err
		}
	}
	return s, nil
}

func (s *stack) close() {
	if s.eng != nil {
		_ = s.eng.CloseSession()
	}
	s.dl.Dispose()
	s.tokens.Close()
}

func (a *app) runner(s *stack) (*runner.Runner, error) {
	if a.cfg.SuiteFile == "" {
		return nil, errors.New("no test suite configured (use --suite)")
	}
	return runner.Load(a.cfg.SuiteFile, a.cfg.ModelID, runner.Deps{
		Catalog:   s.repo,
		Downloads: s.dl,
		Session:   s.eng,
	}, runner.WithLogger(a.log), runner.WithInitOptions(a.initOptions()))
}

// loadModel downloads the configured model if needed and initializes the
// session with it.
func (a *app) loadModel(ctx context.Context, s *stack) (catalog.ModelConfiguration, error) {
	cfg, ok := s.repo.FindByID(a.cfg.ModelID)
	if !ok {
		return cfg, fmt.Errorf("%w: %q", catalog.ErrModelNotFound, a.cfg.ModelID)
	}
	if err := s.dl.DownloadModel(ctx, cfg.ModelID, cfg.DownloadURL, cfg.BundleFilename); err != nil {
		return cfg, err
	}
	return cfg, s.eng.Initialize(ctx, cfg, s.dl.GetModelPath(cfg.BundleFilename), a.initOptions())
}
