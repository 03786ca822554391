package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"modelbench/internal/httpapi"
	"modelbench/internal/runner"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP daemon",
		Example: "  modelbench serve --catalog models.yaml --suite suite.yaml --model gemma3-1b\n" +
			"  modelbench serve --addr :9090 --cors-origins '*'",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			pt, _ := cmd.Flags().GetDuration("prompt-timeout")
			httpapi.SetPromptTimeout(pt)
			return a.serve(ctx)
		},
	}
	cmd.Flags().String("addr", envStr("MODELBENCH_ADDR", ":8080"), "HTTP listen address, e.g. :8080")
	cmd.Flags().String("cors-origins", "", "Comma-separated allowed CORS origins; empty disables CORS")
	cmd.Flags().Int64("max-body-bytes", 1<<20, "Maximum JSON request body size")
	cmd.Flags().Duration("prompt-timeout", 0, "Upper bound for one POST /prompt (0 disables)")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	s, err := a.buildStack(true)
	if err != nil {
		return err
	}
	defer s.close()

	provider, err := a.catalogProvider()
	if err != nil {
		return err
	}

	var run *runner.Runner
	if a.cfg.SuiteFile != "" {
		if run, err = a.runner(s); err != nil {
			return err
		}
	}

	httpapi.SetLogger(a.log)
	httpapi.SetMaxBodyBytes(a.cfg.MaxBodyBytes)
	httpapi.SetCORSOptions(len(a.cfg.CORSOrigins) > 0, a.cfg.CORSOrigins, nil, nil)
	httpapi.SetBaseContext(ctx)

	core := httpapi.NewCore(ctx, httpapi.CoreDeps{
		Catalog:     s.repo,
		Downloads:   s.dl,
		Engine:      s.eng,
		Runner:      run,
		Tokens:      s.tokens,
		Backend:     a.cfg.Backend,
		InitOptions: a.initOptions(),
		Log:         a.log,
	})
	srv := &http.Server{
		Addr:              a.cfg.Addr,
		Handler:           httpapi.NewMux(core),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := s.repo.Sync(gctx, provider)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		a.log.Info().Str("addr", a.cfg.Addr).Str("models_dir", a.cfg.ModelsDir).Str("backend", a.cfg.Backend).Msg("serve event=listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		// Graceful shutdown (Ctrl+C / SIGTERM)
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			a.log.Warn().Err(err).Msg("serve event=shutdown_error")
		}
		return nil
	})
	err = g.Wait()
	a.log.Info().Msg("serve event=stopped")
	return err
}
