package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v7"
	"github.com/vbauerster/mpb/v7/decor"

	"modelbench/internal/catalog"
	"modelbench/internal/common/fsutil"
	"modelbench/internal/download"
)

func newPullCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:     "pull <model-id>...",
		Short:   "Download model bundles with progress bars",
		Args:    cobra.MinimumNArgs(1),
		Example: "  modelbench pull gemma3-1b-it-int4\n  modelbench pull --force a b",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.pull(cmd.Context(), args, force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Download again even if the bundle is present")
	return cmd
}

func (a *app) pull(ctx context.Context, ids []string, force bool) error {
	s, err := a.buildStack(false)
	if err != nil {
		return err
	}
	defer s.close()

	var cfgs []catalog.ModelConfiguration
	for _, id := range ids {
		cfg, ok := s.repo.FindByID(id)
		if !ok {
			return fmt.Errorf("%w: %q", catalog.ErrModelNotFound, id)
		}
		cfgs = append(cfgs, cfg)
	}

	p := mpb.NewWithContext(ctx,
		mpb.WithOutput(a.out),
		mpb.WithWidth(48),
		mpb.WithRefreshRate(180*time.Millisecond),
	)
	bars := make(map[string]*mpb.Bar, len(cfgs))
	for _, c := range cfgs {
		bars[c.BundleFilename] = p.AddBar(c.ApproximateSizeBytes,
			mpb.PrependDecorators(
				decor.Name(c.ModelID, decor.WC{W: len(c.ModelID) + 1, C: decor.DidentRight}),
				decor.CountersKibiByte("% .2f / % .2f"),
			),
			mpb.AppendDecorators(
				decor.OnComplete(decor.Percentage(decor.WC{W: 5}), "done"),
			),
		)
	}

	updates, unsub := s.dl.Subscribe()
	defer unsub()

	var opts []download.DownloadOption
	if force {
		opts = append(opts, download.WithForce())
	}
	errs := make([]error, len(cfgs))
	var wg sync.WaitGroup
	for i, c := range cfgs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = s.dl.DownloadModel(ctx, c.ModelID, c.DownloadURL, c.BundleFilename, opts...)
		}()
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

loop:
	for {
		select {
		case m, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			renderBars(bars, m, false)
		case <-done:
			break loop
		}
	}
	renderBars(bars, s.dl.Statuses(), true)
	p.Wait()

	for _, c := range cfgs {
		st := s.dl.Status(c.BundleFilename)
		if st.Kind == download.Completed {
			size := "-"
			if n := fsutil.FileSize(st.LocalPath); n > 0 {
				size = units.HumanSize(float64(n))
			}
			fmt.Fprintf(a.out, "%s: %s (%s)\n", c.ModelID, st.LocalPath, size)
		}
	}
	return errors.Join(errs...)
}

// renderBars moves each bar to its bundle's status. With final set, bars
// that did not complete are aborted.
func renderBars(bars map[string]*mpb.Bar, statuses map[string]download.Status, final bool) {
	for name, bar := range bars {
		st, ok := statuses[name]
		if !ok {
			if final {
				bar.Abort(false)
			}
			continue
		}
		switch st.Kind {
		case download.InProgress:
			if st.TotalBytes > 0 {
				bar.SetTotal(st.TotalBytes, false)
			}
			bar.SetCurrent(st.BytesReceived)
		case download.Completed:
			if n := fsutil.FileSize(st.LocalPath); n > 0 {
				bar.SetCurrent(n)
			}
			bar.SetTotal(-1, true)
		case download.Failed:
			bar.Abort(false)
		default:
			if final {
				bar.Abort(false)
			}
		}
	}
}
