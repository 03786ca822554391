package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"modelbench/internal/runner"
	"modelbench/internal/suite"
)

var errTestsFailed = errors.New("one or more tests failed")

func newTestCmd(a *app) *cobra.Command {
	var (
		domain    string
		streaming bool
		list      bool
	)
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Run the test suite against the configured model",
		Example: "  modelbench test --suite suite.yaml --model gemma3-1b\n" +
			"  modelbench test --suite suite.yaml --model gemma3-1b --domain ROUTING --stream\n" +
			"  modelbench test --suite suite.yaml --list",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := runner.RunOptions{UseGPU: a.cfg.UseGPU, Streaming: streaming}
			if domain != "" {
				d, err := suite.ParseDomain(domain)
				if err != nil {
					return err
				}
				opts.Domain = &d
			}
			return a.test(cmd.Context(), opts, list)
		},
	}
	cmd.Flags().StringVar(&domain, "domain", "", "Only run cases of this domain")
	cmd.Flags().BoolVar(&streaming, "stream", false, "Drive prompts through the streaming API")
	cmd.Flags().BoolVar(&list, "list", false, "List the selected cases and their domains without running them")
	return cmd
}

func (a *app) test(ctx context.Context, opts runner.RunOptions, list bool) error {
	s, err := a.buildStack(true)
	if err != nil {
		return err
	}
	defer s.close()

	r, err := a.runner(s)
	if err != nil {
		return err
	}
	if list {
		var ds []string
		for _, d := range r.AvailableDomains() {
			ds = append(ds, d.String())
		}
		fmt.Fprintf(a.out, "domains: %s\n", strings.Join(ds, ", "))
		for _, tc := range r.Cases(opts.Domain) {
			fmt.Fprintf(a.out, "  %-10s %s\n", tc.Domain, tc.Name)
		}
		return nil
	}

	ch, err := r.RunTests(ctx, opts)
	if err != nil {
		return err
	}
	var (
		pass      = color.New(color.FgGreen, color.Bold)
		fail      = color.New(color.FgRed, color.Bold)
		dim       = color.New(color.FgHiBlack)
		passed    int
		failed    int
		firstSeen bool
	)
	for st := range ch {
		switch st.State {
		case runner.StateIdle:
			if !firstSeen {
				dim.Fprintf(a.out, "run %s\n", st.RunID)
				firstSeen = true
			}
		case runner.StateRunning:
			dim.Fprintf(a.out, "RUN   %s/%s\n", st.Domain, st.Name)
		case runner.StatePass:
			passed++
			pass.Fprint(a.out, "PASS  ")
			fmt.Fprintf(a.out, "%s/%s (%s)\n", st.Domain, st.Name, st.Duration.Round(time.Millisecond))
		case runner.StateFail:
			failed++
			fail.Fprint(a.out, "FAIL  ")
			fmt.Fprintf(a.out, "%s/%s (%s)\n", st.Domain, st.Name, st.Duration.Round(time.Millisecond))
			if st.Message != "" {
				dim.Fprintf(a.out, "      %s\n", st.Message)
			}
		}
	}
	summary := pass
	if failed > 0 {
		summary = fail
	}
	summary.Fprintf(a.out, "%d passed, %d failed\n", passed, failed)
	if failed > 0 {
		return errTestsFailed
	}
	return nil
}
