package main

import (
	"fmt"
	"sort"

	"github.com/docker/go-units"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"modelbench/internal/common/fsutil"
	"modelbench/internal/download"
	"modelbench/internal/engine"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show local storage, backend and token state",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.buildStack(false)
			if err != nil {
				return err
			}
			defer s.close()

			_, hasToken := s.tokens.Token()
			fmt.Fprintf(a.out, "models dir:  %s\n", s.dl.Dir())
			fmt.Fprintf(a.out, "catalog:     %d models\n", s.repo.Len())
			fmt.Fprintf(a.out, "backend:     %s (llama built in: %t)\n", a.cfg.Backend, engine.LlamaAvailable())
			fmt.Fprintf(a.out, "token:       %t\n", hasToken)

			statuses := s.dl.Statuses()
			if len(statuses) == 0 {
				return nil
			}
			names := make([]string, 0, len(statuses))
			for n := range statuses {
				names = append(names, n)
			}
			sort.Strings(names)
			table := tablewriter.NewWriter(a.out)
			table.Header("Bundle", "State", "Size")
			for _, n := range names {
				st := statuses[n]
				size := "-"
				if st.Kind == download.Completed {
					size = units.HumanSize(float64(fsutil.FileSize(st.LocalPath)))
				}
				if err := table.Append([]string{n, st.Kind.String(), size}); err != nil {
					return err
				}
			}
			return table.Render()
		},
	}
}
