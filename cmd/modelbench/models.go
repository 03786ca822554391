package main

import (
	"strconv"

	"github.com/docker/go-units"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newModelsCmd(a *app) *cobra.Command {
	var family string
	cmd := &cobra.Command{
		Use:     "models",
		Aliases: []string{"ls"},
		Short:   "List catalog models and their local state",
		Example: "  modelbench models --catalog models.yaml\n  modelbench models --family gemma",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.buildStack(false)
			if err != nil {
				return err
			}
			defer s.close()

			models := s.repo.All()
			if family != "" {
				models = s.repo.ByFamily(family)
			}
			table := tablewriter.NewWriter(a.out)
			table.Header("ID", "Family", "Quant", "Size", "Tools", "State")
			for _, m := range models {
				size := "-"
				if m.ApproximateSizeBytes > 0 {
					size = units.HumanSize(float64(m.ApproximateSizeBytes))
				}
				row := []string{
					m.ModelID,
					m.ModelFamily,
					m.Quantization,
					size,
					strconv.FormatBool(m.SupportsTools),
					s.dl.Status(m.BundleFilename).Kind.String(),
				}
				if err := table.Append(row); err != nil {
					return err
				}
			}
			return table.Render()
		},
	}
	cmd.Flags().StringVar(&family, "family", "", "Only list models of this family")
	return cmd
}
