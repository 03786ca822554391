package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"modelbench/internal/catalog"
)

func newRmCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <model-id>...",
		Short:   "Delete downloaded model bundles",
		Args:    cobra.MinimumNArgs(1),
		Example: "  modelbench rm gemma3-1b-it-int4",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.buildStack(false)
			if err != nil {
				return err
			}
			defer s.close()
			for _, id := range args {
				cfg, ok := s.repo.FindByID(id)
				if !ok {
					return fmt.Errorf("%w: %q", catalog.ErrModelNotFound, id)
				}
				deleted, err := s.dl.DeleteModel(cfg.BundleFilename)
				if err != nil {
					return err
				}
				if deleted {
					fmt.Fprintf(a.out, "deleted %s\n", cfg.BundleFilename)
				} else {
					fmt.Fprintf(a.out, "%s not present\n", cfg.BundleFilename)
				}
			}
			return nil
		},
	}
}
