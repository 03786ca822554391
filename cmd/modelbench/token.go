package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newTokenCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the token used for authenticated downloads",
		RunE: func(cmd *cobra.Command, args []string) error {
			return errors.New("token requires a subcommand: set|clear|status")
		},
	}
	set := &cobra.Command{
		Use:     "set [token]",
		Short:   "Store the download token (read from stdin when omitted)",
		Args:    cobra.MaximumNArgs(1),
		Example: "  modelbench token set hf_xxx --token-file ~/.modelbench/token\n  echo hf_xxx | modelbench token set",
		RunE: func(cmd *cobra.Command, args []string) error {
			var tok string
			if len(args) == 1 {
				tok = args[0]
			} else {
				line, err := bufio.NewReader(os.Stdin).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read token: %w", err)
				}
				tok = strings.TrimSpace(line)
			}
			ts, err := a.tokenStore()
			if err != nil {
				return err
			}
			defer ts.Close()
			if err := ts.Save(tok); err != nil {
				return err
			}
			if a.cfg.TokenFile == "" {
				a.log.Warn().Msg("token event=memory_only hint=\"set --token-file to persist\"")
			}
			fmt.Fprintln(a.out, "token saved")
			return nil
		},
	}
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove the stored download token",
		RunE: func(cmd *cobra.Command, args []string) error {
			ts, err := a.tokenStore()
			if err != nil {
				return err
			}
			defer ts.Close()
			if err := ts.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "token cleared")
			return nil
		},
	}
	status := &cobra.Command{
		Use:   "status",
		Short: "Report whether a token is stored",
		RunE: func(cmd *cobra.Command, args []string) error {
			ts, err := a.tokenStore()
			if err != nil {
				return err
			}
			defer ts.Close()
			_, ok := ts.Token()
			fmt.Fprintf(a.out, "token present: %t\n", ok)
			return nil
		},
	}
	cmd.AddCommand(set, clearCmd, status)
	return cmd
}
