package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

func newPromptCmd(a *app) *cobra.Command {
	var system string
	cmd := &cobra.Command{
		Use:   "prompt [text]",
		Short: "Chat with the configured model",
		Long: "Loads --model (downloading it if needed) and sends one turn per argument list,\n" +
			"or one turn per stdin line when no text is given.",
		Example: "  modelbench prompt --model gemma3-1b 'What is 2+2?'\n  modelbench prompt --model gemma3-1b --system 'Be brief'",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.prompt(cmd.Context(), strings.Join(args, " "), system)
		},
	}
	cmd.Flags().StringVar(&system, "system", "", "System prompt for the conversation")
	return cmd
}

func (a *app) prompt(ctx context.Context, text, system string) error {
	s, err := a.buildStack(true)
	if err != nil {
		return err
	}
	defer s.close()
	if _, err := a.loadModel(ctx, s); err != nil {
		return err
	}
	if err := s.eng.ResetConversation(system); err != nil {
		return err
	}

	turn := func(q string) error {
		for frag, err := range s.eng.PromptStreaming(ctx, q) {
			if err != nil {
				fmt.Fprintln(a.out)
				return err
			}
			fmt.Fprint(a.out, frag)
		}
		fmt.Fprintln(a.out)
		return nil
	}
	if strings.TrimSpace(text) != "" {
		return turn(text)
	}

	interactive := isatty.IsTerminal(os.Stdin.Fd())
	promptFmt := color.New(color.FgCyan, color.Bold)
	sc := bufio.NewScanner(os.Stdin)
	for {
		if interactive {
			promptFmt.Fprint(a.out, "> ")
		}
		if !sc.Scan() {
			return sc.Err()
		}
		q := strings.TrimSpace(sc.Text())
		if q == "" {
			continue
		}
		if err := turn(q); err != nil {
			return err
		}
	}
}
