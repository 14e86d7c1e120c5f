package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/zerocode/internal/assistant"
	"github.com/spf13/cobra"
)

func newChatCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive assistant session over stdin",
		Long: `Read prompts line by line and submit each one to the assistant.

Commands:
  /reset  clear the transcript
  /quit   leave the session`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context(), cmd, opts)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			out := cmd.OutOrStdout()
			for _, m := range s.panel.Messages() {
				printMessage(out, m)
			}

			scanner := bufio.NewScanner(cmd.InOrStdin())
			scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
			for {
				fmt.Fprint(out, "zerocode> ")
				if !scanner.Scan() {
					fmt.Fprintln(out)
					return scanner.Err()
				}
				line := scanner.Text()

				switch strings.TrimSpace(line) {
				case "/quit", "/exit":
					return nil
				case "/reset":
					if err := s.panel.Reset(); err != nil {
						fmt.Fprintf(out, "reset failed: %v\n", err)
					}
					for _, m := range s.panel.Messages() {
						printMessage(out, m)
					}
					continue
				}

				if err := s.submit(cmd.Context(), line); err != nil {
					if errors.Is(err, assistant.ErrEmptyInput) {
						continue
					}
					return err
				}
			}
		},
	}
}
