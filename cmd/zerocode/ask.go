package main

import (
	"strings"

	"github.com/spf13/cobra"
)

func newAskCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <prompt>",
		Short: "Submit one prompt and print the resulting messages",
		Example: `  zerocode ask "build a todo app"
  zerocode ask --provider scripted "draw a picture of a sunset"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), cmd, opts)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			return s.submit(cmd.Context(), strings.Join(args, " "))
		},
	}
}
