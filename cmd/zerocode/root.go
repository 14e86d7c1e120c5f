package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/zerocode/internal/assistant"
	"github.com/ashureev/zerocode/internal/config"
	"github.com/ashureev/zerocode/internal/domain"
	"github.com/ashureev/zerocode/internal/gateway"
	"github.com/ashureev/zerocode/internal/logging"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	provider string
	verbose  bool
	noGreet  bool
	timeout  time.Duration
}

// newRootCmd builds the command tree over the given streams.
func newRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "zerocode",
		Short: "Talk to the ZeroCode assistant from a terminal",
		Long: `Run assistant submissions against the configured completion gateway.

Configuration is read from the environment (and .env) exactly like the server.
Transcripts are kept in memory for the life of the command.`,
		SilenceUsage: true,
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	root.PersistentFlags().StringVar(&opts.provider, "provider", "", "override GATEWAY_PROVIDER (openai, genai, grpc, scripted)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log gateway activity to stderr")
	root.PersistentFlags().BoolVar(&opts.noGreet, "no-greeting", false, "start without the greeting message")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 0, "override GATEWAY_TIMEOUT")

	root.AddCommand(newAskCmd(opts), newChatCmd(opts))
	return root
}

// apply overlays the flags on the environment configuration.
func (o *rootOptions) apply(cfg *config.Config) {
	if p := strings.ToLower(strings.TrimSpace(o.provider)); p != "" {
		cfg.Gateway.Provider = p
	}
	if o.timeout > 0 {
		cfg.Gateway.Timeout = o.timeout
	}
	if o.noGreet {
		cfg.Assistant.Greeting = ""
	}
}

// session is a panel wired to a gateway for the life of one command.
type session struct {
	panel *assistant.Panel
	gw    *gateway.Fallback
	out   io.Writer
}

func openSession(ctx context.Context, cmd *cobra.Command, opts *rootOptions) (*session, error) {
	cfg, err := config.LoadWith(opts.apply)
	if err != nil {
		return nil, err
	}

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger, _, err := logging.New(cmd.ErrOrStderr(), level, "")
	if err != nil {
		return nil, err
	}

	gw, err := gateway.New(ctx, cfg.Gateway, logger)
	if err != nil {
		return nil, err
	}

	out := cmd.OutOrStdout()
	orch := assistant.NewOrchestrator(gw, assistant.Models{
		Planning: cfg.Assistant.PlanningModel,
		Coding:   cfg.Assistant.CodingModel,
	}, cfg.Assistant.RewriteFileMarkers, logger)
	panel := assistant.NewPanel(orch, assistant.PanelOptions{
		Greeting:     cfg.Assistant.Greeting,
		HistoryLimit: cfg.Assistant.HistoryLimit,
		OnImageGenerated: func(url string) {
			fmt.Fprintf(out, "(image ready: %s)\n", url)
		},
	}, logger)

	return &session{panel: panel, gw: gw, out: out}, nil
}

func (s *session) Close() error {
	return s.gw.Close()
}

// submit runs text through the panel and prints the new messages.
func (s *session) submit(ctx context.Context, text string) error {
	before := s.panel.Transcript().Len()
	if err := s.panel.SubmitText(ctx, text); err != nil {
		return err
	}
	for _, m := range s.panel.Transcript().Since(before) {
		printMessage(s.out, m)
	}
	return nil
}

func printMessage(w io.Writer, m domain.Message) {
	if m.Role == domain.RoleUser {
		fmt.Fprintf(w, "> %s\n", m.Text)
		return
	}
	fmt.Fprintf(w, "[%s] %s\n", m.Intent.Badge(), m.Text)
}
