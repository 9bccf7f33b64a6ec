package main

import (
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"mecha/internal/config"
	"mecha/internal/llm"
	"mecha/internal/llm/format"
	"mecha/internal/repomap"
	"mecha/internal/session"
)

// askCmd streams a one-shot completion to stdout
var askCmd = &cobra.Command{
	Use:   "ask [prompt]",
	Short: "Stream a one-shot completion for a prompt",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := setup()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		req := llm.CompletionRequest{
			Model:    rt.model,
			Messages: []llm.Message{llm.UserMessage(strings.Join(args, " "))},
		}
		_, err = rt.broker.Stream(ctx, rt.provider, req, func(c llm.StreamChunk) {
			fmt.Print(c.Delta)
		})
		fmt.Println()
		if err != nil {
			logger.Error("completion failed", zap.Error(err))
			return err
		}
		return nil
	},
}

var fimSuffix string

// fimCmd runs a fill-in-the-middle completion
var fimCmd = &cobra.Command{
	Use:   "fim [prefix]",
	Short: "Fill-in-the-middle completion between a prefix and --suffix",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := setup()
		if err != nil {
			return err
		}
		prompt, err := format.FIM(rt.model, args[0], fimSuffix)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		_, err = rt.broker.StreamPrompt(ctx, rt.provider, llm.CompletionStringRequest{
			Model:  rt.model,
			Prompt: prompt,
		}, func(c llm.StreamChunk) {
			fmt.Print(c.Delta)
		})
		fmt.Println()
		return err
	},
}

var mapBudget int

// mapCmd renders the ranked repository map
var mapCmd = &cobra.Command{
	Use:   "map",
	Short: "Render a ranked map of the workspace",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(workspace)
		if err != nil {
			return err
		}
		budget := cfg.RepoMap.TokenBudget
		if mapBudget > 0 {
			budget = mapBudget
		}

		a := repomap.NewAnalyser(workspace)
		defer a.Close()
		a.SetParseOffloadThreshold(int64(cfg.RepoMap.ParseOffloadBytes))
		rendered, err := a.Render(cmd.Context(), "approx", budget)
		if err != nil {
			return err
		}
		fmt.Print(rendered)
		return nil
	},
}

// sessionsCmd lists and replays journals
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recorded sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(workspace)
		if err != nil {
			return err
		}
		reg, err := session.OpenRegistry(cfg.Session.Dir)
		if err != nil {
			return err
		}
		defer reg.Close()

		infos, err := reg.List()
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Println("no sessions recorded")
			return nil
		}
		for _, info := range infos {
			fmt.Printf("%s  %s\n", info.ID, info.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show [session-id]",
	Short: "Replay a session's journal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(workspace)
		if err != nil {
			return err
		}
		reg, err := session.OpenRegistry(cfg.Session.Dir)
		if err != nil {
			return err
		}
		defer reg.Close()

		return showJournal(cmd.OutOrStdout(), cmd.ErrOrStderr(), reg, args[0])
	},
}

// showJournal replays a session's journal. A truncated journal is not fatal:
// the valid prefix is replayed after a warning, since the corrupt tail was
// already discarded at open time.
func showJournal(out, errOut io.Writer, reg *session.Registry, id string) error {
	j, err := reg.Open(id)
	if err != nil {
		if !errors.Is(err, session.ErrTruncatedJournal) {
			return err
		}
		fmt.Fprintf(errOut, "warning: %v; replaying the valid prefix\n", err)
	}
	for _, ex := range j.Iterate(0) {
		fmt.Fprintf(out, "%4d  %s  %-6s %-11s %s\n",
			ex.Seq, ex.Timestamp.Format("15:04:05"), ex.Author, ex.Kind, string(ex.Payload))
	}
	return nil
}

// configCmd prints the effective configuration
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(workspace)
		if err != nil {
			return err
		}
		// Never print secrets.
		cfg.LLM.APIKey = redact(cfg.LLM.APIKey)
		for name, pc := range cfg.LLM.Providers {
			pc.APIKey = redact(pc.APIKey)
			cfg.LLM.Providers[name] = pc
		}
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	},
}

func redact(key string) string {
	if key == "" {
		return ""
	}
	return "<redacted>"
}

func init() {
	fimCmd.Flags().StringVar(&fimSuffix, "suffix", "", "text after the hole")
	mapCmd.Flags().IntVar(&mapBudget, "budget", 0, "token budget for the map")
	sessionsCmd.AddCommand(showCmd)
}
