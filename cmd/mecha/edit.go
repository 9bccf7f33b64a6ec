package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mecha/internal/config"
	"mecha/internal/human"
	"mecha/internal/llm"
	"mecha/internal/session"
	"mecha/internal/symbol"
	"mecha/internal/tools"
	"mecha/internal/tools/lsp"
)

var (
	editFile  string
	editStart int
	editEnd   int
)

// editCmd anchors an agent on a code region and runs it to completion
var editCmd = &cobra.Command{
	Use:   "edit [symbol] [query...]",
	Short: "Run an editing agent anchored on a symbol",
	Long: `Anchors an agent on the lines --start through --end of --file and asks it
to carry out the query. The agent may apply edits, ask questions on the
terminal, and spawn helper agents for related symbols. Every exchange is
journaled; the session id is printed at the end for replay via
'mecha sessions show'.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		symbolName := args[0]
		query := strings.Join(args[1:], " ")

		anchor, err := anchorFromFile(symbolName, editFile, editStart, editEnd)
		if err != nil {
			return err
		}

		cfg, err := config.Load(workspace)
		if err != nil {
			return err
		}
		reg, err := session.OpenRegistry(cfg.Session.Dir)
		if err != nil {
			return err
		}
		defer reg.Close()
		sessionID := uuid.NewString()
		journal, err := reg.Create(sessionID)
		if err != nil {
			return err
		}

		rt, err := setup(llm.WithFailoverRecorder(session.NewBrokerRecorder(journal)))
		if err != nil {
			return err
		}

		// Credential edits take effect mid-session without a restart.
		watchCtx, stopWatch := context.WithCancel(cmd.Context())
		defer stopWatch()
		if err := rt.store.Watch(watchCtx, config.Path(workspace), config.ReloadCredentials(workspace)); err != nil {
			logger.Warn("credential hot-reload unavailable", zap.Error(err))
		}

		toolBroker := buildToolBroker(rt)

		engine := symbol.NewEngine(symbol.ActorConfig{
			Model:    rt.model,
			Provider: rt.provider,
			Broker:   rt.broker,
			Tools:    toolBroker,
			Journal:  journal,
		}, rt.cfg.Symbol.MailboxCapacity)

		iface := human.NewInterface(engine, journal)
		err = iface.Handle(human.Anchor{Request: human.AnchorRequest{
			Query:   query,
			Symbols: []symbol.AnchoredSymbol{anchor},
		}})
		if err != nil {
			engine.Close()
			return err
		}

		// Close drains every mailbox before returning.
		engine.Close()

		reportActors(engine, iface)
		fmt.Printf("session: %s\n", sessionID)
		return nil
	},
}

func init() {
	editCmd.Flags().StringVarP(&editFile, "file", "f", "", "file containing the symbol")
	editCmd.Flags().IntVar(&editStart, "start", 1, "first line of the region (1-based)")
	editCmd.Flags().IntVar(&editEnd, "end", 0, "last line of the region (inclusive; 0 means end of file)")
	_ = editCmd.MarkFlagRequired("file")
}

// anchorFromFile snapshots the requested region into an anchored symbol.
func anchorFromFile(name, path string, start, end int) (symbol.AnchoredSymbol, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return symbol.AnchoredSymbol{}, fmt.Errorf("read %s: %w", path, err)
	}
	lines := strings.Split(string(raw), "\n")
	if end <= 0 || end > len(lines) {
		end = len(lines)
	}
	if start < 1 || start > end {
		return symbol.AnchoredSymbol{}, fmt.Errorf("invalid region %d-%d in %s (%d lines)", start, end, path, len(lines))
	}
	content := strings.Join(lines[start-1:end], "\n")
	id := symbol.SymbolIdentifier{SymbolName: name, FSFilePath: path}
	return symbol.NewAnchoredSymbol(id, content, start, end), nil
}

// buildToolBroker registers every local tool plus the LSP bridge.
func buildToolBroker(rt *runtime) *tools.Broker {
	b := tools.NewBroker(int64(rt.cfg.Tools.Concurrency))

	b.MustRegisterHandler(tools.ToolCodeEditing, tools.NewEditor().Handler())
	b.MustRegisterHandler(tools.ToolFileSystem, tools.FileSystemHandler())
	b.MustRegisterHandler(tools.ToolFolderOutline, tools.FolderOutlineHandler())
	b.MustRegisterHandler(tools.ToolSearch, tools.SearchHandler())
	b.MustRegisterHandler(tools.ToolGrepSymbol, tools.GrepSymbolHandler())
	b.MustRegisterHandler(tools.ToolTerminal, tools.TerminalHandler())

	prompter := human.NewConsolePrompter(os.Stdin, os.Stdout)
	b.MustRegisterHandler(tools.ToolAskUser, tools.AskUserHandler(prompter.Ask))
	b.MustRegisterHandler(tools.ToolAskDocumentation, tools.AskDocumentationHandler(tools.DocLookup(workspace)))

	lsp.NewBridge(rt.cfg.Tools.LSPBridgeURL).RegisterAll(b)
	return b
}

// reportActors summarizes each actor's final state on the terminal.
func reportActors(engine *symbol.Engine, iface *human.Interface) {
	for _, id := range iface.Active() {
		a, ok := engine.Actor(id)
		if !ok {
			continue
		}
		line := fmt.Sprintf("%s: %s", id, a.State())
		if reward, ok := a.TerminalReward(); ok {
			line += fmt.Sprintf(" (reward %d)", reward.Value)
		}
		if err := a.LastError(); err != nil {
			line += fmt.Sprintf(" (last error: %v)", err)
		}
		fmt.Println(line)
		logger.Info("actor finished",
			zap.String("symbol", id.String()),
			zap.String("state", a.State().String()))
	}
}
