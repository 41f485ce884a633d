package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/chzyer/readline"

	"github.com/Nyukimin/storefront_agent/internal/application/agent"
	"github.com/Nyukimin/storefront_agent/internal/domain/routing"
)

// replAgent は対話モードで使うエージェント機能
type replAgent interface {
	Initialize(ctx context.Context) bool
	Process(ctx context.Context, utterance string) agent.Response
	AvailableOperations(ctx context.Context) agent.Operations
	TestConnection(ctx context.Context) bool
	AnalyzeIntent(ctx context.Context, utterance string) (routing.IntentAnalysis, error)
	PrimaryBackend() string
}

const replHelp = `Commands:
  help             show this message
  tools            list available operations
  status           show backend connection status
  intent <text>    analyze the intent of a request without executing it
  quit             exit
Anything else is sent to the agent as a request.`

// runREPL は対話セッションを実行する
func runREPL(ctx context.Context, a replAgent) error {
	if !a.Initialize(ctx) {
		return fmt.Errorf("failed to connect to %s", a.PrimaryBackend())
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "🛍️  > ",
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return fmt.Errorf("failed to start readline: %w", err)
	}
	defer rl.Close()

	out := rl.Stdout()
	fmt.Fprintln(out, "Storefront Agent interactive session. Type 'help' for commands.")

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		if quit := handleLine(ctx, a, line, out); quit {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// handleLine は1行を処理し、終了すべきなら true を返す
func handleLine(ctx context.Context, a replAgent, line string, out io.Writer) bool {
	line = strings.TrimSpace(line)
	cmd, arg, _ := strings.Cut(line, " ")

	switch strings.ToLower(cmd) {
	case "":
		return false
	case "quit", "exit", "q":
		fmt.Fprintln(out, "Goodbye!")
		return true
	case "help":
		fmt.Fprintln(out, replHelp)
	case "tools":
		ops := a.AvailableOperations(ctx)
		fmt.Fprintf(out, "%d tools on %d servers:\n", ops.TotalTools, ops.TotalServers)
		for _, t := range ops.Tools {
			fmt.Fprintf(out, "  %s/%s: %s\n", t.Server, t.Name, t.Description)
		}
	case "status":
		ops := a.AvailableOperations(ctx)
		if a.TestConnection(ctx) {
			fmt.Fprintf(out, "✅ %s connected\n", a.PrimaryBackend())
		} else {
			fmt.Fprintf(out, "❌ %s not connected\n", a.PrimaryBackend())
		}
		for _, s := range ops.Servers {
			mark := "-"
			if s.Connected {
				mark = "+"
			}
			fmt.Fprintf(out, "  %s %s (%s) %d tools\n", mark, s.Descriptor.Name, s.Descriptor.Address, len(s.Operations))
		}
	case "intent":
		analysis, err := a.AnalyzeIntent(ctx, strings.TrimSpace(arg))
		if err != nil {
			slog.Warn("intent analysis failed", "error", err)
			fmt.Fprintln(out, "Error: intent analysis is unavailable right now")
			return false
		}
		fmt.Fprintf(out, "Intent: %s (confidence %.2f)\n", analysis.Intent, analysis.Confidence)
		if len(analysis.Operations) > 0 {
			fmt.Fprintf(out, "Operations: %s\n", strings.Join(analysis.Operations, ", "))
		}
		if analysis.UserMessage != "" {
			fmt.Fprintln(out, analysis.UserMessage)
		}
	default:
		resp := a.Process(ctx, line)
		fmt.Fprintln(out, resp.FinalResponse)
		if !resp.Success && resp.Error != "" {
			fmt.Fprintf(out, "  (%s: %s)\n", resp.Outcome.State, resp.Error)
		}
	}
	return false
}
