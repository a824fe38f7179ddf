// Command agentctl is a minimal terminal driver over the agentcore library
// (SPEC_FULL.md §B, "cmd/agentctl CLI"), existing to exercise Agent,
// session.Manager and the provider adapters end-to-end exactly as the
// teacher's cmd/demo exists to exercise Runtime. It is not a product: no
// TUI, no slash commands, no tool implementations beyond a toy "echo" tool
// (those are out of scope — spec §1).
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/spf13/cobra"

	"github.com/conversant-ai/agentcore/agent"
	"github.com/conversant-ai/agentcore/agentevent"
	"github.com/conversant-ai/agentcore/agentloop"
	"github.com/conversant-ai/agentcore/config"
	"github.com/conversant-ai/agentcore/model"
	"github.com/conversant-ai/agentcore/provider"
	"github.com/conversant-ai/agentcore/provider/anthropic"
	"github.com/conversant-ai/agentcore/provider/geminicli"
	"github.com/conversant-ai/agentcore/provider/openaicodex"
	"github.com/conversant-ai/agentcore/provider/openairesponses"
	"github.com/conversant-ai/agentcore/session"
	"github.com/conversant-ai/agentcore/telemetry"
)

var (
	flagSessionPath string
	flagConfigPath  string
	flagDotenvPath  string
	flagProviderID  string
	flagModel       string
	flagSystem      string
)

func main() {
	root := &cobra.Command{
		Use:   "agentctl",
		Short: "Drive an agentcore Agent from the terminal.",
	}
	root.PersistentFlags().StringVar(&flagSessionPath, "session", "session.jsonl", "session log path")
	root.PersistentFlags().StringVar(&flagConfigPath, "config", "agentctl.yaml", "config file path")
	root.PersistentFlags().StringVar(&flagDotenvPath, "dotenv", ".env", "dotenv file path")
	root.PersistentFlags().StringVar(&flagProviderID, "provider", "anthropic", "anthropic|openai-responses|openai-codex|gemini-cli")
	root.PersistentFlags().StringVar(&flagModel, "model", "", "model id override")
	root.PersistentFlags().StringVar(&flagSystem, "system", "You are a helpful coding assistant.", "system prompt")

	root.AddCommand(newRunCmd(), newReplayCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "agentctl:", err)
		os.Exit(1)
	}
}

func newReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Print the current branch's messages from a session file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			tel := telemetry.NewNoopBundle()
			mgr := session.New("replay", ".", tel)
			if err := mgr.SetPath(flagSessionPath); err != nil {
				return err
			}
			ctx, err := mgr.BuildContext("")
			if err != nil {
				return err
			}
			for _, m := range ctx.Messages {
				fmt.Printf("[%s] %s\n", m.Role, m.Text())
			}
			return nil
		},
	}
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start an interactive session: plain lines prompt the agent; /steer, /followup and /abort control an in-flight turn.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInteractive(cmd.Context())
		},
	}
}

func runInteractive(ctx context.Context) error {
	tel := telemetry.NewNoopBundle()

	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		cfg = config.Config{Providers: map[string]config.ProviderCredentials{}}
	}
	cfg, err = config.LoadDotenv(cfg, flagDotenvPath)
	if err != nil {
		return err
	}

	mgr := session.New("agentctl", mustCwd(), tel)
	if err := mgr.SetPath(flagSessionPath); err != nil {
		return err
	}

	abortFlag := &atomic.Bool{}
	stream, modelID, err := buildStream(cfg, flagProviderID, flagModel, abortFlag, tel)
	if err != nil {
		return err
	}

	a := agent.New(agent.Config{
		SystemPrompt:  flagSystem,
		Model:         modelID,
		Stream:        stream,
		SteeringDrain: agentloop.DrainAll,
		FollowUpDrain: agentloop.DrainOneAtATime,
		AbortFlag:     abortFlag,
	})

	a.Subscribe(func(ev agentevent.Event) {
		switch ev.Kind {
		case agentevent.KindMessageEnd:
			if ev.Message != nil && ev.Message.Role != model.RoleCustom {
				mgr.AppendMessage(*ev.Message)
			}
			if ev.Message != nil && ev.Message.IsAssistant() {
				fmt.Printf("\nassistant> %s\n", ev.Message.Text())
			}
		case agentevent.KindToolExecutionStart:
			fmt.Printf("\n[tool] %s started\n", ev.ToolName)
		}
	})

	fmt.Println("agentctl: type a message, or /steer, /followup, /abort, /quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch {
		case line == "/quit":
			return nil
		case line == "/abort":
			a.Abort()
		case strings.HasPrefix(line, "/steer "):
			a.Steer(model.NewUserText(strings.TrimPrefix(line, "/steer ")))
		case strings.HasPrefix(line, "/followup "):
			a.FollowUp(model.NewUserText(strings.TrimPrefix(line, "/followup ")))
		default:
			if a.State().IsStreaming {
				a.FollowUp(model.NewUserText(line))
				continue
			}
			go func(text string) {
				if err := a.Prompt(ctx, agent.Input{Text: text}); err != nil {
					fmt.Fprintln(os.Stderr, "agentctl: prompt failed:", err)
				}
			}(line)
		}
	}
	return scanner.Err()
}

// buildStream selects and constructs a provider.StreamFn from the given
// provider id. Bedrock is intentionally not wired here: it requires a live
// AWS SDK runtime client rather than a bare HTTP client, which this terminal
// demo does not set up.
func buildStream(cfg config.Config, providerID, modelOverride string, abort *atomic.Bool, tel telemetry.Bundle) (provider.StreamFn, string, error) {
	creds := cfg.Providers[providerID]
	modelID := modelOverride
	if modelID == "" {
		modelID = creds.Model
	}

	switch providerID {
	case "anthropic":
		a := anthropic.New(nil, anthropic.StaticAPIKey(creds.Token), nil, abort, tel)
		if modelID == "" {
			modelID = "claude-sonnet-4-5"
		}
		return a.Stream, modelID, nil
	case "openai-responses":
		a := openairesponses.New(nil, creds.Token, nil, abort, tel)
		if modelID == "" {
			modelID = "gpt-5"
		}
		return a.Stream, modelID, nil
	case "openai-codex":
		a := openaicodex.New(nil, creds.Token, nil, abort, tel)
		if modelID == "" {
			modelID = "gpt-5-codex"
		}
		return a.Stream, modelID, nil
	case "gemini-cli":
		a := geminicli.New(nil, creds.Token, "", nil, abort, tel)
		if modelID == "" {
			modelID = "gemini-2.5-pro"
		}
		return a.Stream, modelID, nil
	default:
		return nil, "", fmt.Errorf("unknown provider %q", providerID)
	}
}

func mustCwd() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}
