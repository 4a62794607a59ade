package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/samsaffron/enrich/internal/research"
	"github.com/samsaffron/enrich/internal/signal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	mcpProvider string
	mcpTimeout  time.Duration
	mcpNoRecord bool
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the research agent as an MCP tool over stdio",
	Long: `Run a Model Context Protocol server on stdin/stdout exposing one tool,
"research", which runs the full research loop for a topic.

Example client configuration:
  {"command": "enrich", "args": ["mcp"]}`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	AddProviderFlag(mcpCmd, &mcpProvider)
	mcpCmd.Flags().DurationVar(&mcpTimeout, "timeout", 10*time.Minute, "Time limit for each research call")
	mcpCmd.Flags().BoolVar(&mcpNoRecord, "no-record", false, "Do not save runs to history")
	rootCmd.AddCommand(mcpCmd)
}

// researchRunner runs one research state to completion.
type researchRunner interface {
	Run(ctx context.Context, st research.State) (research.State, error)
}

// ResearchInput is the research tool's argument object.
type ResearchInput struct {
	Topic   string `json:"topic" jsonschema:"what to research, e.g. 'Acme Corp latest funding round'"`
	Company string `json:"company,omitempty" jsonschema:"optional company name the topic is about"`
}

// ResearchOutput is the research tool's structured result.
type ResearchOutput struct {
	Topic          string         `json:"topic"`
	Summary        string         `json:"summary"`
	Justification  string         `json:"justification"`
	References     []string       `json:"references"`
	Data           map[string]any `json:"data,omitempty"`
	IsSatisfactory bool           `json:"is_satisfactory"`
	LoopCount      int            `json:"loop_count"`
	Messages       []string       `json:"messages"`
}

func researchTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "research",
		Description: "Searches the web for a topic, reads the top pages and returns a validated summary with references",
	}
}

// researchHandler adapts a runner to the MCP tool signature. onDone, when
// set, sees every finished run.
func researchHandler(runner researchRunner, timeout time.Duration, onDone func(research.State, time.Time, error)) mcp.ToolHandlerFor[ResearchInput, ResearchOutput] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ResearchInput) (*mcp.CallToolResult, ResearchOutput, error) {
		topic := strings.TrimSpace(input.Topic)
		if topic == "" {
			return nil, ResearchOutput{}, errors.New("topic is required")
		}
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		st := research.NewState(topic)
		st.Company = strings.TrimSpace(input.Company)
		started := time.Now()
		final, err := runner.Run(ctx, st)
		if onDone != nil {
			onDone(final, started, err)
		}
		if err != nil {
			return nil, ResearchOutput{}, fmt.Errorf("research failed: %w", err)
		}
		return nil, researchOutput(final), nil
	}
}

func researchOutput(st research.State) ResearchOutput {
	out := ResearchOutput{
		Topic:          st.Topic,
		IsSatisfactory: st.IsSatisfactory,
		LoopCount:      st.LoopCount,
		References:     []string{},
		Messages:       make([]string, 0, len(st.Messages)),
	}
	if info := st.SynthesizedInfo; info != nil {
		out.Summary = info.Summary
		out.Justification = info.Justification
		out.Data = info.Data
		if info.References != nil {
			out.References = info.References
		}
	}
	for _, msg := range st.Messages {
		out.Messages = append(out.Messages, fmt.Sprintf("[%s] %s", msg.Node, msg.Content))
	}
	return out
}

func newMCPServer(runner researchRunner, timeout time.Duration, onDone func(research.State, time.Time, error)) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "enrich", Version: Version}, nil)
	mcp.AddTool(server, researchTool(), researchHandler(runner, timeout, onDone))
	return server
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyProviderOverrides(cfg, mcpProvider); err != nil {
		return err
	}
	agent, err := newResearchAgent(cfg, nil)
	if err != nil {
		return err
	}

	onDone := func(st research.State, started time.Time, runErr error) {
		logger.Info("mcp research finished", zap.String("topic", st.Topic), zap.Int("loops", st.LoopCount), zap.Error(runErr))
		if !mcpNoRecord {
			recordRun(cfg, runFromState(st, started, runErr))
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context())
	defer stop()

	server := newMCPServer(agent, mcpTimeout, onDone)
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
