package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/samsaffron/enrich/internal/config"
	"github.com/samsaffron/enrich/internal/research"
	"github.com/samsaffron/enrich/internal/runs"
	"github.com/samsaffron/enrich/internal/signal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	researchProvider    string
	researchInputExcel  string
	researchOutputExcel string
	researchCompany     string
	researchText        bool
	researchJSON        bool
	researchNoRecord    bool
	researchQuiet       bool
)

var researchCmd = &cobra.Command{
	Use:   "research [topic]",
	Short: "Research a topic on the web",
	Long: `Search the web for a topic, extract notes from each page, then
synthesize and validate the findings. Unsatisfactory results are refined
with a new topic until max_loops passes have run.

With --input-excel the synthesis also fills a JSON schema generated from
a questions workbook; with --output-excel the result is appended to a
workbook as a new sheet.

Examples:
  enrich research "Acme Corp latest funding round"
  enrich research "Acme Corp info" --input-excel research_questions.xlsx -o out.xlsx
  enrich research -p anthropic "Globex supply chain"
  enrich research                        # prompts for a topic`,
	Args: cobra.ArbitraryArgs,
	RunE: runResearchCmd,
}

func init() {
	AddProviderFlag(researchCmd, &researchProvider)
	AddOutputExcelFlag(researchCmd, &researchOutputExcel)
	AddTextFlag(researchCmd, &researchText)
	researchCmd.Flags().StringVarP(&researchInputExcel, "input-excel", "i", "", "Questions workbook used to build an extraction schema")
	researchCmd.Flags().StringVar(&researchCompany, "company", "", "Company name for the output sheet (default: topic)")
	researchCmd.Flags().BoolVar(&researchJSON, "json", false, "Print the final state as JSON")
	researchCmd.Flags().BoolVar(&researchNoRecord, "no-record", false, "Do not save the run to history")
	researchCmd.Flags().BoolVarP(&researchQuiet, "quiet", "q", false, "Hide progress messages")
	rootCmd.AddCommand(researchCmd)
}

func runResearchCmd(cmd *cobra.Command, args []string) error {
	topic := strings.TrimSpace(strings.Join(args, " "))
	if topic == "" {
		if !stdinIsTTY() {
			return errors.New("a topic is required")
		}
		prompted, err := promptTopic()
		if err != nil {
			return err
		}
		topic = prompted
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyProviderOverrides(cfg, researchProvider); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context())
	defer stop()

	var onMessage func(research.Message)
	if !researchQuiet && !researchJSON {
		onMessage = printMessage
	}
	agent, err := newResearchAgent(cfg, onMessage)
	if err != nil {
		return err
	}

	st := research.NewState(topic)
	st.Company = researchCompany
	st.InputExcel = researchInputExcel
	st.OutputExcel = researchOutputExcel

	started := time.Now()
	final, runErr := agent.Run(ctx, st)

	if !researchNoRecord {
		recordRun(cfg, runFromState(final, started, runErr))
	}
	if runErr != nil {
		return fmt.Errorf("research %q: %w", topic, runErr)
	}

	if researchJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(final)
	}
	plain := researchText || !stdoutIsTTY()
	return renderMarkdown(cmd.OutOrStdout(), synthesisMarkdown(final), plain)
}

func promptTopic() (string, error) {
	var topic string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("What should I research?").
				Placeholder("e.g., Acme Corp latest funding round").
				Value(&topic).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("topic cannot be empty")
					}
					return nil
				}),
		),
	)
	if err := form.Run(); err != nil {
		return "", fmt.Errorf("read topic: %w", err)
	}
	return strings.TrimSpace(topic), nil
}

// runFromState converts a finished state into a history record.
func runFromState(st research.State, started time.Time, runErr error) *runs.Run {
	run := &runs.Run{
		Topic:      st.Topic,
		Company:    st.Company,
		LoopCount:  st.LoopCount,
		Satisfied:  st.IsSatisfactory && st.SynthesizedInfo != nil,
		Synthesis:  st.SynthesisJSON(),
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	if st.SynthesizedInfo != nil {
		run.Summary = st.SynthesizedInfo.Summary
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	return run
}

// recordRun saves a run to history. Failures are logged, never returned.
func recordRun(cfg *config.Config, run *runs.Run) {
	store, err := openRunStore(cfg)
	if err != nil {
		logger.Warn("run history unavailable", zap.Error(err))
		return
	}
	defer store.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Record(ctx, run); err != nil {
		logger.Warn("record run failed", zap.String("topic", run.Topic), zap.Error(err))
		return
	}
	fmt.Fprintf(os.Stderr, "%s\n", mutedStyle.Render("run "+shortID(run.ID)+" saved"))
}
