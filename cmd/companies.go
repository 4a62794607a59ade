package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/samsaffron/enrich/internal/research"
	"github.com/samsaffron/enrich/internal/signal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	companiesProvider  string
	companiesQuestions string
	companiesFile      string
	companiesOutput    string
	companiesTimeout   time.Duration
	companiesNoRecord  bool
)

var companiesCmd = &cobra.Command{
	Use:   "companies [names...]",
	Short: "Research a list of companies into one workbook",
	Long: `Run the research loop for each company with the topic "<company> info",
filling the schema generated from the questions workbook. Every company
becomes a sheet in a single workbook named
companies_research_YYYYMMDD_HHMMSS.xlsx unless --output is given.

A company that fails or times out is logged and skipped.

Examples:
  enrich companies --questions research_questions.xlsx Veolia Ferrovial
  enrich companies --questions research_questions.xlsx --companies-file list.txt
  enrich companies --questions q.xlsx --timeout 5m -o acme.xlsx Acme`,
	RunE: runCompanies,
}

func init() {
	AddProviderFlag(companiesCmd, &companiesProvider)
	AddOutputExcelFlag(companiesCmd, &companiesOutput)
	companiesCmd.Flags().StringVar(&companiesQuestions, "questions", "research_questions.xlsx", "Questions workbook used to build the extraction schema")
	companiesCmd.Flags().StringVarP(&companiesFile, "companies-file", "f", "", "File with one company per line ('-' for stdin)")
	companiesCmd.Flags().DurationVar(&companiesTimeout, "timeout", 10*time.Minute, "Time limit for each company")
	companiesCmd.Flags().BoolVar(&companiesNoRecord, "no-record", false, "Do not save runs to history")
	rootCmd.AddCommand(companiesCmd)
}

func runCompanies(cmd *cobra.Command, args []string) error {
	names := append([]string(nil), args...)
	if companiesFile != "" {
		fromFile, err := readCompaniesFile(companiesFile, cmd.InOrStdin())
		if err != nil {
			return err
		}
		names = append(names, fromFile...)
	}
	names = dedupeCompanies(names)
	if len(names) == 0 {
		return errors.New("no companies given (pass names or --companies-file)")
	}
	if _, err := os.Stat(companiesQuestions); err != nil {
		return fmt.Errorf("questions workbook: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyProviderOverrides(cfg, companiesProvider); err != nil {
		return err
	}

	agent, err := newResearchAgent(cfg, nil)
	if err != nil {
		return err
	}

	output := companiesOutput
	if output == "" {
		output = companiesWorkbookName(time.Now())
	}

	ctx, stop := signal.NotifyContext(cmd.Context())
	defer stop()

	out := cmd.OutOrStdout()
	var failed int
	for i, company := range names {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fmt.Fprintf(out, "Researching %s (%d/%d)...\n", company, i+1, len(names))

		st := research.NewState(company + " info")
		st.Company = company
		st.InputExcel = companiesQuestions
		st.OutputExcel = output

		started := time.Now()
		runCtx, cancel := context.WithTimeout(ctx, companiesTimeout)
		final, runErr := agent.Run(runCtx, st)
		cancel()

		if !companiesNoRecord {
			recordRun(cfg, runFromState(final, started, runErr))
		}
		if runErr != nil {
			failed++
			if errors.Is(runErr, context.DeadlineExceeded) {
				fmt.Fprintf(out, "%s\n", errorStyle.Render(fmt.Sprintf("%s timed out after %s", company, companiesTimeout)))
			} else {
				fmt.Fprintf(out, "%s\n", errorStyle.Render(fmt.Sprintf("%s failed: %v", company, runErr)))
			}
			logger.Warn("company research failed", zap.String("company", company), zap.Error(runErr))
			continue
		}
		for _, msg := range final.Messages {
			fmt.Fprintf(out, "  [%s] %s\n", msg.Node, msg.Content)
		}
		fmt.Fprintf(out, "Done in %s\n", time.Since(started).Round(time.Second))
	}

	fmt.Fprintf(out, "Wrote %s (%d/%d companies)\n", output, len(names)-failed, len(names))
	if failed == len(names) {
		return fmt.Errorf("all %d companies failed", failed)
	}
	return nil
}

// companiesWorkbookName returns the timestamped batch workbook name.
func companiesWorkbookName(now time.Time) string {
	return "companies_research_" + now.Format("20060102_150405") + ".xlsx"
}

// readCompaniesFile reads one company per line, skipping blanks and # comments.
func readCompaniesFile(path string, stdin io.Reader) ([]string, error) {
	var r io.Reader
	if path == "-" {
		r = stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open companies file: %w", err)
		}
		defer f.Close()
		r = f
	}
	var names []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read companies file: %w", err)
	}
	return names, nil
}

func dedupeCompanies(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		key := strings.ToLower(name)
		if name == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, name)
	}
	return out
}
