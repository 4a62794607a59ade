package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/samsaffron/enrich/internal/research"
	"github.com/samsaffron/enrich/internal/runs"
	"github.com/spf13/cobra"
)

var (
	runsLimit int
	runsText  bool
	runsJSON  bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Browse the history of research runs",
	Long: `Every research run is saved to a local SQLite database
(~/.local/share/enrich/runs.db, or runs.path in config).

Examples:
  enrich runs list
  enrich runs show 3f2a9c
  enrich runs search "funding"`,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	Args:  cobra.NoArgs,
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one run (a unique id prefix is enough)",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var runsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Full-text search over topics, companies and summaries",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRunsSearch,
}

func init() {
	AddLimitFlag(runsListCmd, &runsLimit, 20)
	AddLimitFlag(runsSearchCmd, &runsLimit, 20)
	AddTextFlag(runsShowCmd, &runsText)
	runsShowCmd.Flags().BoolVar(&runsJSON, "json", false, "Print the stored synthesis as JSON")

	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsSearchCmd)
}

func runRunsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openRunStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	list, err := store.List(cmd.Context(), runsLimit)
	if err != nil {
		return err
	}
	printRuns(cmd.OutOrStdout(), list)
	return nil
}

func runRunsSearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openRunStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	list, err := store.Search(cmd.Context(), strings.Join(args, " "), runsLimit)
	if err != nil {
		return err
	}
	printRuns(cmd.OutOrStdout(), list)
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openRunStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := store.Get(cmd.Context(), args[0])
	if errors.Is(err, runs.ErrNotFound) {
		return fmt.Errorf("no run with id %q", args[0])
	}
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if runsJSON {
		_, err := fmt.Fprintln(out, run.Synthesis)
		return err
	}
	return renderMarkdown(out, runMarkdown(run), runsText || !stdoutIsTTY())
}

func printRuns(w io.Writer, list []runs.Run) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No runs found.")
		return
	}
	for _, r := range list {
		status := "ok"
		switch {
		case r.Error != "":
			status = "failed"
		case !r.Satisfied:
			status = "unsatisfied"
		}
		fmt.Fprintf(w, "%s  %s  %-11s  %s\n", shortID(r.ID), r.FinishedAt.Local().Format("2006-01-02 15:04"), status, r.Topic)
	}
}

// runMarkdown renders a stored run the same way a live run is shown.
func runMarkdown(r *runs.Run) string {
	st := research.NewState(r.Topic)
	st.Company = r.Company
	st.LoopCount = r.LoopCount
	st.IsSatisfactory = r.Satisfied
	if r.Synthesis != "" {
		var info research.SynthesizedInfo
		if err := json.Unmarshal([]byte(r.Synthesis), &info); err == nil {
			st.SynthesizedInfo = &info
		}
	}

	var b strings.Builder
	b.WriteString(synthesisMarkdown(st))
	fmt.Fprintf(&b, "\n---\n\nRun `%s`, %d loop(s), took %s", r.ID, r.LoopCount, r.FinishedAt.Sub(r.StartedAt).Round(time.Second))
	if r.Error != "" {
		fmt.Fprintf(&b, "\n\n**Error:** %s", r.Error)
	}
	b.WriteString("\n")
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
