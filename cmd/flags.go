package cmd

import (
	"strings"

	"github.com/samsaffron/enrich/internal/llm"
	"github.com/spf13/cobra"
)

// AddProviderFlag adds the --provider/-p flag with completion
func AddProviderFlag(cmd *cobra.Command, dest *string) {
	cmd.Flags().StringVarP(dest, "provider", "p", "", "Override provider, optionally with model (e.g., openai:gpt-4o)")
	if err := cmd.RegisterFlagCompletionFunc("provider", ProviderFlagCompletion); err != nil {
		panic("failed to register provider completion: " + err.Error())
	}
}

// AddOutputExcelFlag adds the --output-excel/-o flag
func AddOutputExcelFlag(cmd *cobra.Command, dest *string) {
	cmd.Flags().StringVarP(dest, "output-excel", "o", "", "Append results to this workbook (created if missing)")
}

// AddLimitFlag adds the --limit/-n flag
func AddLimitFlag(cmd *cobra.Command, dest *int, defaultValue int) {
	cmd.Flags().IntVarP(dest, "limit", "n", defaultValue, "Maximum number of rows to show")
}

// AddTextFlag adds the --text/-t flag
func AddTextFlag(cmd *cobra.Command, dest *bool) {
	cmd.Flags().BoolVarP(dest, "text", "t", false, "Output plain text instead of rendered markdown")
}

// ProviderFlagCompletion completes provider names and their default models.
func ProviderFlagCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	var out []string
	for _, name := range llm.ProviderNames() {
		candidates := []string{name, name + ":" + llm.DefaultModel(name)}
		for _, c := range candidates {
			if strings.HasPrefix(c, toComplete) {
				out = append(out, c)
			}
		}
	}
	return out, cobra.ShellCompDirectiveNoFileComp
}
