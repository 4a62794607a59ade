package cmd

import (
	"fmt"

	"github.com/samsaffron/enrich/internal/sheet"
	"github.com/spf13/cobra"
)

var schemaCmd = &cobra.Command{
	Use:   "schema <questions.xlsx>",
	Short: "Print the extraction schema built from a questions workbook",
	Long: `Read a questions workbook (section, field_name, field_type, question,
required columns) and print the JSON schema the research synthesis fills.

Examples:
  enrich schema research_questions.xlsx
  enrich schema research_questions.xlsx > schema.json`,
	Args: cobra.ExactArgs(1),
	RunE: runSchema,
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}

func runSchema(cmd *cobra.Command, args []string) error {
	rows, err := sheet.ReadQuestions(args[0])
	if err != nil {
		return err
	}
	out, err := sheet.SchemaJSON(sheet.GenerateSchema(rows))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
	return err
}
