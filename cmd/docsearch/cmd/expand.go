package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docsearch/internal/output"
	"github.com/Aman-CERP/docsearch/internal/search"
)

func newExpandCmd(e *env) *cobra.Command {
	var method, format string

	cmd := &cobra.Command{
		Use:   "expand <query>",
		Short: "Preview query expansion without searching",
		Long: `Show the query variants the smart strategy would search for.

The model method asks the configured LLM and falls back to the rule
expander when it is unavailable.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := output.ParseFormat(format)
			if err != nil {
				return err
			}

			a, err := e.open(cmd.Context(), appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			preview, err := a.orchestrator.PreviewExpansion(cmd.Context(),
				strings.Join(args, " "), search.CanonicalExpansionMethod(method))
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			if format == output.FormatJSON {
				return out.JSON(preview)
			}
			out.Expansion(preview)
			return nil
		},
	}

	cmd.Flags().StringVarP(&method, "method", "m", search.ExpansionModel, "Expansion method: model or rule")
	cmd.Flags().StringVarP(&format, "format", "f", output.FormatText, "Output format: text, json")

	return cmd
}
