package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docsearch/internal/output"
)

// infoCommand builds a command that opens the runtime, fetches one value
// and prints it as text or JSON.
func infoCommand(e *env, use, short string, args cobra.PositionalArgs,
	run func(cmd *cobra.Command, a *app, args []string, out *output.Writer, asJSON bool) error,
) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, posArgs []string) error {
			format, err := output.ParseFormat(format)
			if err != nil {
				return err
			}
			a, err := e.open(cmd.Context(), appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()
			return run(cmd, a, posArgs, output.New(cmd.OutOrStdout()), format == output.FormatJSON)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", output.FormatText, "Output format: text, json")
	return cmd
}

func newStrategiesCmd(e *env) *cobra.Command {
	return infoCommand(e, "strategies", "List the registered search strategies", cobra.NoArgs,
		func(_ *cobra.Command, a *app, _ []string, out *output.Writer, asJSON bool) error {
			list := a.orchestrator.Strategies()
			if asJSON {
				return out.JSON(list)
			}
			out.Strategies(list)
			return nil
		})
}

func newLLMStatusCmd(e *env) *cobra.Command {
	return infoCommand(e, "llm-status", "Show whether the LLM is configured and reachable", cobra.NoArgs,
		func(cmd *cobra.Command, a *app, _ []string, out *output.Writer, asJSON bool) error {
			status := a.orchestrator.LLMStatus(cmd.Context())
			if asJSON {
				return out.JSON(status)
			}
			out.LLMStatus(status)
			return nil
		})
}

func newStatsCmd(e *env) *cobra.Command {
	return infoCommand(e, "stats", "Show corpus and index statistics", cobra.NoArgs,
		func(cmd *cobra.Command, a *app, _ []string, out *output.Writer, asJSON bool) error {
			stats, err := a.orchestrator.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return out.JSON(stats)
			}
			out.Stats(stats)
			return nil
		})
}

func newDocumentCmd(e *env) *cobra.Command {
	return infoCommand(e, "document <document-id>", "Show a document's fragments in chunk order", cobra.ExactArgs(1),
		func(cmd *cobra.Command, a *app, args []string, out *output.Writer, asJSON bool) error {
			doc, err := a.orchestrator.DocumentFragments(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return out.JSON(doc)
			}
			out.Document(doc)
			return nil
		})
}
