package cmd

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docsearch/internal/output"
	"github.com/Aman-CERP/docsearch/internal/search"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	strategy    string
	limit       int
	alpha       float64
	rerank      bool
	fileTypes   []string
	image       string
	expansion   string
	noExpansion bool
	noLLMRerank bool
	format      string
}

func newSearchCmd(e *env) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the corpus",
		Long: `Search the corpus with one of the registered strategies.

Query syntax:
  "exact phrase"         fragment must contain the phrase
  -word                  fragment must not contain word
  filetype:pdf           restrict to a file type
  date:2024-01-01..2024-06-30  restrict by creation date

Examples:
  docsearch search "budget forecast"
  docsearch search 合同 --strategy smart --expansion rule
  docsearch search report -s hybrid --alpha 0.3 --rerank
  docsearch search --strategy multimodal --image chart.png "revenue"`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && opts.image == "" {
				return cobra.MinimumNArgs(1)(cmd, args)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			req := search.Request{
				Query:           strings.Join(args, " "),
				Strategy:        opts.strategy,
				Limit:           opts.limit,
				UseRerank:       opts.rerank,
				FileTypes:       opts.fileTypes,
				Image:           opts.image,
				ExpansionMethod: search.CanonicalExpansionMethod(opts.expansion),
			}
			if cmd.Flags().Changed("alpha") {
				req.Alpha = &opts.alpha
			}
			if opts.noExpansion {
				off := false
				req.UseQueryExpansion = &off
			}
			if opts.noLLMRerank {
				off := false
				req.UseLLMRerank = &off
			}
			return runSearch(cmd.Context(), cmd, e, req, opts.format)
		},
	}

	cmd.Flags().StringVarP(&opts.strategy, "strategy", "s", search.StrategyHybrid, "Strategy: keyword, vector, hybrid, smart, multimodal")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (default from config)")
	cmd.Flags().Float64Var(&opts.alpha, "alpha", 0.5, "Vector weight for hybrid fusion (0-1)")
	cmd.Flags().BoolVar(&opts.rerank, "rerank", false, "Rerank candidates before returning")
	cmd.Flags().StringSliceVarP(&opts.fileTypes, "file-type", "t", nil, "Restrict to file types (repeatable, e.g. -t pdf -t docx)")
	cmd.Flags().StringVar(&opts.image, "image", "", "Image path or URL for multimodal search")
	cmd.Flags().StringVar(&opts.expansion, "expansion", "", "Smart strategy expansion method: model or rule")
	cmd.Flags().BoolVar(&opts.noExpansion, "no-expansion", false, "Smart strategy: skip query expansion")
	cmd.Flags().BoolVar(&opts.noLLMRerank, "no-llm-rerank", false, "Smart strategy: skip LLM rerank")
	cmd.Flags().StringVarP(&opts.format, "format", "f", output.FormatText, "Output format: text, json")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, e *env, req search.Request, format string) error {
	format, err := output.ParseFormat(format)
	if err != nil {
		return err
	}

	a, err := e.open(ctx, appOptions{persistMetrics: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if req.Limit == 0 {
		req.Limit = a.orchestrator.Config().DefaultLimit
	}

	resp, err := a.orchestrator.Search(ctx, req)
	if err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	if format == output.FormatJSON {
		return out.JSON(resp)
	}
	out.Response(resp)
	return nil
}
