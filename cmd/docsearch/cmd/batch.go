package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docsearch/internal/output"
)

// Batch limits match the HTTP batch endpoint.
const (
	batchDefaultLimit = 5
	batchMaxQueries   = 100
)

func newBatchCmd(e *env) *cobra.Command {
	var (
		file   string
		limit  int
		format string
	)

	cmd := &cobra.Command{
		Use:   "batch [query...]",
		Short: "Run several hybrid searches at once",
		Long: `Run a hybrid search for each query. Queries come from the arguments
or, with --file, one per line from a file ("-" reads stdin).

Examples:
  docsearch batch "annual report" "travel policy"
  docsearch batch --file queries.txt --limit 3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := output.ParseFormat(format)
			if err != nil {
				return err
			}

			queries := args
			if file != "" {
				fromFile, err := readQueries(cmd.InOrStdin(), file)
				if err != nil {
					return err
				}
				queries = append(queries, fromFile...)
			}
			if len(queries) == 0 {
				return fmt.Errorf("no queries given")
			}
			if len(queries) > batchMaxQueries {
				return fmt.Errorf("too many queries: %d (max %d)", len(queries), batchMaxQueries)
			}

			a, err := e.open(cmd.Context(), appOptions{persistMetrics: true})
			if err != nil {
				return err
			}
			defer a.Close()

			results, err := a.orchestrator.BatchSearch(cmd.Context(), queries, limit)
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			if format == output.FormatJSON {
				return out.JSON(results)
			}
			out.Batch(results)
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", `Read queries from file, one per line ("-" for stdin)`)
	cmd.Flags().IntVarP(&limit, "limit", "n", batchDefaultLimit, "Maximum results per query")
	cmd.Flags().StringVarP(&format, "format", "f", output.FormatText, "Output format: text, json")

	return cmd
}

// readQueries reads non-blank lines from path, or from stdin for "-".
func readQueries(stdin io.Reader, path string) ([]string, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open query file: %w", err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}

	var queries []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if q := strings.TrimSpace(sc.Text()); q != "" {
			queries = append(queries, q)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read queries: %w", err)
	}
	return queries, nil
}
