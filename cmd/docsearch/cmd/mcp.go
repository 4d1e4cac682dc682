package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docsearch/internal/mcp"
)

func newMCPCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Run the MCP server on stdio",
		Long: `Run a Model Context Protocol server exposing search, batch_search,
list_strategies, preview_expansion, llm_status, corpus_stats and
get_document tools, plus stats, document and query metrics resources.

Logs go to the log file only; stdout carries the protocol.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := e.open(ctx, appOptions{watch: true, persistMetrics: true})
			if err != nil {
				return err
			}
			defer a.Close()

			srv, err := mcp.NewServer(a.orchestrator, e.logger)
			if err != nil {
				return err
			}
			srv.SetMetrics(a.queryMetrics)
			return srv.Serve(ctx, e.cfg.Server.MCPTransport)
		},
	}
}
