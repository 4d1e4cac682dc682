package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docsearch/internal/api"
)

func newServeCmd(e *env) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the retrieval HTTP API",
		Long: `Serve the retrieval API under /api/retrieval, with /health and
Prometheus metrics at /metrics.

A jsonl corpus with corpus.watch enabled is re-indexed when the
snapshot file changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := e.open(ctx, appOptions{watch: true, persistMetrics: true})
			if err != nil {
				return err
			}
			defer a.Close()

			if addr == "" {
				addr = e.cfg.Server.HTTPAddr
			}
			srv := api.NewServer(a.orchestrator,
				api.WithMetrics(a.metrics),
				api.WithQueryMetrics(a.queryMetrics),
				api.WithLogger(e.logger),
			)
			return srv.ListenAndServe(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from server.http_addr)")

	return cmd
}
