// Package cmd provides the CLI commands for docsearch.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docsearch/internal/config"
	dserrors "github.com/Aman-CERP/docsearch/internal/errors"
	"github.com/Aman-CERP/docsearch/internal/logging"
	"github.com/Aman-CERP/docsearch/internal/profiling"
	"github.com/Aman-CERP/docsearch/pkg/version"
)

// Commands annotated with noConfig run without loading configuration.
const annotationNoConfig = "docsearch/no-config"

// env is the state shared by the subcommands of one root command.
type env struct {
	dir       string
	debug     bool
	profiling profiling.Options

	cfg     *config.Config
	logger  *slog.Logger
	cleanup []func()
}

// NewRootCmd creates the root command for the docsearch CLI.
func NewRootCmd() *cobra.Command {
	e := &env{}

	cmd := &cobra.Command{
		Use:   "docsearch",
		Short: "Hybrid retrieval over a document fragment corpus",
		Long: `docsearch answers queries over a corpus of document fragments with
keyword (BM25), vector, hybrid, smart (query expansion plus LLM rerank)
and multimodal strategies.

It serves the same engine from the command line, over HTTP and as an
MCP server.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("docsearch version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&e.dir, "dir", "C", ".", "Directory holding the project config (.docsearch.yaml)")
	cmd.PersistentFlags().BoolVar(&e.debug, "debug", false, "Enable debug logging to stderr and ~/.docsearch/logs/")
	cmd.PersistentFlags().StringVar(&e.profiling.CPUPath, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&e.profiling.HeapPath, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&e.profiling.TracePath, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = e.setup
	cmd.PersistentPostRunE = func(*cobra.Command, []string) error {
		e.teardown()
		return nil
	}

	cmd.AddCommand(newSearchCmd(e))
	cmd.AddCommand(newBatchCmd(e))
	cmd.AddCommand(newExpandCmd(e))
	cmd.AddCommand(newStrategiesCmd(e))
	cmd.AddCommand(newLLMStatusCmd(e))
	cmd.AddCommand(newStatsCmd(e))
	cmd.AddCommand(newDocumentCmd(e))
	cmd.AddCommand(newServeCmd(e))
	cmd.AddCommand(newMCPCmd(e))
	cmd.AddCommand(newConfigCmd(e))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// setup loads configuration, installs the logger and starts profiling.
func (e *env) setup(cmd *cobra.Command, _ []string) error {
	if e.profiling.Enabled() {
		session, err := profiling.Start(e.profiling)
		if err != nil {
			return err
		}
		e.cleanup = append(e.cleanup, func() {
			if err := session.Stop(); err != nil {
				fmt.Fprintf(os.Stderr, "profiling: %v\n", err)
			}
		})
	}

	if cmd.Annotations[annotationNoConfig] == "true" {
		e.logger = slog.Default()
		return nil
	}

	cfg, err := config.Load(e.dir)
	if err != nil {
		return err
	}
	e.cfg = cfg

	logCfg := cfg.Logging
	if e.debug {
		logCfg.Level = "debug"
		logCfg.WriteToStderr = true
	}
	if cmd.Name() == "mcp" {
		cleanup, err := logging.SetupMCPMode(logCfg)
		if err != nil {
			return fmt.Errorf("failed to setup logging: %w", err)
		}
		e.logger = slog.Default()
		e.cleanup = append(e.cleanup, cleanup)
		return nil
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	e.logger = logger.With(slog.String("command", cmd.Name()))
	slog.SetDefault(e.logger)
	e.cleanup = append(e.cleanup, cleanup)
	return nil
}

func (e *env) teardown() {
	for i := len(e.cleanup) - 1; i >= 0; i-- {
		e.cleanup[i]()
	}
	e.cleanup = nil
}

// open wires the search runtime. The caller must Close it.
func (e *env) open(ctx context.Context, opts appOptions) (*app, error) {
	if e.cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return newApp(ctx, e.cfg, e.logger, opts)
}

// Execute runs the root command and reports errors on stderr.
func Execute() error {
	root := NewRootCmd()
	err := root.ExecuteContext(context.Background())
	if err != nil {
		var de *dserrors.DocsearchError
		if errors.As(err, &de) {
			fmt.Fprint(os.Stderr, dserrors.FormatForCLI(err))
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
	return err
}
