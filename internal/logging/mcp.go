package logging

import (
	"log/slog"
)

// SetupMCPMode installs a file-only default logger for the MCP stdio server.
// stdout carries JSON-RPC frames, so nothing may be written to stdout or stderr.
func SetupMCPMode(cfg Config) (func(), error) {
	if cfg.FilePath == "" {
		cfg.FilePath = DefaultLogPath()
	}
	cfg.WriteToStderr = false

	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger.With(slog.String("mode", "mcp")))
	return cleanup, nil
}
