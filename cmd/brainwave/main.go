// Command brainwave is a terminal client for a real-time transcription
// backend. It records from the microphone, streams audio over a websocket,
// keeps the latest sessions locally and can replay them.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/challenwang408408/challenwang-braiwave/internal/config"
	"github.com/challenwang408408/challenwang-braiwave/internal/db"
	"github.com/challenwang408408/challenwang-braiwave/internal/logging"
	"github.com/challenwang408408/challenwang-braiwave/internal/metrics"
	"github.com/challenwang408408/challenwang-braiwave/internal/protocol"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "brainwave",
	Short:         "Real-time speech capture client",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default "+config.DefaultPath()+")")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// setupLogging builds the logger. Headless commands log to stderr unless a
// file is configured explicitly.
func setupLogging(cfg *config.Config, headless bool) (*zap.SugaredLogger, io.Closer) {
	file := cfg.Logging.File
	if headless && file == config.Default().Logging.File {
		file = logging.Stderr
	}
	return logging.New(cfg.Logging.Level, file)
}

func openStore(cfg *config.Config, log *zap.SugaredLogger, m *metrics.Metrics) (*db.Store, error) {
	return db.Open(cfg.Store.Path, db.Options{
		Quota:   db.Quota{MaxSessions: cfg.Store.MaxSessions, MaxBytes: cfg.Store.MaxBytes},
		Logger:  log,
		Metrics: m,
	})
}

func newEngine(cfg *config.Config, log *zap.SugaredLogger, m *metrics.Metrics) *protocol.Engine {
	return protocol.NewEngine(protocol.Options{
		URL:              cfg.Server.URL,
		HandshakeTimeout: cfg.Server.HandshakeTimeout,
		ReconnectDelay:   cfg.Timing.ReconnectDelay,
		Logger:           log,
		Metrics:          m,
	})
}
