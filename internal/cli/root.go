// Package cli implements ragctl, the operator command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/feichai0017/knowledge-pipeline/config"
	"github.com/feichai0017/knowledge-pipeline/internal/app"
	"github.com/feichai0017/knowledge-pipeline/pkg/logger"
)

var (
	cfgFile string
	verbose bool

	application *app.App
)

var rootCmd = &cobra.Command{
	Use:   "ragctl",
	Short: "Operate the knowledge pipeline",
	Long: `ragctl talks to the same Redis, Postgres, object storage and Ollama as the
server and worker.

Example usage:
  ragctl ingest handbook.pdf --wait     # Upload and wait for processing
  ragctl query -q "refund policy"       # Ask a question
  ragctl model set qwen2.5:7b           # Switch the generation model
  ragctl crawl https://example.com -f   # Crawl a site and index it
  ragctl stats                          # Queue and index statistics`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		level := "warn"
		if verbose {
			level = "debug"
		}
		log, err := logger.NewLogger(
			logger.WithLevel(level),
			logger.WithEncoding("console"),
			logger.WithOutputPaths([]string{"stderr"}),
			logger.WithErrorPaths(nil),
		)
		if err != nil {
			return err
		}
		application, err = app.New(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		return nil
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	closeApp()
	if err != nil {
		os.Exit(1)
	}
}

func closeApp() {
	if application == nil {
		return
	}
	_ = application.Logger.Sync()
	_ = application.Close()
	application = nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", os.Getenv("CONFIG_FILE"), "config file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging to stderr")
}
