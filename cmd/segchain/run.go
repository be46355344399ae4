package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"segchain/internal/command"
	"segchain/internal/config"
	"segchain/internal/logging"
	"segchain/internal/node"
)

var (
	runConfigPath string
	runSchemaPath string
	runRecordFile string
	runLogFile    string
	runPrintOnly  bool
	runTUI        bool
	runWatch      bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one segment node",
	Long:  "run starts the link, router, watchdog and relay safety loops of one segment.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(runConfigPath, runSchemaPath)
		if err != nil {
			return err
		}
		level := cfg.Node.LogLevel
		if logLevel != "" {
			level = logLevel
		}
		if runRecordFile != "" {
			cfg.Record.File = runRecordFile
		}

		logger, closeLog, err := newLogger(level, runLogFile, runTUI)
		if err != nil {
			return err
		}
		defer closeLog()
		slog.SetDefault(logger)

		rec, tui, cleanup, err := newRecorder(cfg, runPrintOnly, runTUI)
		if err != nil {
			return err
		}
		defer cleanup()

		opts := node.Options{Logger: logger, Recorder: rec}
		if runWatch {
			opts.ConfigPath, opts.SchemaPath = runConfigPath, runSchemaPath
		}
		n, err := node.New(cfg, opts)
		if err != nil {
			return err
		}
		if tui != nil && (n.Role() == node.Head || n.Role() == node.Solo) {
			tui.SetTeleop(func(steering, throttle float64) {
				n.Operator().Put(command.Command{Steering: steering, Throttle: throttle})
			})
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		ctx = logging.NewContext(ctx, logger)
		return n.Run(ctx)
	},
}

// newLogger writes to stdout unless the TUI owns the terminal, in which case
// logs go to logFile or nowhere.
func newLogger(level, logFile string, tui bool) (*slog.Logger, func(), error) {
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		return logging.NewWithWriter(f, level), func() { f.Close() }, nil
	}
	if tui {
		return logging.NewWithWriter(io.Discard, level), func() {}, nil
	}
	return logging.New(level), func() {}, nil
}

func init() {
	runCmd.Flags().StringVar(&runConfigPath, "config", "config/segment.yaml", "Path to segment configuration YAML")
	runCmd.Flags().StringVar(&runSchemaPath, "schema", "", "Path to a CUE schema overriding the embedded one")
	runCmd.Flags().StringVar(&runRecordFile, "record-file", "", "Export safety rows (JSONL); link events go to <file>.links")
	runCmd.Flags().StringVar(&runLogFile, "log-file", "", "Write logs to this file instead of STDOUT")
	runCmd.Flags().BoolVar(&runPrintOnly, "print-only", false, "Print rows to STDOUT instead of writing to GreptimeDB")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show the interactive operator console")
	runCmd.Flags().BoolVar(&runWatch, "watch", true, "Reload driver settings and thresholds when the config file changes")
}
