package main

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"segchain/internal/config"
	"segchain/internal/node"
	"segchain/internal/record"
)

// closers are closed in reverse order of creation.
type closers []io.Closer

func (c closers) close() {
	for i := len(c) - 1; i >= 0; i-- {
		_ = c[i].Close()
	}
}

// newRecorder picks the row sinks from flags and config. It returns the
// recorder, the TUI when one was started, and a cleanup closing every sink.
func newRecorder(cfg *config.Config, printOnly, tui bool) (node.Recorder, *record.TUIWriter, func(), error) {
	var sinks closers
	cleanup := func() { sinks.close() }

	base, tw, err := baseRecorder(cfg, printOnly, tui)
	if err != nil {
		return nil, nil, nil, err
	}
	if c, ok := base.(interface{ Close() error }); ok {
		sinks = append(sinks, c)
	}
	if cfg.Record.File == "" {
		return base, tw, cleanup, nil
	}

	fw, err := record.NewFileWriter(cfg.Record.File, cfg.Record.File+".links")
	if err != nil {
		sinks.close()
		return nil, nil, nil, fmt.Errorf("record file: %w", err)
	}
	sinks = append(sinks, fw)
	return record.NewTee(base, fw), tw, cleanup, nil
}

// baseRecorder chooses the primary sink: TUI, GreptimeDB, or STDOUT.
func baseRecorder(cfg *config.Config, printOnly, tui bool) (node.Recorder, *record.TUIWriter, error) {
	if tui {
		t := cfg.Relay.Thresholds
		w := record.NewTUIWriter(record.NodeInfo{
			Node:     cfg.Node.ID,
			Role:     node.RoleOf(cfg.Node.Position, cfg.Node.Segments).String(),
			Segments: cfg.Node.Segments,
			Healthy:  t.Healthy,
			Degraded: t.Degraded,
			Reboot:   t.Reboot,
		}, 10)
		return w, w, nil
	}
	if printOnly || cfg.Record.Greptime.Endpoint == "" {
		return stdoutRecorder(), nil, nil
	}
	w, err := record.NewGreptimeDBWriter(cfg.Record.Greptime.Endpoint, cfg.Record.Greptime.Database)
	if err != nil {
		return nil, nil, err
	}
	return w, nil, nil
}

// stdoutRecorder prints colored rows on a terminal and JSON otherwise.
func stdoutRecorder() node.Recorder {
	if term.IsTerminal(int(os.Stdout.Fd())) {
		return record.NewColorWriter()
	}
	return record.NewJSONStdoutWriter()
}
