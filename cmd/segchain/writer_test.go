package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"segchain/internal/config"
	"segchain/internal/record"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Node.Segments = 1
	cfg.Driver.Address = "127.0.0.1:5555"
	config.Normalize(cfg)
	return cfg
}

func TestNewRecorderPrintOnly(t *testing.T) {
	rec, tui, cleanup, err := newRecorder(testConfig(), true, false)
	if err != nil {
		t.Fatalf("newRecorder returned error: %v", err)
	}
	cleanup()
	if tui != nil {
		t.Fatalf("unexpected TUI")
	}
	// tests do not run on a terminal
	if _, ok := rec.(*record.JSONStdoutWriter); !ok {
		t.Fatalf("expected *record.JSONStdoutWriter, got %T", rec)
	}
}

func TestNewRecorderGreptimeFallback(t *testing.T) {
	cfg := testConfig()
	cfg.Record.Greptime.Endpoint = ""
	rec, _, cleanup, err := newRecorder(cfg, false, false)
	if err != nil {
		t.Fatalf("newRecorder returned error: %v", err)
	}
	cleanup()
	if _, ok := rec.(*record.JSONStdoutWriter); !ok {
		t.Fatalf("expected *record.JSONStdoutWriter, got %T", rec)
	}
}

func TestNewRecorderRecordFile(t *testing.T) {
	cfg := testConfig()
	cfg.Record.File = filepath.Join(t.TempDir(), "safety.jsonl")
	rec, _, cleanup, err := newRecorder(cfg, true, false)
	if err != nil {
		t.Fatalf("newRecorder returned error: %v", err)
	}
	if tee, ok := rec.(record.Tee); !ok || len(tee) != 2 {
		t.Fatalf("expected a two-sink record.Tee, got %T", rec)
	}
	row := record.SafetyRow{Node: "n", Action: "hold", Timestamp: time.Now()}
	if err := rec.Write(row); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := rec.WriteLinkEvent(record.LinkEventRow{Node: "n", Event: record.LinkUp}); err != nil {
		t.Fatalf("link event failed: %v", err)
	}
	cleanup()

	data, err := os.ReadFile(cfg.Record.File)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), `"action":"hold"`) {
		t.Fatalf("safety file = %s", data)
	}
	links, err := os.ReadFile(cfg.Record.File + ".links")
	if err != nil || len(links) == 0 {
		t.Fatalf("expected link events file, err=%v", err)
	}
}

func TestNewRecorderBadRecordPath(t *testing.T) {
	cfg := testConfig()
	cfg.Record.File = filepath.Join(t.TempDir(), "missing", "safety.jsonl")
	if _, _, _, err := newRecorder(cfg, true, false); err == nil {
		t.Fatalf("expected error for unwritable record file")
	}
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "segment.yaml")
	yaml := "node:\n  id: seg-0\n  position: 0\n  segments: 1\ndriver:\n  address: \"127.0.0.1:5555\"\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	var out strings.Builder
	validateCmd.SetOut(&out)
	validateConfigPath, validateSchemaPath = path, ""
	if err := validateCmd.RunE(validateCmd, nil); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out.String(), "ok: node=seg-0 role=solo") {
		t.Fatalf("output = %q", out.String())
	}
}
