package record

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gpb "github.com/GreptimeTeam/greptime-proto/go/greptime/v1"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"

	"segchain/internal/driver"
	"segchain/internal/relay"
)

func sampleRow(action string, at time.Time) SafetyRow {
	return SafetyRow{
		Node:       "seg-1",
		Session:    "s",
		Score:      -3,
		Action:     action,
		Relay:      "closed",
		Steering:   0.5,
		Throttle:   0.2,
		PilotFresh: true,
		Configured: true,
		Watchdog:   []int{1, 0, 1},
		Timestamp:  at,
	}
}

func TestFromDecision(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.FixedZone("x", 3600))
	d := relay.Decision{
		At:         at,
		Score:      -6,
		Action:     relay.ActionClose,
		Relay:      relay.Closed,
		PilotFresh: true,
		Configured: true,
		Drive:      driver.DriveRequest{Steering: 0.3, Throttle: -0.1},
		Err:        "boom",
	}
	row := FromDecision("n", "sess", d, []int{1, 1})
	if row.Action != "close" || row.Relay != "closed" {
		t.Fatalf("action/relay = %s/%s", row.Action, row.Relay)
	}
	if row.Steering != 0.3 || row.Throttle != -0.1 || row.Score != -6 {
		t.Fatalf("unexpected row %+v", row)
	}
	if row.Timestamp.Location() != time.UTC {
		t.Fatalf("timestamp not UTC")
	}
	if row.Error != "boom" || len(row.Watchdog) != 2 {
		t.Fatalf("unexpected row %+v", row)
	}
}

func TestNewSessionUnique(t *testing.T) {
	if NewSession() == NewSession() {
		t.Fatalf("sessions should differ")
	}
}

func TestFileWriter(t *testing.T) {
	dir := t.TempDir()
	sp := filepath.Join(dir, "safety.jsonl")
	ep := filepath.Join(dir, "events.jsonl")
	fw, err := NewFileWriter(sp, ep)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ts := time.Unix(0, 0).UTC()
	if err := fw.WriteBatch([]SafetyRow{sampleRow("close", ts), sampleRow("hold", ts)}); err != nil {
		t.Fatalf("batch: %v", err)
	}
	if err := fw.WriteLinkEvent(LinkEventRow{Node: "seg-1", Role: "client", Event: LinkUp, Timestamp: ts}); err != nil {
		t.Fatalf("event: %v", err)
	}
	if err := fw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(sp)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 safety lines, got %d", len(lines))
	}
	var row SafetyRow
	if err := json.Unmarshal([]byte(lines[1]), &row); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if row.Action != "hold" {
		t.Fatalf("action = %s", row.Action)
	}
	events, _ := os.ReadFile(ep)
	if !strings.Contains(string(events), `"event":"up"`) {
		t.Fatalf("missing link event: %s", events)
	}
}

func TestFileWriterWithoutEvents(t *testing.T) {
	fw, err := NewFileWriter(filepath.Join(t.TempDir(), "s.jsonl"), "")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer fw.Close()
	if err := fw.WriteLinkEvent(LinkEventRow{Event: LinkDown}); err != nil {
		t.Fatalf("event should be ignored: %v", err)
	}
}

type memWriter struct {
	rows    []SafetyRow
	batches int
	events  []LinkEventRow
	err     error
}

func (m *memWriter) Write(r SafetyRow) error {
	if m.err != nil {
		return m.err
	}
	m.rows = append(m.rows, r)
	return nil
}

func (m *memWriter) WriteLinkEvent(e LinkEventRow) error {
	m.events = append(m.events, e)
	return nil
}

type memBatchWriter struct{ memWriter }

func (m *memBatchWriter) WriteBatch(rows []SafetyRow) error {
	m.batches++
	m.rows = append(m.rows, rows...)
	return nil
}

func TestTee(t *testing.T) {
	a := &memWriter{}
	b := &memBatchWriter{}
	tee := NewTee(a, b)
	ts := time.Unix(0, 0).UTC()
	if err := tee.Write(sampleRow("close", ts)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := tee.WriteBatch([]SafetyRow{sampleRow("open", ts), sampleRow("open", ts)}); err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(a.rows) != 3 || len(b.rows) != 3 {
		t.Fatalf("rows a=%d b=%d", len(a.rows), len(b.rows))
	}
	if b.batches != 1 {
		t.Fatalf("batch writer should receive one batch, got %d", b.batches)
	}
	if err := tee.WriteLinkEvent(LinkEventRow{Event: LinkUp}); err != nil {
		t.Fatalf("event: %v", err)
	}
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("events a=%d b=%d", len(a.events), len(b.events))
	}
}

func TestTeeKeepsWritingPastFailure(t *testing.T) {
	diskFull := errors.New("disk full")
	bad := &memWriter{err: diskFull}
	after := &memWriter{}
	err := NewTee(bad, after).Write(sampleRow("close", time.Now()))
	if !errors.Is(err, diskFull) {
		t.Fatalf("expected disk full, got %v", err)
	}
	if len(after.rows) != 1 {
		t.Fatalf("later sinks must still receive the row")
	}
}

func TestJSONAndColorWriters(t *testing.T) {
	var jb, cb bytes.Buffer
	jw := &JSONStdoutWriter{out: &jb}
	cw := &ColorWriter{out: &cb}
	row := sampleRow("reboot", time.Unix(0, 0).UTC())
	row.Configured = false
	row.Error = "driver down"
	_ = jw.Write(row)
	_ = cw.Write(row)
	if !strings.Contains(jb.String(), `"action":"reboot"`) {
		t.Fatalf("json output: %s", jb.String())
	}
	out := cb.String()
	for _, want := range []string{"reboot", "wd=101", "unconfigured", "err=driver down", colorMagenta} {
		if !strings.Contains(out, want) {
			t.Fatalf("color output missing %q: %s", want, out)
		}
	}
	cb.Reset()
	_ = cw.WriteLinkEvent(LinkEventRow{Role: "server", Event: LinkDown, Teardowns: 2})
	if !strings.Contains(cb.String(), colorRed+"down") || !strings.Contains(cb.String(), "teardowns=2") {
		t.Fatalf("link event output: %s", cb.String())
	}
}

func recording(t *testing.T, rows ...SafetyRow) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	return &buf
}

func TestPlayerHonoursSpeed(t *testing.T) {
	base := time.Unix(100, 0).UTC()
	buf := recording(t,
		sampleRow("close", base),
		sampleRow("close", base.Add(100*time.Millisecond)),
		sampleRow("close", base.Add(200*time.Millisecond)),
	)
	var waits []time.Duration
	p := Player{Speed: 2, wait: func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}}
	w := &memWriter{}
	n, err := p.Play(context.Background(), buf, w)
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if n != 3 || len(w.rows) != 3 {
		t.Fatalf("played %d, rows %d", n, len(w.rows))
	}
	if len(waits) != 2 || waits[0] != 50*time.Millisecond {
		t.Fatalf("unexpected waits %v", waits)
	}
}

func TestPlayerNoDelay(t *testing.T) {
	buf := recording(t, sampleRow("close", time.Unix(0, 0)), sampleRow("close", time.Unix(5, 0)))
	called := false
	p := Player{wait: func(context.Context, time.Duration) error {
		called = true
		return nil
	}}
	if _, err := p.Play(context.Background(), buf, &memWriter{}); err != nil {
		t.Fatalf("play: %v", err)
	}
	if called {
		t.Fatalf("speed 0 should not wait")
	}
}

func TestPlayerFiltersNode(t *testing.T) {
	other := sampleRow("open", time.Unix(1, 0))
	other.Node = "seg-2"
	buf := recording(t, sampleRow("close", time.Unix(0, 0)), other)
	buf.WriteString("\n")
	w := &memWriter{}
	n, err := Player{Node: "seg-2"}.Play(context.Background(), buf, w)
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if n != 1 || w.rows[0].Action != "open" {
		t.Fatalf("played %d rows: %+v", n, w.rows)
	}
}

func TestPlayerReportsBadLine(t *testing.T) {
	buf := recording(t, sampleRow("close", time.Unix(0, 0)))
	buf.WriteString("{not json\n")
	n, err := Player{}.Play(context.Background(), buf, &memWriter{})
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("expected line 2 decode error, got %v", err)
	}
	if n != 1 {
		t.Fatalf("played = %d", n)
	}
}

func TestPlayerStopsOnCancel(t *testing.T) {
	base := time.Unix(0, 0)
	buf := recording(t, sampleRow("close", base), sampleRow("close", base.Add(time.Hour)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err := Player{Speed: 1}.Play(ctx, buf, &memWriter{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if n != 1 {
		t.Fatalf("played = %d", n)
	}
}

type mockGreptimeClient struct {
	tables []*table.Table
}

func (m *mockGreptimeClient) Write(ctx context.Context, tables ...*table.Table) (*gpb.GreptimeResponse, error) {
	m.tables = append(m.tables, tables...)
	return &gpb.GreptimeResponse{}, nil
}

func TestGreptimeWriterBuffersSafetyRows(t *testing.T) {
	m := &mockGreptimeClient{}
	w := &GreptimeDBWriter{client: m, safetyTable: "segment_safety", eventTable: "segment_link_events", flushRows: 2}
	ts := time.Unix(0, 0).UTC()
	if err := w.Write(sampleRow("close", ts)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(m.tables) != 0 {
		t.Fatalf("expected buffering")
	}
	if err := w.Write(sampleRow("hold", ts)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(m.tables) != 1 {
		t.Fatalf("expected one flush, got %d", len(m.tables))
	}
	rows := m.tables[0].GetRows().Rows
	if len(rows) != 2 {
		t.Fatalf("rows = %d", len(rows))
	}
	if got := rows[1].Values[3].GetStringValue(); got != "hold" {
		t.Fatalf("action = %s", got)
	}
	if got := rows[0].Values[9].GetStringValue(); got != "101" {
		t.Fatalf("watchdog = %s", got)
	}
	_ = w.Write(sampleRow("open", ts))
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(m.tables) != 2 {
		t.Fatalf("close should flush the remainder")
	}
}

func TestGreptimeWriterLinkEvent(t *testing.T) {
	m := &mockGreptimeClient{}
	w := &GreptimeDBWriter{client: m, safetyTable: "segment_safety", eventTable: "segment_link_events", flushRows: 50}
	e := LinkEventRow{Node: "seg-2", Session: "s", Role: "server", Event: LinkDown, Teardowns: 4, Timestamp: time.Unix(0, 0).UTC()}
	if err := w.WriteLinkEvent(e); err != nil {
		t.Fatalf("event: %v", err)
	}
	if len(m.tables) != 1 {
		t.Fatalf("expected immediate write")
	}
	vals := m.tables[0].GetRows().Rows[0].Values
	if vals[2].GetStringValue() != "server" || vals[3].GetStringValue() != "down" {
		t.Fatalf("unexpected values %v", vals)
	}
}

func TestGreptimeWriterEmptyFlush(t *testing.T) {
	m := &mockGreptimeClient{}
	w := &GreptimeDBWriter{client: m, safetyTable: "segment_safety", flushRows: 50}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(m.tables) != 0 {
		t.Fatalf("empty flush should not write")
	}
}
