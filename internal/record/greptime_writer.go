package record

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	gpb "github.com/GreptimeTeam/greptime-proto/go/greptime/v1"
	greptime "github.com/GreptimeTeam/greptimedb-ingester-go"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table/types"
)

// Table names written by GreptimeDBWriter.
const (
	SafetyTable    = "segment_safety"
	LinkEventTable = "segment_link_events"
)

const (
	defaultGreptimePort = 4001
	defaultFlushRows    = 50
	writeTimeout        = 2 * time.Second
)

// greptimeClient abstracts the ingester client for testing.
type greptimeClient interface {
	Write(ctx context.Context, tables ...*table.Table) (*gpb.GreptimeResponse, error)
}

// GreptimeDBWriter writes safety rows and link events to GreptimeDB. Safety
// rows are buffered and written in batches.
type GreptimeDBWriter struct {
	client      greptimeClient
	safetyTable string
	eventTable  string
	flushRows   int

	mu  sync.Mutex
	buf []SafetyRow
}

// NewGreptimeDBWriter connects to endpoint ("host" or "host:port").
func NewGreptimeDBWriter(endpoint, database string) (*GreptimeDBWriter, error) {
	host, port := endpoint, defaultGreptimePort
	if h, p, err := net.SplitHostPort(endpoint); err == nil {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("greptime endpoint %q: bad port", endpoint)
		}
		host, port = h, n
	}
	cfg := greptime.NewConfig(host).WithPort(port).WithDatabase(database)
	client, err := greptime.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("greptime client: %w", err)
	}
	return &GreptimeDBWriter{
		client:      client,
		safetyTable: SafetyTable,
		eventTable:  LinkEventTable,
		flushRows:   defaultFlushRows,
	}, nil
}

// Write buffers a safety row and flushes once the batch is full.
func (w *GreptimeDBWriter) Write(row SafetyRow) error {
	w.mu.Lock()
	w.buf = append(w.buf, row)
	if len(w.buf) < w.flushRows {
		w.mu.Unlock()
		return nil
	}
	rows := w.buf
	w.buf = nil
	w.mu.Unlock()
	return w.WriteBatch(rows)
}

// Flush writes any buffered rows.
func (w *GreptimeDBWriter) Flush() error {
	w.mu.Lock()
	rows := w.buf
	w.buf = nil
	w.mu.Unlock()
	return w.WriteBatch(rows)
}

// Close flushes buffered rows.
func (w *GreptimeDBWriter) Close() error { return w.Flush() }

// WriteBatch inserts multiple safety rows.
func (w *GreptimeDBWriter) WriteBatch(rows []SafetyRow) error {
	if len(rows) == 0 {
		return nil
	}
	tbl, err := table.New(w.safetyTable)
	if err != nil {
		return err
	}
	tbl.AddTagColumn("node", types.STRING)
	tbl.AddTagColumn("session", types.STRING)
	tbl.AddFieldColumn("score", types.INT64)
	tbl.AddFieldColumn("action", types.STRING)
	tbl.AddFieldColumn("relay", types.STRING)
	tbl.AddFieldColumn("steering", types.FLOAT64)
	tbl.AddFieldColumn("throttle", types.FLOAT64)
	tbl.AddFieldColumn("pilot_fresh", types.BOOLEAN)
	tbl.AddFieldColumn("configured", types.BOOLEAN)
	tbl.AddFieldColumn("watchdog", types.STRING)
	tbl.AddFieldColumn("error", types.STRING)
	tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND)

	for _, r := range rows {
		if err := tbl.AddRow(r.Node, r.Session, int64(r.Score), r.Action, r.Relay,
			r.Steering, r.Throttle, r.PilotFresh, r.Configured, tokens(r.Watchdog), r.Error, r.Timestamp); err != nil {
			return err
		}
	}
	return w.write(w.safetyTable, tbl)
}

// WriteLinkEvent inserts a link event row.
func (w *GreptimeDBWriter) WriteLinkEvent(e LinkEventRow) error {
	tbl, err := table.New(w.eventTable)
	if err != nil {
		return err
	}
	tbl.AddTagColumn("node", types.STRING)
	tbl.AddTagColumn("session", types.STRING)
	tbl.AddTagColumn("role", types.STRING)
	tbl.AddFieldColumn("event", types.STRING)
	tbl.AddFieldColumn("teardowns", types.INT64)
	tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND)
	if err := tbl.AddRow(e.Node, e.Session, e.Role, e.Event, int64(e.Teardowns), e.Timestamp); err != nil {
		return err
	}
	return w.write(w.eventTable, tbl)
}

func (w *GreptimeDBWriter) write(name string, tbl *table.Table) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if _, err := w.client.Write(ctx, tbl); err != nil {
		return fmt.Errorf("greptime write %s: %w", name, err)
	}
	return nil
}
