package record

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// SafetyWriter persists controller cycles.
type SafetyWriter interface {
	Write(SafetyRow) error
}

// LinkEventWriter persists link state changes.
type LinkEventWriter interface {
	WriteLinkEvent(LinkEventRow) error
}

// batchWriter is implemented by writers that prefer batches.
type batchWriter interface {
	WriteBatch([]SafetyRow) error
}

// WriteAll writes rows through WriteBatch when supported.
func WriteAll(w SafetyWriter, rows []SafetyRow) error {
	if bw, ok := w.(batchWriter); ok {
		return bw.WriteBatch(rows)
	}
	for _, r := range rows {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	return nil
}

// JSONStdoutWriter prints rows as JSON lines.
type JSONStdoutWriter struct {
	out io.Writer
}

// NewJSONStdoutWriter creates a JSONStdoutWriter writing to os.Stdout.
func NewJSONStdoutWriter() *JSONStdoutWriter {
	return &JSONStdoutWriter{out: os.Stdout}
}

// Write outputs a safety row in JSON format.
func (w *JSONStdoutWriter) Write(row SafetyRow) error {
	data, _ := json.Marshal(row)
	fmt.Fprintln(w.out, string(data))
	return nil
}

// WriteLinkEvent outputs a link event in JSON format.
func (w *JSONStdoutWriter) WriteLinkEvent(e LinkEventRow) error {
	data, _ := json.Marshal(e)
	fmt.Fprintln(w.out, string(data))
	return nil
}
