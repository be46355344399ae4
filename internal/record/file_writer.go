package record

import (
	"encoding/json"
	"os"
)

// FileWriter writes safety rows and link events to JSONL files.
type FileWriter struct {
	safetyFile *os.File
	eventFile  *os.File
	safetyEnc  *json.Encoder
	eventEnc   *json.Encoder
}

// NewFileWriter creates a FileWriter. eventPath may be empty to skip link events.
func NewFileWriter(safetyPath, eventPath string) (*FileWriter, error) {
	sf, err := os.Create(safetyPath)
	if err != nil {
		return nil, err
	}
	fw := &FileWriter{safetyFile: sf, safetyEnc: json.NewEncoder(sf)}
	if eventPath != "" {
		ef, err := os.Create(eventPath)
		if err != nil {
			sf.Close()
			return nil, err
		}
		fw.eventFile = ef
		fw.eventEnc = json.NewEncoder(ef)
	}
	return fw, nil
}

// Write logs a single safety row.
func (f *FileWriter) Write(row SafetyRow) error {
	return f.safetyEnc.Encode(row)
}

// WriteBatch logs multiple safety rows.
func (f *FileWriter) WriteBatch(rows []SafetyRow) error {
	for _, r := range rows {
		if err := f.Write(r); err != nil {
			return err
		}
	}
	return nil
}

// WriteLinkEvent logs a link event, if enabled.
func (f *FileWriter) WriteLinkEvent(e LinkEventRow) error {
	if f.eventEnc == nil {
		return nil
	}
	return f.eventEnc.Encode(e)
}

// Close closes any underlying files.
func (f *FileWriter) Close() error {
	var err error
	if f.safetyFile != nil {
		if e := f.safetyFile.Close(); e != nil {
			err = e
		}
	}
	if f.eventFile != nil {
		if e := f.eventFile.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}
