package record

import "errors"

// Sink takes both row kinds.
type Sink interface {
	SafetyWriter
	LinkEventWriter
}

// Tee copies every row to each sink. A failing sink does not starve the
// others; their errors are joined.
type Tee []Sink

// NewTee builds a Tee over sinks.
func NewTee(sinks ...Sink) Tee { return Tee(sinks) }

func (t Tee) Write(row SafetyRow) error {
	var errs []error
	for _, s := range t {
		errs = append(errs, s.Write(row))
	}
	return errors.Join(errs...)
}

// WriteBatch hands rows to sinks that batch and row by row to the rest.
func (t Tee) WriteBatch(rows []SafetyRow) error {
	var errs []error
	for _, s := range t {
		errs = append(errs, WriteAll(s, rows))
	}
	return errors.Join(errs...)
}

func (t Tee) WriteLinkEvent(e LinkEventRow) error {
	var errs []error
	for _, s := range t {
		errs = append(errs, s.WriteLinkEvent(e))
	}
	return errors.Join(errs...)
}
