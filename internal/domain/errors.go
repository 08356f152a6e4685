package domain

import "fmt"

// SchemaError reports a question schema that cannot be resolved.
// It is always fatal and surfaces before any output is written.
type SchemaError struct {
	Reason   string
	Position int
	Question string
}

func (e *SchemaError) Error() string {
	if e.Question == "" {
		return "schema: " + e.Reason
	}
	return fmt.Sprintf("schema: %s %d (question %q)", e.Reason, e.Position, e.Question)
}

// AugmentError reports a path-derived key that would overwrite an existing field.
type AugmentError struct {
	Location string
	Key      string
}

func (e *AugmentError) Error() string {
	return fmt.Sprintf("augment %s: key %q already present", e.Location, e.Key)
}

// MalformedRecordError marks a single record that cannot be used.
// The run skips it and reports it.
type MalformedRecordError struct {
	Location string
	Err      error
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record %s: %v", e.Location, e.Err)
}

func (e *MalformedRecordError) Unwrap() error {
	return e.Err
}

// Malformed wraps err as a MalformedRecordError for location.
func Malformed(location string, err error) error {
	return &MalformedRecordError{Location: location, Err: err}
}
