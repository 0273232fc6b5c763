package kline

import "fmt"

// MalformedRecordError reports a raw input that cannot be turned into a Record.
type MalformedRecordError struct {
	Kind  SourceKind
	Field string
	Err   error
}

func (e *MalformedRecordError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed %s record: field %q: %v", e.Kind, e.Field, e.Err)
	}
	return fmt.Sprintf("malformed %s record: field %q", e.Kind, e.Field)
}

func (e *MalformedRecordError) Unwrap() error { return e.Err }
