package timing

import "fmt"

// FormatError is returned for timestamp strings that are not exactly "YYYY-MM-DD HH:MM:SS".
type FormatError struct {
	Input string
	Err   error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("timestamp %q: expected %q layout: %v", e.Input, Layout, e.Err)
	}
	return fmt.Sprintf("timestamp %q: expected %d chars like %q", e.Input, len(Layout), "2023-01-01 00:00:00")
}

func (e *FormatError) Unwrap() error { return e.Err }

// UnsupportedTypeError is returned when a timestamp value has no known conversion.
type UnsupportedTypeError struct {
	Value any
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported timestamp type %T", e.Value)
}
