package streamstore

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by Describe for a key that has never been populated.
var ErrNotFound = errors.New("stream key not found")

// ErrClosed is wrapped in StorageUnavailableError once a store has been closed.
var ErrClosed = errors.New("store closed")

// KeyFormatError rejects an unrecognized ticker/resolution pairing before any storage access.
type KeyFormatError struct {
	Raw        string
	Ticker     string
	Resolution string
	Reason     string
}

func (e *KeyFormatError) Error() string {
	if e.Raw != "" {
		return fmt.Sprintf("invalid stream key %q: %s", e.Raw, e.Reason)
	}
	return fmt.Sprintf("invalid stream key (ticker=%q, resolution=%q): %s", e.Ticker, e.Resolution, e.Reason)
}

// StorageUnavailableError wraps a backend failure so callers can tell it apart from a missing key.
type StorageUnavailableError struct {
	Backend string
	Op      string
	Err     error
}

func (e *StorageUnavailableError) Error() string {
	return fmt.Sprintf("%s %s: storage unavailable: %v", e.Backend, e.Op, e.Err)
}

func (e *StorageUnavailableError) Unwrap() error { return e.Err }

// IsUnavailable reports whether err is (or wraps) a StorageUnavailableError.
func IsUnavailable(err error) bool {
	var sue *StorageUnavailableError
	return errors.As(err, &sue)
}
