package streamstore

import (
	"fmt"
	"strings"

	"klinecollector/pkg/kline"
	"klinecollector/pkg/timing"
)

// Key identifies one ordered log: a ticker, a resolution and the open/closed sub-stream.
type Key struct {
	Ticker     string
	Resolution timing.Resolution
	Closed     bool
}

// NewKey validates and canonicalizes a key.
func NewKey(ticker string, res timing.Resolution, closed bool) (Key, error) {
	t := kline.CanonicalTicker(ticker)
	if t == "" {
		return Key{}, &KeyFormatError{Ticker: ticker, Resolution: string(res), Reason: "empty ticker"}
	}
	for _, c := range t {
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return Key{}, &KeyFormatError{Ticker: ticker, Resolution: string(res), Reason: "ticker must be alphanumeric"}
		}
	}
	if !res.IsValid() {
		return Key{}, &KeyFormatError{Ticker: ticker, Resolution: string(res), Reason: "unsupported resolution"}
	}
	return Key{Ticker: t, Resolution: res, Closed: closed}, nil
}

// readKey applies the closed-only read rule for resolutions that have no useful open view.
func readKey(ticker string, res timing.Resolution, closed bool) (Key, error) {
	return NewKey(ticker, res, closed || res.ReadsClosedOnly())
}

// State returns "closed" or "opened".
func (k Key) State() string {
	if k.Closed {
		return "closed"
	}
	return "opened"
}

// String renders the key as "{ticker_lower}@kline_{resolution}:{closed|opened}".
func (k Key) String() string {
	return fmt.Sprintf("%s@kline_%s:%s", strings.ToLower(k.Ticker), k.Resolution, k.State())
}

// ParseKey parses the String form back into a validated Key.
func ParseKey(s string) (Key, error) {
	name, state, ok := strings.Cut(s, ":")
	if !ok {
		return Key{}, &KeyFormatError{Raw: s, Reason: "missing :closed/:opened suffix"}
	}
	ticker, res, ok := strings.Cut(name, "@kline_")
	if !ok {
		return Key{}, &KeyFormatError{Raw: s, Reason: "expected ticker@kline_resolution"}
	}
	var closed bool
	switch state {
	case "closed":
		closed = true
	case "opened":
	default:
		return Key{}, &KeyFormatError{Raw: s, Reason: "unknown state " + state}
	}
	return NewKey(ticker, timing.Resolution(res), closed)
}
