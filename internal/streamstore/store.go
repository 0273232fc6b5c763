package streamstore

import (
	"context"
	"fmt"
	"strconv"

	"klinecollector/pkg/kline"
	"klinecollector/pkg/timing"
)

// Store keeps, per Key, a bounded log of klines ordered by open time.
//
// Open logs replace an existing entry with the same open time; closed logs ignore it. Every
// append trims the log back toward its retention. Implementations serialize writes per key.
type Store interface {
	Append(ctx context.Context, ticker string, res timing.Resolution, rec kline.Record, closed bool) error
	AppendBatch(ctx context.Context, ticker string, res timing.Resolution, recs []kline.Record, closed bool) error

	// QueryRange returns matching records most-recent-first. A missing key yields an empty slice.
	QueryRange(ctx context.Context, ticker string, res timing.Resolution, closed bool, q Query) ([]kline.Record, error)

	Exists(ctx context.Context, ticker string, res timing.Resolution, closed bool) (bool, error)
	Describe(ctx context.Context, ticker string, res timing.Resolution, closed bool) (Meta, error)
	Delete(ctx context.Context, ticker string, res timing.Resolution, closed bool) error
	TrimTo(ctx context.Context, ticker string, res timing.Resolution, closed bool, keepLast int) error
	Flush(ctx context.Context) error

	Ping(ctx context.Context) error
	Close() error
}

// Meta describes a populated log.
type Meta struct {
	Key           Key
	Length        int
	FirstOpenTime int64
	LastOpenTime  int64
}

// Bound is one end of a range query: either unbounded or an explicit open time (ms).
type Bound struct {
	ms      int64
	bounded bool
}

// Unbounded matches every open time on its side of the range.
var Unbounded = Bound{}

// At bounds a range at an explicit open time, inclusive.
func At(ms int64) Bound { return Bound{ms: ms, bounded: true} }

// ParseBound accepts "-", "+" or "" for unbounded, or a decimal open time.
func ParseBound(s string) (Bound, error) {
	switch s {
	case "", "-", "+":
		return Unbounded, nil
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return Bound{}, fmt.Errorf("invalid range bound %q: %w", s, err)
	}
	return At(ms), nil
}

// IsBounded reports whether b carries an explicit open time.
func (b Bound) IsBounded() bool { return b.bounded }

// Millis returns the bound's open time; meaningful only when IsBounded.
func (b Bound) Millis() int64 { return b.ms }

// Query selects a slice of a log. A zero Limit means the resolution's retention.
type Query struct {
	Min   Bound
	Max   Bound
	Limit int
}

func (q Query) contains(openTime int64) bool {
	if q.Min.bounded && openTime < q.Min.ms {
		return false
	}
	if q.Max.bounded && openTime > q.Max.ms {
		return false
	}
	return true
}

// Retention holds the per-resolution maxlen of the open and closed logs.
type Retention struct {
	Open   map[timing.Resolution]int
	Closed map[timing.Resolution]int
}

// DefaultRetention uses the static table for both states.
func DefaultRetention() Retention {
	return Retention{Open: timing.DefaultRetention(), Closed: timing.DefaultRetention()}
}

// MaxLen returns the retention of a log, falling back to the static table.
func (r Retention) MaxLen(res timing.Resolution, closed bool) int {
	table := r.Open
	if closed {
		table = r.Closed
	}
	if n, ok := table[res]; ok && n > 0 {
		return n
	}
	return res.DefaultMaxLen()
}

// trimThreshold is the length at which an automatic trim kicks in. Letting logs grow a tenth
// past maxlen keeps trims infrequent while staying inside the accepted overshoot.
func trimThreshold(maxLen int) int {
	return maxLen + maxLen/10
}
