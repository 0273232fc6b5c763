package timing

import (
	"fmt"
	"strings"
	"time"
)

// Resolution is the bucket width of a kline, using the exchange notation ("1m", "4h", ...).
type Resolution string

// resolutionMeta holds the fixed properties of a supported resolution.
type resolutionMeta struct {
	Duration time.Duration
	MaxLen   int // default streaming-cache retention
}

const (
	Res1s  Resolution = "1s"
	Res1m  Resolution = "1m"
	Res3m  Resolution = "3m"
	Res5m  Resolution = "5m"
	Res15m Resolution = "15m"
	Res30m Resolution = "30m"
	Res1h  Resolution = "1h"
	Res2h  Resolution = "2h"
	Res4h  Resolution = "4h"
	Res6h  Resolution = "6h"
	Res8h  Resolution = "8h"
	Res12h Resolution = "12h"
	Res1d  Resolution = "1d"
)

// Resolutions lists every supported resolution, shortest first.
var Resolutions = []Resolution{
	Res1s, Res1m, Res3m, Res5m, Res15m, Res30m,
	Res1h, Res2h, Res4h, Res6h, Res8h, Res12h, Res1d,
}

var validResolutions = map[Resolution]resolutionMeta{
	Res1s:  {Duration: time.Second, MaxLen: 60},
	Res1m:  {Duration: time.Minute, MaxLen: 60},
	Res3m:  {Duration: 3 * time.Minute, MaxLen: 20},
	Res5m:  {Duration: 5 * time.Minute, MaxLen: 12},
	Res15m: {Duration: 15 * time.Minute, MaxLen: 4},
	Res30m: {Duration: 30 * time.Minute, MaxLen: 2},
	Res1h:  {Duration: time.Hour, MaxLen: 24},
	Res2h:  {Duration: 2 * time.Hour, MaxLen: 12},
	Res4h:  {Duration: 4 * time.Hour, MaxLen: 6},
	Res6h:  {Duration: 6 * time.Hour, MaxLen: 4},
	Res8h:  {Duration: 8 * time.Hour, MaxLen: 3},
	Res12h: {Duration: 12 * time.Hour, MaxLen: 2},
	Res1d:  {Duration: 24 * time.Hour, MaxLen: 1},
}

// DailyOpenTimeOffset is subtracted from persisted 1d open times (in seconds) before they are
// compared against a local-midnight grid.
const DailyOpenTimeOffset int64 = 75600

// ParseResolution validates s against the supported set.
func ParseResolution(s string) (Resolution, error) {
	r := Resolution(strings.TrimSpace(s))
	if !r.IsValid() {
		return "", fmt.Errorf("invalid resolution: %q", s)
	}
	return r, nil
}

// ParseResolutions parses a list, failing on the first invalid entry.
func ParseResolutions(ss []string) ([]Resolution, error) {
	out := make([]Resolution, 0, len(ss))
	for _, s := range ss {
		r, err := ParseResolution(s)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// IsValid reports whether r is a supported resolution.
func (r Resolution) IsValid() bool {
	_, ok := validResolutions[r]
	return ok
}

func (r Resolution) String() string { return string(r) }

// Duration returns the bucket width, or 0 for an unsupported resolution.
func (r Resolution) Duration() time.Duration {
	return validResolutions[r].Duration
}

// Seconds returns the bucket width in whole seconds.
func (r Resolution) Seconds() int64 {
	return int64(r.Duration() / time.Second)
}

// Millis returns the bucket width in milliseconds.
func (r Resolution) Millis() int64 {
	return r.Duration().Milliseconds()
}

// DefaultMaxLen is the static retention for r in the streaming cache.
func (r Resolution) DefaultMaxLen() int {
	return validResolutions[r].MaxLen
}

// ReadsClosedOnly reports whether reads for r always go to the closed log. A 1s bucket closes
// before an open view of it can be useful, so only closed 1s klines are served.
func (r Resolution) ReadsClosedOnly() bool {
	return r == Res1s
}

// CloseTime returns the informational close time of the bucket opened at openTime (ms).
func (r Resolution) CloseTime(openTime int64) int64 {
	return openTime + r.Millis() - 1
}

// IsAligned reports whether ms sits on an epoch-aligned boundary of r.
func (r Resolution) IsAligned(ms int64) bool {
	step := r.Millis()
	return step > 0 && ms%step == 0
}

// Align floors ms to the start of its r bucket.
func (r Resolution) Align(ms int64) int64 {
	step := r.Millis()
	if step <= 0 {
		return ms
	}
	return ms - ms%step
}

// DefaultRetention returns a fresh copy of the static retention table.
func DefaultRetention() map[Resolution]int {
	out := make(map[Resolution]int, len(validResolutions))
	for r, meta := range validResolutions {
		out[r] = meta.MaxLen
	}
	return out
}
