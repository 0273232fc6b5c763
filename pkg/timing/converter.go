package timing

import (
	"math"
	"strconv"
	"time"
)

// Layout is the only accepted textual timestamp form.
const Layout = "2006-01-02 15:04:05"

// Converter turns loosely typed timestamps into epoch milliseconds or local datetimes.
// Wall-clock strings and results are interpreted in the converter's location.
type Converter struct {
	loc *time.Location
}

// NewConverter returns a Converter bound to loc; nil means UTC.
func NewConverter(loc *time.Location) *Converter {
	if loc == nil {
		loc = time.UTC
	}
	return &Converter{loc: loc}
}

// LoadConverter resolves an IANA zone name ("" means UTC).
func LoadConverter(name string) (*Converter, error) {
	if name == "" {
		return NewConverter(time.UTC), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, err
	}
	return NewConverter(loc), nil
}

// Location returns the converter's zone.
func (c *Converter) Location() *time.Location { return c.loc }

// ToMillis converts v to epoch milliseconds.
//
// Accepted inputs: a 19-char "YYYY-MM-DD HH:MM:SS" string, a time.Time, or any integer/float.
// Numbers with at most 10 integer digits are seconds, longer ones are already milliseconds.
func (c *Converter) ToMillis(v any) (int64, error) {
	switch t := v.(type) {
	case string:
		parsed, err := c.parse(t)
		if err != nil {
			return 0, err
		}
		return parsed.UnixMilli(), nil
	case time.Time:
		return t.UnixMilli(), nil
	case *time.Time:
		if t == nil {
			return 0, &UnsupportedTypeError{Value: v}
		}
		return t.UnixMilli(), nil
	}

	f, ok := toFloat(v)
	if !ok {
		return 0, &UnsupportedTypeError{Value: v}
	}
	return numericMillis(f), nil
}

// ToDateTime converts v to a time.Time in the converter's location.
func (c *Converter) ToDateTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case string:
		return c.parse(t)
	case time.Time:
		return t.In(c.loc), nil
	case *time.Time:
		if t == nil {
			return time.Time{}, &UnsupportedTypeError{Value: v}
		}
		return t.In(c.loc), nil
	}

	f, ok := toFloat(v)
	if !ok {
		return time.Time{}, &UnsupportedTypeError{Value: v}
	}
	return time.UnixMilli(numericMillis(f)).In(c.loc), nil
}

// Format renders t in the accepted textual layout.
func (c *Converter) Format(t time.Time) string {
	return t.In(c.loc).Format(Layout)
}

// StartOfDay returns local midnight of the day containing t.
func (c *Converter) StartOfDay(t time.Time) time.Time {
	t = t.In(c.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.loc)
}

func (c *Converter) parse(s string) (time.Time, error) {
	if len(s) != len(Layout) {
		return time.Time{}, &FormatError{Input: s}
	}
	t, err := time.ParseInLocation(Layout, s, c.loc)
	if err != nil {
		return time.Time{}, &FormatError{Input: s, Err: err}
	}
	return t, nil
}

// RangeList steps from start to end by r and returns the epoch seconds, both ends inclusive.
// start is not realigned; callers pass a bucket boundary.
func RangeList(start, end time.Time, r Resolution) []int64 {
	step := r.Seconds()
	from, to := start.Unix(), end.Unix()
	if step <= 0 || to < from {
		return nil
	}
	out := make([]int64, 0, (to-from)/step+1)
	for ts := from; ts <= to; ts += step {
		out = append(out, ts)
	}
	return out
}

func numericMillis(f float64) int64 {
	whole := math.Trunc(math.Abs(f))
	if len(strconv.FormatFloat(whole, 'f', 0, 64)) <= 10 {
		return int64(math.Round(f * 1000))
	}
	return int64(f)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
