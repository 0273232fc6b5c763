// Package backfill finds gaps in durable kline history and fills them from REST.
package backfill

import (
	"context"
	"fmt"
	"time"

	"klinecollector/pkg/storage/postgres"
	"klinecollector/pkg/timing"
)

// OpenTimeReader reads stored open times of one ticker and resolution.
type OpenTimeReader interface {
	SelectOpenTimes(ctx context.Context, ticker string, res timing.Resolution, tr *postgres.TimeRange) ([]int64, error)
}

// dailyOffsetMs shifts daily rows between the stored open_time and the range grid.
const dailyOffsetMs = timing.DailyOpenTimeOffset * 1000

// gridToOpenTime maps a grid point (epoch seconds) to the stored open_time (ms).
func gridToOpenTime(res timing.Resolution, sec int64) int64 {
	ms := sec * 1000
	if res == timing.Res1d {
		ms += dailyOffsetMs
	}
	return ms
}

// openTimeToGrid is the inverse of gridToOpenTime.
func openTimeToGrid(res timing.Resolution, ms int64) int64 {
	if res == timing.Res1d {
		ms -= dailyOffsetMs
	}
	return ms / 1000
}

// CheckRange rejects an inverted range.
func CheckRange(start, end time.Time) error {
	if end.Before(start) {
		return fmt.Errorf("invalid range: end %s is before start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return nil
}

// ParseRange reads configured bounds in conv's location. An empty end means now; an empty start
// means local midnight of the end's day.
func ParseRange(conv *timing.Converter, start, end string, now time.Time) (time.Time, time.Time, error) {
	to := now.In(conv.Location())
	if end != "" {
		t, err := conv.ToDateTime(end)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("backfill end: %w", err)
		}
		to = t
	}
	from := conv.StartOfDay(to)
	if start != "" {
		t, err := conv.ToDateTime(start)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("backfill start: %w", err)
		}
		from = t
	}
	if err := CheckRange(from, to); err != nil {
		return time.Time{}, time.Time{}, err
	}
	return from, to, nil
}

type Finder struct {
	db OpenTimeReader
}

func NewFinder(db OpenTimeReader) *Finder {
	return &Finder{db: db}
}

// FindMissing returns, per resolution, the grid points in [start, end] with no stored kline,
// as ascending epoch seconds. It reads only open_time, once per resolution.
func (f *Finder) FindMissing(ctx context.Context, ticker string, resolutions []timing.Resolution, start, end time.Time) (map[timing.Resolution][]int64, error) {
	if err := CheckRange(start, end); err != nil {
		return nil, err
	}
	out := make(map[timing.Resolution][]int64, len(resolutions))
	for _, res := range resolutions {
		missing, err := f.missing(ctx, ticker, res, start, end)
		if err != nil {
			return nil, err
		}
		out[res] = missing
	}
	return out, nil
}

func (f *Finder) missing(ctx context.Context, ticker string, res timing.Resolution, start, end time.Time) ([]int64, error) {
	if !res.IsValid() {
		return nil, fmt.Errorf("find missing: invalid resolution %q", res)
	}
	grid := timing.RangeList(start, end, res)

	tr := &postgres.TimeRange{
		Start: gridToOpenTime(res, start.Unix()),
		End:   gridToOpenTime(res, end.Unix()),
	}
	stored, err := f.db.SelectOpenTimes(ctx, ticker, res, tr)
	if err != nil {
		return nil, fmt.Errorf("find missing %s %s: %w", ticker, res, err)
	}

	have := make(map[int64]struct{}, len(stored))
	for _, ms := range stored {
		have[openTimeToGrid(res, ms)] = struct{}{}
	}

	missing := make([]int64, 0)
	for _, sec := range grid {
		if _, ok := have[sec]; !ok {
			missing = append(missing, sec)
		}
	}
	return missing, nil
}

// GridPoint returns the range-grid time of the bucket of res containing ms.
func GridPoint(res timing.Resolution, ms int64) time.Time {
	return time.Unix(openTimeToGrid(res, res.Align(ms)), 0)
}
