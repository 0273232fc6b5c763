package streamstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"klinecollector/pkg/kline"
	"klinecollector/pkg/timing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const t0 int64 = 1735700400000 // 2025-01-01 00:00:00 UTC-3

type storeFactory func(t *testing.T, r Retention) Store

func minute(i int) int64 { return t0 + int64(i)*timing.Res1m.Millis() }

func rec(res timing.Resolution, openTime int64, closePrice float64) kline.Record {
	return kline.Record{
		Ticker:     "BTCUSDT",
		Resolution: res,
		OpenTime:   openTime,
		CloseTime:  res.CloseTime(openTime),
		Open:       100,
		High:       110,
		Low:        90,
		Close:      closePrice,
		IsClosed:   true,
	}
}

func openTimes(recs []kline.Record) []int64 {
	out := make([]int64, len(recs))
	for i, r := range recs {
		out[i] = r.OpenTime
	}
	return out
}

func runStoreSuite(t *testing.T, newStore storeFactory) {
	ctx := context.Background()

	t.Run("QueryIsMostRecentFirst", func(t *testing.T) {
		s := newStore(t, DefaultRetention())
		for i := 0; i < 5; i++ {
			require.NoError(t, s.Append(ctx, "BTCUSDT", timing.Res1m, rec(timing.Res1m, minute(i), 1), true))
		}
		got, err := s.QueryRange(ctx, "btcusdt", timing.Res1m, true, Query{})
		require.NoError(t, err)
		assert.Equal(t, []int64{minute(4), minute(3), minute(2), minute(1), minute(0)}, openTimes(got))
	})

	t.Run("OutOfOrderArrivalIsSorted", func(t *testing.T) {
		s := newStore(t, DefaultRetention())
		for _, i := range []int{2, 0, 3, 1} {
			require.NoError(t, s.Append(ctx, "BTCUSDT", timing.Res1m, rec(timing.Res1m, minute(i), 1), true))
		}
		got, err := s.QueryRange(ctx, "BTCUSDT", timing.Res1m, true, Query{})
		require.NoError(t, err)
		assert.Equal(t, []int64{minute(3), minute(2), minute(1), minute(0)}, openTimes(got))
	})

	t.Run("OpenLogReplacesSameOpenTime", func(t *testing.T) {
		s := newStore(t, DefaultRetention())
		require.NoError(t, s.Append(ctx, "BTCUSDT", timing.Res1m, rec(timing.Res1m, minute(0), 1), false))
		require.NoError(t, s.Append(ctx, "BTCUSDT", timing.Res1m, rec(timing.Res1m, minute(0), 2), false))

		got, err := s.QueryRange(ctx, "BTCUSDT", timing.Res1m, false, Query{})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, 2.0, got[0].Close)
	})

	t.Run("ClosedLogKeepsFirstWrite", func(t *testing.T) {
		s := newStore(t, DefaultRetention())
		require.NoError(t, s.Append(ctx, "BTCUSDT", timing.Res1m, rec(timing.Res1m, minute(0), 1), true))
		require.NoError(t, s.Append(ctx, "BTCUSDT", timing.Res1m, rec(timing.Res1m, minute(0), 2), true))

		got, err := s.QueryRange(ctx, "BTCUSDT", timing.Res1m, true, Query{})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, 1.0, got[0].Close)
	})

	t.Run("OpenAndClosedAreSeparate", func(t *testing.T) {
		s := newStore(t, DefaultRetention())
		require.NoError(t, s.Append(ctx, "BTCUSDT", timing.Res1m, rec(timing.Res1m, minute(0), 1), true))

		ok, err := s.Exists(ctx, "BTCUSDT", timing.Res1m, false)
		require.NoError(t, err)
		assert.False(t, ok)
		ok, err = s.Exists(ctx, "BTCUSDT", timing.Res1m, true)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("RetentionStaysNearMaxLen", func(t *testing.T) {
		s := newStore(t, DefaultRetention())
		maxLen := timing.Res1m.DefaultMaxLen()
		for i := 0; i < 4*maxLen; i++ {
			require.NoError(t, s.Append(ctx, "BTCUSDT", timing.Res1m, rec(timing.Res1m, minute(i), 1), true))
			meta, err := s.Describe(ctx, "BTCUSDT", timing.Res1m, true)
			require.NoError(t, err)
			assert.LessOrEqual(t, float64(meta.Length), 1.15*float64(maxLen))
		}
		meta, err := s.Describe(ctx, "BTCUSDT", timing.Res1m, true)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, float64(meta.Length), 0.85*float64(maxLen))
		assert.Equal(t, minute(4*maxLen-1), meta.LastOpenTime)
	})

	t.Run("OpenRetentionStaysNearMaxLen", func(t *testing.T) {
		s := newStore(t, DefaultRetention())
		maxLen := timing.Res1m.DefaultMaxLen()
		for i := 0; i < 4*maxLen; i++ {
			require.NoError(t, s.Append(ctx, "BTCUSDT", timing.Res1m, rec(timing.Res1m, minute(i), 1), false))
			meta, err := s.Describe(ctx, "BTCUSDT", timing.Res1m, false)
			require.NoError(t, err)
			assert.LessOrEqual(t, float64(meta.Length), 1.15*float64(maxLen))
		}
		meta, err := s.Describe(ctx, "BTCUSDT", timing.Res1m, false)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, float64(meta.Length), 0.85*float64(maxLen))
		assert.Equal(t, minute(4*maxLen-1), meta.LastOpenTime)
	})

	t.Run("OpenAndClosedTrimIndependently", func(t *testing.T) {
		r := DefaultRetention()
		r.Open[timing.Res1m] = 5
		r.Closed[timing.Res1m] = 20
		s := newStore(t, r)
		for i := 0; i < 40; i++ {
			require.NoError(t, s.Append(ctx, "BTCUSDT", timing.Res1m, rec(timing.Res1m, minute(i), 1), false))
			require.NoError(t, s.Append(ctx, "BTCUSDT", timing.Res1m, rec(timing.Res1m, minute(i), 1), true))
		}

		open, err := s.QueryRange(ctx, "BTCUSDT", timing.Res1m, false, Query{Limit: 100})
		require.NoError(t, err)
		assert.Len(t, open, 5)
		assert.Equal(t, minute(39), open[0].OpenTime)

		meta, err := s.Describe(ctx, "BTCUSDT", timing.Res1m, true)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, float64(meta.Length), 0.85*20)
		assert.LessOrEqual(t, float64(meta.Length), 1.15*20)

		// trimming one log leaves the other alone
		require.NoError(t, s.TrimTo(ctx, "BTCUSDT", timing.Res1m, false, 1))
		after, err := s.Describe(ctx, "BTCUSDT", timing.Res1m, true)
		require.NoError(t, err)
		assert.Equal(t, meta.Length, after.Length)
	})

	t.Run("RetentionOfOne", func(t *testing.T) {
		s := newStore(t, DefaultRetention())
		day := timing.Res1d.Millis()
		for i := 0; i < 5; i++ {
			require.NoError(t, s.Append(ctx, "BTCUSDT", timing.Res1d, rec(timing.Res1d, t0+int64(i)*day, 1), true))
		}
		meta, err := s.Describe(ctx, "BTCUSDT", timing.Res1d, true)
		require.NoError(t, err)
		assert.Equal(t, 1, meta.Length)
		assert.Equal(t, t0+4*day, meta.LastOpenTime)
	})

	t.Run("CustomRetention", func(t *testing.T) {
		r := DefaultRetention()
		r.Closed[timing.Res5m] = 3
		s := newStore(t, r)
		step := timing.Res5m.Millis()
		for i := 0; i < 10; i++ {
			require.NoError(t, s.Append(ctx, "ETHUSDT", timing.Res5m, rec(timing.Res5m, t0+int64(i)*step, 1), true))
		}
		got, err := s.QueryRange(ctx, "ETHUSDT", timing.Res5m, true, Query{Limit: 100})
		require.NoError(t, err)
		assert.Len(t, got, 3)
	})

	t.Run("BatchMatchesSingleAppends", func(t *testing.T) {
		single := newStore(t, DefaultRetention())
		batch := newStore(t, DefaultRetention())
		var recs []kline.Record
		for _, i := range []int{3, 1, 2, 1, 0} {
			r := rec(timing.Res1m, minute(i), float64(i))
			recs = append(recs, r)
			require.NoError(t, single.Append(ctx, "BTCUSDT", timing.Res1m, r, false))
		}
		require.NoError(t, batch.AppendBatch(ctx, "BTCUSDT", timing.Res1m, recs, false))

		want, err := single.QueryRange(ctx, "BTCUSDT", timing.Res1m, false, Query{})
		require.NoError(t, err)
		got, err := batch.QueryRange(ctx, "BTCUSDT", timing.Res1m, false, Query{})
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("RangeBoundsAreInclusive", func(t *testing.T) {
		s := newStore(t, DefaultRetention())
		for i := 0; i < 10; i++ {
			require.NoError(t, s.Append(ctx, "BTCUSDT", timing.Res1m, rec(timing.Res1m, minute(i), 1), true))
		}
		got, err := s.QueryRange(ctx, "BTCUSDT", timing.Res1m, true, Query{Min: At(minute(2)), Max: At(minute(5))})
		require.NoError(t, err)
		assert.Equal(t, []int64{minute(5), minute(4), minute(3), minute(2)}, openTimes(got))

		got, err = s.QueryRange(ctx, "BTCUSDT", timing.Res1m, true, Query{Max: At(minute(5)), Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, []int64{minute(5), minute(4)}, openTimes(got))

		got, err = s.QueryRange(ctx, "BTCUSDT", timing.Res1m, true, Query{Min: At(minute(8))})
		require.NoError(t, err)
		assert.Equal(t, []int64{minute(9), minute(8)}, openTimes(got))
	})

	t.Run("MissingKeyIsEmptyNotError", func(t *testing.T) {
		s := newStore(t, DefaultRetention())
		got, err := s.QueryRange(ctx, "SOLUSDT", timing.Res15m, true, Query{})
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)

		_, err = s.Describe(ctx, "SOLUSDT", timing.Res15m, true)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("InvalidKeyRejected", func(t *testing.T) {
		s := newStore(t, DefaultRetention())
		var kfe *KeyFormatError

		err := s.Append(ctx, "BTCUSDT", timing.Resolution("7m"), rec(timing.Res1m, minute(0), 1), true)
		assert.True(t, errors.As(err, &kfe))

		_, err = s.QueryRange(ctx, "BTC/USDT", timing.Res1m, true, Query{})
		assert.True(t, errors.As(err, &kfe))

		_, err = s.Exists(ctx, "", timing.Res1m, true)
		assert.True(t, errors.As(err, &kfe))
	})

	t.Run("OneSecondReadsClosedLog", func(t *testing.T) {
		s := newStore(t, DefaultRetention())
		base := int64(1735700400000)
		for i := 0; i < 3; i++ {
			require.NoError(t, s.Append(ctx, "BTCUSDT", timing.Res1s, rec(timing.Res1s, base+int64(i)*1000, 1), true))
		}
		got, err := s.QueryRange(ctx, "BTCUSDT", timing.Res1s, false, Query{})
		require.NoError(t, err)
		assert.Len(t, got, 3)
	})

	t.Run("TrimDeleteFlush", func(t *testing.T) {
		s := newStore(t, DefaultRetention())
		for i := 0; i < 10; i++ {
			require.NoError(t, s.Append(ctx, "BTCUSDT", timing.Res1m, rec(timing.Res1m, minute(i), 1), true))
			require.NoError(t, s.Append(ctx, "ETHUSDT", timing.Res1m, rec(timing.Res1m, minute(i), 1), false))
		}

		require.NoError(t, s.TrimTo(ctx, "BTCUSDT", timing.Res1m, true, 4))
		meta, err := s.Describe(ctx, "BTCUSDT", timing.Res1m, true)
		require.NoError(t, err)
		assert.Equal(t, 4, meta.Length)
		assert.Equal(t, minute(6), meta.FirstOpenTime)
		assert.Equal(t, minute(9), meta.LastOpenTime)

		require.NoError(t, s.Delete(ctx, "BTCUSDT", timing.Res1m, true))
		ok, err := s.Exists(ctx, "BTCUSDT", timing.Res1m, true)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.Flush(ctx))
		ok, err = s.Exists(ctx, "ETHUSDT", timing.Res1m, false)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("ConcurrentAppendsLoseNothing", func(t *testing.T) {
		r := DefaultRetention()
		r.Closed[timing.Res1m] = 1000
		s := newStore(t, r)

		var wg sync.WaitGroup
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := w; i < 400; i += 8 {
					assert.NoError(t, s.Append(ctx, "BTCUSDT", timing.Res1m, rec(timing.Res1m, minute(i), 1), true))
				}
			}(w)
		}
		wg.Wait()

		got, err := s.QueryRange(ctx, "BTCUSDT", timing.Res1m, true, Query{})
		require.NoError(t, err)
		require.Len(t, got, 400)
		for i := 1; i < len(got); i++ {
			assert.Greater(t, got[i-1].OpenTime, got[i].OpenTime)
		}
	})
}
