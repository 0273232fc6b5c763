package streamstore

import (
	"context"
	"testing"

	"klinecollector/pkg/timing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

// go test -v --run TestRedisStore
func TestRedisStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T, r Retention) Store {
		_, rdb := newTestRedis(t)
		return NewRedisStore(rdb, r, zap.NewNop())
	})
}

func TestRedisStoreKeyLayout(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	s := NewRedisStore(rdb, DefaultRetention(), zap.NewNop())

	require.NoError(t, s.Append(ctx, "BTCUSDT", timing.Res1h, rec(timing.Res1h, t0, 1), true))
	require.NoError(t, s.Append(ctx, "BTCUSDT", timing.Res1h, rec(timing.Res1h, t0, 1), false))

	assert.True(t, mr.Exists("btcusdt@kline_1h:closed"))
	assert.True(t, mr.Exists("btcusdt@kline_1h:opened"))
}

func TestRedisStoreFlushKeepsForeignKeys(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	s := NewRedisStore(rdb, DefaultRetention(), zap.NewNop())

	require.NoError(t, mr.Set("session:42", "x"))
	require.NoError(t, s.Append(ctx, "BTCUSDT", timing.Res1m, rec(timing.Res1m, t0, 1), true))
	require.NoError(t, s.Flush(ctx))

	assert.True(t, mr.Exists("session:42"))
	assert.False(t, mr.Exists("btcusdt@kline_1m:closed"))
}

func TestRedisStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	s := NewRedisStore(rdb, DefaultRetention(), zap.NewNop())
	mr.Close()

	err := s.Append(ctx, "BTCUSDT", timing.Res1m, rec(timing.Res1m, t0, 1), true)
	assert.True(t, IsUnavailable(err))

	_, err = s.QueryRange(ctx, "BTCUSDT", timing.Res1m, true, Query{})
	assert.True(t, IsUnavailable(err))
	assert.True(t, IsUnavailable(s.Ping(ctx)))
}
