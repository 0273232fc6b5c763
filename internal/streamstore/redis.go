package streamstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"klinecollector/config"
	"klinecollector/pkg/kline"
	"klinecollector/pkg/timing"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Each log is a sorted set scored by open time; members are the JSON-encoded records.
//
// KEYS[1] log key
// ARGV[1] 1 for closed, 0 for open
// ARGV[2] trim threshold, ARGV[3] maxlen
// ARGV[4..] (open_time, record) pairs
var appendScript = redis.NewScript(`
local closed = ARGV[1] == "1"
local threshold = tonumber(ARGV[2])
local maxlen = tonumber(ARGV[3])
local added = 0
for i = 4, #ARGV, 2 do
	local score = ARGV[i]
	local present = redis.call("ZCOUNT", KEYS[1], score, score)
	if present == 0 then
		redis.call("ZADD", KEYS[1], score, ARGV[i + 1])
		added = added + 1
	elseif not closed then
		redis.call("ZREMRANGEBYSCORE", KEYS[1], score, score)
		redis.call("ZADD", KEYS[1], score, ARGV[i + 1])
	end
end
if redis.call("ZCARD", KEYS[1]) > threshold then
	redis.call("ZREMRANGEBYRANK", KEYS[1], 0, -(maxlen + 1))
end
return added
`)

const keyPattern = "*@kline_*:*"

// RedisStore is a Store shared across processes through Redis.
type RedisStore struct {
	rdb       redis.UniversalClient
	retention Retention
	logger    *zap.Logger
}

func NewRedisStore(rdb redis.UniversalClient, retention Retention, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		rdb:       rdb,
		retention: retention,
		logger:    logger.Named("redis-store"),
	}
}

// DialRedis opens a client from config and verifies it answers PING.
func DialRedis(ctx context.Context, cfg config.RedisConfig, env string) (*redis.Client, error) {
	rdb := redis.NewClient(cfg.Options(env))
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, &StorageUnavailableError{Backend: "redis", Op: "dial", Err: err}
	}
	return rdb, nil
}

func (s *RedisStore) fail(op string, k Key, err error) error {
	s.logger.Warn("redis operation failed", zap.String("op", op), zap.String("key", k.String()), zap.Error(err))
	return &StorageUnavailableError{Backend: "redis", Op: op, Err: err}
}

func (s *RedisStore) Append(ctx context.Context, ticker string, res timing.Resolution, rec kline.Record, closed bool) error {
	return s.AppendBatch(ctx, ticker, res, []kline.Record{rec}, closed)
}

func (s *RedisStore) AppendBatch(ctx context.Context, ticker string, res timing.Resolution, recs []kline.Record, closed bool) error {
	k, err := NewKey(ticker, res, closed)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return nil
	}

	maxLen := s.retention.MaxLen(res, closed)
	args := make([]any, 0, 3+2*len(recs))
	flag := "0"
	if closed {
		flag = "1"
	}
	args = append(args, flag, trimThreshold(maxLen), maxLen)
	for _, rec := range recs {
		b, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode kline %d: %w", rec.OpenTime, err)
		}
		args = append(args, rec.OpenTime, string(b))
	}

	added, err := appendScript.Run(ctx, s.rdb, []string{k.String()}, args...).Int64()
	if err != nil {
		return s.fail("append", k, err)
	}
	s.logger.Debug("appended klines",
		zap.String("key", k.String()),
		zap.Int("batch", len(recs)),
		zap.Int64("added", added),
	)
	return nil
}

func rangeArg(b Bound, unbounded string) string {
	if !b.bounded {
		return unbounded
	}
	return strconv.FormatInt(b.ms, 10)
}

func (s *RedisStore) QueryRange(ctx context.Context, ticker string, res timing.Resolution, closed bool, q Query) ([]kline.Record, error) {
	k, err := readKey(ticker, res, closed)
	if err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = s.retention.MaxLen(res, k.Closed)
	}

	members, err := s.rdb.ZRevRangeByScore(ctx, k.String(), &redis.ZRangeBy{
		Min:   rangeArg(q.Min, "-inf"),
		Max:   rangeArg(q.Max, "+inf"),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, s.fail("query", k, err)
	}

	out := make([]kline.Record, 0, len(members))
	for _, m := range members {
		var rec kline.Record
		if err := json.Unmarshal([]byte(m), &rec); err != nil {
			return nil, fmt.Errorf("decode member of %s: %w", k, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *RedisStore) Exists(ctx context.Context, ticker string, res timing.Resolution, closed bool) (bool, error) {
	k, err := readKey(ticker, res, closed)
	if err != nil {
		return false, err
	}
	n, err := s.rdb.Exists(ctx, k.String()).Result()
	if err != nil {
		return false, s.fail("exists", k, err)
	}
	return n > 0, nil
}

func (s *RedisStore) Describe(ctx context.Context, ticker string, res timing.Resolution, closed bool) (Meta, error) {
	k, err := readKey(ticker, res, closed)
	if err != nil {
		return Meta{}, err
	}

	pipe := s.rdb.Pipeline()
	card := pipe.ZCard(ctx, k.String())
	first := pipe.ZRangeWithScores(ctx, k.String(), 0, 0)
	last := pipe.ZRangeWithScores(ctx, k.String(), -1, -1)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Meta{}, s.fail("describe", k, err)
	}
	if card.Val() == 0 || len(first.Val()) == 0 || len(last.Val()) == 0 {
		return Meta{}, ErrNotFound
	}
	return Meta{
		Key:           k,
		Length:        int(card.Val()),
		FirstOpenTime: int64(first.Val()[0].Score),
		LastOpenTime:  int64(last.Val()[0].Score),
	}, nil
}

func (s *RedisStore) Delete(ctx context.Context, ticker string, res timing.Resolution, closed bool) error {
	k, err := NewKey(ticker, res, closed)
	if err != nil {
		return err
	}
	if err := s.rdb.Del(ctx, k.String()).Err(); err != nil {
		return s.fail("delete", k, err)
	}
	return nil
}

func (s *RedisStore) TrimTo(ctx context.Context, ticker string, res timing.Resolution, closed bool, keepLast int) error {
	k, err := NewKey(ticker, res, closed)
	if err != nil {
		return err
	}
	if keepLast <= 0 {
		return s.Delete(ctx, ticker, res, closed)
	}
	if err := s.rdb.ZRemRangeByRank(ctx, k.String(), 0, -int64(keepLast+1)).Err(); err != nil {
		return s.fail("trim", k, err)
	}
	return nil
}

// Flush removes every kline log, leaving unrelated keys alone.
func (s *RedisStore) Flush(ctx context.Context) error {
	var removed int
	iter := s.rdb.Scan(ctx, 0, keyPattern, 500).Iterator()
	for iter.Next(ctx) {
		if _, err := ParseKey(iter.Val()); err != nil {
			continue
		}
		if err := s.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return &StorageUnavailableError{Backend: "redis", Op: "flush", Err: err}
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return &StorageUnavailableError{Backend: "redis", Op: "flush", Err: err}
	}
	s.logger.Info("flushed kline logs", zap.Int("keys", removed))
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return &StorageUnavailableError{Backend: "redis", Op: "ping", Err: err}
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
