package streamstore

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"klinecollector/pkg/kline"
	"klinecollector/pkg/timing"
)

// MemoryStore is an in-process Store. Writers lock a single key; readers load an immutable
// snapshot and never block on writers.
type MemoryStore struct {
	globalMu  sync.RWMutex
	data      map[Key]*keyLog
	retention Retention
	closed    atomic.Bool
}

type keyLog struct {
	mu   sync.Mutex
	snap atomic.Pointer[[]kline.Record] // ascending by OpenTime, never mutated once published
	dead bool                           // unlinked by Delete or Flush; guarded by mu
}

func (l *keyLog) load() []kline.Record {
	if p := l.snap.Load(); p != nil {
		return *p
	}
	return nil
}

func NewMemoryStore(retention Retention) *MemoryStore {
	return &MemoryStore{
		data:      make(map[Key]*keyLog),
		retention: retention,
	}
}

func (s *MemoryStore) unavailable(op string) error {
	if s.closed.Load() {
		return &StorageUnavailableError{Backend: "memory", Op: op, Err: ErrClosed}
	}
	return nil
}

func (s *MemoryStore) lookup(k Key) (*keyLog, bool) {
	s.globalMu.RLock()
	l, ok := s.data[k]
	s.globalMu.RUnlock()
	return l, ok
}

func (s *MemoryStore) getOrCreate(k Key) *keyLog {
	// Fast path: most appends hit an existing key
	if l, ok := s.lookup(k); ok {
		return l
	}
	s.globalMu.Lock()
	defer s.globalMu.Unlock()
	l, ok := s.data[k]
	if !ok {
		l = &keyLog{}
		s.data[k] = l
	}
	return l
}

func (s *MemoryStore) Append(ctx context.Context, ticker string, res timing.Resolution, rec kline.Record, closed bool) error {
	return s.AppendBatch(ctx, ticker, res, []kline.Record{rec}, closed)
}

func (s *MemoryStore) AppendBatch(_ context.Context, ticker string, res timing.Resolution, recs []kline.Record, closed bool) error {
	k, err := NewKey(ticker, res, closed)
	if err != nil {
		return err
	}
	if err := s.unavailable("append"); err != nil {
		return err
	}
	if len(recs) == 0 {
		return nil
	}

	maxLen := s.retention.MaxLen(res, closed)
	// A log unlinked between lookup and lock is retried against the live one.
	for {
		if s.appendTo(s.getOrCreate(k), recs, closed, maxLen) {
			return nil
		}
	}
}

// appendTo writes recs into l and reports false, without writing, when l has been unlinked.
func (s *MemoryStore) appendTo(l *keyLog, recs []kline.Record, closed bool, maxLen int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dead {
		return false
	}

	cur := l.load()
	next := make([]kline.Record, len(cur), len(cur)+len(recs))
	copy(next, cur)
	for _, rec := range recs {
		next = upsert(next, rec, closed)
	}
	if len(next) > trimThreshold(maxLen) {
		next = slices.Clone(next[len(next)-maxLen:])
	}
	l.snap.Store(&next)
	return true
}

// unlink marks logs removed from the map so in-flight writers retry on a fresh log.
func unlink(logs ...*keyLog) {
	for _, l := range logs {
		l.mu.Lock()
		l.dead = true
		l.mu.Unlock()
	}
}

// upsert places rec by open time. An existing entry is replaced in an open log and kept in a closed one.
func upsert(recs []kline.Record, rec kline.Record, closed bool) []kline.Record {
	i, found := slices.BinarySearchFunc(recs, rec.OpenTime, func(r kline.Record, t int64) int {
		switch {
		case r.OpenTime < t:
			return -1
		case r.OpenTime > t:
			return 1
		}
		return 0
	})
	if found {
		if !closed {
			recs[i] = rec
		}
		return recs
	}
	return slices.Insert(recs, i, rec)
}

func (s *MemoryStore) QueryRange(_ context.Context, ticker string, res timing.Resolution, closed bool, q Query) ([]kline.Record, error) {
	k, err := readKey(ticker, res, closed)
	if err != nil {
		return nil, err
	}
	if err := s.unavailable("query"); err != nil {
		return nil, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = s.retention.MaxLen(res, k.Closed)
	}

	out := make([]kline.Record, 0)
	l, ok := s.lookup(k)
	if !ok {
		return out, nil
	}
	snap := l.load()
	for i := len(snap) - 1; i >= 0 && len(out) < limit; i-- {
		if q.contains(snap[i].OpenTime) {
			out = append(out, snap[i])
		}
	}
	return out, nil
}

func (s *MemoryStore) Exists(_ context.Context, ticker string, res timing.Resolution, closed bool) (bool, error) {
	k, err := readKey(ticker, res, closed)
	if err != nil {
		return false, err
	}
	if err := s.unavailable("exists"); err != nil {
		return false, err
	}
	l, ok := s.lookup(k)
	return ok && len(l.load()) > 0, nil
}

func (s *MemoryStore) Describe(_ context.Context, ticker string, res timing.Resolution, closed bool) (Meta, error) {
	k, err := readKey(ticker, res, closed)
	if err != nil {
		return Meta{}, err
	}
	if err := s.unavailable("describe"); err != nil {
		return Meta{}, err
	}
	l, ok := s.lookup(k)
	if !ok {
		return Meta{}, ErrNotFound
	}
	snap := l.load()
	if len(snap) == 0 {
		return Meta{}, ErrNotFound
	}
	return Meta{
		Key:           k,
		Length:        len(snap),
		FirstOpenTime: snap[0].OpenTime,
		LastOpenTime:  snap[len(snap)-1].OpenTime,
	}, nil
}

func (s *MemoryStore) Delete(_ context.Context, ticker string, res timing.Resolution, closed bool) error {
	k, err := NewKey(ticker, res, closed)
	if err != nil {
		return err
	}
	if err := s.unavailable("delete"); err != nil {
		return err
	}
	s.globalMu.Lock()
	l, ok := s.data[k]
	delete(s.data, k)
	s.globalMu.Unlock()
	if ok {
		unlink(l)
	}
	return nil
}

func (s *MemoryStore) TrimTo(_ context.Context, ticker string, res timing.Resolution, closed bool, keepLast int) error {
	k, err := NewKey(ticker, res, closed)
	if err != nil {
		return err
	}
	if err := s.unavailable("trim"); err != nil {
		return err
	}
	l, ok := s.lookup(k)
	if !ok {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	cur := l.load()
	if keepLast < 0 {
		keepLast = 0
	}
	if len(cur) <= keepLast {
		return nil
	}
	next := slices.Clone(cur[len(cur)-keepLast:])
	l.snap.Store(&next)
	return nil
}

func (s *MemoryStore) Flush(context.Context) error {
	if err := s.unavailable("flush"); err != nil {
		return err
	}
	s.globalMu.Lock()
	old := s.data
	s.data = make(map[Key]*keyLog)
	s.globalMu.Unlock()

	for _, l := range old {
		unlink(l)
	}
	return nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return s.unavailable("ping")
}

func (s *MemoryStore) Close() error {
	s.closed.Store(true)
	return nil
}
