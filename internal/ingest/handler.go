package ingest

import (
	"context"
	"sync/atomic"
	"time"

	"klinecollector/internal/streamstore"
	"klinecollector/pkg/kline"
	"klinecollector/pkg/timing"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Persister stores closed klines durably.
type Persister interface {
	InsertKlines(ctx context.Context, ticker string, res timing.Resolution, recs []kline.Record) (int64, error)
}

// ClosedHook runs after a closed kline has been stored.
type ClosedHook func(ctx context.Context, rec kline.Record)

// Stats counts handled messages since start.
type Stats struct {
	Received  int64
	Stored    int64
	Persisted int64
	Dropped   int64
	Ignored   int64
	Errors    int64
}

// Handler turns websocket frames into store appends. A bad frame is logged and dropped;
// nothing here ever stops the connection.
type Handler struct {
	store   streamstore.Store
	persist Persister
	hooks   []ClosedHook
	timeout time.Duration
	logger  *zap.Logger

	received, stored, persisted, dropped, ignored, errs atomic.Int64
}

type Option func(*Handler)

// WithPersister also writes closed klines to durable storage.
func WithPersister(p Persister) Option {
	return func(h *Handler) { h.persist = p }
}

func WithClosedHook(hook ClosedHook) Option {
	return func(h *Handler) { h.hooks = append(h.hooks, hook) }
}

// WithTimeout bounds the storage calls of one message.
func WithTimeout(d time.Duration) Option {
	return func(h *Handler) { h.timeout = d }
}

func NewHandler(store streamstore.Store, logger *zap.Logger, opts ...Option) *Handler {
	h := &Handler{
		store:   store,
		timeout: 5 * time.Second,
		logger:  logger.Named("ingest"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// extractTick finds the kline object of a combined ("data.k") or single-stream ("k") event.
func extractTick(msg []byte) (gjson.Result, bool) {
	if k := gjson.GetBytes(msg, "data.k"); k.IsObject() {
		return k, true
	}
	if k := gjson.GetBytes(msg, "k"); k.IsObject() {
		return k, true
	}
	return gjson.Result{}, false
}

// OnMessage processes one frame to completion.
func (h *Handler) OnMessage(msg []byte) {
	h.received.Add(1)

	if !gjson.ValidBytes(msg) {
		h.dropped.Add(1)
		h.logger.Warn("dropping invalid JSON frame", zap.Int("bytes", len(msg)))
		return
	}
	k, ok := extractTick(msg)
	if !ok {
		// subscription acks and other non-kline events
		h.ignored.Add(1)
		return
	}
	fields, ok := k.Value().(map[string]any)
	if !ok {
		h.dropped.Add(1)
		h.logger.Warn("dropping kline frame with unexpected shape")
		return
	}

	rec, err := kline.Normalize(kline.StreamTick(fields))
	if err != nil {
		h.dropped.Add(1)
		h.logger.Warn("failed to normalize kline", zap.String("stream", gjson.GetBytes(msg, "stream").String()), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := h.store.Append(ctx, rec.Ticker, rec.Resolution, rec, rec.IsClosed); err != nil {
		h.dropped.Add(1)
		h.logger.Warn("failed to append kline",
			zap.String("ticker", rec.Ticker),
			zap.String("resolution", rec.Resolution.String()),
			zap.Int64("open_time", rec.OpenTime),
			zap.Error(err),
		)
		return
	}
	h.stored.Add(1)

	if !rec.IsClosed {
		return
	}
	if h.persist != nil {
		n, err := h.persist.InsertKlines(ctx, rec.Ticker, rec.Resolution, []kline.Record{rec})
		if err != nil {
			h.logger.Warn("failed to persist closed kline",
				zap.String("ticker", rec.Ticker),
				zap.String("resolution", rec.Resolution.String()),
				zap.Error(err),
			)
		} else {
			h.persisted.Add(n)
		}
	}
	for _, hook := range h.hooks {
		hook(ctx, rec)
	}
}

// OnError records a transport error; the client reconnects on its own.
func (h *Handler) OnError(err error) {
	h.errs.Add(1)
	h.logger.Warn("stream error", zap.Error(err))
}

func (h *Handler) Stats() Stats {
	return Stats{
		Received:  h.received.Load(),
		Stored:    h.stored.Load(),
		Persisted: h.persisted.Load(),
		Dropped:   h.dropped.Load(),
		Ignored:   h.ignored.Load(),
		Errors:    h.errs.Load(),
	}
}
