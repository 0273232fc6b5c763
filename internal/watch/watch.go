// Package watch evaluates configured rules against the closed log each time a kline closes.
package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"klinecollector/config"
	"klinecollector/internal/rules"
	"klinecollector/internal/streamstore"
	"klinecollector/internal/ta"
	"klinecollector/pkg/kline"
	"klinecollector/pkg/timing"
	"klinecollector/pkg/window"

	"go.uber.org/zap"
)

// Watch is a compiled WatchConfig.
type Watch struct {
	Name       string
	Ticker     string
	Resolution timing.Resolution
	Fields     []window.Column
	Func       rules.IndicatorFunc
	Params     rules.Params
	Output     int
	Op         rules.Op
	Threshold  rules.Literal
	Window     int
}

// Result is one evaluation of a watch.
type Result struct {
	Watch     string
	OpenTime  int64
	Value     float64
	Triggered bool
}

func Compile(cfgs []config.WatchConfig) ([]Watch, error) {
	out := make([]Watch, 0, len(cfgs))
	for i, c := range cfgs {
		name := c.Name
		if name == "" {
			name = fmt.Sprintf("watch-%d", i)
		}
		w := Watch{
			Name:      name,
			Ticker:    kline.CanonicalTicker(c.Ticker),
			Params:    rules.Params(c.Params),
			Output:    c.Output,
			Threshold: rules.Literal(c.Value),
			Window:    c.Window,
		}

		res, err := timing.ParseResolution(c.Resolution)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		w.Resolution = res

		for _, f := range c.Fields {
			col, err := window.ParseColumn(f)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			w.Fields = append(w.Fields, col)
		}

		if c.Indicator != "" {
			fn, ok := ta.Lookup(c.Indicator)
			if !ok {
				return nil, fmt.Errorf("%s: unknown indicator %q", name, c.Indicator)
			}
			if err := checkParams(fn, w.Fields, w.Params); err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			w.Func = fn
		}

		if w.Op, err = rules.ParseOp(c.Op); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out = append(out, w)
	}
	return out, nil
}

// checkParams dry-runs fn on an empty frame; only a short-window error is acceptable there.
func checkParams(fn rules.IndicatorFunc, fields []window.Column, p rules.Params) error {
	empty, err := window.FromRecords(nil)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		fields = []window.Column{window.Close}
	}
	if _, err := fn(empty, fields, p); err != nil && !errors.Is(err, ta.ErrShortWindow) {
		return err
	}
	return nil
}

// rule builds a fresh rule for one evaluation; rules are not shared across goroutines.
func (w Watch) rule(f *window.Frame) *rules.Rule {
	opts := []rules.Option{rules.WithFrame(f), rules.WithParams(w.Params), rules.WithOutput(w.Output)}
	if len(w.Fields) > 0 {
		opts = append(opts, rules.WithFields(w.Fields...))
	}
	if w.Func != nil {
		opts = append(opts, rules.WithFunc(w.Func))
	}
	return rules.New(opts...)
}

type subject struct {
	ticker string
	res    timing.Resolution
}

type Watcher struct {
	store   streamstore.Store
	watches map[subject][]Watch
	logger  *zap.Logger

	mu   sync.Mutex
	last map[string]Result
}

func New(store streamstore.Store, watches []Watch, logger *zap.Logger) *Watcher {
	byKey := make(map[subject][]Watch)
	for _, w := range watches {
		k := subject{w.Ticker, w.Resolution}
		byKey[k] = append(byKey[k], w)
	}
	return &Watcher{
		store:   store,
		watches: byKey,
		logger:  logger.Named("watch"),
		last:    make(map[string]Result),
	}
}

// OnClosed matches ingest.ClosedHook.
func (w *Watcher) OnClosed(ctx context.Context, rec kline.Record) {
	w.Evaluate(ctx, rec)
}

// Evaluate runs every watch on rec's ticker and resolution over the closed log.
func (w *Watcher) Evaluate(ctx context.Context, rec kline.Record) []Result {
	watches := w.watches[subject{rec.Ticker, rec.Resolution}]
	if len(watches) == 0 {
		return nil
	}

	results := make([]Result, 0, len(watches))
	for _, wt := range watches {
		res, ok := w.evaluate(ctx, wt, rec)
		if !ok {
			continue
		}
		results = append(results, res)
		w.mu.Lock()
		w.last[wt.Name] = res
		w.mu.Unlock()

		if res.Triggered {
			w.logger.Info("watch triggered",
				zap.String("watch", wt.Name),
				zap.String("ticker", wt.Ticker),
				zap.String("resolution", wt.Resolution.String()),
				zap.Int64("open_time", rec.OpenTime),
				zap.Float64("value", res.Value),
				zap.Stringer("op", wt.Op),
				zap.Float64("threshold", float64(wt.Threshold)),
			)
		}
	}
	return results
}

// evaluate runs one watch. It runs on the ingest path, so a panicking indicator is logged and
// skipped.
func (w *Watcher) evaluate(ctx context.Context, wt Watch, rec kline.Record) (res Result, ok bool) {
	defer func() {
		if p := recover(); p != nil {
			w.logger.Error("watch panicked", zap.String("watch", wt.Name), zap.Any("panic", p))
			res, ok = Result{}, false
		}
	}()

	recs, err := w.store.QueryRange(ctx, wt.Ticker, wt.Resolution, true, streamstore.Query{Limit: wt.Window})
	if err != nil {
		w.logger.Warn("failed to load window", zap.String("watch", wt.Name), zap.Error(err))
		return Result{}, false
	}
	frame, err := window.FromRecords(window.Chronological(recs))
	if err != nil {
		w.logger.Warn("failed to build frame", zap.String("watch", wt.Name), zap.Error(err))
		return Result{}, false
	}

	v, err := wt.rule(frame).Value()
	if err != nil {
		if errors.Is(err, rules.ErrUnboundData) || errors.Is(err, ta.ErrShortWindow) {
			w.logger.Debug("watch waiting for data", zap.String("watch", wt.Name), zap.Int("rows", frame.Len()))
		} else {
			w.logger.Warn("watch evaluation failed", zap.String("watch", wt.Name), zap.Error(err))
		}
		return Result{}, false
	}
	hit, err := wt.Op.Apply(v, float64(wt.Threshold))
	if err != nil {
		w.logger.Warn("watch evaluation failed", zap.String("watch", wt.Name), zap.Error(err))
		return Result{}, false
	}
	return Result{Watch: wt.Name, OpenTime: rec.OpenTime, Value: v, Triggered: hit}, true
}

// Last returns the latest result of every watch evaluated so far.
func (w *Watcher) Last() map[string]Result {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]Result, len(w.last))
	for k, v := range w.last {
		out[k] = v
	}
	return out
}
