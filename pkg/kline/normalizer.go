package kline

import (
	"errors"
	"fmt"

	"klinecollector/pkg/timing"

	"github.com/spf13/cast"
)

// SourceKind names the column convention of a raw kline.
type SourceKind int

const (
	SourceRestBatch SourceKind = iota + 1
	SourceStreamTick
	SourcePersistedRow
)

func (k SourceKind) String() string {
	switch k {
	case SourceRestBatch:
		return "rest_batch"
	case SourceStreamTick:
		return "stream_tick"
	case SourcePersistedRow:
		return "persisted_row"
	}
	return "unknown"
}

// Raw is one undecoded kline. The concrete types below are the only implementations.
type Raw interface {
	Kind() SourceKind
}

// StreamTick is the "k" object of a websocket kline event, keyed by wire codes.
type StreamTick map[string]any

// RestRow is one row of the REST klines endpoint. The row carries no names; ticker and
// resolution come from the request that produced it.
type RestRow struct {
	Ticker     string
	Resolution timing.Resolution
	Values     []any
}

// PersistedRow is a durable-storage row keyed by canonical column names.
type PersistedRow struct {
	Ticker     string
	Resolution timing.Resolution
	Fields     map[string]any
}

func (StreamTick) Kind() SourceKind   { return SourceStreamTick }
func (RestRow) Kind() SourceKind      { return SourceRestBatch }
func (PersistedRow) Kind() SourceKind { return SourcePersistedRow }

// Canonical column names.
const (
	FieldTicker                   = "ticker"
	FieldResolution               = "interval"
	FieldOpenTime                 = "open_time"
	FieldCloseTime                = "close_time"
	FieldOpen                     = "open"
	FieldHigh                     = "high"
	FieldLow                      = "low"
	FieldClose                    = "close"
	FieldBaseAssetVolume          = "base_asset_volume"
	FieldQuoteAssetVolume         = "quote_asset_volume"
	FieldNumberOfTrades           = "number_of_trades"
	FieldTakerBuyBaseAssetVolume  = "taker_buy_base_asset_volume"
	FieldTakerBuyQuoteAssetVolume = "taker_buy_quote_asset_volume"
	FieldIsClosed                 = "is_kline_closed"
)

// StreamCodes maps canonical names to the exchange's websocket field codes.
var StreamCodes = map[string]string{
	FieldOpenTime:                 "t",
	FieldCloseTime:                "T",
	FieldTicker:                   "s",
	FieldResolution:               "i",
	FieldOpen:                     "o",
	FieldClose:                    "c",
	FieldHigh:                     "h",
	FieldLow:                      "l",
	FieldBaseAssetVolume:          "v",
	FieldNumberOfTrades:           "n",
	FieldIsClosed:                 "x",
	FieldQuoteAssetVolume:         "q",
	FieldTakerBuyBaseAssetVolume:  "V",
	FieldTakerBuyQuoteAssetVolume: "Q",
}

// RestColumns is the positional layout of a REST kline row. A trailing "ignore" column may follow.
var RestColumns = []string{
	FieldOpenTime,
	FieldOpen,
	FieldHigh,
	FieldLow,
	FieldClose,
	FieldBaseAssetVolume,
	FieldCloseTime,
	FieldQuoteAssetVolume,
	FieldNumberOfTrades,
	FieldTakerBuyBaseAssetVolume,
	FieldTakerBuyQuoteAssetVolume,
}

var errMissing = errors.New("missing")

// Normalize converts any supported raw kline into a Record.
func Normalize(raw Raw) (Record, error) {
	switch r := raw.(type) {
	case StreamTick:
		return normalizeStream(r)
	case RestRow:
		cols := make(map[string]any, len(RestColumns))
		for i, name := range RestColumns {
			if i < len(r.Values) {
				cols[name] = r.Values[i]
			}
		}
		return build(SourceRestBatch, r.Ticker, string(r.Resolution), true, lookup(cols))
	case PersistedRow:
		return build(SourcePersistedRow, r.Ticker, string(r.Resolution), true, lookup(r.Fields))
	case nil:
		return Record{}, &MalformedRecordError{Field: "", Err: errors.New("nil raw record")}
	}
	return Record{}, &MalformedRecordError{Kind: raw.Kind(), Err: fmt.Errorf("unsupported raw type %T", raw)}
}

// NormalizeBatch normalizes every raw row, failing on the first malformed one.
func NormalizeBatch[R Raw](raws []R) ([]Record, error) {
	out := make([]Record, 0, len(raws))
	for i, raw := range raws {
		rec, err := Normalize(raw)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func normalizeStream(tick StreamTick) (Record, error) {
	get := func(name string) (any, bool) {
		v, ok := tick[StreamCodes[name]]
		return v, ok
	}

	ticker, ok := get(FieldTicker)
	if !ok {
		return Record{}, &MalformedRecordError{Kind: SourceStreamTick, Field: FieldTicker, Err: errMissing}
	}
	res, ok := get(FieldResolution)
	if !ok {
		return Record{}, &MalformedRecordError{Kind: SourceStreamTick, Field: FieldResolution, Err: errMissing}
	}
	closedRaw, ok := get(FieldIsClosed)
	if !ok {
		return Record{}, &MalformedRecordError{Kind: SourceStreamTick, Field: FieldIsClosed, Err: errMissing}
	}
	closed, err := cast.ToBoolE(closedRaw)
	if err != nil {
		return Record{}, &MalformedRecordError{Kind: SourceStreamTick, Field: FieldIsClosed, Err: err}
	}

	return build(SourceStreamTick, cast.ToString(ticker), cast.ToString(res), closed, get)
}

func lookup(m map[string]any) func(string) (any, bool) {
	return func(name string) (any, bool) {
		v, ok := m[name]
		return v, ok
	}
}

// build fills a Record from canonical-name lookups. Errors stop at the first bad field.
func build(kind SourceKind, ticker, res string, closed bool, get func(string) (any, bool)) (Record, error) {
	rec := Record{
		Ticker:   CanonicalTicker(ticker),
		IsClosed: closed,
	}
	if rec.Ticker == "" {
		return Record{}, &MalformedRecordError{Kind: kind, Field: FieldTicker, Err: errMissing}
	}
	r, err := timing.ParseResolution(res)
	if err != nil {
		return Record{}, &MalformedRecordError{Kind: kind, Field: FieldResolution, Err: err}
	}
	rec.Resolution = r

	p := parser{kind: kind, get: get}
	rec.OpenTime = p.int64(FieldOpenTime)
	rec.CloseTime = p.int64(FieldCloseTime)
	rec.Open = p.float64(FieldOpen)
	rec.High = p.float64(FieldHigh)
	rec.Low = p.float64(FieldLow)
	rec.Close = p.float64(FieldClose)
	rec.BaseAssetVolume = p.float64(FieldBaseAssetVolume)
	rec.QuoteAssetVolume = p.float64(FieldQuoteAssetVolume)
	rec.NumberOfTrades = p.int64(FieldNumberOfTrades)
	rec.TakerBuyBaseAssetVolume = p.float64(FieldTakerBuyBaseAssetVolume)
	rec.TakerBuyQuoteAssetVolume = p.float64(FieldTakerBuyQuoteAssetVolume)
	if p.err != nil {
		return Record{}, p.err
	}

	if !r.IsAligned(rec.OpenTime) {
		return Record{}, &MalformedRecordError{
			Kind:  kind,
			Field: FieldOpenTime,
			Err:   fmt.Errorf("%d is not aligned to %s", rec.OpenTime, r),
		}
	}
	return rec, nil
}

// parser coerces fields and keeps the first failure.
type parser struct {
	kind SourceKind
	get  func(string) (any, bool)
	err  error
}

func (p *parser) value(name string) (any, bool) {
	if p.err != nil {
		return nil, false
	}
	v, ok := p.get(name)
	if !ok || v == nil {
		p.err = &MalformedRecordError{Kind: p.kind, Field: name, Err: errMissing}
		return nil, false
	}
	return v, true
}

func (p *parser) float64(name string) float64 {
	v, ok := p.value(name)
	if !ok {
		return 0
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		p.err = &MalformedRecordError{Kind: p.kind, Field: name, Err: err}
	}
	return f
}

func (p *parser) int64(name string) int64 {
	v, ok := p.value(name)
	if !ok {
		return 0
	}
	n, err := cast.ToInt64E(v)
	if err != nil {
		// Integral floats arrive from JSON decoders without UseNumber.
		f, ferr := cast.ToFloat64E(v)
		if ferr != nil || f != float64(int64(f)) {
			p.err = &MalformedRecordError{Kind: p.kind, Field: name, Err: err}
			return 0
		}
		n = int64(f)
	}
	return n
}
