// Package window exposes an ordered run of klines as typed columns for numeric work.
package window

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"klinecollector/pkg/kline"
)

// Column names a numeric kline field.
type Column string

const (
	OpenTime                 Column = "open_time"
	CloseTime                Column = "close_time"
	Open                     Column = "open"
	High                     Column = "high"
	Low                      Column = "low"
	Close                    Column = "close"
	BaseAssetVolume          Column = "base_asset_volume"
	QuoteAssetVolume         Column = "quote_asset_volume"
	NumberOfTrades           Column = "number_of_trades"
	TakerBuyBaseAssetVolume  Column = "taker_buy_base_asset_volume"
	TakerBuyQuoteAssetVolume Column = "taker_buy_quote_asset_volume"
)

// AllColumns is the default column set, in record order.
var AllColumns = []Column{
	OpenTime, CloseTime, Open, High, Low, Close,
	BaseAssetVolume, QuoteAssetVolume, NumberOfTrades,
	TakerBuyBaseAssetVolume, TakerBuyQuoteAssetVolume,
}

var ErrUnknownColumn = errors.New("unknown column")

type extractor struct {
	isInt bool
	f     func(kline.Record) float64
	i     func(kline.Record) int64
}

var extractors = map[Column]extractor{
	OpenTime:                 {isInt: true, i: func(r kline.Record) int64 { return r.OpenTime }},
	CloseTime:                {isInt: true, i: func(r kline.Record) int64 { return r.CloseTime }},
	NumberOfTrades:           {isInt: true, i: func(r kline.Record) int64 { return r.NumberOfTrades }},
	Open:                     {f: func(r kline.Record) float64 { return r.Open }},
	High:                     {f: func(r kline.Record) float64 { return r.High }},
	Low:                      {f: func(r kline.Record) float64 { return r.Low }},
	Close:                    {f: func(r kline.Record) float64 { return r.Close }},
	BaseAssetVolume:          {f: func(r kline.Record) float64 { return r.BaseAssetVolume }},
	QuoteAssetVolume:         {f: func(r kline.Record) float64 { return r.QuoteAssetVolume }},
	TakerBuyBaseAssetVolume:  {f: func(r kline.Record) float64 { return r.TakerBuyBaseAssetVolume }},
	TakerBuyQuoteAssetVolume: {f: func(r kline.Record) float64 { return r.TakerBuyQuoteAssetVolume }},
}

// ParseColumn validates a column name.
func ParseColumn(s string) (Column, error) {
	c := Column(s)
	if _, ok := extractors[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownColumn, s)
	}
	return c, nil
}

// IsInt reports whether c is stored as int64.
func (c Column) IsInt() bool { return extractors[c].isInt }

// Frame is a read-only columnar view over klines. Row i of every column comes from the same record.
type Frame struct {
	length int
	cols   []Column
	floats map[Column][]float64
	ints   map[Column][]int64
}

// FromRecords builds a frame in the records' order. With no columns, every numeric column is kept.
func FromRecords(recs []kline.Record, cols ...Column) (*Frame, error) {
	if len(cols) == 0 {
		cols = AllColumns
	}
	f := &Frame{
		length: len(recs),
		floats: make(map[Column][]float64),
		ints:   make(map[Column][]int64),
	}
	for _, c := range cols {
		ex, ok := extractors[c]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, c)
		}
		if slices.Contains(f.cols, c) {
			continue
		}
		f.cols = append(f.cols, c)
		if ex.isInt {
			vals := make([]int64, len(recs))
			for i, r := range recs {
				vals[i] = ex.i(r)
			}
			f.ints[c] = vals
			continue
		}
		vals := make([]float64, len(recs))
		for i, r := range recs {
			vals[i] = ex.f(r)
		}
		f.floats[c] = vals
	}
	return f, nil
}

// Chronological returns an oldest-first copy of recs, e.g. of a most-recent-first store query.
func Chronological(recs []kline.Record) []kline.Record {
	out := slices.Clone(recs)
	slices.SortStableFunc(out, func(a, b kline.Record) int { return cmp.Compare(a.OpenTime, b.OpenTime) })
	return out
}

// Len is the number of rows; a nil frame has none.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return f.length
}

// Columns lists the frame's columns in construction order.
func (f *Frame) Columns() []Column {
	if f == nil {
		return nil
	}
	return slices.Clone(f.cols)
}

func (f *Frame) Has(c Column) bool {
	return f != nil && slices.Contains(f.cols, c)
}

// Floats returns a copy of c as float64; int columns are converted.
func (f *Frame) Floats(c Column) ([]float64, error) {
	if !f.Has(c) {
		return nil, fmt.Errorf("%w: %q not in frame", ErrUnknownColumn, c)
	}
	if vals, ok := f.floats[c]; ok {
		return slices.Clone(vals), nil
	}
	ints := f.ints[c]
	out := make([]float64, len(ints))
	for i, v := range ints {
		out[i] = float64(v)
	}
	return out, nil
}

// Ints returns a copy of an int column.
func (f *Frame) Ints(c Column) ([]int64, error) {
	if !f.Has(c) {
		return nil, fmt.Errorf("%w: %q not in frame", ErrUnknownColumn, c)
	}
	vals, ok := f.ints[c]
	if !ok {
		return nil, fmt.Errorf("column %q is not an int column", c)
	}
	return slices.Clone(vals), nil
}

// Last returns the final value of c, false when the frame is empty or lacks c.
func (f *Frame) Last(c Column) (float64, bool) {
	if f.Len() == 0 || !f.Has(c) {
		return 0, false
	}
	if vals, ok := f.floats[c]; ok {
		return vals[len(vals)-1], true
	}
	vals := f.ints[c]
	return float64(vals[len(vals)-1]), true
}
