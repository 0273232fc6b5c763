// Package ta adapts go-talib indicators to rules.IndicatorFunc.
package ta

import (
	"errors"
	"fmt"
	"sort"

	"klinecollector/internal/rules"
	"klinecollector/pkg/window"

	"github.com/markcheno/go-talib"
)

var (
	// ErrShortWindow means the frame has fewer rows than the indicator's lookback needs.
	ErrShortWindow = errors.New("window shorter than indicator lookback")
	// ErrBadParam means a parameter is outside the range the computation accepts. Parameters are
	// checked before the window, so a dry run on an empty frame reports only ErrBadParam or
	// ErrShortWindow.
	ErrBadParam = errors.New("invalid indicator parameter")
)

var (
	hlc  = []window.Column{window.High, window.Low, window.Close}
	hlcv = []window.Column{window.High, window.Low, window.Close, window.BaseAssetVolume}
	ohlc = []window.Column{window.Open, window.High, window.Low, window.Close}
)

// columns resolves the inputs of an indicator: the caller's fields when they match the arity,
// otherwise the defaults.
func columns(f *window.Frame, fields []window.Column, defaults []window.Column, need int) ([][]float64, error) {
	use := defaults
	if len(fields) == len(defaults) {
		use = fields
	}
	if f.Len() < max(need, 1) {
		return nil, fmt.Errorf("%w: have %d rows, need %d", ErrShortWindow, f.Len(), need)
	}
	out := make([][]float64, len(use))
	for i, c := range use {
		vals, err := f.Floats(c)
		if err != nil {
			return nil, err
		}
		out[i] = vals
	}
	return out, nil
}

// single resolves the one input column of a single-series indicator.
func single(f *window.Frame, fields []window.Column, need int) ([]float64, error) {
	c := window.Close
	if len(fields) > 0 {
		c = fields[0]
	}
	in, err := columns(f, []window.Column{c}, []window.Column{c}, need)
	if err != nil {
		return nil, err
	}
	return in[0], nil
}

// intParam reads p[key], def when absent, and rejects values below floor.
func intParam(p rules.Params, key string, def, floor int) (int, error) {
	v := p.Int(key, def)
	if v < floor {
		return 0, fmt.Errorf("%w: %s=%d, must be at least %d", ErrBadParam, key, v, floor)
	}
	return v, nil
}

func maType(p rules.Params) (talib.MaType, error) {
	v := p.Int("ma_type", int(talib.SMA))
	if v < int(talib.SMA) || v > int(talib.T3MA) {
		return 0, fmt.Errorf("%w: ma_type=%d", ErrBadParam, v)
	}
	return talib.MaType(v), nil
}

// SMA params: period (30).
func SMA(f *window.Frame, fields []window.Column, p rules.Params) ([][]float64, error) {
	period, err := intParam(p, "period", 30, 2)
	if err != nil {
		return nil, err
	}
	in, err := single(f, fields, period)
	if err != nil {
		return nil, err
	}
	return [][]float64{talib.Sma(in, period)}, nil
}

// EMA params: period (30).
func EMA(f *window.Frame, fields []window.Column, p rules.Params) ([][]float64, error) {
	period, err := intParam(p, "period", 30, 2)
	if err != nil {
		return nil, err
	}
	in, err := single(f, fields, period)
	if err != nil {
		return nil, err
	}
	return [][]float64{talib.Ema(in, period)}, nil
}

// Bollinger returns upper, middle and lower bands. Params: period (5), nbdevup (2),
// nbdevdn (2), ma_type (SMA).
func Bollinger(f *window.Frame, fields []window.Column, p rules.Params) ([][]float64, error) {
	period, err := intParam(p, "period", 5, 2)
	if err != nil {
		return nil, err
	}
	ma, err := maType(p)
	if err != nil {
		return nil, err
	}
	in, err := single(f, fields, period)
	if err != nil {
		return nil, err
	}
	upper, middle, lower := talib.BBands(in, period, p.Float("nbdevup", 2), p.Float("nbdevdn", 2), ma)
	return [][]float64{upper, middle, lower}, nil
}

// RSI params: period (14).
func RSI(f *window.Frame, fields []window.Column, p rules.Params) ([][]float64, error) {
	period, err := intParam(p, "period", 14, 2)
	if err != nil {
		return nil, err
	}
	in, err := single(f, fields, period+1)
	if err != nil {
		return nil, err
	}
	return [][]float64{talib.Rsi(in, period)}, nil
}

// MACD returns macd, signal and histogram. Params: fast (12), slow (26), signal (9).
func MACD(f *window.Frame, fields []window.Column, p rules.Params) ([][]float64, error) {
	fast, err := intParam(p, "fast", 12, 2)
	if err != nil {
		return nil, err
	}
	slow, err := intParam(p, "slow", 26, 2)
	if err != nil {
		return nil, err
	}
	signal, err := intParam(p, "signal", 9, 1)
	if err != nil {
		return nil, err
	}
	in, err := single(f, fields, max(fast, slow)+signal-1)
	if err != nil {
		return nil, err
	}
	macd, sig, hist := talib.Macd(in, fast, slow, signal)
	return [][]float64{macd, sig, hist}, nil
}

// Stoch returns slow %K and %D over high, low, close. Params: fastk (5), slowk (3), slowd (3).
func Stoch(f *window.Frame, fields []window.Column, p rules.Params) ([][]float64, error) {
	fastK, err := intParam(p, "fastk", 5, 1)
	if err != nil {
		return nil, err
	}
	slowK, err := intParam(p, "slowk", 3, 1)
	if err != nil {
		return nil, err
	}
	slowD, err := intParam(p, "slowd", 3, 1)
	if err != nil {
		return nil, err
	}
	ma, err := maType(p)
	if err != nil {
		return nil, err
	}
	in, err := columns(f, fields, hlc, fastK+slowK+slowD)
	if err != nil {
		return nil, err
	}
	k, d := talib.Stoch(in[0], in[1], in[2], fastK, slowK, ma, slowD, ma)
	return [][]float64{k, d}, nil
}

// ADX params: period (14).
func ADX(f *window.Frame, fields []window.Column, p rules.Params) ([][]float64, error) {
	period, err := intParam(p, "period", 14, 2)
	if err != nil {
		return nil, err
	}
	in, err := columns(f, fields, hlc, 2*period)
	if err != nil {
		return nil, err
	}
	return [][]float64{talib.Adx(in[0], in[1], in[2], period)}, nil
}

// ATR params: period (14).
func ATR(f *window.Frame, fields []window.Column, p rules.Params) ([][]float64, error) {
	period, err := intParam(p, "period", 14, 1)
	if err != nil {
		return nil, err
	}
	in, err := columns(f, fields, hlc, period+1)
	if err != nil {
		return nil, err
	}
	return [][]float64{talib.Atr(in[0], in[1], in[2], period)}, nil
}

// MFI params: period (14). Inputs default to high, low, close, base volume.
func MFI(f *window.Frame, fields []window.Column, p rules.Params) ([][]float64, error) {
	period, err := intParam(p, "period", 14, 2)
	if err != nil {
		return nil, err
	}
	in, err := columns(f, fields, hlcv, period+1)
	if err != nil {
		return nil, err
	}
	return [][]float64{talib.Mfi(in[0], in[1], in[2], in[3], period)}, nil
}

// OBV runs over close and base volume.
func OBV(f *window.Frame, fields []window.Column, _ rules.Params) ([][]float64, error) {
	in, err := columns(f, fields, []window.Column{window.Close, window.BaseAssetVolume}, 1)
	if err != nil {
		return nil, err
	}
	return [][]float64{talib.Obv(in[0], in[1])}, nil
}

// ChaikinAD is the accumulation/distribution line.
func ChaikinAD(f *window.Frame, fields []window.Column, _ rules.Params) ([][]float64, error) {
	in, err := columns(f, fields, hlcv, 1)
	if err != nil {
		return nil, err
	}
	return [][]float64{talib.Ad(in[0], in[1], in[2], in[3])}, nil
}

// ChaikinOsc params: fast (3), slow (10).
func ChaikinOsc(f *window.Frame, fields []window.Column, p rules.Params) ([][]float64, error) {
	fast, err := intParam(p, "fast", 3, 2)
	if err != nil {
		return nil, err
	}
	slow, err := intParam(p, "slow", 10, 2)
	if err != nil {
		return nil, err
	}
	in, err := columns(f, fields, hlcv, max(fast, slow))
	if err != nil {
		return nil, err
	}
	return [][]float64{talib.AdOsc(in[0], in[1], in[2], in[3], fast, slow)}, nil
}

const hilbertLookback = 64

// HTSine returns the Hilbert transform sine and lead-sine.
func HTSine(f *window.Frame, fields []window.Column, _ rules.Params) ([][]float64, error) {
	in, err := single(f, fields, hilbertLookback)
	if err != nil {
		return nil, err
	}
	sine, lead := talib.HtSine(in)
	return [][]float64{sine, lead}, nil
}

// HTTrendMode is 1 in a trend, 0 in a cycle.
func HTTrendMode(f *window.Frame, fields []window.Column, _ rules.Params) ([][]float64, error) {
	in, err := single(f, fields, hilbertLookback)
	if err != nil {
		return nil, err
	}
	return [][]float64{talib.HtTrendMode(in)}, nil
}

var registry = map[string]rules.IndicatorFunc{
	"sma":          SMA,
	"ema":          EMA,
	"bbands":       Bollinger,
	"rsi":          RSI,
	"macd":         MACD,
	"stoch":        Stoch,
	"adx":          ADX,
	"atr":          ATR,
	"mfi":          MFI,
	"obv":          OBV,
	"ad":           ChaikinAD,
	"adosc":        ChaikinOsc,
	"ht_sine":      HTSine,
	"ht_trendmode": HTTrendMode,
	"engulfing":    Engulfing,
}

// Lookup finds an indicator by its lowercase name.
func Lookup(name string) (rules.IndicatorFunc, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// Names lists the registered indicators, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
