package ta

import (
	"klinecollector/internal/rules"
	"klinecollector/pkg/window"
)

// Engulfing marks +100 where a bullish body engulfs the previous bearish body, -100 for the
// bearish mirror, 0 elsewhere. Inputs default to open, high, low, close.
func Engulfing(f *window.Frame, fields []window.Column, _ rules.Params) ([][]float64, error) {
	in, err := columns(f, fields, ohlc, 2)
	if err != nil {
		return nil, err
	}
	open, closes := in[0], in[3]

	out := make([]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		prevOpen, prevClose := open[i-1], closes[i-1]
		curOpen, curClose := open[i], closes[i]
		switch {
		case prevClose < prevOpen && curClose > curOpen &&
			curOpen <= prevClose && curClose >= prevOpen && (curOpen < prevClose || curClose > prevOpen):
			out[i] = 100
		case prevClose > prevOpen && curClose < curOpen &&
			curOpen >= prevClose && curClose <= prevOpen && (curOpen > prevClose || curClose < prevOpen):
			out[i] = -100
		}
	}
	return [][]float64{out}, nil
}
