// Package rules evaluates "latest value" conditions over a kline window, optionally through an
// indicator computation.
package rules

import (
	"errors"
	"fmt"
	"slices"

	"klinecollector/pkg/window"
)

// ErrUnboundData is returned when a rule is evaluated before a non-empty frame is bound.
var ErrUnboundData = errors.New("rule has no data bound")

// IndicatorFunc derives one or more series from a frame. Series may be shorter than the frame
// and may carry NaN or zero lookback padding at the front.
type IndicatorFunc func(f *window.Frame, fields []window.Column, p Params) ([][]float64, error)

// Rule is a late-bound handle on the latest value of a column or indicator output.
// The zero frame is a valid unbound state.
type Rule struct {
	frame  *window.Frame
	fields []window.Column
	fn     IndicatorFunc
	params Params
	output int
}

type Option func(*Rule)

func WithFrame(f *window.Frame) Option {
	return func(r *Rule) { r.frame = f }
}

// WithField selects a single active column.
func WithField(c window.Column) Option {
	return func(r *Rule) { r.fields = []window.Column{c} }
}

// WithFields selects an ordered list of columns for multi-column computations.
func WithFields(cs ...window.Column) Option {
	return func(r *Rule) { r.fields = slices.Clone(cs) }
}

func WithFunc(fn IndicatorFunc) Option {
	return func(r *Rule) { r.fn = fn }
}

func WithParams(p Params) Option {
	return func(r *Rule) { r.params = p.Clone() }
}

// WithOutput picks which series of a multi-output function Value reads.
func WithOutput(i int) Option {
	return func(r *Rule) { r.output = i }
}

// New builds a rule on the close column with the given options applied.
func New(opts ...Option) *Rule {
	r := &Rule{fields: []window.Column{window.Close}}
	return r.Bind(opts...)
}

// Bind replaces the slots named by opts and keeps the rest.
func (r *Rule) Bind(opts ...Option) *Rule {
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Rule) Frame() *window.Frame    { return r.frame }
func (r *Rule) Fields() []window.Column { return slices.Clone(r.fields) }
func (r *Rule) Params() Params          { return r.params.Clone() }
func (r *Rule) Output() int             { return r.output }
func (r *Rule) IsBound() bool           { return r.frame.Len() > 0 }

// Field is the primary active column.
func (r *Rule) Field() window.Column {
	if len(r.fields) == 0 {
		return window.Close
	}
	return r.fields[0]
}

// Series returns the full series Value reads from: the selected function output or the
// active column.
func (r *Rule) Series() ([]float64, error) {
	if !r.IsBound() {
		return nil, ErrUnboundData
	}
	if r.fn == nil {
		return r.frame.Floats(r.Field())
	}

	fields := r.fields
	if len(fields) == 0 {
		fields = []window.Column{window.Close}
	}
	outs, err := r.fn(r.frame, fields, r.params)
	if err != nil {
		return nil, fmt.Errorf("indicator: %w", err)
	}
	if r.output < 0 || r.output >= len(outs) {
		return nil, fmt.Errorf("indicator output %d out of range (%d series)", r.output, len(outs))
	}
	return outs[r.output], nil
}

// Value is the last element of Series.
func (r *Rule) Value() (float64, error) {
	s, err := r.Series()
	if err != nil {
		return 0, err
	}
	if len(s) == 0 {
		return 0, fmt.Errorf("indicator output %d is empty", r.output)
	}
	return s[len(s)-1], nil
}

// Bool is true when Value is nonzero, as with pattern detectors.
func (r *Rule) Bool() (bool, error) {
	v, err := r.Value()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

func (r *Rule) Lt(other Operand) (bool, error) { return r.Compare(LT, other) }
func (r *Rule) Le(other Operand) (bool, error) { return r.Compare(LE, other) }
func (r *Rule) Gt(other Operand) (bool, error) { return r.Compare(GT, other) }
func (r *Rule) Ge(other Operand) (bool, error) { return r.Compare(GE, other) }
func (r *Rule) Eq(other Operand) (bool, error) { return r.Compare(EQ, other) }
func (r *Rule) Ne(other Operand) (bool, error) { return r.Compare(NE, other) }

// Compare evaluates both sides once and applies op to the latest values.
func (r *Rule) Compare(op Op, other Operand) (bool, error) {
	if !r.IsBound() {
		return false, ErrUnboundData
	}
	lhs, err := r.Value()
	if err != nil {
		return false, err
	}
	rhs, err := other.Value()
	if err != nil {
		return false, err
	}
	return op.Apply(lhs, rhs)
}
