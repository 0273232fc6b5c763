package rules

import "fmt"

// Operand is anything a rule can be compared against: a Literal or another *Rule.
type Operand interface {
	Value() (float64, error)
}

// Literal is a constant operand.
type Literal float64

func (l Literal) Value() (float64, error) { return float64(l), nil }

// Op is a comparison operator.
type Op int

const (
	LT Op = iota
	LE
	GT
	GE
	EQ
	NE
)

var opSymbols = map[Op]string{LT: "<", LE: "<=", GT: ">", GE: ">=", EQ: "==", NE: "!="}

func (o Op) String() string {
	if s, ok := opSymbols[o]; ok {
		return s
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

// ParseOp accepts the symbolic form of an operator.
func ParseOp(s string) (Op, error) {
	for op, sym := range opSymbols {
		if sym == s {
			return op, nil
		}
	}
	return 0, fmt.Errorf("unknown comparison operator %q", s)
}

// Apply compares a against b.
func (o Op) Apply(a, b float64) (bool, error) {
	switch o {
	case LT:
		return a < b, nil
	case LE:
		return a <= b, nil
	case GT:
		return a > b, nil
	case GE:
		return a >= b, nil
	case EQ:
		return a == b, nil
	case NE:
		return a != b, nil
	}
	return false, fmt.Errorf("unknown comparison operator %v", o)
}
