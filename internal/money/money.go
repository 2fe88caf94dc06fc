// Package money provides exact cash arithmetic for the brokerage ledgers.
//
// Amount is a thin wrapper around decimal that panics on arithmetic errors.
// Ledger math works on small, well-scaled figures, so an error here means a
// programming bug rather than a recoverable condition.
package money

import (
	"github.com/govalues/decimal"
)

type Amount struct {
	v decimal.Decimal
}

var Zero = Amount{}

func New(value int64, scale int) Amount {
	return Amount{must(decimal.New(value, scale))}
}

func FromFloat64(value float64) Amount {
	return Amount{must(decimal.NewFromFloat64(value))}
}

func Parse(s string) (Amount, error) {
	d, err := decimal.Parse(s)
	if err != nil {
		return Zero, err
	}
	return Amount{d}, nil
}

func (a Amount) Add(o Amount) Amount { return Amount{must(a.v.Add(o.v))} }
func (a Amount) Sub(o Amount) Amount { return Amount{must(a.v.Sub(o.v))} }
func (a Amount) Mul(o Amount) Amount { return Amount{must(a.v.Mul(o.v))} }
func (a Amount) Div(o Amount) Amount { return Amount{must(a.v.Quo(o.v))} }
func (a Amount) Neg() Amount         { return Amount{a.v.Neg()} }
func (a Amount) Abs() Amount         { return Amount{a.v.Abs()} }

// MulFloat scales the amount by a float factor, e.g. a price or a quantity.
func (a Amount) MulFloat(f float64) Amount { return a.Mul(FromFloat64(f)) }

func (a Amount) Cmp(o Amount) int    { return a.v.Cmp(o.v) }
func (a Amount) Equal(o Amount) bool { return a.v.Cmp(o.v) == 0 }
func (a Amount) IsZero() bool        { return a.v.IsZero() }
func (a Amount) Sign() int           { return a.v.Sign() }

func (a Amount) Float64() float64 {
	f, _ := a.v.Float64()
	return f
}

func (a Amount) String() string { return a.v.String() }

// MarshalJSON emits the amount as a plain JSON number so ledger records stay
// readable and lossless.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.v.String()), nil
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	d, err := decimal.Parse(s)
	if err != nil {
		return err
	}
	a.v = d
	return nil
}

func must(v decimal.Decimal, err error) decimal.Decimal {
	if err != nil {
		panic(err)
	}
	return v
}
