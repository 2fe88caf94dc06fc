package broker

import (
	"github.com/rustyeddy/simbroker/internal/money"
	"github.com/rustyeddy/simbroker/market"
)

// CommissionRate charges max(PerQuant x quant, Minimum) for instruments whose
// attributes structurally match. Empty match attributes match anything.
type CommissionRate struct {
	Symbol       string  `json:"symbol,omitempty" yaml:"symbol,omitempty"`
	Market       string  `json:"market,omitempty" yaml:"market,omitempty"`
	Currency     string  `json:"currency,omitempty" yaml:"currency,omitempty"`
	SecurityType string  `json:"security_type,omitempty" yaml:"security_type,omitempty"`
	PerQuant     float64 `json:"per_quant" yaml:"per_quant"`
	Minimum      float64 `json:"minimum" yaml:"minimum"`
}

func (r CommissionRate) matches(c market.Contract) bool {
	match := func(want, got string) bool { return want == "" || want == got }
	return match(r.Symbol, c.Symbol) &&
		match(r.Market, c.Market) &&
		match(r.Currency, c.Currency) &&
		match(r.SecurityType, c.SecurityType)
}

// CommissionSchedule is an ordered rate list; the first structural match
// wins. No match charges nothing.
type CommissionSchedule []CommissionRate

func (s CommissionSchedule) Commission(c market.Contract, quant float64) money.Amount {
	for _, rate := range s {
		if !rate.matches(c) {
			continue
		}
		fee := money.FromFloat64(rate.PerQuant).MulFloat(quant)
		min := money.FromFloat64(rate.Minimum)
		if fee.Cmp(min) < 0 {
			return min
		}
		return fee
	}
	return money.Zero
}

// DefaultCommissions is a flat per-share equity schedule.
var DefaultCommissions = CommissionSchedule{
	{SecurityType: "STK", PerQuant: 0.005, Minimum: 1.00},
}
