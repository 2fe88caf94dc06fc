package broker

import (
	"time"

	"github.com/rustyeddy/simbroker/internal/money"
	"github.com/rustyeddy/simbroker/market"
)

// Position is a per-instrument snapshot appended at each bar with activity:
// a trade, a running position being revalued, or both.
type Position struct {
	AsOf time.Time `json:"asof"`

	Symbol       string  `json:"symbol"`
	Market       string  `json:"market"`
	Currency     string  `json:"currency"`
	SecurityType string  `json:"security_type"`
	Multiplier   float64 `json:"multiplier"`

	Action      string    `json:"action"`
	Quant       float64   `json:"quant"`
	Position    float64   `json:"position"`
	TradedAt    time.Time `json:"traded_at,omitempty"`
	TradedPrice float64   `json:"traded_price,omitempty"`
	Price       float64   `json:"price"`

	Sales      money.Amount `json:"sales"`
	Purchases  money.Amount `json:"purchases"`
	Dividend   money.Amount `json:"dividend"`
	Commission money.Amount `json:"commission"`
	MTM        money.Amount `json:"mtm"`
	Value      money.Amount `json:"value"`
}

func (p Position) contract() market.Contract {
	return market.Contract{
		Symbol:       p.Symbol,
		Market:       p.Market,
		Currency:     p.Currency,
		SecurityType: p.SecurityType,
		Multiplier:   p.Multiplier,
	}
}

// rollInstrument folds bars into position snapshots for one instrument.
// prev is the latest existing snapshot, nil for a fresh instrument. fills
// are the filled orders not yet reflected in any snapshot; each is consumed
// by the first bar at or after its fill time, so a fill released late, with
// snapshots already written past its asof, still lands on the next bar.
func rollInstrument(contract market.Contract, prev *Position, fills []fillEvent, bars []market.Bar, commissions CommissionSchedule) []Position {
	var startPos float64
	startValue := money.Zero
	if prev != nil {
		startPos = prev.Position
		startValue = prev.Value
	}

	mult := contract.Multiplier
	if mult == 0 {
		mult = 1
	}

	used := make([]bool, len(fills))

	var out []Position
	for _, bar := range bars {
		var bought, sold float64
		var notional float64 // for the weighted traded price
		purchases, sales := money.Zero, money.Zero
		commission := money.Zero
		var tradedAt time.Time

		for fi, f := range fills {
			if used[fi] || f.asof.After(bar.AsOf) {
				continue
			}
			used[fi] = true
			if f.buys {
				bought += f.quant
				purchases = purchases.Add(money.FromFloat64(f.price).MulFloat(f.quant).MulFloat(mult))
			} else {
				sold += f.quant
				sales = sales.Add(money.FromFloat64(f.price).MulFloat(f.quant).MulFloat(mult))
			}
			notional += f.quant * f.price
			commission = commission.Add(commissions.Commission(contract, f.quant))
			if f.asof.After(tradedAt) {
				tradedAt = f.asof
			}
		}

		netQuant := bought - sold
		ending := startPos + netQuant

		dividend := money.Zero
		if bar.Dividend != 0 && startPos != 0 {
			dividend = money.FromFloat64(bar.Dividend).MulFloat(startPos).MulFloat(mult)
		}

		value := money.FromFloat64(bar.Close).MulFloat(ending).MulFloat(mult)
		mtm := value.Sub(startValue).
			Add(sales).Sub(purchases).
			Add(dividend).Sub(commission)

		traded := bought != 0 || sold != 0
		action := actionLabel(startPos, ending, netQuant, traded)

		if action != "" {
			rec := Position{
				AsOf:         bar.AsOf,
				Symbol:       contract.Symbol,
				Market:       contract.Market,
				Currency:     contract.Currency,
				SecurityType: contract.SecurityType,
				Multiplier:   contract.Multiplier,
				Action:       action,
				Quant:        netQuant,
				Position:     ending,
				Price:        bar.Close,
				Dividend:     dividend,
				Commission:   commission,
				MTM:          mtm,
				Value:        value,
			}
			if traded {
				rec.TradedAt = tradedAt
				rec.TradedPrice = notional / (bought + sold)
			}
			if !contract.FutureLike() {
				rec.Sales = sales
				rec.Purchases = purchases
			}
			out = append(out, rec)
		}

		startPos = ending
		startValue = value
	}
	return out
}

// actionLabel derives the snapshot label from the position transition.
func actionLabel(start, end, net float64, traded bool) string {
	switch {
	case net == 0:
		if start > 0 {
			return "LONG"
		}
		if start < 0 {
			return "SHORT"
		}
		if traded {
			return "DAY" // bought and sold flat within the bar
		}
		return ""
	case start == 0:
		if end > 0 {
			return "BTO"
		}
		return "STO"
	case end == 0:
		if start > 0 {
			return "STC"
		}
		return "BTC"
	case start > 0 && end < 0:
		return "SLD"
	case start < 0 && end > 0:
		return "BOT"
	case start > 0:
		if net > 0 {
			return "BTO"
		}
		return "STC"
	default:
		if net < 0 {
			return "STO"
		}
		return "BTC"
	}
}

// fillEvent is a filled order reduced to its position-ledger effect. Combo
// legs carry their parent's scaled quantity and effective polarity. ref
// names the order so the rollup can mark it booked once consumed.
type fillEvent struct {
	ref   string
	asof  time.Time
	quant float64
	price float64
	buys  bool
}

// settlement is a fill's cash effect for the balance ledger: futures roll
// their whole mark through daily variation, everything else settles trade
// proceeds minus costs minus commission while mtm carries the economic move.
func settlementOf(p Position) (net, settled money.Amount) {
	net = p.MTM
	if p.contract().FutureLike() {
		return net, p.MTM
	}
	return net, p.Sales.Sub(p.Purchases).Sub(p.Commission)
}
