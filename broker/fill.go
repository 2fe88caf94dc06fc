package broker

import (
	"context"
	"time"

	"github.com/rustyeddy/simbroker/market"
)

// fillOne evaluates one working single-instrument order against the bars
// strictly after its last evaluation point and returns the next state of the
// order: filled, cancelled, or still working with its evaluation point
// advanced.
func fillOne(o Order, bars []market.Bar) (Order, error) {
	if len(bars) == 0 {
		return o, nil
	}

	switch o.TIF {
	case DAY:
		bars = bars[:1]
	case IOC:
		// An immediate-or-cancel order sees only the next opening print.
		open := bars[0]
		open.High, open.Low, open.Close = open.Open, open.Open, open.Open
		bars = []market.Bar{open}
	}

	buys := o.Action.Buys()

	switch o.OrderType {
	case TypeMKT, TypeMOO:
		return filled(o, bars[0].Open, bars[0].AsOf), nil

	case TypeMOC:
		return filled(o, bars[0].Close, bars[0].AsOf), nil

	case TypeMIT, TypeSTP:
		for _, bar := range bars {
			if bar.Low <= o.Stop && o.Stop <= bar.High {
				return filled(o, o.Stop, bar.AsOf), nil
			}
		}
		return missed(o, bars), nil

	case TypeLMT:
		for _, bar := range bars {
			if bar.Low <= o.Limit && o.Limit <= bar.High {
				return filled(o, o.Limit, bar.AsOf), nil
			}
		}
		return missed(o, bars), nil

	case TypeLOO:
		bar := bars[0]
		if (buys && bar.Open <= o.Limit) || (!buys && o.Limit <= bar.Open) {
			return filled(o, bar.Open, bar.AsOf), nil
		}
		return cancelled(o, bar.AsOf), nil

	case TypeLOC:
		bar := bars[0]
		if (buys && bar.Close <= o.Limit) || (!buys && o.Limit <= bar.Close) {
			return filled(o, bar.Close, bar.AsOf), nil
		}
		return cancelled(o, bar.AsOf), nil
	}

	return o, statef("order %s has unsupported type %q", o.OrderRef, o.OrderType)
}

func filled(o Order, price float64, asof time.Time) Order {
	o.Status = StatusFilled
	o.TradedPrice = price
	o.AsOf = asof
	return o
}

func cancelled(o Order, asof time.Time) Order {
	o.Status = StatusCancelled
	o.AsOf = asof
	return o
}

// missed handles a price-contingent order whose trigger no bar reached: GTC
// keeps working from the last scanned bar, DAY and IOC die with their bar.
func missed(o Order, bars []market.Bar) Order {
	last := bars[len(bars)-1].AsOf
	if o.TIF == GTC {
		o.AsOf = last
		return o
	}
	return cancelled(o, last)
}

// evalOrders advances every open order in place against bars up to target and
// returns the refs that newly reached filled. Pending children promote to
// working when their parent fills, then get evaluated themselves on the next
// sweep; sweeps repeat until no status changes.
func (b *Broker) evalOrders(ctx context.Context, orders []Order, target time.Time) ([]string, error) {
	var newlyFilled []string

	for {
		progressed := false

		for i := range orders {
			o := &orders[i]
			if o.Status != StatusWorking || o.OrderType == TypeLEG {
				continue
			}

			legs := openLegIndexes(orders, o.OrderRef)
			if len(legs) > 0 {
				refs, changed, err := b.evalCombo(ctx, orders, i, legs, target)
				if err != nil {
					return nil, err
				}
				newlyFilled = append(newlyFilled, refs...)
				progressed = progressed || changed
				continue
			}

			bars, err := b.quote(ctx, o.Symbol, o.Market, o.AsOf, target)
			if err != nil {
				return nil, err
			}
			next, err := fillOne(*o, bars)
			if err != nil {
				return nil, err
			}
			if next.Status != o.Status {
				progressed = true
				if next.Status == StatusFilled {
					newlyFilled = append(newlyFilled, next.OrderRef)
				}
			}
			*o = next
		}

		for i := range orders {
			o := &orders[i]
			if o.Status != StatusPending {
				continue
			}
			parent := findByRef(orders, o.AttachRef)
			if parent != nil && parent.Status == StatusFilled {
				o.Status = StatusWorking
				o.AsOf = parent.AsOf
				progressed = true
			}
		}

		if !progressed {
			return newlyFilled, nil
		}
	}
}

// evalCombo evaluates a multi-leg parent atomically: every leg must fill for
// the combo to commit, any cancelled leg cancels the whole combo, and
// anything in between leaves the combo working untouched so the full bar
// range is rescanned next time.
func (b *Broker) evalCombo(ctx context.Context, orders []Order, parentIdx int, legIdxs []int, target time.Time) ([]string, bool, error) {
	parent := orders[parentIdx]

	legType := parent.OrderType
	switch legType {
	case TypeLOO:
		legType = TypeMOO
	case TypeLOC:
		legType = TypeMOC
	}

	results := make([]Order, len(legIdxs))
	allFilled := true
	var cancelAsOf time.Time

	for n, j := range legIdxs {
		leg := orders[j]

		sim := leg
		sim.OrderType = legType
		sim.TIF = parent.TIF
		sim.Quant = parent.Quant * leg.Quant
		if sim.Limit == 0 {
			sim.Limit = parent.Limit
		}
		if sim.Stop == 0 {
			sim.Stop = parent.Stop
		}
		// The leg trades with the parent's polarity, flipped when its
		// stored action opposes the parent's.
		if parent.Action.Buys() == leg.Action.Buys() {
			sim.Action = ActionBuy
		} else {
			sim.Action = ActionSell
		}

		bars, err := b.quote(ctx, leg.Symbol, leg.Market, leg.AsOf, target)
		if err != nil {
			return nil, false, err
		}
		res, err := fillOne(sim, bars)
		if err != nil {
			return nil, false, err
		}

		if res.Status == StatusCancelled && res.AsOf.After(cancelAsOf) {
			cancelAsOf = res.AsOf
		}
		if res.Status != StatusFilled {
			allFilled = false
		}
		results[n] = res
	}

	if !cancelAsOf.IsZero() {
		orders[parentIdx] = cancelled(parent, cancelAsOf)
		for _, j := range legIdxs {
			orders[j] = cancelled(orders[j], cancelAsOf)
		}
		return nil, true, nil
	}
	if !allFilled {
		return nil, false, nil
	}

	// Net price per combo unit: long legs add, short legs subtract.
	var net float64
	var fillAsOf time.Time
	for n, j := range legIdxs {
		leg := orders[j]
		if leg.Action == ActionLegBuy {
			net += leg.Quant * results[n].TradedPrice
		} else {
			net -= leg.Quant * results[n].TradedPrice
		}
		if results[n].AsOf.After(fillAsOf) {
			fillAsOf = results[n].AsOf
		}
	}

	// A limit-at-open/close parent re-checks its own limit against the
	// realized net price before committing.
	if parent.OrderType == TypeLOO || parent.OrderType == TypeLOC {
		ok := net <= parent.Limit
		if !parent.Action.Buys() {
			ok = parent.Limit <= net
		}
		if !ok {
			if parent.TIF == GTC {
				return nil, false, nil
			}
			orders[parentIdx] = cancelled(parent, fillAsOf)
			for _, j := range legIdxs {
				orders[j] = cancelled(orders[j], fillAsOf)
			}
			return nil, true, nil
		}
	}

	refs := make([]string, 0, len(legIdxs)+1)
	for n, j := range legIdxs {
		leg := orders[j]
		orders[j] = filled(leg, results[n].TradedPrice, results[n].AsOf)
		refs = append(refs, leg.OrderRef)
	}
	orders[parentIdx] = filled(parent, net, fillAsOf)
	refs = append(refs, parent.OrderRef)
	return refs, true, nil
}

func openLegIndexes(orders []Order, parentRef string) []int {
	var out []int
	for i := range orders {
		if orders[i].OrderType == TypeLEG && orders[i].AttachRef == parentRef && orders[i].Status.Open() {
			out = append(out, i)
		}
	}
	return out
}

func findByRef(orders []Order, ref string) *Order {
	if ref == "" {
		return nil
	}
	// Scan backwards so the most recent record with the ref wins.
	for i := len(orders) - 1; i >= 0; i-- {
		if orders[i].OrderRef == ref {
			return &orders[i]
		}
	}
	return nil
}
