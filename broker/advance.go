package broker

import (
	"context"
	"sort"
	"time"

	"github.com/rustyeddy/simbroker/ledger"
	"github.com/rustyeddy/simbroker/market"
)

type instrumentKey struct {
	symbol string
	mkt    string
}

// advanceLocked brings ledger state forward to target: evaluate fills, roll
// positions bar-by-bar, and credit the resulting cash movements. Simulated
// time never moves backward; a target at or before the last recorded balance
// is a no-op, as is advancing before the first deposit. Callers hold b.mu.
func (b *Broker) advanceLocked(ctx context.Context, target time.Time) error {
	balances, err := ledger.ReadAll[Balance](ctx, b.store, ledger.Balances)
	if err != nil {
		return err
	}
	last := lastBalanceAsOf(balances)
	if last.IsZero() || !last.Before(target) {
		return nil
	}

	orders, err := ledger.ReadAll[Order](ctx, b.store, ledger.Orders)
	if err != nil {
		return err
	}
	before := make([]Order, len(orders))
	copy(before, orders)

	filled, err := b.evalOrders(ctx, orders, target)
	if err != nil {
		return err
	}
	if len(filled) > 0 {
		b.log.Debug("orders filled", "refs", filled, "target", target)
	}

	newRecs, err := b.rollPositions(ctx, orders, last, target)
	if err != nil {
		return err
	}

	if err := b.persistOrders(ctx, before, orders); err != nil {
		return err
	}
	if err := b.persistPositions(ctx, newRecs); err != nil {
		return err
	}
	return b.creditPositions(ctx, newRecs)
}

// rollPositions computes the position snapshots produced by filled orders
// and running positions over the bars up to target.
func (b *Broker) rollPositions(ctx context.Context, orders []Order, last, target time.Time) ([]Position, error) {
	positions, err := ledger.ReadAll[Position](ctx, b.store, ledger.Positions)
	if err != nil {
		return nil, err
	}

	latest := make(map[instrumentKey]*Position)
	for i := range positions {
		rec := &positions[i]
		key := instrumentKey{rec.Symbol, rec.Market}
		if cur, ok := latest[key]; !ok || rec.AsOf.After(cur.AsOf) {
			latest[key] = rec
		}
	}

	fills, contracts := collectFills(orders)

	// Every instrument with un-rolled fills, plus every instrument still
	// holding a running position that needs bar-by-bar revaluation.
	keys := make(map[instrumentKey]bool)
	for key := range fills {
		keys[key] = true
	}
	for key, rec := range latest {
		if rec.Position != 0 {
			keys[key] = true
		}
	}

	sorted := make([]instrumentKey, 0, len(keys))
	for key := range keys {
		sorted = append(sorted, key)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].symbol != sorted[j].symbol {
			return sorted[i].symbol < sorted[j].symbol
		}
		return sorted[i].mkt < sorted[j].mkt
	})

	booked := make(map[string]bool)

	var out []Position
	for _, key := range sorted {
		prev := latest[key]
		events := fills[key]

		from := last
		if prev != nil {
			// Snapshots are append-only; never refold bars already
			// reflected in one.
			from = prev.AsOf
		} else {
			for _, f := range events {
				if f.asof.Add(-time.Nanosecond).Before(from) {
					from = f.asof.Add(-time.Nanosecond)
				}
			}
		}

		contract := contracts[key]
		if contract.Symbol == "" && prev != nil {
			contract = prev.contract()
		}

		bars, err := b.quote(ctx, key.symbol, key.mkt, from, target)
		if err != nil {
			return nil, err
		}
		out = append(out, rollInstrument(contract, prev, events, bars, b.commissions)...)

		// A fill is consumed by the first bar at or after its asof; any
		// event still past the last bar stays unbooked and is retried on
		// the next advance.
		if len(bars) > 0 {
			horizon := bars[len(bars)-1].AsOf
			for _, f := range events {
				if !f.asof.After(horizon) {
					booked[f.ref] = true
				}
			}
		}
	}

	for i := range orders {
		if orders[i].Status == StatusFilled && booked[orders[i].OrderRef] {
			orders[i].Booked = true
		}
	}
	return out, nil
}

// collectFills reduces filled orders to their position-ledger events, keyed
// by instrument. Combo parents are synthetic and contribute nothing
// themselves; their legs carry the parent's scaled quantity and effective
// polarity. Fills already booked into a snapshot are skipped, as are fills
// inside an OCA group with siblings still open.
func collectFills(orders []Order) (map[instrumentKey][]fillEvent, map[instrumentKey]market.Contract) {
	fills := make(map[instrumentKey][]fillEvent)
	contracts := make(map[instrumentKey]market.Contract)

	for _, o := range orders {
		if o.Status != StatusFilled || o.Booked || isComboParent(orders, o) {
			continue
		}
		if inUnresolvedOCA(orders, o) {
			continue
		}

		key := instrumentKey{o.Symbol, o.Market}
		ev := fillEvent{ref: o.OrderRef, asof: o.AsOf, quant: o.Quant, price: o.TradedPrice, buys: o.Action.Buys()}
		if o.OrderType == TypeLEG {
			parent := findByRef(orders, o.AttachRef)
			if parent == nil {
				continue
			}
			ev.quant = parent.Quant * o.Quant
			ev.buys = parent.Action.Buys() == o.Action.Buys()
		}

		fills[key] = append(fills[key], ev)
		if _, ok := contracts[key]; !ok {
			contracts[key] = o.Contract()
		}
	}

	for key := range fills {
		evs := fills[key]
		sort.Slice(evs, func(i, j int) bool { return evs[i].asof.Before(evs[j].asof) })
	}
	return fills, contracts
}

func isComboParent(orders []Order, o Order) bool {
	for i := range orders {
		if orders[i].OrderType == TypeLEG && orders[i].AttachRef == o.OrderRef {
			return true
		}
	}
	return false
}

// inUnresolvedOCA reports whether the order belongs to an OCA group, meaning
// its attach_ref names no order, with at least one sibling still open. Rollup
// for such fills is deferred until the group resolves.
func inUnresolvedOCA(orders []Order, o Order) bool {
	if o.AttachRef == "" || findByRef(orders, o.AttachRef) != nil {
		return false
	}
	for i := range orders {
		sib := orders[i]
		if sib.AttachRef == o.AttachRef && sib.OrderRef != o.OrderRef && sib.Status.Open() {
			return true
		}
	}
	return false
}

// persistOrders rewrites every orders partition touched by a status or
// evaluation-point change, covering both the source and destination month
// when an order migrates across a boundary.
func (b *Broker) persistOrders(ctx context.Context, before, after []Order) error {
	touched := make(map[ledger.Key]bool)
	for i := range after {
		if before[i].Status == after[i].Status &&
			before[i].AsOf.Equal(after[i].AsOf) &&
			before[i].Booked == after[i].Booked {
			continue
		}
		touched[ledger.MonthKey(before[i].AsOf)] = true
		touched[ledger.MonthKey(after[i].AsOf)] = true
	}
	if len(touched) == 0 {
		return nil
	}

	parts := make(map[ledger.Key][]Order, len(touched))
	for key := range touched {
		parts[key] = nil
	}
	for _, o := range after {
		key := ledger.MonthKey(o.AsOf)
		if _, ok := parts[key]; ok {
			parts[key] = append(parts[key], o)
		}
	}
	return ledger.ReplaceAll(ctx, b.store, ledger.Orders, parts)
}

// persistPositions appends the new snapshots into their month partitions.
func (b *Broker) persistPositions(ctx context.Context, recs []Position) error {
	if len(recs) == 0 {
		return nil
	}

	existing, err := ledger.ReadAll[Position](ctx, b.store, ledger.Positions)
	if err != nil {
		return err
	}

	parts := make(map[ledger.Key][]Position)
	var prior ledger.Key
	for _, rec := range existing {
		key := ledger.MonthKey(rec.AsOf)
		if key > prior {
			prior = key
		}
	}
	for _, rec := range recs {
		key := ledger.MonthKey(rec.AsOf)
		if _, ok := parts[key]; !ok {
			for _, old := range existing {
				if ledger.MonthKey(old.AsOf) == key {
					parts[key] = append(parts[key], old)
				}
			}
		}
		parts[key] = append(parts[key], rec)
	}

	var extra []ledger.Key
	if prior != "" {
		if _, ok := parts[prior]; !ok {
			extra = append(extra, prior)
		}
	}
	return ledger.ReplaceAll(ctx, b.store, ledger.Positions, parts, extra...)
}
