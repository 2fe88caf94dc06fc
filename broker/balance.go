package broker

import (
	"context"
	"sort"
	"time"

	"github.com/rustyeddy/simbroker/internal/money"
	"github.com/rustyeddy/simbroker/ledger"
	"github.com/rustyeddy/simbroker/market"
)

// Balance is one currency's cash state at a point in time. Rate converts the
// currency into the account's quote currency and is 1 for the quote currency
// itself. Settled is net minus unsettled trade proceeds and dividends.
type Balance struct {
	AsOf     time.Time    `json:"asof"`
	Currency string       `json:"currency"`
	Rate     float64      `json:"rate"`
	Net      money.Amount `json:"net"`
	Settled  money.Amount `json:"settled"`
}

// lastBalanceAsOf is the simulation clock: the most recent balance row's
// timestamp, zero when nothing has ever been deposited.
func lastBalanceAsOf(balances []Balance) time.Time {
	var last time.Time
	for _, bal := range balances {
		if bal.AsOf.After(last) {
			last = bal.AsOf
		}
	}
	return last
}

// depositLocked applies a cash movement to one currency at asof, rewriting
// the whole per-currency row set so every currency shares a single timestamp
// and one consistent FX-rate snapshot. Caller deposits may never move the
// clock backward; internal ledger credits can trail it when bar history
// grows behind an earlier deposit, and fold into the current row set
// instead. Callers hold b.mu.
func (b *Broker) depositLocked(ctx context.Context, currency string, net, settled money.Amount, asof time.Time, internal bool) error {
	balances, err := ledger.ReadAll[Balance](ctx, b.store, ledger.Balances)
	if err != nil {
		return err
	}

	last := lastBalanceAsOf(balances)
	if !last.IsZero() && asof.Before(last) {
		if !internal {
			return validationf("deposit asof %s precedes last balance %s",
				asof.Format(time.RFC3339), last.Format(time.RFC3339))
		}
		asof = last
	}

	// Latest row per currency; well-formed data has them all at last.
	snapshot := make(map[string]Balance)
	for _, bal := range balances {
		cur, ok := snapshot[bal.Currency]
		if !ok || bal.AsOf.After(cur.AsOf) {
			snapshot[bal.Currency] = bal
		}
	}

	row, ok := snapshot[currency]
	if !ok {
		row = Balance{Currency: currency}
	}
	row.Net = row.Net.Add(net)
	row.Settled = row.Settled.Add(settled)
	snapshot[currency] = row

	// One FX snapshot per asof: every non-quote currency refreshes its
	// rate from the price source whenever the row set is rewritten.
	next := make([]Balance, 0, len(snapshot))
	for _, bal := range snapshot {
		bal.AsOf = asof
		if bal.Currency == b.currency {
			bal.Rate = 1
		} else {
			rate, err := market.RateOf(ctx, b.quote, bal.Currency, b.currency, asof)
			if err != nil {
				return err
			}
			bal.Rate = rate
		}
		next = append(next, bal)
	}
	sort.Slice(next, func(i, j int) bool { return next[i].Currency < next[j].Currency })

	return b.writeBalances(ctx, balances, next, last, asof)
}

// writeBalances persists the new row set for asof, replacing any rows already
// recorded at the same timestamp. The partition lock covers the prior month
// when the write crosses a month boundary.
func (b *Broker) writeBalances(ctx context.Context, history, next []Balance, last, asof time.Time) error {
	key := ledger.MonthKey(asof)

	var kept []Balance
	for _, bal := range history {
		if ledger.MonthKey(bal.AsOf) == key && !bal.AsOf.Equal(asof) {
			kept = append(kept, bal)
		}
	}

	parts := map[ledger.Key][]Balance{key: append(kept, next...)}

	var extra []ledger.Key
	if !last.IsZero() && ledger.MonthKey(last) != key {
		extra = append(extra, ledger.MonthKey(last))
	}
	return ledger.ReplaceAll(ctx, b.store, ledger.Balances, parts, extra...)
}

// creditPositions folds freshly appended position records into cash
// movements, grouped by asof then currency so each timestamp produces one
// consistent balance rewrite per currency.
func (b *Broker) creditPositions(ctx context.Context, recs []Position) error {
	byAsOf := make(map[time.Time]map[string][2]money.Amount)
	var times []time.Time
	for _, rec := range recs {
		cur := rec.Currency
		if cur == "" {
			cur = b.currency
		}
		byCur, ok := byAsOf[rec.AsOf]
		if !ok {
			byCur = make(map[string][2]money.Amount)
			byAsOf[rec.AsOf] = byCur
			times = append(times, rec.AsOf)
		}
		net, settled := settlementOf(rec)
		acc := byCur[cur]
		byCur[cur] = [2]money.Amount{acc[0].Add(net), acc[1].Add(settled)}
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	for _, at := range times {
		currencies := make([]string, 0, len(byAsOf[at]))
		for cur := range byAsOf[at] {
			currencies = append(currencies, cur)
		}
		sort.Strings(currencies)

		for _, cur := range currencies {
			acc := byAsOf[at][cur]
			if acc[0].IsZero() && acc[1].IsZero() {
				continue
			}
			if err := b.depositLocked(ctx, cur, acc[0], acc[1], at, true); err != nil {
				return err
			}
		}
	}
	return nil
}
