// Package broker simulates a brokerage account against historical price
// bars: order lifecycle, fills, per-instrument positions and multi-currency
// cash balances, all advanced bar-by-bar as simulated time moves forward.
package broker

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/rustyeddy/simbroker/internal/id"
	"github.com/rustyeddy/simbroker/internal/money"
	"github.com/rustyeddy/simbroker/ledger"
	"github.com/rustyeddy/simbroker/market"
)

// Broker is a single-writer simulated brokerage account. Every externally
// visible call first advances ledger state to the call's asof, then applies
// the requested action; the serialization point is acquire/release, so no
// two mutating operations interleave.
type Broker struct {
	serialize chan struct{}

	store       ledger.Store
	quote       market.QuoteFunc
	lookup      market.LookupFunc
	currency    string
	commissions CommissionSchedule
	ids         id.Generator
	log         *slog.Logger
}

type Option func(*Broker)

// WithLookup supplies the contract-metadata collaborator used to complete
// partially specified orders.
func WithLookup(lookup market.LookupFunc) Option {
	return func(b *Broker) { b.lookup = lookup }
}

// WithCurrency sets the account's quote currency. Default USD.
func WithCurrency(currency string) Option {
	return func(b *Broker) { b.currency = currency }
}

func WithCommissions(schedule CommissionSchedule) Option {
	return func(b *Broker) { b.commissions = schedule }
}

// WithIDs injects the order-ref generator, letting tests use deterministic
// sequences.
func WithIDs(g id.Generator) Option {
	return func(b *Broker) { b.ids = g }
}

func WithLogger(log *slog.Logger) Option {
	return func(b *Broker) { b.log = log }
}

func New(store ledger.Store, quote market.QuoteFunc, options ...Option) *Broker {
	b := &Broker{
		serialize:   make(chan struct{}, 1),
		store:       store,
		quote:       quote,
		currency:    "USD",
		commissions: DefaultCommissions,
		ids:         id.NewSequence(time.Now()),
		log:         slog.Default(),
	}
	for _, option := range options {
		option(b)
	}
	return b
}

// acquire joins the single-writer chain: each call waits for all prior calls
// to finish before beginning its own advance-then-act sequence.
func (b *Broker) acquire(ctx context.Context) error {
	select {
	case b.serialize <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Broker) release() {
	<-b.serialize
}

// Advance moves simulated time forward to target, filling orders and rolling
// positions and balances. Advancing to a target at or before the current
// simulation time is a no-op.
func (b *Broker) Advance(ctx context.Context, target time.Time) error {
	if err := b.acquire(ctx); err != nil {
		return err
	}
	defer b.release()
	return b.advanceLocked(ctx, target)
}

// Deposit credits quant of currency at asof. The same amount settles
// immediately.
func (b *Broker) Deposit(ctx context.Context, currency string, quant float64, asof time.Time) error {
	return b.DepositSettled(ctx, currency, quant, quant, asof)
}

// DepositSettled credits a cash movement whose settled portion diverges from
// its economic value, e.g. an unsettled dividend credit.
func (b *Broker) DepositSettled(ctx context.Context, currency string, quant, settled float64, asof time.Time) error {
	if currency == "" {
		return validationf("deposit requires a currency")
	}
	if asof.IsZero() {
		return validationf("deposit requires an asof")
	}

	if err := b.acquire(ctx); err != nil {
		return err
	}
	defer b.release()

	if err := b.advanceLocked(ctx, asof); err != nil {
		return err
	}
	return b.depositLocked(ctx, currency, money.FromFloat64(quant), money.FromFloat64(settled), asof, false)
}

// Withdraw is a deposit of the negated quantity.
func (b *Broker) Withdraw(ctx context.Context, currency string, quant float64, asof time.Time) error {
	return b.DepositSettled(ctx, currency, -quant, -quant, asof)
}

// Balances returns the per-currency row set as of the latest timestamp not
// after asof, advancing simulation time first.
func (b *Broker) Balances(ctx context.Context, asof time.Time) ([]Balance, error) {
	if err := b.acquire(ctx); err != nil {
		return nil, err
	}
	defer b.release()

	if err := b.advanceLocked(ctx, asof); err != nil {
		return nil, err
	}

	balances, err := ledger.ReadAll[Balance](ctx, b.store, ledger.Balances)
	if err != nil {
		return nil, err
	}

	var latest time.Time
	for _, bal := range balances {
		if !bal.AsOf.After(asof) && bal.AsOf.After(latest) {
			latest = bal.AsOf
		}
	}
	var out []Balance
	for _, bal := range balances {
		if bal.AsOf.Equal(latest) && !latest.IsZero() {
			out = append(out, bal)
		}
	}
	return out, nil
}

// BalanceHistory reads rows with asof in [begin, end] without joining the
// single-writer chain; historical partitions are already settled.
func (b *Broker) BalanceHistory(ctx context.Context, begin, end time.Time) ([]Balance, error) {
	balances, err := ledger.ReadAll[Balance](ctx, b.store, ledger.Balances)
	if err != nil {
		return nil, err
	}
	var out []Balance
	for _, bal := range balances {
		if !bal.AsOf.Before(begin) && !bal.AsOf.After(end) {
			out = append(out, bal)
		}
	}
	return out, nil
}

// Positions returns the latest snapshot per instrument as of asof, advancing
// simulation time first. Instruments with no history are absent.
func (b *Broker) Positions(ctx context.Context, asof time.Time) ([]Position, error) {
	if err := b.acquire(ctx); err != nil {
		return nil, err
	}
	defer b.release()

	if err := b.advanceLocked(ctx, asof); err != nil {
		return nil, err
	}

	positions, err := ledger.ReadAll[Position](ctx, b.store, ledger.Positions)
	if err != nil {
		return nil, err
	}

	latest := make(map[instrumentKey]Position)
	for _, rec := range positions {
		if rec.AsOf.After(asof) {
			continue
		}
		key := instrumentKey{rec.Symbol, rec.Market}
		if cur, ok := latest[key]; !ok || rec.AsOf.After(cur.AsOf) {
			latest[key] = rec
		}
	}

	out := make([]Position, 0, len(latest))
	for _, rec := range latest {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Market < out[j].Market
	})
	return out, nil
}

// PositionHistory reads snapshots with asof in [begin, end] without joining
// the single-writer chain.
func (b *Broker) PositionHistory(ctx context.Context, begin, end time.Time) ([]Position, error) {
	positions, err := ledger.ReadAll[Position](ctx, b.store, ledger.Positions)
	if err != nil {
		return nil, err
	}
	var out []Position
	for _, rec := range positions {
		if !rec.AsOf.Before(begin) && !rec.AsOf.After(end) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Orders returns every order posted by asof, advancing simulation time
// first. Pass a non-zero begin to restrict to orders whose status last
// changed at or after it.
func (b *Broker) Orders(ctx context.Context, asof, begin time.Time) ([]Order, error) {
	if err := b.acquire(ctx); err != nil {
		return nil, err
	}
	defer b.release()

	if err := b.advanceLocked(ctx, asof); err != nil {
		return nil, err
	}

	orders, err := ledger.ReadAll[Order](ctx, b.store, ledger.Orders)
	if err != nil {
		return nil, err
	}
	var out []Order
	for _, o := range orders {
		if o.PostedAt.After(asof) {
			continue
		}
		if !begin.IsZero() && o.AsOf.Before(begin) {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

// Reset clears all three collections.
func (b *Broker) Reset(ctx context.Context) error {
	if err := b.acquire(ctx); err != nil {
		return err
	}
	defer b.release()

	for _, collection := range ledger.Collections {
		keys, err := b.store.Keys(ctx, collection)
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			continue
		}
		names := make([]string, 0, len(keys))
		for _, key := range keys {
			names = append(names, ledger.LockName(collection, key))
		}
		err = b.store.Lock(ctx, names, func(ctx context.Context) error {
			for _, key := range keys {
				if err := b.store.Replace(ctx, collection, key, nil); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	b.log.Debug("account reset")
	return nil
}
