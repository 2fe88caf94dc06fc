package broker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/simbroker/internal/id"
	"github.com/rustyeddy/simbroker/internal/money"
	"github.com/rustyeddy/simbroker/ledger"
	"github.com/rustyeddy/simbroker/market"
)

func mustAmount(t *testing.T, s string) money.Amount {
	t.Helper()
	a, err := money.Parse(s)
	require.NoError(t, err)
	return a
}

func assertAmount(t *testing.T, want string, got money.Amount) {
	t.Helper()
	assert.True(t, got.Equal(mustAmount(t, want)), "want %s, got %s", want, got)
}

var nyc = time.FixedZone("EST", -5*3600)

func est(year int, month time.Month, day, hour, min int) time.Time {
	return time.Date(year, month, day, hour, min, 0, 0, nyc)
}

// barMap serves scripted bars keyed by "SYMBOL.MARKET".
type barMap map[string][]market.Bar

func (m barMap) quote(_ context.Context, symbol, mkt string, begin, end time.Time) ([]market.Bar, error) {
	var out []market.Bar
	for _, bar := range m[symbol+"."+mkt] {
		if bar.AsOf.After(begin) && !bar.AsOf.After(end) {
			out = append(out, bar)
		}
	}
	return out, nil
}

func newTestBroker(t *testing.T, bars barMap, options ...Option) *Broker {
	t.Helper()
	options = append([]Option{
		WithIDs(id.NewSequence(time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC))),
	}, options...)
	return New(ledger.NewMemory(), bars.quote, options...)
}

func stockOrder(action Action, quant float64, typ OrderType, tif TIF) Order {
	return Order{
		Action:       action,
		Quant:        quant,
		OrderType:    typ,
		TIF:          tif,
		Symbol:       "IBM",
		Market:       "NYSE",
		Currency:     "USD",
		SecurityType: "STK",
		Multiplier:   1,
	}
}

func TestDepositWithdrawNets(t *testing.T) {
	t.Parallel()

	b := newTestBroker(t, barMap{})
	ctx := context.Background()
	at := est(2015, 2, 16, 17, 0)

	require.NoError(t, b.Deposit(ctx, "USD", 600, at))
	require.NoError(t, b.Deposit(ctx, "USD", 400, at))

	bals, err := b.Balances(ctx, at)
	require.NoError(t, err)
	require.Len(t, bals, 1)
	assert.Equal(t, "USD", bals[0].Currency)
	assert.Equal(t, 1.0, bals[0].Rate)
	assertAmount(t, "1000", bals[0].Net)
	assertAmount(t, "1000", bals[0].Settled)

	require.NoError(t, b.Withdraw(ctx, "USD", 1000, at))
	bals, err = b.Balances(ctx, at)
	require.NoError(t, err)
	require.Len(t, bals, 1)
	assert.True(t, bals[0].Net.IsZero())
	assert.True(t, bals[0].Settled.IsZero())
}

func TestDepositTwoCurrenciesSharesRateSnapshot(t *testing.T) {
	t.Parallel()

	at := est(2015, 2, 16, 17, 0)
	bars := barMap{
		"USDCAD." + market.FXMarket: {
			{AsOf: at.AddDate(0, 0, -3), Close: 1.25},
		},
	}
	b := newTestBroker(t, bars)
	ctx := context.Background()

	require.NoError(t, b.Deposit(ctx, "USD", 1000, at))
	require.NoError(t, b.Deposit(ctx, "CAD", 500, at))

	bals, err := b.Balances(ctx, at)
	require.NoError(t, err)
	require.Len(t, bals, 2)

	byCur := map[string]Balance{}
	for _, bal := range bals {
		assert.True(t, bal.AsOf.Equal(at))
		byCur[bal.Currency] = bal
	}
	assert.Equal(t, 1.0, byCur["USD"].Rate)
	assert.InDelta(t, 1/1.25, byCur["CAD"].Rate, 1e-12)
	assertAmount(t, "500", byCur["CAD"].Net)
}

func TestBuyMOCScenario(t *testing.T) {
	t.Parallel()

	opened := est(2015, 2, 16, 17, 0)
	closeBar := est(2015, 2, 17, 16, 0)
	bars := barMap{
		"IBM.NYSE": {
			{AsOf: closeBar, Open: 160.00, High: 161.10, Low: 159.90, Close: 160.96},
		},
	}
	b := newTestBroker(t, bars)
	ctx := context.Background()

	require.NoError(t, b.Deposit(ctx, "USD", 1000, opened))

	subs, err := b.Submit(ctx, stockOrder(ActionBuy, 2, TypeMOC, DAY), opened)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, StatusWorking, subs[0].Status)

	// Before the bar exists the order is still working.
	orders, err := b.Orders(ctx, opened, time.Time{})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, StatusWorking, orders[0].Status)

	orders, err = b.Orders(ctx, closeBar, time.Time{})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, StatusFilled, orders[0].Status)
	assert.Equal(t, 160.96, orders[0].TradedPrice)
	assert.True(t, orders[0].AsOf.Equal(closeBar))

	poss, err := b.Positions(ctx, closeBar)
	require.NoError(t, err)
	require.Len(t, poss, 1)
	assert.Equal(t, "BTO", poss[0].Action)
	assert.Equal(t, 2.0, poss[0].Quant)
	assert.Equal(t, 2.0, poss[0].Position)
	assert.Equal(t, 160.96, poss[0].TradedPrice)
	assertAmount(t, "1", poss[0].Commission)

	bals, err := b.Balances(ctx, closeBar)
	require.NoError(t, err)
	require.Len(t, bals, 1)
	assertAmount(t, "999", bals[0].Net)
	assertAmount(t, "677.08", bals[0].Settled)
}

func TestSubmitThenCancelBeforeAnyBar(t *testing.T) {
	t.Parallel()

	at := est(2015, 2, 16, 17, 0)
	b := newTestBroker(t, barMap{})
	ctx := context.Background()

	require.NoError(t, b.Deposit(ctx, "USD", 1000, at))

	o := stockOrder(ActionBuy, 5, TypeLMT, GTC)
	o.Limit = 150
	subs, err := b.Submit(ctx, o, at)
	require.NoError(t, err)
	require.Len(t, subs, 1)

	// Amending the working order keeps the ref, no duplicate row.
	o.Limit = 155
	o.OrderRef = subs[0].OrderRef
	subs, err = b.Submit(ctx, o, at)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, 155.0, subs[0].Limit)

	got, err := b.Cancel(ctx, subs[0].OrderRef, at)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, StatusCancelled, got[0].Status)

	poss, err := b.Positions(ctx, at)
	require.NoError(t, err)
	assert.Empty(t, poss)

	bals, err := b.Balances(ctx, at)
	require.NoError(t, err)
	require.Len(t, bals, 1)
	assertAmount(t, "1000", bals[0].Net)

	// Cancelling again is a no-op, not an error.
	again, err := b.Cancel(ctx, got[0].OrderRef, at)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, StatusCancelled, again[0].Status)
}

func TestAdvanceIdempotent(t *testing.T) {
	t.Parallel()

	opened := est(2015, 2, 16, 17, 0)
	closeBar := est(2015, 2, 17, 16, 0)
	bars := barMap{
		"IBM.NYSE": {
			{AsOf: closeBar, Open: 160.00, High: 161.10, Low: 159.90, Close: 160.96},
		},
	}
	b := newTestBroker(t, bars)
	ctx := context.Background()

	require.NoError(t, b.Deposit(ctx, "USD", 1000, opened))
	_, err := b.Submit(ctx, stockOrder(ActionBuy, 2, TypeMOC, DAY), opened)
	require.NoError(t, err)

	require.NoError(t, b.Advance(ctx, closeBar))

	first, err := b.BalanceHistory(ctx, time.Time{}, closeBar)
	require.NoError(t, err)
	firstPos, err := b.PositionHistory(ctx, time.Time{}, closeBar)
	require.NoError(t, err)

	require.NoError(t, b.Advance(ctx, closeBar))

	second, err := b.BalanceHistory(ctx, time.Time{}, closeBar)
	require.NoError(t, err)
	secondPos, err := b.PositionHistory(ctx, time.Time{}, closeBar)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, firstPos, secondPos)
}

func TestAdvanceBeforeFirstDepositIsNoop(t *testing.T) {
	t.Parallel()

	b := newTestBroker(t, barMap{})
	ctx := context.Background()

	require.NoError(t, b.Advance(ctx, est(2015, 2, 17, 16, 0)))

	bals, err := b.BalanceHistory(ctx, time.Time{}, est(2015, 2, 17, 16, 0))
	require.NoError(t, err)
	assert.Empty(t, bals)
}

func TestResetClearsEverything(t *testing.T) {
	t.Parallel()

	at := est(2015, 2, 16, 17, 0)
	b := newTestBroker(t, barMap{})
	ctx := context.Background()

	require.NoError(t, b.Deposit(ctx, "USD", 1000, at))
	_, err := b.Submit(ctx, stockOrder(ActionBuy, 1, TypeMKT, GTC), at)
	require.NoError(t, err)

	require.NoError(t, b.Reset(ctx))

	bals, err := b.BalanceHistory(ctx, time.Time{}, at.AddDate(1, 0, 0))
	require.NoError(t, err)
	assert.Empty(t, bals)

	orders, err := b.Orders(ctx, at, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestDepositBackwardsInTimeRejected(t *testing.T) {
	t.Parallel()

	b := newTestBroker(t, barMap{})
	ctx := context.Background()

	require.NoError(t, b.Deposit(ctx, "USD", 1000, est(2015, 2, 16, 17, 0)))

	err := b.Deposit(ctx, "USD", 1, est(2015, 2, 10, 17, 0))
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestAdvanceFoldsLateBarsBehindBalanceClock(t *testing.T) {
	t.Parallel()

	bars := barMap{
		"IBM.NYSE": {
			{AsOf: day(2), Open: 100, High: 101, Low: 99, Close: 100},
		},
	}
	b := newTestBroker(t, bars)
	ctx := context.Background()

	require.NoError(t, b.Deposit(ctx, "USD", 1000, day(1)))
	_, err := b.Submit(ctx, stockOrder(ActionBuy, 1, TypeMKT, DAY), day(1))
	require.NoError(t, err)
	require.NoError(t, b.Advance(ctx, day(2)))

	// A deposit past the end of the bar history moves the balance clock
	// ahead of the quotes.
	require.NoError(t, b.Deposit(ctx, "USD", 500, day(5)))

	// A bar arriving behind the clock must not poison every later advance;
	// its credit folds into the current row set.
	bars["IBM.NYSE"] = append(bars["IBM.NYSE"],
		market.Bar{AsOf: day(3), Open: 100, High: 103, Low: 100, Close: 102})

	require.NoError(t, b.Advance(ctx, day(6)))
	require.NoError(t, b.Advance(ctx, day(6)))

	bals, err := b.Balances(ctx, day(6))
	require.NoError(t, err)
	require.Len(t, bals, 1)
	assertAmount(t, "1501", bals[0].Net)
	assertAmount(t, "1399", bals[0].Settled)

	poss, err := b.PositionHistory(ctx, day(3), day(3))
	require.NoError(t, err)
	require.Len(t, poss, 1)
	assert.Equal(t, "LONG", poss[0].Action)
}

func readPartition[T any](t *testing.T, s ledger.Store, collection string, key ledger.Key) []T {
	t.Helper()
	raws, err := s.Read(context.Background(), collection, key)
	require.NoError(t, err)
	var out []T
	for _, raw := range raws {
		var rec T
		require.NoError(t, json.Unmarshal(raw, &rec))
		out = append(out, rec)
	}
	return out
}

func TestFillAcrossMonthBoundaryMigratesPartitions(t *testing.T) {
	t.Parallel()

	feb27 := est(2015, 2, 27, 16, 0)
	mar2 := est(2015, 3, 2, 16, 0)
	bars := barMap{
		"IBM.NYSE": {
			{AsOf: feb27, Open: 160, High: 161, Low: 159, Close: 160},
			{AsOf: mar2, Open: 150, High: 152, Low: 149, Close: 151},
		},
	}
	b := newTestBroker(t, bars)
	ctx := context.Background()

	opened := est(2015, 2, 26, 17, 0)
	require.NoError(t, b.Deposit(ctx, "USD", 1000, opened))

	o := stockOrder(ActionBuy, 1, TypeLMT, GTC)
	o.Limit = 150
	subs, err := b.Submit(ctx, o, opened)
	require.NoError(t, err)

	require.NoError(t, b.Advance(ctx, est(2015, 3, 3, 16, 0)))

	// Posted in February, filled in March: the record migrates wholesale
	// into the March partition and the February one empties out.
	keys, err := b.store.Keys(ctx, ledger.Orders)
	require.NoError(t, err)
	assert.Equal(t, []ledger.Key{"2015-03"}, keys)

	march := readPartition[Order](t, b.store, ledger.Orders, "2015-03")
	require.Len(t, march, 1)
	assert.Equal(t, subs[0].OrderRef, march[0].OrderRef)
	assert.Equal(t, StatusFilled, march[0].Status)
	assert.Equal(t, 150.0, march[0].TradedPrice)

	// The February deposit row stays put; the fill's rewrite lands in March.
	febBals := readPartition[Balance](t, b.store, ledger.Balances, "2015-02")
	require.Len(t, febBals, 1)
	assertAmount(t, "1000", febBals[0].Net)

	marBals := readPartition[Balance](t, b.store, ledger.Balances, "2015-03")
	require.Len(t, marBals, 1)
	assertAmount(t, "1000", marBals[0].Net)
	assertAmount(t, "849", marBals[0].Settled)

	poss := readPartition[Position](t, b.store, ledger.Positions, "2015-03")
	require.Len(t, poss, 1)
	assert.Equal(t, "BTO", poss[0].Action)
}
