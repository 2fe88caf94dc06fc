package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/simbroker/market"
)

func TestActionLabel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		start  float64
		end    float64
		net    float64
		traded bool
		want   string
	}{
		{"long revalue", 2, 2, 0, false, "LONG"},
		{"short revalue", -2, -2, 0, false, "SHORT"},
		{"flat no trade", 0, 0, 0, false, ""},
		{"round trip in one bar", 0, 0, 0, true, "DAY"},
		{"buy to open", 0, 3, 3, true, "BTO"},
		{"sell to open", 0, -3, -3, true, "STO"},
		{"sell to close", 3, 0, -3, true, "STC"},
		{"buy to close", -3, 0, 3, true, "BTC"},
		{"long flips short", 2, -1, -3, true, "SLD"},
		{"short flips long", -2, 1, 3, true, "BOT"},
		{"add to long", 2, 5, 3, true, "BTO"},
		{"trim long", 5, 2, -3, true, "STC"},
		{"add to short", -2, -5, -3, true, "STO"},
		{"trim short", -5, -2, 3, true, "BTC"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, actionLabel(tc.start, tc.end, tc.net, tc.traded))
		})
	}
}

func stkContract() market.Contract {
	return market.Contract{Symbol: "IBM", Market: "NYSE", Currency: "USD",
		SecurityType: "STK", Multiplier: 1}
}

func TestRollInstrumentOpenAndRevalue(t *testing.T) {
	t.Parallel()

	bars := []market.Bar{
		{AsOf: day(2), Open: 100, High: 105, Low: 98, Close: 104},
		{AsOf: day(3), Open: 104, High: 110, Low: 103, Close: 109},
	}
	fills := []fillEvent{{asof: day(2), quant: 2, price: 100, buys: true}}

	recs := rollInstrument(stkContract(), nil, fills, bars, DefaultCommissions)
	require.Len(t, recs, 2)

	open := recs[0]
	assert.Equal(t, "BTO", open.Action)
	assert.Equal(t, 2.0, open.Quant)
	assert.Equal(t, 2.0, open.Position)
	assert.Equal(t, 100.0, open.TradedPrice)
	assertAmount(t, "200", open.Purchases)
	assert.True(t, open.Sales.IsZero())
	assertAmount(t, "1", open.Commission)
	assertAmount(t, "208", open.Value)
	// 208 - 0 + 0 - 200 + 0 - 1
	assertAmount(t, "7", open.MTM)

	hold := recs[1]
	assert.Equal(t, "LONG", hold.Action)
	assert.Equal(t, 0.0, hold.Quant)
	assert.Equal(t, 2.0, hold.Position)
	assert.True(t, hold.Purchases.IsZero())
	assert.True(t, hold.Commission.IsZero())
	assertAmount(t, "218", hold.Value)
	// 218 - 208
	assertAmount(t, "10", hold.MTM)
}

func TestRollInstrumentCloseRealizes(t *testing.T) {
	t.Parallel()

	prev := &Position{
		AsOf: day(2), Symbol: "IBM", Market: "NYSE", Currency: "USD",
		SecurityType: "STK", Multiplier: 1,
		Action: "BTO", Position: 2,
		Value: mustAmount(t, "208"),
	}
	bars := []market.Bar{
		{AsOf: day(3), Open: 104, High: 110, Low: 103, Close: 109},
	}
	fills := []fillEvent{{asof: day(3), quant: 2, price: 107, buys: false}}

	recs := rollInstrument(prev.contract(), prev, fills, bars, DefaultCommissions)
	require.Len(t, recs, 1)

	closeRec := recs[0]
	assert.Equal(t, "STC", closeRec.Action)
	assert.Equal(t, -2.0, closeRec.Quant)
	assert.Equal(t, 0.0, closeRec.Position)
	assert.Equal(t, 107.0, closeRec.TradedPrice)
	assertAmount(t, "214", closeRec.Sales)
	assert.True(t, closeRec.Value.IsZero())
	// 0 - 208 + 214 - 0 + 0 - 1
	assertAmount(t, "5", closeRec.MTM)
}

func TestRollInstrumentLateFillConsumedByNextBar(t *testing.T) {
	t.Parallel()

	// A fill released after snapshots were already written past its asof
	// still lands on the first bar handed in.
	prev := &Position{
		AsOf: day(3), Symbol: "IBM", Market: "NYSE", Currency: "USD",
		SecurityType: "STK", Multiplier: 1,
		Action: "LONG", Position: 1,
		Value: mustAmount(t, "102"),
	}
	bars := []market.Bar{
		{AsOf: day(4), Open: 102, High: 104, Low: 101, Close: 103},
	}
	fills := []fillEvent{{asof: day(2), quant: 1, price: 100, buys: true}}

	recs := rollInstrument(prev.contract(), prev, fills, bars, DefaultCommissions)
	require.Len(t, recs, 1)

	rec := recs[0]
	assert.Equal(t, "BTO", rec.Action)
	assert.Equal(t, 1.0, rec.Quant)
	assert.Equal(t, 2.0, rec.Position)
	assert.Equal(t, 100.0, rec.TradedPrice)
	assertAmount(t, "100", rec.Purchases)
	// 206 - 102 + 0 - 100 + 0 - 1
	assertAmount(t, "3", rec.MTM)
}

func TestRollInstrumentDividendAccrues(t *testing.T) {
	t.Parallel()

	prev := &Position{
		AsOf: day(2), Symbol: "IBM", Market: "NYSE", Currency: "USD",
		SecurityType: "STK", Multiplier: 1,
		Action: "BTO", Position: 4,
		Value: mustAmount(t, "416"),
	}
	bars := []market.Bar{
		{AsOf: day(3), Open: 104, High: 110, Low: 103, Close: 104, Dividend: 0.50},
	}

	recs := rollInstrument(prev.contract(), prev, nil, bars, DefaultCommissions)
	require.Len(t, recs, 1)
	assert.Equal(t, "LONG", recs[0].Action)
	assertAmount(t, "2", recs[0].Dividend)
	// 416 - 416 + 2
	assertAmount(t, "2", recs[0].MTM)
}

func TestRollInstrumentFuturesVariation(t *testing.T) {
	t.Parallel()

	contract := market.Contract{Symbol: "ESZ5", Market: "GLOBEX", Currency: "USD",
		SecurityType: "FUT", Multiplier: 50}
	bars := []market.Bar{
		{AsOf: day(2), Open: 2000, High: 2010, Low: 1995, Close: 2005},
	}
	fills := []fillEvent{{asof: day(2), quant: 1, price: 2000, buys: true}}

	schedule := CommissionSchedule{{SecurityType: "FUT", PerQuant: 2.25, Minimum: 2.25}}
	recs := rollInstrument(contract, nil, fills, bars, schedule)
	require.Len(t, recs, 1)

	rec := recs[0]
	assert.Equal(t, "BTO", rec.Action)
	// Futures carry no trade cash, only the daily mark.
	assert.True(t, rec.Purchases.IsZero())
	assert.True(t, rec.Sales.IsZero())
	assertAmount(t, "100250", rec.Value)
	// 100250 - 0 + 0 - 100000 + 0 - 2.25
	assertAmount(t, "247.75", rec.MTM)

	net, settled := settlementOf(rec)
	assert.Equal(t, rec.MTM, net)
	assert.Equal(t, rec.MTM, settled)
}

func TestSettlementOfStock(t *testing.T) {
	t.Parallel()

	rec := Position{
		Symbol: "IBM", Market: "NYSE", Currency: "USD", SecurityType: "STK",
		Multiplier: 1,
		Sales:      mustAmount(t, "214"),
		Purchases:  mustAmount(t, "200"),
		Commission: mustAmount(t, "1"),
		MTM:        mustAmount(t, "5"),
	}
	net, settled := settlementOf(rec)
	assertAmount(t, "5", net)
	assertAmount(t, "13", settled)
}

func TestCommissionSchedule(t *testing.T) {
	t.Parallel()

	// First structural match wins, floor applies.
	schedule := CommissionSchedule{
		{SecurityType: "FUT", PerQuant: 2.25, Minimum: 2.25},
		{SecurityType: "STK", Market: "NYSE", PerQuant: 0.01, Minimum: 1.50},
		{SecurityType: "STK", PerQuant: 0.005, Minimum: 1.00},
	}

	nyse := schedule.Commission(stkContract(), 300)
	assertAmount(t, "3", nyse)

	floored := schedule.Commission(stkContract(), 10)
	assertAmount(t, "1.5", floored)

	other := market.Contract{Symbol: "MSFT", Market: "NASDAQ", Currency: "USD",
		SecurityType: "STK", Multiplier: 1}
	assertAmount(t, "1", schedule.Commission(other, 10))

	none := market.Contract{Symbol: "EURUSD", Market: "IDEALPRO", Currency: "USD",
		SecurityType: "CASH", Multiplier: 1}
	assert.True(t, schedule.Commission(none, 10).IsZero())
}
