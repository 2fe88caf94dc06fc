// Package market holds the bar and contract types the brokerage simulation
// consumes, plus the collaborator contracts that supply them.
package market

import (
	"context"
	"time"
)

// Bar is one historical OHLC bar. AsOf is the bar's closing timestamp.
// Dividend is the per-share cash distribution going ex at this bar, zero for
// almost every bar.
type Bar struct {
	AsOf     time.Time `json:"asof"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Dividend float64   `json:"dividend,omitempty"`
}

// QuoteFunc retrieves bars for symbol on mkt with AsOf in (begin, end],
// sorted ascending. It is the engine's only window onto prices; historical
// data retrieval itself lives outside this module.
type QuoteFunc func(ctx context.Context, symbol, mkt string, begin, end time.Time) ([]Bar, error)

// Contract describes the instrument behind an order or position.
type Contract struct {
	Symbol       string  `json:"symbol"`
	Market       string  `json:"market"`
	Currency     string  `json:"currency"`
	SecurityType string  `json:"security_type"`
	Multiplier   float64 `json:"multiplier"`
}

// Complete reports whether every attribute the ledgers need is present.
func (c Contract) Complete() bool {
	return c.Symbol != "" && c.Market != "" && c.Currency != "" &&
		c.SecurityType != "" && c.Multiplier != 0
}

// FutureLike reports whether trade cash flows settle as daily variation
// rather than as sale proceeds and purchase costs.
func (c Contract) FutureLike() bool {
	return c.SecurityType == "FUT" || c.SecurityType == "FOP"
}

// LookupFunc resolves partial contract attributes, typically from a symbol
// database or a broker metadata service.
type LookupFunc func(ctx context.Context, symbol, mkt string) (Contract, error)
