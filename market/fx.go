package market

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// FXMarket is the venue name bars for currency pairs are quoted under.
const FXMarket = "IDEALPRO"

// majors in canonical priority order. A pair between two of these is always
// quoted with the earlier one as base, e.g. EURUSD, USDJPY, GBPCHF.
var majors = []string{"EUR", "GBP", "AUD", "NZD", "USD", "CAD", "CHF", "JPY"}

func majorRank(currency string) int {
	for i, m := range majors {
		if m == currency {
			return i
		}
	}
	return len(majors)
}

// CanonicalPair orders two currencies into their conventional quoting
// direction and reports whether the requested base/counter order was
// inverted. Non-major currencies rank after every major, alphabetically.
func CanonicalPair(base, counter string) (string, string, bool) {
	br, cr := majorRank(base), majorRank(counter)
	if br < cr || (br == cr && base < counter) {
		return base, counter, false
	}
	return counter, base, true
}

// FXSymbol is the quote symbol for a canonical pair, e.g. "EURUSD".
func FXSymbol(base, counter string) string {
	return base + counter
}

// rateLookback bounds how far back the rate search scans for the most recent
// FX close. Balance rates are refreshed at least weekly, so a slightly wider
// window always finds a bar on an active pair.
const rateLookback = 8 * 24 * time.Hour

// RateOf returns the multiplier converting base-denominated cash into counter
// currency as of asof, using the most recent FX bar close in the canonical
// direction and inverting when necessary.
func RateOf(ctx context.Context, quote QuoteFunc, base, counter string, asof time.Time) (float64, error) {
	if base == counter {
		return 1, nil
	}

	b, c, inverted := CanonicalPair(base, counter)
	bars, err := quote(ctx, FXSymbol(b, c), FXMarket, asof.Add(-rateLookback), asof)
	if err != nil {
		return 0, fmt.Errorf("fx rate %s/%s: %w", base, counter, err)
	}
	if len(bars) == 0 {
		return 0, fmt.Errorf("fx rate %s/%s: no bars as of %s", base, counter, asof.Format(time.RFC3339))
	}

	// Bars arrive ascending; guard against sources that do not sort.
	sort.Slice(bars, func(i, j int) bool { return bars[i].AsOf.Before(bars[j].AsOf) })

	rate := bars[len(bars)-1].Close
	if rate == 0 {
		return 0, fmt.Errorf("fx rate %s/%s: zero close", base, counter)
	}
	if inverted {
		return 1 / rate, nil
	}
	return rate, nil
}
