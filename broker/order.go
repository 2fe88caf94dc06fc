package broker

import (
	"time"

	"github.com/rustyeddy/simbroker/market"
)

type Action string

const (
	ActionBuy     Action = "BUY"
	ActionSell    Action = "SELL"
	ActionLegBuy  Action = "LEG-BUY"
	ActionLegSell Action = "LEG-SELL"
)

// Buys reports the action's polarity; LEG polarities are relative to the
// combo parent's BUY direction.
func (a Action) Buys() bool { return a == ActionBuy || a == ActionLegBuy }

func (a Action) leg() bool { return a == ActionLegBuy || a == ActionLegSell }

type OrderType string

const (
	TypeMKT OrderType = "MKT"
	TypeMIT OrderType = "MIT"
	TypeMOO OrderType = "MOO"
	TypeMOC OrderType = "MOC"
	TypeLMT OrderType = "LMT"
	TypeLOO OrderType = "LOO"
	TypeLOC OrderType = "LOC"
	TypeSTP OrderType = "STP"
	TypeLEG OrderType = "LEG"
)

type TIF string

const (
	GTC TIF = "GTC"
	DAY TIF = "DAY"
	IOC TIF = "IOC"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusWorking   Status = "working"
	StatusFilled    Status = "filled"
	StatusCancelled Status = "cancelled"
)

// Terminal statuses are immutable once written.
func (s Status) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled
}

func (s Status) Open() bool {
	return s == StatusPending || s == StatusWorking
}

// Order is one trading instruction. AttachRef threads related orders
// together: it names either a parent order_ref (bracket children, combo
// legs) or a shared OCA group id.
type Order struct {
	OrderRef  string    `json:"order_ref"`
	AttachRef string    `json:"attach_ref,omitempty"`
	Action    Action    `json:"action"`
	Quant     float64   `json:"quant"`
	OrderType OrderType `json:"order_type"`
	TIF       TIF       `json:"tif,omitempty"`
	Limit     float64   `json:"limit,omitempty"`
	Stop      float64   `json:"stop,omitempty"`
	Offset    float64   `json:"offset,omitempty"`

	Symbol       string  `json:"symbol"`
	Market       string  `json:"market"`
	Currency     string  `json:"currency"`
	SecurityType string  `json:"security_type"`
	Multiplier   float64 `json:"multiplier"`

	Status      Status    `json:"status"`
	PostedAt    time.Time `json:"posted_at"`
	AsOf        time.Time `json:"asof"`
	TradedPrice float64   `json:"traded_price,omitempty"`

	// Booked marks a fill whose position and cash effects have reached the
	// ledgers. Fills held back by an unresolved OCA group stay unbooked
	// until the rollup that finally consumes them.
	Booked bool `json:"booked,omitempty"`

	// Attached carries child orders at submission time only; it is never
	// persisted. Children are stored as their own records threaded by
	// AttachRef.
	Attached []Order `json:"attached,omitempty"`
}

// Contract returns the instrument attributes carried on the order.
func (o Order) Contract() market.Contract {
	return market.Contract{
		Symbol:       o.Symbol,
		Market:       o.Market,
		Currency:     o.Currency,
		SecurityType: o.SecurityType,
		Multiplier:   o.Multiplier,
	}
}

// sameTuple reports whether two orders share the identifying tuple used for
// amendment and idempotent-cancel matching.
func (o Order) sameTuple(other Order) bool {
	return o.Symbol == other.Symbol &&
		o.Market == other.Market &&
		o.OrderType == other.OrderType &&
		o.OrderRef == other.OrderRef &&
		o.AttachRef == other.AttachRef &&
		o.Action.Buys() == other.Action.Buys()
}

var validTypes = map[OrderType]bool{
	TypeMKT: true, TypeMIT: true, TypeMOO: true, TypeMOC: true,
	TypeLMT: true, TypeLOO: true, TypeLOC: true, TypeSTP: true,
}

var validTIFs = map[TIF]bool{GTC: true, DAY: true, IOC: true}

// validate checks the structural requirements per order type before
// construction.
func validate(o Order) error {
	if o.Quant <= 0 {
		return validationf("quant must be positive, got %v", o.Quant)
	}

	if o.OrderType == TypeLEG {
		if !o.Action.leg() {
			return validationf("leg order action must be LEG-BUY or LEG-SELL, got %q", o.Action)
		}
		if len(o.Attached) > 0 {
			return validationf("leg orders must not carry attached orders")
		}
		if o.TIF != "" && !validTIFs[o.TIF] {
			return validationf("unsupported tif %q", o.TIF)
		}
		return nil
	}

	if o.Action != ActionBuy && o.Action != ActionSell {
		return validationf("unsupported action %q for order type %q", o.Action, o.OrderType)
	}
	if !validTypes[o.OrderType] {
		return validationf("unsupported order type %q", o.OrderType)
	}
	if !validTIFs[o.TIF] {
		return validationf("tif must be GTC, DAY or IOC, got %q", o.TIF)
	}

	switch o.OrderType {
	case TypeLMT, TypeLOO, TypeLOC:
		if o.Limit == 0 {
			return validationf("%s order requires a limit price", o.OrderType)
		}
	case TypeSTP, TypeMIT:
		if o.Stop == 0 {
			return validationf("%s order requires a stop price", o.OrderType)
		}
	}
	return nil
}
