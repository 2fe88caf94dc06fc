package broker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rustyeddy/simbroker/ledger"
)

// Submit validates and posts an order, then recursively posts its attached
// children threaded by the new order_ref. Submitting an order whose
// identifying tuple matches a still-open order amends it in place rather
// than duplicating it. Returns the posted orders, parent first.
func (b *Broker) Submit(ctx context.Context, o Order, asof time.Time) ([]Order, error) {
	if asof.IsZero() {
		return nil, validationf("submit requires an asof")
	}

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

	touched := make(map[ledger.Key]bool)
	submitted, err := b.submitTree(ctx, &orders, o, asof, touched)
	if err != nil {
		return nil, err
	}

	if err := b.rewriteOrders(ctx, orders, touched); err != nil {
		return nil, err
	}
	return submitted, nil
}

func (b *Broker) submitTree(ctx context.Context, orders *[]Order, o Order, asof time.Time, touched map[ledger.Key]bool) ([]Order, error) {
	if err := validate(o); err != nil {
		return nil, err
	}
	if err := b.resolveContract(ctx, &o); err != nil {
		return nil, err
	}

	if o.OrderRef == "" {
		o.OrderRef = b.ids.Next()
	} else if findByRef(*orders, o.OrderRef) == nil {
		return nil, &NotFoundError{OrderRef: o.OrderRef}
	}

	attached := o.Attached
	o.Attached = nil
	o.PostedAt = asof
	o.AsOf = asof
	o.TradedPrice = 0

	o.Status = StatusWorking
	if parent := findOpenByRef(*orders, o.AttachRef); parent != nil {
		o.Status = StatusPending
	}

	if err := place(orders, o, touched); err != nil {
		return nil, err
	}

	out := []Order{o}
	for _, child := range attached {
		child.AttachRef = o.OrderRef
		subs, err := b.submitTree(ctx, orders, child, asof, touched)
		if err != nil {
			return nil, err
		}
		out = append(out, subs...)
	}
	return out, nil
}

// place amends the matching open order in the next-generation set or appends
// a new one, recording the partitions the write will touch.
func place(orders *[]Order, o Order, touched map[ledger.Key]bool) error {
	for i := range *orders {
		cur := (*orders)[i]
		if !cur.Status.Open() || cur.OrderRef != o.OrderRef {
			continue
		}
		if !cur.sameTuple(o) {
			return validationf("order_ref %q already in use by an open order", o.OrderRef)
		}
		touched[ledger.MonthKey(cur.AsOf)] = true
		touched[ledger.MonthKey(o.AsOf)] = true
		(*orders)[i] = o
		return nil
	}
	touched[ledger.MonthKey(o.AsOf)] = true
	*orders = append(*orders, o)
	return nil
}

// resolveContract completes missing instrument attributes through the lookup
// collaborator.
func (b *Broker) resolveContract(ctx context.Context, o *Order) error {
	if o.Symbol == "" {
		return validationf("order requires a symbol")
	}
	if o.Multiplier == 0 {
		o.Multiplier = 1
	}
	if o.Contract().Complete() {
		return nil
	}
	if b.lookup == nil {
		return validationf("order %s.%s has incomplete contract attributes and no lookup is configured", o.Symbol, o.Market)
	}

	resolved, err := b.lookup(ctx, o.Symbol, o.Market)
	if err != nil {
		return err
	}
	if o.Market == "" {
		o.Market = resolved.Market
	}
	if o.Currency == "" {
		o.Currency = resolved.Currency
	}
	if o.SecurityType == "" {
		o.SecurityType = resolved.SecurityType
	}
	if resolved.Multiplier != 0 && o.Multiplier == 1 {
		o.Multiplier = resolved.Multiplier
	}
	if !o.Contract().Complete() {
		return validationf("contract for %s.%s is incomplete after lookup", o.Symbol, o.Market)
	}
	return nil
}

// Cancel cancels the referenced order together with its whole attachment
// subtree. Cancelling a combo leg cancels its parent. Cancelling an
// already-terminal order is an idempotent no-op returning the order as-is.
func (b *Broker) Cancel(ctx context.Context, orderRef string, asof time.Time) ([]Order, error) {
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

	target := findByRef(orders, orderRef)
	if target == nil {
		return nil, &NotFoundError{OrderRef: orderRef}
	}
	if target.Status.Terminal() {
		return []Order{*target}, nil
	}

	// A leg cannot die alone; take down the combo through its parent.
	if target.OrderType == TypeLEG {
		if parent := findOpenByRef(orders, target.AttachRef); parent != nil {
			target = parent
		}
	}

	touched := make(map[ledger.Key]bool)
	var out []Order

	// Walk the attachment forest breadth-first with a visited guard, so
	// malformed cyclic attach_ref data cannot loop.
	visited := map[string]bool{target.OrderRef: true}
	queue := []string{target.OrderRef}
	for len(queue) > 0 {
		ref := queue[0]
		queue = queue[1:]

		for i := range orders {
			o := &orders[i]
			if !o.Status.Open() {
				continue
			}
			if o.OrderRef == ref {
				touched[ledger.MonthKey(o.AsOf)] = true
				*o = cancelled(*o, asof)
				touched[ledger.MonthKey(o.AsOf)] = true
				out = append(out, *o)
				continue
			}
			if o.AttachRef == ref && !visited[o.OrderRef] {
				visited[o.OrderRef] = true
				queue = append(queue, o.OrderRef)
			}
		}
	}

	if err := b.rewriteOrders(ctx, orders, touched); err != nil {
		return nil, err
	}
	return out, nil
}

// OCA submits every attached order under one shared group id, generating a
// synthetic id when none is supplied. Presenting an existing group id
// appends siblings to that group.
func (b *Broker) OCA(ctx context.Context, groupRef string, attached []Order, asof time.Time) ([]Order, error) {
	if len(attached) == 0 {
		return nil, validationf("oca requires attached orders")
	}

	if err := b.acquire(ctx); err != nil {
		return nil, err
	}
	defer b.release()

	if err := b.advanceLocked(ctx, asof); err != nil {
		return nil, err
	}

	if groupRef == "" {
		groupRef = "oca-" + uuid.NewString()
	}

	orders, err := ledger.ReadAll[Order](ctx, b.store, ledger.Orders)
	if err != nil {
		return nil, err
	}

	touched := make(map[ledger.Key]bool)
	var out []Order
	for _, o := range attached {
		o.AttachRef = groupRef
		subs, err := b.submitTree(ctx, &orders, o, asof, touched)
		if err != nil {
			return nil, err
		}
		out = append(out, subs...)
	}

	if err := b.rewriteOrders(ctx, orders, touched); err != nil {
		return nil, err
	}
	return out, nil
}

// rewriteOrders persists the next-generation order set for the touched
// partitions under one exclusive lock.
func (b *Broker) rewriteOrders(ctx context.Context, orders []Order, touched map[ledger.Key]bool) error {
	if len(touched) == 0 {
		return nil
	}
	parts := make(map[ledger.Key][]Order, len(touched))
	for key := range touched {
		parts[key] = nil
	}
	for _, o := range orders {
		key := ledger.MonthKey(o.AsOf)
		if _, ok := parts[key]; ok {
			parts[key] = append(parts[key], o)
		}
	}
	return ledger.ReplaceAll(ctx, b.store, ledger.Orders, parts)
}

func findOpenByRef(orders []Order, ref string) *Order {
	if ref == "" {
		return nil
	}
	for i := len(orders) - 1; i >= 0; i-- {
		if orders[i].OrderRef == ref && orders[i].Status.Open() {
			return &orders[i]
		}
	}
	return nil
}
