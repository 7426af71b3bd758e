package engine

import (
	"strings"
	"sync"

	"stratexec/internal/clock"
	"stratexec/internal/events"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type emitFunc func(t events.Type, payload any)

// orderBook owns the order state machine:
//
//	pending -> executing -> filled
//	pending|executing -> cancelled | rejected
//
// It is the only writer of Order values and is not safe for concurrent use;
// the engine serializes access.
type orderBook struct {
	clock   clock.Clock
	orders  map[string]*Order
	created []string
	queue   *orderQueue
	emit    emitFunc
	newID   func() string

	// views holds frozen copies in creation order and is shared with
	// published snapshots, so it is replaced, never written in place.
	views []Order
	dirty map[string]struct{}
	// slot maps order id to its index in views. Entries never change once
	// stored, which lets readers use it without the engine lock.
	slot sync.Map
}

func newOrderBook(c clock.Clock, capacity int, emit emitFunc) *orderBook {
	if emit == nil {
		emit = func(events.Type, any) {}
	}
	return &orderBook{
		clock:  c,
		orders: make(map[string]*Order),
		queue:  newOrderQueue(capacity),
		emit:   emit,
		newID:  uuid.NewString,
		dirty:  make(map[string]struct{}),
	}
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func validateRequest(req OrderRequest) error {
	if strings.TrimSpace(req.StrategyID) == "" {
		return validationf("strategy id is required")
	}
	if normalizeSymbol(req.Symbol) == "" {
		return validationf("symbol is required")
	}
	if !req.Side.Valid() {
		return validationf("side must be buy or sell, got %q", req.Side)
	}
	if !req.Type.Valid() {
		return validationf("type must be market, limit or stop, got %q", req.Type)
	}
	if !req.Quantity.IsPositive() {
		return validationf("quantity must be > 0, got %s", req.Quantity)
	}
	if req.Type.NeedsPrice() && req.Price == nil {
		return validationf("%s order requires a price", req.Type)
	}
	if req.Price != nil && !req.Price.IsPositive() {
		return validationf("price must be > 0, got %s", req.Price)
	}
	return nil
}

// create validates req and appends a pending order to the queue. When the
// queue is full the order is kept as rejected and ErrQueueFull is returned.
func (b *orderBook) create(req OrderRequest) (Order, error) {
	if err := validateRequest(req); err != nil {
		return Order{}, err
	}
	now := b.clock.Now()
	o := &Order{
		ID:         b.newID(),
		Seq:        b.clock.Next(),
		StrategyID: strings.TrimSpace(req.StrategyID),
		Symbol:     normalizeSymbol(req.Symbol),
		Side:       req.Side,
		Type:       req.Type,
		Quantity:   req.Quantity,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
		Metadata:   req.Metadata.Clone(),
	}
	if req.Price != nil {
		p := *req.Price
		o.Price = &p
	}
	b.orders[o.ID] = o
	b.slot.Store(o.ID, len(b.created))
	b.created = append(b.created, o.ID)
	b.touch(o.ID)
	if err := b.queue.push(o.ID); err != nil {
		o.Status = StatusRejected
		o.Reason = err.Error()
		return o.Clone(), err
	}
	b.emit(events.OrderCreated, o.Clone())
	return o.Clone(), nil
}

func (b *orderBook) lookup(id string) (*Order, error) {
	o, ok := b.orders[id]
	if !ok {
		return nil, notFoundf("order %s", id)
	}
	return o, nil
}

func (b *orderBook) get(id string) (Order, bool) {
	o, ok := b.orders[id]
	if !ok {
		return Order{}, false
	}
	return o.Clone(), true
}

// advance moves a pending order to executing; any other state is left as is.
func (b *orderBook) advance(id string) (Order, error) {
	o, err := b.lookup(id)
	if err != nil {
		return Order{}, err
	}
	if o.Status == StatusPending {
		o.Status = StatusExecuting
		o.UpdatedAt = b.clock.Now()
		b.touch(id)
	}
	return o.Clone(), nil
}

// resolveFill marks an open order filled and drops it from the queue.
func (b *orderBook) resolveFill(id string, price, qty decimal.Decimal) (Order, error) {
	o, err := b.lookup(id)
	if err != nil {
		return Order{}, err
	}
	if o.Status.Terminal() {
		return o.Clone(), invalidStatef("order %s is %s", id, o.Status)
	}
	if !price.IsPositive() {
		return o.Clone(), validationf("fill price must be > 0, got %s", price)
	}
	if !qty.IsPositive() {
		return o.Clone(), validationf("fill quantity must be > 0, got %s", qty)
	}
	if qty.GreaterThan(o.Quantity) {
		return o.Clone(), validationf("fill quantity %s exceeds order quantity %s", qty, o.Quantity)
	}
	o.Status = StatusFilled
	o.FillPrice = price
	o.FillQuantity = qty
	o.UpdatedAt = b.clock.Now()
	b.touch(id)
	b.queue.remove(id)
	b.emit(events.OrderFilled, o.Clone())
	return o.Clone(), nil
}

func (b *orderBook) cancel(id string) (Order, error) {
	o, err := b.lookup(id)
	if err != nil {
		return Order{}, err
	}
	if o.Status.Terminal() {
		return o.Clone(), invalidStatef("order %s is %s", id, o.Status)
	}
	o.Status = StatusCancelled
	o.UpdatedAt = b.clock.Now()
	b.touch(id)
	b.queue.remove(id)
	b.emit(events.OrderCancelled, o.Clone())
	return o.Clone(), nil
}

// reject records an execution-side refusal for an open order.
func (b *orderBook) reject(id, reason string) (Order, error) {
	o, err := b.lookup(id)
	if err != nil {
		return Order{}, err
	}
	if o.Status.Terminal() {
		return o.Clone(), invalidStatef("order %s is %s", id, o.Status)
	}
	o.Status = StatusRejected
	o.Reason = reason
	o.UpdatedAt = b.clock.Now()
	b.touch(id)
	b.queue.remove(id)
	return o.Clone(), nil
}

// nextExecutable returns the oldest pending order, moving it to executing.
func (b *orderBook) nextExecutable() (Order, bool) {
	var found *Order
	b.queue.each(func(id string) bool {
		if o := b.orders[id]; o != nil && o.Status == StatusPending {
			found = o
			return false
		}
		return true
	})
	if found == nil {
		return Order{}, false
	}
	found.Status = StatusExecuting
	found.UpdatedAt = b.clock.Now()
	b.touch(found.ID)
	return found.Clone(), true
}

// open counts queued orders (pending or executing).
func (b *orderBook) open() int {
	return b.queue.len()
}

func (b *orderBook) touch(id string) {
	b.dirty[id] = struct{}{}
}

// view returns the read-only order list for a snapshot. Only orders
// touched since the previous call are cloned again; when nothing changed
// the previous slice is returned as is.
func (b *orderBook) view() []Order {
	if len(b.dirty) == 0 && b.views != nil {
		return b.views
	}
	next := make([]Order, len(b.created))
	copy(next, b.views)
	for id := range b.dirty {
		if i, ok := b.index(id); ok {
			next[i] = b.orders[id].Clone()
		}
	}
	clear(b.dirty)
	b.views = next
	return next
}

// index reports where id sits in any view taken after its creation.
func (b *orderBook) index(id string) (int, bool) {
	v, ok := b.slot.Load(id)
	if !ok {
		return 0, false
	}
	return v.(int), true
}
