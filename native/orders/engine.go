package orders

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"bazaar/core/events"
	nativecommon "bazaar/native/common"
	"bazaar/native/escrow"
	"bazaar/native/market"
)

const moduleName = "orders"

var (
	errNilState  = errors.New("orders engine: state not configured")
	errNilMarket = errors.New("orders engine: market engine not configured")
	errNilEscrow = errors.New("orders engine: escrow engine not configured")
)

type engineState interface {
	OrderPut(*Order) error
	OrderGet(id string) (*Order, bool)
	OrderIndexBuyer(buyer [20]byte, id string) error
	OrdersByBuyer(buyer [20]byte) ([]string, error)
}

// Engine is the saga coordinator. It is the only module aware of both the
// stock ledger and the custody vault, and it drives them strictly through
// their public operations. Each entry point runs inside one unit of work: a
// failure in a nested engine call unwinds the coordinator's own writes too.
type Engine struct {
	state   engineState
	market  *market.Engine
	escrow  *escrow.Engine
	emitter events.Emitter
	pauses  nativecommon.PauseView
	nowFn   func() int64
	arbiter [20]byte
}

// NewEngine constructs an order coordinator bound to the supplied leaf
// engines.
func NewEngine(marketEngine *market.Engine, escrowEngine *escrow.Engine) *Engine {
	return &Engine{
		market:  marketEngine,
		escrow:  escrowEngine,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op
// implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauses configures the module pause view consulted by mutating entry
// points.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
	if e.market != nil {
		e.market.SetPauses(p)
	}
	if e.escrow != nil {
		e.escrow.SetPauses(p)
	}
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetArbiter configures the administrative authority recognised for status
// overrides and cancellations.
func (e *Engine) SetArbiter(addr [20]byte) { e.arbiter = addr }

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) isArbiter(caller [20]byte) bool {
	return e.arbiter != ([20]byte{}) && caller == e.arbiter
}

func (e *Engine) ready() error {
	switch {
	case e == nil || e.state == nil:
		return errNilState
	case e.market == nil:
		return errNilMarket
	case e.escrow == nil:
		return errNilEscrow
	}
	return nil
}

// CreateOrder validates the listing, reserves stock atomically and records a
// Pending order. The stock decrement and the order insert commit in the same
// unit of work: if either fails, neither persists. Stock reserved here is not
// restored on later cancellation; the decrement is the source of truth for
// demand.
func (e *Engine) CreateOrder(orderID, listingID string, quantity uint64, buyer [20]byte) (*Order, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(orderID)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty order id", ErrInvalidInput)
	}
	if quantity == 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
	}
	if _, ok := e.state.OrderGet(trimmed); ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, trimmed)
	}
	listing, err := e.market.GetListing(listingID)
	if err != nil {
		return nil, err
	}
	if _, err := e.market.DecrementStock(listing.ID, quantity); err != nil {
		return nil, err
	}
	now := e.now()
	order := &Order{
		ID:        trimmed,
		ListingID: listing.ID,
		Buyer:     buyer,
		Seller:    listing.Seller,
		Quantity:  quantity,
		Total:     new(big.Int).Mul(listing.Price, new(big.Int).SetUint64(quantity)),
		Currency:  listing.Currency,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.state.OrderPut(order); err != nil {
		return nil, err
	}
	if err := e.state.OrderIndexBuyer(buyer, order.ID); err != nil {
		return nil, err
	}
	e.emit(events.OrderCreated{
		OrderID:   order.ID,
		ListingID: order.ListingID,
		Buyer:     order.Buyer,
		Seller:    order.Seller,
		Quantity:  order.Quantity,
		Total:     order.Total,
		Currency:  order.Currency,
	})
	return order.Clone(), nil
}

// PayOrder moves the buyer's payment into custody and links the minted escrow
// to the order. The payment must match the order total exactly.
func (e *Engine) PayOrder(orderID string, payer [20]byte, value *big.Int) (*Order, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	order, err := e.loadOrder(orderID)
	if err != nil {
		return nil, err
	}
	if order.Buyer != payer {
		return nil, fmt.Errorf("%w: only the buyer may pay %s", ErrUnauthorized, order.ID)
	}
	if order.Status != StatusPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrWrongState, order.ID, order.Status)
	}
	if value == nil || value.Cmp(order.Total) != 0 {
		return nil, fmt.Errorf("%w: %s expects %s", ErrIncorrectAmount, order.ID, order.Total)
	}
	esc, err := e.escrow.Create(order.ID, order.Buyer, order.Seller, order.Total, order.Currency)
	if err != nil {
		return nil, err
	}
	order.EscrowID = esc.ID
	order.Status = StatusPaid
	order.UpdatedAt = e.now()
	if err := e.state.OrderPut(order); err != nil {
		return nil, err
	}
	e.emit(events.OrderPaid{
		OrderID:  order.ID,
		EscrowID: order.EscrowID,
		Amount:   order.Total,
	})
	return order.Clone(), nil
}

// MarkShipped records that the seller has dispatched a paid order.
func (e *Engine) MarkShipped(orderID string, caller [20]byte, notes string) (*Order, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	order, err := e.loadOrder(orderID)
	if err != nil {
		return nil, err
	}
	if order.Seller != caller {
		return nil, fmt.Errorf("%w: only the seller may ship %s", ErrUnauthorized, order.ID)
	}
	if order.Status != StatusPaid {
		return nil, fmt.Errorf("%w: %s is %s", ErrWrongState, order.ID, order.Status)
	}
	order.Status = StatusShipped
	order.UpdatedAt = e.now()
	if err := e.state.OrderPut(order); err != nil {
		return nil, err
	}
	e.emit(events.OrderShipped{OrderID: order.ID, Notes: strings.TrimSpace(notes)})
	return order.Clone(), nil
}

// ConfirmDelivery marks the order Delivered and instructs the vault to
// release the custodied payment to the seller. A failed release unwinds the
// whole operation, leaving the order Shipped.
func (e *Engine) ConfirmDelivery(orderID string, caller [20]byte) (*Order, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	order, err := e.loadOrder(orderID)
	if err != nil {
		return nil, err
	}
	if order.Buyer != caller {
		return nil, fmt.Errorf("%w: only the buyer may confirm %s", ErrUnauthorized, order.ID)
	}
	if order.Status != StatusShipped {
		return nil, fmt.Errorf("%w: %s is %s", ErrWrongState, order.ID, order.Status)
	}
	if order.EscrowID == ([32]byte{}) {
		return nil, fmt.Errorf("%w: %s has no linked escrow", ErrWrongState, order.ID)
	}
	order.Status = StatusDelivered
	order.UpdatedAt = e.now()
	if err := e.state.OrderPut(order); err != nil {
		return nil, err
	}
	// The buyer is the escrow payer, so the release authorisation holds.
	if err := e.escrow.Release(order.EscrowID, caller); err != nil {
		return nil, err
	}
	e.emit(events.OrderDelivered{OrderID: order.ID})
	return order.Clone(), nil
}

// Cancel aborts an order before delivery. Pending orders are simply marked
// Cancelled; paid orders additionally refund the escrow and end Refunded.
// Buyer, seller and the arbiter may cancel.
func (e *Engine) Cancel(orderID, reason string, caller [20]byte) (*Order, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	order, err := e.loadOrder(orderID)
	if err != nil {
		return nil, err
	}
	if caller != order.Buyer && caller != order.Seller && !e.isArbiter(caller) {
		return nil, fmt.Errorf("%w: cancel of %s", ErrUnauthorized, order.ID)
	}
	switch order.Status {
	case StatusPending:
		order.Status = StatusCancelled
	case StatusPaid:
		// The vault authorises refunds for the payee or the arbiter;
		// the coordinator has already authorised the cancelling party,
		// so it presents the payee as the refunding principal.
		if err := e.escrow.Refund(order.EscrowID, order.Seller); err != nil {
			return nil, err
		}
		order.Status = StatusRefunded
	default:
		return nil, fmt.Errorf("%w: %s is %s", ErrWrongState, order.ID, order.Status)
	}
	order.UpdatedAt = e.now()
	if err := e.state.OrderPut(order); err != nil {
		return nil, err
	}
	e.emit(events.OrderCancelled{OrderID: order.ID, Reason: strings.TrimSpace(reason)})
	return order.Clone(), nil
}

// UpdateStatus is the generic transition entry point used by the wire
// surface. Shipped and Cancelled map onto their dedicated operations;
// Delivered is reachable only through ConfirmDelivery.
func (e *Engine) UpdateStatus(orderID string, newStatus Status, notes string, caller [20]byte) (*Order, error) {
	switch newStatus {
	case StatusShipped:
		return e.MarkShipped(orderID, caller, notes)
	case StatusCancelled:
		return e.Cancel(orderID, notes, caller)
	case StatusDelivered:
		return nil, fmt.Errorf("%w: delivery is confirmed via ConfirmDelivery", ErrWrongState)
	default:
		return nil, fmt.Errorf("%w: cannot transition to %s directly", ErrInvalidInput, newStatus)
	}
}

// Get returns a copy of the order record.
func (e *Engine) Get(orderID string) (*Order, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.loadOrder(orderID)
}

// ListByBuyer returns the order ids placed by the buyer.
func (e *Engine) ListByBuyer(buyer [20]byte) ([]string, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.OrdersByBuyer(buyer)
}

func (e *Engine) loadOrder(id string) (*Order, error) {
	trimmed := strings.TrimSpace(id)
	order, ok := e.state.OrderGet(trimmed)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, trimmed)
	}
	return order.Clone(), nil
}
