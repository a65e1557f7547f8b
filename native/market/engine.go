package market

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"bazaar/core/events"
	nativecommon "bazaar/native/common"
)

const moduleName = "market"

var errNilState = errors.New("market engine: state not configured")

type engineState interface {
	ListingPut(*Listing) error
	ListingGet(id string) (*Listing, bool)
	ListingsBySeller(seller [20]byte) ([]string, error)
}

// Engine owns the inventory ledger. Every stock mutation flows through its
// entry points; the coordinator reserves stock exclusively via
// DecrementStock, which is the atomic check-and-update.
type Engine struct {
	state   engineState
	emitter events.Emitter
	pauses  nativecommon.PauseView
	nowFn   func() int64
}

// NewEngine creates a stock ledger engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
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
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

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

// CreateListing registers a new active listing owned by the seller.
func (e *Engine) CreateListing(id string, seller [20]byte, price *big.Int, currency string, stock uint64, metaRef [32]byte) (*Listing, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty listing id", ErrInvalidInput)
	}
	if stock == 0 {
		return nil, fmt.Errorf("%w: stock must be positive", ErrInvalidInput)
	}
	if _, ok := e.state.ListingGet(trimmed); ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, trimmed)
	}
	listing := &Listing{
		ID:        trimmed,
		Seller:    seller,
		Price:     price,
		Currency:  currency,
		Stock:     stock,
		MetaRef:   metaRef,
		Active:    true,
		CreatedAt: e.now(),
	}
	sanitized, err := SanitizeListing(listing)
	if err != nil {
		return nil, err
	}
	if err := e.state.ListingPut(sanitized); err != nil {
		return nil, err
	}
	e.emit(events.ListingCreated{
		ListingID: sanitized.ID,
		Seller:    sanitized.Seller,
		Price:     sanitized.Price,
		Currency:  sanitized.Currency,
		Stock:     sanitized.Stock,
	})
	return sanitized.Clone(), nil
}

// UpdateListing mutates price, stock and the active flag. Only the recorded
// seller may call it.
func (e *Engine) UpdateListing(id string, caller [20]byte, price *big.Int, stock uint64, active bool) (*Listing, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	listing, err := e.loadListing(id)
	if err != nil {
		return nil, err
	}
	if listing.Seller != caller {
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, listing.ID)
	}
	if price == nil || price.Sign() <= 0 {
		return nil, fmt.Errorf("%w: price must be positive", ErrInvalidInput)
	}
	listing.Price = new(big.Int).Set(price)
	listing.Stock = stock
	listing.Active = active
	if err := e.state.ListingPut(listing); err != nil {
		return nil, err
	}
	e.emit(events.ListingUpdated{
		ListingID: listing.ID,
		Price:     listing.Price,
		Stock:     listing.Stock,
		Active:    listing.Active,
	})
	return listing.Clone(), nil
}

// DecrementStock atomically reserves quantity units from the listing and
// returns the remaining stock. Two callers contending for the last unit
// cannot both succeed: the check and the update commit in the same unit of
// work.
func (e *Engine) DecrementStock(id string, quantity uint64) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return 0, err
	}
	if quantity == 0 {
		return 0, fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
	}
	listing, err := e.loadListing(id)
	if err != nil {
		return 0, err
	}
	if !listing.Active {
		return 0, fmt.Errorf("%w: %s", ErrInactive, listing.ID)
	}
	if listing.Stock < quantity {
		return 0, fmt.Errorf("%w: %s has %d, want %d", ErrInsufficientStock, listing.ID, listing.Stock, quantity)
	}
	listing.Stock -= quantity
	if err := e.state.ListingPut(listing); err != nil {
		return 0, err
	}
	e.emit(events.StockDecremented{
		ListingID: listing.ID,
		Quantity:  quantity,
		Remaining: listing.Stock,
	})
	return listing.Stock, nil
}

// GetListing returns a copy of the listing record.
func (e *Engine) GetListing(id string) (*Listing, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.loadListing(id)
}

// HasStock reports whether the listing is active and holds at least quantity
// units.
func (e *Engine) HasStock(id string, quantity uint64) (bool, error) {
	listing, err := e.GetListing(id)
	if err != nil {
		return false, err
	}
	return listing.Active && listing.Stock >= quantity, nil
}

// ListBySeller returns the listing ids registered by the seller.
func (e *Engine) ListBySeller(seller [20]byte) ([]string, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.ListingsBySeller(seller)
}

func (e *Engine) loadListing(id string) (*Listing, error) {
	trimmed := strings.TrimSpace(id)
	listing, ok := e.state.ListingGet(trimmed)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, trimmed)
	}
	return listing.Clone(), nil
}
