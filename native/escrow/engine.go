package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"bazaar/core/events"
	"bazaar/core/types"
	nativecommon "bazaar/native/common"
)

const moduleName = "escrow"

// Default holding windows, in seconds. Both are measured against the coarse
// monotonic clock supplied by SetNowFunc; deadline comparisons are >= only.
const (
	DefaultHoldPeriod    int64 = 14 * 24 * 60 * 60
	DefaultDisputeWindow int64 = 7 * 24 * 60 * 60
)

var errNilState = errors.New("escrow engine: state not configured")

type engineState interface {
	EscrowPut(*Escrow) error
	EscrowGet(id [32]byte) (*Escrow, bool)
	EscrowIndexOrder(orderID string, id [32]byte) error
	EscrowIDByOrder(orderID string) ([32]byte, bool)
	VaultAddress(currency string) [20]byte
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
}

// Engine wires the custody vault business logic with external state and event
// emitters. Funds move payer -> vault at creation and vault -> payee/payer on
// release/refund; the status transition to a terminal value is persisted
// before the outbound transfer executes, so re-entry during the transfer
// observes the terminal state and fails ErrWrongState instead of paying twice.
type Engine struct {
	state         engineState
	emitter       events.Emitter
	pauses        nativecommon.PauseView
	nowFn         func() int64
	holdPeriod    int64
	disputeWindow int64
	arbiter       [20]byte
}

// NewEngine creates a custody vault engine with a no-op emitter and default
// holding windows.
func NewEngine() *Engine {
	return &Engine{
		emitter:       events.NoopEmitter{},
		nowFn:         func() int64 { return time.Now().Unix() },
		holdPeriod:    DefaultHoldPeriod,
		disputeWindow: DefaultDisputeWindow,
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

// SetHoldPeriod configures the auto-release window applied to new escrows.
func (e *Engine) SetHoldPeriod(seconds int64) {
	if seconds > 0 {
		e.holdPeriod = seconds
	}
}

// SetDisputeWindow configures the minimum age, counted from escrow creation,
// a disputed escrow must reach before a forced refund is permitted.
func (e *Engine) SetDisputeWindow(seconds int64) {
	if seconds > 0 {
		e.disputeWindow = seconds
	}
}

// SetArbiter configures the administrative authority permitted to override
// release and refund decisions.
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

// Create takes custody of the payment for an order and mints a Locked escrow
// record. Exactly one escrow may ever exist per order.
func (e *Engine) Create(orderID string, payer, payee [20]byte, amount *big.Int, currency string) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	now := e.now()
	esc := &Escrow{
		OrderID:       orderID,
		Payer:         payer,
		Payee:         payee,
		Amount:        amount,
		Currency:      currency,
		Status:        StatusLocked,
		CreatedAt:     now,
		AutoReleaseAt: now + e.holdPeriod,
	}
	sanitized, err := SanitizeEscrow(esc)
	if err != nil {
		return nil, err
	}
	if _, ok := e.state.EscrowIDByOrder(sanitized.OrderID); ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, sanitized.OrderID)
	}
	sanitized.ID = DeriveID(sanitized.OrderID, sanitized.Payer, sanitized.CreatedAt)
	if _, ok := e.state.EscrowGet(sanitized.ID); ok {
		return nil, fmt.Errorf("%w: id collision for %s", ErrAlreadyExists, sanitized.OrderID)
	}
	vault := e.state.VaultAddress(sanitized.Currency)
	if err := e.transfer(sanitized.Payer, vault, sanitized.Currency, sanitized.Amount); err != nil {
		return nil, err
	}
	if err := e.state.EscrowPut(sanitized); err != nil {
		return nil, err
	}
	if err := e.state.EscrowIndexOrder(sanitized.OrderID, sanitized.ID); err != nil {
		return nil, err
	}
	e.emit(events.EscrowCreated{
		EscrowID: sanitized.ID,
		OrderID:  sanitized.OrderID,
		Buyer:    sanitized.Payer,
		Seller:   sanitized.Payee,
		Amount:   sanitized.Amount,
		Currency: sanitized.Currency,
	})
	return sanitized.Clone(), nil
}

// Release pays the full held amount to the payee. Permitted while Locked for
// the payer or the arbiter, for anyone once the auto-release deadline has
// passed, and for the arbiter alone while Disputed (dispute resolution in the
// payee's favour).
func (e *Engine) Release(id [32]byte, caller [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status.Terminal() {
		return fmt.Errorf("%w: already %s", ErrWrongState, esc.Status)
	}
	switch esc.Status {
	case StatusLocked:
		if caller != esc.Payer && !e.isArbiter(caller) && e.now() < esc.AutoReleaseAt {
			return fmt.Errorf("%w: release of %x", ErrUnauthorized, esc.ID[:4])
		}
	case StatusDisputed:
		if !e.isArbiter(caller) {
			return fmt.Errorf("%w: disputed escrow requires arbiter release", ErrWrongState)
		}
	}
	// Terminal state is committed before the transfer; a reentrant call
	// sees Released and is rejected above.
	esc.Status = StatusReleased
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	vault := e.state.VaultAddress(esc.Currency)
	if err := e.transfer(vault, esc.Payee, esc.Currency, esc.Amount); err != nil {
		return err
	}
	e.emit(events.EscrowReleased{
		EscrowID: esc.ID,
		OrderID:  esc.OrderID,
		Seller:   esc.Payee,
		Amount:   esc.Amount,
	})
	return nil
}

// Refund returns the full held amount to the payer. Permitted while Locked
// for the payee or the arbiter, and for either party or the arbiter on a
// disputed escrow once the dispute window, measured from escrow creation,
// has elapsed.
func (e *Engine) Refund(id [32]byte, caller [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status.Terminal() {
		return fmt.Errorf("%w: already %s", ErrWrongState, esc.Status)
	}
	switch esc.Status {
	case StatusLocked:
		if caller != esc.Payee && !e.isArbiter(caller) {
			return fmt.Errorf("%w: refund of %x", ErrUnauthorized, esc.ID[:4])
		}
	case StatusDisputed:
		// The window is anchored at creation, not at the dispute, so a
		// late dispute cannot extend the freeze.
		if e.now() < esc.CreatedAt+e.disputeWindow {
			return fmt.Errorf("%w: dispute window still open", ErrWrongState)
		}
		if caller != esc.Payer && caller != esc.Payee && !e.isArbiter(caller) {
			return fmt.Errorf("%w: refund of %x", ErrUnauthorized, esc.ID[:4])
		}
	}
	esc.Status = StatusRefunded
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	vault := e.state.VaultAddress(esc.Currency)
	if err := e.transfer(vault, esc.Payer, esc.Currency, esc.Amount); err != nil {
		return err
	}
	e.emit(events.EscrowRefunded{
		EscrowID: esc.ID,
		OrderID:  esc.OrderID,
		Buyer:    esc.Payer,
		Amount:   esc.Amount,
	})
	return nil
}

// Dispute freezes the escrow pending resolution. Only the payer or the payee
// may raise it, and only while Locked.
func (e *Engine) Dispute(id [32]byte, caller [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status != StatusLocked {
		return fmt.Errorf("%w: cannot dispute %s escrow", ErrWrongState, esc.Status)
	}
	if caller != esc.Payer && caller != esc.Payee {
		return fmt.Errorf("%w: dispute of %x", ErrUnauthorized, esc.ID[:4])
	}
	esc.Status = StatusDisputed
	esc.Disputed = true
	esc.DisputedAt = e.now()
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	e.emit(events.DisputeInitiated{
		EscrowID:  esc.ID,
		OrderID:   esc.OrderID,
		Initiator: caller,
	})
	return nil
}

// Get returns a copy of the escrow record.
func (e *Engine) Get(id [32]byte) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.loadEscrow(id)
}

// GetByOrder resolves the escrow linked to the order, if any.
func (e *Engine) GetByOrder(orderID string) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	id, ok := e.state.EscrowIDByOrder(orderID)
	if !ok {
		return nil, fmt.Errorf("%w: no escrow for order %s", ErrNotFound, orderID)
	}
	return e.loadEscrow(id)
}

// CanAutoRelease reports whether the auto-release deadline has passed for a
// still-locked escrow.
func (e *Engine) CanAutoRelease(id [32]byte) (bool, error) {
	esc, err := e.Get(id)
	if err != nil {
		return false, err
	}
	return esc.Status == StatusLocked && e.now() >= esc.AutoReleaseAt, nil
}

func (e *Engine) loadEscrow(id [32]byte) (*Escrow, error) {
	esc, ok := e.state.EscrowGet(id)
	if !ok {
		return nil, fmt.Errorf("%w: %x", ErrNotFound, id[:4])
	}
	return esc.Clone(), nil
}

func (e *Engine) transfer(from, to [20]byte, currency string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	fromAcc, err := e.state.GetAccount(from)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	toAcc, err := e.state.GetAccount(to)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	balance := fromAcc.BalanceOf(currency)
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: insufficient %s balance", ErrTransferFailed, currency)
	}
	fromAcc.SetBalance(currency, new(big.Int).Sub(balance, amount))
	toAcc.SetBalance(currency, new(big.Int).Add(toAcc.BalanceOf(currency), amount))
	if err := e.state.PutAccount(from, fromAcc); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.state.PutAccount(to, toAcc); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	return nil
}
