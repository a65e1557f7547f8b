package escrow

import (
	"errors"
	"math/big"
	"testing"

	"bazaar/core/events"
	"bazaar/core/types"
)

type mockState struct {
	escrows  map[[32]byte]*Escrow
	byOrder  map[string][32]byte
	accounts map[[20]byte]*types.Account
}

func newMockState() *mockState {
	return &mockState{
		escrows:  make(map[[32]byte]*Escrow),
		byOrder:  make(map[string][32]byte),
		accounts: make(map[[20]byte]*types.Account),
	}
}

func (m *mockState) EscrowPut(esc *Escrow) error {
	m.escrows[esc.ID] = esc.Clone()
	return nil
}

func (m *mockState) EscrowGet(id [32]byte) (*Escrow, bool) {
	esc, ok := m.escrows[id]
	if !ok {
		return nil, false
	}
	return esc.Clone(), true
}

func (m *mockState) EscrowIndexOrder(orderID string, id [32]byte) error {
	m.byOrder[orderID] = id
	return nil
}

func (m *mockState) EscrowIDByOrder(orderID string) ([32]byte, bool) {
	id, ok := m.byOrder[orderID]
	return id, ok
}

func (m *mockState) VaultAddress(currency string) [20]byte {
	var vault [20]byte
	copy(vault[:], "vault:")
	copy(vault[6:], currency)
	return vault
}

func (m *mockState) GetAccount(addr [20]byte) (*types.Account, error) {
	if account, ok := m.accounts[addr]; ok {
		return account.Clone(), nil
	}
	return &types.Account{Balances: make(map[string]*big.Int)}, nil
}

func (m *mockState) PutAccount(addr [20]byte, account *types.Account) error {
	m.accounts[addr] = account.Clone()
	return nil
}

func (m *mockState) fund(addr [20]byte, currency string, amount int64) {
	account, _ := m.GetAccount(addr)
	account.SetBalance(currency, big.NewInt(amount))
	m.accounts[addr] = account
}

func (m *mockState) balance(addr [20]byte, currency string) *big.Int {
	account, _ := m.GetAccount(addr)
	return account.BalanceOf(currency)
}

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(evt events.Event) {
	c.events = append(c.events, evt)
}

var (
	buyer   = addr(1)
	vendor  = addr(2)
	arbiter = addr(9)
)

func addr(n byte) [20]byte {
	var a [20]byte
	a[19] = n
	return a
}

func newTestEngine(now *int64) (*Engine, *mockState, *capturingEmitter) {
	engine := NewEngine()
	state := newMockState()
	emitter := &capturingEmitter{}
	engine.SetState(state)
	engine.SetEmitter(emitter)
	engine.SetArbiter(arbiter)
	engine.SetNowFunc(func() int64 { return *now })
	return engine, state, emitter
}

func lockedEscrow(t *testing.T, engine *Engine, state *mockState) *Escrow {
	t.Helper()
	state.fund(buyer, "USD", 1000)
	esc, err := engine.Create("order-1", buyer, vendor, big.NewInt(250), "USD")
	if err != nil {
		t.Fatalf("create escrow: %v", err)
	}
	return esc
}

func TestCreateLocksFunds(t *testing.T) {
	now := int64(1700000000)
	engine, state, emitter := newTestEngine(&now)

	esc := lockedEscrow(t, engine, state)
	if esc.Status != StatusLocked {
		t.Fatalf("status = %s, want locked", esc.Status)
	}
	if esc.AutoReleaseAt != now+DefaultHoldPeriod {
		t.Fatalf("auto release at %d, want %d", esc.AutoReleaseAt, now+DefaultHoldPeriod)
	}
	if got := state.balance(buyer, "USD"); got.Cmp(big.NewInt(750)) != 0 {
		t.Fatalf("buyer balance = %s, want 750", got)
	}
	vault := state.VaultAddress("USD")
	if got := state.balance(vault, "USD"); got.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("vault balance = %s, want 250", got)
	}
	if len(emitter.events) != 1 || emitter.events[0].EventType() != events.TypeEscrowCreated {
		t.Fatalf("unexpected events: %+v", emitter.events)
	}
}

func TestCreateRejectsSecondEscrowForOrder(t *testing.T) {
	now := int64(1700000000)
	engine, state, _ := newTestEngine(&now)
	lockedEscrow(t, engine, state)

	if _, err := engine.Create("order-1", buyer, vendor, big.NewInt(100), "USD"); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestCreateInsufficientFunds(t *testing.T) {
	now := int64(1700000000)
	engine, state, _ := newTestEngine(&now)
	state.fund(buyer, "USD", 10)

	if _, err := engine.Create("order-1", buyer, vendor, big.NewInt(250), "USD"); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if len(state.escrows) != 0 {
		t.Fatalf("no escrow should be recorded on a failed transfer")
	}
}

func TestCreateRejectsSelfDealing(t *testing.T) {
	now := int64(1700000000)
	engine, state, _ := newTestEngine(&now)
	state.fund(buyer, "USD", 1000)

	if _, err := engine.Create("order-1", buyer, buyer, big.NewInt(250), "USD"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestReleasePaysExactlyOnce(t *testing.T) {
	now := int64(1700000000)
	engine, state, _ := newTestEngine(&now)
	esc := lockedEscrow(t, engine, state)

	if err := engine.Release(esc.ID, buyer); err != nil {
		t.Fatalf("release: %v", err)
	}
	if got := state.balance(vendor, "USD"); got.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("vendor balance = %s, want 250", got)
	}

	if err := engine.Release(esc.ID, buyer); !errors.Is(err, ErrWrongState) {
		t.Fatalf("second release should fail ErrWrongState, got %v", err)
	}
	if err := engine.Refund(esc.ID, vendor); !errors.Is(err, ErrWrongState) {
		t.Fatalf("refund after release should fail ErrWrongState, got %v", err)
	}
	if got := state.balance(vendor, "USD"); got.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("vendor balance changed after rejected calls: %s", got)
	}
}

func TestReleaseAuthorization(t *testing.T) {
	now := int64(1700000000)
	engine, state, _ := newTestEngine(&now)
	esc := lockedEscrow(t, engine, state)

	if err := engine.Release(esc.ID, addr(7)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stranger release should fail ErrUnauthorized, got %v", err)
	}

	// Past the deadline anyone may trigger the release.
	now = esc.AutoReleaseAt
	if err := engine.Release(esc.ID, addr(7)); err != nil {
		t.Fatalf("auto release: %v", err)
	}
	if got := state.balance(vendor, "USD"); got.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("vendor balance = %s, want 250", got)
	}
}

func TestArbiterReleasesLockedEscrow(t *testing.T) {
	now := int64(1700000000)
	engine, state, _ := newTestEngine(&now)
	esc := lockedEscrow(t, engine, state)

	if err := engine.Release(esc.ID, arbiter); err != nil {
		t.Fatalf("arbiter release: %v", err)
	}
}

func TestDisputeFreezesEscrow(t *testing.T) {
	now := int64(1700000000)
	engine, state, _ := newTestEngine(&now)
	esc := lockedEscrow(t, engine, state)

	if err := engine.Dispute(esc.ID, addr(7)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stranger dispute should fail ErrUnauthorized, got %v", err)
	}
	if err := engine.Dispute(esc.ID, buyer); err != nil {
		t.Fatalf("dispute: %v", err)
	}

	// Neither party can force an outcome while the dispute window is open.
	if err := engine.Release(esc.ID, buyer); !errors.Is(err, ErrWrongState) {
		t.Fatalf("payer release on disputed escrow should fail ErrWrongState, got %v", err)
	}
	if err := engine.Refund(esc.ID, vendor); !errors.Is(err, ErrWrongState) {
		t.Fatalf("refund inside dispute window should fail ErrWrongState, got %v", err)
	}

	if err := engine.Dispute(esc.ID, vendor); !errors.Is(err, ErrWrongState) {
		t.Fatalf("double dispute should fail ErrWrongState, got %v", err)
	}
}

func TestArbiterResolvesDispute(t *testing.T) {
	now := int64(1700000000)
	engine, state, _ := newTestEngine(&now)
	esc := lockedEscrow(t, engine, state)
	if err := engine.Dispute(esc.ID, vendor); err != nil {
		t.Fatalf("dispute: %v", err)
	}

	if err := engine.Release(esc.ID, arbiter); err != nil {
		t.Fatalf("arbiter resolution: %v", err)
	}
	if got := state.balance(vendor, "USD"); got.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("vendor balance = %s, want 250", got)
	}
}

func TestRefundAfterDisputeWindow(t *testing.T) {
	now := int64(1700000000)
	engine, state, _ := newTestEngine(&now)
	esc := lockedEscrow(t, engine, state)
	if err := engine.Dispute(esc.ID, buyer); err != nil {
		t.Fatalf("dispute: %v", err)
	}

	now += DefaultDisputeWindow
	if err := engine.Refund(esc.ID, buyer); err != nil {
		t.Fatalf("refund after window: %v", err)
	}
	if got := state.balance(buyer, "USD"); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("buyer balance = %s, want full refund to 1000", got)
	}
}

func TestRefundWindowAnchoredAtCreation(t *testing.T) {
	now := int64(1700000000)
	engine, state, _ := newTestEngine(&now)
	esc := lockedEscrow(t, engine, state)

	// A dispute raised after the window has already elapsed does not
	// restart the clock: the forced refund is available immediately.
	now = esc.CreatedAt + DefaultDisputeWindow
	if err := engine.Dispute(esc.ID, buyer); err != nil {
		t.Fatalf("late dispute: %v", err)
	}
	if err := engine.Refund(esc.ID, buyer); err != nil {
		t.Fatalf("refund after late dispute: %v", err)
	}
	if got := state.balance(buyer, "USD"); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("buyer balance = %s, want 1000", got)
	}
}

func TestRefundWindowStillOpen(t *testing.T) {
	now := int64(1700000000)
	engine, state, _ := newTestEngine(&now)
	esc := lockedEscrow(t, engine, state)
	if err := engine.Dispute(esc.ID, buyer); err != nil {
		t.Fatalf("dispute: %v", err)
	}

	now = esc.CreatedAt + DefaultDisputeWindow - 1
	if err := engine.Refund(esc.ID, buyer); !errors.Is(err, ErrWrongState) {
		t.Fatalf("refund one second early should fail ErrWrongState, got %v", err)
	}
	now = esc.CreatedAt + DefaultDisputeWindow
	if err := engine.Refund(esc.ID, buyer); err != nil {
		t.Fatalf("refund at window boundary: %v", err)
	}
}

func TestRefundWhileLocked(t *testing.T) {
	now := int64(1700000000)
	engine, state, _ := newTestEngine(&now)
	esc := lockedEscrow(t, engine, state)

	if err := engine.Refund(esc.ID, buyer); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("payer-initiated refund should fail ErrUnauthorized, got %v", err)
	}
	if err := engine.Refund(esc.ID, vendor); err != nil {
		t.Fatalf("payee refund: %v", err)
	}
	if got := state.balance(buyer, "USD"); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("buyer balance = %s, want 1000", got)
	}
}

func TestCanAutoRelease(t *testing.T) {
	now := int64(1700000000)
	engine, state, _ := newTestEngine(&now)
	esc := lockedEscrow(t, engine, state)

	ok, err := engine.CanAutoRelease(esc.ID)
	if err != nil || ok {
		t.Fatalf("CanAutoRelease before deadline = %v, %v", ok, err)
	}
	now = esc.AutoReleaseAt
	ok, err = engine.CanAutoRelease(esc.ID)
	if err != nil || !ok {
		t.Fatalf("CanAutoRelease at deadline = %v, %v", ok, err)
	}
}

func TestGetByOrder(t *testing.T) {
	now := int64(1700000000)
	engine, state, _ := newTestEngine(&now)
	esc := lockedEscrow(t, engine, state)

	found, err := engine.GetByOrder("order-1")
	if err != nil {
		t.Fatalf("get by order: %v", err)
	}
	if found.ID != esc.ID {
		t.Fatalf("resolved wrong escrow")
	}
	if _, err := engine.GetByOrder("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeriveIDDeterministic(t *testing.T) {
	a := DeriveID("order-1", buyer, 1700000000)
	b := DeriveID("order-1", buyer, 1700000000)
	if a != b {
		t.Fatalf("identical inputs must derive identical ids")
	}
	if a == DeriveID("order-2", buyer, 1700000000) {
		t.Fatalf("different orders must derive different ids")
	}
	if a == DeriveID("order-1", buyer, 1700000001) {
		t.Fatalf("different timestamps must derive different ids")
	}
}
