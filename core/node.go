package core

import (
	"math/big"

	"bazaar/core/events"
	"bazaar/native/escrow"
	"bazaar/native/market"
	"bazaar/native/orders"
	"bazaar/state"
)

// Config carries the tunables applied to the engines at assembly time.
// Windows are in seconds against the coarse ledger clock.
type Config struct {
	HoldPeriod    int64
	DisputeWindow int64
	Arbiter       [20]byte
}

// Node assembles the three marketplace engines over one state store. Every
// public operation executes as a single unit of work: the store buffers all
// writes and events and commits them together, so a failure in any nested
// engine call leaves no partial effects behind.
type Node struct {
	store  *state.Store
	market *market.Engine
	escrow *escrow.Engine
	orders *orders.Engine
}

// NewNode wires the engines to the store and applies the configuration.
func NewNode(store *state.Store, cfg Config) *Node {
	marketEngine := market.NewEngine()
	marketEngine.SetState(store)
	marketEngine.SetEmitter(store)

	escrowEngine := escrow.NewEngine()
	escrowEngine.SetState(store)
	escrowEngine.SetEmitter(store)
	escrowEngine.SetHoldPeriod(cfg.HoldPeriod)
	escrowEngine.SetDisputeWindow(cfg.DisputeWindow)
	escrowEngine.SetArbiter(cfg.Arbiter)

	orderEngine := orders.NewEngine(marketEngine, escrowEngine)
	orderEngine.SetState(store)
	orderEngine.SetEmitter(store)
	orderEngine.SetArbiter(cfg.Arbiter)
	orderEngine.SetPauses(store)

	return &Node{
		store:  store,
		market: marketEngine,
		escrow: escrowEngine,
		orders: orderEngine,
	}
}

// SetEmitter configures the sink receiving committed events.
func (n *Node) SetEmitter(sink events.Emitter) { n.store.SetEmitter(sink) }

// SetNowFunc overrides the clock on all engines. Primarily for tests.
func (n *Node) SetNowFunc(now func() int64) {
	n.market.SetNowFunc(now)
	n.escrow.SetNowFunc(now)
	n.orders.SetNowFunc(now)
}

// SetPaused freezes or unfreezes a named module.
func (n *Node) SetPaused(module string, paused bool) { n.store.SetPaused(module, paused) }

// --- stock ledger ---

func (n *Node) CreateListing(id string, seller [20]byte, price *big.Int, currency string, stock uint64, metaRef [32]byte) (*market.Listing, error) {
	var listing *market.Listing
	err := n.store.WithUnit(func() error {
		var err error
		listing, err = n.market.CreateListing(id, seller, price, currency, stock, metaRef)
		return err
	})
	return listing, err
}

func (n *Node) UpdateListing(id string, caller [20]byte, price *big.Int, stock uint64, active bool) (*market.Listing, error) {
	var listing *market.Listing
	err := n.store.WithUnit(func() error {
		var err error
		listing, err = n.market.UpdateListing(id, caller, price, stock, active)
		return err
	})
	return listing, err
}

func (n *Node) GetListing(id string) (*market.Listing, error) {
	var listing *market.Listing
	err := n.store.WithUnit(func() error {
		var err error
		listing, err = n.market.GetListing(id)
		return err
	})
	return listing, err
}

func (n *Node) HasStock(id string, quantity uint64) (bool, error) {
	var ok bool
	err := n.store.WithUnit(func() error {
		var err error
		ok, err = n.market.HasStock(id, quantity)
		return err
	})
	return ok, err
}

func (n *Node) ListingsBySeller(seller [20]byte) ([]string, error) {
	var ids []string
	err := n.store.WithUnit(func() error {
		var err error
		ids, err = n.market.ListBySeller(seller)
		return err
	})
	return ids, err
}

// --- order coordinator ---

func (n *Node) CreateOrder(orderID, listingID string, quantity uint64, buyer [20]byte) (*orders.Order, error) {
	var order *orders.Order
	err := n.store.WithUnit(func() error {
		var err error
		order, err = n.orders.CreateOrder(orderID, listingID, quantity, buyer)
		return err
	})
	return order, err
}

func (n *Node) PayOrder(orderID string, payer [20]byte, value *big.Int) (*orders.Order, error) {
	var order *orders.Order
	err := n.store.WithUnit(func() error {
		var err error
		order, err = n.orders.PayOrder(orderID, payer, value)
		return err
	})
	return order, err
}

func (n *Node) MarkShipped(orderID string, caller [20]byte, notes string) (*orders.Order, error) {
	var order *orders.Order
	err := n.store.WithUnit(func() error {
		var err error
		order, err = n.orders.MarkShipped(orderID, caller, notes)
		return err
	})
	return order, err
}

func (n *Node) ConfirmDelivery(orderID string, caller [20]byte) (*orders.Order, error) {
	var order *orders.Order
	err := n.store.WithUnit(func() error {
		var err error
		order, err = n.orders.ConfirmDelivery(orderID, caller)
		return err
	})
	return order, err
}

func (n *Node) CancelOrder(orderID, reason string, caller [20]byte) (*orders.Order, error) {
	var order *orders.Order
	err := n.store.WithUnit(func() error {
		var err error
		order, err = n.orders.Cancel(orderID, reason, caller)
		return err
	})
	return order, err
}

func (n *Node) UpdateOrderStatus(orderID string, newStatus orders.Status, notes string, caller [20]byte) (*orders.Order, error) {
	var order *orders.Order
	err := n.store.WithUnit(func() error {
		var err error
		order, err = n.orders.UpdateStatus(orderID, newStatus, notes, caller)
		return err
	})
	return order, err
}

func (n *Node) GetOrder(orderID string) (*orders.Order, error) {
	var order *orders.Order
	err := n.store.WithUnit(func() error {
		var err error
		order, err = n.orders.Get(orderID)
		return err
	})
	return order, err
}

func (n *Node) OrdersByBuyer(buyer [20]byte) ([]string, error) {
	var ids []string
	err := n.store.WithUnit(func() error {
		var err error
		ids, err = n.orders.ListByBuyer(buyer)
		return err
	})
	return ids, err
}

// --- custody vault ---

func (n *Node) ReleaseEscrow(id [32]byte, caller [20]byte) error {
	return n.store.WithUnit(func() error {
		return n.escrow.Release(id, caller)
	})
}

func (n *Node) RefundEscrow(id [32]byte, caller [20]byte) error {
	return n.store.WithUnit(func() error {
		return n.escrow.Refund(id, caller)
	})
}

func (n *Node) DisputeEscrow(id [32]byte, caller [20]byte) error {
	return n.store.WithUnit(func() error {
		return n.escrow.Dispute(id, caller)
	})
}

func (n *Node) GetEscrow(id [32]byte) (*escrow.Escrow, error) {
	var record *escrow.Escrow
	err := n.store.WithUnit(func() error {
		var err error
		record, err = n.escrow.Get(id)
		return err
	})
	return record, err
}

func (n *Node) GetEscrowByOrder(orderID string) (*escrow.Escrow, error) {
	var record *escrow.Escrow
	err := n.store.WithUnit(func() error {
		var err error
		record, err = n.escrow.GetByOrder(orderID)
		return err
	})
	return record, err
}

func (n *Node) CanAutoRelease(id [32]byte) (bool, error) {
	var ok bool
	err := n.store.WithUnit(func() error {
		var err error
		ok, err = n.escrow.CanAutoRelease(id)
		return err
	})
	return ok, err
}

// --- balances ---

// Mint credits an account outside the escrow flows; deposit rails and test
// fixtures use it.
func (n *Node) Mint(addr [20]byte, currency string, amount *big.Int) error {
	return n.store.WithUnit(func() error {
		return n.store.Mint(addr, currency, amount)
	})
}

// BalanceOf reads the spendable balance for an address and currency.
func (n *Node) BalanceOf(addr [20]byte, currency string) (*big.Int, error) {
	var balance *big.Int
	err := n.store.WithUnit(func() error {
		account, err := n.store.GetAccount(addr)
		if err != nil {
			return err
		}
		balance = account.BalanceOf(currency)
		return nil
	})
	return balance, err
}
