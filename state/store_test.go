package state

import (
	"errors"
	"math/big"
	"testing"

	"bazaar/core/events"
	"bazaar/native/market"
	"bazaar/storage"
)

type capturingSink struct {
	events []events.Event
}

func (c *capturingSink) Emit(evt events.Event) {
	c.events = append(c.events, evt)
}

func seller(n byte) [20]byte {
	var addr [20]byte
	addr[19] = n
	return addr
}

func listing(id string) *market.Listing {
	return &market.Listing{
		ID:        id,
		Seller:    seller(1),
		Price:     big.NewInt(100),
		Currency:  "USD",
		Stock:     5,
		Active:    true,
		CreatedAt: 1700000000,
	}
}

func newTestStore(t *testing.T) (*Store, *capturingSink) {
	t.Helper()
	store, err := NewStore(storage.NewMemDB())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	sink := &capturingSink{}
	store.SetEmitter(sink)
	return store, sink
}

func TestUnitCommitsWritesAndEvents(t *testing.T) {
	store, sink := newTestStore(t)

	err := store.WithUnit(func() error {
		if err := store.ListingPut(listing("sku-1")); err != nil {
			return err
		}
		store.Emit(events.ListingCreated{ListingID: "sku-1", Price: big.NewInt(100), Currency: "USD", Stock: 5})
		return nil
	})
	if err != nil {
		t.Fatalf("unit: %v", err)
	}

	var got *market.Listing
	if err := store.WithUnit(func() error {
		l, ok := store.ListingGet("sku-1")
		if !ok {
			t.Fatalf("listing not committed")
		}
		got = l
		return nil
	}); err != nil {
		t.Fatalf("read unit: %v", err)
	}
	if got.Stock != 5 || got.Currency != "USD" {
		t.Fatalf("unexpected listing %+v", got)
	}
	if len(sink.events) != 1 {
		t.Fatalf("expected one committed event, got %d", len(sink.events))
	}
}

func TestUnitRollbackDiscardsEverything(t *testing.T) {
	store, sink := newTestStore(t)
	boom := errors.New("boom")

	err := store.WithUnit(func() error {
		if err := store.ListingPut(listing("sku-1")); err != nil {
			return err
		}
		store.Emit(events.ListingCreated{ListingID: "sku-1", Price: big.NewInt(100), Currency: "USD", Stock: 5})
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("unit error = %v, want boom", err)
	}

	if err := store.WithUnit(func() error {
		if _, ok := store.ListingGet("sku-1"); ok {
			t.Fatalf("rolled back write is visible")
		}
		return nil
	}); err != nil {
		t.Fatalf("read unit: %v", err)
	}
	if len(sink.events) != 0 {
		t.Fatalf("rolled back events reached the sink: %d", len(sink.events))
	}
}

func TestWritesOutsideUnitRejected(t *testing.T) {
	store, _ := newTestStore(t)
	if err := store.ListingPut(listing("sku-1")); !errors.Is(err, errNoUnit) {
		t.Fatalf("expected errNoUnit, got %v", err)
	}
}

func TestEventSequenceAssignedAtCommit(t *testing.T) {
	store, sink := newTestStore(t)

	emitTwo := func() error {
		store.Emit(events.ListingCreated{ListingID: "a", Price: big.NewInt(1), Currency: "USD", Stock: 1})
		store.Emit(events.ListingCreated{ListingID: "b", Price: big.NewInt(1), Currency: "USD", Stock: 1})
		return nil
	}
	if err := store.WithUnit(emitTwo); err != nil {
		t.Fatalf("unit: %v", err)
	}
	if err := store.WithUnit(emitTwo); err != nil {
		t.Fatalf("unit: %v", err)
	}

	if len(sink.events) != 4 {
		t.Fatalf("expected four events, got %d", len(sink.events))
	}
	for i, evt := range sink.events {
		detailed, ok := evt.(events.Detailed)
		if !ok {
			t.Fatalf("event %d lacks a payload", i)
		}
		if got := detailed.Event().Sequence; got != uint64(i+1) {
			t.Fatalf("event %d sequence = %d, want %d", i, got, i+1)
		}
	}
}

func TestEventSequenceSurvivesReopen(t *testing.T) {
	db := storage.NewMemDB()
	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.WithUnit(func() error {
		store.Emit(events.ListingCreated{ListingID: "a", Price: big.NewInt(1), Currency: "USD", Stock: 1})
		return nil
	}); err != nil {
		t.Fatalf("unit: %v", err)
	}

	reopened, err := NewStore(db)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	sink := &capturingSink{}
	reopened.SetEmitter(sink)
	if err := reopened.WithUnit(func() error {
		reopened.Emit(events.ListingCreated{ListingID: "b", Price: big.NewInt(1), Currency: "USD", Stock: 1})
		return nil
	}); err != nil {
		t.Fatalf("unit: %v", err)
	}
	detailed := sink.events[0].(events.Detailed)
	if got := detailed.Event().Sequence; got != 2 {
		t.Fatalf("sequence after reopen = %d, want 2", got)
	}
}

func TestSellerIndexDeduplicates(t *testing.T) {
	store, _ := newTestStore(t)
	if err := store.WithUnit(func() error {
		if err := store.ListingPut(listing("sku-1")); err != nil {
			return err
		}
		return store.ListingPut(listing("sku-1"))
	}); err != nil {
		t.Fatalf("unit: %v", err)
	}
	if err := store.WithUnit(func() error {
		ids, err := store.ListingsBySeller(seller(1))
		if err != nil {
			return err
		}
		if len(ids) != 1 || ids[0] != "sku-1" {
			t.Fatalf("seller index = %v", ids)
		}
		return nil
	}); err != nil {
		t.Fatalf("read unit: %v", err)
	}
}

func TestMintAndAccounts(t *testing.T) {
	store, _ := newTestStore(t)
	addr := seller(3)

	if err := store.WithUnit(func() error {
		if err := store.Mint(addr, "usd", big.NewInt(500)); err != nil {
			return err
		}
		return store.Mint(addr, "USD", big.NewInt(250))
	}); err != nil {
		t.Fatalf("mint unit: %v", err)
	}

	if err := store.WithUnit(func() error {
		account, err := store.GetAccount(addr)
		if err != nil {
			return err
		}
		if got := account.BalanceOf("USD"); got.Cmp(big.NewInt(750)) != 0 {
			t.Fatalf("balance = %s, want 750", got)
		}
		return nil
	}); err != nil {
		t.Fatalf("read unit: %v", err)
	}

	if err := store.WithUnit(func() error {
		return store.Mint(addr, "USD", big.NewInt(0))
	}); err == nil {
		t.Fatalf("zero mint should fail")
	}
}

func TestVaultAddressStablePerCurrency(t *testing.T) {
	store, _ := newTestStore(t)
	usd := store.VaultAddress("USD")
	if usd != store.VaultAddress("USD") {
		t.Fatalf("vault address must be deterministic")
	}
	if usd == store.VaultAddress("EUR") {
		t.Fatalf("vault addresses must differ per currency")
	}
	if usd == ([20]byte{}) {
		t.Fatalf("vault address must not be zero")
	}
}

func TestEscrowOrderIndexRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	var id [32]byte
	id[0] = 0xAB

	if err := store.WithUnit(func() error {
		return store.EscrowIndexOrder("order-1", id)
	}); err != nil {
		t.Fatalf("unit: %v", err)
	}
	if err := store.WithUnit(func() error {
		got, ok := store.EscrowIDByOrder("order-1")
		if !ok || got != id {
			t.Fatalf("escrow index round trip failed: %v %x", ok, got)
		}
		if _, ok := store.EscrowIDByOrder("missing"); ok {
			t.Fatalf("missing order resolved an escrow id")
		}
		return nil
	}); err != nil {
		t.Fatalf("read unit: %v", err)
	}
}
