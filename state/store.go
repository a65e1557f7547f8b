package state

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"bazaar/core/events"
	"bazaar/core/types"
	"bazaar/native/escrow"
	"bazaar/native/market"
	"bazaar/native/orders"
	"bazaar/storage"
)

// Key prefixes for the primary records and the secondary indexes required by
// the query surface.
const (
	prefixListing       = "market/listing/"
	prefixSellerIndex   = "market/seller/"
	prefixOrder         = "orders/order/"
	prefixBuyerIndex    = "orders/buyer/"
	prefixEscrow        = "escrow/record/"
	prefixEscrowByOrder = "escrow/order/"
	prefixAccount       = "accounts/"
	keyEventSequence    = "sys/events/seq"
)

var errNoUnit = errors.New("state: no unit of work in progress")

// Store is the single commitment point for the marketplace ledger. All
// engine state interfaces are implemented by it, and every mutating operation
// runs inside one unit of work: writes and emitted events accumulate in an
// overlay that either commits completely or is discarded. One unit executes
// at a time, which is what makes check-then-act sequences such as the stock
// decrement atomic.
//
// State interface methods are only safe to call from inside WithUnit; the
// engines are always invoked that way.
type Store struct {
	mu   sync.Mutex
	db   storage.Database
	sink events.Emitter

	inUnit  bool
	overlay map[string][]byte
	pending []events.Event

	seq uint64

	pauseMu sync.RWMutex
	paused  map[string]bool
}

// NewStore constructs a store over the supplied database and recovers the
// event sequence counter.
func NewStore(db storage.Database) (*Store, error) {
	s := &Store{
		db:     db,
		sink:   events.NoopEmitter{},
		paused: make(map[string]bool),
	}
	raw, err := db.Get([]byte(keyEventSequence))
	switch {
	case err == nil && len(raw) == 8:
		s.seq = binary.BigEndian.Uint64(raw)
	case errors.Is(err, storage.ErrKeyNotFound):
		s.seq = 0
	case err != nil:
		return nil, fmt.Errorf("state: recover event sequence: %w", err)
	}
	return s, nil
}

// SetEmitter configures the sink that receives committed events. Passing nil
// resets it to a no-op implementation.
func (s *Store) SetEmitter(sink events.Emitter) {
	if sink == nil {
		s.sink = events.NoopEmitter{}
		return
	}
	s.sink = sink
}

// WithUnit runs fn as one unit of work. On success every buffered write is
// flushed to the database and every buffered event is stamped with the next
// ledger sequence numbers and handed to the sink; on failure everything is
// discarded and the error returned unchanged.
func (s *Store) WithUnit(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inUnit = true
	s.overlay = make(map[string][]byte)
	s.pending = nil
	defer func() {
		s.inUnit = false
		s.overlay = nil
		s.pending = nil
	}()
	if err := fn(); err != nil {
		return err
	}
	return s.commit()
}

func (s *Store) commit() error {
	keys := make([]string, 0, len(s.overlay))
	for key := range s.overlay {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := s.db.Put([]byte(key), s.overlay[key]); err != nil {
			return fmt.Errorf("state: commit %s: %w", key, err)
		}
	}
	committed := s.pending
	if len(committed) > 0 {
		var raw [8]byte
		binary.BigEndian.PutUint64(raw[:], s.seq+uint64(len(committed)))
		if err := s.db.Put([]byte(keyEventSequence), raw[:]); err != nil {
			return fmt.Errorf("state: commit event sequence: %w", err)
		}
	}
	for _, evt := range committed {
		s.seq++
		if detailed, ok := evt.(events.Detailed); ok {
			if payload := detailed.Event(); payload != nil {
				payload.Sequence = s.seq
				s.sink.Emit(sequencedEvent{payload: payload})
				continue
			}
		}
		s.sink.Emit(evt)
	}
	return nil
}

// sequencedEvent wraps a rendered payload carrying its ledger sequence.
type sequencedEvent struct {
	payload *types.Event
}

func (e sequencedEvent) EventType() string {
	if e.payload == nil {
		return ""
	}
	return e.payload.Type
}

func (e sequencedEvent) Event() *types.Event { return e.payload }

// Emit implements events.Emitter for the engines. Inside a unit the event is
// buffered and only reaches the sink when the unit commits; outside a unit it
// is forwarded immediately.
func (s *Store) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	if s.inUnit {
		s.pending = append(s.pending, evt)
		return
	}
	s.sink.Emit(evt)
}

// --- pause control (nativecommon.PauseView) ---

// IsPaused reports whether a module has been administratively frozen.
func (s *Store) IsPaused(module string) bool {
	s.pauseMu.RLock()
	defer s.pauseMu.RUnlock()
	return s.paused[module]
}

// SetPaused freezes or unfreezes a module.
func (s *Store) SetPaused(module string, paused bool) {
	s.pauseMu.Lock()
	defer s.pauseMu.Unlock()
	s.paused[module] = paused
}

// --- raw key/value plumbing ---

func (s *Store) put(key string, value []byte) error {
	if !s.inUnit {
		return errNoUnit
	}
	s.overlay[key] = append([]byte(nil), value...)
	return nil
}

func (s *Store) get(key string) ([]byte, bool, error) {
	if s.inUnit {
		if value, ok := s.overlay[key]; ok {
			return append([]byte(nil), value...), true, nil
		}
	}
	value, err := s.db.Get([]byte(key))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *Store) putJSON(key string, record any) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("state: encode %s: %w", key, err)
	}
	return s.put(key, raw)
}

func (s *Store) getJSON(key string, record any) (bool, error) {
	raw, ok, err := s.get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, record); err != nil {
		return false, fmt.Errorf("state: decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) appendIndex(key, member string) error {
	var members []string
	if _, err := s.getJSON(key, &members); err != nil {
		return err
	}
	for _, existing := range members {
		if existing == member {
			return nil
		}
	}
	members = append(members, member)
	return s.putJSON(key, members)
}

func (s *Store) readIndex(key string) ([]string, error) {
	var members []string
	if _, err := s.getJSON(key, &members); err != nil {
		return nil, err
	}
	return members, nil
}

// --- market engine state ---

func (s *Store) ListingPut(l *market.Listing) error {
	sanitized, err := market.SanitizeListing(l)
	if err != nil {
		return err
	}
	if err := s.putJSON(prefixListing+sanitized.ID, sanitized); err != nil {
		return err
	}
	return s.appendIndex(prefixSellerIndex+hex.EncodeToString(sanitized.Seller[:]), sanitized.ID)
}

func (s *Store) ListingGet(id string) (*market.Listing, bool) {
	listing := new(market.Listing)
	ok, err := s.getJSON(prefixListing+id, listing)
	if err != nil || !ok {
		return nil, false
	}
	return listing, true
}

func (s *Store) ListingsBySeller(seller [20]byte) ([]string, error) {
	return s.readIndex(prefixSellerIndex + hex.EncodeToString(seller[:]))
}

// --- orders engine state ---

func (s *Store) OrderPut(o *orders.Order) error {
	if o == nil {
		return fmt.Errorf("state: nil order")
	}
	return s.putJSON(prefixOrder+o.ID, o)
}

func (s *Store) OrderGet(id string) (*orders.Order, bool) {
	order := new(orders.Order)
	ok, err := s.getJSON(prefixOrder+id, order)
	if err != nil || !ok {
		return nil, false
	}
	return order, true
}

func (s *Store) OrderIndexBuyer(buyer [20]byte, id string) error {
	return s.appendIndex(prefixBuyerIndex+hex.EncodeToString(buyer[:]), id)
}

func (s *Store) OrdersByBuyer(buyer [20]byte) ([]string, error) {
	return s.readIndex(prefixBuyerIndex + hex.EncodeToString(buyer[:]))
}

// --- escrow engine state ---

func (s *Store) EscrowPut(e *escrow.Escrow) error {
	sanitized, err := escrow.SanitizeEscrow(e)
	if err != nil {
		return err
	}
	return s.putJSON(prefixEscrow+hex.EncodeToString(sanitized.ID[:]), sanitized)
}

func (s *Store) EscrowGet(id [32]byte) (*escrow.Escrow, bool) {
	record := new(escrow.Escrow)
	ok, err := s.getJSON(prefixEscrow+hex.EncodeToString(id[:]), record)
	if err != nil || !ok {
		return nil, false
	}
	return record, true
}

func (s *Store) EscrowIndexOrder(orderID string, id [32]byte) error {
	return s.put(prefixEscrowByOrder+orderID, id[:])
}

func (s *Store) EscrowIDByOrder(orderID string) ([32]byte, bool) {
	raw, ok, err := s.get(prefixEscrowByOrder + orderID)
	if err != nil || !ok || len(raw) != 32 {
		return [32]byte{}, false
	}
	var id [32]byte
	copy(id[:], raw)
	return id, true
}

// VaultAddress derives the module custody address for a currency. The
// address has no key; funds held there can only move through the vault
// engine.
func (s *Store) VaultAddress(currency string) [20]byte {
	digest := ethcrypto.Keccak256([]byte("bazaar/escrow/vault/"), []byte(currency))
	var addr [20]byte
	copy(addr[:], digest[12:])
	return addr
}

// --- accounts ---

func (s *Store) GetAccount(addr [20]byte) (*types.Account, error) {
	account := new(types.Account)
	ok, err := s.getJSON(prefixAccount+hex.EncodeToString(addr[:]), account)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &types.Account{Balances: make(map[string]*big.Int)}, nil
	}
	if account.Balances == nil {
		account.Balances = make(map[string]*big.Int)
	}
	return account, nil
}

func (s *Store) PutAccount(addr [20]byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	return s.putJSON(prefixAccount+hex.EncodeToString(addr[:]), account)
}

// Mint credits an account balance outside of the escrow flows. It is used by
// genesis funding and by deposit rails that are outside the core.
func (s *Store) Mint(addr [20]byte, currency string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("state: mint amount must be positive")
	}
	normalized, err := market.NormalizeCurrency(currency)
	if err != nil {
		return err
	}
	account, err := s.GetAccount(addr)
	if err != nil {
		return err
	}
	account.SetBalance(normalized, new(big.Int).Add(account.BalanceOf(normalized), amount))
	return s.PutAccount(addr, account)
}
