package events

import (
	"math/big"

	"bazaar/core/types"
)

const (
	TypeEscrowCreated    = "escrow.created"
	TypeEscrowReleased   = "escrow.released"
	TypeEscrowRefunded   = "escrow.refunded"
	TypeDisputeInitiated = "escrow.disputed"
)

// EscrowCreated is emitted when the vault takes custody of an order payment.
type EscrowCreated struct {
	EscrowID [32]byte
	OrderID  string
	Buyer    [20]byte
	Seller   [20]byte
	Amount   *big.Int
	Currency string
}

func (EscrowCreated) EventType() string { return TypeEscrowCreated }

func (e EscrowCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeEscrowCreated,
		Attributes: map[string]string{
			"escrowId": formatID(e.EscrowID),
			"orderId":  e.OrderID,
			"buyer":    formatAddress(e.Buyer),
			"seller":   formatAddress(e.Seller),
			"amount":   formatAmount(e.Amount),
			"currency": e.Currency,
		},
	}
}

// EscrowReleased is emitted after custodied value has been paid out to the
// seller.
type EscrowReleased struct {
	EscrowID [32]byte
	OrderID  string
	Seller   [20]byte
	Amount   *big.Int
}

func (EscrowReleased) EventType() string { return TypeEscrowReleased }

func (e EscrowReleased) Event() *types.Event {
	return &types.Event{
		Type: TypeEscrowReleased,
		Attributes: map[string]string{
			"escrowId": formatID(e.EscrowID),
			"orderId":  e.OrderID,
			"seller":   formatAddress(e.Seller),
			"amount":   formatAmount(e.Amount),
		},
	}
}

// EscrowRefunded is emitted after custodied value has been returned to the
// buyer.
type EscrowRefunded struct {
	EscrowID [32]byte
	OrderID  string
	Buyer    [20]byte
	Amount   *big.Int
}

func (EscrowRefunded) EventType() string { return TypeEscrowRefunded }

func (e EscrowRefunded) Event() *types.Event {
	return &types.Event{
		Type: TypeEscrowRefunded,
		Attributes: map[string]string{
			"escrowId": formatID(e.EscrowID),
			"orderId":  e.OrderID,
			"buyer":    formatAddress(e.Buyer),
			"amount":   formatAmount(e.Amount),
		},
	}
}

// DisputeInitiated is emitted when either party freezes the escrow pending
// resolution.
type DisputeInitiated struct {
	EscrowID  [32]byte
	OrderID   string
	Initiator [20]byte
}

func (DisputeInitiated) EventType() string { return TypeDisputeInitiated }

func (e DisputeInitiated) Event() *types.Event {
	return &types.Event{
		Type: TypeDisputeInitiated,
		Attributes: map[string]string{
			"escrowId":  formatID(e.EscrowID),
			"orderId":   e.OrderID,
			"initiator": formatAddress(e.Initiator),
		},
	}
}
