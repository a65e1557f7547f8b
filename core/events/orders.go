package events

import (
	"math/big"

	"bazaar/core/types"
)

const (
	TypeOrderCreated   = "orders.created"
	TypeOrderPaid      = "orders.paid"
	TypeOrderShipped   = "orders.shipped"
	TypeOrderDelivered = "orders.delivered"
	TypeOrderCancelled = "orders.cancelled"
)

// OrderCreated is emitted once stock has been reserved and the order record
// committed.
type OrderCreated struct {
	OrderID   string
	ListingID string
	Buyer     [20]byte
	Seller    [20]byte
	Quantity  uint64
	Total     *big.Int
	Currency  string
}

func (OrderCreated) EventType() string { return TypeOrderCreated }

func (e OrderCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeOrderCreated,
		Attributes: map[string]string{
			"orderId":   e.OrderID,
			"listingId": e.ListingID,
			"buyer":     formatAddress(e.Buyer),
			"seller":    formatAddress(e.Seller),
			"quantity":  uintToString(e.Quantity),
			"total":     formatAmount(e.Total),
			"currency":  e.Currency,
		},
	}
}

// OrderPaid is emitted when the buyer's payment has been custodied.
type OrderPaid struct {
	OrderID  string
	EscrowID [32]byte
	Amount   *big.Int
}

func (OrderPaid) EventType() string { return TypeOrderPaid }

func (e OrderPaid) Event() *types.Event {
	return &types.Event{
		Type: TypeOrderPaid,
		Attributes: map[string]string{
			"orderId":  e.OrderID,
			"escrowId": formatID(e.EscrowID),
			"amount":   formatAmount(e.Amount),
		},
	}
}

// OrderShipped is emitted when the seller marks the order as shipped.
type OrderShipped struct {
	OrderID string
	Notes   string
}

func (OrderShipped) EventType() string { return TypeOrderShipped }

func (e OrderShipped) Event() *types.Event {
	attrs := map[string]string{"orderId": e.OrderID}
	if e.Notes != "" {
		attrs["notes"] = e.Notes
	}
	return &types.Event{Type: TypeOrderShipped, Attributes: attrs}
}

// OrderDelivered is emitted when the buyer confirms delivery.
type OrderDelivered struct {
	OrderID string
}

func (OrderDelivered) EventType() string { return TypeOrderDelivered }

func (e OrderDelivered) Event() *types.Event {
	return &types.Event{
		Type:       TypeOrderDelivered,
		Attributes: map[string]string{"orderId": e.OrderID},
	}
}

// OrderCancelled is emitted when an order is cancelled before delivery.
type OrderCancelled struct {
	OrderID string
	Reason  string
}

func (OrderCancelled) EventType() string { return TypeOrderCancelled }

func (e OrderCancelled) Event() *types.Event {
	attrs := map[string]string{"orderId": e.OrderID}
	if e.Reason != "" {
		attrs["reason"] = e.Reason
	}
	return &types.Event{Type: TypeOrderCancelled, Attributes: attrs}
}
