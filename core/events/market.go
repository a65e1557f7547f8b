package events

import (
	"math/big"

	"bazaar/core/types"
)

const (
	TypeListingCreated   = "market.listing.created"
	TypeListingUpdated   = "market.listing.updated"
	TypeStockDecremented = "market.stock.decremented"
)

// ListingCreated is emitted when a seller registers a new listing.
type ListingCreated struct {
	ListingID string
	Seller    [20]byte
	Price     *big.Int
	Currency  string
	Stock     uint64
}

func (ListingCreated) EventType() string { return TypeListingCreated }

func (e ListingCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeListingCreated,
		Attributes: map[string]string{
			"listingId": e.ListingID,
			"seller":    formatAddress(e.Seller),
			"price":     formatAmount(e.Price),
			"currency":  e.Currency,
			"stock":     uintToString(e.Stock),
		},
	}
}

// ListingUpdated is emitted when the seller mutates price, stock or the
// active flag of an existing listing.
type ListingUpdated struct {
	ListingID string
	Price     *big.Int
	Stock     uint64
	Active    bool
}

func (ListingUpdated) EventType() string { return TypeListingUpdated }

func (e ListingUpdated) Event() *types.Event {
	active := "false"
	if e.Active {
		active = "true"
	}
	return &types.Event{
		Type: TypeListingUpdated,
		Attributes: map[string]string{
			"listingId": e.ListingID,
			"price":     formatAmount(e.Price),
			"stock":     uintToString(e.Stock),
			"active":    active,
		},
	}
}

// StockDecremented is emitted after the coordinator reserves stock for an
// accepted order.
type StockDecremented struct {
	ListingID string
	Quantity  uint64
	Remaining uint64
}

func (StockDecremented) EventType() string { return TypeStockDecremented }

func (e StockDecremented) Event() *types.Event {
	return &types.Event{
		Type: TypeStockDecremented,
		Attributes: map[string]string{
			"listingId": e.ListingID,
			"quantity":  uintToString(e.Quantity),
			"remaining": uintToString(e.Remaining),
		},
	}
}
