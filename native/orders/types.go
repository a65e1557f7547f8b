package orders

import (
	"fmt"
	"math/big"
	"strings"
)

// Status represents the lifecycle of an order as driven by the coordinator.
// Delivered, Cancelled and Refunded are terminal.
type Status uint8

const (
	StatusPending Status = iota
	StatusPaid
	StatusShipped
	StatusDelivered
	StatusCancelled
	StatusRefunded
)

// Order records one purchase saga. Seller and Total are copied from the
// listing at creation and never recomputed, even if the listing changes
// afterwards.
type Order struct {
	ID        string
	ListingID string
	Buyer     [20]byte
	Seller    [20]byte
	Quantity  uint64
	Total     *big.Int
	Currency  string
	Status    Status
	EscrowID  [32]byte
	CreatedAt int64
	UpdatedAt int64
}

// Clone returns a deep copy of the order so callers can safely mutate the
// copy without affecting the stored instance.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	if o.Total != nil {
		clone.Total = new(big.Int).Set(o.Total)
	} else {
		clone.Total = big.NewInt(0)
	}
	return &clone
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusDelivered, StatusCancelled, StatusRefunded:
		return true
	default:
		return false
	}
}

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	return s <= StatusRefunded
}

// String returns the canonical lowercase name of the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusPaid:
		return "paid"
	case StatusShipped:
		return "shipped"
	case StatusDelivered:
		return "delivered"
	case StatusCancelled:
		return "cancelled"
	case StatusRefunded:
		return "refunded"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// ParseStatus resolves the lowercase status name used on the wire.
func ParseStatus(name string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "pending":
		return StatusPending, nil
	case "paid":
		return StatusPaid, nil
	case "shipped":
		return StatusShipped, nil
	case "delivered":
		return StatusDelivered, nil
	case "cancelled":
		return StatusCancelled, nil
	case "refunded":
		return StatusRefunded, nil
	default:
		return 0, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, name)
	}
}
