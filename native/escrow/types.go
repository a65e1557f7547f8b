package escrow

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Status represents the lifecycle states supported by the custody vault.
// Released and Refunded are terminal: once reached, every mutating call is
// rejected, which is what makes the payout exactly-once.
type Status uint8

const (
	StatusLocked Status = iota
	StatusDisputed
	StatusReleased
	StatusRefunded
)

// Escrow captures the immutable metadata and runtime status of a single
// custody record. The identifier is the keccak256 hash of the originating
// order id, the payer and the creation time, ensuring deterministic ids
// without caller-chosen values.
type Escrow struct {
	ID            [32]byte
	OrderID       string
	Payer         [20]byte
	Payee         [20]byte
	Amount        *big.Int
	Currency      string
	Status        Status
	CreatedAt     int64
	AutoReleaseAt int64
	Disputed      bool
	DisputedAt    int64
}

// Clone returns a deep copy of the escrow object so callers can safely mutate
// the copy without affecting the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Amount != nil {
		clone.Amount = new(big.Int).Set(e.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusReleased || s == StatusRefunded
}

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusLocked, StatusDisputed, StatusReleased, StatusRefunded:
		return true
	default:
		return false
	}
}

// String returns the canonical lowercase name of the status.
func (s Status) String() string {
	switch s {
	case StatusLocked:
		return "locked"
	case StatusDisputed:
		return "disputed"
	case StatusReleased:
		return "released"
	case StatusRefunded:
		return "refunded"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// DeriveID computes the deterministic escrow identifier for an order payment.
func DeriveID(orderID string, payer [20]byte, createdAt int64) [32]byte {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(createdAt))
	return ethcrypto.Keccak256Hash([]byte(strings.TrimSpace(orderID)), payer[:], ts[:])
}

// SanitizeEscrow validates and normalises the supplied escrow definition,
// returning a cloned instance with a non-nil amount field. The function does
// not mutate the original value.
func SanitizeEscrow(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: nil escrow", ErrInvalidInput)
	}
	clone := e.Clone()
	clone.OrderID = strings.TrimSpace(clone.OrderID)
	if clone.OrderID == "" {
		return nil, fmt.Errorf("%w: empty order id", ErrInvalidInput)
	}
	if clone.Amount == nil || clone.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if clone.Payer == clone.Payee {
		return nil, fmt.Errorf("%w: payer and payee must differ", ErrInvalidInput)
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("%w: invalid status %d", ErrInvalidInput, clone.Status)
	}
	return clone, nil
}
