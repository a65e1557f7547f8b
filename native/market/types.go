package market

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// Listing captures the inventory record for a single sale offer. The
// identifier is chosen by the seller and checked for uniqueness at insertion;
// listings are never deleted, only deactivated.
type Listing struct {
	ID        string
	Seller    [20]byte
	Price     *big.Int
	Currency  string
	Stock     uint64
	MetaRef   [32]byte
	Active    bool
	CreatedAt int64
}

// Clone returns a deep copy of the listing so callers can safely mutate the
// copy without affecting the stored instance.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	clone := *l
	if l.Price != nil {
		clone.Price = new(big.Int).Set(l.Price)
	} else {
		clone.Price = big.NewInt(0)
	}
	return &clone
}

var currencyPattern = regexp.MustCompile(`^[A-Z]{3,8}$`)

// NormalizeCurrency canonicalises a currency code to its uppercase form and
// rejects codes outside the supported shape.
func NormalizeCurrency(code string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(code))
	if !currencyPattern.MatchString(trimmed) {
		return "", fmt.Errorf("%w: unsupported currency code %q", ErrInvalidInput, code)
	}
	return trimmed, nil
}

// SanitizeListing validates and normalises the supplied listing, returning a
// cloned instance with canonical currency casing and a non-nil price. The
// function does not mutate the original value.
func SanitizeListing(l *Listing) (*Listing, error) {
	if l == nil {
		return nil, fmt.Errorf("%w: nil listing", ErrInvalidInput)
	}
	clone := l.Clone()
	clone.ID = strings.TrimSpace(clone.ID)
	if clone.ID == "" {
		return nil, fmt.Errorf("%w: empty listing id", ErrInvalidInput)
	}
	currency, err := NormalizeCurrency(clone.Currency)
	if err != nil {
		return nil, err
	}
	clone.Currency = currency
	if clone.Price == nil || clone.Price.Sign() <= 0 {
		return nil, fmt.Errorf("%w: price must be positive", ErrInvalidInput)
	}
	return clone, nil
}
