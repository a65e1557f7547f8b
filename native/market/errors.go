package market

import "errors"

var (
	ErrInvalidInput      = errors.New("market: invalid input")
	ErrNotFound          = errors.New("market: listing not found")
	ErrAlreadyExists     = errors.New("market: listing already exists")
	ErrUnauthorized      = errors.New("market: unauthorized caller")
	ErrInactive          = errors.New("market: listing inactive")
	ErrInsufficientStock = errors.New("market: insufficient stock")
)
