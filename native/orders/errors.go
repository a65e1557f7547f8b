package orders

import "errors"

var (
	ErrInvalidInput    = errors.New("orders: invalid input")
	ErrNotFound        = errors.New("orders: order not found")
	ErrAlreadyExists   = errors.New("orders: order already exists")
	ErrUnauthorized    = errors.New("orders: unauthorized caller")
	ErrWrongState      = errors.New("orders: operation invalid in current status")
	ErrIncorrectAmount = errors.New("orders: payment does not match order total")
)
