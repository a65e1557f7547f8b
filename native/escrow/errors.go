package escrow

import "errors"

var (
	ErrInvalidInput   = errors.New("escrow: invalid input")
	ErrNotFound       = errors.New("escrow: escrow not found")
	ErrAlreadyExists  = errors.New("escrow: escrow already exists for order")
	ErrWrongState     = errors.New("escrow: operation invalid in current state")
	ErrUnauthorized   = errors.New("escrow: unauthorized caller")
	ErrTransferFailed = errors.New("escrow: value transfer failed")
)
