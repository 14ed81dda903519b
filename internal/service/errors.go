package service

import (
	"errors"
	"fmt"
)

// Closed error taxonomy surfaced to callers. Handlers map these onto HTTP
// statuses; everything else is an internal failure.
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrCodeNotFound     = errors.New("no active code for this email and purpose")
	ErrAttemptsExceeded = errors.New("verification attempts exceeded")
	ErrAddressBlocked   = errors.New("source address is blocked")
	ErrBlockNotFound    = errors.New("block record not found")
	ErrPersistence      = errors.New("persistence failure")
	ErrDelivery         = errors.New("delivery failure")
)

// IncorrectCodeError is returned for a wrong guess that still left attempts
// on the budget. Remaining tells the caller how many guesses are left.
type IncorrectCodeError struct {
	Remaining int
}

func (e *IncorrectCodeError) Error() string {
	return fmt.Sprintf("incorrect code, %d attempts remaining", e.Remaining)
}
