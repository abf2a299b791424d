package pointxgo

import (
	"errors"
	"fmt"
)

var (
	ErrInternalServer      = errors.New("internal server error")
	ErrServiceBusy         = errors.New("service busy")
	ErrLockAcquisition     = errors.New("lock acquisition failed")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrOverflow            = errors.New("balance limit exceeded")
	ErrInvalidAmount       = errors.New("invalid amount")
)

type ErrBadRequest struct {
	Fields map[string]string `json:"fields"`
}

func (e ErrBadRequest) Error() string {
	return fmt.Sprintf("missing/invalid params: %v", e.Fields)
}

type InsufficientBalanceError struct {
	Balance int64 `json:"balance"`
	Amount  int64 `json:"amount"`
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: have %d, debit %d", e.Balance, e.Amount)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

type OverflowError struct {
	Balance int64 `json:"balance"`
	Amount  int64 `json:"amount"`
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("balance limit exceeded: have %d, charge %d, max %d", e.Balance, e.Amount, MaxBalance)
}

func (e *OverflowError) Unwrap() error {
	return ErrOverflow
}

// InvalidAmountError holds the rejected amount in its textual form, since
// fractional or out-of-range inputs never make it to an int64.
type InvalidAmountError struct {
	Amount string `json:"amount"`
	Reason string `json:"reason"`
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("invalid amount %s: %s", e.Amount, e.Reason)
}

func (e *InvalidAmountError) Unwrap() error {
	return ErrInvalidAmount
}

// IsClientError reports whether err is a rejection of the caller's input
// rather than a fault of the service or its store.
func IsClientError(err error) bool {
	var br ErrBadRequest
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrOverflow) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.As(err, &br)
}
