package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidTransaction    = errors.New("invalid transaction")
	ErrInsufficientStock     = errors.New("insufficient stock")
	ErrInvalidPaymentAmount  = errors.New("invalid payment amount")
	ErrOverpaymentRejected   = errors.New("overpayment rejected")
	ErrStaleDueState         = errors.New("stale due state")
	ErrTransportFailure      = errors.New("transport failure")
	ErrDueCancelled          = errors.New("due is cancelled")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrAdminPasswordRequired = errors.New("admin password required")
	ErrForbidden             = errors.New("forbidden")
)

// StockShortage describes one product whose on-hand quantity cannot cover a request.
type StockShortage struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name,omitempty"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

type StockError struct {
	Shortages []StockShortage
}

func (e *StockError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		label := s.ProductID
		if s.Name != "" {
			label = s.Name
		}
		parts = append(parts, fmt.Sprintf("%s (requested %d, available %d)", label, s.Requested, s.Available))
	}
	return "insufficient stock: " + strings.Join(parts, ", ")
}

func (e *StockError) Unwrap() error {
	return ErrInsufficientStock
}

// TransportError is a rejection reported by a persistence or remote collaborator.
type TransportError struct {
	Message string
	Status  int
	Err     error
}

func (e *TransportError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return ErrTransportFailure.Error()
}

func (e *TransportError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTransportFailure}
	}
	return []error{ErrTransportFailure, e.Err}
}

// IsDomainError reports whether err is one of the typed, recoverable conditions
// produced by the core rather than an infrastructure failure.
func IsDomainError(err error) bool {
	for _, target := range []error{
		ErrNotFound,
		ErrInvalidTransaction,
		ErrInsufficientStock,
		ErrInvalidPaymentAmount,
		ErrOverpaymentRejected,
		ErrStaleDueState,
		ErrTransportFailure,
		ErrDueCancelled,
		ErrInvalidTransition,
		ErrAdminPasswordRequired,
		ErrForbidden,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Invalid wraps ErrInvalidTransaction with a caller-facing reason.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidTransaction, fmt.Sprintf(format, args...))
}

// OverpaymentError is returned when a payment would push paid beyond total.
// It matches both ErrOverpaymentRejected and ErrInvalidPaymentAmount.
type OverpaymentError struct {
	Attempted string
	Remaining string
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("overpayment rejected: amount %s exceeds remaining %s", e.Attempted, e.Remaining)
}

func (e *OverpaymentError) Unwrap() []error {
	return []error{ErrOverpaymentRejected, ErrInvalidPaymentAmount}
}
