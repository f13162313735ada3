// Package ledger is the Due state machine. Every function is pure: it takes a
// Due and returns the next Due, re-deriving remaining amount and status from
// the authoritative totals instead of trusting previously stored values.
//
// Status rules:
//
//	paid == 0            -> pending
//	0 < paid < total     -> partial
//	paid >= total        -> paid
//
// pending and partial read as overdue once the due date has passed with a
// balance left. cancelled is only reached through Cancel and is never left.
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tokocabang/backend/internal/domain"
	"tokocabang/backend/internal/money"
)

// Derive recomputes remaining amount and status from TotalAmount and PaidAmount.
func Derive(due domain.Due, now time.Time) domain.Due {
	due.TotalAmount = money.Round(money.NonNegative(due.TotalAmount))
	due.PaidAmount = money.Round(money.NonNegative(due.PaidAmount))
	due.RemainingAmount = money.NonNegative(due.TotalAmount.Sub(due.PaidAmount))
	if due.Status == domain.DueStatusCancelled {
		return due
	}
	due.Status = StatusFor(due.TotalAmount, due.PaidAmount, due.DueDate, now)
	return due
}

// StatusFor is the amount-driven transition rule. A due with nothing left to
// pay is paid, including a zero-total due.
func StatusFor(total, paid decimal.Decimal, dueDate time.Time, now time.Time) string {
	if paid.GreaterThanOrEqual(total) {
		return domain.DueStatusPaid
	}
	if IsPastDue(dueDate, now) {
		return domain.DueStatusOverdue
	}
	if paid.IsZero() {
		return domain.DueStatusPending
	}
	return domain.DueStatusPartial
}

func IsPastDue(dueDate time.Time, now time.Time) bool {
	return !dueDate.IsZero() && now.After(dueDate)
}

// Recompute rebuilds paid amount from the full payment history of the due.
// A history that sums beyond the total means the total changed underneath the
// caller and is reported as stale state.
func Recompute(due domain.Due, payments []domain.Payment, now time.Time) (domain.Due, error) {
	paid := money.Zero
	for _, p := range payments {
		if p.DueID != due.ID {
			return due, domain.Invalid("payment %s belongs to due %s, not %s", p.ID, p.DueID, due.ID)
		}
		paid = paid.Add(p.Amount)
	}
	if paid.GreaterThan(due.TotalAmount) {
		return due, fmt.Errorf("%w: payments %s exceed total %s on due %s", domain.ErrStaleDueState, paid, due.TotalAmount, due.ID)
	}
	due.PaidAmount = paid
	return Derive(due, now), nil
}

// CanAccept checks whether amount may be applied to due.
func CanAccept(due domain.Due, amount decimal.Decimal) error {
	if due.Status == domain.DueStatusCancelled {
		return domain.ErrDueCancelled
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be greater than zero", domain.ErrInvalidPaymentAmount)
	}
	if !money.HasValidScale(amount) {
		return fmt.Errorf("%w: amount has more than %d decimal places", domain.ErrInvalidPaymentAmount, money.Scale)
	}
	remaining := money.NonNegative(due.TotalAmount.Sub(due.PaidAmount))
	if amount.GreaterThan(remaining) {
		return &domain.OverpaymentError{Attempted: amount.String(), Remaining: remaining.String()}
	}
	return nil
}

// Apply adds amount to the paid side of due.
func Apply(due domain.Due, amount decimal.Decimal, now time.Time) (domain.Due, error) {
	due = Derive(due, now)
	if err := CanAccept(due, amount); err != nil {
		return due, err
	}
	due.PaidAmount = due.PaidAmount.Add(amount)
	return Derive(due, now), nil
}

// Reverse removes amount from the paid side of due, flooring at zero.
func Reverse(due domain.Due, amount decimal.Decimal, now time.Time) domain.Due {
	due.PaidAmount = money.NonNegative(due.PaidAmount.Sub(amount))
	return Derive(due, now)
}

// Cancel moves due to cancelled. Paid dues cannot be cancelled; cancelling a
// cancelled due is a no-op.
func Cancel(due domain.Due, now time.Time) (domain.Due, bool, error) {
	if due.Status == domain.DueStatusCancelled {
		return due, false, nil
	}
	due = Derive(due, now)
	if due.Status == domain.DueStatusPaid {
		return due, false, fmt.Errorf("%w: due %s is already paid", domain.ErrInvalidTransition, due.ID)
	}
	due.Status = domain.DueStatusCancelled
	return due, true, nil
}

// EditTotal changes the total of an open due. The new total may not drop below
// what has already been paid.
func EditTotal(due domain.Due, total decimal.Decimal, now time.Time) (domain.Due, error) {
	if due.Status == domain.DueStatusCancelled {
		return due, domain.ErrDueCancelled
	}
	if total.IsNegative() || !money.HasValidScale(total) {
		return due, domain.Invalid("total amount must be a non-negative amount with at most %d decimals", money.Scale)
	}
	if total.LessThan(due.PaidAmount) {
		return due, fmt.Errorf("%w: total %s is below paid amount %s", domain.ErrInvalidTransition, total, due.PaidAmount)
	}
	due.TotalAmount = total
	return Derive(due, now), nil
}

// CheckInvariants verifies 0 <= paid <= total and remaining == total - paid.
func CheckInvariants(due domain.Due) error {
	if due.PaidAmount.IsNegative() || due.TotalAmount.IsNegative() {
		return fmt.Errorf("%w: negative amounts on due %s", domain.ErrStaleDueState, due.ID)
	}
	if due.PaidAmount.GreaterThan(due.TotalAmount) {
		return fmt.Errorf("%w: paid %s exceeds total %s on due %s", domain.ErrStaleDueState, due.PaidAmount, due.TotalAmount, due.ID)
	}
	if !due.RemainingAmount.Equal(due.TotalAmount.Sub(due.PaidAmount)) {
		return fmt.Errorf("%w: remaining %s does not match total minus paid on due %s", domain.ErrStaleDueState, due.RemainingAmount, due.ID)
	}
	return nil
}

// IsOpen reports whether due still expects payments.
func IsOpen(due domain.Due) bool {
	return due.Status != domain.DueStatusPaid && due.Status != domain.DueStatusCancelled
}

// NewDue builds a due with its derived fields filled in.
func NewDue(id, branchID, dueType, ownerID string, total decimal.Decimal, dueDate time.Time, now time.Time) (domain.Due, error) {
	if !isDueType(dueType) {
		return domain.Due{}, domain.Invalid("due type %q is not supported", dueType)
	}
	if ownerID == "" {
		return domain.Due{}, domain.Invalid("due owner is required")
	}
	if !total.IsPositive() || !money.HasValidScale(total) {
		return domain.Due{}, domain.Invalid("due total must be greater than zero with at most %d decimals", money.Scale)
	}
	due := domain.Due{
		ID:          id,
		BranchID:    branchID,
		DueType:     dueType,
		OwnerID:     ownerID,
		TotalAmount: total,
		PaidAmount:  money.Zero,
		DueDate:     dueDate,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return Derive(due, now), nil
}

func isDueType(dueType string) bool {
	for _, t := range domain.DueTypes {
		if t == dueType {
			return true
		}
	}
	return false
}
