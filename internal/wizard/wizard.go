// Package wizard models the four-step sale flow as an explicit sequence of
// steps, each gated by a validation predicate. It holds draft state only;
// nothing is persisted until the caller confirms the reviewed sale.
package wizard

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"tokocabang/backend/internal/calculator"
	"tokocabang/backend/internal/domain"
	"tokocabang/backend/internal/money"
	"tokocabang/backend/internal/stockguard"
)

type Step int

const (
	StepCustomer Step = iota
	StepProducts
	StepPayment
	StepReview
)

var steps = []Step{StepCustomer, StepProducts, StepPayment, StepReview}

func (s Step) String() string {
	switch s {
	case StepCustomer:
		return "customer"
	case StepProducts:
		return "products"
	case StepPayment:
		return "payment"
	case StepReview:
		return "review"
	}
	return fmt.Sprintf("step(%d)", int(s))
}

var ErrStepIncomplete = errors.New("wizard: step incomplete")

// StepError names the step that blocked advancement and why.
type StepError struct {
	Step   Step
	Reason string
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s step incomplete: %s", e.Step, e.Reason)
}

func (e *StepError) Unwrap() error {
	return ErrStepIncomplete
}

type Wizard struct {
	step Step

	customerID     string
	walkIn         bool
	customerChosen bool

	draft *stockguard.Draft

	discount      decimal.Decimal
	paid          decimal.Decimal
	paymentMethod string
	paymentSet    bool
}

func New() *Wizard {
	return &Wizard{
		draft:    stockguard.NewDraft(),
		discount: money.Zero,
		paid:     money.Zero,
	}
}

func (w *Wizard) Step() Step {
	return w.step
}

func (w *Wizard) CustomerID() string {
	return w.customerID
}

func (w *Wizard) WalkIn() bool {
	return w.walkIn
}

func (w *Wizard) Draft() *stockguard.Draft {
	return w.draft
}

func (w *Wizard) PaymentMethod() string {
	return w.paymentMethod
}

func (w *Wizard) SelectCustomer(customerID string) {
	w.customerID = strings.TrimSpace(customerID)
	w.walkIn = w.customerID == ""
	w.customerChosen = true
}

func (w *Wizard) SelectWalkIn() {
	w.SelectCustomer("")
}

// SetItem puts product at qty in the draft cart. See stockguard.Draft.Set.
func (w *Wizard) SetItem(product domain.Product, qty int) error {
	return w.draft.Set(product, qty)
}

func (w *Wizard) RemoveItem(productID string) {
	w.draft.Remove(productID)
}

func (w *Wizard) SetPayment(discount, paid decimal.Decimal, method string) error {
	if discount.IsNegative() || !money.HasValidScale(discount) {
		return domain.Invalid("discount must be a non-negative amount with at most 2 decimals")
	}
	if paid.IsNegative() || !money.HasValidScale(paid) {
		return domain.Invalid("paid amount must be a non-negative amount with at most 2 decimals")
	}
	method = strings.ToLower(strings.TrimSpace(method))
	if method == "" {
		method = domain.PaymentMethodCash
	}
	w.discount = discount
	w.paid = paid
	w.paymentMethod = method
	w.paymentSet = true
	return nil
}

// Totals prices the current draft. It is available at any step.
func (w *Wizard) Totals() (calculator.Totals, error) {
	return calculator.Compute(calculator.Cart{
		Lines:    w.draft.Lines(),
		Discount: w.discount,
		Paid:     w.paid,
	})
}

// Advance moves to the next step when the current step's predicate holds.
func (w *Wizard) Advance() error {
	if w.step == StepReview {
		return &StepError{Step: StepReview, Reason: "already at review"}
	}
	if err := w.check(w.step); err != nil {
		return err
	}
	w.step++
	return nil
}

// Back returns to the previous step. Draft state is kept.
func (w *Wizard) Back() {
	if w.step > StepCustomer {
		w.step--
	}
}

// Confirmable reports whether the sale can be confirmed: the wizard is at
// review and every earlier step still holds.
func (w *Wizard) Confirmable() error {
	if w.step != StepReview {
		return &StepError{Step: w.step, Reason: "sale can only be confirmed from review"}
	}
	for _, s := range steps[:StepReview] {
		if err := w.check(s); err != nil {
			return err
		}
	}
	return nil
}

// Run advances as far as the predicates allow and returns the first blocking
// error, or nil when the wizard reached review.
func (w *Wizard) Run() error {
	for w.step != StepReview {
		if err := w.Advance(); err != nil {
			return err
		}
	}
	return nil
}

func (w *Wizard) check(s Step) error {
	switch s {
	case StepCustomer:
		if !w.customerChosen {
			return &StepError{Step: s, Reason: "choose a customer or walk-in"}
		}
	case StepProducts:
		if w.draft.Len() == 0 {
			return &StepError{Step: s, Reason: "add at least one product"}
		}
	case StepPayment:
		if !w.paymentSet {
			return &StepError{Step: s, Reason: "enter payment details"}
		}
		totals, err := w.Totals()
		if err != nil {
			return &StepError{Step: s, Reason: err.Error()}
		}
		if w.walkIn && !totals.IsFullyPaid {
			return &StepError{Step: s, Reason: "walk-in sale must be paid in full"}
		}
	}
	return nil
}
