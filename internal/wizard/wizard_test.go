package wizard

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokocabang/backend/internal/domain"
)

func product(id string, qty int, price int64) domain.Product {
	return domain.Product{
		ID:            id,
		Name:          id,
		Quantity:      qty,
		SalePrice:     decimal.NewFromInt(price),
		PurchasePrice: decimal.NewFromInt(price / 2),
		Status:        domain.ProductStatusActive,
	}
}

func TestAdvanceGatesEachStep(t *testing.T) {
	w := New()

	err := w.Advance()
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepCustomer, stepErr.Step)
	assert.Equal(t, StepCustomer, w.Step())

	w.SelectCustomer("cus-budi")
	require.NoError(t, w.Advance())
	assert.Equal(t, StepProducts, w.Step())

	require.ErrorIs(t, w.Advance(), ErrStepIncomplete)
	require.NoError(t, w.SetItem(product("a", 5, 100), 2))
	require.NoError(t, w.SetItem(product("b", 5, 50), 1))
	require.NoError(t, w.Advance())

	require.ErrorIs(t, w.Advance(), ErrStepIncomplete)
	require.NoError(t, w.SetPayment(decimal.NewFromInt(20), decimal.NewFromInt(100), ""))
	require.NoError(t, w.Advance())
	assert.Equal(t, StepReview, w.Step())
	assert.Equal(t, domain.PaymentMethodCash, w.PaymentMethod())

	require.NoError(t, w.Confirmable())
	totals, err := w.Totals()
	require.NoError(t, err)
	assert.True(t, totals.Total.Equal(decimal.NewFromInt(230)))
	assert.True(t, totals.Outstanding.Equal(decimal.NewFromInt(130)))
}

func TestWalkInMustPayInFull(t *testing.T) {
	w := New()
	w.SelectWalkIn()
	require.NoError(t, w.SetItem(product("a", 5, 100), 1))
	require.NoError(t, w.SetPayment(decimal.Zero, decimal.NewFromInt(60), "cash"))

	err := w.Run()
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepPayment, stepErr.Step)

	require.NoError(t, w.SetPayment(decimal.Zero, decimal.NewFromInt(100), "qris"))
	require.NoError(t, w.Run())
	assert.True(t, w.WalkIn())
}

func TestBackKeepsDraftAndConfirmableRechecks(t *testing.T) {
	w := New()
	w.SelectCustomer("cus-siti")
	require.NoError(t, w.SetItem(product("a", 3, 10), 3))
	require.NoError(t, w.SetPayment(decimal.Zero, decimal.Zero, "transfer"))
	require.NoError(t, w.Run())

	w.Back()
	assert.Equal(t, StepPayment, w.Step())
	assert.ErrorIs(t, w.Confirmable(), ErrStepIncomplete)

	require.NoError(t, w.Advance())
	w.RemoveItem("a")
	err := w.Confirmable()
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepProducts, stepErr.Step)
}

func TestSetItemRejectsOverStockAndKeepsPrevious(t *testing.T) {
	w := New()
	p := product("a", 2, 10)
	require.NoError(t, w.SetItem(p, 2))

	err := w.SetItem(p, 3)
	assert.True(t, errors.Is(err, domain.ErrInsufficientStock))
	assert.Equal(t, 2, w.Draft().Quantity("a"))
}

func TestSetPaymentRejectsNegative(t *testing.T) {
	w := New()
	assert.ErrorIs(t, w.SetPayment(decimal.NewFromInt(-1), decimal.Zero, ""), domain.ErrInvalidTransaction)
	assert.ErrorIs(t, w.SetPayment(decimal.Zero, decimal.RequireFromString("1.005"), ""), domain.ErrInvalidTransaction)
}

func TestStepNames(t *testing.T) {
	assert.Equal(t, "customer", StepCustomer.String())
	assert.Equal(t, "review", StepReview.String())
}
