package memory

import (
	"context"

	"tokocabang/backend/internal/domain"
	"tokocabang/backend/internal/store"
)

type memTx struct {
	st *state
}

func (t *memTx) GetProductsForUpdate(_ context.Context, ids []string) (map[string]domain.Product, error) {
	products := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		p, ok := t.st.products[id]
		if !ok {
			continue
		}
		products[id] = p
	}
	return products, nil
}

func (t *memTx) SetProductQuantity(_ context.Context, id string, qty int) error {
	p, ok := t.st.products[id]
	if !ok {
		return store.ErrNotFound
	}
	if qty < 0 {
		return store.ErrInsufficientStock
	}
	p.Quantity = qty
	t.st.products[id] = p
	return nil
}

func (t *memTx) UpdateProduct(_ context.Context, product domain.Product) error {
	if _, ok := t.st.products[product.ID]; !ok {
		return store.ErrNotFound
	}
	if product.Quantity < 0 {
		return store.ErrInvalidTransaction
	}
	t.st.products[product.ID] = product
	return nil
}

func (t *memTx) InsertSale(_ context.Context, sale domain.Sale) error {
	if sale.ID == "" || len(sale.Items) == 0 {
		return store.ErrInvalidTransaction
	}
	if _, exists := t.st.sales[sale.ID]; exists {
		return store.ErrInvalidTransaction
	}
	t.st.sales[sale.ID] = cloneSale(sale)
	return nil
}

func (t *memTx) GetSaleForUpdate(_ context.Context, id string) (*domain.Sale, error) {
	sale, ok := t.st.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneSale(sale)
	return &out, nil
}

func (t *memTx) UpdateSaleSettlement(_ context.Context, sale domain.Sale) error {
	existing, ok := t.st.sales[sale.ID]
	if !ok {
		return store.ErrNotFound
	}
	existing.PaidAmount = sale.PaidAmount
	existing.IsFullyPaid = sale.IsFullyPaid
	existing.Status = sale.Status
	existing.DueID = sale.DueID
	t.st.sales[sale.ID] = existing
	return nil
}

func (t *memTx) CancelSale(_ context.Context, sale domain.Sale) error {
	existing, ok := t.st.sales[sale.ID]
	if !ok {
		return store.ErrNotFound
	}
	if existing.Status == domain.SaleStatusCancelled {
		return store.ErrInvalidTransaction
	}
	existing.Status = domain.SaleStatusCancelled
	existing.CancelledAt = sale.CancelledAt
	existing.Note = sale.Note
	t.st.sales[sale.ID] = cloneSale(existing)
	return nil
}

func (t *memTx) InsertDue(_ context.Context, due domain.Due) error {
	if due.ID == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := t.st.dues[due.ID]; exists {
		return store.ErrInvalidTransaction
	}
	t.st.dues[due.ID] = due
	return nil
}

func (t *memTx) GetDueForUpdate(_ context.Context, id string) (*domain.Due, error) {
	due, ok := t.st.dues[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &due, nil
}

func (t *memTx) UpdateDue(_ context.Context, due domain.Due, expectedVersion int64) error {
	existing, ok := t.st.dues[due.ID]
	if !ok {
		return store.ErrNotFound
	}
	if existing.Version != expectedVersion {
		return store.ErrStaleDueState
	}
	t.st.dues[due.ID] = due
	return nil
}

func (t *memTx) ListPaymentsByDue(_ context.Context, dueID string) ([]domain.Payment, error) {
	payments := make([]domain.Payment, 0, 4)
	for _, p := range t.st.payments {
		if p.DueID == dueID {
			payments = append(payments, p)
		}
	}
	sortPayments(payments)
	return payments, nil
}

func (t *memTx) GetPayment(_ context.Context, id string) (*domain.Payment, error) {
	p, ok := t.st.payments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (t *memTx) InsertPayment(_ context.Context, payment domain.Payment) error {
	if payment.ID == "" || payment.DueID == "" || !payment.Amount.IsPositive() {
		return store.ErrInvalidTransaction
	}
	if _, ok := t.st.dues[payment.DueID]; !ok {
		return store.ErrNotFound
	}
	if _, exists := t.st.payments[payment.ID]; exists {
		return store.ErrInvalidTransaction
	}
	t.st.payments[payment.ID] = payment
	return nil
}

func (t *memTx) UpdatePayment(_ context.Context, payment domain.Payment) error {
	existing, ok := t.st.payments[payment.ID]
	if !ok {
		return store.ErrNotFound
	}
	if existing.DueID != payment.DueID || !payment.Amount.IsPositive() {
		return store.ErrInvalidTransaction
	}
	t.st.payments[payment.ID] = payment
	return nil
}

func (t *memTx) DeletePayment(_ context.Context, id string) error {
	if _, ok := t.st.payments[id]; !ok {
		return store.ErrNotFound
	}
	delete(t.st.payments, id)
	return nil
}
