package postgres

import (
	"context"
	"time"

	"tokocabang/backend/internal/domain"
	"tokocabang/backend/internal/store"
)

type pgTx struct {
	q querier
}

func (t *pgTx) GetProductsForUpdate(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	products := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return products, nil
	}
	// Rows are locked in id order so concurrent sales over overlapping carts
	// cannot deadlock.
	rows, err := t.q.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products[p.ID] = p
	}
	return products, rows.Err()
}

func (t *pgTx) SetProductQuantity(ctx context.Context, id string, qty int) error {
	if qty < 0 {
		return store.ErrInsufficientStock
	}
	res, err := t.q.ExecContext(ctx, `
		UPDATE products
		SET quantity = $2, updated_at = now()
		WHERE id = $1
	`, id, qty)
	if err != nil {
		return mapError(err)
	}
	return expectAffected(res)
}

func (t *pgTx) UpdateProduct(ctx context.Context, product domain.Product) error {
	if product.Quantity < 0 {
		return store.ErrInvalidTransaction
	}
	res, err := t.q.ExecContext(ctx, `
		UPDATE products
		SET name = $2, quantity = $3, purchase_price = $4, sale_price = $5, status = $6, updated_at = $7
		WHERE id = $1
	`, product.ID, product.Name, product.Quantity, product.PurchasePrice, product.SalePrice, product.Status, product.UpdatedAt)
	if err != nil {
		return mapError(err)
	}
	return expectAffected(res)
}

func (t *pgTx) InsertSale(ctx context.Context, sale domain.Sale) error {
	if sale.ID == "" || len(sale.Items) == 0 {
		return store.ErrInvalidTransaction
	}
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO sales (`+saleColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, sale.ID, nullIfEmpty(sale.CustomerID), sale.BranchID, sale.UserID, sale.SaleDate, sale.Discount,
		sale.TotalAmount, sale.PaidAmount, sale.Profit, sale.IsFullyPaid, sale.Status, sale.Note,
		nullIfEmpty(sale.DueID), sale.CancelledAt, sale.CreatedAt)
	if err != nil {
		return mapError(err)
	}

	for i, item := range sale.Items {
		_, err := t.q.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, line_no, product_id, quantity, unit_price, unit_cost)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, sale.ID, i+1, item.ProductID, item.Quantity, item.UnitPrice, item.UnitCost)
		if err != nil {
			return mapError(err)
		}
	}
	return nil
}

func (t *pgTx) GetSaleForUpdate(ctx context.Context, id string) (*domain.Sale, error) {
	return getSale(ctx, t.q, id, true)
}

func (t *pgTx) UpdateSaleSettlement(ctx context.Context, sale domain.Sale) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE sales
		SET paid_amount = $2, is_fully_paid = $3, status = $4, due_id = $5
		WHERE id = $1
	`, sale.ID, sale.PaidAmount, sale.IsFullyPaid, sale.Status, nullIfEmpty(sale.DueID))
	if err != nil {
		return mapError(err)
	}
	return expectAffected(res)
}

func (t *pgTx) CancelSale(ctx context.Context, sale domain.Sale) error {
	cancelledAt := time.Now().UTC()
	if sale.CancelledAt != nil {
		cancelledAt = *sale.CancelledAt
	}
	res, err := t.q.ExecContext(ctx, `
		UPDATE sales
		SET status = 'cancelled', cancelled_at = $2, note = $3
		WHERE id = $1 AND status <> 'cancelled'
	`, sale.ID, cancelledAt, sale.Note)
	if err != nil {
		return mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := getSale(ctx, t.q, sale.ID, false); err != nil {
			return err
		}
		return store.ErrInvalidTransaction
	}
	return nil
}

func (t *pgTx) InsertDue(ctx context.Context, due domain.Due) error {
	if due.ID == "" {
		return store.ErrInvalidTransaction
	}
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO dues (`+dueColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, due.ID, due.BranchID, due.DueType, due.OwnerID, nullIfEmpty(due.SaleID), due.Reference,
		due.TotalAmount, due.PaidAmount, due.RemainingAmount, due.Status, due.DueDate,
		due.Description, due.Version, due.CreatedAt, due.UpdatedAt)
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (t *pgTx) GetDueForUpdate(ctx context.Context, id string) (*domain.Due, error) {
	due, err := scanDue(t.q.QueryRowContext(ctx, `SELECT `+dueColumns+` FROM dues WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &due, nil
}

func (t *pgTx) UpdateDue(ctx context.Context, due domain.Due, expectedVersion int64) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE dues
		SET total_amount = $3, paid_amount = $4, remaining_amount = $5, status = $6,
		    due_date = $7, description = $8, version = $9, updated_at = $10
		WHERE id = $1 AND version = $2
	`, due.ID, expectedVersion, due.TotalAmount, due.PaidAmount, due.RemainingAmount, due.Status,
		due.DueDate, due.Description, due.Version, due.UpdatedAt)
	if err != nil {
		return mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := t.GetDueForUpdate(ctx, due.ID); err != nil {
			return err
		}
		return store.ErrStaleDueState
	}
	return nil
}

func (t *pgTx) ListPaymentsByDue(ctx context.Context, dueID string) ([]domain.Payment, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments p
		WHERE p.due_id = $1
		ORDER BY p.payment_date, p.id
	`, dueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0, 4)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (t *pgTx) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	p, err := scanPayment(t.q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments p WHERE p.id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (t *pgTx) InsertPayment(ctx context.Context, payment domain.Payment) error {
	if payment.ID == "" || payment.DueID == "" || !payment.Amount.IsPositive() {
		return store.ErrInvalidTransaction
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO payments (id, due_id, amount, payment_date, payment_method, description, user_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, payment.ID, payment.DueID, payment.Amount, payment.PaymentDate, payment.PaymentMethod,
		payment.Description, payment.UserID, payment.CreatedAt)
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (t *pgTx) UpdatePayment(ctx context.Context, payment domain.Payment) error {
	if !payment.Amount.IsPositive() {
		return store.ErrInvalidTransaction
	}
	res, err := t.q.ExecContext(ctx, `
		UPDATE payments
		SET amount = $3, payment_date = $4, payment_method = $5, description = $6
		WHERE id = $1 AND due_id = $2
	`, payment.ID, payment.DueID, payment.Amount, payment.PaymentDate, payment.PaymentMethod, payment.Description)
	if err != nil {
		return mapError(err)
	}
	return expectAffected(res)
}

func (t *pgTx) DeletePayment(ctx context.Context, id string) error {
	res, err := t.q.ExecContext(ctx, `DELETE FROM payments WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	return expectAffected(res)
}
