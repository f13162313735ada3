package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tokocabang/backend/internal/calculator"
	"tokocabang/backend/internal/domain"
	"tokocabang/backend/internal/ledger"
	"tokocabang/backend/internal/lock"
	"tokocabang/backend/internal/money"
	"tokocabang/backend/internal/settlement"
	"tokocabang/backend/internal/stockguard"
	"tokocabang/backend/internal/store"
	"tokocabang/backend/internal/wizard"
	"tokocabang/backend/internal/xid"
)

// SalePreview is the wizard's view of a draft sale. Nothing is persisted.
type SalePreview struct {
	BranchID      string                 `json:"branch_id"`
	CustomerID    string                 `json:"customer_id,omitempty"`
	WalkIn        bool                   `json:"walk_in"`
	PaymentMethod string                 `json:"payment_method"`
	Items         []domain.SaleItem      `json:"items"`
	Totals        calculator.Totals      `json:"totals"`
	Step          string                 `json:"step"`
	Ready         bool                   `json:"ready"`
	Reason        string                 `json:"reason,omitempty"`
	Shortages     []domain.StockShortage `json:"shortages,omitempty"`
}

// PreviewSale walks the sale wizard as far as the request allows and prices
// the draft. Lines that exceed stock are reported and left out of the draft.
func (s *Service) PreviewSale(ctx context.Context, actor domain.ActorContext, req domain.SaleCreateRequest) (SalePreview, error) {
	branchID, err := s.branchFor(actor, req.BranchID)
	if err != nil {
		return SalePreview{}, err
	}
	customerID := strings.TrimSpace(req.CustomerID)
	if err := s.checkCustomer(ctx, branchID, customerID); err != nil {
		return SalePreview{}, s.fail("preview_sale", err)
	}

	products := make(map[string]domain.Product, len(req.Items))
	for _, item := range req.Items {
		id := strings.TrimSpace(item.ProductID)
		if _, ok := products[id]; ok || id == "" {
			continue
		}
		product, err := s.repo.GetProduct(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return SalePreview{}, s.fail("preview_sale", err)
		}
		products[id] = *product
	}
	lines, err := resolveLines(req.Items, products, branchID)
	if err != nil {
		return SalePreview{}, err
	}

	w := wizard.New()
	w.SelectCustomer(customerID)
	preview := SalePreview{BranchID: branchID, CustomerID: customerID, WalkIn: customerID == ""}
	for _, line := range lines {
		err := w.SetItem(products[line.ProductID], line.Quantity)
		var stockErr *domain.StockError
		if errors.As(err, &stockErr) {
			preview.Shortages = append(preview.Shortages, stockErr.Shortages...)
			continue
		}
		if err != nil {
			return SalePreview{}, err
		}
		if err := w.Draft().SetPrice(line.ProductID, line.UnitPrice); err != nil {
			return SalePreview{}, err
		}
	}
	if err := w.SetPayment(req.Discount, req.PaidAmount, req.PaymentMethod); err != nil {
		return SalePreview{}, err
	}
	method, err := settlement.NormalizeMethod(w.PaymentMethod())
	if err != nil {
		return SalePreview{}, err
	}
	preview.PaymentMethod = method

	runErr := w.Run()
	preview.Step = w.Step().String()
	preview.Items = calculator.ToSaleItems(w.Draft().Lines())
	if w.Draft().Len() > 0 {
		if preview.Totals, err = w.Totals(); err != nil {
			return SalePreview{}, err
		}
	}

	var stepErr *wizard.StepError
	switch {
	case errors.As(runErr, &stepErr):
		preview.Reason = stepErr.Reason
	case runErr != nil:
		return SalePreview{}, runErr
	case len(preview.Shortages) > 0:
		preview.Reason = "insufficient stock for some items"
	default:
		preview.Ready = w.Confirmable() == nil
	}
	return preview, nil
}

// CreateSale confirms a sale. Stock is taken for every line or for none, and
// an unpaid remainder becomes a customer due linked to the sale, all in one
// transaction.
func (s *Service) CreateSale(ctx context.Context, actor domain.ActorContext, req domain.SaleCreateRequest) (domain.SaleCreateResponse, error) {
	branchID, err := s.branchFor(actor, req.BranchID)
	if err != nil {
		return domain.SaleCreateResponse{}, err
	}
	if len(req.Items) == 0 {
		return domain.SaleCreateResponse{}, domain.Invalid("sale must contain at least one item")
	}
	if err := validPrice("discount", req.Discount); err != nil {
		return domain.SaleCreateResponse{}, err
	}
	if err := validPrice("paid amount", req.PaidAmount); err != nil {
		return domain.SaleCreateResponse{}, err
	}
	method, err := settlement.NormalizeMethod(req.PaymentMethod)
	if err != nil {
		return domain.SaleCreateResponse{}, err
	}
	customerID := strings.TrimSpace(req.CustomerID)
	if err := s.checkCustomer(ctx, branchID, customerID); err != nil {
		return domain.SaleCreateResponse{}, s.fail("create_sale", err)
	}

	now := s.now()
	saleDate := now
	if req.SaleDate != nil && !req.SaleDate.IsZero() {
		saleDate = req.SaleDate.UTC()
	}
	dueDate := saleDate.Add(s.dueTerm)
	if req.DueDate != nil && !req.DueDate.IsZero() {
		dueDate = req.DueDate.UTC()
	}

	ids := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		ids = append(ids, strings.TrimSpace(item.ProductID))
	}

	var resp domain.SaleCreateResponse
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		products, err := tx.GetProductsForUpdate(ctx, ids)
		if err != nil {
			return err
		}
		lines, err := resolveLines(req.Items, products, branchID)
		if err != nil {
			return err
		}
		totals, err := calculator.Compute(calculator.Cart{Lines: lines, Discount: req.Discount, Paid: req.PaidAmount})
		if err != nil {
			return err
		}
		if customerID == "" && !totals.IsFullyPaid {
			return domain.Invalid("walk-in sale must be paid in full")
		}

		items := calculator.ToSaleItems(lines)
		next, err := stockguard.Reserve(items, products)
		if err != nil {
			return err
		}
		for _, id := range stockguard.ProductIDs(items) {
			if err := tx.SetProductQuantity(ctx, id, next[id]); err != nil {
				return err
			}
		}

		sale := domain.Sale{
			ID:          xid.New("sale"),
			CustomerID:  customerID,
			BranchID:    branchID,
			UserID:      actor.UserID,
			SaleDate:    saleDate,
			Items:       items,
			Discount:    totals.Discount,
			TotalAmount: totals.Total,
			PaidAmount:  money.Min(totals.Paid, totals.Total),
			Profit:      totals.Profit,
			IsFullyPaid: totals.IsFullyPaid,
			Status:      domain.SaleStatusActive,
			Note:        strings.TrimSpace(req.Note),
			CreatedAt:   now,
		}
		if sale.IsFullyPaid {
			sale.Status = domain.SaleStatusCompleted
		}

		var due *domain.Due
		if totals.Outstanding.IsPositive() {
			d, err := ledger.NewDue(xid.New("due"), branchID, domain.DueTypeCustomer, customerID, totals.Outstanding, dueDate, now)
			if err != nil {
				return err
			}
			d.SaleID = sale.ID
			d.Reference = sale.ID
			d.Description = fmt.Sprintf("remaining balance of sale %s (%s)", sale.ID, method)
			sale.DueID = d.ID
			due = &d
		}

		if err := tx.InsertSale(ctx, sale); err != nil {
			return err
		}
		if due != nil {
			if err := tx.InsertDue(ctx, *due); err != nil {
				return err
			}
		}
		resp = domain.SaleCreateResponse{Sale: sale, Due: due, Change: totals.Change}
		return nil
	})
	if err != nil {
		return domain.SaleCreateResponse{}, s.fail("create_sale", err)
	}

	s.metrics.Sale("confirmed")
	s.invalidate(ctx, branchID)
	s.audit(actor, branchID, "sale_create", "sale", resp.Sale.ID,
		fmt.Sprintf("total=%s,paid=%s,method=%s,items=%d", resp.Sale.TotalAmount.StringFixed(money.Scale),
			resp.Sale.PaidAmount.StringFixed(money.Scale), method, len(resp.Sale.Items)))
	return resp, nil
}

func (s *Service) ListSales(ctx context.Context, actor domain.ActorContext, filter domain.SaleFilter) ([]domain.Sale, error) {
	if !actor.IsAdmin() || filter.BranchID != "" {
		var err error
		if filter.BranchID, err = s.branchFor(actor, filter.BranchID); err != nil {
			return nil, err
		}
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	sales, err := s.repo.ListSales(ctx, filter)
	if err != nil {
		return nil, s.fail("list_sales", err)
	}
	return sales, nil
}

func (s *Service) GetSale(ctx context.Context, actor domain.ActorContext, saleID string) (domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, strings.TrimSpace(saleID))
	if err != nil {
		return domain.Sale{}, s.fail("get_sale", err)
	}
	if err := settlement.Authorize(actor, sale.BranchID); err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

// CancelSale voids a sale. Stock goes back on hand and an open due raised by
// the sale is cancelled with it; the sale record itself is kept. Cancelling a
// cancelled sale returns it unchanged.
func (s *Service) CancelSale(ctx context.Context, actor domain.ActorContext, saleID string, req domain.SaleCancelRequest) (domain.Sale, error) {
	if strings.TrimSpace(req.AdminPassword) == "" {
		return domain.Sale{}, domain.ErrAdminPasswordRequired
	}
	saleID = strings.TrimSpace(saleID)
	current, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return domain.Sale{}, s.fail("cancel_sale", err)
	}
	if err := settlement.Authorize(actor, current.BranchID); err != nil {
		return domain.Sale{}, err
	}

	keys := []string{lock.SaleKey(saleID)}
	if current.DueID != "" {
		keys = append(keys, lock.DueKey(current.DueID))
	}

	var (
		result  domain.Sale
		changed bool
	)
	err = s.withLocks(ctx, keys, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			sale, err := tx.GetSaleForUpdate(ctx, saleID)
			if err != nil {
				return err
			}
			if sale.Status == domain.SaleStatusCancelled {
				result = *sale
				return nil
			}

			products, err := tx.GetProductsForUpdate(ctx, stockguard.ProductIDs(sale.Items))
			if err != nil {
				return err
			}
			next := stockguard.Release(sale.Items, products)
			for _, id := range stockguard.ProductIDs(sale.Items) {
				if err := tx.SetProductQuantity(ctx, id, next[id]); err != nil {
					return err
				}
			}

			now := s.now()
			if sale.DueID != "" {
				if err := cancelLinkedDue(ctx, tx, sale.DueID, now); err != nil {
					return err
				}
			}

			sale.Status = domain.SaleStatusCancelled
			sale.CancelledAt = &now
			if reason := strings.TrimSpace(req.Reason); reason != "" {
				sale.Note = strings.TrimSpace(sale.Note + " [cancelled: " + reason + "]")
			}
			if err := tx.CancelSale(ctx, *sale); err != nil {
				return err
			}
			result = *sale
			changed = true
			return nil
		})
	})
	if err != nil {
		return domain.Sale{}, s.fail("cancel_sale", err)
	}

	if changed {
		s.metrics.Sale("cancelled")
		s.invalidate(ctx, result.BranchID)
		s.audit(actor, result.BranchID, "sale_cancel", "sale", result.ID, strings.TrimSpace(req.Reason))
	}
	return result, nil
}

// cancelLinkedDue cancels the due a sale raised unless it is already settled.
func cancelLinkedDue(ctx context.Context, tx store.Tx, dueID string, now time.Time) error {
	due, err := tx.GetDueForUpdate(ctx, dueID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !ledger.IsOpen(ledger.Derive(*due, now)) {
		return nil
	}
	cancelled, changed, err := ledger.Cancel(*due, now)
	if err != nil || !changed {
		return err
	}
	cancelled.Version = due.Version + 1
	cancelled.UpdatedAt = now
	return tx.UpdateDue(ctx, cancelled, due.Version)
}

// withLocks takes keys in order and runs fn while holding all of them.
func (s *Service) withLocks(ctx context.Context, keys []string, fn func(context.Context) error) error {
	if len(keys) == 0 {
		return fn(ctx)
	}
	return s.locker.WithLock(ctx, keys[0], s.lockTTL, func(ctx context.Context) error {
		return s.withLocks(ctx, keys[1:], fn)
	})
}

// resolveLines turns requested items into priced calculator lines. Every
// product must exist in branchID and be active; repeated products are merged.
func resolveLines(items []domain.SaleItemRequest, products map[string]domain.Product, branchID string) ([]calculator.Line, error) {
	if len(items) == 0 {
		return nil, domain.Invalid("sale must contain at least one item")
	}
	lines := make([]calculator.Line, 0, len(items))
	for _, item := range items {
		id := strings.TrimSpace(item.ProductID)
		product, ok := products[id]
		if !ok {
			return nil, fmt.Errorf("%w: product %s", domain.ErrNotFound, id)
		}
		if product.BranchID != branchID {
			return nil, domain.Invalid("product %s does not belong to branch %s", id, branchID)
		}
		if !product.Active() {
			return nil, domain.Invalid("product %s is not active", product.Name)
		}
		if item.Quantity < 1 {
			return nil, domain.Invalid("quantity for %s must be at least 1", product.Name)
		}
		price := product.SalePrice
		if item.UnitPrice != nil {
			if err := validPrice("unit price", *item.UnitPrice); err != nil {
				return nil, err
			}
			price = *item.UnitPrice
		}
		lines = append(lines, calculator.Line{
			ProductID: id,
			Quantity:  item.Quantity,
			UnitPrice: price,
			UnitCost:  product.PurchasePrice,
		})
	}
	return calculator.Merge(lines)
}

func (s *Service) checkCustomer(ctx context.Context, branchID, customerID string) error {
	if customerID == "" {
		return nil
	}
	customer, err := s.repo.GetCustomer(ctx, customerID)
	if err != nil {
		return err
	}
	if customer.BranchID != branchID {
		return domain.Invalid("customer %s does not belong to branch %s", customerID, branchID)
	}
	return nil
}

func validPrice(label string, d decimal.Decimal) error {
	if d.IsNegative() || !money.HasValidScale(d) {
		return domain.Invalid("%s must be a non-negative amount with at most %d decimals", label, money.Scale)
	}
	return nil
}
