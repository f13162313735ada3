package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tokocabang/backend/internal/domain"
	"tokocabang/backend/internal/store"
)

func openIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("TOKOCABANG_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set TOKOCABANG_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestCancelSaleRestocksInventory(t *testing.T) {
	s := openIntegrationStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	branchID := fmt.Sprintf("branch-it-%d", stamp)
	productID := fmt.Sprintf("prd-it-%d", stamp)
	saleID := fmt.Sprintf("sale-it-%d", stamp)
	now := time.Now().UTC()

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM branches WHERE id = $1`, branchID)
	})

	if _, err := s.CreateBranch(ctx, domain.Branch{ID: branchID, Name: "Cabang IT", CreatedAt: now}); err != nil {
		t.Fatalf("create branch: %v", err)
	}
	if _, err := s.CreateProduct(ctx, domain.Product{
		ID: productID, BranchID: branchID, SKU: productID, Name: "Produk IT", Quantity: 10,
		PurchasePrice: decimal.NewFromInt(4000), SalePrice: decimal.NewFromInt(6000),
		CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("create product: %v", err)
	}

	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		products, err := tx.GetProductsForUpdate(ctx, []string{productID})
		if err != nil {
			return err
		}
		if err := tx.SetProductQuantity(ctx, productID, products[productID].Quantity-2); err != nil {
			return err
		}
		return tx.InsertSale(ctx, domain.Sale{
			ID: saleID, BranchID: branchID, UserID: "it", SaleDate: now,
			Items:       []domain.SaleItem{{ProductID: productID, Quantity: 2, UnitPrice: decimal.NewFromInt(6000), UnitCost: decimal.NewFromInt(4000)}},
			TotalAmount: decimal.NewFromInt(12000), PaidAmount: decimal.NewFromInt(12000), Profit: decimal.NewFromInt(4000),
			IsFullyPaid: true, Status: domain.SaleStatusCompleted, CreatedAt: now,
		})
	})
	if err != nil {
		t.Fatalf("record sale: %v", err)
	}

	err = s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		sale, err := tx.GetSaleForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		products, err := tx.GetProductsForUpdate(ctx, []string{productID})
		if err != nil {
			return err
		}
		if err := tx.SetProductQuantity(ctx, productID, products[productID].Quantity+sale.Items[0].Quantity); err != nil {
			return err
		}
		cancelledAt := now.Add(time.Minute)
		sale.CancelledAt = &cancelledAt
		return tx.CancelSale(ctx, *sale)
	})
	if err != nil {
		t.Fatalf("cancel sale: %v", err)
	}

	product, err := s.GetProduct(ctx, productID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Quantity != 10 {
		t.Fatalf("expected restocked quantity 10, got %d", product.Quantity)
	}

	sale, err := s.GetSale(ctx, saleID)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if sale.Status != domain.SaleStatusCancelled || sale.CancelledAt == nil {
		t.Fatalf("expected cancelled sale, got status=%s cancelled_at=%v", sale.Status, sale.CancelledAt)
	}

	err = s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CancelSale(ctx, *sale)
	})
	if !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected second cancel to be rejected, got %v", err)
	}
}

func TestUpdateDueRejectsStaleVersion(t *testing.T) {
	s := openIntegrationStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	branchID := fmt.Sprintf("branch-due-it-%d", stamp)
	dueID := fmt.Sprintf("due-it-%d", stamp)
	now := time.Now().UTC()

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM dues WHERE id = $1`, dueID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM branches WHERE id = $1`, branchID)
	})

	if _, err := s.CreateBranch(ctx, domain.Branch{ID: branchID, Name: "Cabang Due IT", CreatedAt: now}); err != nil {
		t.Fatalf("create branch: %v", err)
	}

	due := domain.Due{
		ID: dueID, BranchID: branchID, DueType: domain.DueTypeSupplier, OwnerID: "sup-it",
		TotalAmount: decimal.NewFromInt(500), RemainingAmount: decimal.NewFromInt(500),
		Status: domain.DueStatusPending, DueDate: now.AddDate(0, 0, 7), Version: 1,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertDue(ctx, due)
	}); err != nil {
		t.Fatalf("insert due: %v", err)
	}

	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		next := due
		next.Version = 5
		return tx.UpdateDue(ctx, next, 4)
	})
	if !errors.Is(err, store.ErrStaleDueState) {
		t.Fatalf("expected stale due state, got %v", err)
	}

	got, err := s.GetDue(ctx, dueID)
	if err != nil {
		t.Fatalf("get due: %v", err)
	}
	if got.Version != 1 {
		t.Fatalf("expected version 1 to survive, got %d", got.Version)
	}
}
