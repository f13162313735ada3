package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tokocabang/backend/internal/analytics"
	"tokocabang/backend/internal/domain"
	"tokocabang/backend/internal/store/memory"
)

var (
	testNow     = time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC)
	testCashier = domain.ActorContext{UserID: "cashier", BranchID: memory.DefaultBranchID, Role: domain.RoleCashier}
	testAdmin   = domain.ActorContext{UserID: "admin", BranchID: memory.DefaultBranchID, Role: domain.RoleAdmin}
)

func rp(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.NewSeeded()
	return New(repo, Options{DefaultBranchID: memory.DefaultBranchID, Now: func() time.Time { return testNow }}), repo
}

func productQty(t *testing.T, repo *memory.Store, id string) int {
	t.Helper()
	p, err := repo.GetProduct(context.Background(), id)
	if err != nil {
		t.Fatalf("get product %s: %v", id, err)
	}
	return p.Quantity
}

func creditSale(t *testing.T, svc *Service) domain.SaleCreateResponse {
	t.Helper()
	resp, err := svc.CreateSale(context.Background(), testCashier, domain.SaleCreateRequest{
		CustomerID: "cus-budi",
		Items:      []domain.SaleItemRequest{{ProductID: "prd-beras-5kg", Quantity: 1}},
		PaidAmount: rp(21000),
	})
	if err != nil {
		t.Fatalf("credit sale failed: %v", err)
	}
	return resp
}

func TestCreateSaleFullyPaidCompletesAndTakesStock(t *testing.T) {
	svc, repo := newTestService(t)

	resp, err := svc.CreateSale(context.Background(), testCashier, domain.SaleCreateRequest{
		Items:         []domain.SaleItemRequest{{ProductID: "prd-gula-1kg", Quantity: 2}},
		PaidAmount:    rp(40000),
		PaymentMethod: "cash",
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	if !resp.Sale.TotalAmount.Equal(rp(34800)) {
		t.Fatalf("expected total 34800, got %s", resp.Sale.TotalAmount)
	}
	if !resp.Change.Equal(rp(5200)) {
		t.Fatalf("expected change 5200, got %s", resp.Change)
	}
	if !resp.Sale.PaidAmount.Equal(resp.Sale.TotalAmount) {
		t.Fatalf("expected stored paid capped at total, got %s", resp.Sale.PaidAmount)
	}
	if resp.Sale.Status != domain.SaleStatusCompleted || !resp.Sale.IsFullyPaid {
		t.Fatalf("expected completed fully paid sale, got %s", resp.Sale.Status)
	}
	if resp.Due != nil || resp.Sale.DueID != "" {
		t.Fatalf("expected no due for a fully paid sale")
	}
	if !resp.Sale.Profit.Equal(rp(5800)) {
		t.Fatalf("expected profit 5800, got %s", resp.Sale.Profit)
	}
	if got := productQty(t, repo, "prd-gula-1kg"); got != 48 {
		t.Fatalf("expected 48 on hand, got %d", got)
	}
}

func TestCreditSaleRaisesDueAndSettlesSale(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	resp := creditSale(t, svc)
	if resp.Due == nil {
		t.Fatalf("expected due for unpaid remainder")
	}
	if !resp.Due.TotalAmount.Equal(rp(50000)) || resp.Due.SaleID != resp.Sale.ID || resp.Sale.DueID != resp.Due.ID {
		t.Fatalf("unexpected due %+v", resp.Due)
	}
	if resp.Due.DueType != domain.DueTypeCustomer || resp.Due.OwnerID != "cus-budi" {
		t.Fatalf("expected customer due for cus-budi, got %s/%s", resp.Due.DueType, resp.Due.OwnerID)
	}
	if !resp.Due.DueDate.Equal(testNow.Add(30 * 24 * time.Hour)) {
		t.Fatalf("expected default 30 day term, got %s", resp.Due.DueDate)
	}
	if resp.Sale.Status != domain.SaleStatusActive {
		t.Fatalf("expected active sale, got %s", resp.Sale.Status)
	}

	settled, err := svc.ApplyPayment(ctx, testCashier, resp.Due.ID, domain.PaymentCreateRequest{Amount: rp(50000), PaymentMethod: "transfer"})
	if err != nil {
		t.Fatalf("apply payment failed: %v", err)
	}
	if settled.Due.Status != domain.DueStatusPaid {
		t.Fatalf("expected paid due, got %s", settled.Due.Status)
	}

	sale, err := repo.GetSale(ctx, resp.Sale.ID)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if sale.Status != domain.SaleStatusCompleted || !sale.PaidAmount.Equal(rp(71000)) {
		t.Fatalf("expected completed sale paid 71000, got %s paid %s", sale.Status, sale.PaidAmount)
	}
}

func TestWalkInSaleMustBePaidInFull(t *testing.T) {
	svc, repo := newTestService(t)

	_, err := svc.CreateSale(context.Background(), testCashier, domain.SaleCreateRequest{
		Items:      []domain.SaleItemRequest{{ProductID: "prd-gula-1kg", Quantity: 1}},
		PaidAmount: rp(10000),
	})
	if !errors.Is(err, domain.ErrInvalidTransaction) {
		t.Fatalf("expected invalid transaction, got %v", err)
	}
	if got := productQty(t, repo, "prd-gula-1kg"); got != 50 {
		t.Fatalf("expected stock untouched, got %d", got)
	}
}

func TestCreateSaleInsufficientStockChangesNothing(t *testing.T) {
	svc, repo := newTestService(t)

	_, err := svc.CreateSale(context.Background(), testCashier, domain.SaleCreateRequest{
		CustomerID: "cus-siti",
		Items: []domain.SaleItemRequest{
			{ProductID: "prd-gula-1kg", Quantity: 10},
			{ProductID: "prd-beras-5kg", Quantity: 30},
			{ProductID: "prd-beras-5kg", Quantity: 11},
		},
	})
	var stockErr *domain.StockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected stock error, got %v", err)
	}
	if len(stockErr.Shortages) != 1 || stockErr.Shortages[0].Requested != 41 || stockErr.Shortages[0].Available != 40 {
		t.Fatalf("unexpected shortages %+v", stockErr.Shortages)
	}
	if got := productQty(t, repo, "prd-gula-1kg"); got != 50 {
		t.Fatalf("expected gula untouched, got %d", got)
	}

	sales, err := repo.ListSales(context.Background(), domain.SaleFilter{})
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if len(sales) != 0 {
		t.Fatalf("expected no sale persisted, got %d", len(sales))
	}
}

func TestCreateSaleRejectsConflictingLinePrices(t *testing.T) {
	svc, _ := newTestService(t)
	price := rp(15000)

	_, err := svc.CreateSale(context.Background(), testCashier, domain.SaleCreateRequest{
		CustomerID: "cus-budi",
		Items: []domain.SaleItemRequest{
			{ProductID: "prd-gula-1kg", Quantity: 1},
			{ProductID: "prd-gula-1kg", Quantity: 1, UnitPrice: &price},
		},
	})
	if !errors.Is(err, domain.ErrInvalidTransaction) {
		t.Fatalf("expected invalid transaction, got %v", err)
	}
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateSale(ctx, testCashier, domain.SaleCreateRequest{
				Items:      []domain.SaleItemRequest{{ProductID: "prd-beras-5kg", Quantity: 7}},
				PaidAmount: rp(497000),
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 5 {
		t.Fatalf("expected 5 sales to fit 40 units, got %d", succeeded)
	}
	if got := productQty(t, repo, "prd-beras-5kg"); got != 5 {
		t.Fatalf("expected 5 left, got %d", got)
	}
}

func TestCancelSaleRestocksAndCancelsDue(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	resp := creditSale(t, svc)

	if _, err := svc.CancelSale(ctx, testCashier, resp.Sale.ID, domain.SaleCancelRequest{}); !errors.Is(err, domain.ErrAdminPasswordRequired) {
		t.Fatalf("expected admin password required, got %v", err)
	}

	cancelled, err := svc.CancelSale(ctx, testCashier, resp.Sale.ID, domain.SaleCancelRequest{Reason: "salah input", AdminPassword: "admin123"})
	if err != nil {
		t.Fatalf("cancel sale failed: %v", err)
	}
	if cancelled.Status != domain.SaleStatusCancelled || cancelled.CancelledAt == nil {
		t.Fatalf("expected cancelled sale, got %s", cancelled.Status)
	}
	if !strings.Contains(cancelled.Note, "salah input") {
		t.Fatalf("expected reason in note, got %q", cancelled.Note)
	}
	if got := productQty(t, repo, "prd-beras-5kg"); got != 40 {
		t.Fatalf("expected stock restored to 40, got %d", got)
	}

	due, err := repo.GetDue(ctx, resp.Due.ID)
	if err != nil {
		t.Fatalf("get due: %v", err)
	}
	if due.Status != domain.DueStatusCancelled || due.Version != 2 {
		t.Fatalf("expected cancelled due at version 2, got %s v%d", due.Status, due.Version)
	}

	again, err := svc.CancelSale(ctx, testCashier, resp.Sale.ID, domain.SaleCancelRequest{AdminPassword: "admin123"})
	if err != nil {
		t.Fatalf("repeat cancel failed: %v", err)
	}
	if again.Status != domain.SaleStatusCancelled {
		t.Fatalf("expected cancelled sale on repeat")
	}
	if got := productQty(t, repo, "prd-beras-5kg"); got != 40 {
		t.Fatalf("expected no double restock, got %d", got)
	}

	if _, err := svc.ApplyPayment(ctx, testCashier, resp.Due.ID, domain.PaymentCreateRequest{Amount: rp(1000)}); !errors.Is(err, domain.ErrDueCancelled) {
		t.Fatalf("expected payments on cancelled due rejected, got %v", err)
	}
}

func TestPreviewSaleReportsStepAndShortages(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	preview, err := svc.PreviewSale(ctx, testCashier, domain.SaleCreateRequest{
		Items: []domain.SaleItemRequest{
			{ProductID: "prd-gula-1kg", Quantity: 2},
			{ProductID: "prd-beras-5kg", Quantity: 99},
		},
		PaidAmount: rp(10000),
	})
	if err != nil {
		t.Fatalf("preview failed: %v", err)
	}
	if preview.Ready {
		t.Fatalf("expected preview not ready")
	}
	if len(preview.Shortages) != 1 || preview.Shortages[0].ProductID != "prd-beras-5kg" {
		t.Fatalf("unexpected shortages %+v", preview.Shortages)
	}
	if preview.Step != "payment" || preview.Reason == "" {
		t.Fatalf("expected walk-in underpayment to stop at payment, got %s (%s)", preview.Step, preview.Reason)
	}
	if !preview.Totals.Total.Equal(rp(34800)) {
		t.Fatalf("expected preview total 34800, got %s", preview.Totals.Total)
	}

	ready, err := svc.PreviewSale(ctx, testCashier, domain.SaleCreateRequest{
		CustomerID: "cus-siti",
		Items:      []domain.SaleItemRequest{{ProductID: "prd-gula-1kg", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("preview failed: %v", err)
	}
	if !ready.Ready || ready.Step != "review" || ready.PaymentMethod != domain.PaymentMethodCash {
		t.Fatalf("expected ready review preview, got %+v", ready)
	}
	if got := productQty(t, repo, "prd-gula-1kg"); got != 50 {
		t.Fatalf("preview must not touch stock, got %d", got)
	}
}

func TestCashierIsPinnedToOwnBranch(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateSale(context.Background(), testCashier, domain.SaleCreateRequest{
		BranchID:   "branch-2",
		Items:      []domain.SaleItemRequest{{ProductID: "prd-gula-1kg", Quantity: 1}},
		PaidAmount: rp(17400),
	})
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	_, err = svc.CreateSale(context.Background(), testAdmin, domain.SaleCreateRequest{
		BranchID:   "branch-2",
		Items:      []domain.SaleItemRequest{{ProductID: "prd-gula-1kg", Quantity: 1}},
		PaidAmount: rp(17400),
	})
	if !errors.Is(err, domain.ErrInvalidTransaction) {
		t.Fatalf("expected product outside branch rejected, got %v", err)
	}
}

func TestCreateProductRequiresAdmin(t *testing.T) {
	svc, _ := newTestService(t)
	req := domain.ProductCreateRequest{SKU: "sku-teh-01", Name: "Teh Celup", Quantity: 12, PurchasePrice: rp(4000), SalePrice: rp(5500)}

	if _, err := svc.CreateProduct(context.Background(), testCashier, req); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	created, err := svc.CreateProduct(context.Background(), testAdmin, req)
	if err != nil {
		t.Fatalf("create product failed: %v", err)
	}
	if created.SKU != "SKU-TEH-01" || created.BranchID != memory.DefaultBranchID {
		t.Fatalf("unexpected product %+v", created)
	}

	restock := 8
	updated, err := svc.UpdateProduct(context.Background(), testAdmin, created.ID, domain.ProductUpdateRequest{Restock: &restock})
	if err != nil {
		t.Fatalf("update product failed: %v", err)
	}
	if updated.Quantity != 20 {
		t.Fatalf("expected 20 after restock, got %d", updated.Quantity)
	}
}

func TestStandaloneDueLifecycle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	due, err := svc.CreateDue(ctx, testCashier, domain.DueCreateRequest{
		DueType:     domain.DueTypeSupplier,
		OwnerID:     "sup-sembako",
		TotalAmount: rp(1000),
		DueDate:     testNow.AddDate(0, 0, 14),
		Reference:   "INV-77",
	})
	if err != nil {
		t.Fatalf("create due failed: %v", err)
	}
	if due.Status != domain.DueStatusPending || due.Version != 1 {
		t.Fatalf("expected pending v1, got %s v%d", due.Status, due.Version)
	}

	if _, err := svc.ApplyPayment(ctx, testCashier, due.ID, domain.PaymentCreateRequest{Amount: rp(600)}); err != nil {
		t.Fatalf("apply payment failed: %v", err)
	}

	low := rp(500)
	if _, err := svc.UpdateDue(ctx, testCashier, due.ID, domain.DueUpdateRequest{TotalAmount: &low, AdminPassword: "x"}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected total below paid rejected, got %v", err)
	}

	higher := rp(1500)
	stale := int64(1)
	if _, err := svc.UpdateDue(ctx, testCashier, due.ID, domain.DueUpdateRequest{TotalAmount: &higher, ExpectedVersion: &stale, AdminPassword: "x"}); !errors.Is(err, domain.ErrStaleDueState) {
		t.Fatalf("expected stale version rejected, got %v", err)
	}
	updated, err := svc.UpdateDue(ctx, testCashier, due.ID, domain.DueUpdateRequest{TotalAmount: &higher, AdminPassword: "x"})
	if err != nil {
		t.Fatalf("update due failed: %v", err)
	}
	if !updated.RemainingAmount.Equal(rp(900)) || updated.Status != domain.DueStatusPartial || updated.Version != 3 {
		t.Fatalf("unexpected updated due %+v", updated)
	}

	cancelled, err := svc.CancelDue(ctx, testCashier, due.ID, domain.DueCancelRequest{AdminPassword: "x"})
	if err != nil {
		t.Fatalf("cancel due failed: %v", err)
	}
	if cancelled.Status != domain.DueStatusCancelled || !cancelled.PaidAmount.Equal(rp(600)) {
		t.Fatalf("expected cancelled due keeping paid 600, got %+v", cancelled)
	}

	detail, err := svc.GetDue(ctx, testCashier, due.ID)
	if err != nil {
		t.Fatalf("get due failed: %v", err)
	}
	if len(detail.Payments) != 1 {
		t.Fatalf("expected payment history kept, got %d", len(detail.Payments))
	}
}

func TestSaleDueTotalCannotBeEdited(t *testing.T) {
	svc, _ := newTestService(t)
	resp := creditSale(t, svc)
	total := rp(1)

	_, err := svc.UpdateDue(context.Background(), testCashier, resp.Due.ID, domain.DueUpdateRequest{TotalAmount: &total, AdminPassword: "x"})
	if !errors.Is(err, domain.ErrInvalidTransaction) {
		t.Fatalf("expected invalid transaction, got %v", err)
	}
}

func TestCreateDueValidatesOwner(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	base := domain.DueCreateRequest{TotalAmount: rp(100), DueDate: testNow.AddDate(0, 1, 0)}

	req := base
	req.DueType, req.OwnerID = domain.DueTypeCustomer, "cus-nobody"
	if _, err := svc.CreateDue(ctx, testCashier, req); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected unknown customer not found, got %v", err)
	}

	req = base
	req.DueType, req.OwnerID = domain.DueTypeBranch, memory.DefaultBranchID
	if _, err := svc.CreateDue(ctx, testCashier, req); !errors.Is(err, domain.ErrInvalidTransaction) {
		t.Fatalf("expected self-owed branch due rejected, got %v", err)
	}

	req = base
	req.DueType, req.OwnerID = domain.DueTypeBranch, "branch-2"
	if _, err := svc.CreateDue(ctx, testCashier, req); err != nil {
		t.Fatalf("expected branch due accepted, got %v", err)
	}
}

func TestListDuesDerivesOverdueAndRefreshPersists(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	due, err := svc.CreateDue(ctx, testCashier, domain.DueCreateRequest{
		DueType:     domain.DueTypeCustomer,
		OwnerID:     "cus-siti",
		TotalAmount: rp(250),
		DueDate:     testNow.AddDate(0, 0, 1),
	})
	if err != nil {
		t.Fatalf("create due failed: %v", err)
	}

	later := New(repo, Options{DefaultBranchID: memory.DefaultBranchID, Now: func() time.Time { return testNow.AddDate(0, 0, 3) }})
	overdue, err := later.ListDues(ctx, testCashier, domain.DueFilter{Status: domain.DueStatusOverdue})
	if err != nil {
		t.Fatalf("list dues failed: %v", err)
	}
	if len(overdue) != 1 || overdue[0].ID != due.ID {
		t.Fatalf("expected the due listed as overdue, got %+v", overdue)
	}

	stored, _ := repo.GetDue(ctx, due.ID)
	if stored.Status != domain.DueStatusPending {
		t.Fatalf("listing must not write, stored status %s", stored.Status)
	}

	n, err := later.RefreshOverdue(ctx, testCashier, "")
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 refreshed, got %d", n)
	}
	stored, _ = repo.GetDue(ctx, due.ID)
	if stored.Status != domain.DueStatusOverdue || stored.Version != 2 {
		t.Fatalf("expected persisted overdue v2, got %s v%d", stored.Status, stored.Version)
	}

	if _, err := later.ListDues(ctx, testCashier, domain.DueFilter{Status: "late"}); !errors.Is(err, domain.ErrInvalidTransaction) {
		t.Fatalf("expected unknown status rejected, got %v", err)
	}
}

type countingCache struct {
	mu          sync.Mutex
	entries     map[string]analytics.Dashboard
	hits        int
	invalidated int
}

func (c *countingCache) Get(_ context.Context, key string) (*analytics.Dashboard, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	c.hits++
	return &d, true, nil
}

func (c *countingCache) Set(_ context.Context, key string, value *analytics.Dashboard, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = *value
	return nil
}

func (c *countingCache) Invalidate(_ context.Context, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string]analytics.Dashboard{}
	c.invalidated++
	return nil
}

func TestDashboardIsCachedUntilSaleChanges(t *testing.T) {
	repo := memory.NewSeeded()
	c := &countingCache{entries: map[string]analytics.Dashboard{}}
	svc := New(repo, Options{DefaultBranchID: memory.DefaultBranchID, Cache: c, Now: func() time.Time { return testNow }})
	ctx := context.Background()

	creditSale(t, svc)

	first, err := svc.Dashboard(ctx, testCashier, "", "all")
	if err != nil {
		t.Fatalf("dashboard failed: %v", err)
	}
	if first.Sales.Count != 1 || !first.Sales.Outstanding.Equal(rp(50000)) {
		t.Fatalf("unexpected sales totals %+v", first.Sales)
	}
	if len(first.Customers) != 2 {
		t.Fatalf("expected both seeded customers, got %d", len(first.Customers))
	}

	if _, err := svc.Dashboard(ctx, testCashier, "", "all"); err != nil {
		t.Fatalf("dashboard failed: %v", err)
	}
	if c.hits != 1 {
		t.Fatalf("expected a cache hit, got %d", c.hits)
	}

	creditSale(t, svc)
	second, err := svc.Dashboard(ctx, testCashier, "", "all")
	if err != nil {
		t.Fatalf("dashboard failed: %v", err)
	}
	if second.Sales.Count != 2 {
		t.Fatalf("expected fresh dashboard after sale, got count %d", second.Sales.Count)
	}

	if _, err := svc.Dashboard(ctx, testCashier, "", "yesterday"); !errors.Is(err, domain.ErrInvalidTransaction) {
		t.Fatalf("expected unknown range rejected, got %v", err)
	}
}

func TestExportCustomersWritesCSV(t *testing.T) {
	svc, _ := newTestService(t)
	creditSale(t, svc)

	var buf bytes.Buffer
	if err := svc.ExportCustomers(context.Background(), testCashier, "", "all", &buf); err != nil {
		t.Fatalf("export failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 customers, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "customer_id,") {
		t.Fatalf("unexpected header %q", lines[0])
	}
}
