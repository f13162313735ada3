package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"tokocabang/backend/internal/domain"
	"tokocabang/backend/internal/store"
)

// DefaultBranchID is the branch seeded by NewSeeded.
const DefaultBranchID = "main-branch"

type Store struct {
	mu    sync.RWMutex
	state *state
}

type state struct {
	branches  map[string]domain.Branch
	customers map[string]domain.Customer
	suppliers map[string]domain.Supplier
	products  map[string]domain.Product
	sales     map[string]domain.Sale
	dues      map[string]domain.Due
	payments  map[string]domain.Payment
	users     map[string]domain.UserAccount
}

func newState() *state {
	return &state{
		branches:  make(map[string]domain.Branch),
		customers: make(map[string]domain.Customer),
		suppliers: make(map[string]domain.Supplier),
		products:  make(map[string]domain.Product),
		sales:     make(map[string]domain.Sale),
		dues:      make(map[string]domain.Due),
		payments:  make(map[string]domain.Payment),
		users:     make(map[string]domain.UserAccount),
	}
}

func (st *state) clone() *state {
	next := newState()
	for k, v := range st.branches {
		next.branches[k] = v
	}
	for k, v := range st.customers {
		next.customers[k] = v
	}
	for k, v := range st.suppliers {
		next.suppliers[k] = v
	}
	for k, v := range st.products {
		next.products[k] = v
	}
	for k, v := range st.sales {
		next.sales[k] = cloneSale(v)
	}
	for k, v := range st.dues {
		next.dues[k] = v
	}
	for k, v := range st.payments {
		next.payments[k] = v
	}
	for k, v := range st.users {
		next.users[k] = v
	}
	return next
}

func New() *Store {
	return &Store{state: newState()}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning. These credentials are never used in production (the backend uses
// PostgreSQL when DATABASE_URL is set).
func seedUsers(branchID string) map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Warn().Str("component", "memory-store").Msg("using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatal().Err(err).Str("username", u.username).Msg("failed to hash seed password")
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			BranchID:  branchID,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	now := time.Now().UTC()
	st := newState()

	st.branches[DefaultBranchID] = domain.Branch{ID: DefaultBranchID, Name: "Toko Pusat", Address: "Jl. Merdeka 1", CreatedAt: now}
	st.branches["branch-2"] = domain.Branch{ID: "branch-2", Name: "Toko Cabang Timur", Address: "Jl. Sudirman 45", CreatedAt: now}

	for _, p := range []struct {
		id, sku, name   string
		qty             int
		cost, salePrice int64
	}{
		{"prd-beras-5kg", "SKU-BERAS-5", "Beras 5kg", 40, 62000, 71000},
		{"prd-minyak-2l", "SKU-MINYAK-2", "Minyak Goreng 2L", 35, 29000, 34500},
		{"prd-gula-1kg", "SKU-GULA-1", "Gula 1kg", 50, 14500, 17400},
		{"prd-telur-10", "SKU-TELUR-10", "Telur 10 Butir", 25, 23000, 26500},
		{"prd-kopi-sachet", "SKU-KOPI-01", "Kopi Sachet", 200, 1700, 2600},
		{"prd-sabun", "SKU-SABUN-01", "Sabun Mandi", 60, 5000, 7400},
	} {
		st.products[p.id] = domain.Product{
			ID:            p.id,
			BranchID:      DefaultBranchID,
			SKU:           p.sku,
			Name:          p.name,
			Quantity:      p.qty,
			PurchasePrice: decimal.NewFromInt(p.cost),
			SalePrice:     decimal.NewFromInt(p.salePrice),
			Status:        domain.ProductStatusActive,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	}

	st.customers["cus-budi"] = domain.Customer{ID: "cus-budi", BranchID: DefaultBranchID, Name: "Budi Santoso", Phone: "081200000001", CreatedAt: now}
	st.customers["cus-siti"] = domain.Customer{ID: "cus-siti", BranchID: DefaultBranchID, Name: "Siti Aminah", Phone: "081200000002", CreatedAt: now}
	st.suppliers["sup-sembako"] = domain.Supplier{ID: "sup-sembako", Name: "CV Sembako Jaya", Phone: "0215550001", CreatedAt: now}
	st.users = seedUsers(DefaultBranchID)

	return &Store{state: st}
}

// WithTx runs fn against a private copy of the store and publishes the copy
// only when fn succeeds. The store is write-locked for the duration, so fn
// must use tx and never call back into the Store.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	working := s.state.clone()
	if err := fn(ctx, &memTx{st: working}); err != nil {
		return err
	}
	s.state = working
	return nil
}

func (s *Store) ListBranches(_ context.Context) ([]domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	branches := make([]domain.Branch, 0, len(s.state.branches))
	for _, b := range s.state.branches {
		branches = append(branches, b)
	}
	slices.SortFunc(branches, func(a, b domain.Branch) int { return strings.Compare(a.Name, b.Name) })
	return branches, nil
}

func (s *Store) GetBranch(_ context.Context, id string) (*domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.state.branches[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &b, nil
}

func (s *Store) CreateBranch(_ context.Context, branch domain.Branch) (*domain.Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if branch.ID == "" || branch.Name == "" {
		return nil, store.ErrInvalidTransaction
	}
	if _, exists := s.state.branches[branch.ID]; exists {
		return nil, store.ErrInvalidTransaction
	}
	s.state.branches[branch.ID] = branch
	return &branch, nil
}

func (s *Store) ListCustomers(_ context.Context, branchID string) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.state.customers))
	for _, c := range s.state.customers {
		if branchID != "" && c.BranchID != branchID {
			continue
		}
		customers = append(customers, c)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int { return strings.Compare(a.Name, b.Name) })
	return customers, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.state.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.ID == "" || customer.Name == "" {
		return nil, store.ErrInvalidTransaction
	}
	if _, exists := s.state.customers[customer.ID]; exists {
		return nil, store.ErrInvalidTransaction
	}
	s.state.customers[customer.ID] = customer
	return &customer, nil
}

func (s *Store) ListSuppliers(_ context.Context) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	suppliers := make([]domain.Supplier, 0, len(s.state.suppliers))
	for _, sup := range s.state.suppliers {
		suppliers = append(suppliers, sup)
	}
	slices.SortFunc(suppliers, func(a, b domain.Supplier) int { return strings.Compare(a.Name, b.Name) })
	return suppliers, nil
}

func (s *Store) GetSupplier(_ context.Context, id string) (*domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sup, ok := s.state.suppliers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sup, nil
}

func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if supplier.ID == "" || supplier.Name == "" {
		return nil, store.ErrInvalidTransaction
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}
	s.state.suppliers[supplier.ID] = supplier
	return &supplier, nil
}

func (s *Store) ListProducts(_ context.Context, branchID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.state.products))
	for _, p := range s.state.products {
		if branchID != "" && p.BranchID != branchID {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int { return strings.Compare(a.Name, b.Name) })
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.state.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" || product.SKU == "" || product.Name == "" || product.Quantity < 0 {
		return nil, store.ErrInvalidTransaction
	}
	for _, existing := range s.state.products {
		if existing.ID == product.ID || (existing.BranchID == product.BranchID && existing.SKU == product.SKU) {
			return nil, store.ErrInvalidTransaction
		}
	}
	if product.Status == "" {
		product.Status = domain.ProductStatusActive
	}
	s.state.products[product.ID] = product
	return &product, nil
}

func (s *Store) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, len(s.state.sales))
	for _, sale := range s.state.sales {
		if !saleMatches(sale, filter) {
			continue
		}
		sales = append(sales, cloneSale(sale))
	}
	slices.SortFunc(sales, func(a, b domain.Sale) int { return b.SaleDate.Compare(a.SaleDate) })
	if filter.Limit > 0 && len(sales) > filter.Limit {
		sales = sales[:filter.Limit]
	}
	return sales, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.state.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneSale(sale)
	return &out, nil
}

func (s *Store) ListDues(_ context.Context, filter domain.DueFilter) ([]domain.Due, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dues := make([]domain.Due, 0, len(s.state.dues))
	for _, due := range s.state.dues {
		if !dueMatches(due, filter) {
			continue
		}
		dues = append(dues, due)
	}
	slices.SortFunc(dues, func(a, b domain.Due) int {
		if c := a.DueDate.Compare(b.DueDate); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if filter.Limit > 0 && len(dues) > filter.Limit {
		dues = dues[:filter.Limit]
	}
	return dues, nil
}

func (s *Store) GetDue(_ context.Context, id string) (*domain.Due, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	due, ok := s.state.dues[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &due, nil
}

func (s *Store) ListPayments(_ context.Context, filter domain.PaymentFilter) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payments := make([]domain.Payment, 0, len(s.state.payments))
	for _, p := range s.state.payments {
		if filter.DueID != "" && p.DueID != filter.DueID {
			continue
		}
		if filter.BranchID != "" {
			due, ok := s.state.dues[p.DueID]
			if !ok || due.BranchID != filter.BranchID {
				continue
			}
		}
		if filter.From != nil && p.PaymentDate.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !p.PaymentDate.Before(*filter.To) {
			continue
		}
		payments = append(payments, p)
	}
	sortPayments(payments)
	return payments, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.state.users[username]; exists {
		return store.ErrInvalidTransaction
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.state.users[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.state.users))
	for _, user := range s.state.users {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	user, exists := s.state.users[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.state.users[username] = user
	return nil
}

func saleMatches(sale domain.Sale, filter domain.SaleFilter) bool {
	if filter.BranchID != "" && sale.BranchID != filter.BranchID {
		return false
	}
	if filter.CustomerID != "" && sale.CustomerID != filter.CustomerID {
		return false
	}
	if filter.Status != "" && sale.Status != filter.Status {
		return false
	}
	if filter.From != nil && sale.SaleDate.Before(*filter.From) {
		return false
	}
	if filter.To != nil && !sale.SaleDate.Before(*filter.To) {
		return false
	}
	return true
}

func dueMatches(due domain.Due, filter domain.DueFilter) bool {
	if filter.BranchID != "" && due.BranchID != filter.BranchID {
		return false
	}
	if filter.DueType != "" && due.DueType != filter.DueType {
		return false
	}
	if filter.OwnerID != "" && due.OwnerID != filter.OwnerID {
		return false
	}
	if filter.Status != "" && due.Status != filter.Status {
		return false
	}
	return true
}

func sortPayments(payments []domain.Payment) {
	slices.SortFunc(payments, func(a, b domain.Payment) int {
		if c := a.PaymentDate.Compare(b.PaymentDate); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func cloneSale(src domain.Sale) domain.Sale {
	out := src
	out.Items = append([]domain.SaleItem(nil), src.Items...)
	if src.CancelledAt != nil {
		at := *src.CancelledAt
		out.CancelledAt = &at
	}
	return out
}
