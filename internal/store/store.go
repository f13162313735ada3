package store

import (
	"context"

	"tokocabang/backend/internal/domain"
)

var (
	ErrNotFound           = domain.ErrNotFound
	ErrInsufficientStock  = domain.ErrInsufficientStock
	ErrInvalidTransaction = domain.ErrInvalidTransaction
	ErrStaleDueState      = domain.ErrStaleDueState
)

// Repository is the persistence boundary. Reads outside a transaction return
// snapshots; every multi-record change goes through WithTx.
type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	ListBranches(ctx context.Context) ([]domain.Branch, error)
	GetBranch(ctx context.Context, id string) (*domain.Branch, error)
	CreateBranch(ctx context.Context, branch domain.Branch) (*domain.Branch, error)

	ListCustomers(ctx context.Context, branchID string) ([]domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)

	ListSuppliers(ctx context.Context) ([]domain.Supplier, error)
	GetSupplier(ctx context.Context, id string) (*domain.Supplier, error)
	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)

	ListProducts(ctx context.Context, branchID string) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)

	ListDues(ctx context.Context, filter domain.DueFilter) ([]domain.Due, error)
	GetDue(ctx context.Context, id string) (*domain.Due, error)
	ListPayments(ctx context.Context, filter domain.PaymentFilter) ([]domain.Payment, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// Tx is a unit of work. Get*ForUpdate rows stay locked until the transaction
// ends. Nothing written through Tx is visible to other readers unless the
// function passed to WithTx returns nil.
type Tx interface {
	GetProductsForUpdate(ctx context.Context, ids []string) (map[string]domain.Product, error)
	SetProductQuantity(ctx context.Context, id string, qty int) error
	UpdateProduct(ctx context.Context, product domain.Product) error

	InsertSale(ctx context.Context, sale domain.Sale) error
	GetSaleForUpdate(ctx context.Context, id string) (*domain.Sale, error)
	UpdateSaleSettlement(ctx context.Context, sale domain.Sale) error
	CancelSale(ctx context.Context, sale domain.Sale) error

	InsertDue(ctx context.Context, due domain.Due) error
	GetDueForUpdate(ctx context.Context, id string) (*domain.Due, error)
	// UpdateDue writes due when the stored version equals expectedVersion and
	// stores due.Version. A mismatch fails with ErrStaleDueState.
	UpdateDue(ctx context.Context, due domain.Due, expectedVersion int64) error

	ListPaymentsByDue(ctx context.Context, dueID string) ([]domain.Payment, error)
	GetPayment(ctx context.Context, id string) (*domain.Payment, error)
	InsertPayment(ctx context.Context, payment domain.Payment) error
	UpdatePayment(ctx context.Context, payment domain.Payment) error
	DeletePayment(ctx context.Context, id string) error
}
