package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Branch struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

type BranchCreateRequest struct {
	Name    string `json:"name" validate:"required,max=120"`
	Address string `json:"address" validate:"max=255"`
	Phone   string `json:"phone" validate:"max=32"`
}

type Customer struct {
	ID        string    `json:"id"`
	BranchID  string    `json:"branch_id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}

type CustomerCreateRequest struct {
	BranchID string `json:"branch_id"`
	Name     string `json:"name" validate:"required,max=120"`
	Phone    string `json:"phone" validate:"max=32"`
	Address  string `json:"address" validate:"max=255"`
}

type Supplier struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

type SupplierCreateRequest struct {
	Name  string `json:"name" validate:"required,max=120"`
	Phone string `json:"phone" validate:"max=32"`
}

type Product struct {
	ID            string          `json:"id"`
	BranchID      string          `json:"branch_id"`
	SKU           string          `json:"sku"`
	Name          string          `json:"name"`
	Quantity      int             `json:"quantity"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	SalePrice     decimal.Decimal `json:"sale_price"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (p Product) Active() bool {
	return p.Status == ProductStatusActive
}

type ProductCreateRequest struct {
	BranchID      string          `json:"branch_id"`
	SKU           string          `json:"sku" validate:"required,max=64"`
	Name          string          `json:"name" validate:"required,max=120"`
	Quantity      int             `json:"quantity" validate:"gte=0"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	SalePrice     decimal.Decimal `json:"sale_price"`
}

type ProductUpdateRequest struct {
	Name          *string          `json:"name,omitempty"`
	PurchasePrice *decimal.Decimal `json:"purchase_price,omitempty"`
	SalePrice     *decimal.Decimal `json:"sale_price,omitempty"`
	Restock       *int             `json:"restock,omitempty" validate:"omitempty,gt=0"`
	Status        *string          `json:"status,omitempty" validate:"omitempty,oneof=active inactive"`
}

// SaleItem snapshots price and cost at the moment of sale.
type SaleItem struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
}

type Sale struct {
	ID          string          `json:"id"`
	CustomerID  string          `json:"customer_id,omitempty"`
	BranchID    string          `json:"branch_id"`
	UserID      string          `json:"user_id"`
	SaleDate    time.Time       `json:"sale_date"`
	Items       []SaleItem      `json:"items"`
	Discount    decimal.Decimal `json:"discount"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	PaidAmount  decimal.Decimal `json:"paid_amount"`
	Profit      decimal.Decimal `json:"profit"`
	IsFullyPaid bool            `json:"is_fully_paid"`
	Status      string          `json:"status"`
	Note        string          `json:"note"`
	DueID       string          `json:"due_id,omitempty"`
	CancelledAt *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

func (s Sale) WalkIn() bool {
	return s.CustomerID == ""
}

type SaleItemRequest struct {
	ProductID string           `json:"product_id" validate:"required"`
	Quantity  int              `json:"quantity" validate:"gte=1"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
}

type SaleCreateRequest struct {
	BranchID      string            `json:"branch_id"`
	CustomerID    string            `json:"customer_id"`
	SaleDate      *time.Time        `json:"sale_date,omitempty"`
	Items         []SaleItemRequest `json:"items" validate:"required,min=1,dive"`
	Discount      decimal.Decimal   `json:"discount"`
	PaidAmount    decimal.Decimal   `json:"paid_amount"`
	PaymentMethod string            `json:"payment_method" validate:"omitempty,max=32"`
	Note          string            `json:"note" validate:"max=255"`
	DueDate       *time.Time        `json:"due_date,omitempty"`
}

type SaleCreateResponse struct {
	Sale   Sale            `json:"sale"`
	Due    *Due            `json:"due,omitempty"`
	Change decimal.Decimal `json:"change"`
}

type SaleCancelRequest struct {
	Reason        string `json:"reason" validate:"max=255"`
	AdminPassword string `json:"admin_password"`
}

type SaleFilter struct {
	BranchID   string
	CustomerID string
	Status     string
	From       *time.Time
	To         *time.Time
	Limit      int
}

type Due struct {
	ID              string          `json:"id"`
	BranchID        string          `json:"branch_id"`
	DueType         string          `json:"due_type"`
	OwnerID         string          `json:"owner_id"`
	SaleID          string          `json:"sale_id,omitempty"`
	Reference       string          `json:"reference,omitempty"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	PaidAmount      decimal.Decimal `json:"paid_amount"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	Status          string          `json:"status"`
	DueDate         time.Time       `json:"due_date"`
	Description     string          `json:"description"`
	Version         int64           `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type DueCreateRequest struct {
	BranchID    string          `json:"branch_id"`
	DueType     string          `json:"due_type" validate:"required,oneof=customer supplier branch"`
	OwnerID     string          `json:"owner_id" validate:"required"`
	Reference   string          `json:"reference" validate:"max=64"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	DueDate     time.Time       `json:"due_date" validate:"required"`
	Description string          `json:"description" validate:"max=255"`
}

type DueUpdateRequest struct {
	TotalAmount     *decimal.Decimal `json:"total_amount,omitempty"`
	DueDate         *time.Time       `json:"due_date,omitempty"`
	Description     *string          `json:"description,omitempty" validate:"omitempty,max=255"`
	ExpectedVersion *int64           `json:"expected_version,omitempty"`
	AdminPassword   string           `json:"admin_password"`
}

type DueCancelRequest struct {
	Reason        string `json:"reason" validate:"max=255"`
	AdminPassword string `json:"admin_password"`
}

type DueFilter struct {
	BranchID string
	DueType  string
	OwnerID  string
	Status   string
	Limit    int
}

type DueDetail struct {
	Due      Due       `json:"due"`
	Payments []Payment `json:"payments"`
}

type Payment struct {
	ID            string          `json:"id"`
	DueID         string          `json:"due_id"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentDate   time.Time       `json:"payment_date"`
	PaymentMethod string          `json:"payment_method"`
	Description   string          `json:"description"`
	UserID        string          `json:"user_id"`
	CreatedAt     time.Time       `json:"created_at"`
}

type PaymentCreateRequest struct {
	Amount          decimal.Decimal `json:"amount"`
	PaymentDate     *time.Time      `json:"payment_date,omitempty"`
	PaymentMethod   string          `json:"payment_method" validate:"omitempty,max=32"`
	Description     string          `json:"description" validate:"max=255"`
	ExpectedVersion *int64          `json:"expected_version,omitempty"`
}

type PaymentUpdateRequest struct {
	Amount          decimal.Decimal `json:"amount"`
	PaymentDate     *time.Time      `json:"payment_date,omitempty"`
	PaymentMethod   string          `json:"payment_method" validate:"omitempty,max=32"`
	Description     *string         `json:"description,omitempty" validate:"omitempty,max=255"`
	ExpectedVersion *int64          `json:"expected_version,omitempty"`
	AdminPassword   string          `json:"admin_password"`
}

type PaymentDeleteRequest struct {
	AdminPassword   string `json:"admin_password"`
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
}

type PaymentFilter struct {
	BranchID string
	DueID    string
	From     *time.Time
	To       *time.Time
}

type SettlementResponse struct {
	Due     Due      `json:"due"`
	Payment *Payment `json:"payment,omitempty"`
	Sale    *Sale    `json:"sale,omitempty"`
}

// ActorContext identifies who performs a core operation and on behalf of which branch.
type ActorContext struct {
	UserID   string
	BranchID string
	Role     string
}

func (a ActorContext) IsAdmin() bool {
	return a.Role == RoleAdmin
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	BranchID    string `json:"branch_id"`
	ExpiresAt   string `json:"expires_at"`
}

type UserCreateRequest struct {
	Username string `json:"username" validate:"required,min=4,max=64"`
	Password string `json:"password" validate:"required,min=6"`
	Role     string `json:"role" validate:"omitempty,oneof=admin cashier"`
	BranchID string `json:"branch_id"`
}

type User struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	BranchID  string    `json:"branch_id"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	BranchID  string
	Active    bool
	CreatedAt time.Time
}

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

const (
	ProductStatusActive   = "active"
	ProductStatusInactive = "inactive"
)

const (
	SaleStatusActive    = "active"
	SaleStatusCompleted = "completed"
	SaleStatusCancelled = "cancelled"
)

const (
	DueTypeCustomer = "customer"
	DueTypeSupplier = "supplier"
	DueTypeBranch   = "branch"
)

const (
	DueStatusPending   = "pending"
	DueStatusPartial   = "partial"
	DueStatusPaid      = "paid"
	DueStatusOverdue   = "overdue"
	DueStatusCancelled = "cancelled"
)

const (
	PaymentMethodCash     = "cash"
	PaymentMethodTransfer = "transfer"
	PaymentMethodCard     = "card"
	PaymentMethodQRIS     = "qris"
)

var DueTypes = []string{DueTypeCustomer, DueTypeSupplier, DueTypeBranch}

var DueStatuses = []string{DueStatusPending, DueStatusPartial, DueStatusPaid, DueStatusOverdue, DueStatusCancelled}
