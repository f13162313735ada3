package service

import (
	"context"
	"fmt"
	"strings"

	"tokocabang/backend/internal/domain"
	"tokocabang/backend/internal/money"
	"tokocabang/backend/internal/store"
	"tokocabang/backend/internal/xid"
)

func (s *Service) ListBranches(ctx context.Context) ([]domain.Branch, error) {
	return s.repo.ListBranches(ctx)
}

func (s *Service) CreateBranch(ctx context.Context, actor domain.ActorContext, req domain.BranchCreateRequest) (domain.Branch, error) {
	if err := requireAdmin(actor); err != nil {
		return domain.Branch{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Branch{}, domain.Invalid("branch name is required")
	}

	created, err := s.repo.CreateBranch(ctx, domain.Branch{
		ID:        xid.New("branch"),
		Name:      name,
		Address:   strings.TrimSpace(req.Address),
		Phone:     strings.TrimSpace(req.Phone),
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.Branch{}, s.fail("create_branch", err)
	}
	s.audit(actor, created.ID, "branch_create", "branch", created.ID, created.Name)
	return *created, nil
}

func (s *Service) ListCustomers(ctx context.Context, actor domain.ActorContext, branchID string) ([]domain.Customer, error) {
	if !actor.IsAdmin() || branchID != "" {
		var err error
		if branchID, err = s.branchFor(actor, branchID); err != nil {
			return nil, err
		}
	}
	return s.repo.ListCustomers(ctx, branchID)
}

func (s *Service) CreateCustomer(ctx context.Context, actor domain.ActorContext, req domain.CustomerCreateRequest) (domain.Customer, error) {
	branchID, err := s.branchFor(actor, req.BranchID)
	if err != nil {
		return domain.Customer{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Customer{}, domain.Invalid("customer name is required")
	}
	if _, err := s.repo.GetBranch(ctx, branchID); err != nil {
		return domain.Customer{}, s.fail("create_customer", err)
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		ID:        xid.New("cus"),
		BranchID:  branchID,
		Name:      name,
		Phone:     strings.TrimSpace(req.Phone),
		Address:   strings.TrimSpace(req.Address),
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.Customer{}, s.fail("create_customer", err)
	}
	s.audit(actor, branchID, "customer_create", "customer", created.ID, created.Name)
	return *created, nil
}

func (s *Service) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	return s.repo.ListSuppliers(ctx)
}

func (s *Service) CreateSupplier(ctx context.Context, actor domain.ActorContext, req domain.SupplierCreateRequest) (domain.Supplier, error) {
	if err := requireAdmin(actor); err != nil {
		return domain.Supplier{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Supplier{}, domain.Invalid("supplier name is required")
	}

	created, err := s.repo.CreateSupplier(ctx, domain.Supplier{
		ID:        xid.New("sup"),
		Name:      name,
		Phone:     strings.TrimSpace(req.Phone),
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.Supplier{}, s.fail("create_supplier", err)
	}
	s.audit(actor, "", "supplier_create", "supplier", created.ID, created.Name)
	return *created, nil
}

func (s *Service) ListProducts(ctx context.Context, actor domain.ActorContext, branchID string) ([]domain.Product, error) {
	if !actor.IsAdmin() || branchID != "" {
		var err error
		if branchID, err = s.branchFor(actor, branchID); err != nil {
			return nil, err
		}
	}
	return s.repo.ListProducts(ctx, branchID)
}

func (s *Service) CreateProduct(ctx context.Context, actor domain.ActorContext, req domain.ProductCreateRequest) (domain.Product, error) {
	if err := requireAdmin(actor); err != nil {
		return domain.Product{}, err
	}
	branchID, err := s.branchFor(actor, req.BranchID)
	if err != nil {
		return domain.Product{}, err
	}

	sku := strings.ToUpper(strings.TrimSpace(req.SKU))
	name := strings.TrimSpace(req.Name)
	if sku == "" || name == "" {
		return domain.Product{}, domain.Invalid("sku and name are required")
	}
	if req.Quantity < 0 {
		return domain.Product{}, domain.Invalid("quantity must not be negative")
	}
	if err := validPrice("purchase price", req.PurchasePrice); err != nil {
		return domain.Product{}, err
	}
	if err := validPrice("sale price", req.SalePrice); err != nil {
		return domain.Product{}, err
	}
	if _, err := s.repo.GetBranch(ctx, branchID); err != nil {
		return domain.Product{}, s.fail("create_product", err)
	}

	now := s.now()
	created, err := s.repo.CreateProduct(ctx, domain.Product{
		ID:            xid.New("prd"),
		BranchID:      branchID,
		SKU:           sku,
		Name:          name,
		Quantity:      req.Quantity,
		PurchasePrice: req.PurchasePrice,
		SalePrice:     req.SalePrice,
		Status:        domain.ProductStatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return domain.Product{}, s.fail("create_product", err)
	}
	s.audit(actor, branchID, "product_create", "product", created.ID,
		fmt.Sprintf("sku=%s,price=%s,stock=%d", created.SKU, created.SalePrice.StringFixed(money.Scale), created.Quantity))
	return *created, nil
}

// UpdateProduct changes prices, name or status, and restocks by a positive
// delta. Restocking runs under the product row lock so it composes with
// concurrent sales.
func (s *Service) UpdateProduct(ctx context.Context, actor domain.ActorContext, productID string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if err := requireAdmin(actor); err != nil {
		return domain.Product{}, err
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, domain.Invalid("product id is required")
	}

	var updated domain.Product
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		products, err := tx.GetProductsForUpdate(ctx, []string{productID})
		if err != nil {
			return err
		}
		existing, ok := products[productID]
		if !ok {
			return store.ErrNotFound
		}
		if _, err := s.branchFor(actor, existing.BranchID); err != nil {
			return err
		}

		updated = existing
		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return domain.Invalid("product name must not be empty")
			}
			updated.Name = name
		}
		if req.PurchasePrice != nil {
			if err := validPrice("purchase price", *req.PurchasePrice); err != nil {
				return err
			}
			updated.PurchasePrice = *req.PurchasePrice
		}
		if req.SalePrice != nil {
			if err := validPrice("sale price", *req.SalePrice); err != nil {
				return err
			}
			updated.SalePrice = *req.SalePrice
		}
		if req.Restock != nil {
			if *req.Restock < 1 {
				return domain.Invalid("restock quantity must be positive")
			}
			updated.Quantity += *req.Restock
		}
		if req.Status != nil {
			switch *req.Status {
			case domain.ProductStatusActive, domain.ProductStatusInactive:
				updated.Status = *req.Status
			default:
				return domain.Invalid("product status %q is not supported", *req.Status)
			}
		}
		updated.UpdatedAt = s.now()
		return tx.UpdateProduct(ctx, updated)
	})
	if err != nil {
		return domain.Product{}, s.fail("update_product", err)
	}

	s.audit(actor, updated.BranchID, "product_update", "product", updated.ID,
		fmt.Sprintf("price=%s,stock=%d,status=%s", updated.SalePrice.StringFixed(money.Scale), updated.Quantity, updated.Status))
	return updated, nil
}
