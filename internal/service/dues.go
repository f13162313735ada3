package service

import (
	"context"
	"fmt"
	"strings"

	"tokocabang/backend/internal/domain"
	"tokocabang/backend/internal/ledger"
	"tokocabang/backend/internal/lock"
	"tokocabang/backend/internal/money"
	"tokocabang/backend/internal/settlement"
	"tokocabang/backend/internal/store"
	"tokocabang/backend/internal/xid"
)

// CreateDue records a standalone receivable or payable. Dues that come from a
// sale are created by CreateSale instead.
func (s *Service) CreateDue(ctx context.Context, actor domain.ActorContext, req domain.DueCreateRequest) (domain.Due, error) {
	branchID, err := s.branchFor(actor, req.BranchID)
	if err != nil {
		return domain.Due{}, err
	}
	dueType := strings.ToLower(strings.TrimSpace(req.DueType))
	ownerID := strings.TrimSpace(req.OwnerID)
	if req.DueDate.IsZero() {
		return domain.Due{}, domain.Invalid("due date is required")
	}
	if err := s.checkOwner(ctx, branchID, dueType, ownerID); err != nil {
		return domain.Due{}, s.fail("create_due", err)
	}

	now := s.now()
	due, err := ledger.NewDue(xid.New("due"), branchID, dueType, ownerID, req.TotalAmount, req.DueDate.UTC(), now)
	if err != nil {
		return domain.Due{}, err
	}
	due.Reference = strings.TrimSpace(req.Reference)
	due.Description = strings.TrimSpace(req.Description)

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertDue(ctx, due)
	})
	if err != nil {
		return domain.Due{}, s.fail("create_due", err)
	}

	s.invalidate(ctx, branchID)
	s.audit(actor, branchID, "due_create", "due", due.ID,
		fmt.Sprintf("type=%s,owner=%s,total=%s", due.DueType, due.OwnerID, due.TotalAmount.StringFixed(money.Scale)))
	return due, nil
}

// GetDue returns the due with its status derived at read time and its payments
// oldest first.
func (s *Service) GetDue(ctx context.Context, actor domain.ActorContext, dueID string) (domain.DueDetail, error) {
	due, err := s.repo.GetDue(ctx, strings.TrimSpace(dueID))
	if err != nil {
		return domain.DueDetail{}, s.fail("get_due", err)
	}
	if err := settlement.Authorize(actor, due.BranchID); err != nil {
		return domain.DueDetail{}, err
	}
	payments, err := s.repo.ListPayments(ctx, domain.PaymentFilter{DueID: due.ID})
	if err != nil {
		return domain.DueDetail{}, s.fail("get_due", err)
	}
	return domain.DueDetail{Due: ledger.Derive(*due, s.now()), Payments: payments}, nil
}

// ListDues filters on the derived status, so a pending due whose date has
// passed is listed as overdue even before RefreshOverdue persists it.
func (s *Service) ListDues(ctx context.Context, actor domain.ActorContext, filter domain.DueFilter) ([]domain.Due, error) {
	if !actor.IsAdmin() || filter.BranchID != "" {
		var err error
		if filter.BranchID, err = s.branchFor(actor, filter.BranchID); err != nil {
			return nil, err
		}
	}
	status := strings.ToLower(strings.TrimSpace(filter.Status))
	if status != "" && !isDueStatus(status) {
		return nil, domain.Invalid("due status %q is not supported", status)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	filter.Status = ""
	filter.Limit = 0

	dues, err := s.repo.ListDues(ctx, filter)
	if err != nil {
		return nil, s.fail("list_dues", err)
	}
	now := s.now()
	out := make([]domain.Due, 0, len(dues))
	for _, due := range dues {
		due = ledger.Derive(due, now)
		if status != "" && due.Status != status {
			continue
		}
		out = append(out, due)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// UpdateDue edits the total, due date or description of an open due. The
// total of a due raised by a sale follows the sale and cannot be edited.
func (s *Service) UpdateDue(ctx context.Context, actor domain.ActorContext, dueID string, req domain.DueUpdateRequest) (domain.Due, error) {
	if strings.TrimSpace(req.AdminPassword) == "" {
		return domain.Due{}, domain.ErrAdminPasswordRequired
	}
	dueID = strings.TrimSpace(dueID)

	var updated domain.Due
	err := s.locker.WithLock(ctx, lock.DueKey(dueID), s.lockTTL, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			stored, err := tx.GetDueForUpdate(ctx, dueID)
			if err != nil {
				return err
			}
			if err := settlement.Authorize(actor, stored.BranchID); err != nil {
				return err
			}
			if req.ExpectedVersion != nil && *req.ExpectedVersion != stored.Version {
				return fmt.Errorf("%w: due %s is at version %d, expected %d", domain.ErrStaleDueState, stored.ID, stored.Version, *req.ExpectedVersion)
			}
			if stored.Status == domain.DueStatusCancelled {
				return domain.ErrDueCancelled
			}

			now := s.now()
			payments, err := tx.ListPaymentsByDue(ctx, stored.ID)
			if err != nil {
				return err
			}
			next, err := ledger.Recompute(*stored, payments, now)
			if err != nil {
				return err
			}
			if req.TotalAmount != nil && !req.TotalAmount.Equal(next.TotalAmount) {
				if next.SaleID != "" {
					return domain.Invalid("total of due %s follows sale %s and cannot be edited", next.ID, next.SaleID)
				}
				if next, err = ledger.EditTotal(next, *req.TotalAmount, now); err != nil {
					return err
				}
			}
			if req.DueDate != nil && !req.DueDate.IsZero() {
				next.DueDate = req.DueDate.UTC()
			}
			if req.Description != nil {
				next.Description = strings.TrimSpace(*req.Description)
			}
			next = ledger.Derive(next, now)
			next.Version = stored.Version + 1
			next.UpdatedAt = now
			if err := ledger.CheckInvariants(next); err != nil {
				return err
			}
			if err := tx.UpdateDue(ctx, next, stored.Version); err != nil {
				return err
			}
			updated = next
			return nil
		})
	})
	if err != nil {
		return domain.Due{}, s.fail("update_due", err)
	}

	s.invalidate(ctx, updated.BranchID)
	s.audit(actor, updated.BranchID, "due_update", "due", updated.ID,
		fmt.Sprintf("total=%s,due_date=%s,version=%d", updated.TotalAmount.StringFixed(money.Scale), updated.DueDate.Format("2006-01-02"), updated.Version))
	return updated, nil
}

// CancelDue cancels an unpaid due. Payments stay on record. Cancelling a
// cancelled due returns it unchanged.
func (s *Service) CancelDue(ctx context.Context, actor domain.ActorContext, dueID string, req domain.DueCancelRequest) (domain.Due, error) {
	if strings.TrimSpace(req.AdminPassword) == "" {
		return domain.Due{}, domain.ErrAdminPasswordRequired
	}
	dueID = strings.TrimSpace(dueID)

	var (
		result  domain.Due
		changed bool
	)
	err := s.locker.WithLock(ctx, lock.DueKey(dueID), s.lockTTL, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			stored, err := tx.GetDueForUpdate(ctx, dueID)
			if err != nil {
				return err
			}
			if err := settlement.Authorize(actor, stored.BranchID); err != nil {
				return err
			}
			now := s.now()
			next, ok, err := ledger.Cancel(*stored, now)
			if err != nil {
				return err
			}
			result = next
			if !ok {
				return nil
			}
			if reason := strings.TrimSpace(req.Reason); reason != "" {
				next.Description = strings.TrimSpace(next.Description + " [cancelled: " + reason + "]")
			}
			next.Version = stored.Version + 1
			next.UpdatedAt = now
			if err := tx.UpdateDue(ctx, next, stored.Version); err != nil {
				return err
			}
			result = next
			changed = true
			return nil
		})
	})
	if err != nil {
		return domain.Due{}, s.fail("cancel_due", err)
	}

	if changed {
		s.invalidate(ctx, result.BranchID)
		s.audit(actor, result.BranchID, "due_cancel", "due", result.ID, strings.TrimSpace(req.Reason))
	}
	return result, nil
}

// RefreshOverdue persists the derived status of every open due in scope whose
// stored status has drifted, typically pending or partial dues that passed
// their due date. It returns how many dues were written.
func (s *Service) RefreshOverdue(ctx context.Context, actor domain.ActorContext, branchID string) (int, error) {
	if !actor.IsAdmin() || branchID != "" {
		var err error
		if branchID, err = s.branchFor(actor, branchID); err != nil {
			return 0, err
		}
	}
	dues, err := s.repo.ListDues(ctx, domain.DueFilter{BranchID: branchID})
	if err != nil {
		return 0, s.fail("refresh_overdue", err)
	}

	refreshed := 0
	for _, candidate := range dues {
		if !ledger.IsOpen(candidate) || ledger.Derive(candidate, s.now()).Status == candidate.Status {
			continue
		}
		wrote := false
		err := s.locker.WithLock(ctx, lock.DueKey(candidate.ID), s.lockTTL, func(ctx context.Context) error {
			return s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
				stored, err := tx.GetDueForUpdate(ctx, candidate.ID)
				if err != nil {
					return err
				}
				now := s.now()
				next := ledger.Derive(*stored, now)
				if !ledger.IsOpen(*stored) || next.Status == stored.Status {
					return nil
				}
				next.Version = stored.Version + 1
				next.UpdatedAt = now
				wrote = true
				return tx.UpdateDue(ctx, next, stored.Version)
			})
		})
		if err != nil {
			return refreshed, s.fail("refresh_overdue", err)
		}
		if wrote {
			refreshed++
		}
	}

	if refreshed > 0 {
		s.invalidate(ctx, branchID)
		s.logger.Info().Str("branch_id", branchID).Int("refreshed", refreshed).Str("actor", actor.UserID).Msg("overdue dues refreshed")
	}
	return refreshed, nil
}

func (s *Service) ApplyPayment(ctx context.Context, actor domain.ActorContext, dueID string, req domain.PaymentCreateRequest) (*domain.SettlementResponse, error) {
	apply := settlement.ApplyRequest{
		DueID:           dueID,
		Amount:          req.Amount,
		PaymentMethod:   req.PaymentMethod,
		Description:     req.Description,
		ExpectedVersion: req.ExpectedVersion,
	}
	if req.PaymentDate != nil {
		apply.PaymentDate = *req.PaymentDate
	}
	return s.settled(ctx)(s.settlement.ApplyPayment(ctx, actor, apply))
}

func (s *Service) EditPayment(ctx context.Context, actor domain.ActorContext, dueID, paymentID string, req domain.PaymentUpdateRequest) (*domain.SettlementResponse, error) {
	return s.settled(ctx)(s.settlement.EditPayment(ctx, actor, settlement.EditRequest{
		DueID:           dueID,
		PaymentID:       paymentID,
		Amount:          req.Amount,
		PaymentMethod:   req.PaymentMethod,
		PaymentDate:     req.PaymentDate,
		Description:     req.Description,
		AdminPassword:   req.AdminPassword,
		ExpectedVersion: req.ExpectedVersion,
	}))
}

func (s *Service) ReversePayment(ctx context.Context, actor domain.ActorContext, dueID, paymentID string, req domain.PaymentDeleteRequest) (*domain.SettlementResponse, error) {
	return s.settled(ctx)(s.settlement.ReversePayment(ctx, actor, settlement.ReverseRequest{
		DueID:           dueID,
		PaymentID:       paymentID,
		AdminPassword:   req.AdminPassword,
		ExpectedVersion: req.ExpectedVersion,
	}))
}

func (s *Service) ListPayments(ctx context.Context, actor domain.ActorContext, filter domain.PaymentFilter) ([]domain.Payment, error) {
	if !actor.IsAdmin() || filter.BranchID != "" {
		var err error
		if filter.BranchID, err = s.branchFor(actor, filter.BranchID); err != nil {
			return nil, err
		}
	}
	payments, err := s.repo.ListPayments(ctx, filter)
	if err != nil {
		return nil, s.fail("list_payments", err)
	}
	return payments, nil
}

// settled invalidates the dashboards of the branch a settlement touched.
func (s *Service) settled(ctx context.Context) func(*domain.SettlementResponse, error) (*domain.SettlementResponse, error) {
	return func(resp *domain.SettlementResponse, err error) (*domain.SettlementResponse, error) {
		if err == nil && resp != nil && resp.Payment != nil {
			s.invalidate(ctx, resp.Due.BranchID)
		}
		return resp, err
	}
}

// checkOwner verifies the owner of a new due exists and is visible from
// branchID. Branch dues are owed by another branch.
func (s *Service) checkOwner(ctx context.Context, branchID, dueType, ownerID string) error {
	if ownerID == "" {
		return domain.Invalid("due owner is required")
	}
	switch dueType {
	case domain.DueTypeCustomer:
		customer, err := s.repo.GetCustomer(ctx, ownerID)
		if err != nil {
			return err
		}
		if customer.BranchID != branchID {
			return domain.Invalid("customer %s does not belong to branch %s", ownerID, branchID)
		}
	case domain.DueTypeSupplier:
		if _, err := s.repo.GetSupplier(ctx, ownerID); err != nil {
			return err
		}
	case domain.DueTypeBranch:
		if ownerID == branchID {
			return domain.Invalid("a branch cannot owe itself")
		}
		if _, err := s.repo.GetBranch(ctx, ownerID); err != nil {
			return err
		}
	default:
		return domain.Invalid("due type %q is not supported", dueType)
	}
	return nil
}

func isDueStatus(status string) bool {
	for _, st := range domain.DueStatuses {
		if st == status {
			return true
		}
	}
	return false
}
