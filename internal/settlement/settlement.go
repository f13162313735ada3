// Package settlement applies, reverses and edits payments against dues.
//
// Every operation holds the per-due lock, runs in one repository transaction,
// rebuilds the due from its full payment history, writes the due and the
// payment together, bumps the due version and re-syncs the sale the due came
// from. A failure at any point leaves nothing applied.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tokocabang/backend/internal/domain"
	"tokocabang/backend/internal/ledger"
	"tokocabang/backend/internal/lock"
	"tokocabang/backend/internal/money"
	"tokocabang/backend/internal/obs"
	"tokocabang/backend/internal/store"
	"tokocabang/backend/internal/xid"
)

type Service struct {
	repo    store.Repository
	locker  lock.Locker
	lockTTL time.Duration
	metrics *obs.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

type Option func(*Service)

func WithLocker(l lock.Locker) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

func WithLockTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

func WithMetrics(m *obs.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(repo store.Repository, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		locker:  lock.NewLocal(),
		lockTTL: 10 * time.Second,
		logger:  zerolog.Nop(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type ApplyRequest struct {
	DueID           string
	Amount          decimal.Decimal
	PaymentMethod   string
	PaymentDate     time.Time
	Description     string
	ExpectedVersion *int64
}

type ReverseRequest struct {
	DueID           string
	PaymentID       string
	AdminPassword   string
	ExpectedVersion *int64
}

type EditRequest struct {
	DueID           string
	PaymentID       string
	Amount          decimal.Decimal
	PaymentMethod   string
	PaymentDate     *time.Time
	Description     *string
	AdminPassword   string
	ExpectedVersion *int64
}

// change is what one operation decided inside the transaction.
type change struct {
	due     domain.Due
	payment *domain.Payment
	changed bool
}

func (s *Service) ApplyPayment(ctx context.Context, actor domain.ActorContext, req ApplyRequest) (*domain.SettlementResponse, error) {
	method, err := NormalizeMethod(req.PaymentMethod)
	if err != nil {
		return nil, err
	}

	resp, err := s.mutate(ctx, actor, "apply_payment", req.DueID, req.ExpectedVersion,
		func(ctx context.Context, tx store.Tx, due domain.Due, _ []domain.Payment, now time.Time) (change, error) {
			next, err := ledger.Apply(due, req.Amount, now)
			if err != nil {
				return change{}, err
			}

			paidAt := req.PaymentDate
			if paidAt.IsZero() {
				paidAt = now
			}
			payment := domain.Payment{
				ID:            xid.New("pay"),
				DueID:         due.ID,
				Amount:        req.Amount,
				PaymentDate:   paidAt.UTC(),
				PaymentMethod: method,
				Description:   strings.TrimSpace(req.Description),
				UserID:        actor.UserID,
				CreatedAt:     now,
			}
			if err := tx.InsertPayment(ctx, payment); err != nil {
				return change{}, err
			}
			return change{due: next, payment: &payment, changed: true}, nil
		})
	if err != nil {
		return nil, err
	}
	s.metrics.Payment("applied", resp.Due.DueType)
	return resp, nil
}

// ReversePayment deletes a payment and rebuilds the due without it. Reversing
// a payment that no longer exists returns the current due unchanged, so the
// call is safe to retry.
func (s *Service) ReversePayment(ctx context.Context, actor domain.ActorContext, req ReverseRequest) (*domain.SettlementResponse, error) {
	if strings.TrimSpace(req.AdminPassword) == "" {
		return nil, domain.ErrAdminPasswordRequired
	}

	resp, err := s.mutate(ctx, actor, "reverse_payment", req.DueID, req.ExpectedVersion,
		func(ctx context.Context, tx store.Tx, due domain.Due, payments []domain.Payment, now time.Time) (change, error) {
			payment, err := tx.GetPayment(ctx, req.PaymentID)
			if errors.Is(err, store.ErrNotFound) {
				return change{due: due}, nil
			}
			if err != nil {
				return change{}, err
			}
			if payment.DueID != due.ID {
				return change{}, domain.Invalid("payment %s does not belong to due %s", payment.ID, due.ID)
			}

			if err := tx.DeletePayment(ctx, payment.ID); err != nil {
				return change{}, err
			}
			next, err := ledger.Recompute(due, without(payments, payment.ID), now)
			if err != nil {
				return change{}, err
			}
			return change{due: next, payment: payment, changed: true}, nil
		})
	if err != nil {
		return nil, err
	}
	if resp.Payment != nil {
		s.metrics.Payment("reversed", resp.Due.DueType)
	}
	return resp, nil
}

// EditPayment replaces the amount and details of a payment. It is evaluated as
// a reversal followed by an application, inside one transaction, so the
// intermediate state is never visible.
func (s *Service) EditPayment(ctx context.Context, actor domain.ActorContext, req EditRequest) (*domain.SettlementResponse, error) {
	if strings.TrimSpace(req.AdminPassword) == "" {
		return nil, domain.ErrAdminPasswordRequired
	}

	resp, err := s.mutate(ctx, actor, "edit_payment", req.DueID, req.ExpectedVersion,
		func(ctx context.Context, tx store.Tx, due domain.Due, payments []domain.Payment, now time.Time) (change, error) {
			payment, err := tx.GetPayment(ctx, req.PaymentID)
			if err != nil {
				return change{}, err
			}
			if payment.DueID != due.ID {
				return change{}, domain.Invalid("payment %s does not belong to due %s", payment.ID, due.ID)
			}

			reversed, err := ledger.Recompute(due, without(payments, payment.ID), now)
			if err != nil {
				return change{}, err
			}
			next, err := ledger.Apply(reversed, req.Amount, now)
			if err != nil {
				return change{}, err
			}

			updated := *payment
			updated.Amount = req.Amount
			if req.PaymentMethod != "" {
				method, err := NormalizeMethod(req.PaymentMethod)
				if err != nil {
					return change{}, err
				}
				updated.PaymentMethod = method
			}
			if req.PaymentDate != nil {
				updated.PaymentDate = req.PaymentDate.UTC()
			}
			if req.Description != nil {
				updated.Description = strings.TrimSpace(*req.Description)
			}
			if err := tx.UpdatePayment(ctx, updated); err != nil {
				return change{}, err
			}
			return change{due: next, payment: &updated, changed: true}, nil
		})
	if err != nil {
		return nil, err
	}
	s.metrics.Payment("edited", resp.Due.DueType)
	return resp, nil
}

type mutation func(ctx context.Context, tx store.Tx, due domain.Due, payments []domain.Payment, now time.Time) (change, error)

func (s *Service) mutate(ctx context.Context, actor domain.ActorContext, op string, dueID string, expected *int64, fn mutation) (*domain.SettlementResponse, error) {
	dueID = strings.TrimSpace(dueID)
	if dueID == "" {
		return nil, domain.Invalid("due id is required")
	}

	var resp *domain.SettlementResponse
	err := s.locker.WithLock(ctx, lock.DueKey(dueID), s.lockTTL, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			now := s.now()

			stored, err := tx.GetDueForUpdate(ctx, dueID)
			if err != nil {
				return err
			}
			if err := Authorize(actor, stored.BranchID); err != nil {
				return err
			}
			if expected != nil && *expected != stored.Version {
				return fmt.Errorf("%w: due %s is at version %d, request expected %d", domain.ErrStaleDueState, stored.ID, stored.Version, *expected)
			}

			payments, err := tx.ListPaymentsByDue(ctx, dueID)
			if err != nil {
				return err
			}
			current, err := ledger.Recompute(*stored, payments, now)
			if err != nil {
				return err
			}

			result, err := fn(ctx, tx, current, payments, now)
			if err != nil {
				return err
			}
			if !result.changed {
				resp = &domain.SettlementResponse{Due: current}
				return nil
			}

			next := result.due
			next.Version = stored.Version + 1
			next.UpdatedAt = now
			if err := ledger.CheckInvariants(next); err != nil {
				return err
			}
			if err := tx.UpdateDue(ctx, next, stored.Version); err != nil {
				return err
			}

			sale, err := SyncSale(ctx, tx, next)
			if err != nil {
				return err
			}
			resp = &domain.SettlementResponse{Due: next, Payment: result.payment, Sale: sale}
			return nil
		})
	})
	if err != nil {
		err = wrapTransport(err)
		s.metrics.Failure(op, err)
		s.logger.Warn().Err(err).Str("operation", op).Str("due_id", dueID).Str("actor", actor.UserID).Msg("settlement rejected")
		return nil, err
	}

	if resp.Payment != nil {
		s.logger.Info().
			Str("action", op).
			Str("entity_type", "due").
			Str("entity_id", resp.Due.ID).
			Str("payment_id", resp.Payment.ID).
			Str("amount", resp.Payment.Amount.StringFixed(money.Scale)).
			Str("status", resp.Due.Status).
			Int64("version", resp.Due.Version).
			Str("actor", actor.UserID).
			Str("branch_id", resp.Due.BranchID).
			Msg("audit")
	}
	return resp, nil
}

// SyncSale brings the sale a due originated from in line with the due:
// paid = total - remaining, and an active sale becomes completed once the due
// is paid off. Cancelled sales and dues without a sale are left alone.
func SyncSale(ctx context.Context, tx store.Tx, due domain.Due) (*domain.Sale, error) {
	if due.SaleID == "" {
		return nil, nil
	}
	sale, err := tx.GetSaleForUpdate(ctx, due.SaleID)
	if err != nil {
		return nil, err
	}
	if sale.Status == domain.SaleStatusCancelled || due.Status == domain.DueStatusCancelled {
		return sale, nil
	}

	sale.PaidAmount = money.NonNegative(sale.TotalAmount.Sub(due.RemainingAmount))
	sale.IsFullyPaid = due.RemainingAmount.IsZero()
	switch {
	case sale.IsFullyPaid && sale.Status == domain.SaleStatusActive:
		sale.Status = domain.SaleStatusCompleted
	case !sale.IsFullyPaid && sale.Status == domain.SaleStatusCompleted:
		sale.Status = domain.SaleStatusActive
	}
	if sale.DueID == "" {
		sale.DueID = due.ID
	}
	if err := tx.UpdateSaleSettlement(ctx, *sale); err != nil {
		return nil, err
	}
	return sale, nil
}

// Authorize allows admins everywhere and other actors only in their branch.
func Authorize(actor domain.ActorContext, branchID string) error {
	if actor.IsAdmin() || actor.BranchID == "" || actor.BranchID == branchID {
		return nil
	}
	return fmt.Errorf("%w: branch %s is outside actor scope", domain.ErrForbidden, branchID)
}

func NormalizeMethod(method string) (string, error) {
	method = strings.ToLower(strings.TrimSpace(method))
	switch method {
	case "":
		return domain.PaymentMethodCash, nil
	case domain.PaymentMethodCash, domain.PaymentMethodTransfer, domain.PaymentMethodCard, domain.PaymentMethodQRIS:
		return method, nil
	}
	return "", domain.Invalid("payment method %q is not supported", method)
}

func without(payments []domain.Payment, paymentID string) []domain.Payment {
	out := make([]domain.Payment, 0, len(payments))
	for _, p := range payments {
		if p.ID != paymentID {
			out = append(out, p)
		}
	}
	return out
}

func wrapTransport(err error) error {
	if err == nil || domain.IsDomainError(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &domain.TransportError{Message: "settlement: persistence failed", Err: err}
}
