package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tokocabang/backend/internal/cache"
	"tokocabang/backend/internal/domain"
	"tokocabang/backend/internal/lock"
	"tokocabang/backend/internal/obs"
	"tokocabang/backend/internal/settlement"
	"tokocabang/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.ActorContext) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.ActorContext, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.ActorContext)
	return actor, ok
}

type Options struct {
	DefaultBranchID   string
	DueTermDays       int
	DashboardCacheTTL time.Duration
	LockTTL           time.Duration
	Locker            lock.Locker
	Cache             cache.DashboardCache
	Metrics           *obs.Metrics
	Logger            zerolog.Logger
	Now               func() time.Time
}

type Service struct {
	repo            store.Repository
	settlement      *settlement.Service
	locker          lock.Locker
	cache           cache.DashboardCache
	metrics         *obs.Metrics
	logger          zerolog.Logger
	now             func() time.Time
	defaultBranchID string
	dueTerm         time.Duration
	cacheTTL        time.Duration
	lockTTL         time.Duration
}

func New(repo store.Repository, opts Options) *Service {
	if opts.DefaultBranchID == "" {
		opts.DefaultBranchID = "main-branch"
	}
	if opts.DueTermDays < 1 {
		opts.DueTermDays = 30
	}
	if opts.DashboardCacheTTL <= 0 {
		opts.DashboardCacheTTL = 20 * time.Second
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Second
	}
	if opts.Locker == nil {
		opts.Locker = lock.NewLocal()
	}
	if opts.Cache == nil {
		opts.Cache = cache.NoopDashboardCache{}
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Service{
		repo: repo,
		settlement: settlement.New(repo,
			settlement.WithLocker(opts.Locker),
			settlement.WithLockTTL(opts.LockTTL),
			settlement.WithMetrics(opts.Metrics),
			settlement.WithLogger(opts.Logger),
			settlement.WithClock(opts.Now),
		),
		locker:          opts.Locker,
		cache:           opts.Cache,
		metrics:         opts.Metrics,
		logger:          opts.Logger,
		now:             opts.Now,
		defaultBranchID: opts.DefaultBranchID,
		dueTerm:         time.Duration(opts.DueTermDays) * 24 * time.Hour,
		cacheTTL:        opts.DashboardCacheTTL,
		lockTTL:         opts.LockTTL,
	}
}

// branchFor resolves the branch a request acts on. Cashiers are pinned to
// their own branch; admins may name any branch and fall back to theirs.
func (s *Service) branchFor(actor domain.ActorContext, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if !actor.IsAdmin() {
		if actor.BranchID == "" {
			return s.defaultBranchID, nil
		}
		if requested != "" && requested != actor.BranchID {
			return "", fmt.Errorf("%w: branch %s is outside actor scope", domain.ErrForbidden, requested)
		}
		return actor.BranchID, nil
	}
	if requested != "" {
		return requested, nil
	}
	if actor.BranchID != "" {
		return actor.BranchID, nil
	}
	return s.defaultBranchID, nil
}

func requireAdmin(actor domain.ActorContext) error {
	if !actor.IsAdmin() {
		return fmt.Errorf("%w: admin role required", domain.ErrForbidden)
	}
	return nil
}

// audit emits a structured audit event. Audit events are log records only.
func (s *Service) audit(actor domain.ActorContext, branchID, action, entityType, entityID, detail string) {
	s.logger.Info().
		Str("action", action).
		Str("entity_type", entityType).
		Str("entity_id", entityID).
		Str("branch_id", branchID).
		Str("actor", actor.UserID).
		Str("actor_role", actor.Role).
		Str("detail", detail).
		Msg("audit")
}

// fail records err against operation and converts infrastructure failures into
// transport errors so callers can tell them apart from domain rejections.
func (s *Service) fail(operation string, err error) error {
	if err == nil {
		return nil
	}
	if !domain.IsDomainError(err) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		err = &domain.TransportError{Message: operation + ": persistence failed", Err: err}
	}
	s.metrics.Failure(operation, err)
	return err
}

func defaultString(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}
