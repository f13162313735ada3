package service

import (
	"context"
	"io"

	"golang.org/x/sync/errgroup"

	"tokocabang/backend/internal/analytics"
	"tokocabang/backend/internal/cache"
	"tokocabang/backend/internal/domain"
)

// Dashboard builds the analytics rollup for a branch, or for every branch when
// an admin passes no branch. Results are cached for the configured TTL and
// dropped whenever a sale, due or payment in the branch changes.
func (s *Service) Dashboard(ctx context.Context, actor domain.ActorContext, branchID string, rawRange string) (analytics.Dashboard, error) {
	r, err := analytics.ParseRange(rawRange)
	if err != nil {
		return analytics.Dashboard{}, err
	}
	if !actor.IsAdmin() || branchID != "" {
		if branchID, err = s.branchFor(actor, branchID); err != nil {
			return analytics.Dashboard{}, err
		}
	}

	key := cache.DashboardKey(branchID, r)
	cached, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("dashboard cache read failed")
	}
	if ok && cached != nil {
		s.metrics.DashboardCache(true)
		return *cached, nil
	}
	s.metrics.DashboardCache(false)

	in, err := s.loadAnalyticsInput(ctx, branchID)
	if err != nil {
		return analytics.Dashboard{}, s.fail("dashboard", err)
	}
	in.Range = r
	in.Now = s.now()
	dashboard := analytics.Build(in)

	if err := s.cache.Set(ctx, key, &dashboard, s.cacheTTL); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("dashboard cache write failed")
	}
	return dashboard, nil
}

// ExportCustomers writes the per-customer summaries of the dashboard as CSV.
func (s *Service) ExportCustomers(ctx context.Context, actor domain.ActorContext, branchID string, rawRange string, w io.Writer) error {
	dashboard, err := s.Dashboard(ctx, actor, branchID, rawRange)
	if err != nil {
		return err
	}
	return analytics.WriteCSV(w, dashboard)
}

func (s *Service) loadAnalyticsInput(ctx context.Context, branchID string) (analytics.Input, error) {
	var in analytics.Input
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		in.Customers, err = s.repo.ListCustomers(gctx, branchID)
		return err
	})
	g.Go(func() error {
		var err error
		in.Sales, err = s.repo.ListSales(gctx, domain.SaleFilter{BranchID: branchID})
		return err
	})
	g.Go(func() error {
		var err error
		in.Dues, err = s.repo.ListDues(gctx, domain.DueFilter{BranchID: branchID})
		return err
	})
	g.Go(func() error {
		var err error
		in.Payments, err = s.repo.ListPayments(gctx, domain.PaymentFilter{BranchID: branchID})
		return err
	})

	if err := g.Wait(); err != nil {
		return analytics.Input{}, err
	}
	return in, nil
}

// invalidate drops cached dashboards that include branchID. A failure only
// means the dashboard stays stale until its TTL runs out.
func (s *Service) invalidate(ctx context.Context, branchID string) {
	if err := s.cache.Invalidate(ctx, branchID); err != nil {
		s.logger.Warn().Err(err).Str("branch_id", branchID).Msg("dashboard cache invalidation failed")
	}
}
