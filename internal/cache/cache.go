// Package cache holds computed dashboards for a short time so repeated
// dashboard loads do not rescan every sale, due and payment.
package cache

import (
	"context"
	"time"

	"tokocabang/backend/internal/analytics"
)

type DashboardCache interface {
	Get(ctx context.Context, key string) (*analytics.Dashboard, bool, error)
	Set(ctx context.Context, key string, value *analytics.Dashboard, ttl time.Duration) error
	// Invalidate drops every cached dashboard for branchID. An empty branchID
	// also matches the all-branches dashboard.
	Invalidate(ctx context.Context, branchID string) error
}

// DashboardKey names the cache entry for one branch and range. The empty
// branch stands for every branch.
func DashboardKey(branchID string, r analytics.Range) string {
	if branchID == "" {
		branchID = "all"
	}
	return "dashboard:" + branchID + ":" + string(r)
}

type NoopDashboardCache struct{}

func (NoopDashboardCache) Get(_ context.Context, _ string) (*analytics.Dashboard, bool, error) {
	return nil, false, nil
}

func (NoopDashboardCache) Set(_ context.Context, _ string, _ *analytics.Dashboard, _ time.Duration) error {
	return nil
}

func (NoopDashboardCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
