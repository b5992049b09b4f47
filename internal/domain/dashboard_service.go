package domain

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"example.com/movimentoterra/internal/cache"
)

// DashboardService aggregates activity statistics over a trailing window.
type DashboardService struct {
	repo ActivityRepository
	settings
}

// NewDashboardService constructs a DashboardService.
func NewDashboardService(repo ActivityRepository, opts ...Option) *DashboardService {
	return &DashboardService{repo: repo, settings: newSettings(opts)}
}

// Summary returns the aggregate for the last days days. Admins see every user,
// everyone else only their own activities. days is expected to be clamped already.
func (s *DashboardService) Summary(ctx context.Context, actor Actor, days int) (DashboardSummary, error) {
	if days < MinDashboardDays || days > MaxDashboardDays {
		days = ClampDays(fmt.Sprint(days))
	}
	from, to := DashboardWindow(days, s.now(), s.loc)
	filter := ActivityFilter{From: from, To: to}

	scope := "all"
	tags := []string{cache.TagAttivita, cache.TagInterazioni, cache.TagCantieri}
	if !actor.IsAdmin() {
		filter.UserID = actor.UserID
		scope = "user:" + actor.UserID
		tags = append(tags, cache.UserTag(actor.UserID))
	}
	key := cache.Key{Kind: "dashboard", Scope: fmt.Sprintf("%s:%d:%s", scope, days, FormatDate(to))}

	summary, err := cache.Remember(ctx, s.cache, key, s.cacheTTL, tags, func(ctx context.Context) (DashboardSummary, error) {
		activities, err := s.repo.ListActivities(ctx, filter)
		if err != nil {
			return DashboardSummary{}, err
		}
		return Aggregate(days, from, to, activities), nil
	})
	if err != nil {
		s.logger.Error("dashboard aggregation failed",
			zap.String("user_id", actor.UserID),
			zap.Int("days", days),
			zap.Error(err))
		return DashboardSummary{}, ErrLoadFailed
	}
	return summary, nil
}
