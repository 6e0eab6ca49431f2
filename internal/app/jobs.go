package app

import (
	"context"
	"time"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/config"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/scheduler"
)

// Jobs is the set of maintenance tasks shared by the scheduler and the CLI.
type Jobs struct {
	a *App
}

func (a *App) Jobs() Jobs { return Jobs{a: a} }

func (j Jobs) Dispatch(ctx context.Context) error {
	res, err := j.a.Notifications.Dispatch(ctx)
	if err != nil {
		return err
	}
	if res.Claimed > 0 {
		j.a.Logger.Infow("notifications dispatched", "claimed", res.Claimed, "sent", res.Sent, "failed", res.Failed)
	}
	return nil
}

func (j Jobs) SweepOverdue(ctx context.Context) error {
	res, err := j.a.Ledger.SweepOverdue(ctx)
	j.a.Logger.Infow("overdue sweep finished", "scanned", res.Scanned, "updated", res.Updated, "failed", res.Failed)
	return err
}

func (j Jobs) SweepLost(ctx context.Context) error {
	res, err := j.a.Ledger.SweepLost(ctx)
	j.a.Logger.Infow("lost sweep finished", "scanned", res.Scanned, "updated", res.Updated, "failed", res.Failed)
	return err
}

func (j Jobs) RefreshStatistics(ctx context.Context) error {
	n, err := j.a.Catalog.RefreshAllStatistics(ctx)
	j.a.Logger.Infow("book statistics refreshed", "books", n)
	return err
}

func (j Jobs) RecomputeScores(ctx context.Context) error {
	n, err := j.a.Scores.RecomputeAll(ctx)
	j.a.Logger.Infow("credit scores recomputed", "users", n)
	return err
}

// DailyAnalytics snapshots the previous UTC day.
func (j Jobs) DailyAnalytics(ctx context.Context) error {
	_, err := j.a.Reports.GenerateDailyAnalytics(ctx, time.Now().UTC().AddDate(0, 0, -1))
	return err
}

func (j Jobs) AtRisk(ctx context.Context) error {
	n, err := j.a.Scores.FlagAtRiskUsers(ctx)
	j.a.Logger.Infow("at-risk users flagged", "users", n)
	return err
}

func (j Jobs) LowInventory(ctx context.Context) error {
	n, err := j.a.Notifications.CheckLowInventory(ctx, j.a.Catalog, j.a.Config.Circulation.LowInventoryRatio)
	j.a.Logger.Infow("low inventory checked", "alerts", n)
	return err
}

// Scheduler registers every job on its configured schedule. Daily times are
// read in the server's local zone.
func (a *App) Scheduler(cfg config.Schedule) (*scheduler.Scheduler, error) {
	s := scheduler.New(a.Logger.Named("scheduler"))
	j := a.Jobs()
	every := cfg.DispatchEvery
	if every <= 0 {
		every = time.Minute
	}
	s.Add("dispatch", scheduler.Every(every), j.Dispatch)

	daily := []struct {
		name string
		at   string
		fn   scheduler.JobFunc
	}{
		{"daily_analytics", cfg.AnalyticsAt, j.DailyAnalytics},
		{"overdue_sweep", cfg.OverdueSweepAt, j.SweepOverdue},
		{"recompute_scores", cfg.RecomputeAt, j.RecomputeScores},
		{"book_statistics", cfg.StatisticsAt, j.RefreshStatistics},
		{"lost_sweep", cfg.LostSweepAt, j.SweepLost},
		{"low_inventory", cfg.LowInventoryAt, j.LowInventory},
		{"at_risk", cfg.AtRiskAt, j.AtRisk},
	}
	for _, d := range daily {
		sched, err := scheduler.DailyAt(d.at, time.Local)
		if err != nil {
			return nil, err
		}
		s.Add(d.name, sched, d.fn)
	}
	return s, nil
}
