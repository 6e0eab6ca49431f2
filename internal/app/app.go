// Package app builds the services, repos and event subscriptions shared by
// the API server and the libraryctl command.
package app

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/auth"
	authrepo "github.com/ovaphlow/pitchfork/service-library-go/internal/auth/repo"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/catalog"
	catalogrepo "github.com/ovaphlow/pitchfork/service-library-go/internal/catalog/repo"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/config"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/event"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/ledger"
	ledgerrepo "github.com/ovaphlow/pitchfork/service-library-go/internal/ledger/repo"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/notification"
	notificationrepo "github.com/ovaphlow/pitchfork/service-library-go/internal/notification/repo"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/reporting"
	reportingrepo "github.com/ovaphlow/pitchfork/service-library-go/internal/reporting/repo"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/scoring"
	scoringrepo "github.com/ovaphlow/pitchfork/service-library-go/internal/scoring/repo"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/setting"
	settingrepo "github.com/ovaphlow/pitchfork/service-library-go/internal/setting/repo"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/user"
	userrepo "github.com/ovaphlow/pitchfork/service-library-go/internal/user/repo"
)

type tableOwner interface {
	EnsureTable(ctx context.Context) error
}

// Migrate creates every table in foreign key order.
func Migrate(ctx context.Context, db *sqlx.DB, logger *zap.SugaredLogger) error {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	steps := []struct {
		name  string
		owner tableOwner
	}{
		{"users", userrepo.NewUserRepo(db)},
		{"catalog", catalogrepo.NewCatalogRepo(db)},
		{"ledger", ledgerrepo.NewLedgerRepo(db)},
		{"scores", scoringrepo.NewScoreRepo(db)},
		{"notifications", notificationrepo.NewNotificationRepo(db)},
		{"refresh sessions", authrepo.NewRefreshRepo(db)},
		{"settings", settingrepo.NewRepo(db)},
		{"reporting", reportingrepo.NewReportRepo(db)},
	}
	for _, s := range steps {
		if err := s.owner.EnsureTable(ctx); err != nil {
			return fmt.Errorf("migrate %s: %w", s.name, err)
		}
		logger.Debugw("table ensured", "step", s.name)
	}
	logger.Infow("migrations applied", "steps", len(steps))
	return nil
}

// App holds the wired services.
type App struct {
	Config config.Config
	DB     *sqlx.DB
	Logger *zap.SugaredLogger
	Bus    *event.Bus

	Tokens        *auth.TokenService
	Auth          *auth.Middleware
	Users         *user.UserService
	Settings      *setting.Service
	Catalog       *catalog.Service
	Ledger        *ledger.Service
	Scores        *scoring.Service
	Notifications *notification.Service
	Reports       *reporting.Service
}

// New wires the services over db. Stored setting overrides are applied to
// the circulation policy before the ledger is built; a failure to read them
// leaves the environment policy in place.
func New(ctx context.Context, cfg config.Config, db *sqlx.DB, logger *zap.SugaredLogger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	a := &App{Config: cfg, DB: db, Logger: logger, Bus: event.NewBus(logger.Named("events"))}

	a.Settings = setting.NewService(settingrepo.NewRepo(db), cfg.Circulation, logger.Named("settings"))
	policy := cfg.Circulation
	if err := a.Settings.ApplyOverrides(ctx, &policy); err != nil {
		logger.Warnw("setting overrides not applied", "error", err)
		policy = cfg.Circulation
	}
	a.Config.Circulation = policy

	a.Users = user.NewUserService(userrepo.NewUserRepo(db), nil, a.Bus, logger.Named("users"))
	a.Tokens = auth.NewTokenService(cfg.Auth, authrepo.NewRefreshRepo(db))
	a.Auth = auth.NewMiddleware(auth.NewVersionedIdentity(a.Tokens, a.Users), logger.Named("auth"))

	a.Catalog = catalog.NewService(catalogrepo.NewCatalogRepo(db), logger.Named("catalog"))
	a.Scores = scoring.NewService(scoringrepo.NewScoreRepo(db), a.Bus, logger.Named("scoring"))
	a.Ledger = ledger.NewService(ledgerrepo.NewLedgerRepo(db), a.Scores, a.Bus, policy, logger.Named("ledger"))

	channel := notification.NewChannel(cfg.Notification, logger.Named("channel"))
	a.Notifications = notification.NewService(notificationrepo.NewNotificationRepo(db), channel, a.Users, cfg.Notification, logger.Named("notification"))
	a.Notifications.ReminderLeadDays = policy.ReminderLeadDays

	a.Reports = reporting.NewService(reportingrepo.NewReportRepo(db), a.Scores, policy, logger.Named("reporting"))

	// Subscription order is delivery order: statistics and scores are
	// refreshed before notices and the activity log are written.
	a.Catalog.RegisterHandlers(a.Bus)
	a.Scores.RegisterHandlers(a.Bus)
	a.Notifications.RegisterHandlers(a.Bus, a.Ledger)
	a.Reports.RegisterHandlers(a.Bus)

	logger.Infow("services wired",
		"loan_period_days", policy.LoanPeriodDays,
		"late_fee_per_day", policy.LateFeePerDay.String(),
		"max_renewals", policy.MaxRenewals,
	)
	return a, nil
}
