// Package config holds the circulation, notification and scheduling policy
// read from the environment at startup and handed to constructors.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
)

// Circulation is the lending policy used by the ledger and scoring.
type Circulation struct {
	LoanPeriodDays     int             `env:"LOAN_PERIOD_DAYS"     envDefault:"14"   json:"loan_period_days"`
	LateFeePerDay      decimal.Decimal `env:"LATE_FEE_PER_DAY"     envDefault:"0.50" json:"late_fee_per_day"`
	MaxFeeDays         int             `env:"MAX_FEE_DAYS"         envDefault:"30"   json:"max_fee_days"`
	MaxRenewals        int             `env:"MAX_RENEWALS"         envDefault:"2"    json:"max_renewals"`
	LostAfterDays      int             `env:"LOST_AFTER_DAYS"      envDefault:"90"   json:"lost_after_days"`
	DefaultBorrowLimit int             `env:"DEFAULT_BORROW_LIMIT" envDefault:"5"    json:"default_borrow_limit"`
	MaxBulkItems       int             `env:"MAX_BULK_ITEMS"       envDefault:"10"   json:"max_bulk_items"`
	ReminderLeadDays   int             `env:"REMINDER_LEAD_DAYS"   envDefault:"3"    json:"reminder_lead_days"`
	LowInventoryRatio  float64         `env:"LOW_INVENTORY_RATIO"  envDefault:"0.2"  json:"low_inventory_ratio"`
	SweepBatchSize     int             `env:"SWEEP_BATCH_SIZE"     envDefault:"500"  json:"sweep_batch_size"`
}

// LoanPeriod returns the loan period as a duration.
func (c Circulation) LoanPeriod() time.Duration {
	return time.Duration(c.LoanPeriodDays) * 24 * time.Hour
}

// Notification configures the dispatcher and delivery channels.
type Notification struct {
	BatchSize    int           `env:"NOTIFY_BATCH_SIZE"    envDefault:"100"`
	MaxAttempts  int           `env:"NOTIFY_MAX_ATTEMPTS"  envDefault:"3"`
	LeaseTTL     time.Duration `env:"NOTIFY_LEASE_TTL"     envDefault:"5m"`
	Timezone     string        `env:"NOTIFY_TIMEZONE"      envDefault:"UTC"`
	RatePerSec   float64       `env:"NOTIFY_RATE_PER_SEC"  envDefault:"10"`
	Burst        int           `env:"NOTIFY_BURST"         envDefault:"5"`
	SMTPAddr     string        `env:"SMTP_ADDR"`
	SMTPHost     string        `env:"SMTP_HOST"`
	SMTPUser     string        `env:"SMTP_USER"`
	SMTPPassword string        `env:"SMTP_PASSWORD"`
	SMTPFrom     string        `env:"SMTP_FROM"            envDefault:"library@localhost"`
}

// Location resolves Timezone, falling back to UTC.
func (n Notification) Location() *time.Location {
	loc, err := time.LoadLocation(n.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Schedule holds job intervals and daily run times (HH:MM, server local zone).
type Schedule struct {
	DispatchEvery  time.Duration `env:"JOB_DISPATCH_EVERY"   envDefault:"1m"`
	AnalyticsAt    string        `env:"JOB_ANALYTICS_AT"     envDefault:"00:15"`
	OverdueSweepAt string        `env:"JOB_OVERDUE_SWEEP_AT" envDefault:"00:30"`
	RecomputeAt    string        `env:"JOB_RECOMPUTE_AT"     envDefault:"01:00"`
	StatisticsAt   string        `env:"JOB_STATISTICS_AT"    envDefault:"02:00"`
	LostSweepAt    string        `env:"JOB_LOST_SWEEP_AT"    envDefault:"02:30"`
	LowInventoryAt string        `env:"JOB_LOW_INVENTORY_AT" envDefault:"08:00"`
	AtRiskAt       string        `env:"JOB_AT_RISK_AT"       envDefault:"10:00"`
	Disabled       bool          `env:"JOBS_DISABLED"        envDefault:"false"`
}

// Auth configures token issuance.
type Auth struct {
	Secret   string        `env:"JWT_SECRET"`
	Issuer   string        `env:"JWT_ISSUER"    envDefault:"library-api"`
	TokenTTL time.Duration `env:"JWT_TOKEN_TTL" envDefault:"1h"`
}

// HTTP configures the listener.
type HTTP struct {
	Addr            string        `env:"HTTP_ADDR"             envDefault:"0.0.0.0:8431"`
	Prefix          string        `env:"HTTP_PREFIX"           envDefault:"/library-api"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"5s"`
}

type Config struct {
	HTTP         HTTP
	Auth         Auth
	Circulation  Circulation
	Notification Notification
	Schedule     Schedule
}

// Parse reads the configuration from environment variables without
// requiring the token secret. Tools that never issue tokens use it.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Load is Parse plus the checks the API server needs.
func Load() (Config, error) {
	cfg, err := Parse()
	if err != nil {
		return Config{}, err
	}
	if cfg.Auth.Secret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}
	return cfg, nil
}

// DefaultCirculation returns the circulation defaults without reading the environment.
func DefaultCirculation() Circulation {
	return Circulation{
		LoanPeriodDays:     14,
		LateFeePerDay:      decimal.RequireFromString("0.50"),
		MaxFeeDays:         30,
		MaxRenewals:        2,
		LostAfterDays:      90,
		DefaultBorrowLimit: 5,
		MaxBulkItems:       10,
		ReminderLeadDays:   3,
		LowInventoryRatio:  0.2,
		SweepBatchSize:     500,
	}
}

// DefaultNotification mirrors the envDefault tags.
func DefaultNotification() Notification {
	return Notification{
		BatchSize:   100,
		MaxAttempts: 3,
		LeaseTTL:    5 * time.Minute,
		Timezone:    "UTC",
		RatePerSec:  10,
		Burst:       5,
		SMTPFrom:    "library@localhost",
	}
}
