// Package setting stores runtime overrides of the circulation policy.
package setting

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/config"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/setting/entity"
)

// sentinel errors for common failure modes
var (
	ErrNotFound        = errors.New("setting not found")
	ErrVersionConflict = errors.New("version conflict")
	ErrUnknownKey      = errors.New("unknown setting key")
	ErrInvalidValue    = errors.New("invalid setting value")
)

type applyFunc func(c *config.Circulation, v string) error

func intKey(min, max int, field func(c *config.Circulation) *int) applyFunc {
	return func(c *config.Circulation, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n < min || n > max {
			return fmt.Errorf("%w: want an integer in [%d, %d]", ErrInvalidValue, min, max)
		}
		*field(c) = n
		return nil
	}
}

var circulationKeys = map[string]applyFunc{
	"loan_period_days":     intKey(1, 365, func(c *config.Circulation) *int { return &c.LoanPeriodDays }),
	"max_fee_days":         intKey(0, 3650, func(c *config.Circulation) *int { return &c.MaxFeeDays }),
	"max_renewals":         intKey(0, 20, func(c *config.Circulation) *int { return &c.MaxRenewals }),
	"lost_after_days":      intKey(1, 3650, func(c *config.Circulation) *int { return &c.LostAfterDays }),
	"default_borrow_limit": intKey(1, 50, func(c *config.Circulation) *int { return &c.DefaultBorrowLimit }),
	"max_bulk_items":       intKey(1, 100, func(c *config.Circulation) *int { return &c.MaxBulkItems }),
	"reminder_lead_days":   intKey(1, 30, func(c *config.Circulation) *int { return &c.ReminderLeadDays }),
	"sweep_batch_size":     intKey(1, 10000, func(c *config.Circulation) *int { return &c.SweepBatchSize }),
	"late_fee_per_day": func(c *config.Circulation, v string) error {
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil || d.IsNegative() {
			return fmt.Errorf("%w: want a non-negative amount", ErrInvalidValue)
		}
		c.LateFeePerDay = d.Round(2)
		return nil
	},
	"low_inventory_ratio": func(c *config.Circulation, v string) error {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || f <= 0 || f > 1 {
			return fmt.Errorf("%w: want a ratio in (0, 1]", ErrInvalidValue)
		}
		c.LowInventoryRatio = f
		return nil
	},
}

// Keys lists the overridable circulation settings.
func Keys() []string {
	keys := make([]string, 0, len(circulationKeys))
	for k := range circulationKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Service encapsulates business logic for settings and depends on a store.
type Service struct {
	store  Store
	base   config.Circulation
	logger *zap.SugaredLogger

	Clock func() time.Time
}

// NewService constructs a Service over the environment-derived base policy.
func NewService(store Store, base config.Circulation, logger *zap.SugaredLogger) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{store: store, base: base, logger: logger, Clock: func() time.Time { return time.Now().UTC() }}
}

// List returns the stored overrides.
func (s *Service) List(ctx context.Context) ([]*entity.Setting, error) {
	return s.store.List(ctx, entity.CategoryCirculation)
}

// Effective returns the base policy with stored overrides applied.
func (s *Service) Effective(ctx context.Context) (config.Circulation, error) {
	c := s.base
	if err := s.ApplyOverrides(ctx, &c); err != nil {
		return config.Circulation{}, err
	}
	return c, nil
}

// ApplyOverrides writes stored overrides into c. Values that no longer
// validate are logged and skipped.
func (s *Service) ApplyOverrides(ctx context.Context, c *config.Circulation) error {
	items, err := s.store.List(ctx, entity.CategoryCirculation)
	if err != nil {
		return fmt.Errorf("list settings: %w", err)
	}
	for _, it := range items {
		apply, ok := circulationKeys[it.Key]
		if !ok {
			s.logger.Warnw("ignoring unknown setting", "key", it.Key)
			continue
		}
		if err := apply(c, it.Value); err != nil {
			s.logger.Warnw("ignoring invalid setting", "key", it.Key, "value", it.Value, "error", err)
		}
	}
	return nil
}

// Put creates or replaces an override. A non-zero version must match the
// stored one.
func (s *Service) Put(ctx context.Context, key, value string, version int64, by int64) (*entity.Setting, error) {
	apply, ok := circulationKeys[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	scratch := s.base
	if err := apply(&scratch, value); err != nil {
		return nil, err
	}
	value = strings.TrimSpace(value)
	now := s.Clock()

	existing, err := s.store.Get(ctx, key)
	if errors.Is(err, sql.ErrNoRows) {
		if version > 1 {
			return nil, ErrVersionConflict
		}
		st := &entity.Setting{Key: key, Category: entity.CategoryCirculation, Value: value, Version: 1, UpdatedBy: &by, UpdatedAt: now}
		if err := s.store.Insert(ctx, st); err != nil {
			return nil, err
		}
		s.logger.Infow("setting created", "key", key, "value", value, "by", by)
		return st, nil
	}
	if err != nil {
		return nil, err
	}

	expected := existing.Version
	if version != 0 && version != expected {
		return nil, ErrVersionConflict
	}
	existing.Value = value
	existing.Version = expected + 1
	existing.UpdatedBy = &by
	existing.UpdatedAt = now
	rows, err := s.store.Update(ctx, existing, expected)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		// existing was found, so 0 rows indicates version mismatch
		return nil, ErrVersionConflict
	}
	s.logger.Infow("setting updated", "key", key, "value", value, "version", existing.Version, "by", by)
	return existing, nil
}

// Delete removes an override so the base value applies again.
func (s *Service) Delete(ctx context.Context, key string) error {
	rows, err := s.store.Delete(ctx, key)
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
