package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/config"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/notification/entity"
	"github.com/ovaphlow/pitchfork/service-library-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-library-go/pkg/utilities"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	// ErrLeaseLost means another dispatcher claimed the item after this
	// one's lease ran out.
	ErrLeaseLost = errors.New("notification lease lost")
)

const maxAttemptsReached = "max attempts reached"

// DispatchResult counts what one Dispatch run did with the items it claimed.
type DispatchResult struct {
	Claimed     int `json:"claimed"`
	Sent        int `json:"sent"`
	Suppressed  int `json:"suppressed"`
	Rescheduled int `json:"rescheduled"`
	Retrying    int `json:"retrying"`
	Failed      int `json:"failed"`
	LeaseLost   int `json:"lease_lost"`
}

// Service queues notifications and delivers them honoring user
// preferences and quiet hours.
type Service struct {
	store   Store
	channel Channel
	dir     Directory
	cfg     config.Notification
	loc     *time.Location
	logger  *zap.SugaredLogger

	// ReminderLeadDays applies to users without stored preferences.
	ReminderLeadDays int

	Clock func() time.Time
	NewID func() string
}

func NewService(store Store, channel Channel, dir Directory, cfg config.Notification, logger *zap.SugaredLogger) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{
		store:            store,
		channel:          channel,
		dir:              dir,
		cfg:              cfg,
		loc:              cfg.Location(),
		logger:           logger,
		ReminderLeadDays: 3,
		Clock:            func() time.Time { return time.Now().UTC() },
		NewID:            utilities.NewSnowflakeID,
	}
}

// Enqueue appends an item to the queue.
func (s *Service) Enqueue(ctx context.Context, userID int64, t entity.Type, scheduledFor time.Time, priority entity.Priority, payload map[string]any) (*entity.Item, error) {
	if userID <= 0 || strings.TrimSpace(string(t)) == "" {
		return nil, fmt.Errorf("%w: user and type are required", ErrInvalidInput)
	}
	if priority < entity.PriorityLow || priority > entity.PriorityUrgent {
		return nil, fmt.Errorf("%w: unknown priority %d", ErrInvalidInput, priority)
	}
	now := s.Clock()
	if scheduledFor.IsZero() {
		scheduledFor = now
	}
	maxAttempts := s.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	it := &entity.Item{
		ID:           s.NewID(),
		UserID:       userID,
		Type:         t,
		ScheduledFor: scheduledFor.UTC(),
		Priority:     priority,
		Payload:      database.JSONMap(payload),
		MaxAttempts:  maxAttempts,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if it.Payload == nil {
		it.Payload = database.JSONMap{}
	}
	if err := s.store.Enqueue(ctx, it); err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", t, err)
	}
	enqueuedTotal.WithLabelValues(string(t)).Inc()
	s.logger.Debugw("notification queued", "id", it.ID, "user_id", userID, "type", t, "scheduled_for", it.ScheduledFor, "priority", priority.String())
	return it, nil
}

// Dispatch claims one batch of due items and processes each. Items from a
// failed save stay leased until the lease expires and are retried then.
// Items whose lease ran out before their turn are left for the next claim.
func (s *Service) Dispatch(ctx context.Context) (DispatchResult, error) {
	var res DispatchResult
	now := s.Clock()
	batch := s.cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	lease := s.cfg.LeaseTTL
	if lease <= 0 {
		lease = 5 * time.Minute
	}
	items, err := s.store.ClaimDue(ctx, now, now.Add(lease), batch)
	if err != nil {
		return res, fmt.Errorf("claim due notifications: %w", err)
	}
	res.Claimed = len(items)
	prefs := map[int64]*entity.Preference{}
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if it.LeasedUntil != nil && !s.Clock().Before(*it.LeasedUntil) {
			res.LeaseLost++
			dispatchTotal.WithLabelValues("lease_lost").Inc()
			s.logger.Warnw("notification lease expired before delivery", "id", it.ID)
			continue
		}
		outcome := s.process(ctx, it, prefs)
		if err := s.store.Save(ctx, it); err != nil {
			if errors.Is(err, ErrLeaseLost) {
				res.LeaseLost++
				dispatchTotal.WithLabelValues("lease_lost").Inc()
				s.logger.Warnw("notification reclaimed during delivery", "id", it.ID, "outcome", outcome)
				continue
			}
			s.logger.Errorw("save notification failed", "id", it.ID, "error", err)
			continue
		}
		dispatchTotal.WithLabelValues(outcome).Inc()
		switch outcome {
		case "sent":
			res.Sent++
		case "suppressed":
			res.Suppressed++
		case "rescheduled":
			res.Rescheduled++
		case "retrying":
			res.Retrying++
		default:
			res.Failed++
		}
	}
	if res.Claimed > 0 {
		s.logger.Infow("notifications dispatched", "claimed", res.Claimed, "sent", res.Sent, "suppressed", res.Suppressed,
			"rescheduled", res.Rescheduled, "retrying", res.Retrying, "failed", res.Failed)
	}
	return res, nil
}

func (s *Service) process(ctx context.Context, it *entity.Item, prefs map[int64]*entity.Preference) string {
	now := s.Clock()
	it.UpdatedAt = now
	if it.Attempts >= it.MaxAttempts {
		s.finish(it, entity.OutcomeFailed, maxAttemptsReached, now)
		return "failed"
	}
	pref, ok := prefs[it.UserID]
	if !ok {
		var err error
		pref, err = s.Preferences(ctx, it.UserID)
		if err != nil {
			return s.attemptFailed(it, err, now)
		}
		prefs[it.UserID] = pref
	}
	if !pref.Allows(it.Type) {
		s.finish(it, entity.OutcomeSuppressed, "", now)
		return "suppressed"
	}
	local := now.In(s.loc)
	if pref.InQuietHours(local) {
		it.ScheduledFor = pref.QuietEnd(local).UTC()
		return "rescheduled"
	}
	if err := s.deliver(ctx, it); err != nil {
		return s.attemptFailed(it, err, now)
	}
	s.finish(it, entity.OutcomeSent, "", now)
	return "sent"
}

func (s *Service) deliver(ctx context.Context, it *entity.Item) error {
	contact, err := s.dir.Contact(ctx, it.UserID)
	if err != nil {
		return fmt.Errorf("resolve recipient: %w", err)
	}
	subject, body := Render(it)
	return s.channel.Send(ctx, Message{UserID: it.UserID, To: contact.Email, Subject: subject, Body: body})
}

func (s *Service) attemptFailed(it *entity.Item, err error, now time.Time) string {
	it.Attempts++
	it.ErrorMessage = err.Error()
	if it.Attempts >= it.MaxAttempts {
		s.finish(it, entity.OutcomeFailed, maxAttemptsReached+": "+err.Error(), now)
		s.logger.Warnw("notification failed permanently", "id", it.ID, "user_id", it.UserID, "type", it.Type, "error", err)
		return "failed"
	}
	s.logger.Debugw("notification delivery failed", "id", it.ID, "attempts", it.Attempts, "error", err)
	return "retrying"
}

func (s *Service) finish(it *entity.Item, outcome entity.Outcome, msg string, now time.Time) {
	it.IsProcessed = true
	it.ProcessedAt = &now
	it.Outcome = outcome
	if msg != "" {
		it.ErrorMessage = msg
	}
}

// Preferences returns the stored preferences or the defaults.
func (s *Service) Preferences(ctx context.Context, userID int64) (*entity.Preference, error) {
	p, err := s.store.GetPreference(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entity.DefaultPreference(userID, s.ReminderLeadDays), nil
		}
		return nil, fmt.Errorf("get preferences: %w", err)
	}
	return p, nil
}

// UpdatePreferences validates and stores p.
func (s *Service) UpdatePreferences(ctx context.Context, p *entity.Preference) (*entity.Preference, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	p.UpdatedAt = s.Clock()
	if err := s.store.UpsertPreference(ctx, p); err != nil {
		return nil, fmt.Errorf("save preferences: %w", err)
	}
	return p, nil
}

// Queue lists a user's queued and processed notifications, newest first.
func (s *Service) Queue(ctx context.Context, userID int64, limit, offset int) ([]*entity.Item, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.store.ListForUser(ctx, userID, limit, offset)
}

func (s *Service) Stats(ctx context.Context) (*entity.QueueStats, error) {
	return s.store.Stats(ctx, s.Clock())
}

// CheckLowInventory queues a low_inventory alert to every admin for each
// book under ratio.
func (s *Service) CheckLowInventory(ctx context.Context, inv Inventory, ratio float64) (int, error) {
	books, err := inv.LowInventory(ctx, ratio)
	if err != nil {
		return 0, fmt.Errorf("low inventory: %w", err)
	}
	if len(books) == 0 {
		return 0, nil
	}
	admins, err := s.dir.AdminIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list admins: %w", err)
	}
	now := s.Clock()
	queued := 0
	for _, b := range books {
		payload := map[string]any{
			"book_id":          b.ID,
			"book_title":       b.Title,
			"available_copies": b.AvailableCopies,
			"total_copies":     b.TotalCopies,
		}
		for _, admin := range admins {
			if _, err := s.Enqueue(ctx, admin, entity.TypeLowInventory, now, entity.PriorityHigh, payload); err != nil {
				s.logger.Warnw("queue low inventory alert failed", "book_id", b.ID, "admin_id", admin, "error", err)
				continue
			}
			queued++
		}
	}
	s.logger.Infow("low inventory checked", "books", len(books), "alerts", queued)
	return queued, nil
}
