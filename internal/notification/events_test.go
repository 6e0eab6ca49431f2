package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/event"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/notification/entity"
)

func borrowedEvent(at time.Time) event.Event {
	ev := event.New(event.BookBorrowed, 1, at)
	ev.Record = &event.RecordPayload{
		RecordID:    "rec-1",
		BookID:      "b1",
		BookTitle:   "Dune",
		BorrowDate:  at,
		DueDate:     at.Add(14 * 24 * time.Hour),
		Status:      "borrowed",
		MaxRenewals: 2,
		LateFee:     decimal.Zero,
	}
	return ev
}

func TestBorrowedQueuesConfirmationAndReminder(t *testing.T) {
	f := newFixture(t, 12)
	bus := event.NewBus(nil)
	f.svc.RegisterHandlers(bus, nil)
	require.NoError(t, bus.Publish(context.Background(), borrowedEvent(f.now)))

	confirm := f.store.ofType(entity.TypeBorrowConfirmation)
	require.Len(t, confirm, 1)
	assert.Equal(t, entity.PriorityHigh, confirm[0].Priority)
	assert.Equal(t, f.now, confirm[0].ScheduledFor)
	assert.Equal(t, "Dune", confirm[0].Payload["book_title"])

	reminders := f.store.ofType(entity.TypePreDueReminder)
	require.Len(t, reminders, 1)
	assert.Equal(t, entity.PriorityNormal, reminders[0].Priority)
	assert.Equal(t, f.now.Add(11*24*time.Hour), reminders[0].ScheduledFor)
}

func TestPreDueReminderUsesUserLeadTime(t *testing.T) {
	f := newFixture(t, 12)
	pref := entity.DefaultPreference(1, 3)
	pref.ReminderDaysBefore = 1
	require.NoError(t, f.store.UpsertPreference(context.Background(), pref))
	bus := event.NewBus(nil)
	f.svc.RegisterHandlers(bus, nil)
	require.NoError(t, bus.Publish(context.Background(), borrowedEvent(f.now)))

	reminders := f.store.ofType(entity.TypePreDueReminder)
	require.Len(t, reminders, 1)
	assert.Equal(t, f.now.Add(13*24*time.Hour), reminders[0].ScheduledFor)
}

func TestRenewSupersedesReminder(t *testing.T) {
	f := newFixture(t, 12)
	bus := event.NewBus(nil)
	f.svc.RegisterHandlers(bus, nil)
	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, borrowedEvent(f.now)))

	renewed := borrowedEvent(f.now.Add(5 * 24 * time.Hour))
	renewed.Type = event.BookRenewed
	renewed.Record.DueDate = renewed.OccurredAt.Add(14 * 24 * time.Hour)
	renewed.Record.RenewalCount = 1
	require.NoError(t, bus.Publish(ctx, renewed))

	reminders := f.store.ofType(entity.TypePreDueReminder)
	require.Len(t, reminders, 2)
	assert.Equal(t, entity.OutcomeSuperseded, reminders[0].Outcome)
	assert.False(t, reminders[1].IsProcessed)
	assert.Equal(t, renewed.Record.DueDate.Add(-3*24*time.Hour), reminders[1].ScheduledFor)

	confirm := f.store.ofType(entity.TypeRenewalConfirmation)
	require.Len(t, confirm, 1)
	assert.Equal(t, 1, confirm[0].Payload["renewals_left"])
}

func TestReturnQueuesConfirmation(t *testing.T) {
	f := newFixture(t, 12)
	bus := event.NewBus(nil)
	f.svc.RegisterHandlers(bus, nil)
	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, borrowedEvent(f.now)))

	ret := borrowedEvent(f.now)
	ret.Type = event.BookReturned
	returned := f.now.Add(20 * 24 * time.Hour)
	ret.Record.ReturnDate = &returned
	ret.Record.DaysOverdue = 6
	ret.Record.LateFee = decimal.RequireFromString("3")
	require.NoError(t, bus.Publish(ctx, ret))

	confirm := f.store.ofType(entity.TypeReturnConfirmation)
	require.Len(t, confirm, 1)
	assert.Equal(t, "3.00", confirm[0].Payload["late_fee"])
	assert.Equal(t, 6, confirm[0].Payload["days_overdue"])
	assert.True(t, f.store.ofType(entity.TypePreDueReminder)[0].IsProcessed)
}

func TestOverdueOnlyWhenClaimed(t *testing.T) {
	f := newFixture(t, 12)
	bus := event.NewBus(nil)
	f.svc.RegisterHandlers(bus, &releaseRecorder{})
	ctx := context.Background()

	ev := borrowedEvent(f.now)
	ev.Type = event.RecordOverdue
	require.NoError(t, bus.Publish(ctx, ev))
	assert.Empty(t, f.store.ofType(entity.TypeOverdueNotice))

	ev.Record.ReminderClaimed = true
	require.NoError(t, bus.Publish(ctx, ev))
	notices := f.store.ofType(entity.TypeOverdueNotice)
	require.Len(t, notices, 1)
	assert.Equal(t, entity.PriorityHigh, notices[0].Priority)
}

func TestOverdueEnqueueFailureReleasesClaim(t *testing.T) {
	f := newFixture(t, 12)
	releaser := &releaseRecorder{}
	bus := event.NewBus(nil)
	f.svc.RegisterHandlers(bus, releaser)
	f.store.enqueueErr = errors.New("queue down")

	ev := borrowedEvent(f.now)
	ev.Type = event.RecordOverdue
	ev.Record.ReminderClaimed = true
	err := bus.Publish(context.Background(), ev)
	require.Error(t, err)
	assert.Equal(t, []string{"rec-1"}, releaser.ids)
}

func TestScoreEvents(t *testing.T) {
	f := newFixture(t, 12)
	bus := event.NewBus(nil)
	f.svc.RegisterHandlers(bus, nil)
	ctx := context.Background()

	changed := event.New(event.ScoreChanged, 1, f.now)
	changed.Score = &event.ScorePayload{Previous: 620, Current: 480, Rating: "Very Poor"}
	require.NoError(t, bus.Publish(ctx, changed))
	restricted := event.New(event.AccountRestricted, 1, f.now)
	restricted.Score = changed.Score
	require.NoError(t, bus.Publish(ctx, restricted))
	risk := event.New(event.UserAtRisk, 2, f.now)
	risk.Score = &event.ScorePayload{Current: 650, OverdueCount: 2, Risk: "medium"}
	require.NoError(t, bus.Publish(ctx, risk))

	require.Len(t, f.store.ofType(entity.TypeCreditScoreUpdate), 1)
	suspended := f.store.ofType(entity.TypeAccountSuspended)
	require.Len(t, suspended, 1)
	assert.Equal(t, entity.PriorityUrgent, suspended[0].Priority)
	warnings := f.store.ofType(entity.TypeCreditWarning)
	require.Len(t, warnings, 1)
	assert.Equal(t, "medium", warnings[0].Payload["risk_level"])
	assert.Equal(t, 2, warnings[0].Payload["overdue_books"])
}

func TestRegisteredQueuesWelcome(t *testing.T) {
	f := newFixture(t, 12)
	bus := event.NewBus(nil)
	f.svc.RegisterHandlers(bus, nil)
	require.NoError(t, bus.Publish(context.Background(), event.New(event.UserRegistered, 3, f.now)))
	welcome := f.store.ofType(entity.TypeWelcome)
	require.Len(t, welcome, 1)
	assert.Equal(t, int64(3), welcome[0].UserID)
}
