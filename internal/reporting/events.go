package reporting

import (
	"context"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/event"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/reporting/entity"
	"github.com/ovaphlow/pitchfork/service-library-go/pkg/database"
)

var activityActions = map[event.Type]entity.Action{
	event.BookBorrowed: entity.ActionBorrow,
	event.BookReturned: entity.ActionReturn,
	event.BookRenewed:  entity.ActionRenew,
	event.UserLoggedIn: entity.ActionLogin,
}

// RegisterHandlers writes the activity log from ledger and login events.
func (s *Service) RegisterHandlers(bus *event.Bus) {
	for t := range activityActions {
		bus.Subscribe(t, "reporting.activity", s.recordActivity)
	}
}

func (s *Service) recordActivity(ctx context.Context, ev event.Event) error {
	action, ok := activityActions[ev.Type]
	if !ok {
		return nil
	}
	details := database.JSONMap{}
	if r := ev.Record; r != nil {
		details["record_id"] = r.RecordID
		details["book_id"] = r.BookID
		details["book_title"] = r.BookTitle
		details["due_date"] = r.DueDate
		switch ev.Type {
		case event.BookReturned:
			details["days_overdue"] = r.DaysOverdue
			details["late_fee"] = r.LateFee.StringFixed(2)
		case event.BookRenewed:
			details["renewal_count"] = r.RenewalCount
		}
	}
	return s.store.RecordActivity(ctx, &entity.Activity{
		UserID:     ev.UserID,
		Action:     action,
		Details:    details,
		OccurredAt: ev.OccurredAt,
	})
}
