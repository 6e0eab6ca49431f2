package catalog

import (
	"context"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/event"
)

// RegisterHandlers keeps book statistics current as the ledger changes.
func (s *Service) RegisterHandlers(bus *event.Bus) {
	for _, t := range []event.Type{event.BookBorrowed, event.BookReturned, event.RecordLost} {
		bus.Subscribe(t, "catalog.statistics", s.onLedgerChange)
	}
}

func (s *Service) onLedgerChange(ctx context.Context, ev event.Event) error {
	if ev.Record == nil {
		return nil
	}
	_, err := s.RefreshStatistics(ctx, ev.Record.BookID)
	return err
}
