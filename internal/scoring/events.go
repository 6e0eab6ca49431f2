package scoring

import (
	"context"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/event"
)

// RegisterHandlers recomputes a user's score whenever they return a book.
func (s *Service) RegisterHandlers(bus *event.Bus) {
	bus.Subscribe(event.BookReturned, "scoring.recompute", func(ctx context.Context, ev event.Event) error {
		_, err := s.Recompute(ctx, ev.UserID)
		return err
	})
}
