package event

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var handlerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "library_event_handler_failures_total",
	Help: "Event handler invocations that returned an error.",
}, []string{"event", "handler"})

// HandlerFunc reacts to a single event.
type HandlerFunc func(ctx context.Context, ev Event) error

type subscription struct {
	name string
	fn   HandlerFunc
}

// Bus is a synchronous in-process dispatcher. Handlers run in subscription
// order; a failing handler does not stop the others.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Type][]subscription
	logger *zap.SugaredLogger
}

func NewBus(logger *zap.SugaredLogger) *Bus {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Bus{subs: map[Type][]subscription{}, logger: logger}
}

// Subscribe registers fn for events of type t under a name used in logs.
func (b *Bus) Subscribe(t Type, name string, fn HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[t] = append(b.subs[t], subscription{name: name, fn: fn})
}

// Publish delivers ev to every handler and returns their joined errors.
// Failures are logged here so callers may ignore the result.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	b.mu.RLock()
	subs := append([]subscription(nil), b.subs[ev.Type]...)
	b.mu.RUnlock()

	var errs []error
	for _, s := range subs {
		if err := b.invoke(ctx, s, ev); err != nil {
			handlerFailures.WithLabelValues(string(ev.Type), s.name).Inc()
			b.logger.Errorw("event handler failed",
				"event", ev.Type,
				"event_id", ev.ID.String(),
				"handler", s.name,
				"user_id", ev.UserID,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

func (b *Bus) invoke(ctx context.Context, s subscription, ev Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return s.fn(ctx, ev)
}
