// Package events fans booking lifecycle events out to interested sinks.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/urban-services/internal/metrics"
	"github.com/ukydev/urban-services/internal/models"
)

// Event types. They double as WebSocket message types.
const (
	TypeNewBooking       = "NEW_BOOKING"
	TypeBookingUpdated   = "BOOKING_UPDATED"
	TypeBookingCancelled = "BOOKING_CANCELLED"
)

// Event is a booking mutation with the booking fully populated.
type Event struct {
	Type       string                `json:"type"`
	Booking    models.BookingDetails `json:"booking"`
	OccurredAt time.Time             `json:"occurred_at"`
}

// Sink receives published events.
type Sink interface {
	HandleEvent(ctx context.Context, event Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event Event) error

// HandleEvent calls f.
func (f SinkFunc) HandleEvent(ctx context.Context, event Event) error {
	return f(ctx, event)
}

type namedSink struct {
	name string
	sink Sink
}

// Bus delivers events synchronously to every sink in registration order.
// Delivery is best effort: sink errors are logged and counted, never
// returned to the publisher.
type Bus struct {
	mu    sync.RWMutex
	sinks []namedSink
	log   logrus.FieldLogger
}

// NewBus constructs an empty bus.
func NewBus(log logrus.FieldLogger) *Bus {
	return &Bus{log: log}
}

// Subscribe registers a sink under name.
func (b *Bus) Subscribe(name string, sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, namedSink{name: name, sink: sink})
}

// Publish hands event to every sink.
func (b *Bus) Publish(ctx context.Context, event Event) {
	if b == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	b.mu.RLock()
	sinks := append([]namedSink(nil), b.sinks...)
	b.mu.RUnlock()

	for _, s := range sinks {
		if err := s.sink.HandleEvent(ctx, event); err != nil {
			metrics.ObserveSinkError(s.name)
			b.log.WithError(err).WithFields(logrus.Fields{
				"sink":       s.name,
				"event":      event.Type,
				"booking_id": event.Booking.ID.Hex(),
			}).Warn("Booking event delivery failed")
		}
	}
}
