// Package events fans appointment changes out to live front-desk clients and
// to the message broker.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
)

const (
	AppointmentCreated   = "appointment.created"
	AppointmentUpdated   = "appointment.updated"
	AppointmentCanceled  = "appointment.canceled"
	AppointmentsImported = "appointment.imported"
)

// TopicAll receives every event regardless of its own topic.
const TopicAll = "*"

// DoctorTopic is the topic carrying one doctor's appointment changes.
func DoctorTopic(doctorID string) string {
	return "doctor/" + doctorID
}

type Event struct {
	Type          string          `json:"type"`
	Topic         string          `json:"topic"`
	DoctorID      string          `json:"doctor_id,omitempty"`
	AppointmentID string          `json:"appointment_id,omitempty"`
	Actor         string          `json:"actor,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Data          json.RawMessage `json:"data,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Fanout publishes to every sink. A failing sink is logged and does not stop
// delivery to the others.
type Fanout struct {
	sinks  []Publisher
	logger zerolog.Logger
}

func NewFanout(logger zerolog.Logger, sinks ...Publisher) *Fanout {
	return &Fanout{sinks: sinks, logger: logger}
}

func (f *Fanout) Publish(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	for _, s := range f.sinks {
		if err := s.Publish(ctx, event); err != nil {
			f.logger.Error().Err(err).Str("type", event.Type).Str("topic", event.Topic).
				Msg("failed to publish event")
		}
	}
	return nil
}
