package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/ride-lifecycle/internal/models"
)

// The closed set of ride event types. Consumers reject anything else at
// decode time instead of silently reading missing fields.
const (
	RideRequested = "ride.requested"
	RideCreated   = "ride.created"
	RideAssigned  = "ride.assigned"
	RideCompleted = "ride.completed"
	RideCancelled = "ride.cancelled"
)

// ErrMalformed marks an event that failed to parse or validate; policy
// is to log and drop it.
var ErrMalformed = errors.New("malformed event")

// Envelope is the wire shape for ride events, keyed by ride id for
// partition affinity.
type Envelope struct {
	EventType string      `json:"eventType"`
	Timestamp time.Time   `json:"timestamp"`
	Data      models.Ride `json:"data"`
}

func NewEnvelope(eventType string, ride models.Ride) Envelope {
	return Envelope{EventType: eventType, Timestamp: time.Now().UTC(), Data: ride}
}

func knownType(t string) bool {
	switch t {
	case RideRequested, RideCreated, RideAssigned, RideCompleted, RideCancelled:
		return true
	}
	return false
}

// Decode parses and validates one ride event. Unknown event types and
// payloads missing identifiers come back as ErrMalformed.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if !knownType(env.EventType) {
		return Envelope{}, fmt.Errorf("%w: unknown event type %q", ErrMalformed, env.EventType)
	}
	if env.Data.ID == "" {
		return Envelope{}, fmt.Errorf("%w: missing ride id", ErrMalformed)
	}
	if env.EventType == RideCompleted {
		if env.Data.CustomerID == "" || env.Data.DriverID == "" {
			return Envelope{}, fmt.Errorf("%w: completed ride missing party ids", ErrMalformed)
		}
	}
	return env, nil
}

// DecodeLocationUpdate parses one location-channel message.
func DecodeLocationUpdate(raw []byte) (models.LocationUpdate, error) {
	var u models.LocationUpdate
	if err := json.Unmarshal(raw, &u); err != nil {
		return models.LocationUpdate{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if u.RideID == "" {
		return models.LocationUpdate{}, fmt.Errorf("%w: missing ride id", ErrMalformed)
	}
	return u, nil
}
