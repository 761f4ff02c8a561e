package contracts

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ktqueue/ktqueue/pkg/bus"
	"github.com/nats-io/nats.go"
)

// EventType identifies the semantic event kind.
type EventType string

const (
	EventUserLoggedIn     EventType = "user.logged_in"
	EventJobCreated       EventType = "job.created"
	EventJobStopped       EventType = "job.stopped"
	EventJobStatusChanged EventType = "job.status_changed"
)

var validEventTypes = map[EventType]struct{}{
	EventUserLoggedIn:     {},
	EventJobCreated:       {},
	EventJobStopped:       {},
	EventJobStatusChanged: {},
}

// Envelope is the JSON-serializable event envelope published on NATS.
type Envelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	TS            time.Time       `json:"ts"`
	CorrelationID string          `json:"correlation_id"`
	User          *string         `json:"user,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

var ErrInvalidEventType = errors.New("invalid event type")

// ValidateEventType verifies whether the provided event type is known.
func ValidateEventType(eventType EventType) error {
	if _, ok := validEventTypes[eventType]; !ok {
		return fmt.Errorf("%w: %s", ErrInvalidEventType, eventType)
	}
	return nil
}

// MarshalV1 marshals an envelope with a v1 payload struct.
func MarshalV1[T any](id string, eventType EventType, ts time.Time, correlationID string, user *string, payload T) ([]byte, error) {
	if err := ValidateEventType(eventType); err != nil {
		return nil, err
	}

	payloadRaw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	env := Envelope{
		ID:            id,
		Type:          eventType,
		TS:            ts,
		CorrelationID: correlationID,
		User:          user,
		Payload:       payloadRaw,
	}

	return json.Marshal(env)
}

// UnmarshalEnvelope unmarshals and validates an event envelope.
func UnmarshalEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	if err := ValidateEventType(env.Type); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// V1 payload schemas.
type UserLoggedInV1 struct {
	AuthMethod string `json:"auth_method,omitempty"`
}

type JobCreatedV1 struct {
	Name   string `json:"name"`
	Image  string `json:"image"`
	GPUNum int    `json:"gpu_num"`
	Node   string `json:"node,omitempty"`
}

type JobStoppedV1 struct {
	Name string `json:"name"`
}

type JobStatusChangedV1 struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	RunningNode string `json:"running_node,omitempty"`
}

// DecodeV1Payload decodes the payload into a v1 schema by event type.
func DecodeV1Payload(env Envelope) (any, error) {
	switch env.Type {
	case EventUserLoggedIn:
		var payload UserLoggedInV1
		return payload, json.Unmarshal(env.Payload, &payload)
	case EventJobCreated:
		var payload JobCreatedV1
		return payload, json.Unmarshal(env.Payload, &payload)
	case EventJobStopped:
		var payload JobStoppedV1
		return payload, json.Unmarshal(env.Payload, &payload)
	case EventJobStatusChanged:
		var payload JobStatusChangedV1
		return payload, json.Unmarshal(env.Payload, &payload)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidEventType, env.Type)
	}
}

// SubjectForType maps a contract event type to its NATS subject.
func SubjectForType(eventType EventType) (string, error) {
	switch eventType {
	case EventUserLoggedIn:
		return bus.SubjectUserLoggedIn, nil
	case EventJobCreated:
		return bus.SubjectJobCreated, nil
	case EventJobStopped:
		return bus.SubjectJobStopped, nil
	case EventJobStatusChanged:
		return bus.SubjectJobStatusChanged, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrInvalidEventType, eventType)
	}
}

// Publish wraps payload in an envelope and publishes it on the subject of
// its event type. An empty correlation id gets a fresh one.
func Publish[T any](pub bus.Publisher, eventType EventType, correlationID string, user *string, payload T) error {
	if pub == nil {
		return nil
	}
	subject, err := SubjectForType(eventType)
	if err != nil {
		return err
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	raw, err := MarshalV1(uuid.NewString(), eventType, time.Now().UTC(), correlationID, user, payload)
	if err != nil {
		return err
	}
	msg := nats.NewMsg(subject)
	msg.Data = raw
	msg.Header.Set("correlation_id", correlationID)
	msg.Header.Set("content-type", "application/json")
	return pub.PublishMsg(msg)
}
