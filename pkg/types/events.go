package types

import (
	"encoding/json"
	"fmt"
)

// EventType tags a bus envelope. The set is closed: parsers reject any tag
// not listed here.
type EventType string

const (
	EventScore     EventType = "SCORE"
	EventSwitch    EventType = "SWITCH"
	EventHold      EventType = "HOLD"
	EventNarration EventType = "NARRATION"
)

// IsValid reports whether t is a recognised event type.
func (t EventType) IsValid() bool {
	switch t {
	case EventScore, EventSwitch, EventHold, EventNarration:
		return true
	}
	return false
}

// Event is the tagged union carried on the bus and over the /events bridge.
// Exactly one payload field is non-nil, matching Type.
type Event struct {
	Type EventType

	Score     *CameraScore
	Decision  *SwitchDecision
	Narration *Narration
}

// envelope is the wire form: {"type": ..., "payload": {...}}.
type envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewScoreEvent wraps a CameraScore in an Event.
func NewScoreEvent(s CameraScore) Event {
	return Event{Type: EventScore, Score: &s}
}

// NewDecisionEvent wraps a SwitchDecision in an Event, tagging it SWITCH or
// HOLD according to the decision's action.
func NewDecisionEvent(d SwitchDecision) Event {
	t := EventHold
	if d.Action == ActionSwitch {
		t = EventSwitch
	}
	return Event{Type: t, Decision: &d}
}

// NewNarrationEvent wraps a Narration in an Event.
func NewNarrationEvent(n Narration) Event {
	return Event{Type: EventNarration, Narration: &n}
}

// MarshalJSON encodes the event in the fixed wire form.
func (e Event) MarshalJSON() ([]byte, error) {
	var payload any
	switch e.Type {
	case EventScore:
		payload = e.Score
	case EventSwitch, EventHold:
		payload = e.Decision
	case EventNarration:
		payload = e.Narration
	default:
		return nil, fmt.Errorf("types: marshal event: unknown type %q", e.Type)
	}
	if payload == nil {
		return nil, fmt.Errorf("types: marshal event %q: nil payload", e.Type)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: e.Type, Payload: raw})
}

// UnmarshalJSON decodes the fixed wire form, rejecting unknown tags and
// malformed payloads.
func (e *Event) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("types: decode event envelope: %w", err)
	}
	if !env.Type.IsValid() {
		return fmt.Errorf("types: decode event: unknown type %q", env.Type)
	}
	if len(env.Payload) == 0 {
		return fmt.Errorf("types: decode event %q: missing payload", env.Type)
	}

	*e = Event{Type: env.Type}
	switch env.Type {
	case EventScore:
		var s CameraScore
		if err := json.Unmarshal(env.Payload, &s); err != nil {
			return fmt.Errorf("types: decode SCORE payload: %w", err)
		}
		e.Score = &s
	case EventSwitch, EventHold:
		var d SwitchDecision
		if err := json.Unmarshal(env.Payload, &d); err != nil {
			return fmt.Errorf("types: decode %s payload: %w", env.Type, err)
		}
		e.Decision = &d
	case EventNarration:
		var n Narration
		if err := json.Unmarshal(env.Payload, &n); err != nil {
			return fmt.Errorf("types: decode NARRATION payload: %w", err)
		}
		e.Narration = &n
	}
	return nil
}
