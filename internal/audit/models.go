package audit

import "time"

// Event is an immutable, append-only record of one call state write.
//
// Invariants:
// - Events are never updated or deleted.
// - call_id is required.
// - Audit is best-effort; the registry never fails a transition because of it.
//
// Storage recommendation (Postgres):
// - Table call_audit_events with an INSERT-only policy.
// - Index on (call_id, created_at) for history lookups.
type Event struct {
	ID     string `json:"id" db:"id"`
	CallID string `json:"call_id" db:"call_id"`

	// Type indicates what kind of write produced the record.
	Type EventType `json:"type" db:"type"`

	FromState string `json:"from_state" db:"from_state"`
	ToState   string `json:"to_state" db:"to_state"`

	// Cause is set for end transitions only.
	Cause string `json:"cause,omitempty" db:"cause"`

	// Source is who asked: bridge, push, presenter, operator.
	Source string `json:"source" db:"source"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	// EventTypeTransition is a lifecycle transition with side effects.
	EventTypeTransition EventType = "transition"
	// EventTypeOverride is a silent SetState write.
	EventTypeOverride EventType = "override"
)
