package callstate

import (
	"strings"
	"time"
	"unicode"
)

// CallState is the lifecycle state of one call attempt.
//
// Values are stored verbatim by every Store and sent to bridge clients,
// so keep them stable.
type CallState string

const (
	// StateUnknown is never persisted. It is what a lookup returns when no
	// record exists for the call id.
	StateUnknown  CallState = "unknown"
	StatePending  CallState = "pending"
	StateAccepted CallState = "accepted"
	StateRejected CallState = "rejected"
)

func (s CallState) Valid() bool {
	switch s {
	case StateUnknown, StatePending, StateAccepted, StateRejected:
		return true
	default:
		return false
	}
}

// ParseState converts a wire value into a CallState.
func ParseState(v string) (CallState, error) {
	s := CallState(strings.TrimSpace(v))
	if !s.Valid() {
		return "", ErrInvalidArgument
	}
	return s, nil
}

// Outcome reports what RegisterIncomingCall did.
type Outcome string

const (
	OutcomeCreated Outcome = "created"
	// OutcomeIgnored means a record already existed for the call id.
	// It is not an error: pushes are redelivered.
	OutcomeIgnored Outcome = "ignored"
)

// EndCause says why a call ended. Every cause lands in StateRejected.
type EndCause string

const (
	CauseLocalHangup  EndCause = "local_hangup"
	CauseRemoteReject EndCause = "remote_reject"
	CauseTimeout      EndCause = "timeout"
)

func (c EndCause) Valid() bool {
	switch c {
	case CauseLocalHangup, CauseRemoteReject, CauseTimeout:
		return true
	default:
		return false
	}
}

// ParseCause converts a wire value into an EndCause. Empty input yields def.
func ParseCause(v string, def EndCause) (EndCause, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return def, nil
	}
	c := EndCause(v)
	if !c.Valid() {
		return "", ErrInvalidArgument
	}
	return c, nil
}

// Well-known metadata keys. They match the payload keys push senders use.
const (
	KeySessionID     = "session_id"
	KeyCallType      = "call_type"
	KeyCallerID      = "caller_id"
	KeyCallerName    = "caller_name"
	KeyCallOpponents = "call_opponents"
	KeyPhotoURL      = "photo_url"
	KeyUserInfo      = "user_info"
)

// Metadata is the caller information captured when a call is first seen.
// It is stored as a flat string map.
type Metadata map[string]string

// Clone returns a copy that shares nothing with m. A nil map clones to nil.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (m Metadata) validate() error {
	for k := range m {
		if strings.TrimSpace(k) == "" {
			return ErrInvalidArgument
		}
	}
	return nil
}

// Record is the persisted view of a call.
type Record struct {
	CallID    string    `json:"call_id" db:"call_id"`
	State     CallState `json:"state" db:"state"`
	Metadata  Metadata  `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// EventKind names the registry transitions that are announced to notifiers.
type EventKind string

const (
	EventIncomingCall EventKind = "incomingCall"
	EventCallAccepted EventKind = "answerCall"
	EventCallEnded    EventKind = "endCall"
)

// Event is emitted after a transition has been stored.
type Event struct {
	Kind       EventKind
	CallID     string
	Metadata   Metadata
	Cause      EndCause // set for EventCallEnded only
	OccurredAt time.Time
}

// Source identifies who asked for a transition. It is only used for audit.
type Source string

const (
	SourceBridge    Source = "bridge"
	SourcePush      Source = "push"
	SourcePresenter Source = "presenter"
	SourceOperator  Source = "operator"
)

// Transition is handed to a TransitionRecorder for every state write.
type Transition struct {
	CallID string
	From   CallState
	To     CallState
	Cause  EndCause
	Source Source
	// Silent marks SetState writes, which skip events and the presenter.
	Silent     bool
	OccurredAt time.Time
}

const maxCallIDLen = 256

func validateCallID(id string) error {
	if strings.TrimSpace(id) == "" || len(id) > maxCallIDLen {
		return ErrInvalidArgument
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return ErrInvalidArgument
		}
	}
	return nil
}
