// Package push turns push-gateway data messages into registry operations.
package push

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"callkit-bridge/internal/callstate"
)

type SignalType string

const (
	SignalStartCall  SignalType = "startCall"
	SignalEndCall    SignalType = "endCall"
	SignalRejectCall SignalType = "rejectCall"
)

const KeySignalType = "signal_type"

var ErrInvalidSignal = errors.New("invalid push signal")

// Signal is a parsed call push.
type Signal struct {
	Type     SignalType
	CallID   string
	Metadata callstate.Metadata
}

// ParseSignal reads an FCM-style data map. Every key except signal_type is
// kept as call metadata, with the caller fields and opponents normalized.
func ParseSignal(data map[string]string) (Signal, error) {
	s := Signal{
		Type:   SignalType(strings.TrimSpace(data[KeySignalType])),
		CallID: strings.TrimSpace(data[callstate.KeySessionID]),
	}
	if s.CallID == "" {
		return Signal{}, fmt.Errorf("%w: session_id is required", ErrInvalidSignal)
	}

	switch s.Type {
	case SignalEndCall, SignalRejectCall:
		return s, nil
	case SignalStartCall:
	default:
		return Signal{}, fmt.Errorf("%w: unsupported signal_type %q", ErrInvalidSignal, s.Type)
	}

	var missing []string
	for _, k := range []string{callstate.KeyCallType, callstate.KeyCallerID, callstate.KeyCallerName} {
		if strings.TrimSpace(data[k]) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return Signal{}, fmt.Errorf("%w: missing %s", ErrInvalidSignal, strings.Join(missing, ", "))
	}
	for _, k := range []string{callstate.KeyCallType, callstate.KeyCallerID} {
		if _, err := strconv.Atoi(strings.TrimSpace(data[k])); err != nil {
			return Signal{}, fmt.Errorf("%w: %s must be an integer", ErrInvalidSignal, k)
		}
	}

	opponents, err := parseOpponents(data[callstate.KeyCallOpponents])
	if err != nil {
		return Signal{}, fmt.Errorf("%w: %v", ErrInvalidSignal, err)
	}

	s.Metadata = make(callstate.Metadata, len(data))
	for k, v := range data {
		if k == KeySignalType {
			continue
		}
		s.Metadata[k] = v
	}
	s.Metadata[callstate.KeySessionID] = s.CallID
	s.Metadata[callstate.KeyCallType] = strings.TrimSpace(data[callstate.KeyCallType])
	s.Metadata[callstate.KeyCallerID] = strings.TrimSpace(data[callstate.KeyCallerID])
	s.Metadata[callstate.KeyCallOpponents] = opponents
	return s, nil
}

// parseOpponents normalizes a comma separated id list.
func parseOpponents(raw string) (string, error) {
	parts := strings.Split(raw, ",")
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, err := strconv.Atoi(p); err != nil {
			return "", errors.New("call_opponents must be integers")
		}
		ids = append(ids, p)
	}
	if len(ids) == 0 {
		return "", errors.New("call_opponents is required")
	}
	return strings.Join(ids, ","), nil
}
