package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"callkit-bridge/internal/callstate"
)

// TokenSink receives refreshed push tokens. events.Hub implements it.
type TokenSink interface {
	PublishToken(token string)
}

// Receiver applies push signals to the registry.
type Receiver struct {
	registry *callstate.Registry
	tokens   TokenSink
	log      *slog.Logger
}

func NewReceiver(reg *callstate.Registry, tokens TokenSink, log *slog.Logger) (*Receiver, error) {
	if reg == nil {
		return nil, errors.New("push: registry is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Receiver{registry: reg, tokens: tokens, log: log.With("component", "push")}, nil
}

// Result describes what a signal did, for webhook responses and logs.
type Result string

const (
	ResultRegistered Result = "registered"
	ResultDuplicate  Result = "duplicate"
	ResultEnded      Result = "ended"
	// ResultTombstoned means the call was not known yet; it is stored as
	// rejected so a delayed startCall for it does not ring.
	ResultTombstoned Result = "tombstoned"
)

func (r *Receiver) Handle(ctx context.Context, s Signal) (Result, error) {
	ctx = callstate.WithSource(ctx, callstate.SourcePush)

	switch s.Type {
	case SignalStartCall:
		out, err := r.registry.RegisterIncomingCall(ctx, s.CallID, s.Metadata)
		if err != nil {
			return "", err
		}
		if out == callstate.OutcomeIgnored {
			r.log.Info("start signal for known call ignored", "call_id", s.CallID)
			return ResultDuplicate, nil
		}
		return ResultRegistered, nil

	case SignalEndCall, SignalRejectCall:
		err := r.registry.ReportEnded(ctx, s.CallID, callstate.CauseRemoteReject)
		if err == nil {
			return ResultEnded, nil
		}
		if !errors.Is(err, callstate.ErrNotFound) {
			return "", err
		}
		if err := r.registry.SetState(ctx, s.CallID, callstate.StateRejected); err != nil {
			return "", err
		}
		r.log.Info("end signal for unknown call stored as rejected", "call_id", s.CallID, "signal", s.Type)
		return ResultTombstoned, nil
	}
	return "", fmt.Errorf("%w: unsupported signal_type %q", ErrInvalidSignal, s.Type)
}

// HandleData parses and applies an FCM-style data map.
func (r *Receiver) HandleData(ctx context.Context, data map[string]string) (Signal, Result, error) {
	s, err := ParseSignal(data)
	if err != nil {
		return Signal{}, "", err
	}
	res, err := r.Handle(ctx, s)
	return s, res, err
}

// TokenRefreshed relays a new device push token to bridge subscribers.
func (r *Receiver) TokenRefreshed(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: token is required", ErrInvalidSignal)
	}
	if r.tokens != nil {
		r.tokens.PublishToken(token)
	}
	r.log.Info("push token refreshed")
	return nil
}
