// Package bridge maps method-channel calls from the app onto the call registry.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"callkit-bridge/internal/callstate"
	"callkit-bridge/internal/presenter"
)

// Method names as the app sends them.
const (
	MethodShowCallNotification      = "showCallNotification"
	MethodReportCallAccepted        = "reportCallAccepted"
	MethodReportCallEnded           = "reportCallEnded"
	MethodGetCallState              = "getCallState"
	MethodSetCallState              = "setCallState"
	MethodGetCallData               = "getCallData"
	MethodClearCallData             = "clearCallData"
	MethodGetLastCallID             = "getLastCallId"
	MethodUpdateConfig              = "updateConfig"
	MethodSetOnLockScreenVisibility = "setOnLockScreenVisibility"
	MethodGetVoipToken              = "getVoipToken"
)

// Error codes carried in failure envelopes.
const (
	CodeNotFound        = "not_found"
	CodeInvalidArgument = "invalid_argument"
	CodeNotImplemented  = "not_implemented"
	CodeInternal        = "internal"
)

var ErrNotImplemented = errors.New("method not implemented")

// Args are the decoded method arguments.
type Args map[string]any

// TokenSource returns the last known device push token.
type TokenSource interface {
	Token() (string, bool)
}

type Dispatcher struct {
	registry  *callstate.Registry
	presenter *presenter.Presenter
	tokens    TokenSource
	log       *slog.Logger

	methods map[string]func(ctx context.Context, args Args) (any, error)
}

func NewDispatcher(reg *callstate.Registry, p *presenter.Presenter, tokens TokenSource, log *slog.Logger) (*Dispatcher, error) {
	if reg == nil {
		return nil, errors.New("bridge: registry is required")
	}
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{registry: reg, presenter: p, tokens: tokens, log: log.With("component", "bridge")}
	d.methods = map[string]func(ctx context.Context, args Args) (any, error){
		MethodShowCallNotification:      d.showCallNotification,
		MethodReportCallAccepted:        d.reportCallAccepted,
		MethodReportCallEnded:           d.reportCallEnded,
		MethodGetCallState:              d.getCallState,
		MethodSetCallState:              d.setCallState,
		MethodGetCallData:               d.getCallData,
		MethodClearCallData:             d.clearCallData,
		MethodGetLastCallID:             d.getLastCallID,
		MethodUpdateConfig:              d.updateConfig,
		MethodSetOnLockScreenVisibility: d.setOnLockScreenVisibility,
		MethodGetVoipToken:              d.getVoipToken,
	}
	return d, nil
}

// Invoke runs one method call. A nil result with a nil error is a successful
// call that returns nothing.
func (d *Dispatcher) Invoke(ctx context.Context, method string, args Args) (any, error) {
	fn, ok := d.methods[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotImplemented, method)
	}
	if args == nil {
		args = Args{}
	}
	res, err := fn(ctx, args)
	if err != nil {
		d.log.Debug("bridge method failed", "method", method, "code", Code(err), "err", err)
		return nil, err
	}
	return res, nil
}

// Code maps an Invoke error to its envelope code.
func Code(err error) string {
	switch {
	case errors.Is(err, callstate.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, callstate.ErrInvalidArgument):
		return CodeInvalidArgument
	case errors.Is(err, ErrNotImplemented):
		return CodeNotImplemented
	default:
		return CodeInternal
	}
}

func (d *Dispatcher) showCallNotification(ctx context.Context, args Args) (any, error) {
	callID, err := args.requiredString(callstate.KeySessionID)
	if err != nil {
		return nil, err
	}
	md := callstate.Metadata{callstate.KeySessionID: callID}
	for _, k := range []string{callstate.KeyCallType, callstate.KeyCallerID} {
		n, err := args.requiredInt(k)
		if err != nil {
			return nil, err
		}
		md[k] = strconv.Itoa(n)
	}
	if md[callstate.KeyCallerName], err = args.requiredString(callstate.KeyCallerName); err != nil {
		return nil, err
	}
	if md[callstate.KeyCallOpponents], err = args.opponents(callstate.KeyCallOpponents); err != nil {
		return nil, err
	}
	for _, k := range []string{callstate.KeyPhotoURL, callstate.KeyUserInfo} {
		v, err := args.optionalString(k)
		if err != nil {
			return nil, err
		}
		if v != "" {
			md[k] = v
		}
	}

	out, err := d.registry.RegisterIncomingCall(ctx, callID, md)
	if err != nil {
		return nil, err
	}
	return string(out), nil
}

func (d *Dispatcher) reportCallAccepted(ctx context.Context, args Args) (any, error) {
	callID, err := args.requiredString(callstate.KeySessionID)
	if err != nil {
		return nil, err
	}
	return nil, d.registry.ReportAccepted(ctx, callID)
}

func (d *Dispatcher) reportCallEnded(ctx context.Context, args Args) (any, error) {
	callID, err := args.requiredString(callstate.KeySessionID)
	if err != nil {
		return nil, err
	}
	raw, err := args.optionalString("cause")
	if err != nil {
		return nil, err
	}
	cause, err := callstate.ParseCause(raw, callstate.CauseLocalHangup)
	if err != nil {
		return nil, err
	}
	return nil, d.registry.ReportEnded(ctx, callID, cause)
}

func (d *Dispatcher) getCallState(ctx context.Context, args Args) (any, error) {
	callID, err := args.requiredString(callstate.KeySessionID)
	if err != nil {
		return nil, err
	}
	st, err := d.registry.State(ctx, callID)
	if err != nil {
		return nil, err
	}
	return string(st), nil
}

func (d *Dispatcher) setCallState(ctx context.Context, args Args) (any, error) {
	callID, err := args.requiredString(callstate.KeySessionID)
	if err != nil {
		return nil, err
	}
	raw, err := args.requiredString("call_state")
	if err != nil {
		return nil, err
	}
	st, err := callstate.ParseState(raw)
	if err != nil {
		return nil, err
	}
	return nil, d.registry.SetState(ctx, callID, st)
}

func (d *Dispatcher) getCallData(ctx context.Context, args Args) (any, error) {
	callID, err := args.requiredString(callstate.KeySessionID)
	if err != nil {
		return nil, err
	}
	md, ok, err := d.registry.Metadata(ctx, callID)
	if err != nil || !ok {
		return nil, err
	}
	return map[string]string(md), nil
}

func (d *Dispatcher) clearCallData(ctx context.Context, args Args) (any, error) {
	callID, err := args.requiredString(callstate.KeySessionID)
	if err != nil {
		return nil, err
	}
	return nil, d.registry.Clear(ctx, callID)
}

func (d *Dispatcher) getLastCallID(ctx context.Context, _ Args) (any, error) {
	id, ok, err := d.registry.LastCallID(ctx)
	if err != nil || !ok {
		return nil, err
	}
	return id, nil
}

func (d *Dispatcher) updateConfig(_ context.Context, args Args) (any, error) {
	if d.presenter == nil {
		return nil, nil
	}
	var s presenter.Settings
	var err error
	if s.Ringtone, err = args.optionalString("ringtone"); err != nil {
		return nil, err
	}
	if s.Icon, err = args.optionalString("icon"); err != nil {
		return nil, err
	}
	if s.NotificationIcon, err = args.optionalString("notification_icon"); err != nil {
		return nil, err
	}
	if s.Color, err = args.optionalString("color"); err != nil {
		return nil, err
	}
	d.presenter.UpdateSettings(s)
	return nil, nil
}

func (d *Dispatcher) setOnLockScreenVisibility(_ context.Context, args Args) (any, error) {
	v, ok := args["is_visible"].(bool)
	if !ok {
		return nil, fmt.Errorf("%w: is_visible must be a boolean", callstate.ErrInvalidArgument)
	}
	if d.presenter != nil {
		d.presenter.SetLockScreenVisibility(v)
	}
	return nil, nil
}

func (d *Dispatcher) getVoipToken(context.Context, Args) (any, error) {
	if d.tokens == nil {
		return nil, nil
	}
	tok, ok := d.tokens.Token()
	if !ok {
		return nil, nil
	}
	return tok, nil
}

func (a Args) requiredString(key string) (string, error) {
	v, err := a.optionalString(key)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("%w: %s is required", callstate.ErrInvalidArgument, key)
	}
	return v, nil
}

func (a Args) optionalString(key string) (string, error) {
	raw, ok := a[key]
	if !ok || raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", callstate.ErrInvalidArgument, key)
	}
	return s, nil
}

// requiredInt accepts JSON numbers and numeric strings.
func (a Args) requiredInt(key string) (int, error) {
	switch v := a[key].(type) {
	case float64:
		if v == math.Trunc(v) {
			return int(v), nil
		}
	case int:
		return v, nil
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n, nil
		}
	case nil:
		return 0, fmt.Errorf("%w: %s is required", callstate.ErrInvalidArgument, key)
	}
	return 0, fmt.Errorf("%w: %s must be an integer", callstate.ErrInvalidArgument, key)
}

// opponents accepts either a comma separated string or a list of ids.
func (a Args) opponents(key string) (string, error) {
	var parts []string
	switch v := a[key].(type) {
	case string:
		parts = strings.Split(v, ",")
	case []any:
		for i := range v {
			n, err := Args{key: v[i]}.requiredInt(key)
			if err != nil {
				return "", err
			}
			parts = append(parts, strconv.Itoa(n))
		}
	case nil:
	default:
		return "", fmt.Errorf("%w: %s must be a list of ids", callstate.ErrInvalidArgument, key)
	}

	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, err := strconv.Atoi(p); err != nil {
			return "", fmt.Errorf("%w: %s must contain integers", callstate.ErrInvalidArgument, key)
		}
		ids = append(ids, p)
	}
	if len(ids) == 0 {
		return "", fmt.Errorf("%w: %s is required", callstate.ErrInvalidArgument, key)
	}
	return strings.Join(ids, ","), nil
}
