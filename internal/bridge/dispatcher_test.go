package bridge

import (
	"context"
	"errors"
	"testing"

	"callkit-bridge/internal/callstate"
	"callkit-bridge/internal/events"
	"callkit-bridge/internal/presenter"
)

type fixture struct {
	d   *Dispatcher
	reg *callstate.Registry
	p   *presenter.Presenter
	hub *events.Hub
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	hub := events.NewHub(16, nil)
	p := presenter.New(presenter.Options{})
	t.Cleanup(p.Close)
	reg, err := callstate.NewRegistry(callstate.NewMemoryStore(),
		callstate.WithNotifier(hub),
		callstate.WithPresenter(p),
	)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	d, err := NewDispatcher(reg, p, hub, nil)
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	return fixture{d: d, reg: reg, p: p, hub: hub}
}

func showArgs(id string) Args {
	return Args{
		"session_id":     id,
		"call_type":      float64(1),
		"caller_id":      float64(42),
		"caller_name":    "Alice",
		"call_opponents": []any{float64(7), float64(8)},
		"user_info":      `{"k":"v"}`,
	}
}

func TestDispatcher_CallLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.d.Invoke(ctx, MethodShowCallNotification, showArgs("c1"))
	if err != nil || res != "created" {
		t.Fatalf("show: %v %v", res, err)
	}
	res, _ = f.d.Invoke(ctx, MethodShowCallNotification, showArgs("c1"))
	if res != "ignored" {
		t.Fatalf("expected ignored duplicate, got %v", res)
	}
	if !f.p.IsActive("c1") {
		t.Fatalf("expected call ui presented")
	}

	res, _ = f.d.Invoke(ctx, MethodGetCallState, Args{"session_id": "c1"})
	if res != "pending" {
		t.Fatalf("expected pending, got %v", res)
	}
	if _, err := f.d.Invoke(ctx, MethodReportCallAccepted, Args{"session_id": "c1"}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if f.p.IsActive("c1") {
		t.Fatalf("accept should dismiss ui")
	}
	res, _ = f.d.Invoke(ctx, MethodGetCallState, Args{"session_id": "c1"})
	if res != "accepted" {
		t.Fatalf("expected accepted, got %v", res)
	}

	if _, err := f.d.Invoke(ctx, MethodReportCallEnded, Args{"session_id": "c1"}); err != nil {
		t.Fatalf("end: %v", err)
	}
	res, _ = f.d.Invoke(ctx, MethodGetCallState, Args{"session_id": "c1"})
	if res != "rejected" {
		t.Fatalf("expected rejected, got %v", res)
	}

	data, err := f.d.Invoke(ctx, MethodGetCallData, Args{"session_id": "c1"})
	if err != nil {
		t.Fatalf("data: %v", err)
	}
	md := data.(map[string]string)
	if md["caller_name"] != "Alice" || md["call_opponents"] != "7,8" || md["caller_id"] != "42" {
		t.Fatalf("unexpected call data: %v", md)
	}

	last, _ := f.d.Invoke(ctx, MethodGetLastCallID, nil)
	if last != "c1" {
		t.Fatalf("expected last call c1, got %v", last)
	}

	if _, err := f.d.Invoke(ctx, MethodClearCallData, Args{"session_id": "c1"}); err != nil {
		t.Fatalf("clear: %v", err)
	}
	res, _ = f.d.Invoke(ctx, MethodGetCallState, Args{"session_id": "c1"})
	if res != "unknown" {
		t.Fatalf("expected unknown after clear, got %v", res)
	}
	if data, _ := f.d.Invoke(ctx, MethodGetCallData, Args{"session_id": "c1"}); data != nil {
		t.Fatalf("expected nil data after clear, got %v", data)
	}
}

func TestDispatcher_ReportCallEndedCause(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ch, cancel := f.hub.Subscribe()
	defer cancel()

	_, _ = f.d.Invoke(ctx, MethodShowCallNotification, showArgs("c1"))
	<-ch

	if _, err := f.d.Invoke(ctx, MethodReportCallEnded, Args{"session_id": "c1", "cause": "timeout"}); err != nil {
		t.Fatalf("end: %v", err)
	}
	e := <-ch
	if e.Name != events.NameEndCall || e.Args["cause"] != "timeout" {
		t.Fatalf("unexpected event: %+v", e)
	}

	if _, err := f.d.Invoke(ctx, MethodReportCallEnded, Args{"session_id": "c1", "cause": "bogus"}); Code(err) != CodeInvalidArgument {
		t.Fatalf("expected invalid_argument, got %v", err)
	}
}

func TestDispatcher_ErrorCodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		method string
		args   Args
		code   string
	}{
		{MethodReportCallAccepted, Args{"session_id": "missing"}, CodeNotFound},
		{MethodReportCallEnded, Args{"session_id": "missing"}, CodeNotFound},
		{MethodGetCallState, Args{}, CodeInvalidArgument},
		{MethodGetCallState, Args{"session_id": 5}, CodeInvalidArgument},
		{MethodSetCallState, Args{"session_id": "c", "call_state": "ringing"}, CodeInvalidArgument},
		{MethodShowCallNotification, Args{"session_id": "c", "call_type": 1.5}, CodeInvalidArgument},
		{MethodSetOnLockScreenVisibility, Args{"is_visible": "yes"}, CodeInvalidArgument},
		{"muteCall", nil, CodeNotImplemented},
	}
	for _, tc := range cases {
		_, err := f.d.Invoke(ctx, tc.method, tc.args)
		if err == nil {
			t.Fatalf("%s: expected error", tc.method)
		}
		if got := Code(err); got != tc.code {
			t.Fatalf("%s: expected %s, got %s (%v)", tc.method, tc.code, got, err)
		}
	}
	if Code(errors.New("boom")) != CodeInternal {
		t.Fatalf("expected internal for unknown errors")
	}
}

func TestDispatcher_SetCallStateIsSilent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ch, cancel := f.hub.Subscribe()
	defer cancel()

	if _, err := f.d.Invoke(ctx, MethodSetCallState, Args{"session_id": "c9", "call_state": "accepted"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	res, _ := f.d.Invoke(ctx, MethodGetCallState, Args{"session_id": "c9"})
	if res != "accepted" {
		t.Fatalf("expected accepted, got %v", res)
	}
	if f.p.IsActive("c9") {
		t.Fatalf("set state must not present ui")
	}
	select {
	case e := <-ch:
		t.Fatalf("unexpected event %+v", e)
	default:
	}
	if data, _ := f.d.Invoke(ctx, MethodGetCallData, Args{"session_id": "c9"}); data != nil {
		t.Fatalf("bare record should have no data, got %v", data)
	}
}

func TestDispatcher_ConfigLockScreenAndToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.d.Invoke(ctx, MethodUpdateConfig, Args{"ringtone": "bell", "color": "#ffffff"}); err != nil {
		t.Fatalf("update config: %v", err)
	}
	if s := f.p.Settings(); s.Ringtone != "bell" || s.Color != "#ffffff" {
		t.Fatalf("unexpected settings: %+v", s)
	}
	if _, err := f.d.Invoke(ctx, MethodSetOnLockScreenVisibility, Args{"is_visible": true}); err != nil {
		t.Fatalf("lock screen: %v", err)
	}
	if !f.p.LockScreenVisible() {
		t.Fatalf("expected lock screen visible")
	}

	if tok, _ := f.d.Invoke(ctx, MethodGetVoipToken, nil); tok != nil {
		t.Fatalf("expected no token yet, got %v", tok)
	}
	f.hub.PublishToken("tok")
	if tok, _ := f.d.Invoke(ctx, MethodGetVoipToken, nil); tok != "tok" {
		t.Fatalf("expected tok, got %v", tok)
	}
}

func TestDispatcher_OpponentsAsString(t *testing.T) {
	f := newFixture(t)
	args := showArgs("c2")
	args["call_opponents"] = "3, 4"
	args["caller_id"] = "42"
	if _, err := f.d.Invoke(context.Background(), MethodShowCallNotification, args); err != nil {
		t.Fatalf("show: %v", err)
	}
	md, _, _ := f.reg.Metadata(context.Background(), "c2")
	if md["call_opponents"] != "3,4" {
		t.Fatalf("unexpected opponents %q", md["call_opponents"])
	}
}

func TestNewDispatcher_RequiresRegistry(t *testing.T) {
	if _, err := NewDispatcher(nil, nil, nil, nil); err == nil {
		t.Fatalf("expected error")
	}
}
