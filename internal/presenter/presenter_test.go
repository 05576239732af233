package presenter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"callkit-bridge/internal/callstate"
)

type fakeTimer struct {
	mu      sync.Mutex
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (t *fakeTimer) fire() {
	t.mu.Lock()
	stopped := t.stopped
	t.mu.Unlock()
	if !stopped {
		t.fn()
	}
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) afterFunc(d time.Duration, f func()) stopper {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) last() *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timers[len(c.timers)-1]
}

func newTestPresenter(onTimeout func(ctx context.Context, callID string)) (*Presenter, *fakeClock) {
	clk := &fakeClock{}
	p := New(Options{RingTimeout: time.Second, OnTimeout: onTimeout, afterFunc: clk.afterFunc})
	return p, clk
}

func TestPresenter_PresentAndDismiss(t *testing.T) {
	p, clk := newTestPresenter(nil)
	ctx := context.Background()

	if err := p.Present(ctx, "c1", callstate.Metadata{callstate.KeyCallerName: "Alice"}); err != nil {
		t.Fatalf("present: %v", err)
	}
	if !p.IsActive("c1") {
		t.Fatalf("expected c1 active")
	}
	if err := p.Dismiss(ctx, "c1"); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	if p.IsActive("c1") {
		t.Fatalf("expected c1 dismissed")
	}
	if !clk.last().stopped {
		t.Fatalf("expected ring timer stopped")
	}
	if err := p.Dismiss(ctx, "c1"); err != nil {
		t.Fatalf("second dismiss should be a no-op: %v", err)
	}
}

func TestPresenter_TimeoutCallsHook(t *testing.T) {
	var (
		mu      sync.Mutex
		expired []string
		source  callstate.Source
	)
	p, clk := newTestPresenter(func(ctx context.Context, callID string) {
		mu.Lock()
		defer mu.Unlock()
		expired = append(expired, callID)
		source = callstate.SourceFrom(ctx)
	})

	_ = p.Present(context.Background(), "c1", nil)
	clk.last().fire()

	if p.IsActive("c1") {
		t.Fatalf("expected c1 removed on timeout")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(expired) != 1 || expired[0] != "c1" {
		t.Fatalf("expected timeout hook for c1, got %v", expired)
	}
	if source != callstate.SourcePresenter {
		t.Fatalf("expected presenter source, got %q", source)
	}
}

func TestPresenter_ReplacedPresentationIgnoresStaleTimer(t *testing.T) {
	calls := 0
	p, clk := newTestPresenter(func(ctx context.Context, callID string) { calls++ })

	_ = p.Present(context.Background(), "c1", nil)
	first := clk.last()
	_ = p.Present(context.Background(), "c1", nil)

	// Force the stale callback through even though it was stopped.
	first.fn()
	if calls != 0 || !p.IsActive("c1") {
		t.Fatalf("stale timer must not expire the new presentation")
	}
}

func TestPresenter_TimeoutEndsCallInRegistry(t *testing.T) {
	p, clk := newTestPresenter(nil)
	reg, err := callstate.NewRegistry(callstate.NewMemoryStore(), callstate.WithPresenter(p))
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	done := make(chan error, 1)
	p.SetOnTimeout(func(ctx context.Context, callID string) {
		ended, err := reg.ExpireRinging(ctx, callID)
		if err == nil && !ended {
			err = errors.New("pending call was not ended")
		}
		done <- err
	})

	ctx := context.Background()
	if _, err := reg.RegisterIncomingCall(ctx, "c1", callstate.Metadata{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	go clk.last().fire()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expire ringing: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout hook did not run")
	}
	if st, _ := reg.State(ctx, "c1"); st != callstate.StateRejected {
		t.Fatalf("expected rejected, got %q", st)
	}
	if p.IsActive("c1") {
		t.Fatalf("expected no active presentation")
	}
}

func TestPresenter_TimeoutKeepsReconciledState(t *testing.T) {
	p, clk := newTestPresenter(nil)
	events := &eventLog{}
	reg, err := callstate.NewRegistry(callstate.NewMemoryStore(),
		callstate.WithPresenter(p),
		callstate.WithNotifier(events),
	)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	type result struct {
		ended bool
		err   error
	}
	done := make(chan result, 1)
	p.SetOnTimeout(func(ctx context.Context, callID string) {
		ended, err := reg.ExpireRinging(ctx, callID)
		done <- result{ended, err}
	})

	ctx := context.Background()
	if _, err := reg.RegisterIncomingCall(ctx, "c1", callstate.Metadata{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	// SetState is silent, so the ring timer stays armed.
	if err := reg.SetState(ctx, "c1", callstate.StateAccepted); err != nil {
		t.Fatalf("set state: %v", err)
	}
	go clk.last().fire()

	select {
	case r := <-done:
		if r.err != nil || r.ended {
			t.Fatalf("expected no-op expiry, got ended=%v err=%v", r.ended, r.err)
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout hook did not run")
	}
	if st, _ := reg.State(ctx, "c1"); st != callstate.StateAccepted {
		t.Fatalf("accepted call was ended by ring timer: state=%q", st)
	}
	if n := events.count(callstate.EventCallEnded); n != 0 {
		t.Fatalf("expected no endCall events, got %d", n)
	}
}

func TestPresenter_TimeoutAfterRemovalIsNoop(t *testing.T) {
	p, clk := newTestPresenter(nil)
	reg, err := callstate.NewRegistry(callstate.NewMemoryStore(), callstate.WithPresenter(p))
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	done := make(chan error, 1)
	p.SetOnTimeout(func(ctx context.Context, callID string) {
		_, err := reg.ExpireRinging(ctx, callID)
		done <- err
	})

	ctx := context.Background()
	_, _ = reg.RegisterIncomingCall(ctx, "c1", callstate.Metadata{})
	if err := reg.SetState(ctx, "c1", callstate.StateUnknown); err != nil {
		t.Fatalf("set unknown: %v", err)
	}
	go clk.last().fire()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expire ringing on removed call: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout hook did not run")
	}
	if st, _ := reg.State(ctx, "c1"); st != callstate.StateUnknown {
		t.Fatalf("expected unknown, got %q", st)
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []callstate.Event
}

func (l *eventLog) Notify(e callstate.Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) count(kind callstate.EventKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func TestPresenter_SettingsAndLockScreen(t *testing.T) {
	p, _ := newTestPresenter(nil)
	p.UpdateSettings(Settings{Ringtone: "bell", Color: "#4CAF50"})
	if s := p.Settings(); s.Ringtone != "bell" || s.Color != "#4CAF50" {
		t.Fatalf("unexpected settings: %+v", s)
	}
	p.SetLockScreenVisibility(true)
	if !p.LockScreenVisible() {
		t.Fatalf("expected lock screen visible")
	}
}

func TestPresenter_CloseStopsTimers(t *testing.T) {
	p, clk := newTestPresenter(nil)
	_ = p.Present(context.Background(), "a", nil)
	_ = p.Present(context.Background(), "b", nil)
	p.Close()
	if len(p.Active()) != 0 {
		t.Fatalf("expected nothing active after close")
	}
	for _, tm := range clk.timers {
		if !tm.stopped {
			t.Fatalf("expected all timers stopped")
		}
	}
	_ = p.Present(context.Background(), "c", nil)
	if p.IsActive("c") {
		t.Fatalf("present after close should be ignored")
	}
}

func TestNew_DefaultsRingTimeout(t *testing.T) {
	p := New(Options{})
	if p.ringTimeout != DefaultRingTimeout {
		t.Fatalf("expected default ring timeout, got %v", p.ringTimeout)
	}
}
