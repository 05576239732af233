package events

import (
	"testing"
	"time"

	"callkit-bridge/internal/callstate"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed")
		}
		return e
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return Event{}
}

func TestHub_NotifyMapsRegistryEvents(t *testing.T) {
	h := NewHub(8, nil)
	ch, cancel := h.Subscribe()
	defer cancel()

	h.Notify(callstate.Event{Kind: callstate.EventIncomingCall, CallID: "c1", Metadata: callstate.Metadata{callstate.KeyCallerName: "Alice"}})
	h.Notify(callstate.Event{Kind: callstate.EventCallAccepted, CallID: "c1"})
	h.Notify(callstate.Event{Kind: callstate.EventCallEnded, CallID: "c1", Cause: callstate.CauseRemoteReject})

	e := receive(t, ch)
	if e.Name != NameIncomingCall || e.Args["session_id"] != "c1" || e.Args["caller_name"] != "Alice" {
		t.Fatalf("unexpected incoming event: %+v", e)
	}
	if e := receive(t, ch); e.Name != NameAnswerCall {
		t.Fatalf("expected answerCall, got %+v", e)
	}
	e = receive(t, ch)
	if e.Name != NameEndCall || e.Args["cause"] != "remote_reject" {
		t.Fatalf("unexpected end event: %+v", e)
	}
}

func TestHub_FullSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(1, nil)
	slow, cancel := h.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			h.Publish(Event{Name: NameEndCall})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked on a full subscriber")
	}
	if len(slow) != 1 {
		t.Fatalf("expected one buffered event, got %d", len(slow))
	}
}

func TestHub_TokenReplayedToNewSubscribers(t *testing.T) {
	h := NewHub(4, nil)
	h.PublishToken("tok-1")

	ch, cancel := h.Subscribe()
	defer cancel()

	e := receive(t, ch)
	if e.Name != NameVoipToken || e.Args["voipToken"] != "tok-1" {
		t.Fatalf("unexpected token event: %+v", e)
	}
	if tok, ok := h.Token(); !ok || tok != "tok-1" {
		t.Fatalf("expected stored token, got %q", tok)
	}
}

func TestHub_CancelAndClose(t *testing.T) {
	h := NewHub(4, nil)
	ch, cancel := h.Subscribe()
	if h.Subscribers() != 1 {
		t.Fatalf("expected 1 subscriber")
	}
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel after cancel")
	}
	if h.Subscribers() != 0 {
		t.Fatalf("expected 0 subscribers")
	}

	ch2, cancel2 := h.Subscribe()
	defer cancel2()
	h.Close()
	if _, ok := <-ch2; ok {
		t.Fatalf("expected closed channel after hub close")
	}

	ch3, _ := h.Subscribe()
	if _, ok := <-ch3; ok {
		t.Fatalf("expected subscribe on closed hub to return closed channel")
	}
	h.Publish(Event{Name: NameEndCall})
}
