package push

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"callkit-bridge/internal/callstate"

	"github.com/gin-gonic/gin"
)

type tokenRecorder struct{ tokens []string }

func (r *tokenRecorder) PublishToken(token string) { r.tokens = append(r.tokens, token) }

type eventLog struct{ events []callstate.Event }

func (l *eventLog) Notify(e callstate.Event) { l.events = append(l.events, e) }

func newTestReceiver(t *testing.T) (*Receiver, *callstate.Registry, *eventLog, *tokenRecorder) {
	t.Helper()
	log := &eventLog{}
	reg, err := callstate.NewRegistry(callstate.NewMemoryStore(), callstate.WithNotifier(log))
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	tokens := &tokenRecorder{}
	rcv, err := NewReceiver(reg, tokens, nil)
	if err != nil {
		t.Fatalf("receiver: %v", err)
	}
	return rcv, reg, log, tokens
}

func TestReceiver_StartThenEnd(t *testing.T) {
	rcv, reg, log, _ := newTestReceiver(t)
	ctx := context.Background()

	_, res, err := rcv.HandleData(ctx, startData())
	if err != nil || res != ResultRegistered {
		t.Fatalf("expected registered, got %q %v", res, err)
	}
	_, res, err = rcv.HandleData(ctx, startData())
	if err != nil || res != ResultDuplicate {
		t.Fatalf("expected duplicate, got %q %v", res, err)
	}

	_, res, err = rcv.HandleData(ctx, map[string]string{"signal_type": "rejectCall", "session_id": "s1"})
	if err != nil || res != ResultEnded {
		t.Fatalf("expected ended, got %q %v", res, err)
	}
	if st, _ := reg.State(ctx, "s1"); st != callstate.StateRejected {
		t.Fatalf("expected rejected, got %q", st)
	}

	if len(log.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(log.events))
	}
	if log.events[1].Kind != callstate.EventCallEnded || log.events[1].Cause != callstate.CauseRemoteReject {
		t.Fatalf("unexpected end event: %+v", log.events[1])
	}
}

func TestReceiver_EndBeforeStartSuppressesRinging(t *testing.T) {
	rcv, reg, log, _ := newTestReceiver(t)
	ctx := context.Background()

	_, res, err := rcv.HandleData(ctx, map[string]string{"signal_type": "endCall", "session_id": "s1"})
	if err != nil || res != ResultTombstoned {
		t.Fatalf("expected tombstoned, got %q %v", res, err)
	}
	_, res, err = rcv.HandleData(ctx, startData())
	if err != nil || res != ResultDuplicate {
		t.Fatalf("late start must be ignored, got %q %v", res, err)
	}
	if st, _ := reg.State(ctx, "s1"); st != callstate.StateRejected {
		t.Fatalf("expected rejected, got %q", st)
	}
	if len(log.events) != 0 {
		t.Fatalf("expected no events, got %+v", log.events)
	}
}

func TestReceiver_TokenRefreshed(t *testing.T) {
	rcv, _, _, tokens := newTestReceiver(t)
	if err := rcv.TokenRefreshed(" tok-1 "); err != nil {
		t.Fatalf("token: %v", err)
	}
	if len(tokens.tokens) != 1 || tokens.tokens[0] != "tok-1" {
		t.Fatalf("unexpected tokens: %v", tokens.tokens)
	}
	if err := rcv.TokenRefreshed(""); err == nil {
		t.Fatalf("expected error for empty token")
	}
}

func TestNewReceiver_RequiresRegistry(t *testing.T) {
	if _, err := NewReceiver(nil, nil, nil); err == nil {
		t.Fatalf("expected error")
	}
}

func TestWebhook_Signal(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rcv, reg, _, _ := newTestReceiver(t)
	h := WebhookHandler{Receiver: rcv}

	r := gin.New()
	r.POST("/webhooks/push", h.HandleSignal)

	body, _ := json.Marshal(startData())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhooks/push", bytes.NewReader(body)))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["result"] != string(ResultRegistered) || resp["session_id"] != "s1" {
		t.Fatalf("unexpected response: %v", resp)
	}
	if st, _ := reg.State(context.Background(), "s1"); st != callstate.StatePending {
		t.Fatalf("expected pending, got %q", st)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhooks/push", bytes.NewReader([]byte(`{"signal_type":"startCall","session_id":"s2"}`))))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	if env.Error.Code != "invalid_argument" {
		t.Fatalf("unexpected error envelope: %s", w.Body.String())
	}
}

func TestWebhook_Token(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rcv, _, _, tokens := newTestReceiver(t)
	h := WebhookHandler{Receiver: rcv}

	r := gin.New()
	r.POST("/webhooks/push/token", h.HandleToken)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhooks/push/token", bytes.NewReader([]byte(`{"token":"abc"}`))))
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if len(tokens.tokens) != 1 || tokens.tokens[0] != "abc" {
		t.Fatalf("unexpected tokens: %v", tokens.tokens)
	}
}
