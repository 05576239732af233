package callstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Notifier receives registry events. Implementations must not block; Notify is
// called while the registry lock is held so that events for a call arrive in
// the order the transitions were applied.
type Notifier interface {
	Notify(e Event)
}

// Presenter shows and dismisses incoming-call UI.
type Presenter interface {
	Present(ctx context.Context, callID string, md Metadata) error
	Dismiss(ctx context.Context, callID string) error
}

// TransitionRecorder is told about every state write. Failures are logged and
// never fail the operation.
type TransitionRecorder interface {
	RecordTransition(ctx context.Context, t Transition) error
}

// Registry is the single source of truth for the lifecycle state of calls.
//
// Every operation runs under one mutex. Call signalling happens at human
// timescale, so a registry-wide lock costs nothing and keeps read-modify-write
// sequences and event order trivially consistent.
//
// Transitions are deliberately permissive: accepted and rejected can be left
// again through ReportAccepted, ReportEnded or SetState, because pushes and
// UI actions from several devices race and are redelivered out of order.
type Registry struct {
	mu     sync.Mutex
	closed bool

	store     Store
	notifiers []Notifier
	presenter Presenter
	recorder  TransitionRecorder

	log   *slog.Logger
	clock func() time.Time
}

type Option func(*Registry)

func WithNotifier(n Notifier) Option {
	return func(r *Registry) {
		if n != nil {
			r.notifiers = append(r.notifiers, n)
		}
	}
}

func WithPresenter(p Presenter) Option {
	return func(r *Registry) { r.presenter = p }
}

func WithRecorder(rec TransitionRecorder) Option {
	return func(r *Registry) { r.recorder = rec }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// WithClock is used by tests for deterministic timestamps.
func WithClock(fn func() time.Time) Option {
	return func(r *Registry) {
		if fn != nil {
			r.clock = fn
		}
	}
}

func NewRegistry(store Store, opts ...Option) (*Registry, error) {
	if store == nil {
		return nil, fmt.Errorf("callstate: store is required")
	}
	r := &Registry{
		store: store,
		log:   slog.Default(),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With("component", "callstate")
	return r, nil
}

// SetPresenter swaps the presenter after construction. main needs this because
// the presenter's timeout hook points back at the registry.
func (r *Registry) SetPresenter(p Presenter) {
	r.mu.Lock()
	r.presenter = p
	r.mu.Unlock()
}

// RegisterIncomingCall creates a pending record for callID if none exists.
// A second registration of the same id returns OutcomeIgnored and changes nothing,
// which is what keeps a retried push from ringing twice.
func (r *Registry) RegisterIncomingCall(ctx context.Context, callID string, md Metadata) (Outcome, error) {
	if err := validateCallID(callID); err != nil {
		return "", err
	}
	if err := md.validate(); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", ErrClosed
	}

	now := r.clock().UTC()
	created, err := r.store.Create(ctx, Record{
		CallID:    callID,
		State:     StatePending,
		Metadata:  md.Clone(),
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return "", fmt.Errorf("callstate: create %q: %w", callID, err)
	}
	if !created {
		r.log.Debug("duplicate incoming call ignored", "call_id", callID)
		return OutcomeIgnored, nil
	}

	r.log.Info("incoming call registered", "call_id", callID, "caller_name", md[KeyCallerName])
	r.recordLocked(ctx, Transition{CallID: callID, From: StateUnknown, To: StatePending, OccurredAt: now})
	if r.presenter != nil {
		if err := r.presenter.Present(ctx, callID, md.Clone()); err != nil {
			r.log.Warn("present call failed", "call_id", callID, "err", err)
		}
	}
	r.emitLocked(Event{Kind: EventIncomingCall, CallID: callID, Metadata: md.Clone(), OccurredAt: now})
	return OutcomeCreated, nil
}

// ReportAccepted moves an existing call to accepted, whatever its current state.
func (r *Registry) ReportAccepted(ctx context.Context, callID string) error {
	_, err := r.transition(ctx, callID, StateAccepted, "", "")
	return err
}

// ReportEnded moves an existing call to rejected. The cause travels with the
// event but does not change the resulting state.
func (r *Registry) ReportEnded(ctx context.Context, callID string, cause EndCause) error {
	if !cause.Valid() {
		return ErrInvalidArgument
	}
	_, err := r.transition(ctx, callID, StateRejected, cause, "")
	return err
}

// ExpireRinging ends callID with CauseTimeout only while it is still pending.
// It reports whether the call was ended. A call that was accepted, rejected
// or removed in the meantime is left untouched.
func (r *Registry) ExpireRinging(ctx context.Context, callID string) (bool, error) {
	ended, err := r.transition(ctx, callID, StateRejected, CauseTimeout, StatePending)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return ended, err
}

// transition writes the new state. A non-empty from makes the write
// conditional on the current state; a mismatch returns false and no error.
func (r *Registry) transition(ctx context.Context, callID string, to CallState, cause EndCause, from CallState) (bool, error) {
	if err := validateCallID(callID); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false, ErrClosed
	}

	rec, ok, err := r.store.Get(ctx, callID)
	if err != nil {
		return false, fmt.Errorf("callstate: get %q: %w", callID, err)
	}
	if !ok {
		return false, ErrNotFound
	}
	if from != "" && rec.State != from {
		r.log.Debug("conditional transition skipped", "call_id", callID, "state", rec.State, "want", from, "to", to)
		return false, nil
	}

	now := r.clock().UTC()
	if err := r.store.PutState(ctx, callID, to, now); err != nil {
		return false, fmt.Errorf("callstate: put state %q: %w", callID, err)
	}

	r.log.Info("call state changed", "call_id", callID, "from", rec.State, "to", to, "cause", cause)
	r.recordLocked(ctx, Transition{CallID: callID, From: rec.State, To: to, Cause: cause, OccurredAt: now})
	if r.presenter != nil {
		if err := r.presenter.Dismiss(ctx, callID); err != nil {
			r.log.Warn("dismiss call failed", "call_id", callID, "err", err)
		}
	}

	kind := EventCallAccepted
	if to == StateRejected {
		kind = EventCallEnded
	}
	r.emitLocked(Event{Kind: kind, CallID: callID, Metadata: rec.Metadata, Cause: cause, OccurredAt: now})
	return true, nil
}

// State returns StateUnknown when callID has no record.
func (r *Registry) State(ctx context.Context, callID string) (CallState, error) {
	if err := validateCallID(callID); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok, err := r.store.Get(ctx, callID)
	if err != nil {
		return "", fmt.Errorf("callstate: get %q: %w", callID, err)
	}
	if !ok {
		return StateUnknown, nil
	}
	return rec.State, nil
}

// SetState overwrites the state of callID without events or presenter calls.
// Applications use it to reconcile with server-side call status. A missing
// record is created bare. Setting StateUnknown removes the record, since
// unknown is never stored.
func (r *Registry) SetState(ctx context.Context, callID string, state CallState) error {
	if err := validateCallID(callID); err != nil {
		return err
	}
	if !state.Valid() {
		return ErrInvalidArgument
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	rec, ok, err := r.store.Get(ctx, callID)
	if err != nil {
		return fmt.Errorf("callstate: get %q: %w", callID, err)
	}
	from := StateUnknown
	if ok {
		from = rec.State
	}

	now := r.clock().UTC()
	if state == StateUnknown {
		if err := r.store.Delete(ctx, callID); err != nil {
			return fmt.Errorf("callstate: delete %q: %w", callID, err)
		}
	} else if err := r.store.PutState(ctx, callID, state, now); err != nil {
		return fmt.Errorf("callstate: put state %q: %w", callID, err)
	}

	r.log.Debug("call state overwritten", "call_id", callID, "from", from, "to", state)
	r.recordLocked(ctx, Transition{CallID: callID, From: from, To: state, Silent: true, OccurredAt: now})
	return nil
}

// Metadata returns a copy of the metadata captured at registration.
func (r *Registry) Metadata(ctx context.Context, callID string) (Metadata, bool, error) {
	if err := validateCallID(callID); err != nil {
		return nil, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok, err := r.store.Get(ctx, callID)
	if err != nil {
		return nil, false, fmt.Errorf("callstate: get %q: %w", callID, err)
	}
	if !ok || len(rec.Metadata) == 0 {
		return nil, false, nil
	}
	return rec.Metadata.Clone(), true, nil
}

// Clear forgets callID entirely. Its state reads as unknown afterwards.
func (r *Registry) Clear(ctx context.Context, callID string) error {
	if err := validateCallID(callID); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if err := r.store.Delete(ctx, callID); err != nil {
		return fmt.Errorf("callstate: delete %q: %w", callID, err)
	}
	r.log.Debug("call data cleared", "call_id", callID)
	return nil
}

// LastCallID returns the id of the most recently registered incoming call.
func (r *Registry) LastCallID(ctx context.Context) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok, err := r.store.LastCallID(ctx)
	if err != nil {
		return "", false, fmt.Errorf("callstate: last call id: %w", err)
	}
	return id, ok, nil
}

func (r *Registry) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}

// Close detaches collaborators. Mutations after Close return ErrClosed; reads
// still reach the store.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.notifiers = nil
	r.presenter = nil
	r.recorder = nil
}

func (r *Registry) emitLocked(e Event) {
	for _, n := range r.notifiers {
		n.Notify(e)
	}
}

func (r *Registry) recordLocked(ctx context.Context, t Transition) {
	if r.recorder == nil {
		return
	}
	t.Source = SourceFrom(ctx)
	if err := r.recorder.RecordTransition(ctx, t); err != nil {
		r.log.Warn("record transition failed", "call_id", t.CallID, "err", err)
	}
}

type ctxKey struct{}

// WithSource tags ctx with the origin of the operations performed under it.
func WithSource(ctx context.Context, src Source) context.Context {
	return context.WithValue(ctx, ctxKey{}, src)
}

// SourceFrom defaults to SourceBridge.
func SourceFrom(ctx context.Context) Source {
	if s, ok := ctx.Value(ctxKey{}).(Source); ok && s != "" {
		return s
	}
	return SourceBridge
}
