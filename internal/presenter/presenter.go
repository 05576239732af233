// Package presenter tracks which calls currently have incoming-call UI on
// screen and ends calls that ring for too long. Rendering itself happens on
// the device; this side only keeps the bookkeeping and the ring timer.
package presenter

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"callkit-bridge/internal/callstate"
)

// DefaultRingTimeout matches the timeout mobile notifications use.
const DefaultRingTimeout = 60 * time.Second

// Settings are the UI knobs applications push through updateConfig.
type Settings struct {
	Ringtone         string `json:"ringtone,omitempty" yaml:"ringtone"`
	Icon             string `json:"icon,omitempty" yaml:"icon"`
	NotificationIcon string `json:"notification_icon,omitempty" yaml:"notification_icon"`
	Color            string `json:"color,omitempty" yaml:"color"`
}

type stopper interface{ Stop() bool }

type Options struct {
	RingTimeout time.Duration

	// OnTimeout runs on its own goroutine when a call rings past RingTimeout.
	OnTimeout func(ctx context.Context, callID string)

	Logger *slog.Logger

	// afterFunc is swapped by tests.
	afterFunc func(d time.Duration, f func()) stopper
}

type presentation struct {
	md    callstate.Metadata
	since time.Time
	timer stopper
}

// Presenter implements callstate.Presenter.
type Presenter struct {
	log         *slog.Logger
	ringTimeout time.Duration
	onTimeout   func(ctx context.Context, callID string)
	afterFunc   func(d time.Duration, f func()) stopper

	mu                sync.Mutex
	active            map[string]*presentation
	settings          Settings
	lockScreenVisible bool
	closed            bool
}

func New(opts Options) *Presenter {
	p := &Presenter{
		log:         opts.Logger,
		ringTimeout: opts.RingTimeout,
		onTimeout:   opts.OnTimeout,
		afterFunc:   opts.afterFunc,
		active:      make(map[string]*presentation),
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	p.log = p.log.With("component", "presenter")
	if p.ringTimeout <= 0 {
		p.ringTimeout = DefaultRingTimeout
	}
	if p.afterFunc == nil {
		p.afterFunc = func(d time.Duration, f func()) stopper { return time.AfterFunc(d, f) }
	}
	return p
}

// SetOnTimeout installs the timeout hook after construction.
func (p *Presenter) SetOnTimeout(fn func(ctx context.Context, callID string)) {
	p.mu.Lock()
	p.onTimeout = fn
	p.mu.Unlock()
}

func (p *Presenter) Present(ctx context.Context, callID string, md callstate.Metadata) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	if prev, ok := p.active[callID]; ok {
		prev.timer.Stop()
	}

	pr := &presentation{md: md.Clone(), since: time.Now()}
	pr.timer = p.afterFunc(p.ringTimeout, func() { p.expire(callID, pr) })
	p.active[callID] = pr

	p.log.Info("call ui presented",
		"call_id", callID,
		"caller_name", md[callstate.KeyCallerName],
		"call_type", md[callstate.KeyCallType],
		"ringtone", p.settings.Ringtone,
		"lock_screen", p.lockScreenVisible,
	)
	return nil
}

// Dismiss removes the call UI. Dismissing a call that is not shown is a no-op.
// It never waits for a timer callback, so it is safe to call with the
// registry lock held.
func (p *Presenter) Dismiss(ctx context.Context, callID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pr, ok := p.active[callID]
	if !ok {
		return nil
	}
	pr.timer.Stop()
	delete(p.active, callID)
	p.log.Info("call ui dismissed", "call_id", callID, "shown_for", time.Since(pr.since).Round(time.Millisecond))
	return nil
}

func (p *Presenter) expire(callID string, pr *presentation) {
	p.mu.Lock()
	cur, ok := p.active[callID]
	if !ok || cur != pr {
		// Dismissed or replaced while the timer was firing.
		p.mu.Unlock()
		return
	}
	delete(p.active, callID)
	hook := p.onTimeout
	p.mu.Unlock()

	p.log.Info("call rang out", "call_id", callID, "timeout", p.ringTimeout)
	if hook != nil {
		hook(callstate.WithSource(context.Background(), callstate.SourcePresenter), callID)
	}
}

// IsActive reports whether callID currently has UI shown.
func (p *Presenter) IsActive(callID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.active[callID]
	return ok
}

// Active lists the calls with UI shown, sorted.
func (p *Presenter) Active() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.active))
	for id := range p.active {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (p *Presenter) UpdateSettings(s Settings) {
	p.mu.Lock()
	p.settings = s
	p.mu.Unlock()
	p.log.Debug("presenter settings updated", "ringtone", s.Ringtone, "icon", s.Icon, "color", s.Color)
}

func (p *Presenter) Settings() Settings {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settings
}

func (p *Presenter) SetLockScreenVisibility(visible bool) {
	p.mu.Lock()
	p.lockScreenVisible = visible
	p.mu.Unlock()
}

func (p *Presenter) LockScreenVisible() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lockScreenVisible
}

// Close stops every ring timer. Calls still shown stay in their current
// registry state.
func (p *Presenter) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for id, pr := range p.active {
		pr.timer.Stop()
		delete(p.active, id)
	}
}
