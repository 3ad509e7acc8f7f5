package page

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/dombind/domtree"
	"github.com/hazyhaar/dombind/idgen"
)

// Phase is the lifecycle state of a picker session. idle and hovering are
// live; the rest are terminal.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseHovering  Phase = "hovering"
	PhaseSelected  Phase = "selected"
	PhaseCancelled Phase = "cancelled"
	PhaseTimeout   Phase = "timeout"
	PhaseError     Phase = "error"
)

// Terminal reports whether the phase ends a session.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseSelected, PhaseCancelled, PhaseTimeout, PhaseError:
		return true
	}
	return false
}

// Session timeout bounds. Requested timeouts are clamped, never rejected.
const (
	MinPickTimeout = 1 * time.Second
	MaxPickTimeout = 60 * time.Second
)

// PickOptions configures a session.
type PickOptions struct {
	// Mode is an opaque label for the collaborator ("element", "container").
	Mode string `json:"mode,omitempty"`
	// Timeout bounds the session; clamped to [MinPickTimeout, MaxPickTimeout].
	Timeout time.Duration `json:"timeout,omitempty"`
	// RootSelector scopes path building for picked elements.
	RootSelector string `json:"root_selector,omitempty"`
}

// Session is a read-only snapshot of a picker session. Hovered and Result
// are deep copies; mutating them cannot touch the live session.
type Session struct {
	ID           string                 `json:"id"`
	Phase        Phase                  `json:"phase"`
	Mode         string                 `json:"mode,omitempty"`
	RootSelector string                 `json:"root_selector,omitempty"`
	StartedAt    time.Time              `json:"started_at"`
	Timeout      time.Duration          `json:"timeout"`
	Hovered      *domtree.PickedElement `json:"hovered,omitempty"`
	Result       *domtree.PickedElement `json:"result,omitempty"`
	Error        string                 `json:"error,omitempty"`
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Hovered = cloneElement(s.Hovered)
	out.Result = cloneElement(s.Result)
	return &out
}

func cloneElement(e *domtree.PickedElement) *domtree.PickedElement {
	if e == nil {
		return nil
	}
	out := *e
	if e.Classes != nil {
		out.Classes = append([]string(nil), e.Classes...)
	}
	if e.Rect != nil {
		r := *e.Rect
		out.Rect = &r
	}
	return &out
}

var sessionID = idgen.Prefixed("sess_", idgen.NanoID(12))

// Picker owns the interactive picking state machine for one page. At most
// one session is live at a time; starting a new one force-stops the old
// one with a cancelled terminal phase.
type Picker struct {
	drv    Driver
	hl     *Highlighter
	frames *FrameRegistry
	logger *slog.Logger

	defaultTimeout time.Duration

	mu    sync.Mutex
	cur   *Session
	timer *time.Timer
	last  *Session
}

func newPicker(drv Driver, hl *Highlighter, frames *FrameRegistry, defaultTimeout time.Duration, logger *slog.Logger) *Picker {
	if defaultTimeout <= 0 {
		defaultTimeout = 15 * time.Second
	}
	return &Picker{
		drv:            drv,
		hl:             hl,
		frames:         frames,
		logger:         logger,
		defaultTimeout: defaultTimeout,
	}
}

func clampTimeout(d time.Duration) time.Duration {
	if d < MinPickTimeout {
		return MinPickTimeout
	}
	if d > MaxPickTimeout {
		return MaxPickTimeout
	}
	return d
}

// StartSession begins a new picking session. Any live session is finalized
// as cancelled first; the new session is hovering when this returns nil.
func (p *Picker) StartSession(ctx context.Context, opts PickOptions) (*Session, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = p.defaultTimeout
	}
	opts.Timeout = clampTimeout(opts.Timeout)

	p.mu.Lock()
	if p.cur != nil {
		p.finalizeLocked(ctx, PhaseCancelled, nil, "")
	}

	sess := &Session{
		ID:           sessionID(),
		Phase:        PhaseHovering,
		Mode:         opts.Mode,
		RootSelector: opts.RootSelector,
		StartedAt:    time.Now(),
		Timeout:      opts.Timeout,
	}
	p.cur = sess
	p.frames.Reset()
	id := sess.ID
	p.timer = time.AfterFunc(opts.Timeout, func() { p.expire(id) })
	p.mu.Unlock()

	_, err := p.drv.Eval(ctx,
		`(opts) => window.__dombind.pickerStart(opts)`,
		map[string]string{"root_selector": opts.RootSelector, "session_id": sess.ID})
	if err != nil {
		p.mu.Lock()
		if p.cur != nil && p.cur.ID == id {
			p.finalizeLocked(ctx, PhaseError, nil, fmt.Sprintf("install shield: %v", err))
		}
		p.mu.Unlock()
		return nil, fmt.Errorf("page: start picker: %w", err)
	}

	p.logger.Info("picker: session started",
		"session", sess.ID, "mode", opts.Mode, "timeout", opts.Timeout)
	return sess.clone(), nil
}

// Cancel finalizes the live session as cancelled. No-op when idle.
func (p *Picker) Cancel(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur != nil {
		p.finalizeLocked(ctx, PhaseCancelled, nil, "")
	}
}

// Abort finalizes the live session as an error. Used when the page
// navigated away underneath an active session.
func (p *Picker) Abort(ctx context.Context, msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur != nil {
		p.finalizeLocked(ctx, PhaseError, nil, msg)
	}
}

// State returns the live session snapshot, or the last terminal one, or an
// idle placeholder. Always safe to call.
func (p *Picker) State() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur != nil {
		return p.cur.clone()
	}
	if p.last != nil {
		return p.last.clone()
	}
	return &Session{Phase: PhaseIdle}
}

// LastState returns the snapshot of the most recently finalized session,
// or nil when no session has finished yet.
func (p *Picker) LastState() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last.clone()
}

// Active reports whether a session is live.
func (p *Picker) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cur != nil
}

// expire is the timeout timer callback.
func (p *Picker) expire(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur == nil || p.cur.ID != id {
		return
	}
	p.finalizeLocked(context.Background(), PhaseTimeout, nil, "")
}

// handleEvent processes a picker message from the agent.
func (p *Picker) handleEvent(ev bindingMsg) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur == nil {
		return
	}
	// Events carry the session id they were emitted under. A cancel fired
	// while force-stopping the previous session must not touch this one.
	if ev.SessionID != "" && ev.SessionID != p.cur.ID {
		return
	}

	switch ev.Event {
	case "hover":
		p.cur.Hovered = cloneElement(ev.Element)
	case "commit":
		if ev.Error != "" || ev.Element == nil {
			msg := ev.Error
			if msg == "" {
				msg = "no element resolvable at point"
			}
			p.finalizeLocked(context.Background(), PhaseError, nil, msg)
			return
		}
		p.finalizeLocked(context.Background(), PhaseSelected, ev.Element, "")
	case "cancel":
		p.finalizeLocked(context.Background(), PhaseCancelled, nil, "")
	}
}

// finalizeLocked moves the live session to a terminal phase: stop the
// timer, tear down the in-page shield, clear the hover channel, and retain
// the snapshot for LastState. Caller holds mu.
func (p *Picker) finalizeLocked(ctx context.Context, phase Phase, result *domtree.PickedElement, errMsg string) {
	sess := p.cur
	if sess == nil {
		return
	}
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}

	sess.Phase = phase
	sess.Result = cloneElement(result)
	sess.Error = errMsg

	// Best-effort in-page teardown. The agent's pickerStop is idempotent,
	// so a shield already removed by the page side is fine.
	if _, err := p.drv.Eval(ctx, `() => window.__dombind.pickerStop('finalize')`); err != nil {
		p.logger.Debug("picker: stop eval failed", "error", err)
	}
	if err := p.hl.Clear(ctx, hoverChannel); err != nil {
		p.logger.Debug("picker: hover clear failed", "error", err)
	}

	p.last = sess.clone()
	p.cur = nil

	p.logger.Info("picker: session finalized",
		"session", sess.ID, "phase", phase, "error", errMsg)
}
