// Package page binds one browser page: it injects the in-page agent,
// listens on its binding channel, and exposes highlighting, tree
// inspection, and interactive picking on top of a Driver.
package page

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/dombind/domtree"
)

//go:embed agent.js
var agentSrc string

const (
	bindingName  = "__dombind_binding"
	agentVersion = 4
)

// bindingMsg is the JSON envelope the agent pushes through the window
// binding. Kind selects the consumer; the remaining fields are sparse.
type bindingMsg struct {
	Kind      string                 `json:"kind"`
	Event     string                 `json:"event,omitempty"`
	Reason    string                 `json:"reason,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Element   *domtree.PickedElement `json:"element,omitempty"`
	FrameID   string                 `json:"frame_id,omitempty"`
	State     string                 `json:"state,omitempty"`
	Href      string                 `json:"href,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
}

// Config tunes a Runtime. Zero values fall back to defaults.
type Config struct {
	// PageID labels this runtime in logs and registry lookups.
	PageID string
	// RootSelector is the default root for paths built by the agent.
	RootSelector string
	// EnsureInterval is how often the healer verifies the agent survived
	// navigations and re-injects it if not.
	EnsureInterval time.Duration
	// HighlightColor is the default channel color.
	HighlightColor string
	// HighlightMaxMatches caps elements painted per highlight call.
	HighlightMaxMatches int
	// PickerTimeout is the default session timeout before clamping.
	PickerTimeout time.Duration
	// OnNavigate, when set, is called with the new href after the agent
	// reports a same-document navigation.
	OnNavigate func(href string)
	Logger     *slog.Logger
}

func (c *Config) defaults() {
	if c.EnsureInterval <= 0 {
		c.EnsureInterval = 1500 * time.Millisecond
	}
	if c.HighlightColor == "" {
		c.HighlightColor = "#2f81f7"
	}
	if c.HighlightMaxMatches <= 0 {
		c.HighlightMaxMatches = 50
	}
	if c.PickerTimeout <= 0 {
		c.PickerTimeout = 15 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// PingResult is the agent's liveness reply.
type PingResult struct {
	TS   int64  `json:"ts"`
	Href string `json:"href"`
}

// Runtime is the per-page engine. Create with NewRuntime, then Start once;
// Highlight, Inspect, and Pick are usable after Start returns nil.
type Runtime struct {
	drv    Driver
	cfg    Config
	logger *slog.Logger

	Highlight *Highlighter
	Inspect   *Inspector
	Pick      *Picker
	Frames    *FrameRegistry

	mu      sync.Mutex
	started bool
	closed  bool
	stop    context.CancelFunc
}

func NewRuntime(drv Driver, cfg Config) *Runtime {
	cfg.defaults()
	logger := cfg.Logger.With("page", cfg.PageID)
	frames := newFrameRegistry()
	hl := newHighlighter(drv, cfg.HighlightColor, cfg.HighlightMaxMatches, logger)
	return &Runtime{
		drv:       drv,
		cfg:       cfg,
		logger:    logger,
		Highlight: hl,
		Inspect:   newInspector(drv, logger),
		Pick:      newPicker(drv, hl, frames, cfg.PickerTimeout, logger),
		Frames:    frames,
	}
}

// Start registers the binding, injects the agent, and launches the healer.
// Idempotent per runtime; a second call returns an error.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return fmt.Errorf("page: runtime already started")
	}
	r.started = true
	r.mu.Unlock()

	if err := r.drv.AddBinding(ctx, bindingName); err != nil {
		return fmt.Errorf("page: add binding: %w", err)
	}

	// The listener and the healer outlive the Start call; Dispose cancels
	// them. The listener must be up before the agent mounts so the mount
	// event is not lost.
	runCtx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.stop = cancel
	r.mu.Unlock()
	go r.drv.ListenBinding(runCtx, bindingName, r.dispatch)

	if err := r.inject(ctx); err != nil {
		cancel()
		return err
	}
	go r.healLoop(runCtx)

	r.logger.Info("page: runtime started", "ensure_interval", r.cfg.EnsureInterval)
	return nil
}

// inject evaluates the agent source and configures the default root.
// Safe to call on a page that already carries a live agent.
func (r *Runtime) inject(ctx context.Context) error {
	if err := r.drv.Inject(ctx, agentSrc); err != nil {
		return fmt.Errorf("page: inject agent: %w", err)
	}
	if r.cfg.RootSelector != "" {
		if _, err := r.drv.Eval(ctx,
			`(sel) => window.__dombind.setDefaultRoot(sel)`, r.cfg.RootSelector); err != nil {
			return fmt.Errorf("page: set default root: %w", err)
		}
	}
	return nil
}

// Ping round-trips through the agent and returns its timestamp and the
// page href. Fails when the agent is absent.
func (r *Runtime) Ping(ctx context.Context) (PingResult, error) {
	raw, err := r.drv.Eval(ctx, `() => window.__dombind.ping()`)
	if err != nil {
		return PingResult{}, fmt.Errorf("page: ping: %w", err)
	}
	var out PingResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return PingResult{}, fmt.Errorf("page: ping: decode: %w", err)
	}
	return out, nil
}

// URL returns the page's current location.
func (r *Runtime) URL(ctx context.Context) (string, error) {
	return r.drv.URL(ctx)
}

// Dispose stops the healer and cancels any live picker session. The
// in-page agent is left behind; it is inert without its Go side.
func (r *Runtime) Dispose(ctx context.Context) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	cancel := r.stop
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.Pick.Cancel(ctx)
	if err := r.Highlight.Clear(ctx, ""); err != nil {
		r.logger.Debug("page: dispose highlight clear failed", "error", err)
	}
	r.logger.Info("page: runtime disposed")
}

// dispatch routes one binding payload to its consumer. Malformed payloads
// are logged and dropped; the agent never retries.
func (r *Runtime) dispatch(payload string) {
	var msg bindingMsg
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		r.logger.Warn("page: bad binding payload", "error", err)
		return
	}

	switch msg.Kind {
	case "picker":
		r.Pick.handleEvent(msg)
	case "frame":
		switch FrameState(msg.State) {
		case FrameShielded:
			r.Frames.Mark(msg.FrameID, FrameShielded)
		case FrameBlocked:
			r.Frames.Mark(msg.FrameID, FrameBlocked)
			r.logger.Debug("page: cross-origin frame blocked", "frame", msg.FrameID)
		default:
			r.Frames.Detach(msg.FrameID)
		}
	case "navigate":
		r.logger.Debug("page: navigated", "href", msg.Href)
		if r.cfg.OnNavigate != nil {
			r.cfg.OnNavigate(msg.Href)
		}
	case "agent":
		// A fresh mount means a fresh document: whatever overlay channels
		// we believed existed are gone.
		r.Highlight.reset()
		r.logger.Debug("page: agent mounted", "href", msg.Href)
	default:
		r.logger.Warn("page: unknown binding kind", "kind", msg.Kind)
	}
}
