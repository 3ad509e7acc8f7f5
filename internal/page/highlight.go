package page

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/dombind/dompath"
)

// hoverChannel is the reserved channel the picker paints hovered elements
// on. Must match the agent.
const hoverChannel = "__picker_hover"

// HighlightOptions tunes one highlight call. Zero values fall back to the
// runtime defaults.
type HighlightOptions struct {
	// Channel names the overlay group. Re-highlighting a channel replaces
	// its previous content. Empty means "default".
	Channel string `json:"channel,omitempty"`
	// Color is a CSS color for the boxes.
	Color string `json:"color,omitempty"`
	// MaxMatches truncates how many elements get boxes.
	MaxMatches int `json:"max_matches,omitempty"`
	// RootSelector scopes selector resolution.
	RootSelector string `json:"root_selector,omitempty"`
	// Sticky channels persist until cleared explicitly.
	Sticky bool `json:"sticky,omitempty"`
	// Duration auto-clears a non-sticky channel after it elapses.
	Duration time.Duration `json:"duration,omitempty"`
}

// ChannelState is the Go-side bookkeeping for one live channel.
type ChannelState struct {
	Count  int  `json:"count"`
	Sticky bool `json:"sticky"`
}

// Highlighter drives the agent's overlay layer and mirrors its channel
// state so collaborators can ask what is currently highlighted without a
// page round-trip.
type Highlighter struct {
	drv    Driver
	logger *slog.Logger

	defaultColor string
	maxMatches   int

	mu       sync.Mutex
	channels map[string]*channelEntry
}

type channelEntry struct {
	state ChannelState
	timer *time.Timer
}

func newHighlighter(drv Driver, color string, maxMatches int, logger *slog.Logger) *Highlighter {
	if color == "" {
		color = "#2f81f7"
	}
	if maxMatches <= 0 {
		maxMatches = 50
	}
	return &Highlighter{
		drv:          drv,
		logger:       logger,
		defaultColor: color,
		maxMatches:   maxMatches,
		channels:     make(map[string]*channelEntry),
	}
}

func (h *Highlighter) fill(opts *HighlightOptions) {
	if opts.Channel == "" {
		opts.Channel = "default"
	}
	if opts.Color == "" {
		opts.Color = h.defaultColor
	}
	if opts.MaxMatches <= 0 {
		opts.MaxMatches = h.maxMatches
	}
}

// HighlightSelector resolves a CSS selector (root-scoped first, then
// document-wide) and highlights the matches. Zero matches clears the
// channel and returns 0 without error.
func (h *Highlighter) HighlightSelector(ctx context.Context, selector string, opts HighlightOptions) (int, error) {
	h.fill(&opts)
	raw, err := h.drv.Eval(ctx,
		`(sel, opts) => window.__dombind.highlightSelector(sel, opts)`,
		selector, opts)
	if err != nil {
		return 0, fmt.Errorf("page: highlight selector: %w", err)
	}
	return h.record(raw, opts)
}

// HighlightElements highlights the nodes addressed by the given paths.
// Paths that no longer resolve are skipped.
func (h *Highlighter) HighlightElements(ctx context.Context, paths []dompath.Path, opts HighlightOptions) (int, error) {
	h.fill(&opts)
	raw, err := h.drv.Eval(ctx,
		`(paths, opts) => window.__dombind.highlightElements(paths, opts)`,
		paths, opts)
	if err != nil {
		return 0, fmt.Errorf("page: highlight elements: %w", err)
	}
	return h.record(raw, opts)
}

func (h *Highlighter) record(raw json.RawMessage, opts HighlightOptions) (int, error) {
	var count int
	if err := json.Unmarshal(raw, &count); err != nil {
		return 0, fmt.Errorf("page: highlight count: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.dropLocked(opts.Channel)
	if count == 0 {
		return 0, nil
	}

	entry := &channelEntry{state: ChannelState{Count: count, Sticky: opts.Sticky}}
	if !opts.Sticky && opts.Duration > 0 {
		ch := opts.Channel
		entry.timer = time.AfterFunc(opts.Duration, func() {
			// Detached context: the auto-clear fires after the caller's
			// request is long gone.
			if err := h.Clear(context.Background(), ch); err != nil {
				h.logger.Debug("page: auto-clear failed", "channel", ch, "error", err)
			}
		})
	}
	h.channels[opts.Channel] = entry
	return count, nil
}

// Clear removes one channel's boxes, or every channel when name is empty.
func (h *Highlighter) Clear(ctx context.Context, channel string) error {
	h.mu.Lock()
	if channel == "" {
		for name := range h.channels {
			h.dropLocked(name)
		}
	} else {
		h.dropLocked(channel)
	}
	h.mu.Unlock()

	var err error
	if channel == "" {
		_, err = h.drv.Eval(ctx, `() => window.__dombind.clearHighlights()`)
	} else {
		_, err = h.drv.Eval(ctx, `(ch) => window.__dombind.clearHighlights(ch)`, channel)
	}
	if err != nil {
		return fmt.Errorf("page: clear highlights: %w", err)
	}
	return nil
}

// dropLocked cancels a channel's timer and forgets it. Caller holds mu.
func (h *Highlighter) dropLocked(channel string) {
	if entry, ok := h.channels[channel]; ok {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		delete(h.channels, channel)
	}
}

// Channels returns a snapshot of the live channel bookkeeping.
func (h *Highlighter) Channels() map[string]ChannelState {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]ChannelState, len(h.channels))
	for name, entry := range h.channels {
		out[name] = entry.state
	}
	return out
}

// reset forgets all bookkeeping without touching the page. Used when the
// agent is re-injected after navigation (the overlay died with the old
// document).
func (h *Highlighter) reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for name := range h.channels {
		h.dropLocked(name)
	}
}
