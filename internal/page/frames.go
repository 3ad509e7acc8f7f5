package page

import (
	"sync"
	"time"
)

// FrameState records what the agent managed to do with an iframe during a
// picking session.
type FrameState string

const (
	// FrameShielded means a capture shield was mounted inside the frame.
	FrameShielded FrameState = "shielded"
	// FrameBlocked means the frame document is cross-origin and unreachable;
	// the top-level shield still covers its viewport area.
	FrameBlocked FrameState = "blocked"
)

// FrameRecord is one frame observed during the current session.
type FrameRecord struct {
	ID       string     `json:"id"`
	State    FrameState `json:"state"`
	SeenAt   time.Time  `json:"seen_at"`
	Detached bool       `json:"detached,omitempty"`
}

// FrameRegistry accumulates frame records for the running picker session.
// It is reset when a new session starts.
type FrameRegistry struct {
	mu     sync.Mutex
	frames map[string]*FrameRecord
}

func newFrameRegistry() *FrameRegistry {
	return &FrameRegistry{frames: make(map[string]*FrameRecord)}
}

// Mark records a frame sighting. Re-marking an existing frame updates its
// state; the first-seen timestamp is kept.
func (r *FrameRegistry) Mark(id string, state FrameState) {
	if id == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.frames[id]; ok {
		rec.State = state
		rec.Detached = false
		return
	}
	r.frames[id] = &FrameRecord{ID: id, State: state, SeenAt: time.Now()}
}

// Detach flags a frame whose shield was torn down because the frame
// reloaded or left the document.
func (r *FrameRegistry) Detach(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.frames[id]; ok {
		rec.Detached = true
	}
}

// Reset drops all records. Called at session start.
func (r *FrameRegistry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = make(map[string]*FrameRecord)
}

// Snapshot returns copies of the current records.
func (r *FrameRegistry) Snapshot() []FrameRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]FrameRecord, 0, len(r.frames))
	for _, rec := range r.frames {
		out = append(out, *rec)
	}
	return out
}

// Blocked reports how many frames could not be shielded.
func (r *FrameRegistry) Blocked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.frames {
		if rec.State == FrameBlocked {
			n++
		}
	}
	return n
}
