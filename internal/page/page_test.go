package page

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/dombind/dompath"
	"github.com/hazyhaar/dombind/domtree"
)

// fakeDriver records every eval and lets tests script the results.
type fakeDriver struct {
	mu       sync.Mutex
	evals    []string
	injected int
	bindings []string
	href     string
	evalFn   func(js string, args ...any) (json.RawMessage, error)
}

func (d *fakeDriver) Eval(_ context.Context, js string, args ...any) (json.RawMessage, error) {
	d.mu.Lock()
	d.evals = append(d.evals, js)
	fn := d.evalFn
	d.mu.Unlock()
	if fn != nil {
		return fn(js, args...)
	}
	return json.RawMessage(`null`), nil
}

func (d *fakeDriver) Inject(context.Context, string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.injected++
	return nil
}

func (d *fakeDriver) AddBinding(_ context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bindings = append(d.bindings, name)
	return nil
}

func (d *fakeDriver) ListenBinding(ctx context.Context, _ string, _ func(string)) {
	<-ctx.Done()
}

func (d *fakeDriver) URL(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.href, nil
}

func (d *fakeDriver) evalCount(substr string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, js := range d.evals {
		if strings.Contains(js, substr) {
			n++
		}
	}
	return n
}

func (d *fakeDriver) injectCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.injected
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRuntime(drv *fakeDriver) *Runtime {
	return NewRuntime(drv, Config{
		PageID: "p1",
		// Long enough that the healer never fires during a test.
		EnsureInterval: time.Hour,
		Logger:         testLogger(),
	})
}

// --------------------------------------------------------------- highlight

func countEval(n int) func(string, ...any) (json.RawMessage, error) {
	return func(js string, _ ...any) (json.RawMessage, error) {
		if strings.Contains(js, "highlight") {
			return json.RawMessage(fmt.Sprintf("%d", n)), nil
		}
		return json.RawMessage(`null`), nil
	}
}

func TestHighlighter_SelectorTracksChannel(t *testing.T) {
	drv := &fakeDriver{evalFn: countEval(3)}
	h := newHighlighter(drv, "", 0, testLogger())

	n, err := h.HighlightSelector(context.Background(), ".item", HighlightOptions{Sticky: true})
	if err != nil {
		t.Fatalf("HighlightSelector: %v", err)
	}
	if n != 3 {
		t.Fatalf("count = %d, want 3", n)
	}

	chans := h.Channels()
	st, ok := chans["default"]
	if !ok {
		t.Fatalf("default channel missing: %v", chans)
	}
	if st.Count != 3 || !st.Sticky {
		t.Fatalf("channel state = %+v", st)
	}
}

func TestHighlighter_ZeroMatchesClearsChannel(t *testing.T) {
	drv := &fakeDriver{evalFn: countEval(2)}
	h := newHighlighter(drv, "", 0, testLogger())

	if _, err := h.HighlightSelector(context.Background(), ".a", HighlightOptions{Channel: "c", Sticky: true}); err != nil {
		t.Fatal(err)
	}
	if len(h.Channels()) != 1 {
		t.Fatalf("want 1 channel, got %v", h.Channels())
	}

	drv.mu.Lock()
	drv.evalFn = countEval(0)
	drv.mu.Unlock()

	n, err := h.HighlightSelector(context.Background(), ".gone", HighlightOptions{Channel: "c"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("count = %d, want 0", n)
	}
	if len(h.Channels()) != 0 {
		t.Fatalf("channel should be dropped on zero matches: %v", h.Channels())
	}
}

func TestHighlighter_RehighlightReplaces(t *testing.T) {
	drv := &fakeDriver{evalFn: countEval(5)}
	h := newHighlighter(drv, "", 0, testLogger())

	ctx := context.Background()
	if _, err := h.HighlightSelector(ctx, ".a", HighlightOptions{Channel: "x", Sticky: true}); err != nil {
		t.Fatal(err)
	}
	drv.mu.Lock()
	drv.evalFn = countEval(1)
	drv.mu.Unlock()
	if _, err := h.HighlightElements(ctx, []dompath.Path{dompath.Root()}, HighlightOptions{Channel: "x", Sticky: true}); err != nil {
		t.Fatal(err)
	}

	st := h.Channels()["x"]
	if st.Count != 1 {
		t.Fatalf("count = %d, want 1 after replacement", st.Count)
	}
}

func TestHighlighter_DurationAutoClears(t *testing.T) {
	drv := &fakeDriver{evalFn: countEval(2)}
	h := newHighlighter(drv, "", 0, testLogger())

	if _, err := h.HighlightSelector(context.Background(), ".a",
		HighlightOptions{Channel: "flash", Duration: 10 * time.Millisecond}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(h.Channels()) == 0 {
			if drv.evalCount("clearHighlights") == 0 {
				t.Fatal("auto-clear never reached the page")
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("channel never auto-cleared")
}

func TestHighlighter_StickyIgnoresDuration(t *testing.T) {
	drv := &fakeDriver{evalFn: countEval(2)}
	h := newHighlighter(drv, "", 0, testLogger())

	if _, err := h.HighlightSelector(context.Background(), ".a",
		HighlightOptions{Channel: "pin", Sticky: true, Duration: 5 * time.Millisecond}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, ok := h.Channels()["pin"]; !ok {
		t.Fatal("sticky channel was auto-cleared")
	}
}

func TestHighlighter_ClearAll(t *testing.T) {
	drv := &fakeDriver{evalFn: countEval(1)}
	h := newHighlighter(drv, "", 0, testLogger())

	ctx := context.Background()
	for _, ch := range []string{"a", "b", "c"} {
		if _, err := h.HighlightSelector(ctx, ".x", HighlightOptions{Channel: ch, Sticky: true}); err != nil {
			t.Fatal(err)
		}
	}
	if err := h.Clear(ctx, ""); err != nil {
		t.Fatal(err)
	}
	if len(h.Channels()) != 0 {
		t.Fatalf("channels not empty after Clear all: %v", h.Channels())
	}
}

// ------------------------------------------------------------------ picker

func newTestPicker(drv *fakeDriver) *Picker {
	hl := newHighlighter(drv, "", 0, testLogger())
	return newPicker(drv, hl, newFrameRegistry(), 15*time.Second, testLogger())
}

func TestClampTimeout(t *testing.T) {
	tests := []struct {
		in, want time.Duration
	}{
		{0, MinPickTimeout},
		{500 * time.Millisecond, MinPickTimeout},
		{5 * time.Second, 5 * time.Second},
		{10 * time.Minute, MaxPickTimeout},
	}
	for _, tt := range tests {
		if got := clampTimeout(tt.in); got != tt.want {
			t.Errorf("clampTimeout(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSessionID(t *testing.T) {
	a, b := sessionID(), sessionID()
	if !strings.HasPrefix(a, "sess_") {
		t.Fatalf("sessionID() = %q, want sess_ prefix", a)
	}
	if len(a) != len("sess_")+12 {
		t.Fatalf("sessionID() = %q, want 12-char suffix", a)
	}
	if a == b {
		t.Fatalf("sessionID() repeated: %q", a)
	}
}

func TestPicker_StartAndCommit(t *testing.T) {
	drv := &fakeDriver{}
	p := newTestPicker(drv)

	sess, err := p.StartSession(context.Background(), PickOptions{Mode: "element"})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if sess.Phase != PhaseHovering {
		t.Fatalf("phase = %q, want hovering", sess.Phase)
	}
	if drv.evalCount("pickerStart") != 1 {
		t.Fatal("pickerStart never evaluated")
	}

	el := &domtree.PickedElement{Path: "root/0/2", Tag: "button", Classes: []string{"cta"}}
	p.handleEvent(bindingMsg{Kind: "picker", Event: "commit", Element: el, SessionID: sess.ID})

	if p.Active() {
		t.Fatal("session still active after commit")
	}
	last := p.LastState()
	if last.Phase != PhaseSelected {
		t.Fatalf("phase = %q, want selected", last.Phase)
	}
	if last.Result == nil || last.Result.Path != "root/0/2" {
		t.Fatalf("result = %+v", last.Result)
	}
}

func TestPicker_HoverUpdatesState(t *testing.T) {
	drv := &fakeDriver{}
	p := newTestPicker(drv)

	sess, err := p.StartSession(context.Background(), PickOptions{})
	if err != nil {
		t.Fatal(err)
	}
	p.handleEvent(bindingMsg{Kind: "picker", Event: "hover",
		Element: &domtree.PickedElement{Path: "root/1", Tag: "div"}, SessionID: sess.ID})

	st := p.State()
	if st.Hovered == nil || st.Hovered.Path != "root/1" {
		t.Fatalf("hovered = %+v", st.Hovered)
	}
	// Snapshots are copies: mutating one must not leak into the session.
	st.Hovered.Path = "mutated"
	if p.State().Hovered.Path != "root/1" {
		t.Fatal("snapshot mutation leaked into live session")
	}
}

func TestPicker_EscapeCancelClearsHover(t *testing.T) {
	drv := &fakeDriver{}
	p := newTestPicker(drv)

	sess, err := p.StartSession(context.Background(), PickOptions{})
	if err != nil {
		t.Fatal(err)
	}
	p.handleEvent(bindingMsg{Kind: "picker", Event: "cancel", Reason: "escape", SessionID: sess.ID})

	if p.LastState().Phase != PhaseCancelled {
		t.Fatalf("phase = %q, want cancelled", p.LastState().Phase)
	}
	if drv.evalCount("clearHighlights") == 0 {
		t.Fatal("hover channel never cleared on cancel")
	}
	if drv.evalCount("pickerStop") == 0 {
		t.Fatal("shield never torn down on cancel")
	}
}

func TestPicker_StartForceStopsPrevious(t *testing.T) {
	drv := &fakeDriver{}
	p := newTestPicker(drv)

	ctx := context.Background()
	first, err := p.StartSession(ctx, PickOptions{})
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.StartSession(ctx, PickOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if first.ID == second.ID {
		t.Fatal("sessions share an id")
	}
	if st := p.State(); st.ID != second.ID || st.Phase != PhaseHovering {
		t.Fatalf("live session = %+v, want second hovering", st)
	}

	// The cancel the agent emits while the first session is torn down may
	// arrive after the second session started. It must be ignored.
	p.handleEvent(bindingMsg{Kind: "picker", Event: "cancel", SessionID: first.ID})
	if !p.Active() {
		t.Fatal("stale cancel killed the new session")
	}

	p.handleEvent(bindingMsg{Kind: "picker", Event: "cancel", SessionID: second.ID})
	if p.Active() {
		t.Fatal("matching cancel ignored")
	}
}

func TestPicker_Timeout(t *testing.T) {
	drv := &fakeDriver{}
	p := newTestPicker(drv)

	sess, err := p.StartSession(context.Background(), PickOptions{})
	if err != nil {
		t.Fatal(err)
	}
	p.expire(sess.ID)

	if p.Active() {
		t.Fatal("session survived expiry")
	}
	if p.LastState().Phase != PhaseTimeout {
		t.Fatalf("phase = %q, want timeout", p.LastState().Phase)
	}

	// A late expiry for a finished session is a no-op.
	p.expire(sess.ID)
}

func TestPicker_CommitWithoutElementIsError(t *testing.T) {
	drv := &fakeDriver{}
	p := newTestPicker(drv)

	sess, err := p.StartSession(context.Background(), PickOptions{})
	if err != nil {
		t.Fatal(err)
	}
	p.handleEvent(bindingMsg{Kind: "picker", Event: "commit", SessionID: sess.ID})

	last := p.LastState()
	if last.Phase != PhaseError {
		t.Fatalf("phase = %q, want error", last.Phase)
	}
	if last.Error == "" {
		t.Fatal("error message missing")
	}
}

func TestPicker_StartEvalFailure(t *testing.T) {
	drv := &fakeDriver{evalFn: func(js string, _ ...any) (json.RawMessage, error) {
		if strings.Contains(js, "pickerStart") {
			return nil, fmt.Errorf("detached")
		}
		return json.RawMessage(`null`), nil
	}}
	p := newTestPicker(drv)

	if _, err := p.StartSession(context.Background(), PickOptions{}); err == nil {
		t.Fatal("expected error")
	}
	if p.Active() {
		t.Fatal("failed session left active")
	}
	if p.LastState().Phase != PhaseError {
		t.Fatalf("phase = %q, want error", p.LastState().Phase)
	}
}

func TestPicker_StateIdlePlaceholder(t *testing.T) {
	p := newTestPicker(&fakeDriver{})
	if st := p.State(); st.Phase != PhaseIdle {
		t.Fatalf("phase = %q, want idle", st.Phase)
	}
	if p.LastState() != nil {
		t.Fatal("LastState should be nil before any session")
	}
}

// ------------------------------------------------------------------ frames

func TestFrameRegistry(t *testing.T) {
	r := newFrameRegistry()
	r.Mark("f1", FrameShielded)
	r.Mark("f2", FrameBlocked)
	r.Mark("f2", FrameBlocked)
	r.Mark("", FrameShielded)

	if got := len(r.Snapshot()); got != 2 {
		t.Fatalf("frames = %d, want 2", got)
	}
	if r.Blocked() != 1 {
		t.Fatalf("blocked = %d, want 1", r.Blocked())
	}

	r.Detach("f1")
	for _, rec := range r.Snapshot() {
		if rec.ID == "f1" && !rec.Detached {
			t.Fatal("f1 not flagged detached")
		}
	}

	r.Reset()
	if len(r.Snapshot()) != 0 {
		t.Fatal("registry not empty after Reset")
	}
}

// ----------------------------------------------------------------- runtime

// The shield's event contract cannot run outside a browser, so the
// embedded source is checked for its load-bearing pieces: listeners sit
// on the frame window in the capture phase, and only the primary button
// commits.
func TestAgentSource_ShieldContract(t *testing.T) {
	for _, want := range []string{
		"on(shield, win, 'pointermove'",
		"on(shield, win, 'pointerdown', commit",
		"on(shield, win, 'contextmenu'",
		"e.button !== 0",
	} {
		if !strings.Contains(agentSrc, want) {
			t.Errorf("agent source missing %q", want)
		}
	}
	if strings.Contains(agentSrc, "on(shield, shield.div, 'pointerdown'") {
		t.Error("commit listener attached to the shield div instead of the window")
	}
}

func TestRuntime_StartInjectsAndBinds(t *testing.T) {
	drv := &fakeDriver{}
	rt := newTestRuntime(drv)

	if err := rt.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rt.Dispose(context.Background())

	if len(drv.bindings) != 1 || drv.bindings[0] != bindingName {
		t.Fatalf("bindings = %v", drv.bindings)
	}
	if drv.injectCount() != 1 {
		t.Fatalf("inject count = %d, want 1", drv.injectCount())
	}
	if err := rt.Start(context.Background()); err == nil {
		t.Fatal("second Start should fail")
	}
}

func TestRuntime_DispatchRoutesEvents(t *testing.T) {
	drv := &fakeDriver{}
	rt := newTestRuntime(drv)
	if err := rt.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer rt.Dispose(context.Background())

	sess, err := rt.Pick.StartSession(context.Background(), PickOptions{})
	if err != nil {
		t.Fatal(err)
	}

	rt.dispatch(`{"kind":"frame","frame_id":"f1","state":"shielded"}`)
	rt.dispatch(`{"kind":"frame","frame_id":"f2","state":"blocked"}`)
	if rt.Frames.Blocked() != 1 {
		t.Fatalf("blocked = %d, want 1", rt.Frames.Blocked())
	}

	rt.dispatch(`not json`)
	rt.dispatch(`{"kind":"mystery"}`)

	rt.dispatch(`{"kind":"picker","event":"commit","session_id":"` + sess.ID +
		`","element":{"path":"root/3","tag":"a"}}`)
	if rt.Pick.LastState().Phase != PhaseSelected {
		t.Fatalf("phase = %q, want selected", rt.Pick.LastState().Phase)
	}
}

func TestRuntime_AgentMountResetsHighlights(t *testing.T) {
	drv := &fakeDriver{evalFn: countEval(2)}
	rt := newTestRuntime(drv)
	if err := rt.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer rt.Dispose(context.Background())

	if _, err := rt.Highlight.HighlightSelector(context.Background(), ".a",
		HighlightOptions{Channel: "c", Sticky: true}); err != nil {
		t.Fatal(err)
	}
	rt.dispatch(`{"kind":"agent","event":"mounted","href":"https://example.com/next"}`)

	if len(rt.Highlight.Channels()) != 0 {
		t.Fatal("channel bookkeeping survived a fresh mount")
	}
}

func TestRuntime_Ping(t *testing.T) {
	drv := &fakeDriver{evalFn: func(js string, _ ...any) (json.RawMessage, error) {
		if strings.Contains(js, "ping") {
			return json.RawMessage(`{"ts":1712000000,"href":"https://example.com/"}`), nil
		}
		return json.RawMessage(`null`), nil
	}}
	rt := newTestRuntime(drv)

	got, err := rt.Ping(context.Background())
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if got.Href != "https://example.com/" || got.TS != 1712000000 {
		t.Fatalf("ping = %+v", got)
	}
}

// ------------------------------------------------------------------ healer

func TestEnsureAgent_ReinjectsAndAbortsSession(t *testing.T) {
	drv := &fakeDriver{evalFn: func(js string, _ ...any) (json.RawMessage, error) {
		if strings.Contains(js, "__dombind.__v") {
			return json.RawMessage(`false`), nil
		}
		return json.RawMessage(`null`), nil
	}}
	rt := newTestRuntime(drv)

	if _, err := rt.Pick.StartSession(context.Background(), PickOptions{}); err != nil {
		t.Fatal(err)
	}

	if err := rt.ensureAgent(context.Background()); err != nil {
		t.Fatalf("ensureAgent: %v", err)
	}
	if drv.injectCount() != 1 {
		t.Fatalf("inject count = %d, want 1", drv.injectCount())
	}
	if rt.Pick.Active() {
		t.Fatal("session survived re-injection")
	}
	if rt.Pick.LastState().Phase != PhaseError {
		t.Fatalf("phase = %q, want error", rt.Pick.LastState().Phase)
	}
}

func TestEnsureAgent_AliveIsNoop(t *testing.T) {
	drv := &fakeDriver{evalFn: func(js string, _ ...any) (json.RawMessage, error) {
		if strings.Contains(js, "__dombind.__v") {
			return json.RawMessage(`true`), nil
		}
		return json.RawMessage(`null`), nil
	}}
	rt := newTestRuntime(drv)

	if err := rt.ensureAgent(context.Background()); err != nil {
		t.Fatal(err)
	}
	if drv.injectCount() != 0 {
		t.Fatal("healthy agent was re-injected")
	}
}
