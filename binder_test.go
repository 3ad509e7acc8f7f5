package dombind

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/hazyhaar/dombind/connectivity"
	"github.com/hazyhaar/dombind/dbopen"
	"github.com/hazyhaar/dombind/internal/config"
	"github.com/hazyhaar/dombind/internal/page"
	"github.com/hazyhaar/dombind/internal/store"

	_ "modernc.org/sqlite"
)

// scriptedDriver answers evals from a script keyed by substring match.
type scriptedDriver struct {
	mu      sync.Mutex
	replies map[string]string // js substring -> JSON reply
	href    string
}

func (d *scriptedDriver) Eval(_ context.Context, js string, _ ...any) (json.RawMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for sub, reply := range d.replies {
		if strings.Contains(js, sub) {
			return json.RawMessage(reply), nil
		}
	}
	return json.RawMessage(`null`), nil
}

func (d *scriptedDriver) Inject(context.Context, string) error       { return nil }
func (d *scriptedDriver) AddBinding(context.Context, string) error   { return nil }
func (d *scriptedDriver) ListenBinding(ctx context.Context, _ string, _ func(string)) {
	<-ctx.Done()
}
func (d *scriptedDriver) URL(context.Context) (string, error) { return d.href, nil }

func testBinder(t *testing.T) *Binder {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	return &Binder{
		cfg:    cfg,
		logger: logger,
		pages:  make(map[string]*pageBinding),
	}
}

// bindFake installs a runtime over a scripted driver without a browser.
func bindFake(b *Binder, pageID string, drv *scriptedDriver) *page.Runtime {
	rt := page.NewRuntime(drv, page.Config{
		PageID: pageID,
		Logger: b.logger,
	})
	b.mu.Lock()
	b.pages[pageID] = &pageBinding{cfg: config.PageConfig{ID: pageID}, rt: rt}
	b.mu.Unlock()
	return rt
}

func TestHandlePing(t *testing.T) {
	b := testBinder(t)
	bindFake(b, "p1", &scriptedDriver{replies: map[string]string{
		"ping": `{"ts":1712,"href":"https://example.com/"}`,
	}})

	out, err := b.handlePing(context.Background(), []byte(`{"page_id":"p1"}`))
	if err != nil {
		t.Fatalf("handlePing: %v", err)
	}
	var res page.PingResult
	if err := json.Unmarshal(out, &res); err != nil {
		t.Fatal(err)
	}
	if res.Href != "https://example.com/" {
		t.Fatalf("href = %q", res.Href)
	}
}

func TestHandlePing_Unattached(t *testing.T) {
	b := testBinder(t)
	if _, err := b.handlePing(context.Background(), []byte(`{"page_id":"ghost"}`)); err == nil {
		t.Fatal("expected error for unattached page")
	}
	if _, err := b.handlePing(context.Background(), []byte(`{}`)); err == nil {
		t.Fatal("expected error for missing page_id")
	}
}

func TestHandleHighlightSelector(t *testing.T) {
	b := testBinder(t)
	bindFake(b, "p1", &scriptedDriver{replies: map[string]string{
		"highlightSelector": `4`,
	}})

	out, err := b.handleHighlightSelector(context.Background(),
		[]byte(`{"page_id":"p1","selector":".card","channel":"c","sticky":true}`))
	if err != nil {
		t.Fatal(err)
	}
	var res map[string]int
	if err := json.Unmarshal(out, &res); err != nil {
		t.Fatal(err)
	}
	if res["count"] != 4 {
		t.Fatalf("count = %d, want 4", res["count"])
	}

	if _, err := b.handleHighlightSelector(context.Background(),
		[]byte(`{"page_id":"p1"}`)); err == nil {
		t.Fatal("missing selector accepted")
	}
}

func TestHandleDomResolve_InvalidPath(t *testing.T) {
	b := testBinder(t)
	bindFake(b, "p1", &scriptedDriver{})

	if _, err := b.handleDomResolve(context.Background(),
		[]byte(`{"page_id":"p1","path":"root/-1"}`)); err == nil {
		t.Fatal("invalid path accepted")
	}
}

func TestHandleDomPreview(t *testing.T) {
	b := testBinder(t)
	bindFake(b, "p1", &scriptedDriver{replies: map[string]string{
		"outerHTML": `"<article><h2>Title</h2><p>Body text.</p></article>"`,
	}})

	out, err := b.handleDomPreview(context.Background(),
		[]byte(`{"page_id":"p1","path":"root/0"}`))
	if err != nil {
		t.Fatal(err)
	}
	var res struct {
		Exists   bool   `json:"exists"`
		Markdown string `json:"markdown"`
	}
	if err := json.Unmarshal(out, &res); err != nil {
		t.Fatal(err)
	}
	if !res.Exists {
		t.Fatal("exists = false for resolvable path")
	}
	if !strings.Contains(res.Markdown, "Title") || !strings.Contains(res.Markdown, "Body text.") {
		t.Fatalf("markdown = %q, want heading and body", res.Markdown)
	}
	if strings.Contains(res.Markdown, "<article>") {
		t.Fatalf("markdown = %q, contains raw markup", res.Markdown)
	}

	if _, err := b.handleDomPreview(context.Background(),
		[]byte(`{"page_id":"p1","path":"root/-1"}`)); err == nil {
		t.Fatal("invalid path accepted")
	}
}

func TestHandleDomPreview_UnresolvedPath(t *testing.T) {
	b := testBinder(t)
	// The driver scripts no outerHTML reply, so the agent answers null.
	bindFake(b, "p1", &scriptedDriver{})

	out, err := b.handleDomPreview(context.Background(),
		[]byte(`{"page_id":"p1","path":"root/9"}`))
	if err != nil {
		t.Fatal(err)
	}
	var res struct {
		Exists bool `json:"exists"`
	}
	if err := json.Unmarshal(out, &res); err != nil {
		t.Fatal(err)
	}
	if res.Exists {
		t.Fatal("exists = true for unresolved path")
	}
}

func TestHandleConnections_InlineTree(t *testing.T) {
	b := testBinder(t)
	bindFake(b, "p1", &scriptedDriver{replies: map[string]string{
		"listPaths": `["root","root/0","root/0/1","root/2"]`,
	}})

	payload := `{
		"page_id": "p1",
		"tree": {
			"id": "page",
			"match_spec": ["root"],
			"children": [
				{"id": "hit", "match_spec": ["root/0/1"]},
				{"id": "miss", "match_spec": ["root/9"]}
			]
		}
	}`
	out, err := b.handleConnections(context.Background(), []byte(payload))
	if err != nil {
		t.Fatalf("handleConnections: %v", err)
	}

	var res struct {
		Connections []struct {
			ContainerID string `json:"container_id"`
			DomPath     string `json:"dom_path"`
		} `json:"connections"`
	}
	if err := json.Unmarshal(out, &res); err != nil {
		t.Fatal(err)
	}

	got := make(map[string]string)
	for _, c := range res.Connections {
		got[c.ContainerID] = c.DomPath
	}
	if got["page"] != "root" || got["hit"] != "root/0/1" {
		t.Fatalf("connections = %v", got)
	}
	if _, ok := got["miss"]; ok {
		t.Fatal("absent path produced a connection")
	}
}

func TestHandleContainers_StoreRoundtrip(t *testing.T) {
	b := testBinder(t)
	db := dbopen.OpenMemory(t)
	trees, err := store.New(db, b.logger)
	if err != nil {
		t.Fatal(err)
	}
	b.trees = trees

	ctx := context.Background()
	if _, err := b.handleContainersSave(ctx,
		[]byte(`{"site_key":"example.com","tree":{"id":"page","match_spec":["root"]}}`)); err != nil {
		t.Fatalf("save: %v", err)
	}

	out, err := b.handleContainersList(ctx, []byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	var list struct {
		Sites []string `json:"sites"`
	}
	if err := json.Unmarshal(out, &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Sites) != 1 || list.Sites[0] != "example.com" {
		t.Fatalf("sites = %v", list.Sites)
	}

	if _, err := b.handleContainersDelete(ctx, []byte(`{"site_key":"example.com"}`)); err != nil {
		t.Fatal(err)
	}
	out, err = b.handleContainersList(ctx, []byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	list.Sites = nil
	if err := json.Unmarshal(out, &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Sites) != 0 {
		t.Fatalf("sites after delete = %v", list.Sites)
	}
}

func TestHandleContainers_NoStore(t *testing.T) {
	b := testBinder(t)
	if _, err := b.handleContainersList(context.Background(), []byte(`{}`)); err == nil {
		t.Fatal("expected error without a store")
	}
}

func TestStartPicker_SingleActiveAcrossPages(t *testing.T) {
	b := testBinder(t)
	rtA := bindFake(b, "a", &scriptedDriver{})
	rtB := bindFake(b, "b", &scriptedDriver{})

	ctx := context.Background()
	if _, err := b.StartPicker(ctx, "a", page.PickOptions{}); err != nil {
		t.Fatal(err)
	}
	if !rtA.Pick.Active() {
		t.Fatal("session on a not active")
	}

	if _, err := b.StartPicker(ctx, "b", page.PickOptions{}); err != nil {
		t.Fatal(err)
	}
	if rtA.Pick.Active() {
		t.Fatal("session on a survived a start on b")
	}
	if rtA.Pick.LastState().Phase != page.PhaseCancelled {
		t.Fatalf("phase on a = %q, want cancelled", rtA.Pick.LastState().Phase)
	}
	if !rtB.Pick.Active() {
		t.Fatal("session on b not active")
	}
}

func TestRegisterConnectivity_CallThroughRouter(t *testing.T) {
	b := testBinder(t)
	bindFake(b, "p1", &scriptedDriver{})

	router := connectivity.New()
	defer router.Close()
	b.RegisterConnectivity(router)

	out, err := router.Call(context.Background(), "dombind_pages", []byte(`{}`))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	var res struct {
		Pages []string `json:"pages"`
	}
	if err := json.Unmarshal(out, &res); err != nil {
		t.Fatal(err)
	}
	if len(res.Pages) != 1 || res.Pages[0] != "p1" {
		t.Fatalf("pages = %v", res.Pages)
	}
}

func TestDetach(t *testing.T) {
	b := testBinder(t)
	bindFake(b, "p1", &scriptedDriver{})

	if err := b.Detach(context.Background(), "p1"); err != nil {
		t.Fatal(err)
	}
	if err := b.Detach(context.Background(), "p1"); err == nil {
		t.Fatal("double detach accepted")
	}
	if len(b.Pages()) != 0 {
		t.Fatalf("pages = %v", b.Pages())
	}
}
