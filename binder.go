// Package dombind binds live browser pages to container trees. It owns the
// Chrome lifecycle, injects a per-page agent, and exposes DOM addressing,
// overlay highlighting, and interactive element picking to external
// collaborators over connectivity services and MCP tools.
//
// dombind addresses and picks, it does not interpret. Container trees are
// owned by their collaborators; the matcher recomputes connections fresh
// from a tree snapshot and the live DOM on every call.
package dombind

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/dombind/container"
	"github.com/hazyhaar/dombind/internal/browser"
	"github.com/hazyhaar/dombind/internal/config"
	"github.com/hazyhaar/dombind/internal/page"
	"github.com/hazyhaar/dombind/internal/store"
)

// Config is the top-level binder configuration.
type Config = config.Config

// PageConfig describes one page to attach.
type PageConfig = config.PageConfig

// LoadConfigFile reads a YAML config and applies defaults.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// pageBinding pairs a tab with its runtime so a recycle can rebuild both.
type pageBinding struct {
	cfg config.PageConfig
	tab *browser.Tab
	rt  *page.Runtime
}

// Binder is the top-level orchestrator. It manages the browser and one
// Runtime per attached page. Create one per process.
type Binder struct {
	cfg    *config.Config
	mgr    *browser.Manager
	trees  *store.SQLite
	logger *slog.Logger

	mu    sync.Mutex
	pages map[string]*pageBinding // keyed by page ID
}

// New creates a Binder from configuration. The container store is opened
// lazily in Start when a path is configured.
func New(cfg *config.Config, logger *slog.Logger) *Binder {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.ApplyDefaults()

	mgr := browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		MemoryLimit:      cfg.Browser.MemoryLimit,
		RecycleInterval:  cfg.Browser.RecycleInterval,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		Mode:             browser.ParseMode(cfg.Browser.Stealth),
		XvfbDisplay:      cfg.Browser.XvfbDisplay,
		Logger:           logger,
	})

	return &Binder{
		cfg:    cfg,
		mgr:    mgr,
		logger: logger,
		pages:  make(map[string]*pageBinding),
	}
}

// Start launches the browser, opens the container store, and attaches every
// configured page. Per-page failures are logged, not fatal.
func (b *Binder) Start(ctx context.Context) error {
	if b.cfg.Store.Path != "" {
		trees, err := store.Open(b.cfg.Store.Path, b.logger)
		if err != nil {
			return fmt.Errorf("dombind: open container store: %w", err)
		}
		b.trees = trees
		// Trees are read fresh on every match, so a change needs no cache
		// fix-up; the watch makes external edits visible in the log.
		go trees.Watch(ctx, b.cfg.Store.WatchInterval, func() error {
			b.logger.Info("dombind: container trees changed")
			return nil
		})
	}

	if _, err := b.mgr.Start(ctx); err != nil {
		return fmt.Errorf("dombind: start browser: %w", err)
	}

	b.mgr.SetRecycleCallback(&browser.RecycleCallback{
		BeforeRecycle: b.disposeAll,
		AfterRecycle:  func(*rod.Browser) { b.reattachAll(ctx) },
	})

	for _, pc := range b.cfg.Pages {
		if err := b.Attach(ctx, pc); err != nil {
			b.logger.Error("dombind: attach failed", "url", pc.URL, "id", pc.ID, "error", err)
		}
	}
	return nil
}

// Attach opens a tab for the page and starts its runtime. The page ID must
// be unique among attached pages.
func (b *Binder) Attach(ctx context.Context, pc config.PageConfig) error {
	if pc.ID == "" || pc.URL == "" {
		return fmt.Errorf("dombind: attach needs id and url")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.pages[pc.ID]; ok {
		return fmt.Errorf("dombind: page %s already attached", pc.ID)
	}
	return b.attachLocked(ctx, pc)
}

func (b *Binder) attachLocked(ctx context.Context, pc config.PageConfig) error {
	tab, err := browser.OpenTab(ctx, b.mgr, pc.URL, pc.ID)
	if err != nil {
		return fmt.Errorf("dombind: open tab: %w", err)
	}

	rt := page.NewRuntime(page.NewRodDriver(tab), page.Config{
		PageID:              pc.ID,
		RootSelector:        pc.RootSelector,
		EnsureInterval:      b.cfg.Agent.EnsureInterval,
		HighlightColor:      b.cfg.Highlight.DefaultColor,
		HighlightMaxMatches: b.cfg.Highlight.MaxMatches,
		PickerTimeout:       b.cfg.Picker.DefaultTimeout,
		Logger:              b.logger,
	})
	if err := rt.Start(ctx); err != nil {
		tab.Close()
		return fmt.Errorf("dombind: start runtime: %w", err)
	}

	b.pages[pc.ID] = &pageBinding{cfg: pc, tab: tab, rt: rt}
	b.logger.Info("dombind: page attached", "id", pc.ID, "url", pc.URL)
	return nil
}

// Detach disposes the page's runtime and closes its tab.
func (b *Binder) Detach(ctx context.Context, pageID string) error {
	b.mu.Lock()
	pb, ok := b.pages[pageID]
	if ok {
		delete(b.pages, pageID)
	}
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("dombind: page %s not attached", pageID)
	}

	pb.rt.Dispose(ctx)
	if pb.tab != nil {
		pb.tab.Close()
	}
	b.logger.Info("dombind: page detached", "id", pageID)
	return nil
}

// Runtime returns the runtime bound to pageID.
func (b *Binder) Runtime(pageID string) (*page.Runtime, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pb, ok := b.pages[pageID]
	if !ok {
		return nil, fmt.Errorf("dombind: page %s not attached", pageID)
	}
	return pb.rt, nil
}

// Pages lists the IDs of attached pages.
func (b *Binder) Pages() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.pages))
	for id := range b.pages {
		ids = append(ids, id)
	}
	return ids
}

// Store returns the container store, or nil when persistence is disabled.
func (b *Binder) Store() container.Store {
	if b.trees == nil {
		return nil
	}
	return b.trees
}

// Connections computes the container↔DOM mapping for the page against the
// given tree: existing element paths are collected live, then matched.
func (b *Binder) Connections(ctx context.Context, pageID string, tree *container.Definition) ([]container.Connection, error) {
	rt, err := b.Runtime(pageID)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	rootSel := ""
	if pb, ok := b.pages[pageID]; ok {
		rootSel = pb.cfg.RootSelector
	}
	b.mu.Unlock()

	paths, err := rt.Inspect.Paths(ctx, rootSel)
	if err != nil {
		return nil, fmt.Errorf("dombind: collect paths: %w", err)
	}
	return container.Match(tree, container.PathSetOf(paths...)), nil
}

// SiteKeyFor derives the container-store key for an attached page from its
// current URL.
func (b *Binder) SiteKeyFor(ctx context.Context, pageID string) (string, error) {
	rt, err := b.Runtime(pageID)
	if err != nil {
		return "", err
	}
	href, err := rt.URL(ctx)
	if err != nil {
		return "", fmt.Errorf("dombind: page url: %w", err)
	}
	u, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("dombind: parse page url: %w", err)
	}
	key := container.SiteKey(u.Host)
	if key == "" {
		return "", fmt.Errorf("dombind: no site key for %q", href)
	}
	return key, nil
}

// StartPicker begins a picking session on the page. At most one session is
// live across all pages; live sessions elsewhere are cancelled first.
func (b *Binder) StartPicker(ctx context.Context, pageID string, opts page.PickOptions) (*page.Session, error) {
	rt, err := b.Runtime(pageID)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	others := make([]*page.Runtime, 0)
	for id, pb := range b.pages {
		if id != pageID && pb.rt.Pick.Active() {
			others = append(others, pb.rt)
		}
	}
	b.mu.Unlock()
	for _, other := range others {
		other.Pick.Cancel(ctx)
	}

	return rt.Pick.StartSession(ctx, opts)
}

// Stop detaches every page, then shuts down the store and the browser.
func (b *Binder) Stop(ctx context.Context) {
	b.mu.Lock()
	pages := b.pages
	b.pages = make(map[string]*pageBinding)
	b.mu.Unlock()

	for id, pb := range pages {
		pb.rt.Dispose(ctx)
		if pb.tab != nil {
			pb.tab.Close()
		}
		b.logger.Info("dombind: stopped page", "id", id)
	}
	if b.trees != nil {
		if err := b.trees.Close(); err != nil {
			b.logger.Warn("dombind: close store", "error", err)
		}
	}
	if b.mgr != nil {
		b.mgr.Close()
	}
}

// disposeAll tears down runtimes before a browser recycle. Page configs are
// kept so reattachAll can rebuild.
func (b *Binder) disposeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, pb := range b.pages {
		pb.rt.Dispose(context.Background())
	}
}

// reattachAll rebuilds every page binding against the fresh browser.
func (b *Binder) reattachAll(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	old := b.pages
	b.pages = make(map[string]*pageBinding)
	for id, pb := range old {
		if err := b.attachLocked(ctx, pb.cfg); err != nil {
			b.logger.Error("dombind: reattach failed", "id", id, "error", err)
		}
	}
}
