// Package watch reloads in-memory state when its SQLite backing changes.
// The route table and the container-tree store both poll through it: an
// external edit to either file shows up as a detector version bump, the
// debounce window absorbs save bursts (a picker session commits several
// containers in quick succession), and the consumer's reload runs once.
//
//	w := watch.New(db, watch.Options{Interval: 200 * time.Millisecond})
//	go w.OnChange(ctx, func() error { return trees.Reload(ctx) })
package watch

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ChangeDetector reads a version token from the database. Two calls
// returning different values mean something changed. int64 covers all
// three built-in sources: PRAGMA data_version, PRAGMA user_version, and
// MAX(updated_at) over a table.
type ChangeDetector func(ctx context.Context, db *sql.DB) (int64, error)

// Options tunes a Watcher.
type Options struct {
	// Interval is the polling frequency. Default: 1s.
	Interval time.Duration
	// Debounce is the quiet period after a detected change before the
	// reload fires; further changes restart it. 0 fires immediately.
	Debounce time.Duration
	// Detector defaults to PragmaDataVersion.
	Detector ChangeDetector
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.Detector == nil {
		o.Detector = PragmaDataVersion
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Watcher polls one database and runs a reload action on change. Safe
// for concurrent use.
type Watcher struct {
	db   *sql.DB
	opts Options

	// version is the last token whose reload succeeded.
	version atomic.Int64

	// versionCond broadcasts on advance, for WaitForVersion.
	versionMu   sync.Mutex
	versionCond *sync.Cond

	checks      atomic.Int64
	changes     atomic.Int64
	errors      atomic.Int64
	reloads     atomic.Int64
	reloadTotal atomic.Int64 // summed reload wall time, ns
}

// Stats are point-in-time counters.
type Stats struct {
	Checks          int64         `json:"checks"`
	ChangesDetected int64         `json:"changes_detected"`
	Errors          int64         `json:"errors"`
	Reloads         int64         `json:"reloads"`
	AvgReloadTime   time.Duration `json:"avg_reload_time"`
}

// New creates a Watcher. Nothing polls until OnChange runs.
func New(db *sql.DB, opts Options) *Watcher {
	opts.defaults()
	w := &Watcher{db: db, opts: opts}
	w.versionCond = sync.NewCond(&w.versionMu)
	return w
}

// Stats returns the current counters.
func (w *Watcher) Stats() Stats {
	s := Stats{
		Checks:          w.checks.Load(),
		ChangesDetected: w.changes.Load(),
		Errors:          w.errors.Load(),
		Reloads:         w.reloads.Load(),
	}
	if s.Reloads > 0 {
		s.AvgReloadTime = time.Duration(w.reloadTotal.Load() / s.Reloads)
	}
	return s
}

// Version returns the last successfully processed version token.
func (w *Watcher) Version() int64 { return w.version.Load() }

// OnChange polls at opts.Interval until ctx is cancelled, calling action
// once per settled change. A failing action does not advance the
// version, so the next poll retries it.
func (w *Watcher) OnChange(ctx context.Context, action func() error) {
	log := w.opts.Logger

	// Seed from the current state so startup is not treated as a change.
	if v, err := w.opts.Detector(ctx, w.db); err != nil {
		log.Warn("watch: initial version check failed", "error", err)
	} else {
		w.advance(v)
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	var settle *time.Timer
	var settleCh <-chan time.Time
	pending := int64(-1)

	log.Info("watch: started", "interval", w.opts.Interval, "debounce", w.opts.Debounce)

	for {
		select {
		case <-ctx.Done():
			log.Info("watch: stopped")
			if settle != nil {
				settle.Stop()
			}
			return

		case <-ticker.C:
			w.checks.Add(1)
			cur, err := w.opts.Detector(ctx, w.db)
			if err != nil {
				w.errors.Add(1)
				log.Warn("watch: version check failed", "error", err)
				continue
			}
			if cur == w.version.Load() || cur == pending {
				continue
			}
			w.changes.Add(1)
			pending = cur

			if w.opts.Debounce <= 0 {
				w.reload(action, pending)
				pending = -1
				continue
			}
			// The timer restarts only when the pending token moves,
			// not on every poll that re-reads the same value.
			if settle != nil {
				settle.Stop()
			}
			settle = time.NewTimer(w.opts.Debounce)
			settleCh = settle.C
			log.Debug("watch: change detected, debouncing", "pending_version", cur)

		case <-settleCh:
			settleCh = nil
			if pending >= 0 {
				w.reload(action, pending)
				pending = -1
			}
		}
	}
}

// WaitForVersion blocks until a version >= target has been successfully
// processed, or ctx expires.
func (w *Watcher) WaitForVersion(ctx context.Context, target int64) error {
	if w.version.Load() >= target {
		return nil
	}

	done := ctx.Done()
	w.versionMu.Lock()
	defer w.versionMu.Unlock()

	for w.version.Load() < target {
		// Wake the cond on cancellation so the wait stays interruptible.
		stop := make(chan struct{})
		go func() {
			select {
			case <-done:
				w.versionCond.Broadcast()
			case <-stop:
			}
		}()

		w.versionCond.Wait()
		close(stop)

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

func (w *Watcher) reload(action func() error, ver int64) {
	log := w.opts.Logger
	log.Info("watch: reloading", "old_version", w.version.Load(), "new_version", ver)
	start := time.Now()
	if err := action(); err != nil {
		w.errors.Add(1)
		log.Error("watch: reload failed", "error", err, "version", ver)
		return
	}
	elapsed := time.Since(start)
	w.reloads.Add(1)
	w.reloadTotal.Add(int64(elapsed))
	w.advance(ver)
	log.Info("watch: reload complete", "version", ver, "duration", elapsed)
}

func (w *Watcher) advance(v int64) {
	w.version.Store(v)
	w.versionCond.Broadcast()
}

// PragmaDataVersion reads PRAGMA data_version, which SQLite bumps when
// another connection writes the file. It is the right detector for
// cross-process edits, like a route row inserted by an operator.
func PragmaDataVersion(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v)
	return v, err
}

// PragmaUserVersion reads PRAGMA user_version, an application-managed
// integer. Writers must bump it themselves, in exchange the numbers are
// deterministic, which WaitForVersion can exploit.
func PragmaUserVersion(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v)
	return v, err
}

// MaxColumnDetector polls MAX(column) over a table. The container-tree
// store uses it on container_trees.updated_at, which a trigger advances
// on every save. Identifiers are quoted, values never reach the SQL.
func MaxColumnDetector(table, column string) ChangeDetector {
	query := "SELECT COALESCE(MAX(" + quoteIdent(column) + "), 0) FROM " + quoteIdent(table)
	return func(ctx context.Context, db *sql.DB) (int64, error) {
		var v int64
		err := db.QueryRowContext(ctx, query).Scan(&v)
		return v, err
	}
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
