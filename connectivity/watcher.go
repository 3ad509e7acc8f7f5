package connectivity

import (
	"context"
	"database/sql"
	"time"

	"github.com/hazyhaar/dombind/watch"
)

// Watch keeps the route table in sync with the database: an initial
// Reload, then a reload whenever PRAGMA data_version advances. Any write
// to the file bumps data_version, so route edits made by another process
// are picked up without triggers.
//
// Watch blocks until ctx is cancelled. Run it in a goroutine:
//
//	go router.Watch(ctx, db, 200*time.Millisecond)
func (r *Router) Watch(ctx context.Context, db *sql.DB, interval time.Duration) {
	if err := r.Reload(ctx, db); err != nil {
		r.logger.Error("connectivity: initial reload failed", "error", err)
	}

	w := watch.New(db, watch.Options{
		Interval: interval,
		Logger:   r.logger,
	})
	w.OnChange(ctx, func() error {
		return r.Reload(ctx, db)
	})
}
