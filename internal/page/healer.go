package page

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// aliveJS reports whether the page still carries a matching agent. The
// ensure() call re-mounts the control anchor if the page stripped it.
const aliveJS = `(v) => {
  if (!window.__dombind || window.__dombind.__v !== v) return false;
  window.__dombind.ensure();
  return true;
}`

// healLoop keeps the agent alive across full navigations. The binding
// registered at Start survives document swaps, but injected script does
// not; each tick checks for the agent and re-injects when it is gone.
func (r *Runtime) healLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.EnsureInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.ensureAgent(ctx); err != nil {
				r.logger.Debug("page: heal failed", "error", err)
			}
		}
	}
}

func (r *Runtime) ensureAgent(ctx context.Context) error {
	raw, err := r.drv.Eval(ctx, aliveJS, agentVersion)
	if err == nil {
		var alive bool
		if json.Unmarshal(raw, &alive) == nil && alive {
			return nil
		}
	}

	// Agent gone: the document was replaced. A session in flight lost its
	// shield with the old document, so it cannot complete.
	r.Pick.Abort(ctx, "page navigated during session")
	r.Highlight.reset()

	if err := r.inject(ctx); err != nil {
		return fmt.Errorf("page: re-inject: %w", err)
	}
	r.logger.Info("page: agent re-injected")
	return nil
}
