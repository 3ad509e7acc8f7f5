package page

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/dombind/internal/browser"
)

// Driver abstracts the CDP surface the runtime needs: evaluating JS in the
// page, installing the Go binding, and streaming binding calls back. Tests
// substitute a fake; production uses the Rod-backed driver.
type Driver interface {
	// Eval runs a JS function expression in the page and returns its result
	// as raw JSON.
	Eval(ctx context.Context, js string, args ...any) (json.RawMessage, error)

	// Inject evaluates a whole script (the agent source) in the page.
	Inject(ctx context.Context, src string) error

	// AddBinding installs a window function that forwards its string
	// argument to Go.
	AddBinding(ctx context.Context, name string) error

	// ListenBinding blocks, delivering every call of the named binding to
	// fn, until ctx is cancelled.
	ListenBinding(ctx context.Context, name string, fn func(payload string))

	// URL returns the page's current location.
	URL(ctx context.Context) (string, error)
}

// rodDriver implements Driver over a browser tab.
type rodDriver struct {
	tab *browser.Tab
}

// NewRodDriver wraps a tab in the Driver interface.
func NewRodDriver(tab *browser.Tab) Driver {
	return &rodDriver{tab: tab}
}

func (d *rodDriver) Eval(ctx context.Context, js string, args ...any) (json.RawMessage, error) {
	res, err := d.tab.Page.Context(ctx).Eval(js, args...)
	if err != nil {
		return nil, fmt.Errorf("page: eval: %w", err)
	}
	raw, err := json.Marshal(res.Value.Val())
	if err != nil {
		return nil, fmt.Errorf("page: encode eval result: %w", err)
	}
	return raw, nil
}

func (d *rodDriver) Inject(ctx context.Context, src string) error {
	if _, err := d.tab.Page.Context(ctx).Eval(src); err != nil {
		return fmt.Errorf("page: inject: %w", err)
	}
	return nil
}

func (d *rodDriver) AddBinding(ctx context.Context, name string) error {
	return proto.RuntimeAddBinding{Name: name}.Call(d.tab.Page.Context(ctx))
}

func (d *rodDriver) ListenBinding(ctx context.Context, name string, fn func(payload string)) {
	d.tab.Page.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != name {
			return
		}
		fn(e.Payload)
	})()
}

func (d *rodDriver) URL(ctx context.Context) (string, error) {
	return d.tab.CurrentURL(ctx)
}
