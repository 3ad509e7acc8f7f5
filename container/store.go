package container

import (
	"context"
	"strings"
)

// Store persists one container tree per site key. Collaborators own the
// trees; dombind only produces and accepts in-memory Definition values, so
// the interface stays deliberately small.
type Store interface {
	SaveTree(ctx context.Context, siteKey string, root *Definition) error
	LoadTree(ctx context.Context, siteKey string) (*Definition, error)
	ListSites(ctx context.Context) ([]string, error)
	DeleteTree(ctx context.Context, siteKey string) error
}

// SiteKey derives the storage key for a page host: lowercase, port and
// leading "www." stripped. An empty host yields an empty key.
func SiteKey(host string) string {
	h := strings.ToLower(strings.TrimSpace(host))
	if i := strings.LastIndexByte(h, ':'); i >= 0 && !strings.Contains(h[i+1:], "]") {
		h = h[:i]
	}
	h = strings.TrimPrefix(h, "www.")
	return strings.Trim(h, ".")
}
