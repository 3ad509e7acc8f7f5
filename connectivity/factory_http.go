package connectivity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hazyhaar/dombind/safeguard"
)

// Responses from collaborators are small JSON documents; 10 MiB is far
// past anything legitimate.
const maxHTTPResponseBody int64 = 10 << 20

// httpConfig is the JSON config column of an http route.
type httpConfig struct {
	TimeoutMs   int64  `json:"timeout_ms"`
	ContentType string `json:"content_type"`
}

// HTTPFactory builds Handlers that POST payloads to a collaborator's
// HTTP endpoint, honouring the route's timeout_ms and content_type
// config. Endpoints resolving to private or loopback addresses are
// rejected when the route loads, the routes table is operator data, not
// trusted code.
//
//	router.RegisterTransport("http", connectivity.HTTPFactory())
func HTTPFactory() TransportFactory {
	return func(endpoint string, config json.RawMessage) (Handler, func(), error) {
		if err := safeguard.ValidateURL(endpoint); err != nil {
			return nil, nil, fmt.Errorf("connectivity/http: %w", err)
		}

		var cfg httpConfig
		if len(config) > 0 {
			_ = json.Unmarshal(config, &cfg)
		}
		timeout := 30 * time.Second
		if cfg.TimeoutMs > 0 {
			timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
		}
		contentType := cfg.ContentType
		if contentType == "" {
			contentType = "application/json"
		}

		client := &http.Client{Timeout: timeout}

		handler := func(ctx context.Context, payload []byte) ([]byte, error) {
			return postOnce(ctx, client, endpoint, contentType, payload)
		}
		return handler, client.CloseIdleConnections, nil
	}
}

func postOnce(ctx context.Context, client *http.Client, endpoint, contentType string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("connectivity/http: create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connectivity/http: do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := safeguard.LimitedReadAll(resp.Body, maxHTTPResponseBody)
	if err != nil {
		return nil, fmt.Errorf("connectivity/http: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("connectivity/http: status %d: %s", resp.StatusCode, body)
	}
	return body, nil
}
