package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hazyhaar/dombind"
	"github.com/hazyhaar/dombind/connectivity"
)

func TestBridgeHandler_CallAndNotFound(t *testing.T) {
	router := connectivity.New()
	router.RegisterLocal("echo", func(_ context.Context, payload []byte) ([]byte, error) {
		return payload, nil
	})

	h := bridgeHandler(&dombind.Config{}, router, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/echo", strings.NewReader(`{"a":1}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("echo status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := rec.Body.String(); got != `{"a":1}` {
		t.Fatalf("echo body = %q", got)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/no_such_service", strings.NewReader(`{}`)))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown service status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestBridgeHandler_Health(t *testing.T) {
	h := bridgeHandler(&dombind.Config{}, connectivity.New(), nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", rec.Code, http.StatusOK)
	}
}
