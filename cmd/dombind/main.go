// Command dombind attaches the container binder to live browser pages and
// bridges its services to external collaborators.
//
// Usage:
//
//	dombind -config dombind.yaml            # attach pages from YAML config
//	dombind -url https://example.com        # quick single-page binding
//	dombind -mcp                            # also serve MCP tools on stdio
package main

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/dombind"
	"github.com/hazyhaar/dombind/connectivity"
	"github.com/hazyhaar/dombind/idgen"
	"github.com/hazyhaar/dombind/safeguard"
	"github.com/hazyhaar/dombind/shield"
)

func main() {
	configPath := flag.String("config", "", "path to dombind.yaml config file")
	singleURL := flag.String("url", "", "attach to a single URL")
	listen := flag.String("listen", "", "HTTP bridge address (overrides config)")
	serveMCP := flag.Bool("mcp", false, "serve MCP tools on stdio")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *singleURL, *listen, *serveMCP); err != nil {
		logger.Error("dombind: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, singleURL, listen string, serveMCP bool) error {
	var cfg *dombind.Config
	switch {
	case configPath != "":
		var err error
		cfg, err = dombind.LoadConfigFile(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	case singleURL != "":
		cfg = &dombind.Config{
			Pages: []dombind.PageConfig{{ID: idgen.New(), URL: singleURL}},
		}
		cfg.ApplyDefaults()
	default:
		fmt.Fprintln(os.Stderr, "usage: dombind -config <file> | -url <url>")
		os.Exit(1)
	}
	if listen != "" {
		cfg.Bridge.Listen = listen
	}

	b := dombind.New(cfg, logger)
	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer b.Stop(context.Background())

	router := connectivity.New(connectivity.WithLogger(logger))
	defer router.Close()
	router.RegisterTransport("http", connectivity.HTTPFactory())
	b.RegisterConnectivity(router)

	// Optional routes DB: re-route services and tune rate limits without
	// restarting.
	var routesDB *sql.DB
	if cfg.Store.RoutesPath != "" {
		db, err := connectivity.OpenDB(cfg.Store.RoutesPath)
		if err != nil {
			return fmt.Errorf("open routes db: %w", err)
		}
		defer db.Close()
		if err := connectivity.Init(db); err != nil {
			return fmt.Errorf("init routes db: %w", err)
		}
		if err := shield.Init(db); err != nil {
			return fmt.Errorf("init shield tables: %w", err)
		}
		if err := router.Reload(ctx, db); err != nil {
			return fmt.Errorf("load routes: %w", err)
		}
		go router.Watch(ctx, db, cfg.Store.WatchInterval)
		routesDB = db
	}

	if serveMCP {
		mcpSrv := mcp.NewServer(&mcp.Implementation{
			Name:    "dombind",
			Version: "1.0.0",
		}, nil)
		b.RegisterMCP(mcpSrv)
		go func() {
			if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				logger.Error("dombind: mcp server", "error", err)
			}
		}()
	}

	return serveBridge(ctx, logger, cfg, router, routesDB)
}

// serveBridge exposes the connectivity router over HTTP until ctx is done.
func serveBridge(ctx context.Context, logger *slog.Logger, cfg *dombind.Config, router *connectivity.Router, db *sql.DB) error {
	srv := &http.Server{
		Addr:              cfg.Bridge.Listen,
		Handler:           bridgeHandler(cfg, router, db),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("dombind: bridge listening", "addr", cfg.Bridge.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("bridge: %w", err)
	}
}

func bridgeHandler(cfg *dombind.Config, router *connectivity.Router, db *sql.DB) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	for _, mw := range shield.DefaultStack(db) {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Group(func(r chi.Router) {
		if cfg.Bridge.AuthUser != "" && cfg.Bridge.AuthHash != "" {
			r.Use(basicAuth(cfg.Bridge.AuthUser, cfg.Bridge.AuthHash))
		}

		r.Get("/api/services", func(w http.ResponseWriter, _ *http.Request) {
			var services []connectivity.ServiceInfo
			for info := range router.ListServices() {
				services = append(services, info)
			}
			writeJSON(w, http.StatusOK, map[string]any{"services": services})
		})

		r.Post("/api/{service}", func(w http.ResponseWriter, req *http.Request) {
			service := chi.URLParam(req, "service")
			payload, err := readBody(req)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
				return
			}

			out, err := router.Call(req.Context(), service, payload)
			if err != nil {
				status := http.StatusBadGateway
				var notFound *connectivity.ErrServiceNotFound
				if errors.As(err, &notFound) {
					status = http.StatusNotFound
				}
				writeJSON(w, status, map[string]string{"error": err.Error()})
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write(out)
		})
	})

	return r
}

// basicAuth verifies credentials against a bcrypt password hash.
func basicAuth(user, hash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, p, ok := r.BasicAuth()
			if !ok ||
				subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 ||
				bcrypt.CompareHashAndPassword([]byte(hash), []byte(p)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="dombind"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

const maxBridgeBody = 1 << 20

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	payload, err := safeguard.LimitedReadAll(r.Body, maxBridgeBody)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(payload) == 0 {
		payload = []byte(`{}`)
	}
	return payload, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
