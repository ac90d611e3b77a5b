// Package gateway is the dev server's HTTP front: it serves build artifacts
// and the status endpoint, shows compile errors, and holds other requests
// until the app server is live before proxying them to it.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/magicjsdev/ark/internal/status"
)

const (
	// StatusPath serves the current status as JSON.
	StatusPath = "/____compiler__status"
	// LiveReloadPath is the websocket browsers subscribe to for reloads.
	LiveReloadPath = "/__ark__/live-reload"
)

var artifactPrefixes = []string{"/_browser/", "/assets/"}

// Options configures a Gateway.
type Options struct {
	BuildDir string
	// Proxy forwards gated requests. Defaults to NewProxy.
	Proxy http.Handler
	// MaxWait bounds how long a request is held. Zero waits until the
	// client goes away.
	MaxWait time.Duration
}

// Gateway routes every inbound request of the dev server.
type Gateway struct {
	store  *status.Store
	opts   Options
	hub    *Hub
	logger *zap.Logger
	mux    *http.ServeMux
}

// New creates a gateway reading state from store.
func New(store *status.Store, hub *Hub, opts Options, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Proxy == nil {
		opts.Proxy = NewProxy(store, logger)
	}
	g := &Gateway{
		store:  store,
		opts:   opts,
		hub:    hub,
		logger: logger.Named("gateway"),
		mux:    http.NewServeMux(),
	}

	g.mux.HandleFunc(StatusPath, g.handleStatus)
	if hub != nil {
		g.mux.Handle(LiveReloadPath, hub)
	}
	files := noCache(http.FileServer(http.Dir(opts.BuildDir)))
	for _, prefix := range artifactPrefixes {
		g.mux.Handle(prefix, files)
	}
	g.mux.HandleFunc("/", g.handleGated)
	return g
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mux.ServeHTTP(w, r)
}

func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	setNoCache(w.Header())
	writeJSON(w, http.StatusOK, g.store.Snapshot())
}

func (g *Gateway) handleGated(w http.ResponseWriter, r *http.Request) {
	snap := g.store.Snapshot()
	if snap.HasErrors {
		g.renderErrors(w, snap)
		return
	}

	ctx := r.Context()
	if g.opts.MaxWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.MaxWait)
		defer cancel()
	}

	if !snap.AppServerLive {
		g.logger.Debug("holding request", zap.String("path", r.URL.Path))
	}
	snap, err := g.store.Wait(ctx, func(s status.Status) bool {
		return s.AppServerLive || s.HasErrors
	})
	if err != nil {
		if r.Context().Err() == nil {
			writeJSON(w, http.StatusGatewayTimeout, map[string]string{"message": "app server did not become ready"})
		}
		return
	}
	if snap.HasErrors {
		g.renderErrors(w, snap)
		return
	}

	g.opts.Proxy.ServeHTTP(w, r)
}

func noCache(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setNoCache(w.Header())
		h.ServeHTTP(w, r)
	})
}

func setNoCache(h http.Header) {
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
