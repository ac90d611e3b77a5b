package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/magicjsdev/ark/internal/status"
)

// countingProxy stands in for the reverse proxy.
type countingProxy struct {
	calls atomic.Int32
}

func (p *countingProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.calls.Add(1)
	fmt.Fprint(w, "proxied")
}

func compiled(s *status.Status) {
	s.FrontendCompiled = true
	s.BackendCompiled = true
}

func newGateway(t *testing.T, store *status.Store, proxy http.Handler) *Gateway {
	t.Helper()
	return New(store, NewHub(zap.NewNop()), Options{BuildDir: t.TempDir(), Proxy: proxy}, zap.NewNop())
}

func TestStatusEndpoint(t *testing.T) {
	store := status.NewStore(status.New(3001, 3000))
	store.Update(func(s *status.Status) {
		compiled(s)
		s.FrontendWarnings = []string{"unused var"}
	})
	g := newGateway(t, store, &countingProxy{})

	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, StatusPath, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "compiled-with-warnings", body["compilationStatus"])
	assert.Equal(t, float64(3000), body["appServerPort"])
	assert.Equal(t, false, body["hasErrors"])
	assert.Equal(t, []any{"unused var"}, body["frontendWarnings"])
}

func TestErrorPageServedImmediately(t *testing.T) {
	store := status.NewStore(status.New(3001, 3000))
	store.Update(func(s *status.Status) {
		s.BackendCompiled = true
		s.BackendErrors = []string{"src/app.tsx:2:0: Unexpected end of file"}
		s.FrontendErrors = []string{"src/views/home.tsx:1:7: Could not resolve \"x\""}
	})
	proxy := &countingProxy{}
	g := newGateway(t, store, proxy)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		rec := httptest.NewRecorder()
		g.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
		done <- rec
	}()

	var rec *httptest.ResponseRecorder
	select {
	case rec = <-done:
	case <-time.After(time.Second):
		t.Fatal("request with errors must not wait")
	}

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "no-cache, no-store, must-revalidate", rec.Header().Get("Cache-Control"))
	assert.Zero(t, proxy.calls.Load())

	doc, err := html.Parse(rec.Body)
	require.NoError(t, err)
	pres := textOf(doc, "pre")
	assert.Equal(t, []string{
		"src/app.tsx:2:0: Unexpected end of file",
		"src/views/home.tsx:1:7: Could not resolve \"x\"",
	}, pres, "backend diagnostics come first")
	assert.Equal(t, []string{"Refresh"}, textOf(doc, "button"))
}

func TestRequestHeldUntilLive(t *testing.T) {
	store := status.NewStore(status.New(3001, 3000))
	proxy := &countingProxy{}
	g := newGateway(t, store, proxy)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		rec := httptest.NewRecorder()
		g.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		done <- rec
	}()

	store.Update(compiled)
	select {
	case <-done:
		t.Fatal("request proxied before app server was live")
	case <-time.After(100 * time.Millisecond):
	}
	assert.Zero(t, proxy.calls.Load())

	store.Update(func(s *status.Status) { s.AppServerLive = true })

	select {
	case rec := <-done:
		assert.Equal(t, "proxied", rec.Body.String())
	case <-time.After(2 * time.Second):
		t.Fatal("request not released")
	}
	assert.Equal(t, int32(1), proxy.calls.Load())
}

func TestHeldRequestGetsErrorPage(t *testing.T) {
	store := status.NewStore(status.New(3001, 3000))
	proxy := &countingProxy{}
	g := newGateway(t, store, proxy)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		rec := httptest.NewRecorder()
		g.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		done <- rec
	}()

	time.Sleep(20 * time.Millisecond)
	store.Update(func(s *status.Status) {
		s.BackendCompiled = true
		s.BackendErrors = []string{"boom"}
	})

	select {
	case rec := <-done:
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, rec.Body.String(), "boom")
	case <-time.After(2 * time.Second):
		t.Fatal("request not released")
	}
	assert.Zero(t, proxy.calls.Load())
}

func TestHeldRequestCancelled(t *testing.T) {
	store := status.NewStore(status.New(3001, 3000))
	proxy := &countingProxy{}
	g := newGateway(t, store, proxy)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		g.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx))
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cancelled request still held")
	}
	assert.Zero(t, proxy.calls.Load())
}

func TestMaxWait(t *testing.T) {
	store := status.NewStore(status.New(3001, 3000))
	g := New(store, nil, Options{BuildDir: t.TempDir(), Proxy: &countingProxy{}, MaxWait: 20 * time.Millisecond}, zap.NewNop())

	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestArtifactsBypassGate(t *testing.T) {
	store := status.NewStore(status.New(3001, 3000))
	proxy := &countingProxy{}
	buildDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(buildDir, "_browser"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(buildDir, "_browser", "client.js"), []byte("console.log(1)"), 0o644))
	g := New(store, nil, Options{BuildDir: buildDir, Proxy: proxy}, zap.NewNop())

	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/_browser/client.js", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "console.log(1)", rec.Body.String())
	assert.Equal(t, "no-cache", rec.Header().Get("Pragma"))
	assert.Zero(t, proxy.calls.Load())

	rec = httptest.NewRecorder()
	g.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/assets/logo-abc.png", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Zero(t, proxy.calls.Load(), "missing artifacts are not proxied")
}

func appPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	_, port, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	var p int
	fmt.Sscan(port, &p)
	return p
}

func TestProxySetsNoCacheHeaders(t *testing.T) {
	app := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		fmt.Fprintf(w, "hello %s", r.URL.Path)
	}))
	defer app.Close()

	store := status.NewStore(status.New(3001, appPort(t, app)))
	store.Update(func(s *status.Status) {
		compiled(s)
		s.AppServerLive = true
	})
	g := New(store, nil, Options{BuildDir: t.TempDir()}, zap.NewNop())
	srv := httptest.NewServer(g)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/page")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, "hello /page", string(body))
	assert.Equal(t, "no-cache, no-store, must-revalidate", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "no-cache", resp.Header.Get("Pragma"))
	assert.Equal(t, "0", resp.Header.Get("Expires"))
}

func TestProxyErrorIsBadGateway(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	store := status.NewStore(status.New(3001, port))
	store.Update(func(s *status.Status) { s.AppServerLive = true })
	g := New(store, nil, Options{BuildDir: t.TempDir()}, zap.NewNop())

	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["message"])
}

func TestProxyWebSocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	app := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			conn.WriteMessage(mt, append([]byte("echo:"), msg...))
		}
	}))
	defer app.Close()

	store := status.NewStore(status.New(3001, appPort(t, app)))
	store.Update(func(s *status.Status) { s.AppServerLive = true })
	srv := httptest.NewServer(New(store, nil, Options{BuildDir: t.TempDir()}, zap.NewNop()))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/socket", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hi")))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "echo:hi", string(msg))
}

func TestLiveReloadBroadcast(t *testing.T) {
	store := status.NewStore(status.New(3001, 3000))
	hub := NewHub(zap.NewNop())
	srv := httptest.NewServer(New(store, hub, Options{BuildDir: t.TempDir()}, zap.NewNop()))
	defer srv.Close()
	defer hub.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+LiveReloadPath, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)
	hub.Broadcast(ReloadMessage)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, ReloadMessage, string(msg))
}

// textOf collects the text content of every element named tag.
func textOf(n *html.Node, tag string) []string {
	var out []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == tag {
			var b strings.Builder
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.TextNode {
					b.WriteString(c.Data)
				}
			}
			out = append(out, b.String())
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}
