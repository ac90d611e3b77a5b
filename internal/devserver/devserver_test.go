package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/magicjsdev/ark/internal/compiler"
	"github.com/magicjsdev/ark/internal/config"
	"github.com/magicjsdev/ark/internal/reporter"
	"github.com/magicjsdev/ark/internal/status"
)

type fakeCompiler struct {
	target compiler.Target

	mu        sync.Mutex
	compiling []func()
	monitor   compiler.Monitor
	builds    []compiler.Options
	torn      bool
}

func (f *fakeCompiler) Target() compiler.Target { return f.target }

func (f *fakeCompiler) OnCompiling(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.compiling = append(f.compiling, fn)
}

func (f *fakeCompiler) AttachMonitor(m compiler.Monitor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.monitor = m
}

func (f *fakeCompiler) Build(opts compiler.Options) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builds = append(f.builds, opts)
	return nil
}

func (f *fakeCompiler) Teardown() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.torn = true
	return nil
}

func (f *fakeCompiler) startPass() {
	f.mu.Lock()
	handlers := append([]func(){}, f.compiling...)
	f.mu.Unlock()
	for _, fn := range handlers {
		fn()
	}
}

func (f *fakeCompiler) finish(errs, warns int) {
	res := &compiler.Result{Target: f.target, BuildID: fmt.Sprint(time.Now().UnixNano())}
	for i := 0; i < errs; i++ {
		res.Errors = append(res.Errors, compiler.Diagnostic{Text: fmt.Sprintf("error %d", i), File: "src/app.tsx", Line: i + 1})
	}
	for i := 0; i < warns; i++ {
		res.Warnings = append(res.Warnings, compiler.Diagnostic{Text: fmt.Sprintf("warning %d", i)})
	}
	f.mu.Lock()
	m := f.monitor
	f.mu.Unlock()
	m(nil, res)
}

func (f *fakeCompiler) fail(err error) {
	f.mu.Lock()
	m := f.monitor
	f.mu.Unlock()
	m(err, nil)
}

type fakeSupervisor struct {
	onLive   func(bool)
	artifact atomic.Bool
	restarts atomic.Int32
	stopped  atomic.Bool
	env      atomic.Value
	pid      atomic.Int32

	// store is read at kill time to record what held requests would see.
	store         *status.Store
	mu            sync.Mutex
	liveAtRestart []bool
}

func (s *fakeSupervisor) HasArtifact() bool { return s.artifact.Load() }

func (s *fakeSupervisor) Restart() bool {
	if !s.artifact.Load() {
		return false
	}
	if s.store != nil {
		s.mu.Lock()
		s.liveAtRestart = append(s.liveAtRestart, s.store.Snapshot().AppServerLive)
		s.mu.Unlock()
	}
	s.restarts.Add(1)
	s.onLive(false)
	return true
}

func (s *fakeSupervisor) PID() int { return int(s.pid.Load()) }

func (s *fakeSupervisor) Stop() { s.stopped.Store(true) }

func (s *fakeSupervisor) SetEnv(env map[string]string) { s.env.Store(env) }

type countingPrinter struct {
	n atomic.Int32
}

func (p *countingPrinter) Print(status.Status) { p.n.Add(1) }

type harness struct {
	o        *Orchestrator
	frontend *fakeCompiler
	backend  *fakeCompiler
	sup      *fakeSupervisor
	printer  *countingPrinter
	proxied  atomic.Int32
	cancel   context.CancelFunc
	done     chan error
}

func start(t *testing.T, mutate func(*config.Config), extra ...func(*Deps)) *harness {
	t.Helper()

	cfg := config.Default()
	cfg.Root = t.TempDir()
	if mutate != nil {
		mutate(&cfg)
	}

	h := &harness{
		frontend: &fakeCompiler{target: compiler.Frontend},
		backend:  &fakeCompiler{target: compiler.Backend},
		sup:      &fakeSupervisor{},
		printer:  &countingPrinter{},
		done:     make(chan error, 1),
	}
	h.sup.artifact.Store(true)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	deps := Deps{
		Frontend: h.frontend,
		Backend:  h.backend,
		Supervisor: func(onLive func(bool)) Supervisor {
			h.sup.onLive = onLive
			return h.sup
		},
		Printer:  h.printer,
		Listener: ln,
		Proxy: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h.proxied.Add(1)
			fmt.Fprint(w, "app")
		}),
	}
	for _, fn := range extra {
		fn(&deps)
	}
	o, err := New(cfg, Options{AppPort: 3999}, deps, zap.NewNop())
	require.NoError(t, err)
	h.o = o
	h.sup.store = o.Store()

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- o.Run(ctx) }()

	_, err = h.wait(t, func(s status.Status) bool { return s.DevServerActive })
	require.NoError(t, err)

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-h.done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("orchestrator did not stop")
		}
	})
	return h
}

func (h *harness) wait(t *testing.T, pred func(status.Status) bool) (status.Status, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return h.o.Store().Wait(ctx, pred)
}

func TestCompilersStartInWatchMode(t *testing.T) {
	h := start(t, nil)

	require.Eventually(t, func() bool {
		h.backend.mu.Lock()
		defer h.backend.mu.Unlock()
		return len(h.backend.builds) == 1
	}, time.Second, 10*time.Millisecond)

	h.frontend.mu.Lock()
	defer h.frontend.mu.Unlock()
	require.Len(t, h.frontend.builds, 1)
	assert.True(t, h.frontend.builds[0].Watch)
	assert.Equal(t, compiler.Development, h.frontend.builds[0].Mode)
}

func TestBackendErrorThenFix(t *testing.T) {
	h := start(t, nil)

	h.frontend.startPass()
	h.frontend.finish(0, 0)
	h.backend.startPass()
	h.backend.finish(1, 0)

	s, err := h.wait(t, func(s status.Status) bool { return s.BackendCompiled && s.FrontendCompiled })
	require.NoError(t, err)
	assert.Len(t, s.BackendErrors, 1)
	assert.Equal(t, status.Error, s.CompilationStatus)
	assert.Zero(t, h.sup.restarts.Load(), "no restart before the backend ever compiled cleanly")

	h.backend.startPass()
	s, err = h.wait(t, func(s status.Status) bool { return !s.BackendCompiled })
	require.NoError(t, err)
	assert.Equal(t, status.Building, s.CompilationStatus)

	h.backend.finish(0, 0)
	s, err = h.wait(t, func(s status.Status) bool { return s.CompilationStatus == status.Ready })
	require.NoError(t, err)
	assert.False(t, s.HasErrors)

	require.Eventually(t, func() bool { return h.sup.restarts.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), h.sup.restarts.Load(), "exactly one restart for the fixing pass")
}

func TestFrontendWarningBackendClean(t *testing.T) {
	h := start(t, nil)

	h.frontend.finish(0, 1)
	h.backend.finish(0, 0)

	s, err := h.wait(t, func(s status.Status) bool { return s.BackendCompiled && s.FrontendCompiled })
	require.NoError(t, err)
	assert.Equal(t, status.CompiledWithWarnings, s.CompilationStatus)
	assert.False(t, s.HasErrors)
	assert.True(t, s.HasWarnings)
}

func TestFatalErrorLeavesBuilding(t *testing.T) {
	h := start(t, nil)

	h.frontend.finish(0, 0)
	h.backend.fail(compiler.ErrEntryMissing)

	time.Sleep(50 * time.Millisecond)
	s := h.o.Store().Snapshot()
	assert.Equal(t, status.Building, s.CompilationStatus)
	assert.False(t, s.BackendCompiled)
	assert.Zero(t, h.sup.restarts.Load())
}

func TestLivenessGatesRequests(t *testing.T) {
	h := start(t, nil)
	srv := httptest.NewServer(h.o.Handler())
	defer srv.Close()

	h.frontend.finish(0, 0)
	h.backend.finish(0, 0)
	require.Eventually(t, func() bool { return h.sup.restarts.Load() >= 1 }, time.Second, 5*time.Millisecond)

	got := make(chan int, 1)
	go func() {
		resp, err := http.Get(srv.URL + "/")
		if err != nil {
			got <- -1
			return
		}
		resp.Body.Close()
		got <- resp.StatusCode
	}()

	select {
	case <-got:
		t.Fatal("request answered before the app server was live")
	case <-time.After(100 * time.Millisecond):
	}
	assert.Zero(t, h.proxied.Load())

	h.sup.onLive(true)

	select {
	case code := <-got:
		assert.Equal(t, http.StatusOK, code)
	case <-time.After(2 * time.Second):
		t.Fatal("request not released")
	}
	assert.Equal(t, int32(1), h.proxied.Load())
}

func TestMissingArtifactKeepsLiveness(t *testing.T) {
	h := start(t, nil)
	h.sup.artifact.Store(false)

	h.sup.onLive(true)
	_, err := h.wait(t, func(s status.Status) bool { return s.AppServerLive })
	require.NoError(t, err)

	h.frontend.finish(0, 0)
	h.backend.finish(0, 0)
	_, err = h.wait(t, func(s status.Status) bool { return s.CompilationStatus == status.Ready })
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.True(t, h.o.Store().Snapshot().AppServerLive)
	assert.Zero(t, h.sup.restarts.Load())
}

func TestRestartPolicyNoErrors(t *testing.T) {
	h := start(t, func(c *config.Config) { c.DevServer.RestartPolicy = config.RestartNoErrors })

	h.backend.finish(0, 0)
	require.Eventually(t, func() bool { return h.sup.restarts.Load() == 1 }, time.Second, 5*time.Millisecond)

	h.frontend.finish(2, 0)
	_, err := h.wait(t, func(s status.Status) bool { return s.HasErrors })
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), h.sup.restarts.Load())
}

func TestEveryRecomputePrints(t *testing.T) {
	h := start(t, nil)
	before := h.printer.n.Load()

	h.frontend.startPass()
	h.frontend.finish(0, 0)
	h.backend.startPass()
	h.backend.finish(0, 0)

	// Four compiler events plus the not-live report from the restart.
	require.Eventually(t, func() bool { return h.printer.n.Load()-before >= 5 }, time.Second, 5*time.Millisecond)
}

func TestRequestRestart(t *testing.T) {
	h := start(t, nil)

	// A stale artifact from an earlier session must not be served before
	// the backend compiled in this one.
	h.o.RequestRestart()
	h.o.events.push(event{kind: evEnvChanged})
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, h.sup.restarts.Load())
	assert.NotNil(t, h.sup.env.Load(), "env is reloaded even when the restart is deferred")
	assert.False(t, h.o.Store().Snapshot().AppServerLive)

	h.backend.finish(0, 0)
	require.Eventually(t, func() bool { return h.sup.restarts.Load() == 1 }, time.Second, 5*time.Millisecond)

	h.o.RequestRestart()
	require.Eventually(t, func() bool { return h.sup.restarts.Load() == 2 }, time.Second, 5*time.Millisecond)

	h.o.events.push(event{kind: evEnvChanged})
	require.Eventually(t, func() bool { return h.sup.restarts.Load() == 3 }, time.Second, 5*time.Millisecond)
}

func TestRestartMarksAppDownBeforeKill(t *testing.T) {
	h := start(t, nil)

	h.frontend.finish(0, 0)
	h.backend.finish(0, 0)
	require.Eventually(t, func() bool { return h.sup.restarts.Load() == 1 }, time.Second, 5*time.Millisecond)

	h.sup.onLive(true)
	_, err := h.wait(t, func(s status.Status) bool { return s.AppServerLive })
	require.NoError(t, err)

	h.backend.startPass()
	h.backend.finish(0, 0)
	require.Eventually(t, func() bool { return h.sup.restarts.Load() == 2 }, time.Second, 5*time.Millisecond)

	h.sup.mu.Lock()
	defer h.sup.mu.Unlock()
	assert.Equal(t, []bool{false, false}, h.sup.liveAtRestart)
}

func TestEveryRecomputeReports(t *testing.T) {
	var (
		mu      sync.Mutex
		reports []status.Status
	)
	runtime := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != reporter.ReportPath {
			http.NotFound(w, r)
			return
		}
		var s status.Status
		if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		reports = append(reports, s)
		mu.Unlock()
	}))
	t.Cleanup(runtime.Close)

	h := start(t, nil, func(d *Deps) {
		d.Reporter = reporter.New(runtime.URL, zap.NewNop())
	})

	h.frontend.startPass()
	h.frontend.finish(0, 0)
	h.backend.startPass()
	h.backend.finish(1, 0)

	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(reports)
	}
	require.Eventually(t, func() bool { return count() == 4 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 4, count(), "one report per compiler event")

	mu.Lock()
	defer mu.Unlock()
	last := reports[len(reports)-1]
	assert.Equal(t, status.Error, last.CompilationStatus)
	assert.Len(t, last.BackendErrors, 1)
	assert.Zero(t, h.sup.restarts.Load())
}

func TestAppPID(t *testing.T) {
	h := start(t, nil)
	assert.Zero(t, h.o.AppPID())
	h.sup.pid.Store(4242)
	assert.Equal(t, 4242, h.o.AppPID())
}

func TestShutdownStopsEverything(t *testing.T) {
	h := start(t, nil)
	h.cancel()
	require.NoError(t, <-h.done)
	h.done <- nil

	assert.True(t, h.sup.stopped.Load())
	assert.True(t, h.frontend.torn)
	assert.False(t, h.o.Store().Snapshot().DevServerActive)
}

func TestShouldRestart(t *testing.T) {
	clean := &compiler.Result{}
	warn := &compiler.Result{Warnings: []compiler.Diagnostic{{Text: "w"}}}
	broken := &compiler.Result{Errors: []compiler.Diagnostic{{Text: "e"}}}

	tests := []struct {
		policy config.RestartPolicy
		res    *compiler.Result
		want   bool
	}{
		{config.RestartAlways, broken, true},
		{config.RestartAlways, clean, true},
		{config.RestartNoErrors, broken, false},
		{config.RestartNoErrors, warn, true},
		{config.RestartStrict, warn, false},
		{config.RestartStrict, clean, true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%d-%d", tt.policy, len(tt.res.Errors), len(tt.res.Warnings)), func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldRestart(tt.policy, tt.res))
		})
	}
}

// syncCompiler reports its result from inside Build, like a one-shot unit.
type syncCompiler struct {
	fakeCompiler
	errs int
	err  error
}

func (s *syncCompiler) Build(opts compiler.Options) error {
	if s.err != nil {
		return s.err
	}
	s.finish(s.errs, 0)
	return nil
}

func TestBuildWith(t *testing.T) {
	cfg := config.Default()
	cfg.Root = t.TempDir()

	fe := &syncCompiler{fakeCompiler: fakeCompiler{target: compiler.Frontend}, errs: 2}
	be := &syncCompiler{fakeCompiler: fakeCompiler{target: compiler.Backend}}

	report, err := buildWith(cfg, compiler.Production, fe, be)
	require.NoError(t, err)
	require.NotNil(t, report.Frontend)
	require.NotNil(t, report.Backend)
	assert.Equal(t, 2, report.Errors())
	st := report.Status()
	assert.Equal(t, status.Error, st.CompilationStatus)
	assert.Len(t, st.FrontendErrors, 2)
	assert.True(t, st.BackendCompiled)

	be.err = compiler.ErrEntryMissing
	_, err = buildWith(cfg, compiler.Production, fe, be)
	assert.ErrorIs(t, err, compiler.ErrEntryMissing)
}

func TestEnvWatcher(t *testing.T) {
	cfg := config.Default()
	cfg.Root = t.TempDir()

	changed := make(chan struct{}, 4)
	w, err := newEnvWatcher(cfg, zap.NewNop(), func() { changed <- struct{}{} })
	require.NoError(t, err)
	w.debounceDur = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, os.WriteFile(filepath.Join(cfg.Root, "unrelated.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Root, ".env"), []byte("A=1\n"), 0o644))

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("no change reported for .env")
	}

	select {
	case <-changed:
		t.Fatal("unrelated file or duplicate event reported")
	case <-time.After(100 * time.Millisecond):
	}
}
