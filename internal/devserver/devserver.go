// Package devserver wires the compilers, the app server supervisor, the
// gateway and the runtime reporter into the `ark start` dev server.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/magicjsdev/ark/internal/compiler"
	"github.com/magicjsdev/ark/internal/config"
	"github.com/magicjsdev/ark/internal/gateway"
	"github.com/magicjsdev/ark/internal/reporter"
	"github.com/magicjsdev/ark/internal/status"
	"github.com/magicjsdev/ark/internal/supervisor"
)

// Compiler is one build target.
type Compiler interface {
	Target() compiler.Target
	OnCompiling(func())
	AttachMonitor(compiler.Monitor)
	Build(compiler.Options) error
	Teardown() error
}

// Supervisor runs the app server.
type Supervisor interface {
	HasArtifact() bool
	Restart() bool
	Stop()
	SetEnv(map[string]string)
	PID() int
}

// Printer renders status changes for the user.
type Printer interface {
	Print(status.Status)
}

// Reloader notifies connected browsers.
type Reloader interface {
	Broadcast(msg string)
}

// Deps are the collaborators of an Orchestrator. Nil fields get the real
// implementations.
type Deps struct {
	Frontend   Compiler
	Backend    Compiler
	Supervisor func(onLive func(bool)) Supervisor
	Reporter   *reporter.Reporter
	Printer    Printer
	Proxy      http.Handler
	Listener   net.Listener
	AppOutput  io.Writer
}

// Options holds the per-run settings resolved by the CLI.
type Options struct {
	Mode    compiler.Mode
	AppPort int
	DevPort int
	// WatchEnv restarts the app server when an env file changes.
	WatchEnv bool
}

// Orchestrator is the running dev server.
type Orchestrator struct {
	cfg    config.Config
	opts   Options
	logger *zap.Logger

	store    *status.Store
	events   *mailbox
	frontend Compiler
	backend  Compiler
	sup      Supervisor
	hub      *gateway.Hub
	gateway  *gateway.Gateway
	reporter *reporter.Reporter
	printer  Printer
	reloader Reloader
	listener net.Listener

	// Loop-owned state.
	backendReady  bool
	pendingReload bool
}

// New assembles an orchestrator for the project in cfg.
func New(cfg config.Config, opts Options, deps Deps, logger *zap.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Mode == "" {
		opts.Mode = compiler.Development
	}
	if opts.AppPort == 0 {
		opts.AppPort = cfg.DevServer.AppPort
	}
	if opts.DevPort == 0 {
		opts.DevPort = cfg.DevServer.Port
	}

	o := &Orchestrator{
		cfg:      cfg,
		opts:     opts,
		logger:   logger,
		store:    status.NewStore(status.New(opts.DevPort, opts.AppPort)),
		events:   newMailbox(),
		frontend: deps.Frontend,
		backend:  deps.Backend,
		reporter: deps.Reporter,
		printer:  deps.Printer,
		listener: deps.Listener,
	}

	if o.frontend == nil {
		o.frontend = compiler.New(compiler.Frontend, logger)
	}
	if o.backend == nil {
		o.backend = compiler.New(compiler.Backend, logger)
	}
	if o.reporter == nil {
		o.reporter = reporter.New(cfg.DevServer.RuntimeURL, logger)
	}
	if o.printer == nil {
		o.printer = nopPrinter{}
	}

	if deps.Supervisor != nil {
		o.sup = deps.Supervisor(o.onLive)
	} else {
		env, err := cfg.LoadEnv()
		if err != nil {
			return nil, err
		}
		var readiness string
		if cfg.DevServer.ReadinessPath != "" {
			readiness = fmt.Sprintf("http://127.0.0.1:%d%s", opts.AppPort, cfg.DevServer.ReadinessPath)
		}
		o.sup = supervisor.New(supervisor.Options{
			Artifact:     cfg.ServerArtifact(),
			Dir:          cfg.Root,
			Port:         opts.AppPort,
			Env:          env,
			Grace:        cfg.DevServer.LivenessGrace,
			Marker:       cfg.DevServer.LivenessMarker,
			ReadinessURL: readiness,
			Output:       deps.AppOutput,
		}, logger, o.onLive)
	}

	o.hub = gateway.NewHub(logger)
	o.reloader = o.hub
	o.gateway = gateway.New(o.store, o.hub, gateway.Options{
		BuildDir: cfg.BuildPath(),
		Proxy:    deps.Proxy,
	}, logger)

	o.wire(o.frontend)
	o.wire(o.backend)
	return o, nil
}

// Store exposes the status store.
func (o *Orchestrator) Store() *status.Store { return o.store }

// Handler is the gateway serving dev server traffic.
func (o *Orchestrator) Handler() http.Handler { return o.gateway }

// AppPID returns the pid of the running app server, or 0.
func (o *Orchestrator) AppPID() int { return o.sup.PID() }

// RequestRestart asks the event loop to restart the app server.
func (o *Orchestrator) RequestRestart() {
	o.events.push(event{kind: evRestart})
}

func (o *Orchestrator) wire(c Compiler) {
	target := c.Target()
	c.OnCompiling(func() {
		o.events.push(event{kind: evCompiling, target: target})
	})
	c.AttachMonitor(func(err error, res *compiler.Result) {
		if err != nil {
			o.events.push(event{kind: evFatal, target: target, err: err})
			return
		}
		o.events.push(event{kind: evResult, target: target, result: res})
	})
}

func (o *Orchestrator) onLive(live bool) {
	o.events.push(event{kind: evLive, live: live})
}

// Run serves until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	ln := o.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", fmt.Sprintf(":%d", o.opts.DevPort))
		if err != nil {
			return fmt.Errorf("failed to listen on port %d: %w", o.opts.DevPort, err)
		}
	}
	port := ln.Addr().(*net.TCPAddr).Port

	g, ctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Handler:           o.gateway,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	o.store.Update(func(s *status.Status) {
		s.DevServerActive = true
		s.DevServerPort = port
	})

	g.Go(func() error {
		return o.loop(ctx)
	})
	g.Go(func() error {
		var err error
		if o.cfg.DevServer.TLSCert != "" {
			err = srv.ServeTLS(ln, o.cfg.DevServer.TLSCert, o.cfg.DevServer.TLSKey)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return o.reporter.Run(ctx)
	})
	if o.opts.WatchEnv {
		w, err := newEnvWatcher(o.cfg, o.logger, func() {
			o.events.push(event{kind: evEnvChanged})
		})
		if err != nil {
			o.logger.Warn("env watcher disabled", zap.Error(err))
		} else {
			g.Go(func() error {
				return w.Run(ctx)
			})
		}
	}

	o.logger.Info("dev server listening", zap.Int("port", port), zap.Int("appPort", o.opts.AppPort))
	o.startCompilers()

	err := g.Wait()

	o.frontend.Teardown()
	o.backend.Teardown()
	o.sup.Stop()
	o.hub.Close()
	o.store.Update(func(s *status.Status) {
		s.DevServerActive = false
		s.AppServerLive = false
	})
	return err
}

func (o *Orchestrator) startCompilers() {
	opts := compiler.Options{
		Root:           o.cfg.Root,
		SrcDir:         o.cfg.SrcDir,
		BuildDir:       o.cfg.BuildDir,
		Mode:           o.opts.Mode,
		Watch:          true,
		LiveReloadPath: gateway.LiveReloadPath,
		Title:          o.cfg.Name,
	}
	// Fatal errors also reach the monitor, which logs them.
	_ = o.backend.Build(opts)
	_ = o.frontend.Build(opts)
}

func (o *Orchestrator) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-o.events.signal:
			for _, ev := range o.events.drain() {
				o.handle(ev)
			}
		}
	}
}

func (o *Orchestrator) handle(ev event) {
	switch ev.kind {
	case evCompiling:
		o.logger.Info("Compiling...", zap.String("target", string(ev.target)))
		o.publish(o.store.Update(func(s *status.Status) {
			setCompiled(s, ev.target, false)
		}))

	case evResult:
		res := ev.result
		o.logger.Info("compiled",
			zap.String("target", string(res.Target)),
			zap.Int("errors", len(res.Errors)),
			zap.Int("warnings", len(res.Warnings)),
			zap.Duration("took", res.Duration))
		if res.Target == compiler.Backend && len(res.Errors) == 0 {
			o.backendReady = true
		}
		o.publish(o.store.Update(func(s *status.Status) {
			setCompiled(s, res.Target, true)
			setDiagnostics(s, res)
		}))
		if len(res.Errors) == 0 {
			o.pendingReload = true
		}
		if o.backendReady && ShouldRestart(o.cfg.DevServer.RestartPolicy, res) {
			o.restart()
		}

	case evFatal:
		o.logger.Error("compiler failed", zap.String("target", string(ev.target)), zap.Error(ev.err))

	case evLive:
		snap := o.store.Update(func(s *status.Status) { s.AppServerLive = ev.live })
		o.publish(snap)
		if ev.live && o.pendingReload && !snap.HasErrors {
			o.pendingReload = false
			o.reloader.Broadcast(gateway.ReloadMessage)
		}

	case evEnvChanged:
		env, err := o.cfg.LoadEnv()
		if err != nil {
			o.logger.Error("failed to reload env", zap.Error(err))
			return
		}
		o.sup.SetEnv(env)
		if !o.backendReady {
			o.logger.Info("env changed, restart deferred until the backend compiles")
			return
		}
		o.logger.Info("env changed, restarting app server")
		o.restart()

	case evRestart:
		if !o.backendReady {
			o.logger.Info("restart deferred until the backend compiles")
			return
		}
		o.restart()
	}
}

// restart marks the app server down before the old child is killed, so
// requests arriving meanwhile are held instead of proxied to a dead port.
// Without an artifact nothing is killed and liveness is left alone.
func (o *Orchestrator) restart() {
	if !o.sup.HasArtifact() {
		o.logger.Debug("restart skipped, no artifact")
		return
	}
	if o.store.Snapshot().AppServerLive {
		o.publish(o.store.Update(func(s *status.Status) { s.AppServerLive = false }))
	}
	if !o.sup.Restart() {
		o.logger.Debug("restart skipped")
	}
}

func (o *Orchestrator) publish(s status.Status) {
	o.printer.Print(s)
	o.reporter.Report(s)
}

// ShouldRestart applies policy to a finished pass.
func ShouldRestart(policy config.RestartPolicy, res *compiler.Result) bool {
	switch policy {
	case config.RestartNoErrors:
		return len(res.Errors) == 0
	case config.RestartStrict:
		return len(res.Errors) == 0 && len(res.Warnings) == 0
	}
	return true
}

func setCompiled(s *status.Status, target compiler.Target, v bool) {
	if target == compiler.Frontend {
		s.FrontendCompiled = v
	} else {
		s.BackendCompiled = v
	}
}

func setDiagnostics(s *status.Status, res *compiler.Result) {
	if res.Target == compiler.Frontend {
		s.FrontendErrors = res.ErrorStrings()
		s.FrontendWarnings = res.WarningStrings()
	} else {
		s.BackendErrors = res.ErrorStrings()
		s.BackendWarnings = res.WarningStrings()
	}
}

type nopPrinter struct{}

func (nopPrinter) Print(status.Status) {}
