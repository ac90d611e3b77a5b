// Package compiler runs the frontend and backend bundles through esbuild,
// one Unit per target, in watch or one-shot mode.
package compiler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Target names a build pipeline.
type Target string

const (
	Frontend Target = "frontend"
	Backend  Target = "backend"
)

// Mode selects development or production output.
type Mode string

const (
	Development Mode = "development"
	Production  Mode = "production"
)

// ErrEntryMissing is reported when the application entry file does not exist.
var ErrEntryMissing = errors.New("entry file missing")

// Diagnostic is one error or warning emitted by a compile pass.
type Diagnostic struct {
	Text     string `json:"text"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
	LineText string `json:"lineText,omitempty"`
	Plugin   string `json:"plugin,omitempty"`
}

func (d Diagnostic) String() string {
	if d.File == "" {
		return d.Text
	}
	return fmt.Sprintf("%s:%d:%d: %s", d.File, d.Line, d.Column, d.Text)
}

// Result is the outcome of one finished compile pass. Compile errors are data
// here, not failures.
type Result struct {
	Target    Target
	BuildID   string
	Errors    []Diagnostic
	Warnings  []Diagnostic
	RawOutput string
	Duration  time.Duration
}

// ErrorStrings renders the errors for status reporting.
func (r *Result) ErrorStrings() []string { return render(r.Errors) }

// WarningStrings renders the warnings for status reporting.
func (r *Result) WarningStrings() []string { return render(r.Warnings) }

func render(ds []Diagnostic) []string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.String())
	}
	return out
}

// Monitor receives either a fatal tooling error or a finished result.
type Monitor func(err error, res *Result)

// Options configures a build.
type Options struct {
	Root     string
	SrcDir   string
	BuildDir string
	Mode     Mode
	Watch    bool

	// LiveReloadPath is the websocket path injected into client.html in
	// development. Empty disables the snippet.
	LiveReloadPath string
	Title          string
}

func (o Options) src() string   { return filepath.Join(o.Root, o.SrcDir) }
func (o Options) build() string { return filepath.Join(o.Root, o.BuildDir) }

func (o Options) validate() error {
	if o.Root == "" || o.SrcDir == "" || o.BuildDir == "" {
		return errors.New("invalid build options: root, src and build directories are required")
	}
	if o.Mode != Development && o.Mode != Production {
		return fmt.Errorf("invalid build options: unknown mode %q", o.Mode)
	}
	return nil
}

// Unit is a tracked build pipeline for one target.
type Unit struct {
	target Target
	logger *zap.Logger

	mu        sync.Mutex
	compiling []func()
	monitor   Monitor
	ctx       api.BuildContext
	started   time.Time
}

// New creates a unit for target.
func New(target Target, logger *zap.Logger) *Unit {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Unit{target: target, logger: logger.Named(string(target))}
}

// Target returns the unit's target.
func (u *Unit) Target() Target { return u.target }

// OnCompiling registers fn to run whenever a (re)build starts.
func (u *Unit) OnCompiling(fn func()) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.compiling = append(u.compiling, fn)
}

// AttachMonitor sets the callback receiving results and fatal errors.
func (u *Unit) AttachMonitor(m Monitor) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.monitor = m
}

// Build starts the compilation. In watch mode it returns once watching has
// begun; results arrive through the monitor. A fatal error is delivered to
// the monitor and also returned.
func (u *Unit) Build(opts Options) error {
	if err := u.build(opts); err != nil {
		u.report(err, nil)
		return err
	}
	return nil
}

func (u *Unit) build(opts Options) error {
	if err := opts.validate(); err != nil {
		return err
	}

	entry := filepath.Join(opts.src(), "app.tsx")
	if _, err := os.Stat(entry); err != nil {
		return fmt.Errorf("%w: %s", ErrEntryMissing, entry)
	}

	buildOpts, err := u.options(opts)
	if err != nil {
		return err
	}

	ctx, cerr := api.Context(buildOpts)
	if cerr != nil {
		return fmt.Errorf("invalid %s build configuration: %s", u.target, joinMessages(cerr.Errors))
	}

	u.mu.Lock()
	prev := u.ctx
	u.ctx = ctx
	u.mu.Unlock()
	if prev != nil {
		prev.Dispose()
	}

	if !opts.Watch {
		ctx.Rebuild()
		return u.Teardown()
	}

	if err := ctx.Watch(api.WatchOptions{}); err != nil {
		return fmt.Errorf("failed to watch %s: %w", u.target, err)
	}
	u.logger.Debug("watching", zap.String("src", opts.src()))
	return nil
}

// Teardown stops watching and releases the build context.
func (u *Unit) Teardown() error {
	u.mu.Lock()
	ctx := u.ctx
	u.ctx = nil
	u.mu.Unlock()

	if ctx != nil {
		ctx.Dispose()
	}
	return nil
}

func (u *Unit) options(opts Options) (api.BuildOptions, error) {
	switch u.target {
	case Frontend:
		return frontendOptions(u, opts), nil
	case Backend:
		return backendOptions(u, opts)
	}
	return api.BuildOptions{}, fmt.Errorf("unknown target %q", u.target)
}

func (u *Unit) startPass() {
	u.mu.Lock()
	u.started = time.Now()
	handlers := append([]func(){}, u.compiling...)
	u.mu.Unlock()

	for _, fn := range handlers {
		fn()
	}
}

func (u *Unit) finishPass(result *api.BuildResult) *Result {
	u.mu.Lock()
	started := u.started
	u.mu.Unlock()

	res := &Result{
		Target:   u.target,
		BuildID:  uuid.NewString(),
		Errors:   diagnostics(result.Errors),
		Warnings: diagnostics(result.Warnings),
		Duration: time.Since(started),
	}
	res.RawOutput = rawOutput(result)
	return res
}

func (u *Unit) report(err error, res *Result) {
	u.mu.Lock()
	m := u.monitor
	u.mu.Unlock()

	if m != nil {
		m(err, res)
	}
}

func diagnostics(msgs []api.Message) []Diagnostic {
	out := make([]Diagnostic, 0, len(msgs))
	for _, m := range msgs {
		d := Diagnostic{Text: m.Text, Plugin: m.PluginName}
		if m.Location != nil {
			d.File = m.Location.File
			d.Line = m.Location.Line
			d.Column = m.Location.Column
			d.LineText = m.Location.LineText
		}
		out = append(out, d)
	}
	return out
}

func rawOutput(result *api.BuildResult) string {
	var b strings.Builder
	for _, s := range api.FormatMessages(result.Errors, api.FormatMessagesOptions{Kind: api.ErrorMessage}) {
		b.WriteString(s)
	}
	for _, s := range api.FormatMessages(result.Warnings, api.FormatMessagesOptions{Kind: api.WarningMessage}) {
		b.WriteString(s)
	}
	return b.String()
}

func joinMessages(msgs []api.Message) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		parts = append(parts, m.Text)
	}
	return strings.Join(parts, "; ")
}
