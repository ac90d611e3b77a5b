// Package supervisor runs the compiled backend bundle as a child process and
// tracks whether it is ready to take traffic.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// CommandFunc builds the command that serves artifact.
type CommandFunc func(artifact string) *exec.Cmd

// NodeCommand runs artifact with node.
func NodeCommand(artifact string) *exec.Cmd {
	return exec.Command("node", artifact)
}

// Options configures a Supervisor.
type Options struct {
	Artifact string
	Dir      string
	Port     int
	Env      map[string]string

	// Grace marks the child live after this long even without the marker.
	Grace time.Duration
	// Marker is the stdout line prefix announcing the child is bound.
	Marker string
	// ReadinessURL, when set, is polled and the first HTTP response marks
	// the child live.
	ReadinessURL string

	Output  io.Writer
	Command CommandFunc
}

// Supervisor owns at most one running app server.
type Supervisor struct {
	opts   Options
	logger *zap.Logger
	onLive func(bool)

	mu     sync.Mutex // serializes Restart and Stop
	emitMu sync.Mutex // orders generation bumps against liveness reports
	gen    atomic.Uint64
	cur    *child
	env    map[string]string
}

type child struct {
	gen  uint64
	cmd  *exec.Cmd
	done chan struct{}

	mu     sync.Mutex
	live   bool
	exited bool
	timer  *time.Timer
}

// New creates a supervisor. onLive receives every liveness change of the
// current child; it must not block.
func New(opts Options, logger *zap.Logger, onLive func(bool)) *Supervisor {
	if opts.Command == nil {
		opts.Command = NodeCommand
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Grace <= 0 {
		opts.Grace = 3 * time.Second
	}
	if opts.Marker == "" {
		opts.Marker = "Listening on port"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if onLive == nil {
		onLive = func(bool) {}
	}
	return &Supervisor{opts: opts, logger: logger.Named("app"), onLive: onLive, env: opts.Env}
}

// SetEnv replaces the extra environment used by the next Restart.
func (s *Supervisor) SetEnv(env map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.env = env
}

// Generation identifies the current child. It changes on every Restart that
// finds the artifact.
func (s *Supervisor) Generation() uint64 { return s.gen.Load() }

// PID returns the running child's pid, or 0.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil || s.cur.cmd.Process == nil {
		return 0
	}
	select {
	case <-s.cur.done:
		return 0
	default:
		return s.cur.cmd.Process.Pid
	}
}

// HasArtifact reports whether the next Restart will spawn a child.
func (s *Supervisor) HasArtifact() bool {
	_, err := os.Stat(s.opts.Artifact)
	return err == nil
}

// Restart kills the running child and starts a new one from the artifact.
// When the artifact does not exist yet it returns false and changes nothing.
func (s *Supervisor) Restart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.opts.Artifact); err != nil {
		s.logger.Info("Waiting for output...", zap.String("artifact", s.opts.Artifact))
		return false
	}

	s.emitMu.Lock()
	gen := s.gen.Add(1)
	s.onLive(false)
	s.emitMu.Unlock()

	s.kill()

	c, err := s.spawn(gen)
	if err != nil {
		s.logger.Error("failed to start app server", zap.Error(err))
		return false
	}
	s.cur = c
	s.logger.Info("app server started", zap.Int("pid", c.cmd.Process.Pid), zap.Int("port", s.opts.Port))
	return true
}

// Stop kills the running child and waits for it to exit.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.emitMu.Lock()
	s.gen.Add(1)
	s.emitMu.Unlock()

	s.kill()
}

// kill sends SIGKILL to the current child's process group and waits.
func (s *Supervisor) kill() {
	c := s.cur
	s.cur = nil
	if c == nil || c.cmd.Process == nil {
		return
	}

	pid := c.cmd.Process.Pid
	syscall.Kill(-pid, syscall.SIGKILL)
	c.cmd.Process.Kill()
	<-c.done
}

func (s *Supervisor) spawn(gen uint64) (*child, error) {
	cmd := s.opts.Command(s.opts.Artifact)
	if s.opts.Dir != "" {
		cmd.Dir = s.opts.Dir
	}
	cmd.Env = append(os.Environ(), cmd.Env...)
	for k, v := range s.env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Env = append(cmd.Env, fmt.Sprintf("DEV_PORT=%d", s.opts.Port))
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", s.opts.Artifact, err)
	}

	c := &child{gen: gen, cmd: cmd, done: make(chan struct{})}

	var streams sync.WaitGroup
	streams.Add(2)
	go func() {
		defer streams.Done()
		s.scan(c, stdout, true)
	}()
	go func() {
		defer streams.Done()
		s.scan(c, stderr, false)
	}()

	c.mu.Lock()
	c.timer = time.AfterFunc(s.opts.Grace, func() { s.markLive(c, "grace timer") })
	c.mu.Unlock()

	if s.opts.ReadinessURL != "" {
		go s.probe(c)
	}

	go func() {
		streams.Wait()
		err := cmd.Wait()
		s.exited(c, err)
		close(c.done)
	}()

	return c, nil
}

func (s *Supervisor) scan(c *child, r io.Reader, watchMarker bool) {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		fmt.Fprintln(s.opts.Output, line)
		if watchMarker && strings.HasPrefix(strings.TrimSpace(line), s.opts.Marker) {
			s.markLive(c, "marker")
		}
	}
}

func (s *Supervisor) probe(c *child) {
	client := &http.Client{Timeout: time.Second}
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, s.opts.ReadinessURL, nil)
		resp, err := client.Do(req)
		cancel()
		if err == nil {
			resp.Body.Close()
			s.markLive(c, "readiness probe")
			return
		}
	}
}

func (s *Supervisor) markLive(c *child, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live || c.exited {
		return
	}
	c.live = true
	if c.timer != nil {
		c.timer.Stop()
	}

	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if c.gen != s.gen.Load() {
		return
	}
	s.logger.Debug("app server live", zap.String("signal", reason))
	s.onLive(true)
}

func (s *Supervisor) exited(c *child, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exited = true
	if c.timer != nil {
		c.timer.Stop()
	}

	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if c.gen != s.gen.Load() {
		return
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		s.logger.Warn("app server exited")
	case errors.As(err, &exitErr):
		s.logger.Error("app server crashed", zap.Int("code", exitErr.ExitCode()))
	default:
		s.logger.Error("app server failed", zap.Error(err))
	}
	s.onLive(false)
}
