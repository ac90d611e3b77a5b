package ui

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/magicjsdev/ark/internal/status"
)

// DashboardRunner owns the dashboard program for one `ark start` session.
type DashboardRunner struct {
	dashboard *DashboardModel
	program   *tea.Program
}

// NewDashboardRunner creates a runner. Call Run to show the dashboard.
func NewDashboardRunner(opts DashboardOptions) *DashboardRunner {
	dashboard := NewDashboard(opts)
	return &DashboardRunner{
		dashboard: dashboard,
		program: tea.NewProgram(
			dashboard,
			tea.WithAltScreen(),
			tea.WithMouseCellMotion(),
		),
	}
}

// Run shows the dashboard until the user quits or ctx is cancelled.
func (r *DashboardRunner) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		r.dashboard.SendQuit()
		r.program.Quit()
	}()

	_, err := r.program.Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

// Print forwards a status change to the dashboard.
func (r *DashboardRunner) Print(s status.Status) {
	r.dashboard.SetStatus(s)
}

// Writer returns a writer whose lines appear in the dashboard log pane.
func (r *DashboardRunner) Writer(source LogSource) *LineWriter {
	return NewLineWriter(source, r.dashboard.SendLog)
}

// Dashboard returns the underlying model.
func (r *DashboardRunner) Dashboard() *DashboardModel {
	return r.dashboard
}
