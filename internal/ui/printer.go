package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/magicjsdev/ark/internal/status"
)

// StatusPrinter writes status changes as plain scrolling output, for
// terminals without the dashboard. Repeated identical renders are skipped.
type StatusPrinter struct {
	mu   sync.Mutex
	out  io.Writer
	last string
}

// NewStatusPrinter creates a printer writing to out.
func NewStatusPrinter(out io.Writer) *StatusPrinter {
	return &StatusPrinter{out: out}
}

// Print renders s if it differs from the last render.
func (p *StatusPrinter) Print(s status.Status) {
	text := Summary(s) + "\n" + Diagnostics(s)

	p.mu.Lock()
	defer p.mu.Unlock()
	if text == p.last {
		return
	}
	p.last = text
	fmt.Fprint(p.out, text)
}

// Summary is the one-line state of the dev server.
func Summary(s status.Status) string {
	parts := []string{
		statusLabel(s.CompilationStatus),
		"frontend " + check(s.FrontendCompiled),
		"backend " + check(s.BackendCompiled),
	}
	if s.AppServerLive {
		parts = append(parts, successStyle.Render("app live"))
	} else {
		parts = append(parts, dimStyle.Render("app starting"))
	}
	if s.DevServerActive {
		parts = append(parts, infoStyle.Render(fmt.Sprintf("http://localhost:%d", s.DevServerPort)))
	}
	return strings.Join(parts, "  ")
}

// Diagnostics renders the error and warning lists, errors first, one
// block per target.
func Diagnostics(s status.Status) string {
	var b strings.Builder
	block := func(title string, lines []string, style func(...string) string) {
		if len(lines) == 0 {
			return
		}
		b.WriteString(style(title) + "\n")
		for _, l := range lines {
			b.WriteString("  " + l + "\n")
		}
	}
	block(fmt.Sprintf("Backend errors (%d)", len(s.BackendErrors)), s.BackendErrors, errorStyle.Render)
	block(fmt.Sprintf("Frontend errors (%d)", len(s.FrontendErrors)), s.FrontendErrors, errorStyle.Render)
	block(fmt.Sprintf("Backend warnings (%d)", len(s.BackendWarnings)), s.BackendWarnings, warningStyle.Render)
	block(fmt.Sprintf("Frontend warnings (%d)", len(s.FrontendWarnings)), s.FrontendWarnings, warningStyle.Render)
	return b.String()
}

func statusLabel(c status.CompilationStatus) string {
	switch c {
	case status.Ready:
		return successStyle.Render("● " + string(c))
	case status.CompiledWithWarnings:
		return warningStyle.Render("● " + string(c))
	case status.Error:
		return errorStyle.Render("✗ " + string(c))
	default:
		return infoStyle.Render("◌ " + string(c))
	}
}

func check(ok bool) string {
	if ok {
		return successStyle.Render("✓")
	}
	return dimStyle.Render("…")
}
