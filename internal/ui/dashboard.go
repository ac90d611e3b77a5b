package ui

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/magicjsdev/ark/internal/status"
)

// Pane is what the dashboard body shows.
type Pane int

const (
	PaneLogs Pane = iota
	PaneDiagnostics
)

// DashboardOptions configures the dashboard. Callbacks may be nil.
type DashboardOptions struct {
	Title string
	// AppPID looks up the app server process for resource stats.
	AppPID    func() int32
	OnRestart func()
	OnQuit    func()
}

// DashboardModel is the bubbletea model for `ark start`.
type DashboardModel struct {
	opts DashboardOptions

	statusMu sync.Mutex
	latest   status.Status
	status   status.Status

	logs      *LogBuffer
	resources ResourceStats

	width    int
	height   int
	viewport viewport.Model
	pane     Pane
	showHelp bool
	quitting bool

	updateChan chan tea.Msg
	keys       keyMap
	styles     *Styles
}

type keyMap struct {
	Up      key.Binding
	Down    key.Binding
	Toggle  key.Binding
	Restart key.Binding
	OpenURL key.Binding
	Clear   key.Binding
	Help    key.Binding
	Quit    key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "scroll up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "scroll down"),
		),
		Toggle: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "logs/diagnostics"),
		),
		Restart: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "restart app"),
		),
		OpenURL: key.NewBinding(
			key.WithKeys("o"),
			key.WithHelp("o", "open in browser"),
		),
		Clear: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "clear logs"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// Styles holds the dashboard's lipgloss styles.
type Styles struct {
	Header      lipgloss.Style
	Footer      lipgloss.Style
	Body        lipgloss.Style
	BodyFocused lipgloss.Style
	URL         lipgloss.Style
	Ok          lipgloss.Style
	Warn        lipgloss.Style
	Err         lipgloss.Style
	Dim         lipgloss.Style
	HelpKey     lipgloss.Style
	SourceApp   lipgloss.Style
	SourceArk   lipgloss.Style
}

// DefaultStyles returns the default color scheme.
func DefaultStyles() *Styles {
	return &Styles{
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(highlightColor),
		Footer: lipgloss.NewStyle().
			Foreground(subtleColor).
			BorderStyle(lipgloss.NormalBorder()).
			BorderTop(true).
			BorderForeground(subtleColor).
			Padding(0, 1),
		Body: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.AdaptiveColor{Light: "#CCCCCC", Dark: "#444444"}).
			Padding(0, 1),
		BodyFocused: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(highlightColor).
			Padding(0, 1),
		URL: lipgloss.NewStyle().
			Bold(true).
			Underline(true).
			Foreground(successColor),
		Ok:        lipgloss.NewStyle().Foreground(successColor),
		Warn:      lipgloss.NewStyle().Foreground(warningColor),
		Err:       lipgloss.NewStyle().Foreground(errorColor).Bold(true),
		Dim:       lipgloss.NewStyle().Foreground(subtleColor),
		HelpKey:   lipgloss.NewStyle().Foreground(highlightColor).Bold(true),
		SourceApp: lipgloss.NewStyle().Foreground(infoColor),
		SourceArk: lipgloss.NewStyle().Foreground(highlightColor),
	}
}

type tickMsg time.Time
type resourceUpdateMsg ResourceStats
type statusMsg struct{}
type logMsg LogLine
type quitMsg struct{}

// NewDashboard creates the dashboard model.
func NewDashboard(opts DashboardOptions) *DashboardModel {
	vp := viewport.New(80, 20)
	vp.MouseWheelEnabled = true

	return &DashboardModel{
		opts:       opts,
		logs:       NewLogBuffer(1000),
		viewport:   vp,
		keys:       defaultKeyMap(),
		styles:     DefaultStyles(),
		updateChan: make(chan tea.Msg, 256),
	}
}

// Init implements tea.Model.
func (m *DashboardModel) Init() tea.Cmd {
	return tea.Batch(tickCmd(), m.listenForUpdates())
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *DashboardModel) listenForUpdates() tea.Cmd {
	return func() tea.Msg {
		return <-m.updateChan
	}
}

// Update implements tea.Model.
func (m *DashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			if m.opts.OnQuit != nil {
				m.opts.OnQuit()
			}
			return m, tea.Quit

		case key.Matches(msg, m.keys.Toggle):
			if m.pane == PaneLogs {
				m.pane = PaneDiagnostics
			} else {
				m.pane = PaneLogs
			}
			m.refreshBody(true)

		case key.Matches(msg, m.keys.Restart):
			if m.opts.OnRestart != nil {
				m.opts.OnRestart()
			}

		case key.Matches(msg, m.keys.OpenURL):
			if m.status.DevServerActive {
				openInBrowser(fmt.Sprintf("http://localhost:%d", m.status.DevServerPort))
			}

		case key.Matches(msg, m.keys.Clear):
			m.logs.Clear()
			m.refreshBody(true)

		case key.Matches(msg, m.keys.Help):
			m.showHelp = !m.showHelp

		case key.Matches(msg, m.keys.Up), key.Matches(msg, m.keys.Down):
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			cmds = append(cmds, cmd)
		}

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = max(msg.Width-4, 20)
		// Header, URL line, targets line, borders and footer.
		m.viewport.Height = max(msg.Height-9, 3)
		m.refreshBody(false)

	case tickMsg:
		m.pullStatus()
		cmds = append(cmds, tickCmd(), m.fetchResourceStats())

	case resourceUpdateMsg:
		m.resources = ResourceStats(msg)

	case statusMsg:
		m.pullStatus()
		cmds = append(cmds, m.listenForUpdates())

	case logMsg:
		m.logs.Append(LogLine(msg))
		if m.pane == PaneLogs {
			m.refreshBody(false)
		}
		cmds = append(cmds, m.listenForUpdates())

	case quitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, tea.Batch(cmds...)
}

func (m *DashboardModel) pullStatus() {
	m.statusMu.Lock()
	s := m.latest
	m.statusMu.Unlock()

	changed := s.CompilationStatus != m.status.CompilationStatus ||
		len(s.FrontendErrors)+len(s.BackendErrors) != len(m.status.FrontendErrors)+len(m.status.BackendErrors)
	m.status = s

	// Jump to diagnostics when a pass breaks.
	if changed && s.HasErrors {
		m.pane = PaneDiagnostics
	}
	if m.pane == PaneDiagnostics {
		m.refreshBody(changed)
	}
}

func (m *DashboardModel) fetchResourceStats() tea.Cmd {
	lookup := m.opts.AppPID
	return func() tea.Msg {
		var pid int32
		if lookup != nil {
			pid = lookup()
		}
		return resourceUpdateMsg(GetResourceStats(pid))
	}
}

func (m *DashboardModel) refreshBody(reset bool) {
	var content string
	if m.pane == PaneLogs {
		content = m.renderLogs()
	} else {
		content = m.renderDiagnostics()
	}

	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(content)
	switch {
	case reset && m.pane == PaneDiagnostics:
		m.viewport.GotoTop()
	case reset || atBottom:
		m.viewport.GotoBottom()
	}
}

func (m *DashboardModel) renderLogs() string {
	lines := m.logs.GetAll()
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		src := m.styles.SourceApp
		if l.Source == SourceArk {
			src = m.styles.SourceArk
		}
		text := l.Text
		if limit := m.viewport.Width - 16; limit > 3 && len(text) > limit {
			text = text[:limit-3] + "..."
		}
		out = append(out, m.styles.Dim.Render(l.Time.Format("15:04:05"))+" "+
			src.Render(fmt.Sprintf("%-3s", l.Source))+" "+text)
	}
	return strings.Join(out, "\n")
}

func (m *DashboardModel) renderDiagnostics() string {
	d := Diagnostics(m.status)
	if d == "" {
		return m.styles.Ok.Render("No errors or warnings.")
	}
	return strings.TrimRight(d, "\n")
}

// View implements tea.Model.
func (m *DashboardModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.renderURLs())
	b.WriteString("\n")
	b.WriteString(m.renderTargets())
	b.WriteString("\n")

	body := m.styles.Body
	if m.pane == PaneDiagnostics {
		body = m.styles.BodyFocused
		if m.status.HasErrors {
			body = body.BorderForeground(errorColor)
		}
	}
	b.WriteString(body.Render(m.viewport.View()))
	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	return b.String()
}

func (m *DashboardModel) renderHeader() string {
	title := m.styles.Header.Render("⚡ ark")
	if m.opts.Title != "" {
		title += m.styles.Dim.Render("  " + m.opts.Title)
	}

	var stats []string
	if m.resources.CPUPercent > 0 {
		stats = append(stats, fmt.Sprintf("CPU %.0f%%", m.resources.CPUPercent))
	}
	if m.resources.MemPercent > 0 {
		stats = append(stats, fmt.Sprintf("Mem %.0f%%", m.resources.MemPercent))
	}
	if m.resources.CPUTemp > 0 {
		stats = append(stats, fmt.Sprintf("%.0f°C", m.resources.CPUTemp))
	}
	if m.resources.AppPID > 0 {
		stats = append(stats, fmt.Sprintf("app pid %d %.0f%% %s",
			m.resources.AppPID, m.resources.AppCPUPercent, FormatBytes(m.resources.AppRSS)))
	}
	right := m.styles.Dim.Render(strings.Join(stats, " | "))

	padding := m.width - lipgloss.Width(title) - lipgloss.Width(right)
	if padding < 2 {
		padding = 2
	}
	return title + strings.Repeat(" ", padding) + right
}

func (m *DashboardModel) renderURLs() string {
	s := m.status
	if !s.DevServerActive {
		return m.styles.Dim.Render("  starting dev server...")
	}
	app := m.styles.Dim.Render(fmt.Sprintf("app :%d starting", s.AppServerPort))
	if s.AppServerLive {
		app = m.styles.Ok.Render(fmt.Sprintf("app :%d live", s.AppServerPort))
	}
	return "  ➜ " + m.styles.URL.Render(fmt.Sprintf("http://localhost:%d", s.DevServerPort)) + "   " + app
}

func (m *DashboardModel) renderTargets() string {
	s := m.status
	target := func(name string, compiled bool, errs, warns []string) string {
		switch {
		case !compiled:
			return m.styles.Dim.Render(name + " compiling…")
		case len(errs) > 0:
			return m.styles.Err.Render(fmt.Sprintf("%s ✗ %d error(s)", name, len(errs)))
		case len(warns) > 0:
			return m.styles.Warn.Render(fmt.Sprintf("%s ✓ %d warning(s)", name, len(warns)))
		default:
			return m.styles.Ok.Render(name + " ✓")
		}
	}
	return "  " + statusLabel(s.CompilationStatus) + "   " +
		target("frontend", s.FrontendCompiled, s.FrontendErrors, s.FrontendWarnings) + "   " +
		target("backend", s.BackendCompiled, s.BackendErrors, s.BackendWarnings)
}

func (m *DashboardModel) renderFooter() string {
	pane := "logs"
	if m.pane == PaneDiagnostics {
		pane = "diagnostics"
	}

	var help string
	if m.showHelp {
		bindings := []key.Binding{m.keys.Up, m.keys.Down, m.keys.Toggle, m.keys.Restart,
			m.keys.OpenURL, m.keys.Clear, m.keys.Help, m.keys.Quit}
		parts := make([]string, 0, len(bindings))
		for _, kb := range bindings {
			parts = append(parts, m.styles.HelpKey.Render(kb.Help().Key)+" "+kb.Help().Desc)
		}
		help = strings.Join(parts, " • ")
	} else {
		help = fmt.Sprintf("%s • %s switch • %s restart • %s open • %s help • %s quit",
			pane,
			m.styles.HelpKey.Render("tab"),
			m.styles.HelpKey.Render("r"),
			m.styles.HelpKey.Render("o"),
			m.styles.HelpKey.Render("?"),
			m.styles.HelpKey.Render("q"))
	}

	width := m.width - 2
	if width < 40 {
		width = 40
	}
	return m.styles.Footer.Width(width).Render(help)
}

func openInBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return
	}
	cmd.Start()
}

// SetStatus records the latest status and nudges the program. The most
// recent status always wins, even if the nudge is dropped.
func (m *DashboardModel) SetStatus(s status.Status) {
	m.statusMu.Lock()
	m.latest = s.Clone()
	m.statusMu.Unlock()

	select {
	case m.updateChan <- statusMsg{}:
	default:
	}
}

// SendLog queues a log line, dropping it if the program is backed up.
func (m *DashboardModel) SendLog(line LogLine) {
	select {
	case m.updateChan <- logMsg(line):
	default:
	}
}

// SendQuit asks the program to exit.
func (m *DashboardModel) SendQuit() {
	select {
	case m.updateChan <- quitMsg{}:
	default:
	}
}
