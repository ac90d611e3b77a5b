package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	promptSelectedStyle   = lipgloss.NewStyle().Bold(true).Foreground(successColor)
	promptUnselectedStyle = lipgloss.NewStyle().Foreground(subtleColor)
	promptCursorStyle     = lipgloss.NewStyle().Bold(true).Foreground(highlightColor)
)

// YesNoPrompt asks a yes/no question with arrow-key selection.
type YesNoPrompt struct {
	question    string
	description string
	selected    bool
	confirmed   bool
	cancelled   bool
}

// NewYesNoPrompt creates a yes/no prompt.
func NewYesNoPrompt(question, description string, defaultYes bool) *YesNoPrompt {
	return &YesNoPrompt{
		question:    question,
		description: description,
		selected:    defaultYes,
	}
}

func (m YesNoPrompt) Init() tea.Cmd {
	return nil
}

func (m YesNoPrompt) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "left", "h", "y", "Y":
			m.selected = true
		case "right", "l", "n", "N":
			m.selected = false
		case "tab":
			m.selected = !m.selected
		case "enter":
			m.confirmed = true
			return m, tea.Quit
		case "ctrl+c", "esc", "q":
			m.cancelled = true
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m YesNoPrompt) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("? "+m.question) + "\n")
	if m.description != "" {
		b.WriteString(dimStyle.Render("  "+m.description) + "\n")
	}

	yesStyle, noStyle := promptUnselectedStyle, promptUnselectedStyle
	yesCursor, noCursor := "  ", "  "
	if m.selected {
		yesStyle = promptSelectedStyle
		yesCursor = promptCursorStyle.Render("❯ ")
	} else {
		noStyle = promptSelectedStyle
		noCursor = promptCursorStyle.Render("❯ ")
	}

	b.WriteString("\n")
	b.WriteString(yesCursor + yesStyle.Render("Yes") + "    ")
	b.WriteString(noCursor + noStyle.Render("No") + "\n\n")
	b.WriteString(dimStyle.Render("  ← → to select • enter to confirm • esc to cancel"))
	return b.String()
}

// Result returns the selected value and whether it was confirmed.
func (m YesNoPrompt) Result() (bool, bool) {
	return m.selected, m.confirmed && !m.cancelled
}

// RunYesNoPrompt runs the prompt. A cancelled prompt answers no.
func RunYesNoPrompt(question, description string, defaultYes bool) (bool, error) {
	model, err := tea.NewProgram(NewYesNoPrompt(question, description, defaultYes)).Run()
	if err != nil {
		return false, err
	}
	selected, confirmed := yesNoResult(model)
	return selected && confirmed, nil
}

// yesNoResult reads the answer from the final model. The program returns
// the seeded pointer when it exits before the first Update.
func yesNoResult(m tea.Model) (bool, bool) {
	switch p := m.(type) {
	case YesNoPrompt:
		return p.Result()
	case *YesNoPrompt:
		return p.Result()
	}
	return false, false
}

// TextInputPrompt asks for a line of text.
type TextInputPrompt struct {
	title       string
	description string
	defaultVal  string
	input       textinput.Model
	confirmed   bool
	cancelled   bool
}

// NewTextInputPrompt creates a text prompt. Secret prompts mask the input.
func NewTextInputPrompt(title, description, placeholder, defaultVal string, secret bool) *TextInputPrompt {
	ti := textinput.New()
	ti.Placeholder = placeholder
	ti.Focus()
	ti.CharLimit = 256
	ti.Width = 50
	if secret {
		ti.EchoMode = textinput.EchoPassword
		ti.EchoCharacter = '•'
	}
	if defaultVal != "" {
		ti.SetValue(defaultVal)
	}

	return &TextInputPrompt{
		title:       title,
		description: description,
		defaultVal:  defaultVal,
		input:       ti,
	}
}

func (m TextInputPrompt) Init() tea.Cmd {
	return textinput.Blink
}

func (m TextInputPrompt) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "enter":
			m.confirmed = true
			return m, tea.Quit
		case "ctrl+c", "esc":
			m.cancelled = true
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m TextInputPrompt) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("? "+m.title) + "\n")
	if m.description != "" {
		b.WriteString(dimStyle.Render("  "+m.description) + "\n")
	}
	b.WriteString("\n  " + m.input.View() + "\n")
	if m.defaultVal != "" && m.input.Value() == "" {
		b.WriteString(dimStyle.Render(fmt.Sprintf("  Press enter to use: %s", m.defaultVal)) + "\n")
	}
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("  enter to confirm • esc to cancel"))
	return b.String()
}

// Result returns the entered value and whether it was confirmed.
func (m TextInputPrompt) Result() (string, bool) {
	value := strings.TrimSpace(m.input.Value())
	if value == "" {
		value = m.defaultVal
	}
	return value, m.confirmed && !m.cancelled
}

// RunTextInputPrompt runs the prompt. A cancelled prompt returns "".
func RunTextInputPrompt(title, description, placeholder, defaultVal string, secret bool) (string, error) {
	model, err := tea.NewProgram(NewTextInputPrompt(title, description, placeholder, defaultVal, secret)).Run()
	if err != nil {
		return "", err
	}
	value, confirmed := textInputResult(model)
	if !confirmed {
		return "", nil
	}
	return value, nil
}

func textInputResult(m tea.Model) (string, bool) {
	switch p := m.(type) {
	case TextInputPrompt:
		return p.Result()
	case *TextInputPrompt:
		return p.Result()
	}
	return "", false
}
