// Package ui renders ark's terminal output: styled messages, prompts, the
// plain status printer and the live dashboard.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	highlightColor = lipgloss.AdaptiveColor{Light: "#7D56F4", Dark: "#AD8EE6"}
	subtleColor    = lipgloss.AdaptiveColor{Light: "#666666", Dark: "#999999"}
	successColor   = lipgloss.AdaptiveColor{Light: "#00AA00", Dark: "#00FF00"}
	warningColor   = lipgloss.AdaptiveColor{Light: "#CC6600", Dark: "#FFAA00"}
	errorColor     = lipgloss.AdaptiveColor{Light: "#CC0000", Dark: "#FF0000"}
	infoColor      = lipgloss.AdaptiveColor{Light: "#0066CC", Dark: "#00AAFF"}

	successStyle = lipgloss.NewStyle().Foreground(successColor)
	warningStyle = lipgloss.NewStyle().Foreground(warningColor)
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	infoStyle    = lipgloss.NewStyle().Foreground(infoColor)
	dimStyle     = lipgloss.NewStyle().Foreground(subtleColor)
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(highlightColor)
)

// Success prints a success message with checkmark.
func Success(msg string) {
	fmt.Println(successStyle.Render("✔") + " " + msg)
}

// Info prints an info message.
func Info(msg string) {
	fmt.Println(infoStyle.Render("ℹ") + " " + msg)
}

// Warn prints a warning message.
func Warn(msg string) {
	fmt.Println(warningStyle.Render("⚠") + " " + msg)
}

// Error prints an error message.
func Error(msg string) {
	fmt.Println(errorStyle.Render("✖") + " " + msg)
}

// Header prints a styled header.
func Header(text string) {
	fmt.Println(titleStyle.MarginBottom(1).Render("  " + text))
}

// Step prints one step of a multi-step command.
func Step(step, total int, text string) {
	stepStyle := lipgloss.NewStyle().Bold(true).Foreground(infoColor)
	fmt.Println(stepStyle.Render(fmt.Sprintf("[%d/%d]", step, total)) + " " + text)
}

// Highlight prints a label and a bold value.
func Highlight(label, value string) {
	valueStyle := lipgloss.NewStyle().Bold(true)
	fmt.Println("  " + dimStyle.Render(label+":") + " " + valueStyle.Render(value))
}

// Box prints content in a rounded box under an optional title.
func Box(title, content string) {
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(highlightColor).
		Padding(0, 1)

	if title != "" {
		fmt.Println(titleStyle.Render("  " + title))
	}
	fmt.Println(boxStyle.Render(content))
}

// Divider prints a horizontal rule.
func Divider() {
	fmt.Println(dimStyle.Render("  " + strings.Repeat("─", 50)))
}
