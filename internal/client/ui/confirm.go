package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// ConfirmModel is a yes/no prompt
type ConfirmModel struct {
	title       string
	description string
	cursor      int // 0 = yes, 1 = no
	confirmed   bool
	quitting    bool
	aborted     bool
}

type ConfirmOption func(*ConfirmModel)

func WithDescription(desc string) ConfirmOption {
	return func(m *ConfirmModel) {
		m.description = desc
	}
}

// WithDefaultNo highlights No initially
func WithDefaultNo() ConfirmOption {
	return func(m *ConfirmModel) {
		m.cursor = 1
	}
}

func NewConfirm(title string, opts ...ConfirmOption) ConfirmModel {
	m := ConfirmModel{title: title}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

func (m ConfirmModel) Init() tea.Cmd {
	return nil
}

func (m ConfirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch key.String() {
	case "ctrl+c", "q", "esc":
		m.aborted = true
		m.quitting = true
		return m, tea.Quit
	case "left", "h", "right", "l", "tab":
		m.cursor = 1 - m.cursor
	case "y", "Y":
		m.cursor = 0
		m.confirmed = true
		m.quitting = true
		return m, tea.Quit
	case "n", "N":
		m.cursor = 1
		m.quitting = true
		return m, tea.Quit
	case "enter", " ":
		m.confirmed = m.cursor == 0
		m.quitting = true
		return m, tea.Quit
	}
	return m, nil
}

func (m ConfirmModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render(m.title))
	b.WriteString("\n")
	if m.description != "" {
		b.WriteString(HelpStyle.Render(m.description))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	for i, label := range []string{"Yes", "No"} {
		if i == m.cursor {
			b.WriteString(CursorStyle.Render("▸ "))
			b.WriteString(SelectedStyle.Render(label))
		} else {
			b.WriteString("  ")
			b.WriteString(UnselectedStyle.Render(label))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(HelpStyle.Render("←/→ move • enter confirm • y/n shortcut • esc cancel"))
	return b.String()
}

// Confirmed is true only when Yes was chosen
func (m ConfirmModel) Confirmed() bool {
	return m.confirmed && !m.aborted
}

func (m ConfirmModel) Aborted() bool {
	return m.aborted
}

// Confirm runs the prompt; cancelling counts as No
func Confirm(title string, opts ...ConfirmOption) (bool, error) {
	result, err := tea.NewProgram(NewConfirm(title, opts...)).Run()
	if err != nil {
		return false, fmt.Errorf("failed to run confirm: %w", err)
	}
	return result.(ConfirmModel).Confirmed(), nil
}
