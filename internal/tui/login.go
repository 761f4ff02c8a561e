package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type loginModel struct {
	api    API
	inputs []textinput.Model
	focus  int
	busy   bool
	err    string
}

func newLoginModel(api API) loginModel {
	username := textinput.New()
	username.Placeholder = "username"
	username.CharLimit = 64
	username.Width = 32
	username.Focus()

	password := textinput.New()
	password.Placeholder = "password"
	password.CharLimit = 128
	password.Width = 32
	password.EchoMode = textinput.EchoPassword
	password.EchoCharacter = '•'

	return loginModel{api: api, inputs: []textinput.Model{username, password}}
}

// reset clears the form for a fresh visit of the login view.
func (m loginModel) reset() (loginModel, tea.Cmd) {
	m.inputs[1].SetValue("")
	m.busy = false
	m.focus = 0
	return m, m.focusInputs()
}

func (m *loginModel) focusInputs() tea.Cmd {
	var cmd tea.Cmd
	for i := range m.inputs {
		if i == m.focus {
			cmd = m.inputs[i].Focus()
			continue
		}
		m.inputs[i].Blur()
	}
	return cmd
}

func (m loginModel) Update(msg tea.Msg) (loginModel, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok && !m.busy {
		switch key.String() {
		case "tab", "down":
			m.focus = (m.focus + 1) % len(m.inputs)
			return m, m.focusInputs()
		case "shift+tab", "up":
			m.focus = (m.focus + len(m.inputs) - 1) % len(m.inputs)
			return m, m.focusInputs()
		case "enter":
			if m.focus == 0 {
				m.focus = 1
				return m, m.focusInputs()
			}
			username := strings.TrimSpace(m.inputs[0].Value())
			password := m.inputs[1].Value()
			if username == "" || password == "" {
				m.err = "username and password are required"
				return m, nil
			}
			m.err = ""
			m.busy = true
			return m, submitLogin(m.api, username, password)
		}
	}

	var cmd tea.Cmd
	m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	return m, cmd
}

func (m loginModel) View() string {
	var b strings.Builder
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render("Username"), m.inputs[0].View()))
	b.WriteString("\n")
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render("Password"), m.inputs[1].View()))
	if m.busy {
		b.WriteString("\n\n" + statusStyle.Render("logging in..."))
	}
	if m.err != "" {
		b.WriteString("\n\n" + errorStyle.Render(m.err))
	}
	return boxStyle.Render(b.String()) + helpStyle.Render("\ntab switch field • enter log in • ctrl+c quit")
}
