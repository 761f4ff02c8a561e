package tui

import (
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/ktqueue/ktqueue/internal/console"
)

type logModel struct {
	api      API
	job      string
	viewport viewport.Model
	loaded   bool
}

func newLogModel(api API) logModel {
	return logModel{api: api, viewport: viewport.New(100, 20)}
}

func (m logModel) open(job string) (logModel, tea.Cmd) {
	m.job = job
	m.loaded = false
	m.viewport.SetContent("loading " + job + "...")
	return m, loadLog(m.api, job)
}

func (m logModel) setText(job, text string) logModel {
	if job != m.job {
		return m
	}
	if text == "" {
		text = "(empty log)"
	}
	m.viewport.SetContent(text)
	m.viewport.GotoBottom()
	m.loaded = true
	return m
}

func (m logModel) resize(width, height int) logModel {
	m.viewport.Width = width
	m.viewport.Height = max(height-6, 3)
	return m
}

func (m logModel) Update(msg tea.Msg) (logModel, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "esc", "backspace":
			return m, navigate(console.JobsPath)
		case "ctrl+r":
			return m.open(m.job)
		}
	}
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m logModel) View() string {
	return titleStyle.Render(m.job) + "\n" + m.viewport.View() +
		helpStyle.Render("\n↑/↓ scroll • ctrl+r reload • esc back")
}
