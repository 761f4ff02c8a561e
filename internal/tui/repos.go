package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/ktqueue/ktqueue/internal/console"
	"github.com/ktqueue/ktqueue/internal/repos"
)

type reposModel struct {
	api   API
	table table.Model
	total int
}

func newReposModel(api API) reposModel {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ID", Width: 36},
			{Title: "Repository", Width: 60},
		}),
		table.WithFocused(true),
		table.WithHeight(15),
	)
	return reposModel{api: api, table: t}
}

func (m reposModel) setList(res repos.ListResponse) reposModel {
	rows := make([]table.Row, 0, len(res.Data))
	for _, r := range res.Data {
		rows = append(rows, table.Row{r.ID, r.Repo})
	}
	m.table.SetRows(rows)
	m.total = res.Total
	return m
}

func (m reposModel) Update(msg tea.Msg) (reposModel, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "esc", "j":
			return m, navigate(console.JobsPath)
		case "ctrl+r":
			return m, loadRepos(m.api)
		}
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m reposModel) View() string {
	return m.table.View() + "\n" + pathStyle.Render(fmt.Sprintf("%d repositories", m.total)) +
		helpStyle.Render("\nj jobs • ctrl+r refresh • L logout • ctrl+c quit")
}
