package tui

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/ktqueue/ktqueue/internal/console"
	"github.com/ktqueue/ktqueue/internal/contracts"
	"github.com/ktqueue/ktqueue/internal/jobs"
)

type jobsModel struct {
	api   API
	table table.Model
	list  jobs.ListResponse
	page  int
	form  *jobForm
}

func newJobsModel(api API) jobsModel {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Name", Width: 28},
			{Title: "Status", Width: 22},
			{Title: "Node", Width: 12},
			{Title: "GPU", Width: 4},
			{Title: "Image", Width: 30},
			{Title: "User", Width: 10},
			{Title: "Created", Width: 16},
		}),
		table.WithFocused(true),
		table.WithHeight(15),
	)
	return jobsModel{api: api, table: t, page: 1}
}

func (m jobsModel) load() tea.Cmd {
	return loadJobs(m.api, m.page)
}

func (m jobsModel) setList(res jobs.ListResponse) jobsModel {
	m.list = res
	rows := make([]table.Row, 0, len(res.Data))
	for _, j := range res.Data {
		node := ""
		if j.RunningNode != nil {
			node = *j.RunningNode
		}
		name := j.Name
		if j.Fav {
			name = "★ " + name
		}
		rows = append(rows, table.Row{
			name,
			j.Status,
			node,
			strconv.Itoa(j.GPUNum),
			j.Image,
			j.User,
			j.CreatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	m.table.SetRows(rows)
	if m.table.Cursor() >= len(rows) {
		m.table.SetCursor(0)
	}
	return m
}

func (m jobsModel) selected() (string, bool) {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.list.Data) {
		return "", false
	}
	return m.list.Data[i].Name, true
}

func (m jobsModel) Update(msg tea.Msg) (jobsModel, tea.Cmd) {
	if m.form != nil {
		if key, ok := msg.(tea.KeyMsg); ok && key.String() == "esc" {
			m.form = nil
			return m, nil
		}
		form, cmd := m.form.Update(msg)
		m.form = &form
		return m, cmd
	}

	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "enter":
			if name, ok := m.selected(); ok {
				return m, navigate(console.Build(console.JobLogPath, map[string]string{"jobName": name}))
			}
			return m, nil
		case "n":
			return m, loadDraft(m.api)
		case "r":
			return m, navigate(console.ReposPath)
		case "s":
			if name, ok := m.selected(); ok {
				return m, stopJob(m.api, name)
			}
			return m, nil
		case "ctrl+r":
			return m, m.load()
		case "]":
			if m.list.Page*m.list.PageSize < m.list.Total {
				m.page++
				return m, m.load()
			}
			return m, nil
		case "[":
			if m.page > 1 {
				m.page--
				return m, m.load()
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m jobsModel) View() string {
	if m.form != nil {
		return m.form.View()
	}
	summary := fmt.Sprintf("%d jobs • page %d", m.list.Total, max(m.list.Page, 1))
	return m.table.View() + "\n" + pathStyle.Render(summary) +
		helpStyle.Render("\nenter log • n new job • s stop • r repos • [ ] page • ctrl+r refresh • L logout • ctrl+c quit")
}

// jobForm edits a job draft. Fields not shown keep their draft value.
type jobForm struct {
	api    API
	draft  contracts.JobDraft
	labels []string
	inputs []textinput.Model
	focus  int
	err    string
}

func newJobForm(api API, d contracts.JobDraft) jobForm {
	fields := []struct {
		label, value, placeholder string
	}{
		{"Name", d.Name, "letters, digits, _ and -"},
		{"Image", d.Image, "registry/image:tag"},
		{"Command", d.Command, "python train.py"},
		{"GPUs", strconv.Itoa(d.GPUNum), "0"},
		{"CPU", d.CPULimit, contracts.DefaultCPULimit},
		{"Memory", d.MemoryLimit, contracts.DefaultMemoryLimit},
		{"Repo", d.Repo, "git@host:group/repo.git"},
		{"Branch", d.Branch, "master"},
		{"Commit", d.Commit, "latest"},
	}
	f := jobForm{api: api, draft: d}
	for i, field := range fields {
		in := textinput.New()
		in.Placeholder = field.placeholder
		in.SetValue(field.value)
		in.Width = 48
		in.CharLimit = 512
		if i == 0 {
			in.Focus()
		}
		f.labels = append(f.labels, field.label)
		f.inputs = append(f.inputs, in)
	}
	return f
}

func (f *jobForm) focusInputs() tea.Cmd {
	var cmd tea.Cmd
	for i := range f.inputs {
		if i == f.focus {
			cmd = f.inputs[i].Focus()
			continue
		}
		f.inputs[i].Blur()
	}
	return cmd
}

// Draft applies the form fields onto the base draft.
func (f jobForm) Draft() (contracts.JobDraft, error) {
	d := f.draft
	value := func(i int) string { return strings.TrimSpace(f.inputs[i].Value()) }
	d.Name = value(0)
	d.Image = value(1)
	d.Command = value(2)
	gpus, err := strconv.Atoi(value(3))
	if err != nil || gpus < 0 {
		return d, errors.New("GPUs must be a non-negative number")
	}
	d.GPUNum = gpus
	d.CPULimit = value(4)
	d.MemoryLimit = value(5)
	d.Repo = value(6)
	d.Branch = value(7)
	d.Commit = value(8)
	return d, nil
}

func (f jobForm) Update(msg tea.Msg) (jobForm, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "tab", "down":
			f.focus = (f.focus + 1) % len(f.inputs)
			return f, f.focusInputs()
		case "shift+tab", "up":
			f.focus = (f.focus + len(f.inputs) - 1) % len(f.inputs)
			return f, f.focusInputs()
		case "ctrl+s", "enter":
			if key.String() == "enter" && f.focus < len(f.inputs)-1 {
				f.focus++
				return f, f.focusInputs()
			}
			d, err := f.Draft()
			if err != nil {
				f.err = err.Error()
				return f, nil
			}
			if d.Name == "" || d.Image == "" || d.Command == "" {
				f.err = "name, image and command are required"
				return f, nil
			}
			f.err = ""
			return f, createJob(f.api, d)
		}
	}
	var cmd tea.Cmd
	f.inputs[f.focus], cmd = f.inputs[f.focus].Update(msg)
	return f, cmd
}

func (f jobForm) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("New job") + "\n\n")
	for i, in := range f.inputs {
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(f.labels[i]), in.View()))
		b.WriteString("\n")
	}
	if f.err != "" {
		b.WriteString("\n" + errorStyle.Render(f.err))
	}
	return boxStyle.Render(b.String()) + helpStyle.Render("\ntab next field • ctrl+s submit • esc cancel")
}
