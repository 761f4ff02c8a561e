// Package tui is the terminal console. Every view change goes through the
// console router, so the same guard as the web console decides what an
// anonymous user may see.
package tui

import (
	"net/http"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/ktqueue/ktqueue/internal/client"
	"github.com/ktqueue/ktqueue/internal/console"
	"github.com/rs/zerolog"
)

// Options wires a Model.
type Options struct {
	API     API
	Session *console.Session
	// Tokens persists the bearer token next to the session username.
	Tokens console.Persistence
	Logger zerolog.Logger
}

type Model struct {
	api     API
	session *console.Session
	tokens  console.Persistence
	router  *console.Router
	logger  zerolog.Logger

	login loginModel
	jobs  jobsModel
	log   logModel
	repos reposModel

	width  int
	height int
	status string
	err    string
}

// New builds the console and lands it on the root path, so the first frame
// already reflects the persisted session.
func New(opts Options) (Model, error) {
	m := Model{
		api:     opts.API,
		session: opts.Session,
		tokens:  opts.Tokens,
		router:  console.NewRouter(console.DefaultRoutes(), opts.Session),
		logger:  opts.Logger,
		login:   newLoginModel(opts.API),
		jobs:    newJobsModel(opts.API),
		log:     newLogModel(opts.API),
		repos:   newReposModel(opts.API),
	}
	if err := m.router.Push(console.RootPath); err != nil {
		return m, err
	}
	return m, nil
}

// Router exposes the navigation state.
func (m Model) Router() *console.Router {
	return m.router
}

func (m Model) Init() tea.Cmd {
	_, enter := m.enter()
	return tea.Batch(checkIdentity(m.api), enter)
}

func (m Model) view() console.View {
	return m.router.Current().Route.View
}

// push navigates and prepares the view that was landed on.
func (m Model) push(path string) (Model, tea.Cmd) {
	if err := m.router.Push(path); err != nil {
		m.err = err.Error()
		return m, nil
	}
	m.err = ""
	return m.enter()
}

func (m Model) enter() (Model, tea.Cmd) {
	loc := m.router.Current()
	switch loc.Route.View {
	case console.ViewLogin:
		var cmd tea.Cmd
		m.login, cmd = m.login.reset()
		return m, cmd
	case console.ViewJobs:
		m.jobs.form = nil
		return m, m.jobs.load()
	case console.ViewJobLog:
		var cmd tea.Cmd
		m.log, cmd = m.log.open(loc.Param("jobName"))
		return m, cmd
	case console.ViewRepos:
		return m, loadRepos(m.api)
	}
	return m, nil
}

// applyIdentity folds the startup identity check into the session. A
// successful check while sitting on the login view leaves it.
func (m Model) applyIdentity(result console.IdentityResult) (Model, tea.Cmd) {
	if result.Err == nil && result.User == "" {
		result.Err = console.ErrNoIdentity
	}
	before := m.router.CurrentPath()
	if err := console.ApplyIdentity(result, m.session, m.router); err != nil {
		m.logger.Warn().Err(err).Msg("apply identity")
	}
	if result.Err != nil {
		m.logger.Debug().Err(result.Err).Msg("identity check failed")
	}
	if m.router.CurrentPath() != before {
		return m.enter()
	}
	return m, nil
}

// handleErr shows err. A 401 means the token went stale: the session is
// cleared and the current path re-resolved, which lands on the login view.
func (m Model) handleErr(err error) (Model, tea.Cmd) {
	if client.IsStatus(err, http.StatusUnauthorized) {
		if uerr := m.session.Update(""); uerr != nil {
			m.logger.Warn().Err(uerr).Msg("clear session")
		}
		m.status = ""
		var cmd tea.Cmd
		m, cmd = m.push(m.router.CurrentPath())
		m.err = "session expired, please log in again"
		return m, cmd
	}
	m.err = err.Error()
	return m, nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.log = m.log.resize(msg.Width, msg.Height)
		m.jobs.table.SetHeight(max(msg.Height-8, 5))
		m.repos.table.SetHeight(max(msg.Height-8, 5))
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "L":
			if m.view() != console.ViewLogin && m.jobs.form == nil {
				return m, logout(m.api)
			}
		}

	case navigateMsg:
		return m.push(msg.path)

	case identityMsg:
		return m.applyIdentity(msg.result)

	case loginResultMsg:
		m.login.busy = false
		if msg.err != nil {
			if client.IsStatus(msg.err, http.StatusUnauthorized) {
				m.login.err = "invalid username or password"
			} else {
				m.login.err = msg.err.Error()
			}
			return m, nil
		}
		if err := m.tokens.Save(msg.res.Token); err != nil {
			m.logger.Warn().Err(err).Msg("persist token")
		}
		if err := m.session.Update(msg.res.User); err != nil {
			m.logger.Warn().Err(err).Msg("persist session")
		}
		m.login.err = ""
		return m.push(console.RootPath)

	case logoutMsg:
		if err := m.tokens.Clear(); err != nil {
			m.logger.Warn().Err(err).Msg("clear token")
		}
		if err := m.session.Update(""); err != nil {
			m.logger.Warn().Err(err).Msg("clear session")
		}
		m.status = ""
		return m.push(console.LoginPath)

	case jobsLoadedMsg:
		if msg.err != nil {
			return m.handleErr(msg.err)
		}
		m.jobs = m.jobs.setList(msg.res)
		return m, nil

	case draftLoadedMsg:
		if msg.err != nil {
			m.logger.Debug().Err(msg.err).Msg("fetch draft, using defaults")
		}
		form := newJobForm(m.api, msg.draft)
		m.jobs.form = &form
		return m, nil

	case jobCreatedMsg:
		if msg.err != nil {
			if m.jobs.form != nil && !client.IsStatus(msg.err, http.StatusUnauthorized) {
				m.jobs.form.err = msg.err.Error()
				return m, nil
			}
			return m.handleErr(msg.err)
		}
		m.jobs.form = nil
		m.status = "submitted " + msg.job.Name
		return m, m.jobs.load()

	case jobStoppedMsg:
		if msg.err != nil {
			return m.handleErr(msg.err)
		}
		m.status = "stopped " + msg.name
		return m, m.jobs.load()

	case logLoadedMsg:
		if msg.err != nil {
			return m.handleErr(msg.err)
		}
		m.log = m.log.setText(msg.job, msg.text)
		return m, nil

	case reposLoadedMsg:
		if msg.err != nil {
			return m.handleErr(msg.err)
		}
		m.repos = m.repos.setList(msg.res)
		return m, nil
	}

	var cmd tea.Cmd
	switch m.view() {
	case console.ViewLogin:
		m.login, cmd = m.login.Update(msg)
	case console.ViewJobs:
		m.jobs, cmd = m.jobs.Update(msg)
	case console.ViewJobLog:
		m.log, cmd = m.log.Update(msg)
	case console.ViewRepos:
		m.repos, cmd = m.repos.Update(msg)
	}
	return m, cmd
}

func (m Model) View() string {
	header := titleStyle.Render("ktqueue") + pathStyle.Render(m.router.CurrentPath())
	if user, ok := m.session.Username(); ok {
		header += userStyle.Render(user)
	}

	var body string
	switch m.view() {
	case console.ViewLogin:
		body = m.login.View()
	case console.ViewJobs:
		body = m.jobs.View()
	case console.ViewJobLog:
		body = m.log.View()
	case console.ViewRepos:
		body = m.repos.View()
	}

	footer := ""
	if m.status != "" {
		footer += "\n" + statusStyle.Render(m.status)
	}
	if m.err != "" {
		footer += "\n" + errorStyle.Render(m.err)
	}
	return lipgloss.JoinVertical(lipgloss.Left, header, "", body) + footer + "\n"
}
