package tui

import (
	"context"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/ktqueue/ktqueue/internal/auth"
	"github.com/ktqueue/ktqueue/internal/console"
	"github.com/ktqueue/ktqueue/internal/contracts"
	"github.com/ktqueue/ktqueue/internal/jobs"
	"github.com/ktqueue/ktqueue/internal/repos"
)

// API is the part of the ktqueue client the console uses.
type API interface {
	console.IdentityChecker
	Login(ctx context.Context, username, password string) (auth.LoginResponse, error)
	Logout(ctx context.Context) error
	Draft(ctx context.Context) (contracts.JobDraft, error)
	ListJobs(ctx context.Context, q jobs.ListQuery) (jobs.ListResponse, error)
	CreateJob(ctx context.Context, d contracts.JobDraft) (jobs.Job, error)
	StopJob(ctx context.Context, name string) error
	Log(ctx context.Context, name, version string) (io.ReadCloser, error)
	ListRepos(ctx context.Context, page, pageSize int) (repos.ListResponse, error)
}

// requestTimeout bounds each API call issued from a command.
const requestTimeout = 30 * time.Second

// logLimit caps how much of a job log the viewport holds.
const logLimit = 512 << 10

type navigateMsg struct {
	path string
}

type identityMsg struct {
	result console.IdentityResult
}

type loginResultMsg struct {
	res auth.LoginResponse
	err error
}

type logoutMsg struct{}

type jobsLoadedMsg struct {
	res jobs.ListResponse
	err error
}

type draftLoadedMsg struct {
	draft contracts.JobDraft
	err   error
}

type jobCreatedMsg struct {
	job jobs.Job
	err error
}

type jobStoppedMsg struct {
	name string
	err  error
}

type logLoadedMsg struct {
	job  string
	text string
	err  error
}

type reposLoadedMsg struct {
	res repos.ListResponse
	err error
}

func navigate(path string) tea.Cmd {
	return func() tea.Msg {
		return navigateMsg{path: path}
	}
}

func checkIdentity(api console.IdentityChecker) tea.Cmd {
	return func() tea.Msg {
		return identityMsg{result: api.CurrentUser(context.Background())}
	}
}

func submitLogin(api API, username, password string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		res, err := api.Login(ctx, username, password)
		return loginResultMsg{res: res, err: err}
	}
}

func loadJobs(api API, page int) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		res, err := api.ListJobs(ctx, jobs.ListQuery{Page: page})
		return jobsLoadedMsg{res: res, err: err}
	}
}

func loadDraft(api API) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		d, err := api.Draft(ctx)
		if err != nil {
			d = contracts.DefaultJobDraft()
		}
		return draftLoadedMsg{draft: d, err: err}
	}
}

func createJob(api API, d contracts.JobDraft) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		job, err := api.CreateJob(ctx, d)
		return jobCreatedMsg{job: job, err: err}
	}
}

func stopJob(api API, name string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return jobStoppedMsg{name: name, err: api.StopJob(ctx, name)}
	}
}

func loadLog(api API, job string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		rc, err := api.Log(ctx, job, "")
		if err != nil {
			return logLoadedMsg{job: job, err: err}
		}
		defer rc.Close()
		text, _, err := jobs.Tail(rc, logLimit)
		return logLoadedMsg{job: job, text: text, err: err}
	}
}

func loadRepos(api API) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		res, err := api.ListRepos(ctx, 1, 100)
		return reposLoadedMsg{res: res, err: err}
	}
}

func logout(api API) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		_ = api.Logout(ctx)
		return logoutMsg{}
	}
}
