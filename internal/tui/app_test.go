package tui

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/cursor"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/ktqueue/ktqueue/internal/auth"
	"github.com/ktqueue/ktqueue/internal/client"
	"github.com/ktqueue/ktqueue/internal/console"
	"github.com/ktqueue/ktqueue/internal/contracts"
	"github.com/ktqueue/ktqueue/internal/jobs"
	"github.com/ktqueue/ktqueue/internal/repos"
	"github.com/rs/zerolog"
)

type fakeAPI struct {
	mu       sync.Mutex
	identity console.IdentityResult
	listErr  error
	stopped  []string
	created  []contracts.JobDraft
	log      string
}

func (f *fakeAPI) CurrentUser(context.Context) console.IdentityResult { return f.identity }

func (f *fakeAPI) Login(_ context.Context, username, password string) (auth.LoginResponse, error) {
	if password != "pw" {
		return auth.LoginResponse{}, &client.APIError{StatusCode: http.StatusUnauthorized, Code: "invalid_credentials"}
	}
	return auth.LoginResponse{Token: "tok-" + username, User: username}, nil
}

func (f *fakeAPI) Logout(context.Context) error { return nil }

func (f *fakeAPI) Draft(context.Context) (contracts.JobDraft, error) {
	return contracts.DefaultJobDraft(), nil
}

func (f *fakeAPI) ListJobs(context.Context, jobs.ListQuery) (jobs.ListResponse, error) {
	if f.listErr != nil {
		return jobs.ListResponse{}, f.listErr
	}
	return jobs.ListResponse{Page: 1, PageSize: 20, Total: 2, Data: []jobs.Job{
		{Name: "train-a", Status: jobs.StatusRunning, CreatedAt: time.Now()},
		{Name: "train-b", Status: jobs.StatusCompleted, CreatedAt: time.Now()},
	}}, nil
}

func (f *fakeAPI) CreateJob(_ context.Context, d contracts.JobDraft) (jobs.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, d)
	return jobs.Job{Name: d.Name, Status: jobs.StatusFetching}, nil
}

func (f *fakeAPI) StopJob(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, name)
	return nil
}

func (f *fakeAPI) Log(context.Context, string, string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(f.log)), nil
}

func (f *fakeAPI) ListRepos(context.Context, int, int) (repos.ListResponse, error) {
	return repos.ListResponse{Page: 1, PageSize: 100, Total: 1, Data: []repos.Summary{{ID: "r1", Repo: "git@github.com:a/b.git"}}}, nil
}

type harness struct {
	model   Model
	api     *fakeAPI
	users   *console.MemoryStore
	tokens  *console.MemoryStore
	session *console.Session
}

func newHarness(t *testing.T, username string, api *fakeAPI) *harness {
	t.Helper()
	users := console.NewMemoryStore(username)
	tokens := console.NewMemoryStore("")
	session, err := console.NewSession(users)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	m, err := New(Options{API: api, Session: session, Tokens: tokens, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// A blinking cursor schedules timed commands; keep it still.
	for i := range m.login.inputs {
		m.login.inputs[i].Cursor.SetMode(cursor.CursorStatic)
	}
	return &harness{model: m, api: api, users: users, tokens: tokens, session: session}
}

// send feeds msg to the model and then runs the returned command chain,
// feeding each resulting message back, until no command remains.
func (h *harness) send(t *testing.T, msg tea.Msg) {
	t.Helper()
	queue := []tea.Msg{msg}
	for steps := 0; len(queue) > 0; steps++ {
		if steps > 50 {
			t.Fatal("message loop did not settle")
		}
		next := queue[0]
		queue = queue[1:]

		updated, cmd := h.model.Update(next)
		h.model = updated.(Model)
		queue = append(queue, run(cmd)...)
	}
}

func run(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, run(c)...)
		}
		return out
	}
	switch msg.(type) {
	case nil:
		return nil
	case navigateMsg, identityMsg, loginResultMsg, logoutMsg, jobsLoadedMsg, draftLoadedMsg,
		jobCreatedMsg, jobStoppedMsg, logLoadedMsg, reposLoadedMsg:
		return []tea.Msg{msg}
	}
	// Cursor blinks and other component ticks are not part of these flows.
	return nil
}

func keys(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestStartsOnLoginWhenAnonymous(t *testing.T) {
	h := newHarness(t, "", &fakeAPI{identity: console.IdentityResult{Err: errors.New("401")}})
	if got := h.model.Router().CurrentPath(); got != console.LoginPath {
		t.Fatalf("expected %s got %s", console.LoginPath, got)
	}
	if !strings.Contains(h.model.View(), "Username") {
		t.Fatal("login form not rendered")
	}
}

func TestStartsOnJobsWithPersistedUser(t *testing.T) {
	h := newHarness(t, "alice", &fakeAPI{identity: console.IdentityResult{User: "alice"}})
	if got := h.model.Router().CurrentPath(); got != console.JobsPath {
		t.Fatalf("expected %s got %s", console.JobsPath, got)
	}
	for _, msg := range run(h.model.Init()) {
		h.send(t, msg)
	}
	if !strings.Contains(h.model.View(), "train-a") {
		t.Fatalf("jobs not rendered:\n%s", h.model.View())
	}
}

func TestIdentitySuccessLeavesLoginView(t *testing.T) {
	h := newHarness(t, "", &fakeAPI{})
	h.send(t, identityMsg{result: console.IdentityResult{User: "bob"}})

	if got := h.model.Router().CurrentPath(); got != console.JobsPath {
		t.Fatalf("expected %s got %s", console.JobsPath, got)
	}
	if v, _ := h.users.Load(); v != "bob" {
		t.Fatalf("username not persisted: %q", v)
	}
}

func TestIdentityFailureClearsSessionWithoutNavigating(t *testing.T) {
	h := newHarness(t, "alice", &fakeAPI{})
	h.send(t, identityMsg{result: console.IdentityResult{Err: errors.New("connection refused")}})

	if _, ok := h.session.Username(); ok {
		t.Fatal("session should be cleared")
	}
	if h.users.Has() {
		t.Fatal("persisted username should be removed")
	}
	if got := h.model.Router().CurrentPath(); got != console.JobsPath {
		t.Fatalf("identity failure must not navigate, got %s", got)
	}

	// The next navigation is guarded.
	h.send(t, navigateMsg{path: console.ReposPath})
	if got := h.model.Router().CurrentPath(); got != console.LoginPath {
		t.Fatalf("expected guard redirect to login, got %s", got)
	}
}

func TestLoginFlow(t *testing.T) {
	h := newHarness(t, "", &fakeAPI{})

	h.send(t, loginResultMsg{err: &client.APIError{StatusCode: http.StatusUnauthorized}})
	if h.model.login.err != "invalid username or password" {
		t.Fatalf("unexpected login error %q", h.model.login.err)
	}

	h.send(t, loginResultMsg{res: auth.LoginResponse{Token: "tok-alice", User: "alice"}})
	if got := h.model.Router().CurrentPath(); got != console.JobsPath {
		t.Fatalf("expected %s got %s", console.JobsPath, got)
	}
	if tok, _ := h.tokens.Load(); tok != "tok-alice" {
		t.Fatalf("token not persisted: %q", tok)
	}
	if len(h.model.jobs.list.Data) != 2 {
		t.Fatal("jobs should load after login")
	}
}

func TestLoginFormSubmits(t *testing.T) {
	h := newHarness(t, "", &fakeAPI{})
	h.send(t, keys("alice"))
	h.send(t, tea.KeyMsg{Type: tea.KeyEnter})
	h.send(t, keys("pw"))
	h.send(t, tea.KeyMsg{Type: tea.KeyEnter})

	if user, _ := h.session.Username(); user != "alice" {
		t.Fatalf("expected alice logged in, got %q", user)
	}
}

func TestJobsKeys(t *testing.T) {
	api := &fakeAPI{log: "epoch 1\nepoch 2"}
	h := newHarness(t, "alice", api)
	h.send(t, navigateMsg{path: console.JobsPath})

	h.send(t, keys("s"))
	if len(api.stopped) != 1 || api.stopped[0] != "train-a" {
		t.Fatalf("expected train-a stopped, got %v", api.stopped)
	}
	if h.model.status != "stopped train-a" {
		t.Fatalf("unexpected status %q", h.model.status)
	}

	h.send(t, tea.KeyMsg{Type: tea.KeyEnter})
	if got := h.model.Router().CurrentPath(); got != "/jobs/train-a/log" {
		t.Fatalf("expected log view, got %s", got)
	}
	if !h.model.log.loaded || !strings.Contains(h.model.View(), "epoch 2") {
		t.Fatalf("log not shown:\n%s", h.model.View())
	}

	h.send(t, tea.KeyMsg{Type: tea.KeyEsc})
	h.send(t, keys("r"))
	if got := h.model.Router().CurrentPath(); got != console.ReposPath {
		t.Fatalf("expected repos view, got %s", got)
	}
	if !strings.Contains(h.model.View(), "git@github.com:a/b.git") {
		t.Fatal("repos not rendered")
	}
}

func TestNewJobForm(t *testing.T) {
	api := &fakeAPI{}
	h := newHarness(t, "alice", api)
	h.send(t, navigateMsg{path: console.JobsPath})

	h.send(t, keys("n"))
	if h.model.jobs.form == nil {
		t.Fatal("form should open")
	}
	if got := h.model.jobs.form.inputs[4].Value(); got != contracts.DefaultCPULimit {
		t.Fatalf("form should start from the draft, cpu=%q", got)
	}

	h.send(t, tea.KeyMsg{Type: tea.KeyCtrlS})
	if h.model.jobs.form == nil || h.model.jobs.form.err == "" {
		t.Fatal("empty form must not submit")
	}

	h.model.jobs.form.inputs[0].SetValue("resnet")
	h.model.jobs.form.inputs[1].SetValue("pytorch:2.3")
	h.model.jobs.form.inputs[2].SetValue("python train.py")
	h.send(t, tea.KeyMsg{Type: tea.KeyCtrlS})

	if len(api.created) != 1 {
		t.Fatalf("expected one job created, got %d", len(api.created))
	}
	d := api.created[0]
	if d.Name != "resnet" || d.MemoryLimit != contracts.DefaultMemoryLimit || d.Tags == nil {
		t.Fatalf("unexpected draft %+v", d)
	}
	if h.model.jobs.form != nil || h.model.status != "submitted resnet" {
		t.Fatalf("form should close after submit, status %q", h.model.status)
	}
}

func TestUnauthorizedResponseReturnsToLogin(t *testing.T) {
	api := &fakeAPI{listErr: &client.APIError{StatusCode: http.StatusUnauthorized}}
	h := newHarness(t, "alice", api)
	h.send(t, navigateMsg{path: console.JobsPath})

	if got := h.model.Router().CurrentPath(); got != console.LoginPath {
		t.Fatalf("expected login after 401, got %s", got)
	}
	if _, ok := h.session.Username(); ok {
		t.Fatal("session should be cleared after 401")
	}
}

func TestLogout(t *testing.T) {
	h := newHarness(t, "alice", &fakeAPI{})
	_ = h.tokens.Save("tok")
	h.send(t, navigateMsg{path: console.JobsPath})
	h.send(t, keys("L"))

	if got := h.model.Router().CurrentPath(); got != console.LoginPath {
		t.Fatalf("expected login after logout, got %s", got)
	}
	if h.tokens.Has() || h.users.Has() {
		t.Fatal("logout should clear persisted token and username")
	}
}
