// Package webui serves the browser console. Pages are rendered on the
// server; navigation follows the console route table and guard.
package webui

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ktqueue/ktqueue/internal/auth"
	"github.com/ktqueue/ktqueue/internal/console"
	"github.com/ktqueue/ktqueue/internal/jobs"
	"github.com/ktqueue/ktqueue/internal/repos"
	"github.com/rs/zerolog"
)

//go:embed templates/*.html
var templateFS embed.FS

// LogLimit caps how much of a job log one page shows.
const LogLimit = 256 << 10

type LoginService interface {
	Login(ctx context.Context, req auth.LoginRequest, correlationID string) (auth.LoginResult, error)
}

type JobSource interface {
	List(ctx context.Context, q jobs.ListQuery) (jobs.ListResponse, error)
	OpenLog(ctx context.Context, name, version string) (io.ReadCloser, error)
}

type RepoSource interface {
	List(ctx context.Context, page, pageSize int) (repos.ListResponse, error)
}

type Deps struct {
	Identity auth.Identifier
	Login    LoginService
	Jobs     JobSource
	Repos    RepoSource
	Cookies  auth.Cookies
	Logger   zerolog.Logger
}

type Handler struct {
	deps  Deps
	table *console.Table
	pages map[console.View]*template.Template
}

func NewHandler(deps Deps) (*Handler, error) {
	pages := map[console.View]*template.Template{}
	files := map[console.View]string{
		console.ViewJobs:   "templates/jobs.html",
		console.ViewJobLog: "templates/job_log.html",
		console.ViewRepos:  "templates/repos.html",
		console.ViewLogin:  "templates/login.html",
	}
	for view, file := range files {
		t, err := template.ParseFS(templateFS, "templates/layout.html", file)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", file, err)
		}
		pages[view] = t
	}
	return &Handler{deps: deps, table: console.DefaultRoutes(), pages: pages}, nil
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.handlePage)
	mux.HandleFunc("GET /jobs", h.handlePage)
	mux.HandleFunc("GET /jobs/{jobName}/log", h.handlePage)
	mux.HandleFunc("GET /repos", h.handlePage)
	mux.HandleFunc("GET /login", h.handlePage)
	mux.HandleFunc("POST /login", h.handleLogin)
}

type page struct {
	Title string
	User  string
	Error string
	Data  any
	Prev  int
	Next  int
}

func (h *Handler) user(r *http.Request) string {
	user, err := h.deps.Identity.Identify(r)
	if err != nil {
		return ""
	}
	return user
}

func (h *Handler) handlePage(w http.ResponseWriter, r *http.Request) {
	route, params, ok := h.table.Match(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	user := h.user(r)
	if decision := console.Guard(route, user, user != ""); !decision.Allow {
		http.Redirect(w, r, decision.Redirect, http.StatusFound)
		return
	}
	if route.Redirect != "" {
		http.Redirect(w, r, route.Redirect, http.StatusFound)
		return
	}

	p := page{Title: route.Name, User: user}
	var err error
	switch route.View {
	case console.ViewLogin:
		if user != "" {
			http.Redirect(w, r, console.RootPath, http.StatusFound)
			return
		}
		p.Data = loginForm{}
	case console.ViewJobs:
		err = h.jobsPage(r, &p)
	case console.ViewJobLog:
		err = h.logPage(r, params["jobName"], &p)
	case console.ViewRepos:
		err = h.reposPage(r, &p)
	}
	if errors.Is(err, jobs.ErrJobNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		h.deps.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("render console page")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.render(w, http.StatusOK, route.View, p)
}

func (h *Handler) jobsPage(r *http.Request, p *page) error {
	pageNum, _ := strconv.Atoi(r.URL.Query().Get("page"))
	res, err := h.deps.Jobs.List(r.Context(), jobs.ListQuery{
		Page:          pageNum,
		IncludeHidden: r.URL.Query().Get("hidden") == "true",
	})
	if err != nil {
		return err
	}
	p.Data = res
	if res.Page > 1 {
		p.Prev = res.Page - 1
	}
	if res.Page*res.PageSize < res.Total {
		p.Next = res.Page + 1
	}
	return nil
}

type logView struct {
	Job       string
	Text      string
	Missing   bool
	Truncated bool
	Limit     int
}

func (h *Handler) logPage(r *http.Request, job string, p *page) error {
	view := logView{Job: job, Limit: LogLimit}
	p.Title = job
	p.Data = &view

	rc, err := h.deps.Jobs.OpenLog(r.Context(), job, r.URL.Query().Get("version"))
	if errors.Is(err, jobs.ErrLogNotFound) {
		view.Missing = true
		return nil
	}
	if err != nil {
		return err
	}
	defer rc.Close()

	text, truncated, err := jobs.Tail(rc, LogLimit)
	if err != nil {
		return err
	}
	view.Text, view.Truncated = text, truncated
	return nil
}

func (h *Handler) reposPage(r *http.Request, p *page) error {
	pageNum, _ := strconv.Atoi(r.URL.Query().Get("page"))
	res, err := h.deps.Repos.List(r.Context(), pageNum, 0)
	if err != nil {
		return err
	}
	p.Data = res
	return nil
}

type loginForm struct {
	Username string
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	req := auth.LoginRequest{
		Username: strings.TrimSpace(r.PostForm.Get("username")),
		Password: r.PostForm.Get("password"),
	}
	p := page{Title: "login", Data: loginForm{Username: req.Username}}

	if err := req.Validate(); err != nil {
		p.Error = err.Error()
		h.render(w, http.StatusBadRequest, console.ViewLogin, p)
		return
	}
	res, err := h.deps.Login.Login(r.Context(), req, r.Header.Get("X-Correlation-Id"))
	if errors.Is(err, auth.ErrInvalidCredentials) {
		p.Error = "invalid username or password"
		h.render(w, http.StatusUnauthorized, console.ViewLogin, p)
		return
	}
	if err != nil {
		h.deps.Logger.Error().Err(err).Msg("console login")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	h.deps.Cookies.Set(w, res.SessionID)
	http.Redirect(w, r, console.RootPath, http.StatusFound)
}

func (h *Handler) render(w http.ResponseWriter, status int, view console.View, p page) {
	var buf bytes.Buffer
	if err := h.pages[view].ExecuteTemplate(&buf, "layout", p); err != nil {
		h.deps.Logger.Error().Err(err).Str("view", string(view)).Msg("execute template")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
