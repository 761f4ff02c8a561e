package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ktqueue/ktqueue/internal/auth"
	"github.com/ktqueue/ktqueue/internal/console"
	"github.com/ktqueue/ktqueue/internal/contracts"
	"github.com/ktqueue/ktqueue/internal/jobs"
	"github.com/ktqueue/ktqueue/pkg/apierror"
)

func newServer(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", WithTimeout(5*time.Second))
}

func TestOptions(t *testing.T) {
	c := New("http://ktq.local/", WithToken("tok"), WithHeader("X-Team", "vision"), WithTimeout(time.Second))
	if c.baseURL != "http://ktq.local" {
		t.Fatalf("trailing slash not trimmed: %q", c.baseURL)
	}
	if c.Token() != "tok" || c.headers["X-Team"] != "vision" || c.httpClient.Timeout != time.Second {
		t.Fatalf("options not applied: %+v", c)
	}
}

func TestLoginStoresToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/login", func(w http.ResponseWriter, r *http.Request) {
		var req auth.LoginRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Username != "alice" || req.Password != "pw" {
			apierror.Write(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
			return
		}
		apierror.WriteJSON(w, http.StatusOK, auth.LoginResponse{Token: "tok-1", User: "alice"})
	})
	mux.HandleFunc("GET /api/current_user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			apierror.Unauthorized(w, "not logged in")
			return
		}
		apierror.WriteJSON(w, http.StatusOK, auth.CurrentUserResponse{User: "alice"})
	})
	c := newServer(t, mux)
	ctx := context.Background()

	if res := c.CurrentUser(ctx); res.OK() || !IsStatus(res.Err, http.StatusUnauthorized) {
		t.Fatalf("expected 401 before login, got %+v", res)
	}
	if _, err := c.Login(ctx, "alice", "wrong"); !IsStatus(err, http.StatusUnauthorized) {
		t.Fatalf("expected 401 for bad password, got %v", err)
	}
	res, err := c.Login(ctx, "alice", "pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.User != "alice" || c.Token() != "tok-1" {
		t.Fatalf("unexpected login result %+v token %q", res, c.Token())
	}
	if got := c.CurrentUser(ctx); got != (console.IdentityResult{User: "alice"}) {
		t.Fatalf("unexpected identity %+v", got)
	}
}

func TestCurrentUserNetworkError(t *testing.T) {
	c := New("http://127.0.0.1:1", WithTimeout(time.Second))
	res := c.CurrentUser(context.Background())
	var netErr *NetworkError
	if !errors.As(res.Err, &netErr) {
		t.Fatalf("expected NetworkError, got %v", res.Err)
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/jobs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Request-Id", "req-9")
		apierror.Write(w, http.StatusConflict, "job_exists", "job a already exists")
	})
	mux.HandleFunc("POST /api/jobs/{job}/stop", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	})
	c := newServer(t, mux)

	_, err := c.CreateJob(context.Background(), contracts.DefaultJobDraft())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != "job_exists" || apiErr.RequestID != "req-9" || apiErr.StatusCode != http.StatusConflict {
		t.Fatalf("unexpected error %+v", apiErr)
	}

	err = c.StopJob(context.Background(), "a")
	if !errors.As(err, &apiErr) || apiErr.Message != "upstream exploded" {
		t.Fatalf("plain-text error body not kept: %v", err)
	}
}

func TestJobCalls(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/jobs", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("page") != "2" || q.Get("page_size") != "5" || q.Get("hidden") != "true" {
			apierror.Write(w, http.StatusBadRequest, apierror.CodeValidation, "query "+r.URL.RawQuery)
			return
		}
		apierror.WriteJSON(w, http.StatusOK, jobs.ListResponse{Page: 2, PageSize: 5, Total: 6, Data: []jobs.Job{{Name: "a"}}})
	})
	mux.HandleFunc("GET /api/jobs/draft", func(w http.ResponseWriter, _ *http.Request) {
		apierror.WriteJSON(w, http.StatusOK, contracts.DefaultJobDraft())
	})
	mux.HandleFunc("GET /api/jobs/{job}/log/versions", func(w http.ResponseWriter, _ *http.Request) {
		apierror.WriteJSON(w, http.StatusOK, jobs.VersionsResponse{Versions: []string{"1", "current"}})
	})
	mux.HandleFunc("GET /api/jobs/{job}/log/{version}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, r.PathValue("job")+"@"+r.PathValue("version"))
	})
	mux.HandleFunc("GET /api/jobs/{job}/log", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, r.PathValue("job")+"@live")
	})
	c := newServer(t, mux)
	ctx := context.Background()

	list, err := c.ListJobs(ctx, jobs.ListQuery{Page: 2, PageSize: 5, IncludeHidden: true})
	if err != nil || len(list.Data) != 1 || list.Total != 6 {
		t.Fatalf("ListJobs = %+v, %v", list, err)
	}

	d, err := c.Draft(ctx)
	if err != nil || d.CPULimit != contracts.DefaultCPULimit {
		t.Fatalf("Draft = %+v, %v", d, err)
	}

	versions, err := c.LogVersions(ctx, "a")
	if err != nil || len(versions) != 2 {
		t.Fatalf("LogVersions = %v, %v", versions, err)
	}

	for version, want := range map[string]string{"": "a@live", "3": "a@3"} {
		rc, err := c.Log(ctx, "a", version)
		if err != nil {
			t.Fatalf("Log(%q): %v", version, err)
		}
		body, _ := io.ReadAll(rc)
		rc.Close()
		if string(body) != want {
			t.Fatalf("Log(%q) = %q want %q", version, body, want)
		}
	}
}

func TestDeleteRepoNoContent(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /api/repos/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "missing" {
			apierror.Write(w, http.StatusNotFound, apierror.CodeNotFound, "repo not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	c := newServer(t, mux)

	if err := c.DeleteRepo(context.Background(), "abc"); err != nil {
		t.Fatalf("DeleteRepo: %v", err)
	}
	if err := c.DeleteRepo(context.Background(), "missing"); !IsStatus(err, http.StatusNotFound) {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestTensorBoardCalls(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/jobs/{job}/tensorboard", func(w http.ResponseWriter, r *http.Request) {
		var req jobs.TensorBoardRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apierror.Write(w, http.StatusBadRequest, apierror.CodeInvalidJSON, "invalid json")
			return
		}
		apierror.WriteJSON(w, http.StatusCreated, jobs.TensorBoardResponse{Pod: r.PathValue("job") + "-tensorboard", LogDir: req.LogDir})
	})
	mux.HandleFunc("DELETE /api/jobs/{job}/tensorboard", func(w http.ResponseWriter, r *http.Request) {
		apierror.Write(w, http.StatusNotFound, apierror.CodeNotFound, "tensorboard not found")
	})
	c := newServer(t, mux)
	ctx := context.Background()

	resp, err := c.StartTensorBoard(ctx, "a", "/cephfs/runs")
	if err != nil || resp.Pod != "a-tensorboard" || resp.LogDir != "/cephfs/runs" {
		t.Fatalf("StartTensorBoard = %+v, %v", resp, err)
	}
	if err := c.StopTensorBoard(ctx, "a"); !IsStatus(err, http.StatusNotFound) {
		t.Fatalf("expected 404, got %v", err)
	}
}
