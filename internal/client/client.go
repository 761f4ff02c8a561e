// Package client is a Go client for the ktqueue HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ktqueue/ktqueue/internal/auth"
	"github.com/ktqueue/ktqueue/internal/console"
	"github.com/ktqueue/ktqueue/internal/contracts"
	"github.com/ktqueue/ktqueue/internal/jobs"
	"github.com/ktqueue/ktqueue/internal/nodes"
	"github.com/ktqueue/ktqueue/internal/repos"
	"github.com/ktqueue/ktqueue/pkg/apierror"
)

// Option configures a Client.
type Option func(*Client)

// Client talks to one ktqueue server. It is safe for concurrent use; the
// bearer token may change after Login.
type Client struct {
	baseURL    string
	httpClient *http.Client
	headers    map[string]string

	mu    sync.RWMutex
	token string
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		headers:    map[string]string{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithToken starts the client with a saved bearer token.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.headers[key] = value
	}
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Correlation-Id", uuid.NewString())
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// send performs the request and returns the response for 2xx statuses. The
// caller closes the body.
func (c *Client) send(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	apiErr := &APIError{StatusCode: resp.StatusCode, RequestID: resp.Header.Get("X-Request-Id")}
	var body apierror.Response
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &body); err == nil {
		apiErr.Code, apiErr.Message = body.Code, body.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	if apiErr.Message == "" && apiErr.Code == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return nil, apiErr
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.send(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// Login exchanges credentials for a bearer token, which later calls use.
func (c *Client) Login(ctx context.Context, username, password string) (auth.LoginResponse, error) {
	var res auth.LoginResponse
	err := c.do(ctx, http.MethodPost, "/api/login", auth.LoginRequest{Username: username, Password: password}, &res)
	if err != nil {
		return auth.LoginResponse{}, err
	}
	c.SetToken(res.Token)
	return res, nil
}

// Logout drops the token. Bearer tokens carry no server state, so this only
// tells the server for its logs.
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/api/logout", nil, nil)
	c.SetToken("")
	return err
}

// CurrentUser implements console.IdentityChecker.
func (c *Client) CurrentUser(ctx context.Context) console.IdentityResult {
	var res auth.CurrentUserResponse
	if err := c.do(ctx, http.MethodGet, "/api/current_user", nil, &res); err != nil {
		return console.IdentityResult{Err: err}
	}
	return console.IdentityResult{User: res.User}
}

func (c *Client) Draft(ctx context.Context) (contracts.JobDraft, error) {
	var d contracts.JobDraft
	err := c.do(ctx, http.MethodGet, "/api/jobs/draft", nil, &d)
	return d, err
}

func (c *Client) ListJobs(ctx context.Context, q jobs.ListQuery) (jobs.ListResponse, error) {
	v := url.Values{}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.PageSize > 0 {
		v.Set("page_size", strconv.Itoa(q.PageSize))
	}
	if q.IncludeHidden {
		v.Set("hidden", "true")
	}
	path := "/api/jobs"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}
	var res jobs.ListResponse
	err := c.do(ctx, http.MethodGet, path, nil, &res)
	return res, err
}

func (c *Client) CreateJob(ctx context.Context, d contracts.JobDraft) (jobs.Job, error) {
	var job jobs.Job
	err := c.do(ctx, http.MethodPost, "/api/jobs", d, &job)
	return job, err
}

func (c *Client) PatchJob(ctx context.Context, name string, p jobs.Patch) (jobs.Job, error) {
	var job jobs.Job
	err := c.do(ctx, http.MethodPatch, "/api/jobs/"+url.PathEscape(name), p, &job)
	return job, err
}

func (c *Client) StopJob(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(name)+"/stop", nil, nil)
}

// StartTensorBoard launches TensorBoard over logdir, or over the job's
// default log directory when logdir is empty.
func (c *Client) StartTensorBoard(ctx context.Context, name, logdir string) (jobs.TensorBoardResponse, error) {
	var out jobs.TensorBoardResponse
	err := c.do(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(name)+"/tensorboard", jobs.TensorBoardRequest{LogDir: logdir}, &out)
	return out, err
}

func (c *Client) StopTensorBoard(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/api/jobs/"+url.PathEscape(name)+"/tensorboard", nil, nil)
}

// Log streams a job log. An empty version asks for the live pod log.
func (c *Client) Log(ctx context.Context, name, version string) (io.ReadCloser, error) {
	path := "/api/jobs/" + url.PathEscape(name) + "/log"
	if version != "" {
		path += "/" + url.PathEscape(version)
	}
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/plain")
	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) LogVersions(ctx context.Context, name string) ([]string, error) {
	var res jobs.VersionsResponse
	err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(name)+"/log/versions", nil, &res)
	return res.Versions, err
}

func (c *Client) ListRepos(ctx context.Context, page, pageSize int) (repos.ListResponse, error) {
	v := url.Values{}
	if page > 0 {
		v.Set("page", strconv.Itoa(page))
	}
	if pageSize > 0 {
		v.Set("pageSize", strconv.Itoa(pageSize))
	}
	path := "/api/repos"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}
	var res repos.ListResponse
	err := c.do(ctx, http.MethodGet, path, nil, &res)
	return res, err
}

func (c *Client) CreateRepo(ctx context.Context, req repos.CreateRequest) (repos.Summary, error) {
	var res repos.Summary
	err := c.do(ctx, http.MethodPost, "/api/repos", req, &res)
	return res, err
}

func (c *Client) DeleteRepo(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/repos/"+url.PathEscape(id), nil, nil)
}

func (c *Client) Nodes(ctx context.Context) (nodes.ListResponse, error) {
	var res nodes.ListResponse
	err := c.do(ctx, http.MethodGet, "/api/nodes", nil, &res)
	return res, err
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}
