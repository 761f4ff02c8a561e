// Package console holds the navigation model shared by the web console and
// the terminal console: the route table, the authentication guard, the
// session owned by one console instance and the bootstrap identity check.
package console

import "strings"

// View names a renderable screen.
type View string

const (
	ViewJobs   View = "jobs"
	ViewJobLog View = "job-log"
	ViewRepos  View = "repos"
	ViewLogin  View = "login"
)

const (
	RootPath   = "/"
	JobsPath   = "/jobs"
	JobLogPath = "/jobs/:jobName/log"
	ReposPath  = "/repos"
	LoginPath  = "/login"
)

// Route maps a path pattern to a view. A route with Redirect set has no
// view of its own.
type Route struct {
	Name        string
	Path        string
	View        View
	Redirect    string
	RequireAuth bool
}

// Table is an ordered, immutable set of routes.
type Table struct {
	routes []Route
}

// DefaultRoutes is the console route table.
func DefaultRoutes() *Table {
	return NewTable([]Route{
		{Name: "root", Path: RootPath, Redirect: JobsPath, RequireAuth: true},
		{Name: "jobs", Path: JobsPath, View: ViewJobs, RequireAuth: true},
		{Name: "job-log", Path: JobLogPath, View: ViewJobLog, RequireAuth: true},
		{Name: "repos", Path: ReposPath, View: ViewRepos, RequireAuth: true},
		{Name: "login", Path: LoginPath, View: ViewLogin, RequireAuth: false},
	})
}

func NewTable(routes []Route) *Table {
	return &Table{routes: append([]Route(nil), routes...)}
}

// Routes returns a copy of the table in declaration order.
func (t *Table) Routes() []Route {
	return append([]Route(nil), t.routes...)
}

// Match finds the first route whose pattern matches path and returns the
// extracted ":param" values.
func (t *Table) Match(path string) (Route, map[string]string, bool) {
	segments := splitPath(path)
	for _, r := range t.routes {
		if params, ok := matchPattern(splitPath(r.Path), segments); ok {
			return r, params, true
		}
	}
	return Route{}, nil, false
}

// Build substitutes params into a pattern, e.g. Build(JobLogPath, {"jobName": "a"}).
func Build(pattern string, params map[string]string) string {
	segments := splitPath(pattern)
	for i, s := range segments {
		if strings.HasPrefix(s, ":") {
			segments[i] = params[s[1:]]
		}
	}
	return "/" + strings.Join(segments, "/")
}

func matchPattern(pattern, path []string) (map[string]string, bool) {
	if len(pattern) != len(path) {
		return nil, false
	}
	params := map[string]string{}
	for i, p := range pattern {
		if strings.HasPrefix(p, ":") {
			if path[i] == "" {
				return nil, false
			}
			params[p[1:]] = path[i]
			continue
		}
		if p != path[i] {
			return nil, false
		}
	}
	return params, true
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
