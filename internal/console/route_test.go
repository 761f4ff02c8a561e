package console

import "testing"

func TestDefaultRoutesMatch(t *testing.T) {
	t.Parallel()
	table := DefaultRoutes()
	tests := []struct {
		path   string
		name   string
		params map[string]string
	}{
		{path: "/", name: "root"},
		{path: "/jobs", name: "jobs"},
		{path: "/jobs/", name: "jobs"},
		{path: "/jobs/train-42/log", name: "job-log", params: map[string]string{"jobName": "train-42"}},
		{path: "/repos", name: "repos"},
		{path: "/login", name: "login"},
	}
	for _, tc := range tests {
		route, params, ok := table.Match(tc.path)
		if !ok {
			t.Fatalf("%s: no match", tc.path)
		}
		if route.Name != tc.name {
			t.Fatalf("%s: expected route %s got %s", tc.path, tc.name, route.Name)
		}
		for k, v := range tc.params {
			if params[k] != v {
				t.Fatalf("%s: param %s = %q want %q", tc.path, k, params[k], v)
			}
		}
	}
}

func TestMatchRejectsUnknownPaths(t *testing.T) {
	t.Parallel()
	table := DefaultRoutes()
	for _, path := range []string{"/jobs/x", "/jobs/x/log/extra", "/nodes", "/jobs//log"} {
		if _, _, ok := table.Match(path); ok {
			t.Fatalf("%s should not match", path)
		}
	}
}

func TestLoginRouteIsPublic(t *testing.T) {
	t.Parallel()
	for _, r := range DefaultRoutes().Routes() {
		if r.Path == LoginPath && r.RequireAuth {
			t.Fatal("login route must not require auth")
		}
		if r.Path != LoginPath && !r.RequireAuth {
			t.Fatalf("route %s should require auth", r.Path)
		}
	}
}

func TestBuild(t *testing.T) {
	t.Parallel()
	if got := Build(JobLogPath, map[string]string{"jobName": "bert"}); got != "/jobs/bert/log" {
		t.Fatalf("unexpected path %q", got)
	}
	if got := Build(RootPath, nil); got != "/" {
		t.Fatalf("unexpected root %q", got)
	}
}
