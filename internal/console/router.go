package console

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrRouteNotFound = errors.New("route not found")
	ErrRedirectLoop  = errors.New("redirect loop")
)

// maxRedirects bounds redirect chains (root -> jobs -> login is two hops).
const maxRedirects = 4

// Location is a resolved navigation target.
type Location struct {
	Path   string
	Route  Route
	Params map[string]string
}

// Param returns a path parameter of the location.
func (l Location) Param(name string) string {
	return l.Params[name]
}

// Resolve applies static redirects and the guard to path and returns where
// a navigation to path ends up.
func Resolve(table *Table, session *Session, path string) (Location, error) {
	for hop := 0; hop <= maxRedirects; hop++ {
		route, params, ok := table.Match(path)
		if !ok {
			return Location{}, fmt.Errorf("%w: %s", ErrRouteNotFound, path)
		}

		username, authenticated := session.Username()
		decision := Guard(route, username, authenticated)
		if !decision.Allow {
			path = decision.Redirect
			continue
		}
		if route.Redirect != "" {
			path = route.Redirect
			continue
		}
		return Location{Path: path, Route: route, Params: params}, nil
	}
	return Location{}, fmt.Errorf("%w: %s", ErrRedirectLoop, path)
}

// Router tracks the current location of one console instance. Every Push
// is checked by the guard before the location changes.
type Router struct {
	table   *Table
	session *Session

	mu      sync.RWMutex
	current Location
}

func NewRouter(table *Table, session *Session) *Router {
	return &Router{table: table, session: session}
}

// Push navigates to path. On error the current location is unchanged.
func (r *Router) Push(path string) error {
	loc, err := Resolve(r.table, r.session, path)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.current = loc
	r.mu.Unlock()
	return nil
}

// Current returns the current location.
func (r *Router) Current() Location {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// CurrentPath returns the path of the current location.
func (r *Router) CurrentPath() string {
	return r.Current().Path
}
