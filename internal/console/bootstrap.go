package console

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoIdentity marks a successful response that carried no username.
var ErrNoIdentity = errors.New("no identity in response")

// IdentityResult is the outcome of one identity check: either a username
// or an error. Transport failures, rejected credentials and server errors
// are all just errors here.
type IdentityResult struct {
	User string
	Err  error
}

// OK reports whether the check identified a user.
func (r IdentityResult) OK() bool {
	return r.Err == nil && r.User != ""
}

// IdentityChecker asks the backend who the console is logged in as.
type IdentityChecker interface {
	CurrentUser(ctx context.Context) IdentityResult
}

// Navigator is the part of a router the bootstrap needs.
type Navigator interface {
	CurrentPath() string
	Push(path string) error
}

// ApplyIdentity folds an identity result into the session. A successful
// result while the console sits on the login view navigates to the root.
func ApplyIdentity(result IdentityResult, session *Session, nav Navigator) error {
	if !result.OK() {
		return session.Update("")
	}
	// the in-memory session is set even when persisting it fails, so the
	// login view is left either way
	saveErr := session.Update(result.User)
	var navErr error
	if nav != nil && nav.CurrentPath() == LoginPath {
		if err := nav.Push(RootPath); err != nil {
			navErr = fmt.Errorf("leave login view: %w", err)
		}
	}
	return errors.Join(saveErr, navErr)
}

// Bootstrap runs the startup identity check once and applies its result.
// There is no retry; callers that must not block run it in the background.
func Bootstrap(ctx context.Context, checker IdentityChecker, session *Session, nav Navigator) (IdentityResult, error) {
	result := checker.CurrentUser(ctx)
	if result.Err == nil && result.User == "" {
		result.Err = ErrNoIdentity
	}
	return result, ApplyIdentity(result, session, nav)
}
