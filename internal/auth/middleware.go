package auth

import (
	"context"
	"net/http"

	"github.com/ktqueue/ktqueue/pkg/apierror"
)

// Identifier resolves the user behind a request.
type Identifier interface {
	Identify(r *http.Request) (string, error)
}

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

type userKey struct{}

func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

func UserFromContext(ctx context.Context) (string, bool) {
	user, ok := ctx.Value(userKey{}).(string)
	return user, ok && user != ""
}

// Require rejects requests without a valid session or token.
func Require(id Identifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := id.Identify(r)
			if err != nil || user == "" {
				apierror.Unauthorized(w, "authentication required")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// Optional attaches the user when one is present and never rejects.
func Optional(id Identifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if user, err := id.Identify(r); err == nil && user != "" {
				r = r.WithContext(WithUser(r.Context(), user))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Guard picks Require or Optional from the KTQ_AUTH_REQUIRED setting.
func Guard(id Identifier, required bool) Middleware {
	if required {
		return Require(id)
	}
	return Optional(id)
}
