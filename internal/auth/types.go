package auth

import (
	"errors"
	"strings"
)

var (
	ErrInvalidUsername    = errors.New("username must be between 2 and 64 characters")
	ErrInvalidPassword    = errors.New("password must be between 1 and 128 characters")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthenticated    = errors.New("not authenticated")
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (r LoginRequest) Validate() error {
	name := strings.TrimSpace(r.Username)
	if len(name) < 2 || len(name) > 64 {
		return ErrInvalidUsername
	}
	if len(r.Password) == 0 || len(r.Password) > 128 {
		return ErrInvalidPassword
	}
	return nil
}

// LoginResponse is the body of a successful POST /api/login. The session id
// travels in the cookie only.
type LoginResponse struct {
	Token string `json:"token"`
	User  string `json:"user"`
}

type LoginResult struct {
	LoginResponse
	SessionID string
}

// CurrentUserResponse is the body of GET /api/current_user.
type CurrentUserResponse struct {
	User string `json:"user"`
}
