package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ktqueue/ktqueue/internal/contracts"
	"github.com/ktqueue/ktqueue/pkg/bus"
	"github.com/rs/zerolog"
)

type SessionStore interface {
	Create(ctx context.Context, username string) (string, error)
	Lookup(ctx context.Context, id string) (string, error)
	Delete(ctx context.Context, id string) error
}

type Service struct {
	repo         Repository
	sessions     SessionStore
	auth         *Authenticator
	pub          bus.Publisher
	autoRegister bool
	logger       zerolog.Logger
}

func NewService(repo Repository, sessions SessionStore, auth *Authenticator, pub bus.Publisher, autoRegister bool, logger zerolog.Logger) *Service {
	return &Service{
		repo:         repo,
		sessions:     sessions,
		auth:         auth,
		pub:          pub,
		autoRegister: autoRegister,
		logger:       logger,
	}
}

func (s *Service) Login(ctx context.Context, req LoginRequest, correlationID string) (LoginResult, error) {
	if err := req.Validate(); err != nil {
		return LoginResult{}, err
	}
	username := strings.TrimSpace(req.Username)

	user, err := s.repo.GetByUsername(ctx, username)
	switch {
	case errors.Is(err, ErrUserNotFound):
		if !s.autoRegister {
			return LoginResult{}, ErrInvalidCredentials
		}
		hash, err := s.auth.HashPassword(req.Password)
		if err != nil {
			return LoginResult{}, err
		}
		user, err = s.repo.Create(ctx, username, hash)
		if err != nil {
			return LoginResult{}, fmt.Errorf("create user: %w", err)
		}
		s.logger.Info().Str("user", username).Msg("registered user on first login")
	case err != nil:
		return LoginResult{}, err
	case user.PasswordHash == "":
		hash, err := s.auth.HashPassword(req.Password)
		if err != nil {
			return LoginResult{}, err
		}
		if err := s.repo.UpdatePassword(ctx, user.ID, hash); err != nil {
			return LoginResult{}, fmt.Errorf("set password: %w", err)
		}
	default:
		if err := s.auth.VerifyPassword(user.PasswordHash, req.Password); err != nil {
			return LoginResult{}, ErrInvalidCredentials
		}
	}

	token, err := s.auth.GenerateToken(user.ID, user.Username)
	if err != nil {
		return LoginResult{}, err
	}
	sessionID, err := s.sessions.Create(ctx, user.Username)
	if err != nil {
		return LoginResult{}, fmt.Errorf("create session: %w", err)
	}

	payload := contracts.UserLoggedInV1{AuthMethod: "password"}
	if err := contracts.Publish(s.pub, contracts.EventUserLoggedIn, correlationID, &user.Username, payload); err != nil {
		s.logger.Warn().Err(err).Str("user", user.Username).Msg("publish user.logged_in failed")
	}

	return LoginResult{
		LoginResponse: LoginResponse{Token: token, User: user.Username},
		SessionID:     sessionID,
	}, nil
}

func (s *Service) Logout(ctx context.Context, sessionID string) error {
	return s.sessions.Delete(ctx, sessionID)
}

// Identify resolves the caller from the session cookie, falling back to a
// bearer token.
func (s *Service) Identify(r *http.Request) (string, error) {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		username, err := s.sessions.Lookup(r.Context(), c.Value)
		if err == nil {
			return username, nil
		}
		if !errors.Is(err, ErrSessionNotFound) {
			return "", err
		}
	}

	token, ok := bearerToken(r)
	if !ok {
		return "", ErrUnauthenticated
	}
	_, username, err := s.auth.ParseToken(token)
	if err != nil {
		return "", ErrUnauthenticated
	}
	return username, nil
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return token, token != ""
}
