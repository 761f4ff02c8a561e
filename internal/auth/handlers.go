package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ktqueue/ktqueue/pkg/apierror"
)

type AuthService interface {
	Login(ctx context.Context, req LoginRequest, correlationID string) (LoginResult, error)
	Logout(ctx context.Context, sessionID string) error
	Identify(r *http.Request) (string, error)
}

// Cookies writes and expires the browser session cookie.
type Cookies struct {
	Secure bool
	TTL    time.Duration
}

func (c Cookies) Set(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int(c.TTL.Seconds()),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c Cookies) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

type Handler struct {
	svc     AuthService
	cookies Cookies
}

func NewHandler(svc AuthService, cookies Cookies) *Handler {
	return &Handler{svc: svc, cookies: cookies}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/login", h.handleLogin)
	mux.HandleFunc("POST /api/logout", h.handleLogout)
	mux.HandleFunc("GET /api/current_user", h.handleCurrentUser)
	// GET patterns also match HEAD, which is what nginx auth_request sends.
	mux.HandleFunc("GET /api/auth", h.handleAuth)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.Write(w, http.StatusBadRequest, apierror.CodeInvalidJSON, "invalid json")
		return
	}
	if err := req.Validate(); err != nil {
		apierror.Write(w, http.StatusBadRequest, apierror.CodeValidation, err.Error())
		return
	}

	res, err := h.svc.Login(r.Context(), req, r.Header.Get("X-Correlation-Id"))
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			apierror.Write(w, http.StatusUnauthorized, "invalid_credentials", err.Error())
			return
		}
		apierror.Internal(w)
		return
	}

	h.cookies.Set(w, res.SessionID)
	apierror.WriteJSON(w, http.StatusOK, res.LoginResponse)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(SessionCookie); err == nil {
		if err := h.svc.Logout(r.Context(), c.Value); err != nil {
			apierror.Internal(w)
			return
		}
	}
	h.cookies.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.svc.Identify(r)
	if err != nil || user == "" {
		apierror.Unauthorized(w, "not logged in")
		return
	}
	apierror.WriteJSON(w, http.StatusOK, CurrentUserResponse{User: user})
}

func (h *Handler) handleAuth(w http.ResponseWriter, r *http.Request) {
	user, err := h.svc.Identify(r)
	if err != nil || user == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	w.Header().Set("X-Ktqueue-User", user)
	w.WriteHeader(http.StatusAccepted)
}
