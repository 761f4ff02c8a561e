package repos

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ktqueue/ktqueue/internal/auth"
	"github.com/ktqueue/ktqueue/pkg/apierror"
)

type RepoService interface {
	Create(ctx context.Context, req CreateRequest, user string) (Summary, error)
	List(ctx context.Context, page, pageSize int) (ListResponse, error)
	Delete(ctx context.Context, id, user string) error
}

type Handler struct {
	svc   RepoService
	read  auth.Middleware
	write auth.Middleware
}

// NewHandler guards listing with read and every mutation with write.
func NewHandler(svc RepoService, read, write auth.Middleware) *Handler {
	return &Handler{svc: svc, read: read, write: write}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("GET /api/repos", h.read(http.HandlerFunc(h.handleList)))
	mux.Handle("POST /api/repos", h.write(http.HandlerFunc(h.handleCreate)))
	mux.Handle("DELETE /api/repos/{id}", h.write(http.HandlerFunc(h.handleDelete)))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
	resp, err := h.svc.List(r.Context(), page, pageSize)
	if err != nil {
		apierror.Internal(w)
		return
	}
	apierror.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.Write(w, http.StatusBadRequest, apierror.CodeInvalidJSON, "invalid json")
		return
	}
	user, _ := auth.UserFromContext(r.Context())
	summary, err := h.svc.Create(r.Context(), req, user)
	if err != nil {
		switch {
		case errors.Is(err, ErrIllegalRepo),
			errors.Is(err, ErrSSHKeyRequired),
			errors.Is(err, ErrInvalidSSHKey),
			errors.Is(err, ErrEncryptedSSHKey),
			errors.Is(err, ErrHTTPSCredsRequired):
			apierror.Write(w, http.StatusBadRequest, apierror.CodeValidation, err.Error())
		default:
			apierror.Internal(w)
		}
		return
	}
	apierror.WriteJSON(w, http.StatusCreated, summary)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	if err := h.svc.Delete(r.Context(), r.PathValue("id"), user); err != nil {
		if errors.Is(err, ErrRepoNotFound) {
			apierror.Write(w, http.StatusNotFound, apierror.CodeNotFound, err.Error())
			return
		}
		apierror.Internal(w)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
