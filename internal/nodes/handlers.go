package nodes

import (
	"context"
	"net/http"

	"github.com/ktqueue/ktqueue/internal/auth"
	"github.com/ktqueue/ktqueue/pkg/apierror"
)

type Lister interface {
	List(ctx context.Context) (ListResponse, error)
}

type Handler struct {
	svc   Lister
	guard auth.Middleware
}

func NewHandler(svc Lister, guard auth.Middleware) *Handler {
	return &Handler{svc: svc, guard: guard}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("GET /api/nodes", h.guard(http.HandlerFunc(h.handleList)))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.List(r.Context())
	if err != nil {
		apierror.Internal(w)
		return
	}
	apierror.WriteJSON(w, http.StatusOK, resp)
}
