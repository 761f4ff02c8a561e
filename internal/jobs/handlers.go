package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/ktqueue/ktqueue/internal/auth"
	"github.com/ktqueue/ktqueue/internal/contracts"
	"github.com/ktqueue/ktqueue/pkg/apierror"
)

type JobService interface {
	Draft() contracts.JobDraft
	Create(ctx context.Context, d contracts.JobDraft, user, correlationID string) (Job, error)
	List(ctx context.Context, q ListQuery) (ListResponse, error)
	Patch(ctx context.Context, name string, p Patch) (Job, error)
	Stop(ctx context.Context, name, user, correlationID string) error
	OpenLog(ctx context.Context, name, version string) (io.ReadCloser, error)
	Versions(ctx context.Context, name string) ([]string, error)
	StartTensorBoard(ctx context.Context, name, logdir string) (TensorBoardResponse, error)
	StopTensorBoard(ctx context.Context, name string) error
}

type Handler struct {
	svc   JobService
	guard auth.Middleware
}

func NewHandler(svc JobService, guard auth.Middleware) *Handler {
	return &Handler{svc: svc, guard: guard}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("GET /api/jobs/draft", h.guard(http.HandlerFunc(h.handleDraft)))
	mux.Handle("GET /api/jobs", h.guard(http.HandlerFunc(h.handleList)))
	mux.Handle("POST /api/jobs", h.guard(http.HandlerFunc(h.handleCreate)))
	mux.Handle("PATCH /api/jobs/{job}", h.guard(http.HandlerFunc(h.handlePatch)))
	mux.Handle("POST /api/jobs/{job}/stop", h.guard(http.HandlerFunc(h.handleStop)))
	mux.Handle("GET /api/jobs/{job}/log", h.guard(http.HandlerFunc(h.handleLog)))
	mux.Handle("GET /api/jobs/{job}/log/versions", h.guard(http.HandlerFunc(h.handleVersions)))
	mux.Handle("GET /api/jobs/{job}/log/{version}", h.guard(http.HandlerFunc(h.handleLog)))
	mux.Handle("POST /api/jobs/{job}/tensorboard", h.guard(http.HandlerFunc(h.handleStartTensorBoard)))
	mux.Handle("DELETE /api/jobs/{job}/tensorboard", h.guard(http.HandlerFunc(h.handleStopTensorBoard)))
}

func (h *Handler) handleDraft(w http.ResponseWriter, _ *http.Request) {
	apierror.WriteJSON(w, http.StatusOK, h.svc.Draft())
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))
	hidden, _ := strconv.ParseBool(q.Get("hidden"))

	resp, err := h.svc.List(r.Context(), ListQuery{Page: page, PageSize: pageSize, IncludeHidden: hidden})
	if err != nil {
		apierror.Internal(w)
		return
	}
	apierror.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	draft := contracts.DefaultJobDraft()
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		apierror.Write(w, http.StatusBadRequest, apierror.CodeInvalidJSON, "invalid json")
		return
	}
	user, _ := auth.UserFromContext(r.Context())

	job, err := h.svc.Create(r.Context(), draft, user, r.Header.Get("X-Correlation-Id"))
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidDraft):
			apierror.Write(w, http.StatusBadRequest, apierror.CodeValidation, err.Error())
		case errors.Is(err, ErrJobExists):
			apierror.Write(w, http.StatusConflict, "job_exists", "job "+draft.Name+" already exists")
		default:
			apierror.Internal(w)
		}
		return
	}
	apierror.WriteJSON(w, http.StatusCreated, job)
}

func (h *Handler) handlePatch(w http.ResponseWriter, r *http.Request) {
	var p Patch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		apierror.Write(w, http.StatusBadRequest, apierror.CodeInvalidJSON, "invalid json")
		return
	}
	if p.Empty() {
		apierror.Write(w, http.StatusBadRequest, apierror.CodeValidation, "nothing to update")
		return
	}
	job, err := h.svc.Patch(r.Context(), r.PathValue("job"), p)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	apierror.WriteJSON(w, http.StatusOK, job)
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	name := r.PathValue("job")
	if err := h.svc.Stop(r.Context(), name, user, r.Header.Get("X-Correlation-Id")); err != nil {
		writeLookupError(w, err)
		return
	}
	apierror.WriteJSON(w, http.StatusOK, map[string]string{"message": "job " + name + " stopped"})
}

func (h *Handler) handleLog(w http.ResponseWriter, r *http.Request) {
	rc, err := h.svc.OpenLog(r.Context(), r.PathValue("job"), r.PathValue("version"))
	if err != nil {
		writeLookupError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(flushWriter{w}, rc)
}

func (h *Handler) handleVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.svc.Versions(r.Context(), r.PathValue("job"))
	if err != nil {
		writeLookupError(w, err)
		return
	}
	apierror.WriteJSON(w, http.StatusOK, VersionsResponse{Versions: versions})
}

func (h *Handler) handleStartTensorBoard(w http.ResponseWriter, r *http.Request) {
	var req TensorBoardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		apierror.Write(w, http.StatusBadRequest, apierror.CodeInvalidJSON, "invalid json")
		return
	}
	resp, err := h.svc.StartTensorBoard(r.Context(), r.PathValue("job"), req.LogDir)
	switch {
	case err == nil:
		apierror.WriteJSON(w, http.StatusCreated, resp)
	case errors.Is(err, ErrInvalidLogDir):
		apierror.Write(w, http.StatusBadRequest, apierror.CodeValidation, err.Error())
	case errors.Is(err, ErrTensorBoardExists):
		apierror.Write(w, http.StatusConflict, "tensorboard_exists", err.Error())
	default:
		writeLookupError(w, err)
	}
}

func (h *Handler) handleStopTensorBoard(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("job")
	if err := h.svc.StopTensorBoard(r.Context(), name); err != nil {
		writeLookupError(w, err)
		return
	}
	apierror.WriteJSON(w, http.StatusOK, map[string]string{"message": "tensorboard of " + name + " stopped"})
}

func writeLookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrJobNotFound), errors.Is(err, ErrLogNotFound), errors.Is(err, ErrTensorBoardNotFound):
		apierror.Write(w, http.StatusNotFound, apierror.CodeNotFound, err.Error())
	default:
		apierror.Internal(w)
	}
}

// flushWriter pushes each chunk of a pod log to the client as it arrives.
type flushWriter struct {
	w http.ResponseWriter
}

func (f flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if fl, ok := f.w.(http.Flusher); ok {
		fl.Flush()
	}
	return n, err
}
