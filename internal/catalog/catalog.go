package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ktqueue/ktqueue/internal/auth"
	"github.com/ktqueue/ktqueue/pkg/apierror"
)

// Image is a registry image with its published tags.
type Image struct {
	Name string
	Tags []string
}

type ImagesResponse struct {
	Images []string `json:"images"`
}

type Repository interface {
	Tags(ctx context.Context) ([]string, error)
	Images(ctx context.Context) ([]Image, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Tags reads the job tag vocabulary from the "tags" setting.
func (r *PostgresRepository) Tags(ctx context.Context) ([]string, error) {
	var raw []byte
	err := r.db.QueryRowContext(ctx, `SELECT data FROM settings WHERE name = 'tags'`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	tags := []string{}
	if err := json.Unmarshal(raw, &tags); err != nil {
		return nil, err
	}
	return tags, nil
}

func (r *PostgresRepository) Images(ctx context.Context) ([]Image, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name, tags FROM images ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Image
	for rows.Next() {
		var (
			img Image
			raw []byte
		)
		if err := rows.Scan(&img.Name, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &img.Tags); err != nil {
			return nil, err
		}
		out = append(out, img)
	}
	return out, rows.Err()
}

type Service struct {
	repo     Repository
	registry string
}

func NewService(repo Repository, registry string) *Service {
	return &Service{repo: repo, registry: strings.TrimSuffix(registry, "/")}
}

func (s *Service) Tags(ctx context.Context) ([]string, error) {
	tags, err := s.repo.Tags(ctx)
	if err != nil {
		return nil, err
	}
	if tags == nil {
		tags = []string{}
	}
	return tags, nil
}

// Images expands every image tag into a pullable reference.
func (s *Service) Images(ctx context.Context) (ImagesResponse, error) {
	images, err := s.repo.Images(ctx)
	if err != nil {
		return ImagesResponse{}, err
	}
	refs := []string{}
	for _, img := range images {
		for _, tag := range img.Tags {
			ref := img.Name + ":" + tag
			if s.registry != "" {
				ref = s.registry + "/" + ref
			}
			refs = append(refs, ref)
		}
	}
	return ImagesResponse{Images: refs}, nil
}

type Handler struct {
	svc   *Service
	guard auth.Middleware
}

func NewHandler(svc *Service, guard auth.Middleware) *Handler {
	return &Handler{svc: svc, guard: guard}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("GET /api/tags", h.guard(http.HandlerFunc(h.handleTags)))
	mux.Handle("GET /api/images", h.guard(http.HandlerFunc(h.handleImages)))
}

func (h *Handler) handleTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.svc.Tags(r.Context())
	if err != nil {
		apierror.Internal(w)
		return
	}
	apierror.WriteJSON(w, http.StatusOK, tags)
}

func (h *Handler) handleImages(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.Images(r.Context())
	if err != nil {
		apierror.Internal(w)
		return
	}
	apierror.WriteJSON(w, http.StatusOK, resp)
}
