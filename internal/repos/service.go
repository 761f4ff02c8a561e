package repos

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

func (s *Service) Create(ctx context.Context, req CreateRequest, user string) (Summary, error) {
	cred, err := req.Validate()
	if err != nil {
		return Summary{}, err
	}
	summary, err := s.repo.Upsert(ctx, cred)
	if err != nil {
		return Summary{}, err
	}
	s.logger.Info().Str("repo", summary.Repo).Str("user", user).Msg("repo credential stored")
	return summary, nil
}

func (s *Service) List(ctx context.Context, page, pageSize int) (ListResponse, error) {
	page, pageSize = normalizePage(page, pageSize)
	data, total, err := s.repo.List(ctx, (page-1)*pageSize, pageSize)
	if err != nil {
		return ListResponse{}, err
	}
	return ListResponse{Page: page, Total: total, PageSize: pageSize, Data: data}, nil
}

func (s *Service) Delete(ctx context.Context, id, user string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("repo_id", id).Str("user", user).Msg("repo credential deleted")
	return nil
}

// Credential returns the stored credential for a repo URL. It satisfies the
// cloner's credential source.
func (s *Service) Credential(ctx context.Context, repo string) (Credential, error) {
	return s.repo.GetByRepo(ctx, strings.TrimSpace(repo))
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}
