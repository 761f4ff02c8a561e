package jobs

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memRepo struct {
	mu   sync.Mutex
	jobs map[string]Job
}

func newMemRepo() *memRepo {
	return &memRepo{jobs: map[string]Job{}}
}

func (m *memRepo) Create(_ context.Context, job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.jobs {
		if existing.Name == job.Name || KubeName(existing.Name) == KubeName(job.Name) {
			return ErrJobExists
		}
	}
	m.jobs[job.Name] = job
	return nil
}

func (m *memRepo) Get(_ context.Context, name string) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[name]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return job, nil
}

func (m *memRepo) List(_ context.Context, offset, limit int, includeHidden bool) ([]Job, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []Job
	for _, j := range m.jobs {
		if j.Hide && !includeHidden {
			continue
		}
		all = append(all, j)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *memRepo) SetStatus(_ context.Context, name, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[name]
	if !ok {
		return ErrJobNotFound
	}
	job.Status = status
	m.jobs[name] = job
	return nil
}

func (m *memRepo) MarkFailed(_ context.Context, name, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[name]
	if !ok || job.Status == StatusManualStop {
		return nil
	}
	job.Status = status
	m.jobs[name] = job
	return nil
}

func (m *memRepo) SetTensorBoard(_ context.Context, name string, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[name]
	if !ok {
		return ErrJobNotFound
	}
	job.TensorBoard = on
	m.jobs[name] = job
	return nil
}

func (m *memRepo) MarkSubmitted(_ context.Context, name, commit string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[name]
	if !ok || job.Status != StatusFetching {
		return nil
	}
	job.Status = StatusPending
	if commit != "" {
		job.Commit = commit
	}
	job.SubmittedAt = &at
	m.jobs[name] = job
	return nil
}

func (m *memRepo) UpdateFromPod(_ context.Context, name, status string, runningNode *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[name]
	if !ok || job.Status == StatusManualStop {
		return false, nil
	}
	job.Status = status
	job.RunningNode = runningNode
	m.jobs[name] = job
	return true, nil
}

func (m *memRepo) Patch(_ context.Context, name string, p Patch) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[name]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	if p.Hide != nil {
		job.Hide = *p.Hide
	}
	if p.Fav != nil {
		job.Fav = *p.Fav
	}
	if p.Comments != nil {
		job.Comments = *p.Comments
	}
	m.jobs[name] = job
	return job, nil
}

func (m *memRepo) status(name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[name].Status
}
