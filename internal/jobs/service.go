package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/ktqueue/ktqueue/internal/cloner"
	"github.com/ktqueue/ktqueue/internal/contracts"
	"github.com/ktqueue/ktqueue/pkg/bus"
	"github.com/rs/zerolog"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	submitTimeout   = 15 * time.Minute
)

// Cloner exports a repository commit into a job's work directory.
type Cloner interface {
	CloneAndCopy(ctx context.Context, req cloner.Request) (string, error)
}

type Deps struct {
	Repo      Repository
	Kube      kubernetes.Interface
	Cloner    Cloner
	Logs      *LogStore
	Publisher bus.Publisher
	Clock     clockwork.Clock
	Logger    zerolog.Logger
}

type Service struct {
	repo   Repository
	kube   kubernetes.Interface
	cloner Cloner
	logs   *LogStore
	pub    bus.Publisher
	clock  clockwork.Clock
	logger zerolog.Logger
	cfg    ManifestConfig

	wg sync.WaitGroup
}

func NewService(deps Deps, cfg ManifestConfig) *Service {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Logs == nil {
		deps.Logs = NewLogStore(cfg.DataRoot)
	}
	return &Service{
		repo:   deps.Repo,
		kube:   deps.Kube,
		cloner: deps.Cloner,
		logs:   deps.Logs,
		pub:    deps.Publisher,
		clock:  deps.Clock,
		logger: deps.Logger,
		cfg:    cfg,
	}
}

// Draft returns the default job-creation form.
func (s *Service) Draft() contracts.JobDraft {
	return contracts.DefaultJobDraft()
}

// Create stores the job as fetching and returns immediately; cloning and
// submission to Kubernetes continue in the background.
func (s *Service) Create(ctx context.Context, d contracts.JobDraft, user, correlationID string) (Job, error) {
	d.Name = strings.TrimSpace(d.Name)
	if err := ValidateDraft(d); err != nil {
		return Job{}, err
	}

	job := newJob(d, user, s.clock.Now().UTC())
	if err := s.repo.Create(ctx, job); err != nil {
		return Job{}, err
	}
	s.logger.Info().Str("job", job.Name).Str("user", user).Str("image", job.Image).Int("gpu", job.GPUNum).Msg("job created")

	payload := contracts.JobCreatedV1{Name: job.Name, Image: job.Image, GPUNum: job.GPUNum, Node: d.NodeName()}
	if err := contracts.Publish(s.pub, contracts.EventJobCreated, correlationID, userPtr(user), payload); err != nil {
		s.logger.Warn().Err(err).Str("job", job.Name).Msg("publish job.created failed")
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.submit(context.WithoutCancel(ctx), job)
	}()
	return job, nil
}

// Wait blocks until background submissions finish.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) submit(ctx context.Context, job Job) {
	ctx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()
	logger := s.logger.With().Str("job", job.Name).Logger()

	paths := PathsFor(s.cfg.DataRoot, job.Name)
	for _, dir := range []string{paths.JobDir, paths.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			s.fail(ctx, job.Name, fmt.Errorf("prepare %s: %w", dir, err))
			return
		}
	}

	commit := job.Commit
	if job.Repo != "" {
		if s.cloner == nil {
			s.fail(ctx, job.Name, errors.New("no cloner configured"))
			return
		}
		var err error
		commit, err = s.cloner.CloneAndCopy(ctx, cloner.Request{
			Repo:   job.Repo,
			Branch: job.Branch,
			Commit: job.Commit,
			Dest:   paths.WorkDir,
		})
		if err != nil {
			s.fail(ctx, job.Name, fmt.Errorf("clone: %w", err))
			return
		}
	} else if err := os.MkdirAll(paths.WorkDir, 0o755); err != nil {
		s.fail(ctx, job.Name, fmt.Errorf("prepare %s: %w", paths.WorkDir, err))
		return
	}

	// the job may have been stopped while the repo was fetching
	if current, err := s.repo.Get(ctx, job.Name); err == nil && current.Status == StatusManualStop {
		logger.Info().Msg("job stopped before submission")
		return
	}

	manifest, err := BuildJob(job.Draft(), s.cfg)
	if err != nil {
		s.fail(ctx, job.Name, err)
		return
	}
	created, err := s.kube.BatchV1().Jobs(s.cfg.Namespace).Create(ctx, manifest, metav1.CreateOptions{})
	if err != nil {
		s.fail(ctx, job.Name, fmt.Errorf("create kubernetes job: %w", err))
		return
	}

	at := created.CreationTimestamp.Time
	if at.IsZero() {
		at = s.clock.Now().UTC()
	}
	if err := s.repo.MarkSubmitted(ctx, job.Name, commit, at); err != nil {
		logger.Error().Err(err).Msg("mark job submitted")
		return
	}
	logger.Info().Str("commit", commit).Str("k8s_job", created.Name).Msg("job submitted")
}

func (s *Service) fail(ctx context.Context, name string, err error) {
	s.logger.Error().Err(err).Str("job", name).Msg("job submission failed")
	if setErr := s.repo.MarkFailed(ctx, name, "error: "+err.Error()); setErr != nil {
		s.logger.Error().Err(setErr).Str("job", name).Msg("record job failure")
	}
}

func (s *Service) Get(ctx context.Context, name string) (Job, error) {
	return s.repo.Get(ctx, name)
}

func (s *Service) List(ctx context.Context, q ListQuery) (ListResponse, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}
	data, total, err := s.repo.List(ctx, (q.Page-1)*q.PageSize, q.PageSize, q.IncludeHidden)
	if err != nil {
		return ListResponse{}, err
	}
	return ListResponse{Page: q.Page, Total: total, PageSize: q.PageSize, Data: data}, nil
}

func (s *Service) Patch(ctx context.Context, name string, p Patch) (Job, error) {
	return s.repo.Patch(ctx, name, p)
}

// Stop saves the pod log, deletes the Kubernetes Job and its pods, and marks
// the job ManualStop so the watcher leaves it alone.
func (s *Service) Stop(ctx context.Context, name, user, correlationID string) error {
	if _, err := s.repo.Get(ctx, name); err != nil {
		return err
	}
	kname := KubeName(name)

	pods, err := s.jobPods(ctx, name)
	if err != nil {
		return err
	}
	if pod := latestPod(pods); pod != nil {
		if err := s.SaveLog(ctx, name, pod.Name); err != nil {
			s.logger.Warn().Err(err).Str("job", name).Str("pod", pod.Name).Msg("save log before stop")
		}
	}

	background := metav1.DeletePropagationBackground
	err = s.kube.BatchV1().Jobs(s.cfg.Namespace).Delete(ctx, kname, metav1.DeleteOptions{PropagationPolicy: &background})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("delete kubernetes job: %w", err)
	}
	for _, pod := range pods {
		err := s.kube.CoreV1().Pods(s.cfg.Namespace).Delete(ctx, pod.Name, metav1.DeleteOptions{})
		if err != nil && !apierrors.IsNotFound(err) {
			return fmt.Errorf("delete pod %s: %w", pod.Name, err)
		}
	}

	if err := s.repo.SetStatus(ctx, name, StatusManualStop); err != nil {
		return err
	}
	s.logger.Info().Str("job", name).Str("user", user).Msg("job stopped")

	if err := contracts.Publish(s.pub, contracts.EventJobStopped, correlationID, userPtr(user), contracts.JobStoppedV1{Name: name}); err != nil {
		s.logger.Warn().Err(err).Str("job", name).Msg("publish job.stopped failed")
	}
	return nil
}

// SaveLog copies the pod's log into the rolling log store.
func (s *Service) SaveLog(ctx context.Context, job, pod string) error {
	stream, err := s.kube.CoreV1().Pods(s.cfg.Namespace).GetLogs(pod, &corev1.PodLogOptions{}).Stream(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()
	return s.logs.Save(job, stream)
}

// OpenLog returns the live pod log when no version is requested and a pod
// is still around, otherwise the saved log of that version.
func (s *Service) OpenLog(ctx context.Context, name, version string) (io.ReadCloser, error) {
	if _, err := s.repo.Get(ctx, name); err != nil {
		return nil, err
	}
	if version == "" {
		pods, err := s.jobPods(ctx, name)
		if err != nil {
			return nil, err
		}
		if pod := latestPod(pods); pod != nil {
			stream, err := s.kube.CoreV1().Pods(s.cfg.Namespace).GetLogs(pod.Name, &corev1.PodLogOptions{}).Stream(ctx)
			if err == nil {
				return stream, nil
			}
			s.logger.Debug().Err(err).Str("job", name).Msg("live log unavailable, using saved log")
		}
	}
	return s.logs.Open(name, version)
}

func (s *Service) Versions(ctx context.Context, name string) ([]string, error) {
	if _, err := s.repo.Get(ctx, name); err != nil {
		return nil, err
	}
	return s.logs.Versions(name)
}

func (s *Service) jobPods(ctx context.Context, name string) ([]corev1.Pod, error) {
	list, err := s.kube.CoreV1().Pods(s.cfg.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: LabelJob + "=" + KubeName(name),
	})
	if err != nil {
		return nil, fmt.Errorf("list pods: %w", err)
	}
	return list.Items, nil
}

func latestPod(pods []corev1.Pod) *corev1.Pod {
	var latest *corev1.Pod
	for i := range pods {
		if latest == nil || latest.CreationTimestamp.Before(&pods[i].CreationTimestamp) {
			latest = &pods[i]
		}
	}
	return latest
}

func userPtr(user string) *string {
	if user == "" {
		return nil
	}
	return &user
}
