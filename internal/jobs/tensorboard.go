package jobs

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

type TensorBoardRequest struct {
	LogDir string `json:"logdir,omitempty"`
}

type TensorBoardResponse struct {
	Pod    string `json:"pod"`
	LogDir string `json:"logdir"`
}

// StartTensorBoard launches a TensorBoard pod for the job. An empty logdir
// means <data_root>/logs/<job>/train.
func (s *Service) StartTensorBoard(ctx context.Context, name, logdir string) (TensorBoardResponse, error) {
	job, err := s.repo.Get(ctx, name)
	if err != nil {
		return TensorBoardResponse{}, err
	}
	logdir = strings.TrimSpace(logdir)
	if logdir == "" {
		logdir = filepath.Join(PathsFor(s.cfg.DataRoot, name).LogDir, "train")
	}
	if !filepath.IsAbs(logdir) {
		return TensorBoardResponse{}, ErrInvalidLogDir
	}

	pod := BuildTensorBoardPod(job, logdir, s.cfg)
	created, err := s.kube.CoreV1().Pods(s.cfg.Namespace).Create(ctx, pod, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		return TensorBoardResponse{}, ErrTensorBoardExists
	}
	if err != nil {
		return TensorBoardResponse{}, fmt.Errorf("create tensorboard pod: %w", err)
	}
	if err := s.repo.SetTensorBoard(ctx, name, true); err != nil {
		return TensorBoardResponse{}, err
	}
	s.logger.Info().Str("job", name).Str("pod", created.Name).Str("logdir", logdir).Msg("tensorboard started")
	return TensorBoardResponse{Pod: created.Name, LogDir: logdir}, nil
}

// StopTensorBoard deletes the job's TensorBoard pods. The flag is cleared
// even when no pod was found.
func (s *Service) StopTensorBoard(ctx context.Context, name string) error {
	if _, err := s.repo.Get(ctx, name); err != nil {
		return err
	}
	pods, err := s.kube.CoreV1().Pods(s.cfg.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: LabelTensorBoard + "=" + KubeName(name),
	})
	if err != nil {
		return fmt.Errorf("list tensorboard pods: %w", err)
	}
	for _, pod := range pods.Items {
		err := s.kube.CoreV1().Pods(s.cfg.Namespace).Delete(ctx, pod.Name, metav1.DeleteOptions{})
		if err != nil && !apierrors.IsNotFound(err) {
			return fmt.Errorf("delete pod %s: %w", pod.Name, err)
		}
	}
	if err := s.repo.SetTensorBoard(ctx, name, false); err != nil {
		return err
	}
	if len(pods.Items) == 0 {
		return ErrTensorBoardNotFound
	}
	s.logger.Info().Str("job", name).Msg("tensorboard stopped")
	return nil
}
