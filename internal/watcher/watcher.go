package watcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/ktqueue/ktqueue/internal/contracts"
	"github.com/ktqueue/ktqueue/internal/jobs"
	"github.com/ktqueue/ktqueue/pkg/bus"
	"github.com/rs/zerolog"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
)

const (
	LabelSelector = jobs.LabelWatching + "!=false"
	RetryInterval = time.Second
)

var (
	errWatchClosed    = errors.New("watch channel closed")
	stopWatchingPatch = []byte(`[{"op":"add","path":"/metadata/labels/` + jobs.LabelWatching + `","value":"false"}]`)
)

// Store is the part of the job repository the watcher updates.
type Store interface {
	Get(ctx context.Context, name string) (jobs.Job, error)
	UpdateFromPod(ctx context.Context, name, status string, runningNode *string) (bool, error)
}

type LogSaver interface {
	SaveLog(ctx context.Context, job, pod string) error
}

type Watcher struct {
	kube      kubernetes.Interface
	namespace string
	store     Store
	logs      LogSaver
	pub       bus.Publisher
	clock     clockwork.Clock
	logger    zerolog.Logger

	mu    sync.Mutex
	saved map[string]struct{}
}

func New(kube kubernetes.Interface, namespace string, store Store, logs LogSaver, pub bus.Publisher, clock clockwork.Clock, logger zerolog.Logger) *Watcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Watcher{
		kube:      kube,
		namespace: namespace,
		store:     store,
		logs:      logs,
		pub:       pub,
		clock:     clock,
		logger:    logger,
		saved:     make(map[string]struct{}),
	}
}

// Run watches job pods until ctx is cancelled, re-establishing the watch
// after RetryInterval whenever it fails or the server closes it.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info().Str("namespace", w.namespace).Str("selector", LabelSelector).Msg("pod watcher started")
	for {
		err := w.watchOnce(ctx)
		if ctx.Err() != nil {
			w.logger.Info().Msg("pod watcher stopped")
			return nil
		}
		w.logger.Warn().Err(err).Msg("pod watch interrupted, reconnecting")
		select {
		case <-ctx.Done():
			return nil
		case <-w.clock.After(RetryInterval):
		}
	}
}

func (w *Watcher) watchOnce(ctx context.Context) error {
	wi, err := w.kube.CoreV1().Pods(w.namespace).Watch(ctx, metav1.ListOptions{LabelSelector: LabelSelector})
	if err != nil {
		return fmt.Errorf("watch pods: %w", err)
	}
	defer wi.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-wi.ResultChan():
			if !ok {
				return errWatchClosed
			}
			if err := w.Handle(ctx, ev); err != nil {
				w.logger.Error().Err(err).Msg("handle pod event")
			}
		}
	}
}

// Handle applies one pod event to the job it belongs to.
func (w *Watcher) Handle(ctx context.Context, ev watch.Event) error {
	if ev.Type == watch.Error {
		return fmt.Errorf("watch error event: %v", ev.Object)
	}
	pod, ok := ev.Object.(*corev1.Pod)
	if !ok {
		return nil
	}
	if ev.Type == watch.Deleted {
		w.forget(pod)
		return nil
	}
	name := pod.Annotations[jobs.AnnotationJob]
	if name == "" {
		return nil
	}

	job, err := w.store.Get(ctx, name)
	if errors.Is(err, jobs.ErrJobNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if job.Status == jobs.StatusManualStop {
		return nil
	}

	state := StatusFromPod(pod)
	logger := w.logger.With().Str("job", name).Str("pod", pod.Name).Logger()

	updated, err := w.store.UpdateFromPod(ctx, name, state.Status, state.RunningNode)
	if err != nil {
		return fmt.Errorf("update job %s: %w", name, err)
	}
	if updated && state.Status != job.Status {
		logger.Info().Str("status", state.Status).Msg("job entered state")
		payload := contracts.JobStatusChangedV1{Name: name, Status: state.Status, RunningNode: deref(state.RunningNode)}
		if err := contracts.Publish(w.pub, contracts.EventJobStatusChanged, "", nil, payload); err != nil {
			logger.Warn().Err(err).Msg("publish job.status_changed failed")
		}
	}

	if !state.Terminated || !w.markSaved(pod, state) {
		return nil
	}
	if err := w.logs.SaveLog(ctx, name, pod.Name); err != nil {
		logger.Error().Err(err).Msg("save job log")
	}
	if state.Completed {
		_, err := w.kube.CoreV1().Pods(w.namespace).Patch(ctx, pod.Name, types.JSONPatchType, stopWatchingPatch, metav1.PatchOptions{})
		if err != nil {
			return fmt.Errorf("label pod %s: %w", pod.Name, err)
		}
	}
	return nil
}

// markSaved reports whether this termination has not been handled yet. A
// failed pod keeps producing events until it is deleted.
func (w *Watcher) markSaved(pod *corev1.Pod, state PodState) bool {
	key := string(pod.UID) + "/" + pod.Name + "/" + state.ContainerID
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.saved[key]; ok {
		return false
	}
	w.saved[key] = struct{}{}
	return true
}

// forget drops the termination records of a deleted pod.
func (w *Watcher) forget(pod *corev1.Pod) {
	prefix := string(pod.UID) + "/" + pod.Name + "/"
	w.mu.Lock()
	defer w.mu.Unlock()
	for key := range w.saved {
		if strings.HasPrefix(key, prefix) {
			delete(w.saved, key)
		}
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
