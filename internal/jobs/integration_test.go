//go:build integration

package jobs

import (
	"errors"
	"testing"
	"time"

	"github.com/ktqueue/ktqueue/internal/contracts"
	"github.com/ktqueue/ktqueue/internal/itest"
	"github.com/ktqueue/ktqueue/internal/testutil"
)

func TestPostgresRepositoryLifecycle(t *testing.T) {
	h := itest.Start(t)
	repo := NewPostgresRepository(h.DB(t))
	ctx, cancel := testutil.Context(t)
	defer cancel()

	created := time.Now().UTC().Truncate(time.Millisecond)
	job := Job{
		Name:         "train-1",
		GPUNum:       1,
		Command:      "python train.py",
		Image:        "registry/torch:latest",
		Repo:         "git@host:group/repo.git",
		Branch:       "master",
		Commit:       "latest",
		VolumeMounts: []contracts.VolumeMount{},
		CPULimit:     contracts.DefaultCPULimit,
		MemoryLimit:  contracts.DefaultMemoryLimit,
		Tags:         []string{"exp"},
		Status:       StatusFetching,
		User:         "alice",
		CreatedAt:    created,
	}
	if err := repo.Create(ctx, job); err != nil {
		t.Fatal(err)
	}
	if err := repo.Create(ctx, job); !errors.Is(err, ErrJobExists) {
		t.Fatalf("duplicate create: %v", err)
	}

	clash := job
	clash.Name = "TRAIN_1"
	if err := repo.Create(ctx, clash); !errors.Is(err, ErrJobExists) {
		t.Fatalf("kubernetes name clash: %v", err)
	}

	if err := repo.MarkSubmitted(ctx, "train-1", "abc123", created.Add(time.Second)); err != nil {
		t.Fatal(err)
	}
	got, err := repo.Get(ctx, "train-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusPending || got.Commit != "abc123" || got.SubmittedAt == nil {
		t.Fatalf("after submit: %+v", got)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "exp" {
		t.Fatalf("tags = %v", got.Tags)
	}

	node := "gpu-01"
	changed, err := repo.UpdateFromPod(ctx, "train-1", StatusRunning, &node)
	if err != nil || !changed {
		t.Fatalf("update from pod: %v %v", changed, err)
	}

	if err := repo.SetStatus(ctx, "train-1", StatusManualStop); err != nil {
		t.Fatal(err)
	}
	changed, err = repo.UpdateFromPod(ctx, "train-1", StatusCompleted, &node)
	if err != nil || changed {
		t.Fatalf("manual stop must stick: %v %v", changed, err)
	}

	hide := true
	if _, err := repo.Patch(ctx, "train-1", Patch{Hide: &hide}); err != nil {
		t.Fatal(err)
	}
	visible, total, err := repo.List(ctx, 0, 10, false)
	if err != nil || total != 0 || len(visible) != 0 {
		t.Fatalf("hidden job listed: %v %d %v", visible, total, err)
	}
	all, total, err := repo.List(ctx, 0, 10, true)
	if err != nil || total != 1 || len(all) != 1 {
		t.Fatalf("include hidden: %v %d %v", all, total, err)
	}
	if all[0].RunningNode == nil || *all[0].RunningNode != node {
		t.Fatalf("running node = %v", all[0].RunningNode)
	}

	if err := repo.MarkFailed(ctx, "train-1", "error: late"); err != nil {
		t.Fatal(err)
	}
	if err := repo.SetTensorBoard(ctx, "train-1", true); err != nil {
		t.Fatal(err)
	}
	got, err = repo.Get(ctx, "train-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusManualStop || !got.TensorBoard {
		t.Fatalf("after failure and tensorboard: %+v", got)
	}

	if err := repo.SetStatus(ctx, "missing", StatusRunning); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("missing job: %v", err)
	}
}
