package jobs

import (
	"errors"
	"testing"

	"github.com/ktqueue/ktqueue/internal/contracts"
)

func validDraft() contracts.JobDraft {
	d := contracts.DefaultJobDraft()
	d.Name = "train_resnet-1"
	d.Command = "python3 train.py"
	d.Image = "in.fds.so:5000/tf:1.4"
	return d
}

func TestValidateDraft(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*contracts.JobDraft)
		ok     bool
	}{
		{name: "defaults", mutate: func(*contracts.JobDraft) {}, ok: true},
		{name: "bad name", mutate: func(d *contracts.JobDraft) { d.Name = "train 1" }},
		{name: "only separators", mutate: func(d *contracts.JobDraft) { d.Name = "__" }},
		{name: "missing command", mutate: func(d *contracts.JobDraft) { d.Command = "  " }},
		{name: "missing image", mutate: func(d *contracts.JobDraft) { d.Image = "" }},
		{name: "negative gpu", mutate: func(d *contracts.JobDraft) { d.GPUNum = -1 }},
		{name: "bad cpu", mutate: func(d *contracts.JobDraft) { d.CPULimit = "lots" }},
		{name: "bad memory", mutate: func(d *contracts.JobDraft) { d.MemoryLimit = "2 GB" }},
		{name: "volume ok", mutate: func(d *contracts.JobDraft) {
			d.VolumeMounts = []contracts.VolumeMount{{Key: "data", HostPath: "/mnt/data", MountPath: "/data"}}
		}, ok: true},
		{name: "volume relative", mutate: func(d *contracts.JobDraft) {
			d.VolumeMounts = []contracts.VolumeMount{{Key: "data", HostPath: "mnt", MountPath: "/data"}}
		}},
		{name: "volume duplicate", mutate: func(d *contracts.JobDraft) {
			v := contracts.VolumeMount{Key: "data", HostPath: "/a", MountPath: "/b"}
			d.VolumeMounts = []contracts.VolumeMount{v, v}
		}},
		{name: "volume bad key", mutate: func(d *contracts.JobDraft) {
			d.VolumeMounts = []contracts.VolumeMount{{Key: "Data_1", HostPath: "/a", MountPath: "/b"}}
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			d := validDraft()
			tc.mutate(&d)
			err := ValidateDraft(d)
			if tc.ok && err != nil {
				t.Fatalf("expected valid draft, got %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrInvalidDraft) {
				t.Fatalf("expected ErrInvalidDraft, got %v", err)
			}
		})
	}
}

func TestKubeName(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]string{
		"train_ResNet-1": "train-resnet-1",
		"_x_":            "x",
		"abc":            "abc",
	} {
		if got := KubeName(in); got != want {
			t.Fatalf("KubeName(%q) = %q want %q", in, got, want)
		}
	}
}
