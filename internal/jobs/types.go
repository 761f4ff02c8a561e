package jobs

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ktqueue/ktqueue/internal/contracts"
	"k8s.io/apimachinery/pkg/api/resource"
)

// Job status values. Pod-derived states that are not listed here are stored
// as "<state>: <reason>", and submission failures as "error: <reason>".
const (
	StatusFetching   = "fetching"
	StatusPending    = "pending"
	StatusPodPending = "Pending"
	StatusRunning    = "Running"
	StatusCompleted  = "Completed"
	StatusManualStop = "ManualStop"
)

var (
	ErrJobExists    = errors.New("job already exists")
	ErrJobNotFound  = errors.New("job not found")
	ErrLogNotFound  = errors.New("log not found")
	ErrInvalidDraft = errors.New("invalid job")

	ErrTensorBoardExists   = errors.New("tensorboard already running")
	ErrTensorBoardNotFound = errors.New("tensorboard not found")
	ErrInvalidLogDir       = errors.New("logdir must be an absolute path")
)

// MaxKubeNameLen leaves room for the "-container" suffix inside the 63
// character DNS-1123 label limit.
const MaxKubeNameLen = 53

var (
	namePattern      = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	volumeKeyPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)
)

// Job is the stored record of a submitted job.
type Job struct {
	Name         string                  `json:"name"`
	Node         *string                 `json:"node"`
	GPUNum       int                     `json:"gpuNum"`
	Command      string                  `json:"command"`
	Image        string                  `json:"image"`
	Repo         string                  `json:"repo"`
	Branch       string                  `json:"branch"`
	Commit       string                  `json:"commit"`
	Comments     string                  `json:"comments"`
	VolumeMounts []contracts.VolumeMount `json:"volumeMounts"`
	CPULimit     string                  `json:"cpuLimit"`
	MemoryLimit  string                  `json:"memoryLimit"`
	AutoRestart  bool                    `json:"autoRestart"`
	Tags         []string                `json:"tags"`
	Status       string                  `json:"status"`
	RunningNode  *string                 `json:"runningNode"`
	Hide         bool                    `json:"hide"`
	Fav          bool                    `json:"fav"`
	TensorBoard  bool                    `json:"tensorboard"`
	User         string                  `json:"user,omitempty"`
	CreatedAt    time.Time               `json:"createdAt"`
	SubmittedAt  *time.Time              `json:"creationTimestamp,omitempty"`
}

// Draft returns the submission form the job was created from.
func (j Job) Draft() contracts.JobDraft {
	return contracts.JobDraft{
		Name:         j.Name,
		Node:         j.Node,
		GPUNum:       j.GPUNum,
		Command:      j.Command,
		Image:        j.Image,
		Repo:         j.Repo,
		Branch:       j.Branch,
		Commit:       j.Commit,
		Comments:     j.Comments,
		VolumeMounts: j.VolumeMounts,
		CPULimit:     j.CPULimit,
		MemoryLimit:  j.MemoryLimit,
		AutoRestart:  j.AutoRestart,
		Tags:         j.Tags,
	}
}

func newJob(d contracts.JobDraft, user string, now time.Time) Job {
	mounts := d.VolumeMounts
	if mounts == nil {
		mounts = []contracts.VolumeMount{}
	}
	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}
	return Job{
		Name:         d.Name,
		Node:         d.Node,
		GPUNum:       d.GPUNum,
		Command:      d.Command,
		Image:        d.Image,
		Repo:         strings.TrimSpace(d.Repo),
		Branch:       d.Branch,
		Commit:       d.Commit,
		Comments:     d.Comments,
		VolumeMounts: mounts,
		CPULimit:     d.CPULimit,
		MemoryLimit:  d.MemoryLimit,
		AutoRestart:  d.AutoRestart,
		Tags:         tags,
		Status:       StatusFetching,
		User:         user,
		CreatedAt:    now,
	}
}

// ValidateDraft checks a submission before anything is stored.
func ValidateDraft(d contracts.JobDraft) error {
	if !namePattern.MatchString(d.Name) {
		return fmt.Errorf("%w: name must match [A-Za-z0-9_-]+", ErrInvalidDraft)
	}
	if kn := KubeName(d.Name); kn == "" || len(kn) > MaxKubeNameLen {
		return fmt.Errorf("%w: name must contain a letter or digit and be at most %d characters", ErrInvalidDraft, MaxKubeNameLen)
	}
	if strings.TrimSpace(d.Command) == "" {
		return fmt.Errorf("%w: command is required", ErrInvalidDraft)
	}
	if strings.TrimSpace(d.Image) == "" {
		return fmt.Errorf("%w: image is required", ErrInvalidDraft)
	}
	if d.GPUNum < 0 {
		return fmt.Errorf("%w: gpuNum must not be negative", ErrInvalidDraft)
	}
	if _, err := resource.ParseQuantity(d.CPULimit); err != nil {
		return fmt.Errorf("%w: cpuLimit: %v", ErrInvalidDraft, err)
	}
	if _, err := resource.ParseQuantity(d.MemoryLimit); err != nil {
		return fmt.Errorf("%w: memoryLimit: %v", ErrInvalidDraft, err)
	}
	seen := make(map[string]struct{}, len(d.VolumeMounts))
	for _, v := range d.VolumeMounts {
		if !volumeKeyPattern.MatchString(v.Key) {
			return fmt.Errorf("%w: volume key %q must be lower-case alphanumeric", ErrInvalidDraft, v.Key)
		}
		if _, dup := seen[v.Key]; dup {
			return fmt.Errorf("%w: duplicate volume key %q", ErrInvalidDraft, v.Key)
		}
		seen[v.Key] = struct{}{}
		if !filepath.IsAbs(v.HostPath) || !filepath.IsAbs(v.MountPath) {
			return fmt.Errorf("%w: volume %q paths must be absolute", ErrInvalidDraft, v.Key)
		}
	}
	return nil
}

// KubeName derives the DNS-1123 name used for the Kubernetes Job. It folds
// case and "_", so distinct job names can share one; the store keeps it
// unique.
func KubeName(name string) string {
	n := strings.ToLower(strings.ReplaceAll(name, "_", "-"))
	return strings.Trim(n, "-")
}

// Patch toggles presentation flags; nil fields are left alone.
type Patch struct {
	Hide     *bool   `json:"hide,omitempty"`
	Fav      *bool   `json:"fav,omitempty"`
	Comments *string `json:"comments,omitempty"`
}

func (p Patch) Empty() bool {
	return p.Hide == nil && p.Fav == nil && p.Comments == nil
}

type ListQuery struct {
	Page          int
	PageSize      int
	IncludeHidden bool
}

type ListResponse struct {
	Page     int   `json:"page"`
	Total    int   `json:"total"`
	PageSize int   `json:"page_size"`
	Data     []Job `json:"data"`
}

type VersionsResponse struct {
	Versions []string `json:"versions"`
}
