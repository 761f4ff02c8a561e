package contracts

// VolumeMount mounts a host path into the job container.
type VolumeMount struct {
	Key       string `json:"key"`
	HostPath  string `json:"hostPath"`
	MountPath string `json:"mountPath"`
}

// JobDraft is the job-creation form: its zero state comes from
// DefaultJobDraft and the submitted form is the body of a job creation.
type JobDraft struct {
	Name         string        `json:"name"`
	Node         *string       `json:"node"`
	GPUNum       int           `json:"gpuNum"`
	Command      string        `json:"command"`
	Image        string        `json:"image"`
	Repo         string        `json:"repo"`
	Branch       string        `json:"branch"`
	Commit       string        `json:"commit"`
	Comments     string        `json:"comments"`
	VolumeMounts []VolumeMount `json:"volumeMounts"`
	CPULimit     string        `json:"cpuLimit"`
	MemoryLimit  string        `json:"memoryLimit"`
	AutoRestart  bool          `json:"autoRestart"`
	Tags         []string      `json:"tags"`
}

const (
	DefaultCPULimit    = "1.5"
	DefaultMemoryLimit = "2Gi"
)

// DefaultJobDraft returns a fresh draft with the form defaults. Each call
// allocates new slices so callers can edit their copy freely.
func DefaultJobDraft() JobDraft {
	return JobDraft{
		GPUNum:       0,
		VolumeMounts: []VolumeMount{},
		CPULimit:     DefaultCPULimit,
		MemoryLimit:  DefaultMemoryLimit,
		AutoRestart:  false,
		Tags:         []string{},
	}
}

// NodeName returns the requested node or "".
func (d JobDraft) NodeName() string {
	if d.Node == nil {
		return ""
	}
	return *d.Node
}
