package jobs

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ktqueue/ktqueue/internal/contracts"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Labels and annotations ktqueue puts on Jobs and their pods.
const (
	LabelJob         = "ktqueue-job"
	LabelWatching    = "ktqueue-watching"
	AnnotationJob    = "ktqueue/job-name"
	LabelTensorBoard = "ktqueue-tensorboard-job"
	LabelHostname    = "kubernetes.io/hostname"
	ResourceGPU      = corev1.ResourceName("nvidia.com/gpu")
	sharedVolumeName = "cephfs"
)

// Paths are the per-job directories on the shared filesystem.
type Paths struct {
	JobDir    string
	WorkDir   string
	OutputDir string
	LogDir    string
}

func PathsFor(dataRoot, name string) Paths {
	jobDir := filepath.Join(dataRoot, "jobs", name)
	return Paths{
		JobDir:    jobDir,
		WorkDir:   filepath.Join(jobDir, "code"),
		OutputDir: filepath.Join(dataRoot, "output", name),
		LogDir:    filepath.Join(dataRoot, "logs", name),
	}
}

// ManifestConfig locates the shared volume that every job mounts.
type ManifestConfig struct {
	Namespace       string
	DataRoot        string
	SharedHostPath  string
	SharedMountPath string
}

func DefaultManifestConfig(namespace, dataRoot string) ManifestConfig {
	return ManifestConfig{
		Namespace:       namespace,
		DataRoot:        dataRoot,
		SharedHostPath:  "/mnt/cephfs",
		SharedMountPath: "/cephfs",
	}
}

// BuildJob renders the batch/v1 Job for a validated draft.
func BuildJob(d contracts.JobDraft, cfg ManifestConfig) (*batchv1.Job, error) {
	cpu, err := resource.ParseQuantity(d.CPULimit)
	if err != nil {
		return nil, err
	}
	mem, err := resource.ParseQuantity(d.MemoryLimit)
	if err != nil {
		return nil, err
	}

	name := KubeName(d.Name)
	paths := PathsFor(cfg.DataRoot, d.Name)

	volumes := make([]corev1.Volume, 0, len(d.VolumeMounts)+1)
	mounts := make([]corev1.VolumeMount, 0, len(d.VolumeMounts)+1)
	for _, v := range d.VolumeMounts {
		volName := "volume-" + v.Key
		volumes = append(volumes, hostPathVolume(volName, v.HostPath))
		mounts = append(mounts, corev1.VolumeMount{Name: volName, MountPath: v.MountPath})
	}
	volumes = append(volumes, hostPathVolume(sharedVolumeName, cfg.SharedHostPath))
	mounts = append(mounts, corev1.VolumeMount{Name: sharedVolumeName, MountPath: cfg.SharedMountPath})

	var nodeSelector map[string]string
	if node := d.NodeName(); node != "" {
		nodeSelector = map[string]string{LabelHostname: node}
	}

	restart := corev1.RestartPolicyNever
	if d.AutoRestart {
		restart = corev1.RestartPolicyOnFailure
	}
	backoff := int32(0)
	if d.AutoRestart {
		backoff = 6
	}
	parallelism := int32(1)

	labels := map[string]string{LabelJob: name}
	annotations := map[string]string{AnnotationJob: d.Name}
	podLabels := map[string]string{LabelJob: name, LabelWatching: "true"}

	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:        name,
			Namespace:   cfg.Namespace,
			Labels:      labels,
			Annotations: annotations,
		},
		Spec: batchv1.JobSpec{
			Parallelism:  &parallelism,
			BackoffLimit: &backoff,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels:      podLabels,
					Annotations: annotations,
				},
				Spec: corev1.PodSpec{
					RestartPolicy: restart,
					NodeSelector:  nodeSelector,
					Volumes:       volumes,
					Containers: []corev1.Container{{
						Name:            name + "-container",
						Image:           d.Image,
						ImagePullPolicy: corev1.PullIfNotPresent,
						Command:         []string{"sh", "-c", "cd $WORK_DIR && " + d.Command},
						Env: []corev1.EnvVar{
							{Name: "JOB_NAME", Value: d.Name},
							{Name: "OUTPUT_DIR", Value: paths.OutputDir},
							{Name: "WORK_DIR", Value: paths.WorkDir},
							{Name: "LC_ALL", Value: "en_US.UTF-8"},
							{Name: "LC_CTYPE", Value: "en_US.UTF-8"},
						},
						Resources: corev1.ResourceRequirements{
							Limits: corev1.ResourceList{
								corev1.ResourceCPU:    cpu,
								corev1.ResourceMemory: mem,
								ResourceGPU:           resource.MustParse(strconv.Itoa(d.GPUNum)),
							},
						},
						VolumeMounts: mounts,
					}},
				},
			},
		},
	}, nil
}

// BuildTensorBoardPod renders a TensorBoard pod over logdir, using the job's
// image and the shared volume. It is labelled so the pod watcher skips it.
func BuildTensorBoardPod(job Job, logdir string, cfg ManifestConfig) *corev1.Pod {
	name := KubeName(job.Name)
	paths := PathsFor(cfg.DataRoot, job.Name)
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name + "-tensorboard",
			Namespace: cfg.Namespace,
			Labels:    map[string]string{LabelTensorBoard: name, LabelWatching: "false"},
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			Volumes:       []corev1.Volume{hostPathVolume(sharedVolumeName, cfg.SharedHostPath)},
			Containers: []corev1.Container{{
				Name:            "ktqueue-tensorboard",
				Image:           job.Image,
				ImagePullPolicy: corev1.PullIfNotPresent,
				Command:         []string{"sh", "-c", "tensorboard --logdir " + shellQuote(logdir) + " --host 0.0.0.0"},
				Env: []corev1.EnvVar{
					{Name: "JOB_NAME", Value: job.Name},
					{Name: "OUTPUT_DIR", Value: paths.OutputDir},
					{Name: "WORK_DIR", Value: paths.WorkDir},
				},
				Ports:        []corev1.ContainerPort{{Name: "http", ContainerPort: 6006}},
				VolumeMounts: []corev1.VolumeMount{{Name: sharedVolumeName, MountPath: cfg.SharedMountPath}},
			}},
		},
	}
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func hostPathVolume(name, path string) corev1.Volume {
	return corev1.Volume{
		Name:         name,
		VolumeSource: corev1.VolumeSource{HostPath: &corev1.HostPathVolumeSource{Path: path}},
	}
}
