package nodes

import (
	"context"
	"fmt"
	"sort"

	"github.com/ktqueue/ktqueue/internal/jobs"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// Node is a cluster node with its GPU usage by ktqueue jobs.
type Node struct {
	Name        string            `json:"name"`
	Labels      map[string]string `json:"labels"`
	GPUUsed     int64             `json:"gpu_used"`
	GPUCapacity int64             `json:"gpu_capacity"`
	Jobs        map[string]int64  `json:"jobs"`
}

type ListResponse struct {
	Items []Node `json:"items"`
}

type Service struct {
	kube      kubernetes.Interface
	namespace string
}

func NewService(kube kubernetes.Interface, namespace string) *Service {
	return &Service{kube: kube, namespace: namespace}
}

// List reports every node; gpu_used sums the nvidia.com/gpu limits of
// Running pods in the job namespace.
func (s *Service) List(ctx context.Context) (ListResponse, error) {
	pods, err := s.kube.CoreV1().Pods(s.namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return ListResponse{}, fmt.Errorf("list pods: %w", err)
	}
	used := make(map[string]int64)
	byJob := make(map[string]map[string]int64)
	for _, pod := range pods.Items {
		if pod.Status.Phase != corev1.PodRunning || pod.Spec.NodeName == "" {
			continue
		}
		gpus := podGPUs(&pod)
		if gpus == 0 {
			continue
		}
		node := pod.Spec.NodeName
		used[node] += gpus
		if job := pod.Annotations[jobs.AnnotationJob]; job != "" {
			if byJob[node] == nil {
				byJob[node] = make(map[string]int64)
			}
			byJob[node][job] += gpus
		}
	}

	nodeList, err := s.kube.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return ListResponse{}, fmt.Errorf("list nodes: %w", err)
	}
	items := make([]Node, 0, len(nodeList.Items))
	for _, n := range nodeList.Items {
		capacity := n.Status.Capacity[jobs.ResourceGPU]
		jobsOnNode := byJob[n.Name]
		if jobsOnNode == nil {
			jobsOnNode = map[string]int64{}
		}
		labels := n.Labels
		if labels == nil {
			labels = map[string]string{}
		}
		items = append(items, Node{
			Name:        n.Name,
			Labels:      labels,
			GPUUsed:     used[n.Name],
			GPUCapacity: capacity.Value(),
			Jobs:        jobsOnNode,
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return ListResponse{Items: items}, nil
}

func podGPUs(pod *corev1.Pod) int64 {
	var total int64
	for _, c := range pod.Spec.Containers {
		if q, ok := c.Resources.Limits[jobs.ResourceGPU]; ok {
			total += q.Value()
		}
	}
	return total
}
