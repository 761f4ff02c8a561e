package watcher

import (
	"fmt"

	"github.com/ktqueue/ktqueue/internal/jobs"
	corev1 "k8s.io/api/core/v1"
)

// PodState is the job-level view of a pod.
type PodState struct {
	Status      string
	RunningNode *string
	Terminated  bool
	Completed   bool
	ContainerID string
}

// StatusFromPod maps a pod to the job status shown in the console.
func StatusFromPod(pod *corev1.Pod) PodState {
	var node *string
	if pod.Spec.NodeName != "" {
		n := pod.Spec.NodeName
		node = &n
	}

	if pod.Status.Phase == corev1.PodPending {
		return PodState{Status: jobs.StatusPodPending, RunningNode: node}
	}
	if len(pod.Status.ContainerStatuses) == 0 {
		return PodState{Status: string(pod.Status.Phase), RunningNode: node}
	}

	cs := pod.Status.ContainerStatuses[0]
	switch {
	case cs.State.Running != nil:
		return PodState{Status: jobs.StatusRunning, RunningNode: node, ContainerID: cs.ContainerID}
	case cs.State.Terminated != nil:
		t := cs.State.Terminated
		st := PodState{Terminated: true, ContainerID: t.ContainerID}
		if t.Reason == "Completed" {
			st.Status = jobs.StatusCompleted
			st.Completed = true
		} else {
			st.Status = fmt.Sprintf("terminated: %s", t.Reason)
		}
		return st
	case cs.State.Waiting != nil:
		return PodState{Status: fmt.Sprintf("waiting: %s", cs.State.Waiting.Reason), RunningNode: node}
	default:
		return PodState{Status: string(pod.Status.Phase), RunningNode: node}
	}
}
