package kube

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
)

// NewClientset builds a clientset from the in-cluster service account when
// running inside a pod, otherwise from kubeconfig ("~" is expanded; empty
// means ~/.kube/config).
func NewClientset(kubeconfig string) (kubernetes.Interface, error) {
	config, err := restConfig(kubeconfig)
	if err != nil {
		return nil, err
	}
	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("create kubernetes clientset: %w", err)
	}
	return clientset, nil
}

func restConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig == "" && os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		config, err := rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("in-cluster config: %w", err)
		}
		return config, nil
	}

	path := expandHome(kubeconfig)
	config, err := clientcmd.BuildConfigFromFlags("", path)
	if err != nil {
		return nil, fmt.Errorf("load kubeconfig %s: %w", path, err)
	}
	return config, nil
}

func expandHome(kubeconfig string) string {
	home := homedir.HomeDir()
	switch {
	case kubeconfig == "":
		return filepath.Join(home, ".kube", "config")
	case strings.HasPrefix(kubeconfig, "~/"):
		return filepath.Join(home, strings.TrimPrefix(kubeconfig, "~/"))
	default:
		return kubeconfig
	}
}

// Check reports API server reachability to the readiness endpoint.
type Check struct {
	Clientset kubernetes.Interface
}

func (c Check) Name() string { return "kubernetes" }

func (c Check) Check(ctx context.Context) error {
	rc := c.Clientset.Discovery().RESTClient()
	if rc == nil {
		// fake clientsets carry no transport
		_, err := c.Clientset.Discovery().ServerVersion()
		return err
	}
	return rc.Get().AbsPath("/version").Do(ctx).Error()
}
