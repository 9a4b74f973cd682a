package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// K8sConfig holds cluster connection settings for the Kubernetes provider.
type K8sConfig struct {
	Namespace  string
	InCluster  bool
	Kubeconfig string

	// Image is the default sandbox image when Spec.Image is empty.
	Image string
}

// KubernetesProvider runs the sandbox as a pod: project files are mounted
// from a ConfigMap, the dev server is fronted by a ClusterIP service, and
// readiness follows the pod's Ready condition.
type KubernetesProvider struct {
	clientset *kubernetes.Clientset
	namespace string
	image     string
	logger    *slog.Logger
}

func NewKubernetesProvider(cfg K8sConfig, logger *slog.Logger) (*KubernetesProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var restConfig *rest.Config
	var err error
	if cfg.InCluster {
		restConfig, err = rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("in-cluster config: %w", err)
		}
	} else {
		restConfig, err = clientcmd.BuildConfigFromFlags("", cfg.Kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("kubeconfig: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("create clientset: %w", err)
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "forgeview"
	}
	image := cfg.Image
	if image == "" {
		image = "node:20-alpine"
	}

	return &KubernetesProvider{
		clientset: clientset,
		namespace: namespace,
		image:     image,
		logger:    logger,
	}, nil
}

func (p *KubernetesProvider) Name() string { return "kubernetes" }

func (p *KubernetesProvider) Acquire(ctx context.Context, spec Spec) (Runtime, error) {
	name := sandboxResourceName(spec.Name)
	port := spec.Port
	if port == 0 {
		port = 5173
	}
	image := spec.Image
	if image == "" {
		image = p.image
	}

	labels := map[string]string{
		"app.kubernetes.io/name":       "forgeview-sandbox",
		"app.kubernetes.io/managed-by": "forgeview-orchestrator",
		"forgeview.io/sandbox":         name,
	}

	// Remove leftovers from a previous process before provisioning.
	p.cleanup(ctx, name)

	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: p.namespace, Labels: labels},
		Data:       map[string]string{},
	}
	var items []corev1.KeyToPath
	for path, content := range spec.Files {
		key := configMapKey(path)
		cm.Data[key] = content
		items = append(items, corev1.KeyToPath{Key: key, Path: strings.TrimLeft(path, "/")})
	}
	if _, err := p.clientset.CoreV1().ConfigMaps(p.namespace).Create(ctx, cm, metav1.CreateOptions{}); err != nil {
		return nil, fmt.Errorf("create configmap: %v: %w", err, ErrStartFailed)
	}
	spec.phase(PhaseMounted)

	script := buildBootScript(spec)
	env := []corev1.EnvVar{{Name: "PORT", Value: fmt.Sprintf("%d", port)}}
	for k, v := range spec.Env {
		env = append(env, corev1.EnvVar{Name: k, Value: v})
	}

	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: p.namespace, Labels: labels},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			Containers: []corev1.Container{{
				Name:            "sandbox",
				Image:           image,
				Command:         []string{"sh", "-c", script},
				Env:             env,
				Ports:           []corev1.ContainerPort{{ContainerPort: int32(port)}},
				ImagePullPolicy: corev1.PullIfNotPresent,
				ReadinessProbe: &corev1.Probe{
					ProbeHandler: corev1.ProbeHandler{
						TCPSocket: &corev1.TCPSocketAction{Port: intstr.FromInt32(int32(port))},
					},
					InitialDelaySeconds: 5,
					PeriodSeconds:       3,
				},
				VolumeMounts: []corev1.VolumeMount{{
					Name:      "project",
					MountPath: "/project",
					ReadOnly:  true,
				}},
			}},
			Volumes: []corev1.Volume{{
				Name: "project",
				VolumeSource: corev1.VolumeSource{
					ConfigMap: &corev1.ConfigMapVolumeSource{
						LocalObjectReference: corev1.LocalObjectReference{Name: name},
						Items:                items,
					},
				},
			}},
		},
	}
	if _, err := p.clientset.CoreV1().Pods(p.namespace).Create(ctx, pod, metav1.CreateOptions{}); err != nil {
		p.cleanup(ctx, name)
		return nil, fmt.Errorf("create pod: %v: %w", err, ErrStartFailed)
	}
	// Install and start both run inside the pod's boot script.
	spec.phase(PhaseInstalling)

	svc := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: p.namespace, Labels: labels},
		Spec: corev1.ServiceSpec{
			Selector: labels,
			Ports: []corev1.ServicePort{{
				Port:       80,
				TargetPort: intstr.FromInt32(int32(port)),
			}},
		},
	}
	if _, err := p.clientset.CoreV1().Services(p.namespace).Create(ctx, svc, metav1.CreateOptions{}); err != nil {
		p.cleanup(ctx, name)
		return nil, fmt.Errorf("create service: %v: %w", err, ErrStartFailed)
	}
	spec.phase(PhaseStarting)

	if err := p.waitReady(ctx, name, readyTimeout(spec)); err != nil {
		p.cleanup(ctx, name)
		return nil, err
	}

	url := fmt.Sprintf("http://%s.%s.svc.cluster.local", name, p.namespace)
	p.logger.Info("sandbox pod ready",
		slog.String("pod", name),
		slog.String("namespace", p.namespace),
		slog.String("url", url),
	)
	return &k8sRuntime{provider: p, name: name, url: url}, nil
}

// waitReady polls the pod until its Ready condition is true.
func (p *KubernetesProvider) waitReady(ctx context.Context, name string, timeout time.Duration) error {
	deadline := time.After(timeout)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("pod %s not ready within %s: %w", name, timeout, ErrReadyTimeout)
		case <-ticker.C:
			pod, err := p.clientset.CoreV1().Pods(p.namespace).Get(ctx, name, metav1.GetOptions{})
			if err != nil {
				continue
			}
			switch pod.Status.Phase {
			case corev1.PodFailed, corev1.PodSucceeded:
				return fmt.Errorf("pod %s exited with phase %s: %w", name, pod.Status.Phase, ErrStartFailed)
			}
			for _, cond := range pod.Status.Conditions {
				if cond.Type == corev1.PodReady && cond.Status == corev1.ConditionTrue {
					return nil
				}
			}
		}
	}
}

// cleanup deletes the sandbox resources, ignoring errors.
func (p *KubernetesProvider) cleanup(ctx context.Context, name string) {
	propagation := metav1.DeletePropagationBackground
	opts := metav1.DeleteOptions{PropagationPolicy: &propagation}
	p.clientset.CoreV1().Pods(p.namespace).Delete(ctx, name, opts)
	p.clientset.CoreV1().Services(p.namespace).Delete(ctx, name, opts)
	p.clientset.CoreV1().ConfigMaps(p.namespace).Delete(ctx, name, opts)
}

// k8sRuntime is one sandbox pod with its service and configmap.
type k8sRuntime struct {
	provider *KubernetesProvider
	name     string
	url      string
}

func (r *k8sRuntime) URL() string { return r.url }

// WriteFile updates the project ConfigMap. Existing keys propagate into
// the running pod via the kubelet sync; a path never seen at provision
// time only lands after a pod restart, since the volume projection is
// fixed at creation.
func (r *k8sRuntime) WriteFile(ctx context.Context, path, content string) error {
	cms := r.provider.clientset.CoreV1().ConfigMaps(r.provider.namespace)
	cm, err := cms.Get(ctx, r.name, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("get configmap: %w", err)
	}
	key := configMapKey(path)
	if cm.Data == nil {
		cm.Data = map[string]string{}
	}
	if _, known := cm.Data[key]; !known {
		r.provider.logger.Warn("new sandbox path needs a pod restart to mount",
			slog.String("path", path),
		)
	}
	cm.Data[key] = content
	if _, err := cms.Update(ctx, cm, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("update configmap: %w", err)
	}
	return nil
}

func (r *k8sRuntime) Logs() []string {
	tail := int64(100)
	raw, err := r.provider.clientset.CoreV1().Pods(r.provider.namespace).
		GetLogs(r.name, &corev1.PodLogOptions{TailLines: &tail}).
		DoRaw(context.Background())
	if err != nil {
		return []string{fmt.Sprintf("log fetch failed: %v", err)}
	}
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	return lines
}

func (r *k8sRuntime) Release(ctx context.Context) error {
	r.provider.cleanup(ctx, r.name)
	return nil
}

// buildBootScript copies the read-only project mount into a writable tree
// and launches install plus dev server.
func buildBootScript(spec Spec) string {
	parts := []string{"mkdir -p /app", "cp -R /project/. /app/", "cd /app"}
	if cmd := strings.TrimSpace(spec.InstallCmd); cmd != "" {
		parts = append(parts, cmd)
	}
	start := strings.TrimSpace(spec.StartCmd)
	if start == "" {
		start = "npm run dev"
	}
	parts = append(parts, start)
	return strings.Join(parts, " && ")
}

// sandboxResourceName derives a DNS-safe resource name.
func sandboxResourceName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-':
			b.WriteRune(r)
		case r == '_' || r == '.' || r == ' ':
			b.WriteByte('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		out = "sandbox"
	}
	out = "forgeview-" + out
	if len(out) > 63 {
		out = out[:63]
	}
	return strings.TrimRight(out, "-")
}

// configMapKey flattens a project path into a legal ConfigMap key.
func configMapKey(path string) string {
	key := strings.TrimLeft(strings.TrimSpace(path), "/")
	key = strings.ReplaceAll(key, "/", "__")
	var b strings.Builder
	for _, r := range key {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
			r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}
