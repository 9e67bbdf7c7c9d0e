package k8s

import (
	"bufio"
	"context"
	"strconv"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/loomctl/loom-agent/internal/apierr"
	"github.com/loomctl/loom-agent/internal/executor"
	"github.com/loomctl/loom-agent/internal/metricshistory"
)

// Register wires every Kubernetes catalog entry to this Client, appending
// handlers to reg. history is the shared metric ring buffer populated by
// kubectl_top_pods and consumed by the prediction tools (spec.md §4.4,
// §5 "Shared resources").
func Register(reg executor.Registry, c *Client, history *metricshistory.Store) {
	reg.Register("kubectl_get_pods", c.getPods)
	reg.Register("kubectl_get_pod_logs", c.getPodLogs)
	reg.Register("kubectl_describe_pod", c.describePod)
	reg.Register("kubectl_get_deployments", c.getDeployments)
	reg.Register("kubectl_get_events", c.getEvents)
	reg.Register("kubectl_top_pods", c.topPods(history))
	reg.Register("kubectl_scale_deployment", c.scaleDeployment)
	reg.Register("kubectl_delete_pod", c.deletePod)
	reg.Register("auto_restart_pod", c.deletePod) // same effect: delete so the controller recreates it
}

// classifyErr maps a client-go error into the apierr taxonomy (spec.md
// §4.4: unreachable / api_error / timeout).
func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	if apierrors.IsTimeout(err) || apierrors.IsServerTimeout(err) {
		return apierr.Timeout(err.Error())
	}
	if statusErr, ok := err.(apierrors.APIStatus); ok {
		code := int(statusErr.Status().Code)
		if code >= 400 && code < 500 {
			return apierr.APIError(code, err.Error())
		}
	}
	return apierr.Unreachable(err.Error())
}

func (c *Client) getPods(ctx context.Context, params map[string]any) (executor.Result, error) {
	c.wait(ctx)
	ns := c.namespaceOrDefault(str(params["namespace"]))
	opts := metav1.ListOptions{LabelSelector: str(params["label_selector"])}
	list, err := c.Clientset.CoreV1().Pods(ns).List(ctx, opts)
	if err != nil {
		return executor.Result{}, classifyErr(err)
	}
	out := make([]map[string]any, 0, len(list.Items))
	for _, p := range list.Items {
		out = append(out, map[string]any{
			"name":      p.Name,
			"namespace": p.Namespace,
			"phase":     string(p.Status.Phase),
			"ready":     isPodReady(&p),
			"restarts":  totalRestarts(&p),
			"node":      p.Spec.NodeName,
		})
	}
	return executor.Result{Payload: out}, nil
}

func (c *Client) getPodLogs(ctx context.Context, params map[string]any) (executor.Result, error) {
	c.wait(ctx)
	ns := c.namespaceOrDefault(str(params["namespace"]))
	pod := str(params["pod_name"])
	tail := int64(100)
	if n, ok := asFloat(params["tail_lines"]); ok {
		tail = int64(n)
	}
	opts := &corev1.PodLogOptions{Container: str(params["container"]), TailLines: &tail}
	req := c.Clientset.CoreV1().Pods(ns).GetLogs(pod, opts)
	stream, err := req.Stream(ctx)
	if err != nil {
		return executor.Result{}, classifyErr(err)
	}
	defer stream.Close()

	var lines []string
	scanner := bufio.NewScanner(stream)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return executor.Result{Payload: map[string]any{"pod_name": pod, "namespace": ns, "lines": lines}}, nil
}

func (c *Client) describePod(ctx context.Context, params map[string]any) (executor.Result, error) {
	c.wait(ctx)
	ns := c.namespaceOrDefault(str(params["namespace"]))
	pod := str(params["pod_name"])
	p, err := c.Clientset.CoreV1().Pods(ns).Get(ctx, pod, metav1.GetOptions{})
	if err != nil {
		return executor.Result{}, classifyErr(err)
	}
	events, _ := c.Clientset.CoreV1().Events(ns).List(ctx, metav1.ListOptions{
		FieldSelector: "involvedObject.name=" + pod,
	})
	var eventSummaries []map[string]any
	if events != nil {
		for _, e := range events.Items {
			eventSummaries = append(eventSummaries, map[string]any{
				"reason":  e.Reason,
				"message": e.Message,
				"type":    e.Type,
			})
		}
	}
	return executor.Result{Payload: map[string]any{
		"name":       p.Name,
		"namespace":  p.Namespace,
		"phase":      string(p.Status.Phase),
		"conditions": podConditions(p),
		"containers": containerStatuses(p),
		"events":     eventSummaries,
	}}, nil
}

func (c *Client) getDeployments(ctx context.Context, params map[string]any) (executor.Result, error) {
	c.wait(ctx)
	ns := c.namespaceOrDefault(str(params["namespace"]))
	list, err := c.Clientset.AppsV1().Deployments(ns).List(ctx, metav1.ListOptions{})
	if err != nil {
		return executor.Result{}, classifyErr(err)
	}
	out := make([]map[string]any, 0, len(list.Items))
	for _, d := range list.Items {
		out = append(out, map[string]any{
			"name":             d.Name,
			"namespace":        d.Namespace,
			"replicas":         d.Status.Replicas,
			"ready_replicas":   d.Status.ReadyReplicas,
			"desired_replicas": derefInt32(d.Spec.Replicas),
		})
	}
	return executor.Result{Payload: out}, nil
}

func (c *Client) getEvents(ctx context.Context, params map[string]any) (executor.Result, error) {
	c.wait(ctx)
	ns := c.namespaceOrDefault(str(params["namespace"]))
	limit := int64(50)
	if n, ok := asFloat(params["limit"]); ok {
		limit = int64(n)
	}
	list, err := c.Clientset.CoreV1().Events(ns).List(ctx, metav1.ListOptions{Limit: limit})
	if err != nil {
		return executor.Result{}, classifyErr(err)
	}
	out := make([]map[string]any, 0, len(list.Items))
	for _, e := range list.Items {
		out = append(out, map[string]any{
			"reason":  e.Reason,
			"message": e.Message,
			"type":    e.Type,
			"object":  e.InvolvedObject.Name,
		})
	}
	return executor.Result{Payload: out}, nil
}

// topPods returns a Handler closure so it can record each observed sample
// into the shared metric history ring buffer (spec.md §4.4: "populated
// incrementally each time kubectl_top_pods runs").
func (c *Client) topPods(history *metricshistory.Store) executor.Handler {
	return func(ctx context.Context, params map[string]any) (executor.Result, error) {
		c.wait(ctx)
		ns := c.namespaceOrDefault(str(params["namespace"]))
		list, err := c.Metrics.MetricsV1beta1().PodMetricses(ns).List(ctx, metav1.ListOptions{})
		if err != nil {
			return executor.Result{}, classifyErr(err)
		}
		pods, _ := c.Clientset.CoreV1().Pods(ns).List(ctx, metav1.ListOptions{})
		restarts := make(map[string]int)
		if pods != nil {
			for _, p := range pods.Items {
				restarts[p.Name] = totalRestarts(&p)
			}
		}

		out := make([]map[string]any, 0, len(list.Items))
		for _, m := range list.Items {
			var cpuMillis, memMiB float64
			for _, ct := range m.Containers {
				cpuMillis += float64(ct.Usage.Cpu().MilliValue())
				memMiB += float64(ct.Usage.Memory().Value()) / (1024 * 1024)
			}
			restartCount := restarts[m.Name]
			history.Record(ns, m.Name, metricshistory.Sample{
				Timestamp: m.Timestamp.Time, CPUMillis: cpuMillis, MemoryMiB: memMiB, RestartCount: restartCount,
			})
			out = append(out, map[string]any{
				"pod_name":      m.Name,
				"namespace":     ns,
				"cpu_millis":    cpuMillis,
				"memory_mib":    memMiB,
				"restart_count": restartCount,
			})
		}
		return executor.Result{Payload: out}, nil
	}
}

func (c *Client) scaleDeployment(ctx context.Context, params map[string]any) (executor.Result, error) {
	c.wait(ctx)
	ns := c.namespaceOrDefault(str(params["namespace"]))
	name := str(params["deployment_name"])
	replicas, _ := asFloat(params["replicas"])

	scale, err := c.Clientset.AppsV1().Deployments(ns).GetScale(ctx, name, metav1.GetOptions{})
	if err != nil {
		return executor.Result{}, classifyErr(err)
	}
	scale.Spec.Replicas = int32(replicas)
	updated, err := c.Clientset.AppsV1().Deployments(ns).UpdateScale(ctx, name, scale, metav1.UpdateOptions{})
	if err != nil {
		return executor.Result{}, classifyErr(err)
	}
	return executor.Result{Payload: map[string]any{
		"deployment_name": name, "namespace": ns, "replicas": updated.Spec.Replicas,
	}}, nil
}

func (c *Client) deletePod(ctx context.Context, params map[string]any) (executor.Result, error) {
	c.wait(ctx)
	ns := c.namespaceOrDefault(str(params["namespace"]))
	pod := str(params["pod_name"])
	err := c.Clientset.CoreV1().Pods(ns).Delete(ctx, pod, metav1.DeleteOptions{})
	if err != nil {
		return executor.Result{}, classifyErr(err)
	}
	return executor.Result{Payload: map[string]any{"pod_name": pod, "namespace": ns, "deleted": true}}, nil
}

func isPodReady(p *corev1.Pod) bool {
	for _, cond := range p.Status.Conditions {
		if cond.Type == corev1.PodReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}

func totalRestarts(p *corev1.Pod) int {
	total := 0
	for _, cs := range p.Status.ContainerStatuses {
		total += int(cs.RestartCount)
	}
	return total
}

func podConditions(p *corev1.Pod) []map[string]any {
	var out []map[string]any
	for _, cond := range p.Status.Conditions {
		out = append(out, map[string]any{"type": string(cond.Type), "status": string(cond.Status)})
	}
	return out
}

func containerStatuses(p *corev1.Pod) []map[string]any {
	var out []map[string]any
	for _, cs := range p.Status.ContainerStatuses {
		out = append(out, map[string]any{
			"name":          cs.Name,
			"ready":         cs.Ready,
			"restart_count": cs.RestartCount,
			"image":         cs.Image,
		})
	}
	return out
}

func derefInt32(v *int32) int32 {
	if v == nil {
		return 0
	}
	return *v
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
