// Package analytics implements the derived analytics executors (spec.md
// §4.4): resource_efficiency, security_scan, and the prediction family,
// composed from primitive Kubernetes Executor calls plus the shared
// metric history ring buffer. Grounded on
// original_source/apps/backend-python/app/core/predictive_engine.py
// (trend/restart heuristics) and security_engine.py (the security-context
// checks), reshaped into typed Go handlers.
package analytics

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/loomctl/loom-agent/internal/apierr"
	"github.com/loomctl/loom-agent/internal/executor"
	"github.com/loomctl/loom-agent/internal/metricshistory"
)

// TrendWarnThreshold is spec.md §4.4's "trend slope > +30% over window".
const TrendWarnThreshold = 0.30

// Register wires every derived-analytics catalog entry, sharing the same
// ring buffer the Kubernetes Executor's kubectl_top_pods populates.
func Register(reg executor.Registry, clientset kubernetes.Interface, history *metricshistory.Store) {
	a := &analyzer{clientset: clientset, history: history}
	reg.Register("analyze_resource_efficiency", a.resourceEfficiency)
	reg.Register("scan_pod_security", a.securityScan)
	reg.Register("predict_resource_exhaustion", a.predictResourceExhaustion)
	reg.Register("suggest_preemptive_actions", a.suggestPreemptiveActions)
	reg.Register("identify_failure_patterns", a.identifyFailurePatterns)
	reg.Register("predict_scaling_needs", a.predictScalingNeeds)
	reg.Register("auto_fix_security_issue", a.autoFixSecurityIssue)
	reg.Register("auto_scale_if_needed", a.autoScaleIfNeeded)
}

type analyzer struct {
	clientset kubernetes.Interface
	history   *metricshistory.Store
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// resourceEfficiency classifies each container that has a CPU limit as
// over-provisioned (<20% of the limit) or under-provisioned (>80%), using
// only the pod's most recent recorded CPU sample (the pod total, not a
// per-container figure). Usage is not averaged over the history, and pods
// with no recorded sample are skipped.
func (a *analyzer) resourceEfficiency(ctx context.Context, params map[string]any) (executor.Result, error) {
	ns := str(params["namespace"])
	if ns == "" {
		ns = "default"
	}
	pods, err := a.clientset.CoreV1().Pods(ns).List(ctx, metav1.ListOptions{})
	if err != nil {
		return executor.Result{}, apierr.Unreachable(err.Error())
	}

	var findings []map[string]any
	for _, p := range pods.Items {
		for _, container := range p.Spec.Containers {
			limitCPU := container.Resources.Limits.Cpu().MilliValue()
			if limitCPU == 0 {
				continue
			}
			samples := a.history.History(ns, p.Name)
			if len(samples) == 0 {
				continue
			}
			latest := samples[len(samples)-1].CPUMillis
			usageRatio := latest / float64(limitCPU)
			var verdict string
			switch {
			case usageRatio < 0.20:
				verdict = "over_provisioned"
			case usageRatio > 0.80:
				verdict = "under_provisioned"
			default:
				verdict = "appropriately_sized"
			}
			findings = append(findings, map[string]any{
				"pod_name":     p.Name,
				"container":    container.Name,
				"usage_ratio":  usageRatio,
				"verdict":      verdict,
				"limit_millis": limitCPU,
			})
		}
	}
	return executor.Result{Payload: map[string]any{"namespace": ns, "findings": findings}}, nil
}

// securityScan inspects security_context fields per container, grounded
// on original_source's security_engine.py scan_pod_security.
func (a *analyzer) securityScan(ctx context.Context, params map[string]any) (executor.Result, error) {
	ns := str(params["namespace"])
	pod := str(params["pod_name"])
	p, err := a.clientset.CoreV1().Pods(ns).Get(ctx, pod, metav1.GetOptions{})
	if err != nil {
		return executor.Result{}, apierr.Unreachable(err.Error())
	}

	var issues []map[string]any
	for _, c := range p.Spec.Containers {
		sc := c.SecurityContext
		if sc == nil || sc.RunAsNonRoot == nil || !*sc.RunAsNonRoot {
			issues = append(issues, securityIssue("running_as_root", "high", c.Name,
				"Container may be running as root user"))
		}
		if c.Resources.Limits.Cpu().IsZero() || c.Resources.Limits.Memory().IsZero() {
			issues = append(issues, securityIssue("missing_resource_limits", "medium", c.Name,
				"Container has no CPU/memory resource limits"))
		}
		if sc != nil && sc.Privileged != nil && *sc.Privileged {
			issues = append(issues, securityIssue("privileged_containers", "critical", c.Name,
				"Container runs in privileged mode"))
		}
		if sc != nil && sc.Capabilities != nil && len(sc.Capabilities.Add) > 0 {
			issues = append(issues, securityIssue("insecure_capabilities", "high", c.Name,
				fmt.Sprintf("Container adds capabilities: %v", sc.Capabilities.Add)))
		}
	}
	if p.Spec.HostNetwork {
		issues = append(issues, securityIssue("host_network_access", "high", "", "Pod uses host networking"))
	}

	return executor.Result{Payload: map[string]any{"pod_name": pod, "namespace": ns, "issues": issues}}, nil
}

func securityIssue(kind, severity, container, description string) map[string]any {
	return map[string]any{
		"type": kind, "severity": severity, "container": container, "description": description,
	}
}

func (a *analyzer) predictResourceExhaustion(ctx context.Context, params map[string]any) (executor.Result, error) {
	ns, pod := str(params["namespace"]), str(params["pod_name"])
	history := a.history.History(ns, pod)
	if len(history) < 3 {
		return executor.Result{Payload: map[string]any{"prediction": "insufficient_data"}}, nil
	}
	slope, ok := metricshistory.TrendSlope(history)
	if !ok || slope <= TrendWarnThreshold {
		return executor.Result{Payload: map[string]any{"prediction": "stable", "trend_slope": slope}}, nil
	}
	return executor.Result{Payload: map[string]any{
		"prediction":  "warning",
		"pod_name":    pod,
		"namespace":   ns,
		"trend_slope": slope,
		"message":     "CPU usage trending upward beyond the 30% warn threshold",
	}}, nil
}

func (a *analyzer) suggestPreemptiveActions(ctx context.Context, params map[string]any) (executor.Result, error) {
	ns, pod := str(params["namespace"]), str(params["pod_name"])
	history := a.history.History(ns, pod)
	slope, ok := metricshistory.TrendSlope(history)
	var suggestions []string
	if ok && slope > TrendWarnThreshold {
		suggestions = append(suggestions, "Consider scaling the owning deployment before exhaustion occurs.")
	}
	if metricshistory.RestartsIncreasing(history) {
		suggestions = append(suggestions, "Inspect recent pod logs; restart count is increasing.")
	}
	if len(suggestions) == 0 {
		suggestions = append(suggestions, "No preemptive action indicated by current trends.")
	}
	return executor.Result{Payload: map[string]any{"pod_name": pod, "namespace": ns, "suggestions": suggestions}}, nil
}

func (a *analyzer) identifyFailurePatterns(ctx context.Context, params map[string]any) (executor.Result, error) {
	ns, pod := str(params["namespace"]), str(params["pod_name"])
	history := a.history.History(ns, pod)
	if metricshistory.RestartsIncreasing(history) {
		return executor.Result{Payload: map[string]any{
			"pattern": "increasing_restarts", "severity": "medium", "pod_name": pod, "namespace": ns,
		}}, nil
	}
	return executor.Result{Payload: map[string]any{"pattern": "none_detected", "pod_name": pod, "namespace": ns}}, nil
}

func (a *analyzer) predictScalingNeeds(ctx context.Context, params map[string]any) (executor.Result, error) {
	ns := str(params["namespace"])
	name := str(params["deployment_name"])
	dep, err := a.clientset.AppsV1().Deployments(ns).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return executor.Result{}, apierr.Unreachable(err.Error())
	}
	recommendation := "no_change"
	if dep.Status.ReadyReplicas < dep.Status.Replicas {
		recommendation = "investigate_unready_replicas"
	}
	return executor.Result{Payload: map[string]any{
		"deployment_name": name, "namespace": ns, "recommendation": recommendation,
		"current_replicas": dep.Status.Replicas, "ready_replicas": dep.Status.ReadyReplicas,
	}}, nil
}

// autoScaleIfNeeded decides and applies a replica change: scale up by one
// when ready replicas trail desired, otherwise leave the deployment
// untouched.
func (a *analyzer) autoScaleIfNeeded(ctx context.Context, params map[string]any) (executor.Result, error) {
	ns, name := str(params["namespace"]), str(params["deployment_name"])
	scale, err := a.clientset.AppsV1().Deployments(ns).GetScale(ctx, name, metav1.GetOptions{})
	if err != nil {
		return executor.Result{}, apierr.Unreachable(err.Error())
	}
	dep, err := a.clientset.AppsV1().Deployments(ns).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return executor.Result{}, apierr.Unreachable(err.Error())
	}
	if dep.Status.ReadyReplicas >= scale.Spec.Replicas {
		return executor.Result{Payload: map[string]any{
			"deployment_name": name, "namespace": ns, "action": "none", "replicas": scale.Spec.Replicas,
		}}, nil
	}
	scale.Spec.Replicas++
	updated, err := a.clientset.AppsV1().Deployments(ns).UpdateScale(ctx, name, scale, metav1.UpdateOptions{})
	if err != nil {
		return executor.Result{}, apierr.Unreachable(err.Error())
	}
	return executor.Result{Payload: map[string]any{
		"deployment_name": name, "namespace": ns, "action": "scaled_up", "replicas": updated.Spec.Replicas,
	}}, nil
}

// autoFixSecurityIssue patches one SecurityContext field to remediate a
// single identified issue (spec.md §4.3).
func (a *analyzer) autoFixSecurityIssue(ctx context.Context, params map[string]any) (executor.Result, error) {
	ns, pod, issue := str(params["namespace"]), str(params["pod_name"]), str(params["issue_type"])
	p, err := a.clientset.CoreV1().Pods(ns).Get(ctx, pod, metav1.GetOptions{})
	if err != nil {
		return executor.Result{}, apierr.Unreachable(err.Error())
	}

	patched := false
	for i := range p.Spec.Containers {
		c := &p.Spec.Containers[i]
		if c.SecurityContext == nil {
			c.SecurityContext = &corev1.SecurityContext{}
		}
		switch issue {
		case "running_as_root":
			nonRoot := true
			c.SecurityContext.RunAsNonRoot = &nonRoot
			patched = true
		case "privileged_containers":
			priv := false
			c.SecurityContext.Privileged = &priv
			patched = true
		}
	}
	if !patched {
		return executor.Result{}, apierr.BadParams("issue_type not auto-remediable: " + issue)
	}

	updated, err := a.clientset.CoreV1().Pods(ns).Update(ctx, p, metav1.UpdateOptions{})
	if err != nil {
		return executor.Result{}, apierr.Unreachable(err.Error())
	}
	return executor.Result{Payload: map[string]any{
		"pod_name": updated.Name, "namespace": ns, "issue_type": issue, "remediated": true,
	}}, nil
}
