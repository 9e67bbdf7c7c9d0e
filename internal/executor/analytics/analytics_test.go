package analytics

import (
	"context"
	"testing"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomctl/loom-agent/internal/executor"
	"github.com/loomctl/loom-agent/internal/metricshistory"
)

func newTestAnalyzer(history *metricshistory.Store, objs ...runtime.Object) *analyzer {
	if history == nil {
		history = metricshistory.New(30)
	}
	return &analyzer{clientset: fake.NewSimpleClientset(objs...), history: history}
}

func TestSecurityScanFlagsRootAndPrivileged(t *testing.T) {
	truthy := true
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "pod-a", Namespace: "default"},
		Spec: corev1.PodSpec{
			Containers: []corev1.Container{{
				Name:            "app",
				SecurityContext: &corev1.SecurityContext{Privileged: &truthy},
			}},
		},
	}
	a := newTestAnalyzer(nil, pod)

	out, err := a.securityScan(context.Background(), map[string]any{"namespace": "default", "pod_name": "pod-a"})
	require.NoError(t, err)
	issues := out.Payload.(map[string]any)["issues"].([]map[string]any)

	var kinds []string
	for _, issue := range issues {
		kinds = append(kinds, issue["type"].(string))
	}
	assert.Contains(t, kinds, "running_as_root")
	assert.Contains(t, kinds, "privileged_containers")
	assert.Contains(t, kinds, "missing_resource_limits")
}

func TestSecurityScanCleanPodHasNoIssues(t *testing.T) {
	nonRoot := true
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "pod-b", Namespace: "default"},
		Spec: corev1.PodSpec{
			Containers: []corev1.Container{{
				Name:            "app",
				SecurityContext: &corev1.SecurityContext{RunAsNonRoot: &nonRoot},
				Resources: corev1.ResourceRequirements{
					Limits: corev1.ResourceList{
						corev1.ResourceCPU:    resource.MustParse("100m"),
						corev1.ResourceMemory: resource.MustParse("128Mi"),
					},
				},
			}},
		},
	}
	a := newTestAnalyzer(nil, pod)

	out, err := a.securityScan(context.Background(), map[string]any{"namespace": "default", "pod_name": "pod-b"})
	require.NoError(t, err)
	issues := out.Payload.(map[string]any)["issues"].([]map[string]any)
	assert.Empty(t, issues)
}

func TestPredictResourceExhaustionNeedsThreeSamples(t *testing.T) {
	history := metricshistory.New(30)
	history.Record("default", "pod-a", metricshistory.Sample{Timestamp: time.Now(), CPUMillis: 100})
	a := newTestAnalyzer(history)

	out, err := a.predictResourceExhaustion(context.Background(), map[string]any{"namespace": "default", "pod_name": "pod-a"})
	require.NoError(t, err)
	assert.Equal(t, "insufficient_data", out.Payload.(map[string]any)["prediction"])
}

func TestPredictResourceExhaustionWarnsOnUpwardTrend(t *testing.T) {
	history := metricshistory.New(30)
	now := time.Now()
	history.Record("default", "pod-a", metricshistory.Sample{Timestamp: now, CPUMillis: 100})
	history.Record("default", "pod-a", metricshistory.Sample{Timestamp: now.Add(time.Minute), CPUMillis: 150})
	history.Record("default", "pod-a", metricshistory.Sample{Timestamp: now.Add(2 * time.Minute), CPUMillis: 250})
	a := newTestAnalyzer(history)

	out, err := a.predictResourceExhaustion(context.Background(), map[string]any{"namespace": "default", "pod_name": "pod-a"})
	require.NoError(t, err)
	assert.Equal(t, "warning", out.Payload.(map[string]any)["prediction"])
}

func TestRegisterWiresEveryAnalyticsCatalogEntry(t *testing.T) {
	reg := make(executor.Registry)
	Register(reg, fake.NewSimpleClientset(), metricshistory.New(10))

	for _, name := range []string{
		"analyze_resource_efficiency", "scan_pod_security", "predict_resource_exhaustion",
		"suggest_preemptive_actions", "identify_failure_patterns", "predict_scaling_needs",
		"auto_fix_security_issue", "auto_scale_if_needed",
	} {
		_, ok := reg.Lookup(name)
		assert.True(t, ok, "expected %s to be registered", name)
	}
}
