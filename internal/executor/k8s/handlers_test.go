package k8s

import (
	"context"
	"testing"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomctl/loom-agent/internal/apierr"
	"github.com/loomctl/loom-agent/internal/executor"
	"github.com/loomctl/loom-agent/internal/metricshistory"
)

func newTestClient(objs ...runtime.Object) *Client {
	cs := fake.NewSimpleClientset(objs...)
	return &Client{Clientset: cs, DefaultNamespace: "default"}
}

func TestGetPodsListsAndMapsStatus(t *testing.T) {
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "pod-a", Namespace: "default"},
		Status: corev1.PodStatus{
			Phase:      corev1.PodRunning,
			Conditions: []corev1.PodCondition{{Type: corev1.PodReady, Status: corev1.ConditionTrue}},
		},
	}
	c := newTestClient(pod)

	out, err := c.getPods(context.Background(), map[string]any{})
	require.NoError(t, err)
	rows := out.Payload.([]map[string]any)
	require.Len(t, rows, 1)
	assert.Equal(t, "pod-a", rows[0]["name"])
	assert.Equal(t, true, rows[0]["ready"])
}

func TestGetPodsUsesNamespaceOverride(t *testing.T) {
	pod := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "pod-b", Namespace: "staging"}}
	c := newTestClient(pod)

	out, err := c.getPods(context.Background(), map[string]any{"namespace": "staging"})
	require.NoError(t, err)
	rows := out.Payload.([]map[string]any)
	require.Len(t, rows, 1)
	assert.Equal(t, "staging", rows[0]["namespace"])
}

func TestDeletePodRemovesFromClientset(t *testing.T) {
	pod := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "pod-c", Namespace: "default"}}
	c := newTestClient(pod)

	out, err := c.deletePod(context.Background(), map[string]any{"pod_name": "pod-c"})
	require.NoError(t, err)
	assert.Equal(t, true, out.Payload.(map[string]any)["deleted"])

	_, getErr := c.Clientset.CoreV1().Pods("default").Get(context.Background(), "pod-c", metav1.GetOptions{})
	assert.Error(t, getErr)
}

func TestDeletePodClassifiesNotFoundAsAPIError(t *testing.T) {
	c := newTestClient()
	_, err := c.deletePod(context.Background(), map[string]any{"pod_name": "missing"})
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindAPIError, apiErr.Kind)
}

func TestRegisterWiresEveryCatalogEntry(t *testing.T) {
	reg := make(executor.Registry)
	Register(reg, newTestClient(), metricshistory.New(10))

	for _, name := range []string{
		"kubectl_get_pods", "kubectl_get_pod_logs", "kubectl_describe_pod",
		"kubectl_get_deployments", "kubectl_get_events", "kubectl_top_pods",
		"kubectl_scale_deployment", "kubectl_delete_pod", "auto_restart_pod",
	} {
		_, ok := reg.Lookup(name)
		assert.True(t, ok, "expected %s to be registered", name)
	}
}
