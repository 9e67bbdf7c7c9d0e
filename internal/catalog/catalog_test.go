package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupKnownAndUnknown(t *testing.T) {
	spec, ok := Lookup("kubectl_get_pods")
	require.True(t, ok)
	assert.Equal(t, "kubectl_get_pods", spec.Name)

	_, ok = Lookup("does_not_exist")
	assert.False(t, ok)
}

func TestClassificationRule(t *testing.T) {
	dangerous := []string{
		"kubectl_scale_deployment", "kubectl_delete_pod", "auto_restart_pod",
		"auto_scale_if_needed", "auto_fix_security_issue", "execute_shell_command",
	}
	for _, name := range dangerous {
		spec, ok := Lookup(name)
		require.True(t, ok, name)
		assert.Equal(t, "dangerous", string(spec.Classification), name)
	}

	safe := []string{"kubectl_get_pods", "kubectl_top_pods", "scan_pod_security", "predict_scaling_needs"}
	for _, name := range safe {
		spec, ok := Lookup(name)
		require.True(t, ok, name)
		assert.Equal(t, "safe", string(spec.Classification), name)
	}
}

func TestValidateMissingRequired(t *testing.T) {
	spec, _ := Lookup("kubectl_scale_deployment")
	err := Validate(spec, map[string]any{"namespace": "prod"})
	require.Error(t, err)
}

func TestValidateReplicasBounds(t *testing.T) {
	spec, _ := Lookup("kubectl_scale_deployment")
	err := Validate(spec, map[string]any{
		"deployment_name": "frontend",
		"namespace":        "production",
		"replicas":         -3.0,
	})
	require.Error(t, err)

	err = Validate(spec, map[string]any{
		"deployment_name": "frontend",
		"namespace":        "production",
		"replicas":         5.0,
	})
	require.NoError(t, err)
}

func TestValidateShellEnum(t *testing.T) {
	spec, _ := Lookup("execute_shell_command")
	err := Validate(spec, map[string]any{"command": "ls", "shell": "bogus"})
	require.Error(t, err)

	err = Validate(spec, map[string]any{"command": "ls", "shell": "sh"})
	require.NoError(t, err)
}

func TestAllReturnsEighteenTools(t *testing.T) {
	assert.Len(t, All(), 18)
}
