// Package catalog declares the authoritative set of callable tools: name,
// parameter schema, and safe/dangerous classification. Grounded on the
// teacher's tool-definition tables (internal/llm/types) generalized to a
// static registry keyed by name.
package catalog

import (
	"fmt"

	"github.com/loomctl/loom-agent/internal/model"
)

func f64(v float64) *float64 { return &v }

// specs is the authoritative tool table (spec.md §4.3).
var specs = map[string]model.ToolSpec{
	"kubectl_get_pods": {
		Name:           "kubectl_get_pods",
		Description:    "List pods in a namespace, optionally filtered by label selector.",
		Classification: model.ClassSafe,
		Schema: model.ParamSchema{
			Fields: map[string]model.FieldSchema{
				"namespace":      {Type: "string"},
				"label_selector": {Type: "string"},
			},
		},
	},
	"kubectl_get_pod_logs": {
		Name:           "kubectl_get_pod_logs",
		Description:    "Tail a pod's logs.",
		Classification: model.ClassSafe,
		Schema: model.ParamSchema{
			Required: []string{"pod_name", "namespace"},
			Fields: map[string]model.FieldSchema{
				"pod_name":   {Type: "string"},
				"namespace":  {Type: "string"},
				"tail_lines": {Type: "int", Default: 100, Min: f64(1)},
				"container":  {Type: "string"},
			},
		},
	},
	"kubectl_describe_pod": {
		Name:           "kubectl_describe_pod",
		Description:    "Detailed pod state and recent events.",
		Classification: model.ClassSafe,
		Schema: model.ParamSchema{
			Required: []string{"pod_name", "namespace"},
			Fields: map[string]model.FieldSchema{
				"pod_name":  {Type: "string"},
				"namespace": {Type: "string"},
			},
		},
	},
	"kubectl_get_deployments": {
		Name:           "kubectl_get_deployments",
		Description:    "List deployments in a namespace.",
		Classification: model.ClassSafe,
		Schema: model.ParamSchema{
			Fields: map[string]model.FieldSchema{"namespace": {Type: "string"}},
		},
	},
	"kubectl_get_events": {
		Name:           "kubectl_get_events",
		Description:    "Recent cluster events.",
		Classification: model.ClassSafe,
		Schema: model.ParamSchema{
			Fields: map[string]model.FieldSchema{
				"namespace": {Type: "string"},
				"limit":     {Type: "int", Default: 50, Min: f64(1)},
			},
		},
	},
	"kubectl_top_pods": {
		Name:           "kubectl_top_pods",
		Description:    "CPU/memory metric snapshot for pods.",
		Classification: model.ClassSafe,
		Schema: model.ParamSchema{
			Fields: map[string]model.FieldSchema{"namespace": {Type: "string"}},
		},
	},
	"kubectl_scale_deployment": {
		Name:           "kubectl_scale_deployment",
		Description:    "Set a deployment's replica count.",
		Classification: model.ClassDangerous,
		Schema: model.ParamSchema{
			Required: []string{"deployment_name", "namespace", "replicas"},
			Fields: map[string]model.FieldSchema{
				"deployment_name": {Type: "string"},
				"namespace":       {Type: "string"},
				"replicas":        {Type: "int", Min: f64(0)},
			},
		},
	},
	"kubectl_delete_pod": {
		Name:           "kubectl_delete_pod",
		Description:    "Delete a pod.",
		Classification: model.ClassDangerous,
		Schema: model.ParamSchema{
			Required: []string{"pod_name", "namespace"},
			Fields: map[string]model.FieldSchema{
				"pod_name":  {Type: "string"},
				"namespace": {Type: "string"},
			},
		},
	},
	"analyze_resource_efficiency": {
		Name:           "analyze_resource_efficiency",
		Description:    "Compare top-pods metrics against declared resource limits.",
		Classification: model.ClassSafe,
		Schema: model.ParamSchema{
			Fields: map[string]model.FieldSchema{"namespace": {Type: "string"}},
		},
	},
	"auto_restart_pod": {
		Name:           "auto_restart_pod",
		Description:    "Delete a pod so its controller recreates it.",
		Classification: model.ClassDangerous,
		Schema: model.ParamSchema{
			Required: []string{"pod_name", "namespace"},
			Fields: map[string]model.FieldSchema{
				"pod_name":  {Type: "string"},
				"namespace": {Type: "string"},
			},
		},
	},
	"auto_scale_if_needed": {
		Name:           "auto_scale_if_needed",
		Description:    "Decide and apply a replica change based on current load.",
		Classification: model.ClassDangerous,
		Schema: model.ParamSchema{
			Required: []string{"deployment_name", "namespace"},
			Fields: map[string]model.FieldSchema{
				"deployment_name": {Type: "string"},
				"namespace":       {Type: "string"},
			},
		},
	},
	"predict_resource_exhaustion": {
		Name:           "predict_resource_exhaustion",
		Description:    "Predict resource exhaustion from recent metric history.",
		Classification: model.ClassSafe,
		Schema: model.ParamSchema{
			Required: []string{"pod_name", "namespace"},
			Fields: map[string]model.FieldSchema{
				"pod_name":  {Type: "string"},
				"namespace": {Type: "string"},
			},
		},
	},
	"suggest_preemptive_actions": {
		Name:           "suggest_preemptive_actions",
		Description:    "Suggest preemptive actions derived from metric trends.",
		Classification: model.ClassSafe,
		Schema: model.ParamSchema{
			Required: []string{"pod_name", "namespace"},
			Fields: map[string]model.FieldSchema{
				"pod_name":  {Type: "string"},
				"namespace": {Type: "string"},
			},
		},
	},
	"identify_failure_patterns": {
		Name:           "identify_failure_patterns",
		Description:    "Identify failure patterns from event/restart history.",
		Classification: model.ClassSafe,
		Schema: model.ParamSchema{
			Required: []string{"pod_name", "namespace"},
			Fields: map[string]model.FieldSchema{
				"pod_name":  {Type: "string"},
				"namespace": {Type: "string"},
			},
		},
	},
	"predict_scaling_needs": {
		Name:           "predict_scaling_needs",
		Description:    "Predict future scaling needs for a deployment.",
		Classification: model.ClassSafe,
		Schema: model.ParamSchema{
			Required: []string{"deployment_name", "namespace"},
			Fields: map[string]model.FieldSchema{
				"deployment_name": {Type: "string"},
				"namespace":       {Type: "string"},
			},
		},
	},
	"scan_pod_security": {
		Name:           "scan_pod_security",
		Description:    "Inspect a pod spec for known-bad security flags.",
		Classification: model.ClassSafe,
		Schema: model.ParamSchema{
			Required: []string{"pod_name", "namespace"},
			Fields: map[string]model.FieldSchema{
				"pod_name":  {Type: "string"},
				"namespace": {Type: "string"},
			},
		},
	},
	"auto_fix_security_issue": {
		Name:           "auto_fix_security_issue",
		Description:    "Patch a pod spec to remediate one identified security issue.",
		Classification: model.ClassDangerous,
		Schema: model.ParamSchema{
			Required: []string{"pod_name", "namespace", "issue_type"},
			Fields: map[string]model.FieldSchema{
				"pod_name":   {Type: "string"},
				"namespace":  {Type: "string"},
				"issue_type": {Type: "string", Enum: []string{"running_as_root", "missing_resource_limits", "privileged_containers", "host_network_access", "insecure_capabilities"}},
			},
		},
	},
	"execute_shell_command": {
		Name:           "execute_shell_command",
		Description:    "Spawn a process on the host with the chosen shell interpreter.",
		Classification: model.ClassDangerous,
		Schema: model.ParamSchema{
			Required: []string{"command", "shell"},
			Fields: map[string]model.FieldSchema{
				"command":     {Type: "string"},
				"shell":       {Type: "string", Enum: []string{"sh", "cmd", "powershell"}},
				"timeout_sec": {Type: "int", Default: 120, Min: f64(1), Max: f64(120)},
			},
		},
	},
}

// Lookup resolves a tool name against the Catalog. The bool return is
// false for an unknown name.
func Lookup(name string) (model.ToolSpec, bool) {
	s, ok := specs[name]
	return s, ok
}

// All returns every declared ToolSpec, for the "list tools" API operation
// and for rendering schemas to the LLM.
func All() []model.ToolSpec {
	out := make([]model.ToolSpec, 0, len(specs))
	for _, s := range specs {
		out = append(out, s)
	}
	return out
}

// Validate checks a parameter object against a tool's declared schema:
// required fields, enumerated values, numeric bounds. It does not attempt
// full JSON-schema type coercion — values arrive already decoded from the
// LLM's structured tool-use block.
func Validate(spec model.ToolSpec, params map[string]any) error {
	for _, req := range spec.Schema.Required {
		if _, ok := params[req]; !ok {
			return fmt.Errorf("missing required parameter %q", req)
		}
	}
	for name, val := range params {
		field, known := spec.Schema.Fields[name]
		if !known {
			continue // unknown extra fields are ignored, not rejected
		}
		if len(field.Enum) > 0 {
			s, ok := val.(string)
			if !ok || !contains(field.Enum, s) {
				return fmt.Errorf("parameter %q must be one of %v", name, field.Enum)
			}
		}
		if field.Min != nil || field.Max != nil {
			n, ok := asFloat(val)
			if !ok {
				return fmt.Errorf("parameter %q must be numeric", name)
			}
			if field.Min != nil && n < *field.Min {
				return fmt.Errorf("parameter %q must be >= %v", name, *field.Min)
			}
			if field.Max != nil && n > *field.Max {
				return fmt.Errorf("parameter %q must be <= %v", name, *field.Max)
			}
		}
	}
	return nil
}

func contains(xs []string, v string) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
