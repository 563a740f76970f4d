package policy

import (
	"testing"

	"github.com/novaadapt/novaadapt-core/pkg/models"
	"github.com/stretchr/testify/require"
)

func TestEvaluateAllowsSafeAction(t *testing.T) {
	g := NewGate()
	d := g.Evaluate(models.Action{Type: "click", Target: "OK button"}, false)
	require.True(t, d.Allowed)
	require.False(t, d.Dangerous)
}

func TestEvaluateBlocksDangerousTypeByDefault(t *testing.T) {
	g := NewGate()
	d := g.Evaluate(models.Action{Type: "delete", Target: "/tmp/file"}, false)
	require.False(t, d.Allowed)
	require.True(t, d.Dangerous)
	require.Contains(t, d.Reason, "allow_dangerous")
}

func TestEvaluateAllowsDangerousWhenOverridden(t *testing.T) {
	g := NewGate()
	d := g.Evaluate(models.Action{Type: "delete", Target: "/tmp/file"}, true)
	require.True(t, d.Allowed)
	require.True(t, d.Dangerous)
}

func TestEvaluateDetectsDangerousKeywordInValue(t *testing.T) {
	g := NewGate()
	action := models.Action{
		Type:   "run_command",
		Target: "terminal",
		Params: map[string]interface{}{"value": "sudo rm -rf /"},
	}
	d := g.Evaluate(action, false)
	require.True(t, d.Dangerous)
	require.False(t, d.Allowed)
}

func TestEvaluateIsCaseInsensitive(t *testing.T) {
	g := NewGate()
	d := g.Evaluate(models.Action{Type: "DELETE"}, false)
	require.True(t, d.Dangerous)
}
