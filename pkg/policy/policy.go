// Package policy implements the destructive-action gate evaluated before
// any action reaches an execution transport. It is a pure function over a
// fixed set of dangerous types and keywords; it performs no I/O.
package policy

import (
	"fmt"
	"strings"

	"github.com/novaadapt/novaadapt-core/pkg/models"
)

// DangerousTypes is the fixed set of action types treated as destructive
// regardless of their target or parameters.
var DangerousTypes = map[string]struct{}{
	"delete":     {},
	"remove":     {},
	"rm":         {},
	"format":     {},
	"shutdown":   {},
	"reboot":     {},
	"kill":       {},
	"terminate":  {},
	"run_shell":  {},
	"shell":      {},
	"terminal":   {},
}

// DangerousKeywords is the fixed set of substrings that mark an action as
// destructive when found anywhere in its type/target/value text.
var DangerousKeywords = []string{
	"rm -rf",
	"format",
	"factory reset",
	"delete",
	"drop table",
	"shutdown",
	"reboot",
	"killall",
	"poweroff",
}

// Gate evaluates actions against the fixed dangerous-type/keyword lists.
type Gate struct{}

// NewGate constructs a Gate. It carries no state; one instance may be
// shared across goroutines.
func NewGate() *Gate {
	return &Gate{}
}

// Evaluate decides whether action may proceed. When the action is
// dangerous and allowDangerous is false, the decision disallows execution
// with an explanatory reason; otherwise it allows it and reports whether
// it was flagged as dangerous.
func (g *Gate) Evaluate(action models.Action, allowDangerous bool) models.PolicyDecision {
	actionType := strings.ToLower(strings.TrimSpace(action.Type))
	target := strings.ToLower(strings.TrimSpace(action.Target))
	value := strings.ToLower(strings.TrimSpace(stringParam(action.Params, "value")))
	haystack := fmt.Sprintf("%s %s %s", actionType, target, value)

	_, typeDangerous := DangerousTypes[actionType]
	dangerous := typeDangerous
	if !dangerous {
		for _, kw := range DangerousKeywords {
			if strings.Contains(haystack, kw) {
				dangerous = true
				break
			}
		}
	}

	if dangerous && !allowDangerous {
		return models.PolicyDecision{
			Allowed:   false,
			Dangerous: true,
			Reason: "Blocked potentially destructive action. " +
				"Re-run with allow_dangerous after reviewing the plan.",
		}
	}

	return models.PolicyDecision{Allowed: true, Dangerous: dangerous, Reason: "allowed"}
}

func stringParam(params map[string]interface{}, key string) string {
	if params == nil {
		return ""
	}
	v, ok := params[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return fmt.Sprintf("%v", v)
	}
	return s
}
