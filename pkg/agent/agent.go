// Package agent turns an objective into a plan of desktop/browser actions
// by prompting the model router, then optionally drives those actions
// through the policy gate and an execution transport. It is grounded on
// novaadapt_core/agent.py's run_objective/_parse_actions/_sanitize_actions.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/novaadapt/novaadapt-core/pkg/models"
	"github.com/novaadapt/novaadapt-core/pkg/policy"
	"github.com/novaadapt/novaadapt-core/pkg/transport"
)

// SystemPrompt is the fixed instruction prefix that steers the model
// toward a deterministic, JSON-only desktop action plan.
const SystemPrompt = `You are NovaAdapt. Convert the objective into deterministic desktop actions. ` +
	`Return strict JSON only. Use schema: {"actions": [ {"type": str, "target": str, "value": str?} ] }.`

const defaultMaxActions = 25

// Router is the subset of the model router the agent depends on.
type Router interface {
	Chat(ctx context.Context, req models.ChatRequest) (*models.RouterResult, error)
}

// ObjectiveRequest is the input to PlanObjective/RunObjective.
type ObjectiveRequest struct {
	Objective       string
	Strategy        string
	Endpoints       []string
	DryRun          bool
	AllowDangerous  bool
	MaxActions      int
}

// PlanResult is the outcome of composing and parsing a plan, without
// executing it.
type PlanResult struct {
	Endpoint string
	Strategy string
	Actions  []models.Action
	Router   *models.RouterResult
}

// RunResult is the outcome of PlanObjective plus driving the resulting
// actions through the policy gate and an execution transport.
type RunResult struct {
	PlanResult
	Results      []models.ExecutionResult
	ActionLogIDs []int64
}

// ActionLog is the subset of the action log the agent appends to while
// executing a plan.
type ActionLog interface {
	Append(ctx context.Context, planID string, action models.Action, status models.ExecutionStatus, output string) (int64, error)
}

// Agent composes objectives into plans and, optionally, executes them.
type Agent struct {
	router    Router
	policy    *policy.Gate
	transport transport.Transport
	log       ActionLog
}

// New builds an Agent. log may be nil when only planning (never
// executing) is required.
func New(router Router, gate *policy.Gate, tr transport.Transport, log ActionLog) *Agent {
	if gate == nil {
		gate = policy.NewGate()
	}
	if tr == nil {
		tr = transport.NullTransport{}
	}
	return &Agent{router: router, policy: gate, transport: tr, log: log}
}

// PlanObjective asks the router for a plan and parses/sanitizes it,
// without evaluating policy or dispatching to the transport.
func (a *Agent) PlanObjective(ctx context.Context, req ObjectiveRequest) (*PlanResult, error) {
	maxActions := req.MaxActions
	if maxActions <= 0 {
		maxActions = defaultMaxActions
	}

	messages := []models.ChatMessage{
		{Role: models.RoleSystem, Content: SystemPrompt},
		{Role: models.RoleUser, Content: fmt.Sprintf("Objective:\n%s\n\nOnly output JSON matching the schema, with no markdown.", req.Objective)},
	}

	result, err := a.router.Chat(ctx, models.ChatRequest{
		Messages:  messages,
		Strategy:  req.Strategy,
		Endpoints: req.Endpoints,
	})
	if err != nil {
		return nil, fmt.Errorf("agent: plan objective: %w", err)
	}

	actions := ParseActions(result.Reply, maxActions)

	return &PlanResult{
		Endpoint: result.Endpoint,
		Strategy: result.Strategy,
		Actions:  actions,
		Router:   result,
	}, nil
}

// RunObjective plans the objective, then drives each sanitized action
// through the policy gate and the configured transport. In live mode
// (DryRun=false), actions the policy blocks are recorded as "blocked"
// rather than dispatched.
func (a *Agent) RunObjective(ctx context.Context, req ObjectiveRequest) (*RunResult, error) {
	plan, err := a.PlanObjective(ctx, req)
	if err != nil {
		return nil, err
	}

	out := &RunResult{PlanResult: *plan}
	for _, action := range plan.Actions {
		decision := a.policy.Evaluate(action, req.AllowDangerous)

		if !req.DryRun && !decision.Allowed {
			res := models.ExecutionResult{Action: action, Status: models.StatusBlocked, Output: decision.Reason}
			out.Results = append(out.Results, res)
			if id, err := a.recordLog(ctx, "", action, res.Status, res.Output); err == nil {
				out.ActionLogIDs = append(out.ActionLogIDs, id)
			}
			continue
		}

		execRes, err := a.transport.Execute(ctx, action, req.DryRun)
		if err != nil && execRes.Status == "" {
			execRes = transport.Result{Status: models.StatusFailed, Error: err.Error()}
		}
		res := models.ExecutionResult{Action: action, Status: execRes.Status, Output: execRes.Output, Error: execRes.Error}
		out.Results = append(out.Results, res)
		if id, err := a.recordLog(ctx, "", action, res.Status, res.Output); err == nil {
			out.ActionLogIDs = append(out.ActionLogIDs, id)
		}
	}
	return out, nil
}

func (a *Agent) recordLog(ctx context.Context, planID string, action models.Action, status models.ExecutionStatus, output string) (int64, error) {
	if a.log == nil {
		return 0, fmt.Errorf("agent: no action log configured")
	}
	return a.log.Append(ctx, planID, action, status, output)
}

// ParseActions parses a raw model reply into a sanitized, capped action
// list, matching _parse_actions/_sanitize_actions. Malformed or
// unparseable output becomes a single diagnostic "note" action rather
// than an error, so callers always get a plan to review.
func ParseActions(raw string, maxActions int) []models.Action {
	if maxActions <= 0 {
		maxActions = defaultMaxActions
	}
	stripped := stripFence(raw)

	var parsed interface{}
	if err := json.Unmarshal([]byte(stripped), &parsed); err != nil {
		return []models.Action{{Type: "note", Target: "model_output", Params: valueParam(truncate(raw, 500))}}
	}

	switch v := parsed.(type) {
	case map[string]interface{}:
		if rawActions, ok := v["actions"].([]interface{}); ok {
			items := objectItems(rawActions)
			if len(items) > 0 {
				return sanitizeActions(capItems(items, maxActions))
			}
		}
	case []interface{}:
		items := objectItems(v)
		if len(items) > 0 {
			return sanitizeActions(capItems(items, maxActions))
		}
	}

	return []models.Action{{Type: "note", Target: "empty_plan", Params: valueParam("Model did not return actions")}}
}

func stripFence(raw string) string {
	stripped := strings.TrimSpace(raw)
	if strings.HasPrefix(stripped, "```") {
		stripped = strings.Trim(stripped, "`")
		stripped = strings.TrimSpace(strings.Replace(stripped, "json\n", "", 1))
	}
	return stripped
}

func objectItems(raw []interface{}) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}

func capItems(items []map[string]interface{}, max int) []map[string]interface{} {
	if len(items) > max {
		return items[:max]
	}
	return items
}

func sanitizeActions(items []map[string]interface{}) []models.Action {
	clean := make([]models.Action, 0, len(items))
	for idx, item := range items {
		actionType := strings.TrimSpace(stringField(item, "type"))
		target := strings.TrimSpace(stringField(item, "target"))

		if actionType == "" || target == "" {
			clean = append(clean, models.Action{
				Type:   "note",
				Target: "invalid_action",
				Params: valueParam(fmt.Sprintf("Action %d missing required fields", idx)),
			})
			continue
		}

		normalized := models.Action{Type: actionType, Target: target}
		if value, ok := item["value"]; ok && value != nil {
			normalized.Params = valueParam(fmt.Sprintf("%v", value))
		}
		if undo, ok := item["undo"].(map[string]interface{}); ok {
			normalized.Undo = undo
		}
		clean = append(clean, normalized)
	}
	return clean
}

func stringField(m map[string]interface{}, key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func valueParam(v string) map[string]interface{} {
	return map[string]interface{}{"value": v}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
