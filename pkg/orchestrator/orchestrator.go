// Package orchestrator wires the agent, policy gate, execution transport,
// and the plan/action-log/job/audit stores into the operations the HTTP
// front end calls, grounded on novaadapt_core/service.py's
// NovaAdaptService (run/create_plan/approve_plan/reject_plan/undo_plan/
// history/events) generalized onto the richer Go plan state machine.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/novaadapt/novaadapt-core/pkg/actionlog"
	"github.com/novaadapt/novaadapt-core/pkg/agent"
	"github.com/novaadapt/novaadapt-core/pkg/audit"
	"github.com/novaadapt/novaadapt-core/pkg/jobmanager"
	"github.com/novaadapt/novaadapt-core/pkg/models"
	"github.com/novaadapt/novaadapt-core/pkg/planstore"
	"github.com/novaadapt/novaadapt-core/pkg/policy"
	"github.com/novaadapt/novaadapt-core/pkg/router"
	"github.com/novaadapt/novaadapt-core/pkg/transport"
)

// ErrPlanNotFailed is returned by RetryFailed when the plan is not
// currently in the failed state.
var ErrPlanNotFailed = errors.New("orchestrator: plan is not in a failed state")

// ErrActionNotFound is returned by Undo when no log entry matches.
var ErrActionNotFound = errors.New("orchestrator: action log entry not found")

// ErrAlreadyUndone is returned by Undo when the entry was already undone.
var ErrAlreadyUndone = errors.New("orchestrator: action already undone")

// ErrNoUndoAction is returned by Undo when the entry has no recorded undo
// action and the caller did not request mark-only.
var ErrNoUndoAction = errors.New("orchestrator: no undo action recorded for this entry")

// Config controls action-retry and default bounding behaviour shared
// across run/approve/retry-failed operations.
type Config struct {
	DefaultMaxActions         int
	ActionRetryAttempts       int
	ActionRetryBackoffSeconds float64
	HistoryLimit              int
	EventsLimit               int
}

// DefaultConfig mirrors service.py's max_actions=25, action_retry_attempts=0,
// action_retry_backoff_seconds=0.25 defaults.
func DefaultConfig() Config {
	return Config{
		DefaultMaxActions:         25,
		ActionRetryAttempts:       0,
		ActionRetryBackoffSeconds: 0.25,
		HistoryLimit:              20,
		EventsLimit:               100,
	}
}

// Orchestrator is the shared application service used by the HTTP front
// end (and, in principle, any other frontend) to run objectives and
// drive the plan/job lifecycle.
type Orchestrator struct {
	agent     *agent.Agent
	router    *router.Router
	policy    *policy.Gate
	transport transport.Transport
	plans     *planstore.Store
	logs      *actionlog.Store
	jobs      *jobmanager.Manager
	auditLog  *audit.Store
	cfg       Config

	// CompanionProbe optionally checks readiness of an external local
	// companion daemon (e.g. a novaprime-style kernel adapter). Left nil
	// when no such companion is configured; GET /health?deep=1 skips the
	// check in that case.
	CompanionProbe func(ctx context.Context) (bool, error)

	planLocks keyedMutex
}

// New builds an Orchestrator from its constituent components. auditLog
// and jobs may be nil; audit events are skipped and RunAsync/ApproveAsync
// return an error if so.
func New(rt *router.Router, ag *agent.Agent, gate *policy.Gate, tr transport.Transport, plans *planstore.Store, logs *actionlog.Store, jobs *jobmanager.Manager, auditLog *audit.Store, cfg Config) *Orchestrator {
	if cfg.DefaultMaxActions <= 0 {
		cfg.DefaultMaxActions = 25
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	if cfg.EventsLimit <= 0 {
		cfg.EventsLimit = 100
	}
	return &Orchestrator{
		agent: ag, router: rt, policy: gate, transport: tr,
		plans: plans, logs: logs, jobs: jobs, auditLog: auditLog, cfg: cfg,
	}
}

// ListModels returns the configured model endpoints.
func (o *Orchestrator) ListModels() []models.Endpoint { return o.router.List() }

// CheckModels probes configured endpoints (all, if names is empty).
func (o *Orchestrator) CheckModels(ctx context.Context, names []string) []models.EndpointHealth {
	return o.router.HealthCheck(ctx, names)
}

// RunObjective plans and, unless DryRun, executes an objective
// synchronously and records an audit event.
func (o *Orchestrator) RunObjective(ctx context.Context, req agent.ObjectiveRequest) (*agent.RunResult, error) {
	if req.MaxActions <= 0 {
		req.MaxActions = o.cfg.DefaultMaxActions
	}
	result, err := o.agent.RunObjective(ctx, req)
	status := "ok"
	if err != nil {
		status = "failed"
	}
	o.audit(ctx, "run", "run_objective", status, "objective", "", map[string]interface{}{
		"objective": req.Objective, "dry_run": req.DryRun, "strategy": req.Strategy,
	})
	return result, err
}

// RunAsync submits an objective run to the job manager and returns
// immediately with the job id.
func (o *Orchestrator) RunAsync(ctx context.Context, req agent.ObjectiveRequest) (string, error) {
	if o.jobs == nil {
		return "", fmt.Errorf("orchestrator: job manager not configured")
	}
	if req.MaxActions <= 0 {
		req.MaxActions = o.cfg.DefaultMaxActions
	}
	return o.jobs.Submit(ctx, "run_objective", map[string]interface{}{"objective": req.Objective}, func(taskCtx context.Context) (interface{}, error) {
		return o.agent.RunObjective(taskCtx, req)
	})
}

// SwarmJobEntry is one submitted job within a swarm run.
type SwarmJobEntry struct {
	Index     int    `json:"index"`
	Objective string `json:"objective"`
	JobID     string `json:"job_id"`
}

// SwarmResult is the outcome of RunSwarm.
type SwarmResult struct {
	TotalObjectives int             `json:"total_objectives"`
	SubmittedJobs   int             `json:"submitted_jobs"`
	Jobs            []SwarmJobEntry `json:"jobs"`
}

// RunSwarm fans a list of objectives out across the job manager, bounded
// by maxAgents (clamped to [1,32], defaulting to the objective count),
// the way server_run_memory_routes.py's post_swarm_run submits one
// run_objective job per selected objective.
func (o *Orchestrator) RunSwarm(ctx context.Context, objectives []string, maxAgents int, req agent.ObjectiveRequest) (*SwarmResult, error) {
	if o.jobs == nil {
		return nil, fmt.Errorf("orchestrator: job manager not configured")
	}
	normalized := make([]string, 0, len(objectives))
	for _, obj := range objectives {
		obj = strings.TrimSpace(obj)
		if obj != "" {
			normalized = append(normalized, obj)
		}
	}
	if len(normalized) == 0 {
		return nil, fmt.Errorf("orchestrator: objectives must contain at least one non-empty entry")
	}
	if maxAgents <= 0 {
		maxAgents = len(normalized)
	}
	if maxAgents > 32 {
		maxAgents = 32
	}
	selected := normalized
	if len(selected) > maxAgents {
		selected = selected[:maxAgents]
	}

	jobs := make([]SwarmJobEntry, 0, len(selected))
	for i, objective := range selected {
		runReq := req
		runReq.Objective = objective
		if runReq.MaxActions <= 0 {
			runReq.MaxActions = o.cfg.DefaultMaxActions
		}
		jobID, err := o.jobs.Submit(ctx, "run_objective", map[string]interface{}{"objective": objective}, func(taskCtx context.Context) (interface{}, error) {
			return o.agent.RunObjective(taskCtx, runReq)
		})
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, SwarmJobEntry{Index: i + 1, Objective: objective, JobID: jobID})
	}

	o.audit(ctx, "swarm", "run", "ok", "swarm", "", map[string]interface{}{
		"total_objectives": len(normalized), "submitted_jobs": len(jobs),
	})
	return &SwarmResult{TotalObjectives: len(normalized), SubmittedJobs: len(jobs), Jobs: jobs}, nil
}

// CreatePlan generates a plan in forced dry-run, non-recording mode and
// persists it pending approval.
func (o *Orchestrator) CreatePlan(ctx context.Context, req agent.ObjectiveRequest) (*models.Plan, error) {
	if req.MaxActions <= 0 {
		req.MaxActions = o.cfg.DefaultMaxActions
	}
	preview, err := o.agent.PlanObjective(ctx, req)
	if err != nil {
		return nil, err
	}
	plan, err := o.plans.Create(ctx, req.Objective, preview.Strategy, preview.Endpoint, preview.Actions)
	if err != nil {
		return nil, err
	}
	o.audit(ctx, "plan", "plan_created", "ok", "plan", plan.ID, map[string]interface{}{"objective": req.Objective})
	return plan, nil
}

// GetPlan fetches one plan by id.
func (o *Orchestrator) GetPlan(ctx context.Context, id string) (*models.Plan, error) {
	return o.plans.Get(ctx, id)
}

// ListPlans lists plans, optionally filtered by status.
func (o *Orchestrator) ListPlans(ctx context.Context, status models.PlanStatus, limit int) ([]models.Plan, error) {
	return o.plans.List(ctx, status, limit)
}

// ApprovalOptions controls an approve/retry-failed execution pass.
type ApprovalOptions struct {
	Execute              bool
	AllowDangerous       bool
	MaxActions           int
	ActionRetryAttempts  int
	ActionRetryBackoffS  float64
}

func (o *Orchestrator) fillDefaults(opts *ApprovalOptions) {
	if opts.MaxActions <= 0 {
		opts.MaxActions = o.cfg.DefaultMaxActions
	}
	if opts.ActionRetryAttempts <= 0 {
		opts.ActionRetryAttempts = o.cfg.ActionRetryAttempts
	}
	if opts.ActionRetryBackoffS <= 0 {
		opts.ActionRetryBackoffS = o.cfg.ActionRetryBackoffSeconds
	}
}

// ApprovePlan moves a pending plan to approved, or, if opts.Execute is
// set, drives it straight through execution. Concurrent callers on the
// same plan id serialize on a per-plan mutex, so the loser observes the
// post-transition status rather than racing the state machine.
func (o *Orchestrator) ApprovePlan(ctx context.Context, id string, opts ApprovalOptions) (*models.Plan, error) {
	o.fillDefaults(&opts)
	unlock := o.planLocks.Lock(id)
	defer unlock()

	if !opts.Execute {
		plan, err := o.plans.Approve(ctx, id, false)
		if err != nil {
			return nil, err
		}
		o.audit(ctx, "plan", "plan_approved", "ok", "plan", id, nil)
		return plan, nil
	}

	plan, err := o.plans.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	actions := plan.Actions
	if opts.MaxActions > 0 && len(actions) > opts.MaxActions {
		actions = actions[:opts.MaxActions]
	}
	indices := make([]int, len(actions))
	for i := range actions {
		indices[i] = i
	}
	return o.executePlan(ctx, id, indices, opts)
}

// RetryFailed re-executes only the actions whose most recent result was
// failed or blocked. The plan must currently be in the failed state.
func (o *Orchestrator) RetryFailed(ctx context.Context, id string, opts ApprovalOptions) (*models.Plan, error) {
	o.fillDefaults(&opts)
	unlock := o.planLocks.Lock(id)
	defer unlock()

	plan, err := o.plans.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if plan.Status != models.PlanFailed {
		return nil, ErrPlanNotFailed
	}

	var indices []int
	for i, res := range plan.ExecutionResults {
		if res.Status == models.StatusFailed || res.Status == models.StatusBlocked {
			indices = append(indices, i)
		}
	}
	if len(indices) == 0 {
		return plan, nil
	}
	return o.executePlan(ctx, id, indices, opts)
}

// executePlan drives the actions at the given original-plan indices
// through the policy gate and transport, updating the plan's
// per-action-index result snapshot and its cumulative action-log id
// history after every action so SSE readers observe live progress.
func (o *Orchestrator) executePlan(ctx context.Context, id string, indices []int, opts ApprovalOptions) (*models.Plan, error) {
	plan, err := o.plans.BeginExecuting(ctx, id)
	if err != nil {
		return nil, err
	}

	results := make([]models.ExecutionResult, len(plan.Actions))
	copy(results, plan.ExecutionResults)
	logIDs := append([]int64(nil), plan.ActionLogIDs...)

	backoff := time.Duration(opts.ActionRetryBackoffS * float64(time.Second))

	for _, idx := range indices {
		action := plan.Actions[idx]
		decision := o.policy.Evaluate(action, opts.AllowDangerous)

		var res models.ExecutionResult
		if !decision.Allowed {
			res = models.ExecutionResult{Action: action, Status: models.StatusBlocked, Output: decision.Reason, Dangerous: decision.Dangerous}
		} else {
			execRes, attempts := o.dispatchWithRetry(ctx, action, opts.ActionRetryAttempts, backoff)
			res = models.ExecutionResult{
				Action: action, Status: execRes.Status, Output: execRes.Output, Error: execRes.Error,
				Dangerous: decision.Dangerous, Attempts: attempts,
			}
		}
		results[idx] = res

		if logID, logErr := o.logs.Append(ctx, id, action, res.Status, res.Output); logErr != nil {
			slog.Error("Failed to append action log entry", "plan_id", id, "error", logErr)
		} else {
			logIDs = append(logIDs, logID)
		}

		completed := 0
		for _, r := range results {
			if r.Status != "" {
				completed++
			}
		}
		if updErr := o.plans.UpdateProgress(ctx, id, completed, results, logIDs); updErr != nil {
			slog.Error("Failed to update plan progress", "plan_id", id, "error", updErr)
		}
		o.audit(ctx, "action", action.Type, string(res.Status), "plan", id, map[string]interface{}{"target": action.Target})
	}

	hadFailure := false
	for _, r := range results {
		if r.Status == models.StatusFailed || r.Status == models.StatusBlocked {
			hadFailure = true
			break
		}
	}

	finalStatus := models.PlanExecuted
	errMsg := ""
	if hadFailure {
		finalStatus = models.PlanFailed
		errMsg = "one or more actions failed or were blocked"
	}
	finished, err := o.plans.Finish(ctx, id, finalStatus, errMsg, results, logIDs)
	if err != nil {
		return nil, err
	}
	o.audit(ctx, "plan", "plan_finished", string(finalStatus), "plan", id, nil)
	return finished, nil
}

// dispatchWithRetry dispatches action, retrying up to maxRetries times on
// a non-ok result, and returns the final result alongside the total
// number of attempts made (the initial try plus every retry), matching
// service.py's per-result "attempts" bookkeeping.
func (o *Orchestrator) dispatchWithRetry(ctx context.Context, action models.Action, maxRetries int, backoff time.Duration) (transport.Result, int) {
	res, err := o.transport.Execute(ctx, action, false)
	if err != nil && res.Status == "" {
		res = transport.Result{Status: models.StatusFailed, Error: err.Error()}
	}
	attempts := 1
	for attempt := 1; res.Status != models.StatusOK && attempt <= maxRetries; attempt++ {
		if backoff > 0 {
			wait := backoff * time.Duration(uint64(1)<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return res, attempts
			case <-time.After(wait):
			}
		}
		res, err = o.transport.Execute(ctx, action, false)
		if err != nil && res.Status == "" {
			res = transport.Result{Status: models.StatusFailed, Error: err.Error()}
		}
		attempts++
	}
	return res, attempts
}

// ApprovePlanAsync submits an approve-and-execute pass to the job
// manager and returns immediately with the job id.
func (o *Orchestrator) ApprovePlanAsync(ctx context.Context, id string, opts ApprovalOptions) (string, error) {
	if o.jobs == nil {
		return "", fmt.Errorf("orchestrator: job manager not configured")
	}
	opts.Execute = true
	return o.jobs.Submit(ctx, "approve_plan", map[string]interface{}{"plan_id": id}, func(taskCtx context.Context) (interface{}, error) {
		return o.ApprovePlan(taskCtx, id, opts)
	})
}

// RetryFailedAsync submits a retry-failed pass to the job manager.
func (o *Orchestrator) RetryFailedAsync(ctx context.Context, id string, opts ApprovalOptions) (string, error) {
	if o.jobs == nil {
		return "", fmt.Errorf("orchestrator: job manager not configured")
	}
	return o.jobs.Submit(ctx, "retry_failed", map[string]interface{}{"plan_id": id}, func(taskCtx context.Context) (interface{}, error) {
		return o.RetryFailed(taskCtx, id, opts)
	})
}

// RejectPlan rejects a non-terminal, non-executing plan.
func (o *Orchestrator) RejectPlan(ctx context.Context, id, reason string) (*models.Plan, error) {
	unlock := o.planLocks.Lock(id)
	defer unlock()
	plan, err := o.plans.Reject(ctx, id, reason)
	if err != nil {
		return nil, err
	}
	o.audit(ctx, "plan", "plan_rejected", "ok", "plan", id, map[string]interface{}{"reason": reason})
	return plan, nil
}

// UndoResult is the outcome of undoing one action-log entry.
type UndoResult struct {
	ID           int64  `json:"id"`
	Status       string `json:"status"`
	Executed     bool   `json:"executed"`
	MarkedUndone bool   `json:"marked_undone"`
}

// Undo resolves and (optionally) dispatches the undo action recorded
// against one action-log entry. markOnly records the entry as undone
// without dispatching anything.
func (o *Orchestrator) Undo(ctx context.Context, actionLogID int64, execute, markOnly bool) (*UndoResult, error) {
	entry, err := o.logs.Get(ctx, actionLogID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, ErrActionNotFound
	}
	if entry.Undone {
		return nil, ErrAlreadyUndone
	}
	if entry.Action.Undo == nil && !markOnly {
		return nil, ErrNoUndoAction
	}

	if markOnly {
		if err := o.logs.MarkUndone(ctx, actionLogID, "marked_undone"); err != nil {
			return nil, err
		}
		return &UndoResult{ID: actionLogID, Status: "marked_undone", MarkedUndone: true}, nil
	}

	undoAction := models.Action{Type: stringFromMap(entry.Action.Undo, "type"), Target: stringFromMap(entry.Action.Undo, "target")}
	if params, ok := entry.Action.Undo["params"].(map[string]interface{}); ok {
		undoAction.Params = params
	}

	execRes, execErr := o.transport.Execute(ctx, undoAction, !execute)
	if execErr != nil && execRes.Status == "" {
		execRes = transport.Result{Status: models.StatusFailed, Error: execErr.Error()}
	}
	marked := execute && execRes.Status == models.StatusOK
	if marked {
		if err := o.logs.MarkUndone(ctx, actionLogID, execRes.Output); err != nil {
			return nil, err
		}
	}
	o.audit(ctx, "action", "undo", string(execRes.Status), "action_log", fmt.Sprint(actionLogID), nil)
	return &UndoResult{ID: actionLogID, Status: string(execRes.Status), Executed: execute, MarkedUndone: marked}, nil
}

func stringFromMap(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// PlanUndoEntry reports the outcome of undoing one step of a plan undo.
type PlanUndoEntry struct {
	ID    int64  `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// UndoPlan iterates a plan's action_log_ids in reverse, undoing each.
func (o *Orchestrator) UndoPlan(ctx context.Context, planID string, execute, markOnly bool) ([]PlanUndoEntry, error) {
	plan, err := o.plans.Get(ctx, planID)
	if err != nil {
		return nil, err
	}
	if len(plan.ActionLogIDs) == 0 {
		return nil, fmt.Errorf("orchestrator: plan %s has no recorded action logs to undo", planID)
	}

	results := make([]PlanUndoEntry, 0, len(plan.ActionLogIDs))
	for i := len(plan.ActionLogIDs) - 1; i >= 0; i-- {
		id := plan.ActionLogIDs[i]
		if _, err := o.Undo(ctx, id, execute, markOnly); err != nil {
			results = append(results, PlanUndoEntry{ID: id, OK: false, Error: err.Error()})
			continue
		}
		results = append(results, PlanUndoEntry{ID: id, OK: true})
	}
	return results, nil
}

// History returns the most recent action-log entries across all plans.
func (o *Orchestrator) History(ctx context.Context, limit int) ([]models.ActionLogEntry, error) {
	if limit <= 0 {
		limit = o.cfg.HistoryLimit
	}
	return o.logs.Recent(ctx, "", limit)
}

// Events returns audit events matching filter.
func (o *Orchestrator) Events(ctx context.Context, filter audit.ListFilter) ([]audit.Event, error) {
	if filter.Limit <= 0 {
		filter.Limit = o.cfg.EventsLimit
	}
	return o.auditLog.List(ctx, filter)
}

func (o *Orchestrator) audit(ctx context.Context, category, action, status, entityType, entityID string, payload interface{}) {
	if o.auditLog == nil {
		return
	}
	if _, err := o.auditLog.Append(ctx, category, action, status, "", entityType, entityID, payload); err != nil {
		slog.Error("Failed to append audit event", "category", category, "action", action, "error", err)
	}
}

// keyedMutex hands out one *sync.Mutex per key, serializing concurrent
// operations on the same logical resource (here, one plan id) without a
// single global lock.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}
