// Package models defines the shared domain and wire types exchanged
// between the router, agent, policy gate, stores, and the HTTP front end.
package models

import "time"

// Endpoint describes a reachable chat-completion model endpoint. Identity
// is the Name field; endpoints are otherwise immutable value objects.
type Endpoint struct {
	Name        string `json:"name" yaml:"name"`
	BaseURL     string `json:"base_url" yaml:"base_url"`
	Model       string `json:"model" yaml:"model"`
	APIKeyEnv   string `json:"api_key_env,omitempty" yaml:"api_key_env,omitempty"`
	Provider    string `json:"provider,omitempty" yaml:"provider,omitempty"`
	TimeoutSecs int     `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
}

// ChatRole identifies the speaker of a ChatMessage.
type ChatRole string

const (
	RoleSystem    ChatRole = "system"
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
)

// ChatMessage is one immutable turn in a chat transcript.
type ChatMessage struct {
	Role    ChatRole `json:"role"`
	Content string   `json:"content"`
}

// ChatRequest is the router's unit of work: a transcript dispatched to one
// or more candidate endpoints under a chosen strategy.
type ChatRequest struct {
	Messages    []ChatMessage `json:"messages"`
	Strategy    string        `json:"strategy,omitempty"` // "single" | "vote"
	Endpoints   []string      `json:"endpoints,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// EndpointAttempt records the outcome of dispatching a ChatRequest to one
// endpoint, whether or not it was the winner.
type EndpointAttempt struct {
	Endpoint   string        `json:"endpoint"`
	Reply      string        `json:"reply,omitempty"`
	Error      string        `json:"error,omitempty"`
	Latency    time.Duration `json:"latency_ms"`
	AgreedWith string        `json:"-"`
}

// RouterResult is the outcome of Router.Chat: the winning reply plus the
// per-endpoint attempt ledger used for diagnostics and vote auditing.
type RouterResult struct {
	Reply     string            `json:"reply"`
	Endpoint  string            `json:"endpoint"`
	Strategy  string            `json:"strategy"`
	Attempts  []EndpointAttempt `json:"attempts"`
	VoteCount int               `json:"vote_count,omitempty"`
	Quorum    int               `json:"quorum,omitempty"`
}

// EndpointHealth is the outcome of probing one endpoint.
type EndpointHealth struct {
	Endpoint string        `json:"endpoint"`
	Healthy  bool          `json:"healthy"`
	Latency  time.Duration `json:"latency_ms"`
	Error    string        `json:"error,omitempty"`
}

// Action is one desktop/browser-plane step proposed by the agent or
// submitted directly by a caller.
type Action struct {
	Type   string                 `json:"type"`
	Target string                 `json:"target,omitempty"`
	Params map[string]interface{} `json:"params,omitempty"`
	Note   string                 `json:"note,omitempty"`
	Undo   map[string]interface{} `json:"undo,omitempty"`
}

// PolicyDecision is the outcome of evaluating one Action against the
// destructive-action policy gate.
type PolicyDecision struct {
	Allowed   bool   `json:"allowed"`
	Dangerous bool   `json:"dangerous"`
	Reason    string `json:"reason,omitempty"`
}

// ExecutionStatus is the lifecycle outcome of dispatching one Action to a
// Transport.
type ExecutionStatus string

const (
	StatusOK      ExecutionStatus = "ok"
	StatusFailed  ExecutionStatus = "failed"
	StatusPreview ExecutionStatus = "preview"
	StatusBlocked ExecutionStatus = "blocked"
)

// ExecutionResult is the outcome of dispatching one Action.
type ExecutionResult struct {
	Action    Action          `json:"action"`
	Status    ExecutionStatus `json:"status"`
	Output    string          `json:"output,omitempty"`
	Error     string          `json:"error,omitempty"`
	Dangerous bool            `json:"dangerous,omitempty"`
	Attempts  int             `json:"attempts"`
}

// PlanStatus is the state of a Plan in the approve/execute state machine.
type PlanStatus string

const (
	PlanPending   PlanStatus = "pending"
	PlanApproved  PlanStatus = "approved"
	PlanExecuting PlanStatus = "executing"
	PlanExecuted  PlanStatus = "executed"
	PlanFailed    PlanStatus = "failed"
	PlanRejected  PlanStatus = "rejected"
)

// Plan is a persisted, reviewable proposal of actions derived from an
// objective, plus its execution bookkeeping.
type Plan struct {
	ID               string            `json:"id"`
	Objective        string            `json:"objective"`
	Status           PlanStatus        `json:"status"`
	Actions          []Action          `json:"actions"`
	ExecutionResults []ExecutionResult `json:"execution_results,omitempty"`
	ActionLogIDs     []int64           `json:"action_log_ids,omitempty"`
	Progress         int               `json:"progress"`
	Error            string            `json:"error,omitempty"`
	Endpoint         string            `json:"endpoint,omitempty"`
	Strategy         string            `json:"strategy,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	ApprovedAt       *time.Time        `json:"approved_at,omitempty"`
	RejectedAt       *time.Time        `json:"rejected_at,omitempty"`
	ExecutedAt       *time.Time        `json:"executed_at,omitempty"`
}

// JobStatus is the lifecycle state of an async Job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCanceled  JobStatus = "canceled"
)

// Job is a persisted unit of asynchronous work (an objective run, a plan
// approval, or a retry) executed by the job manager's worker pool.
type Job struct {
	ID              string      `json:"id"`
	Kind            string      `json:"kind"`
	Status          JobStatus   `json:"status"`
	Input           interface{} `json:"input,omitempty"`
	Result          interface{} `json:"result,omitempty"`
	Error           string      `json:"error,omitempty"`
	CancelRequested bool        `json:"cancel_requested,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// IdempotencyStatus is the lookup outcome of IdempotencyStore.Begin.
type IdempotencyStatus string

const (
	IdemNew        IdempotencyStatus = "new"
	IdemReplay     IdempotencyStatus = "replay"
	IdemConflict   IdempotencyStatus = "conflict"
	IdemInProgress IdempotencyStatus = "in_progress"
)

// IdempotencyEntry is a persisted idempotency-key record.
type IdempotencyEntry struct {
	Key          string    `json:"key"`
	Method       string    `json:"method"`
	Path         string    `json:"path"`
	PayloadHash  string    `json:"payload_hash"`
	StatusCode   int       `json:"status_code,omitempty"`
	ResponseJSON string    `json:"response_json,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AuditEvent is one append-only audit-log record.
type AuditEvent struct {
	ID        int64     `json:"id"`
	Category  string    `json:"category"`
	Entity    string    `json:"entity,omitempty"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ActionLogEntry is one append-only action/undo-log record.
type ActionLogEntry struct {
	ID        int64           `json:"id"`
	PlanID    string          `json:"plan_id,omitempty"`
	Action    Action          `json:"action"`
	Status    ExecutionStatus `json:"status"`
	Output    string          `json:"output,omitempty"`
	Undone    bool            `json:"undone"`
	UndoResult string         `json:"undo_result,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
