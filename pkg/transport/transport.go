// Package transport defines the execution-transport boundary between the
// agent's action loop and whatever collaborator actually performs desktop,
// browser, or shell actions. Concrete production transports (subprocess,
// HTTP, unix-socket, native OS, browser) are external collaborators and
// out of scope here; this package ships the interface plus two in-process
// reference implementations used as safe defaults and test doubles.
package transport

import (
	"context"
	"sync"

	"github.com/novaadapt/novaadapt-core/pkg/models"
)

// Result is the outcome of dispatching one action to a Transport.
type Result struct {
	Status models.ExecutionStatus
	Output string
	Error  string
}

// Health is the outcome of probing a Transport's readiness.
type Health struct {
	Ready bool
	Error string
}

// Transport executes one sanitized action, optionally in dry-run preview
// mode, and reports its own readiness.
type Transport interface {
	Execute(ctx context.Context, action models.Action, dryRun bool) (Result, error)
	Probe(ctx context.Context) (Health, error)
}

// NullTransport is the zero-configuration default: dry-run calls always
// preview without side effects, and live calls succeed without performing
// any action. It lets the orchestrator run and be tested without a real
// desktop/browser collaborator wired in.
type NullTransport struct{}

// Execute implements Transport.
func (NullTransport) Execute(_ context.Context, action models.Action, dryRun bool) (Result, error) {
	if dryRun {
		return Result{Status: models.StatusPreview, Output: "dry-run: would execute " + action.Type}, nil
	}
	return Result{Status: models.StatusOK, Output: "executed " + action.Type}, nil
}

// Probe implements Transport.
func (NullTransport) Probe(_ context.Context) (Health, error) {
	return Health{Ready: true}, nil
}

// RecordingTransport wraps another Transport and records every dispatched
// action in order, for tests asserting execution ordering.
type RecordingTransport struct {
	Next Transport

	mu      sync.Mutex
	actions []models.Action
	results []Result
}

// NewRecordingTransport wraps next (NullTransport{} if nil).
func NewRecordingTransport(next Transport) *RecordingTransport {
	if next == nil {
		next = NullTransport{}
	}
	return &RecordingTransport{Next: next}
}

// Execute implements Transport, delegating to Next and recording the call.
func (t *RecordingTransport) Execute(ctx context.Context, action models.Action, dryRun bool) (Result, error) {
	res, err := t.Next.Execute(ctx, action, dryRun)
	t.mu.Lock()
	t.actions = append(t.actions, action)
	t.results = append(t.results, res)
	t.mu.Unlock()
	return res, err
}

// Probe implements Transport, delegating to Next.
func (t *RecordingTransport) Probe(ctx context.Context) (Health, error) {
	return t.Next.Probe(ctx)
}

// Recorded returns a copy of the actions dispatched so far, in order.
func (t *RecordingTransport) Recorded() []models.Action {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.Action, len(t.actions))
	copy(out, t.actions)
	return out
}
