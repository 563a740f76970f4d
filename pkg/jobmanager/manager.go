package jobmanager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/novaadapt/novaadapt-core/pkg/models"
)

// restartError is recorded against any job still queued or running when
// the manager starts, since no worker survives a process restart to
// finish it.
const restartError = "process restart before completion"

// ErrQueueFull is returned by Submit when the pending-job backlog is at
// capacity.
var ErrQueueFull = errors.New("jobmanager: queue is full")

// ErrNotFound is returned by Cancel when no active job matches the id.
var ErrNotFound = errors.New("jobmanager: job not found or not active")

// Task is the unit of work a submitted job runs. It must respect ctx
// cancellation for Cancel to have any effect.
type Task func(ctx context.Context) (interface{}, error)

type queuedJob struct {
	id   string
	kind string
	fn   Task
}

// Manager runs submitted tasks on a fixed-size worker pool, persisting
// job records so status survives a restart and registering a cancel
// function per in-flight job for API-triggered cancellation.
type Manager struct {
	store   *Store
	workers int
	queue   chan queuedJob

	mu       sync.RWMutex
	cancels  map[string]context.CancelFunc
	canceled map[string]struct{}

	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewManager opens the manager against store, recovering any job left
// queued or running by a prior process as failed (it cannot be resumed
// since the in-memory task closure that produced it is gone).
func NewManager(ctx context.Context, store *Store, workers, queueDepth int) (*Manager, error) {
	if workers <= 0 {
		workers = 4
	}
	if queueDepth <= 0 {
		queueDepth = 256
	}
	m := &Manager{
		store:    store,
		workers:  workers,
		queue:    make(chan queuedJob, queueDepth),
		cancels:  make(map[string]context.CancelFunc),
		canceled: make(map[string]struct{}),
		stopCh:   make(chan struct{}),
	}
	if err := m.recoverStrandedJobs(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) recoverStrandedJobs(ctx context.Context) error {
	stranded, err := m.store.ListByStatuses(ctx, models.JobQueued, models.JobRunning)
	if err != nil {
		return fmt.Errorf("jobmanager: recover stranded jobs: %w", err)
	}
	for i := range stranded {
		job := stranded[i]
		job.Status = models.JobFailed
		job.Error = restartError
		job.UpdatedAt = time.Now().UTC()
		if err := m.store.Upsert(ctx, &job); err != nil {
			slog.Error("Failed to mark stranded job failed", "job_id", job.ID, "error", err)
		} else {
			slog.Warn("Marked stranded job failed after restart", "job_id", job.ID, "kind", job.Kind)
		}
	}
	return nil
}

// Start spawns the worker goroutines. ctx governs the lifetime of all
// in-flight tasks; Stop should still be called for a clean shutdown.
func (m *Manager) Start(ctx context.Context) {
	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.runWorker(ctx)
	}
}

// Stop signals workers to exit, then waits for them. A worker finishes the
// job it is running; jobs still waiting in the queue may be left unrun.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *Manager) runWorker(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case job, ok := <-m.queue:
			if !ok {
				return
			}
			m.process(ctx, job)
		}
	}
}

// Submit enqueues a new job of the given kind and returns its id
// immediately; the task runs asynchronously on the worker pool.
func (m *Manager) Submit(ctx context.Context, kind string, input interface{}, fn Task) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	job := &models.Job{
		ID:        id,
		Kind:      kind,
		Status:    models.JobQueued,
		Input:     input,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.Upsert(ctx, job); err != nil {
		return "", fmt.Errorf("jobmanager: submit: %w", err)
	}

	select {
	case m.queue <- queuedJob{id: id, kind: kind, fn: fn}:
		return id, nil
	default:
		job.Status = models.JobFailed
		job.Error = ErrQueueFull.Error()
		job.UpdatedAt = time.Now().UTC()
		_ = m.store.Upsert(ctx, job)
		return "", ErrQueueFull
	}
}

func (m *Manager) process(parent context.Context, job queuedJob) {
	m.mu.Lock()
	if _, canceled := m.canceled[job.id]; canceled {
		delete(m.canceled, job.id)
		m.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(parent)
	m.cancels[job.id] = cancel
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.cancels, job.id)
		m.mu.Unlock()
		cancel()
	}()

	storeCtx := context.Background()
	m.updateStatus(storeCtx, job.id, models.JobRunning, nil, "")

	result, err := job.fn(runCtx)
	switch {
	case err != nil && errors.Is(runCtx.Err(), context.Canceled):
		m.updateStatus(storeCtx, job.id, models.JobCanceled, nil, "canceled")
	case err != nil:
		m.updateStatus(storeCtx, job.id, models.JobFailed, nil, err.Error())
	default:
		m.updateStatus(storeCtx, job.id, models.JobSucceeded, result, "")
	}
}

func (m *Manager) updateStatus(ctx context.Context, id string, status models.JobStatus, result interface{}, errMsg string) {
	job, err := m.store.Get(ctx, id)
	if err != nil || job == nil {
		slog.Error("Failed to load job for status update", "job_id", id, "error", err)
		return
	}
	job.Status = status
	job.Result = result
	job.Error = errMsg
	job.UpdatedAt = time.Now().UTC()
	if err := m.store.Upsert(ctx, job); err != nil {
		slog.Error("Failed to persist job status update", "job_id", id, "error", err)
	}
}

// Cancel triggers cooperative cancellation of a job. A running job is
// signaled via its context; a job still sitting in the queue is marked
// canceled immediately so process never invokes its task. Returns
// ErrNotFound if the job is neither running nor queued on this process.
func (m *Manager) Cancel(jobID string) error {
	m.mu.Lock()
	if cancel, ok := m.cancels[jobID]; ok {
		m.mu.Unlock()
		cancel()
		return nil
	}
	m.mu.Unlock()

	ctx := context.Background()
	job, err := m.store.Get(ctx, jobID)
	if err != nil || job == nil || job.Status != models.JobQueued {
		return ErrNotFound
	}

	m.mu.Lock()
	if cancel, ok := m.cancels[jobID]; ok {
		m.mu.Unlock()
		cancel()
		return nil
	}
	m.canceled[jobID] = struct{}{}
	m.mu.Unlock()

	job.Status = models.JobCanceled
	job.CancelRequested = true
	job.UpdatedAt = time.Now().UTC()
	if err := m.store.Upsert(ctx, job); err != nil {
		slog.Error("Failed to persist queued-job cancellation", "job_id", jobID, "error", err)
	}
	return nil
}

// Get returns one job's current record.
func (m *Manager) Get(ctx context.Context, id string) (*models.Job, error) {
	return m.store.Get(ctx, id)
}

// List returns the most recent jobs, newest first.
func (m *Manager) List(ctx context.Context, limit int) ([]models.Job, error) {
	return m.store.List(ctx, limit)
}
