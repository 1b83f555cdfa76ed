package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"dollforge/internal/genapi"
	"dollforge/internal/model"
	"dollforge/internal/store"
)

// Transfer stages task input images to object storage and returns their
// publicly resolvable links in input order.
type Transfer interface {
	Upload(ctx context.Context, images []model.ImageRef, st model.StorageSettings, logf func(format string, args ...any)) ([]string, error)
}

// Generator is the remote generation service client used by the pipeline.
type Generator interface {
	Submit(ctx context.Context, p genapi.Payload, apiKey string, logf func(format string, args ...any)) (string, error)
	Poll(ctx context.Context, remoteTaskID, apiKey string, logf func(format string, args ...any)) (string, error)
	Download(ctx context.Context, resultURL, dir string, logf func(format string, args ...any)) (string, error)
}

// Scheduler validates incoming submissions and admits queued tasks into
// bounded-concurrency execution. The queue is strictly FIFO and volatile:
// it is rebuilt empty on every process start, which is why startup recovery
// fails any task persisted in a non-terminal state.
type Scheduler struct {
	store    store.Store
	transfer Transfer
	gen      Generator
	logger   *slog.Logger
	broker   *LogBroker

	// baseCtx bounds every pipeline to the process lifetime. Per-task
	// cancellation would hang off a child of this context.
	baseCtx context.Context

	mu      sync.Mutex
	queue   []*model.Task
	running int
	limit   int

	wg sync.WaitGroup
}

// NewScheduler creates a scheduler executing at most limit tasks
// concurrently. Limits below 1 are clamped to 1.
func NewScheduler(ctx context.Context, s store.Store, tr Transfer, gen Generator, limit int, logger *slog.Logger) *Scheduler {
	if limit < 1 {
		limit = 1
	}
	return &Scheduler{
		store:    s,
		transfer: tr,
		gen:      gen,
		logger:   logger,
		broker:   NewLogBroker(),
		baseCtx:  ctx,
		limit:    limit,
	}
}

// Broker returns the scheduler's log broker for SSE subscription.
func (s *Scheduler) Broker() *LogBroker {
	return s.broker
}

// Submit validates the request, persists the task as pending and enqueues
// it for execution. The persisted record is returned immediately;
// execution is asynchronous and callers observe progress via the task
// history.
func (s *Scheduler) Submit(ctx context.Context, req SubmitRequest) (*model.Task, error) {
	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	inputs, err := validateRequest(req, settings)
	if err != nil {
		return nil, err
	}

	t := &model.Task{
		ID:          model.NewID(),
		Stage:       req.Stage,
		Status:      model.StatusPending,
		Model:       req.Model,
		Size:        req.Size,
		AspectRatio: req.AspectRatio,
		InputImages: inputs,
		StartTime:   time.Now().UTC(),
		Logs:        []string{},
	}

	if err := s.store.CreateTask(ctx, t); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	tasksSubmitted.WithLabelValues(string(t.Stage)).Inc()

	// The queued copy is independent of the record handed back to the
	// caller, so the pipeline never races with them.
	tCopy := *t

	s.mu.Lock()
	s.queue = append(s.queue, &tCopy)
	queueDepth.Set(float64(len(s.queue)))
	s.mu.Unlock()

	s.admit()
	return t, nil
}

// SetConcurrency live-tunes the concurrency limit and immediately re-runs
// admission. Raising the limit may start additional tasks; lowering it
// never preempts running ones.
func (s *Scheduler) SetConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	s.mu.Lock()
	s.limit = n
	s.mu.Unlock()
	s.admit()
}

// InFlight returns the number of tasks currently executing.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Wait blocks until all in-flight pipeline goroutines complete.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// admit moves queued tasks into execution while a concurrency slot is free,
// in FIFO order. It re-runs whenever a task terminates or the limit
// changes.
func (s *Scheduler) admit() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.running < s.limit && len(s.queue) > 0 {
		t := s.queue[0]
		s.queue = s.queue[1:]
		s.running++
		queueDepth.Set(float64(len(s.queue)))

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.broker.Close(t.ID)
				s.mu.Lock()
				s.running--
				s.mu.Unlock()
				s.admit()
			}()
			s.execute(t)
		}()
	}
}

// taskLogf returns the per-task log writer: persist the timestamped line to
// the task's log stream, then publish it to live subscribers.
func (s *Scheduler) taskLogf(taskID string) func(format string, args ...any) {
	return func(format string, args ...any) {
		line, err := s.store.AppendTaskLog(s.baseCtx, taskID, fmt.Sprintf(format, args...))
		if err != nil {
			s.logger.Error("failed to append task log", "task_id", taskID, "error", err)
			return
		}
		s.broker.Publish(taskID, line)
	}
}
