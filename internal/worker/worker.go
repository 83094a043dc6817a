package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"safety-worker-go/internal/config"
	"safety-worker-go/internal/logging"
	"safety-worker-go/internal/metrics"
	"safety-worker-go/internal/models"
	"safety-worker-go/internal/services/dispatch"
	"safety-worker-go/internal/services/tasks"
)

var errShutdown = errors.New("worker shutting down")

// revokedTTL bounds how long a revoke for a task not running here is kept.
const revokedTTL = time.Hour

type TaskRunner interface {
	Run(ctx context.Context, task models.Task, status *tasks.Status) error
}

// Supervisor records task states and schedules retries.
type Supervisor interface {
	MarkStarted(ctx context.Context, task models.Task) error
	MarkFinished(ctx context.Context, task models.Task, status models.TaskStatus, cause error) error
	Retry(ctx context.Context, task models.Task, cause error) (time.Duration, error)
}

// Pool consumes tasks from the broker and runs at most MaxTasks of them at
// once, each with its own context.
type Pool struct {
	cfg        *config.Config
	runner     TaskRunner
	broker     dispatch.Broker
	supervisor Supervisor
	metrics    *metrics.WorkerMetrics
	log        zerolog.Logger

	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu guards closing together with wg.Add so no task starts once
	// Shutdown is waiting.
	mu      sync.RWMutex
	closing bool
	running map[string]*runningTask
	subs    []dispatch.Subscription
	revoked *gocache.Cache
}

type runningTask struct {
	status  *tasks.Status
	cancel  context.CancelFunc
	revoked bool
}

func New(cfg *config.Config, runner TaskRunner, broker dispatch.Broker, supervisor Supervisor, m *metrics.WorkerMetrics) *Pool {
	limit := cfg.MaxTasks
	if limit < 1 {
		limit = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		cfg:        cfg,
		runner:     runner,
		broker:     broker,
		supervisor: supervisor,
		metrics:    m,
		log:        logging.NewServiceLogger(cfg, "worker"),
		sem:        semaphore.NewWeighted(int64(limit)),
		ctx:        ctx,
		cancel:     cancel,
		running:    make(map[string]*runningTask),
		revoked:    gocache.New(revokedTTL, 0),
	}
}

// Start subscribes to tasks and control messages.
func (p *Pool) Start() error {
	control, err := p.broker.SubscribeControl(p.handleControl)
	if err != nil {
		return fmt.Errorf("failed to subscribe to task control: %w", err)
	}
	taskSub, err := p.broker.SubscribeTasks(p.handleTask)
	if err != nil {
		_ = control.Unsubscribe()
		return fmt.Errorf("failed to subscribe to tasks: %w", err)
	}

	p.mu.Lock()
	p.subs = append(p.subs, control, taskSub)
	p.mu.Unlock()

	p.log.Info().
		Str("worker_id", p.cfg.WorkerID).
		Int("max_tasks", p.cfg.MaxTasks).
		Msg("Worker pool started")
	return nil
}

func (p *Pool) handleTask(task models.Task) {
	if _, ok := p.revoked.Get(task.ID); ok {
		p.log.Info().Str("task_id", task.ID).Msg("Skipping revoked task")
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closing {
		p.log.Warn().Str("task_id", task.ID).Msg("Task received during shutdown, dropping")
		return
	}
	if _, busy := p.running[task.ID]; busy {
		p.log.Warn().Str("task_id", task.ID).Msg("Task already running on this worker")
		return
	}

	p.wg.Add(1)
	go p.execute(task)
}

func (p *Pool) execute(task models.Task) {
	defer p.wg.Done()
	logger := logging.WithRecording(logging.WithTask(p.log, task.ID), task.RecordingID)

	if err := p.sem.Acquire(p.ctx, 1); err != nil {
		logger.Warn().Err(err).Msg("Task abandoned while waiting for a slot")
		return
	}
	defer p.sem.Release(1)

	ctx, cancel := context.WithCancel(p.ctx)
	defer cancel()

	status := tasks.NewStatus(task)
	rt := &runningTask{status: status, cancel: cancel}
	p.mu.Lock()
	p.running[task.ID] = rt
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.running, task.ID)
		p.mu.Unlock()
	}()

	// A revoke that raced the slot wait still wins.
	if _, ok := p.revoked.Get(task.ID); ok {
		p.finish(logger, task, models.TaskRevoked, nil)
		return
	}

	if err := p.supervisor.MarkStarted(ctx, task); err != nil {
		logger.Warn().Err(err).Msg("Failed to record task start")
	}
	logger.Info().Int("attempt", task.Attempt).Msg("Task started")

	err := p.runner.Run(ctx, task, status)

	switch {
	case err == nil:
		p.finish(logger, task, models.TaskSuccess, nil)
	case errors.Is(err, context.Canceled):
		var cause error
		p.mu.RLock()
		if !rt.revoked {
			cause = errShutdown
		}
		p.mu.RUnlock()
		p.finish(logger, task, models.TaskRevoked, cause)
	default:
		p.retry(logger, task, status, err)
	}
}

func (p *Pool) finish(logger zerolog.Logger, task models.Task, status models.TaskStatus, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.supervisor.MarkFinished(ctx, task, status, cause); err != nil {
		logger.Warn().Err(err).Str("status", string(status)).Msg("Failed to record task result")
	}
	p.metrics.RecordOutcome(string(status))
	logger.Info().Str("status", string(status)).Msg("Task finished")
}

func (p *Pool) retry(logger zerolog.Logger, task models.Task, status *tasks.Status, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p.metrics.RecordRetry(status.Info().Strategy)
	delay, err := p.supervisor.Retry(ctx, task, cause)
	switch {
	case err == nil:
		p.metrics.RecordOutcome(string(models.TaskRetry))
		logger.Warn().Err(cause).Dur("retry_in", delay).Msg("Task failed, retry scheduled")
	case errors.Is(err, dispatch.ErrAttemptsExhausted):
		p.metrics.RecordOutcome(string(models.TaskFailure))
		logger.Error().Err(cause).Msg("Task failed, no attempts left")
	case errors.Is(err, dispatch.ErrRevoked), errors.Is(err, dispatch.ErrRecordingClosed):
		p.metrics.RecordOutcome(string(models.TaskRevoked))
		logger.Info().Err(cause).Str("reason", err.Error()).Msg("Task failed, not retried")
	default:
		logger.Error().Err(err).AnErr("cause", cause).Msg("Failed to schedule retry")
	}
}

// handleControl cancels the running task named by msg, or every running
// task of msg's recording.
func (p *Pool) handleControl(msg models.ControlMessage) {
	if msg.Action != models.ControlRevoke {
		p.log.Debug().Str("action", string(msg.Action)).Msg("Ignoring unknown control action")
		return
	}
	if msg.TaskID != "" {
		p.revoked.SetDefault(msg.TaskID, struct{}{})
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for id, rt := range p.running {
		if id == msg.TaskID || (msg.RecordingID != 0 && rt.status.Task().RecordingID == msg.RecordingID) {
			rt.revoked = true
			rt.cancel()
			p.log.Info().
				Str("task_id", id).
				Uint("recording_id", rt.status.Task().RecordingID).
				Msg("Revoking running task")
		}
	}
}

// Running lists the tasks on this worker, oldest first.
func (p *Pool) Running() []tasks.Info {
	p.mu.RLock()
	infos := make([]tasks.Info, 0, len(p.running))
	for _, rt := range p.running {
		infos = append(infos, rt.status.Info())
	}
	p.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].StartedAt.Equal(infos[j].StartedAt) {
			return infos[i].TaskID < infos[j].TaskID
		}
		return infos[i].StartedAt.Before(infos[j].StartedAt)
	})
	return infos
}

func (p *Pool) Get(taskID string) (tasks.Info, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rt, ok := p.running[taskID]
	if !ok {
		return tasks.Info{}, false
	}
	return rt.status.Info(), true
}

// Shutdown stops consuming, cancels every running task and waits for them
// to release their resources.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closing = true
	subs := p.subs
	p.subs = nil
	p.mu.Unlock()
	for _, s := range subs {
		if err := s.Unsubscribe(); err != nil {
			p.log.Warn().Err(err).Msg("Failed to unsubscribe")
		}
	}

	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Info().Msg("Worker pool stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker pool shutdown: %w", ctx.Err())
	}
}
