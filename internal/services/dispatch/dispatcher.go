package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"safety-worker-go/internal/config"
	"safety-worker-go/internal/models"
	"safety-worker-go/internal/services/taskstate"
	"safety-worker-go/internal/store"
)

var (
	ErrRevoked           = errors.New("task revoked")
	ErrRecordingClosed   = errors.New("recording closed")
	ErrAttemptsExhausted = errors.New("retry attempts exhausted")
)

// Dispatcher puts tasks on the queue, schedules their retries and stops
// them. Retries are scheduled in process and dropped on Close.
type Dispatcher struct {
	cfg     *config.Config
	store   *store.Store
	states  taskstate.Store
	broker  Broker
	backoff Backoff
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[string]*time.Timer
	wg      sync.WaitGroup
}

func New(cfg *config.Config, st *store.Store, states taskstate.Store, broker Broker) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:     cfg,
		store:   st,
		states:  states,
		broker:  broker,
		backoff: BackoffFromConfig(cfg),
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]*time.Timer),
	}
}

// Enqueue creates a task for the recording, stores its id on the recording
// and publishes it.
func (d *Dispatcher) Enqueue(ctx context.Context, cameraID uint, modelPath string, recordingID uint) (models.Task, error) {
	task := models.Task{
		ID:          uuid.NewString(),
		CameraID:    cameraID,
		ModelPath:   modelPath,
		RecordingID: recordingID,
		EnqueuedAt:  d.now().UTC(),
	}

	sess := d.store.NewSession(ctx)
	defer sess.Close()
	if err := sess.UpdateRecordingTaskID(recordingID, task.ID); err != nil {
		return models.Task{}, err
	}

	if err := d.saveState(ctx, task, models.TaskPending, nil, nil); err != nil {
		return models.Task{}, err
	}
	if err := d.broker.PublishTask(ctx, task); err != nil {
		return models.Task{}, fmt.Errorf("failed to publish task %s: %w", task.ID, err)
	}

	log.Info().
		Str("task_id", task.ID).
		Uint("recording_id", recordingID).
		Uint("camera_id", cameraID).
		Msg("Task enqueued")
	return task, nil
}

// EnqueueRecording dispatches an active recording with its camera and the
// model of its detection type.
func (d *Dispatcher) EnqueueRecording(ctx context.Context, recordingID uint) (models.Task, error) {
	rec, dt, err := d.loadRecording(ctx, recordingID)
	if err != nil {
		return models.Task{}, err
	}
	if !rec.Status {
		return models.Task{}, fmt.Errorf("recording %d: %w", recordingID, ErrRecordingClosed)
	}
	return d.Enqueue(ctx, rec.CameraID, dt.ModelPath, recordingID)
}

func (d *Dispatcher) loadRecording(ctx context.Context, recordingID uint) (*models.Recording, *models.DetectionType, error) {
	sess := d.store.NewSession(ctx)
	defer sess.Close()

	rec, err := sess.GetRecordingByID(recordingID)
	if err != nil {
		return nil, nil, err
	}
	dt, err := sess.GetDetectionTypeByID(rec.DetectionTypeID)
	if err != nil {
		return nil, nil, err
	}
	return rec, dt, nil
}

// Retry schedules the next attempt of a failed task after the backoff delay
// and returns that delay. Revoked tasks, closed recordings and tasks past
// RETRY_MAX_ATTEMPTS are not retried.
func (d *Dispatcher) Retry(ctx context.Context, task models.Task, cause error) (time.Duration, error) {
	if d.revoked(ctx, task.ID) {
		return 0, ErrRevoked
	}

	active, err := d.recordingActive(ctx, task.RecordingID)
	if err != nil {
		return 0, err
	}
	if !active {
		_ = d.saveState(ctx, task, models.TaskRevoked, cause, nil)
		return 0, ErrRecordingClosed
	}

	next := task.Attempt + 1
	if limit := d.cfg.RetryMaxAttempts; limit > 0 && next > limit {
		_ = d.saveState(ctx, task, models.TaskFailure, cause, nil)
		log.Error().
			Err(cause).
			Str("task_id", task.ID).
			Int("attempts", task.Attempt).
			Msg("Task failed permanently")
		return 0, ErrAttemptsExhausted
	}

	delay := d.backoff.Delay(next)
	at := d.now().Add(delay).UTC()
	if err := d.saveState(ctx, task, models.TaskRetry, cause, &at); err != nil {
		return 0, err
	}

	retry := task
	retry.Attempt = next
	if cause != nil {
		retry.LastError = cause.Error()
	}
	d.schedule(retry, delay)

	log.Warn().
		Err(cause).
		Str("task_id", task.ID).
		Uint("recording_id", task.RecordingID).
		Int("attempt", next).
		Dur("delay", delay).
		Msg("Task scheduled for retry")
	return delay, nil
}

// Revoke marks the task revoked and tells every worker to cancel it.
func (d *Dispatcher) Revoke(ctx context.Context, taskID string) error {
	state, err := d.states.Get(ctx, taskID)
	if err != nil {
		if !errors.Is(err, taskstate.ErrNotFound) {
			return err
		}
		state = models.TaskState{TaskID: taskID}
	}

	d.unschedule(taskID)
	state.Status = models.TaskRevoked
	state.NextRetryAt = nil
	if err := d.states.Save(ctx, state); err != nil {
		return err
	}
	return d.broker.PublishControl(ctx, models.ControlMessage{
		Action:      models.ControlRevoke,
		TaskID:      taskID,
		RecordingID: state.RecordingID,
	})
}

// StopRecording closes the recording and revokes its task.
func (d *Dispatcher) StopRecording(ctx context.Context, recordingID uint) error {
	sess := d.store.NewSession(ctx)
	defer sess.Close()

	rec, err := sess.GetRecordingByID(recordingID)
	if err != nil {
		return err
	}
	if err := sess.CloseRecording(recordingID, d.now()); err != nil {
		return err
	}

	log.Info().
		Uint("recording_id", recordingID).
		Str("task_id", rec.TaskID).
		Msg("Recording stopped")

	if rec.TaskID == "" {
		return d.broker.PublishControl(ctx, models.ControlMessage{Action: models.ControlRevoke, RecordingID: recordingID})
	}
	return d.Revoke(ctx, rec.TaskID)
}

func (d *Dispatcher) MarkStarted(ctx context.Context, task models.Task) error {
	return d.saveState(ctx, task, models.TaskStarted, nil, nil)
}

func (d *Dispatcher) MarkFinished(ctx context.Context, task models.Task, status models.TaskStatus, cause error) error {
	return d.saveState(ctx, task, status, cause, nil)
}

func (d *Dispatcher) State(ctx context.Context, taskID string) (models.TaskState, error) {
	return d.states.Get(ctx, taskID)
}

func (d *Dispatcher) States(ctx context.Context) ([]models.TaskState, error) {
	return d.states.List(ctx)
}

// Pending is the number of retries waiting for their delay.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Close drops scheduled retries and waits for any being published.
func (d *Dispatcher) Close() error {
	d.cancel()
	d.mu.Lock()
	for id, t := range d.pending {
		if t.Stop() {
			d.wg.Done()
		}
		delete(d.pending, id)
	}
	d.mu.Unlock()
	d.wg.Wait()
	return nil
}

func (d *Dispatcher) schedule(task models.Task, delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx.Err() != nil {
		return
	}
	if old, ok := d.pending[task.ID]; ok && old.Stop() {
		d.wg.Done()
	}

	d.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		defer d.wg.Done()
		d.mu.Lock()
		if d.pending[task.ID] == t {
			delete(d.pending, task.ID)
		}
		d.mu.Unlock()
		d.redeliver(task)
	})
	d.pending[task.ID] = t
}

func (d *Dispatcher) unschedule(taskID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.pending[taskID]; ok {
		if t.Stop() {
			d.wg.Done()
		}
		delete(d.pending, taskID)
	}
}

// redeliver re-checks revocation and the recording before publishing, since
// either may have changed during the delay.
func (d *Dispatcher) redeliver(task models.Task) {
	ctx := d.ctx
	if ctx.Err() != nil {
		return
	}
	if d.revoked(ctx, task.ID) {
		log.Info().Str("task_id", task.ID).Msg("Dropping retry of revoked task")
		return
	}
	active, err := d.recordingActive(ctx, task.RecordingID)
	if err != nil {
		log.Error().Err(err).Str("task_id", task.ID).Msg("Failed to check recording before retry")
	} else if !active {
		_ = d.saveState(ctx, task, models.TaskRevoked, ErrRecordingClosed, nil)
		log.Info().Str("task_id", task.ID).Msg("Dropping retry of closed recording")
		return
	}

	if err := d.broker.PublishTask(ctx, task); err != nil {
		log.Error().Err(err).Str("task_id", task.ID).Int("attempt", task.Attempt).Msg("Failed to publish retry")
	}
}

func (d *Dispatcher) revoked(ctx context.Context, taskID string) bool {
	state, err := d.states.Get(ctx, taskID)
	return err == nil && state.Status == models.TaskRevoked
}

func (d *Dispatcher) recordingActive(ctx context.Context, recordingID uint) (bool, error) {
	sess := d.store.NewSession(ctx)
	defer sess.Close()
	return sess.IsRecordingActive(recordingID)
}

func (d *Dispatcher) saveState(ctx context.Context, task models.Task, status models.TaskStatus, cause error, next *time.Time) error {
	state := models.TaskState{
		TaskID:      task.ID,
		RecordingID: task.RecordingID,
		CameraID:    task.CameraID,
		Status:      status,
		Attempt:     task.Attempt,
		WorkerID:    d.cfg.WorkerID,
		NextRetryAt: next,
	}
	if cause != nil {
		state.Error = cause.Error()
	}
	if err := d.states.Save(ctx, state); err != nil {
		return fmt.Errorf("failed to record %s state for task %s: %w", status, task.ID, err)
	}
	return nil
}
