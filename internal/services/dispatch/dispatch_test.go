package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"safety-worker-go/internal/config"
	"safety-worker-go/internal/models"
	"safety-worker-go/internal/services/taskstate"
	"safety-worker-go/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
	)
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	b := Backoff{Min: 10 * time.Second, Max: time.Minute, Multiplier: 2}

	assert.Equal(t, 10*time.Second, b.Delay(1))
	assert.Equal(t, 20*time.Second, b.Delay(2))
	assert.Equal(t, 40*time.Second, b.Delay(3))
	assert.Equal(t, time.Minute, b.Delay(4))
	assert.Equal(t, time.Minute, b.Delay(50))
	assert.Equal(t, 10*time.Second, b.Delay(0), "attempts count from one")
}

func TestBackoffJitterStaysInBounds(t *testing.T) {
	b := Backoff{Min: 10 * time.Second, Max: 15 * time.Second, Multiplier: 2, JitterPct: 20}

	for i := 0; i < 200; i++ {
		d := b.Delay(1)
		assert.GreaterOrEqual(t, d, 8*time.Second)
		assert.LessOrEqual(t, d, 12*time.Second)

		d = b.Delay(3)
		assert.LessOrEqual(t, d, 15*time.Second, "jitter never exceeds the ceiling")
	}
}

func TestBackoffMultiplierBelowOneIsFlat(t *testing.T) {
	b := Backoff{Min: time.Second, Max: time.Minute, Multiplier: 0}
	assert.Equal(t, time.Second, b.Delay(5))
}

func TestMemoryBrokerRoundRobinsTasks(t *testing.T) {
	b := NewMemoryBroker()
	var mu sync.Mutex
	got := map[string][]string{}

	for _, name := range []string{"a", "b"} {
		name := name
		_, err := b.SubscribeTasks(func(task models.Task) {
			mu.Lock()
			defer mu.Unlock()
			got[name] = append(got[name], task.ID)
		})
		require.NoError(t, err)
	}

	for _, id := range []string{"1", "2", "3", "4"} {
		require.NoError(t, b.PublishTask(context.Background(), models.Task{ID: id}))
	}
	assert.Len(t, got["a"], 2)
	assert.Len(t, got["b"], 2)
}

func TestMemoryBrokerFansOutControl(t *testing.T) {
	b := NewMemoryBroker()
	var count int
	sub1, _ := b.SubscribeControl(func(models.ControlMessage) { count++ })
	_, _ = b.SubscribeControl(func(models.ControlMessage) { count++ })

	require.NoError(t, b.PublishControl(context.Background(), models.ControlMessage{Action: models.ControlRevoke}))
	assert.Equal(t, 2, count)

	require.NoError(t, sub1.Unsubscribe())
	require.NoError(t, b.PublishControl(context.Background(), models.ControlMessage{Action: models.ControlRevoke}))
	assert.Equal(t, 3, count)
}

type fixture struct {
	cfg        *config.Config
	store      *store.Store
	states     *taskstate.MemoryStore
	broker     *MemoryBroker
	dispatcher *Dispatcher
	recording  models.Recording

	mu        sync.Mutex
	published []models.Task
	control   []models.ControlMessage
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.OpenMemory(strings.ReplaceAll(t.Name(), "/", "_"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	db := st.DB()
	plant := models.Plant{Name: "plant"}
	require.NoError(t, db.Create(&plant).Error)
	zone := models.Zone{Name: "yard", PlantID: plant.ID}
	require.NoError(t, db.Create(&zone).Error)
	camera := models.Camera{Name: "cam", IPAddress: "rtsp://cam/2", ZoneID: zone.ID}
	require.NoError(t, db.Create(&camera).Error)
	dt := models.DetectionType{Name: "forklift", ModelPath: "forklift.onnx", TaskName: models.TaskNameProximity}
	require.NoError(t, db.Create(&dt).Error)
	rec := models.Recording{
		Name: "night", StartTime: time.Now(), Status: true,
		ZoneID: zone.ID, CameraID: camera.ID, DetectionTypeID: dt.ID,
	}
	require.NoError(t, db.Create(&rec).Error)

	cfg := &config.Config{
		WorkerID:        "worker-test",
		RetryBackoffMin: 5 * time.Millisecond,
		RetryBackoffMax: 20 * time.Millisecond,
		RetryMultiplier: 2,
	}

	f := &fixture{
		cfg:       cfg,
		store:     st,
		states:    taskstate.NewMemoryStore(time.Hour),
		broker:    NewMemoryBroker(),
		recording: rec,
	}
	_, err = f.broker.SubscribeTasks(func(task models.Task) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.published = append(f.published, task)
	})
	require.NoError(t, err)
	_, err = f.broker.SubscribeControl(func(msg models.ControlMessage) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.control = append(f.control, msg)
	})
	require.NoError(t, err)

	f.dispatcher = New(cfg, st, f.states, f.broker)
	t.Cleanup(func() { _ = f.dispatcher.Close() })
	return f
}

func (f *fixture) publishedTasks() []models.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Task(nil), f.published...)
}

func TestEnqueueRecordingPublishesPendingTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, err := f.dispatcher.EnqueueRecording(ctx, f.recording.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, "forklift.onnx", task.ModelPath)
	assert.Equal(t, f.recording.CameraID, task.CameraID)

	require.Len(t, f.publishedTasks(), 1)

	state, err := f.dispatcher.State(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskPending, state.Status)

	sess := f.store.NewSession(ctx)
	defer sess.Close()
	rec, err := sess.GetRecordingByID(f.recording.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, rec.TaskID)
}

func TestEnqueueUnknownRecording(t *testing.T) {
	f := newFixture(t)
	_, err := f.dispatcher.Enqueue(context.Background(), 1, "m.onnx", 999)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, f.publishedTasks())
}

func TestRetryRepublishesAfterBackoff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task, err := f.dispatcher.Enqueue(ctx, f.recording.CameraID, "forklift.onnx", f.recording.ID)
	require.NoError(t, err)

	delay, err := f.dispatcher.Retry(ctx, task, errors.New("stream dropped"))
	require.NoError(t, err)
	assert.Equal(t, 5*time.Millisecond, delay)

	state, err := f.dispatcher.State(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskRetry, state.Status)
	assert.Equal(t, "stream dropped", state.Error)
	require.NotNil(t, state.NextRetryAt)

	require.Eventually(t, func() bool { return len(f.publishedTasks()) == 2 }, time.Second, time.Millisecond)
	retried := f.publishedTasks()[1]
	assert.Equal(t, task.ID, retried.ID)
	assert.Equal(t, 1, retried.Attempt)
	assert.Equal(t, "stream dropped", retried.LastError)
	assert.Equal(t, task.RecordingID, retried.RecordingID)
}

func TestRetryHonoursMaxAttempts(t *testing.T) {
	f := newFixture(t)
	f.cfg.RetryMaxAttempts = 2
	ctx := context.Background()

	task := models.Task{ID: "t-max", RecordingID: f.recording.ID, Attempt: 2}
	_, err := f.dispatcher.Retry(ctx, task, errors.New("boom"))
	assert.ErrorIs(t, err, ErrAttemptsExhausted)

	state, err := f.dispatcher.State(ctx, "t-max")
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailure, state.Status)
	assert.Zero(t, f.dispatcher.Pending())
}

func TestRetrySkipsRevokedTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task, err := f.dispatcher.Enqueue(ctx, f.recording.CameraID, "forklift.onnx", f.recording.ID)
	require.NoError(t, err)

	require.NoError(t, f.dispatcher.Revoke(ctx, task.ID))
	_, err = f.dispatcher.Retry(ctx, task, errors.New("boom"))
	assert.ErrorIs(t, err, ErrRevoked)
	assert.Zero(t, f.dispatcher.Pending())
}

func TestRetrySkipsClosedRecording(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := models.Task{ID: "t-closed", RecordingID: f.recording.ID}

	sess := f.store.NewSession(ctx)
	require.NoError(t, sess.CloseRecording(f.recording.ID, time.Now()))
	sess.Close()

	_, err := f.dispatcher.Retry(ctx, task, errors.New("boom"))
	assert.ErrorIs(t, err, ErrRecordingClosed)
	assert.Empty(t, f.publishedTasks())
}

func TestStopRecordingRevokesAndCancelsPendingRetry(t *testing.T) {
	f := newFixture(t)
	f.cfg.RetryBackoffMin = time.Hour
	f.cfg.RetryBackoffMax = time.Hour
	f.dispatcher.backoff = BackoffFromConfig(f.cfg)
	ctx := context.Background()

	task, err := f.dispatcher.EnqueueRecording(ctx, f.recording.ID)
	require.NoError(t, err)
	_, err = f.dispatcher.Retry(ctx, task, errors.New("boom"))
	require.NoError(t, err)
	assert.Equal(t, 1, f.dispatcher.Pending())

	require.NoError(t, f.dispatcher.StopRecording(ctx, f.recording.ID))
	assert.Zero(t, f.dispatcher.Pending())

	state, err := f.dispatcher.State(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskRevoked, state.Status)

	f.mu.Lock()
	require.Len(t, f.control, 1)
	assert.Equal(t, task.ID, f.control[0].TaskID)
	assert.Equal(t, models.ControlRevoke, f.control[0].Action)
	f.mu.Unlock()

	_, err = f.dispatcher.EnqueueRecording(ctx, f.recording.ID)
	assert.ErrorIs(t, err, ErrRecordingClosed)
}

func TestCloseDropsScheduledRetries(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.backoff = Backoff{Min: time.Hour, Max: time.Hour, Multiplier: 1}
	ctx := context.Background()

	task := models.Task{ID: "t-close", RecordingID: f.recording.ID}
	_, err := f.dispatcher.Retry(ctx, task, errors.New("boom"))
	require.NoError(t, err)

	require.NoError(t, f.dispatcher.Close())
	assert.Zero(t, f.dispatcher.Pending())
	assert.Empty(t, f.publishedTasks())
}
