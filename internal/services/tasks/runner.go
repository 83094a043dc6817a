package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"safety-worker-go/internal/config"
	"safety-worker-go/internal/logging"
	"safety-worker-go/internal/metrics"
	"safety-worker-go/internal/models"
	"safety-worker-go/internal/services/frameprocessing"
	"safety-worker-go/internal/services/postprocessing"
	"safety-worker-go/internal/services/strategy"
	"safety-worker-go/internal/services/streamcapture"
	"safety-worker-go/internal/store"
)

// Session is the per-task database session.
type Session interface {
	GetCameraByID(id uint) (*models.Camera, error)
	GetRecordingByID(id uint) (*models.Recording, error)
	GetZoneConfidenceLevel(cameraID uint, fallback float64) (float64, error)
	GetZoneScenarioClassNames(recordingID uint) ([]string, error)
	postprocessing.IncidentStore
	Close() error
}

type SessionFactory func(ctx context.Context) Session

// StoreSessions opens a fresh session on st for every task.
func StoreSessions(st *store.Store) SessionFactory {
	return func(ctx context.Context) Session { return st.NewSession(ctx) }
}

type DetectorFactory func(modelPath string, cameraID uint) (frameprocessing.Detector, error)

// Renderer draws on frames and encodes them as snapshots.
type Renderer interface {
	Draw(frame models.Frame, annotations []models.Annotation) error
	Encode(frame models.Frame) ([]byte, error)
}

type Deps struct {
	Sessions  SessionFactory
	Opener    streamcapture.Opener
	Detectors DetectorFactory
	Renderer  Renderer
	Gate      *postprocessing.Service
	Metrics   *metrics.WorkerMetrics
	// Now stamps incidents. Defaults to time.Now.
	Now func() time.Time
}

// Runner executes detection tasks. One Runner serves every task in the
// process; per-task resources live only inside Run.
type Runner struct {
	cfg  *config.Config
	deps Deps
	log  zerolog.Logger
}

func NewRunner(cfg *config.Config, deps Deps) (*Runner, error) {
	switch {
	case deps.Sessions == nil:
		return nil, fmt.Errorf("session factory is required")
	case deps.Opener == nil:
		return nil, fmt.Errorf("video opener is required")
	case deps.Detectors == nil:
		return nil, fmt.Errorf("detector factory is required")
	case deps.Renderer == nil:
		return nil, fmt.Errorf("renderer is required")
	case deps.Gate == nil:
		return nil, fmt.Errorf("incident gate is required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Runner{cfg: cfg, deps: deps, log: logging.NewServiceLogger(cfg, "tasks")}, nil
}

// setup is everything resolved in STARTING.
type setup struct {
	camera    *models.Camera
	recording *models.Recording
	threshold float64
	kind      strategy.Kind
	strategy  strategy.Strategy
	settings  strategy.Settings
	modelPath string
}

// Run executes task until ctx is cancelled or a failure occurs. It returns
// nil when a containment task exhausts a file source, ctx's error when
// stopped, and any other error for the caller to retry. The session,
// detector and source are released on every path.
func (r *Runner) Run(ctx context.Context, task models.Task, status *Status) (err error) {
	if status == nil {
		status = NewStatus(task)
	}
	logger := logging.WithRecording(logging.WithTask(r.log, task.ID), task.RecordingID)
	status.setState(StateStarting)

	r.deps.Metrics.TaskStarted()
	defer r.deps.Metrics.TaskFinished()

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("task panic: %v", rec)
			logger.Error().Interface("panic", rec).Msg("Task loop panic recovered")
		}
		switch {
		case err == nil || errors.Is(err, context.Canceled):
			status.setState(StateStopped)
		default:
			status.setError(err)
			status.setState(StateRetrying)
		}
	}()

	sess := r.deps.Sessions(ctx)
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			logger.Warn().Err(cerr).Msg("Failed to close session")
		}
	}()

	su, err := r.start(sess, task)
	if err != nil {
		return err
	}
	status.setStrategy(su.kind.String())

	detector, err := r.deps.Detectors(su.modelPath, task.CameraID)
	if err != nil {
		return fmt.Errorf("load model %s: %w", su.modelPath, err)
	}
	defer func() {
		if cerr := detector.Close(); cerr != nil {
			logger.Warn().Err(cerr).Msg("Failed to close detector")
		}
	}()

	src, err := streamcapture.Open(ctx, r.deps.Opener, su.camera.IPAddress, su.settings.FallbackVideo, streamcapture.Options{
		MaxRetries: r.cfg.SourceRetries,
		RetryDelay: r.cfg.SourceRetryDelay,
		Width:      r.cfg.FrameWidth,
		Height:     r.cfg.FrameHeight,
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			logger.Warn().Err(cerr).Msg("Failed to release video source")
		}
	}()
	status.setSource(src.Address())

	logger.Info().
		Str("strategy", su.kind.String()).
		Str("source", src.Address()).
		Float64("threshold", su.threshold).
		Int("frame_interval", su.settings.FrameInterval).
		Int("attempt", task.Attempt).
		Msg("Task loop running")
	status.setState(StateRunning)

	return r.loop(ctx, logger, sess, task, su, detector, src, status)
}

func (r *Runner) start(sess Session, task models.Task) (*setup, error) {
	camera, err := sess.GetCameraByID(task.CameraID)
	if err != nil {
		return nil, err
	}
	recording, err := sess.GetRecordingByID(task.RecordingID)
	if err != nil {
		return nil, err
	}

	threshold, ok := recording.ConfidenceOverride()
	if !ok {
		threshold, err = sess.GetZoneConfidenceLevel(task.CameraID, r.cfg.DefaultConfidence)
		if err != nil {
			return nil, err
		}
	}

	kind, err := strategy.KindFor(recording.DetectionType)
	if err != nil {
		return nil, err
	}

	opts := strategy.Options{ProximityThresholdPx: r.cfg.ProximityThresholdPx}
	if kind == strategy.KindContainment {
		if opts.ScenarioClasses, err = sess.GetZoneScenarioClassNames(task.RecordingID); err != nil {
			return nil, err
		}
	}
	strat, err := strategy.New(kind, opts)
	if err != nil {
		return nil, err
	}

	modelPath := task.ModelPath
	if modelPath == "" {
		modelPath = recording.DetectionType.ModelPath
	}

	return &setup{
		camera:    camera,
		recording: recording,
		threshold: threshold,
		kind:      kind,
		strategy:  strat,
		settings:  strategy.SettingsFor(kind, r.cfg),
		modelPath: modelPath,
	}, nil
}

func (r *Runner) loop(
	ctx context.Context,
	logger zerolog.Logger,
	sess Session,
	task models.Task,
	su *setup,
	detector frameprocessing.Detector,
	src *streamcapture.Source,
	status *Status,
) error {
	scope := postprocessing.Scope{
		RecordingID: task.RecordingID,
		CameraID:    task.CameraID,
		TaskID:      task.ID,
		Strategy:    su.kind.String(),
	}

	var frameCount int64
	for {
		if err := ctx.Err(); err != nil {
			logger.Info().Int64("frames", frameCount).Msg("Task loop stopped")
			return err
		}
		started := time.Now()

		frame, err := src.ReadFrame()
		if err != nil {
			if su.settings.EndOnEOF && errors.Is(err, streamcapture.ErrEndOfStream) {
				logger.Info().Int64("frames", frameCount).Msg("Video file finished")
				return nil
			}
			return err
		}
		frameCount++

		if su.settings.FrameInterval > 1 && frameCount%int64(su.settings.FrameInterval) != 0 {
			_ = frame.Close()
			continue
		}

		candidates, dropped, err := r.processFrame(ctx, logger, sess, scope, su, detector, frame, status)
		_ = frame.Close()
		if err != nil {
			// Remote detectors report a cancelled call as their own error.
			if cerr := ctx.Err(); cerr != nil {
				logger.Info().Int64("frames", frameCount).Msg("Task loop stopped")
				return cerr
			}
			return err
		}

		elapsed := time.Since(started)
		r.deps.Metrics.RecordFrame(scope.Strategy, elapsed, candidates, dropped)
		if err := sleepCtx(ctx, r.cfg.FrameBudget-elapsed); err != nil {
			logger.Info().Int64("frames", frameCount).Msg("Task loop stopped")
			return err
		}
	}
}

func (r *Runner) processFrame(
	ctx context.Context,
	logger zerolog.Logger,
	sess Session,
	scope postprocessing.Scope,
	su *setup,
	detector frameprocessing.Detector,
	frame models.Frame,
	status *Status,
) (int, int, error) {
	raw, err := detector.Detect(ctx, frame)
	if err != nil {
		return 0, 0, fmt.Errorf("detect: %w", err)
	}
	status.frames.Add(1)

	res := su.strategy.Evaluate(raw, su.threshold)
	if res.SkipFrame || len(res.Candidates) == 0 {
		return 0, res.Dropped, nil
	}

	drawn := false
	for _, c := range res.Candidates {
		snapshot := func() ([]byte, error) {
			if !drawn {
				if err := r.deps.Renderer.Draw(frame, res.Annotations); err != nil {
					return nil, err
				}
				drawn = true
			}
			if err := r.deps.Renderer.Draw(frame, c.Annotations); err != nil {
				return nil, err
			}
			return r.deps.Renderer.Encode(frame)
		}

		outcome, err := r.deps.Gate.Process(logger, sess, scope, c, r.deps.Now(), snapshot)
		if err != nil {
			return len(res.Candidates), res.Dropped, err
		}
		if outcome == postprocessing.Saved {
			status.incidents.Add(1)
		}
	}
	return len(res.Candidates), res.Dropped, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var _ Session = (*store.Session)(nil)
