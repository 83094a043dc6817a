package postprocessing

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"safety-worker-go/internal/config"
	"safety-worker-go/internal/metrics"
	"safety-worker-go/internal/models"
	"safety-worker-go/internal/services/debounce"
)

// IncidentStore is the slice of a task's store session the gate needs.
type IncidentStore interface {
	debounce.LastSeenLookup
	SaveIncident(incident *models.Incident) error
}

// EventPublisher sends incident events to other services.
type EventPublisher interface {
	Publish(subject string, data interface{}) error
}

// Scope identifies the task a candidate came from.
type Scope struct {
	RecordingID uint
	CameraID    uint
	TaskID      string
	Strategy    string
}

type Outcome int

const (
	Suppressed Outcome = iota
	Saved
	// Dropped means the candidate was accepted but the write failed.
	Dropped
)

func (o Outcome) String() string {
	switch o {
	case Suppressed:
		return "suppressed"
	case Saved:
		return "saved"
	case Dropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Service decides which candidates become incidents. One instance, holding
// the process wide debounce cache, is shared by every task loop.
type Service struct {
	cache     *debounce.Cache
	window    time.Duration
	publisher EventPublisher
	subject   string
	workerID  string
	metrics   *metrics.WorkerMetrics
}

// NewService creates the incident gate. publisher and m may be nil.
func NewService(cfg *config.Config, cache *debounce.Cache, publisher EventPublisher, m *metrics.WorkerMetrics) (*Service, error) {
	if cache == nil {
		return nil, fmt.Errorf("debounce cache is required")
	}

	s := &Service{
		cache:     cache,
		window:    cfg.DebounceWindow,
		publisher: publisher,
		subject:   cfg.IncidentsSubject,
		workerID:  cfg.WorkerID,
		metrics:   m,
	}

	log.Info().
		Dur("debounce_window", s.window).
		Str("incidents_subject", s.subject).
		Bool("publishing", publisher != nil).
		Msg("Post-processing service initialized")

	return s, nil
}

func (s *Service) Cache() *debounce.Cache { return s.cache }

// Process runs one candidate through debounce and persistence. snapshot is
// called only for candidates that pass debounce. The returned error is
// reserved for failures the loop cannot continue past: a failed debounce
// lookup or snapshot. A failed write is logged and reported as Dropped.
func (s *Service) Process(
	logger zerolog.Logger,
	store IncidentStore,
	scope Scope,
	candidate models.Candidate,
	ts time.Time,
	snapshot func() ([]byte, error),
) (Outcome, error) {
	key := debounce.Key{RecordingID: scope.RecordingID, Label: candidate.Label}

	skip, err := s.cache.ShouldSkip(store, key, ts, s.window)
	if err != nil {
		return Suppressed, err
	}
	if skip {
		s.metrics.RecordSuppressed(scope.Strategy)
		logger.Debug().
			Str("class_name", candidate.Label).
			Msg("Skipping detection inside debounce window")
		return Suppressed, nil
	}

	frame, err := snapshot()
	if err != nil {
		return Suppressed, fmt.Errorf("snapshot for %s: %w", candidate.Label, err)
	}

	s.cache.Accept(key, ts)

	incident := &models.Incident{
		RecordingID: scope.RecordingID,
		ClassName:   candidate.Label,
		Confidence:  candidate.Confidence,
		BBox:        candidate.BBoxString(),
		Frame:       frame,
		Timestamp:   ts.UTC(),
	}
	if err := store.SaveIncident(incident); err != nil {
		s.metrics.RecordPersistenceError(scope.Strategy)
		logger.Error().
			Err(err).
			Str("class_name", candidate.Label).
			Msg("Error saving incident")
		return Dropped, nil
	}

	s.metrics.RecordSaved(scope.Strategy)
	logger.Info().
		Uint("incident_id", incident.ID).
		Str("class_name", incident.ClassName).
		Float64("confidence", incident.Confidence).
		Int("snapshot_bytes", len(frame)).
		Msg("Incident saved")

	s.publish(logger, scope, candidate, incident)
	return Saved, nil
}

func (s *Service) publish(logger zerolog.Logger, scope Scope, candidate models.Candidate, incident *models.Incident) {
	if s.publisher == nil || s.subject == "" {
		return
	}
	event := models.IncidentEvent{
		IncidentID:   incident.ID,
		RecordingID:  scope.RecordingID,
		CameraID:     scope.CameraID,
		TaskID:       scope.TaskID,
		Strategy:     scope.Strategy,
		ClassName:    incident.ClassName,
		Confidence:   incident.Confidence,
		BBox:         incident.BBox,
		Missing:      candidate.Missing,
		SnapshotSize: len(incident.Frame),
		Timestamp:    incident.Timestamp,
		WorkerID:     s.workerID,
	}
	if err := s.publisher.Publish(s.subject, event); err != nil {
		logger.Warn().
			Err(err).
			Uint("incident_id", incident.ID).
			Msg("Failed to publish incident event")
	}
}
