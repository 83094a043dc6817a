package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"gorm.io/gorm"

	"safety-worker-go/internal/models"
)

// Session is the database handle owned by one task or request. It is bound
// to the caller's context and must be closed on every exit path.
type Session struct {
	db     *gorm.DB
	closed atomic.Bool
}

// NewSession opens a session bound to ctx.
func (s *Store) NewSession(ctx context.Context) *Session {
	return &Session{db: s.db.WithContext(ctx).Session(&gorm.Session{})}
}

// Close releases the session. Later calls fail with ErrSessionClosed.
func (s *Session) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *Session) conn() (*gorm.DB, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}
	return s.db, nil
}

func notFound(err error, what string, id uint) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
	}
	return fmt.Errorf("failed to load %s %d: %w", what, id, err)
}

// GetCameraByID loads a camera with its zone and plant.
func (s *Session) GetCameraByID(id uint) (*models.Camera, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	var camera models.Camera
	if err := db.Preload("Zone.Plant").First(&camera, id).Error; err != nil {
		return nil, notFound(err, "camera", id)
	}
	return &camera, nil
}

// GetRecordingByID loads a recording with its detection type.
func (s *Session) GetRecordingByID(id uint) (*models.Recording, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	var recording models.Recording
	if err := db.Preload("DetectionType").First(&recording, id).Error; err != nil {
		return nil, notFound(err, "recording", id)
	}
	return &recording, nil
}

func (s *Session) GetDetectionTypeByID(id uint) (*models.DetectionType, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	var dt models.DetectionType
	if err := db.First(&dt, id).Error; err != nil {
		return nil, notFound(err, "detection type", id)
	}
	return &dt, nil
}

// GetZoneConfidenceLevel resolves the camera's zone confidence, then the
// plant's, then fallback.
func (s *Session) GetZoneConfidenceLevel(cameraID uint, fallback float64) (float64, error) {
	camera, err := s.GetCameraByID(cameraID)
	if err != nil {
		return 0, err
	}
	return camera.Zone.EffectiveConfidence(fallback), nil
}

// GetZoneScenarioClassNames returns the lowercased scenario names attached
// to a recording.
func (s *Session) GetZoneScenarioClassNames(recordingID uint) ([]string, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	var names []string
	err = db.Model(&models.RecordingScenario{}).
		Select("scenarios.name").
		Joins("JOIN scenarios ON scenarios.id = recording_scenarios.scenario_id").
		Where("recording_scenarios.recording_id = ?", recordingID).
		Order("recording_scenarios.id").
		Pluck("scenarios.name", &names).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load scenarios for recording %d: %w", recordingID, err)
	}
	for i, n := range names {
		names[i] = strings.ToLower(n)
	}
	return names, nil
}

// SaveIncident writes one incident inside a transaction. Timestamps are
// stored in UTC. Failures roll back and wrap ErrPersistence.
func (s *Session) SaveIncident(incident *models.Incident) error {
	db, err := s.conn()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	incident.Timestamp = incident.Timestamp.UTC()
	err = db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(incident).Error
	})
	if err != nil {
		return fmt.Errorf("%w: incident for recording %d: %w", ErrPersistence, incident.RecordingID, err)
	}
	return nil
}

// LastIncidentTime returns the newest incident timestamp for a recording
// and class label. ok is false when there is none.
func (s *Session) LastIncidentTime(recordingID uint, className string) (time.Time, bool, error) {
	db, err := s.conn()
	if err != nil {
		return time.Time{}, false, err
	}
	var incident models.Incident
	err = db.Select("id", "timestamp").
		Where("recording_id = ? AND class_name = ?", recordingID, className).
		Order("timestamp DESC").
		Take(&incident).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to look up last incident: %w", err)
	}
	return incident.Timestamp, true, nil
}

// ListIncidents returns the newest incidents of a recording without their
// snapshots.
func (s *Session) ListIncidents(recordingID uint, limit int) ([]models.Incident, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	var incidents []models.Incident
	err = db.Omit("frame").
		Where("recording_id = ?", recordingID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&incidents).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	return incidents, nil
}

// GetIncidentSnapshot returns the stored JPEG of an incident.
func (s *Session) GetIncidentSnapshot(id uint) ([]byte, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	var incident models.Incident
	if err := db.Select("id", "frame").First(&incident, id).Error; err != nil {
		return nil, notFound(err, "incident", id)
	}
	return incident.Frame, nil
}

func (s *Session) UpdateRecordingTaskID(recordingID uint, taskID string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	res := db.Model(&models.Recording{}).Where("id = ?", recordingID).Update("task_id", taskID)
	if res.Error != nil {
		return fmt.Errorf("failed to set task id on recording %d: %w", recordingID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("recording %d: %w", recordingID, ErrNotFound)
	}
	return nil
}

// CloseRecording sets the end time and clears the active flag.
func (s *Session) CloseRecording(recordingID uint, at time.Time) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	end := at.UTC()
	res := db.Model(&models.Recording{}).Where("id = ?", recordingID).
		Updates(map[string]interface{}{"end_time": &end, "status": false})
	if res.Error != nil {
		return fmt.Errorf("failed to close recording %d: %w", recordingID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("recording %d: %w", recordingID, ErrNotFound)
	}
	return nil
}

func (s *Session) IsRecordingActive(recordingID uint) (bool, error) {
	db, err := s.conn()
	if err != nil {
		return false, err
	}
	var recording models.Recording
	if err := db.Select("id", "status").First(&recording, recordingID).Error; err != nil {
		return false, notFound(err, "recording", recordingID)
	}
	return recording.Status, nil
}
