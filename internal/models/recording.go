package models

import "time"

// Task names stored on DetectionType rows. They select the detection
// strategy a recording runs with.
const (
	TaskNameProximity = "run_proximity_detection"
	TaskNamePPE       = "run_ppe_detection"
	TaskNamePallet    = "run_pallet_detection"
)

// DetectionType describes a model and the task that runs it.
type DetectionType struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	Name      string `gorm:"size:255;not null" json:"name"`
	ModelPath string `gorm:"size:1024" json:"model_path"`
	TaskName  string `gorm:"size:255" json:"task_name"`
}

// Scenario is a PPE class a recording requires (helmet, vest, ...).
type Scenario struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"size:255;not null" json:"name"`
}

type RecordingScenario struct {
	ID          uint `gorm:"primaryKey"`
	RecordingID uint `gorm:"index"`
	ScenarioID  uint `gorm:"index"`
	Scenario    Scenario
}

// Recording is one monitoring session of a camera with a detection type.
// Confidence is a percentage (0-100); nil or zero defers to the zone.
type Recording struct {
	ID              uint          `gorm:"primaryKey" json:"id"`
	Name            string        `gorm:"size:255" json:"name"`
	StartTime       time.Time     `json:"start_time"`
	EndTime         *time.Time    `json:"end_time,omitempty"`
	Status          bool          `gorm:"index" json:"status"`
	TaskID          string        `gorm:"size:64" json:"task_id"`
	Confidence      *int          `json:"confidence,omitempty"`
	ZoneID          uint          `json:"zone_id"`
	AssigneeID      *uint         `json:"assignee_id,omitempty"`
	CameraID        uint          `gorm:"index" json:"camera_id"`
	Camera          Camera        `json:"-"`
	DetectionTypeID uint          `json:"detection_type_id"`
	DetectionType   DetectionType `json:"-"`
}

// ConfidenceOverride returns the recording's own threshold as a fraction.
func (r Recording) ConfidenceOverride() (float64, bool) {
	if r.Confidence == nil || *r.Confidence <= 0 {
		return 0, false
	}
	return float64(*r.Confidence) / 100, true
}

// Incident is one accepted detection event with its snapshot.
type Incident struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Timestamp   time.Time `gorm:"index:idx_incident_lookup,priority:3" json:"timestamp"`
	ClassName   string    `gorm:"size:512;index:idx_incident_lookup,priority:2" json:"class_name"`
	Confidence  float64   `json:"confidence"`
	BBox        string    `gorm:"column:bbox;size:255" json:"bbox"`
	Frame       []byte    `json:"-"`
	RecordingID uint      `gorm:"index:idx_incident_lookup,priority:1" json:"recording_id"`
}
