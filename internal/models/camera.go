package models

import "time"

// Plant is the top of the site hierarchy. PlantConfidence is the last
// configurable fallback for a camera's detection threshold.
type Plant struct {
	ID              uint     `gorm:"primaryKey" json:"id"`
	Name            string   `gorm:"size:255;not null" json:"name"`
	Location        string   `gorm:"size:255" json:"location"`
	PlantConfidence *float64 `gorm:"column:plant_confidence" json:"plant_confidence,omitempty"`
	Status          bool     `gorm:"default:true" json:"status"`
	Zones           []Zone   `json:"-"`
}

// Zone groups cameras inside a plant.
type Zone struct {
	ID             uint     `gorm:"primaryKey" json:"id"`
	Name           string   `gorm:"size:255;not null" json:"name"`
	ZoneConfidence *float64 `gorm:"column:zone_confidence" json:"zone_confidence,omitempty"`
	Status         bool     `gorm:"default:true" json:"status"`
	PlantID        uint     `gorm:"index" json:"plant_id"`
	Plant          Plant    `json:"-"`
	Cameras        []Camera `json:"-"`
}

// Camera is a video source registered in a zone. IPAddress holds the live
// stream address (rtsp://, http://, or a device path).
type Camera struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:255" json:"name"`
	IPAddress string    `gorm:"column:ip_address;size:512;not null" json:"ip_address"`
	ZoneID    uint      `gorm:"index" json:"zone_id"`
	Zone      Zone      `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Assignee receives incidents raised on a recording.
type Assignee struct {
	ID    uint   `gorm:"primaryKey" json:"id"`
	Name  string `gorm:"size:255" json:"name"`
	Email string `gorm:"size:255" json:"email"`
	Phone string `gorm:"size:64" json:"phone"`
}

// confidenceSet mirrors the truthiness rule of the stored settings: an
// absent or zero confidence means "not configured".
func confidenceSet(v *float64) bool {
	return v != nil && *v > 0
}

// EffectiveConfidence resolves zone, then plant, then the given fallback.
func (z Zone) EffectiveConfidence(fallback float64) float64 {
	if confidenceSet(z.ZoneConfidence) {
		return *z.ZoneConfidence
	}
	if confidenceSet(z.Plant.PlantConfidence) {
		return *z.Plant.PlantConfidence
	}
	return fallback
}
