package strategy

import (
	"fmt"
	"strings"

	"safety-worker-go/internal/config"
	"safety-worker-go/internal/models"
)

// Kind selects the post-processing algorithm a recording runs with.
type Kind int

const (
	KindUnknown Kind = iota
	KindProximity
	KindContainment
	KindThreshold
)

func (k Kind) String() string {
	switch k {
	case KindProximity:
		return "proximity"
	case KindContainment:
		return "containment"
	case KindThreshold:
		return "threshold"
	default:
		return "unknown"
	}
}

// TaskName is the queue task name the kind was historically dispatched as.
func (k Kind) TaskName() string {
	switch k {
	case KindProximity:
		return models.TaskNameProximity
	case KindContainment:
		return models.TaskNamePPE
	case KindThreshold:
		return models.TaskNamePallet
	default:
		return ""
	}
}

// KindFor resolves the kind from a detection type's task name, falling back
// to keywords in its display name.
func KindFor(dt models.DetectionType) (Kind, error) {
	switch strings.TrimSpace(dt.TaskName) {
	case models.TaskNameProximity:
		return KindProximity, nil
	case models.TaskNamePPE:
		return KindContainment, nil
	case models.TaskNamePallet:
		return KindThreshold, nil
	}

	name := strings.ToLower(dt.Name)
	switch {
	case strings.Contains(name, "forklift") || strings.Contains(name, "proximity"):
		return KindProximity, nil
	case strings.Contains(name, "ppe"):
		return KindContainment, nil
	case strings.Contains(name, "pallet"):
		return KindThreshold, nil
	}
	return KindUnknown, fmt.Errorf("no detection strategy for detection type %d (task %q, name %q)", dt.ID, dt.TaskName, dt.Name)
}

// Settings are the per-kind loop parameters.
type Settings struct {
	FallbackVideo string
	// FrameInterval processes every Nth frame; 1 processes all of them.
	FrameInterval int
	// EndOnEOF finishes the task when a file source runs out. Otherwise the
	// read failure is retried and the file replays.
	EndOnEOF bool
}

func SettingsFor(k Kind, cfg *config.Config) Settings {
	switch k {
	case KindProximity:
		return Settings{FallbackVideo: cfg.FallbackVideoProximity, FrameInterval: 1}
	case KindContainment:
		interval := cfg.PPEFrameInterval
		if interval < 1 {
			interval = 1
		}
		return Settings{FallbackVideo: cfg.FallbackVideoPPE, FrameInterval: interval, EndOnEOF: true}
	case KindThreshold:
		return Settings{FallbackVideo: cfg.FallbackVideoPallet, FrameInterval: 1}
	default:
		return Settings{FrameInterval: 1}
	}
}
