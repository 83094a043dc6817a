package tasks

import (
	"sync"
	"sync/atomic"
	"time"

	"safety-worker-go/internal/models"
)

// State is where a task loop is in its lifecycle.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateRetrying
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateRetrying:
		return "retrying"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Status is the live view of one running task, read by the HTTP API while
// the loop updates it.
type Status struct {
	task      models.Task
	startedAt time.Time

	state     int32
	frames    atomic.Int64
	incidents atomic.Int64

	mu       sync.RWMutex
	strategy string
	source   string
	lastErr  string
}

func NewStatus(task models.Task) *Status {
	return &Status{task: task, startedAt: time.Now().UTC()}
}

func (s *Status) setState(state State) {
	atomic.StoreInt32(&s.state, int32(state))
}

func (s *Status) State() State {
	return State(atomic.LoadInt32(&s.state))
}

func (s *Status) Task() models.Task { return s.task }

func (s *Status) setStrategy(name string) {
	s.mu.Lock()
	s.strategy = name
	s.mu.Unlock()
}

func (s *Status) setSource(address string) {
	s.mu.Lock()
	s.source = address
	s.mu.Unlock()
}

func (s *Status) setError(err error) {
	s.mu.Lock()
	s.lastErr = err.Error()
	s.mu.Unlock()
}

// Info is a point in time copy of a Status.
type Info struct {
	TaskID      string    `json:"task_id"`
	RecordingID uint      `json:"recording_id"`
	CameraID    uint      `json:"camera_id"`
	Attempt     int       `json:"attempt"`
	State       string    `json:"state"`
	Strategy    string    `json:"strategy,omitempty"`
	Source      string    `json:"source,omitempty"`
	Frames      int64     `json:"frames"`
	Incidents   int64     `json:"incidents"`
	LastError   string    `json:"last_error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
}

func (s *Status) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Info{
		TaskID:      s.task.ID,
		RecordingID: s.task.RecordingID,
		CameraID:    s.task.CameraID,
		Attempt:     s.task.Attempt,
		State:       s.State().String(),
		Strategy:    s.strategy,
		Source:      s.source,
		Frames:      s.frames.Load(),
		Incidents:   s.incidents.Load(),
		LastError:   s.lastErr,
		StartedAt:   s.startedAt,
	}
}
