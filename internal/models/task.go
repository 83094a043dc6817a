package models

import "time"

// Task is the payload placed on the task queue. The same
// (CameraID, ModelPath, RecordingID) triple is redelivered on every retry.
type Task struct {
	ID          string    `json:"id"`
	CameraID    uint      `json:"camera_id"`
	ModelPath   string    `json:"model_path"`
	RecordingID uint      `json:"recording_id"`
	Attempt     int       `json:"attempt"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
	LastError   string    `json:"last_error,omitempty"`
}

// TaskStatus follows the usual result-backend vocabulary.
type TaskStatus string

const (
	TaskPending TaskStatus = "PENDING"
	TaskStarted TaskStatus = "STARTED"
	TaskRetry   TaskStatus = "RETRY"
	TaskSuccess TaskStatus = "SUCCESS"
	TaskFailure TaskStatus = "FAILURE"
	TaskRevoked TaskStatus = "REVOKED"
)

// Finished reports whether no further attempts will be made.
func (s TaskStatus) Finished() bool {
	switch s {
	case TaskSuccess, TaskFailure, TaskRevoked:
		return true
	default:
		return false
	}
}

// TaskState is the latest known state of a task.
type TaskState struct {
	TaskID      string     `json:"task_id"`
	RecordingID uint       `json:"recording_id"`
	CameraID    uint       `json:"camera_id"`
	Status      TaskStatus `json:"status"`
	Attempt     int        `json:"attempt"`
	Error       string     `json:"error,omitempty"`
	WorkerID    string     `json:"worker_id,omitempty"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ControlAction is sent to every worker on the control subject.
type ControlAction string

const (
	ControlRevoke ControlAction = "revoke"
)

type ControlMessage struct {
	Action      ControlAction `json:"action"`
	TaskID      string        `json:"task_id,omitempty"`
	RecordingID uint          `json:"recording_id,omitempty"`
}
