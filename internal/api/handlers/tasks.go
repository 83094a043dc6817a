package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"safety-worker-go/internal/logging"
	"safety-worker-go/internal/models"
	"safety-worker-go/internal/services/dispatch"
	"safety-worker-go/internal/services/tasks"
	"safety-worker-go/internal/services/taskstate"
	"safety-worker-go/internal/store"
)

type TaskDispatcher interface {
	EnqueueRecording(ctx context.Context, recordingID uint) (models.Task, error)
	StopRecording(ctx context.Context, recordingID uint) error
	Revoke(ctx context.Context, taskID string) error
	State(ctx context.Context, taskID string) (models.TaskState, error)
	States(ctx context.Context) ([]models.TaskState, error)
	Pending() int
}

type RunningTasks interface {
	Running() []tasks.Info
	Get(taskID string) (tasks.Info, bool)
}

type TaskHandler struct {
	dispatcher TaskDispatcher
	pool       RunningTasks
}

func NewTaskHandler(dispatcher TaskDispatcher, pool RunningTasks) *TaskHandler {
	return &TaskHandler{dispatcher: dispatcher, pool: pool}
}

type ErrorResponse struct {
	Error string `json:"error" example:"recording 4: record not found"`
}

type DispatchRequest struct {
	RecordingID uint `json:"recording_id" binding:"required" example:"4"`
}

type TaskListResponse struct {
	Running []tasks.Info       `json:"running"`
	States  []models.TaskState `json:"states"`
}

type TaskResponse struct {
	State   models.TaskState `json:"state"`
	Running *tasks.Info      `json:"running,omitempty"`
}

// ListTasks godoc
// @Summary List tasks
// @Description Tasks running on this worker and the recorded state of all tasks
// @Tags tasks
// @Produce json
// @Success 200 {object} TaskListResponse
// @Failure 500 {object} ErrorResponse
// @Router /tasks [get]
func (h *TaskHandler) ListTasks(c *gin.Context) {
	states, err := h.dispatcher.States(c.Request.Context())
	if err != nil {
		logging.Error(c).Err(err).Msg("Failed to list task states")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, TaskListResponse{Running: h.pool.Running(), States: states})
}

// GetTask godoc
// @Summary Get a task
// @Tags tasks
// @Produce json
// @Param id path string true "Task ID"
// @Success 200 {object} TaskResponse
// @Failure 404 {object} ErrorResponse
// @Router /tasks/{id} [get]
func (h *TaskHandler) GetTask(c *gin.Context) {
	id := c.Param("id")
	logging.SetTaskID(c, id)

	state, err := h.dispatcher.State(c.Request.Context(), id)
	if err != nil {
		c.JSON(statusFor(err), ErrorResponse{Error: err.Error()})
		return
	}

	resp := TaskResponse{State: state}
	if info, ok := h.pool.Get(id); ok {
		resp.Running = &info
	}
	c.JSON(http.StatusOK, resp)
}

// DispatchTask godoc
// @Summary Dispatch a recording
// @Description Enqueue a detection task for an active recording
// @Tags tasks
// @Accept json
// @Produce json
// @Param request body DispatchRequest true "Recording to dispatch"
// @Success 202 {object} models.Task
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /tasks [post]
func (h *TaskHandler) DispatchTask(c *gin.Context) {
	var req DispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	task, err := h.dispatcher.EnqueueRecording(c.Request.Context(), req.RecordingID)
	if err != nil {
		logging.Error(c).Err(err).Uint("recording_id", req.RecordingID).Msg("Failed to dispatch recording")
		c.JSON(statusFor(err), ErrorResponse{Error: err.Error()})
		return
	}

	logging.SetTaskID(c, task.ID)
	logging.Info(c).Uint("recording_id", req.RecordingID).Msg("Recording dispatched")
	c.JSON(http.StatusAccepted, task)
}

// StopTask godoc
// @Summary Stop a task
// @Description Close the task's recording and revoke the task on every worker
// @Tags tasks
// @Produce json
// @Param id path string true "Task ID"
// @Success 202 {object} map[string]string
// @Failure 404 {object} ErrorResponse
// @Router /tasks/{id}/stop [post]
func (h *TaskHandler) StopTask(c *gin.Context) {
	id := c.Param("id")
	logging.SetTaskID(c, id)
	ctx := c.Request.Context()

	state, err := h.dispatcher.State(ctx, id)
	if err != nil {
		c.JSON(statusFor(err), ErrorResponse{Error: err.Error()})
		return
	}

	if state.RecordingID != 0 {
		err = h.dispatcher.StopRecording(ctx, state.RecordingID)
	} else {
		err = h.dispatcher.Revoke(ctx, id)
	}
	if err != nil {
		logging.Error(c).Err(err).Msg("Failed to stop task")
		c.JSON(statusFor(err), ErrorResponse{Error: err.Error()})
		return
	}

	logging.Info(c).Uint("recording_id", state.RecordingID).Msg("Task stop requested")
	c.JSON(http.StatusAccepted, gin.H{"status": "stopping", "task_id": id})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, taskstate.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, dispatch.ErrRecordingClosed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
