package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
)

// SystemHandler handles system-related endpoints
type SystemHandler struct {
	WorkerID string
	started  time.Time
	running  func() int
	pending  func() int
}

// NewSystemHandler reports running tasks and retries waiting for their
// backoff through the given counters. Either may be nil.
func NewSystemHandler(workerID string, running, pending func() int) *SystemHandler {
	return &SystemHandler{WorkerID: workerID, started: time.Now(), running: running, pending: pending}
}

// @Summary Get system stats
// @Description Get process statistics, running tasks and pending retries
// @Tags system
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /system/stats [get]
func (h *SystemHandler) GetStats(c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	running, pending := 0, 0
	if h.running != nil {
		running = h.running()
	}
	if h.pending != nil {
		pending = h.pending()
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"stats": gin.H{
			"worker_id":       h.WorkerID,
			"uptime_seconds":  int64(time.Since(h.started).Seconds()),
			"memory_mb":       m.Alloc / 1024 / 1024,
			"cpu_cores":       runtime.NumCPU(),
			"goroutines":      runtime.NumGoroutine(),
			"go_version":      runtime.Version(),
			"running_tasks":   running,
			"pending_retries": pending,
		},
		"timestamp": time.Now().Unix(),
	})
}
