package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"safety-worker-go/internal/logging"
	"safety-worker-go/internal/models"
	"safety-worker-go/internal/store"
)

const (
	defaultIncidentLimit = 50
	maxIncidentLimit     = 500
)

type IncidentHandler struct {
	store *store.Store
}

func NewIncidentHandler(st *store.Store) *IncidentHandler {
	return &IncidentHandler{store: st}
}

type IncidentListResponse struct {
	RecordingID uint              `json:"recording_id"`
	Incidents   []models.Incident `json:"incidents"`
}

// ListIncidents godoc
// @Summary List incidents of a recording
// @Description Newest first, without snapshots
// @Tags incidents
// @Produce json
// @Param id path int true "Recording ID"
// @Param limit query int false "Maximum incidents" default(50)
// @Success 200 {object} IncidentListResponse
// @Failure 400 {object} ErrorResponse
// @Router /recordings/{id}/incidents [get]
func (h *IncidentHandler) ListIncidents(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	limit := defaultIncidentLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxIncidentLimit)
	}

	sess := h.store.NewSession(c.Request.Context())
	defer sess.Close()

	incidents, err := sess.ListIncidents(id, limit)
	if err != nil {
		logging.Error(c).Err(err).Uint("recording_id", id).Msg("Failed to list incidents")
		c.JSON(statusFor(err), ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, IncidentListResponse{RecordingID: id, Incidents: incidents})
}

// GetSnapshot godoc
// @Summary Incident snapshot
// @Description The annotated JPEG stored with an incident
// @Tags incidents
// @Produce jpeg
// @Param id path int true "Incident ID"
// @Success 200 {file} binary
// @Failure 404 {object} ErrorResponse
// @Router /incidents/{id}/snapshot [get]
func (h *IncidentHandler) GetSnapshot(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}

	sess := h.store.NewSession(c.Request.Context())
	defer sess.Close()

	frame, err := sess.GetIncidentSnapshot(id)
	if err != nil {
		c.JSON(statusFor(err), ErrorResponse{Error: err.Error()})
		return
	}
	if len(frame) == 0 {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "incident has no snapshot"})
		return
	}
	c.Data(http.StatusOK, "image/jpeg", frame)
}

func uintParam(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: name + " must be a positive integer"})
		return 0, false
	}
	return uint(v), true
}
