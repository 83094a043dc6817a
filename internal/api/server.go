package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"safety-worker-go/internal/api/handlers"
	"safety-worker-go/internal/config"
	"safety-worker-go/internal/store"
)

// Deps are the services the HTTP surface reads and drives.
type Deps struct {
	Dispatcher handlers.TaskDispatcher
	Pool       handlers.RunningTasks
	Store      *store.Store
	Gatherer   prometheus.Gatherer
	Checks     map[string]handlers.Check
}

type Server struct {
	config   *config.Config
	router   *gin.Engine
	server   *http.Server
	gatherer prometheus.Gatherer

	healthHandler   *handlers.HealthHandler
	systemHandler   *handlers.SystemHandler
	taskHandler     *handlers.TaskHandler
	incidentHandler *handlers.IncidentHandler
}

func NewServer(cfg *config.Config, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		config:          cfg,
		router:          gin.New(),
		gatherer:        deps.Gatherer,
		healthHandler:   handlers.NewHealthHandler(cfg.WorkerID, cfg.Version, deps.Checks),
		systemHandler:   handlers.NewSystemHandler(cfg.WorkerID, func() int { return len(deps.Pool.Running()) }, deps.Dispatcher.Pending),
		taskHandler:     handlers.NewTaskHandler(deps.Dispatcher, deps.Pool),
		incidentHandler: handlers.NewIncidentHandler(deps.Store),
	}

	s.setupMiddleware()
	s.setupRoutes()
	s.setupSwagger()

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: s.router,
	}
	return s
}

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	log.Info().Int("port", s.config.Port).Msg("Starting safety worker API")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Stopping safety worker API")
	return s.server.Shutdown(ctx)
}

func (s *Server) Handler() http.Handler {
	return s.router
}
