package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) setupRoutes() {
	s.router.GET("/", s.healthHandler.WorkerInfo)
	s.router.GET("/health", s.healthHandler.HealthCheck)

	if s.gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	taskRoutes := s.router.Group("/tasks")
	{
		taskRoutes.GET("", s.taskHandler.ListTasks)
		taskRoutes.POST("", s.taskHandler.DispatchTask)
		taskRoutes.GET("/:id", s.taskHandler.GetTask)
		taskRoutes.POST("/:id/stop", s.taskHandler.StopTask)
	}

	s.router.GET("/recordings/:id/incidents", s.incidentHandler.ListIncidents)
	s.router.GET("/incidents/:id/snapshot", s.incidentHandler.GetSnapshot)

	s.router.GET("/system/stats", s.systemHandler.GetStats)
}
