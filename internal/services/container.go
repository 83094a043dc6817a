package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"safety-worker-go/internal/config"
	"safety-worker-go/internal/metrics"
	"safety-worker-go/internal/services/debounce"
	"safety-worker-go/internal/services/dispatch"
	"safety-worker-go/internal/services/frameprocessing"
	"safety-worker-go/internal/services/messaging"
	"safety-worker-go/internal/services/postprocessing"
	"safety-worker-go/internal/services/streamcapture"
	"safety-worker-go/internal/services/tasks"
	"safety-worker-go/internal/services/taskstate"
	"safety-worker-go/internal/store"
	"safety-worker-go/internal/worker"
)

// ServiceContainer holds all services
type ServiceContainer struct {
	Config     *config.Config
	Store      *store.Store
	Registry   *prometheus.Registry
	Metrics    *metrics.WorkerMetrics
	Messaging  *messaging.Service
	States     taskstate.Store
	Dispatcher *dispatch.Dispatcher
	Runner     *tasks.Runner
	Pool       *worker.Pool
}

// NewServiceContainer connects the database, NATS and the task state
// backend and wires the task pipeline. Nothing consumes tasks until Start.
// With an empty NATS URL tasks only travel in process and incident events
// are not published.
func NewServiceContainer(ctx context.Context, cfg *config.Config) (sc *ServiceContainer, err error) {
	sc = &ServiceContainer{Config: cfg}
	defer func() {
		if err != nil {
			_ = sc.Shutdown(context.Background())
		}
	}()

	if sc.Store, err = store.Open(cfg); err != nil {
		return nil, err
	}

	sc.Registry = prometheus.NewRegistry()
	sc.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if sc.Metrics, err = metrics.NewWorkerMetrics(sc.Registry); err != nil {
		return nil, err
	}

	var (
		broker    dispatch.Broker
		publisher postprocessing.EventPublisher
	)
	if sc.Standalone() {
		log.Warn().Msg("No NATS URL configured, dispatching tasks in process")
		broker = dispatch.NewMemoryBroker()
	} else {
		if sc.Messaging, err = messaging.NewService(cfg); err != nil {
			return nil, err
		}
		broker = dispatch.NewNATSBroker(cfg, sc.Messaging)
		publisher = sc.Messaging
	}

	if sc.States, err = taskstate.New(ctx, cfg); err != nil {
		return nil, err
	}
	sc.Dispatcher = dispatch.New(cfg, sc.Store, sc.States, broker)

	gate, err := postprocessing.NewService(cfg, debounce.New(), publisher, sc.Metrics)
	if err != nil {
		return nil, err
	}
	sc.Runner, err = tasks.NewRunner(cfg, tasks.Deps{
		Sessions: tasks.StoreSessions(sc.Store),
		Opener:   streamcapture.GocvOpener{},
		Detectors: func(modelPath string, cameraID uint) (frameprocessing.Detector, error) {
			return frameprocessing.NewDetector(cfg, modelPath, cameraID)
		},
		Renderer: frameprocessing.NewRenderer(cfg.JPEGQuality),
		Gate:     gate,
		Metrics:  sc.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build task runner: %w", err)
	}

	sc.Pool = worker.New(cfg, sc.Runner, broker, sc.Dispatcher, sc.Metrics)
	return sc, nil
}

// Standalone reports whether tasks are dispatched in process only.
func (sc *ServiceContainer) Standalone() bool {
	return sc.Config.NatsURL == ""
}

// Start begins consuming tasks.
func (sc *ServiceContainer) Start() error {
	return sc.Pool.Start()
}

// Shutdown gracefully shuts down all services
func (sc *ServiceContainer) Shutdown(ctx context.Context) error {
	var errs []error

	if sc.Pool != nil {
		if err := sc.Pool.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if sc.Dispatcher != nil {
		if err := sc.Dispatcher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if sc.States != nil {
		if err := sc.States.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if sc.Messaging != nil {
		if err := sc.Messaging.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if sc.Store != nil {
		if err := sc.Store.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		log.Error().Err(err).Msg("Errors during service shutdown")
		return err
	}
	return nil
}
