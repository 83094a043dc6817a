package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	// Application
	Version     string
	Environment string
	WorkerID    string
	Port        int
	LogLevel    string

	// Logdy (lightweight web log viewer)
	LogdyEnabled bool
	LogdyHost    string
	LogdyPort    int

	// Database
	// sqlite://<path> or mysql://<dsn>, empty means shared in-memory sqlite
	DBConnectionString string
	DBSlowQuery        time.Duration

	// NATS (task queue transport and incident events)
	NatsURL            string
	NatsConnectTimeout time.Duration
	NatsReconnectWait  time.Duration
	NatsMaxReconnects  int
	NatsDrainTimeout   time.Duration

	TasksSubject       string
	TasksQueue         string
	TaskControlSubject string
	IncidentsSubject   string

	// Task result backend, empty keeps task state in memory
	RedisURL    string
	RedisPrefix string

	// Worker pool
	MaxTasks int

	// Task loop
	FrameBudget          time.Duration
	PPEFrameInterval     int
	DebounceWindow       time.Duration
	DefaultConfidence    float64
	ProximityThresholdPx float64

	// Stream source
	FrameWidth       int
	FrameHeight      int
	SourceRetries    int
	SourceRetryDelay time.Duration

	FallbackVideoProximity string
	FallbackVideoPPE       string
	FallbackVideoPallet    string

	// Retry supervisor
	RetryBackoffMin  time.Duration
	RetryBackoffMax  time.Duration
	RetryMultiplier  float64
	RetryJitterPct   int
	RetryMaxAttempts int // 0 = unlimited

	// Detection model
	DetectorBackend string // dnn or grpc
	AIGRPCURL       string
	AITimeout       time.Duration
	ModelInputSize  int
	NMSThreshold    float64
	JPEGQuality     int

	// Swagger Configuration
	SwaggerHost string
	SwaggerPort int

	// Graceful Shutdown
	ShutdownTimeout time.Duration
}

func Load() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file found or error loading .env file, using environment variables and defaults")
	} else {
		log.Info().Msg("Loaded configuration from .env file")
	}

	return &Config{
		Version:     getEnv("VERSION", "1.0.0"),
		Environment: getEnv("ENVIRONMENT", "development"),
		WorkerID:    getEnv("WORKER_ID", defaultWorkerID()),
		Port:        getEnvInt("PORT", 8000),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		LogdyEnabled: getEnvBool("LOGDY_ENABLED", false),
		LogdyHost:    getEnv("LOGDY_HOST", "localhost"),
		LogdyPort:    getEnvInt("LOGDY_PORT", 8080),

		DBConnectionString: getEnv("DB_CONNECTION_STRING", "sqlite://file::memory:?cache=shared"),
		DBSlowQuery:        getEnvDuration("DB_SLOW_QUERY", 200*time.Millisecond),

		NatsURL:            getNatsURL(),
		NatsConnectTimeout: getEnvDuration("NATS_CONNECT_TIMEOUT", 10*time.Second),
		NatsReconnectWait:  getEnvDuration("NATS_RECONNECT_WAIT", 2*time.Second),
		NatsMaxReconnects:  getEnvInt("NATS_MAX_RECONNECTS", -1), // -1 = unlimited
		NatsDrainTimeout:   getEnvDuration("NATS_DRAIN_TIMEOUT", 5*time.Second),

		TasksSubject:       getEnv("TASKS_SUBJECT", "detection.tasks"),
		TasksQueue:         getEnv("TASKS_QUEUE", "detection-workers"),
		TaskControlSubject: getEnv("TASK_CONTROL_SUBJECT", "detection.control"),
		IncidentsSubject:   getEnv("INCIDENTS_SUBJECT", "detection.incidents"),

		RedisURL:    getEnv("REDIS_URL", ""),
		RedisPrefix: getEnv("REDIS_PREFIX", "detection-task-meta"),

		MaxTasks: getEnvInt("MAX_TASKS", 10),

		FrameBudget:          getEnvDuration("FRAME_BUDGET", 100*time.Millisecond),
		PPEFrameInterval:     getEnvInt("PPE_FRAME_INTERVAL", 20),
		DebounceWindow:       getEnvDuration("DEBOUNCE_WINDOW", 60*time.Second),
		DefaultConfidence:    getEnvFloat("DEFAULT_CONFIDENCE", 0.75),
		ProximityThresholdPx: getEnvFloat("PROXIMITY_THRESHOLD_PX", 350),

		FrameWidth:       getEnvInt("FRAME_WIDTH", 640),
		FrameHeight:      getEnvInt("FRAME_HEIGHT", 480),
		SourceRetries:    getEnvInt("SOURCE_RETRIES", 3),
		SourceRetryDelay: getEnvDuration("SOURCE_RETRY_DELAY", 2*time.Second),

		FallbackVideoProximity: getEnv("FALLBACK_VIDEO_PROXIMITY", "./yolomodels/Forklift_move.mp4"),
		FallbackVideoPPE:       getEnv("FALLBACK_VIDEO_PPE", "./yolomodels/testvideo.mp4"),
		FallbackVideoPallet:    getEnv("FALLBACK_VIDEO_PALLET", "./yolomodels/IMG_0454.MOV"),

		RetryBackoffMin:  getEnvDuration("RETRY_BACKOFF_MIN", 10*time.Second),
		RetryBackoffMax:  getEnvDuration("RETRY_BACKOFF_MAX", 5*time.Minute),
		RetryMultiplier:  getEnvFloat("RETRY_MULTIPLIER", 2.0),
		RetryJitterPct:   getEnvInt("RETRY_JITTER_PCT", 0),
		RetryMaxAttempts: getEnvInt("RETRY_MAX_ATTEMPTS", 0),

		DetectorBackend: getEnv("DETECTOR_BACKEND", "dnn"),
		AIGRPCURL:       getEnv("AI_GRPC_URL", "localhost:50052"),
		AITimeout:       getEnvDuration("AI_TIMEOUT", 5*time.Second),
		ModelInputSize:  getEnvInt("MODEL_INPUT_SIZE", 640),
		NMSThreshold:    getEnvFloat("NMS_THRESHOLD", 0.45),
		JPEGQuality:     getEnvInt("JPEG_QUALITY", 90),

		SwaggerHost: getEnv("SWAGGER_HOST", "localhost"),
		SwaggerPort: getEnvInt("SWAGGER_PORT", 8000),

		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func defaultWorkerID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "worker-1"
}

// Helper functions for Docker environment detection
func isRunningInDocker() bool {
	if os.Getenv("DOCKER_CONTAINER") == "true" {
		return true
	}

	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}

	return false
}

// getNatsURL returns the appropriate NATS URL based on environment
func getNatsURL() string {
	if envURL := os.Getenv("NATS_URL"); envURL != "" {
		return envURL
	}

	if isRunningInDocker() {
		return "nats://nats:4222"
	}

	return "nats://localhost:4222"
}
