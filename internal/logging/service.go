package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"safety-worker-go/internal/config"
)

// Setup configures the global logger. Development gets a console writer,
// everything else emits JSON. Extra writers (logdy) are tee'd in.
func Setup(cfg *config.Config, extra ...io.Writer) {
	zerolog.TimeFieldFormat = time.RFC3339

	var out io.Writer = os.Stderr
	if cfg.Environment == "development" {
		out = zerolog.ConsoleWriter{Out: os.Stderr}
	}
	if len(extra) > 0 {
		out = zerolog.MultiLevelWriter(append([]io.Writer{out}, extra...)...)
	}
	log.Logger = log.Output(out)

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		log.Warn().Str("level", cfg.LogLevel).Msg("Invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func NewServiceLogger(cfg *config.Config, service string) zerolog.Logger {
	return log.With().Str("worker_id", cfg.WorkerID).Str("service", service).Logger()
}

func WithTask(base zerolog.Logger, taskID string) zerolog.Logger {
	return base.With().Str("task_id", taskID).Logger()
}

func WithRecording(base zerolog.Logger, recordingID uint) zerolog.Logger {
	return base.With().Uint("recording_id", recordingID).Logger()
}
