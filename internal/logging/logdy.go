package logging

import (
	"fmt"
	"io"
	"strconv"

	"github.com/logdyhq/logdy-core/logdy"
	"github.com/rs/zerolog/log"

	"safety-worker-go/internal/config"
)

// logdyWriter forwards every zerolog line to the embedded Logdy UI.
type logdyWriter struct {
	ui logdy.Logdy
}

func (w *logdyWriter) Write(p []byte) (int, error) {
	w.ui.LogString(string(p))
	return len(p), nil
}

// StartLogdy starts the embedded Logdy web UI when enabled. It returns nil
// when disabled so callers can pass the result straight to Setup.
func StartLogdy(cfg *config.Config) (io.Writer, string) {
	if !cfg.LogdyEnabled {
		return nil, ""
	}

	port := strconv.Itoa(cfg.LogdyPort)
	ui := logdy.InitializeLogdy(logdy.Config{
		ServerIp:   cfg.LogdyHost,
		ServerPort: port,
	}, nil)

	url := fmt.Sprintf("http://%s:%s", cfg.LogdyHost, port)
	log.Info().Str("url", url).Msg("Logdy UI available")
	return &logdyWriter{ui: ui}, url
}
