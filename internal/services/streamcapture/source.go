package streamcapture

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"safety-worker-go/internal/models"
)

var (
	ErrSourceUnavailable = errors.New("video source unavailable")
	ErrFrameRead         = errors.New("failed to read frame")
	// ErrEndOfStream is a read failure on a file source that ran out.
	ErrEndOfStream = fmt.Errorf("%w: end of file", ErrFrameRead)
)

// Capture is an opened video source.
type Capture interface {
	Read() (models.Frame, bool)
	Close() error
}

// Opener opens an address. It returns an error when the source did not open.
type Opener interface {
	Open(address string) (Capture, error)
}

type Options struct {
	MaxRetries int
	RetryDelay time.Duration
	Width      int
	Height     int
}

// Source is an opened capture that yields frames at a fixed resolution.
type Source struct {
	capture  Capture
	address  string
	file     bool
	width    int
	height   int
	attempts int
	frames   int64
}

// Open tries primary up to MaxRetries times, then fallback with the same
// policy, sleeping RetryDelay after each failed attempt. Empty addresses are
// skipped. It fails with ErrSourceUnavailable when both are exhausted.
func Open(ctx context.Context, opener Opener, primary, fallback string, opts Options) (*Source, error) {
	retries := opts.MaxRetries
	if retries < 1 {
		retries = 1
	}

	var addresses []string
	for _, a := range []string{primary, fallback} {
		if a != "" {
			addresses = append(addresses, a)
		}
	}

	attempts := 0
	var lastErr error
	for ai, address := range addresses {
		kind := "primary"
		if address != primary {
			kind = "fallback"
		}
		for i := 1; i <= retries; i++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			attempts++
			capture, err := opener.Open(address)
			if err == nil {
				log.Info().
					Str("address", address).
					Str("kind", kind).
					Int("attempt", i).
					Msg("Video source opened")
				return &Source{
					capture:  capture,
					address:  address,
					file:     IsFileAddress(address),
					width:    opts.Width,
					height:   opts.Height,
					attempts: attempts,
				}, nil
			}

			lastErr = err
			log.Warn().
				Err(err).
				Str("address", address).
				Str("kind", kind).
				Int("attempt", i).
				Int("max_retries", retries).
				Msg("Failed to open video source, retrying")

			last := ai == len(addresses)-1 && i == retries
			if !last {
				if err := sleepCtx(ctx, opts.RetryDelay); err != nil {
					return nil, err
				}
			}
		}
	}

	if lastErr == nil {
		lastErr = errors.New("no address configured")
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrSourceUnavailable, attempts, lastErr)
}

// ReadFrame reads the next frame and normalizes its size. A failed read is
// ErrFrameRead, or ErrEndOfStream when the source is a file.
func (s *Source) ReadFrame() (models.Frame, error) {
	frame, ok := s.capture.Read()
	if !ok {
		if frame != nil {
			_ = frame.Close()
		}
		if s.file {
			return nil, ErrEndOfStream
		}
		return nil, fmt.Errorf("%w from %s", ErrFrameRead, s.address)
	}

	if s.width > 0 && s.height > 0 {
		if err := frame.Resize(s.width, s.height); err != nil {
			_ = frame.Close()
			return nil, fmt.Errorf("%w: resize: %w", ErrFrameRead, err)
		}
	}
	s.frames++
	return frame, nil
}

func (s *Source) Close() error {
	if s == nil || s.capture == nil {
		return nil
	}
	err := s.capture.Close()
	s.capture = nil
	return err
}

func (s *Source) Address() string { return s.address }
func (s *Source) Attempts() int   { return s.attempts }
func (s *Source) Frames() int64   { return s.frames }
func (s *Source) IsFile() bool    { return s.file }

// videoExtensions are the container formats treated as local files.
var videoExtensions = map[string]bool{
	".mp4": true, ".mov": true, ".avi": true, ".mkv": true,
	".m4v": true, ".webm": true, ".mpg": true, ".mpeg": true,
}

// IsFileAddress reports whether address names a local video file rather
// than a network stream, a device or a device index.
func IsFileAddress(address string) bool {
	address = strings.TrimPrefix(address, "file://")
	if address == "" || strings.Contains(address, "://") || strings.HasPrefix(address, "/dev/") {
		return false
	}
	if _, err := strconv.Atoi(address); err == nil {
		return false
	}
	return videoExtensions[strings.ToLower(filepath.Ext(address))]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
