package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"safety-worker-go/internal/config"
)

// Service wraps the NATS connection shared by the task queue, the control
// channel and incident events.
type Service struct {
	conn *nats.Conn
	cfg  *config.Config

	closed    chan struct{}
	closeOnce sync.Once
}

func NewService(cfg *config.Config) (*Service, error) {
	s := &Service{cfg: cfg, closed: make(chan struct{})}

	opts := []nats.Option{
		nats.Name("safety-worker-" + cfg.WorkerID),
		nats.Timeout(cfg.NatsConnectTimeout),
		nats.ReconnectWait(cfg.NatsReconnectWait),
		nats.MaxReconnects(cfg.NatsMaxReconnects),
		nats.DrainTimeout(cfg.NatsDrainTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			s.closeOnce.Do(func() { close(s.closed) })
		}),
	}

	conn, err := nats.Connect(cfg.NatsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NatsURL, err)
	}

	log.Info().Str("url", cfg.NatsURL).Msg("NATS connection established")

	s.conn = conn
	return s, nil
}

// Publish sends data as JSON.
func (s *Service) Publish(subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return s.conn.Publish(subject, payload)
}

func (s *Service) Subscribe(subject string, handler func([]byte)) (*nats.Subscription, error) {
	return s.conn.Subscribe(subject, func(msg *nats.Msg) {
		defer recoverHandler(subject)
		handler(msg.Data)
	})
}

// QueueSubscribe delivers each message to one member of queue.
func (s *Service) QueueSubscribe(subject, queue string, handler func([]byte)) (*nats.Subscription, error) {
	return s.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		defer recoverHandler(subject)
		handler(msg.Data)
	})
}

// Flush waits until the server has processed everything published so far.
func (s *Service) Flush(timeout time.Duration) error {
	return s.conn.FlushTimeout(timeout)
}

func (s *Service) IsConnected() bool {
	return s.conn != nil && s.conn.IsConnected()
}

func (s *Service) Status() string {
	if s.conn == nil {
		return "CLOSED"
	}
	return s.conn.Status().String()
}

// Shutdown drains subscriptions and pending publishes and waits for the
// connection to close. When ctx ends first the connection is closed
// immediately.
func (s *Service) Shutdown(ctx context.Context) error {
	if s.conn == nil {
		return nil
	}
	if err := s.conn.Drain(); err != nil {
		log.Warn().Err(err).Msg("Failed to drain NATS connection gracefully, closing immediately")
		s.conn.Close()
		return nil
	}
	if err := waitClosed(ctx, s.closed); err != nil {
		log.Warn().Err(err).Msg("NATS drain did not finish in time, closing")
		s.conn.Close()
		return err
	}
	return nil
}

func waitClosed(ctx context.Context, closed <-chan struct{}) error {
	select {
	case <-closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func recoverHandler(subject string) {
	if r := recover(); r != nil {
		log.Error().
			Str("subject", subject).
			Interface("panic", r).
			Msg("NATS handler panic recovered")
	}
}
