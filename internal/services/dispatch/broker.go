package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"safety-worker-go/internal/config"
	"safety-worker-go/internal/models"
	"safety-worker-go/internal/services/messaging"
)

type Subscription interface {
	Unsubscribe() error
}

// Broker carries tasks to exactly one worker and control messages to all.
type Broker interface {
	PublishTask(ctx context.Context, task models.Task) error
	PublishControl(ctx context.Context, msg models.ControlMessage) error
	SubscribeTasks(handler func(models.Task)) (Subscription, error)
	SubscribeControl(handler func(models.ControlMessage)) (Subscription, error)
}

// natsTransport is the part of messaging.Service the broker uses.
type natsTransport interface {
	Publish(subject string, data interface{}) error
	Flush(timeout time.Duration) error
	Subscribe(subject string, handler func([]byte)) (*nats.Subscription, error)
	QueueSubscribe(subject, queue string, handler func([]byte)) (*nats.Subscription, error)
}

var _ natsTransport = (*messaging.Service)(nil)

// NATSBroker uses a queue group for tasks and a plain subject for control.
// Publishes are flushed so a short lived caller never exits with the
// message still buffered.
type NATSBroker struct {
	nats           natsTransport
	tasksSubject   string
	tasksQueue     string
	controlSubject string
	flushTimeout   time.Duration
}

func NewNATSBroker(cfg *config.Config, svc *messaging.Service) *NATSBroker {
	return newNATSBroker(cfg, svc)
}

func newNATSBroker(cfg *config.Config, t natsTransport) *NATSBroker {
	flush := cfg.NatsConnectTimeout
	if flush <= 0 {
		flush = 5 * time.Second
	}
	return &NATSBroker{
		nats:           t,
		tasksSubject:   cfg.TasksSubject,
		tasksQueue:     cfg.TasksQueue,
		controlSubject: cfg.TaskControlSubject,
		flushTimeout:   flush,
	}
}

func (b *NATSBroker) PublishTask(_ context.Context, task models.Task) error {
	return b.publish(b.tasksSubject, task)
}

func (b *NATSBroker) PublishControl(_ context.Context, msg models.ControlMessage) error {
	return b.publish(b.controlSubject, msg)
}

func (b *NATSBroker) publish(subject string, v interface{}) error {
	if err := b.nats.Publish(subject, v); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	if err := b.nats.Flush(b.flushTimeout); err != nil {
		return fmt.Errorf("flush %s: %w", subject, err)
	}
	return nil
}

func (b *NATSBroker) SubscribeTasks(handler func(models.Task)) (Subscription, error) {
	sub, err := b.nats.QueueSubscribe(b.tasksSubject, b.tasksQueue, func(data []byte) {
		var task models.Task
		if err := json.Unmarshal(data, &task); err != nil {
			log.Error().Err(err).Str("subject", b.tasksSubject).Msg("Dropping undecodable task")
			return
		}
		handler(task)
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (b *NATSBroker) SubscribeControl(handler func(models.ControlMessage)) (Subscription, error) {
	sub, err := b.nats.Subscribe(b.controlSubject, func(data []byte) {
		var msg models.ControlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Error().Err(err).Str("subject", b.controlSubject).Msg("Dropping undecodable control message")
			return
		}
		handler(msg)
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// MemoryBroker delivers in process. Tasks go round robin to subscribers.
type MemoryBroker struct {
	mu      sync.Mutex
	nextID  int
	tasks   map[int]func(models.Task)
	order   []int
	rr      int
	control map[int]func(models.ControlMessage)
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		tasks:   make(map[int]func(models.Task)),
		control: make(map[int]func(models.ControlMessage)),
	}
}

func (b *MemoryBroker) PublishTask(_ context.Context, task models.Task) error {
	b.mu.Lock()
	var handler func(models.Task)
	if len(b.order) > 0 {
		handler = b.tasks[b.order[b.rr%len(b.order)]]
		b.rr++
	}
	b.mu.Unlock()

	if handler != nil {
		handler(task)
	}
	return nil
}

func (b *MemoryBroker) PublishControl(_ context.Context, msg models.ControlMessage) error {
	b.mu.Lock()
	handlers := make([]func(models.ControlMessage), 0, len(b.control))
	for _, h := range b.control {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
	return nil
}

func (b *MemoryBroker) SubscribeTasks(handler func(models.Task)) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.tasks[id] = handler
	b.order = append(b.order, id)
	return memorySub(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.tasks, id)
		for i, o := range b.order {
			if o == id {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
	}), nil
}

func (b *MemoryBroker) SubscribeControl(handler func(models.ControlMessage)) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.control[id] = handler
	return memorySub(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.control, id)
	}), nil
}

type memorySub func()

func (s memorySub) Unsubscribe() error {
	s()
	return nil
}
