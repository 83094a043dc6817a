// Package taskstate keeps the latest state of every dispatched task, the
// way a task queue result backend does.
package taskstate

import (
	"context"
	"errors"
	"sort"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"safety-worker-go/internal/config"
	"safety-worker-go/internal/models"
)

var ErrNotFound = errors.New("task state not found")

// ResultTTL is how long finished and unfinished states are kept.
const ResultTTL = 24 * time.Hour

type Store interface {
	Save(ctx context.Context, state models.TaskState) error
	Get(ctx context.Context, taskID string) (models.TaskState, error)
	List(ctx context.Context) ([]models.TaskState, error)
	Close() error
}

// New picks Redis when REDIS_URL is set, memory otherwise.
func New(ctx context.Context, cfg *config.Config) (Store, error) {
	if cfg.RedisURL == "" {
		return NewMemoryStore(ResultTTL), nil
	}
	return NewRedisStore(ctx, cfg.RedisURL, cfg.RedisPrefix, ResultTTL)
}

// MemoryStore keeps states in process. States expire after ttl. No janitor
// goroutine runs; expired entries are swept on every Save.
type MemoryStore struct {
	items *gocache.Cache
	now   func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{items: gocache.New(ttl, 0), now: time.Now}
}

// Save stamps UpdatedAt and replaces the task's state.
func (m *MemoryStore) Save(_ context.Context, state models.TaskState) error {
	m.items.DeleteExpired()
	state.UpdatedAt = m.now().UTC()
	m.items.SetDefault(state.TaskID, state)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, taskID string) (models.TaskState, error) {
	v, ok := m.items.Get(taskID)
	if !ok {
		return models.TaskState{}, ErrNotFound
	}
	return v.(models.TaskState), nil
}

func (m *MemoryStore) List(_ context.Context) ([]models.TaskState, error) {
	items := m.items.Items()
	out := make([]models.TaskState, 0, len(items))
	for _, it := range items {
		out = append(out, it.Object.(models.TaskState))
	}
	sortStates(out)
	return out, nil
}

func (m *MemoryStore) Close() error {
	m.items.Flush()
	return nil
}

// sortStates orders newest first.
func sortStates(states []models.TaskState) {
	sort.Slice(states, func(i, j int) bool {
		if states[i].UpdatedAt.Equal(states[j].UpdatedAt) {
			return states[i].TaskID < states[j].TaskID
		}
		return states[i].UpdatedAt.After(states[j].UpdatedAt)
	})
}
