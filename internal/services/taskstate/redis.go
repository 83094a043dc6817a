package taskstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"safety-worker-go/internal/models"
)

// redisClient is the part of *redis.Client the store uses.
type redisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
	Close() error
}

// RedisStore keeps one JSON document per task under <prefix>:<task id>.
type RedisStore struct {
	rdb    redisClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisStore(ctx context.Context, url, prefix string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Info().Str("addr", opts.Addr).Int("db", opts.DB).Msg("Connected to Redis task state backend")
	return NewRedisStoreWithClient(rdb, prefix, ttl), nil
}

func NewRedisStoreWithClient(rdb *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	return newRedisStore(rdb, prefix, ttl)
}

func newRedisStore(rdb redisClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "detection-task-meta"
	}
	return &RedisStore{rdb: rdb, prefix: prefix, ttl: ttl, now: time.Now}
}

func (r *RedisStore) key(taskID string) string {
	return r.prefix + ":" + taskID
}

// Save stamps UpdatedAt and writes the state with the result TTL.
func (r *RedisStore) Save(ctx context.Context, state models.TaskState) error {
	state.UpdatedAt = r.now().UTC()
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, r.key(state.TaskID), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("save task state %s: %w", state.TaskID, err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, taskID string) (models.TaskState, error) {
	raw, err := r.rdb.Get(ctx, r.key(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.TaskState{}, ErrNotFound
	}
	if err != nil {
		return models.TaskState{}, fmt.Errorf("get task state %s: %w", taskID, err)
	}
	var state models.TaskState
	if err := json.Unmarshal(raw, &state); err != nil {
		return models.TaskState{}, fmt.Errorf("decode task state %s: %w", taskID, err)
	}
	return state, nil
}

func (r *RedisStore) List(ctx context.Context) ([]models.TaskState, error) {
	var (
		out    []models.TaskState
		cursor uint64
	)
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, r.prefix+":*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan task states: %w", err)
		}
		if len(keys) > 0 {
			values, err := r.rdb.MGet(ctx, keys...).Result()
			if err != nil {
				return nil, fmt.Errorf("load task states: %w", err)
			}
			for _, v := range values {
				s, ok := v.(string)
				if !ok {
					continue
				}
				var state models.TaskState
				if err := json.Unmarshal([]byte(s), &state); err != nil {
					log.Warn().Err(err).Msg("Skipping undecodable task state")
					continue
				}
				out = append(out, state)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sortStates(out)
	return out, nil
}

func (r *RedisStore) Close() error {
	return r.rdb.Close()
}
