package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	nperrors "github.com/niksan004/nextport/pkg/errors"
)

// seedBatch is the number of ids pushed per RPUSH.
const seedBatch = 1000

// RedisConfig configures the Redis work queue.
type RedisConfig struct {
	// Addr is the Redis server address (e.g., "localhost:6379")
	Addr string

	Password string
	DB       int

	// KeyPrefix is prepended to every key (e.g., "nextport:")
	KeyPrefix string

	// TTL expires an abandoned run's list (0 = no expiration)
	TTL time.Duration

	// Timeout for dialing and single Redis operations
	Timeout time.Duration
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig(addr string) RedisConfig {
	return RedisConfig{
		Addr:      addr,
		KeyPrefix: "nextport:",
		TTL:       24 * time.Hour,
		Timeout:   5 * time.Second,
	}
}

func (c RedisConfig) options() *redis.Options {
	return &redis.Options{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		DialTimeout:  c.Timeout,
		ReadTimeout:  c.Timeout,
		WriteTimeout: c.Timeout,
		PoolSize:     2,
	}
}

// Redis distributes ids through a Redis list shared by all workers. Each
// worker queue owns its own client.
type Redis struct {
	cfg   RedisConfig
	runID string

	mu      sync.Mutex
	admin   *redis.Client
	clients []*redis.Client
}

// NewRedis creates a Redis scheduler for one run.
func NewRedis(cfg RedisConfig, runID string) *Redis {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Redis{cfg: cfg, runID: runID}
}

// Key returns the list key of the run.
func (r *Redis) Key() string {
	return fmt.Sprintf("%srun:%s:entities", r.cfg.KeyPrefix, r.runID)
}

func (r *Redis) connect(ctx context.Context) (*redis.Client, error) {
	client := redis.NewClient(r.cfg.options())

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, queueErr(err, "connect").WithContext("addr", r.cfg.Addr)
	}
	return client, nil
}

// Seed replaces the run's list with ids. workers is ignored; every worker
// pops from the same list.
func (r *Redis) Seed(ctx context.Context, ids []int64, workers int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.admin == nil {
		client, err := r.connect(ctx)
		if err != nil {
			return err
		}
		r.admin = client
	}

	key := r.Key()
	_, err := r.admin.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		for start := 0; start < len(ids); start += seedBatch {
			end := min(start+seedBatch, len(ids))
			vals := make([]interface{}, 0, end-start)
			for _, id := range ids[start:end] {
				vals = append(vals, id)
			}
			pipe.RPush(ctx, key, vals...)
		}
		if r.cfg.TTL > 0 && len(ids) > 0 {
			pipe.Expire(ctx, key, r.cfg.TTL)
		}
		return nil
	})
	if err != nil {
		return queueErr(err, "seed").WithContext("key", key).WithContext("ids", len(ids))
	}
	return nil
}

func (r *Redis) Open(ctx context.Context, worker int) (Queue, error) {
	client, err := r.connect(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.clients = append(r.clients, client)
	r.mu.Unlock()

	return &redisQueue{client: client, key: r.Key()}, nil
}

// Close deletes the run's list and closes every client.
func (r *Redis) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs nperrors.MultiError
	if r.admin != nil {
		if err := r.admin.Del(ctx, r.Key()).Err(); err != nil {
			errs.Add(queueErr(err, "cleanup"))
		}
		errs.Add(r.admin.Close())
		r.admin = nil
	}
	for _, c := range r.clients {
		if err := c.Close(); !errors.Is(err, redis.ErrClosed) {
			errs.Add(err)
		}
	}
	r.clients = nil
	return errs.Combined()
}

type redisQueue struct {
	client *redis.Client
	key    string
}

func (q *redisQueue) Next(ctx context.Context) (int64, bool, error) {
	id, err := q.client.LPop(ctx, q.key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, queueErr(err, "pop").WithContext("key", q.key)
	}
	return id, true, nil
}

func (q *redisQueue) Close() error {
	err := q.client.Close()
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}
