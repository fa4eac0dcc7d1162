// Package queue assigns entity ids to workers.
//
// Two schedulers are provided. Static splits the id list into one fixed
// chunk per worker up front. Redis seeds a shared list keyed by the run id
// and lets every worker pop from it until it is empty, so fast workers pick
// up the slack of slow ones.
package queue

import (
	"context"
	"fmt"

	nperrors "github.com/niksan004/nextport/pkg/errors"
)

// Kind selects a scheduler.
type Kind string

const (
	KindStatic Kind = "static"
	KindRedis  Kind = "redis"
)

// Queue yields the entity ids one worker should process.
type Queue interface {
	// Next returns the next id. ok is false once the queue is drained.
	Next(ctx context.Context) (id int64, ok bool, err error)
	Close() error
}

// Scheduler distributes a run's ids across worker queues.
type Scheduler interface {
	// Seed loads ids for a run with the given number of workers. It must be
	// called once, before any Open.
	Seed(ctx context.Context, ids []int64, workers int) error

	// Open returns the queue for worker.
	Open(ctx context.Context, worker int) (Queue, error)

	// Close releases run-wide resources.
	Close(ctx context.Context) error
}

// New returns the scheduler for kind. runID scopes shared queue state.
func New(kind Kind, redis RedisConfig, runID string) (Scheduler, error) {
	switch kind {
	case KindStatic, "":
		return NewStatic(), nil
	case KindRedis:
		return NewRedis(redis, runID), nil
	default:
		return nil, nperrors.InvalidConfig("scheduler.kind", string(kind))
	}
}

// Drain reads q to the end. It is meant for tests and small inspections.
func Drain(ctx context.Context, q Queue) ([]int64, error) {
	var ids []int64
	for {
		id, ok, err := q.Next(ctx)
		if err != nil {
			return ids, err
		}
		if !ok {
			return ids, nil
		}
		ids = append(ids, id)
	}
}

func queueErr(err error, op string) *nperrors.Error {
	return nperrors.Wrap(err, nperrors.CodeQueue, fmt.Sprintf("queue %s", op))
}
