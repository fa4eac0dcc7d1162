package queue

import (
	"context"
	"math"
)

// DivideIntoChunks splits ids into n chunks. Every chunk but the last holds
// round-half-even(len(ids)/n) ids, clamped to what is left; the last one
// takes the remainder. The chunks concatenate back to ids, and some may be
// empty when n exceeds len(ids).
func DivideIntoChunks(ids []int64, n int) [][]int64 {
	if n <= 0 {
		n = 1
	}
	size := int(math.RoundToEven(float64(len(ids)) / float64(n)))

	chunks := make([][]int64, n)
	pos := 0
	for i := 0; i < n-1; i++ {
		end := min(pos+size, len(ids))
		chunks[i] = ids[pos:end]
		pos = end
	}
	chunks[n-1] = ids[pos:]
	return chunks
}

// Static hands every worker a fixed chunk from DivideIntoChunks.
type Static struct {
	chunks [][]int64
}

// NewStatic creates an unseeded static scheduler.
func NewStatic() *Static {
	return &Static{}
}

func (s *Static) Seed(ctx context.Context, ids []int64, workers int) error {
	s.chunks = DivideIntoChunks(ids, workers)
	return nil
}

func (s *Static) Open(ctx context.Context, worker int) (Queue, error) {
	if worker < 0 || worker >= len(s.chunks) {
		return NewSliceQueue(nil), nil
	}
	return NewSliceQueue(s.chunks[worker]), nil
}

// Chunks returns the partition made by Seed.
func (s *Static) Chunks() [][]int64 {
	return s.chunks
}

func (s *Static) Close(ctx context.Context) error { return nil }

// SliceQueue yields ids from a fixed slice.
type SliceQueue struct {
	ids []int64
	pos int
}

func NewSliceQueue(ids []int64) *SliceQueue {
	return &SliceQueue{ids: ids}
}

func (q *SliceQueue) Next(ctx context.Context) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	if q.pos >= len(q.ids) {
		return 0, false, nil
	}
	id := q.ids[q.pos]
	q.pos++
	return id, true, nil
}

func (q *SliceQueue) Close() error { return nil }
