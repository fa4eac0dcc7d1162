// Package pipe fans a run's entities out over share-nothing workers.
package pipe

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/niksan004/nextport/pkg/aggregate"
	nperrors "github.com/niksan004/nextport/pkg/errors"
	"github.com/niksan004/nextport/pkg/logging"
	"github.com/niksan004/nextport/pkg/queue"
	"github.com/niksan004/nextport/pkg/sink"
	"github.com/niksan004/nextport/pkg/source"
	"github.com/niksan004/nextport/pkg/telemetry"
)

// SourceOpener opens the event source a worker reads from.
type SourceOpener interface {
	Open(ctx context.Context, worker int) (source.Source, error)
}

// SinkOpener opens the sink a worker writes to.
type SinkOpener interface {
	Open(worker int) (sink.Sink, error)
}

// Config holds pipeline configuration.
type Config struct {
	RunID   string
	Workers int

	// Driver configures every worker's aggregation driver.
	Driver aggregate.Config

	// ProgressInterval throttles progress callbacks.
	ProgressInterval time.Duration
}

// Progress is a snapshot of a running pipeline.
type Progress struct {
	Entities          int64
	Total             int64
	Events            int64
	StayRows          int64
	VoyageRows        int64
	EntitiesPerSecond float64
	Elapsed           time.Duration
}

// Result summarizes a finished run.
type Result struct {
	RunID        string
	Workers      int
	Entities     int64
	Events       int64
	StayRows     int64
	VoyageRows   int64
	SkippedPorts int64
	Flushes      int64
	Elapsed      time.Duration
}

// Pipeline runs the aggregation driver over many entities in parallel.
// Each worker owns its source, sink and driver.
type Pipeline struct {
	cfg     Config
	sources SourceOpener
	sinks   SinkOpener
	sched   queue.Scheduler
	log     *logging.Logger

	// Statistics (atomic for lock-free access)
	entities     atomic.Int64
	events       atomic.Int64
	stayRows     atomic.Int64
	voyageRows   atomic.Int64
	skippedPorts atomic.Int64
	flushes      atomic.Int64

	total      int64
	start      time.Time
	lastReport atomic.Int64
	progressMu sync.Mutex
	progressFn func(Progress)
}

// New creates a pipeline. A nil logger uses logging.Default().
func New(cfg Config, sources SourceOpener, sinks SinkOpener, sched queue.Scheduler, log *logging.Logger) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 100 * time.Millisecond
	}
	if log == nil {
		log = logging.Default()
	}
	return &Pipeline{
		cfg:     cfg,
		sources: sources,
		sinks:   sinks,
		sched:   sched,
		log:     log.WithComponent("pipeline"),
	}
}

// SetProgressCallback sets a callback for progress updates. Calls never
// overlap.
func (p *Pipeline) SetProgressCallback(fn func(Progress)) {
	p.progressFn = fn
}

// Run processes ids and returns the totals. The first worker error cancels
// the others; batches flushed before that stay in the sink.
func (p *Pipeline) Run(ctx context.Context, ids []int64) (res *Result, err error) {
	ctx, span := telemetry.Start(ctx, telemetry.SpanRun,
		telemetry.AttrRunID.String(p.cfg.RunID),
		telemetry.AttrEntities.Int(len(ids)),
		telemetry.AttrWorker.Int(p.cfg.Workers),
	)
	defer func() { telemetry.End(span, err) }()
	defer func() {
		if err != nil && ctx.Err() != nil {
			err = nperrors.Wrap(ctx.Err(), nperrors.CodeContextCanceled, "run canceled").
				WithContext("run_id", p.cfg.RunID)
		}
	}()

	p.total = int64(len(ids))
	p.start = time.Now()

	if err := p.sched.Seed(ctx, ids, p.cfg.Workers); err != nil {
		return nil, err
	}
	defer func() {
		if cerr := p.sched.Close(context.WithoutCancel(ctx)); cerr != nil {
			p.log.Warn("close scheduler", "error", cerr)
		}
	}()

	p.log.Info("run started", "run_id", p.cfg.RunID, "entities", len(ids), "workers", p.cfg.Workers)

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < p.cfg.Workers; w++ {
		w := w
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = nperrors.New(nperrors.CodePanic, fmt.Sprintf("worker panic: %v", r)).
						WithContext("worker", w)
				}
			}()
			return p.runWorker(gctx, w)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	p.report(true)
	res = p.result()
	p.log.Info("run finished",
		"run_id", res.RunID,
		"entities", res.Entities,
		"stay_rows", res.StayRows,
		"voyage_rows", res.VoyageRows,
		"skipped_ports", res.SkippedPorts,
		"elapsed", res.Elapsed,
	)
	return res, nil
}

func (p *Pipeline) runWorker(ctx context.Context, worker int) (err error) {
	ctx, span := telemetry.Start(ctx, telemetry.SpanWorker, telemetry.AttrWorker.Int(worker))
	defer func() { telemetry.End(span, err) }()

	log := p.log.WithWorker(p.cfg.RunID, worker)

	src, err := p.sources.Open(ctx, worker)
	if err != nil {
		return err
	}
	defer src.Close()

	q, err := p.sched.Open(ctx, worker)
	if err != nil {
		return err
	}
	defer q.Close()

	out, err := p.sinks.Open(worker)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	d := aggregate.NewDriver(p.cfg.Driver, src, out, log.Logger)
	var prev aggregate.Stats
	for {
		id, ok, err := q.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}

		if err := d.Process(ctx, id); err != nil {
			if ctx.Err() == nil {
				log.Error("entity failed", "entity", id, "error", err, "code", nperrors.GetCode(err))
			}
			return err
		}
		prev = p.add(prev, d.Stats())
		p.report(false)
	}

	if err := d.Flush(ctx); err != nil {
		return err
	}
	st := d.Stats()
	p.add(prev, st)
	span.SetAttributes(telemetry.AttrEntities.Int64(st.Entities))
	log.Debug("worker finished", "entities", st.Entities, "flushes", st.Flushes)
	return nil
}

// add folds the growth from prev to cur into the run totals.
func (p *Pipeline) add(prev, cur aggregate.Stats) aggregate.Stats {
	p.entities.Add(cur.Entities - prev.Entities)
	p.events.Add(cur.Events - prev.Events)
	p.stayRows.Add(cur.StayRows - prev.StayRows)
	p.voyageRows.Add(cur.VoyageRows - prev.VoyageRows)
	p.skippedPorts.Add(cur.SkippedPorts - prev.SkippedPorts)
	p.flushes.Add(cur.Flushes - prev.Flushes)
	return cur
}

func (p *Pipeline) report(final bool) {
	if p.progressFn == nil {
		return
	}
	now := time.Now().UnixNano()
	if !final && time.Duration(now-p.lastReport.Load()) < p.cfg.ProgressInterval {
		return
	}
	if final {
		p.progressMu.Lock()
	} else if !p.progressMu.TryLock() {
		return
	}
	defer p.progressMu.Unlock()
	p.lastReport.Store(now)
	p.progressFn(p.Progress())
}

// Progress returns the current totals.
func (p *Pipeline) Progress() Progress {
	elapsed := time.Since(p.start)
	done := p.entities.Load()
	var rate float64
	if elapsed > 0 {
		rate = float64(done) / elapsed.Seconds()
	}
	return Progress{
		Entities:          done,
		Total:             p.total,
		Events:            p.events.Load(),
		StayRows:          p.stayRows.Load(),
		VoyageRows:        p.voyageRows.Load(),
		EntitiesPerSecond: rate,
		Elapsed:           elapsed,
	}
}

func (p *Pipeline) result() *Result {
	return &Result{
		RunID:        p.cfg.RunID,
		Workers:      p.cfg.Workers,
		Entities:     p.entities.Load(),
		Events:       p.events.Load(),
		StayRows:     p.stayRows.Load(),
		VoyageRows:   p.voyageRows.Load(),
		SkippedPorts: p.skippedPorts.Load(),
		Flushes:      p.flushes.Load(),
		Elapsed:      time.Since(p.start),
	}
}
