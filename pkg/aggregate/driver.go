// Package aggregate turns entity event streams into result rows and hands
// them to a sink in batches.
package aggregate

import (
	"context"
	"errors"
	"log/slog"

	"github.com/niksan004/nextport/internal/model"
	nperrors "github.com/niksan004/nextport/pkg/errors"
	"github.com/niksan004/nextport/pkg/sink"
	"github.com/niksan004/nextport/pkg/source"
	"github.com/niksan004/nextport/pkg/stats"
	"github.com/niksan004/nextport/pkg/telemetry"
	"github.com/niksan004/nextport/pkg/voyage"
)

// EventSource is the part of a source.Source the driver reads from.
type EventSource interface {
	Events(ctx context.Context, entityID int64) (source.EventIterator, error)
}

// Config holds driver settings.
type Config struct {
	// SDCoefficient is k in the median ± k·σ outlier bounds.
	SDCoefficient float64

	// BatchSize is the buffered row count that triggers a sink write.
	// The stay and voyage buffers are flushed independently.
	BatchSize int
}

// Stats counts what a driver has processed.
type Stats struct {
	Entities     int64
	Events       int64
	StayRows     int64 // rows written to the sink
	VoyageRows   int64 // rows written to the sink
	SkippedPorts int64 // ports whose samples were all trimmed
	Flushes      int64
}

// Driver runs one worker's entities sequentially. It is not safe for
// concurrent use; each worker owns its own Driver, source and sink.
type Driver struct {
	cfg  Config
	src  EventSource
	sink sink.Sink
	log  *slog.Logger

	stays   []model.StayRow
	voyages []model.VoyageRow
	stats   Stats
}

// NewDriver creates a Driver. A nil logger uses slog.Default().
func NewDriver(cfg Config, src EventSource, out sink.Sink, log *slog.Logger) *Driver {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Driver{
		cfg:     cfg,
		src:     src,
		sink:    out,
		log:     log,
		stays:   make([]model.StayRow, 0, cfg.BatchSize),
		voyages: make([]model.VoyageRow, 0, cfg.BatchSize),
	}
}

// Process reconstructs one entity, reduces it to rows and buffers them,
// writing either buffer out once it reaches the batch size.
func (d *Driver) Process(ctx context.Context, entityID int64) (err error) {
	ctx, span := telemetry.Start(ctx, telemetry.SpanEntity, telemetry.AttrEntity.Int64(entityID))
	defer func() { telemetry.End(span, err) }()

	it, err := d.src.Events(ctx, entityID)
	if err != nil {
		return err
	}
	defer it.Close()

	r, err := voyage.Reconstruct(ctx, it)
	if err != nil {
		if ctx.Err() != nil || nperrors.GetCode(err) != nperrors.CodeUnknown {
			return err
		}
		return nperrors.Wrap(err, nperrors.CodeReconstruct, "reconstruct entity").
			WithContext("entity", entityID)
	}

	stays, skipped := StayRows(entityID, r.Stays(), d.cfg.SDCoefficient)
	for _, port := range skipped {
		d.log.Warn("all stay samples trimmed", "entity", entityID, "locode", port,
			"samples", r.Stays().Len(port))
	}
	voyages := VoyageRows(entityID, r.Graph())

	d.stats.Entities++
	d.stats.Events += r.Fed()
	d.stats.SkippedPorts += int64(len(skipped))
	span.SetAttributes(
		telemetry.AttrEvents.Int64(r.Fed()),
		telemetry.AttrRows.Int(len(stays)+len(voyages)),
	)

	d.stays = append(d.stays, stays...)
	d.voyages = append(d.voyages, voyages...)

	if len(d.stays) >= d.cfg.BatchSize {
		if err := d.flushStays(ctx); err != nil {
			return err
		}
	}
	if len(d.voyages) >= d.cfg.BatchSize {
		if err := d.flushVoyages(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Flush writes out whatever is still buffered.
func (d *Driver) Flush(ctx context.Context) error {
	if err := d.flushStays(ctx); err != nil {
		return err
	}
	return d.flushVoyages(ctx)
}

func (d *Driver) flushStays(ctx context.Context) (err error) {
	if len(d.stays) == 0 {
		return nil
	}
	ctx, span := telemetry.Start(ctx, telemetry.SpanFlush,
		telemetry.AttrTable.String("stay"), telemetry.AttrRows.Int(len(d.stays)))
	defer func() { telemetry.End(span, err) }()

	if err := d.sink.WriteStays(ctx, d.stays); err != nil {
		return err
	}
	d.stats.StayRows += int64(len(d.stays))
	d.stats.Flushes++
	d.stays = d.stays[:0]
	return nil
}

func (d *Driver) flushVoyages(ctx context.Context) (err error) {
	if len(d.voyages) == 0 {
		return nil
	}
	ctx, span := telemetry.Start(ctx, telemetry.SpanFlush,
		telemetry.AttrTable.String("voyage"), telemetry.AttrRows.Int(len(d.voyages)))
	defer func() { telemetry.End(span, err) }()

	if err := d.sink.WriteVoyages(ctx, d.voyages); err != nil {
		return err
	}
	d.stats.VoyageRows += int64(len(d.voyages))
	d.stats.Flushes++
	d.voyages = d.voyages[:0]
	return nil
}

// Buffered returns the number of stay and voyage rows not yet written.
func (d *Driver) Buffered() (stays, voyages int) {
	return len(d.stays), len(d.voyages)
}

// Stats returns the counters so far.
func (d *Driver) Stats() Stats {
	return d.stats
}

// SampleSet is a port → stay samples mapping.
type SampleSet interface {
	Ports() []string
	Samples(port string) []int64
}

// StayRows summarizes every port of stays into a row, in port order.
// Ports without samples are dropped before summarizing; ports whose samples
// are all trimmed are returned in skipped.
func StayRows(entityID int64, stays SampleSet, k float64) (rows []model.StayRow, skipped []string) {
	for _, port := range stays.Ports() {
		samples := stays.Samples(port)
		if len(samples) == 0 {
			continue
		}

		s, err := stats.Summarize(samples, k)
		if errors.Is(err, stats.ErrAllTrimmed) {
			skipped = append(skipped, port)
			continue
		}
		if err != nil {
			// Summarize fails only on empty input, filtered above.
			continue
		}

		rows = append(rows, model.StayRow{
			EntityID:    entityID,
			Locode:      port,
			StayTime:    s.Avg,
			DataPoints:  s.DataPoints,
			StandardDev: s.SD,
		})
	}
	return rows, skipped
}

// VoyageRows reduces g to one row per observed origin → destination edge.
func VoyageRows(entityID int64, g *voyage.TransitionGraph) []model.VoyageRow {
	transitions := g.Percentages()
	if len(transitions) == 0 {
		return nil
	}

	rows := make([]model.VoyageRow, len(transitions))
	for i, t := range transitions {
		rows[i] = model.VoyageRow{
			EntityID:   entityID,
			FromLocode: t.From,
			ToLocode:   t.To,
			Percentage: t.Percentage,
			DataPoints: t.Count,
		}
	}
	return rows
}
