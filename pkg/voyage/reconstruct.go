package voyage

import (
	"context"

	"github.com/niksan004/nextport/internal/model"
)

// EventIterator yields one entity's records in timestamp order.
type EventIterator interface {
	Next() bool
	Record() model.EventRecord
	Err() error
}

// legState tracks the voyage leg being built.
type legState struct {
	prevPort     string
	prevTS       int64
	curPort      string
	curTS        int64
	inLongStop   bool
	longStopPort string
}

// stayState tracks the stay being built.
type stayState struct {
	port               string
	start              int64
	lastLongStopMoving int64
}

// Reconstructor is a single-pass state machine over one entity's event
// stream. It commits voyage legs into a TransitionGraph and stay durations
// into a DurationSampleSet. A Reconstructor must not be reused across
// entities.
type Reconstructor struct {
	leg  legState
	stay stayState

	graph *TransitionGraph
	stays *DurationSampleSet
	fed   int64
}

// NewReconstructor creates a Reconstructor with empty state.
func NewReconstructor() *Reconstructor {
	return &Reconstructor{
		graph: NewTransitionGraph(),
		stays: NewDurationSampleSet(),
	}
}

// Graph returns the transition graph built so far.
func (r *Reconstructor) Graph() *TransitionGraph { return r.graph }

// Stays returns the stay samples collected so far.
func (r *Reconstructor) Stays() *DurationSampleSet { return r.stays }

// Fed returns the number of records consumed.
func (r *Reconstructor) Fed() int64 { return r.fed }

// Feed applies one record. Leg rules run before stay rules and every rule
// whose guard holds fires. Records that match no guard leave the state
// untouched.
func (r *Reconstructor) Feed(rec model.EventRecord) {
	r.fed++
	r.feedLeg(&rec)
	r.feedStay(&rec)
}

func (r *Reconstructor) feedLeg(rec *model.EventRecord) {
	l := &r.leg

	if rec.IsLongStop() {
		l.inLongStop = true
		l.longStopPort = rec.OwnLocode
	}

	// Leaving the zone we stopped in anchors the departure.
	if rec.EventType == model.EventExitZone && l.inLongStop && l.longStopPort == rec.OwnLocode {
		l.prevPort = rec.OwnLocode
		l.prevTS = rec.Timestamp
	}

	// Entering a zone other than the departure port is an arrival candidate.
	if rec.EventType == model.EventEnterZone && l.prevPort != "" {
		if l.prevPort != rec.TargetLocode && rec.OwnLocode != rec.TargetLocode {
			l.curPort = rec.TargetLocode
			l.curTS = rec.Timestamp
		}
	}

	// Stopping after an arrival candidate closes the leg.
	if rec.IsLongStop() && l.curPort != "" && l.curTS != 0 {
		if l.curTS-l.prevTS > 0 {
			r.graph.Increment(l.prevPort, l.curPort)
		}

		l.prevPort = ""
		l.prevTS = 0
		l.curPort = ""
		l.curTS = 0

		// curPort is already cleared here, so longStopPort ends up empty.
		// Kept as is until the stop-port hand-over is confirmed.
		l.inLongStop = true
		l.longStopPort = l.curPort
	}
}

func (r *Reconstructor) feedStay(rec *model.EventRecord) {
	s := &r.stay

	if rec.EventType == model.EventEnterZone && rec.ZoneType == model.ZonePort {
		s.port = rec.TargetLocode
	}

	// The stay start comes from ValueInt, not the event timestamp.
	if rec.Transition(model.StateNotMoving, model.StateLongStop) && s.port != "" && s.start == 0 {
		s.start = rec.ValueInt
	}

	if rec.Transition(model.StateLongStop, model.StateMoving) && s.start != 0 {
		s.lastLongStopMoving = rec.Timestamp
	}

	if rec.EventType == model.EventExitZone && s.start != 0 {
		var d int64
		switch {
		case rec.Transition(model.StateLongStop, model.StateLongStop):
			d = rec.Timestamp - s.start
		case s.lastLongStopMoving == 0:
			d = rec.Timestamp - s.start
		default:
			d = s.lastLongStopMoving - s.start
		}
		r.stays.Add(s.port, d)

		*s = stayState{}
	}
}

// Reconstruct drains it into a fresh Reconstructor. The context is checked
// between records so a cancelled run stops early.
func Reconstruct(ctx context.Context, it EventIterator) (*Reconstructor, error) {
	r := NewReconstructor()
	for it.Next() {
		if r.fed&0x3ff == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		r.Feed(it.Record())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return r, nil
}
