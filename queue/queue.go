// Package queue aligns independently clocked input streams onto one shared
// queue clock so they can be mixed in lock-step.
//
// A Queue owns one buffer per input. The scheduler asks, once per output
// tick, whether every input can be resolved for a PTS range and then pops
// the reconciled sample set for it. The queue never blocks on an input
// channel: "nothing available right now" simply defers readiness.
//
// A Queue is not safe for concurrent use. It is driven by a single
// scheduling goroutine.
package queue

import (
	"log/slog"
	"time"

	"github.com/zsiec/cadence/media"
)

// Config holds the parameters shared by every input of a Queue.
type Config struct {
	// Start anchors the queue clock. Zero means time.Now() at New.
	Start time.Time
	// BufferDuration is how much data an input without a fixed offset
	// buffers before its start time is fixed.
	BufferDuration time.Duration
	// Now is used by the default InputProcessor. Nil means time.Now.
	Now func() time.Time
	// Log receives input lifecycle events. Nil means slog.Default().
	Log *slog.Logger
}

// Queue is the synchronization queue.
type Queue struct {
	log            *slog.Logger
	inputs         map[media.InputID]*input
	start          time.Time
	bufferDuration time.Duration
	now            func() time.Time
}

// New creates an empty Queue whose clock starts at cfg.Start.
func New(cfg Config) *Queue {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Start.IsZero() {
		cfg.Start = cfg.Now()
	}
	return &Queue{
		log:            cfg.Log.With("component", "queue"),
		inputs:         make(map[media.InputID]*input),
		start:          cfg.Start,
		bufferDuration: cfg.BufferDuration,
		now:            cfg.Now,
	}
}

// Start returns the queue clock anchor.
func (q *Queue) Start() time.Time {
	return q.start
}

// AddInput registers an input reading from ch. Registering an id twice
// replaces the earlier input and discards its buffered data.
func (q *Queue) AddInput(id media.InputID, ch <-chan media.PipelineEvent[media.SampleBatch], opts InputOptions) {
	q.AddInputWithProcessor(id, ch, opts, NewInputProcessor(q.bufferDuration, q.now))
}

// AddInputWithProcessor is AddInput with a caller-supplied buffering stage.
func (q *Queue) AddInputWithProcessor(id media.InputID, ch <-chan media.PipelineEvent[media.SampleBatch], opts InputOptions, p Processor) {
	var offset *time.Duration
	if opts.Offset != nil {
		o := *opts.Offset
		offset = &o
	}
	q.inputs[id] = &input{
		log:       q.log.With("input", id),
		ch:        ch,
		processor: p,
		required:  opts.Required,
		offset:    offset,
	}
	q.log.Debug("input added", "input", id, "required", opts.Required, "offset", opts.Offset != nil)
}

// RemoveInput discards the input and any unread data. Unknown ids are
// ignored.
func (q *Queue) RemoveInput(id media.InputID) {
	if _, ok := q.inputs[id]; !ok {
		return
	}
	delete(q.inputs, id)
	q.log.Debug("input removed", "input", id)
}

// IsReadyForRange reports whether every input (or every required input when
// requiredOnly is set) can be resolved for r: either the queue holds samples
// covering r.Start or the input provably will not contribute to r. It
// returns false as soon as one input cannot decide yet; callers retry after
// more data arrives.
func (q *Queue) IsReadyForRange(r media.PTSRange, requiredOnly bool) bool {
	for _, in := range q.inputs {
		if requiredOnly && !in.required {
			continue
		}
		if !in.readyForPTS(r.Start, q.start) {
			return false
		}
	}
	return true
}

// HasPendingRequiredStart reports whether any required input should already
// be contributing at pts, meaning the scheduler must hold the timeline
// rather than advance past it.
func (q *Queue) HasPendingRequiredStart(pts time.Duration) bool {
	for _, in := range q.inputs {
		if !in.required {
			continue
		}
		if _, ok := in.inputPTS(pts, q.start); ok {
			return true
		}
	}
	return false
}

// PopSampleSet returns, for every input, the batches overlapping r with
// timestamps on the queue clock. Inputs with nothing to contribute map to
// an empty list.
func (q *Queue) PopSampleSet(r media.PTSRange) media.SampleSet {
	samples := make(map[media.InputID][]media.SampleBatch, len(q.inputs))
	for id, in := range q.inputs {
		batches := in.popSamples(r, q.start)
		if batches == nil {
			batches = []media.SampleBatch{}
		}
		samples[id] = batches
	}
	return media.SampleSet{
		Samples: samples,
		Start:   r.Start,
		End:     r.End,
	}
}

// DropOlderThan evicts, from every input, batches that end before pts.
func (q *Queue) DropOlderThan(pts time.Duration) {
	for _, in := range q.inputs {
		in.dropOlderThan(pts, q.start)
	}
}

// InputStats is a point-in-time view of one input's buffer state.
type InputStats struct {
	ID        media.InputID `json:"id"`
	Required  bool          `json:"required"`
	Buffering bool          `json:"buffering"`
	EOS       bool          `json:"eos"`
	Queued    int           `json:"queued"`
}

// Stats returns a snapshot of every input. It does not read from channels.
func (q *Queue) Stats() []InputStats {
	out := make([]InputStats, 0, len(q.inputs))
	for id, in := range q.inputs {
		_, started := in.processor.StartTime()
		out = append(out, InputStats{
			ID:        id,
			Required:  in.required,
			Buffering: in.offset == nil && !started,
			EOS:       in.eos(),
			Queued:    len(in.buf),
		})
	}
	return out
}
