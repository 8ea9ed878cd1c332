// Package pipeline drives the synchronization queue on the output clock,
// emitting one reconciled sample set per tick to the mixer.
package pipeline

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/zsiec/cadence/media"
	"github.com/zsiec/cadence/queue"
)

// SampleSink is the mixer side of the scheduler. PushSamples is called from
// the scheduler goroutine once per emitted tick, in PTS order.
type SampleSink interface {
	PushSamples(set media.SampleSet)
}

// Config controls tick pacing and how long the timeline waits for inputs.
type Config struct {
	// Tick is the length of each output PTS range.
	Tick time.Duration
	// FallbackTimeout is how long past a range's deadline the scheduler
	// waits for optional inputs before emitting with required ones only.
	FallbackTimeout time.Duration
	// MaxLag, when positive, lets the timeline jump forward to the wall
	// clock once it falls further behind than this, evicting skipped data.
	MaxLag time.Duration
	// PollInterval is the retry period while inputs are not ready.
	PollInterval time.Duration
}

// DebugStats are forwarding counters for the scheduler.
type DebugStats struct {
	TicksEmitted int64         `json:"ticksEmitted"`
	Fallbacks    int64         `json:"fallbacks"`
	Holds        int64         `json:"holds"`
	SkipAheads   int64         `json:"skipAheads"`
	LastPTS      time.Duration `json:"lastPts"`
}

// Scheduler owns a Queue and is the only goroutine that touches it once
// Run starts. Input registration from other goroutines is forwarded to the
// run loop.
type Scheduler struct {
	log  *slog.Logger
	q    *queue.Queue
	cfg  Config
	sink SampleSink
	ops  chan func(*queue.Queue)

	emitted   atomic.Int64
	fallbacks atomic.Int64
	holds     atomic.Int64
	skips     atomic.Int64
	lastPTS   atomic.Int64
}

// New creates a Scheduler over q. If log is nil, slog.Default() is used.
func New(q *queue.Queue, cfg Config, sink SampleSink, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Tick <= 0 {
		cfg.Tick = 20 * time.Millisecond
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = cfg.Tick / 4
	}
	return &Scheduler{
		log:  log.With("component", "scheduler"),
		q:    q,
		cfg:  cfg,
		sink: sink,
		ops:  make(chan func(*queue.Queue), 16),
	}
}

// AddInput registers an input. The registration is applied by the run loop
// before its next readiness check.
func (s *Scheduler) AddInput(ctx context.Context, id media.InputID, ch <-chan media.PipelineEvent[media.SampleBatch], opts queue.InputOptions) error {
	return s.do(ctx, func(q *queue.Queue) { q.AddInput(id, ch, opts) })
}

// RemoveInput unregisters an input through the run loop.
func (s *Scheduler) RemoveInput(ctx context.Context, id media.InputID) error {
	return s.do(ctx, func(q *queue.Queue) { q.RemoveInput(id) })
}

func (s *Scheduler) do(ctx context.Context, op func(*queue.Queue)) error {
	select {
	case s.ops <- op:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Debug returns a snapshot of the scheduler counters.
func (s *Scheduler) Debug() DebugStats {
	return DebugStats{
		TicksEmitted: s.emitted.Load(),
		Fallbacks:    s.fallbacks.Load(),
		Holds:        s.holds.Load(),
		SkipAheads:   s.skips.Load(),
		LastPTS:      time.Duration(s.lastPTS.Load()),
	}
}

// Run emits sample sets for consecutive ranges [pts, pts+Tick) starting at
// PTS 0. A range is attempted once the wall clock passes its end. It blocks
// until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	start := s.q.Start()
	var pts time.Duration
	held := false

	for {
		r := media.PTSRange{Start: pts, End: pts + s.cfg.Tick}
		deadline := start.Add(r.End)
		if !s.waitUntil(ctx, deadline) {
			return nil
		}
		s.applyOps()

		ready := s.q.IsReadyForRange(r, false)
		if !ready && time.Since(deadline) >= s.cfg.FallbackTimeout {
			switch {
			case s.q.IsReadyForRange(r, true):
				ready = true
				s.fallbacks.Add(1)
				s.log.Debug("emitting without optional inputs", "pts", r.Start)
			case !s.q.HasPendingRequiredStart(r.Start):
				// Required inputs are still buffering and none is due yet.
				ready = true
				s.fallbacks.Add(1)
				s.log.Debug("emitting before required inputs started", "pts", r.Start)
			case !held:
				held = true
				s.holds.Add(1)
				s.log.Warn("holding timeline for required input", "pts", r.Start)
			}
		}
		if !ready {
			if !s.waitUntil(ctx, time.Now().Add(s.cfg.PollInterval)) {
				return nil
			}
			continue
		}
		held = false

		s.sink.PushSamples(s.q.PopSampleSet(r))
		s.emitted.Add(1)
		s.lastPTS.Store(int64(r.Start))
		pts = r.End

		if s.cfg.MaxLag > 0 {
			lag := time.Since(start) - pts
			if next := time.Since(start) / s.cfg.Tick * s.cfg.Tick; lag > s.cfg.MaxLag && next > pts {
				s.q.DropOlderThan(next)
				s.skips.Add(1)
				s.log.Warn("timeline behind wall clock, skipping ahead", "from", pts, "to", next, "lag", lag)
				pts = next
			}
		}
	}
}

// waitUntil sleeps until t while applying input registrations. It returns
// false if ctx is cancelled.
func (s *Scheduler) waitUntil(ctx context.Context, t time.Time) bool {
	timer := time.NewTimer(time.Until(t))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case op := <-s.ops:
			op(s.q)
		case <-timer.C:
			return true
		}
	}
}

func (s *Scheduler) applyOps() {
	for {
		select {
		case op := <-s.ops:
			op(s.q)
		default:
			return
		}
	}
}
