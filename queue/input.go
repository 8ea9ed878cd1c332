package queue

import (
	"log/slog"
	"time"

	"github.com/zsiec/cadence/media"
)

// InputOptions control how the queue waits for an input.
type InputOptions struct {
	// Required inputs hold the timeline until they are ready or at EOS.
	// Optional inputs never stall it.
	Required bool
	// Offset, when set, places the input's PTS 0 at this point on the
	// queue clock. When nil the offset is resolved from the input's start
	// time once buffering finishes.
	Offset *time.Duration
}

// input is the buffer state for one registered stream. Batches in buf are
// ordered by Start and carry stream-local timestamps.
type input struct {
	log       *slog.Logger
	buf       []media.SampleBatch
	ch        <-chan media.PipelineEvent[media.SampleBatch]
	closed    bool
	processor Processor
	required  bool
	offset    *time.Duration
	loggedEOS bool
}

// popSamples returns the batches overlapping r with timestamps rewritten
// onto the queue clock, then evicts batches that end before r.End. Batches
// only partially inside r are returned but kept.
func (in *input) popSamples(r media.PTSRange, queueStart time.Time) []media.SampleBatch {
	end, ok := in.inputPTS(r.End, queueStart)
	if !ok {
		return nil
	}
	// The range may begin before this input's PTS 0; clamp so batches near
	// the input's start are still returned.
	start, ok := in.inputPTS(r.Start, queueStart)
	if !ok {
		start = 0
	}
	shift, ok := in.queueShift(queueStart)
	if !ok {
		return nil
	}
	in.fill(end)

	var out []media.SampleBatch
	for _, b := range in.buf {
		if b.Start >= end {
			break
		}
		if b.End() <= start {
			continue
		}
		b.Start += shift
		out = append(out, b)
	}

	in.dropOlderThan(r.End, queueStart)
	return out
}

// readyForPTS reports whether the queue can either supply samples covering
// pts or knows this input will not contribute at pts. It drains the channel
// without blocking and returns false when the channel runs dry first.
func (in *input) readyForPTS(pts time.Duration, queueStart time.Time) bool {
	if in.eos() {
		return true
	}

	local, ok := in.inputPTS(pts, queueStart)
	if !ok {
		if in.offset != nil {
			// The input starts after pts, so nothing it sends can be used
			// for this range.
			return *in.offset > pts
		}
		if _, started := in.processor.StartTime(); started {
			// Started after pts.
			return true
		}
		// Still buffering. An optional input is ready-but-empty for this
		// range; a required one holds the timeline until it starts.
		return !in.required
	}

	for !in.coversPTS(local) {
		if in.eos() {
			return true
		}
		if !in.tryEnqueue() {
			return false
		}
	}
	return true
}

// fill drains whatever the channel has right now until the buffered region
// reaches local.
func (in *input) fill(local time.Duration) {
	for len(in.buf) == 0 || in.buf[len(in.buf)-1].End() < local {
		if in.eos() || !in.tryEnqueue() {
			return
		}
	}
}

func (in *input) coversPTS(local time.Duration) bool {
	if len(in.buf) == 0 {
		return false
	}
	return in.buf[len(in.buf)-1].End() > local
}

// dropOlderThan evicts batches that end strictly before the queue PTS.
func (in *input) dropOlderThan(queuePTS time.Duration, queueStart time.Time) {
	pts, ok := in.inputPTS(queuePTS, queueStart)
	if !ok {
		return
	}
	n := 0
	for n < len(in.buf) && in.buf[n].End() < pts {
		n++
	}
	if n > 0 {
		clear(in.buf[:n])
		in.buf = in.buf[n:]
	}
}

// inputPTS maps a queue PTS onto this input's local timeline. It reports
// false while the input is still buffering without a fixed offset, or when
// queuePTS lies before the input's PTS 0. It may drain the channel.
func (in *input) inputPTS(queuePTS time.Duration, queueStart time.Time) (time.Duration, bool) {
	if in.offset != nil {
		if queuePTS < *in.offset {
			return 0, false
		}
		return queuePTS - *in.offset, true
	}
	startTime, ok := in.startTime()
	if !ok {
		return 0, false
	}
	local := queueStart.Add(queuePTS).Sub(startTime)
	if local < 0 {
		return 0, false
	}
	return local, true
}

// queueShift is the amount added to a local PTS to place it on the queue
// clock.
func (in *input) queueShift(queueStart time.Time) (time.Duration, bool) {
	if in.offset != nil {
		return *in.offset, true
	}
	startTime, ok := in.startTime()
	if !ok {
		return 0, false
	}
	return startTime.Sub(queueStart), true
}

// startTime drains the channel until the processor knows the start time or
// nothing more is available right now.
func (in *input) startTime() (time.Time, bool) {
	for {
		if t, ok := in.processor.StartTime(); ok {
			return t, true
		}
		if !in.tryEnqueue() {
			return time.Time{}, false
		}
	}
}

// tryEnqueue performs one non-blocking receive. It returns false when the
// channel has nothing to offer. A closed channel is fed to the processor
// as EOS once.
func (in *input) tryEnqueue() bool {
	if in.closed {
		return false
	}
	select {
	case ev, ok := <-in.ch:
		if !ok {
			in.closed = true
			ev = media.EOSEvent[media.SampleBatch]()
		}
		hadStart := in.hasStartTime()
		in.buf = append(in.buf, in.processor.ProcessNewChunk(ev)...)
		if !hadStart && in.hasStartTime() {
			t, _ := in.processor.StartTime()
			in.log.Debug("input start time resolved", "start", t)
		}
		if in.eos() && !in.loggedEOS {
			in.loggedEOS = true
			in.log.Debug("input reached EOS", "queued", len(in.buf))
		}
		return true
	default:
		return false
	}
}

func (in *input) hasStartTime() bool {
	_, ok := in.processor.StartTime()
	return ok
}

func (in *input) eos() bool {
	return in.processor.DidReceiveEOS()
}
