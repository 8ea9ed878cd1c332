package queue

import (
	"time"

	"github.com/zsiec/cadence/media"
)

// Processor is the buffering/normalization stage every batch read from an
// input channel passes through before it is queued. It decides when the
// input's local timestamp zero happened on the wall clock.
type Processor interface {
	// ProcessNewChunk consumes one channel event and returns the batches
	// that are ready to be queued, in order. It may return none.
	ProcessNewChunk(ev media.PipelineEvent[media.SampleBatch]) []media.SampleBatch
	// StartTime returns the instant at which the input's PTS 0 occurred,
	// once known.
	StartTime() (time.Time, bool)
	// DidReceiveEOS reports whether an end-of-stream marker was processed.
	DidReceiveEOS() bool
}

type processorState int

const (
	stateWaitingForStart processorState = iota
	stateBuffering
	stateReady
)

// InputProcessor is the default Processor. It holds back the first
// bufferDuration of an input, then declares the input started and rebases
// every batch so that the first buffered batch starts at PTS 0.
type InputProcessor struct {
	bufferDuration time.Duration
	now            func() time.Time

	state     processorState
	buffer    []media.SampleBatch
	offset    time.Duration
	startTime time.Time
	started   bool
	eos       bool
}

// NewInputProcessor returns an InputProcessor that buffers bufferDuration of
// data before reporting a start time. If now is nil, time.Now is used.
func NewInputProcessor(bufferDuration time.Duration, now func() time.Time) *InputProcessor {
	if now == nil {
		now = time.Now
	}
	return &InputProcessor{
		bufferDuration: bufferDuration,
		now:            now,
	}
}

func (p *InputProcessor) ProcessNewChunk(ev media.PipelineEvent[media.SampleBatch]) []media.SampleBatch {
	if p.eos {
		return nil
	}
	if ev.EOS {
		p.eos = true
		if p.state != stateReady {
			return p.markReady()
		}
		return nil
	}

	switch p.state {
	case stateWaitingForStart:
		p.state = stateBuffering
		p.buffer = append(p.buffer, ev.Data)
		return p.checkBuffered()
	case stateBuffering:
		p.buffer = append(p.buffer, ev.Data)
		return p.checkBuffered()
	default:
		return p.rebase([]media.SampleBatch{ev.Data})
	}
}

func (p *InputProcessor) StartTime() (time.Time, bool) {
	return p.startTime, p.started
}

func (p *InputProcessor) DidReceiveEOS() bool {
	return p.eos
}

func (p *InputProcessor) checkBuffered() []media.SampleBatch {
	first := p.buffer[0].Start
	last := p.buffer[len(p.buffer)-1].End()
	if last-first < p.bufferDuration {
		return nil
	}
	return p.markReady()
}

// markReady switches to the ready state and flushes the buffer. An input
// that ends before ever sending data still gets a start time so the queue
// can treat it as determined.
func (p *InputProcessor) markReady() []media.SampleBatch {
	if len(p.buffer) > 0 {
		p.offset = p.buffer[0].Start
	}
	p.state = stateReady
	p.startTime = p.now()
	p.started = true

	out := p.rebase(p.buffer)
	p.buffer = nil
	return out
}

// rebase shifts batches by the start offset, dropping any that begin before
// it.
func (p *InputProcessor) rebase(batches []media.SampleBatch) []media.SampleBatch {
	out := make([]media.SampleBatch, 0, len(batches))
	for _, b := range batches {
		if b.Start < p.offset {
			continue
		}
		b.Start -= p.offset
		out = append(out, b)
	}
	return out
}
