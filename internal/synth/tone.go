// Package synth provides the stand-in collaborators the demo binary needs
// around the core: sine-tone inputs, a summing mixer and an L16 encoder.
package synth

import (
	"context"
	"math"
	"time"

	"github.com/zsiec/cadence/media"
)

// Tone configures a sine generator.
type Tone struct {
	FrequencyHz float64
	Amplitude   float64
	SampleRate  int
	Channels    int
	// Batch is the duration of each emitted batch.
	Batch time.Duration
	// Origin is the local PTS of the first batch. Producers rarely start at
	// zero; the queue's buffering stage rebases it.
	Origin time.Duration
	// StartDelay postpones the first batch.
	StartDelay time.Duration
	// Duration ends the stream with EOS. Zero runs until ctx is done.
	Duration time.Duration
}

// Generate renders n frames of the tone starting at frame index first.
func (t Tone) Generate(first, n int) []int16 {
	ch := max(t.Channels, 1)
	out := make([]int16, n*ch)
	amp := t.Amplitude * math.MaxInt16
	for i := 0; i < n; i++ {
		phase := 2 * math.Pi * t.FrequencyHz * float64(first+i) / float64(t.SampleRate)
		v := int16(amp * math.Sin(phase))
		for c := 0; c < ch; c++ {
			out[i*ch+c] = v
		}
	}
	return out
}

// Run sends batches on out in real time until Duration elapses or ctx is
// done, then closes out. An EOS marker is sent only when Duration elapses.
func (t Tone) Run(ctx context.Context, out chan<- media.PipelineEvent[media.SampleBatch]) error {
	defer close(out)

	if t.StartDelay > 0 {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(t.StartDelay):
		}
	}

	frames := int(t.Batch * time.Duration(t.SampleRate) / time.Second)
	ticker := time.NewTicker(t.Batch)
	defer ticker.Stop()

	var sent time.Duration
	for frame := 0; ; frame += frames {
		if t.Duration > 0 && sent >= t.Duration {
			select {
			case out <- media.EOSEvent[media.SampleBatch]():
			case <-ctx.Done():
			}
			return nil
		}

		b := media.SampleBatch{
			Samples:    t.Generate(frame, frames),
			Start:      t.Origin + sent,
			SampleRate: t.SampleRate,
			Channels:   max(t.Channels, 1),
		}
		select {
		case out <- media.DataEvent(b):
		case <-ctx.Done():
			return nil
		}
		sent += t.Batch

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}
	}
}
