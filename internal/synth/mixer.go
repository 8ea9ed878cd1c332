package synth

import (
	"encoding/binary"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/zsiec/cadence/media"
)

// Mixer sums every input of a sample set into one PCM frame, encodes it as
// big-endian L16 and emits it as an audio chunk.
type Mixer struct {
	log        *slog.Logger
	sampleRate int
	channels   int
	out        chan media.EncoderOutputEvent
	closed     atomic.Bool

	mixed   atomic.Int64
	dropped atomic.Int64
}

// NewMixer returns a Mixer producing on a buffered encoder channel. If log is
// nil, slog.Default() is used.
func NewMixer(sampleRate, channels int, log *slog.Logger) *Mixer {
	if log == nil {
		log = slog.Default()
	}
	return &Mixer{
		log:        log.With("component", "mixer"),
		sampleRate: sampleRate,
		channels:   channels,
		out:        make(chan media.EncoderOutputEvent, media.EncoderBufferSize),
	}
}

// Output is the encoder output channel consumed by a packet stream.
func (m *Mixer) Output() <-chan media.EncoderOutputEvent {
	return m.out
}

// PushSamples mixes one tick. A full encoder channel drops the chunk rather
// than stalling the scheduler.
func (m *Mixer) PushSamples(set media.SampleSet) {
	if m.closed.Load() {
		return
	}
	pcm := m.Mix(set)
	chunk := media.EncodedChunk{
		Kind: media.KindAudio,
		PTS:  set.Start,
		Data: EncodeL16(pcm),
	}
	select {
	case m.out <- media.ChunkEvent(chunk):
		m.mixed.Add(1)
	default:
		if m.dropped.Add(1) == 1 {
			m.log.Warn("encoder channel full, dropping mixed audio", "pts", set.Start)
		}
	}
}

// Close sends the audio EOS marker and closes the output channel. It must
// not race with PushSamples. If the channel is full the marker is skipped;
// the packet stream emits the end-of-stream packet on close regardless.
func (m *Mixer) Close() {
	if m.closed.Swap(true) {
		return
	}
	select {
	case m.out <- media.AudioEOSEvent():
	default:
		m.log.Warn("encoder channel full, closing without audio EOS marker")
	}
	close(m.out)
	m.log.Info("mixer closed", "mixed", m.mixed.Load(), "dropped", m.dropped.Load())
}

// Mix sums the batches of set that fall inside [set.Start, set.End) into
// interleaved samples, clipping at the int16 range.
func (m *Mixer) Mix(set media.SampleSet) []int16 {
	frames := int((set.End - set.Start) * time.Duration(m.sampleRate) / time.Second)
	acc := make([]int32, frames*m.channels)

	for _, batches := range set.Samples {
		for _, b := range batches {
			if b.SampleRate != m.sampleRate || b.Channels <= 0 {
				continue
			}
			off := int((b.Start - set.Start) * time.Duration(m.sampleRate) / time.Second)
			for i := 0; i < b.Frames(); i++ {
				dst := off + i
				if dst < 0 || dst >= frames {
					continue
				}
				for c := 0; c < m.channels; c++ {
					src := min(c, b.Channels-1)
					acc[dst*m.channels+c] += int32(b.Samples[i*b.Channels+src])
				}
			}
		}
	}

	out := make([]int16, len(acc))
	for i, v := range acc {
		out[i] = int16(min(max(v, math.MinInt16), math.MaxInt16))
	}
	return out
}

// EncodeL16 serializes samples as big-endian 16-bit PCM (RFC 3551).
func EncodeL16(samples []int16) []byte {
	out := make([]byte, 0, len(samples)*2)
	for _, s := range samples {
		out = binary.BigEndian.AppendUint16(out, uint16(s))
	}
	return out
}
