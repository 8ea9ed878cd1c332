// Package media defines the sample, chunk and event types that flow through
// the cadence core, from per-input delivery channels through the
// synchronization queue to the encoder output channel.
package media

import "time"

// Channel buffer sizes shared by producers and the core. Sized to absorb
// scheduler jitter: ~2.5s of 20ms audio batches, ~2s of 30fps video.
const (
	InputBufferSize   = 128
	EncoderBufferSize = 64
)

// InputID identifies one input stream for its whole lifetime.
type InputID string

// OutputID identifies one output stream for its whole lifetime.
type OutputID string

// SampleBatch is a contiguous run of interleaved PCM samples belonging to a
// single stream. Start is relative to the stream's own origin until the
// queue rewrites it onto the queue clock.
type SampleBatch struct {
	Samples    []int16
	Start      time.Duration
	SampleRate int
	Channels   int
}

// Frames returns the number of sample frames (one sample per channel).
func (b SampleBatch) Frames() int {
	if b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Duration returns the playback duration of the batch.
func (b SampleBatch) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// End returns Start + Duration.
func (b SampleBatch) End() time.Duration {
	return b.Start + b.Duration()
}

// PipelineEvent is one item on a delivery channel: either a data payload or
// an end-of-stream marker.
type PipelineEvent[T any] struct {
	Data T
	EOS  bool
}

// DataEvent wraps v as a data event.
func DataEvent[T any](v T) PipelineEvent[T] {
	return PipelineEvent[T]{Data: v}
}

// EOSEvent returns an end-of-stream marker.
func EOSEvent[T any]() PipelineEvent[T] {
	return PipelineEvent[T]{EOS: true}
}

// PTSRange is the half-open interval [Start, End) on the queue clock.
type PTSRange struct {
	Start time.Duration
	End   time.Duration
}

// Contains reports whether pts lies within [Start, End).
func (r PTSRange) Contains(pts time.Duration) bool {
	return pts >= r.Start && pts < r.End
}

// SampleSet is the result of reconciling every input for one PTS range.
// Batch timestamps are expressed on the queue clock.
type SampleSet struct {
	Samples map[InputID][]SampleBatch
	Start   time.Duration
	End     time.Duration
}

// Kind distinguishes audio from video payloads.
type Kind int

// Media kinds.
const (
	KindAudio Kind = iota
	KindVideo
)

func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindVideo:
		return "video"
	default:
		return "unknown"
	}
}

// EncodedChunk is one unit of encoder output (an audio frame or a video
// access unit) ready to be split into transport packets.
type EncodedChunk struct {
	Kind       Kind
	PTS        time.Duration
	Data       []byte
	IsKeyframe bool
}

// EncoderEventType tags an EncoderOutputEvent.
type EncoderEventType int

// Encoder output event types.
const (
	EncoderData EncoderEventType = iota
	EncoderAudioEOS
	EncoderVideoEOS
)

// EncoderOutputEvent is one event on an encoder output channel. Chunk is
// only meaningful when Type is EncoderData.
type EncoderOutputEvent struct {
	Type  EncoderEventType
	Chunk EncodedChunk
}

// ChunkEvent wraps an encoded chunk as a data event.
func ChunkEvent(c EncodedChunk) EncoderOutputEvent {
	return EncoderOutputEvent{Type: EncoderData, Chunk: c}
}

// AudioEOSEvent marks the end of the audio track.
func AudioEOSEvent() EncoderOutputEvent {
	return EncoderOutputEvent{Type: EncoderAudioEOS}
}

// VideoEOSEvent marks the end of the video track.
func VideoEOSEvent() EncoderOutputEvent {
	return EncoderOutputEvent{Type: EncoderVideoEOS}
}
