package synth

import (
	"context"
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/zsiec/cadence/media"
)

func constBatch(start time.Duration, frames int, v int16) media.SampleBatch {
	s := make([]int16, frames)
	for i := range s {
		s[i] = v
	}
	return media.SampleBatch{Samples: s, Start: start, SampleRate: 1000, Channels: 1}
}

func TestMixSumsAndClips(t *testing.T) {
	t.Parallel()

	m := NewMixer(1000, 1, nil)
	set := media.SampleSet{
		Start: 10 * time.Millisecond,
		End:   20 * time.Millisecond,
		Samples: map[media.InputID][]media.SampleBatch{
			// Starts 5ms before the range: only its last 5 frames land.
			"a": {constBatch(5*time.Millisecond, 10, 100)},
			"b": {constBatch(10*time.Millisecond, 10, 30000)},
			"c": {constBatch(10*time.Millisecond, 10, 30000)},
		},
	}

	out := m.Mix(set)
	if len(out) != 10 {
		t.Fatalf("frames: got %d, want 10", len(out))
	}
	for i, v := range out {
		if v != math.MaxInt16 {
			t.Errorf("frame %d: got %d, want clipped %d", i, v, math.MaxInt16)
		}
	}

	set.Samples = map[media.InputID][]media.SampleBatch{"a": {constBatch(5*time.Millisecond, 10, 100)}}
	out = m.Mix(set)
	for i, v := range out {
		want := int16(0)
		if i < 5 {
			want = 100
		}
		if v != want {
			t.Errorf("partial frame %d: got %d, want %d", i, v, want)
		}
	}
}

func TestMixUpmixesMono(t *testing.T) {
	t.Parallel()

	m := NewMixer(1000, 2, nil)
	out := m.Mix(media.SampleSet{
		Start:   0,
		End:     2 * time.Millisecond,
		Samples: map[media.InputID][]media.SampleBatch{"mono": {constBatch(0, 2, 7)}},
	})
	want := []int16{7, 7, 7, 7}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, out[i], want[i])
		}
	}
}

func TestPushSamplesEmitsL16(t *testing.T) {
	t.Parallel()

	m := NewMixer(1000, 1, nil)
	m.PushSamples(media.SampleSet{
		Start:   40 * time.Millisecond,
		End:     42 * time.Millisecond,
		Samples: map[media.InputID][]media.SampleBatch{"a": {constBatch(40*time.Millisecond, 2, -2)}},
	})
	m.Close()
	m.Close()

	ev := <-m.Output()
	if ev.Type != media.EncoderData || ev.Chunk.Kind != media.KindAudio || ev.Chunk.PTS != 40*time.Millisecond {
		t.Fatalf("chunk: got %+v", ev)
	}
	if got := int16(binary.BigEndian.Uint16(ev.Chunk.Data)); got != -2 || len(ev.Chunk.Data) != 4 {
		t.Errorf("L16: got %x", ev.Chunk.Data)
	}
	if ev := <-m.Output(); ev.Type != media.EncoderAudioEOS {
		t.Errorf("second event: got %v, want audio EOS", ev.Type)
	}
	if _, ok := <-m.Output(); ok {
		t.Error("output channel should be closed")
	}
}

func TestToneRunEndsWithEOS(t *testing.T) {
	t.Parallel()

	tone := Tone{
		FrequencyHz: 440,
		Amplitude:   0.5,
		SampleRate:  48000,
		Channels:    2,
		Batch:       5 * time.Millisecond,
		Origin:      time.Second,
		Duration:    20 * time.Millisecond,
	}
	ch := make(chan media.PipelineEvent[media.SampleBatch], 16)
	if err := tone.Run(context.Background(), ch); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var batches []media.SampleBatch
	var eos bool
	for ev := range ch {
		if ev.EOS {
			eos = true
			continue
		}
		batches = append(batches, ev.Data)
	}
	if !eos {
		t.Error("expected EOS marker")
	}
	if len(batches) != 4 {
		t.Fatalf("batches: got %d, want 4", len(batches))
	}
	for i, b := range batches {
		want := time.Second + time.Duration(i)*5*time.Millisecond
		if b.Start != want || b.Duration() != 5*time.Millisecond {
			t.Errorf("batch %d: start %v dur %v, want %v 5ms", i, b.Start, b.Duration(), want)
		}
	}
}

func TestToneRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ch := make(chan media.PipelineEvent[media.SampleBatch])
	tone := Tone{FrequencyHz: 1, SampleRate: 1000, Batch: time.Millisecond, StartDelay: time.Hour}
	if err := tone.Run(ctx, ch); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("channel should be closed without data")
	}
}
