package queue

import (
	"testing"
	"time"

	"github.com/zsiec/cadence/media"
)

const testSampleRate = 48000

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func durPtr(d time.Duration) *time.Duration { return &d }

// batch builds a stereo batch starting at start lasting dur.
func batch(start, dur time.Duration) media.SampleBatch {
	frames := int(dur * testSampleRate / time.Second)
	return media.SampleBatch{
		Samples:    make([]int16, frames*2),
		Start:      start,
		SampleRate: testSampleRate,
		Channels:   2,
	}
}

// sendRun pushes n consecutive 20ms batches beginning at from.
func sendRun(ch chan media.PipelineEvent[media.SampleBatch], from time.Duration, n int) {
	for i := 0; i < n; i++ {
		ch <- media.DataEvent(batch(from+time.Duration(i)*ms(20), ms(20)))
	}
}

func newChan() chan media.PipelineEvent[media.SampleBatch] {
	return make(chan media.PipelineEvent[media.SampleBatch], media.InputBufferSize)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func starts(batches []media.SampleBatch) []time.Duration {
	out := make([]time.Duration, len(batches))
	for i, b := range batches {
		out[i] = b.Start
	}
	return out
}

func TestRequiredWithOptionalFutureOffset(t *testing.T) {
	t.Parallel()

	base := time.Unix(1000, 0)
	q := New(Config{Start: base, BufferDuration: ms(40), Now: fixedClock(base)})

	a, b := newChan(), newChan()
	q.AddInput("a", a, InputOptions{Required: true, Offset: durPtr(0)})
	q.AddInput("b", b, InputOptions{Offset: durPtr(ms(2000))})

	sendRun(a, 0, 50)

	r := media.PTSRange{Start: 0, End: ms(1000)}
	if !q.IsReadyForRange(r, false) {
		t.Fatal("expected ready: b is optional and starts after the range")
	}

	set := q.PopSampleSet(r)
	if set.Start != r.Start || set.End != r.End {
		t.Errorf("range: got [%v,%v), want [%v,%v)", set.Start, set.End, r.Start, r.End)
	}
	if got := len(set.Samples["a"]); got != 50 {
		t.Errorf("a batches: got %d, want 50", got)
	}
	bs, ok := set.Samples["b"]
	if !ok {
		t.Fatal("b missing from sample set")
	}
	if len(bs) != 0 {
		t.Errorf("b batches: got %d, want 0", len(bs))
	}
}

func TestFixedOffsetMapping(t *testing.T) {
	t.Parallel()

	base := time.Unix(1000, 0)
	q := New(Config{Start: base, Now: fixedClock(base)})
	ch := newChan()
	q.AddInput("in", ch, InputOptions{Offset: durPtr(ms(500))})
	sendRun(ch, 0, 5)

	in := q.inputs["in"]
	if _, ok := in.inputPTS(ms(499), base); ok {
		t.Error("queue pts before offset should be unmapped")
	}
	got, ok := in.inputPTS(ms(520), base)
	if !ok || got != ms(20) {
		t.Errorf("inputPTS(520ms): got %v,%v, want 20ms,true", got, ok)
	}

	set := q.PopSampleSet(media.PTSRange{Start: ms(500), End: ms(560)})
	want := []time.Duration{ms(500), ms(520), ms(540)}
	gotStarts := starts(set.Samples["in"])
	if len(gotStarts) != len(want) {
		t.Fatalf("starts: got %v, want %v", gotStarts, want)
	}
	for i := range want {
		if gotStarts[i] != want[i] {
			t.Errorf("start[%d]: got %v, want %v", i, gotStarts[i], want[i])
		}
	}
}

func TestStartTimeMapping(t *testing.T) {
	t.Parallel()

	base := time.Unix(1000, 0)
	started := base.Add(ms(500))
	q := New(Config{Start: base, BufferDuration: ms(40), Now: fixedClock(started)})
	ch := newChan()
	q.AddInput("in", ch, InputOptions{Required: true})

	// Stream-local clock starts at 100ms; the processor rebases it to 0.
	sendRun(ch, ms(100), 3)

	if !q.IsReadyForRange(media.PTSRange{Start: 0, End: ms(20)}, true) {
		t.Error("input starting after the range should be ready")
	}
	if q.HasPendingRequiredStart(ms(480)) {
		t.Error("no required input should be pending before its start time")
	}
	if !q.HasPendingRequiredStart(ms(500)) {
		t.Error("required input should be pending at its start time")
	}

	set := q.PopSampleSet(media.PTSRange{Start: ms(500), End: ms(520)})
	got := starts(set.Samples["in"])
	if len(got) != 1 || got[0] != ms(500) {
		t.Errorf("starts: got %v, want [500ms]", got)
	}

	set = q.PopSampleSet(media.PTSRange{Start: ms(510), End: ms(530)})
	got = starts(set.Samples["in"])
	if len(got) != 2 || got[0] != ms(500) || got[1] != ms(520) {
		t.Errorf("partial overlap starts: got %v, want [500ms 520ms]", got)
	}
}

func TestPopBoundaries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		r    media.PTSRange
		want []time.Duration
	}{
		{"exact batch", media.PTSRange{Start: ms(20), End: ms(40)}, []time.Duration{ms(20)}},
		{"straddles two", media.PTSRange{Start: ms(10), End: ms(30)}, []time.Duration{0, ms(20)}},
		{"whole buffer", media.PTSRange{Start: 0, End: ms(60)}, []time.Duration{0, ms(20), ms(40)}},
		{"past the end", media.PTSRange{Start: ms(60), End: ms(80)}, nil},
		{"ends on batch start", media.PTSRange{Start: ms(5), End: ms(20)}, []time.Duration{0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			base := time.Unix(1000, 0)
			q := New(Config{Start: base, Now: fixedClock(base)})
			ch := newChan()
			q.AddInput("in", ch, InputOptions{Offset: durPtr(0)})
			sendRun(ch, 0, 3)

			got := starts(q.PopSampleSet(tt.r).Samples["in"])
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("start[%d]: got %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestPopEvictsConsumedBatches(t *testing.T) {
	t.Parallel()

	base := time.Unix(1000, 0)
	q := New(Config{Start: base, Now: fixedClock(base)})
	ch := newChan()
	q.AddInput("in", ch, InputOptions{Offset: durPtr(0)})
	sendRun(ch, 0, 10)

	r1 := media.PTSRange{Start: 0, End: ms(100)}
	q.PopSampleSet(r1)

	r2 := media.PTSRange{Start: ms(100), End: ms(200)}
	for _, b := range q.PopSampleSet(r2).Samples["in"] {
		if b.End() <= r2.Start {
			t.Errorf("batch [%v,%v) ends before %v", b.Start, b.End(), r2.Start)
		}
	}
	if n := len(q.inputs["in"].buf); n != 1 {
		t.Errorf("retained batches: got %d, want 1", n)
	}
}

func TestRequiredNotReadyWithoutData(t *testing.T) {
	t.Parallel()

	base := time.Unix(1000, 0)
	q := New(Config{Start: base, Now: fixedClock(base)})
	q.AddInput("req", newChan(), InputOptions{Required: true, Offset: durPtr(0)})

	r := media.PTSRange{Start: 0, End: ms(20)}
	if q.IsReadyForRange(r, true) {
		t.Error("required input without data should not be ready")
	}
	if !q.HasPendingRequiredStart(0) {
		t.Error("required input with offset 0 should be pending at 0")
	}
}

func TestOptionalNotRequiredForRequiredOnly(t *testing.T) {
	t.Parallel()

	base := time.Unix(1000, 0)
	q := New(Config{Start: base, Now: fixedClock(base)})
	q.AddInput("opt", newChan(), InputOptions{Offset: durPtr(0)})

	r := media.PTSRange{Start: 0, End: ms(20)}
	if !q.IsReadyForRange(r, true) {
		t.Error("requiredOnly check should ignore optional inputs")
	}
	if q.IsReadyForRange(r, false) {
		t.Error("optional input without data should not be ready in the full check")
	}
}

func TestBufferingInputPolicy(t *testing.T) {
	t.Parallel()

	base := time.Unix(1000, 0)
	q := New(Config{Start: base, BufferDuration: ms(100), Now: fixedClock(base)})
	opt, req := newChan(), newChan()
	q.AddInput("opt", opt, InputOptions{})
	q.AddInput("req", req, InputOptions{Required: true})
	sendRun(opt, 0, 1)
	sendRun(req, 0, 1)

	r := media.PTSRange{Start: 0, End: ms(20)}
	if q.IsReadyForRange(r, true) {
		t.Error("buffering required input should not be ready")
	}

	q.RemoveInput("req")
	if !q.IsReadyForRange(r, false) {
		t.Error("buffering optional input should be ready-but-empty")
	}
	if got := q.PopSampleSet(r).Samples["opt"]; len(got) != 0 {
		t.Errorf("buffering input contributed %d batches", len(got))
	}
}

func TestEOSAndClosedChannel(t *testing.T) {
	t.Parallel()

	base := time.Unix(1000, 0)
	q := New(Config{Start: base, BufferDuration: ms(100), Now: fixedClock(base)})

	eos := newChan()
	eos <- media.EOSEvent[media.SampleBatch]()
	q.AddInput("eos", eos, InputOptions{Required: true, Offset: durPtr(0)})

	closed := newChan()
	sendRun(closed, 0, 1)
	close(closed)
	q.AddInput("closed", closed, InputOptions{Required: true, Offset: durPtr(0)})

	r := media.PTSRange{Start: ms(200), End: ms(220)}
	if !q.IsReadyForRange(r, true) {
		t.Error("inputs at EOS should be ready")
	}
	for _, s := range q.Stats() {
		if !s.EOS {
			t.Errorf("input %s: expected EOS in stats", s.ID)
		}
	}
}

func TestReadyReturnsFalseUntilCovered(t *testing.T) {
	t.Parallel()

	base := time.Unix(1000, 0)
	q := New(Config{Start: base, Now: fixedClock(base)})
	ch := newChan()
	q.AddInput("in", ch, InputOptions{Required: true, Offset: durPtr(0)})
	sendRun(ch, 0, 2)

	r := media.PTSRange{Start: ms(40), End: ms(60)}
	if q.IsReadyForRange(r, true) {
		t.Fatal("data ends at 40ms; 40ms is not covered yet")
	}
	sendRun(ch, ms(40), 1)
	if !q.IsReadyForRange(r, true) {
		t.Error("expected ready once a batch covering 40ms arrived")
	}
}

func TestDropOlderThan(t *testing.T) {
	t.Parallel()

	base := time.Unix(1000, 0)
	q := New(Config{Start: base, Now: fixedClock(base)})
	ch := newChan()
	q.AddInput("in", ch, InputOptions{Offset: durPtr(ms(100))})
	sendRun(ch, 0, 5)
	q.IsReadyForRange(media.PTSRange{Start: ms(180), End: ms(200)}, false)

	q.DropOlderThan(ms(50))
	if n := len(q.inputs["in"].buf); n != 5 {
		t.Errorf("drop before offset: got %d batches, want 5", n)
	}

	q.DropOlderThan(ms(150))
	got := starts(q.inputs["in"].buf)
	if len(got) != 3 || got[0] != ms(40) {
		t.Errorf("after drop: got %v, want starts from 40ms", got)
	}
}

func TestAddRemoveInput(t *testing.T) {
	t.Parallel()

	q := New(Config{})
	q.RemoveInput("missing")

	first := newChan()
	sendRun(first, 0, 3)
	q.AddInput("x", first, InputOptions{Offset: durPtr(0)})
	q.IsReadyForRange(media.PTSRange{Start: ms(40), End: ms(60)}, false)

	q.AddInput("x", newChan(), InputOptions{Offset: durPtr(0)})
	if n := len(q.inputs["x"].buf); n != 0 {
		t.Errorf("re-added input: got %d batches, want 0", n)
	}

	q.RemoveInput("x")
	if len(q.Stats()) != 0 {
		t.Errorf("stats after remove: got %d inputs, want 0", len(q.Stats()))
	}
	if got := q.PopSampleSet(media.PTSRange{Start: 0, End: ms(20)}); len(got.Samples) != 0 {
		t.Errorf("sample set after remove: got %d inputs, want 0", len(got.Samples))
	}
}
