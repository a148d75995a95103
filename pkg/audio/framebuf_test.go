package audio_test

import (
	"testing"

	"github.com/antiphonal/crosstalk/pkg/audio"
)

func TestFrameBuffer_DrainCompleteFrames(t *testing.T) {
	b := audio.NewFrameBuffer(480)
	b.Push(make([]float32, 480*2+100))

	frames := b.Drain()
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	for i, f := range frames {
		if len(f) != 480 {
			t.Errorf("frame %d: got %d samples, want 480", i, len(f))
		}
	}
	if b.Pending() != 100 {
		t.Errorf("pending: got %d, want 100", b.Pending())
	}
}

func TestFrameBuffer_EmptyDrain(t *testing.T) {
	b := audio.NewFrameBuffer(480)
	if frames := b.Drain(); frames != nil {
		t.Errorf("expected nil, got %d frames", len(frames))
	}
	b.Push(make([]float32, 479))
	if frames := b.Drain(); frames != nil {
		t.Errorf("expected nil below one frame, got %d frames", len(frames))
	}
	if b.Pending() != 479 {
		t.Errorf("pending: got %d, want 479", b.Pending())
	}
}

func TestFrameBuffer_ResidualAlwaysUnderFrameSize(t *testing.T) {
	b := audio.NewFrameBuffer(480)
	// Mixed chunk sizes as a carrier might deliver them.
	for _, n := range []int{160, 160, 320, 479, 481, 1, 960, 333} {
		b.Push(make([]float32, n))
		b.Drain()
		if b.Pending() >= 480 {
			t.Fatalf("after push of %d: residual %d >= 480", n, b.Pending())
		}
	}
}

func TestFrameBuffer_PreservesSampleOrder(t *testing.T) {
	b := audio.NewFrameBuffer(4)
	b.Push([]float32{0, 1, 2})
	b.Push([]float32{3, 4, 5, 6, 7, 8})

	frames := b.Drain()
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	next := float32(0)
	for _, f := range frames {
		for _, s := range f {
			if s != next {
				t.Fatalf("got sample %f, want %f", s, next)
			}
			next++
		}
	}
	if b.Pending() != 1 {
		t.Errorf("pending: got %d, want 1", b.Pending())
	}
}

func TestFrameBuffer_FramesSurviveLaterPushes(t *testing.T) {
	b := audio.NewFrameBuffer(4)
	b.Push([]float32{1, 1, 1, 1, 9})
	frames := b.Drain()
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}

	b.Push(make([]float32, 16)) // zeros; must not clobber the drained frame
	b.Drain()

	for i, s := range frames[0] {
		if s != 1 {
			t.Errorf("drained frame mutated at %d: got %f, want 1", i, s)
		}
	}
}
