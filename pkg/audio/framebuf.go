package audio

// FrameBuffer accumulates PCM samples and releases them in fixed-size
// frames. The carrier delivers audio in whatever chunk sizes it likes;
// the Opus encoder needs exact 20 ms frames. After every Drain the residual
// is strictly smaller than one frame.
//
// Not safe for concurrent use; confine each buffer to a single goroutine.
type FrameBuffer struct {
	frameSize int
	buf       []float32
}

// NewFrameBuffer returns a buffer emitting frames of frameSize samples.
func NewFrameBuffer(frameSize int) *FrameBuffer {
	return &FrameBuffer{frameSize: frameSize}
}

// Push appends samples to the buffer.
func (b *FrameBuffer) Push(samples []float32) {
	b.buf = append(b.buf, samples...)
}

// Drain returns all complete frames accumulated so far and retains the
// remainder. Returned frames stay valid after subsequent Push calls; the
// residual is copied to a fresh backing array.
func (b *FrameBuffer) Drain() [][]float32 {
	n := len(b.buf) / b.frameSize
	if n == 0 {
		return nil
	}

	frames := make([][]float32, n)
	for i := range frames {
		frames[i] = b.buf[i*b.frameSize : (i+1)*b.frameSize : (i+1)*b.frameSize]
	}

	rest := len(b.buf) - n*b.frameSize
	remaining := make([]float32, rest, b.frameSize+rest)
	copy(remaining, b.buf[n*b.frameSize:])
	b.buf = remaining
	return frames
}

// Pending reports how many samples are buffered short of a complete frame.
func (b *FrameBuffer) Pending() int {
	return len(b.buf)
}
