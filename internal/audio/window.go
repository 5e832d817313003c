package audio

import "time"

// Window is a batch of mono samples sent to the backend as one unit.
type Window []int16

// WindowSamples converts a window duration into a sample count.
func WindowSamples(sampleRate int, d time.Duration) int {
	return int(int64(sampleRate) * int64(d) / int64(time.Second))
}

// Silence returns an all-zero window of size samples.
func Silence(size int) Window {
	return make(Window, size)
}

// WindowBuffer accumulates mono samples across chunk boundaries and hands
// out fixed-size windows in FIFO order. After every Ingest it holds fewer
// than one window of samples.
//
// Not safe for concurrent use: each session owns one buffer and touches it
// only from its inbound loop.
type WindowBuffer struct {
	size    int
	pending []int16
}

func NewWindowBuffer(size int) *WindowBuffer {
	if size <= 0 {
		panic("audio: window size must be positive")
	}
	return &WindowBuffer{
		size:    size,
		pending: make([]int16, 0, size),
	}
}

func (b *WindowBuffer) Size() int    { return b.size }
func (b *WindowBuffer) Pending() int { return len(b.pending) }

// Ingest appends samples and returns every full window now available.
func (b *WindowBuffer) Ingest(samples []int16) []Window {
	b.pending = append(b.pending, samples...)
	if len(b.pending) < b.size {
		return nil
	}

	out := make([]Window, 0, len(b.pending)/b.size)
	off := 0
	for len(b.pending)-off >= b.size {
		w := make(Window, b.size)
		copy(w, b.pending[off:off+b.size])
		out = append(out, w)
		off += b.size
	}

	// Move the remainder to a fresh backing array so it stays bounded.
	rest := make([]int16, len(b.pending)-off, b.size)
	copy(rest, b.pending[off:])
	b.pending = rest
	return out
}

// Flush returns the buffered remainder as a short window, or nil when
// nothing is buffered, and resets the buffer.
func (b *WindowBuffer) Flush() Window {
	if len(b.pending) == 0 {
		return nil
	}
	w := Window(b.pending)
	b.pending = make([]int16, 0, b.size)
	return w
}
