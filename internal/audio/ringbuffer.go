package audio

import "sync/atomic"

// SampleBuffer is a bounded single-producer/single-consumer queue of mono
// float32 samples. The producer side (the capture callback) never blocks and
// never allocates; when the buffer is full the newest sample is dropped.
//
// Exactly one goroutine may call Produce and exactly one goroutine may call
// DrainInto/DrainUpTo.
type SampleBuffer struct {
	buf  []float32
	size uint64

	head    atomic.Uint64 // next slot to read, owned by the consumer
	tail    atomic.Uint64 // next slot to write, owned by the producer
	dropped atomic.Uint64
}

// NewSampleBuffer allocates a buffer holding up to capacity samples.
// Capacity is fixed for the lifetime of the buffer.
func NewSampleBuffer(capacity int) *SampleBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &SampleBuffer{
		buf:  make([]float32, capacity),
		size: uint64(capacity),
	}
}

// Produce appends one sample. It reports false, and counts the sample as
// dropped, when the buffer is full.
func (b *SampleBuffer) Produce(sample float32) bool {
	tail := b.tail.Load()
	if tail-b.head.Load() >= b.size {
		b.dropped.Add(1)
		return false
	}
	b.buf[tail%b.size] = sample
	b.tail.Store(tail + 1)
	return true
}

// DrainInto moves up to len(dst) buffered samples into dst and returns how
// many were written. It never blocks.
func (b *SampleBuffer) DrainInto(dst []float32) int {
	head := b.head.Load()
	n := b.tail.Load() - head
	if n > uint64(len(dst)) {
		n = uint64(len(dst))
	}
	for i := uint64(0); i < n; i++ {
		dst[i] = b.buf[(head+i)%b.size]
	}
	b.head.Store(head + n)
	return int(n)
}

// DrainUpTo returns at most n buffered samples in a freshly allocated slice.
// Fewer than n are returned when fewer are available.
func (b *SampleBuffer) DrainUpTo(n int) []float32 {
	if n <= 0 {
		return nil
	}
	if avail := b.Len(); avail < n {
		n = avail
	}
	out := make([]float32, n)
	return out[:b.DrainInto(out)]
}

// Len returns the number of samples currently buffered.
func (b *SampleBuffer) Len() int {
	return int(b.tail.Load() - b.head.Load())
}

// Cap returns the fixed capacity in samples.
func (b *SampleBuffer) Cap() int {
	return int(b.size)
}

// Dropped returns how many samples were discarded because the buffer was full.
func (b *SampleBuffer) Dropped() uint64 {
	return b.dropped.Load()
}
