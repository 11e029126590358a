package audio

import (
	"sync"
	"testing"
)

func TestSampleBufferProduceDrain(t *testing.T) {
	buf := NewSampleBuffer(4)

	for i := 0; i < 3; i++ {
		if !buf.Produce(float32(i)) {
			t.Fatalf("Produce(%d) = false, want true", i)
		}
	}
	if buf.Len() != 3 {
		t.Errorf("Len() = %d, want 3", buf.Len())
	}

	dst := make([]float32, 2)
	if n := buf.DrainInto(dst); n != 2 {
		t.Fatalf("DrainInto() = %d, want 2", n)
	}
	if dst[0] != 0 || dst[1] != 1 {
		t.Errorf("drained %v, want [0 1]", dst)
	}

	rest := buf.DrainUpTo(10)
	if len(rest) != 1 || rest[0] != 2 {
		t.Errorf("DrainUpTo(10) = %v, want [2]", rest)
	}
	if buf.Len() != 0 {
		t.Errorf("Len() = %d after draining, want 0", buf.Len())
	}
}

func TestSampleBufferDropsNewestOnOverflow(t *testing.T) {
	buf := NewSampleBuffer(3)

	for i := 0; i < 5; i++ {
		buf.Produce(float32(i))
	}

	if buf.Dropped() != 2 {
		t.Errorf("Dropped() = %d, want 2", buf.Dropped())
	}

	got := buf.DrainUpTo(5)
	want := []float32{0, 1, 2}
	if len(got) != len(want) {
		t.Fatalf("drained %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %f, want %f", i, got[i], want[i])
		}
	}
}

func TestSampleBufferWrapsAround(t *testing.T) {
	buf := NewSampleBuffer(3)
	dst := make([]float32, 2)

	next := float32(0)
	for round := 0; round < 10; round++ {
		buf.Produce(next)
		buf.Produce(next + 1)
		if n := buf.DrainInto(dst); n != 2 {
			t.Fatalf("round %d: DrainInto() = %d, want 2", round, n)
		}
		if dst[0] != next || dst[1] != next+1 {
			t.Fatalf("round %d: drained %v, want [%v %v]", round, dst, next, next+1)
		}
		next += 2
	}
}

func TestSampleBufferDrainEmpty(t *testing.T) {
	buf := NewSampleBuffer(8)

	if got := buf.DrainUpTo(4); len(got) != 0 {
		t.Errorf("DrainUpTo on empty buffer = %v, want empty", got)
	}
	if got := buf.DrainUpTo(0); got != nil {
		t.Errorf("DrainUpTo(0) = %v, want nil", got)
	}
	if n := buf.DrainInto(make([]float32, 4)); n != 0 {
		t.Errorf("DrainInto on empty buffer = %d, want 0", n)
	}
}

func TestSampleBufferMinimumCapacity(t *testing.T) {
	buf := NewSampleBuffer(0)
	if buf.Cap() != 1 {
		t.Errorf("Cap() = %d, want 1", buf.Cap())
	}
}

func TestSampleBufferConcurrentProducerConsumer(t *testing.T) {
	const total = 100000
	buf := NewSampleBuffer(1024)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; {
			if buf.Produce(float32(i)) {
				i++
			}
		}
	}()

	dst := make([]float32, 256)
	want := float32(0)
	for want < total {
		n := buf.DrainInto(dst)
		for _, s := range dst[:n] {
			if s != want {
				t.Fatalf("out of order sample: got %f, want %f", s, want)
			}
			want++
		}
	}
	wg.Wait()
}
