package preroll_test

import (
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxgate/internal/preroll"
)

func chunk(n int, v float32) []float32 {
	c := make([]float32, n)
	for i := range c {
		c[i] = v
	}
	return c
}

func TestBuffer_EmptyFlatten(t *testing.T) {
	t.Parallel()

	b := preroll.New(16000, 300*time.Millisecond)
	got := b.Flatten()
	if !got.Empty() {
		t.Errorf("Flatten on empty buffer returned %d samples", got.Len())
	}
	if got.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", got.SampleRate)
	}
	if b.Duration() != 0 {
		t.Errorf("Duration = %v, want 0", b.Duration())
	}
}

func TestBuffer_FIFOEviction(t *testing.T) {
	t.Parallel()

	// 100 ms chunks (1600 samples) with a 300 ms cap.
	b := preroll.New(16000, 300*time.Millisecond)
	for i := range 5 {
		b.Push(chunk(1600, float32(i+1)))
		if d := b.Duration(); d > 300*time.Millisecond {
			t.Fatalf("after push %d: duration %v exceeds cap", i, d)
		}
	}

	if b.Len() != 3 {
		t.Fatalf("Len = %d, want 3", b.Len())
	}
	got := b.Flatten()
	if got.Len() != 4800 {
		t.Fatalf("Flatten len = %d, want 4800", got.Len())
	}
	// Chunks 3, 4, 5 survive in arrival order.
	for i, want := range []float32{3, 4, 5} {
		if s := got.Samples[i*1600]; s != want {
			t.Errorf("chunk %d starts with %v, want %v", i, s, want)
		}
	}
}

func TestBuffer_UnevenChunks(t *testing.T) {
	t.Parallel()

	b := preroll.New(16000, 100*time.Millisecond)
	b.Push(chunk(1000, 1)) // 62.5 ms
	b.Push(chunk(1000, 2)) // total 125 ms → evict first
	if b.Len() != 1 {
		t.Fatalf("Len = %d, want 1", b.Len())
	}
	if got := b.Flatten().Samples[0]; got != 2 {
		t.Errorf("retained chunk = %v, want 2", got)
	}
}

func TestBuffer_OversizeChunkEvicted(t *testing.T) {
	t.Parallel()

	b := preroll.New(16000, 50*time.Millisecond)
	b.Push(chunk(1600, 1)) // 100 ms, larger than the cap on its own
	if b.Len() != 0 || b.Duration() != 0 {
		t.Errorf("Len = %d, Duration = %v, want empty", b.Len(), b.Duration())
	}
}

func TestBuffer_PushCopiesInput(t *testing.T) {
	t.Parallel()

	b := preroll.New(16000, time.Second)
	in := chunk(10, 0.5)
	b.Push(in)
	in[0] = 0.9
	if got := b.Flatten().Samples[0]; got != 0.5 {
		t.Errorf("retained sample = %v, want 0.5 (input must be copied)", got)
	}
}

func TestBuffer_FlattenReturnsCopy(t *testing.T) {
	t.Parallel()

	b := preroll.New(16000, time.Second)
	b.Push(chunk(10, 0.5))
	out := b.Flatten()
	out.Samples[0] = 0.9
	if got := b.Flatten().Samples[0]; got != 0.5 {
		t.Errorf("retained sample = %v, want 0.5", got)
	}
}

func TestBuffer_Clear(t *testing.T) {
	t.Parallel()

	b := preroll.New(16000, time.Second)
	b.Push(chunk(320, 1))
	b.Push(nil)
	b.Clear()
	if b.Len() != 0 || b.Duration() != 0 || !b.Flatten().Empty() {
		t.Error("buffer not empty after Clear")
	}
}

func TestBuffer_ConcurrentClearAndFlatten(t *testing.T) {
	t.Parallel()

	b := preroll.New(16000, 200*time.Millisecond)
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for range 500 {
			b.Push(chunk(320, 1))
		}
	}()
	go func() {
		defer wg.Done()
		for range 500 {
			got := b.Flatten()
			if got.Len()%320 != 0 {
				t.Errorf("Flatten returned a partial chunk: %d samples", got.Len())
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for range 100 {
			b.Clear()
		}
	}()
	wg.Wait()
}
