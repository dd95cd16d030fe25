// Package preroll keeps a bounded window of the most recent audio chunks so
// that audio immediately preceding a detected speech onset can be prepended to
// the recorded utterance.
package preroll

import (
	"sync"
	"time"

	"github.com/MrWong99/voxgate/pkg/audio"
)

// Buffer is a FIFO of audio chunks capped by total duration. Pushing a chunk
// evicts the oldest whole chunks until the retained duration is at most the
// configured maximum.
//
// All methods are safe for concurrent use. In particular, [Buffer.Clear] may
// run while a [Buffer.Flatten] is in flight; Flatten always returns a
// consistent copy.
type Buffer struct {
	mu         sync.Mutex
	chunks     [][]float32
	samples    int
	sampleRate int
	maxBuffer  time.Duration
}

// New creates a Buffer for mono audio at sampleRate retaining at most
// maxBuffer of audio. A non-positive maxBuffer retains nothing.
func New(sampleRate int, maxBuffer time.Duration) *Buffer {
	return &Buffer{
		sampleRate: sampleRate,
		maxBuffer:  maxBuffer,
	}
}

// Push appends a copy of chunk and evicts from the front until the retained
// duration fits the cap. Empty chunks are ignored.
func (b *Buffer) Push(chunk []float32) {
	if len(chunk) == 0 {
		return
	}
	cp := make([]float32, len(chunk))
	copy(cp, chunk)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.chunks = append(b.chunks, cp)
	b.samples += len(cp)
	b.evict()
}

// evict drops the oldest chunks while over the cap. Must be called with b.mu
// held.
func (b *Buffer) evict() {
	limit := audio.SamplesFor(b.maxBuffer, b.sampleRate)
	drop := 0
	for drop < len(b.chunks) && b.samples > limit {
		b.samples -= len(b.chunks[drop])
		drop++
	}
	if drop == 0 {
		return
	}
	// Copy survivors so evicted chunks are not pinned by the backing array.
	fresh := make([][]float32, len(b.chunks)-drop, cap(b.chunks))
	copy(fresh, b.chunks[drop:])
	b.chunks = fresh
}

// Flatten concatenates the retained chunks in arrival order into a new
// buffer. An empty buffer is returned when nothing is retained.
func (b *Buffer) Flatten() audio.Buffer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return audio.Concat(b.sampleRate, b.chunks...)
}

// Clear drops all retained audio.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = nil
	b.samples = 0
}

// Duration reports the retained duration.
func (b *Buffer) Duration() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return audio.DurationOf(b.samples, b.sampleRate)
}

// Len reports the number of retained chunks.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}
