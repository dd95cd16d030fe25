// Package mock provides a recording [sink.Sink] for unit tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxgate/internal/sink"
	"github.com/MrWong99/voxgate/internal/utterance"
)

// Delivery records one call to [Sink.Deliver].
type Delivery struct {
	SessionID string
	Result    utterance.Result
}

// Sink records every delivery. Set DeliverErr to make deliveries fail.
// When C is non-nil every recorded delivery is also sent to it.
type Sink struct {
	mu sync.Mutex

	// DeliverErr is returned by every Deliver call.
	DeliverErr error

	// CloseErr is returned by Close.
	CloseErr error

	// C receives a copy of every delivery. Sends block, so size it for the
	// test.
	C chan Delivery

	deliveries []Delivery
	closeCalls int
}

// Deliver implements [sink.Sink].
func (s *Sink) Deliver(_ context.Context, sessionID string, res utterance.Result) error {
	s.mu.Lock()
	d := Delivery{SessionID: sessionID, Result: res}
	s.deliveries = append(s.deliveries, d)
	err := s.DeliverErr
	ch := s.C
	s.mu.Unlock()
	if ch != nil {
		ch <- d
	}
	return err
}

// Close implements [sink.Sink].
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	return s.CloseErr
}

// Deliveries returns a copy of the recorded deliveries.
func (s *Sink) Deliveries() []Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Delivery, len(s.deliveries))
	copy(out, s.deliveries)
	return out
}

// CloseCalls returns how many times Close was called.
func (s *Sink) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

var _ sink.Sink = (*Sink)(nil)
