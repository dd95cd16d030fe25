package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/voxgate/internal/sink"
	"github.com/MrWong99/voxgate/internal/utterance"
)

// SinkGuard wraps a [sink.Sink] in a [CircuitBreaker]. While the breaker is
// open deliveries fail fast instead of waiting on a broken destination.
type SinkGuard struct {
	next    sink.Sink
	breaker *CircuitBreaker
}

var _ sink.Sink = (*SinkGuard)(nil)

// GuardSink wraps next. cfg.Name should identify the sink.
func GuardSink(next sink.Sink, cfg BreakerConfig) *SinkGuard {
	return &SinkGuard{next: next, breaker: NewCircuitBreaker(cfg)}
}

// Deliver implements [sink.Sink].
func (g *SinkGuard) Deliver(ctx context.Context, sessionID string, res utterance.Result) error {
	err := g.breaker.Execute(func() error {
		return g.next.Deliver(ctx, sessionID, res)
	})
	if errors.Is(err, ErrCircuitOpen) {
		return fmt.Errorf("sink %s: %w", g.breaker.Name(), err)
	}
	return err
}

// Close implements [sink.Sink]. The wrapped sink is closed regardless of the
// breaker state.
func (g *SinkGuard) Close() error { return g.next.Close() }

// Check reports an error while the breaker is open. It fits
// [health.Checker].
func (g *SinkGuard) Check(context.Context) error {
	if s := g.breaker.State(); s == StateOpen {
		return fmt.Errorf("sink %s: circuit %s", g.breaker.Name(), s)
	}
	return nil
}

// Name returns the breaker name.
func (g *SinkGuard) Name() string { return g.breaker.Name() }
