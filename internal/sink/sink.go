// Package sink delivers finished utterances to their destinations.
//
// A [Sink] receives every non-empty [utterance.Result] a capture session
// produces. Implementations must be safe for concurrent use because several
// sessions may deliver at once.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/voxgate/internal/utterance"
)

// Sink consumes finished utterances.
type Sink interface {
	// Deliver hands res, produced by the session sessionID, to the sink.
	Deliver(ctx context.Context, sessionID string, res utterance.Result) error

	// Close releases resources held by the sink.
	Close() error
}

// Multi fans a delivery out to several sinks. Every sink is attempted; the
// errors of the failing ones are joined.
type Multi []Sink

// Deliver implements [Sink].
func (m Multi) Deliver(ctx context.Context, sessionID string, res utterance.Result) error {
	var errs []error
	for _, s := range m {
		if err := s.Deliver(ctx, sessionID, res); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements [Sink].
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Sink = Multi(nil)

// Log writes a structured log line per utterance.
type Log struct {
	logger *slog.Logger
}

// NewLog returns a Log sink writing to logger, or to slog.Default when
// logger is nil.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

// Deliver implements [Sink].
func (l *Log) Deliver(ctx context.Context, sessionID string, res utterance.Result) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("sink: log: %w", err)
	}
	meta := res.Metadata()
	l.logger.InfoContext(ctx, "utterance ready",
		"session_id", sessionID,
		"utterance_id", meta.ID,
		"sample_rate", meta.SampleRate,
		"original_ms", meta.OriginalDurationMs,
		"trimmed_ms", meta.TrimmedDurationMs,
		"trimmed_silence_ms", meta.TrimmedSilenceMs,
		"segments", len(meta.Segments),
		"payload_bytes", len(res.Payload),
	)
	return nil
}

// Close implements [Sink].
func (l *Log) Close() error { return nil }

var _ Sink = (*Log)(nil)
