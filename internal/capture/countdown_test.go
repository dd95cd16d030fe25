package capture

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/MrWong99/voxgate/internal/segment"
	"github.com/MrWong99/voxgate/internal/silence"
	sinkmock "github.com/MrWong99/voxgate/internal/sink/mock"
	"github.com/MrWong99/voxgate/internal/utterance"
	"github.com/MrWong99/voxgate/internal/vadstream"
)

const countdownDelay = 1500 * time.Millisecond

// countingDown returns a session that is not running, parked in
// CountingDown with one speech chunk waiting. Tests drive the loop handlers
// directly.
func countingDown(t *testing.T) (*Session, *sinkmock.Sink, *clockwork.FakeClock) {
	t.Helper()
	cfg := Config{
		Mode:          ModeAuto,
		SampleRate:    16000,
		FrameDuration: 20 * time.Millisecond,
		Detector: vadstream.Params{
			PositiveThreshold: 0.5,
			NegativeThreshold: 0.35,
			MinSpeechFrames:   2,
			RedemptionFrames:  3,
		},
		Pipeline: utterance.Config{
			Segment: segment.Config{SilenceThreshold: 0.01, MinSilence: 100 * time.Millisecond},
			Trim:    silence.TrimConfig{PreRoll: 40 * time.Millisecond, PostRoll: 40 * time.Millisecond},
			Splice:  silence.SpliceConfig{MaxSilence: 2 * time.Second},
		},
		PreRollBuffer: 100 * time.Millisecond,
		AutoSendDelay: countdownDelay,
	}
	out := &sinkmock.Sink{}
	clock := clockwork.NewFakeClock()
	s, err := New("desk", cfg, nil, nil, out, WithClock(clock))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { close(s.done) })

	speech := make([]float32, 3200) // 200 ms
	for i := range speech {
		speech[i] = 0.5
	}
	s.state = CountingDown
	s.chunks = [][]float32{speech}
	s.startCountdown()
	return s, out, clock
}

func TestOnExpired_CurrentGenerationFinalizes(t *testing.T) {
	t.Parallel()
	s, out, _ := countingDown(t)

	s.onExpired(context.Background(), s.gen)

	if n := len(out.Deliveries()); n != 1 {
		t.Fatalf("deliveries = %d, want 1", n)
	}
	if s.state != Listening || s.timer != nil {
		t.Errorf("state = %s timer armed = %v, want listening without timer", s.state, s.timer != nil)
	}
}

func TestOnExpired_IgnoresCancelledCountdown(t *testing.T) {
	t.Parallel()
	s, out, _ := countingDown(t)

	old := s.gen
	s.cancelCountdown()
	s.onExpired(context.Background(), old)

	if n := len(out.Deliveries()); n != 0 {
		t.Errorf("deliveries = %d, want 0", n)
	}
	if s.state != CountingDown {
		t.Errorf("state = %s, want counting_down unchanged", s.state)
	}
	if len(s.chunks) != 1 {
		t.Errorf("chunks = %d, want the pending chunk kept", len(s.chunks))
	}
	if snap := s.Snapshot(); snap.AutoSendCountdown != nil {
		t.Errorf("countdown = %s, want nil", *snap.AutoSendCountdown)
	}
}

func TestOnExpired_QueuedFireLosesToSpeechStart(t *testing.T) {
	t.Parallel()
	s, out, clock := countingDown(t)
	ctx := context.Background()

	// The timer fires and its callback blocks handing the generation to the
	// loop, which is busy with the speech start below.
	clock.Advance(countdownDelay)
	s.onEvent(ctx, vadstream.Event{Type: vadstream.SpeechStart})
	if s.state != Speaking {
		t.Fatalf("state = %s, want speaking", s.state)
	}

	select {
	case gen := <-s.expired:
		s.onExpired(ctx, gen)
	case <-time.After(2 * time.Second):
		t.Fatal("expired timer never reported")
	}

	if n := len(out.Deliveries()); n != 0 {
		t.Errorf("deliveries = %d, want 0", n)
	}
	if s.state != Speaking {
		t.Errorf("state = %s, want speaking", s.state)
	}
	if snap := s.Snapshot(); snap.AutoSendCountdown != nil {
		t.Errorf("countdown = %s, want nil", *snap.AutoSendCountdown)
	}
}
