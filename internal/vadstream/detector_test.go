package vadstream_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/voxgate/internal/vadstream"
	"github.com/MrWong99/voxgate/pkg/provider/vad/mock"
)

var params = vadstream.Params{
	PositiveThreshold: 0.5,
	NegativeThreshold: 0.35,
	MinSpeechFrames:   3,
	RedemptionFrames:  2,
}

// frames returns n frames of 4 samples each, filled with their index.
func frames(n int) []float32 {
	out := make([]float32, 0, n*4)
	for i := range n {
		for range 4 {
			out = append(out, float32(i))
		}
	}
	return out
}

func newDetector(t *testing.T, probs ...float64) *vadstream.Detector {
	t.Helper()
	d, err := vadstream.New(&mock.Session{Probabilities: probs}, params, 200, 4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func types(events []vadstream.Event) []vadstream.EventType {
	var out []vadstream.EventType
	for _, e := range events {
		if e.Type != vadstream.FrameProcessed {
			out = append(out, e.Type)
		}
	}
	return out
}

func TestDetector_Utterance(t *testing.T) {
	t.Parallel()

	// silence, 4 speech frames, one ambiguous frame, 2 negative frames.
	d := newDetector(t, 0.1, 0.9, 0.9, 0.9, 0.9, 0.4, 0.1, 0.1, 0.1)
	events, err := d.Process(frames(9))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	want := []vadstream.EventType{vadstream.SpeechStart, vadstream.SpeechEnd}
	if got := types(events); !slices.Equal(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}

	var frameCount int
	var end vadstream.Event
	for _, e := range events {
		switch e.Type {
		case vadstream.FrameProcessed:
			frameCount++
		case vadstream.SpeechEnd:
			end = e
		}
	}
	if frameCount != 9 {
		t.Errorf("FrameProcessed = %d, want 9", frameCount)
	}
	// Chunk covers frames 1..7: onset through the last redemption frame.
	if end.Chunk.Len() != 7*4 {
		t.Fatalf("chunk len = %d, want 28", end.Chunk.Len())
	}
	if end.Chunk.Samples[0] != 1 || end.Chunk.Samples[len(end.Chunk.Samples)-1] != 7 {
		t.Errorf("chunk spans %v..%v, want 1..7", end.Chunk.Samples[0], end.Chunk.Samples[len(end.Chunk.Samples)-1])
	}
	if end.Chunk.SampleRate != 200 {
		t.Errorf("chunk rate = %d, want 200", end.Chunk.SampleRate)
	}
	if d.Speaking() {
		t.Error("detector still speaking after SpeechEnd")
	}
}

func TestDetector_OnsetOrdering(t *testing.T) {
	t.Parallel()

	d := newDetector(t, 0.1, 0.9)
	events, _ := d.Process(frames(2))
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].Type != vadstream.FrameProcessed || events[0].InSpeech {
		t.Errorf("event 0 = %+v, want pre-speech frame", events[0])
	}
	if events[1].Type != vadstream.SpeechStart {
		t.Errorf("event 1 = %v, want SpeechStart", events[1].Type)
	}
	if events[2].Type != vadstream.FrameProcessed || !events[2].InSpeech {
		t.Errorf("event 2 = %+v, want onset frame in speech", events[2])
	}
}

func TestDetector_Misfire(t *testing.T) {
	t.Parallel()

	d := newDetector(t, 0.9, 0.9, 0.1, 0.1)
	events, _ := d.Process(frames(4))
	want := []vadstream.EventType{vadstream.SpeechStart, vadstream.Misfire}
	if got := types(events); !slices.Equal(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestDetector_RedemptionResets(t *testing.T) {
	t.Parallel()

	// A single negative frame between speech frames does not end the utterance.
	d := newDetector(t, 0.9, 0.9, 0.1, 0.9, 0.1, 0.9, 0.9)
	events, _ := d.Process(frames(7))
	if got := types(events); !slices.Equal(got, []vadstream.EventType{vadstream.SpeechStart}) {
		t.Errorf("events = %v, want only SpeechStart", got)
	}
	if !d.Speaking() {
		t.Error("expected detector to still be speaking")
	}
}

func TestDetector_Reblocks(t *testing.T) {
	t.Parallel()

	sess := &mock.Session{Probabilities: []float64{0.1}}
	d, _ := vadstream.New(sess, params, 200, 4)

	all := frames(5)
	var processed int
	for _, n := range []int{3, 3, 7, 1, 6} {
		events, err := d.Process(all[:n])
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		all = all[n:]
		processed += len(events)
	}
	if processed != 5 {
		t.Errorf("frames processed = %d, want 5", processed)
	}
	for i, f := range sess.Frames() {
		if len(f) != 4 || f[0] != float32(i) {
			t.Errorf("call %d frame = %v", i, f)
		}
	}
}

func TestDetector_Flush(t *testing.T) {
	t.Parallel()

	d := newDetector(t, 0.9)
	if _, err := d.Process(frames(4)); err != nil {
		t.Fatalf("Process: %v", err)
	}
	// Two stray samples that never make a full frame.
	if _, err := d.Process([]float32{9, 9}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	events := d.Flush()
	if len(events) != 1 || events[0].Type != vadstream.SpeechEnd {
		t.Fatalf("Flush = %v, want one SpeechEnd", events)
	}
	if events[0].Chunk.Len() != 18 {
		t.Errorf("chunk len = %d, want 18", events[0].Chunk.Len())
	}
	if again := d.Flush(); again != nil {
		t.Errorf("second Flush = %v, want nil", again)
	}
}

func TestDetector_FlushIdle(t *testing.T) {
	t.Parallel()

	d := newDetector(t, 0.1)
	_, _ = d.Process(frames(3))
	if events := d.Flush(); events != nil {
		t.Errorf("Flush while idle = %v, want nil", events)
	}
}

func TestDetector_Reset(t *testing.T) {
	t.Parallel()

	sess := &mock.Session{Probabilities: []float64{0.9}}
	d, _ := vadstream.New(sess, params, 200, 4)
	_, _ = d.Process(frames(2))
	d.Reset()
	if d.Speaking() {
		t.Error("still speaking after Reset")
	}
	if sess.Resets() != 1 {
		t.Errorf("session Reset calls = %d, want 1", sess.Resets())
	}
}

func TestDetector_SessionError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	d, _ := vadstream.New(&mock.Session{ProcessFrameErr: boom}, params, 200, 4)
	if _, err := d.Process(frames(1)); !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped boom", err)
	}
}

func TestParams_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		p    vadstream.Params
	}{
		{"positive above 1", vadstream.Params{PositiveThreshold: 1.5, RedemptionFrames: 1}},
		{"negative above positive", vadstream.Params{PositiveThreshold: 0.5, NegativeThreshold: 0.6, RedemptionFrames: 1}},
		{"negative min speech", vadstream.Params{PositiveThreshold: 0.5, MinSpeechFrames: -1, RedemptionFrames: 1}},
		{"zero redemption", vadstream.Params{PositiveThreshold: 0.5}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if err := tc.p.Validate(); err == nil {
				t.Error("expected error")
			}
		})
	}
	if err := params.Validate(); err != nil {
		t.Errorf("valid params rejected: %v", err)
	}
}
