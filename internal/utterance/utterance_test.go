package utterance_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/MrWong99/voxgate/internal/audiotest"
	"github.com/MrWong99/voxgate/internal/segment"
	"github.com/MrWong99/voxgate/internal/silence"
	"github.com/MrWong99/voxgate/internal/utterance"
	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/audio/wav"
)

var (
	ms  = audiotest.Ms
	cfg = utterance.Config{
		Segment: segment.Config{SilenceThreshold: 0.01, MinSilence: 500 * time.Millisecond},
		Trim:    silence.TrimConfig{PreRoll: 300 * time.Millisecond, PostRoll: 200 * time.Millisecond},
		Splice:  silence.SpliceConfig{MaxSilence: 2 * time.Second},
	}
)

func TestProcess_Scenario(t *testing.T) {
	t.Parallel()

	buf := audiotest.Build(16000,
		audiotest.Silence(ms(500)),
		audiotest.Speech(ms(1000)),
		audiotest.Silence(ms(300)),
		audiotest.Speech(ms(700)),
		audiotest.Silence(ms(500)),
	)
	res := utterance.Process(buf, cfg)

	if res.Empty() {
		t.Fatal("result unexpectedly empty")
	}
	if res.ID == "" {
		t.Error("ID is empty")
	}
	if res.OriginalDuration != 3*time.Second {
		t.Errorf("OriginalDuration = %v, want 3s", res.OriginalDuration)
	}
	if res.TrimmedDuration != ms(2500) {
		t.Errorf("TrimmedDuration = %v, want 2.5s", res.TrimmedDuration)
	}
	if res.TrimmedSilence != ms(500) {
		t.Errorf("TrimmedSilence = %v, want 500ms", res.TrimmedSilence)
	}
	if len(res.Segments) != 3 {
		t.Errorf("Segments = %d, want 3", len(res.Segments))
	}

	h, err := wav.ParseHeader(res.Payload)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.SampleRate != 16000 || h.SampleCount() != 40000 {
		t.Errorf("header = %+v, want 16000 Hz with 40000 samples", h)
	}
}

func TestProcess_SplicesLongPause(t *testing.T) {
	t.Parallel()

	buf := audiotest.Build(16000,
		audiotest.Speech(ms(500)),
		audiotest.Silence(ms(5000)),
		audiotest.Speech(ms(500)),
	)
	res := utterance.Process(buf, cfg)
	if res.TrimmedDuration != ms(3000) {
		t.Errorf("TrimmedDuration = %v, want 3s", res.TrimmedDuration)
	}
	if res.TrimmedSilence != ms(3000) {
		t.Errorf("TrimmedSilence = %v, want 3s", res.TrimmedSilence)
	}
}

func TestProcess_NoSpeech(t *testing.T) {
	t.Parallel()

	for _, buf := range []audio.Buffer{
		audiotest.Build(16000, audiotest.Silence(time.Second)),
		{SampleRate: 16000},
	} {
		res := utterance.Process(buf, cfg)
		if !res.Empty() {
			t.Errorf("expected empty result for %v of silence", buf.Duration())
		}
		if res.TrimmedSilence != buf.Duration() {
			t.Errorf("TrimmedSilence = %v, want %v", res.TrimmedSilence, buf.Duration())
		}
		if len(res.Payload) != wav.HeaderSize {
			t.Errorf("payload len = %d, want header only", len(res.Payload))
		}
	}
}

func TestProcess_UniqueIDs(t *testing.T) {
	t.Parallel()

	buf := audiotest.Build(16000, audiotest.Speech(ms(100)))
	a, b := utterance.Process(buf, cfg), utterance.Process(buf, cfg)
	if a.ID == b.ID {
		t.Errorf("IDs collide: %s", a.ID)
	}
}

func TestResult_JSON(t *testing.T) {
	t.Parallel()

	res := utterance.Result{
		ID:               "abc",
		Payload:          []byte("ignored"),
		SampleRate:       16000,
		OriginalDuration: 3 * time.Second,
		TrimmedDuration:  ms(2500),
		TrimmedSilence:   ms(500),
	}
	data, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := got["payload"]; ok {
		t.Error("payload must not be part of the metadata")
	}
	checks := map[string]any{
		"id":                 "abc",
		"sampleRate":         16000.0,
		"originalDurationMs": 3000.0,
		"trimmedDurationMs":  2500.0,
		"trimmedSilenceMs":   500.0,
	}
	for k, want := range checks {
		if got[k] != want {
			t.Errorf("%s = %v, want %v", k, got[k], want)
		}
	}
	if segs, ok := got["segments"].([]any); !ok || len(segs) != 0 {
		t.Errorf("segments = %v, want empty array", got["segments"])
	}
}
