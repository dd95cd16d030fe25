// Package capture implements the microphone capture state machine.
//
// A [Session] owns one microphone for the time between Start and Stop. It
// feeds every frame through a streaming VAD detector and a pre-roll buffer,
// accumulates detected speech, and finalizes the accumulated audio into an
// [utterance.Result] that is handed to a sink. When an utterance is done
// depends on the [Mode]:
//
//   - auto: a countdown starts when speech ends; new speech cancels it, expiry
//     finalizes and the session keeps listening.
//   - manual: utterances accumulate until Stop.
//   - ptt: like manual; the caller maps key release to Stop.
//
// All state is owned by the goroutine running [Session.Run]. Other goroutines
// interact through Start, Stop, Reconfigure, Snapshot, and Subscribe.
package capture

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Mode selects when a captured utterance is considered done.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeManual Mode = "manual"
	ModePTT    Mode = "ptt"
)

// IsValid reports whether m is a known mode.
func (m Mode) IsValid() bool {
	switch m {
	case ModeAuto, ModeManual, ModePTT:
		return true
	}
	return false
}

// State is the position of a session in the capture lifecycle.
type State int

const (
	Idle State = iota
	Listening
	Speaking
	CountingDown
	Finalizing
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Speaking:
		return "speaking"
	case CountingDown:
		return "counting_down"
	case Finalizing:
		return "finalizing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

var (
	// ErrActive is returned by Start when the session already holds the
	// microphone.
	ErrActive = errors.New("capture: session already started")

	// ErrRunning is returned by Run when the loop is already running or has
	// finished.
	ErrRunning = errors.New("capture: session loop already started")

	// ErrClosed is returned by requests made after Run has returned.
	ErrClosed = errors.New("capture: session closed")

	// ErrDeviceLost is wrapped in the ResourceError recorded when the audio
	// stream ends without being stopped.
	ErrDeviceLost = errors.New("audio stream ended unexpectedly")
)

// ResourceError reports that the microphone or the VAD engine could not be
// acquired or failed while capturing. The session stays or returns to Idle
// and Start may be retried.
type ResourceError struct {
	// Op names the failing step: "open", "vad", or "capture".
	Op  string
	Err error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("capture: %s: %v", e.Op, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// Snapshot is the externally visible state of a session.
type Snapshot struct {
	State State

	// IsRecording reports whether the microphone is held.
	IsRecording bool

	// IsListening reports whether the session waits for speech, including
	// during an auto-send countdown.
	IsListening bool

	// IsSpeaking reports whether an utterance is in progress.
	IsSpeaking bool

	// CurrentVolume is the RMS of the most recent frame.
	CurrentVolume float64

	// AutoSendCountdown is the time left before the pending utterance is
	// sent, or nil when no countdown runs.
	AutoSendCountdown *time.Duration

	// LastError is the most recent resource failure, cleared by a
	// successful Start.
	LastError error
}

type snapshotJSON struct {
	State               State   `json:"state"`
	IsRecording         bool    `json:"isRecording"`
	IsListening         bool    `json:"isListening"`
	IsSpeaking          bool    `json:"isSpeaking"`
	CurrentVolume       float64 `json:"currentVolume"`
	AutoSendCountdownMs *int64  `json:"autoSendCountdownMs"`
	LastError           *string `json:"lastError"`
}

// MarshalJSON encodes the countdown in milliseconds and the error as its
// message. Absent values encode as null.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	out := snapshotJSON{
		State:         s.State,
		IsRecording:   s.IsRecording,
		IsListening:   s.IsListening,
		IsSpeaking:    s.IsSpeaking,
		CurrentVolume: s.CurrentVolume,
	}
	if s.AutoSendCountdown != nil {
		ms := s.AutoSendCountdown.Milliseconds()
		out.AutoSendCountdownMs = &ms
	}
	if s.LastError != nil {
		msg := s.LastError.Error()
		out.LastError = &msg
	}
	return json.Marshal(out)
}
