package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxgate/internal/capture"
	"github.com/MrWong99/voxgate/internal/sink"
	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/provider/vad"
)

var (
	// ErrNotRunning is returned when sessions are requested before Run or
	// after it returned.
	ErrNotRunning = errors.New("app: session manager not running")

	// ErrUnknownSession is returned for session ids that were never opened
	// or have been closed.
	ErrUnknownSession = errors.New("app: unknown session")

	// ErrInvalidSessionID is returned by Open for ids outside
	// [A-Za-z0-9_.-]{1,64}.
	ErrInvalidSessionID = errors.New("app: invalid session id")
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

// SessionInfo describes an open capture session.
type SessionInfo struct {
	ID        string           `json:"id"`
	Mode      capture.Mode     `json:"mode"`
	CreatedAt time.Time        `json:"createdAt"`
	Snapshot  capture.Snapshot `json:"snapshot"`
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Capture capture.Config
	Source  audio.Source
	VAD     vad.Engine
	Sink    sink.Sink

	// Options are passed to every [capture.New] call.
	Options []capture.Option
}

type managed struct {
	s       *capture.Session
	cancel  context.CancelFunc
	mode    capture.Mode
	created time.Time
}

// SessionManager owns any number of independent capture sessions keyed by
// id. Each session runs its own loop in a goroutine of the errgroup created
// by [SessionManager.Run]. All exported methods are safe for concurrent use.
type SessionManager struct {
	mu       sync.Mutex
	cfg      capture.Config
	source   audio.Source
	vad      vad.Engine
	sink     sink.Sink
	opts     []capture.Option
	sessions map[string]*managed

	// Set while Run is active.
	g    *errgroup.Group
	gctx context.Context
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	return &SessionManager{
		cfg:      cfg.Capture,
		source:   cfg.Source,
		vad:      cfg.VAD,
		sink:     cfg.Sink,
		opts:     cfg.Options,
		sessions: make(map[string]*managed),
	}
}

// Run hosts session loops until ctx is cancelled, then waits for every
// session to release its microphone.
func (sm *SessionManager) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	sm.mu.Lock()
	if sm.g != nil {
		sm.mu.Unlock()
		return errors.New("app: session manager already running")
	}
	sm.g = g
	sm.gctx = gctx
	sm.mu.Unlock()

	g.Go(func() error {
		<-gctx.Done()
		sm.mu.Lock()
		sm.g = nil
		sm.gctx = nil
		sm.mu.Unlock()
		return nil
	})
	err := g.Wait()

	sm.mu.Lock()
	n := len(sm.sessions)
	clear(sm.sessions)
	sm.mu.Unlock()
	slog.Info("session manager stopped", "sessions", n)
	return err
}

// Open returns the session with id, creating and starting its loop if
// needed. The session is Idle until Start is called.
func (sm *SessionManager) Open(id string) (*capture.Session, error) {
	if !sessionIDPattern.MatchString(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	if m, ok := sm.sessions[id]; ok {
		return m.s, nil
	}
	if sm.g == nil {
		return nil, ErrNotRunning
	}

	s, err := capture.New(id, sm.cfg, sm.source, sm.vad, sm.sink, sm.opts...)
	if err != nil {
		return nil, fmt.Errorf("app: open session %q: %w", id, err)
	}
	sctx, cancel := context.WithCancel(sm.gctx)
	m := &managed{s: s, cancel: cancel, mode: sm.cfg.Mode, created: time.Now().UTC()}
	sm.sessions[id] = m

	sm.g.Go(func() error {
		defer cancel()
		err := s.Run(sctx)
		sm.mu.Lock()
		if cur, ok := sm.sessions[id]; ok && cur == m {
			delete(sm.sessions, id)
		}
		sm.mu.Unlock()
		return err
	})

	slog.Info("session opened", "session_id", id, "mode", sm.cfg.Mode)
	return s, nil
}

// Get returns the open session with id.
func (sm *SessionManager) Get(id string) (*capture.Session, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	m, ok := sm.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSession, id)
	}
	return m.s, nil
}

// Start opens the session with id if needed and starts capturing.
func (sm *SessionManager) Start(ctx context.Context, id string) error {
	s, err := sm.Open(id)
	if err != nil {
		return err
	}
	return s.Start(ctx)
}

// Stop finalizes and stops the session with id. It stays open and may be
// started again.
func (sm *SessionManager) Stop(ctx context.Context, id string) error {
	s, err := sm.Get(id)
	if err != nil {
		return err
	}
	return s.Stop(ctx)
}

// Close stops the session with id, ends its loop, and forgets it.
func (sm *SessionManager) Close(ctx context.Context, id string) error {
	sm.mu.Lock()
	m, ok := sm.sessions[id]
	if ok {
		delete(sm.sessions, id)
	}
	sm.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSession, id)
	}

	stopErr := m.s.Stop(ctx)
	m.cancel()
	select {
	case <-m.s.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	slog.Info("session closed", "session_id", id)
	if errors.Is(stopErr, capture.ErrClosed) {
		return nil
	}
	return stopErr
}

// Sessions lists the open sessions ordered by id.
func (sm *SessionManager) Sessions() []SessionInfo {
	sm.mu.Lock()
	infos := make([]SessionInfo, 0, len(sm.sessions))
	open := make([]*capture.Session, 0, len(sm.sessions))
	for id, m := range sm.sessions {
		infos = append(infos, SessionInfo{ID: id, Mode: m.mode, CreatedAt: m.created})
		open = append(open, m.s)
	}
	sm.mu.Unlock()

	// Snapshots are taken outside the manager lock.
	for i, s := range open {
		infos[i].Snapshot = s.Snapshot()
	}
	slices.SortFunc(infos, func(a, b SessionInfo) int { return strings.Compare(a.ID, b.ID) })
	return infos
}

// Reconfigure replaces the capture config for new sessions and hands it to
// every open session, which applies it at its next start.
func (sm *SessionManager) Reconfigure(ctx context.Context, cfg capture.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	sm.mu.Lock()
	sm.cfg = cfg
	open := make(map[string]*managed, len(sm.sessions))
	for id, m := range sm.sessions {
		m.mode = cfg.Mode
		open[id] = m
	}
	sm.mu.Unlock()

	var errs []error
	for id, m := range open {
		if err := m.s.Reconfigure(ctx, cfg); err != nil && !errors.Is(err, capture.ErrClosed) {
			errs = append(errs, fmt.Errorf("session %q: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// SetVAD replaces the VAD engine for new sessions and hands it to every open
// session, which switches at its next start. It returns the number of open
// sessions that received it.
func (sm *SessionManager) SetVAD(ctx context.Context, e vad.Engine) (int, error) {
	sm.mu.Lock()
	sm.vad = e
	sm.mu.Unlock()
	return sm.pushProviders(ctx, nil, e)
}

// SetSource replaces the audio source for new sessions and hands it to every
// open session, which switches at its next start. It returns the number of
// open sessions that received it.
func (sm *SessionManager) SetSource(ctx context.Context, src audio.Source) (int, error) {
	sm.mu.Lock()
	sm.source = src
	sm.mu.Unlock()
	return sm.pushProviders(ctx, src, nil)
}

func (sm *SessionManager) pushProviders(ctx context.Context, src audio.Source, e vad.Engine) (int, error) {
	sm.mu.Lock()
	open := make(map[string]*capture.Session, len(sm.sessions))
	for id, m := range sm.sessions {
		open[id] = m.s
	}
	sm.mu.Unlock()

	var errs []error
	n := 0
	for id, s := range open {
		err := s.SetProviders(ctx, src, e)
		switch {
		case err == nil:
			n++
		case !errors.Is(err, capture.ErrClosed):
			errs = append(errs, fmt.Errorf("session %q: %w", id, err))
		}
	}
	return n, errors.Join(errs...)
}

// Check reports whether the manager accepts sessions. It is used as a
// readiness check.
func (sm *SessionManager) Check(context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.g == nil {
		return ErrNotRunning
	}
	return nil
}
