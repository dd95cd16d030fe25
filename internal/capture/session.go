package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/internal/preroll"
	"github.com/MrWong99/voxgate/internal/sink"
	"github.com/MrWong99/voxgate/internal/utterance"
	"github.com/MrWong99/voxgate/internal/vadstream"
	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/provider/vad"
)

// subscriberBuffer is the channel capacity handed to each subscriber.
// Snapshots that do not fit are dropped for that subscriber.
const subscriberBuffer = 16

type requestKind int

const (
	reqStart requestKind = iota
	reqStop
	reqReconfigure
	reqProviders
)

type request struct {
	kind   requestKind
	cfg    Config
	source audio.Source
	engine vad.Engine
	reply  chan error
}

// mic bundles everything acquired by Start and released by Stop.
type mic struct {
	stream audio.Stream
	frames <-chan audio.Frame
	conv   *audio.FormatConverter
	vad    vad.SessionHandle
	det    *vadstream.Detector
}

// Option is a functional option for [New].
type Option func(*Session)

// WithClock sets the clock driving the auto-send countdown. Defaults to the
// real clock.
func WithClock(c clockwork.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithMetrics sets the metrics the session records to. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// Session is a single capture session. Create one with [New] and drive it
// with [Session.Run].
type Session struct {
	id      string
	source  audio.Source
	engine  vad.Engine
	out     sink.Sink
	clock   clockwork.Clock
	metrics *observe.Metrics
	log     *slog.Logger

	requests chan request
	expired  chan uint64
	done     chan struct{}
	running  atomic.Bool

	// Owned by the Run goroutine.
	cfg        Config
	next       *Config
	nextSource audio.Source
	nextEngine vad.Engine
	state    State
	mic      *mic
	pre      *preroll.Buffer
	chunks   [][]float32
	timer    clockwork.Timer
	gen      uint64
	deadline time.Time
	volume   float64
	lastErr  error

	mu      sync.Mutex
	view    Snapshot
	viewDue *time.Time
	subs    map[int]chan Snapshot
	nextSub int
}

// New creates a session that captures from source, detects speech with
// engine, and delivers finished utterances to out. The session does nothing
// until [Session.Run] is called.
func New(id string, cfg Config, source audio.Source, engine vad.Engine, out sink.Sink, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Session{
		id:       id,
		source:   source,
		engine:   engine,
		out:      out,
		clock:    clockwork.NewRealClock(),
		log:      slog.Default().With("session_id", id),
		requests: make(chan request),
		expired:  make(chan uint64),
		done:     make(chan struct{}),
		cfg:      cfg,
		pre:      preroll.New(cfg.SampleRate, cfg.PreRollBuffer),
		subs:     make(map[int]chan Snapshot),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.view = Snapshot{State: Idle}
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Done is closed when Run returns.
func (s *Session) Done() <-chan struct{} { return s.done }

// Run drives the session until ctx is cancelled. Cancelling ctx releases the
// microphone and discards any audio not yet finalized. Run may be called
// once; it returns nil on cancellation.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	ctx = observe.WithSession(ctx, s.id)
	s.log = observe.Logger(ctx)

	s.metrics.ActiveSessions.Add(ctx, 1)
	defer s.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
	defer s.closeSubscribers()
	defer close(s.done)
	defer s.teardown(context.WithoutCancel(ctx))

	for {
		var frames <-chan audio.Frame
		if s.mic != nil {
			frames = s.mic.frames
		}

		select {
		case <-ctx.Done():
			return nil

		case req := <-s.requests:
			req.reply <- s.handle(ctx, req)

		case f, ok := <-frames:
			if !ok {
				s.fail(ctx, "capture", ErrDeviceLost)
				continue
			}
			s.onFrame(ctx, f)

		case gen := <-s.expired:
			s.onExpired(ctx, gen)
		}
	}
}

// Start acquires the microphone and begins listening. A failure to acquire
// it leaves the session Idle, records a [*ResourceError] as LastError, and
// returns it. Start returns [ErrActive] if the session is not Idle.
func (s *Session) Start(ctx context.Context) error {
	return s.do(ctx, request{kind: reqStart})
}

// Stop finalizes any captured speech, releases the microphone, and returns
// the session to Idle. Stopping an Idle session is a no-op.
func (s *Session) Stop(ctx context.Context) error {
	return s.do(ctx, request{kind: reqStop})
}

// Reconfigure replaces the session config. The new config takes effect at
// the next Start; an Idle session applies it immediately.
func (s *Session) Reconfigure(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return s.do(ctx, request{kind: reqReconfigure, cfg: cfg})
}

// SetProviders replaces the audio source and VAD engine. Like Reconfigure,
// the change takes effect at the next Start. A nil argument keeps the
// current provider.
func (s *Session) SetProviders(ctx context.Context, source audio.Source, engine vad.Engine) error {
	return s.do(ctx, request{kind: reqProviders, source: source, engine: engine})
}

func (s *Session) do(ctx context.Context, req request) error {
	req.reply = make(chan error, 1)
	select {
	case s.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}

// Snapshot returns the current externally visible state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := s.view
	if s.viewDue != nil {
		left := max(s.viewDue.Sub(s.clock.Now()), 0)
		snap.AutoSendCountdown = &left
	}
	return snap
}

// Subscribe returns a channel receiving a snapshot after every change,
// starting with the current one. Snapshots are dropped while the channel is
// full. The channel is closed by cancel or when Run returns.
func (s *Session) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan Snapshot, subscriberBuffer)
	ch <- s.snapshotLocked()
	if s.subs == nil {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

func (s *Session) closeSubscribers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.subs {
		close(c)
	}
	s.subs = nil
}

// publish copies the loop state into the shared view and notifies
// subscribers.
func (s *Session) publish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view = Snapshot{
		State:         s.state,
		IsRecording:   s.state != Idle,
		IsListening:   s.state == Listening || s.state == CountingDown,
		IsSpeaking:    s.state == Speaking,
		CurrentVolume: s.volume,
		LastError:     s.lastErr,
	}
	s.viewDue = nil
	if s.timer != nil {
		due := s.deadline
		s.viewDue = &due
	}
	snap := s.snapshotLocked()
	for _, c := range s.subs {
		select {
		case c <- snap:
		default:
		}
	}
}

func (s *Session) transition(ctx context.Context, to State) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	s.metrics.RecordTransition(ctx, from.String(), to.String())
	s.log.Debug("capture state changed", "from", from, "to", to)
	s.publish()
}

func (s *Session) handle(ctx context.Context, req request) error {
	switch req.kind {
	case reqStart:
		return s.start(ctx)
	case reqStop:
		s.stop(ctx)
		return nil
	case reqReconfigure:
		cfg := req.cfg
		s.next = &cfg
		if s.state == Idle {
			s.applyNext()
		}
		return nil
	case reqProviders:
		if req.source != nil {
			s.nextSource = req.source
		}
		if req.engine != nil {
			s.nextEngine = req.engine
		}
		if s.state == Idle {
			s.applyNext()
		}
		return nil
	default:
		return fmt.Errorf("capture: unknown request %d", req.kind)
	}
}

func (s *Session) applyNext() {
	if s.nextSource != nil {
		s.source, s.nextSource = s.nextSource, nil
		s.log.Info("audio source applied")
	}
	if s.nextEngine != nil {
		s.engine, s.nextEngine = s.nextEngine, nil
		s.log.Info("vad engine applied")
	}
	if s.next == nil {
		return
	}
	s.cfg = *s.next
	s.next = nil
	s.pre = preroll.New(s.cfg.SampleRate, s.cfg.PreRollBuffer)
	s.log.Info("capture config applied", "mode", s.cfg.Mode)
}

func (s *Session) start(ctx context.Context) error {
	if s.state != Idle {
		return ErrActive
	}
	s.applyNext()

	m, op, err := s.acquire(ctx)
	if err != nil {
		rerr := &ResourceError{Op: op, Err: err}
		s.lastErr = rerr
		s.metrics.RecordCaptureError(ctx, op)
		s.log.Warn("failed to start capture", "op", op, "err", err)
		s.publish()
		return rerr
	}

	s.mic = m
	s.lastErr = nil
	s.chunks = nil
	s.pre.Clear()
	s.metrics.OpenMicrophones.Add(ctx, 1)
	s.log.Info("capture started", "mode", s.cfg.Mode, "format", m.stream.Format())
	s.transition(ctx, Listening)
	return nil
}

// acquire opens the VAD session and the microphone. On failure everything
// acquired so far is released and the failing step is returned.
func (s *Session) acquire(ctx context.Context) (*mic, string, error) {
	vcfg := s.cfg.vadConfig()
	vs, err := s.engine.NewSession(vcfg)
	if err != nil {
		return nil, "vad", err
	}
	det, err := vadstream.New(vs, s.cfg.Detector, s.cfg.SampleRate, vcfg.FrameSamples())
	if err != nil {
		_ = vs.Close()
		return nil, "vad", err
	}
	target := audio.Format{SampleRate: s.cfg.SampleRate, Channels: 1}
	stream, err := s.source.Open(ctx, target)
	if err != nil {
		_ = vs.Close()
		return nil, "open", err
	}
	return &mic{
		stream: stream,
		frames: stream.Frames(),
		conv:   &audio.FormatConverter{Target: target},
		vad:    vs,
		det:    det,
	}, "", nil
}

// release stops the countdown and frees the microphone and VAD session. It
// is safe to call when nothing is held.
func (s *Session) release(ctx context.Context) {
	s.cancelCountdown()
	m := s.mic
	if m == nil {
		return
	}
	s.mic = nil
	if err := m.stream.Close(); err != nil {
		s.log.Warn("failed to close audio stream", "err", err)
	}
	go audio.Drain(m.frames)
	if err := m.vad.Close(); err != nil {
		s.log.Warn("failed to close vad session", "err", err)
	}
	s.metrics.OpenMicrophones.Add(ctx, -1)
}

// stop flushes the detector, finalizes what was captured, and releases the
// microphone.
func (s *Session) stop(ctx context.Context) {
	if s.state == Idle {
		return
	}
	s.cancelCountdown()
	if s.mic != nil {
		for _, ev := range s.mic.det.Flush() {
			s.metrics.RecordSpeechEvent(ctx, ev.Type.String())
			if ev.Type == vadstream.SpeechEnd {
				s.chunks = append(s.chunks, ev.Chunk.Samples)
			}
		}
	}
	if len(s.chunks) > 0 {
		s.finalize(ctx)
	}
	s.release(ctx)
	s.pre.Clear()
	s.volume = 0
	s.log.Info("capture stopped")
	s.transition(ctx, Idle)
}

// fail handles a resource failure during capture. Speech captured so far is
// still finalized.
func (s *Session) fail(ctx context.Context, op string, err error) {
	s.log.Error("capture failed", "op", op, "err", err)
	s.metrics.RecordCaptureError(ctx, op)
	s.lastErr = &ResourceError{Op: op, Err: err}
	s.stop(ctx)
	s.publish()
}

// teardown runs when Run returns. Unfinalized audio is discarded.
func (s *Session) teardown(ctx context.Context) {
	if len(s.chunks) > 0 {
		s.log.Warn("discarding unfinalized speech on shutdown", "chunks", len(s.chunks))
	}
	s.chunks = nil
	s.release(ctx)
	s.pre.Clear()
	s.volume = 0
	s.transition(ctx, Idle)
}

func (s *Session) onFrame(ctx context.Context, f audio.Frame) {
	f = s.mic.conv.Convert(f)
	if len(f.Samples) == 0 {
		return
	}
	events, err := s.mic.det.Process(f.Samples)
	for _, ev := range events {
		s.onEvent(ctx, ev)
	}
	if err != nil {
		s.fail(ctx, "vad", err)
	}
}

func (s *Session) onEvent(ctx context.Context, ev vadstream.Event) {
	if ev.Type == vadstream.FrameProcessed {
		s.volume = audio.RMS(ev.Samples)
		if !ev.InSpeech && s.state == Listening && len(s.chunks) == 0 {
			s.pre.Push(ev.Samples)
		}
		s.publish()
		return
	}

	s.metrics.RecordSpeechEvent(ctx, ev.Type.String())
	switch ev.Type {
	case vadstream.SpeechStart:
		if s.state == Listening || s.state == CountingDown {
			s.cancelCountdown()
			s.transition(ctx, Speaking)
		}

	case vadstream.SpeechEnd:
		s.chunks = append(s.chunks, ev.Chunk.Samples)
		s.afterSpeech(ctx)

	case vadstream.Misfire:
		s.log.Debug("speech too short, ignored", "duration", ev.Chunk.Duration())
		s.afterSpeech(ctx)
	}
}

// afterSpeech moves the session on once an utterance closed. In auto mode a
// countdown starts when there is speech to send.
func (s *Session) afterSpeech(ctx context.Context) {
	if s.cfg.Mode == ModeAuto && len(s.chunks) > 0 {
		s.startCountdown()
		s.transition(ctx, CountingDown)
		s.publish()
		return
	}
	s.transition(ctx, Listening)
}

func (s *Session) startCountdown() {
	s.cancelCountdown()
	gen := s.gen
	s.deadline = s.clock.Now().Add(s.cfg.AutoSendDelay)
	s.timer = s.clock.AfterFunc(s.cfg.AutoSendDelay, func() {
		select {
		case s.expired <- gen:
		case <-s.done:
		}
	})
}

// cancelCountdown stops a pending countdown. A fire that raced the cancel
// carries an outdated generation and is ignored by onExpired.
func (s *Session) cancelCountdown() {
	if s.timer == nil {
		return
	}
	s.timer.Stop()
	s.timer = nil
	s.gen++
	s.publish()
}

func (s *Session) onExpired(ctx context.Context, gen uint64) {
	if gen != s.gen || s.timer == nil || s.state != CountingDown {
		s.log.Debug("ignoring stale countdown", "gen", gen)
		return
	}
	s.timer = nil
	s.gen++
	s.finalize(ctx)
	s.transition(ctx, Listening)
}

// finalize runs the pipeline over the pre-roll and the accumulated chunks and
// delivers a non-empty result. The accumulator and pre-roll are cleared.
func (s *Session) finalize(ctx context.Context) {
	s.transition(ctx, Finalizing)

	parts := make([][]float32, 0, len(s.chunks)+1)
	parts = append(parts, s.pre.Flatten().Samples)
	parts = append(parts, s.chunks...)
	buf := audio.Concat(s.cfg.SampleRate, parts...)
	s.chunks = nil
	s.pre.Clear()

	ctx, span := observe.StartSpan(ctx, "capture.finalize")
	defer span.End()

	start := time.Now()
	res := utterance.Process(buf, s.cfg.Pipeline)
	s.metrics.FinalizeDuration.Record(ctx, time.Since(start).Seconds())

	if res.Empty() {
		s.metrics.RecordUtterance(ctx, observe.OutcomeDiscarded)
		s.log.Debug("utterance contained no speech, discarded",
			"original", res.OriginalDuration,
		)
		return
	}

	s.metrics.UtteranceDuration.Record(ctx, res.TrimmedDuration.Seconds())
	s.metrics.TrimmedSilence.Record(ctx, res.TrimmedSilence.Seconds())

	start = time.Now()
	err := s.out.Deliver(ctx, s.id, res)
	s.metrics.DeliveryDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		s.metrics.SinkErrors.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failed")
		s.metrics.RecordUtterance(ctx, observe.OutcomeFailed)
		s.log.Error("failed to deliver utterance", "utterance_id", res.ID, "err", err)
		return
	}
	s.metrics.RecordUtterance(ctx, observe.OutcomeEmitted)
	s.log.Info("utterance finalized",
		"utterance_id", res.ID,
		"original", res.OriginalDuration,
		"trimmed", res.TrimmedDuration,
		"segments", len(res.Segments),
	)
}
