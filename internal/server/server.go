// Package server exposes the session manager over HTTP.
//
// Routes:
//
//	GET    /sessions               list open sessions
//	GET    /sessions/{id}          one session's info and snapshot
//	POST   /sessions/{id}/start    open the session if needed and start capturing
//	POST   /sessions/{id}/stop     finalize and stop capturing
//	DELETE /sessions/{id}          stop the session and forget it
//	GET    /sessions/{id}/events   websocket feed of snapshots
//
// Health and metrics endpoints are mounted when the matching options are
// given.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/voxgate/internal/app"
	"github.com/MrWong99/voxgate/internal/capture"
	"github.com/MrWong99/voxgate/internal/health"
	"github.com/MrWong99/voxgate/internal/observe"
)

// writeTimeout bounds a single websocket write.
const writeTimeout = 5 * time.Second

// Server serves the control API.
type Server struct {
	manager *app.SessionManager
	health  *health.Handler
	metrics http.Handler
	mw      func(http.Handler) http.Handler

	// originPatterns are passed to websocket.AcceptOptions.
	originPatterns []string
}

// Option is a functional option for New.
type Option func(*Server)

// WithHealth mounts /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler mounts h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithObservability wraps every route in [observe.Middleware].
func WithObservability(m *observe.Metrics) Option {
	return func(s *Server) { s.mw = observe.Middleware(m) }
}

// WithOriginPatterns allows websocket connections from the given host
// patterns in addition to same-origin requests.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.originPatterns = patterns }
}

// New creates a Server for sm.
func New(sm *app.SessionManager, opts ...Option) *Server {
	s := &Server{manager: sm}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the http.Handler serving all routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /sessions", s.handleList)
	mux.HandleFunc("GET /sessions/{id}", s.handleGet)
	mux.HandleFunc("POST /sessions/{id}/start", s.handleStart)
	mux.HandleFunc("POST /sessions/{id}/stop", s.handleStop)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleClose)
	mux.HandleFunc("GET /sessions/{id}/events", s.handleEvents)
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	if s.mw != nil {
		return s.mw(mux)
	}
	return mux
}

// errorResponse is the JSON body of every failed request.
type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Sessions())
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	info, err := s.info(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.manager.Start(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	s.respondInfo(w, r, id)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.manager.Stop(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	s.respondInfo(w, r, id)
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Close(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleEvents streams a snapshot after every change of the session until
// the client goes away or the session ends.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.manager.Get(id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		// Accept already wrote the response.
		slog.Warn("websocket accept failed", "session_id", id, "err", err)
		return
	}
	defer conn.CloseNow()

	// Nothing is read from clients; CloseRead handles control frames and
	// cancels ctx once the peer closes.
	ctx := conn.CloseRead(r.Context())
	updates, cancel := sess.Subscribe()
	defer cancel()

	log := observe.Logger(observe.WithSession(ctx, id))
	log.Debug("event stream opened")
	for {
		select {
		case <-ctx.Done():
			log.Debug("event stream closed by client")
			return
		case snap, ok := <-updates:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "session closed")
				return
			}
			if err := writeSnapshot(ctx, conn, snap); err != nil {
				log.Debug("event stream write failed", "err", err)
				return
			}
		}
	}
}

func writeSnapshot(ctx context.Context, conn *websocket.Conn, snap capture.Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, snap)
}

func (s *Server) info(id string) (app.SessionInfo, error) {
	for _, info := range s.manager.Sessions() {
		if info.ID == id {
			return info, nil
		}
	}
	return app.SessionInfo{}, fmt.Errorf("%w: %q", app.ErrUnknownSession, id)
}

func (s *Server) respondInfo(w http.ResponseWriter, r *http.Request, id string) {
	info, err := s.info(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// statusFor maps manager and capture errors to HTTP status codes.
func statusFor(err error) int {
	var rerr *capture.ResourceError
	switch {
	case errors.Is(err, app.ErrInvalidSessionID):
		return http.StatusBadRequest
	case errors.Is(err, app.ErrUnknownSession):
		return http.StatusNotFound
	case errors.Is(err, capture.ErrActive):
		return http.StatusConflict
	case errors.As(err, &rerr):
		return http.StatusServiceUnavailable
	case errors.Is(err, app.ErrNotRunning), errors.Is(err, capture.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		observe.Logger(r.Context()).Error("request failed", "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
