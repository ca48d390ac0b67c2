package transports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/square-key-labs/strawgo-screener/src/frames"
	"github.com/square-key-labs/strawgo-screener/src/logger"
	"github.com/square-key-labs/strawgo-screener/src/metrics"
	"github.com/square-key-labs/strawgo-screener/src/recording"
	"github.com/square-key-labs/strawgo-screener/src/serializers"
	"github.com/square-key-labs/strawgo-screener/src/session"
	"github.com/square-key-labs/strawgo-screener/src/storage"
	"github.com/square-key-labs/strawgo-screener/src/telephony"
)

// SessionRunner runs one call over a media stream; *session.Manager
// satisfies it.
type SessionRunner interface {
	Serve(ctx context.Context, out session.Sender, in <-chan frames.Frame) error
	Active() int
}

// Config holds the HTTP server settings.
type Config struct {
	Port int
	// StreamURL is the public wss:// URL of the media endpoint, sent to
	// Twilio in the answer TwiML.
	StreamURL       string
	AllowedOrigins  []string // CORS origins for the voicemail API; empty allows any
	ShutdownTimeout time.Duration
}

// Server accepts Twilio webhooks and media streams and serves the
// voicemail API.
type Server struct {
	cfg        Config
	sessions   SessionRunner
	store      storage.Store
	recordings *recording.Store
	metrics    *metrics.Metrics

	upgrader websocket.Upgrader
	server   *http.Server
	conns    map[string]*Conn
	connMu   sync.RWMutex
	log      *logger.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithStore serves call records from store.
func WithStore(store storage.Store) Option { return func(s *Server) { s.store = store } }

// WithRecordings serves recording files.
func WithRecordings(store *recording.Store) Option { return func(s *Server) { s.recordings = store } }

// WithMetrics exposes /metrics and counts dropped frames.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Server) { s.metrics = m } }

// NewServer returns a Server that hands media streams to sessions.
func NewServer(cfg Config, sessions SessionRunner, opts ...Option) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		conns:    make(map[string]*Conn),
		upgrader: websocket.Upgrader{
			// Twilio does not send an Origin header
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: logger.WithPrefix("Server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/media", s.handleMedia)
	mux.HandleFunc("POST /twiml", s.handleTwiML)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	api := http.NewServeMux()
	api.HandleFunc("GET /voicemails", s.handleList)
	api.HandleFunc("GET /voicemails/{id}", s.handleGet)
	api.HandleFunc("GET /voicemails/{id}/recording", s.handleRecording)
	api.HandleFunc("POST /voicemails/{id}/read", s.handleMarkRead)
	mux.Handle("/voicemails", s.cors(api))
	mux.Handle("/voicemails/", s.cors(api))
	return mux
}

// Start listens until ctx is cancelled, then shuts down and closes any
// open media streams.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Listening on %s (stream %s)", s.server.Addr, s.cfg.StreamURL)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	err := s.server.Shutdown(shutdownCtx)
	s.closeConns()
	if err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

func (s *Server) closeConns() {
	s.connMu.RLock()
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.connMu.RUnlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("Upgrade failed: %v", err)
		return
	}
	conn := newConn(ws, serializers.NewTwilioFrameSerializer(), s.metrics)

	s.connMu.Lock()
	s.conns[conn.ID()] = conn
	s.connMu.Unlock()
	defer func() {
		s.connMu.Lock()
		delete(s.conns, conn.ID())
		s.connMu.Unlock()
		_ = conn.Close()
	}()

	s.log.Info("Media stream connected: %s", conn.ID())
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	if err := s.sessions.Serve(ctx, conn, conn.Frames(ctx)); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("Session on %s ended with error: %v", conn.ID(), err)
	}
	s.log.Info("Media stream finished: %s", conn.ID())
}

func (s *Server) handleTwiML(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	params := map[string]string{}
	if from := r.PostForm.Get("From"); from != "" {
		params["From"] = from
	}
	twiml, err := telephony.ConnectStreamTwiML(s.cfg.StreamURL, params)
	if err != nil {
		s.log.Error("Rendering TwiML failed: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.log.Info("Incoming call %s from %s", r.PostForm.Get("CallSid"), params["From"])
	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(twiml))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "active_sessions": s.sessions.Active()})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, []storage.CallRecord{})
		return
	}
	recs, err := s.store.List(r.Context())
	if err != nil {
		s.log.Error("Listing call records failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list voicemails")
		return
	}
	if recs == nil {
		recs = []storage.CallRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleRecording(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if s.recordings == nil || rec.Recording == "" {
		writeError(w, http.StatusNotFound, "no recording")
		return
	}
	path, err := s.recordings.Path(rec.Recording)
	if err != nil {
		writeError(w, http.StatusNotFound, "no recording")
		return
	}
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "no recording")
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	http.ServeFile(w, r, path)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "voicemail not found")
		return
	}
	err := s.store.MarkRead(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrInvalidID):
		writeError(w, http.StatusNotFound, "voicemail not found")
	case err != nil:
		s.log.Error("Marking %s read failed: %v", r.PathValue("id"), err)
		writeError(w, http.StatusInternalServerError, "failed to update voicemail")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*storage.CallRecord, bool) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "voicemail not found")
		return nil, false
	}
	rec, err := s.store.Get(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrInvalidID):
		writeError(w, http.StatusNotFound, "voicemail not found")
		return nil, false
	case err != nil:
		s.log.Error("Loading %s failed: %v", r.PathValue("id"), err)
		writeError(w, http.StatusInternalServerError, "failed to load voicemail")
		return nil, false
	}
	return rec, true
}

// cors allows the voicemail dashboard to call the API from the browser.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(s.cfg.AllowedOrigins, origin) || slices.Contains(s.cfg.AllowedOrigins, "*")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
