package session

import (
	"context"
	"sync"
	"time"

	"github.com/square-key-labs/strawgo-screener/src/frames"
	"github.com/square-key-labs/strawgo-screener/src/logger"
	"github.com/square-key-labs/strawgo-screener/src/metrics"
	"github.com/square-key-labs/strawgo-screener/src/recording"
	"github.com/square-key-labs/strawgo-screener/src/storage"
)

const saveTimeout = 10 * time.Second

// Manager creates sessions, tracks the active ones and stores a call
// record when each finishes.
type Manager struct {
	cfg        Config
	responder  Responder
	executor   ActionExecutor
	recordings *recording.Store
	store      storage.Store
	metrics    *metrics.Metrics

	mu       sync.Mutex
	sessions map[string]*Session
	pending  int           // running sessions plus unsaved records
	idle     chan struct{} // closed when pending reaches zero
	log      *logger.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithRecordings writes a WAV file per call.
func WithRecordings(store *recording.Store) Option {
	return func(m *Manager) { m.recordings = store }
}

// WithStore persists a call record for every finished call.
func WithStore(store storage.Store) Option {
	return func(m *Manager) { m.store = store }
}

// WithMetrics records session and turn metrics.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// NewManager returns a Manager. executor may be nil, in which case
// directives end the session without touching the call.
func NewManager(cfg Config, responder Responder, executor ActionExecutor, opts ...Option) *Manager {
	m := &Manager{
		cfg:       cfg,
		responder: responder,
		executor:  executor,
		sessions:  make(map[string]*Session),
		log:       logger.WithPrefix("Sessions"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Serve runs one session over a media stream and returns when it closes.
func (m *Manager) Serve(ctx context.Context, out Sender, in <-chan frames.Frame) error {
	s, err := newSession(m.cfg, m.responder, m.executor, out, m.recordings, m.metrics)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.pending++
	m.mu.Unlock()
	defer m.done()
	m.metrics.RecordSessionStart()
	began := time.Now()

	runErr := s.Run(ctx, in)

	m.mu.Lock()
	delete(m.sessions, s.ID())
	m.mu.Unlock()
	m.metrics.RecordSessionEnd(string(s.Outcome()), time.Since(began))

	m.persist(s)
	return runErr
}

// persist summarizes the call and stores it in the background.
func (m *Manager) persist(s *Session) {
	if m.store == nil || s.CallSID() == "" {
		return
	}
	rec := storage.Summarize(storage.CallSummary{
		CallSID:   s.CallSID(),
		From:      s.From(),
		History:   s.History(),
		Recording: s.Recording(),
		Outcome:   s.Outcome(),
		StartedAt: s.StartedAt(),
	})

	m.mu.Lock()
	m.pending++
	m.mu.Unlock()
	go func() {
		defer m.done()
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		if err := m.store.Append(ctx, rec); err != nil {
			m.log.Error("Saving call record for %s failed: %v", rec.CallSID, err)
			m.metrics.RecordCallRecordFailure()
			return
		}
		m.log.Info("Saved call record %s: %s (%s) spam=%v", rec.ID, rec.Name, rec.Number, rec.Spam)
	}()
}

// Active returns the number of running sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) done() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending--
	if m.pending == 0 && m.idle != nil {
		close(m.idle)
		m.idle = nil
	}
}

// Wait blocks until every running call has ended and its record is saved,
// or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.Lock()
	if m.pending == 0 {
		m.mu.Unlock()
		return nil
	}
	if m.idle == nil {
		m.idle = make(chan struct{})
	}
	idle := m.idle
	m.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
