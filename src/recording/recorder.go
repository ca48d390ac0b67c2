// Package recording writes each call's audio to a WAV file on disk.
package recording

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/square-key-labs/strawgo-screener/src/audio"
	"github.com/square-key-labs/strawgo-screener/src/logger"
)

var (
	// ErrClosed is returned by writes after Close.
	ErrClosed = errors.New("recording: closed")
	// ErrLimit is returned by writes that would exceed the maximum length.
	ErrLimit = errors.New("recording: length limit reached")
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// Store creates recordings under a single directory.
type Store struct {
	dir    string
	maxLen time.Duration
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithMaxDuration caps each recording at d. Zero means no cap.
func WithMaxDuration(d time.Duration) Option {
	return func(s *Store) { s.maxLen = d }
}

// NewStore creates dir if needed. An empty dir disables recording.
func NewStore(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("recording: create dir: %w", err)
	}
	s := &Store{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the directory recordings are written to.
func (s *Store) Dir() string { return s.dir }

// FileName returns the file name a call recording gets, without directory.
func (s *Store) FileName(callSID string) string {
	return fmt.Sprintf("call_%s_%s.wav", unsafeChars.ReplaceAllString(callSID, ""), s.now().Format("20060102_150405"))
}

// Path resolves a file name returned by FileName. Names containing path
// separators are rejected.
func (s *Store) Path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("recording: invalid name %q", name)
	}
	return filepath.Join(s.dir, name), nil
}

// Open starts an 8 kHz mono recording for callSID. A nil Store returns a
// nil Recorder, which discards audio.
func (s *Store) Open(callSID string) (*Recorder, error) {
	if s == nil {
		return nil, nil
	}
	name := s.FileName(callSID)
	f, err := os.Create(filepath.Join(s.dir, name))
	if err != nil {
		return nil, fmt.Errorf("recording: create file: %w", err)
	}
	w, err := audio.NewWAVWriter(f, audio.TelephonyRate)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("recording: write header: %w", err)
	}
	return &Recorder{
		name:  name,
		file:  f,
		wav:   w,
		limit: int(s.maxLen * audio.TelephonyRate / time.Second),
		log:   logger.WithPrefix("Recorder"),
	}, nil
}

// Recorder appends caller and bot audio, in arrival order, to one file.
// Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	name   string
	file   *os.File
	wav    *audio.WAVWriter
	limit  int // samples, 0 for unlimited
	closed bool
	log    *logger.Logger
}

// Name returns the recording's file name.
func (r *Recorder) Name() string {
	if r == nil {
		return ""
	}
	return r.name
}

// Write appends PCM samples. A nil Recorder discards them. A write that
// would run past the length limit is rejected whole with ErrLimit.
func (r *Recorder) Write(pcm []int16) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if r.limit > 0 && r.wav.Samples()+len(pcm) > r.limit {
		return fmt.Errorf("%w: %s", ErrLimit, r.name)
	}
	if err := r.wav.WritePCM(pcm); err != nil {
		return fmt.Errorf("recording: write %s: %w", r.name, err)
	}
	return nil
}

// Duration is the length of audio written so far.
func (r *Recorder) Duration() time.Duration {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return audio.Duration(r.wav.Samples(), audio.TelephonyRate)
}

// Close finalizes the WAV header and closes the file.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	werr := r.wav.Close()
	ferr := r.file.Close()
	if err := errors.Join(werr, ferr); err != nil {
		return fmt.Errorf("recording: close %s: %w", r.name, err)
	}
	r.log.Debug("Saved %s (%d samples)", r.name, r.wav.Samples())
	return nil
}
