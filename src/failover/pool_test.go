package failover

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/square-key-labs/strawgo-screener/src/services"
)

// stubBackend answers Generate with its name, or hangs until the attempt
// deadline when slow is set. A non-nil stuck blocks until closed and
// ignores the deadline.
type stubBackend struct {
	name  string
	slow  bool
	stuck chan struct{}
	fail  error
	boom  bool
	mu    sync.Mutex
	calls int
}

func (s *stubBackend) Name() string    { return s.name }
func (s *stubBackend) OutputRate() int { return 24000 }

func (s *stubBackend) Transcribe(ctx context.Context, _ []byte, _ string) (string, error) {
	return s.Generate(ctx, nil)
}

func (s *stubBackend) Synthesize(ctx context.Context, _, _ string) ([]byte, error) {
	_, err := s.Generate(ctx, nil)
	return nil, err
}

func (s *stubBackend) Generate(ctx context.Context, _ []services.Message) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.slow {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if s.stuck != nil {
		<-s.stuck
		return s.name, nil
	}
	if s.boom {
		panic("backend bug")
	}
	if s.fail != nil {
		return "", s.fail
	}
	return s.name, nil
}

func (s *stubBackend) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recordingObserver struct {
	mu       sync.Mutex
	attempts []string
	switches []string
}

func (r *recordingObserver) Attempt(capability, credential string, err error, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.attempts = append(r.attempts, capability+"/"+credential+"/"+status)
}

func (r *recordingObserver) Switched(from, to string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.switches = append(r.switches, from+"->"+to)
}

func generate(ctx context.Context, b services.Backend) (string, error) {
	return b.Generate(ctx, nil)
}

func newPool(t *testing.T, obs Observer, backends ...*stubBackend) *Pool {
	t.Helper()
	creds := make([]Credential, len(backends))
	for i, b := range backends {
		creds[i] = Credential{Name: b.name, Backend: b}
	}
	p, err := NewPool(creds, WithAttemptTimeout(30*time.Millisecond), WithObserver(obs))
	require.NoError(t, err)
	return p
}

func TestFailoverSkipsTimedOutCredentials(t *testing.T) {
	a := &stubBackend{name: "A", slow: true}
	b := &stubBackend{name: "B", slow: true}
	c := &stubBackend{name: "C"}
	obs := &recordingObserver{}
	p := newPool(t, obs, a, b, c)

	got, err := Do(context.Background(), p, "generate", generate)
	require.NoError(t, err)
	assert.Equal(t, "C", got)
	assert.Equal(t, 2, p.Current())
	assert.Equal(t, "C", p.CurrentName())
	assert.Equal(t, []string{"generate/A/error", "generate/B/error", "generate/C/ok"}, obs.attempts)
	assert.Equal(t, []string{"A->C"}, obs.switches)

	// the next call starts at C and never touches A or B
	_, err = Do(context.Background(), p, "generate", generate)
	require.NoError(t, err)
	assert.Equal(t, 1, a.callCount())
	assert.Equal(t, 1, b.callCount())
	assert.Equal(t, 2, c.callCount())
}

func TestFailoverWrapsAround(t *testing.T) {
	a := &stubBackend{name: "A"}
	b := &stubBackend{name: "B"}
	c := &stubBackend{name: "C", fail: errors.New("quota")}
	p := newPool(t, nil, a, b, c)
	p.promote(2)

	got, err := Do(context.Background(), p, "generate", generate)
	require.NoError(t, err)
	assert.Equal(t, "A", got)
	assert.Equal(t, 0, p.Current())
}

func TestFailoverExhaustedKeepsIndex(t *testing.T) {
	a := &stubBackend{name: "A", fail: errors.New("401")}
	b := &stubBackend{name: "B", slow: true}
	p := newPool(t, nil, a, b)
	p.promote(1)

	_, err := Do(context.Background(), p, "transcribe", generate)
	require.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 1, p.Current(), "failures never move the current credential")
	assert.Equal(t, 1, a.callCount())
	assert.Equal(t, 1, b.callCount())
}

func TestFailoverStopsOnCancelledContext(t *testing.T) {
	a := &stubBackend{name: "A"}
	p := newPool(t, nil, a)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Do(ctx, p, "generate", generate)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, a.callCount())
}

func TestFailoverConcurrentCallers(t *testing.T) {
	a := &stubBackend{name: "A", fail: errors.New("down")}
	b := &stubBackend{name: "B"}
	p := newPool(t, nil, a, b)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := Do(context.Background(), p, "generate", generate)
			assert.NoError(t, err)
			assert.Equal(t, "B", got)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, p.Current())
}

func TestFailoverAbandonsBackendIgnoringDeadline(t *testing.T) {
	stuck := make(chan struct{})
	t.Cleanup(func() { close(stuck) })
	a := &stubBackend{name: "A", stuck: stuck}
	b := &stubBackend{name: "B"}
	obs := &recordingObserver{}
	p := newPool(t, obs, a, b)

	began := time.Now()
	got, err := Do(context.Background(), p, "generate", generate)
	require.NoError(t, err)
	assert.Equal(t, "B", got)
	assert.Less(t, time.Since(began), 500*time.Millisecond)
	assert.Equal(t, []string{"generate/A/error", "generate/B/ok"}, obs.attempts)
}

func TestFailoverRecoversBackendPanic(t *testing.T) {
	a := &stubBackend{name: "A", boom: true}
	b := &stubBackend{name: "B"}
	p := newPool(t, nil, a, b)

	got, err := Do(context.Background(), p, "generate", generate)
	require.NoError(t, err)
	assert.Equal(t, "B", got)
}

func TestNewPoolRequiresCredentials(t *testing.T) {
	_, err := NewPool(nil)
	assert.Error(t, err)
}
