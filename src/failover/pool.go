// Package failover rotates backend calls across an ordered set of
// credentials, remembering the last one that worked.
package failover

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/square-key-labs/strawgo-screener/src/logger"
	"github.com/square-key-labs/strawgo-screener/src/services"
)

// DefaultAttemptTimeout bounds a single backend call.
const DefaultAttemptTimeout = 10 * time.Second

// ErrExhausted is returned when every credential failed for one call.
var ErrExhausted = errors.New("failover: all credentials failed")

// Credential is one named backend client.
type Credential struct {
	Name    string
	Backend services.Backend
}

// Observer receives one callback per attempt. Implementations must be
// safe for concurrent use.
type Observer interface {
	Attempt(capability, credential string, err error, elapsed time.Duration)
	Switched(from, to string)
}

// Pool is shared by all calls. Only currentIndex is mutable.
type Pool struct {
	creds    []Credential
	timeout  time.Duration
	observer Observer
	log      *logger.Logger

	mu           sync.Mutex
	currentIndex int
}

// Option configures a Pool.
type Option func(*Pool)

// WithAttemptTimeout overrides DefaultAttemptTimeout.
func WithAttemptTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithObserver reports every attempt, e.g. to metrics.
func WithObserver(o Observer) Option {
	return func(p *Pool) { p.observer = o }
}

// NewPool returns a pool starting at the first credential.
func NewPool(creds []Credential, opts ...Option) (*Pool, error) {
	if len(creds) == 0 {
		return nil, errors.New("failover: at least one credential is required")
	}
	p := &Pool{
		creds:   append([]Credential(nil), creds...),
		timeout: DefaultAttemptTimeout,
		log:     logger.WithPrefix("Failover"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Len returns the number of credentials.
func (p *Pool) Len() int { return len(p.creds) }

// Current returns the index calls start from.
func (p *Pool) Current() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentIndex
}

// CurrentName returns the name of the credential calls start from.
func (p *Pool) CurrentName() string {
	return p.creds[p.Current()].Name
}

func (p *Pool) promote(idx int) {
	p.mu.Lock()
	prev := p.currentIndex
	p.currentIndex = idx
	p.mu.Unlock()

	if prev != idx {
		p.log.Info("Switched credential %s -> %s", p.creds[prev].Name, p.creds[idx].Name)
		if p.observer != nil {
			p.observer.Switched(p.creds[prev].Name, p.creds[idx].Name)
		}
	}
}

// Do runs fn against each credential in turn, starting at the current one
// and wrapping around, until one succeeds. Each attempt gets its own
// timeout. A success makes that credential current; failures never touch
// shared state. If ctx is cancelled the remaining attempts are skipped.
func Do[T any](ctx context.Context, p *Pool, capability string, fn func(ctx context.Context, b services.Backend) (T, error)) (T, error) {
	var zero T
	start := p.Current()
	n := len(p.creds)
	var errs []error

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		idx := (start + i) % n
		cred := p.creds[idx]

		attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
		began := time.Now()
		result, err := attempt(attemptCtx, cred.Backend, fn)
		cancel()
		elapsed := time.Since(began)

		if p.observer != nil {
			p.observer.Attempt(capability, cred.Name, err, elapsed)
		}
		if err == nil {
			p.promote(idx)
			return result, nil
		}

		p.log.Warn("%s via %s failed after %s: %v", capability, cred.Name, elapsed.Round(time.Millisecond), err)
		errs = append(errs, fmt.Errorf("%s: %w", cred.Name, err))
	}

	return zero, fmt.Errorf("%w for %s: %w", ErrExhausted, capability, errors.Join(errs...))
}

type outcome[T any] struct {
	value T
	err   error
}

// attempt runs fn and returns when it finishes or ctx ends, whichever is
// first. A backend that ignores ctx is left to finish on its own.
func attempt[T any](ctx context.Context, b services.Backend, fn func(ctx context.Context, b services.Backend) (T, error)) (T, error) {
	done := make(chan outcome[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome[T]{err: fmt.Errorf("failover: %s panicked: %v", b.Name(), r)}
			}
		}()
		v, err := fn(ctx, b)
		done <- outcome[T]{value: v, err: err}
	}()

	select {
	case o := <-done:
		if o.err == nil && ctx.Err() != nil {
			// answered right at the deadline
			var zero T
			return zero, ctx.Err()
		}
		return o.value, o.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
