// Package turn implements half-duplex turn-taking for a call: at most one
// utterance is processed at a time, and caller audio is ignored while the
// agent's reply is playing.
package turn

import (
	"sync"
	"time"

	"github.com/square-key-labs/strawgo-screener/src/audio"
)

// DefaultPostAudioBuffer is the extra quiet time after a reply finishes
// playing before endpointing resumes.
const DefaultPostAudioBuffer = 2500 * time.Millisecond

// Controller gates endpointing for one call.
type Controller struct {
	mu           sync.Mutex
	buffer       time.Duration
	now          func() time.Time
	blockedUntil time.Time
	inFlight     bool
	onArm        func()
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithOnArm registers a callback run every time the window is armed,
// typically the endpoint detector's Reset.
func WithOnArm(fn func()) Option {
	return func(c *Controller) { c.onArm = fn }
}

// New returns a Controller that adds postAudioBuffer to every reply.
func New(postAudioBuffer time.Duration, opts ...Option) *Controller {
	c := &Controller{
		buffer: postAudioBuffer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TryBegin claims the in-flight slot. It returns false if another
// utterance is already being processed.
func (c *Controller) TryBegin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight {
		return false
	}
	c.inFlight = true
	return true
}

// End releases the in-flight slot.
func (c *Controller) End() {
	c.mu.Lock()
	c.inFlight = false
	c.mu.Unlock()
}

// InFlight reports whether an utterance is being processed.
func (c *Controller) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// Arm blocks endpointing for replyDuration plus the post-audio buffer,
// measured from now, and returns the instant the window closes.
func (c *Controller) Arm(replyDuration time.Duration) time.Time {
	c.mu.Lock()
	c.blockedUntil = c.now().Add(replyDuration + c.buffer)
	until := c.blockedUntil
	onArm := c.onArm
	c.mu.Unlock()

	if onArm != nil {
		onArm()
	}
	return until
}

// Blocked reports whether caller frames should bypass the endpoint
// detector at the given instant.
func (c *Controller) Blocked(at time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.blockedUntil.IsZero() && at.Before(c.blockedUntil)
}

// BlockedNow is Blocked at the controller's clock.
func (c *Controller) BlockedNow() bool {
	return c.Blocked(c.now())
}

// Remaining returns how long the window stays closed, or zero.
func (c *Controller) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.blockedUntil.IsZero() {
		return 0
	}
	if d := c.blockedUntil.Sub(c.now()); d > 0 {
		return d
	}
	return 0
}

// ReplyDuration is the playback time of 16-bit mono PCM at rate.
func ReplyDuration(pcmBytes, rate int) time.Duration {
	return audio.DurationOfBytes(pcmBytes, rate)
}
