// Package servicestest provides a scripted in-memory backend for tests.
package servicestest

import (
	"context"
	"errors"
	"sync"

	"github.com/square-key-labs/strawgo-screener/src/services"
)

// ErrScriptExhausted is returned once a scripted queue runs dry.
var ErrScriptExhausted = errors.New("servicestest: no scripted response left")

// Backend replays queued responses. Each capability pops the next entry
// from its queue; an empty queue falls back to the Default* fields.
type Backend struct {
	ID   string
	Rate int

	mu              sync.Mutex
	transcripts     []string
	replies         []string
	synthErrs       []error
	DefaultSpeech   []byte
	Err             error
	Delay           <-chan struct{}
	SpokenTexts     []string
	GenerateInputs  [][]services.Message
	TranscribeCalls int
}

var _ services.Backend = (*Backend)(nil)

// New returns a Backend producing 24 kHz speech.
func New(id string) *Backend {
	return &Backend{ID: id, Rate: 24000}
}

// QueueTranscript adds the next Transcribe results.
func (b *Backend) QueueTranscript(texts ...string) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transcripts = append(b.transcripts, texts...)
	return b
}

// QueueReply adds the next Generate results.
func (b *Backend) QueueReply(texts ...string) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replies = append(b.replies, texts...)
	return b
}

// QueueSynthesisErr scripts the next Synthesize results; nil entries
// succeed.
func (b *Backend) QueueSynthesisErr(errs ...error) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.synthErrs = append(b.synthErrs, errs...)
	return b
}

func (b *Backend) Name() string    { return b.ID }
func (b *Backend) OutputRate() int { return b.Rate }

func (b *Backend) wait(ctx context.Context) error {
	b.mu.Lock()
	delay, err := b.Delay, b.Err
	b.mu.Unlock()
	if delay != nil {
		select {
		case <-delay:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (b *Backend) Transcribe(ctx context.Context, _ []byte, _ string) (string, error) {
	if err := b.wait(ctx); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.TranscribeCalls++
	if len(b.transcripts) == 0 {
		return "", ErrScriptExhausted
	}
	text := b.transcripts[0]
	b.transcripts = b.transcripts[1:]
	return text, nil
}

func (b *Backend) Generate(ctx context.Context, messages []services.Message) (string, error) {
	if err := b.wait(ctx); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.GenerateInputs = append(b.GenerateInputs, messages)
	if len(b.replies) == 0 {
		return "", ErrScriptExhausted
	}
	text := b.replies[0]
	b.replies = b.replies[1:]
	return text, nil
}

// Synthesize returns DefaultSpeech, or 100 ms of silence when unset.
// Failed calls are not recorded in SpokenTexts.
func (b *Backend) Synthesize(ctx context.Context, text, _ string) ([]byte, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.synthErrs) > 0 {
		err := b.synthErrs[0]
		b.synthErrs = b.synthErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	b.SpokenTexts = append(b.SpokenTexts, text)
	if b.DefaultSpeech != nil {
		return append([]byte(nil), b.DefaultSpeech...), nil
	}
	return make([]byte, b.Rate/10*2), nil
}

// Spoken returns a copy of every synthesized text so far.
func (b *Backend) Spoken() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.SpokenTexts...)
}

// SetErr makes every later call fail with err.
func (b *Backend) SetErr(err error) {
	b.mu.Lock()
	b.Err = err
	b.mu.Unlock()
}
