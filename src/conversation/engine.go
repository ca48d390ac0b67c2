// Package conversation runs one call turn against the backend: transcribe
// the caller, generate a reply, pick a routing directive and synthesize
// the reply audio.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/square-key-labs/strawgo-screener/src/audio"
	"github.com/square-key-labs/strawgo-screener/src/calendar"
	"github.com/square-key-labs/strawgo-screener/src/failover"
	"github.com/square-key-labs/strawgo-screener/src/logger"
	"github.com/square-key-labs/strawgo-screener/src/services"
)

// ErrDroppedTurn means the turn produced nothing to say: the caller
// audio held no words, or a backend call failed on every credential.
var ErrDroppedTurn = errors.New("conversation: turn dropped")

// Calendar books follow-up meetings for the owner.
type Calendar interface {
	// CurrentEventDescription describes what the owner is doing now, or
	// returns "" when their calendar is free.
	CurrentEventDescription(ctx context.Context) (string, error)
	// BookNextAvailable books the next open slot and returns a
	// human-readable confirmation.
	BookNextAvailable(ctx context.Context, callerName, callerPhone string) (string, error)
}

// Config holds the per-deployment conversation settings.
type Config struct {
	OwnerName    string
	SystemPrompt string // template; {{owner}} is replaced
	Greeting     string // template; {{owner}} is replaced
	Voice        string
	GreetVoice   string
	MinExchanges int
	Rules        []Rule // defaults to DefaultRules(OwnerName)
	// CalendarTimeout bounds each calendar request; default 10s.
	CalendarTimeout time.Duration
}

// Request is the input of one turn.
type Request struct {
	PCM           []int16
	SampleRate    int
	History       []Turn
	ExchangeCount int
	CallerNumber  string
}

// Reply is the output of a successful turn.
type Reply struct {
	CallerText string
	BotText    string
	Raw        string
	Directive  Directive
	// Confirmation is the booking utterance, already included in PCM. It
	// is empty when the confirmation could not be synthesized.
	Confirmation string
	PCM          []byte
	SampleRate   int
}

// Speech is synthesized audio and its sample rate.
type Speech struct {
	PCM        []byte
	SampleRate int
}

// Engine is shared by all calls; it keeps no per-call state.
type Engine struct {
	pool     *failover.Pool
	calendar Calendar
	cfg      Config
	parser   *DirectiveParser
	prompt   string
	log      *logger.Logger
}

// NewEngine returns an Engine. calendar may be nil, in which case
// BOOK_MEETING replies end the call without booking.
func NewEngine(pool *failover.Pool, calendar Calendar, cfg Config) *Engine {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Greeting == "" {
		cfg.Greeting = DefaultGreeting
	}
	if cfg.GreetVoice == "" {
		cfg.GreetVoice = cfg.Voice
	}
	if cfg.CalendarTimeout <= 0 {
		cfg.CalendarTimeout = 10 * time.Second
	}
	rules := cfg.Rules
	if rules == nil {
		rules = DefaultRules(cfg.OwnerName)
	}
	return &Engine{
		pool:     pool,
		calendar: calendar,
		cfg:      cfg,
		parser:   &DirectiveParser{Rules: rules, MinExchanges: cfg.MinExchanges},
		prompt:   RenderPrompt(cfg.SystemPrompt, cfg.OwnerName),
		log:      logger.WithPrefix("Conversation"),
	}
}

// GreetingText returns the rendered greeting.
func (e *Engine) GreetingText() string {
	return RenderPrompt(e.cfg.Greeting, e.cfg.OwnerName)
}

// Greet synthesizes the greeting.
func (e *Engine) Greet(ctx context.Context) (string, *Speech, error) {
	text := e.GreetingText()
	sp, err := e.Speak(ctx, text, e.cfg.GreetVoice)
	return text, sp, err
}

// Speak synthesizes text through the credential pool.
func (e *Engine) Speak(ctx context.Context, text, voice string) (*Speech, error) {
	if voice == "" {
		voice = e.cfg.Voice
	}
	return failover.Do(ctx, e.pool, "synthesize", func(ctx context.Context, b services.Backend) (*Speech, error) {
		pcm, err := b.Synthesize(ctx, text, voice)
		if err != nil {
			return nil, err
		}
		return &Speech{PCM: pcm, SampleRate: b.OutputRate()}, nil
	})
}

// Respond runs the transcribe, generate and synthesize sequence for one
// utterance. Any failure yields ErrDroppedTurn and leaves the caller's
// history unchanged.
func (e *Engine) Respond(ctx context.Context, req Request) (*Reply, error) {
	began := time.Now()
	wav := audio.EncodeWAV(req.PCM, req.SampleRate)

	callerText, err := failover.Do(ctx, e.pool, "transcribe", func(ctx context.Context, b services.Backend) (string, error) {
		return b.Transcribe(ctx, wav, "wav")
	})
	if err != nil {
		return nil, fmt.Errorf("%w: transcribe: %w", ErrDroppedTurn, err)
	}
	if callerText == "" {
		return nil, fmt.Errorf("%w: empty transcription", ErrDroppedTurn)
	}
	e.log.Info("Caller: %s", callerText)

	messages := services.NewMessages(e.prompt, Messages(req.History)...)
	messages = append(messages, services.Message{Role: services.RoleUser, Content: callerText})

	raw, err := failover.Do(ctx, e.pool, "generate", func(ctx context.Context, b services.Backend) (string, error) {
		return b.Generate(ctx, messages)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: generate: %w", ErrDroppedTurn, err)
	}

	directive, spoken := e.parser.Parse(raw, req.ExchangeCount)
	if directive.Suppressed {
		e.log.Info("Suppressed %s directive (%d/%d exchanges)", directive.Requested, req.ExchangeCount, e.cfg.MinExchanges)
	} else if directive.Action != ActionNone {
		e.log.Info("Directive %s from %s %q", directive.Action, directive.Source, directive.Match)
	}
	if spoken == "" {
		spoken = fallbackUtterance(directive.Action)
	}
	e.log.Info("Bot: %s", spoken)

	reply := &Reply{
		CallerText: callerText,
		BotText:    spoken,
		Raw:        raw,
		Directive:  directive,
	}

	if spoken != "" {
		speech, err := e.Speak(ctx, spoken, "")
		if err != nil {
			return nil, fmt.Errorf("%w: synthesize: %w", ErrDroppedTurn, err)
		}
		reply.PCM = speech.PCM
		reply.SampleRate = speech.SampleRate
	}

	if directive.Action == ActionBook {
		e.book(ctx, req, reply)
	}

	e.log.Debug("Turn completed in %s", time.Since(began).Round(time.Millisecond))
	return reply, nil
}

// book reserves a meeting and appends the confirmation audio. Calendar
// failures turn the directive into a plain END with an apology. Once a
// meeting is booked the turn is kept even if the confirmation cannot be
// spoken.
func (e *Engine) book(ctx context.Context, req Request, reply *Reply) {
	owner := ownerOrDefault(e.cfg.OwnerName)
	booked := false
	var confirmation string
	if e.calendar == nil {
		confirmation = fmt.Sprintf("I can't book meetings right now, but I'll let %s know you called. Goodbye.", owner)
		reply.Directive.Action = ActionEnd
	} else {
		current, err := e.currentEvent(ctx)
		if err != nil {
			e.log.Warn("Calendar lookup failed: %v", err)
			current = ""
		}
		transcript := make([]Turn, 0, len(req.History)+1)
		transcript = append(transcript, req.History...)
		name := ExtractCallerName(append(transcript, Turn{Speaker: SpeakerBot, Text: reply.BotText}))
		if name == "" {
			name = req.CallerNumber
		}
		booking, err := e.bookSlot(ctx, name, req.CallerNumber)
		switch {
		case errors.Is(err, calendar.ErrNoSlot):
			e.log.Info("No free slot: %v", err)
			confirmation = fmt.Sprintf("%s's calendar is full for the next few days, but I'll let them know you called. Goodbye.", owner)
			reply.Directive.Action = ActionEnd
		case err != nil:
			e.log.Warn("Booking failed: %v", err)
			confirmation = fmt.Sprintf("I wasn't able to book a meeting, but I'll let %s know you called. Goodbye.", owner)
			reply.Directive.Action = ActionEnd
		default:
			booked = true
			confirmation = BookingConfirmation(e.cfg.OwnerName, current, booking)
		}
	}

	speech, err := e.Speak(ctx, confirmation, "")
	if err != nil {
		if booked {
			e.log.Warn("Meeting booked but confirmation not spoken: %v", err)
		} else {
			e.log.Warn("Apology not spoken: %v", err)
		}
		return
	}
	reply.Confirmation = confirmation
	if reply.SampleRate != 0 && reply.SampleRate != speech.SampleRate {
		pcm, _ := audio.BytesToPCM(speech.PCM)
		speech.PCM = audio.PCMToBytes(audio.Resample(pcm, speech.SampleRate, reply.SampleRate))
	} else {
		reply.SampleRate = speech.SampleRate
	}
	reply.PCM = append(reply.PCM, speech.PCM...)
}

func (e *Engine) currentEvent(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.CalendarTimeout)
	defer cancel()
	return e.calendar.CurrentEventDescription(ctx)
}

func (e *Engine) bookSlot(ctx context.Context, name, phone string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.CalendarTimeout)
	defer cancel()
	return e.calendar.BookNextAvailable(ctx, name, phone)
}

func fallbackUtterance(a Action) string {
	switch a {
	case ActionForward:
		return "One moment, I'll connect you now."
	case ActionEnd:
		return "Goodbye."
	default:
		return ""
	}
}
