// Package session runs the per-call media stream loop: endpointing caller
// audio, running turns against the conversation engine, streaming replies
// and routing the call once the reply has played.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/square-key-labs/strawgo-screener/src/audio"
	"github.com/square-key-labs/strawgo-screener/src/audio/vad"
	"github.com/square-key-labs/strawgo-screener/src/conversation"
	"github.com/square-key-labs/strawgo-screener/src/frames"
	"github.com/square-key-labs/strawgo-screener/src/logger"
	"github.com/square-key-labs/strawgo-screener/src/metrics"
	"github.com/square-key-labs/strawgo-screener/src/recording"
	"github.com/square-key-labs/strawgo-screener/src/storage"
	"github.com/square-key-labs/strawgo-screener/src/turn"
)

const outboundChunkBytes = 160 // 20 ms of 8 kHz mu-law

// Responder produces greetings and replies; *conversation.Engine
// satisfies it.
type Responder interface {
	Greet(ctx context.Context) (string, *conversation.Speech, error)
	Respond(ctx context.Context, req conversation.Request) (*conversation.Reply, error)
}

// ActionExecutor routes the call; *actions.Executor satisfies it.
type ActionExecutor interface {
	Execute(ctx context.Context, callSID string, action conversation.Action) error
}

// Sender writes outbound frames to the media stream.
type Sender interface {
	Send(frame frames.Frame) error
}

// Config holds the per-call timing parameters.
type Config struct {
	Endpoint        vad.EndpointParams
	Energy          vad.EnergyParams
	PostAudioBuffer time.Duration
	// ActionTimeout bounds the call-control request made after the
	// final reply.
	ActionTimeout time.Duration
}

// DefaultConfig returns the standard screening timings.
func DefaultConfig() Config {
	return Config{
		Endpoint:        vad.DefaultEndpointParams(),
		Energy:          vad.DefaultEnergyParams(),
		PostAudioBuffer: turn.DefaultPostAudioBuffer,
		ActionTimeout:   10 * time.Second,
	}
}

type result struct {
	seq      int
	greeting bool
	text     string
	speech   *conversation.Speech
	reply    *conversation.Reply
	err      error
}

// Session is one call. All fields are owned by the goroutine running Run,
// except those read through the accessors after Run returns.
type Session struct {
	id        string
	callSID   string
	streamSID string
	from      string
	params    map[string]string

	state         State
	history       []conversation.Turn
	exchangeCount int
	pending       conversation.Action
	routed        State
	startedAt     time.Time
	endedAt       time.Time

	cfg       Config
	responder Responder
	executor  ActionExecutor
	out       Sender
	records   *recording.Store
	recorder  *recording.Recorder
	metrics   *metrics.Metrics

	detector *vad.EndpointDetector
	turn     *turn.Controller
	sem      *semaphore.Weighted
	results  chan result
	seq      int
	window   *time.Timer
	marks    int

	log *logger.Logger
}

func newSession(cfg Config, responder Responder, executor ActionExecutor, out Sender, records *recording.Store, m *metrics.Metrics) (*Session, error) {
	detector, err := vad.NewEndpointDetector(cfg.Endpoint, vad.NewEnergyClassifier(cfg.Energy))
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 10 * time.Second
	}
	id := uuid.NewString()
	return &Session{
		id:        id,
		state:     StateIdle,
		cfg:       cfg,
		responder: responder,
		executor:  executor,
		out:       out,
		records:   records,
		metrics:   m,
		detector:  detector,
		turn:      turn.New(cfg.PostAudioBuffer, turn.WithOnArm(detector.Reset)),
		sem:       semaphore.NewWeighted(1),
		results:   make(chan result, 2),
		log:       logger.WithPrefix("Session").WithPrefix(id[:8]),
	}, nil
}

func (s *Session) ID() string                   { return s.id }
func (s *Session) CallSID() string              { return s.callSID }
func (s *Session) From() string                 { return s.from }
func (s *Session) State() State                 { return s.state }
func (s *Session) ExchangeCount() int           { return s.exchangeCount }
func (s *Session) StartedAt() time.Time         { return s.startedAt }
func (s *Session) EndedAt() time.Time           { return s.endedAt }
func (s *Session) Recording() string            { return s.recorder.Name() }
func (s *Session) History() []conversation.Turn { return slices.Clone(s.history) }

// Params returns the custom parameters from the start event.
func (s *Session) Params() map[string]string { return s.params }

// Outcome is derived from the last state before Closed.
func (s *Session) Outcome() storage.Outcome { return outcomeOf(s.routed) }

// Run consumes inbound frames until the stream stops, the channel closes,
// ctx is cancelled, or the call is routed. Any in-flight turn is abandoned
// and its result discarded.
func (s *Session) Run(ctx context.Context, in <-chan frames.Frame) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.close()

	for {
		var windowC <-chan time.Time
		if s.window != nil {
			windowC = s.window.C
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case f, ok := <-in:
			if !ok {
				s.log.Info("Stream disconnected")
				return nil
			}
			if s.handleFrame(ctx, f) {
				return nil
			}

		case r := <-s.results:
			s.handleResult(r)

		case <-windowC:
			s.window = nil
			if s.windowElapsed(ctx) {
				return nil
			}
		}
	}
}

// handleFrame returns true when the stream is over.
func (s *Session) handleFrame(ctx context.Context, f frames.Frame) bool {
	switch f := f.(type) {
	case *frames.ConnectedFrame:
		s.log.Debug("Connected (%s %s)", f.Protocol, f.Version)

	case *frames.StartFrame:
		s.start(ctx, f)

	case *frames.AudioFrame:
		s.handleAudio(ctx, f)

	case *frames.MarkFrame:
		s.log.Debug("Playback reached %s", f.Label)

	case *frames.StopFrame:
		s.log.Info("Stream stopped")
		return true

	case *frames.ClosedFrame:
		if f.Err != nil {
			s.log.Warn("Stream closed: %v", f.Err)
		} else {
			s.log.Info("Stream closed")
		}
		return true
	}
	return false
}

func (s *Session) start(ctx context.Context, f *frames.StartFrame) {
	if s.state != StateIdle {
		s.log.Warn("Ignoring duplicate start event in state %s", s.state)
		return
	}
	s.callSID = f.CallSID
	s.streamSID = f.StreamSID
	s.from = f.From
	s.params = f.CustomParameters
	s.startedAt = time.Now()
	s.log = logger.WithPrefix("Session").WithPrefix(f.CallSID)
	s.log.Info("Call started from %s (stream %s)", s.from, s.streamSID)

	rec, err := s.records.Open(f.CallSID)
	if err != nil {
		s.log.Warn("Recording disabled for this call: %v", err)
	}
	s.recorder = rec

	s.transition(StateGreeting)
	if !s.turn.TryBegin() {
		return
	}
	s.seq++
	seq := s.seq
	go s.work(ctx, result{seq: seq, greeting: true}, func(ctx context.Context, r *result) error {
		text, speech, err := s.responder.Greet(ctx)
		r.text, r.speech = text, speech
		return err
	})
}

func (s *Session) handleAudio(ctx context.Context, f *frames.AudioFrame) {
	if s.state == StateIdle {
		// media before start has no call to belong to
		s.metrics.RecordFrameDropped("before_start")
		return
	}
	pcm := audio.MulawToPCM(f.Data)
	if err := s.recorder.Write(pcm); err != nil {
		s.log.Warn("Recording write failed: %v", err)
		s.metrics.RecordFrameDropped("recording")
	}

	// the detector only accepts whole native frames
	if len(pcm) != s.detector.FrameSamples() {
		s.log.Debug("Skipping %d-sample frame", len(pcm))
		s.metrics.RecordFrameDropped("frame_size")
		return
	}
	if !s.listening() {
		return
	}
	ev, utt, err := s.detector.Process(pcm)
	if err != nil {
		s.metrics.RecordFrameDropped("frame_size")
		return
	}
	switch ev {
	case vad.EventUtterance:
		s.beginTurn(ctx, utt)
		return
	case vad.EventDiscarded:
		s.log.Debug("Discarded short utterance")
		s.metrics.RecordTurn("discarded")
	}
	s.followDetector()
}

func (s *Session) listening() bool {
	if s.state != StateListening && s.state != StateAccumulating {
		return false
	}
	return !s.turn.BlockedNow() && !s.turn.InFlight()
}

func (s *Session) followDetector() {
	if s.detector.InSpeech() {
		s.transition(StateAccumulating)
	} else {
		s.transition(StateListening)
	}
}

func (s *Session) beginTurn(ctx context.Context, utt *vad.Utterance) {
	if !s.turn.TryBegin() {
		s.log.Warn("Turn already in flight; dropping utterance")
		return
	}
	s.transition(StateProcessing)
	s.seq++
	s.log.Info("Utterance finalized: %d ms speech, %d ms total", utt.SpeechMs, utt.TotalMs)

	req := conversation.Request{
		PCM:           audio.Resample(utt.PCM, utt.SampleRate, audio.TranscriptionRate),
		SampleRate:    audio.TranscriptionRate,
		History:       slices.Clone(s.history),
		ExchangeCount: s.exchangeCount,
		CallerNumber:  s.from,
	}
	go s.work(ctx, result{seq: s.seq}, func(ctx context.Context, r *result) error {
		reply, err := s.responder.Respond(ctx, req)
		r.reply = reply
		return err
	})
}

// work runs fn off the event loop under the session semaphore and posts
// exactly one result.
func (s *Session) work(ctx context.Context, r result, fn func(context.Context, *result) error) {
	defer func() {
		if p := recover(); p != nil {
			r.err = fmt.Errorf("session: turn panicked: %v", p)
		}
		s.results <- r
	}()
	if err := s.sem.Acquire(ctx, 1); err != nil {
		r.err = err
		return
	}
	defer s.sem.Release(1)
	r.err = fn(ctx, &r)
}

func (s *Session) handleResult(r result) {
	s.turn.End()
	if r.seq != s.seq || s.state == StateClosed {
		s.log.Debug("Discarding stale result %d", r.seq)
		return
	}

	if r.greeting {
		if r.err != nil || r.speech == nil {
			s.log.Warn("Greeting failed: %v", r.err)
			s.transition(StateListening)
			return
		}
		s.appendTurn(conversation.SpeakerBot, r.text)
		s.play(r.speech.PCM, r.speech.SampleRate)
		return
	}

	if r.err != nil {
		if errors.Is(r.err, conversation.ErrDroppedTurn) {
			s.log.Warn("Turn dropped: %v", r.err)
		} else {
			s.log.Error("Turn failed: %v", r.err)
		}
		s.metrics.RecordTurn("dropped")
		s.detector.Reset()
		s.transition(StateListening)
		return
	}

	reply := r.reply
	s.appendTurn(conversation.SpeakerCaller, reply.CallerText)
	s.appendTurn(conversation.SpeakerBot, reply.BotText)
	if reply.Confirmation != "" {
		s.appendTurn(conversation.SpeakerBot, reply.Confirmation)
	}
	s.exchangeCount++
	s.metrics.RecordTurn("replied")
	if d := reply.Directive; d.Action != conversation.ActionNone || d.Suppressed {
		s.metrics.RecordDirective(d.Requested.String(), d.Suppressed)
	}

	s.transition(StateReplying)
	s.pending = reply.Directive.Action
	s.play(reply.PCM, reply.SampleRate)
}

// play clears any buffered playback, streams pcm at rate as 20 ms mu-law
// frames and arms the turn window for its duration.
func (s *Session) play(pcm []byte, rate int) {
	if len(pcm)%2 == 1 {
		pcm = pcm[:len(pcm)-1]
	}
	samples, _ := audio.BytesToPCM(pcm)
	samples = audio.Resample(samples, rate, audio.TelephonyRate)

	if err := s.recorder.Write(samples); err != nil {
		s.log.Warn("Recording write failed: %v", err)
	}
	if err := s.out.Send(frames.NewClearFrame()); err != nil {
		s.log.Debug("Sending clear failed: %v", err)
	}
	for _, chunk := range audio.Chunk(audio.PCMToMulaw(samples), outboundChunkBytes) {
		if err := s.out.Send(frames.NewAudioFrame(chunk, frames.Outbound)); err != nil {
			s.log.Warn("Sending audio failed: %v", err)
			break
		}
	}
	s.marks++
	if err := s.out.Send(frames.NewMarkFrame(fmt.Sprintf("reply-%d", s.marks), frames.Outbound)); err != nil {
		s.log.Debug("Sending mark failed: %v", err)
	}

	until := s.turn.Arm(turn.ReplyDuration(len(pcm), rate))
	s.log.Debug("Listening blocked until %s", until.Format("15:04:05.000"))
	s.window = time.NewTimer(s.turn.Remaining())
}

// windowElapsed returns true when the call has been routed.
func (s *Session) windowElapsed(ctx context.Context) bool {
	switch s.state {
	case StateGreeting:
		s.detector.Reset()
		s.transition(StateListening)
		return false

	case StateReplying:
		action := s.pending
		s.pending = conversation.ActionNone
		if action == conversation.ActionNone {
			s.detector.Reset()
			s.transition(StateListening)
			return false
		}
		s.route(ctx, action)
		return true
	}
	return false
}

func (s *Session) route(ctx context.Context, action conversation.Action) {
	if s.executor != nil {
		actx, cancel := context.WithTimeout(ctx, s.cfg.ActionTimeout)
		defer cancel()
		if err := s.executor.Execute(actx, s.callSID, action); err != nil {
			s.log.Error("Routing %s failed: %v", action, err)
		}
	}
	s.transition(terminalState(action))
}

func (s *Session) appendTurn(sp conversation.Speaker, text string) {
	if text == "" {
		return
	}
	s.history = append(s.history, conversation.Turn{Speaker: sp, Text: text, At: time.Now()})
}

func (s *Session) transition(to State) {
	if s.state == to {
		return
	}
	if !CanTransition(s.state, to) {
		s.log.Error("%v: %s -> %s", ErrInvalidTransition, s.state, to)
		return
	}
	s.log.Debug("%s -> %s", s.state, to)
	if to.Terminal() {
		s.routed = to
	}
	s.state = to
}

func (s *Session) close() {
	if s.window != nil {
		s.window.Stop()
		s.window = nil
	}
	s.transition(StateClosed)
	s.endedAt = time.Now()
	if err := s.recorder.Close(); err != nil {
		s.log.Warn("Closing recording failed: %v", err)
	}
	s.log.Info("Session closed after %d exchanges (%s, %s recorded)", s.exchangeCount, s.Outcome(), s.recorder.Duration().Round(time.Second))
}
