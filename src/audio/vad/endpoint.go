package vad

import (
	"errors"
	"fmt"
)

// ErrFrameSize is returned for frames whose sample count does not match
// the configured frame duration.
var ErrFrameSize = errors.New("vad: unexpected frame size")

// EndpointParams configures utterance endpointing. All durations are in
// milliseconds.
type EndpointParams struct {
	SampleRate     int
	FrameMs        int
	EndSilenceMs   int
	MaxUtteranceMs int
	MinSpeechMs    int
}

// DefaultEndpointParams returns the parameters used for 8 kHz media streams.
func DefaultEndpointParams() EndpointParams {
	return EndpointParams{
		SampleRate:     8000,
		FrameMs:        20,
		EndSilenceMs:   2000,
		MaxUtteranceMs: 15000,
		MinSpeechMs:    800,
	}
}

func (p EndpointParams) validate() error {
	switch {
	case p.SampleRate <= 0:
		return fmt.Errorf("vad: sample rate must be positive, got %d", p.SampleRate)
	case p.FrameMs <= 0 || p.FrameMs%10 != 0:
		return fmt.Errorf("vad: frame duration must be a positive multiple of 10ms, got %d", p.FrameMs)
	case p.SampleRate*p.FrameMs%1000 != 0:
		return fmt.Errorf("vad: %dms frames do not divide %dHz evenly", p.FrameMs, p.SampleRate)
	case p.EndSilenceMs <= 0 || p.MaxUtteranceMs <= 0:
		return errors.New("vad: end silence and max utterance must be positive")
	}
	return nil
}

// Event is the outcome of feeding one frame.
type Event int

const (
	// EventNone means the frame was absorbed without finalizing.
	EventNone Event = iota
	// EventUtterance means an utterance was finalized and emitted.
	EventUtterance
	// EventDiscarded means an utterance finalized with too little speech.
	EventDiscarded
)

func (e Event) String() string {
	switch e {
	case EventNone:
		return "none"
	case EventUtterance:
		return "utterance"
	case EventDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// Utterance is a finalized span of caller audio, trailing silence included.
type Utterance struct {
	PCM        []int16
	SampleRate int
	SpeechMs   int
	SilenceMs  int
	TotalMs    int
}

// EndpointDetector accumulates frames into utterances. It is not safe for
// concurrent use; a call session owns exactly one.
type EndpointDetector struct {
	params       EndpointParams
	classifier   Classifier
	frameSamples int

	buf       []int16
	speechMs  int
	silenceMs int
	totalMs   int
	inSpeech  bool
}

// NewEndpointDetector validates params and returns an empty detector.
func NewEndpointDetector(params EndpointParams, classifier Classifier) (*EndpointDetector, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	if classifier == nil {
		return nil, errors.New("vad: classifier is required")
	}
	return &EndpointDetector{
		params:       params,
		classifier:   classifier,
		frameSamples: params.SampleRate * params.FrameMs / 1000,
	}, nil
}

// FrameSamples returns the number of samples each frame must carry.
func (d *EndpointDetector) FrameSamples() int {
	return d.frameSamples
}

// InSpeech reports whether an utterance is currently being accumulated.
func (d *EndpointDetector) InSpeech() bool {
	return d.inSpeech
}

// Process feeds one frame. A frame of the wrong size returns ErrFrameSize
// and leaves the detector untouched.
func (d *EndpointDetector) Process(frame []int16) (Event, *Utterance, error) {
	if len(frame) != d.frameSamples {
		return EventNone, nil, fmt.Errorf("%w: got %d samples, want %d", ErrFrameSize, len(frame), d.frameSamples)
	}

	frameMs := d.params.FrameMs
	d.totalMs += frameMs

	if d.classifier.IsSpeech(frame, d.params.SampleRate) {
		d.inSpeech = true
		d.speechMs += frameMs
		d.silenceMs = 0
		d.buf = append(d.buf, frame...)
	} else if d.inSpeech {
		d.silenceMs += frameMs
		d.buf = append(d.buf, frame...)
	}

	if !d.inSpeech {
		return EventNone, nil, nil
	}
	if d.silenceMs < d.params.EndSilenceMs && d.totalMs < d.params.MaxUtteranceMs {
		return EventNone, nil, nil
	}

	if d.speechMs < d.params.MinSpeechMs {
		d.clear()
		return EventDiscarded, nil, nil
	}

	utt := &Utterance{
		PCM:        d.buf,
		SampleRate: d.params.SampleRate,
		SpeechMs:   d.speechMs,
		SilenceMs:  d.silenceMs,
		TotalMs:    d.totalMs,
	}
	d.buf = nil
	d.clear()
	return EventUtterance, utt, nil
}

// Reset drops any partial utterance and the classifier state.
func (d *EndpointDetector) Reset() {
	d.clear()
	if r, ok := d.classifier.(resetter); ok {
		r.Reset()
	}
}

func (d *EndpointDetector) clear() {
	d.buf = d.buf[:0]
	d.speechMs = 0
	d.silenceMs = 0
	d.totalMs = 0
	d.inSpeech = false
}
