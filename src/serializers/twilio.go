package serializers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/square-key-labs/strawgo-screener/src/frames"
)

// TwilioFrameSerializer handles the Twilio Media Streams websocket
// protocol. It learns the stream SID from the start event and stamps it on
// every outbound message. Safe for concurrent use.
type TwilioFrameSerializer struct {
	mu        sync.RWMutex
	streamSid string
	callSid   string
}

// Twilio message structures
type twilioMessage struct {
	Event          string       `json:"event"`
	SequenceNumber string       `json:"sequenceNumber,omitempty"`
	StreamSid      string       `json:"streamSid,omitempty"`
	Protocol       string       `json:"protocol,omitempty"`
	Version        string       `json:"version,omitempty"`
	Media          *twilioMedia `json:"media,omitempty"`
	Start          *twilioStart `json:"start,omitempty"`
	Mark           *twilioMark  `json:"mark,omitempty"`
	Stop           *twilioStop  `json:"stop,omitempty"`
	From           string       `json:"from,omitempty"`
}

type twilioMedia struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"` // base64-encoded mulaw audio
}

type twilioStart struct {
	StreamSid        string             `json:"streamSid"`
	CallSid          string             `json:"callSid"`
	AccountSid       string             `json:"accountSid"`
	Tracks           []string           `json:"tracks"`
	MediaFormat      frames.MediaFormat `json:"mediaFormat"`
	CustomParameters map[string]string  `json:"customParameters,omitempty"`
}

type twilioMark struct {
	Name string `json:"name"`
}

type twilioStop struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

// NewTwilioFrameSerializer creates a new Twilio serializer.
func NewTwilioFrameSerializer() *TwilioFrameSerializer {
	return &TwilioFrameSerializer{}
}

// Type returns the serialization type (Twilio uses JSON/text).
func (s *TwilioFrameSerializer) Type() SerializerType {
	return SerializerTypeText
}

// Serialize converts an outbound frame to Twilio JSON.
func (s *TwilioFrameSerializer) Serialize(frame frames.Frame) ([]byte, error) {
	msg := twilioMessage{StreamSid: s.StreamSid()}

	switch f := frame.(type) {
	case *frames.AudioFrame:
		msg.Event = "media"
		msg.Media = &twilioMedia{Payload: base64.StdEncoding.EncodeToString(f.Data)}
	case *frames.MarkFrame:
		msg.Event = "mark"
		msg.Mark = &twilioMark{Name: f.Label}
	case *frames.ClearFrame:
		// stop audio playback
		msg.Event = "clear"
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFrame, frame.Name())
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal Twilio %s message: %w", msg.Event, err)
	}
	return data, nil
}

// Deserialize converts one Twilio JSON message to a frame.
func (s *TwilioFrameSerializer) Deserialize(data []byte) (frames.Frame, error) {
	var msg twilioMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal Twilio message: %w", err)
	}

	switch msg.Event {
	case "connected":
		return frames.NewConnectedFrame(msg.Protocol, msg.Version), nil

	case "start":
		if msg.Start == nil {
			return nil, fmt.Errorf("start event missing start data")
		}
		streamSid := msg.Start.StreamSid
		if streamSid == "" {
			streamSid = msg.StreamSid
		}
		s.mu.Lock()
		s.streamSid = streamSid
		s.callSid = msg.Start.CallSid
		s.mu.Unlock()

		start := frames.NewStartFrame(streamSid, msg.Start.CallSid)
		start.AccountSID = msg.Start.AccountSid
		start.Tracks = msg.Start.Tracks
		start.Format = msg.Start.MediaFormat
		for k, v := range msg.Start.CustomParameters {
			start.CustomParameters[k] = v
		}
		start.From = callerNumber(msg)
		return start, nil

	case "media":
		if msg.Media == nil {
			return nil, fmt.Errorf("%w: media event missing media data", ErrMalformedPayload)
		}
		audioData, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		f := frames.NewAudioFrame(audioData, frames.Inbound)
		f.SequenceNumber = msg.SequenceNumber
		f.Track = msg.Media.Track
		f.Chunk = msg.Media.Chunk
		f.Timestamp = msg.Media.Timestamp
		return f, nil

	case "mark":
		label := ""
		if msg.Mark != nil {
			label = msg.Mark.Name
		}
		return frames.NewMarkFrame(label, frames.Inbound), nil

	case "stop":
		callSid := s.CallSid()
		if msg.Stop != nil && msg.Stop.CallSid != "" {
			callSid = msg.Stop.CallSid
		}
		return frames.NewStopFrame(msg.StreamSid, callSid), nil

	case "closed":
		return frames.NewClosedFrame(nil), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, msg.Event)
	}
}

// callerNumber finds the caller's number, which Twilio only sends when
// the TwiML passes it as a stream parameter.
func callerNumber(msg twilioMessage) string {
	params := msg.Start.CustomParameters
	for _, k := range []string{"From", "from", "caller"} {
		if v := params[k]; v != "" {
			return v
		}
	}
	return msg.From
}

// StreamSid returns the current stream SID.
func (s *TwilioFrameSerializer) StreamSid() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streamSid
}

// CallSid returns the current call SID.
func (s *TwilioFrameSerializer) CallSid() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.callSid
}
