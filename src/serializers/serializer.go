// Package serializers converts media stream frames to and from their wire
// format.
package serializers

import (
	"errors"

	"github.com/square-key-labs/strawgo-screener/src/frames"
)

var (
	// ErrUnknownEvent is returned for events the agent does not handle.
	// Callers log and ignore it.
	ErrUnknownEvent = errors.New("serializers: unknown event")
	// ErrMalformedPayload is returned for media events whose audio cannot
	// be decoded. Callers drop the frame.
	ErrMalformedPayload = errors.New("serializers: malformed media payload")
	// ErrUnsupportedFrame is returned when an outbound frame has no wire form.
	ErrUnsupportedFrame = errors.New("serializers: unsupported frame")
)

// SerializerType defines the websocket message type a serializer produces.
type SerializerType string

const (
	SerializerTypeBinary SerializerType = "binary"
	SerializerTypeText   SerializerType = "text"
)

// FrameSerializer is the interface for serializing and deserializing
// frames to a protocol-specific format.
type FrameSerializer interface {
	// Type returns the websocket message type used for serialized frames.
	Type() SerializerType

	// Serialize converts an outbound frame to its wire representation.
	Serialize(frame frames.Frame) ([]byte, error)

	// Deserialize converts one inbound message to a frame.
	Deserialize(data []byte) (frames.Frame, error)
}
