package serializers

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/square-key-labs/strawgo-screener/src/frames"
)

const startEvent = `{
  "event": "start",
  "sequenceNumber": "1",
  "start": {
    "accountSid": "AC1",
    "streamSid": "MZ1",
    "callSid": "CA1",
    "tracks": ["inbound"],
    "mediaFormat": {"encoding": "audio/x-mulaw", "sampleRate": 8000, "channels": 1},
    "customParameters": {"From": "+15551234567"}
  },
  "streamSid": "MZ1"
}`

func TestDeserializeLifecycle(t *testing.T) {
	s := NewTwilioFrameSerializer()

	f, err := s.Deserialize([]byte(`{"event":"connected","protocol":"Call","version":"1.0.0"}`))
	require.NoError(t, err)
	conn, ok := f.(*frames.ConnectedFrame)
	require.True(t, ok)
	assert.Equal(t, "Call", conn.Protocol)

	f, err = s.Deserialize([]byte(startEvent))
	require.NoError(t, err)
	start, ok := f.(*frames.StartFrame)
	require.True(t, ok)
	assert.Equal(t, "MZ1", start.StreamSID)
	assert.Equal(t, "CA1", start.CallSID)
	assert.Equal(t, "+15551234567", start.From)
	assert.Equal(t, 8000, start.Format.SampleRate)
	assert.Equal(t, "MZ1", s.StreamSid())

	f, err = s.Deserialize([]byte(`{"event":"stop","streamSid":"MZ1","stop":{"accountSid":"AC1","callSid":"CA1"}}`))
	require.NoError(t, err)
	stop, ok := f.(*frames.StopFrame)
	require.True(t, ok)
	assert.Equal(t, "CA1", stop.CallSID)

	f, err = s.Deserialize([]byte(`{"event":"closed"}`))
	require.NoError(t, err)
	assert.IsType(t, &frames.ClosedFrame{}, f)
}

func TestDeserializeMedia(t *testing.T) {
	s := NewTwilioFrameSerializer()
	payload := make([]byte, 160)
	for i := range payload {
		payload[i] = 0xff
	}
	msg := `{"event":"media","sequenceNumber":"3","media":{"track":"inbound","chunk":"2","timestamp":"40","payload":"` +
		base64.StdEncoding.EncodeToString(payload) + `"},"streamSid":"MZ1"}`

	f, err := s.Deserialize([]byte(msg))
	require.NoError(t, err)
	audio, ok := f.(*frames.AudioFrame)
	require.True(t, ok)
	assert.Equal(t, payload, audio.Data)
	assert.Equal(t, frames.Inbound, audio.Direction)
	assert.Equal(t, "3", audio.SequenceNumber)
	assert.Equal(t, "40", audio.Timestamp)
}

func TestDeserializeErrors(t *testing.T) {
	s := NewTwilioFrameSerializer()

	_, err := s.Deserialize([]byte(`{"event":"media","media":{"payload":"***"}}`))
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = s.Deserialize([]byte(`{"event":"media"}`))
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = s.Deserialize([]byte(`{"event":"dtmf","dtmf":{"digit":"1"}}`))
	assert.ErrorIs(t, err, ErrUnknownEvent)

	_, err = s.Deserialize([]byte(`not json`))
	assert.Error(t, err)
}

func TestSerializeOutbound(t *testing.T) {
	s := NewTwilioFrameSerializer()
	_, err := s.Deserialize([]byte(startEvent))
	require.NoError(t, err)

	data, err := s.Serialize(frames.NewAudioFrame([]byte{1, 2, 3}, frames.Outbound))
	require.NoError(t, err)
	var media map[string]any
	require.NoError(t, json.Unmarshal(data, &media))
	assert.Equal(t, "media", media["event"])
	assert.Equal(t, "MZ1", media["streamSid"])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{1, 2, 3}), media["media"].(map[string]any)["payload"])

	data, err = s.Serialize(frames.NewMarkFrame("reply-1", frames.Outbound))
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"mark","streamSid":"MZ1","mark":{"name":"reply-1"}}`, string(data))

	data, err = s.Serialize(frames.NewClearFrame())
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"clear","streamSid":"MZ1"}`, string(data))

	_, err = s.Serialize(frames.NewStopFrame("MZ1", "CA1"))
	assert.ErrorIs(t, err, ErrUnsupportedFrame)
}
