package frames

// SystemFrame is the base for stream lifecycle frames.
type SystemFrame struct {
	*BaseFrame
}

func (f *SystemFrame) Category() FrameCategory {
	return SystemCategory
}

func newSystemFrame(name string) *SystemFrame {
	return &SystemFrame{BaseFrame: NewBaseFrame(name)}
}

// ConnectedFrame is the first message on a media stream socket.
type ConnectedFrame struct {
	*SystemFrame
	Protocol string
	Version  string
}

func NewConnectedFrame(protocol, version string) *ConnectedFrame {
	return &ConnectedFrame{
		SystemFrame: newSystemFrame("ConnectedFrame"),
		Protocol:    protocol,
		Version:     version,
	}
}

// MediaFormat describes the stream's audio encoding.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// StartFrame opens a call session.
type StartFrame struct {
	*SystemFrame
	StreamSID        string
	CallSID          string
	AccountSID       string
	From             string
	Tracks           []string
	Format           MediaFormat
	CustomParameters map[string]string
}

func NewStartFrame(streamSID, callSID string) *StartFrame {
	return &StartFrame{
		SystemFrame:      newSystemFrame("StartFrame"),
		StreamSID:        streamSID,
		CallSID:          callSID,
		CustomParameters: map[string]string{},
	}
}

// StopFrame is sent by Twilio when the stream ends.
type StopFrame struct {
	*SystemFrame
	StreamSID string
	CallSID   string
}

func NewStopFrame(streamSID, callSID string) *StopFrame {
	return &StopFrame{
		SystemFrame: newSystemFrame("StopFrame"),
		StreamSID:   streamSID,
		CallSID:     callSID,
	}
}

// ClosedFrame reports that the socket closed, either by a "closed" event
// or a read error. Err is nil for an orderly close.
type ClosedFrame struct {
	*SystemFrame
	Err error
}

func NewClosedFrame(err error) *ClosedFrame {
	return &ClosedFrame{
		SystemFrame: newSystemFrame("ClosedFrame"),
		Err:         err,
	}
}
