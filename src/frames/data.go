package frames

// AudioFrame carries mu-law audio at 8 kHz. Inbound frames are 20 ms
// (160 bytes); outbound frames are chunked the same way.
type AudioFrame struct {
	*BaseFrame
	Direction      Direction
	Data           []byte
	SequenceNumber string
	Track          string
	Chunk          string
	Timestamp      string // ms since stream start, as sent by Twilio
}

func NewAudioFrame(data []byte, direction Direction) *AudioFrame {
	return &AudioFrame{
		BaseFrame: NewBaseFrame("AudioFrame"),
		Direction: direction,
		Data:      data,
	}
}

func (f *AudioFrame) Category() FrameCategory {
	return DataCategory
}
