package frames

// ControlFrame is the base for playback control frames.
type ControlFrame struct {
	*BaseFrame
}

func (f *ControlFrame) Category() FrameCategory {
	return ControlCategory
}

// MarkFrame labels a point in outbound audio. Twilio echoes it back
// inbound once playback reaches it.
type MarkFrame struct {
	*ControlFrame
	Direction Direction
	Label     string
}

func NewMarkFrame(label string, direction Direction) *MarkFrame {
	return &MarkFrame{
		ControlFrame: &ControlFrame{BaseFrame: NewBaseFrame("MarkFrame")},
		Direction:    direction,
		Label:        label,
	}
}

// ClearFrame asks Twilio to drop buffered outbound audio.
type ClearFrame struct {
	*ControlFrame
}

func NewClearFrame() *ClearFrame {
	return &ClearFrame{
		ControlFrame: &ControlFrame{BaseFrame: NewBaseFrame("ClearFrame")},
	}
}
