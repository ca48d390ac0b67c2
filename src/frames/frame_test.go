package frames

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrameIDsIncrease(t *testing.T) {
	a := NewAudioFrame([]byte{0xff}, Inbound)
	b := NewMarkFrame("reply-1", Outbound)
	assert.Greater(t, b.ID(), a.ID())
	assert.Equal(t, "AudioFrame", a.Name())
	assert.Contains(t, b.String(), "MarkFrame[id=")
}

func TestCategories(t *testing.T) {
	assert.Equal(t, DataCategory, CategoryOf(NewAudioFrame(nil, Inbound)))
	assert.Equal(t, SystemCategory, CategoryOf(NewStartFrame("MZ1", "CA1")))
	assert.Equal(t, SystemCategory, CategoryOf(NewClosedFrame(nil)))
	assert.Equal(t, ControlCategory, CategoryOf(NewClearFrame()))
	assert.Equal(t, "control", ControlCategory.String())
	assert.Equal(t, "outbound", Outbound.String())
}
