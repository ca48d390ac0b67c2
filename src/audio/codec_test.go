package audio

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMulawEncodeDecodeIdempotent(t *testing.T) {
	for b := 0; b < 256; b++ {
		decoded := MulawToPCM([]byte{byte(b)})
		again := MulawToPCM(PCMToMulaw(decoded))
		assert.Equal(t, decoded, again, "byte 0x%02x", b)
	}
}

func TestMulawEncodeExtremes(t *testing.T) {
	pcm := []int16{-32768, 32767, 0}
	out := MulawToPCM(PCMToMulaw(pcm))
	assert.Equal(t, int16(-32124), out[0])
	assert.Equal(t, int16(32124), out[1])
	assert.Equal(t, int16(0), out[2])
}

func TestResampleLength(t *testing.T) {
	cases := []struct {
		name     string
		in       int
		from, to int
		want     int
	}{
		{"up 8k to 16k", 160, 8000, 16000, 320},
		{"down 24k to 8k", 480, 24000, 8000, 160},
		{"down uneven", 1001, 24000, 8000, 334},
		{"same rate", 77, 8000, 8000, 77},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := Resample(make([]int16, tc.in), tc.from, tc.to)
			assert.Equal(t, tc.want, len(out))
			ideal := float64(tc.in) * float64(tc.to) / float64(tc.from)
			assert.InDelta(t, ideal, float64(len(out)), 1.0)
		})
	}
}

func TestResampleInterpolates(t *testing.T) {
	out := Resample([]int16{0, 100, 200}, 8000, 16000)
	require.Len(t, out, 6)
	assert.Equal(t, []int16{0, 50, 100, 150, 200, 200}, out)
}

func TestBytesToPCMOddLength(t *testing.T) {
	_, err := BytesToPCM([]byte{1, 2, 3})
	assert.Error(t, err)

	pcm, err := BytesToPCM(PCMToBytes([]int16{-1, 2, 300}))
	require.NoError(t, err)
	assert.Equal(t, []int16{-1, 2, 300}, pcm)
}

func TestDurationOfBytes(t *testing.T) {
	// 4 s of 24 kHz 16-bit mono
	assert.Equal(t, 4*time.Second, DurationOfBytes(24000*2*4, SynthesisRate))
	assert.Equal(t, 20*time.Millisecond, Duration(160, TelephonyRate))
	assert.Zero(t, Duration(10, 0))
}

func TestChunk(t *testing.T) {
	chunks := Chunk(make([]byte, 350), 160)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 160)
	assert.Len(t, chunks[2], 30)
	assert.Nil(t, Chunk(nil, 160))
}

func TestEncodeWAVHeader(t *testing.T) {
	wav := EncodeWAV([]int16{1, 2, 3, 4}, 16000)
	require.Len(t, wav, 44+8)
	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, uint32(16000), binary.LittleEndian.Uint32(wav[24:28]))
	assert.Equal(t, uint32(8), binary.LittleEndian.Uint32(wav[40:44]))
}

func TestWAVWriterPatchesSizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "call.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	w, err := NewWAVWriter(f, TelephonyRate)
	require.NoError(t, err)
	require.NoError(t, w.WritePCM(make([]int16, 160)))
	require.NoError(t, w.WritePCM(make([]int16, 40)))
	assert.Equal(t, 200, w.Samples())
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
	assert.ErrorIs(t, w.WritePCM([]int16{1}), ErrWriterClosed)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, data, 44+400)
	assert.Equal(t, uint32(36+400), binary.LittleEndian.Uint32(data[4:8]))
	assert.Equal(t, uint32(400), binary.LittleEndian.Uint32(data[40:44]))
}
