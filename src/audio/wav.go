package audio

import (
	"encoding/binary"
	"errors"
	"io"
)

const wavHeaderSize = 44

// EncodeWAV wraps mono 16-bit PCM in a RIFF/WAVE container.
func EncodeWAV(pcm []int16, sampleRate int) []byte {
	data := PCMToBytes(pcm)
	buf := make([]byte, wavHeaderSize+len(data))
	putWAVHeader(buf, sampleRate, len(data))
	copy(buf[wavHeaderSize:], data)
	return buf
}

func putWAVHeader(buf []byte, sampleRate, dataLen int) {
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataLen))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(buf[20:22], 1)  // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1)  // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(buf[32:34], 2)
	binary.LittleEndian.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))
}

// WAVWriter streams PCM into a seekable destination and patches the
// RIFF sizes on Close.
type WAVWriter struct {
	w          io.WriteSeeker
	sampleRate int
	dataLen    int
	closed     bool
}

var ErrWriterClosed = errors.New("wav writer closed")

// NewWAVWriter writes a placeholder header and returns the writer.
func NewWAVWriter(w io.WriteSeeker, sampleRate int) (*WAVWriter, error) {
	header := make([]byte, wavHeaderSize)
	putWAVHeader(header, sampleRate, 0)
	if _, err := w.Write(header); err != nil {
		return nil, err
	}
	return &WAVWriter{w: w, sampleRate: sampleRate}, nil
}

// WritePCM appends samples to the data chunk.
func (ww *WAVWriter) WritePCM(pcm []int16) error {
	if ww.closed {
		return ErrWriterClosed
	}
	n, err := ww.w.Write(PCMToBytes(pcm))
	ww.dataLen += n
	return err
}

// Samples returns the number of samples written so far.
func (ww *WAVWriter) Samples() int {
	return ww.dataLen / 2
}

// Close rewrites the header with the final sizes. It does not close the
// underlying destination.
func (ww *WAVWriter) Close() error {
	if ww.closed {
		return nil
	}
	ww.closed = true
	header := make([]byte, wavHeaderSize)
	putWAVHeader(header, ww.sampleRate, ww.dataLen)
	if _, err := ww.w.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := ww.w.Write(header); err != nil {
		return err
	}
	_, err := ww.w.Seek(0, io.SeekEnd)
	return err
}
