// Package audio captures microphone PCM into a pair of fixed buffers that are
// handed to the session one completed buffer at a time.
package audio

import (
	"encoding/binary"
	"fmt"
	"time"
)

const (
	// SampleRate is the default capture rate in Hz.
	SampleRate = 22050
	// BufferSamples is the number of samples per capture buffer.
	BufferSamples = 4096
)

// Format is the PCM layout requested from the capture subsystem.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	// Float selects 32-bit float samples in [-1,1] instead of signed integers.
	Float bool
}

// DefaultFormat is 22050 Hz mono 32-bit float.
var DefaultFormat = Format{SampleRate: SampleRate, Channels: 1, BitsPerSample: 32, Float: true}

// ParseSampleFormat maps "s16"/"f32" to a format at the default rate.
func ParseSampleFormat(s string) (Format, error) {
	f := DefaultFormat
	switch s {
	case "", "f32", "float":
		return f, nil
	case "s16", "int16":
		f.BitsPerSample = 16
		f.Float = false
		return f, nil
	}
	return f, fmt.Errorf("unknown sample format %q, valid formats: 's16', 'f32'", s)
}

// Validate reports unsupported layouts.
func (f Format) Validate() error {
	switch {
	case f.SampleRate <= 0:
		return fmt.Errorf("invalid sample rate %d", f.SampleRate)
	case f.Channels <= 0:
		return fmt.Errorf("invalid channel count %d", f.Channels)
	case f.Float && f.BitsPerSample != 32:
		return fmt.Errorf("float samples must be 32 bit, got %d", f.BitsPerSample)
	case !f.Float && f.BitsPerSample != 16:
		return fmt.Errorf("integer samples must be 16 bit, got %d", f.BitsPerSample)
	}
	return nil
}

// BytesPerFrame is the size of one sample across all channels.
func (f Format) BytesPerFrame() int {
	return f.Channels * f.BitsPerSample / 8
}

// BufferBytes is the capacity of one capture buffer.
func (f Format) BufferBytes() int {
	return BufferSamples * f.BytesPerFrame()
}

// Duration is the capture time covered by n bytes.
func (f Format) Duration(n int) time.Duration {
	frames := n / f.BytesPerFrame()
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// Int16ToFloat32 converts a signed 16-bit sample to [-1,1).
func Int16ToFloat32(s int16) float32 {
	return float32(s) / 32768.0
}

// PCM16ToFloat32 converts little-endian s16 PCM into dst and returns the
// number of samples written.
func PCM16ToFloat32(dst []float32, src []byte) int {
	n := min(len(dst), len(src)/2)
	for i := 0; i < n; i++ {
		dst[i] = Int16ToFloat32(int16(binary.LittleEndian.Uint16(src[i*2:])))
	}
	return n
}
