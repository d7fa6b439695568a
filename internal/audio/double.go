package audio

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Handoff receives the recorded bytes of a completed buffer. pcm is only valid
// during the call; implementations copy it and must not block.
type Handoff func(pcm []byte)

// DoubleBuffer keeps two buffers queued on a Capture: while one is filled by
// the device the other is handed off and resubmitted.
type DoubleBuffer struct {
	capture Capture
	format  Format
	handoff Handoff

	mu      sync.Mutex
	bufs    [2][]byte
	running bool

	completions      atomic.Uint64
	resubmitFailures atomic.Uint64

	log *logrus.Entry
}

// NewDoubleBuffer returns a double buffer for capture. It does not open the
// device.
func NewDoubleBuffer(capture Capture, format Format, handoff Handoff) *DoubleBuffer {
	return &DoubleBuffer{
		capture: capture,
		format:  format,
		handoff: handoff,
		log:     logrus.WithField("component", "audio"),
	}
}

// Start opens the capture, queues both buffers and starts recording.
func (d *DoubleBuffer) Start() error {
	if err := d.format.Validate(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return fmt.Errorf("audio capture is already running")
	}

	if err := d.capture.Open(d.format, d.complete); err != nil {
		return fmt.Errorf("failed to open audio capture: %w", err)
	}
	size := d.format.BufferBytes()
	for i := range d.bufs {
		d.bufs[i] = make([]byte, size)
		if err := d.capture.Submit(d.bufs[i]); err != nil {
			_ = d.capture.Close()
			return fmt.Errorf("failed to submit audio buffer %d: %w", i, err)
		}
	}
	if err := d.capture.Start(); err != nil {
		_ = d.capture.Close()
		return fmt.Errorf("failed to start audio capture: %w", err)
	}
	d.running = true

	d.log.WithFields(logrus.Fields{
		"sample_rate": d.format.SampleRate,
		"channels":    d.format.Channels,
		"bits":        d.format.BitsPerSample,
		"buffer":      size,
		"latency":     d.format.Duration(size),
	}).Info("Audio capture started")
	return nil
}

// complete runs on the capture goroutine.
func (d *DoubleBuffer) complete(buf []byte, bytesRecorded int) {
	d.completions.Add(1)
	if bytesRecorded > len(buf) {
		bytesRecorded = len(buf)
	}
	if bytesRecorded > 0 {
		d.handoff(buf[:bytesRecorded])
	}

	if err := d.capture.Submit(buf[:cap(buf)]); err != nil {
		if d.resubmitFailures.Add(1) == 1 {
			d.log.WithError(err).Warn("Failed to resubmit audio buffer")
		}
	}
}

// Stop closes the capture. The buffers are dropped only after the device has
// stopped calling back.
func (d *DoubleBuffer) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return nil
	}
	d.running = false

	err := d.capture.Close()
	d.bufs = [2][]byte{}
	d.log.WithField("buffers", d.completions.Load()).Info("Audio capture stopped")
	if err != nil {
		return fmt.Errorf("failed to close audio capture: %w", err)
	}
	return nil
}

// Completions is the number of buffers the device has filled.
func (d *DoubleBuffer) Completions() uint64 { return d.completions.Load() }

// ResubmitFailures counts buffers that could not be queued again.
func (d *DoubleBuffer) ResubmitFailures() uint64 { return d.resubmitFailures.Load() }
