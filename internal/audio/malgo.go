package audio

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/sirupsen/logrus"
)

// MalgoCapture records from the default (or named) capture device through
// miniaudio.
type MalgoCapture struct {
	// DeviceName selects a capture device by name; empty uses the default.
	DeviceName string

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	queue  bufferQueue

	log *logrus.Entry
}

// NewMalgoCapture returns a closed capture.
func NewMalgoCapture(deviceName string) *MalgoCapture {
	return &MalgoCapture{
		DeviceName: deviceName,
		log:        logrus.WithField("component", "malgo"),
	}
}

func sampleFormat(f Format) malgo.FormatType {
	if f.Float {
		return malgo.FormatF32
	}
	return malgo.FormatS16
}

// Open implements Capture.
func (m *MalgoCapture) Open(format Format, done Completion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device != nil {
		return fmt.Errorf("capture device already open")
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		m.log.Debug(message)
	})
	if err != nil {
		return fmt.Errorf("failed to init audio context: %w", err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = sampleFormat(format)
	cfg.Capture.Channels = uint32(format.Channels)
	cfg.SampleRate = uint32(format.SampleRate)
	cfg.Alsa.NoMMap = 1

	if m.DeviceName != "" {
		id, err := findCaptureDevice(ctx, m.DeviceName)
		if err != nil {
			_ = ctx.Uninit()
			ctx.Free()
			return err
		}
		cfg.Capture.DeviceID = id.Pointer()
	}

	m.queue.reset(done)
	device, err := malgo.InitDevice(ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			m.queue.write(input)
		},
	})
	if err != nil {
		m.queue.close()
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("failed to init capture device: %w", err)
	}

	m.ctx = ctx
	m.device = device
	return nil
}

func findCaptureDevice(ctx *malgo.AllocatedContext, name string) (malgo.DeviceID, error) {
	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return malgo.DeviceID{}, fmt.Errorf("failed to list capture devices: %w", err)
	}
	for _, info := range infos {
		if info.Name() == name {
			return info.ID, nil
		}
	}
	return malgo.DeviceID{}, fmt.Errorf("capture device %q not found", name)
}

// Submit implements Capture.
func (m *MalgoCapture) Submit(buf []byte) error {
	return m.queue.submit(buf)
}

// Start implements Capture.
func (m *MalgoCapture) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device == nil {
		return ErrNotOpen
	}
	if err := m.device.Start(); err != nil {
		return fmt.Errorf("failed to start capture device: %w", err)
	}
	return nil
}

// Close implements Capture. Stopping the device waits for a running data
// callback to return.
func (m *MalgoCapture) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device == nil {
		return nil
	}

	var err error
	if m.device.IsStarted() {
		err = m.device.Stop()
	}
	m.device.Uninit()
	m.queue.close()
	if uerr := m.ctx.Uninit(); uerr != nil && err == nil {
		err = uerr
	}
	m.ctx.Free()
	m.device, m.ctx = nil, nil

	if n := m.queue.overrunCount(); n > 0 {
		m.log.WithField("overruns", n).Warn("Audio data dropped while no buffer was queued")
	}
	return err
}
