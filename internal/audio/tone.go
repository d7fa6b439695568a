package audio

import (
	"encoding/binary"
	"math"
	"sync"
	"time"
)

// ToneCapture synthesizes a sine wave in real time. It stands in for a
// microphone when none is available.
type ToneCapture struct {
	Frequency float64
	Amplitude float64
	// Period between device writes; defaults to 20ms.
	Period time.Duration

	mu      sync.Mutex
	format  Format
	queue   bufferQueue
	phase   float64
	opened  bool
	stop    chan struct{}
	stopped sync.WaitGroup
}

// NewToneCapture returns a 440Hz tone at half scale.
func NewToneCapture() *ToneCapture {
	return &ToneCapture{Frequency: 440, Amplitude: 0.5}
}

// Open implements Capture.
func (t *ToneCapture) Open(format Format, done Completion) error {
	if err := format.Validate(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.format = format
	t.opened = true
	t.queue.reset(done)
	return nil
}

// Submit implements Capture.
func (t *ToneCapture) Submit(buf []byte) error {
	return t.queue.submit(buf)
}

// Start implements Capture.
func (t *ToneCapture) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.opened {
		return ErrNotOpen
	}
	if t.stop != nil {
		return nil
	}
	period := t.Period
	if period <= 0 {
		period = 20 * time.Millisecond
	}
	t.stop = make(chan struct{})
	t.stopped.Add(1)
	go t.run(period, t.stop)
	return nil
}

func (t *ToneCapture) run(period time.Duration, stop <-chan struct{}) {
	defer t.stopped.Done()
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	frames := int(float64(t.format.SampleRate) * period.Seconds())
	if frames < 1 {
		frames = 1
	}
	chunk := make([]byte, frames*t.format.BytesPerFrame())
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.render(chunk)
			t.queue.write(chunk)
		}
	}
}

func (t *ToneCapture) render(chunk []byte) {
	f := t.format
	step := 2 * math.Pi * t.Frequency / float64(f.SampleRate)
	bps := f.BitsPerSample / 8
	for i := 0; i < len(chunk); i += f.BytesPerFrame() {
		v := t.Amplitude * math.Sin(t.phase)
		t.phase = math.Mod(t.phase+step, 2*math.Pi)
		for c := 0; c < f.Channels; c++ {
			off := i + c*bps
			if f.Float {
				binary.LittleEndian.PutUint32(chunk[off:], math.Float32bits(float32(v)))
			} else {
				binary.LittleEndian.PutUint16(chunk[off:], uint16(int16(v*math.MaxInt16)))
			}
		}
	}
}

// Close implements Capture.
func (t *ToneCapture) Close() error {
	t.mu.Lock()
	stop := t.stop
	t.stop = nil
	t.opened = false
	t.mu.Unlock()

	if stop != nil {
		close(stop)
		t.stopped.Wait()
	}
	t.queue.close()
	return nil
}
