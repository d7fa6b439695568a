package camera

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// ErrSensorStopped is returned by WaitForFrameset after Stop.
var ErrSensorStopped = errors.New("sensor stopped")

// SyntheticOptions tune which hardware capabilities the synthetic sensor
// pretends to have.
type SyntheticOptions struct {
	NativeUnits   float32 // default 0.001 (1mm)
	FixedUnits    bool    // depth unit is read-only
	NoClamp       bool    // no hardware clamping
	DisablePacing bool    // deliver framesets as fast as they are requested
}

// SyntheticSensor renders a scene with an object swinging between 0.5m and
// 1.5m in front of a 2.5m wall. It is used when no camera is attached and in
// tests.
type SyntheticSensor struct {
	opts SyntheticOptions

	mu      sync.Mutex
	cfg     StreamConfig
	units   float32
	clamp   uint16
	ticker  *time.Ticker
	stopped chan struct{}
	started bool
	number  uint64

	pool sync.Pool
}

// NewSyntheticSensor returns an unconfigured synthetic sensor.
func NewSyntheticSensor(opts SyntheticOptions) *SyntheticSensor {
	if opts.NativeUnits == 0 {
		opts.NativeUnits = 0.001
	}
	return &SyntheticSensor{
		opts:    opts,
		units:   opts.NativeUnits,
		stopped: make(chan struct{}),
	}
}

type syntheticBuffers struct {
	depth []byte
	color []byte
}

// Configure implements Sensor.
func (s *SyntheticSensor) Configure(cfg StreamConfig) (Profile, error) {
	w, h := cfg.OutputSize()
	if w <= 0 || h <= 0 || cfg.Framerate <= 0 {
		return Profile{}, fmt.Errorf("invalid stream configuration %dx%d@%d", w, h, cfg.Framerate)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return Profile{}, fmt.Errorf("sensor already streaming")
	}
	s.cfg = cfg
	s.started = true
	if !s.opts.DisablePacing {
		s.ticker = time.NewTicker(time.Second / time.Duration(cfg.Framerate))
	}
	s.pool.New = func() any {
		return &syntheticBuffers{
			depth: make([]byte, w*2*h),
			color: make([]byte, w*4*h),
		}
	}

	fx := float32(w) / (2 * float32(math.Tan(87.0/2*math.Pi/180)))
	return Profile{
		Width:     w,
		Height:    h,
		Framerate: cfg.Framerate,
		Intrinsics: Intrinsics{
			Width: w, Height: h,
			PPX: float32(w) / 2, PPY: float32(h) / 2,
			FX: fx, FY: fx,
			Model: "none",
		},
	}, nil
}

// WaitForFrameset implements Sensor.
func (s *SyntheticSensor) WaitForFrameset(ctx context.Context) (*Frameset, error) {
	s.mu.Lock()
	ticker := s.ticker
	started := s.started
	s.mu.Unlock()
	if !started {
		return nil, fmt.Errorf("sensor not configured")
	}

	if ticker != nil {
		select {
		case <-ticker.C:
		case <-s.stopped:
			return nil, ErrSensorStopped
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	} else {
		select {
		case <-s.stopped:
			return nil, ErrSensorStopped
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}

	s.mu.Lock()
	s.number++
	n := s.number
	units := s.units
	clamp := s.clamp
	s.mu.Unlock()

	w, h := s.cfg.OutputSize()
	buf := s.pool.Get().(*syntheticBuffers)
	renderDepth(buf.depth, w, h, n, s.cfg.Framerate, units, clamp)
	renderColor(buf.color, w, h, n)

	fs := NewFrameset(
		DepthFrame{
			Frame: Frame{Data: buf.depth, Width: w, Height: h, Stride: w * 2, BytesPerPixel: 2},
			Units: units,
		},
		Frame{Data: buf.color, Width: w, Height: h, Stride: w * 4, BytesPerPixel: 4},
		func(*Frameset) { s.pool.Put(buf) },
	)
	fs.Number = n
	return fs, nil
}

// objectDistance is where the swinging object is for frame n, in meters.
func objectDistance(n uint64, framerate int) float64 {
	t := float64(n) / float64(framerate)
	return 1.0 + 0.5*math.Sin(t*math.Pi/2)
}

func renderDepth(buf []byte, w, h int, n uint64, framerate int, units float32, clamp uint16) {
	obj := objectDistance(n, framerate)
	const wall = 2.5
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			d := wall
			dx, dy := x-w/2, y-h/2
			if dx*dx+dy*dy < (h/4)*(h/4) {
				d = obj
			}
			raw := math.Round(d / float64(units))
			if raw > math.MaxUint16 || (clamp != 0 && raw > float64(clamp)) {
				raw = 0
			}
			v := uint16(raw)
			off := y*w*2 + x*2
			buf[off] = byte(v)
			buf[off+1] = byte(v >> 8)
		}
	}
}

func renderColor(buf []byte, w, h int, n uint64) {
	shift := byte(n)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := y*w*4 + x*4
			buf[off] = byte(x) + shift
			buf[off+1] = byte(y)
			buf[off+2] = byte(x ^ y)
			buf[off+3] = 0xff
		}
	}
}

// LoadJSON implements Sensor. The synthetic sensor only validates the preset.
func (s *SyntheticSensor) LoadJSON(preset []byte) error {
	var v map[string]any
	if err := json.Unmarshal(preset, &v); err != nil {
		return fmt.Errorf("invalid json preset: %w", err)
	}
	return nil
}

// SupportsDepthUnits implements Sensor.
func (s *SyntheticSensor) SupportsDepthUnits() bool { return !s.opts.FixedUnits }

// DepthUnits implements Sensor.
func (s *SyntheticSensor) DepthUnits() float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.units
}

// SetDepthUnits implements Sensor.
func (s *SyntheticSensor) SetDepthUnits(units float32) error {
	if s.opts.FixedUnits {
		return ErrOptionUnsupported
	}
	if units <= 0 || units > 0.01 {
		return fmt.Errorf("depth units %v out of range (0-0.01]", units)
	}
	s.mu.Lock()
	s.units = units
	s.mu.Unlock()
	return nil
}

// SupportsClamp implements Sensor.
func (s *SyntheticSensor) SupportsClamp() bool { return !s.opts.NoClamp }

// SetClamp implements Sensor.
func (s *SyntheticSensor) SetClamp(limit uint16) error {
	if s.opts.NoClamp {
		return ErrOptionUnsupported
	}
	s.mu.Lock()
	s.clamp = limit
	s.mu.Unlock()
	return nil
}

// Stop implements Sensor.
func (s *SyntheticSensor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.stopped:
		return nil
	default:
	}
	close(s.stopped)
	if s.ticker != nil {
		s.ticker.Stop()
	}
	return nil
}
