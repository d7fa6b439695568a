// Package camera drives a depth+color sensor from a dedicated goroutine and
// publishes each repacked frameset to the session's shared ready state.
package camera

import (
	"context"
	"errors"
	"fmt"
)

// Stream identifies a sensor stream, also used as the alignment target.
type Stream int

const (
	StreamDepth Stream = iota
	StreamColor
)

// String implements fmt.Stringer.
func (s Stream) String() string {
	switch s {
	case StreamDepth:
		return "depth"
	case StreamColor:
		return "color"
	default:
		return fmt.Sprintf("stream(%d)", int(s))
	}
}

// ParseStream accepts "color"/"depth" or anything starting with c or d.
func ParseStream(s string) (Stream, error) {
	if s != "" {
		switch s[0] {
		case 'c':
			return StreamColor, nil
		case 'd':
			return StreamDepth, nil
		}
	}
	return 0, fmt.Errorf("unknown alignment target %q, valid targets: 'color', 'depth'", s)
}

// StreamConfig is what the sensor is asked to deliver.
type StreamConfig struct {
	DepthWidth  int
	DepthHeight int
	ColorWidth  int
	ColorHeight int
	Framerate   int
	AlignTo     Stream
}

// OutputSize is the size of both aligned streams.
func (c StreamConfig) OutputSize() (width, height int) {
	if c.AlignTo == StreamColor {
		return c.ColorWidth, c.ColorHeight
	}
	return c.DepthWidth, c.DepthHeight
}

// Intrinsics describes the pinhole model of the alignment target.
type Intrinsics struct {
	Width, Height int
	PPX, PPY      float32
	FX, FY        float32
	Model         string
	Coeffs        [5]float32
}

// Profile is the active stream configuration reported by the sensor.
type Profile struct {
	Width      int
	Height     int
	Framerate  int
	Intrinsics Intrinsics
}

// ErrOptionUnsupported is returned by sensors that cannot apply an option.
var ErrOptionUnsupported = errors.New("sensor option not supported")

// Sensor is the depth/color SDK the worker pulls from.
type Sensor interface {
	// Configure starts streaming with cfg.
	Configure(cfg StreamConfig) (Profile, error)
	// WaitForFrameset blocks until the next aligned frameset arrives.
	WaitForFrameset(ctx context.Context) (*Frameset, error)
	// LoadJSON applies a vendor preset.
	LoadJSON(preset []byte) error
	// SupportsDepthUnits reports whether the depth unit is writable.
	SupportsDepthUnits() bool
	DepthUnits() float32
	SetDepthUnits(units float32) error
	// SupportsClamp reports whether the sensor can clamp depth at P010LEMax.
	SupportsClamp() bool
	SetClamp(limit uint16) error
	// Stop ends streaming. WaitForFrameset returns an error afterwards.
	Stop() error
}
