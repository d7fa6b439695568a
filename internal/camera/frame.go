package camera

import (
	"sync/atomic"

	"github.com/marinp1/depthcast/internal/depth"
)

// Frame is one plane of sensor output. Data stays owned by the sensor and is
// valid only while the Frameset holding it is retained.
type Frame struct {
	Data          []byte
	Width         int
	Height        int
	Stride        int // bytes per row, including padding
	BytesPerPixel int
}

// DepthFrame is a Z16 frame with its depth unit in meters.
type DepthFrame struct {
	Frame
	Units float32
}

// Samples views the frame data as 16-bit depth samples.
func (f *DepthFrame) Samples() []uint16 {
	return depth.Samples(f.Data)
}

// DistanceAt returns the distance in meters at pixel (x, y), or 0 when out of
// bounds.
func (f *DepthFrame) DistanceAt(x, y int) float32 {
	raw, ok := f.RawAt(x, y)
	if !ok {
		return 0
	}
	return float32(raw) * f.Units
}

// RawAt returns the raw sample at pixel (x, y).
func (f *DepthFrame) RawAt(x, y int) (uint16, bool) {
	if x < 0 || y < 0 || x >= f.Width || y >= f.Height {
		return 0, false
	}
	off := y*f.Stride + x*2
	if off+1 >= len(f.Data) {
		return 0, false
	}
	return uint16(f.Data[off]) | uint16(f.Data[off+1])<<8, true
}

// Center returns the coordinates of the central pixel.
func (f *DepthFrame) Center() (int, int) {
	return f.Width / 2, f.Height / 2
}

// Frameset is a time-aligned depth+color pair.
//
// A Frameset is reference counted: the sensor hands it out with one reference,
// every additional holder calls Retain, and each holder calls Release exactly
// once. When the count drops to zero the release hook returns the buffers to
// the sensor, after which Data slices must not be touched.
type Frameset struct {
	Depth  DepthFrame
	Color  Frame
	Number uint64

	refs    atomic.Int32
	release func(*Frameset)
}

// NewFrameset returns a frameset holding one reference. release may be nil.
func NewFrameset(depth DepthFrame, color Frame, release func(*Frameset)) *Frameset {
	fs := &Frameset{Depth: depth, Color: color, release: release}
	fs.refs.Store(1)
	return fs
}

// Retain adds a reference.
func (fs *Frameset) Retain() *Frameset {
	fs.refs.Add(1)
	return fs
}

// Release drops a reference and recycles the buffers on the last one.
func (fs *Frameset) Release() {
	if fs == nil {
		return
	}
	switch n := fs.refs.Add(-1); {
	case n == 0:
		if fs.release != nil {
			fs.release(fs)
		}
	case n < 0:
		panic("camera: frameset released more times than retained")
	}
}

// Refs reports the current reference count.
func (fs *Frameset) Refs() int32 {
	return fs.refs.Load()
}
