package depth

import (
	"math"
	"sync"
)

const (
	// BoundingDepth is half the size of the accepted window, in meters.
	BoundingDepth = 0.5
	// MinDistance and MaxDistance are the sensor-valid limits of the window.
	MinDistance = 0.15
	MaxDistance = 2.0
)

// UpdateThresholds returns a one meter window around center, clamped to the
// valid sensor range.
func UpdateThresholds(center float32) (lo, hi float32) {
	lo = float32(math.Max(float64(center-BoundingDepth), MinDistance))
	hi = float32(math.Min(float64(center+BoundingDepth), MaxDistance))
	return lo, hi
}

// ThresholdFilter zeroes samples whose distance falls outside [Min, Max].
// It is the software stand-in for a sensor-side threshold filter.
type ThresholdFilter struct {
	mu  sync.Mutex
	min float32
	max float32
}

// NewThresholdFilter returns a filter accepting the full sensor-valid range.
func NewThresholdFilter() *ThresholdFilter {
	return &ThresholdFilter{min: MinDistance, max: MaxDistance}
}

// SetRange replaces the accepted range.
func (f *ThresholdFilter) SetRange(lo, hi float32) {
	f.mu.Lock()
	f.min, f.max = lo, hi
	f.mu.Unlock()
}

// Track recomputes the range from center and applies it.
func (f *ThresholdFilter) Track(center float32) (lo, hi float32) {
	lo, hi = UpdateThresholds(center)
	f.SetRange(lo, hi)
	return lo, hi
}

// Range reports the accepted range.
func (f *ThresholdFilter) Range() (lo, hi float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.min, f.max
}

// Apply filters samples in place. units is the distance in meters of one
// sample increment.
func (f *ThresholdFilter) Apply(samples []uint16, units float32) {
	if units <= 0 {
		return
	}
	lo, hi := f.Range()
	// compare in sample space; the slack absorbs float32 rounding of units
	const slack = 1e-3
	minRaw := uint32(math.Ceil(float64(lo)/float64(units) - slack))
	maxRaw := uint32(math.Floor(float64(hi)/float64(units) + slack))
	for i, v := range samples {
		s := uint32(v)
		if s < minRaw || s > maxRaw {
			samples[i] = 0
		}
	}
}
