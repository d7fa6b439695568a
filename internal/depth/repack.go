// Package depth reshapes raw Z16 depth samples into the 16-bit values carried by
// a P010LE (10-bit) video plane.
//
// Everything here is a pure, in-place transform over a row-major sample buffer.
// Callers pass the whole buffer, including row padding, exactly as the sensor
// delivered it; padding samples are transformed like any other sample.
package depth

import (
	"math"
)

// P010LEMax is the largest value representable in a P010LE plane:
// ten ones followed by six zeroes.
const P010LEMax = 0xFFC0

const (
	// SliceWindow is the number of native depth units mapped by the ten-bit slice.
	SliceWindow = 4096
	// SliceShift moves the slice offset into the top bits of the 16-bit value.
	SliceShift = 4
)

// OverflowPolicy decides what happens to rescaled samples above P010LEMax.
type OverflowPolicy int

const (
	// OverflowZero marks out-of-range samples as "no data".
	OverflowZero OverflowPolicy = iota
	// OverflowSaturate clamps out-of-range samples to P010LEMax.
	OverflowSaturate
)

// String implements fmt.Stringer.
func (p OverflowPolicy) String() string {
	switch p {
	case OverflowZero:
		return "zero"
	case OverflowSaturate:
		return "saturate"
	default:
		return "unknown"
	}
}

// ParseOverflowPolicy maps a configuration value to a policy.
func ParseOverflowPolicy(s string) (OverflowPolicy, bool) {
	switch s {
	case "", "zero":
		return OverflowZero, true
	case "saturate":
		return OverflowSaturate, true
	default:
		return OverflowZero, false
	}
}

// Multiplier returns the factor converting samples expressed in the sensor's
// native depth unit into samples expressed in the target depth unit.
func Multiplier(native, target float32) float64 {
	if target == 0 {
		return 1
	}
	return float64(native) / float64(target)
}

// ProcessDepthData rescales samples in place by multiplier, rounding to the
// nearest integer. Results above P010LEMax are handled according to policy.
//
// Used only when the sensor cannot change its depth unit in hardware.
func ProcessDepthData(samples []uint16, multiplier float64, policy OverflowPolicy) {
	for i, v := range samples {
		samples[i] = rescale(v, multiplier, policy)
	}
}

func rescale(v uint16, multiplier float64, policy OverflowPolicy) uint16 {
	scaled := math.Round(float64(v) * multiplier)
	if scaled > P010LEMax {
		if policy == OverflowSaturate {
			return P010LEMax
		}
		return 0
	}
	if scaled < 0 {
		return 0
	}
	return uint16(scaled)
}

// RescaleSliceTenBit maps the window (offset, offset+SliceWindow) of native
// depth values into the most significant bits of each sample. Both window
// bounds are excluded; samples outside the window become 0.
func RescaleSliceTenBit(samples []uint16, offset uint16) {
	lo := uint32(offset)
	hi := lo + SliceWindow
	for i, v := range samples {
		s := uint32(v)
		if s > lo && s < hi {
			samples[i] = uint16((s - lo) << SliceShift)
		} else {
			samples[i] = 0
		}
	}
}

// SliceMinFor picks a ten-bit slice offset that centres the window on the
// given native depth value.
func SliceMinFor(center uint16) uint16 {
	if center <= SliceWindow/2 {
		return 0
	}
	return center - SliceWindow/2
}

// Range is the farthest distance in meters encodable with the given depth unit.
func Range(units float32) float32 {
	return units * P010LEMax
}

// Precision is the distance in meters between two consecutive P010LE values
// with the given depth unit.
func Precision(units float32) float32 {
	return units * 64
}
