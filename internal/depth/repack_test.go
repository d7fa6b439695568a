package depth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRescaleSliceTenBit(t *testing.T) {
	tests := []struct {
		name   string
		offset uint16
		in     uint16
		want   uint16
	}{
		{"inside window", 2048, 3000, 15232},
		{"lower bound excluded", 2048, 2048, 0},
		{"upper bound excluded", 2048, 6144, 0},
		{"just above lower bound", 2048, 2049, 16},
		{"just below upper bound", 2048, 6143, 4095 << 4},
		{"below window", 2048, 100, 0},
		{"zero offset", 0, 1, 16},
		{"zero sample", 0, 0, 0},
		{"window near max", 65000, 65535, (65535 - 65000) << 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			samples := []uint16{tt.in}
			RescaleSliceTenBit(samples, tt.offset)
			assert.Equal(t, tt.want, samples[0])
		})
	}
}

func TestRescaleSliceTenBitProperty(t *testing.T) {
	offsets := []uint16{0, 1, 500, 2048, 30000, 61439, 65535}
	for _, offset := range offsets {
		samples := make([]uint16, 65536)
		for i := range samples {
			samples[i] = uint16(i)
		}
		RescaleSliceTenBit(samples, offset)

		for v := 0; v < 65536; v++ {
			var want uint16
			if v > int(offset) && v < int(offset)+SliceWindow {
				want = uint16((v - int(offset)) << SliceShift)
			}
			if samples[v] != want {
				t.Fatalf("offset=%d v=%d: got %d want %d", offset, v, samples[v], want)
			}
		}
	}
}

func TestProcessDepthData(t *testing.T) {
	tests := []struct {
		name       string
		in         uint16
		multiplier float64
		policy     OverflowPolicy
		want       uint16
	}{
		{"doubles", 10000, 2.0, OverflowZero, 20000},
		{"overflow becomes no data", 40000, 2.0, OverflowZero, 0},
		{"overflow saturates", 40000, 2.0, OverflowSaturate, P010LEMax},
		{"exactly max kept", P010LEMax, 1.0, OverflowZero, P010LEMax},
		{"one above max dropped", P010LEMax + 1, 1.0, OverflowZero, 0},
		{"rounds half up", 3, 0.5, OverflowZero, 2},
		{"rounds down", 10, 0.33, OverflowZero, 3},
		{"identity", 1234, 1.0, OverflowZero, 1234},
		{"zero stays zero", 0, 4.0, OverflowZero, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			samples := []uint16{tt.in}
			ProcessDepthData(samples, tt.multiplier, tt.policy)
			assert.Equal(t, tt.want, samples[0])
		})
	}
}

func TestMultiplier(t *testing.T) {
	assert.InDelta(t, 10.0, Multiplier(0.001, 0.0001), 1e-6)
	assert.InDelta(t, 1.0, Multiplier(0.001, 0), 1e-9)
}

func TestParseOverflowPolicy(t *testing.T) {
	p, ok := ParseOverflowPolicy("saturate")
	require.True(t, ok)
	assert.Equal(t, OverflowSaturate, p)

	p, ok = ParseOverflowPolicy("")
	require.True(t, ok)
	assert.Equal(t, OverflowZero, p)

	_, ok = ParseOverflowPolicy("wrap")
	assert.False(t, ok)
}

func TestSliceMinFor(t *testing.T) {
	assert.Equal(t, uint16(0), SliceMinFor(100))
	assert.Equal(t, uint16(0), SliceMinFor(2048))
	assert.Equal(t, uint16(952), SliceMinFor(3000))
}

func TestRangeAndPrecision(t *testing.T) {
	assert.InDelta(t, 6.5472, Range(0.0001), 1e-4)
	assert.InDelta(t, 0.0064, Precision(0.0001), 1e-6)
}
