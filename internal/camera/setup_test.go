package camera

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStreams = StreamConfig{
	DepthWidth: 64, DepthHeight: 48,
	ColorWidth: 64, ColorHeight: 48,
	Framerate: 30,
}

func TestSetupHardwareUnits(t *testing.T) {
	s := NewSyntheticSensor(SyntheticOptions{DisablePacing: true})
	defer s.Stop()

	res, err := Setup(s, SetupOptions{Streams: testStreams, DepthUnits: 0.0001})
	require.NoError(t, err)

	assert.False(t, res.NeedsPostprocessing)
	assert.InDelta(t, 0.0001, res.UnitsSet, 1e-9)
	assert.Equal(t, 64, res.Profile.Width)
	assert.InDelta(t, 0.0001, s.DepthUnits(), 1e-9)
}

func TestSetupSimulatesMissingCapabilities(t *testing.T) {
	tests := []struct {
		name string
		opts SyntheticOptions
	}{
		{"fixed units", SyntheticOptions{FixedUnits: true}},
		{"no clamp", SyntheticOptions{NoClamp: true}},
		{"neither", SyntheticOptions{FixedUnits: true, NoClamp: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.DisablePacing = true
			s := NewSyntheticSensor(tt.opts)
			defer s.Stop()

			res, err := Setup(s, SetupOptions{Streams: testStreams, DepthUnits: 0.0001})
			require.NoError(t, err)
			assert.True(t, res.NeedsPostprocessing)
		})
	}
}

func TestSetupRejectsBadPreset(t *testing.T) {
	s := NewSyntheticSensor(SyntheticOptions{DisablePacing: true})
	defer s.Stop()

	_, err := Setup(s, SetupOptions{Streams: testStreams, DepthUnits: 0.0001, Preset: []byte("{")})
	assert.Error(t, err)
}

func TestSetupRejectsBadStreams(t *testing.T) {
	s := NewSyntheticSensor(SyntheticOptions{})
	_, err := Setup(s, SetupOptions{Streams: StreamConfig{Framerate: 30}, DepthUnits: 0.0001})
	assert.Error(t, err)
}

func TestFov(t *testing.T) {
	assert.InDelta(t, 90.0, fov(100, 50), 1e-9)
	assert.Zero(t, fov(100, 0))
}

func TestExpandCommand(t *testing.T) {
	cfg := StreamConfig{
		DepthWidth: 848, DepthHeight: 480,
		ColorWidth: 1280, ColorHeight: 720,
		Framerate: 30, AlignTo: StreamColor,
	}
	got := ExpandCommand("capture -w ${WIDTH} -h ${HEIGHT} -f $FPS --align ${ALIGN} --depth ${DEPTH_WIDTH}x${DEPTH_HEIGHT} ${OTHER}", cfg)
	assert.Equal(t, "capture -w 1280 -h 720 -f 30 --align color --depth 848x480 ${OTHER}", got)
}
