package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marinp1/depthcast/internal/camera"
	"github.com/marinp1/depthcast/internal/depth"
)

var exampleArgs = []string{"127.0.0.1", "9766", "color", "848", "480", "1280", "720", "30"}

func loadDefaults(t *testing.T) *Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "depthcast.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))
	cfg, err := Load(New(), path)
	require.NoError(t, err)
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := loadDefaults(t)

	assert.Equal(t, 9766, cfg.Port)
	assert.Equal(t, "color", cfg.Align)
	assert.Equal(t, 30, cfg.Framerate)
	assert.InDelta(t, 0.0001, cfg.DepthUnits, 1e-9)
	assert.Equal(t, "synthetic", cfg.Sensor.Kind)
	assert.Equal(t, "none", cfg.Audio.Source)
	assert.Equal(t, 22050, cfg.Audio.SampleRate)
	assert.False(t, cfg.Audio.Normalize)
	assert.Equal(t, -1, cfg.Depth.SliceOffset)
	assert.Equal(t, "hevc_nvenc", cfg.Encoder.Depth)
	assert.Empty(t, cfg.HTTP.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "depthcast.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
host: 192.168.0.100
port: 9768
depth_units: 0.00003125
sensor:
  kind: pipe
  command: capture --width ${WIDTH}
audio:
  source: tone
  format: s16
http:
  addr: ":8080"
  ice_servers: ["stun:stun.l.google.com:19302"]
`), 0o644))
	t.Setenv("DEPTHCAST_ENCODER_COLOR", "h264_vaapi")

	cfg, err := Load(New(), path)
	require.NoError(t, err)
	assert.Equal(t, "192.168.0.100", cfg.Host)
	assert.Equal(t, 9768, cfg.Port)
	assert.InDelta(t, 0.00003125, cfg.DepthUnits, 1e-9)
	assert.Equal(t, "pipe", cfg.Sensor.Kind)
	assert.Equal(t, "capture --width ${WIDTH}", cfg.Sensor.Command)
	assert.Equal(t, "s16", cfg.Audio.Format)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.HTTP.ICEServers)
	assert.Equal(t, "h264_vaapi", cfg.Encoder.Color)
}

func TestApplyArgs(t *testing.T) {
	cfg := loadDefaults(t)
	args := append(append([]string{}, exampleArgs...),
		"/dev/dri/renderD128", "8000000", "1000000", "0.0000390625", "my_config.json")
	require.NoError(t, cfg.ApplyArgs(args))

	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 9766, cfg.Port)
	assert.Equal(t, 848, cfg.DepthWidth)
	assert.Equal(t, 480, cfg.DepthHeight)
	assert.Equal(t, 1280, cfg.ColorWidth)
	assert.Equal(t, 720, cfg.ColorHeight)
	assert.Equal(t, "/dev/dri/renderD128", cfg.Device)
	assert.Equal(t, 8000000, cfg.DepthBitrate)
	assert.Equal(t, 1000000, cfg.ColorBitrate)
	assert.InDelta(t, 0.0000390625, cfg.DepthUnits, 1e-9)
	assert.Equal(t, "my_config.json", cfg.JSON)
}

func TestApplyArgsErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"too few", exampleArgs[:7]},
		{"bad port", []string{"h", "x", "color", "1", "1", "1", "1", "30"}},
		{"bad width", []string{"h", "1", "color", "w", "1", "1", "1", "30"}},
		{"bad bitrate", append(append([]string{}, exampleArgs...), "dev", "fast")},
		{"bad units", append(append([]string{}, exampleArgs...), "dev", "1", "1", "tiny")},
		{"too many", append(append([]string{}, exampleArgs...), "a", "1", "1", "0.1", "j", "extra")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := loadDefaults(t)
			err := cfg.ApplyArgs(tt.args)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUsage)
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func(t *testing.T) *Config {
		cfg := loadDefaults(t)
		require.NoError(t, cfg.ApplyArgs(exampleArgs))
		return cfg
	}
	require.NoError(t, valid(t).Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"alignment", func(c *Config) { c.Align = "ir" }},
		{"port", func(c *Config) { c.Port = 70000 }},
		{"size", func(c *Config) { c.ColorHeight = 0 }},
		{"framerate", func(c *Config) { c.Framerate = 0 }},
		{"depth units", func(c *Config) { c.DepthUnits = 0 }},
		{"sensor", func(c *Config) { c.Sensor.Kind = "realsense" }},
		{"pipe without command", func(c *Config) { c.Sensor.Kind = "pipe" }},
		{"audio source", func(c *Config) { c.Audio.Source = "winmm" }},
		{"audio format", func(c *Config) { c.Audio.Source = "tone"; c.Audio.Format = "u8" }},
		{"repack", func(c *Config) { c.Depth.Repack = "cubic" }},
		{"overflow", func(c *Config) { c.Depth.Overflow = "wrap" }},
		{"slice offset", func(c *Config) { c.Depth.SliceOffset = depth.P010LEMax + 1 }},
		{"encoder", func(c *Config) { c.Encoder.Depth = "" }},
		{"log level", func(c *Config) { c.Log.Level = "chatty" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid(t)
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrUsage)
		})
	}
}

func TestLoadPreset(t *testing.T) {
	cfg := loadDefaults(t)
	require.NoError(t, cfg.LoadPreset())
	assert.Nil(t, cfg.Preset)

	path := filepath.Join(t.TempDir(), "preset.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"param-disparityshift": "0"}`), 0o644))
	cfg.JSON = path
	require.NoError(t, cfg.LoadPreset())
	assert.JSONEq(t, `{"param-disparityshift": "0"}`, string(cfg.Preset))

	cfg.JSON = filepath.Join(t.TempDir(), "missing.json")
	assert.ErrorIs(t, cfg.LoadPreset(), ErrUsage)
}

func TestDerivedSettings(t *testing.T) {
	cfg := loadDefaults(t)
	require.NoError(t, cfg.ApplyArgs([]string{"::1", "9766", "depth", "640", "480", "1280", "720", "15"}))
	cfg.Depth.Repack = "slice"
	cfg.Depth.Overflow = "saturate"
	cfg.Audio.Format = "s16"

	streams := cfg.Streams()
	assert.Equal(t, camera.StreamDepth, streams.AlignTo)
	w, h := streams.OutputSize()
	assert.Equal(t, 640, w)
	assert.Equal(t, 480, h)

	opts := cfg.WorkerOptions(true)
	assert.Equal(t, camera.RepackSlice, opts.Repack)
	assert.Equal(t, depth.OverflowSaturate, opts.Overflow)
	assert.True(t, opts.NeedsPostprocessing)
	assert.Equal(t, cfg.DepthUnits, opts.TargetUnits)

	f := cfg.AudioFormat()
	assert.Equal(t, 16, f.BitsPerSample)
	assert.False(t, f.Float)
	assert.Equal(t, 22050, f.SampleRate)

	assert.Equal(t, "[::1]:9766", cfg.RTPAddr())
}
