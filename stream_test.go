package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marinp1/depthcast/config"
	"github.com/marinp1/depthcast/internal/audio"
	"github.com/marinp1/depthcast/internal/camera"
	"github.com/marinp1/depthcast/internal/encoder"
	"github.com/marinp1/depthcast/internal/session"
)

func testConfig(t *testing.T, args ...string) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	require.NoError(t, config.New().Unmarshal(cfg))
	require.NoError(t, cfg.ApplyArgs(args))
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestChannelConfigsFollowAlignment(t *testing.T) {
	cfg := testConfig(t, "127.0.0.1", "9766", "depth", "640", "480", "1280", "720", "30",
		"/dev/dri/renderD128", "8000000", "1000000")

	channels := channelConfigs(cfg)
	require.Len(t, channels, session.NumChannels)

	d := channels[session.ChannelDepth]
	assert.Equal(t, "p010le", d.PixelFormat)
	assert.Equal(t, "main10", d.Profile)
	assert.Equal(t, 640, d.Width)
	assert.Equal(t, 480, d.Height)
	assert.Equal(t, 8000000, d.Bitrate)
	assert.Equal(t, "/dev/dri/renderD128", d.Device)

	c := channels[session.ChannelColor]
	assert.Equal(t, "rgb0", c.PixelFormat)
	assert.Equal(t, 640, c.Width)
	assert.Equal(t, 1000000, c.Bitrate)

	a := channels[session.ChannelAudio]
	assert.Equal(t, encoder.KindAux, a.Kind)
	assert.Equal(t, audio.SampleRate, a.SampleRate)

	for _, ch := range channels {
		assert.NoError(t, ch.Validate())
	}
}

func TestChannelConfigsNormalizeS16Audio(t *testing.T) {
	cfg := testConfig(t, "127.0.0.1", "9766", "color", "64", "48", "64", "48", "30")
	cfg.Audio.Format = "s16"
	assert.Equal(t, 16, channelConfigs(cfg)[session.ChannelAudio].BitsPerSample)

	cfg.Audio.Normalize = true
	a := channelConfigs(cfg)[session.ChannelAudio]
	assert.True(t, a.NormalizeS16)
	assert.Equal(t, 32, a.BitsPerSample)
	assert.NoError(t, a.Validate())

	// f32 capture needs no conversion
	cfg.Audio.Format = "f32"
	assert.False(t, channelConfigs(cfg)[session.ChannelAudio].NormalizeS16)
}

func TestBackendSelection(t *testing.T) {
	cfg := testConfig(t, "127.0.0.1", "9766", "color", "64", "48", "64", "48", "30")
	assert.IsType(t, &camera.SyntheticSensor{}, newSensor(cfg))
	assert.Nil(t, newCapture(cfg))

	cfg.Sensor.Kind = "pipe"
	cfg.Sensor.Command = "cat /dev/zero"
	assert.IsType(t, &camera.PipeSensor{}, newSensor(cfg))

	cfg.Audio.Source = "tone"
	assert.IsType(t, &audio.ToneCapture{}, newCapture(cfg))
	cfg.Audio.Source = "malgo"
	assert.IsType(t, &audio.MalgoCapture{}, newCapture(cfg))
}
