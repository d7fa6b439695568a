package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/marinp1/depthcast/internal/audio"
	"github.com/marinp1/depthcast/internal/camera"
	"github.com/marinp1/depthcast/internal/depth"
)

// EnvPrefix prefixes every environment override, e.g. DEPTHCAST_HTTP_ADDR.
const EnvPrefix = "DEPTHCAST"

// ErrUsage marks configuration errors that should print the usage text.
var ErrUsage = errors.New("invalid usage")

type SensorConfig struct {
	Kind        string  `mapstructure:"kind"` // synthetic, pipe
	Command     string  `mapstructure:"command"`
	NativeUnits float32 `mapstructure:"native_units"`
}

type AudioConfig struct {
	Source     string `mapstructure:"source"` // none, tone, malgo
	Format     string `mapstructure:"format"` // f32, s16
	SampleRate int    `mapstructure:"sample_rate"`
	Channels   int    `mapstructure:"channels"`
	Device     string `mapstructure:"device"`
	// Normalize forwards s16 capture as f32 samples.
	Normalize bool `mapstructure:"normalize"`
}

type DepthConfig struct {
	Repack      string `mapstructure:"repack"`
	Threshold   bool   `mapstructure:"threshold"`
	Overflow    string `mapstructure:"overflow"`
	SliceOffset int    `mapstructure:"slice_offset"`
}

type EncoderConfig struct {
	Depth  string `mapstructure:"depth"`
	Color  string `mapstructure:"color"`
	FFmpeg string `mapstructure:"ffmpeg"`
}

type HTTPConfig struct {
	Addr         string   `mapstructure:"addr"`
	CorsOrigin   string   `mapstructure:"cors_origin"`
	RecordingDir string   `mapstructure:"recording_dir"`
	ICEServers   []string `mapstructure:"ice_servers"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config is the full runtime configuration.
type Config struct {
	Host         string  `mapstructure:"host"`
	Port         int     `mapstructure:"port"`
	Align        string  `mapstructure:"align"`
	DepthWidth   int     `mapstructure:"depth_width"`
	DepthHeight  int     `mapstructure:"depth_height"`
	ColorWidth   int     `mapstructure:"color_width"`
	ColorHeight  int     `mapstructure:"color_height"`
	Framerate    int     `mapstructure:"framerate"`
	Device       string  `mapstructure:"device"`
	DepthBitrate int     `mapstructure:"depth_bitrate"`
	ColorBitrate int     `mapstructure:"color_bitrate"`
	DepthUnits   float32 `mapstructure:"depth_units"`
	JSON         string  `mapstructure:"json"`

	Sensor  SensorConfig  `mapstructure:"sensor"`
	Audio   AudioConfig   `mapstructure:"audio"`
	Depth   DepthConfig   `mapstructure:"depth"`
	Encoder EncoderConfig `mapstructure:"encoder"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Log     LogConfig     `mapstructure:"log"`

	// Preset holds the contents of the JSON file, read by LoadPreset.
	Preset []byte `mapstructure:"-"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("host", "")
	v.SetDefault("port", 9766)
	v.SetDefault("align", "color")
	v.SetDefault("framerate", 30)
	v.SetDefault("depth_width", 0)
	v.SetDefault("depth_height", 0)
	v.SetDefault("color_width", 0)
	v.SetDefault("color_height", 0)
	v.SetDefault("device", "")
	v.SetDefault("depth_bitrate", 0)
	v.SetDefault("color_bitrate", 0)
	v.SetDefault("depth_units", 0.0001)
	v.SetDefault("json", "")

	v.SetDefault("sensor.kind", "synthetic")
	v.SetDefault("sensor.command", "")
	v.SetDefault("sensor.native_units", 0.001)

	v.SetDefault("audio.source", "none")
	v.SetDefault("audio.format", "f32")
	v.SetDefault("audio.sample_rate", audio.SampleRate)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("audio.device", "")
	v.SetDefault("audio.normalize", false)

	v.SetDefault("depth.repack", "auto")
	v.SetDefault("depth.threshold", false)
	v.SetDefault("depth.overflow", "zero")
	v.SetDefault("depth.slice_offset", -1)

	v.SetDefault("encoder.depth", "hevc_nvenc")
	v.SetDefault("encoder.color", "hevc_nvenc")
	v.SetDefault("encoder.ffmpeg", "ffmpeg")

	v.SetDefault("http.addr", "")
	v.SetDefault("http.cors_origin", "*")
	v.SetDefault("http.recording_dir", "recordings")
	v.SetDefault("http.ice_servers", []string{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// New returns a viper instance with defaults and environment overrides.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads cfgFile, or depthcast.yaml from beside the binary, the working
// directory or /etc/depthcast, and decodes the result. A missing default
// file is not an error.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("depthcast")
		v.SetConfigType("yaml")
		if execPath, err := os.Executable(); err == nil {
			v.AddConfigPath(filepath.Dir(execPath))
		}
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/depthcast")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

type intArg struct {
	name string
	arg  string
	dst  *int
}

// ApplyArgs overrides the configuration with the positional command line:
//
//	<host> <port> <color/depth> <width_depth> <height_depth> <width_color> <height_color>
//	<framerate> [device] [bitrate_depth] [bitrate_color] [depth_units] [json]
func (c *Config) ApplyArgs(args []string) error {
	if len(args) == 0 {
		return nil
	}
	if len(args) < 8 || len(args) > 13 {
		return fmt.Errorf("%w: expected 8 to 13 arguments, got %d", ErrUsage, len(args))
	}

	ints := []intArg{
		{"port", args[1], &c.Port},
		{"width_depth", args[3], &c.DepthWidth},
		{"height_depth", args[4], &c.DepthHeight},
		{"width_color", args[5], &c.ColorWidth},
		{"height_color", args[6], &c.ColorHeight},
		{"framerate", args[7], &c.Framerate},
	}
	if len(args) > 9 {
		ints = append(ints, intArg{"bitrate_depth", args[9], &c.DepthBitrate})
	}
	if len(args) > 10 {
		ints = append(ints, intArg{"bitrate_color", args[10], &c.ColorBitrate})
	}
	for _, i := range ints {
		n, err := strconv.Atoi(i.arg)
		if err != nil {
			return fmt.Errorf("%w: %s %q is not a number", ErrUsage, i.name, i.arg)
		}
		*i.dst = n
	}

	c.Host = args[0]
	c.Align = args[2]
	if len(args) > 8 {
		c.Device = args[8]
	}
	if len(args) > 11 {
		units, err := strconv.ParseFloat(args[11], 32)
		if err != nil {
			return fmt.Errorf("%w: depth units %q is not a number", ErrUsage, args[11])
		}
		c.DepthUnits = float32(units)
	}
	if len(args) > 12 {
		c.JSON = args[12]
	}
	return nil
}

// Validate checks the configuration before anything is started.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host is required", ErrUsage)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port %d", ErrUsage, c.Port)
	}
	if _, err := camera.ParseStream(c.Align); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if c.DepthWidth <= 0 || c.DepthHeight <= 0 || c.ColorWidth <= 0 || c.ColorHeight <= 0 {
		return fmt.Errorf("%w: invalid stream sizes depth %dx%d color %dx%d",
			ErrUsage, c.DepthWidth, c.DepthHeight, c.ColorWidth, c.ColorHeight)
	}
	if c.Framerate <= 0 {
		return fmt.Errorf("%w: invalid framerate %d", ErrUsage, c.Framerate)
	}
	if c.DepthUnits <= 0 {
		return fmt.Errorf("%w: invalid depth units %v", ErrUsage, c.DepthUnits)
	}

	switch c.Sensor.Kind {
	case "synthetic":
	case "pipe":
		if c.Sensor.Command == "" {
			return fmt.Errorf("%w: sensor.command is required for the pipe sensor", ErrUsage)
		}
	default:
		return fmt.Errorf("%w: unknown sensor %q", ErrUsage, c.Sensor.Kind)
	}

	switch c.Audio.Source {
	case "none", "tone", "malgo":
	default:
		return fmt.Errorf("%w: unknown audio source %q", ErrUsage, c.Audio.Source)
	}
	if c.Audio.Source != "none" {
		if _, err := audio.ParseSampleFormat(c.Audio.Format); err != nil {
			return fmt.Errorf("%w: %v", ErrUsage, err)
		}
		if err := c.AudioFormat().Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrUsage, err)
		}
	}

	if _, err := camera.ParseRepackMode(c.Depth.Repack); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if _, ok := depth.ParseOverflowPolicy(c.Depth.Overflow); !ok {
		return fmt.Errorf("%w: unknown overflow policy %q", ErrUsage, c.Depth.Overflow)
	}
	if c.Depth.SliceOffset > depth.P010LEMax {
		return fmt.Errorf("%w: slice offset %d out of range", ErrUsage, c.Depth.SliceOffset)
	}
	if c.Encoder.Depth == "" || c.Encoder.Color == "" {
		return fmt.Errorf("%w: encoder names are required", ErrUsage)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	return nil
}

// LoadPreset reads the JSON sensor preset, if one is configured.
func (c *Config) LoadPreset() error {
	if c.JSON == "" {
		return nil
	}
	data, err := os.ReadFile(c.JSON)
	if err != nil {
		return fmt.Errorf("%w: unable to open file %s: %v", ErrUsage, c.JSON, err)
	}
	c.Preset = data
	return nil
}

// Streams is the sensor stream configuration.
func (c *Config) Streams() camera.StreamConfig {
	align, _ := camera.ParseStream(c.Align)
	return camera.StreamConfig{
		DepthWidth:  c.DepthWidth,
		DepthHeight: c.DepthHeight,
		ColorWidth:  c.ColorWidth,
		ColorHeight: c.ColorHeight,
		Framerate:   c.Framerate,
		AlignTo:     align,
	}
}

// AudioFormat is the capture format of the audio channel.
func (c *Config) AudioFormat() audio.Format {
	f, err := audio.ParseSampleFormat(c.Audio.Format)
	if err != nil {
		f = audio.DefaultFormat
	}
	f.SampleRate = c.Audio.SampleRate
	f.Channels = c.Audio.Channels
	return f
}

// WorkerOptions translates the depth section for the camera worker.
func (c *Config) WorkerOptions(needsPostprocessing bool) camera.WorkerOptions {
	mode, _ := camera.ParseRepackMode(c.Depth.Repack)
	policy, _ := depth.ParseOverflowPolicy(c.Depth.Overflow)
	return camera.WorkerOptions{
		Repack:              mode,
		Threshold:           c.Depth.Threshold,
		NeedsPostprocessing: needsPostprocessing,
		TargetUnits:         c.DepthUnits,
		Overflow:            policy,
		SliceOffset:         c.Depth.SliceOffset,
	}
}

// RTPAddr is the network endpoint of the stream.
func (c *Config) RTPAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// SetupLogging applies the log section to the standard logrus logger.
func (c *Config) SetupLogging() error {
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	if c.Log.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
