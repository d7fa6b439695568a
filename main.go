package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/marinp1/depthcast/config"
)

const examples = `  depthcast 127.0.0.1 9766 color 640 360 640 360 30
  depthcast 127.0.0.1 9766 color 640 360 640 360 30 /dev/dri/renderD128
  depthcast 192.168.0.125 9766 color 640 360 640 360 30 /dev/dri/renderD128 4000000 1000000
  depthcast 192.168.0.100 9768 color 848 480 848 480 30 /dev/dri/renderD128 8000000 1000000 0.0001
  depthcast 192.168.0.100 9768 depth 848 480 848 480 30 /dev/dri/renderD128 8000000 1000000 0.0000125
  depthcast 192.168.0.100 9768 depth 848 480 1280 720 30 /dev/dri/renderD128 8000000 1000000 0.00003125
  depthcast 192.168.0.100 9768 depth 640 480 1280 720 30 /dev/dri/renderD128 8000000 1000000 0.0000390625 my_config.json
  depthcast 192.168.0.100 9768 color 640 480 1280 720 30 /dev/dri/renderD128 8000000 1000000 0.0000390625 my_config.json`

const initHint = `unable to initialize, try to specify device e.g:

  depthcast 127.0.0.1 9766 color 640 360 640 360 30 /dev/dri/renderD128
  depthcast 127.0.0.1 9766 color 640 360 640 360 30 /dev/dri/renderD129`

var (
	cfgFile string
	v       = config.New()
)

var rootCmd = &cobra.Command{
	Use: "depthcast <host> <port> <color/depth> <width_depth> <height_depth> <width_color> <height_color> <framerate>" +
		" [device] [bitrate_depth] [bitrate_color] [depth_units] [json]",
	Short: "Stream aligned depth, color and audio to a network endpoint",
	Long: `depthcast captures aligned depth and color framesets plus microphone audio,
hardware encodes depth as HEVC Main10 and color as HEVC Main, and sends all
three channels as RTP to <host>:<port>.

Positional arguments override the configuration file. Without them the host,
port and stream sizes must come from depthcast.yaml or DEPTHCAST_* variables.`,
	Example:       examples,
	Args:          cobra.MaximumNArgs(13),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is depthcast.yaml beside the binary, . or /etc/depthcast)")
	flags.String("sensor", "synthetic", "sensor backend: synthetic, pipe")
	flags.String("sensor-command", "", "capture helper command for the pipe sensor")
	flags.String("audio", "none", "audio source: none, tone, malgo")
	flags.String("audio-format", "f32", "audio sample format: f32, s16")
	flags.String("audio-device", "", "capture device name (malgo)")
	flags.Bool("audio-normalize", false, "forward s16 capture as f32 samples")
	flags.String("repack", "auto", "depth repack mode: auto, slice, none")
	flags.Bool("threshold", false, "keep a one meter window around the center pixel")
	flags.String("overflow", "zero", "rescaled depth above the P010LE range: zero, saturate")
	flags.String("encoder-depth", "hevc_nvenc", "ffmpeg encoder of the depth channel")
	flags.String("encoder-color", "hevc_nvenc", "ffmpeg encoder of the color channel")
	flags.String("http", "", "preview server address, e.g. :8080 (disabled when empty)")
	flags.String("recordings", "recordings", "directory of preview recordings")
	flags.String("log-level", "info", "log level")
	flags.String("log-format", "text", "log format: text, json")

	bind(v, map[string]string{
		"sensor.kind":        "sensor",
		"sensor.command":     "sensor-command",
		"audio.source":       "audio",
		"audio.format":       "audio-format",
		"audio.device":       "audio-device",
		"audio.normalize":    "audio-normalize",
		"depth.repack":       "repack",
		"depth.threshold":    "threshold",
		"depth.overflow":     "overflow",
		"encoder.depth":      "encoder-depth",
		"encoder.color":      "encoder-color",
		"http.addr":          "http",
		"http.recording_dir": "recordings",
		"log.level":          "log-level",
		"log.format":         "log-format",
	})
}

func bind(v *viper.Viper, keys map[string]string) {
	for key, flag := range keys {
		if err := v.BindPFlag(key, rootCmd.Flags().Lookup(flag)); err != nil {
			panic(err)
		}
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}
	if err := cfg.ApplyArgs(args); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.LoadPreset(); err != nil {
		return err
	}
	if err := cfg.SetupLogging(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return stream(ctx, cfg)
}

func main() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, err)
	switch {
	case errors.Is(err, config.ErrUsage):
		fmt.Fprintln(os.Stderr)
		_ = rootCmd.Usage()
	case errors.Is(err, errInit):
		fmt.Fprintln(os.Stderr, initHint)
	}
	os.Exit(1)
}
