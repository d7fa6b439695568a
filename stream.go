package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/marinp1/depthcast/config"
	"github.com/marinp1/depthcast/internal/audio"
	"github.com/marinp1/depthcast/internal/camera"
	"github.com/marinp1/depthcast/internal/encoder"
	"github.com/marinp1/depthcast/internal/session"
	"github.com/marinp1/depthcast/internal/transport"
)

// errInit marks failures to bring up the sensor or the encoders.
var errInit = errors.New("initialization failed")

func newSensor(cfg *config.Config) camera.Sensor {
	if cfg.Sensor.Kind == "pipe" {
		return camera.NewPipeSensor(camera.PipeOptions{
			Command:     cfg.Sensor.Command,
			NativeUnits: cfg.Sensor.NativeUnits,
		})
	}
	return camera.NewSyntheticSensor(camera.SyntheticOptions{NativeUnits: cfg.Sensor.NativeUnits})
}

func newCapture(cfg *config.Config) audio.Capture {
	switch cfg.Audio.Source {
	case "tone":
		return audio.NewToneCapture()
	case "malgo":
		return audio.NewMalgoCapture(cfg.Audio.Device)
	}
	return nil
}

// channelConfigs lays out the depth, color and audio channels in the order
// the assembler sends them. Both video channels take the alignment target's
// size.
func channelConfigs(cfg *config.Config) []encoder.ChannelConfig {
	w, h := cfg.Streams().OutputSize()
	f := cfg.AudioFormat()
	aux := encoder.AudioChannel(f.SampleRate, f.Channels, f.BitsPerSample)
	if cfg.Audio.Normalize && !f.Float {
		aux.BitsPerSample = 32
		aux.NormalizeS16 = true
	}
	return []encoder.ChannelConfig{
		session.ChannelDepth: encoder.DepthChannel(cfg.Encoder.Depth, cfg.Device, w, h, cfg.Framerate, cfg.DepthBitrate),
		session.ChannelColor: encoder.ColorChannel(cfg.Encoder.Color, cfg.Device, w, h, cfg.Framerate, cfg.ColorBitrate),
		session.ChannelAudio: aux,
	}
}

// stream runs one session until ctx is cancelled or a component fails.
func stream(ctx context.Context, cfg *config.Config) error {
	log := logrus.WithField("component", "main")
	encoder.FFmpegBinary = cfg.Encoder.FFmpeg

	log.WithFields(logrus.Fields{
		"align":  cfg.Align,
		"sensor": cfg.Sensor.Kind,
		"audio":  cfg.Audio.Source,
		"target": cfg.RTPAddr(),
	}).Info("Starting depthcast")

	sensor := newSensor(cfg)
	setup, err := camera.Setup(sensor, camera.SetupOptions{
		Streams:    cfg.Streams(),
		DepthUnits: cfg.DepthUnits,
		Preset:     cfg.Preset,
	})
	if err != nil {
		_ = sensor.Stop()
		return fmt.Errorf("%w: %w", errInit, err)
	}

	channels := channelConfigs(cfg)
	sender, err := transport.NewRTPSender(cfg.RTPAddr(), channels)
	if err != nil {
		_ = sensor.Stop()
		return err
	}
	defer sender.Close()
	fanout := transport.NewFanout(sender)

	streamer, err := encoder.NewStreamer(channels, fanout)
	if err != nil {
		_ = sensor.Stop()
		return fmt.Errorf("%w: %w", errInit, err)
	}
	defer func() {
		if err := streamer.Close(); err != nil {
			log.WithError(err).Warn("Failed to close encoders")
		}
	}()

	capture := newCapture(cfg)
	sess, err := session.New(session.Config{
		Sensor:  sensor,
		Worker:  cfg.WorkerOptions(setup.NeedsPostprocessing),
		Capture: capture,
		Audio:   cfg.AudioFormat(),
		Sink:    streamer,
	})
	if err != nil {
		_ = sensor.Stop()
		return err
	}

	shutdown, err := startPreview(cfg, fanout, channels[session.ChannelColor], func() any {
		return streamStats{
			Session:  sess.Stats(),
			Encoders: streamer.Stats(),
			RTP:      sender.Stats(),
		}
	})
	if err != nil {
		_ = sensor.Stop()
		return err
	}
	defer shutdown()

	return sess.Run(ctx)
}

type streamStats struct {
	Session  session.Stats            `json:"session"`
	Encoders []encoder.ChannelStats   `json:"encoders"`
	RTP      []transport.ChannelStats `json:"rtp"`
}
