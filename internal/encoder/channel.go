package encoder

import (
	"fmt"
	"strings"
)

// ChannelKind tells the Streamer how to treat a channel.
type ChannelKind int

const (
	// KindVideo channels are encoded by a VideoEncoder.
	KindVideo ChannelKind = iota
	// KindAux channels pass their bytes through untouched.
	KindAux
)

// Codec names the bitstream of a channel.
type Codec string

const (
	CodecHEVC Codec = "hevc"
	CodecH264 Codec = "h264"
	CodecPCM  Codec = "pcm"
)

// ChannelConfig describes one output channel.
type ChannelConfig struct {
	Name        string
	Kind        ChannelKind
	Encoder     string // ffmpeg encoder, e.g. hevc_nvenc
	PixelFormat string // raw input format, e.g. p010le
	Width       int
	Height      int
	Framerate   int
	Bitrate     int // bits per second, 0 leaves the encoder default
	Device      string
	Profile     string
	// CompressionLevel maps to the encoder preset; -1 leaves the default.
	CompressionLevel int
	// SampleRate, Channels and BitsPerSample describe aux audio channels.
	SampleRate    int
	Channels      int
	BitsPerSample int
	// NormalizeS16 converts s16 capture buffers to f32 in [-1,1) before they
	// are forwarded. BitsPerSample then describes the forwarded samples.
	NormalizeS16 bool
}

// Codec derives the output bitstream from the encoder name.
func (c ChannelConfig) Codec() Codec {
	if c.Kind == KindAux {
		return CodecPCM
	}
	if strings.Contains(c.Encoder, "264") {
		return CodecH264
	}
	return CodecHEVC
}

// Validate checks the fields the channel kind needs.
func (c ChannelConfig) Validate() error {
	if c.Kind == KindAux {
		if c.SampleRate <= 0 || c.Channels <= 0 || (c.BitsPerSample != 16 && c.BitsPerSample != 32) {
			return fmt.Errorf("channel %s: invalid audio layout %dHz x%d %d bit",
				c.Name, c.SampleRate, c.Channels, c.BitsPerSample)
		}
		if c.NormalizeS16 && c.BitsPerSample != 32 {
			return fmt.Errorf("channel %s: normalized audio is 32 bit float", c.Name)
		}
		return nil
	}
	if c.Width <= 0 || c.Height <= 0 || c.Framerate <= 0 {
		return fmt.Errorf("channel %s: invalid video size %dx%d@%d", c.Name, c.Width, c.Height, c.Framerate)
	}
	if c.Encoder == "" {
		return fmt.Errorf("channel %s: no encoder", c.Name)
	}
	if _, err := planeLayout(c.PixelFormat, c.Width, c.Height); err != nil {
		return fmt.Errorf("channel %s: %w", c.Name, err)
	}
	return nil
}

// DepthChannel is HEVC Main10 over P010LE, with the lowest compression level
// so depth is degraded as little as possible.
func DepthChannel(encoder, device string, width, height, framerate, bitrate int) ChannelConfig {
	return ChannelConfig{
		Name:             "depth",
		Kind:             KindVideo,
		Encoder:          encoder,
		PixelFormat:      "p010le",
		Width:            width,
		Height:           height,
		Framerate:        framerate,
		Bitrate:          bitrate,
		Device:           device,
		Profile:          "main10",
		CompressionLevel: 1,
	}
}

// ColorChannel is HEVC Main over RGB0 input.
func ColorChannel(encoder, device string, width, height, framerate, bitrate int) ChannelConfig {
	return ChannelConfig{
		Name:             "color",
		Kind:             KindVideo,
		Encoder:          encoder,
		PixelFormat:      "rgb0",
		Width:            width,
		Height:           height,
		Framerate:        framerate,
		Bitrate:          bitrate,
		Device:           device,
		Profile:          "main",
		CompressionLevel: 0,
	}
}

// AudioChannel carries raw PCM.
func AudioChannel(sampleRate, channels, bitsPerSample int) ChannelConfig {
	return ChannelConfig{
		Name:             "audio",
		Kind:             KindAux,
		SampleRate:       sampleRate,
		Channels:         channels,
		BitsPerSample:    bitsPerSample,
		CompressionLevel: -1,
	}
}

type plane struct {
	rowBytes int
	rows     int
}

// planeLayout returns the unpadded size of each plane of a raw picture.
func planeLayout(pixfmt string, w, h int) ([]plane, error) {
	switch pixfmt {
	case "p010le":
		return []plane{{w * 2, h}, {w * 2, h / 2}}, nil
	case "nv12":
		return []plane{{w, h}, {w, h / 2}}, nil
	case "rgb0", "rgba", "bgr0", "bgra":
		return []plane{{w * 4, h}}, nil
	case "gray16le":
		return []plane{{w * 2, h}}, nil
	}
	return nil, fmt.Errorf("unsupported pixel format %q", pixfmt)
}
