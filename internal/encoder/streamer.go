package encoder

import (
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/marinp1/depthcast/internal/audio"
)

// ChannelStats are the per-channel counters of a Streamer.
type ChannelStats struct {
	Name    string `json:"name"`
	Frames  uint64 `json:"frames"`
	Bytes   uint64 `json:"bytes"`
	Flushed bool   `json:"flushed"`
}

type channel struct {
	cfg     ChannelConfig
	video   VideoEncoder
	flushed bool
	frames  atomic.Uint64
	bytes   atomic.Uint64

	// scratch of NormalizeS16 channels
	floats []float32
	f32    []byte
}

// normalize converts s16 PCM to little-endian f32. The result is only valid
// until the next call.
func (ch *channel) normalize(pcm []byte) []byte {
	n := len(pcm) / 2
	if cap(ch.floats) < n {
		ch.floats = make([]float32, n)
		ch.f32 = make([]byte, n*4)
	}
	floats := ch.floats[:n]
	audio.PCM16ToFloat32(floats, pcm)
	out := ch.f32[:n*4]
	for i, f := range floats {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

// Streamer is a multi-channel Sink. Video channels own an encoder each, aux
// channels forward their bytes to the PacketWriter as they are.
type Streamer struct {
	mu       sync.Mutex
	channels []*channel
	out      PacketWriter
	log      *logrus.Entry
}

// Option customizes a Streamer.
type Option func(*streamerOptions)

type streamerOptions struct {
	factory VideoEncoderFactory
}

// WithVideoEncoder replaces the ffmpeg encoder factory.
func WithVideoEncoder(f VideoEncoderFactory) Option {
	return func(o *streamerOptions) { o.factory = f }
}

// NewStreamer starts an encoder for every video channel. Channel indices
// follow the order of cfgs.
func NewStreamer(cfgs []ChannelConfig, out PacketWriter, opts ...Option) (*Streamer, error) {
	o := streamerOptions{factory: NewFFmpegEncoder}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Streamer{out: out, log: logrus.WithField("component", "encoder")}
	for i, cfg := range cfgs {
		if err := cfg.Validate(); err != nil {
			s.Close()
			return nil, err
		}
		ch := &channel{cfg: cfg}
		if cfg.Kind == KindVideo {
			v, err := o.factory(i, cfg, out)
			if err != nil {
				s.Close()
				return nil, errors.Wrapf(err, "failed to initialize %s encoder", cfg.Name)
			}
			ch.video = v
		}
		s.channels = append(s.channels, ch)
	}
	return s, nil
}

// Send implements Sink.
func (s *Streamer) Send(idx int, f *Frame) error {
	s.mu.Lock()
	if idx < 0 || idx >= len(s.channels) {
		s.mu.Unlock()
		return errors.Wrapf(ErrUnknownChannel, "channel %d", idx)
	}
	ch := s.channels[idx]
	if ch.flushed {
		s.mu.Unlock()
		return errors.Wrapf(ErrChannelFlushed, "channel %s", ch.cfg.Name)
	}
	if f == nil {
		ch.flushed = true
	}
	s.mu.Unlock()

	if f == nil {
		return s.flush(ch)
	}
	if f.Empty() {
		return nil
	}

	if ch.video != nil {
		if err := ch.video.Encode(f); err != nil {
			return err
		}
		ch.bytes.Add(uint64(len(f.Data[0]) + len(f.Data[1]) + len(f.Data[2])))
	} else {
		pcm := f.Data[0]
		if f.Linesize[0] > 0 && f.Linesize[0] < len(pcm) {
			pcm = pcm[:f.Linesize[0]]
		}
		if ch.cfg.NormalizeS16 {
			pcm = ch.normalize(pcm)
		}
		frameBytes := ch.cfg.Channels * ch.cfg.BitsPerSample / 8
		if err := s.out.WritePacket(Packet{
			Channel: idx,
			Codec:   CodecPCM,
			Data:    pcm,
			Samples: uint32(len(pcm) / frameBytes),
		}); err != nil {
			return errors.Wrapf(err, "failed to forward %s packet", ch.cfg.Name)
		}
		ch.bytes.Add(uint64(len(pcm)))
	}
	ch.frames.Add(1)
	return nil
}

func (s *Streamer) flush(ch *channel) error {
	s.log.WithField("channel", ch.cfg.Name).Debug("Flushing channel")
	if ch.video == nil {
		return nil
	}
	if err := ch.video.Close(); err != nil {
		return errors.Wrapf(err, "failed to flush %s", ch.cfg.Name)
	}
	return nil
}

// Stats returns a snapshot of the channel counters.
func (s *Streamer) Stats() []ChannelStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := make([]ChannelStats, len(s.channels))
	for i, ch := range s.channels {
		stats[i] = ChannelStats{
			Name:    ch.cfg.Name,
			Frames:  ch.frames.Load(),
			Bytes:   ch.bytes.Load(),
			Flushed: ch.flushed,
		}
	}
	return stats
}

// Close flushes the channels nobody flushed yet.
func (s *Streamer) Close() error {
	var first error
	for i := range s.channels {
		s.mu.Lock()
		flushed := s.channels[i].flushed
		s.mu.Unlock()
		if flushed {
			continue
		}
		if err := s.Send(i, nil); err != nil && first == nil {
			first = err
		}
	}
	return first
}
