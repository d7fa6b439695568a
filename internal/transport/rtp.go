// Package transport forwards encoder output to the network as RTP over UDP.
package transport

import (
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/sirupsen/logrus"

	"github.com/marinp1/depthcast/internal/encoder"
)

const (
	// MTU is the largest RTP packet we send.
	MTU = 1200
	// BasePayloadType is the dynamic payload type of channel 0; the other
	// channels count up from it.
	BasePayloadType = 96
	videoClockRate  = 90000
)

// ChannelStats are the per-channel RTP counters.
type ChannelStats struct {
	Name        string `json:"name"`
	SSRC        uint32 `json:"ssrc"`
	PayloadType uint8  `json:"payload_type"`
	Packets     uint64 `json:"packets"`
	Bytes       uint64 `json:"bytes"`
	Refused     uint64 `json:"refused"`
}

type rtpChannel struct {
	mu           sync.Mutex
	cfg          encoder.ChannelConfig
	ssrc         uint32
	pt           uint8
	packetizer   rtp.Packetizer
	frameSamples uint32

	packets atomic.Uint64
	bytes   atomic.Uint64
	refused atomic.Uint64
}

// RTPSender sends every channel over one UDP socket, telling channels apart
// by SSRC and payload type.
type RTPSender struct {
	conn     net.Conn
	channels []*rtpChannel
	log      *logrus.Entry
}

// NewRTPSender connects to addr ("host:port").
func NewRTPSender(addr string, cfgs []encoder.ChannelConfig) (*RTPSender, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to open udp socket to %s: %w", addr, err)
	}

	s := &RTPSender{conn: conn, log: logrus.WithField("component", "rtp")}
	for i, cfg := range cfgs {
		ch := &rtpChannel{cfg: cfg, ssrc: rand.Uint32(), pt: uint8(BasePayloadType + i)}
		switch cfg.Codec() {
		case encoder.CodecHEVC:
			ch.packetizer = rtp.NewPacketizer(MTU, ch.pt, ch.ssrc, &codecs.H265Payloader{},
				rtp.NewRandomSequencer(), videoClockRate)
			ch.frameSamples = uint32(videoClockRate / cfg.Framerate)
		case encoder.CodecH264:
			ch.packetizer = rtp.NewPacketizer(MTU, ch.pt, ch.ssrc, &codecs.H264Payloader{},
				rtp.NewRandomSequencer(), videoClockRate)
			ch.frameSamples = uint32(videoClockRate / cfg.Framerate)
		case encoder.CodecPCM:
			ch.packetizer = rtp.NewPacketizer(MTU, ch.pt, ch.ssrc,
				&PCMPayloader{FrameBytes: cfg.Channels * cfg.BitsPerSample / 8},
				rtp.NewRandomSequencer(), uint32(cfg.SampleRate))
		}
		s.channels = append(s.channels, ch)

		s.log.WithFields(logrus.Fields{
			"channel":      cfg.Name,
			"ssrc":         ch.ssrc,
			"payload_type": ch.pt,
			"codec":        cfg.Codec(),
		}).Info("RTP channel ready")
	}
	return s, nil
}

// WritePacket implements encoder.PacketWriter. Video timestamps advance by
// one frame after each picture NAL unit, so parameter sets share the
// timestamp of the picture that follows them.
func (s *RTPSender) WritePacket(p encoder.Packet) error {
	if p.Channel < 0 || p.Channel >= len(s.channels) {
		return fmt.Errorf("rtp: %w %d", encoder.ErrUnknownChannel, p.Channel)
	}
	ch := s.channels[p.Channel]

	ch.mu.Lock()
	defer ch.mu.Unlock()

	samples := p.Samples
	if p.Codec != encoder.CodecPCM {
		samples = 0
		if encoder.IsVCL(p.Codec, p.Data) {
			samples = ch.frameSamples
		}
	}

	for _, pkt := range ch.packetizer.Packetize(p.Data, samples) {
		raw, err := pkt.Marshal()
		if err != nil {
			return fmt.Errorf("rtp marshal error: %w", err)
		}
		if _, err := s.conn.Write(raw); err != nil {
			// nobody listening yet, keep streaming
			if errors.Is(err, syscall.ECONNREFUSED) {
				if ch.refused.Add(1) == 1 {
					s.log.WithField("channel", ch.cfg.Name).Warn("RTP receiver refused packets")
				}
				continue
			}
			return fmt.Errorf("rtp write error: %w", err)
		}
		ch.packets.Add(1)
		ch.bytes.Add(uint64(len(raw)))
	}
	return nil
}

// Stats returns the per-channel counters.
func (s *RTPSender) Stats() []ChannelStats {
	stats := make([]ChannelStats, len(s.channels))
	for i, ch := range s.channels {
		stats[i] = ChannelStats{
			Name:        ch.cfg.Name,
			SSRC:        ch.ssrc,
			PayloadType: ch.pt,
			Packets:     ch.packets.Load(),
			Bytes:       ch.bytes.Load(),
			Refused:     ch.refused.Load(),
		}
	}
	return stats
}

// Close closes the socket.
func (s *RTPSender) Close() error {
	return s.conn.Close()
}

// PCMPayloader splits raw PCM at sample frame boundaries.
type PCMPayloader struct {
	FrameBytes int
}

// Payload implements rtp.Payloader.
func (p *PCMPayloader) Payload(mtu uint16, payload []byte) [][]byte {
	frame := p.FrameBytes
	if frame <= 0 {
		frame = 1
	}
	limit := int(mtu) / frame * frame
	if limit == 0 {
		return nil
	}

	out := make([][]byte, 0, len(payload)/limit+1)
	for len(payload) > 0 {
		n := min(limit, len(payload))
		chunk := make([]byte, n)
		copy(chunk, payload[:n])
		out = append(out, chunk)
		payload = payload[n:]
	}
	return out
}
