// Package preview serves the local HTTP surface: a WebRTC preview and an MP4
// recorder of one encoded video channel, live statistics and a health check.
package preview

import (
	"math/rand"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"github.com/marinp1/depthcast/internal/encoder"
)

// Client is one WebRTC viewer.
type Client struct {
	ID         string
	PeerConn   *webrtc.PeerConnection
	VideoTrack *webrtc.TrackLocalStaticRTP
	Packetizer rtp.Packetizer
}

// ClientManager broadcasts one channel's packets to every connected viewer.
type ClientManager struct {
	Channel      int
	Codec        encoder.Codec
	frameSamples uint32

	mu      sync.RWMutex
	clients map[*Client]struct{}

	log *logrus.Entry
}

// NewClientManager broadcasts packets of channel ch encoded as codec.
func NewClientManager(ch int, codec encoder.Codec, framerate int) *ClientManager {
	if framerate <= 0 {
		framerate = 30
	}
	return &ClientManager{
		Channel:      ch,
		Codec:        codec,
		frameSamples: uint32(90000 / framerate),
		clients:      make(map[*Client]struct{}),
		log:          logrus.WithField("component", "preview"),
	}
}

// MimeType is the track codec viewers negotiate.
func (cm *ClientManager) MimeType() string {
	if cm.Codec == encoder.CodecH264 {
		return webrtc.MimeTypeH264
	}
	return webrtc.MimeTypeH265
}

// NewClient wraps a peer connection with its own packetizer.
func (cm *ClientManager) NewClient(pc *webrtc.PeerConnection, track *webrtc.TrackLocalStaticRTP) *Client {
	var payloader rtp.Payloader = &codecs.H265Payloader{}
	if cm.Codec == encoder.CodecH264 {
		payloader = &codecs.H264Payloader{}
	}
	packetizer := rtp.NewPacketizer(
		1200, 96, rand.Uint32(), payloader,
		rtp.NewRandomSequencer(), 90000,
	)
	return &Client{ID: uuid.NewString(), PeerConn: pc, VideoTrack: track, Packetizer: packetizer}
}

// WritePacket implements encoder.PacketWriter.
func (cm *ClientManager) WritePacket(p encoder.Packet) error {
	if p.Channel != cm.Channel {
		return nil
	}

	cm.mu.RLock()
	clients := make([]*Client, 0, len(cm.clients))
	for c := range cm.clients {
		clients = append(clients, c)
	}
	cm.mu.RUnlock()

	var samples uint32
	if encoder.IsVCL(p.Codec, p.Data) {
		samples = cm.frameSamples
	}
	for _, c := range clients {
		// every client keeps its own clock so late joiners stay consistent
		packets := c.Packetizer.Packetize(p.Data, samples)
		if c.PeerConn.ConnectionState() != webrtc.PeerConnectionStateConnected {
			continue
		}
		for _, pkt := range packets {
			_ = c.VideoTrack.WriteRTP(pkt)
		}
	}
	return nil
}

// AddClient registers c.
func (cm *ClientManager) AddClient(c *Client) {
	cm.mu.Lock()
	cm.clients[c] = struct{}{}
	n := len(cm.clients)
	cm.mu.Unlock()
	cm.log.WithFields(logrus.Fields{"client": c.ID, "clients": n}).Info("Viewer added")
}

// RemoveClient unregisters c.
func (cm *ClientManager) RemoveClient(c *Client) {
	cm.mu.Lock()
	delete(cm.clients, c)
	n := len(cm.clients)
	cm.mu.Unlock()
	cm.log.WithFields(logrus.Fields{"client": c.ID, "clients": n}).Info("Viewer removed")
}

// Count is the number of registered viewers.
func (cm *ClientManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.clients)
}

// CloseAll closes every peer connection.
func (cm *ClientManager) CloseAll() {
	cm.mu.Lock()
	clients := cm.clients
	cm.clients = make(map[*Client]struct{})
	cm.mu.Unlock()

	for c := range clients {
		_ = c.PeerConn.Close()
	}
}
