package preview

import (
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marinp1/depthcast/internal/encoder"
)

func TestClientManagerMimeType(t *testing.T) {
	assert.Equal(t, webrtc.MimeTypeH265, NewClientManager(1, encoder.CodecHEVC, 30).MimeType())
	assert.Equal(t, webrtc.MimeTypeH264, NewClientManager(1, encoder.CodecH264, 30).MimeType())
}

func TestClientManagerFrameSamples(t *testing.T) {
	assert.Equal(t, uint32(3000), NewClientManager(0, encoder.CodecHEVC, 30).frameSamples)
	assert.Equal(t, uint32(1500), NewClientManager(0, encoder.CodecHEVC, 60).frameSamples)
	// invalid framerates fall back to 30
	assert.Equal(t, uint32(3000), NewClientManager(0, encoder.CodecHEVC, 0).frameSamples)
}

func TestClientManagerAddRemove(t *testing.T) {
	cm := NewClientManager(1, encoder.CodecHEVC, 30)

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: cm.MimeType()}, "video", "depthcast")
	require.NoError(t, err)

	c := cm.NewClient(pc, track)
	assert.NotEmpty(t, c.ID)
	cm.AddClient(c)
	assert.Equal(t, 1, cm.Count())

	// not connected: packets are packetized but not written
	assert.NoError(t, cm.WritePacket(encoder.Packet{Channel: 1, Codec: encoder.CodecHEVC, Data: []byte{1 << 1, 1, 0xaa}}))
	// other channels are ignored
	assert.NoError(t, cm.WritePacket(encoder.Packet{Channel: 0, Data: []byte{1}}))

	cm.RemoveClient(c)
	assert.Equal(t, 0, cm.Count())

	cm.AddClient(c)
	cm.CloseAll()
	assert.Equal(t, 0, cm.Count())
}
