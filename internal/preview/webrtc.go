package preview

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

// SetupMediaEngine registers only the preview codec, at payload type 96.
// pion's default table also claims 96 (VP8), so the defaults are not loaded.
func SetupMediaEngine(mimeType string) (*webrtc.MediaEngine, error) {
	m := &webrtc.MediaEngine{}
	fmtp := "profile-level-id=42e01f;level-asymmetry-allowed=1;packetization-mode=1"
	if mimeType == webrtc.MimeTypeH265 {
		fmtp = ""
	}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    mimeType,
			ClockRate:   90000,
			SDPFmtpLine: fmtp,
		},
		PayloadType: 96,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, err
	}
	return m, nil
}

// HandleOffer answers a viewer's SDP offer with a send-only video track.
func HandleOffer(w http.ResponseWriter, r *http.Request, api *webrtc.API, cm *ClientManager, iceServers []string) {
	log := logrus.WithField("component", "preview")

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, "invalid offer", http.StatusBadRequest)
		return
	}
	log.WithField("remote", r.RemoteAddr).Debugf("Received offer SDP:\n%s", offer.SDP)

	var conf webrtc.Configuration
	if len(iceServers) > 0 {
		conf.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	peerConn, err := api.NewPeerConnection(conf)
	if err != nil {
		http.Error(w, "failed to create peer connection", http.StatusInternalServerError)
		return
	}

	videoTrack, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: cm.MimeType()},
		"video", "depthcast-color",
	)
	if err != nil {
		_ = peerConn.Close()
		http.Error(w, "failed to create track", http.StatusInternalServerError)
		return
	}
	if _, err := peerConn.AddTrack(videoTrack); err != nil {
		_ = peerConn.Close()
		http.Error(w, "failed to add track", http.StatusInternalServerError)
		return
	}

	client := cm.NewClient(peerConn, videoTrack)
	cm.AddClient(client)

	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.WithField("client", client.ID).Infof("PeerConnection state: %v", state)
		if state == webrtc.PeerConnectionStateDisconnected ||
			state == webrtc.PeerConnectionStateFailed ||
			state == webrtc.PeerConnectionStateClosed {
			cm.RemoveClient(client)
			_ = peerConn.Close()
		}
	})

	if err := peerConn.SetRemoteDescription(offer); err != nil {
		log.WithError(err).Warn("SetRemoteDescription failed")
		cm.RemoveClient(client)
		_ = peerConn.Close()
		http.Error(w, "failed to set remote description", http.StatusInternalServerError)
		return
	}

	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		cm.RemoveClient(client)
		_ = peerConn.Close()
		http.Error(w, "failed to create answer", http.StatusInternalServerError)
		return
	}

	// non-trickle: answer once candidates are gathered
	gatherComplete := webrtc.GatheringCompletePromise(peerConn)
	if err := peerConn.SetLocalDescription(answer); err != nil {
		cm.RemoveClient(client)
		_ = peerConn.Close()
		http.Error(w, "failed to set local description", http.StatusInternalServerError)
		return
	}
	select {
	case <-gatherComplete:
	case <-time.After(2 * time.Second):
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(peerConn.LocalDescription())
}
