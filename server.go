package main

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/marinp1/depthcast/config"
	"github.com/marinp1/depthcast/internal/encoder"
	"github.com/marinp1/depthcast/internal/preview"
	"github.com/marinp1/depthcast/internal/session"
	"github.com/marinp1/depthcast/internal/transport"
)

// startPreview serves the WebRTC preview and recorder of the color channel
// next to the RTP stream. It is a no-op when http.addr is empty.
func startPreview(cfg *config.Config, fanout *transport.Fanout, color encoder.ChannelConfig, stats preview.StatsFunc) (func(), error) {
	if cfg.HTTP.Addr == "" {
		return func() {}, nil
	}

	clients := preview.NewClientManager(session.ChannelColor, color.Codec(), color.Framerate)
	recorder := preview.NewRecorder(cfg.HTTP.RecordingDir, session.ChannelColor, color.Codec())

	srv, err := preview.NewServer(preview.Options{
		Addr:         cfg.HTTP.Addr,
		CorsOrigin:   cfg.HTTP.CorsOrigin,
		ICEServers:   cfg.HTTP.ICEServers,
		RecordingDir: cfg.HTTP.RecordingDir,
	}, clients, recorder, stats)
	if err != nil {
		return nil, err
	}

	fanout.AddTap("preview", clients)
	if rm := srv.Recorder(); rm != nil {
		fanout.AddTap("recorder", rm)
	}
	if err := srv.Start(); err != nil {
		fanout.RemoveTap("preview")
		fanout.RemoveTap("recorder")
		return nil, err
	}

	return func() {
		fanout.RemoveTap("preview")
		fanout.RemoveTap("recorder")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logrus.WithError(err).Warn("Preview server shutdown failed")
		}
		logrus.Info("Preview server shut down cleanly.")
	}, nil
}
