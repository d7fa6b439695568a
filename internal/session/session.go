package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/marinp1/depthcast/internal/audio"
	"github.com/marinp1/depthcast/internal/camera"
	"github.com/marinp1/depthcast/internal/encoder"
)

// Config wires a session together. Capture may be nil to stream without
// audio.
type Config struct {
	Sensor  camera.Sensor
	Worker  camera.WorkerOptions
	Capture audio.Capture
	Audio   audio.Format
	Sink    encoder.Sink
}

// Stats is a point-in-time view of a running session.
type Stats struct {
	ID             string         `json:"id"`
	Uptime         string         `json:"uptime"`
	CameraFrames   uint64         `json:"camera_frames"`
	AudioBuffers   uint64         `json:"audio_buffers"`
	// AudioResubmits counts capture buffers the subsystem refused to take back.
	AudioResubmits uint64         `json:"audio_resubmit_failures"`
	Video          SlotStats      `json:"video"`
	Audio          SlotStats      `json:"audio"`
	AudioTruncated uint64         `json:"audio_truncated"`
	Assembler      AssemblerStats `json:"assembler"`
}

// Session owns the shared state and every component around it for the
// lifetime of one stream.
type Session struct {
	ID string

	state     *State
	worker    *camera.Worker
	audio     *audio.DoubleBuffer
	assembler *Assembler
	started   time.Time

	log *logrus.Entry
}

// New builds a session. The sensor must already be configured.
func New(cfg Config) (*Session, error) {
	if cfg.Sensor == nil || cfg.Sink == nil {
		return nil, errors.New("session needs a sensor and a sink")
	}

	id := uuid.NewString()
	s := &Session{
		ID:      id,
		started: time.Now(),
		log:     logrus.WithFields(logrus.Fields{"component": "session", "session": id}),
	}

	capacity := 0
	if cfg.Capture != nil {
		if err := cfg.Audio.Validate(); err != nil {
			return nil, fmt.Errorf("invalid audio format: %w", err)
		}
		capacity = cfg.Audio.BufferBytes()
	}
	s.state = NewState(capacity)
	s.worker = camera.NewWorker(cfg.Sensor, s.state, cfg.Worker)
	if cfg.Capture != nil {
		s.audio = audio.NewDoubleBuffer(cfg.Capture, cfg.Audio, s.state.HandoffAudio)
	}
	s.assembler = NewAssembler(s.state, cfg.Sink)
	return s, nil
}

// Run starts the producers and runs the assembler on the calling goroutine
// until ctx is done or a component fails. Teardown always joins the camera
// worker and stops audio capture before the state is released.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.log.Info("Session starting")

	if err := s.worker.Start(ctx); err != nil {
		return err
	}
	if s.audio != nil {
		if err := s.audio.Start(); err != nil {
			s.worker.Stop()
			s.state.Release()
			return err
		}
	}

	// a dead camera worker ends the session
	go func() {
		select {
		case <-s.worker.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	runErr := s.assembler.Run(ctx)
	cancel()

	s.worker.Stop()
	var audioErr error
	if s.audio != nil {
		audioErr = s.audio.Stop()
	}
	s.state.Release()

	err := errors.Join(runErr, s.worker.Err(), audioErr)
	fields := logrus.Fields{
		"frames":   s.worker.Frames(),
		"duration": time.Since(s.started).Round(time.Millisecond),
	}
	if err != nil {
		s.log.WithFields(fields).WithError(err).Error("Session failed")
	} else {
		s.log.WithFields(fields).Info("Session finished")
	}
	return err
}

// Stats returns the current counters of every component.
func (s *Session) Stats() Stats {
	video, aud, truncated := s.state.Stats()
	st := Stats{
		ID:             s.ID,
		CameraFrames:   s.worker.Frames(),
		Video:          video,
		Audio:          aud,
		AudioTruncated: truncated,
		Assembler:      s.assembler.Stats(),
		Uptime:         time.Since(s.started).Round(time.Second).String(),
	}
	if s.audio != nil {
		st.AudioBuffers = s.audio.Completions()
		st.AudioResubmits = s.audio.ResubmitFailures()
	}
	return st
}
