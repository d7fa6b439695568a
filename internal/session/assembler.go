package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/marinp1/depthcast/internal/depth"
	"github.com/marinp1/depthcast/internal/encoder"
)

// Encoder channel indices, also the send order.
const (
	ChannelDepth = iota
	ChannelColor
	ChannelAudio
	NumChannels
)

// AssemblerStats are the consumer-side counters.
type AssemblerStats struct {
	Cycles uint64              `json:"cycles"`
	Sent   [NumChannels]uint64 `json:"sent"`
}

// Assembler is the consumer loop: drain the state, build one frame per
// channel and send them to the sink.
type Assembler struct {
	state *State
	sink  encoder.Sink

	cycles atomic.Uint64
	sent   [NumChannels]atomic.Uint64

	chroma *depth.ChromaPlane
	log    *logrus.Entry
}

// NewAssembler returns an assembler draining state into sink.
func NewAssembler(state *State, sink encoder.Sink) *Assembler {
	return &Assembler{
		state: state,
		sink:  sink,
		log:   logrus.WithField("component", "assembler"),
	}
}

// Compose fills frames from snap. Channels absent from the snapshot get an
// empty frame, never the data of an earlier cycle.
func Compose(snap *Snapshot, frames *[NumChannels]encoder.Frame) {
	*frames = [NumChannels]encoder.Frame{}

	if snap.Video.Ready {
		v := &snap.Video
		frames[ChannelDepth] = encoder.Frame{
			Data:     [3][]byte{v.DepthData, v.Chroma.Bytes()},
			Linesize: [3]int{v.DepthStride, v.DepthStride},
		}
		frames[ChannelColor] = encoder.Frame{
			Data:     [3][]byte{v.ColorData},
			Linesize: [3]int{v.ColorStride},
		}
	}
	if snap.Audio.Ready {
		frames[ChannelAudio] = encoder.Frame{
			Data:     [3][]byte{snap.Audio.Buffer[:snap.Audio.BytesWritten]},
			Linesize: [3]int{snap.Audio.BytesWritten},
		}
	}
}

// Run loops until ctx is done, the state is closed or a send fails. On exit
// every channel is flushed with an empty frame. A send failure is returned.
// Cancelling ctx closes the state to wake a pending drain.
func (a *Assembler) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, a.state.Close)
	defer stop()
	defer func() {
		a.flush()
		if a.chroma != nil {
			a.log.WithField("samples", a.chroma.Len()).Debug("Releasing chroma plane")
			a.chroma = nil
		}
	}()

	var (
		snap   Snapshot
		frames [NumChannels]encoder.Frame
	)
	for ctx.Err() == nil {
		if err := a.state.DrainInto(&snap); err != nil {
			if errors.Is(err, ErrClosed) {
				return nil
			}
			return err
		}
		a.cycles.Add(1)
		if snap.Video.Chroma != nil {
			a.chroma = snap.Video.Chroma
		}

		Compose(&snap, &frames)
		err := a.send(&frames)
		// the frames borrowed the frameset buffers until now
		snap.Video.Frameset.Release()
		if err != nil {
			a.log.WithError(err).Error("Encoder sink failed, stopping")
			return err
		}
	}
	return nil
}

func (a *Assembler) send(frames *[NumChannels]encoder.Frame) error {
	empty := true
	for i := range frames {
		if !frames[i].Empty() {
			empty = false
		}
	}
	if empty {
		return nil
	}

	for ch := 0; ch < NumChannels; ch++ {
		if err := a.sink.Send(ch, &frames[ch]); err != nil {
			return fmt.Errorf("failed to send channel %d: %w", ch, err)
		}
		if !frames[ch].Empty() {
			a.sent[ch].Add(1)
		}
	}
	return nil
}

func (a *Assembler) flush() {
	for ch := 0; ch < NumChannels; ch++ {
		if err := a.sink.Send(ch, nil); err != nil {
			a.log.WithError(err).WithField("channel", ch).Warn("Failed to flush encoder channel")
		}
	}
}

// Stats returns the consumer counters.
func (a *Assembler) Stats() AssemblerStats {
	st := AssemblerStats{Cycles: a.cycles.Load()}
	for i := range a.sent {
		st.Sent[i] = a.sent[i].Load()
	}
	return st
}
