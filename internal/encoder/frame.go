// Package encoder turns the assembled per-channel frames into encoded
// packets: video channels through a hardware ffmpeg encoder, the audio
// channel as raw PCM.
package encoder

import (
	stderrors "errors"
)

var (
	// ErrChannelFlushed is returned when sending to a channel after its flush.
	ErrChannelFlushed = stderrors.New("encoder channel already flushed")
	// ErrUnknownChannel is returned for an out of range channel index.
	ErrUnknownChannel = stderrors.New("unknown encoder channel")
)

// Frame carries up to three planes of one channel. Data slices are borrowed:
// the sink must be done with them when Send returns.
type Frame struct {
	Data     [3][]byte
	Linesize [3]int
}

// Empty reports whether the frame carries no data.
func (f *Frame) Empty() bool {
	return f == nil || (len(f.Data[0]) == 0 && len(f.Data[1]) == 0 && len(f.Data[2]) == 0)
}

// Sink accepts one frame per channel. A nil frame flushes the channel and
// marks its end of stream.
type Sink interface {
	Send(channel int, f *Frame) error
}
