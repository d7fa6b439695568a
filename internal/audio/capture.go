package audio

import "errors"

// ErrNotOpen is returned when a capture is used before Open or after Close.
var ErrNotOpen = errors.New("audio capture not open")

// Completion is invoked by the capture subsystem on its own goroutine each
// time a submitted buffer has been filled. It must return quickly.
type Completion func(buf []byte, bytesRecorded int)

// Capture is the audio capture subsystem. Buffers handed to Submit are owned
// by the capture until they come back through the Completion.
type Capture interface {
	Open(format Format, done Completion) error
	Submit(buf []byte) error
	Start() error
	// Close stops the device. No Completion runs after Close returns.
	Close() error
}
