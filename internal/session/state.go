// Package session owns one streaming session: the shared ready state the
// camera worker and the audio callback publish into, and the assembler that
// drains it into the encoder sink.
package session

import (
	"errors"
	"sync"

	"github.com/marinp1/depthcast/internal/camera"
	"github.com/marinp1/depthcast/internal/depth"
)

// ErrClosed is returned by DrainAll once the state is closed and empty.
var ErrClosed = errors.New("session state closed")

// Slot identifies a producer.
type Slot int

const (
	SlotVideo Slot = iota
	SlotAudio
	numSlots
)

// String implements fmt.Stringer.
func (s Slot) String() string {
	switch s {
	case SlotVideo:
		return "video"
	case SlotAudio:
		return "audio"
	}
	return "unknown"
}

// VideoChannel is the depth+color payload published by the camera worker.
// The byte slices point into Frameset, which holds the buffers alive.
type VideoChannel struct {
	DepthStride int
	DepthData   []byte
	ColorStride int
	ColorData   []byte
	Chroma      *depth.ChromaPlane
	Frameset    *camera.Frameset
	Ready       bool
}

// AudioChannel holds the last completed capture buffer. Buffer has a fixed
// capacity set when the state is created.
type AudioChannel struct {
	Buffer       []byte
	BytesWritten int
	Ready        bool
}

// Channels groups the channel states guarded by the State lock.
type Channels struct {
	Video VideoChannel
	Audio AudioChannel
}

// Snapshot is what one DrainAll returns. Video.Frameset belongs to the
// caller, which must Release it. Audio holds a copy of the recorded bytes.
type Snapshot struct {
	Video VideoChannel
	Audio AudioChannel
}

// Has reports whether slot was drained into the snapshot.
func (s *Snapshot) Has(slot Slot) bool {
	switch slot {
	case SlotVideo:
		return s.Video.Ready
	case SlotAudio:
		return s.Audio.Ready
	}
	return false
}

// SlotStats counts publications into one slot.
type SlotStats struct {
	Published   uint64 `json:"published"`
	Overwritten uint64 `json:"overwritten"`
	Drained     uint64 `json:"drained"`
}

// State is the rendezvous between the producers and the consumer. Every
// field is guarded by mu; anyReady is true iff a channel's Ready flag is.
//
// At most one payload per channel is pending: publishing again before the
// consumer drains overwrites the previous payload.
type State struct {
	mu       sync.Mutex
	cond     *sync.Cond
	anyReady bool
	closed   bool
	ch       Channels
	stats    [numSlots]SlotStats

	audioTruncated uint64
}

// NewState returns an empty state whose audio buffer holds audioCapacity
// bytes.
func NewState(audioCapacity int) *State {
	s := &State{}
	s.cond = sync.NewCond(&s.mu)
	s.ch.Audio.Buffer = make([]byte, audioCapacity)
	return s
}

// Publish runs mutate under the lock to write slot's payload, marks the slot
// ready and wakes the consumer. mutate must only do bookkeeping. Publishing
// into a closed state is a no-op.
func (s *State) Publish(slot Slot, mutate func(*Channels)) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.ready(slot) {
		s.stats[slot].Overwritten++
	}
	mutate(&s.ch)
	s.setReady(slot)
	s.stats[slot].Published++
	s.anyReady = true
	s.mu.Unlock()

	s.cond.Signal()
}

func (s *State) ready(slot Slot) bool {
	switch slot {
	case SlotVideo:
		return s.ch.Video.Ready
	case SlotAudio:
		return s.ch.Audio.Ready
	}
	return false
}

func (s *State) setReady(slot Slot) {
	switch slot {
	case SlotVideo:
		s.ch.Video.Ready = true
	case SlotAudio:
		s.ch.Audio.Ready = true
	}
}

// PublishVideo implements camera.Publisher. The publication's frameset
// reference moves into the state; an unread frameset it replaces is released.
func (s *State) PublishVideo(p camera.Publication) {
	var stale *camera.Frameset
	published := false
	s.Publish(SlotVideo, func(c *Channels) {
		published = true
		if c.Video.Ready {
			stale = c.Video.Frameset
		}
		c.Video = VideoChannel{
			DepthStride: p.DepthStride,
			DepthData:   p.DepthData,
			ColorStride: p.ColorStride,
			ColorData:   p.ColorData,
			Chroma:      p.Chroma,
			Frameset:    p.Frameset,
		}
	})
	if !published {
		p.Frameset.Release()
	}
	// released outside the lock, the hook may hand buffers back to the sensor
	stale.Release()
}

// HandoffAudio is the audio completion handoff: it copies pcm into the fixed
// audio buffer and publishes it. It never allocates and only blocks on the
// lock. Bytes beyond the buffer capacity are dropped.
func (s *State) HandoffAudio(pcm []byte) {
	s.Publish(SlotAudio, func(c *Channels) {
		n := copy(c.Audio.Buffer, pcm)
		if n < len(pcm) {
			s.audioTruncated++
		}
		c.Audio.BytesWritten = n
	})
}

// DrainAll waits until a channel is ready and returns a snapshot of all ready
// channels, clearing their flags. It returns ErrClosed when the state was
// closed and nothing is pending.
func (s *State) DrainAll() (Snapshot, error) {
	var snap Snapshot
	err := s.DrainInto(&snap)
	return snap, err
}

// DrainInto is DrainAll reusing snap's audio storage across calls.
func (s *State) DrainInto(snap *Snapshot) error {
	audio := snap.Audio.Buffer
	*snap = Snapshot{}

	s.mu.Lock()
	defer s.mu.Unlock()

	for !s.anyReady && !s.closed {
		s.cond.Wait()
	}
	if !s.anyReady {
		snap.Audio.Buffer = audio
		return ErrClosed
	}

	if s.ch.Video.Ready {
		snap.Video = s.ch.Video
		s.ch.Video.Ready = false
		s.ch.Video.Frameset = nil
		s.stats[SlotVideo].Drained++
	}
	if s.ch.Audio.Ready {
		n := s.ch.Audio.BytesWritten
		if cap(audio) < n {
			audio = make([]byte, len(s.ch.Audio.Buffer))
		}
		audio = audio[:n]
		copy(audio, s.ch.Audio.Buffer[:n])
		snap.Audio = AudioChannel{Buffer: audio, BytesWritten: n, Ready: true}
		s.ch.Audio.Ready = false
		s.stats[SlotAudio].Drained++
	} else {
		snap.Audio.Buffer = audio[:0]
	}
	s.anyReady = false
	return nil
}

// Close wakes the consumer. Data published before Close can still be
// drained once.
func (s *State) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cond.Broadcast()
}

// Release drops whatever is still pending. Call it after both producers
// have stopped and the consumer has exited.
func (s *State) Release() {
	s.mu.Lock()
	fs := s.ch.Video.Frameset
	s.ch.Video = VideoChannel{}
	s.ch.Audio.Ready = false
	s.ch.Audio.BytesWritten = 0
	s.anyReady = false
	s.closed = true
	s.mu.Unlock()

	fs.Release()
}

// AnyReady reports whether a channel holds unread data.
func (s *State) AnyReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.anyReady
}

// Stats returns the per-slot counters and the number of truncated audio
// handoffs.
func (s *State) Stats() (video, audio SlotStats, audioTruncated uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats[SlotVideo], s.stats[SlotAudio], s.audioTruncated
}
