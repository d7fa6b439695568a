package transport

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/marinp1/depthcast/internal/encoder"
)

// Fanout forwards packets to a primary writer and to any number of taps.
// Only primary errors are returned; a failing tap is logged and skipped.
type Fanout struct {
	primary encoder.PacketWriter

	mu   sync.RWMutex
	taps map[string]encoder.PacketWriter

	log *logrus.Entry
}

// NewFanout returns a fanout in front of primary, which may be nil.
func NewFanout(primary encoder.PacketWriter) *Fanout {
	return &Fanout{
		primary: primary,
		taps:    make(map[string]encoder.PacketWriter),
		log:     logrus.WithField("component", "fanout"),
	}
}

// AddTap registers w under name, replacing any tap of the same name.
func (f *Fanout) AddTap(name string, w encoder.PacketWriter) {
	f.mu.Lock()
	f.taps[name] = w
	f.mu.Unlock()
}

// RemoveTap unregisters name.
func (f *Fanout) RemoveTap(name string) {
	f.mu.Lock()
	delete(f.taps, name)
	f.mu.Unlock()
}

// WritePacket implements encoder.PacketWriter.
func (f *Fanout) WritePacket(p encoder.Packet) error {
	f.mu.RLock()
	for name, tap := range f.taps {
		if err := tap.WritePacket(p); err != nil {
			f.log.WithError(err).WithField("tap", name).Debug("Tap write failed")
		}
	}
	f.mu.RUnlock()

	if f.primary == nil {
		return nil
	}
	return f.primary.WritePacket(p)
}
