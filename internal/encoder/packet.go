package encoder

// Packet is one unit of encoder output: a NAL unit without start code for
// video, a block of PCM for audio.
type Packet struct {
	Channel int
	Codec   Codec
	Data    []byte
	// Samples is the audio frame count of a PCM packet.
	Samples uint32
}

// PacketWriter consumes encoder output. It is called from the encoder's
// reader goroutines and must be safe for concurrent use.
type PacketWriter interface {
	WritePacket(p Packet) error
}

// PacketWriterFunc adapts a function to PacketWriter.
type PacketWriterFunc func(p Packet) error

// WritePacket implements PacketWriter.
func (f PacketWriterFunc) WritePacket(p Packet) error { return f(p) }
