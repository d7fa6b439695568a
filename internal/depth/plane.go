package depth

import (
	"encoding/binary"
	"unsafe"
)

// ChromaMid is the neutral U/V value of a 16-bit chroma sample (128 << 8).
const ChromaMid = 0x8000

// ChromaPlane is the constant mid-gray interleaved UV plane that turns a Z16
// depth buffer into a complete P010LE picture.
type ChromaPlane struct {
	Stride int
	Height int
	data   []byte
}

// NewChromaPlane allocates stride/2 * height/2 samples of ChromaMid, where
// stride is the depth plane stride in bytes and height its row count. The
// plane is immutable once built.
func NewChromaPlane(stride, height int) *ChromaPlane {
	n := stride / 2 * (height / 2)
	data := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(data[i*2:], ChromaMid)
	}
	return &ChromaPlane{Stride: stride, Height: height, data: data}
}

// Bytes exposes the little-endian plane data. The slice must not be modified.
func (p *ChromaPlane) Bytes() []byte {
	if p == nil {
		return nil
	}
	return p.data
}

// Len is the number of 16-bit samples in the plane.
func (p *ChromaPlane) Len() int {
	if p == nil {
		return 0
	}
	return len(p.data) / 2
}

// Samples views a Z16 byte buffer as 16-bit samples without copying. Sensors
// deliver little-endian data, which matches every host we build for. b must
// start on a 2-byte boundary; whole frame buffers always do, and Samples
// panics on a misaligned sub-slice. A trailing odd byte is ignored.
func Samples(b []byte) []uint16 {
	if len(b) < 2 {
		return nil
	}
	p := unsafe.Pointer(&b[0])
	if uintptr(p)%2 != 0 {
		panic("depth: Samples on a buffer that is not 2-byte aligned")
	}
	return unsafe.Slice((*uint16)(p), len(b)/2)
}

// Bytes views samples as bytes without copying.
func Bytes(samples []uint16) []byte {
	if len(samples) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&samples[0])), len(samples)*2)
}
