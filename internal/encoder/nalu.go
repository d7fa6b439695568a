package encoder

// Splitter cuts an Annex-B byte stream into NAL units. Bytes are appended
// with Write; every complete unit is passed to emit without its start code.
type Splitter struct {
	buf  []byte
	emit func(nalu []byte)
}

// NewSplitter returns a splitter with room for size bytes of pending data.
func NewSplitter(size int, emit func(nalu []byte)) *Splitter {
	return &Splitter{buf: make([]byte, 0, size), emit: emit}
}

// Write appends p and emits all units that are now complete. A unit is
// complete once the next start code has been seen.
func (s *Splitter) Write(p []byte) {
	s.buf = append(s.buf, p...)
	buf := s.buf

	for len(buf) > 4 {
		start, codeLen := findStartCode(buf)
		if start == -1 {
			// keep the tail in case a start code is split across reads
			if len(buf) > 3 {
				n := copy(s.buf, buf[len(buf)-3:])
				s.buf = s.buf[:n]
			}
			return
		}
		buf = buf[start:]

		next, _ := findStartCode(buf[codeLen:])
		if next == -1 {
			break
		}
		s.emitUnit(buf[codeLen : codeLen+next])
		buf = buf[codeLen+next:]
	}

	n := copy(s.buf, buf)
	s.buf = s.buf[:n]
}

// Flush emits the trailing unit at end of stream.
func (s *Splitter) Flush() {
	if start, codeLen := findStartCode(s.buf); start != -1 {
		s.emitUnit(s.buf[start+codeLen:])
	}
	s.buf = s.buf[:0]
}

func (s *Splitter) emitUnit(b []byte) {
	if len(b) == 0 {
		return
	}
	nalu := make([]byte, len(b))
	copy(nalu, b)
	s.emit(nalu)
}

// findStartCode returns the offset and length of the first 3 or 4 byte
// start code in buf.
func findStartCode(buf []byte) (int, int) {
	for i := 0; i+3 <= len(buf); i++ {
		// most bytes aren't 0
		if buf[i] != 0 || buf[i+1] != 0 {
			continue
		}
		if buf[i+2] == 1 {
			return i, 3
		}
		if i+4 <= len(buf) && buf[i+2] == 0 && buf[i+3] == 1 {
			return i, 4
		}
	}
	return -1, 0
}

// NALType returns the unit type of nalu for codec.
func NALType(codec Codec, nalu []byte) uint8 {
	if len(nalu) == 0 {
		return 0
	}
	if codec == CodecH264 {
		return nalu[0] & 0x1f
	}
	return (nalu[0] >> 1) & 0x3f
}

// IsVCL reports whether nalu carries picture data.
func IsVCL(codec Codec, nalu []byte) bool {
	t := NALType(codec, nalu)
	if codec == CodecH264 {
		return t >= 1 && t <= 5
	}
	return t <= 31
}

// IsParameterSet reports VPS/SPS/PPS units.
func IsParameterSet(codec Codec, nalu []byte) bool {
	t := NALType(codec, nalu)
	if codec == CodecH264 {
		return t == 7 || t == 8
	}
	return t >= 32 && t <= 34
}

// IsKeyframe reports IDR/IRAP units.
func IsKeyframe(codec Codec, nalu []byte) bool {
	t := NALType(codec, nalu)
	if codec == CodecH264 {
		return t == 5
	}
	return t >= 16 && t <= 21
}
