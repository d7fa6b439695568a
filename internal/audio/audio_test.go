package audio

import (
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCapture lets tests complete buffers by hand.
type fakeCapture struct {
	mu        sync.Mutex
	done      Completion
	queued    [][]byte
	started   bool
	closed    bool
	failAfter int
	submits   int
}

func (f *fakeCapture) Open(_ Format, done Completion) error {
	f.done = done
	return nil
}

func (f *fakeCapture) Submit(buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	if f.failAfter > 0 && f.submits > f.failAfter {
		return errors.New("device gone")
	}
	f.queued = append(f.queued, buf)
	return nil
}

func (f *fakeCapture) Start() error { f.started = true; return nil }
func (f *fakeCapture) Close() error { f.closed = true; return nil }

// fill completes the oldest queued buffer with n bytes of value b.
func (f *fakeCapture) fill(b byte, n int) []byte {
	f.mu.Lock()
	buf := f.queued[0]
	f.queued = f.queued[1:]
	f.mu.Unlock()
	for i := 0; i < n; i++ {
		buf[i] = b
	}
	f.done(buf, n)
	return buf
}

func (f *fakeCapture) pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queued)
}

func TestDoubleBufferHandsOffAndResubmits(t *testing.T) {
	fc := &fakeCapture{}
	var got [][]byte
	db := NewDoubleBuffer(fc, DefaultFormat, func(pcm []byte) {
		got = append(got, append([]byte(nil), pcm...))
	})
	require.NoError(t, db.Start())
	assert.True(t, fc.started)
	assert.Equal(t, 2, fc.pending())

	first := fc.fill(1, 8)
	second := fc.fill(2, 4)
	third := fc.fill(3, 2)

	require.Len(t, got, 3)
	assert.Equal(t, []byte{1, 1, 1, 1, 1, 1, 1, 1}, got[0])
	assert.Equal(t, []byte{2, 2, 2, 2}, got[1])
	assert.Equal(t, []byte{3, 3}, got[2])

	// the buffers ping-pong
	assert.Same(t, &first[0], &third[0])
	assert.NotSame(t, &first[0], &second[0])
	assert.Equal(t, 2, fc.pending())
	assert.Len(t, first, DefaultFormat.BufferBytes())
	assert.Equal(t, uint64(3), db.Completions())

	require.NoError(t, db.Stop())
	assert.True(t, fc.closed)
	assert.NoError(t, db.Stop())
}

func TestDoubleBufferCountsResubmitFailures(t *testing.T) {
	fc := &fakeCapture{failAfter: 2}
	db := NewDoubleBuffer(fc, DefaultFormat, func([]byte) {})
	require.NoError(t, db.Start())

	fc.fill(0, 16)
	assert.Equal(t, uint64(1), db.ResubmitFailures())
	assert.Equal(t, 1, fc.pending())
}

func TestDoubleBufferSkipsEmptyCompletion(t *testing.T) {
	fc := &fakeCapture{}
	calls := 0
	db := NewDoubleBuffer(fc, DefaultFormat, func([]byte) { calls++ })
	require.NoError(t, db.Start())

	fc.fill(0, 0)
	assert.Zero(t, calls)
	assert.Equal(t, 2, fc.pending())
}

func TestDoubleBufferRejectsBadFormat(t *testing.T) {
	db := NewDoubleBuffer(&fakeCapture{}, Format{SampleRate: 22050, Channels: 1, BitsPerSample: 24}, func([]byte) {})
	assert.Error(t, db.Start())
}

func TestToneCaptureFillsBuffers(t *testing.T) {
	format, err := ParseSampleFormat("s16")
	require.NoError(t, err)

	var mu sync.Mutex
	var sizes []int
	tone := NewToneCapture()
	tone.Period = time.Millisecond
	db := NewDoubleBuffer(tone, format, func(pcm []byte) {
		mu.Lock()
		sizes = append(sizes, len(pcm))
		mu.Unlock()
	})
	require.NoError(t, db.Start())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sizes) >= 2
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, db.Stop())

	mu.Lock()
	defer mu.Unlock()
	for _, n := range sizes {
		assert.Equal(t, BufferSamples*2, n)
	}
}

func TestBufferQueueSplitsWrites(t *testing.T) {
	var q bufferQueue
	var done [][]byte
	q.reset(func(buf []byte, n int) { done = append(done, buf[:n]) })

	a, b := make([]byte, 4), make([]byte, 4)
	require.NoError(t, q.submit(a))
	require.NoError(t, q.submit(b))

	q.write([]byte{1, 2, 3})
	assert.Empty(t, done)
	q.write([]byte{4, 5, 6, 7, 8, 9, 10})

	require.Len(t, done, 2)
	assert.Equal(t, []byte{1, 2, 3, 4}, done[0])
	assert.Equal(t, []byte{5, 6, 7, 8}, done[1])
	assert.Equal(t, uint64(1), q.overrunCount())

	q.close()
	assert.ErrorIs(t, q.submit(a), ErrNotOpen)
}

func TestInt16ToFloat32(t *testing.T) {
	tests := []struct {
		in   int16
		want float32
	}{
		{0, 0},
		{16384, 0.5},
		{-32768, -1},
		{32767, 32767.0 / 32768.0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Int16ToFloat32(tt.in))
	}
}

func TestPCM16ToFloat32(t *testing.T) {
	src := make([]byte, 6)
	binary.LittleEndian.PutUint16(src[0:], uint16(16384))
	binary.LittleEndian.PutUint16(src[2:], 0x8000)
	binary.LittleEndian.PutUint16(src[4:], 0)

	dst := make([]float32, 2)
	n := PCM16ToFloat32(dst, src)
	assert.Equal(t, 2, n)
	assert.Equal(t, []float32{0.5, -1}, dst)
}

func TestFormat(t *testing.T) {
	assert.Equal(t, 4096*4, DefaultFormat.BufferBytes())
	assert.InDelta(t, 0.1857, DefaultFormat.Duration(DefaultFormat.BufferBytes()).Seconds(), 1e-3)

	_, err := ParseSampleFormat("u8")
	assert.Error(t, err)
}
