package camera

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marinp1/depthcast/internal/depth"
)

type chanPublisher chan Publication

func (c chanPublisher) PublishVideo(p Publication) {
	select {
	case c <- p:
	default:
		p.Frameset.Release()
	}
}

func startSynthetic(t *testing.T, opts SyntheticOptions) *SyntheticSensor {
	t.Helper()
	opts.DisablePacing = true
	s := NewSyntheticSensor(opts)
	_, err := s.Configure(testStreams)
	require.NoError(t, err)
	return s
}

func nextPublication(t *testing.T, c chanPublisher) Publication {
	t.Helper()
	select {
	case p := <-c:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a publication")
		return Publication{}
	}
}

func TestWorkerPublishesRescaledDepth(t *testing.T) {
	s := startSynthetic(t, SyntheticOptions{})
	pub := make(chanPublisher, 1)
	w := NewWorker(s, pub, WorkerOptions{
		Repack:              RepackAuto,
		NeedsPostprocessing: true,
		TargetUnits:         0.0001,
	})
	require.NoError(t, w.Start(context.Background()))

	p := nextPublication(t, pub)
	w.Stop()

	require.NotNil(t, p.Frameset)
	defer p.Frameset.Release()

	assert.Equal(t, 64*2, p.DepthStride)
	assert.Equal(t, 64*4, p.ColorStride)
	assert.Equal(t, 64*2/2*(48/2), p.Chroma.Len())

	// corner pixel sees the 2.5m wall, 2500mm rescaled to 0.1mm
	samples := depth.Samples(p.DepthData)
	assert.Equal(t, uint16(25000), samples[0])

	assert.NoError(t, w.Err())
	assert.GreaterOrEqual(t, w.Frames(), uint64(1))
}

func TestWorkerSkipsRescaleWhenHardwareHandlesIt(t *testing.T) {
	s := startSynthetic(t, SyntheticOptions{})
	pub := make(chanPublisher, 1)
	w := NewWorker(s, pub, WorkerOptions{Repack: RepackAuto, TargetUnits: 0.0001})
	require.NoError(t, w.Start(context.Background()))

	p := nextPublication(t, pub)
	w.Stop()
	defer p.Frameset.Release()

	assert.Equal(t, uint16(2500), depth.Samples(p.DepthData)[0])
}

func TestWorkerSliceTracksCenter(t *testing.T) {
	// 0.1mm units put the ~1m center well above the window half width
	s := startSynthetic(t, SyntheticOptions{NativeUnits: 0.0001})
	pub := make(chanPublisher, 1)
	w := NewWorker(s, pub, WorkerOptions{Repack: RepackSlice, SliceOffset: -1})
	require.NoError(t, w.Start(context.Background()))

	p := nextPublication(t, pub)
	w.Stop()
	defer p.Frameset.Release()

	fs := p.Frameset
	samples := depth.Samples(p.DepthData)
	center := samples[fs.Depth.Height/2*fs.Depth.Width+fs.Depth.Width/2]
	// the center sits mid window: 2048 << 4
	assert.Equal(t, uint16(2048<<4), center)
}

func TestWorkerThresholdDropsBackground(t *testing.T) {
	s := startSynthetic(t, SyntheticOptions{})
	pub := make(chanPublisher, 1)
	w := NewWorker(s, pub, WorkerOptions{Repack: RepackNone, Threshold: true})
	require.NoError(t, w.Start(context.Background()))

	p := nextPublication(t, pub)
	w.Stop()
	defer p.Frameset.Release()

	samples := depth.Samples(p.DepthData)
	// the wall is more than 0.5m behind the object
	assert.Zero(t, samples[0])
	c := p.Frameset.Depth.Height/2*p.Frameset.Depth.Width + p.Frameset.Depth.Width/2
	assert.NotZero(t, samples[c])
}

func TestWorkerStopsSensor(t *testing.T) {
	s := startSynthetic(t, SyntheticOptions{})
	pub := make(chanPublisher)
	w := NewWorker(s, pub, WorkerOptions{Repack: RepackNone})
	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()))

	w.Stop()
	assert.NoError(t, w.Err())

	_, err := s.WaitForFrameset(context.Background())
	assert.ErrorIs(t, err, ErrSensorStopped)
}

func TestWorkerCancelIsNotAFailure(t *testing.T) {
	for i := 0; i < 50; i++ {
		s := startSynthetic(t, SyntheticOptions{})
		ctx, cancel := context.WithCancel(context.Background())
		w := NewWorker(s, make(chanPublisher), WorkerOptions{Repack: RepackNone})
		require.NoError(t, w.Start(ctx))

		time.Sleep(time.Millisecond)
		cancel()
		select {
		case <-w.Done():
		case <-time.After(2 * time.Second):
			t.Fatal("worker did not exit after cancel")
		}
		assert.NoError(t, w.Err(), "cycle %d", i)
		w.Stop()
	}
}

type failingSensor struct {
	*SyntheticSensor
}

var errUnplugged = errors.New("device unplugged")

func (failingSensor) WaitForFrameset(context.Context) (*Frameset, error) {
	return nil, errUnplugged
}

func TestWorkerRecordsCaptureFailure(t *testing.T) {
	s := failingSensor{startSynthetic(t, SyntheticOptions{})}
	w := NewWorker(s, make(chanPublisher), WorkerOptions{})
	require.NoError(t, w.Start(context.Background()))

	require.Eventually(t, func() bool { return w.Err() != nil }, 2*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, w.Err(), errUnplugged)
	w.Stop()
}

func TestParseRepackMode(t *testing.T) {
	for in, want := range map[string]RepackMode{
		"": RepackAuto, "auto": RepackAuto, "slice": RepackSlice, "tenbit": RepackSlice, "none": RepackNone,
	} {
		got, err := ParseRepackMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseRepackMode("crop")
	assert.Error(t, err)
}

func TestSyntheticSensorRecyclesBuffers(t *testing.T) {
	s := startSynthetic(t, SyntheticOptions{})
	defer s.Stop()

	fs, err := s.WaitForFrameset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), fs.Number)
	assert.Len(t, fs.Depth.Data, 64*48*2)
	assert.Len(t, fs.Color.Data, 64*48*4)
	fs.Release()

	fs, err = s.WaitForFrameset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), fs.Number)
	fs.Release()
}

func TestSyntheticSensorClamp(t *testing.T) {
	s := startSynthetic(t, SyntheticOptions{})
	defer s.Stop()
	require.NoError(t, s.SetClamp(2000))

	fs, err := s.WaitForFrameset(context.Background())
	require.NoError(t, err)
	defer fs.Release()
	// the wall at 2500mm is beyond the clamp
	assert.Zero(t, fs.Depth.Samples()[0])
}
