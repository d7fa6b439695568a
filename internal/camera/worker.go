package camera

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/marinp1/depthcast/internal/depth"
)

// RepackMode selects the depth transform applied before publishing.
type RepackMode int

const (
	// RepackAuto rescales depth units in software only when the sensor could
	// not do it in hardware.
	RepackAuto RepackMode = iota
	// RepackSlice maps a 4096 unit window into ten-bit values.
	RepackSlice
	// RepackNone publishes samples untouched.
	RepackNone
)

// ParseRepackMode maps a configuration value to a mode.
func ParseRepackMode(s string) (RepackMode, error) {
	switch s {
	case "", "auto", "rescale":
		return RepackAuto, nil
	case "slice", "tenbit":
		return RepackSlice, nil
	case "none":
		return RepackNone, nil
	}
	return RepackAuto, fmt.Errorf("unknown depth repack mode %q", s)
}

// Publication is one frameset ready for the encoder. Ownership of the
// Frameset reference moves to the Publisher.
type Publication struct {
	Frameset    *Frameset
	DepthStride int
	DepthData   []byte
	ColorStride int
	ColorData   []byte
	Chroma      *depth.ChromaPlane
}

// Publisher receives repacked framesets.
type Publisher interface {
	PublishVideo(p Publication)
}

// WorkerOptions control the per-frame processing.
type WorkerOptions struct {
	Repack RepackMode
	// Threshold keeps a one meter window around the center pixel.
	Threshold bool
	// NeedsPostprocessing enables the software rescale in RepackAuto.
	NeedsPostprocessing bool
	TargetUnits         float32
	Overflow            depth.OverflowPolicy
	// SliceOffset is the fixed ten-bit window start in native units; a
	// negative value tracks the center pixel every frame.
	SliceOffset int
}

// Worker pulls framesets from a Sensor on its own goroutine.
type Worker struct {
	sensor Sensor
	pub    Publisher
	opts   WorkerOptions
	filter *depth.ThresholdFilter
	chroma *depth.ChromaPlane

	keepWorking atomic.Bool
	frames      atomic.Uint64
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	done        chan struct{}

	mu  sync.Mutex
	err error

	log *logrus.Entry
}

// NewWorker returns a worker that is not running yet.
func NewWorker(sensor Sensor, pub Publisher, opts WorkerOptions) *Worker {
	return &Worker{
		sensor: sensor,
		pub:    pub,
		opts:   opts,
		filter: depth.NewThresholdFilter(),
		done:   make(chan struct{}),
		log:    logrus.WithField("component", "camera"),
	}
}

// Start spawns the capture goroutine. A worker runs at most once.
func (w *Worker) Start(ctx context.Context) error {
	select {
	case <-w.done:
		return fmt.Errorf("camera worker already finished")
	default:
	}
	if !w.keepWorking.CompareAndSwap(false, true) {
		return fmt.Errorf("camera worker is already running")
	}
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.run(ctx)
	return nil
}

// Stop asks the loop to finish and joins it.
func (w *Worker) Stop() {
	w.keepWorking.Store(false)
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

// Err returns the error that ended the loop, if any.
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Done is closed once the capture loop has exited and the sensor is stopped.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Frames is the number of framesets published so far.
func (w *Worker) Frames() uint64 {
	return w.frames.Load()
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	defer close(w.done)
	defer func() {
		if err := w.sensor.Stop(); err != nil {
			w.log.WithError(err).Warn("Failed to stop sensor")
		}
		w.log.WithField("frames", w.frames.Load()).Info("Camera worker finished")
	}()

	for w.keepWorking.Load() {
		fs, err := w.sensor.WaitForFrameset(ctx)
		if err != nil {
			// a cancelled context is a cooperative stop, not a capture failure
			if !w.keepWorking.Load() || ctx.Err() != nil {
				return
			}
			w.mu.Lock()
			w.err = fmt.Errorf("failed to wait for frameset: %w", err)
			w.mu.Unlock()
			w.log.WithError(err).Error("Camera capture failed")
			w.keepWorking.Store(false)
			return
		}

		w.pub.PublishVideo(w.process(fs))
		w.frames.Add(1)
	}
}

// process repacks fs in place and builds its publication.
func (w *Worker) process(fs *Frameset) Publication {
	d := &fs.Depth
	samples := d.Samples()

	center, _ := d.RawAt(d.Center())
	if w.opts.Threshold {
		w.filter.Track(float32(center) * d.Units)
		w.filter.Apply(samples, d.Units)
	}

	switch w.opts.Repack {
	case RepackAuto:
		if w.opts.NeedsPostprocessing {
			depth.ProcessDepthData(samples, depth.Multiplier(d.Units, w.opts.TargetUnits), w.opts.Overflow)
		}
	case RepackSlice:
		offset := uint16(w.opts.SliceOffset)
		if w.opts.SliceOffset < 0 {
			offset = depth.SliceMinFor(center)
		}
		depth.RescaleSliceTenBit(samples, offset)
	}

	if w.chroma == nil {
		// the stride is only known once the first frame arrives
		w.chroma = depth.NewChromaPlane(d.Stride, d.Height)
		w.log.WithFields(logrus.Fields{
			"stride":  d.Stride,
			"height":  d.Height,
			"samples": w.chroma.Len(),
		}).Debug("Allocated dummy chroma plane")
	}

	return Publication{
		Frameset:    fs,
		DepthStride: d.Stride,
		DepthData:   d.Data,
		ColorStride: fs.Color.Stride,
		ColorData:   fs.Color.Data,
		Chroma:      w.chroma,
	}
}
