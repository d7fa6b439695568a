package camera

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/marinp1/depthcast/internal/depth"
)

// SetupOptions are the user-controlled sensor settings.
type SetupOptions struct {
	Streams    StreamConfig
	DepthUnits float32 // requested depth unit in meters
	Preset     []byte  // optional vendor JSON preset
}

// SetupResult reports how the sensor ended up configured.
type SetupResult struct {
	Profile Profile
	// UnitsSet is the depth unit the sensor reports after configuration.
	UnitsSet float32
	// NeedsPostprocessing is true when depth units or clamping are simulated
	// in software by the worker.
	NeedsPostprocessing bool
}

// Setup configures sensor, applies the preset, then tries to set the depth
// unit and range clamp in hardware. Options the sensor rejects are reported
// as warnings and simulated in software instead.
func Setup(sensor Sensor, opts SetupOptions) (SetupResult, error) {
	log := logrus.WithField("component", "camera")

	profile, err := sensor.Configure(opts.Streams)
	if err != nil {
		return SetupResult{}, fmt.Errorf("failed to configure sensor: %w", err)
	}
	res := SetupResult{Profile: profile, UnitsSet: opts.DepthUnits}

	if len(opts.Preset) > 0 {
		log.WithField("bytes", len(opts.Preset)).Info("Loading sensor settings from json")
		if err := sensor.LoadJSON(opts.Preset); err != nil {
			return SetupResult{}, fmt.Errorf("failed to load sensor json preset: %w", err)
		}
	}

	if sensor.SupportsDepthUnits() {
		if err := sensor.SetDepthUnits(opts.DepthUnits); err != nil {
			log.WithError(err).WithField("depth_units", opts.DepthUnits).
				Warn("Failed to set depth units, simulating in software")
			res.NeedsPostprocessing = true
		} else {
			res.UnitsSet = sensor.DepthUnits()
			if math.Abs(float64(res.UnitsSet-opts.DepthUnits)) > 1e-9 {
				log.WithField("depth_units", res.UnitsSet).Warn("Device corrected depth units")
			}
		}
	} else {
		log.Warn("Device doesn't support setting depth units")
		res.NeedsPostprocessing = true
	}

	mode := "Setting"
	if res.NeedsPostprocessing {
		mode = "Simulating"
	}
	log.WithFields(logrus.Fields{
		"depth_units":  res.UnitsSet,
		"range_m":      depth.Range(opts.DepthUnits),
		"precision_mm": depth.Precision(opts.DepthUnits) * 1000,
	}).Infof("%s depth units", mode)

	clamped := false
	if sensor.SupportsClamp() {
		if err := sensor.SetClamp(depth.P010LEMax); err != nil {
			log.WithError(err).Warn("Failed to clamp depth range, simulating in software")
		} else {
			clamped = true
		}
	} else {
		log.Warn("Device doesn't support depth clamping")
	}
	mode = "Clamping"
	if !clamped {
		res.NeedsPostprocessing = true
		mode = "Simulating clamping"
	}
	log.WithField("range_m", depth.Range(opts.DepthUnits)).Infof("%s range", mode)

	i := profile.Intrinsics
	log.WithFields(logrus.Fields{
		"align_to": opts.Streams.AlignTo,
		"width":    i.Width,
		"height":   i.Height,
		"hfov":     fov(i.Width, i.FX),
		"vfov":     fov(i.Height, i.FY),
		"ppx":      i.PPX,
		"ppy":      i.PPY,
		"fx":       i.FX,
		"fy":       i.FY,
		"model":    i.Model,
	}).Info("Camera intrinsics")

	return res, nil
}

func fov(size int, focal float32) float64 {
	if focal == 0 {
		return 0
	}
	return 2 * math.Atan(float64(size)/(2*float64(focal))) * 180 / math.Pi
}
