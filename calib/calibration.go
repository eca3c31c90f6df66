// Package calib computes and persists the transform carrying one camera's
// points into the shared world space, by accumulating marker observations and
// solving a Procrustes fit against the marker's known pose.
package calib

import (
	"github.com/golang/geo/r3"

	"github.com/volcap/scanclient/logging"
	"github.com/volcap/scanclient/marker"
	"github.com/volcap/scanclient/pointcloud"
	"github.com/volcap/scanclient/rimage"
	"github.com/volcap/scanclient/spatialmath"
)

// NumRequiredSamples is how many marker observations are averaged before a
// calibration is computed.
const NumRequiredSamples = 20

// MarkerPose is the known world-space pose of a marker id.
type MarkerPose struct {
	MarkerID int
	Pose     spatialmath.Pose
}

// Calibration accumulates marker samples and holds the resulting world
// transform. It is owned by the pipeline goroutine and not safe for
// concurrent use.
type Calibration struct {
	logger   logging.Logger
	detector *marker.Detector

	world        spatialmath.Pose
	usedMarkerID int
	calibrated   bool

	markerPoses []MarkerPose
	samples     [][]r3.Vector
}

// New returns an uncalibrated state with an identity world transform.
func New(logger logging.Logger) *Calibration {
	return &Calibration{
		logger:       logger,
		detector:     marker.NewDetector(logger),
		world:        spatialmath.NewZeroPose(),
		usedMarkerID: -1,
	}
}

// IsCalibrated reports whether a world transform has been established.
func (c *Calibration) IsCalibrated() bool { return c.calibrated }

// World returns the current world transform.
func (c *Calibration) World() spatialmath.Pose { return c.world }

// UsedMarkerID returns the id of the marker the current calibration used, or
// -1.
func (c *Calibration) UsedMarkerID() int { return c.usedMarkerID }

// SetMarkerPoses replaces the table of known marker poses.
func (c *Calibration) SetMarkerPoses(poses []MarkerPose) {
	c.markerPoses = append(c.markerPoses[:0], poses...)
}

// SetWorld overwrites the world transform, e.g. with a refined transform
// received from the coordinating server. The calibrated flag is untouched.
func (c *Calibration) SetWorld(p spatialmath.Pose) {
	c.world = p
}

// SampleCount returns how many marker observations are accumulated.
func (c *Calibration) SampleCount() int { return len(c.samples) }

// Calibrate tries to advance calibration with one frame: it detects a marker
// in the color frame, lifts its corners to camera space through the aligned
// XYZ image, and accumulates the sample. Once NumRequiredSamples samples are
// gathered it solves for the world transform and returns true. Any failure
// (no marker, unknown id, invalid depth under a corner) returns false and
// preserves the accumulator.
func (c *Calibration) Calibrate(colors []pointcloud.RGB, vertices []pointcloud.Point3f, width, height int) bool {
	if len(colors) < width*height || len(vertices) < width*height {
		return false
	}

	img := rimage.NewImageFromData(colors, width, height)
	info, ok := c.detector.Detect(img)
	if !ok {
		return false
	}

	pose, ok := c.lookupMarkerPose(info.ID)
	if !ok {
		c.logger.Debugf("marker %d detected but has no configured pose", info.ID)
		return false
	}
	c.usedMarkerID = info.ID

	sample, ok := cornerPositions(info, vertices, width, height)
	if !ok {
		return false
	}

	c.samples = append(c.samples, sample)
	if len(c.samples) < NumRequiredSamples {
		return false
	}

	observed := averageSamples(c.samples, len(sample))

	localR, localT, err := spatialmath.Procrustes(observed, info.Template3D)
	if err != nil {
		c.logger.Errorw("procrustes fit failed", "error", err)
		c.samples = c.samples[:0]
		return false
	}

	worldR := pose.Pose.R.Mul(localR)
	increment := worldR.InverseRotatePoint(pose.Pose.T)
	c.world = spatialmath.Pose{R: worldR, T: localT.Add(increment)}
	c.calibrated = true
	c.samples = c.samples[:0]

	c.logger.Infow("calibration established",
		"markerID", c.usedMarkerID, "worldT", c.world.T)
	return true
}

func (c *Calibration) lookupMarkerPose(id int) (MarkerPose, bool) {
	for _, p := range c.markerPoses {
		if p.MarkerID == id {
			return p, true
		}
	}
	return MarkerPose{}, false
}

// cornerPositions bilinearly interpolates the camera-space position under
// each detected corner from the four surrounding aligned-XYZ pixels. The
// whole frame is rejected when a corner leaves the image or any neighbor has
// no depth.
func cornerPositions(info marker.Info, vertices []pointcloud.Point3f, width, height int) ([]r3.Vector, bool) {
	out := make([]r3.Vector, len(info.Corners))
	for i, corner := range info.Corners {
		x0, y0 := int(corner.X), int(corner.Y)
		x1, y1 := x0+1, y0+1
		if x0 < 0 || y0 < 0 || x1 >= width || y1 >= height {
			return nil, false
		}
		dx := corner.X - float64(x0)
		dy := corner.Y - float64(y0)

		p00 := vertices[y0*width+x0].Vector()
		p10 := vertices[y0*width+x1].Vector()
		p01 := vertices[y1*width+x0].Vector()
		p11 := vertices[y1*width+x1].Vector()

		if p00.Z <= 0 || p10.Z <= 0 || p01.Z <= 0 || p11.Z <= 0 {
			return nil, false
		}

		out[i] = p00.Mul((1 - dx) * (1 - dy)).
			Add(p10.Mul(dx * (1 - dy))).
			Add(p01.Mul((1 - dx) * dy)).
			Add(p11.Mul(dx * dy))
	}
	return out, true
}

func averageSamples(samples [][]r3.Vector, corners int) []r3.Vector {
	out := make([]r3.Vector, corners)
	inv := 1 / float64(len(samples))
	for _, sample := range samples {
		for i, p := range sample {
			out[i] = out[i].Add(p.Mul(inv))
		}
	}
	return out
}
