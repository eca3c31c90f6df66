package calib

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/volcap/scanclient/logging"
	"github.com/volcap/scanclient/marker"
	"github.com/volcap/scanclient/pointcloud"
	"github.com/volcap/scanclient/spatialmath"
)

const (
	frameSize    = 400
	renderScale  = 60.0
	renderCX     = 200.0
	renderCY     = 180.0
	worldOffsetX = 1.0
	worldOffsetY = 2.0
	worldOffsetZ = 3.0
)

// markerFrame renders a marker and builds the matching aligned-XYZ image:
// camera-space positions are a linear field chosen so the marker corners
// land exactly on the canonical 3D template shifted by the world offset.
func markerFrame(t *testing.T, id int) ([]pointcloud.RGB, []pointcloud.Point3f) {
	t.Helper()

	img, err := marker.RenderSynthetic(marker.CodeBits(id), frameSize, frameSize, renderScale, renderCX, renderCY)
	test.That(t, err, test.ShouldBeNil)

	vertices := make([]pointcloud.Point3f, frameSize*frameSize)
	for py := 0; py < frameSize; py++ {
		for px := 0; px < frameSize; px++ {
			xn := (float64(px) - renderCX) / renderScale
			yn := (float64(py) - renderCY) / renderScale
			vertices[py*frameSize+px] = pointcloud.NewPoint3f(
				float32(xn+worldOffsetX),
				float32(-yn+worldOffsetY),
				float32(worldOffsetZ),
			)
		}
	}
	return img.Pixels(), vertices
}

func templateCentroid() r3.Vector {
	var c r3.Vector
	for _, p := range marker.TemplateCorners3D {
		c = c.Add(p)
	}
	return c.Mul(1 / float64(len(marker.TemplateCorners3D)))
}

func TestCalibrateAccumulatesThenSolves(t *testing.T) {
	c := New(logging.NewTestLogger(t))
	c.SetMarkerPoses([]MarkerPose{{MarkerID: 7, Pose: spatialmath.NewZeroPose()}})

	colors, vertices := markerFrame(t, 7)

	for i := 0; i < NumRequiredSamples-1; i++ {
		test.That(t, c.Calibrate(colors, vertices, frameSize, frameSize), test.ShouldBeFalse)
		test.That(t, c.IsCalibrated(), test.ShouldBeFalse)
	}
	test.That(t, c.SampleCount(), test.ShouldEqual, NumRequiredSamples-1)

	// The twentieth sample completes the calibration, exactly once.
	test.That(t, c.Calibrate(colors, vertices, frameSize, frameSize), test.ShouldBeTrue)
	test.That(t, c.IsCalibrated(), test.ShouldBeTrue)
	test.That(t, c.UsedMarkerID(), test.ShouldEqual, 7)
	test.That(t, c.SampleCount(), test.ShouldEqual, 0)

	world := c.World()

	// With identity marker pose, the rotation is identity and the
	// translation is the negated centroid of the observed corners, i.e.
	// -(template centroid + offset).
	id := spatialmath.NewIdentityMatrix3()
	for i := range id {
		test.That(t, world.R[i], test.ShouldAlmostEqual, id[i], 0.05)
	}
	wantT := templateCentroid().Add(r3.Vector{X: worldOffsetX, Y: worldOffsetY, Z: worldOffsetZ}).Mul(-1)
	test.That(t, world.T.X, test.ShouldAlmostEqual, wantT.X, 0.05)
	test.That(t, world.T.Y, test.ShouldAlmostEqual, wantT.Y, 0.05)
	test.That(t, world.T.Z, test.ShouldAlmostEqual, wantT.Z, 0.05)

	test.That(t, world.R.Det(), test.ShouldAlmostEqual, 1, 1e-6)
}

func TestCalibrateFailuresPreserveAccumulator(t *testing.T) {
	c := New(logging.NewTestLogger(t))
	c.SetMarkerPoses([]MarkerPose{{MarkerID: 7, Pose: spatialmath.NewZeroPose()}})

	colors, vertices := markerFrame(t, 7)

	test.That(t, c.Calibrate(colors, vertices, frameSize, frameSize), test.ShouldBeFalse)
	test.That(t, c.SampleCount(), test.ShouldEqual, 1)

	// No marker in the frame: failure, accumulator kept.
	blank := make([]pointcloud.RGB, frameSize*frameSize)
	test.That(t, c.Calibrate(blank, vertices, frameSize, frameSize), test.ShouldBeFalse)
	test.That(t, c.SampleCount(), test.ShouldEqual, 1)

	// Marker present but its id is not configured.
	otherColors, _ := markerFrame(t, 9)
	test.That(t, c.Calibrate(otherColors, vertices, frameSize, frameSize), test.ShouldBeFalse)
	test.That(t, c.SampleCount(), test.ShouldEqual, 1)

	// Invalid depth under a corner fails the whole frame.
	badVertices := make([]pointcloud.Point3f, len(vertices))
	copy(badVertices, vertices)
	for i := range badVertices {
		badVertices[i].Z = 0
	}
	test.That(t, c.Calibrate(colors, badVertices, frameSize, frameSize), test.ShouldBeFalse)
	test.That(t, c.SampleCount(), test.ShouldEqual, 1)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	c := New(logging.NewTestLogger(t))
	c.SetMarkerPoses([]MarkerPose{{MarkerID: 7, Pose: spatialmath.NewZeroPose()}})
	colors, vertices := markerFrame(t, 7)
	for i := 0; i < NumRequiredSamples; i++ {
		c.Calibrate(colors, vertices, frameSize, frameSize)
	}
	test.That(t, c.IsCalibrated(), test.ShouldBeTrue)
	test.That(t, c.Save(dir, "SER123"), test.ShouldBeNil)

	loaded := New(logging.NewTestLogger(t))
	test.That(t, loaded.Load(dir, "SER123"), test.ShouldBeTrue)
	test.That(t, loaded.IsCalibrated(), test.ShouldBeTrue)
	test.That(t, loaded.UsedMarkerID(), test.ShouldEqual, 7)

	want := c.World()
	got := loaded.World()
	for i := range want.R {
		test.That(t, got.R[i], test.ShouldAlmostEqual, want.R[i], 1e-6)
	}
	test.That(t, got.T.X, test.ShouldAlmostEqual, want.T.X, 1e-6)
	test.That(t, got.T.Y, test.ShouldAlmostEqual, want.T.Y, 1e-6)
	test.That(t, got.T.Z, test.ShouldAlmostEqual, want.T.Z, 1e-6)
}

func TestLoadMissingFile(t *testing.T) {
	dir := t.TempDir()

	c := New(logging.NewTestLogger(t))
	test.That(t, c.Load(dir, "NOPE"), test.ShouldBeFalse)
	test.That(t, c.IsCalibrated(), test.ShouldBeFalse)
}
