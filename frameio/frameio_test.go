package frameio

import (
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.viam.com/test"

	"github.com/volcap/scanclient/logging"
	"github.com/volcap/scanclient/pointcloud"
)

func randomFrame(r *rand.Rand, n int) ([]pointcloud.Point3s, []pointcloud.RGB) {
	points := make([]pointcloud.Point3s, n)
	colors := make([]pointcloud.RGB, n)
	for i := 0; i < n; i++ {
		points[i] = pointcloud.Point3s{
			X: int16(r.Intn(65536) - 32768),
			Y: int16(r.Intn(65536) - 32768),
			Z: int16(r.Intn(65536) - 32768),
		}
		colors[i] = pointcloud.RGB{
			Blue:  uint8(r.Intn(256)),
			Green: uint8(r.Intn(256)),
			Red:   uint8(r.Intn(256)),
		}
	}
	return points, colors
}

func TestRecordingRoundTrip(t *testing.T) {
	dir := t.TempDir()
	h := NewHandler(dir, logging.NewTestLogger(t))

	r := rand.New(rand.NewSource(42))
	const frames = 8

	var wantPoints [][]pointcloud.Point3s
	var wantColors [][]pointcloud.RGB
	for i := 0; i < frames; i++ {
		n := r.Intn(50)
		if i%3 == 0 {
			n = 0 // empty frames are legal and must survive
		}
		points, colors := randomFrame(r, n)
		wantPoints = append(wantPoints, points)
		wantColors = append(wantColors, colors)
		test.That(t, h.WriteFrame(points, colors, uint64(1000+i), 2), test.ShouldBeNil)
	}

	for i := 0; i < frames; i++ {
		points, colors, ok := h.ReadFrame()
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, points, test.ShouldResemble, wantPoints[i])
		test.That(t, colors, test.ShouldResemble, wantColors[i])
	}

	_, _, ok := h.ReadFrame()
	test.That(t, ok, test.ShouldBeFalse)

	test.That(t, h.Close(), test.ShouldBeNil)
}

func TestRecordingEmptyOuterFrames(t *testing.T) {
	dir := t.TempDir()
	h := NewHandler(dir, logging.NewTestLogger(t))

	r := rand.New(rand.NewSource(7))
	sizes := []int{0, 7, 0}
	var want [][]pointcloud.Point3s
	for i, n := range sizes {
		points, colors := randomFrame(r, n)
		want = append(want, points)
		test.That(t, h.WriteFrame(points, colors, uint64(i), 0), test.ShouldBeNil)
	}

	for i := range sizes {
		points, _, ok := h.ReadFrame()
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, len(points), test.ShouldEqual, sizes[i])
		test.That(t, points, test.ShouldResemble, want[i])
	}

	// A fourth read fails.
	_, _, ok := h.ReadFrame()
	test.That(t, ok, test.ShouldBeFalse)
}

func TestRecordingFileNameAndLayout(t *testing.T) {
	dir := t.TempDir()
	h := NewHandler(dir, logging.NewTestLogger(t))

	points := []pointcloud.Point3s{{X: 1, Y: 2, Z: 3}}
	colors := []pointcloud.RGB{{Blue: 10, Green: 20, Red: 30}}
	test.That(t, h.WriteFrame(points, colors, 77, 4), test.ShouldBeNil)
	test.That(t, h.Close(), test.ShouldBeNil)

	entries, err := os.ReadDir(dir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(entries), test.ShouldEqual, 1)
	name := entries[0].Name()
	test.That(t, strings.HasPrefix(name, "recording_4_"), test.ShouldBeTrue)
	test.That(t, strings.HasSuffix(name, ".bin"), test.ShouldBeTrue)

	raw, err := os.ReadFile(filepath.Join(dir, name))
	test.That(t, err, test.ShouldBeNil)

	// Header, one packed point (little endian), one BGR color, newline.
	want := append([]byte("n_points= 1\nframe_timestamp= 77\n"),
		1, 0, 2, 0, 3, 0,
		10, 20, 30,
		'\n')
	test.That(t, raw, test.ShouldResemble, want)
}

func TestClearThenNewRecording(t *testing.T) {
	dir := t.TempDir()
	h := NewHandler(dir, logging.NewTestLogger(t))

	points := []pointcloud.Point3s{{X: 1, Y: 1, Z: 1}}
	colors := []pointcloud.RGB{{}}
	test.That(t, h.WriteFrame(points, colors, 1, 0), test.ShouldBeNil)
	test.That(t, h.Close(), test.ShouldBeNil)

	// A new write after Close starts a fresh recording file; the reader then
	// sees only the new frame.
	test.That(t, h.WriteFrame(points, colors, 2, 0), test.ShouldBeNil)
	got, _, ok := h.ReadFrame()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, got, test.ShouldResemble, points)
	_, _, ok = h.ReadFrame()
	test.That(t, ok, test.ShouldBeFalse)
}
