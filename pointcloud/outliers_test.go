package pointcloud

import (
	"testing"

	"go.viam.com/test"
)

func clusterWithOutlier() ([]Point3f, []RGB) {
	var pts []Point3f
	var colors []RGB
	// A tight 5x5x2 lattice, 2 mm apart.
	for x := 0; x < 5; x++ {
		for y := 0; y < 5; y++ {
			for z := 0; z < 2; z++ {
				pts = append(pts, NewPoint3f(float32(x)*0.002, float32(y)*0.002, float32(z)*0.002))
				colors = append(colors, RGB{Red: uint8(len(pts))})
			}
		}
	}
	// One point a meter away.
	pts = append(pts, NewPoint3f(1, 1, 1))
	colors = append(colors, RGB{Red: 255})
	return pts, colors
}

func TestFilterOutliersDropsIsolatedPoint(t *testing.T) {
	pts, colors := clusterWithOutlier()
	n := len(pts)

	gotPts, gotColors := FilterOutliers(pts, colors, 10, 0.01)

	test.That(t, len(gotPts), test.ShouldEqual, n-1)
	test.That(t, len(gotColors), test.ShouldEqual, n-1)
	for _, p := range gotPts {
		test.That(t, p.X, test.ShouldBeLessThan, 0.5)
	}
	// Compaction keeps survivors in their original relative order.
	for i := 1; i < len(gotColors); i++ {
		test.That(t, gotColors[i].Red, test.ShouldBeGreaterThan, gotColors[i-1].Red)
	}
}

func TestFilterOutliersNoOp(t *testing.T) {
	pts, colors := clusterWithOutlier()
	n := len(pts)

	gotPts, _ := FilterOutliers(pts, colors, 0, 0.01)
	test.That(t, len(gotPts), test.ShouldEqual, n)

	gotPts, _ = FilterOutliers(pts, colors, 10, 0)
	test.That(t, len(gotPts), test.ShouldEqual, n)

	// More neighbors than points: nothing to measure, nothing dropped.
	few := []Point3f{NewPoint3f(0, 0, 0), NewPoint3f(5, 5, 5)}
	fewColors := []RGB{{}, {}}
	gotPts, _ = FilterOutliers(few, fewColors, 10, 0.01)
	test.That(t, len(gotPts), test.ShouldEqual, 2)
}
