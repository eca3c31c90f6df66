package pointcloud

import (
	"testing"

	"go.viam.com/test"
)

func TestFilterSparseVoxelsDenseClusterSurvives(t *testing.T) {
	// 100 points inside one 6 mm voxel.
	pts := make([]Point3f, 100)
	for i := range pts {
		pts[i] = NewPoint3f(0.001+float32(i)*0.00004, 0.002, 0.003)
	}

	FilterSparseVoxels(pts, DensityVoxelSize, DensityMinOccupants)

	for i := range pts {
		test.That(t, pts[i].Invalid, test.ShouldBeFalse)
	}
}

func TestFilterSparseVoxelsIsolatedPointsRejected(t *testing.T) {
	// 100 points, one per coarse voxel.
	pts := make([]Point3f, 100)
	for i := range pts {
		pts[i] = NewPoint3f(float32(i)*0.01, 0, 0)
	}

	FilterSparseVoxels(pts, DensityVoxelSize, DensityMinOccupants)

	for i := range pts {
		test.That(t, pts[i].Invalid, test.ShouldBeTrue)
	}
}

func TestFilterSparseVoxelsIgnoresTombstones(t *testing.T) {
	pts := make([]Point3f, 20)
	for i := range pts {
		pts[i] = NewPoint3f(0.001, 0.001, 0.001)
	}
	pts[3] = InvalidPoint
	pts[7] = InvalidPoint

	FilterSparseVoxels(pts, DensityVoxelSize, DensityMinOccupants)

	for i := range pts {
		switch i {
		case 3, 7:
			test.That(t, pts[i].Invalid, test.ShouldBeTrue)
		default:
			test.That(t, pts[i].Invalid, test.ShouldBeFalse)
		}
	}
}
