// Package pointcloud holds the per-frame point containers and the geometric
// filters the capture pipeline runs over them: voxel occupancy deduplication,
// coarse-voxel density rejection, KNN outlier removal, and ICP alignment.
package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
)

// Point3f is a single-precision 3D point. Invalid marks a point as a
// tombstone during in-place frame compaction; no invalid point survives into
// an outbound frame.
type Point3f struct {
	X, Y, Z float32
	Invalid bool
}

// NewPoint3f returns a valid point at the given coordinates.
func NewPoint3f(x, y, z float32) Point3f {
	return Point3f{X: x, Y: y, Z: z}
}

// InvalidPoint is the tombstone used while compacting a frame.
var InvalidPoint = Point3f{Invalid: true}

// Vector converts p to a double-precision r3 vector.
func (p Point3f) Vector() r3.Vector {
	return r3.Vector{X: float64(p.X), Y: float64(p.Y), Z: float64(p.Z)}
}

// FromVector converts a double-precision vector back to a Point3f.
func FromVector(v r3.Vector) Point3f {
	return Point3f{X: float32(v.X), Y: float32(v.Y), Z: float32(v.Z)}
}

// Point3s is a packed point in integer millimeters, the outbound wire unit.
type Point3s struct {
	X, Y, Z int16
}

// ToShort converts a point in meters to integer millimeters, truncating
// toward zero and saturating at the int16 range. The scaling happens in
// single precision so that values exact in millimeters stay exact.
func (p Point3f) ToShort() Point3s {
	return Point3s{
		X: clampToInt16(p.X * 1000),
		Y: clampToInt16(p.Y * 1000),
		Z: clampToInt16(p.Z * 1000),
	}
}

func clampToInt16(v float32) int16 {
	t := math.Trunc(float64(v))
	if t > math.MaxInt16 {
		return math.MaxInt16
	}
	if t < math.MinInt16 {
		return math.MinInt16
	}
	return int16(t)
}

// RGB is an 8-bit color sample. Field order matches the outbound wire order
// (blue first).
type RGB struct {
	Blue, Green, Red uint8
}
