package pointcloud

import "math"

// Coarse-voxel density pass defaults used by the frame pipeline.
const (
	DensityVoxelSize    = 0.006
	DensityMinOccupants = 12
)

// packVoxelKey packs three signed voxel indices into a 64-bit key with 21
// bits per axis. Indices beyond +-2^20 voxels alias; at 6 mm voxels that is
// about +-6.3 km, far outside the configured capture bounds.
func packVoxelKey(vx, vy, vz int) uint64 {
	return (uint64(vx)&0x1FFFFF)<<42 |
		(uint64(vy)&0x1FFFFF)<<21 |
		(uint64(vz) & 0x1FFFFF)
}

// FilterSparseVoxels tombstones every valid vertex whose coarse voxel (edge
// voxelSize) holds fewer than minOccupants valid vertices. The slice is
// modified in place; already-invalid vertices are ignored and left as-is.
func FilterSparseVoxels(vertices []Point3f, voxelSize float64, minOccupants int) {
	counts := make(map[uint64]int)
	keys := make([]uint64, len(vertices))

	for i, p := range vertices {
		if p.Invalid {
			continue
		}
		key := packVoxelKey(
			int(math.Floor(float64(p.X)/voxelSize)),
			int(math.Floor(float64(p.Y)/voxelSize)),
			int(math.Floor(float64(p.Z)/voxelSize)),
		)
		keys[i] = key
		counts[key]++
	}

	for i := range vertices {
		if vertices[i].Invalid {
			continue
		}
		if counts[keys[i]] < minOccupants {
			vertices[i] = InvalidPoint
		}
	}
}
