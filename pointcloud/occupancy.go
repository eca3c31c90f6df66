package pointcloud

import (
	"math"

	"github.com/pkg/errors"
)

// OccupancyGrid is a bounded uniform 3D grid with one bit per cell, used to
// keep at most one point per voxel within a frame. It is reset once per frame
// and is not safe for concurrent use.
type OccupancyGrid struct {
	invVoxelSize     float64
	minX, minY, minZ float64
	nx, ny, nz       int
	bits             []uint64
}

// NewOccupancyGrid builds a grid of voxels with edge voxelSize covering the
// cube [center-halfRange, center+halfRange] on each axis.
func NewOccupancyGrid(voxelSize float64, centerX, centerY, centerZ, halfRange float64) (*OccupancyGrid, error) {
	if voxelSize <= 0 {
		return nil, errors.New("voxel size must be positive")
	}
	if halfRange <= 0 {
		return nil, errors.New("half range must be positive")
	}
	n := int(math.Ceil(2 * halfRange / voxelSize))
	g := &OccupancyGrid{
		invVoxelSize: 1 / voxelSize,
		minX:         centerX - halfRange,
		minY:         centerY - halfRange,
		minZ:         centerZ - halfRange,
		nx:           n,
		ny:           n,
		nz:           n,
	}
	total := n * n * n
	g.bits = make([]uint64, (total+63)/64)
	return g, nil
}

// Reset clears every cell.
func (g *OccupancyGrid) Reset() {
	for i := range g.bits {
		g.bits[i] = 0
	}
}

// Insert tests and sets the cell containing (x, y, z). It returns true iff
// the cell was inside the grid and previously empty; out-of-range points
// return false without mutating the grid.
func (g *OccupancyGrid) Insert(x, y, z float64) bool {
	ix := int((x - g.minX) * g.invVoxelSize)
	iy := int((y - g.minY) * g.invVoxelSize)
	iz := int((z - g.minZ) * g.invVoxelSize)

	if x < g.minX || y < g.minY || z < g.minZ ||
		ix >= g.nx || iy >= g.ny || iz >= g.nz {
		return false
	}

	idx := (iz*g.ny+iy)*g.nx + ix
	word, mask := idx/64, uint64(1)<<(idx%64)
	if g.bits[word]&mask != 0 {
		return false
	}
	g.bits[word] |= mask
	return true
}
