package pointcloud

import (
	"gonum.org/v1/gonum/spatial/kdtree"
)

// indexedPoint is a 3D point paired with its index in the source slice so
// nearest-neighbor queries can report which input point matched.
type indexedPoint struct {
	x, y, z float64
	idx     int
}

func (p indexedPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(indexedPoint)
	switch d {
	case 0:
		return p.x - q.x
	case 1:
		return p.y - q.y
	default:
		return p.z - q.z
	}
}

func (p indexedPoint) Dims() int { return 3 }

func (p indexedPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(indexedPoint)
	dx, dy, dz := p.x-q.x, p.y-q.y, p.z-q.z
	return dx*dx + dy*dy + dz*dz
}

// pointSet adapts a slice of indexedPoints to kdtree.Interface, following the
// plane-partition pattern gonum's own Points type uses.
type pointSet []indexedPoint

func (s pointSet) Index(i int) kdtree.Comparable { return s[i] }
func (s pointSet) Len() int                      { return len(s) }
func (s pointSet) Slice(start, end int) kdtree.Interface {
	return s[start:end]
}
func (s pointSet) Pivot(d kdtree.Dim) int {
	return plane{Dim: d, pointSet: s}.Pivot()
}

type plane struct {
	kdtree.Dim
	pointSet
}

func (p plane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.pointSet[i].x < p.pointSet[j].x
	case 1:
		return p.pointSet[i].y < p.pointSet[j].y
	default:
		return p.pointSet[i].z < p.pointSet[j].z
	}
}
func (p plane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p plane) Slice(start, end int) kdtree.SortSlicer {
	p.pointSet = p.pointSet[start:end]
	return p
}
func (p plane) Swap(i, j int) {
	p.pointSet[i], p.pointSet[j] = p.pointSet[j], p.pointSet[i]
}

// KDTree is a 3D spatial index over a point slice.
type KDTree struct {
	tree *kdtree.Tree
}

// NewKDTree builds a KD-tree over the given points. Tombstoned points are
// included; callers filter beforehand when that matters.
func NewKDTree(pts []Point3f) *KDTree {
	set := make(pointSet, len(pts))
	for i, p := range pts {
		set[i] = indexedPoint{x: float64(p.X), y: float64(p.Y), z: float64(p.Z), idx: i}
	}
	return &KDTree{tree: kdtree.New(set, false)}
}

// Nearest returns the index of the nearest indexed point to p and the squared
// distance to it. It returns (-1, inf) for an empty tree.
func (t *KDTree) Nearest(p Point3f) (int, float64) {
	got, dist := t.tree.Nearest(indexedPoint{
		x: float64(p.X), y: float64(p.Y), z: float64(p.Z), idx: -1,
	})
	if got == nil {
		return -1, dist
	}
	return got.(indexedPoint).idx, dist
}

// KthNearestDistSq returns the squared distance from p to its k-th nearest
// indexed point (the query point itself counts when it is in the tree, as
// with the capture filter's semantics). The second return is false when the
// tree holds fewer than k points.
func (t *KDTree) KthNearestDistSq(p Point3f, k int) (float64, bool) {
	keep := kdtree.NewNKeeper(k)
	t.tree.NearestSet(keep, indexedPoint{
		x: float64(p.X), y: float64(p.Y), z: float64(p.Z), idx: -1,
	})

	kth := 0.0
	n := 0
	for _, cd := range keep.Heap {
		if cd.Comparable == nil {
			continue
		}
		n++
		if cd.Dist > kth {
			kth = cd.Dist
		}
	}
	return kth, n >= k
}
