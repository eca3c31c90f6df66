package pointcloud

import (
	"runtime"
	"sync"

	"go.viam.com/utils"
)

// FilterOutliers removes statistical outliers from a vertex/color pair: a
// point is dropped when the squared distance to its k-th nearest neighbor
// (the point itself included) exceeds maxDist squared. Both slices are
// compacted in place, preserving the relative order of survivors, and the
// shortened slices are returned. The filter is a no-op when k or maxDist is
// non-positive, or when the cloud holds no more than k points.
func FilterOutliers(vertices []Point3f, colors []RGB, k int, maxDist float64) ([]Point3f, []RGB) {
	if k <= 0 || maxDist <= 0 || len(vertices) <= k {
		return vertices, colors
	}

	tree := NewKDTree(vertices)
	threshold := maxDist * maxDist
	outlier := make([]bool, len(vertices))

	// The searches are pure reads against the built index, so they shard
	// cleanly across workers.
	workers := runtime.NumCPU()
	if workers > len(vertices) {
		workers = len(vertices)
	}
	var wg sync.WaitGroup
	chunk := (len(vertices) + workers - 1) / workers
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := start + chunk
		if end > len(vertices) {
			end = len(vertices)
		}
		if start >= end {
			break
		}
		wg.Add(1)
		utils.PanicCapturingGo(func() {
			defer wg.Done()
			for i := start; i < end; i++ {
				kth, ok := tree.KthNearestDistSq(vertices[i], k)
				if ok && kth > threshold {
					outlier[i] = true
				}
			}
		})
	}
	wg.Wait()

	write := 0
	for i := range vertices {
		if outlier[i] {
			continue
		}
		vertices[write] = vertices[i]
		colors[write] = colors[i]
		write++
	}
	return vertices[:write], colors[:write]
}
