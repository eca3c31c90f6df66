package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/volcap/scanclient/spatialmath"
)

var errSVD = errors.New("SVD of pair cross-covariance failed to converge")

// ICP iteratively aligns source onto target with rigid transforms. The source
// slice is mutated in place; the caller-initialized pose accumulates the
// composed rotation and translation (identity and zero for a fresh
// alignment). Only maxIter bounds the loop; there is no convergence epsilon.
// The return value is the mean root distance over the correspondences that
// survived outlier rejection in the final iteration.
//
// Correspondences are deduplicated so that at most one source point claims
// each target point. When several source points claim the same target, the
// latest candidate wins unless the already-stored distance is strictly
// smaller, so ties go to the newest claimant.
func ICP(target, source []Point3f, pose *spatialmath.Pose, maxIter int) float64 {
	if len(target) == 0 || len(source) == 0 || maxIter <= 0 {
		return 0
	}

	tgt := make([]r3.Vector, len(target))
	for i, p := range target {
		tgt[i] = p.Vector()
	}
	src := make([]r3.Vector, len(source))
	for i, p := range source {
		src[i] = p.Vector()
	}

	tree := NewKDTree(target)
	errVal := 1.0

	for iter := 0; iter < maxIter; iter++ {
		// Nearest target for every source point.
		nearestIdx := make([]int, len(src))
		nearestDist := make([]float64, len(src))
		for i, p := range src {
			nearestIdx[i], nearestDist[i] = tree.Nearest(FromVector(p))
		}

		// One source per target: later claimants replace earlier ones unless
		// the earlier distance is strictly smaller.
		matchMap := make([]int, len(tgt))
		for i := range matchMap {
			matchMap[i] = -1
		}
		var matchedTgt, matchedSrc []r3.Vector
		var matchDists []float64
		for i := range src {
			tIdx := nearestIdx[i]
			d := nearestDist[i]
			existing := matchMap[tIdx]
			if existing != -1 && matchDists[existing] < d {
				continue
			}
			if existing == -1 {
				matchedTgt = append(matchedTgt, tgt[tIdx])
				matchedSrc = append(matchedSrc, src[i])
				matchDists = append(matchDists, d)
				matchMap[tIdx] = len(matchedSrc) - 1
			} else {
				matchedSrc[existing] = src[i]
				matchDists[existing] = d
			}
		}

		// Reject pairs beyond 2.5 standard deviations of squared distance.
		sigma := stddev(matchDists)
		keepTgt := matchedTgt[:0]
		keepSrc := matchedSrc[:0]
		keepDists := matchDists[:0]
		for i, d := range matchDists {
			if d > 2.5*sigma {
				continue
			}
			keepTgt = append(keepTgt, matchedTgt[i])
			keepSrc = append(keepSrc, matchedSrc[i])
			keepDists = append(keepDists, d)
		}
		if len(keepDists) == 0 {
			break
		}

		// Translation step: mean(target - source) over surviving pairs,
		// applied to the whole source cloud and the kept pairs.
		var shift r3.Vector
		for i := range keepSrc {
			shift = shift.Add(keepTgt[i].Sub(keepSrc[i]))
		}
		shift = shift.Mul(1 / float64(len(keepSrc)))
		for i := range src {
			src[i] = src[i].Add(shift)
		}
		for i := range keepSrc {
			keepSrc[i] = keepSrc[i].Add(shift)
		}

		// Rotation step: SVD of the pair cross-covariance, reflection-fixed.
		h := mat.NewDense(3, 3, nil)
		for i := range keepSrc {
			s, t := keepSrc[i], keepTgt[i]
			h.Set(0, 0, h.At(0, 0)+s.X*t.X)
			h.Set(0, 1, h.At(0, 1)+s.X*t.Y)
			h.Set(0, 2, h.At(0, 2)+s.X*t.Z)
			h.Set(1, 0, h.At(1, 0)+s.Y*t.X)
			h.Set(1, 1, h.At(1, 1)+s.Y*t.Y)
			h.Set(1, 2, h.At(1, 2)+s.Y*t.Z)
			h.Set(2, 0, h.At(2, 0)+s.Z*t.X)
			h.Set(2, 1, h.At(2, 1)+s.Z*t.Y)
			h.Set(2, 2, h.At(2, 2)+s.Z*t.Z)
		}
		update, err := rotationUpdateFromSVD(h)
		if err != nil {
			break
		}

		// Row-vector convention: source rows right-multiply the update.
		for i := range src {
			src[i] = update.InverseRotatePoint(src[i])
		}

		pose.T = pose.T.Add(pose.R.RotatePoint(shift))
		pose.R = pose.R.Mul(update)

		sum := 0.0
		for _, d := range keepDists {
			sum += math.Sqrt(d)
		}
		errVal = sum / float64(len(keepDists))
	}

	for i, v := range src {
		source[i] = FromVector(v)
	}
	return errVal
}

func rotationUpdateFromSVD(h *mat.Dense) (spatialmath.Matrix3, error) {
	var svd mat.SVD
	if !svd.Factorize(h, mat.SVDFull) {
		return spatialmath.NewIdentityMatrix3(), errSVD
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var r mat.Dense
	r.Mul(&u, v.T())
	if mat.Det(&r) < 0 {
		flip := mat.NewDiagDense(3, []float64{1, 1, -1})
		var uf mat.Dense
		uf.Mul(&u, flip)
		r.Mul(&uf, v.T())
	}

	var out spatialmath.Matrix3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[3*i+j] = r.At(i, j)
		}
	}
	return out, nil
}

func stddev(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range data {
		mean += v
	}
	mean /= float64(len(data))

	variance := 0.0
	for _, v := range data {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(data))
	return math.Sqrt(variance)
}
