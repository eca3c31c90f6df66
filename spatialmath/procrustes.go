package spatialmath

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Procrustes solves the orthogonal Procrustes problem for two point sets with
// known correspondences. It returns the rotation R carrying the centered
// canonical cloud onto the centered observed cloud (observed_i - centroid =
// R * (canonical_i - centroid)) and the translation T = -centroid(observed).
// The returned rotation always has det +1; a reflection in the SVD solution
// is corrected by negating the last singular direction.
func Procrustes(observed, canonical []r3.Vector) (Matrix3, r3.Vector, error) {
	if len(observed) == 0 || len(observed) != len(canonical) {
		return NewIdentityMatrix3(), r3.Vector{}, errors.Errorf(
			"procrustes needs two equal non-empty point sets, got %d and %d", len(observed), len(canonical))
	}

	n := len(observed)
	obsCenter := centroid(observed)
	canCenter := centroid(canonical)

	t := obsCenter.Mul(-1)

	// Cross-covariance M = A^T * B with A the centered observed rows and B the
	// centered canonical rows.
	a := mat.NewDense(n, 3, nil)
	b := mat.NewDense(n, 3, nil)
	for i := 0; i < n; i++ {
		a.SetRow(i, []float64{observed[i].X - obsCenter.X, observed[i].Y - obsCenter.Y, observed[i].Z - obsCenter.Z})
		b.SetRow(i, []float64{canonical[i].X - canCenter.X, canonical[i].Y - canCenter.Y, canonical[i].Z - canCenter.Z})
	}

	var m mat.Dense
	m.Mul(a.T(), b)

	r, err := rotationFromCrossCovariance(&m)
	if err != nil {
		return NewIdentityMatrix3(), r3.Vector{}, err
	}
	return r, t, nil
}

// rotationFromCrossCovariance computes R = U * V^T from the SVD of the given
// 3x3 cross-covariance, applying the diag(1,1,-1) fix when the product would
// be a reflection.
func rotationFromCrossCovariance(m *mat.Dense) (Matrix3, error) {
	var svd mat.SVD
	if !svd.Factorize(m, mat.SVDFull) {
		return NewIdentityMatrix3(), errors.New("SVD of cross-covariance failed to converge")
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

	var out Matrix3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[3*i+j] = r.At(i, j)
		}
	}
	return out, nil
}

func centroid(pts []r3.Vector) r3.Vector {
	var c r3.Vector
	for _, p := range pts {
		c = c.Add(p)
	}
	return c.Mul(1 / float64(len(pts)))
}
