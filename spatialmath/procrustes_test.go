package spatialmath

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func testCanonicalCloud() []r3.Vector {
	return []r3.Vector{
		{X: 0, Y: -1, Z: 0},
		{X: -1, Y: -5.0 / 3.0, Z: 0},
		{X: -1, Y: 1, Z: 0},
		{X: 1, Y: 1, Z: 0},
		{X: 1, Y: -5.0 / 3.0, Z: 0.2},
	}
}

func rotationZYX(a, b, c float64) Matrix3 {
	rz := Matrix3{math.Cos(a), -math.Sin(a), 0, math.Sin(a), math.Cos(a), 0, 0, 0, 1}
	ry := Matrix3{math.Cos(b), 0, math.Sin(b), 0, 1, 0, -math.Sin(b), 0, math.Cos(b)}
	rx := Matrix3{1, 0, 0, 0, math.Cos(c), -math.Sin(c), 0, math.Sin(c), math.Cos(c)}
	return rz.Mul(ry).Mul(rx)
}

func TestProcrustesRecoversRotation(t *testing.T) {
	canonical := testCanonicalCloud()
	rTrue := rotationZYX(0.7, -0.3, 1.1)
	tTrue := r3.Vector{X: 0.5, Y: -2, Z: 3}

	observed := make([]r3.Vector, len(canonical))
	for i, p := range canonical {
		observed[i] = rTrue.RotatePoint(p).Add(tTrue)
	}

	var observedCentroid r3.Vector
	for _, p := range observed {
		observedCentroid = observedCentroid.Add(p)
	}
	observedCentroid = observedCentroid.Mul(1 / float64(len(observed)))

	gotR, gotT, err := Procrustes(observed, canonical)
	test.That(t, err, test.ShouldBeNil)

	for i := range rTrue {
		test.That(t, gotR[i], test.ShouldAlmostEqual, rTrue[i], 1e-9)
	}
	test.That(t, gotT.X, test.ShouldAlmostEqual, -observedCentroid.X, 1e-9)
	test.That(t, gotT.Y, test.ShouldAlmostEqual, -observedCentroid.Y, 1e-9)
	test.That(t, gotT.Z, test.ShouldAlmostEqual, -observedCentroid.Z, 1e-9)
}

func TestProcrustesReflectionFix(t *testing.T) {
	canonical := testCanonicalCloud()

	// A mirrored copy cannot be explained by a proper rotation; the solver
	// must still return det +1.
	observed := make([]r3.Vector, len(canonical))
	for i, p := range canonical {
		observed[i] = r3.Vector{X: p.X, Y: p.Y, Z: -p.Z}
	}

	gotR, _, err := Procrustes(observed, canonical)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, gotR.Det(), test.ShouldAlmostEqual, 1, 1e-9)
}

func TestProcrustesBadInput(t *testing.T) {
	_, _, err := Procrustes(nil, nil)
	test.That(t, err, test.ShouldNotBeNil)

	_, _, err = Procrustes([]r3.Vector{{X: 1}}, []r3.Vector{{X: 1}, {X: 2}})
	test.That(t, err, test.ShouldNotBeNil)
}
