// Package spatialmath defines the small rigid-geometry vocabulary shared by
// the capture pipeline: row-major 3x3 rotation matrices, poses, and the
// Procrustes rigid fit.
package spatialmath

import (
	"github.com/golang/geo/r3"
)

// Matrix3 is a row-major 3x3 matrix.
type Matrix3 [9]float64

// NewIdentityMatrix3 returns the identity matrix.
func NewIdentityMatrix3() Matrix3 {
	return Matrix3{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// At returns the element at row i, column j.
func (m Matrix3) At(i, j int) float64 {
	return m[3*i+j]
}

// Mul returns the matrix product m * o.
func (m Matrix3) Mul(o Matrix3) Matrix3 {
	var out Matrix3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var sum float64
			for k := 0; k < 3; k++ {
				sum += m[3*i+k] * o[3*k+j]
			}
			out[3*i+j] = sum
		}
	}
	return out
}

// Transposed returns the transpose of m.
func (m Matrix3) Transposed() Matrix3 {
	return Matrix3{
		m[0], m[3], m[6],
		m[1], m[4], m[7],
		m[2], m[5], m[8],
	}
}

// Det returns the determinant of m.
func (m Matrix3) Det() float64 {
	return m[0]*(m[4]*m[8]-m[5]*m[7]) -
		m[1]*(m[3]*m[8]-m[5]*m[6]) +
		m[2]*(m[3]*m[7]-m[4]*m[6])
}

// RotatePoint returns m * p.
func (m Matrix3) RotatePoint(p r3.Vector) r3.Vector {
	return r3.Vector{
		X: p.X*m[0] + p.Y*m[1] + p.Z*m[2],
		Y: p.X*m[3] + p.Y*m[4] + p.Z*m[5],
		Z: p.X*m[6] + p.Y*m[7] + p.Z*m[8],
	}
}

// InverseRotatePoint returns m^T * p. For rotation matrices the transpose is
// the inverse.
func (m Matrix3) InverseRotatePoint(p r3.Vector) r3.Vector {
	return r3.Vector{
		X: p.X*m[0] + p.Y*m[3] + p.Z*m[6],
		Y: p.X*m[1] + p.Y*m[4] + p.Z*m[7],
		Z: p.X*m[2] + p.Y*m[5] + p.Z*m[8],
	}
}

// Pose is a rigid transform: rotation R and translation T.
type Pose struct {
	R Matrix3
	T r3.Vector
}

// NewZeroPose returns an identity rotation with zero translation.
func NewZeroPose() Pose {
	return Pose{R: NewIdentityMatrix3()}
}
