// Package marker detects the calibration fiducials in color frames. A marker
// is a white pentagon with one concave vertex and an embedded 4-bit id
// protected by bit inversion and a parity bit.
package marker

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

// NumCorners is the number of vertices of the marker silhouette.
const NumCorners = 5

// NormalizedCorners2D is the marker outline in normalized marker space
// (x right, y down): concave bottom-center vertex first, then the hull
// corners in contour order.
var NormalizedCorners2D = []r2.Point{
	{X: 0, Y: 1},
	{X: -1, Y: 5.0 / 3.0},
	{X: -1, Y: -1},
	{X: 1, Y: -1},
	{X: 1, Y: 5.0 / 3.0},
}

// TemplateCorners3D is the same outline in marker-local 3D space: y is
// negated (image y grows down, world y grows up) and the marker plane is z=0.
var TemplateCorners3D = []r3.Vector{
	{X: 0, Y: -1, Z: 0},
	{X: -1, Y: -5.0 / 3.0, Z: 0},
	{X: -1, Y: 1, Z: 0},
	{X: 1, Y: 1, Z: 0},
	{X: 1, Y: -5.0 / 3.0, Z: 0},
}

// Info describes one detected marker: its decoded id, the five detected
// corner positions in image pixels (concave vertex first), and the canonical
// 3D template those corners correspond to.
type Info struct {
	ID         int
	Corners    []r2.Point
	Template3D []r3.Vector
}
