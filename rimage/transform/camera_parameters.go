// Package transform holds the pinhole camera models used to turn raw depth
// frames into camera-space point clouds aligned with the color image.
package transform

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// ErrNoIntrinsics is returned when a device cannot provide camera parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// PinholeCameraIntrinsics holds the parameters of a perspective projection
// between a camera's 3D optical frame and its 2D image plane.
type PinholeCameraIntrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

// CheckValid checks if the fields are non-zero enough to project with.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return errors.New("pointer to PinholeCameraIntrinsics is nil")
	}
	if params.Width == 0 || params.Height == 0 {
		return errors.Errorf("invalid size (%d, %d)", params.Width, params.Height)
	}
	if params.Fx <= 0 || params.Fy <= 0 {
		return errors.Errorf("invalid focal lengths (%f, %f)", params.Fx, params.Fy)
	}
	return nil
}

// UnprojectPoint lifts an image pixel with a depth reading in meters to a 3D
// point in the camera's optical frame.
func (params *PinholeCameraIntrinsics) UnprojectPoint(u, v, depth float64) r3.Vector {
	return r3.Vector{
		X: (u - params.Ppx) * depth / params.Fx,
		Y: (v - params.Ppy) * depth / params.Fy,
		Z: depth,
	}
}

// ProjectPoint drops a 3D point in the camera's optical frame onto the image
// plane. The point must have positive Z.
func (params *PinholeCameraIntrinsics) ProjectPoint(p r3.Vector) r2.Point {
	return r2.Point{
		X: params.Fx*p.X/p.Z + params.Ppx,
		Y: params.Fy*p.Y/p.Z + params.Ppy,
	}
}

// DepthColorExtrinsics is the rigid transform carrying points from the depth
// camera's optical frame into the color camera's optical frame. Rotation is
// row-major; translation is in meters.
type DepthColorExtrinsics struct {
	Rotation    [9]float64 `json:"rotation"`
	Translation [3]float64 `json:"translation_m"`
}

// NewIdentityExtrinsics returns a no-op extrinsic transform.
func NewIdentityExtrinsics() DepthColorExtrinsics {
	return DepthColorExtrinsics{Rotation: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}}
}

// Transform applies the extrinsics to a depth-frame point.
func (e *DepthColorExtrinsics) Transform(p r3.Vector) r3.Vector {
	r := e.Rotation
	t := e.Translation
	return r3.Vector{
		X: r[0]*p.X + r[1]*p.Y + r[2]*p.Z + t[0],
		Y: r[3]*p.X + r[4]*p.Y + r[5]*p.Z + t[1],
		Z: r[6]*p.X + r[7]*p.Y + r[8]*p.Z + t[2],
	}
}

// CameraParams bundles the intrinsics of both sensors with the depth-to-color
// extrinsics, as reported by a device after stream negotiation.
type CameraParams struct {
	DepthIntrinsics PinholeCameraIntrinsics `json:"depth_intrinsics"`
	ColorIntrinsics PinholeCameraIntrinsics `json:"color_intrinsics"`
	Extrinsics      DepthColorExtrinsics    `json:"depth_to_color"`
}

// CheckValid validates both intrinsics.
func (p *CameraParams) CheckValid() error {
	if err := p.DepthIntrinsics.CheckValid(); err != nil {
		return errors.Wrap(err, "depth intrinsics")
	}
	if err := p.ColorIntrinsics.CheckValid(); err != nil {
		return errors.Wrap(err, "color intrinsics")
	}
	return nil
}
