// Package rimage defines the color and depth frame containers the capture
// pipeline passes between the sensor adapter, the marker detector, and the
// document detector, plus conversions to OpenCV mats.
package rimage

import (
	"image"
	"math"

	"github.com/volcap/scanclient/pointcloud"
)

// Image is a dense 8-bit color frame stored as a flat row-major slice.
type Image struct {
	data          []pointcloud.RGB
	width, height int
}

// NewImage returns a black image of the given size.
func NewImage(width, height int) *Image {
	return &Image{
		data:   make([]pointcloud.RGB, width*height),
		width:  width,
		height: height,
	}
}

// NewImageFromData wraps an existing pixel slice; len(data) must equal
// width*height.
func NewImageFromData(data []pointcloud.RGB, width, height int) *Image {
	return &Image{data: data, width: width, height: height}
}

// Width returns the image width in pixels.
func (i *Image) Width() int { return i.width }

// Height returns the image height in pixels.
func (i *Image) Height() int { return i.height }

// Bounds returns the pixel rectangle.
func (i *Image) Bounds() image.Rectangle {
	return image.Rect(0, 0, i.width, i.height)
}

// In reports whether (x, y) is inside the image.
func (i *Image) In(x, y int) bool {
	return x >= 0 && y >= 0 && x < i.width && y < i.height
}

// GetXY returns the pixel at (x, y).
func (i *Image) GetXY(x, y int) pointcloud.RGB {
	return i.data[y*i.width+x]
}

// SetXY sets the pixel at (x, y).
func (i *Image) SetXY(x, y int, c pointcloud.RGB) {
	i.data[y*i.width+x] = c
}

// Pixels exposes the backing slice in row-major order.
func (i *Image) Pixels() []pointcloud.RGB { return i.data }

// BilinearSample interpolates the color at a fractional pixel position from
// its four integer neighbors. It returns black when any neighbor falls
// outside the image.
func (i *Image) BilinearSample(x, y float64) pointcloud.RGB {
	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	if x0 < 0 || y0 < 0 || x0+1 >= i.width || y0+1 >= i.height {
		return pointcloud.RGB{}
	}
	dx := x - float64(x0)
	dy := y - float64(y0)

	c00 := i.GetXY(x0, y0)
	c10 := i.GetXY(x0+1, y0)
	c01 := i.GetXY(x0, y0+1)
	c11 := i.GetXY(x0+1, y0+1)

	mix := func(a, b, c, d uint8) uint8 {
		return uint8((1-dx)*(1-dy)*float64(a) +
			dx*(1-dy)*float64(b) +
			(1-dx)*dy*float64(c) +
			dx*dy*float64(d))
	}
	return pointcloud.RGB{
		Blue:  mix(c00.Blue, c10.Blue, c01.Blue, c11.Blue),
		Green: mix(c00.Green, c10.Green, c01.Green, c11.Green),
		Red:   mix(c00.Red, c10.Red, c01.Red, c11.Red),
	}
}
