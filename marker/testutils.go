package marker

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/volcap/scanclient/rimage"
)

// CodeBits lays out the 3x3 code grid for an id: the id's four bits (MSB
// first), their bitwise inverse, and the popcount parity bit.
func CodeBits(id int) [9]int {
	var bits [9]int
	ones := 0
	for i := 0; i < 4; i++ {
		bit := (id >> (3 - i)) & 1
		bits[i] = bit
		bits[i+4] = 1 - bit
		ones += bit
	}
	bits[8] = ones % 2
	return bits
}

// RenderSynthetic draws a synthetic marker for tests and tooling: a white
// pentagon on black with the given bit grid painted into the interior
// square. scale is pixels per normalized unit; (cx, cy) is the pixel
// position of the normalized origin.
func RenderSynthetic(bits [9]int, width, height int, scale, cx, cy float64) (*rimage.Image, error) {
	m := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC3)
	defer m.Close()

	white := color.RGBA{R: 255, G: 255, B: 255}
	black := color.RGBA{}

	outline := make([]image.Point, len(NormalizedCorners2D))
	for i, n := range NormalizedCorners2D {
		outline[i] = image.Pt(int(cx+n.X*scale), int(cy+n.Y*scale))
	}
	pts := gocv.NewPointsVectorFromPoints([][]image.Point{outline})
	defer pts.Close()
	gocv.FillPoly(&m, pts, white)

	// The interior square spans normalized [-0.6, 0.6] on both axes; each
	// cell is 0.4 units.
	for i := 0; i < bitGridSize; i++ {
		for j := 0; j < bitGridSize; j++ {
			if bits[i*bitGridSize+j] == 1 {
				continue
			}
			x0 := cx + (-0.6+0.4*float64(j))*scale
			y0 := cy + (-0.6+0.4*float64(i))*scale
			rect := image.Rect(int(x0), int(y0), int(x0+0.4*scale), int(y0+0.4*scale))
			gocv.Rectangle(&m, rect, black, -1)
		}
	}

	return rimage.ImageFromMatBGR(m)
}
