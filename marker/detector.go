package marker

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
	"gocv.io/x/gocv"

	"github.com/volcap/scanclient/logging"
	"github.com/volcap/scanclient/rimage"
)

const (
	// Contour areas outside this range cannot be markers.
	minContourArea = 100
	maxContourArea = 1e9

	// Threshold used to binarize the color frame.
	binaryThreshold = 120

	// Polygon approximation tolerance is sqrt(area) times this coefficient.
	approxPolyCoefficient = 0.12

	// The normalized marker is a 2.0-unit square with a 0.4-unit border
	// trimmed on each side before decoding, rendered at 50 px per unit.
	normalizedMarkerSize   = 2.0
	normalizedBorderSize   = 0.4
	warpResolutionPerUnit  = 50
	bitGridSize            = 3
	codeDetectionThreshold = 128
)

// Detector finds markers in color frames.
type Detector struct {
	logger logging.Logger
}

// NewDetector returns a marker detector.
func NewDetector(logger logging.Logger) *Detector {
	return &Detector{logger: logger}
}

// Detect finds all markers in the image and returns the one with the largest
// convex-hull area, or false when none decodes.
func (d *Detector) Detect(img *rimage.Image) (Info, bool) {
	bgr := img.ToMatBGR()
	defer bgr.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(bgr, &gray, gocv.ColorBGRToGray)
	gocv.Threshold(gray, &gray, binaryThreshold, 255, gocv.ThresholdBinary)

	// FindContours consumes its input, so contour detection runs on a copy
	// and the binary image stays intact for decoding.
	scratch := gray.Clone()
	defer scratch.Close()
	contours := gocv.FindContours(scratch, gocv.RetrievalCComp, gocv.ChainApproxNone)
	defer contours.Close()

	var best Info
	bestArea := -1.0
	found := false

	for i := 0; i < contours.Size(); i++ {
		contour := contours.At(i)
		area := gocv.ContourArea(contour)
		if area < minContourArea || area > maxContourArea {
			continue
		}

		approx := gocv.ApproxPolyDP(contour, math.Sqrt(area)*approxPolyCoefficient, true)
		if approx.Size() != NumCorners || gocv.IsContourConvex(approx) {
			approx.Close()
			continue
		}

		corners := make([]r2.Point, approx.Size())
		for j := 0; j < approx.Size(); j++ {
			pt := approx.At(j)
			corners[j] = r2.Point{X: float64(pt.X), Y: float64(pt.Y)}
		}

		ordered, ok := orderCorners(approx, corners)
		approx.Close()
		if !ok {
			continue
		}

		code := decodeCode(gray, ordered)
		if code < 0 {
			// The contour may have been traced the other way around; keep the
			// concave vertex first and reverse the rest.
			reverseTail(ordered)
			code = decodeCode(gray, ordered)
			if code < 0 {
				continue
			}
		}

		hullArea := convexHullArea(ordered)
		if hullArea > bestArea {
			bestArea = hullArea
			best = Info{ID: code, Corners: ordered, Template3D: TemplateCorners3D}
			found = true
		}
	}

	return best, found
}

// orderCorners rotates the polygon so the concave vertex comes first. The
// shape qualifies only when exactly one vertex is off the convex hull.
func orderCorners(approx gocv.PointVector, corners []r2.Point) ([]r2.Point, bool) {
	hull := gocv.NewMat()
	defer hull.Close()
	gocv.ConvexHull(approx, &hull, true, false)

	if hull.Rows() != len(corners)-1 {
		return nil, false
	}

	onHull := make([]bool, len(corners))
	for i := 0; i < hull.Rows(); i++ {
		onHull[int(hull.GetIntAt(i, 0))] = true
	}

	concave := -1
	for i, on := range onHull {
		if !on {
			concave = i
			break
		}
	}
	if concave < 0 {
		return nil, false
	}

	ordered := make([]r2.Point, len(corners))
	for i := range corners {
		ordered[i] = corners[(concave+i)%len(corners)]
	}
	return ordered, true
}

func reverseTail(pts []r2.Point) {
	for i, j := 1, len(pts)-1; i < j; i, j = i+1, j-1 {
		pts[i], pts[j] = pts[j], pts[i]
	}
}

// decodeCode warps the binary image so the marker interior becomes a square,
// reads its 3x3 bit grid by integral-image cell means, and validates the
// inversion and parity structure. It returns the 4-bit id, or -1 when the
// pattern is not a valid code.
func decodeCode(binary gocv.Mat, corners []r2.Point) int {
	interior := normalizedMarkerSize - 2*normalizedBorderSize
	side := int(warpResolutionPerUnit * interior)

	// Map the normalized outline into the pixel space of the border-trimmed
	// interior square.
	src := gocv.NewMatWithSize(NumCorners, 1, gocv.MatTypeCV32FC2)
	defer src.Close()
	dst := gocv.NewMatWithSize(NumCorners, 1, gocv.MatTypeCV32FC2)
	defer dst.Close()
	for i, c := range corners {
		src.SetFloatAt(i, 0, float32(c.X))
		src.SetFloatAt(i, 1, float32(c.Y))

		n := NormalizedCorners2D[i]
		dst.SetFloatAt(i, 0, float32((n.X-normalizedBorderSize+1)*warpResolutionPerUnit))
		dst.SetFloatAt(i, 1, float32((n.Y-normalizedBorderSize+1)*warpResolutionPerUnit))
	}

	mask := gocv.NewMat()
	defer mask.Close()
	homography := gocv.FindHomography(src, &dst, gocv.HomographyMethodAllPoints, 3, &mask, 2000, 0.995)
	defer homography.Close()
	if homography.Empty() {
		return -1
	}

	warped := gocv.NewMat()
	defer warped.Close()
	gocv.WarpPerspective(binary, &warped, homography, image.Pt(side, side))

	sum := gocv.NewMat()
	sqSum := gocv.NewMat()
	tilted := gocv.NewMat()
	defer sum.Close()
	defer sqSum.Close()
	defer tilted.Close()
	gocv.Integral(warped, &sum, &sqSum, &tilted)

	cellW := warped.Cols() / bitGridSize
	cellH := warped.Rows() / bitGridSize
	cellArea := float64(cellW * cellH)

	var vals [bitGridSize * bitGridSize]int
	for i := 0; i < bitGridSize; i++ {
		for j := 0; j < bitGridSize; j++ {
			x0, y0 := j*cellW, i*cellH
			x1, y1 := x0+cellW, y0+cellH
			total := sum.GetDoubleAt(y1, x1) - sum.GetDoubleAt(y0, x1) -
				sum.GetDoubleAt(y1, x0) + sum.GetDoubleAt(y0, x0)
			if total/cellArea >= codeDetectionThreshold {
				vals[i*bitGridSize+j] = 1
			}
		}
	}

	// vals[0..3] carry the id (MSB first); vals[4..7] must be their bitwise
	// inverse; vals[8] is the parity of the id's popcount.
	code := 0
	ones := 0
	for i := 0; i < 4; i++ {
		if vals[i] == vals[i+4] {
			return -1
		}
		if vals[i] == 1 {
			code |= 1 << (3 - i)
			ones++
		}
	}

	parity := ones % 2
	if vals[8] != parity {
		return -1
	}
	return code
}

// convexHullArea computes the area of the marker's hull. With the concave
// vertex first, the remaining four corners form the hull in contour order.
func convexHullArea(corners []r2.Point) float64 {
	hull := corners[1:]
	area := 0.0
	for i := range hull {
		j := (i + 1) % len(hull)
		area += hull[i].X*hull[j].Y - hull[j].X*hull[i].Y
	}
	return math.Abs(area) / 2
}
