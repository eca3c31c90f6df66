// Package document finds planar documents held in front of the camera by
// background-subtracting the aligned depth image and extracting convex
// quadrilaterals from the remaining foreground.
package document

import (
	"image"
	"sync"

	"go.viam.com/utils"
	"gocv.io/x/gocv"

	"github.com/volcap/scanclient/logging"
	"github.com/volcap/scanclient/rimage"
)

const (
	numRequiredBackgroundSamples = 5

	// A pixel is foreground when it moved more than this much closer than the
	// averaged background, in millimeters.
	foregroundDepthDeltaMm = 15

	polyApproxCoefficient = 0.018
	minAreaRatio          = 0.01
	minAspectRatio        = 0.5
	maxAspectRatio        = 2.0
)

// Detection is one scored document candidate.
type Detection struct {
	Image  *rimage.Image
	Score  float64
	Width  int
	Height int
}

// Callback receives the best detection of a processed frame.
type Callback func(Detection)

// Detector runs detection on its own worker goroutine. Submissions are
// non-blocking and the worker always processes the latest one.
type Detector struct {
	logger   logging.Logger
	callback Callback

	mu           sync.Mutex
	cond         *sync.Cond
	pendingColor *rimage.Image
	pendingDepth *rimage.DepthMap
	hasPending   bool
	stopped      bool

	wg sync.WaitGroup

	backgroundSamples []*rimage.DepthMap
	averageBackground []uint16
}

// NewDetector starts a detector. Results go to the callback registered with
// SetCallback; detections made before one is registered are dropped.
func NewDetector(logger logging.Logger) *Detector {
	d := &Detector{logger: logger}
	d.cond = sync.NewCond(&d.mu)
	d.wg.Add(1)
	utils.PanicCapturingGo(func() {
		defer d.wg.Done()
		d.run()
	})
	return d
}

// SetCallback registers the consumer of detections.
func (d *Detector) SetCallback(callback Callback) {
	d.mu.Lock()
	d.callback = callback
	d.mu.Unlock()
}

// SubmitFrame hands the worker a new frame without blocking. An unprocessed
// earlier submission is replaced.
func (d *Detector) SubmitFrame(color *rimage.Image, depth *rimage.DepthMap) {
	d.mu.Lock()
	d.pendingColor = color
	d.pendingDepth = depth
	d.hasPending = true
	d.mu.Unlock()
	d.cond.Signal()
}

// Close stops the worker and waits for it to exit.
func (d *Detector) Close() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	d.cond.Broadcast()
	d.wg.Wait()
}

func (d *Detector) run() {
	for {
		d.mu.Lock()
		for !d.hasPending && !d.stopped {
			d.cond.Wait()
		}
		if d.stopped {
			d.mu.Unlock()
			return
		}
		color := d.pendingColor
		depth := d.pendingDepth
		callback := d.callback
		d.hasPending = false
		d.mu.Unlock()

		if det, found := d.detect(color, depth); found && callback != nil {
			callback(det)
		}
	}
}

// detect runs one frame through the pipeline. The first frames only feed the
// background model; no detection is produced until it is complete.
func (d *Detector) detect(color *rimage.Image, depth *rimage.DepthMap) (Detection, bool) {
	if !d.updateBackground(depth) {
		return Detection{}, false
	}

	colorMat := color.ToMatBGR()
	defer colorMat.Close()

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(colorMat, &resized, image.Pt(depth.Width(), depth.Height()), 0, 0, gocv.InterpolationLinear)

	mask := d.foregroundMask(depth)
	defer mask.Close()

	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(5, 5))
	defer kernel.Close()
	gocv.MorphologyEx(mask, &mask, gocv.MorphOpen, kernel)
	gocv.MorphologyEx(mask, &mask, gocv.MorphClose, kernel)

	masked := gocv.NewMatWithSize(resized.Rows(), resized.Cols(), gocv.MatTypeCV8UC3)
	defer masked.Close()
	gocv.BitwiseAndWithMask(resized, resized, &masked, mask)

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(masked, &gray, gocv.ColorBGRToGray)
	gocv.GaussianBlur(gray, &gray, image.Pt(5, 5), 0, 0, gocv.BorderDefault)

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(gray, &edges, 100, 200)
	dilateKernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3))
	defer dilateKernel.Close()
	gocv.Dilate(edges, &edges, dilateKernel)

	contours := gocv.FindContours(edges, gocv.RetrievalList, gocv.ChainApproxSimple)
	defer contours.Close()

	imageArea := float64(resized.Cols() * resized.Rows())
	scaleX := float64(colorMat.Cols()) / float64(resized.Cols())
	scaleY := float64(colorMat.Rows()) / float64(resized.Rows())

	var best Detection
	found := false

	for i := 0; i < contours.Size(); i++ {
		contour := contours.At(i)
		arc := gocv.ArcLength(contour, true)
		approx := gocv.ApproxPolyDP(contour, arc*polyApproxCoefficient, true)
		if approx.Size() != 4 || !gocv.IsContourConvex(approx) {
			approx.Close()
			continue
		}
		box := gocv.BoundingRect(approx)
		approx.Close()

		areaRatio := float64(box.Dx()*box.Dy()) / imageArea
		if areaRatio < minAreaRatio {
			continue
		}
		aspect := float64(box.Dx()) / float64(box.Dy())
		if aspect < minAspectRatio || aspect > maxAspectRatio {
			continue
		}

		// Crop the unmasked full-resolution image at the scaled-up box.
		origBox := image.Rect(
			int(float64(box.Min.X)*scaleX), int(float64(box.Min.Y)*scaleY),
			int(float64(box.Max.X)*scaleX), int(float64(box.Max.Y)*scaleY),
		).Intersect(image.Rect(0, 0, colorMat.Cols(), colorMat.Rows()))
		if origBox.Empty() {
			continue
		}

		score, cropped := scoreCrop(colorMat, origBox, areaRatio)
		if cropped == nil {
			continue
		}
		if !found || score > best.Score {
			best = Detection{
				Image:  cropped,
				Score:  score,
				Width:  cropped.Width(),
				Height: cropped.Height(),
			}
			found = true
		}
	}

	return best, found
}

// updateBackground accumulates the first frames into a per-pixel average
// depth. It returns true once the model is ready.
func (d *Detector) updateBackground(depth *rimage.DepthMap) bool {
	if d.averageBackground != nil {
		return true
	}

	d.backgroundSamples = append(d.backgroundSamples, depth.Clone())
	if len(d.backgroundSamples) < numRequiredBackgroundSamples {
		return false
	}

	n := depth.Width() * depth.Height()
	sums := make([]uint32, n)
	for _, sample := range d.backgroundSamples {
		for i, v := range sample.Data() {
			sums[i] += uint32(v)
		}
	}
	d.averageBackground = make([]uint16, n)
	for i, s := range sums {
		d.averageBackground[i] = uint16(s / uint32(len(d.backgroundSamples)))
	}
	d.backgroundSamples = nil
	return false
}

// foregroundMask marks pixels that moved toward the camera relative to the
// background, or appeared where the background had no reading.
func (d *Detector) foregroundMask(depth *rimage.DepthMap) gocv.Mat {
	mask := gocv.Zeros(depth.Height(), depth.Width(), gocv.MatTypeCV8UC1)
	buf, err := mask.DataPtrUint8()
	if err != nil {
		return mask
	}
	for i, curr := range depth.Data() {
		bg := int(d.averageBackground[i])
		diff := bg - int(curr)
		if diff > foregroundDepthDeltaMm || (bg == 0 && diff < -foregroundDepthDeltaMm) {
			buf[i] = 255
		}
	}
	return mask
}

// scoreCrop crops the original image and scores the crop: 0.9 x the variance
// of its Laplacian (scaled by 1/1000) plus 0.1 x the bounding-box area ratio.
func scoreCrop(colorMat gocv.Mat, box image.Rectangle, areaRatio float64) (float64, *rimage.Image) {
	region := colorMat.Region(box)
	defer region.Close()
	crop := region.Clone()
	defer crop.Close()

	cropGray := gocv.NewMat()
	defer cropGray.Close()
	gocv.CvtColor(crop, &cropGray, gocv.ColorBGRToGray)

	lap := gocv.NewMat()
	defer lap.Close()
	gocv.Laplacian(cropGray, &lap, gocv.MatTypeCV64F, 1, 1, 0, gocv.BorderDefault)

	meanMat := gocv.NewMat()
	stdMat := gocv.NewMat()
	defer meanMat.Close()
	defer stdMat.Close()
	gocv.MeanStdDev(lap, &meanMat, &stdMat)
	std := stdMat.GetDoubleAt(0, 0)
	sharpness := std * std

	score := 0.9*sharpness/1000 + 0.1*areaRatio

	img, err := rimage.ImageFromMatBGR(crop)
	if err != nil {
		return 0, nil
	}
	return score, img
}
