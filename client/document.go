package client

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/volcap/scanclient/document"
	"github.com/volcap/scanclient/rimage"
)

const (
	// documentResendInterval forces a send after this much quiet time.
	documentResendInterval = 30_000 // ms

	// documentDiffThreshold is the normalized pixel difference above which a
	// detection counts as a new document.
	documentDiffThreshold = 0.5
)

// onDocumentDetected runs on the document worker goroutine. A detection is
// forwarded only when it is the first one, enough time has passed, the image
// changed substantially, or its score beats the previous send.
func (c *Client) onDocumentDetected(det document.Detection) {
	c.docMu.Lock()
	defer c.docMu.Unlock()

	nowMs := c.clock.Now().UnixMilli()

	if c.lastDocImage == nil {
		c.keepAndSendDocumentLocked(det, nowMs)
		return
	}

	diff := computeImageDifference(c.lastDocImage, det.Image)

	if nowMs-c.lastDocSendTime >= documentResendInterval ||
		diff > documentDiffThreshold ||
		det.Score > c.lastDocScore {
		c.keepAndSendDocumentLocked(det, nowMs)
	}
}

func (c *Client) keepAndSendDocumentLocked(det document.Detection, nowMs int64) {
	c.lastDocImage = det.Image
	c.lastDocScore = det.Score
	c.lastDocSendTime = nowMs
	c.emit(documentEvent{img: det.Image, score: det.Score, width: det.Width, height: det.Height})
}

// computeImageDifference returns the mean absolute grayscale difference
// between two detections, normalized to [0, 1]. The previous image is
// resized to the new one's dimensions first.
func computeImageDifference(prev, curr *rimage.Image) float64 {
	prevMat := prev.ToMatBGR()
	defer prevMat.Close()
	currMat := curr.ToMatBGR()
	defer currMat.Close()

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(prevMat, &resized, image.Pt(currMat.Cols(), currMat.Rows()), 0, 0, gocv.InterpolationLinear)

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(currMat, resized, &diff)

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(diff, &gray, gocv.ColorBGRToGray)

	return gray.Mean().Val1 / 255.0
}
