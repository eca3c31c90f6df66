package rimage

import (
	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/volcap/scanclient/pointcloud"
)

// ToMatBGR copies the image into an 8UC3 OpenCV mat in BGR channel order.
// The caller owns the returned mat and must Close it.
func (i *Image) ToMatBGR() gocv.Mat {
	m := gocv.NewMatWithSize(i.height, i.width, gocv.MatTypeCV8UC3)
	buf, err := m.DataPtrUint8()
	if err != nil {
		return m
	}
	for idx, c := range i.data {
		buf[idx*3] = c.Blue
		buf[idx*3+1] = c.Green
		buf[idx*3+2] = c.Red
	}
	return m
}

// ImageFromMatBGR copies an 8UC3 BGR mat into an Image.
func ImageFromMatBGR(m gocv.Mat) (*Image, error) {
	if m.Type() != gocv.MatTypeCV8UC3 {
		return nil, errors.Errorf("expected 8UC3 mat, got type %d", m.Type())
	}
	buf, err := m.DataPtrUint8()
	if err != nil {
		return nil, errors.Wrap(err, "cannot access mat data")
	}
	img := NewImage(m.Cols(), m.Rows())
	for idx := range img.data {
		img.data[idx] = pointcloud.RGB{
			Blue:  buf[idx*3],
			Green: buf[idx*3+1],
			Red:   buf[idx*3+2],
		}
	}
	return img, nil
}

// ToMat copies the depth map into a 16UC1 OpenCV mat. The caller owns the
// returned mat and must Close it.
func (dm *DepthMap) ToMat() gocv.Mat {
	m := gocv.NewMatWithSize(dm.height, dm.width, gocv.MatTypeCV16UC1)
	buf, err := m.DataPtrUint16()
	if err != nil {
		return m
	}
	for idx, d := range dm.data {
		buf[idx] = uint16(d)
	}
	return m
}
