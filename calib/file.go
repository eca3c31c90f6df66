package calib

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/volcap/scanclient/spatialmath"
)

// FileName returns the persistence file name for a camera serial number.
func FileName(serial string) string {
	return "calibration_" + serial + ".txt"
}

// Save writes the calibration state to dir. Layout: the translation on one
// line, three rotation rows, the used marker id, and the calibrated flag.
func (c *Calibration) Save(dir, serial string) error {
	f, err := os.Create(filepath.Join(dir, FileName(serial)))
	if err != nil {
		return errors.Wrap(err, "cannot create calibration file")
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%g %g %g\n", c.world.T.X, c.world.T.Y, c.world.T.Z); err != nil {
		return err
	}
	for i := 0; i < 3; i++ {
		if _, err := fmt.Fprintf(f, "%g %g %g\n",
			c.world.R.At(i, 0), c.world.R.At(i, 1), c.world.R.At(i, 2)); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(f, "%d\n", c.usedMarkerID); err != nil {
		return err
	}
	calibrated := 0
	if c.calibrated {
		calibrated = 1
	}
	_, err = fmt.Fprintf(f, "%d\n", calibrated)
	return err
}

// Load restores the calibration state for the given serial from dir. It
// returns false when the file is absent or malformed; in that case the
// in-memory state is untouched.
func (c *Calibration) Load(dir, serial string) bool {
	f, err := os.Open(filepath.Join(dir, FileName(serial)))
	if err != nil {
		return false
	}
	defer f.Close()

	var t [3]float64
	var r spatialmath.Matrix3
	var markerID, calibrated int

	if _, err := fmt.Fscan(f, &t[0], &t[1], &t[2]); err != nil {
		return false
	}
	for i := 0; i < 9; i++ {
		if _, err := fmt.Fscan(f, &r[i]); err != nil {
			return false
		}
	}
	if _, err := fmt.Fscan(f, &markerID, &calibrated); err != nil {
		return false
	}

	c.world = spatialmath.Pose{
		R: r,
		T: r3.Vector{X: t[0], Y: t[1], Z: t[2]},
	}
	c.usedMarkerID = markerID
	c.calibrated = calibrated != 0
	return true
}
