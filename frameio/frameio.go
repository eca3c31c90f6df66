// Package frameio reads and writes recorded point-cloud frames. A recording
// is a sequence of frames, each an ASCII header
//
//	n_points= <int>\nframe_timestamp= <int>\n
//
// followed, when n_points > 0, by the packed little-endian millimeter points,
// the colors in blue-green-red byte order, and a trailing newline. Readers
// tolerate empty frames.
package frameio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/volcap/scanclient/logging"
	"github.com/volcap/scanclient/pointcloud"
)

// Handler owns at most one recording file, either being written or being
// read, mirroring the single recording slot each client exposes.
type Handler struct {
	logger logging.Logger
	dir    string

	filename string
	file     *os.File
	reader   *bufio.Reader
	writer   *bufio.Writer

	recordingStart time.Time
}

// NewHandler returns a handler that places recordings in dir.
func NewHandler(dir string, logger logging.Logger) *Handler {
	return &Handler{logger: logger, dir: dir}
}

// FileName returns the recording file name for a device id at a point in
// time.
func FileName(deviceID int, t time.Time) string {
	return fmt.Sprintf("recording_%01d_%04d_%02d_%02d_%02d_%02d_%02d.bin",
		deviceID, t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())
}

// Close closes the current file, if any. The next write starts a new
// recording; the next read reopens the last recording from its start.
func (h *Handler) Close() error {
	if h.file == nil {
		return nil
	}
	var err error
	if h.writer != nil {
		err = h.writer.Flush()
	}
	if cerr := h.file.Close(); err == nil {
		err = cerr
	}
	h.file = nil
	h.reader = nil
	h.writer = nil
	return err
}

func (h *Handler) openForWriting(deviceID int) error {
	if err := h.Close(); err != nil {
		h.logger.Warnw("closing previous recording failed", "error", err)
	}
	h.filename = FileName(deviceID, time.Now())
	f, err := os.Create(filepath.Join(h.dir, h.filename))
	if err != nil {
		return errors.Wrap(err, "cannot create recording file")
	}
	h.file = f
	h.writer = bufio.NewWriter(f)
	h.recordingStart = time.Now()
	return nil
}

func (h *Handler) openForReading() error {
	if err := h.Close(); err != nil {
		h.logger.Warnw("closing recording before reading failed", "error", err)
	}
	f, err := os.Open(filepath.Join(h.dir, h.filename))
	if err != nil {
		return errors.Wrap(err, "cannot open recording file")
	}
	h.file = f
	h.reader = bufio.NewReader(f)
	return nil
}

// WriteFrame appends one frame. The file is created on the first write.
func (h *Handler) WriteFrame(points []pointcloud.Point3s, colors []pointcloud.RGB, timestamp uint64, deviceID int) error {
	if h.writer == nil {
		if err := h.openForWriting(deviceID); err != nil {
			return err
		}
	}

	if _, err := fmt.Fprintf(h.writer, "n_points= %d\nframe_timestamp= %d\n", len(points), timestamp); err != nil {
		return err
	}
	if len(points) > 0 {
		if err := binary.Write(h.writer, binary.LittleEndian, points); err != nil {
			return err
		}
		for _, c := range colors {
			if _, err := h.writer.Write([]byte{c.Blue, c.Green, c.Red}); err != nil {
				return err
			}
		}
	}
	if err := h.writer.WriteByte('\n'); err != nil {
		return err
	}
	return h.writer.Flush()
}

// ReadFrame reads the next frame of the current recording, opening it from
// the start when the handler was last writing. It returns false at end of
// file or on a malformed header.
func (h *Handler) ReadFrame() ([]pointcloud.Point3s, []pointcloud.RGB, bool) {
	if h.reader == nil {
		if err := h.openForReading(); err != nil {
			return nil, nil, false
		}
	}

	var numPoints int
	if !h.readHeaderLine("n_points=", func(v int64) { numPoints = int(v) }) {
		return nil, nil, false
	}
	// The per-frame timestamp is parsed for validity but not surfaced;
	// playback consumers only need the points.
	if !h.readHeaderLine("frame_timestamp=", func(int64) {}) {
		return nil, nil, false
	}

	if numPoints == 0 {
		// Trailing newline of an empty frame.
		_, _ = h.reader.ReadByte()
		return []pointcloud.Point3s{}, []pointcloud.RGB{}, true
	}

	points := make([]pointcloud.Point3s, numPoints)
	if err := binary.Read(h.reader, binary.LittleEndian, points); err != nil {
		return nil, nil, false
	}
	colors := make([]pointcloud.RGB, numPoints)
	buf := make([]byte, 3)
	for i := range colors {
		if _, err := io.ReadFull(h.reader, buf); err != nil {
			return nil, nil, false
		}
		colors[i] = pointcloud.RGB{Blue: buf[0], Green: buf[1], Red: buf[2]}
	}
	_, _ = h.reader.ReadByte()

	return points, colors, true
}

func (h *Handler) readHeaderLine(label string, set func(int64)) bool {
	line, err := h.reader.ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	var got string
	var v int64
	if _, err := fmt.Sscanf(line, "%s %d", &got, &v); err != nil || got != label {
		return false
	}
	set(v)
	return true
}

// ElapsedRecordingTime reports how long the current recording has been open.
func (h *Handler) ElapsedRecordingTime() time.Duration {
	if h.writer == nil {
		return 0
	}
	return time.Since(h.recordingStart)
}
