package capture

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/volcap/scanclient/document"
	"github.com/volcap/scanclient/logging"
	"github.com/volcap/scanclient/pointcloud"
	"github.com/volcap/scanclient/rimage"
	"github.com/volcap/scanclient/rimage/transform"
)

const (
	preferredColorWidth  = 2560
	preferredColorHeight = 1440
	preferredColorFPS    = 30
	preferredDepthWidth  = 640
	preferredDepthHeight = 576

	// CaptureTimeout bounds a single frameset wait.
	CaptureTimeout = 1000 * time.Millisecond

	// firstFrameProbeTimeout bounds how long Initialize waits for the first
	// frame in non-subordinate modes.
	firstFrameProbeTimeout = 5 * time.Second

	// startupSettleDelay gives the device time between Start and the first
	// frame probe.
	startupSettleDelay = 500 * time.Millisecond

	// documentSubmitInterval throttles submissions to the document detector.
	documentSubmitInterval = 1000 * time.Millisecond
)

// ErrNotInitialized is returned by operations that need a started device.
var ErrNotInitialized = errors.New("capture device is not initialized")

// Manager operates one sensor: stream negotiation, sync configuration, and
// the per-frame conversion of raw depth into camera-space vertices with
// aligned colors and an aligned depth image. It is owned by the pipeline
// goroutine.
type Manager struct {
	logger      logging.Logger
	enumerator  Enumerator
	clock       clock.Clock
	docDetector *document.Detector

	deviceIndex int
	stickyIndex int
	device      Device
	initialized bool
	serial      string

	params transform.CameraParams

	colorWidth, colorHeight int
	depthWidth, depthHeight int
	colorData               []pointcloud.RGB
	depthData               []rimage.Depth

	vertices     []pointcloud.Point3f
	colors       []pointcloud.RGB
	alignedDepth *rimage.DepthMap

	timestamp uint64

	autoExposure bool
	exposureStep int

	lastDocSubmit time.Time
}

// NewManager returns a manager for the device at the given index. The
// document detector may be nil when document detection is disabled.
func NewManager(enumerator Enumerator, deviceIndex int, docDetector *document.Detector,
	clk clock.Clock, logger logging.Logger,
) *Manager {
	return &Manager{
		logger:       logger,
		enumerator:   enumerator,
		clock:        clk,
		docDetector:  docDetector,
		deviceIndex:  deviceIndex,
		stickyIndex:  -1,
		autoExposure: true,
	}
}

// IsInitialized reports whether the device is streaming.
func (m *Manager) IsInitialized() bool { return m.initialized }

// SerialNumber returns the serial of the opened device, or "".
func (m *Manager) SerialNumber() string { return m.serial }

// TimeStamp returns the global microsecond timestamp of the last frame.
func (m *Manager) TimeStamp() uint64 { return m.timestamp }

// DeviceIndex returns the index the device is (or will be) opened at; after
// the first successful open, re-initializations reuse that index so
// reconnects land on the same hardware.
func (m *Manager) DeviceIndex() int {
	if m.stickyIndex >= 0 {
		return m.stickyIndex
	}
	return m.deviceIndex
}

// DepthDimensions returns the depth (and thus vertex array) resolution.
func (m *Manager) DepthDimensions() (int, int) { return m.depthWidth, m.depthHeight }

// Vertices returns the camera-space vertex array of the last frame, one
// entry per depth pixel. The slice is reused across frames.
func (m *Manager) Vertices() []pointcloud.Point3f { return m.vertices }

// Colors returns the per-vertex colors of the last frame.
func (m *Manager) Colors() []pointcloud.RGB { return m.colors }

// Initialize opens the device, applies the sync role, negotiates streams,
// and starts the pipeline. For non-subordinate roles it fails unless a frame
// arrives within five seconds; a subordinate only captures once the master
// emits triggers, so its probe is skipped.
func (m *Manager) Initialize(state SyncState, syncOffset int) error {
	if err := m.openDevice(); err != nil {
		m.initialized = false
		return err
	}

	syncCfg := SyncConfig{Mode: state}
	if state == Subordinate {
		syncCfg.TriggerToImageDelayUs = SyncDelayUs * syncOffset
	}
	if err := m.device.SetSyncConfig(syncCfg); err != nil {
		m.initialized = false
		return errors.Wrap(err, "cannot apply sync config")
	}

	colorProfile := pickProfile(m.device.ColorProfiles(), StreamProfile{
		Width: preferredColorWidth, Height: preferredColorHeight,
		FPS: preferredColorFPS, Format: FormatRGB888,
	})
	depthProfile := pickProfile(m.device.DepthProfiles(), StreamProfile{
		Width: preferredDepthWidth, Height: preferredDepthHeight,
		FPS: colorProfile.FPS, Format: FormatY16,
	})

	if err := m.device.Start(colorProfile, depthProfile); err != nil {
		m.initialized = false
		return errors.Wrap(err, "cannot start pipeline")
	}

	params, err := m.device.CameraParams()
	if err != nil {
		m.initialized = false
		return errors.Wrap(err, "cannot read camera parameters")
	}
	if err := params.CheckValid(); err != nil {
		m.initialized = false
		return err
	}
	m.params = params
	m.initialized = true

	if !m.autoExposure {
		m.SetExposureState(false, m.exposureStep)
	}

	m.clock.Sleep(startupSettleDelay)

	if state != Subordinate {
		start := m.clock.Now()
		for !m.AcquireFrame(false) {
			if m.clock.Since(start) > firstFrameProbeTimeout {
				m.initialized = false
				return errors.Errorf("no frame within %v after start", firstFrameProbeTimeout)
			}
		}
	}

	m.logger.Infow("capture device initialized",
		"serial", m.serial, "sync", state.String(), "syncOffset", syncOffset)
	return nil
}

func (m *Manager) openDevice() error {
	idx := m.DeviceIndex()
	dev, err := m.enumerator.Open(idx)
	if err != nil {
		return errors.Wrapf(err, "cannot open device at index %d", idx)
	}
	m.device = dev
	m.stickyIndex = idx
	m.serial = dev.SerialNumber()
	return nil
}

// pickProfile returns the first profile matching the preference, or the
// device default (its first profile) as fallback.
func pickProfile(available []StreamProfile, want StreamProfile) StreamProfile {
	for _, p := range available {
		if p == want {
			return p
		}
	}
	if len(available) > 0 {
		return available[0]
	}
	return want
}

// AcquireFrame waits for the next matched frameset and regenerates the
// vertex, color, and aligned-depth buffers from it. It returns false on
// timeout, on a missing or timestamp-mismatched frame, or when the manager
// is not initialized; such frames are dropped silently.
func (m *Manager) AcquireFrame(calibrationRequested bool) bool {
	if !m.initialized || m.device == nil {
		return false
	}

	fs, err := m.device.WaitForFrames(CaptureTimeout)
	if err != nil {
		m.logger.Debugw("frame wait failed", "error", err)
		return false
	}
	if fs == nil || fs.Color == nil || fs.Depth == nil ||
		fs.Color.GlobalTimestampUs != fs.Depth.GlobalTimestampUs {
		return false
	}
	if len(fs.Color.Data) < fs.Color.Width*fs.Color.Height*3 ||
		len(fs.Depth.Data) < fs.Depth.Width*fs.Depth.Height {
		m.logger.Warnf("frame buffers shorter than advertised resolution, dropping frame")
		return false
	}

	m.resizeBuffers(fs)

	if fs.Color.Format != FormatRGB888 {
		m.logger.Warnf("expected RGB888 color format but got %d", fs.Color.Format)
	}
	for i := range m.colorData {
		m.colorData[i] = pointcloud.RGB{
			Red:   fs.Color.Data[i*3],
			Green: fs.Color.Data[i*3+1],
			Blue:  fs.Color.Data[i*3+2],
		}
	}

	if fs.Depth.Format != FormatY16 {
		m.logger.Warnf("expected Y16 depth format but got %d", fs.Depth.Format)
	}
	for i, d := range fs.Depth.Data {
		m.depthData[i] = rimage.Depth(d)
	}

	m.updatePointCloud()
	m.timestamp = fs.Color.GlobalTimestampUs

	m.maybeSubmitDocumentFrame()
	return true
}

func (m *Manager) resizeBuffers(fs *FrameSet) {
	if m.colorData == nil || m.colorWidth != fs.Color.Width || m.colorHeight != fs.Color.Height {
		m.colorWidth = fs.Color.Width
		m.colorHeight = fs.Color.Height
		m.colorData = make([]pointcloud.RGB, m.colorWidth*m.colorHeight)
	}
	if m.depthData == nil || m.depthWidth != fs.Depth.Width || m.depthHeight != fs.Depth.Height {
		m.depthWidth = fs.Depth.Width
		m.depthHeight = fs.Depth.Height
		n := m.depthWidth * m.depthHeight
		m.depthData = make([]rimage.Depth, n)
		m.vertices = make([]pointcloud.Point3f, n)
		m.colors = make([]pointcloud.RGB, n)
		m.alignedDepth = rimage.NewEmptyDepthMap(m.depthWidth, m.depthHeight)
	}
}

// updatePointCloud unprojects every depth pixel with the depth intrinsics,
// carries it through the depth-to-color extrinsics, projects it into the
// color image for a bilinearly interpolated color sample, and resamples the
// depth at the projected location into the aligned depth image (nearest
// non-zero reading wins).
func (m *Manager) updatePointCloud() {
	colorImg := rimage.NewImageFromData(m.colorData, m.colorWidth, m.colorHeight)
	m.alignedDepth.Reset()

	depthIntr := &m.params.DepthIntrinsics
	colorIntr := &m.params.ColorIntrinsics
	extr := &m.params.Extrinsics

	for v := 0; v < m.depthHeight; v++ {
		for u := 0; u < m.depthWidth; u++ {
			idx := v*m.depthWidth + u
			d := m.depthData[idx]
			if d == 0 {
				m.vertices[idx] = pointcloud.Point3f{}
				m.colors[idx] = pointcloud.RGB{}
				continue
			}

			depthM := float64(d) / 1000.0
			p := extr.Transform(depthIntr.UnprojectPoint(float64(u), float64(v), depthM))
			if p.Z <= 0 {
				m.vertices[idx] = pointcloud.Point3f{}
				m.colors[idx] = pointcloud.RGB{}
				continue
			}

			proj := colorIntr.ProjectPoint(p)

			// Scale the projected color pixel down to depth resolution for
			// the aligned depth image.
			alignedU := int(roundHalfAway(proj.X * float64(m.depthWidth) / float64(m.colorWidth)))
			alignedV := int(roundHalfAway(proj.Y * float64(m.depthHeight) / float64(m.colorHeight)))
			if m.alignedDepth.In(alignedU, alignedV) {
				existing := m.alignedDepth.GetDepth(alignedU, alignedV)
				if existing == 0 || d < existing {
					m.alignedDepth.Set(alignedU, alignedV, d)
				}
			}

			m.vertices[idx] = pointcloud.Point3f{X: float32(p.X), Y: float32(p.Y), Z: float32(p.Z)}
			m.colors[idx] = colorImg.BilinearSample(proj.X, proj.Y)
		}
	}
}

func roundHalfAway(v float64) float64 {
	if v < 0 {
		return float64(int(v - 0.5))
	}
	return float64(int(v + 0.5))
}

// maybeSubmitDocumentFrame forwards the current color frame and aligned
// depth to the document detector at most once per second.
func (m *Manager) maybeSubmitDocumentFrame() {
	if m.docDetector == nil {
		return
	}
	now := m.clock.Now()
	if !m.lastDocSubmit.IsZero() && now.Sub(m.lastDocSubmit) < documentSubmitInterval {
		return
	}
	m.lastDocSubmit = now

	colorCopy := make([]pointcloud.RGB, len(m.colorData))
	copy(colorCopy, m.colorData)
	m.docDetector.SubmitFrame(
		rimage.NewImageFromData(colorCopy, m.colorWidth, m.colorHeight),
		m.alignedDepth.Clone(),
	)
}

// SetExposureState enables auto-exposure or applies a manual exposure step
// in [1, 300]. The chosen state is reapplied after re-initialization.
func (m *Manager) SetExposureState(auto bool, step int) {
	m.autoExposure = auto
	if !auto {
		m.exposureStep = step
	}
	if !m.initialized || m.device == nil {
		return
	}
	if auto {
		if err := m.device.SetAutoExposure(true); err != nil {
			m.logger.Warnw("cannot enable auto exposure", "error", err)
		}
		return
	}
	if err := m.device.SetAutoExposure(false); err != nil {
		m.logger.Warnw("cannot disable auto exposure", "error", err)
		return
	}
	if err := m.device.SetManualExposure(step); err != nil {
		m.logger.Warnw("cannot set exposure step", "step", step, "error", err)
	}
}

// Close stops the pipeline and releases the device. A closed manager can be
// re-initialized.
func (m *Manager) Close() error {
	if !m.initialized || m.device == nil {
		return ErrNotInitialized
	}
	err := multierr.Combine(
		m.device.Stop(),
		m.device.Close(),
	)
	m.device = nil
	m.initialized = false
	return err
}
