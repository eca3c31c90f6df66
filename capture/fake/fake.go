// Package fake provides an in-memory capture device with a deterministic
// synthetic scene, for tests and host-less smoke runs.
package fake

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/volcap/scanclient/capture"
	"github.com/volcap/scanclient/rimage/transform"
)

// Default fake stream geometry.
const (
	ColorWidth  = 64
	ColorHeight = 48
	DepthWidth  = 32
	DepthHeight = 24
	FPS         = 30
)

// Device is a deterministic capture.Device: a flat wall one meter from the
// camera, mid-gray, with monotonically increasing timestamps.
type Device struct {
	mu         sync.Mutex
	serial     string
	started    bool
	closed     bool
	syncCfg    capture.SyncConfig
	frameIndex uint64

	// FrameHook, when set, may replace the generated frameset.
	FrameHook func(index uint64, fs *capture.FrameSet) *capture.FrameSet
}

// NewDevice returns a fake device with the given serial.
func NewDevice(serial string) *Device {
	return &Device{serial: serial}
}

// SerialNumber implements capture.Device.
func (d *Device) SerialNumber() string { return d.serial }

// ColorProfiles implements capture.Device.
func (d *Device) ColorProfiles() []capture.StreamProfile {
	return []capture.StreamProfile{
		{Width: ColorWidth, Height: ColorHeight, FPS: FPS, Format: capture.FormatRGB888},
	}
}

// DepthProfiles implements capture.Device.
func (d *Device) DepthProfiles() []capture.StreamProfile {
	return []capture.StreamProfile{
		{Width: DepthWidth, Height: DepthHeight, FPS: FPS, Format: capture.FormatY16},
	}
}

// SetSyncConfig implements capture.Device.
func (d *Device) SetSyncConfig(cfg capture.SyncConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("fake device is closed")
	}
	d.syncCfg = cfg
	return nil
}

// SyncConfig returns the last applied sync configuration.
func (d *Device) SyncConfig() capture.SyncConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.syncCfg
}

// Start implements capture.Device.
func (d *Device) Start(color, depth capture.StreamProfile) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("fake device is closed")
	}
	d.started = true
	return nil
}

// Stop implements capture.Device.
func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = false
	return nil
}

// WaitForFrames implements capture.Device.
func (d *Device) WaitForFrames(timeout time.Duration) (*capture.FrameSet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return nil, errors.New("fake device is not started")
	}

	d.frameIndex++
	ts := d.frameIndex * 33333

	colorData := make([]byte, ColorWidth*ColorHeight*3)
	for i := range colorData {
		colorData[i] = 128
	}
	depthData := make([]uint16, DepthWidth*DepthHeight)
	for i := range depthData {
		depthData[i] = 1000
	}

	fs := &capture.FrameSet{
		Color: &capture.ColorFrame{
			Width: ColorWidth, Height: ColorHeight,
			Format: capture.FormatRGB888, Data: colorData, GlobalTimestampUs: ts,
		},
		Depth: &capture.DepthFrame{
			Width: DepthWidth, Height: DepthHeight,
			Format: capture.FormatY16, Data: depthData, GlobalTimestampUs: ts,
		},
	}
	if d.FrameHook != nil {
		fs = d.FrameHook(d.frameIndex, fs)
	}
	return fs, nil
}

// CameraParams implements capture.Device with a simple pinhole model and
// identity extrinsics.
func (d *Device) CameraParams() (transform.CameraParams, error) {
	return transform.CameraParams{
		DepthIntrinsics: transform.PinholeCameraIntrinsics{
			Width: DepthWidth, Height: DepthHeight,
			Fx: DepthWidth, Fy: DepthWidth,
			Ppx: float64(DepthWidth) / 2, Ppy: float64(DepthHeight) / 2,
		},
		ColorIntrinsics: transform.PinholeCameraIntrinsics{
			Width: ColorWidth, Height: ColorHeight,
			Fx: ColorWidth, Fy: ColorWidth,
			Ppx: float64(ColorWidth) / 2, Ppy: float64(ColorHeight) / 2,
		},
		Extrinsics: transform.NewIdentityExtrinsics(),
	}, nil
}

// SetAutoExposure implements capture.Device.
func (d *Device) SetAutoExposure(enabled bool) error { return nil }

// SetManualExposure implements capture.Device.
func (d *Device) SetManualExposure(step int) error {
	if step < 1 || step > 300 {
		return errors.Errorf("exposure step %d out of range [1, 300]", step)
	}
	return nil
}

// Close implements capture.Device.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = false
	d.closed = true
	return nil
}

// Enumerator hands out fake devices by index. Each Open returns a fresh
// device with the serial registered for that index, modeling reconnects.
type Enumerator struct {
	mu      sync.Mutex
	serials []string
	opened  []*Device
}

// NewEnumerator returns an enumerator with one fake device per serial.
func NewEnumerator(serials ...string) *Enumerator {
	return &Enumerator{serials: serials}
}

// Open implements capture.Enumerator.
func (e *Enumerator) Open(index int) (capture.Device, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if index < 0 || index >= len(e.serials) {
		return nil, errors.Errorf("no device at index %d", index)
	}
	dev := NewDevice(e.serials[index])
	e.opened = append(e.opened, dev)
	return dev, nil
}

// LastOpened returns the most recently opened device, or nil.
func (e *Enumerator) LastOpened() *Device {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.opened) == 0 {
		return nil
	}
	return e.opened[len(e.opened)-1]
}
