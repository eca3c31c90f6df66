// Package capture drives one depth+color sensor and turns its raw framesets
// into aligned per-pixel camera-space vertices and colors. The Device
// interface is the seam to the native sensor SDK; everything above it is
// hardware-independent.
package capture

import (
	"time"

	"github.com/volcap/scanclient/rimage/transform"
)

// SyncState is the multi-device trigger role of a sensor. The numeric values
// are part of the host protocol.
type SyncState int

const (
	// Subordinate waits for an external trigger before capturing.
	Subordinate SyncState = iota
	// Master free-runs and emits triggers for subordinates.
	Master
	// Standalone free-runs without triggers.
	Standalone
)

func (s SyncState) String() string {
	switch s {
	case Subordinate:
		return "subordinate"
	case Master:
		return "master"
	case Standalone:
		return "standalone"
	default:
		return "unknown"
	}
}

// SyncDelayUs is the per-subordinate trigger-to-image delay quantum in
// microseconds; subordinate i delays by SyncDelayUs*i to stagger captures.
const SyncDelayUs = 160

// SyncConfig is the sync role plus the trigger delay applied to a device.
type SyncConfig struct {
	Mode                  SyncState
	TriggerToImageDelayUs int
}

// Format identifies a stream pixel format.
type Format int

const (
	// FormatUnknown is an unrecognized device format.
	FormatUnknown Format = iota
	// FormatRGB888 is 8-bit-per-channel red-green-blue.
	FormatRGB888
	// FormatY16 is 16-bit depth in millimeters.
	FormatY16
)

// StreamProfile describes one stream mode a sensor offers.
type StreamProfile struct {
	Width  int
	Height int
	FPS    int
	Format Format
}

// ColorFrame is a raw color frame as delivered by the device: tightly packed
// R,G,B triples.
type ColorFrame struct {
	Width             int
	Height            int
	Format            Format
	Data              []byte
	GlobalTimestampUs uint64
}

// DepthFrame is a raw depth frame as delivered by the device: row-major
// millimeter readings.
type DepthFrame struct {
	Width             int
	Height            int
	Format            Format
	Data              []uint16
	GlobalTimestampUs uint64
}

// FrameSet is one matched color+depth delivery. Either frame may be nil when
// the device could not produce it in time.
type FrameSet struct {
	Color *ColorFrame
	Depth *DepthFrame
}

// Device is the capture hardware seam. Implementations wrap a native sensor
// SDK; capture/fake provides a deterministic in-memory one.
type Device interface {
	SerialNumber() string

	// ColorProfiles and DepthProfiles list the stream modes the sensor
	// offers, preferred mode first.
	ColorProfiles() []StreamProfile
	DepthProfiles() []StreamProfile

	// SetSyncConfig applies the trigger role before the pipeline starts.
	SetSyncConfig(cfg SyncConfig) error

	// Start begins streaming with the chosen profiles.
	Start(color, depth StreamProfile) error

	// Stop halts streaming; the device stays open.
	Stop() error

	// WaitForFrames blocks until a frameset arrives or the timeout passes.
	WaitForFrames(timeout time.Duration) (*FrameSet, error)

	// CameraParams reports the intrinsics and depth-to-color extrinsics for
	// the started profiles.
	CameraParams() (transform.CameraParams, error)

	SetAutoExposure(enabled bool) error
	SetManualExposure(step int) error

	// Close releases the device; Start requires reopening.
	Close() error
}

// Enumerator opens devices by index.
type Enumerator interface {
	Open(index int) (Device, error)
}
