package client

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/volcap/scanclient/capture"
	"github.com/volcap/scanclient/logging"
	"github.com/volcap/scanclient/pointcloud"
)

// stubSource is a scripted Source for pipeline tests.
type stubSource struct {
	mu sync.Mutex

	initialized bool
	vertices    []pointcloud.Point3f
	colors      []pointcloud.RGB
	width       int
	height      int
	timestamp   uint64

	initCalls  []capture.SyncState
	closeCalls int
	failInit   bool
}

func (s *stubSource) Initialize(state capture.SyncState, syncOffset int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initCalls = append(s.initCalls, state)
	if s.failInit {
		return errors.New("scripted init failure")
	}
	s.initialized = true
	return nil
}

func (s *stubSource) IsInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

func (s *stubSource) AcquireFrame(bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return false
	}
	s.timestamp += 33333
	return true
}

func (s *stubSource) SetExposureState(bool, int) {}

func (s *stubSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	if !s.initialized {
		return capture.ErrNotInitialized
	}
	s.initialized = false
	return nil
}

func (s *stubSource) SerialNumber() string { return "STUB42" }
func (s *stubSource) TimeStamp() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timestamp
}
func (s *stubSource) DeviceIndex() int               { return 0 }
func (s *stubSource) DepthDimensions() (int, int)    { return s.width, s.height }
func (s *stubSource) Vertices() []pointcloud.Point3f { return s.vertices }
func (s *stubSource) Colors() []pointcloud.RGB       { return s.colors }

func quadFrameSource() *stubSource {
	return &stubSource{
		initialized: true,
		width:       2,
		height:      2,
		vertices: []pointcloud.Point3f{
			pointcloud.NewPoint3f(0, 0, 1),
			pointcloud.NewPoint3f(0.01, 0, 1),
			pointcloud.NewPoint3f(0, 0.01, 1),
			pointcloud.NewPoint3f(0.01, 0.01, 1),
		},
		colors: []pointcloud.RGB{
			{Red: 1}, {Red: 2}, {Red: 3}, {Red: 4},
		},
	}
}

func newTestClient(t *testing.T, src Source) *Client {
	t.Helper()
	c, err := New(0, src, Callbacks{}, Options{
		DataDir:          t.TempDir(),
		VoxelSize:        0.001,
		GridCenter:       r3.Vector{Z: 1},
		GridHalfRange:    0.05,
		DensityMinPoints: 1,
	}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return c
}

func wideBounds() CameraSettings {
	return CameraSettings{
		MinBounds:           r3.Vector{X: -1, Y: -1, Z: 0},
		MaxBounds:           r3.Vector{X: 1, Y: 1, Z: 2},
		AutoExposureEnabled: true,
	}
}

func TestProcessFrameBasic(t *testing.T) {
	src := quadFrameSource()
	c := newTestClient(t, src)
	c.applySettings(wideBounds())

	c.processFrame()

	test.That(t, c.lastVertices, test.ShouldResemble, []pointcloud.Point3s{
		{X: 0, Y: 0, Z: 1000},
		{X: 10, Y: 0, Z: 1000},
		{X: 0, Y: 10, Z: 1000},
		{X: 10, Y: 10, Z: 1000},
	})
	test.That(t, c.lastColors, test.ShouldResemble, []pointcloud.RGB{
		{Red: 1}, {Red: 2}, {Red: 3}, {Red: 4},
	})
}

func TestProcessFrameDeduplicatesAndBounds(t *testing.T) {
	src := quadFrameSource()
	// Three pixels carry the same point; the fourth lies out of bounds.
	p := pointcloud.NewPoint3f(0.01, 0.01, 1)
	src.vertices = []pointcloud.Point3f{p, p, p, pointcloud.NewPoint3f(0, 0, 5)}

	c := newTestClient(t, src)
	c.applySettings(wideBounds())

	c.processFrame()

	// Duplicates collapse to one survivor; the out-of-bounds point is gone.
	test.That(t, c.lastVertices, test.ShouldResemble, []pointcloud.Point3s{
		{X: 10, Y: 10, Z: 1000},
	})
	test.That(t, c.lastColors, test.ShouldResemble, []pointcloud.RGB{{Red: 1}})
}

func TestProcessFrameDensityRejection(t *testing.T) {
	src := quadFrameSource()
	c := newTestClient(t, src)
	c.opts.DensityMinPoints = 12
	c.applySettings(wideBounds())

	// Four lone points spread over distinct coarse voxels cannot reach 12
	// occupants.
	src.vertices = []pointcloud.Point3f{
		pointcloud.NewPoint3f(0, 0, 1),
		pointcloud.NewPoint3f(0.02, 0, 1),
		pointcloud.NewPoint3f(0, 0.02, 1),
		pointcloud.NewPoint3f(0.02, 0.02, 1),
	}

	c.processFrame()
	test.That(t, len(c.lastVertices), test.ShouldEqual, 0)
}

func TestProcessFrameAppliesWorldTransform(t *testing.T) {
	src := quadFrameSource()
	c := newTestClient(t, src)
	c.applySettings(wideBounds())

	// Persist a calibration with T = (0, 0, -0.5) and identity rotation,
	// then load it so the calibrated flag comes up.
	writeCalibrationFile(t, c.opts.DataDir, "STUB42", "0 0 -0.5\n1 0 0\n0 1 0\n0 0 1\n7\n1\n")
	test.That(t, c.cal.Load(c.opts.DataDir, src.SerialNumber()), test.ShouldBeTrue)
	test.That(t, c.cal.IsCalibrated(), test.ShouldBeTrue)

	// Shifted points leave the voxel grid range around z=1, so widen it.
	var err error
	c.occupancy, err = pointcloud.NewOccupancyGrid(0.001, 0, 0, 0.5, 0.6)
	test.That(t, err, test.ShouldBeNil)

	c.processFrame()

	test.That(t, c.lastVertices, test.ShouldResemble, []pointcloud.Point3s{
		{X: 0, Y: 0, Z: 500},
		{X: 10, Y: 0, Z: 500},
		{X: 0, Y: 10, Z: 500},
		{X: 10, Y: 10, Z: 500},
	})
}

func TestEmitFrameUsesSmallerCount(t *testing.T) {
	src := quadFrameSource()
	c := newTestClient(t, src)

	vertices := []pointcloud.Point3s{{X: 1}, {X: 2}, {X: 3}}
	colors := []pointcloud.RGB{{Red: 1}, {Red: 2}}
	c.emitFrame(false, vertices, colors, false)

	e := <-c.events
	got, ok := e.(latestFrameEvent)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, len(got.vertices), test.ShouldEqual, 2)
	test.That(t, len(got.colors), test.ShouldEqual, 2)
}

func TestRecordAndReadBackThroughPipeline(t *testing.T) {
	src := quadFrameSource()
	c := newTestClient(t, src)
	c.applySettings(wideBounds())

	c.recordFrameActive = true
	c.updateFrame()
	test.That(t, c.recordFrameActive, test.ShouldBeFalse)

	e := <-c.events
	_, ok := e.(recordedEvent)
	test.That(t, ok, test.ShouldBeTrue)

	c.handleRequest(requestRecordedFrame{})
	got := (<-c.events).(recordedFrameEvent)
	test.That(t, got.noMoreFrames, test.ShouldBeFalse)
	test.That(t, len(got.vertices), test.ShouldEqual, 4)

	// The recording holds a single frame; the next read reports exhaustion.
	c.handleRequest(requestRecordedFrame{})
	got = (<-c.events).(recordedFrameEvent)
	test.That(t, got.noMoreFrames, test.ShouldBeTrue)
}

func TestStartStopLifecycle(t *testing.T) {
	src := quadFrameSource()
	src.initialized = false

	var mu sync.Mutex
	var serial string
	frames := make(chan int, 1)

	c, err := New(0, src, Callbacks{
		SendSerialNumber: func(idx int, s string) {
			mu.Lock()
			serial = s
			mu.Unlock()
		},
		SendLatestFrame: func(idx int, vertices []pointcloud.Point3s, colors []pointcloud.RGB) {
			select {
			case frames <- len(vertices):
			default:
			}
		},
	}, Options{
		DataDir:          t.TempDir(),
		VoxelSize:        0.001,
		GridCenter:       r3.Vector{Z: 1},
		GridHalfRange:    0.05,
		DensityMinPoints: 1,
	}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	c.SetSettings(wideBounds())
	c.Start()

	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		got := serial
		mu.Unlock()
		if got != "" || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	test.That(t, serial, test.ShouldEqual, "STUB42")
	mu.Unlock()

	c.RequestLatestFrame()
	select {
	case n := <-frames:
		test.That(t, n, test.ShouldBeGreaterThanOrEqualTo, 0)
	case <-time.After(5 * time.Second):
		t.Fatal("no latest frame callback")
	}

	c.Stop()
}

func writeCalibrationFile(t *testing.T, dir, serial, content string) {
	t.Helper()
	err := os.WriteFile(filepath.Join(dir, fmt.Sprintf("calibration_%s.txt", serial)), []byte(content), 0o600)
	test.That(t, err, test.ShouldBeNil)
}
