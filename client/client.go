// Package client is the per-camera capture client: it owns one capture
// source, runs the per-frame point-cloud pipeline, manages marker
// calibration and frame recording, and reports results to the host through
// registered callbacks.
package client

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"go.viam.com/utils"

	"github.com/volcap/scanclient/calib"
	"github.com/volcap/scanclient/capture"
	"github.com/volcap/scanclient/document"
	"github.com/volcap/scanclient/frameio"
	"github.com/volcap/scanclient/logging"
	"github.com/volcap/scanclient/pointcloud"
	"github.com/volcap/scanclient/rimage"
	"github.com/volcap/scanclient/spatialmath"
)

// Source is what the pipeline needs from a capture adapter; implemented by
// capture.Manager.
type Source interface {
	Initialize(state capture.SyncState, syncOffset int) error
	IsInitialized() bool
	AcquireFrame(calibrationRequested bool) bool
	SetExposureState(auto bool, step int)
	Close() error

	SerialNumber() string
	TimeStamp() uint64
	DeviceIndex() int
	DepthDimensions() (width, height int)
	Vertices() []pointcloud.Point3f
	Colors() []pointcloud.RGB
}

// Callbacks is the event surface the host registers. Nil entries are
// skipped.
type Callbacks struct {
	SendSerialNumber     func(clientIndex int, serial string)
	ConfirmRecorded      func(clientIndex int)
	ConfirmCalibrated    func(clientIndex, markerID int, world spatialmath.Pose)
	SendLatestFrame      func(clientIndex int, vertices []pointcloud.Point3s, colors []pointcloud.RGB)
	SendRecordedFrame    func(clientIndex int, vertices []pointcloud.Point3s, colors []pointcloud.RGB, noMoreFrames bool)
	ConfirmSyncState     func(clientIndex int, state capture.SyncState)
	ConfirmMasterRestart func(clientIndex int)
	SendDocument         func(clientIndex int, img *rimage.Image, score float64, width, height int)
}

// CameraSettings is the tunable state the host pushes down.
type CameraSettings struct {
	MinBounds r3.Vector
	MaxBounds r3.Vector

	FilterEnabled   bool
	FilterNeighbors int
	FilterThreshold float64

	MarkerPoses []calib.MarkerPose

	AutoExposureEnabled bool
	ExposureStep        int
}

// Options tune a client's fixed resources.
type Options struct {
	// DataDir holds calibration files and recordings. Defaults to ".".
	DataDir string

	// Occupancy grid geometry for per-frame deduplication.
	VoxelSize     float64
	GridCenter    r3.Vector
	GridHalfRange float64

	// Coarse density pass tuning.
	DensityVoxelSize float64
	DensityMinPoints int

	// DocumentDetector, when set, feeds SendDocument through change gating.
	DocumentDetector *document.Detector

	// Clock defaults to the wall clock; tests inject a mock.
	Clock clock.Clock
}

func (o *Options) fillDefaults() {
	if o.DataDir == "" {
		o.DataDir = "."
	}
	if o.VoxelSize == 0 {
		o.VoxelSize = 0.002
	}
	if o.GridHalfRange == 0 {
		o.GridHalfRange = 0.5
	}
	if o.DensityVoxelSize == 0 {
		o.DensityVoxelSize = pointcloud.DensityVoxelSize
	}
	if o.DensityMinPoints == 0 {
		o.DensityMinPoints = pointcloud.DensityMinOccupants
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
}

// Client binds one capture source to the host. Control-surface methods are
// safe to call from any goroutine; they enqueue requests the pipeline
// consumes at frame boundaries, in order.
type Client struct {
	logger    logging.Logger
	index     int
	source    Source
	callbacks Callbacks
	opts      Options
	clock     clock.Clock

	cal    *calib.Calibration
	frames *frameio.Handler

	requests chan request
	events   chan event

	occupancy *pointcloud.OccupancyGrid

	// Pipeline-owned state below; only touched on the pipeline goroutine.
	bounds          [2]r3.Vector
	filterEnabled   bool
	filterNeighbors int
	filterThreshold float64

	syncState capture.SyncState

	calibrateActive   bool
	recordFrameActive bool

	lastVertices []pointcloud.Point3s
	lastColors   []pointcloud.RGB

	scratch []pointcloud.Point3f

	// Document gating state, owned by the detector worker goroutine.
	docMu           sync.Mutex
	lastDocImage    *rimage.Image
	lastDocScore    float64
	lastDocSendTime int64 // unix ms, 0 = never

	cancel      context.CancelFunc
	workers     sync.WaitGroup
	started     bool
	lifecycleMu sync.Mutex
}

// New creates a client; Start begins capturing.
func New(index int, source Source, callbacks Callbacks, opts Options, logger logging.Logger) (*Client, error) {
	opts.fillDefaults()

	grid, err := pointcloud.NewOccupancyGrid(
		opts.VoxelSize, opts.GridCenter.X, opts.GridCenter.Y, opts.GridCenter.Z, opts.GridHalfRange)
	if err != nil {
		return nil, err
	}

	c := &Client{
		logger:    logger,
		index:     index,
		source:    source,
		callbacks: callbacks,
		opts:      opts,
		clock:     opts.Clock,
		cal:       calib.New(logger.Sublogger("calib")),
		frames:    frameio.NewHandler(opts.DataDir, logger.Sublogger("frameio")),
		requests:  make(chan request, 32),
		events:    make(chan event, 32),
		occupancy: grid,
		bounds: [2]r3.Vector{
			{X: -0.5, Y: -0.5, Z: -0.5},
			{X: 0.5, Y: 0.5, Z: 0.5},
		},
		filterNeighbors: 10,
		filterThreshold: 0.01,
		syncState:       capture.Standalone,
	}
	if opts.DocumentDetector != nil {
		opts.DocumentDetector.SetCallback(c.onDocumentDetected)
	}
	return c, nil
}

// Start initializes the device standalone and launches the pipeline and
// confirmation goroutines. Device failure is logged, not fatal: the client
// runs and retries nothing until a sync transition re-initializes it.
func (c *Client) Start() {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	if c.started {
		return
	}
	c.started = true

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.workers.Add(2)
	utils.PanicCapturingGo(func() {
		defer c.workers.Done()
		c.runPipeline(ctx)
	})
	utils.PanicCapturingGo(func() {
		defer c.workers.Done()
		c.runConfirmations(ctx)
	})
}

// Stop halts both goroutines at the next frame boundary, closes the device,
// and releases the recording file. The client cannot be restarted.
func (c *Client) Stop() {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	if !c.started || c.cancel == nil {
		return
	}
	c.cancel()
	c.workers.Wait()
	c.cancel = nil

	if c.opts.DocumentDetector != nil {
		c.opts.DocumentDetector.Close()
	}
	if c.source.IsInitialized() {
		if err := c.source.Close(); err != nil {
			c.logger.Warnw("closing capture source failed", "error", err)
		}
	}
	if err := c.frames.Close(); err != nil {
		c.logger.Warnw("closing recording failed", "error", err)
	}
}
