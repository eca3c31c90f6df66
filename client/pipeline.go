package client

import (
	"context"
	"time"

	"go.viam.com/utils"

	"github.com/volcap/scanclient/capture"
	"github.com/volcap/scanclient/pointcloud"
)

// runPipeline is the pipeline goroutine: startup, then a tight
// acquire-process-publish loop, draining control requests at frame
// boundaries.
func (c *Client) runPipeline(ctx context.Context) {
	c.startup()

	for ctx.Err() == nil {
		c.drainRequests()
		if ctx.Err() != nil {
			return
		}
		if !c.source.IsInitialized() {
			// Nothing to capture from; idle until a sync transition or the
			// host re-initializes us.
			utils.SelectContextOrWait(ctx, 100*time.Millisecond)
			continue
		}
		c.updateFrame()
	}
}

// startup initializes standalone, announces the serial, and restores any
// persisted calibration for it.
func (c *Client) startup() {
	if err := c.source.Initialize(capture.Standalone, 0); err != nil {
		c.logger.Errorw("failed to initialize capture device", "error", err)
		return
	}

	c.emit(serialNumberEvent{serial: c.source.SerialNumber()})

	if c.cal.Load(c.opts.DataDir, c.source.SerialNumber()) && c.cal.IsCalibrated() {
		c.emit(calibratedEvent{markerID: c.cal.UsedMarkerID(), world: c.cal.World()})
	}

	c.source.SetExposureState(true, 0)
}

func (c *Client) drainRequests() {
	for {
		select {
		case r := <-c.requests:
			c.handleRequest(r)
		default:
			return
		}
	}
}

func (c *Client) handleRequest(r request) {
	switch req := r.(type) {
	case startFrameRecordingRequest:
		c.recordFrameActive = true
	case calibrateRequest:
		c.calibrateActive = true
	case setSettingsRequest:
		c.applySettings(req.settings)
	case requestLatestFrame:
		c.emitFrame(false, c.lastVertices, c.lastColors, false)
	case requestRecordedFrame:
		points, colors, ok := c.frames.ReadFrame()
		c.emitFrame(true, points, colors, !ok)
	case receiveCalibrationRequest:
		c.cal.SetWorld(req.world)
	case clearRecordedFramesRequest:
		if err := c.frames.Close(); err != nil {
			c.logger.Warnw("closing recording failed", "error", err)
		}
	case enableSyncRequest:
		c.enableSync(req.state, req.offset)
	case disableSyncRequest:
		c.transitionTo(capture.Standalone, 0)
	case startMasterRequest:
		c.startMaster()
	}
}

func (c *Client) applySettings(s CameraSettings) {
	c.bounds[0] = s.MinBounds
	c.bounds[1] = s.MaxBounds
	c.filterEnabled = s.FilterEnabled
	c.filterNeighbors = s.FilterNeighbors
	c.filterThreshold = s.FilterThreshold
	c.cal.SetMarkerPoses(s.MarkerPoses)
	c.source.SetExposureState(s.AutoExposureEnabled, s.ExposureStep)
}

// updateFrame acquires one frame and runs it through processing, recording,
// and calibration.
func (c *Client) updateFrame() {
	if !c.source.AcquireFrame(c.calibrateActive) {
		return
	}

	c.processFrame()

	if c.recordFrameActive {
		err := c.frames.WriteFrame(c.lastVertices, c.lastColors, c.source.TimeStamp(), c.source.DeviceIndex())
		if err != nil {
			c.logger.Errorw("recording frame failed", "error", err)
		} else {
			c.emit(recordedEvent{})
		}
		c.recordFrameActive = false
	}

	if c.calibrateActive {
		width, height := c.source.DepthDimensions()
		if c.cal.Calibrate(c.source.Colors(), c.source.Vertices(), width, height) {
			if err := c.cal.Save(c.opts.DataDir, c.source.SerialNumber()); err != nil {
				c.logger.Warnw("persisting calibration failed", "error", err)
			}
			c.emit(calibratedEvent{markerID: c.cal.UsedMarkerID(), world: c.cal.World()})
			c.calibrateActive = false
		}
	}
}

// processFrame applies the world transform, bounds rejection, voxel
// deduplication, the density pass, optional KNN filtering, and millimeter
// packing, leaving the result as the latest-frame snapshot.
func (c *Client) processFrame() {
	vertices := c.source.Vertices()
	colors := c.source.Colors()

	if cap(c.scratch) < len(vertices) {
		c.scratch = make([]pointcloud.Point3f, len(vertices))
	}
	all := c.scratch[:len(vertices)]

	c.occupancy.Reset()
	world := c.cal.World()
	calibrated := c.cal.IsCalibrated()

	for i, p := range vertices {
		if calibrated {
			v := p.Vector().Add(world.T)
			p = pointcloud.FromVector(world.R.RotatePoint(v))
		}
		if float64(p.X) < c.bounds[0].X || float64(p.X) > c.bounds[1].X ||
			float64(p.Y) < c.bounds[0].Y || float64(p.Y) > c.bounds[1].Y ||
			float64(p.Z) < c.bounds[0].Z || float64(p.Z) > c.bounds[1].Z {
			all[i] = pointcloud.InvalidPoint
			continue
		}
		if !c.occupancy.Insert(float64(p.X), float64(p.Y), float64(p.Z)) {
			all[i] = pointcloud.InvalidPoint
			continue
		}
		all[i] = p
	}

	pointcloud.FilterSparseVoxels(all, c.opts.DensityVoxelSize, c.opts.DensityMinPoints)

	good := make([]pointcloud.Point3f, 0, len(all))
	goodColors := make([]pointcloud.RGB, 0, len(all))
	for i, p := range all {
		if p.Invalid {
			continue
		}
		good = append(good, p)
		goodColors = append(goodColors, colors[i])
	}

	if c.filterEnabled {
		good, goodColors = pointcloud.FilterOutliers(good, goodColors, c.filterNeighbors, c.filterThreshold)
	}

	packed := make([]pointcloud.Point3s, len(good))
	for i, p := range good {
		packed[i] = p.ToShort()
	}

	c.lastVertices = packed
	c.lastColors = goodColors
}
