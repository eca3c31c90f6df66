package client

import (
	"context"

	"github.com/volcap/scanclient/capture"
	"github.com/volcap/scanclient/pointcloud"
	"github.com/volcap/scanclient/rimage"
	"github.com/volcap/scanclient/spatialmath"
)

// Events flow from the pipeline (and the document worker) to the
// confirmation goroutine over a bounded channel and reach the host callbacks
// in submission order, each at most once (see emit for when one is dropped).
type event interface{}

type (
	serialNumberEvent struct{ serial string }
	recordedEvent     struct{}
	calibratedEvent   struct {
		markerID int
		world    spatialmath.Pose
	}
	latestFrameEvent struct {
		vertices []pointcloud.Point3s
		colors   []pointcloud.RGB
	}
	recordedFrameEvent struct {
		vertices     []pointcloud.Point3s
		colors       []pointcloud.RGB
		noMoreFrames bool
	}
	syncStateEvent     struct{ state capture.SyncState }
	masterRestartEvent struct{}
	documentEvent      struct {
		img           *rimage.Image
		score         float64
		width, height int
	}
)

// emit enqueues an event without ever blocking the pipeline; when the
// confirmation side cannot keep up the event is dropped, which is no lossier
// than the coalescing boolean flags this channel replaced.
func (c *Client) emit(e event) {
	select {
	case c.events <- e:
	default:
		c.logger.Warnf("confirmation queue full, dropping %T", e)
	}
}

// emitFrame snapshots a frame into an event, trimming to the shorter slice
// when the vertex and color counts disagree.
func (c *Client) emitFrame(recorded bool, vertices []pointcloud.Point3s, colors []pointcloud.RGB, noMore bool) {
	count := len(vertices)
	if len(colors) != count {
		c.logger.Warnf("size mismatch: %d vertices and %d colors; sending the smaller count",
			count, len(colors))
		if len(colors) < count {
			count = len(colors)
		}
	}

	v := make([]pointcloud.Point3s, count)
	copy(v, vertices[:count])
	cl := make([]pointcloud.RGB, count)
	copy(cl, colors[:count])

	if recorded {
		c.emit(recordedFrameEvent{vertices: v, colors: cl, noMoreFrames: noMore})
		return
	}
	c.emit(latestFrameEvent{vertices: v, colors: cl})
}

// runConfirmations is the confirmation goroutine: it forwards events to the
// host callbacks one at a time.
func (c *Client) runConfirmations(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-c.events:
			c.dispatch(e)
		}
	}
}

func (c *Client) dispatch(e event) {
	switch ev := e.(type) {
	case serialNumberEvent:
		if c.callbacks.SendSerialNumber != nil {
			c.callbacks.SendSerialNumber(c.index, ev.serial)
		}
	case recordedEvent:
		if c.callbacks.ConfirmRecorded != nil {
			c.callbacks.ConfirmRecorded(c.index)
		}
	case calibratedEvent:
		if c.callbacks.ConfirmCalibrated != nil {
			c.callbacks.ConfirmCalibrated(c.index, ev.markerID, ev.world)
		}
	case latestFrameEvent:
		if c.callbacks.SendLatestFrame != nil {
			c.callbacks.SendLatestFrame(c.index, ev.vertices, ev.colors)
		}
	case recordedFrameEvent:
		if c.callbacks.SendRecordedFrame != nil {
			c.callbacks.SendRecordedFrame(c.index, ev.vertices, ev.colors, ev.noMoreFrames)
		}
	case syncStateEvent:
		if c.callbacks.ConfirmSyncState != nil {
			c.callbacks.ConfirmSyncState(c.index, ev.state)
		}
	case masterRestartEvent:
		if c.callbacks.ConfirmMasterRestart != nil {
			c.callbacks.ConfirmMasterRestart(c.index)
		}
	case documentEvent:
		if c.callbacks.SendDocument != nil {
			c.callbacks.SendDocument(c.index, ev.img, ev.score, ev.width, ev.height)
		}
	}
}
