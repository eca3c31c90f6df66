package client

import (
	"github.com/volcap/scanclient/spatialmath"
)

// Control-surface requests travel to the pipeline goroutine over a bounded
// channel and are handled at frame boundaries, in submission order, each
// exactly once.
type request interface{}

type (
	startFrameRecordingRequest struct{}
	calibrateRequest           struct{}
	setSettingsRequest         struct{ settings CameraSettings }
	requestRecordedFrame       struct{}
	requestLatestFrame         struct{}
	receiveCalibrationRequest  struct{ world spatialmath.Pose }
	clearRecordedFramesRequest struct{}
	enableSyncRequest          struct {
		state  int
		offset int
	}
	disableSyncRequest struct{}
	startMasterRequest struct{}
)

func (c *Client) submit(r request) {
	c.requests <- r
}

// StartFrameRecording records the next processed frame to the recording
// file and confirms through ConfirmRecorded.
func (c *Client) StartFrameRecording() { c.submit(startFrameRecordingRequest{}) }

// Calibrate begins marker calibration; it stays active until a calibration
// succeeds, then confirms through ConfirmCalibrated.
func (c *Client) Calibrate() { c.submit(calibrateRequest{}) }

// SetSettings replaces bounds, filter tuning, marker poses, and exposure.
func (c *Client) SetSettings(settings CameraSettings) {
	c.submit(setSettingsRequest{settings: settings})
}

// RequestRecordedFrame reads the next frame of the current recording and
// sends it through SendRecordedFrame; noMoreFrames marks exhaustion.
func (c *Client) RequestRecordedFrame() { c.submit(requestRecordedFrame{}) }

// RequestLatestFrame sends the most recent processed frame through
// SendLatestFrame.
func (c *Client) RequestLatestFrame() { c.submit(requestLatestFrame{}) }

// ReceiveCalibration overwrites the world transform, e.g. after the server
// refines it with ICP across clients.
func (c *Client) ReceiveCalibration(world spatialmath.Pose) {
	c.submit(receiveCalibrationRequest{world: world})
}

// ClearRecordedFrames closes the recording so the next one starts fresh.
func (c *Client) ClearRecordedFrames() { c.submit(clearRecordedFramesRequest{}) }

// EnableSync transitions the device role: 0 subordinate, 1 master,
// 2 standalone. Subordinates re-initialize immediately; a master stays
// closed until StartMaster.
func (c *Client) EnableSync(state, offset int) {
	c.submit(enableSyncRequest{state: state, offset: offset})
}

// DisableSync returns the device to standalone.
func (c *Client) DisableSync() { c.submit(disableSyncRequest{}) }

// StartMaster re-initializes a master device once every subordinate has
// confirmed; confirmed through ConfirmMasterRestart.
func (c *Client) StartMaster() { c.submit(startMasterRequest{}) }
