// Command scanclient runs one capture client against the fake device and
// prints what the host would receive. It exists for local smoke testing
// without hardware.
package main

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"

	"github.com/volcap/scanclient/capture"
	"github.com/volcap/scanclient/capture/fake"
	"github.com/volcap/scanclient/client"
	"github.com/volcap/scanclient/logging"
	"github.com/volcap/scanclient/pointcloud"
	"github.com/volcap/scanclient/spatialmath"
)

func main() {
	logger := logging.NewDebugLogger("scanclient")

	enumerator := fake.NewEnumerator("FAKE0001")
	manager := capture.NewManager(enumerator, 0, nil, clock.New(), logger.Sublogger("capture"))

	callbacks := client.Callbacks{
		SendSerialNumber: func(idx int, serial string) {
			logger.Infow("serial number", "client", idx, "serial", serial)
		},
		SendLatestFrame: func(idx int, vertices []pointcloud.Point3s, colors []pointcloud.RGB) {
			logger.Infow("latest frame", "client", idx, "points", len(vertices))
		},
		ConfirmCalibrated: func(idx, markerID int, world spatialmath.Pose) {
			logger.Infow("calibrated", "client", idx, "markerID", markerID, "worldT", world.T)
		},
		ConfirmSyncState: func(idx int, state capture.SyncState) {
			logger.Infow("sync state confirmed", "client", idx, "state", state.String())
		},
	}

	c, err := client.New(0, manager, callbacks, client.Options{
		GridCenter:    r3.Vector{Z: 1},
		GridHalfRange: 1.5,
		VoxelSize:     0.005,
	}, logger)
	if err != nil {
		logger.Errorw("cannot create client", "error", err)
		return
	}

	c.Start()
	defer c.Stop()

	time.Sleep(2 * time.Second)
	c.RequestLatestFrame()
	time.Sleep(500 * time.Millisecond)
}
