package client

import (
	"github.com/volcap/scanclient/capture"
)

// enableSync applies a host sync-state change: 0 subordinate, 1 master,
// 2 standalone. Transitioning into the current state still re-initializes
// and still confirms.
func (c *Client) enableSync(state, offset int) {
	switch state {
	case 0:
		c.transitionTo(capture.Subordinate, offset)
	case 1:
		c.syncState = capture.Master
		// The master must stay closed until every subordinate is live; the
		// host sends StartMaster once they have all confirmed.
		if err := c.source.Close(); err != nil {
			c.logger.Errorw("master device failed to close", "error", err)
			return
		}
		c.emit(syncStateEvent{state: c.syncState})
	case 2:
		c.transitionTo(capture.Standalone, 0)
	default:
		c.logger.Warnf("ignoring unknown sync state %d", state)
	}
}

// transitionTo closes and re-initializes the device in the given role, then
// confirms the new state upstream.
func (c *Client) transitionTo(state capture.SyncState, offset int) {
	c.syncState = state

	if err := c.source.Close(); err != nil {
		c.logger.Errorw("device failed to close for sync transition",
			"target", state.String(), "error", err)
		return
	}
	if err := c.source.Initialize(state, offset); err != nil {
		c.logger.Errorw("device failed to reinitialize",
			"target", state.String(), "error", err)
		return
	}
	c.emit(syncStateEvent{state: c.syncState})
}

// startMaster restarts a closed master once the host reports all
// subordinates ready.
func (c *Client) startMaster() {
	if c.syncState != capture.Master {
		return
	}
	if err := c.source.Initialize(capture.Master, 0); err != nil {
		c.logger.Errorw("master device failed to reinitialize", "error", err)
		return
	}
	c.emit(masterRestartEvent{})
}
