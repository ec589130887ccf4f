package lorawan

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNextBeaconTime(t *testing.T) {
	assert := require.New(t)

	// Drift stretches the beacon grid.
	assert.InDelta(11.0, NextBeaconTime(0.1, 10.0, 0, 0.1, 0), 1e-9)

	// Missed beacons are caught up at the next grid point.
	assert.InDelta(40.0, NextBeaconTime(35.0, 10.0, 0, 0, 2.0), 1e-9)

	// Two missed beacons reach the loss limit: the device resynchronizes on
	// the nominal grid.
	assert.InDelta(40.0, NextBeaconTime(35.0, 10.0, 0, 0.5, 2.0), 1e-9)
}

func TestNextPingSlotTime(t *testing.T) {
	assert := require.New(t)

	// First slot of the beacon period.
	assert.InDelta(100.5, NextPingSlotTime(100.0, 100.0, 120.0, 2.0, 0.5, 0), 1e-9)

	// A request landing exactly on a slot keeps that slot.
	assert.InDelta(102.5, NextPingSlotTime(102.5, 100.0, 120.0, 2.0, 0.5, 0), 1e-9)

	// Between slots the next one is picked.
	assert.InDelta(104.5, NextPingSlotTime(103.0, 100.0, 120.0, 2.0, 0.5, 0), 1e-9)

	// Beacon drift shifts the whole grid.
	assert.InDelta(100.6, NextPingSlotTime(0, 100.0, 120.0, 1.0, 0.5, 0.001), 1e-9)
}
