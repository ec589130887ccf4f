package lorawan

import "math"

// NextBeaconTime returns the first beacon time strictly after the given
// instant. The beacon grid starts at lastBeacon and advances by
// interval*(1+drift) per period. When lossLimit > 0 and at least lossLimit
// beacons have been missed, the device is assumed to resynchronize and the
// accumulated drift is discarded.
func NextBeaconTime(after, interval, lastBeacon, drift, lossLimit float64) float64 {
	if interval <= 0 {
		return after
	}
	step := interval * (1 + drift)
	n := math.Floor((after-lastBeacon)/step) + 1
	if n < 1 {
		n = 1
	}
	if lossLimit > 0 && n > lossLimit {
		n = math.Floor((after-lastBeacon)/interval) + 1
		if n < 1 {
			n = 1
		}
		return lastBeacon + n*interval
	}
	return lastBeacon + n*step
}

// NextPingSlotTime returns the first Class-B ping slot at or after now. Slots
// start pingSlotOffset after each (drift-corrected) beacon and repeat every
// pingSlotInterval within the beacon period.
func NextPingSlotTime(now, lastBeacon, beaconInterval, pingSlotInterval, pingSlotOffset, drift float64) float64 {
	if pingSlotInterval <= 0 {
		return now
	}
	beaconStart := lastBeacon * (1 + drift)
	for {
		base := beaconStart + pingSlotOffset
		if now <= base {
			return base
		}
		k := math.Ceil((now - base) / pingSlotInterval)
		t := base + k*pingSlotInterval
		if beaconInterval <= 0 || t < beaconStart+beaconInterval {
			return t
		}
		beaconStart += beaconInterval
	}
}
