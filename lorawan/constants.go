package lorawan

// RequiredSNR gives the demodulation-floor SNR in dB per spreading factor.
var RequiredSNR = map[int]float64{
	7:  -7.5,
	8:  -10.0,
	9:  -12.5,
	10: -15.0,
	11: -17.5,
	12: -20.0,
}

// ADR parameters.
const (
	// MarginDB is the installation margin used by the network-server ADR
	// algorithm.
	MarginDB = 15.0

	// PERThreshold is the packet-error-rate above which the device-side ADR
	// backoff triggers.
	PERThreshold = 0.1

	// ADRAckLimit is the number of uplinks without any downlink after which
	// a device sets the ADRACKReq flag.
	ADRAckLimit = 64
)

// Device transmit-power bounds in dBm.
const (
	TXMinDBm = 2.0
	TXMaxDBm = 20.0
)

// SFMin and SFMax bound the LoRa spreading factor range.
const (
	SFMin = 7
	SFMax = 12
)

// SFToDR maps a spreading factor to the EU868 data-rate index.
var SFToDR = map[int]int{
	12: 0,
	11: 1,
	10: 2,
	9:  3,
	8:  4,
	7:  5,
}

// DRToSF is the inverse of SFToDR.
var DRToSF = map[int]int{
	0: 12,
	1: 11,
	2: 10,
	3: 9,
	4: 8,
	5: 7,
}

// TXPowerIndexToDBm maps the EU868 TX-power index to dBm. Index 0 is the
// maximum, each step lowers the power by 2 dB.
var TXPowerIndexToDBm = map[int]float64{
	0: 14.0,
	1: 12.0,
	2: 10.0,
	3: 8.0,
	4: 6.0,
	5: 4.0,
	6: 2.0,
	7: 0.0,
}

// DBmToTXPowerIndex is the inverse of TXPowerIndexToDBm.
var DBmToTXPowerIndex = map[int]int{
	14: 0,
	12: 1,
	10: 2,
	8:  3,
	6:  4,
	4:  5,
	2:  6,
	0:  7,
}

// MaxTXPowerIndex is the highest valid EU868 TX-power index.
const MaxTXPowerIndex = 7

// Class A receive-window defaults in seconds.
const (
	ReceiveDelay1 = 1.0
	ReceiveDelay2 = 2.0
)

// Class B defaults.
const (
	// BeaconInterval is the beacon period in seconds.
	BeaconInterval = 128.0

	// BeaconReserved is the guard time at the start of each beacon period
	// before the first ping slot.
	BeaconReserved = 2.12
)
