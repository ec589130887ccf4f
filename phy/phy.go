// Package phy provides the pure radio-layer math of the simulator: path
// loss, noise floor, RSSI/SNR computation, the inter-signal capture decision
// and the LoRa time-on-air formula.
package phy

import (
	"math"
	"math/rand"
	"sort"
)

// Boltzmann constant times the reference temperature expressed in dBm/Hz
// (kT at 290 K is -174 dBm/Hz).
const thermalNoiseDensityDBm = -174.0

// PathLoss returns the log-distance path loss in dB for the given distance
// in meters. The reference loss at 1 m follows the free-space formula at the
// carrier frequency. Distances of 0 or less yield no loss.
func PathLoss(distance, exponent, freqHz, systemLossDB float64) float64 {
	if distance <= 0 {
		return 0
	}
	freqMHz := freqHz / 1e6
	pl0 := 32.45 + 20*math.Log10(freqMHz) - 60.0
	loss := pl0 + 10*exponent*math.Log10(math.Max(distance, 1.0))
	return loss + systemLossDB
}

// ThermalNoiseDBm returns the thermal noise power for the given bandwidth in
// Hz.
func ThermalNoiseDBm(bandwidthHz float64) float64 {
	return thermalNoiseDensityDBm + 10*math.Log10(bandwidthHz)
}

// Sensitivity returns the receiver sensitivity in dBm for the given
// bandwidth in Hz, noise figure and demodulation-floor SNR.
func Sensitivity(bandwidthHz, noiseFigureDB, requiredSNR float64) float64 {
	return ThermalNoiseDBm(bandwidthHz) + noiseFigureDB + requiredSNR
}

// SymbolDuration returns the LoRa symbol time in seconds.
func SymbolDuration(sf int, bandwidthHz float64) float64 {
	return float64(int(1)<<uint(sf)) / bandwidthHz
}

// SpreadingGainDB returns the processing gain of the given spreading factor.
func SpreadingGainDB(sf int) float64 {
	return 10 * math.Log10(float64(int(1)<<uint(sf)))
}

// AlignmentPenaltyDB returns the SNR penalty for imperfect frequency and
// time alignment between transmitter and receiver. A signal that is off by a
// full half-bandwidth and a full symbol at once is unrecoverable and the
// penalty is +Inf.
func AlignmentPenaltyDB(freqOffsetHz, syncOffsetS float64, sf int, bandwidthHz float64) float64 {
	freqFactor := math.Abs(freqOffsetHz) / (bandwidthHz / 2.0)
	symbolTime := 1.0 / bandwidthHz
	if sf > 0 {
		symbolTime = SymbolDuration(sf, bandwidthHz)
	}
	timeFactor := math.Abs(syncOffsetS) / symbolTime
	if freqFactor >= 1.0 && timeFactor >= 1.0 {
		return math.Inf(1)
	}
	return 10 * math.Log10(1.0+freqFactor*freqFactor+timeFactor*timeFactor)
}

// Capture decides, for a set of concurrently received RSSI values on the
// same frequency and spreading factor, which signal (if any) is captured.
// The strongest signal wins only when it leads the runner-up by at least
// thresholdDB; ties and sub-threshold leads lose everything.
func Capture(rssi []float64, thresholdDB float64) []bool {
	winners := make([]bool, len(rssi))
	if len(rssi) == 0 {
		return winners
	}
	order := make([]int, len(rssi))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return rssi[order[a]] > rssi[order[b]]
	})
	if len(order) == 1 {
		winners[order[0]] = true
		return winners
	}
	if rssi[order[0]]-rssi[order[1]] >= thresholdDB {
		winners[order[0]] = true
	}
	return winners
}

// gauss draws from a zero-mean normal with the given std, returning 0 for a
// non-positive std so disabled impairments cost nothing.
func gauss(rng *rand.Rand, std float64) float64 {
	if std <= 0 || rng == nil {
		return 0
	}
	return rng.NormFloat64() * std
}
