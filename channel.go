package loransim

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/rot226/loransim/lorawan"
	"github.com/rot226/loransim/phy"
)

// Channel models one radio channel: its frequency, bandwidth, propagation
// parameters and the stochastic impairments of the selected PHY variant.
type Channel struct {
	FrequencyHz int
	BandwidthHz int
	CodingRate  phy.CodingRate

	PathLossExponent float64
	SystemLossDB     float64
	NoiseFigureDB    float64
	InterferenceDB   float64

	TXAntennaGainDB float64
	RXAntennaGainDB float64
	CableLossDB     float64

	RSSIOffsetDB       float64
	SNROffsetDB        float64
	CaptureThresholdDB float64

	FreqOffsetHz float64
	SyncOffsetS  float64

	ShadowingStd     float64
	FastFadingStd    float64
	TimeVariationStd float64
	FineFadingStd    float64
	NoiseFloorStd    float64
	TXPowerStd       float64
	Correlation      float64

	Variant        phy.Variant
	PreambleLength int

	// Sensitivity maps a spreading factor to the receiver sensitivity in
	// dBm. When empty it is derived from the thermal floor at init.
	Sensitivity map[int]float64

	model *phy.Model
}

// DefaultChannel returns an EU868 125 kHz channel with the usual log-distance
// propagation parameters and all stochastic impairments disabled.
func DefaultChannel() *Channel {
	return &Channel{
		FrequencyHz:        868100000,
		BandwidthHz:        125000,
		CodingRate:         phy.CodingRate45,
		PathLossExponent:   2.7,
		NoiseFigureDB:      6.0,
		CaptureThresholdDB: 6.0,
		Variant:            phy.VariantFlora,
		PreambleLength:     8,
	}
}

// init validates the channel, fills derived defaults and binds the
// stochastic model to the simulator's random source.
func (c *Channel) init(rng *rand.Rand) error {
	if c.FrequencyHz <= 0 {
		return errors.New("loransim: channel frequency must be positive")
	}
	if c.BandwidthHz <= 0 {
		return errors.New("loransim: channel bandwidth must be positive")
	}
	if c.CodingRate == 0 {
		c.CodingRate = phy.CodingRate45
	}
	if c.CodingRate < phy.CodingRate45 || c.CodingRate > phy.CodingRate48 {
		return errors.Errorf("loransim: invalid coding rate %d", c.CodingRate)
	}
	if c.PreambleLength <= 0 {
		c.PreambleLength = 8
	}
	if c.Variant == "" {
		c.Variant = phy.VariantFlora
	}
	if c.Variant != phy.VariantFlora && c.Variant != phy.VariantOmnet {
		return errors.Errorf("loransim: unknown PHY variant %q", c.Variant)
	}
	if len(c.Sensitivity) == 0 {
		c.Sensitivity = make(map[int]float64)
		for sf := lorawan.SFMin; sf <= lorawan.SFMax; sf++ {
			c.Sensitivity[sf] = phy.Sensitivity(float64(c.BandwidthHz), c.NoiseFigureDB, lorawan.RequiredSNR[sf])
		}
	}
	c.model = phy.NewModel(c.Variant, phy.ModelParams{
		ShadowingStd:     c.ShadowingStd,
		FastFadingStd:    c.FastFadingStd,
		TimeVariationStd: c.TimeVariationStd,
		FineFadingStd:    c.FineFadingStd,
		Correlation:      c.Correlation,
		NoiseStd:         c.NoiseFloorStd,
		NoiseFloorStd:    c.NoiseFloorStd,
		TXPowerStd:       c.TXPowerStd,
	}, rng)
	return nil
}

// Airtime returns the on-air duration in seconds of a frame at the given
// spreading factor and payload size.
func (c *Channel) Airtime(sf, payloadBytes int) float64 {
	ldro := sf >= 11 && c.BandwidthHz <= 125000
	d, err := phy.Airtime(payloadBytes, sf, c.BandwidthHz, c.PreambleLength, c.CodingRate, true, ldro)
	if err != nil {
		return 0
	}
	return d.Seconds()
}

// NoiseFloorDBm returns the noise floor including the variant's optional
// perturbations.
func (c *Channel) NoiseFloorDBm() float64 {
	noise := phy.ThermalNoiseDBm(float64(c.BandwidthHz)) + c.NoiseFigureDB + c.InterferenceDB
	if c.model != nil {
		noise += c.model.NoiseFloorJitter()
		noise += c.model.NoiseVariation()
	}
	return noise
}

// SensitivityDBm returns the receiver sensitivity for the given spreading
// factor, -Inf when unknown.
func (c *Channel) SensitivityDBm(sf int) float64 {
	if s, ok := c.Sensitivity[sf]; ok {
		return s
	}
	return math.Inf(-1)
}

// ComputeRSSI returns the received power and SNR of a transmission at the
// given power and distance. A non-positive sf skips the spreading gain and
// uses a single-chip symbol for the alignment penalty.
func (c *Channel) ComputeRSSI(txPowerDBm, distance float64, sf int) (rssi, snr float64) {
	loss := phy.PathLoss(distance, c.PathLossExponent, float64(c.FrequencyHz), c.SystemLossDB)
	if c.model != nil {
		loss += c.model.Shadowing()
	}

	rssi = txPowerDBm + c.TXAntennaGainDB + c.RXAntennaGainDB - loss - c.CableLossDB
	if c.model != nil {
		rssi += c.model.TXPowerJitter()
		rssi += c.model.FastFading()
		rssi += c.model.TimeVariation()
		rssi += c.model.FineFading()
	}
	rssi += c.RSSIOffsetDB

	snr = rssi - c.NoiseFloorDBm() + c.SNROffsetDB
	snr -= phy.AlignmentPenaltyDB(c.FreqOffsetHz, c.SyncOffsetS, sf, float64(c.BandwidthHz))
	if sf > 0 {
		snr += phy.SpreadingGainDB(sf)
	}
	return rssi, snr
}

// Distribution selects how MultiChannel assigns channels to nodes.
type Distribution string

// Available channel distributions.
const (
	DistributionRoundRobin Distribution = "round-robin"
	DistributionRandom     Distribution = "random"
)

// MultiChannel holds an ordered set of channels and hands them out to nodes
// either round-robin or at random.
type MultiChannel struct {
	Channels []*Channel

	method Distribution
	cursor int
	rng    *rand.Rand
}

// NewMultiChannel creates a MultiChannel over the given channels.
func NewMultiChannel(channels []*Channel, method Distribution, rng *rand.Rand) (*MultiChannel, error) {
	if len(channels) == 0 {
		return nil, errors.New("loransim: at least one channel is required")
	}
	if method == "" {
		method = DistributionRoundRobin
	}
	if method != DistributionRoundRobin && method != DistributionRandom {
		return nil, errors.Errorf("loransim: unknown channel distribution %q", method)
	}
	return &MultiChannel{Channels: channels, method: method, rng: rng}, nil
}

// SelectMask returns the next channel whose index bit is set in the 16-bit
// channel mask, advancing the round-robin cursor. When the mask enables none
// of the configured channels the first channel is returned.
func (m *MultiChannel) SelectMask(mask uint16) *Channel {
	n := len(m.Channels)
	if m.method == DistributionRandom {
		allowed := make([]*Channel, 0, n)
		for i, ch := range m.Channels {
			if i < 16 && mask&(1<<uint(i)) != 0 {
				allowed = append(allowed, ch)
			}
		}
		if len(allowed) == 0 {
			return m.Channels[0]
		}
		return allowed[m.rng.Intn(len(allowed))]
	}
	for i := 0; i < n; i++ {
		idx := (m.cursor + i) % n
		if idx < 16 && mask&(1<<uint(idx)) != 0 {
			m.cursor = (idx + 1) % n
			return m.Channels[idx]
		}
	}
	return m.Channels[0]
}
