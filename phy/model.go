package phy

import (
	"math"
	"math/rand"
)

// Variant selects which physical-layer flavour a channel replicates.
type Variant string

// Available PHY variants. The flora variant keeps the memoryless
// impairments only; the omnet variant adds correlated fine fading and a
// slow-varying noise drift.
const (
	VariantFlora Variant = "flora"
	VariantOmnet Variant = "omnet"
)

// ModelParams configures the stochastic impairments of a Model.
type ModelParams struct {
	ShadowingStd     float64
	FastFadingStd    float64
	TimeVariationStd float64
	FineFadingStd    float64
	Correlation      float64
	NoiseStd         float64
	NoiseFloorStd    float64
	TXPowerStd       float64
}

// Model holds the per-channel stochastic link state. The fine-fading and
// noise-drift terms are first-order autoregressive so consecutive samples
// stay correlated, which is what distinguishes the omnet variant.
type Model struct {
	variant Variant
	params  ModelParams
	rng     *rand.Rand

	fineFading float64
	noiseDrift float64
}

// NewModel creates a Model for the given variant, parameters and random
// source.
func NewModel(variant Variant, params ModelParams, rng *rand.Rand) *Model {
	if params.Correlation <= 0 || params.Correlation >= 1 {
		params.Correlation = 0.9
	}
	return &Model{
		variant: variant,
		params:  params,
		rng:     rng,
	}
}

// SetRand replaces the random source, so a simulator can thread its own
// seeded generator through every channel.
func (m *Model) SetRand(rng *rand.Rand) {
	m.rng = rng
}

// Shadowing draws the slow log-normal shadowing term in dB.
func (m *Model) Shadowing() float64 {
	return gauss(m.rng, m.params.ShadowingStd)
}

// FastFading draws the memoryless fast-fading term in dB.
func (m *Model) FastFading() float64 {
	return gauss(m.rng, m.params.FastFadingStd)
}

// TimeVariation draws the slow time-variation term in dB.
func (m *Model) TimeVariation() float64 {
	return gauss(m.rng, m.params.TimeVariationStd)
}

// TXPowerJitter draws the transmitter power jitter in dB.
func (m *Model) TXPowerJitter() float64 {
	return gauss(m.rng, m.params.TXPowerStd)
}

// FineFading advances and returns the correlated fine-fading term in dB.
// The flora variant has none.
func (m *Model) FineFading() float64 {
	if m.variant != VariantOmnet || m.params.FineFadingStd <= 0 {
		return 0
	}
	c := m.params.Correlation
	innovation := gauss(m.rng, m.params.FineFadingStd*math.Sqrt(1-c*c))
	m.fineFading = c*m.fineFading + innovation
	return m.fineFading
}

// NoiseVariation advances and returns the slow noise drift in dB. The flora
// variant has none.
func (m *Model) NoiseVariation() float64 {
	if m.variant != VariantOmnet || m.params.NoiseStd <= 0 {
		return 0
	}
	c := m.params.Correlation
	innovation := gauss(m.rng, m.params.NoiseStd*math.Sqrt(1-c*c))
	m.noiseDrift = c*m.noiseDrift + innovation
	return m.noiseDrift
}

// NoiseFloorJitter draws the memoryless noise-floor perturbation in dB.
func (m *Model) NoiseFloorJitter() float64 {
	return gauss(m.rng, m.params.NoiseFloorStd)
}
