package phy

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestPathLoss(t *testing.T) {
	assert := require.New(t)

	assert.Equal(0.0, PathLoss(0, 2.7, 868.1e6, 0))
	assert.Equal(0.0, PathLoss(-5, 2.7, 868.1e6, 0))

	// Below one meter the distance term clamps to the reference loss.
	pl0 := 32.45 + 20*math.Log10(868.1) - 60.0
	assert.InDelta(pl0, PathLoss(0.5, 2.7, 868.1e6, 0), 1e-9)
	assert.InDelta(pl0, PathLoss(1, 2.7, 868.1e6, 0), 1e-9)

	// Loss grows with distance and the system loss adds linearly.
	assert.Greater(PathLoss(1000, 2.7, 868.1e6, 0), PathLoss(100, 2.7, 868.1e6, 0))
	assert.InDelta(PathLoss(100, 2.7, 868.1e6, 0)+3, PathLoss(100, 2.7, 868.1e6, 3), 1e-9)
}

func TestThermalNoise(t *testing.T) {
	assert := require.New(t)
	assert.InDelta(-123.03, ThermalNoiseDBm(125000), 0.01)
	assert.InDelta(-124.53, Sensitivity(125000, 6.0, -7.5), 0.01)
}

func TestAlignmentPenalty(t *testing.T) {
	assert := require.New(t)

	// Perfect alignment costs nothing.
	assert.Equal(0.0, AlignmentPenaltyDB(0, 0, 7, 125000))

	// A full half-bandwidth and a full symbol off at once is unrecoverable.
	symbolTime := SymbolDuration(7, 125000)
	assert.True(math.IsInf(AlignmentPenaltyDB(62500, symbolTime, 7, 125000), 1))

	// Partial misalignment degrades but keeps the signal.
	p := AlignmentPenaltyDB(31250, 0, 7, 125000)
	assert.InDelta(10*math.Log10(1.25), p, 1e-9)
}

func TestCapture(t *testing.T) {
	assert := require.New(t)

	assert.Empty(Capture(nil, 6))
	assert.Equal([]bool{true}, Capture([]float64{-100}, 6))

	// Strong leader wins.
	assert.Equal([]bool{true, false}, Capture([]float64{-80, -90}, 6))
	assert.Equal([]bool{false, true}, Capture([]float64{-90, -80}, 6))

	// Sub-threshold lead or tie loses everything.
	assert.Equal([]bool{false, false}, Capture([]float64{-80, -82}, 6))
	assert.Equal([]bool{false, false}, Capture([]float64{-85, -85}, 6))

	// Only the strongest can win a pile-up.
	assert.Equal([]bool{false, true, false}, Capture([]float64{-95, -80, -90}, 6))
}

func TestCaptureProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(t, "n")
		rssi := make([]float64, n)
		for i := range rssi {
			rssi[i] = float64(rapid.IntRange(-140, -20).Draw(t, "rssi"))
		}
		threshold := float64(rapid.IntRange(0, 20).Draw(t, "threshold"))

		winners := Capture(rssi, threshold)
		count := 0
		winner := -1
		for i, w := range winners {
			if w {
				count++
				winner = i
			}
		}
		// At most one signal is ever captured, and only a strongest one.
		if count > 1 {
			t.Fatalf("multiple winners: %v", winners)
		}
		if winner >= 0 {
			for i, v := range rssi {
				if i != winner && v > rssi[winner] {
					t.Fatalf("winner %d is not the strongest", winner)
				}
			}
		}
	})
}

func TestModelVariants(t *testing.T) {
	assert := require.New(t)
	rng := rand.New(rand.NewSource(1))

	flora := NewModel(VariantFlora, ModelParams{FineFadingStd: 1.0, NoiseStd: 1.0}, rng)
	assert.Equal(0.0, flora.FineFading())
	assert.Equal(0.0, flora.NoiseVariation())

	omnet := NewModel(VariantOmnet, ModelParams{FineFadingStd: 1.0, Correlation: 0.9}, rng)
	a := omnet.FineFading()
	b := omnet.FineFading()
	if a == 0 && b == 0 {
		t.Fatal("omnet fine fading should vary")
	}
}

func TestModelDisabledImpairments(t *testing.T) {
	assert := require.New(t)
	m := NewModel(VariantFlora, ModelParams{}, rand.New(rand.NewSource(1)))
	assert.Equal(0.0, m.Shadowing())
	assert.Equal(0.0, m.FastFading())
	assert.Equal(0.0, m.TimeVariation())
	assert.Equal(0.0, m.TXPowerJitter())
	assert.Equal(0.0, m.NoiseFloorJitter())
}
