package phy

import (
	"math"
	"time"

	"github.com/pkg/errors"
)

// CodingRate defines the coding-rate type.
type CodingRate int

// Available coding-rates.
const (
	CodingRate45 CodingRate = 1
	CodingRate46 CodingRate = 2
	CodingRate47 CodingRate = 3
	CodingRate48 CodingRate = 4
)

// Airtime calculates the time on air for a LoRa modulated frame, following
// the Semtech LoRa design guide formula.
func Airtime(payloadSize, sf, bandwidthHz, preambleNumber int, codingRate CodingRate, headerEnabled, lowDataRateOptimization bool) (time.Duration, error) {
	symbolDuration := loraSymbolDuration(sf, bandwidthHz)
	preambleDuration := time.Duration((100*preambleNumber)+425) * symbolDuration / 100

	payloadSymbolNumber, err := PayloadSymbolNumber(payloadSize, sf, codingRate, headerEnabled, lowDataRateOptimization)
	if err != nil {
		return 0, err
	}

	return preambleDuration + (time.Duration(payloadSymbolNumber) * symbolDuration), nil
}

// PayloadSymbolNumber returns the number of symbols that make up the packet
// payload and header.
func PayloadSymbolNumber(payloadSize, sf int, codingRate CodingRate, headerEnabled, lowDataRateOptimization bool) (int, error) {
	var h, de float64

	if codingRate < CodingRate45 || codingRate > CodingRate48 {
		return 0, errors.New("phy: codingRate must be between 1 - 4")
	}

	if lowDataRateOptimization {
		de = 1
	}
	if !headerEnabled {
		h = 1
	}

	pl := float64(payloadSize)
	spreadingFactor := float64(sf)
	cr := float64(codingRate)

	a := 8*pl - 4*spreadingFactor + 28 + 16 - 20*h
	b := 4 * (spreadingFactor - 2*de)
	c := cr + 4

	return int(8 + math.Max(math.Ceil(a/b)*c, 0)), nil
}

func loraSymbolDuration(sf, bandwidthHz int) time.Duration {
	return time.Duration((int64(1) << uint(sf)) * int64(time.Second) / int64(bandwidthHz))
}
