package loransim

import (
	"math"
	"math/rand"
)

// MobilityModel moves nodes around the simulated area. Step is the interval
// in seconds between MOBILITY events.
type MobilityModel interface {
	Assign(n *Node)
	Move(n *Node, now float64)
	Step() float64
}

// SmoothMobility drives each node towards a random waypoint at a constant
// per-node speed, picking a fresh waypoint and speed on arrival.
type SmoothMobility struct {
	areaSize float64
	minSpeed float64
	maxSpeed float64
	step     float64
	rng      *rand.Rand

	targets  map[int][2]float64
	speeds   map[int]float64
	lastMove map[int]float64
}

// NewSmoothMobility creates a waypoint mobility model over a square area.
func NewSmoothMobility(areaSize, minSpeed, maxSpeed, step float64, rng *rand.Rand) *SmoothMobility {
	if step <= 0 {
		step = 10.0
	}
	return &SmoothMobility{
		areaSize: areaSize,
		minSpeed: minSpeed,
		maxSpeed: maxSpeed,
		step:     step,
		rng:      rng,
		targets:  make(map[int][2]float64),
		speeds:   make(map[int]float64),
		lastMove: make(map[int]float64),
	}
}

// Step returns the seconds between MOBILITY events.
func (m *SmoothMobility) Step() float64 {
	return m.step
}

// Assign gives a node its initial waypoint and speed.
func (m *SmoothMobility) Assign(n *Node) {
	m.retarget(n)
	m.lastMove[n.ID] = 0
}

// Move advances the node towards its waypoint by the time elapsed since its
// previous move.
func (m *SmoothMobility) Move(n *Node, now float64) {
	dt := now - m.lastMove[n.ID]
	m.lastMove[n.ID] = now
	if dt <= 0 {
		return
	}

	target := m.targets[n.ID]
	speed := m.speeds[n.ID]
	dx := target[0] - n.X
	dy := target[1] - n.Y
	dist := math.Sqrt(dx*dx + dy*dy)
	travel := speed * dt

	if travel >= dist || dist == 0 {
		n.X = target[0]
		n.Y = target[1]
		m.retarget(n)
		return
	}
	n.X += dx / dist * travel
	n.Y += dy / dist * travel
}

func (m *SmoothMobility) retarget(n *Node) {
	m.targets[n.ID] = [2]float64{
		m.rng.Float64() * m.areaSize,
		m.rng.Float64() * m.areaSize,
	}
	m.speeds[n.ID] = m.minSpeed + m.rng.Float64()*(m.maxSpeed-m.minSpeed)
}
