package loransim

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/rot226/loransim/lorawan"
)

// EventResult classifies how a logged event ended.
type EventResult string

// Possible event results.
const (
	ResultNone          EventResult = "None"
	ResultSuccess       EventResult = "Success"
	ResultCollisionLoss EventResult = "CollisionLoss"
	ResultNoCoverage    EventResult = "NoCoverage"
	ResultMobility      EventResult = "Mobility"
)

// EventRecord is one entry of the per-event log. RSSI and SNR are NaN when
// no gateway heard the transmission; GatewayID is -1 until a delivery is
// attributed.
type EventRecord struct {
	EventID   int
	NodeID    int
	SF        int
	StartTime float64
	EndTime   float64
	EnergyJ   float64
	Heard     bool
	RSSIDBm   float64
	SNRDB     float64
	Result    EventResult
	GatewayID int
}

// Metrics aggregates a run.
type Metrics struct {
	PDR             float64
	Collisions      int
	EnergyJ         float64
	AvgDelayS       float64
	P95DelayS       float64
	ThroughputBps   float64
	SFDistribution  map[int]int
	PDRByNode       map[int]float64
	RecentPDRByNode map[int]float64
	PDRBySF         map[int]float64
	PDRByGateway    map[int]float64
	Retransmissions int
}

// GetMetrics computes the aggregate metrics of the run so far.
func (s *Simulator) GetMetrics() Metrics {
	m := Metrics{
		Collisions:      s.PacketsLostCollision,
		EnergyJ:         s.TotalEnergyJ,
		SFDistribution:  make(map[int]int),
		PDRByNode:       make(map[int]float64),
		RecentPDRByNode: make(map[int]float64),
		PDRBySF:         make(map[int]float64),
		PDRByGateway:    make(map[int]float64),
		Retransmissions: s.Retransmissions,
	}

	if s.PacketsSent > 0 {
		m.PDR = float64(s.PacketsDelivered) / float64(s.PacketsSent)
	}
	if len(s.delays) > 0 {
		m.AvgDelayS = stat.Mean(s.delays, nil)
		sorted := append([]float64(nil), s.delays...)
		sort.Float64s(sorted)
		m.P95DelayS = stat.Quantile(0.95, stat.Empirical, sorted, nil)
	}
	if s.CurrentTime > 0 {
		m.ThroughputBps = float64(s.PacketsDelivered*s.cfg.PayloadSize*8) / s.CurrentTime
	}

	for sf := lorawan.SFMin; sf <= lorawan.SFMax; sf++ {
		m.SFDistribution[sf] = 0
		sent, delivered := 0, 0
		for _, n := range s.Nodes {
			if n.SF == sf {
				m.SFDistribution[sf]++
				sent += n.PacketsSent
				delivered += n.PacketsSuccess
			}
		}
		if sent > 0 {
			m.PDRBySF[sf] = float64(delivered) / float64(sent)
		} else {
			m.PDRBySF[sf] = 0
		}
	}

	for _, n := range s.Nodes {
		m.PDRByNode[n.ID] = n.PDR()
		m.RecentPDRByNode[n.ID] = n.RecentPDR()
	}

	counts := make(map[int]int, len(s.Gateways))
	for _, g := range s.Gateways {
		counts[g.ID] = 0
	}
	for _, gwID := range s.Server.EventGateway {
		if _, ok := counts[gwID]; ok {
			counts[gwID]++
		}
	}
	for gwID, count := range counts {
		if s.PacketsSent > 0 {
			m.PDRByGateway[gwID] = float64(count) / float64(s.PacketsSent)
		} else {
			m.PDRByGateway[gwID] = 0
		}
	}

	return m
}
