package loransim

import (
	log "github.com/sirupsen/logrus"

	"github.com/rot226/loransim/lorawan"
	"github.com/rot226/loransim/phy"
)

// reception is one in-flight uplink at a gateway. It lives from TX_START to
// TX_END of the transmission it belongs to.
type reception struct {
	eventID int
	nodeID  int
	rssi    float64
	endTime float64
	frame   lorawan.Payload
	lost    bool
}

// flightKey identifies the (frequency, spreading factor) slot that two
// signals must share to interfere.
type flightKey struct {
	freqHz int
	sf     int
}

// Gateway receives uplinks, resolves capture and collisions per
// (frequency, SF) pair, and buffers downlinks per destination node.
type Gateway struct {
	ID int
	X  float64
	Y  float64

	inflight  map[flightKey][]*reception
	downlinks map[int][]lorawan.Payload
}

// NewGateway creates a gateway at the given position.
func NewGateway(id int, x, y float64) *Gateway {
	return &Gateway{
		ID:        id,
		X:         x,
		Y:         y,
		inflight:  make(map[flightKey][]*reception),
		downlinks: make(map[int][]lorawan.Payload),
	}
}

// StartReception registers an arriving uplink on its (frequency, SF) slot
// and re-evaluates capture against everything still in flight there. A
// signal marked lost stays lost even if the contender that beat it ends
// first.
func (g *Gateway) StartReception(eventID, nodeID, sf int, rssi, endTime, captureDB, now float64, freqHz int, frame lorawan.Payload) {
	key := flightKey{freqHz: freqHz, sf: sf}

	// Drop receptions that already ended; they no longer interfere.
	list := g.inflight[key][:0]
	for _, r := range g.inflight[key] {
		if r.endTime > now {
			list = append(list, r)
		}
	}

	rec := &reception{
		eventID: eventID,
		nodeID:  nodeID,
		rssi:    rssi,
		endTime: endTime,
		frame:   frame,
	}
	list = append(list, rec)
	g.inflight[key] = list

	if len(list) > 1 {
		rssis := make([]float64, len(list))
		for i, r := range list {
			rssis[i] = r.rssi
		}
		winners := phy.Capture(rssis, captureDB)
		for i, r := range list {
			if !winners[i] {
				r.lost = true
			}
		}
		log.WithFields(log.Fields{
			"gateway_id": g.ID,
			"freq":       freqHz,
			"sf":         sf,
			"concurrent": len(list),
		}).Debug("gateway: concurrent receptions, capture applied")
	}
}

// EndReception finalizes a transmission: the reception record is removed
// and, unless it was marked lost, the frame is reported to the network
// server.
func (g *Gateway) EndReception(eventID int, srv *NetworkServer, nodeID int) {
	for key, list := range g.inflight {
		for i, r := range list {
			if r.eventID != eventID || r.nodeID != nodeID {
				continue
			}
			g.inflight[key] = append(list[:i], list[i+1:]...)
			if !r.lost && srv != nil {
				srv.Receive(eventID, nodeID, g.ID, r.rssi, r.frame)
			}
			return
		}
	}
}

// BufferDownlink appends a frame to the node's downlink FIFO.
func (g *Gateway) BufferDownlink(nodeID int, frame lorawan.Payload) {
	g.downlinks[nodeID] = append(g.downlinks[nodeID], frame)
}

// PopDownlink returns the next pending downlink for the node, or nil.
func (g *Gateway) PopDownlink(nodeID int) lorawan.Payload {
	q := g.downlinks[nodeID]
	if len(q) == 0 {
		return nil
	}
	frame := q[0]
	g.downlinks[nodeID] = q[1:]
	return frame
}

// HasDownlink reports whether a downlink is pending for the node.
func (g *Gateway) HasDownlink(nodeID int) bool {
	return len(g.downlinks[nodeID]) > 0
}
