package loransim

import (
	"sort"

	"github.com/rot226/loransim/lorawan"
)

// scheduledDownlink is one queued future downlink for a node. The gateway
// reference is non-owning; gateways outlive the scheduler.
type scheduledDownlink struct {
	deliverTime float64
	seq         int
	frame       lorawan.Payload
	gateway     *Gateway
}

// DownlinkScheduler keeps, per node, an ordered sequence of future downlink
// frames. Entries with equal delivery times keep insertion order through a
// global sequence counter.
type DownlinkScheduler struct {
	queues map[int][]scheduledDownlink
	seq    int
}

// NewDownlinkScheduler creates an empty scheduler.
func NewDownlinkScheduler() *DownlinkScheduler {
	return &DownlinkScheduler{queues: make(map[int][]scheduledDownlink)}
}

// Schedule inserts a frame to deliver to the node at the given time.
func (s *DownlinkScheduler) Schedule(nodeID int, at float64, frame lorawan.Payload, gw *Gateway) {
	entry := scheduledDownlink{
		deliverTime: at,
		seq:         s.seq,
		frame:       frame,
		gateway:     gw,
	}
	s.seq++

	q := s.queues[nodeID]
	i := sort.Search(len(q), func(i int) bool {
		if q[i].deliverTime != at {
			return q[i].deliverTime > at
		}
		return q[i].seq > entry.seq
	})
	q = append(q, scheduledDownlink{})
	copy(q[i+1:], q[i:])
	q[i] = entry
	s.queues[nodeID] = q
}

// ScheduleClassB aligns the delivery to the node's first ping slot at or
// after the given instant and inserts it.
func (s *DownlinkScheduler) ScheduleClassB(node *Node, after float64, frame lorawan.Payload, gw *Gateway, beaconInterval, pingSlotInterval, pingSlotOffset, lastBeacon float64) {
	at := lorawan.NextPingSlotTime(after, lastBeacon, beaconInterval, pingSlotInterval, pingSlotOffset, node.BeaconDrift)
	s.Schedule(node.ID, at, frame, gw)
}

// ScheduleClassC inserts a downlink for a continuously listening device. The
// caller must also arrange an RX_WINDOW event at the same instant.
func (s *DownlinkScheduler) ScheduleClassC(node *Node, at float64, frame lorawan.Payload, gw *Gateway) {
	s.Schedule(node.ID, at, frame, gw)
}

// PopReady removes and returns the earliest frame whose delivery time has
// been reached, or (nil, nil).
func (s *DownlinkScheduler) PopReady(nodeID int, now float64) (lorawan.Payload, *Gateway) {
	q := s.queues[nodeID]
	if len(q) == 0 || q[0].deliverTime > now {
		return nil, nil
	}
	head := q[0]
	s.queues[nodeID] = q[1:]
	return head.frame, head.gateway
}

// NextTime peeks at the node's earliest scheduled delivery time.
func (s *DownlinkScheduler) NextTime(nodeID int) (float64, bool) {
	q := s.queues[nodeID]
	if len(q) == 0 {
		return 0, false
	}
	return q[0].deliverTime, true
}
