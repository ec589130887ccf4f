package loransim

// EventType identifies the kind of a scheduled event. The ordinal doubles
// as the tie-break at equal timestamps: a transmission must end before a new
// one starts on the same tick.
type EventType int

// Event types in dispatch-priority order.
const (
	EventTXEnd EventType = iota
	EventTXStart
	EventMobility
	EventRXWindow
)

// String implements fmt.Stringer.
func (t EventType) String() string {
	switch t {
	case EventTXEnd:
		return "tx_end"
	case EventTXStart:
		return "tx_start"
	case EventMobility:
		return "mobility"
	case EventRXWindow:
		return "rx_window"
	default:
		return "unknown"
	}
}

// Event is a scheduled simulation event. ID is assigned at scheduling time
// from a monotonically increasing counter; it makes the schedule a total
// order under equal timestamps and, for transmissions, identifies the frame
// across its TX_START/TX_END pair.
type Event struct {
	Time   float64
	Type   EventType
	ID     int
	NodeID int
}

// eventQueue is a min-heap of events ordered by (time, type, id). It
// implements heap.Interface.
type eventQueue []Event

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	if q[i].Time != q[j].Time {
		return q[i].Time < q[j].Time
	}
	if q[i].Type != q[j].Type {
		return q[i].Type < q[j].Type
	}
	return q[i].ID < q[j].ID
}

func (q eventQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *eventQueue) Push(x interface{}) {
	*q = append(*q, x.(Event))
}

func (q *eventQueue) Pop() interface{} {
	old := *q
	n := len(old)
	ev := old[n-1]
	*q = old[:n-1]
	return ev
}
