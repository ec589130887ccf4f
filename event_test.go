package loransim

import (
	"container/heap"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEventQueueOrdering(t *testing.T) {
	assert := require.New(t)

	var q eventQueue
	heap.Push(&q, Event{Time: 5.0, Type: EventRXWindow, ID: 1})
	heap.Push(&q, Event{Time: 5.0, Type: EventTXStart, ID: 2})
	heap.Push(&q, Event{Time: 5.0, Type: EventTXEnd, ID: 3})
	heap.Push(&q, Event{Time: 5.0, Type: EventMobility, ID: 4})
	heap.Push(&q, Event{Time: 1.0, Type: EventRXWindow, ID: 5})

	// Earlier times first; at equal times, lower type ordinal first: a
	// transmission ends before another starts on the same tick.
	order := []EventType{EventRXWindow, EventTXEnd, EventTXStart, EventMobility, EventRXWindow}
	times := []float64{1.0, 5.0, 5.0, 5.0, 5.0}
	for i := range order {
		ev := heap.Pop(&q).(Event)
		assert.Equal(times[i], ev.Time)
		assert.Equal(order[i], ev.Type)
	}
}

func TestEventQueueSeqTieBreak(t *testing.T) {
	assert := require.New(t)

	var q eventQueue
	heap.Push(&q, Event{Time: 2.0, Type: EventTXStart, ID: 9})
	heap.Push(&q, Event{Time: 2.0, Type: EventTXStart, ID: 3})
	heap.Push(&q, Event{Time: 2.0, Type: EventTXStart, ID: 6})

	assert.Equal(3, heap.Pop(&q).(Event).ID)
	assert.Equal(6, heap.Pop(&q).(Event).ID)
	assert.Equal(9, heap.Pop(&q).(Event).ID)
}
