package loransim

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rot226/loransim/lorawan"
)

func TestSchedulerOrdering(t *testing.T) {
	assert := require.New(t)

	s := NewDownlinkScheduler()
	gw := NewGateway(0, 0, 0)

	s.Schedule(1, 5.0, lorawan.RawPayload("b"), gw)
	s.Schedule(1, 1.0, lorawan.RawPayload("a"), gw)
	s.Schedule(1, 5.0, lorawan.RawPayload("c"), gw)

	next, ok := s.NextTime(1)
	assert.True(ok)
	assert.Equal(1.0, next)

	// Nothing ready before its delivery time.
	frame, _ := s.PopReady(1, 0.5)
	assert.Nil(frame)

	frame, g := s.PopReady(1, 1.0)
	assert.Equal(lorawan.RawPayload("a"), frame)
	assert.Equal(gw, g)

	// Equal delivery times keep insertion order.
	frame, _ = s.PopReady(1, 10.0)
	assert.Equal(lorawan.RawPayload("b"), frame)
	frame, _ = s.PopReady(1, 10.0)
	assert.Equal(lorawan.RawPayload("c"), frame)

	frame, g = s.PopReady(1, 10.0)
	assert.Nil(frame)
	assert.Nil(g)
	_, ok = s.NextTime(1)
	assert.False(ok)
}

func TestSchedulerClassBAlignment(t *testing.T) {
	assert := require.New(t)
	ch := newTestChannel(t)

	s := NewDownlinkScheduler()
	gw := NewGateway(0, 0, 0)
	node := NewNode(1, 0, 0, 7, 14.0, ch, 0)
	node.Class = lorawan.ClassB
	node.LastBeaconTime = 0

	// A downlink requested at t=0.2 lands on the first ping slot >= 0.2:
	// beacon at 0, 0.5 s offset, 1 s ping interval => t=0.5.
	s.ScheduleClassB(node, 0.2, lorawan.RawPayload("x"), gw, 128.0, 1.0, 0.5, 0)

	next, ok := s.NextTime(node.ID)
	assert.True(ok)
	assert.InDelta(0.5, next, 1e-9)

	frame, _ := s.PopReady(node.ID, 0.4)
	assert.Nil(frame)
	frame, _ = s.PopReady(node.ID, 0.5)
	assert.NotNil(frame)
}

func TestSchedulerClassC(t *testing.T) {
	assert := require.New(t)
	ch := newTestChannel(t)

	s := NewDownlinkScheduler()
	gw := NewGateway(0, 0, 0)
	node := NewNode(1, 0, 0, 7, 14.0, ch, 0)
	node.Class = lorawan.ClassC

	s.ScheduleClassC(node, 7.5, lorawan.RawPayload("x"), gw)
	next, ok := s.NextTime(node.ID)
	assert.True(ok)
	assert.Equal(7.5, next)
}
