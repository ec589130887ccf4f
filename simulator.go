package loransim

import (
	"container/heap"
	"math"
	"math/rand"

	log "github.com/sirupsen/logrus"

	"github.com/rot226/loransim/joinserver"
	"github.com/rot226/loransim/lorawan"
	"github.com/rot226/loransim/phy"
)

// retransmissionDelay is the gap in seconds before an unconfirmed repeat.
const retransmissionDelay = 1.0

// classBWindowPeriod is the interval at which a Class B device reopens its
// receive window. No windows are opened at the ping slots themselves; ping-slot
// alignment applies only to when the downlink scheduler releases a frame.
const classBWindowPeriod = 30.0

// classCPollPeriod is how quickly a Class C device reopens its window while
// downlinks remain buffered.
const classCPollPeriod = 1.0

// Simulator owns the event loop and every simulated entity. It is not safe
// for concurrent use; the whole model is single-threaded and cooperative.
type Simulator struct {
	cfg Config
	rng *rand.Rand

	Nodes        []*Node
	Gateways     []*Gateway
	MultiChannel *MultiChannel
	Server       *NetworkServer
	DutyCycle    *DutyCycleManager

	mobility MobilityModel

	queue     eventQueue
	idCounter int

	CurrentTime float64
	running     bool

	PacketsSent          int
	PacketsDelivered     int
	PacketsLostCollision int
	PacketsLostNoSignal  int
	TotalEnergyJ         float64
	Retransmissions      int

	delays     []float64
	EventsLog  []*EventRecord
	recordByID map[int]*EventRecord

	nodeMap map[int]*Node
}

// NewSimulator builds a simulation from the given scenario. Configuration
// errors are fatal; everything after construction is absorbed into metrics.
func NewSimulator(cfg Config) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Simulator{
		cfg:        cfg,
		rng:        rand.New(rand.NewSource(cfg.Seed)),
		Server:     NewNetworkServer(),
		recordByID: make(map[int]*EventRecord),
		nodeMap:    make(map[int]*Node),
		running:    true,
	}

	if cfg.DutyCycle > 0 {
		s.DutyCycle = NewDutyCycleManager(cfg.DutyCycle)
	}

	channels, err := s.buildChannels()
	if err != nil {
		return nil, err
	}
	s.MultiChannel, err = NewMultiChannel(channels, cfg.ChannelDistribution, s.rng)
	if err != nil {
		return nil, err
	}

	s.buildGateways()
	if err := s.buildNodes(); err != nil {
		return nil, err
	}

	s.Server.ADREnabled = cfg.ADRServer
	s.Server.Attach(s.Nodes, s.Gateways, s.MultiChannel.Channels[0])
	s.Server.SetClock(func() float64 { return s.CurrentTime })
	s.Server.SetRXWindowScheduler(s)

	if cfg.JoinServer {
		js := joinserver.New(s.Server.NetID)
		for _, n := range s.Nodes {
			js.Register(n.JoinEUI, n.DevEUI, n.AppKey)
		}
		s.Server.JoinServer = js
	}

	if cfg.Mobility {
		s.mobility = NewSmoothMobility(cfg.AreaSize, cfg.MobilitySpeedMin, cfg.MobilitySpeedMax, cfg.MobilityStep, s.rng)
		for _, n := range s.Nodes {
			s.mobility.Assign(n)
		}
	}

	for _, n := range s.Nodes {
		var t0 float64
		if cfg.TransmissionMode == TransmissionRandom {
			t0 = s.rng.ExpFloat64() * cfg.PacketInterval
		} else {
			t0 = s.rng.Float64() * cfg.PacketInterval
		}
		s.scheduleTransmission(n, t0)
		if s.mobility != nil {
			s.scheduleMobility(n, s.mobility.Step())
		}
		if n.Class == lorawan.ClassB || n.Class == lorawan.ClassC {
			s.push(Event{Time: 0, Type: EventRXWindow, ID: s.nextID(), NodeID: n.ID})
		}
	}

	return s, nil
}

func (s *Simulator) buildChannels() ([]*Channel, error) {
	freqs := s.cfg.ChannelFrequencies
	if len(freqs) == 0 {
		freqs = []int{868100000}
	}
	channels := make([]*Channel, 0, len(freqs))
	for _, f := range freqs {
		ch := DefaultChannel()
		ch.FrequencyHz = f
		s.applyChannelConfig(ch)
		if err := ch.init(s.rng); err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, nil
}

func (s *Simulator) applyChannelConfig(ch *Channel) {
	cc := s.cfg.Channel
	if cc.BandwidthHz > 0 {
		ch.BandwidthHz = cc.BandwidthHz
	}
	if cc.CodingRate > 0 {
		ch.CodingRate = phy.CodingRate(cc.CodingRate)
	}
	if cc.PathLossExponent > 0 {
		ch.PathLossExponent = cc.PathLossExponent
	}
	ch.SystemLossDB = cc.SystemLossDB
	if cc.NoiseFigureDB != 0 {
		ch.NoiseFigureDB = cc.NoiseFigureDB
	}
	ch.InterferenceDB = cc.InterferenceDB
	ch.RSSIOffsetDB = cc.RSSIOffsetDB
	ch.SNROffsetDB = cc.SNROffsetDB
	if cc.CaptureThresholdDB != 0 {
		ch.CaptureThresholdDB = cc.CaptureThresholdDB
	}
	ch.ShadowingStd = cc.ShadowingStd
	ch.FastFadingStd = cc.FastFadingStd
	ch.TimeVariationStd = cc.TimeVariationStd
	ch.FineFadingStd = cc.FineFadingStd
	ch.NoiseFloorStd = cc.NoiseFloorStd
	ch.TXPowerStd = cc.TXPowerStd
	ch.FreqOffsetHz = cc.FreqOffsetHz
	ch.SyncOffsetS = cc.SyncOffsetS
	if cc.Variant != "" {
		ch.Variant = phy.Variant(cc.Variant)
	}
	if cc.PreambleLength > 0 {
		ch.PreambleLength = cc.PreambleLength
	}
}

func (s *Simulator) buildGateways() {
	for i := 0; i < s.cfg.NumGateways; i++ {
		var x, y float64
		if s.cfg.NumGateways == 1 {
			x = s.cfg.AreaSize / 2.0
			y = s.cfg.AreaSize / 2.0
		} else {
			x = s.rng.Float64() * s.cfg.AreaSize
			y = s.rng.Float64() * s.cfg.AreaSize
		}
		s.Gateways = append(s.Gateways, NewGateway(i, x, y))
	}
}

func (s *Simulator) buildNodes() error {
	class := lorawan.DeviceClass(s.cfg.deviceClassByte())
	for i := 0; i < s.cfg.NumNodes; i++ {
		x := s.rng.Float64() * s.cfg.AreaSize
		y := s.rng.Float64() * s.cfg.AreaSize
		sf := s.cfg.FixedSF
		if sf == 0 {
			sf = lorawan.SFMin + s.rng.Intn(lorawan.SFMax-lorawan.SFMin+1)
		}
		txPower := 14.0
		if s.cfg.FixedTXPower != nil {
			txPower = *s.cfg.FixedTXPower
		}
		ch := s.MultiChannel.SelectMask(0xFFFF)
		n := NewNode(i, x, y, sf, txPower, ch, s.cfg.BatteryCapacityJ)
		n.Class = class
		if s.cfg.Security || s.cfg.JoinServer {
			var appKey lorawan.AES128Key
			s.rng.Read(appKey[:])
			n.EnableSecurity(appKey, lorawan.EUI64(1), lorawan.EUI64(i+1))
		}
		s.Nodes = append(s.Nodes, n)
		s.nodeMap[n.ID] = n
	}
	return nil
}

func (s *Simulator) nextID() int {
	id := s.idCounter
	s.idCounter++
	return id
}

func (s *Simulator) push(ev Event) {
	heap.Push(&s.queue, ev)
}

// ScheduleRXWindow enqueues an explicit receive-window event; the network
// server uses it for timed Class C downlinks.
func (s *Simulator) ScheduleRXWindow(nodeID int, at float64) {
	s.push(Event{Time: at, Type: EventRXWindow, ID: s.nextID(), NodeID: nodeID})
}

// scheduleTransmission plans a node's next TX_START, honoring the duty
// cycle and reassigning the channel from the node's mask.
func (s *Simulator) scheduleTransmission(n *Node, t float64) {
	if !n.Alive {
		return
	}
	id := s.nextID()
	if s.DutyCycle != nil {
		t = s.DutyCycle.Enforce(n.ID, t)
	}
	n.Channel = s.MultiChannel.SelectMask(n.ChMask)
	s.push(Event{Time: t, Type: EventTXStart, ID: id, NodeID: n.ID})
	log.WithFields(log.Fields{
		"event_id": id,
		"node_id":  n.ID,
		"time":     t,
	}).Debug("simulator: transmission scheduled")
}

func (s *Simulator) scheduleMobility(n *Node, t float64) {
	if !n.Alive {
		return
	}
	s.push(Event{Time: t, Type: EventMobility, ID: s.nextID(), NodeID: n.ID})
}

// Stop clears the running flag; the next Step returns false and the
// remaining queue entries stay inspectable but are never dispatched.
func (s *Simulator) Stop() {
	s.running = false
}

// Run processes events until the queue drains, Stop is called, or maxSteps
// events have been dispatched (0 = unbounded).
func (s *Simulator) Run(maxSteps int) {
	steps := 0
	for len(s.queue) > 0 && s.running {
		if !s.Step() {
			return
		}
		steps++
		if maxSteps > 0 && steps >= maxSteps {
			return
		}
	}
}

// Step dispatches the next event. It returns false when the simulation has
// stopped or no events remain.
func (s *Simulator) Step() bool {
	if !s.running || len(s.queue) == 0 {
		return false
	}
	ev := heap.Pop(&s.queue).(Event)
	node := s.nodeMap[ev.NodeID]
	if node == nil {
		return true
	}
	s.CurrentTime = ev.Time
	node.ConsumeUntil(ev.Time)
	if !node.Alive {
		return true
	}

	switch ev.Type {
	case EventTXStart:
		s.handleTXStart(node, ev)
	case EventTXEnd:
		s.handleTXEnd(node, ev)
	case EventRXWindow:
		s.handleRXWindow(node, ev)
	case EventMobility:
		s.handleMobility(node, ev)
	}
	return true
}

func (s *Simulator) handleTXStart(n *Node, ev Event) {
	if n.nbTransLeft <= 0 {
		n.nbTransLeft = n.NbTrans
		if n.nbTransLeft < 1 {
			n.nbTransLeft = 1
		}
	}
	n.nbTransLeft--

	sf := n.SF
	txPower := n.TXPowerDBm
	ch := n.Channel

	duration := ch.Airtime(sf, s.cfg.PayloadSize)
	endTime := ev.Time + duration
	if s.DutyCycle != nil {
		s.DutyCycle.UpdateAfterTX(n.ID, ev.Time, duration)
	}

	s.PacketsSent++
	n.PacketsSent++

	energy := math.Pow(10, txPower/10.0) / 1000.0 * duration
	s.TotalEnergyJ += energy
	n.AddEnergy(energy)
	if !n.Alive {
		return
	}
	n.state = stateTX
	n.lastStateTime = ev.Time
	n.InTransmission = true
	n.currentEndTime = endTime

	frame := n.PrepareUplink(s.cfg.PayloadSize)

	heard := false
	bestRSSI := math.Inf(-1)
	bestSNR := math.Inf(-1)
	for _, gw := range s.Gateways {
		distance := n.DistanceTo(gw.X, gw.Y)
		// No spreading gain here: the sensitivity table is already keyed by
		// the post-despreading demodulation floor per SF.
		rssi, snr := ch.ComputeRSSI(txPower, distance, 0)
		snrThreshold := ch.SensitivityDBm(sf) - ch.NoiseFloorDBm()
		if snr < snrThreshold {
			continue // signal too weak for this gateway
		}
		heard = true
		if rssi > bestRSSI {
			bestRSSI = rssi
		}
		if snr > bestSNR {
			bestSNR = snr
		}
		gw.StartReception(ev.ID, n.ID, sf, rssi, endTime, ch.CaptureThresholdDB, s.CurrentTime, ch.FrequencyHz, frame)
	}

	n.lastHeard = heard
	if heard {
		n.lastRSSI = bestRSSI
		n.lastSNR = bestSNR
	} else {
		n.lastRSSI = math.NaN()
		n.lastSNR = math.NaN()
	}

	s.push(Event{Time: endTime, Type: EventTXEnd, ID: ev.ID, NodeID: n.ID})
	rx1, rx2 := n.ScheduleReceiveWindows(endTime)
	s.push(Event{Time: rx1, Type: EventRXWindow, ID: s.nextID(), NodeID: n.ID})
	s.push(Event{Time: rx2, Type: EventRXWindow, ID: s.nextID(), NodeID: n.ID})

	rec := &EventRecord{
		EventID:   ev.ID,
		NodeID:    n.ID,
		SF:        sf,
		StartTime: ev.Time,
		EndTime:   endTime,
		EnergyJ:   energy,
		Heard:     heard,
		RSSIDBm:   n.lastRSSI,
		SNRDB:     n.lastSNR,
		Result:    ResultNone,
		GatewayID: -1,
	}
	s.EventsLog = append(s.EventsLog, rec)
	s.recordByID[ev.ID] = rec
}

func (s *Simulator) handleTXEnd(n *Node, ev Event) {
	n.InTransmission = false
	n.currentEndTime = 0
	n.state = stateProcessing
	n.lastStateTime = ev.Time

	for _, gw := range s.Gateways {
		gw.EndReception(ev.ID, s.Server, n.ID)
	}

	delivered := s.Server.Received(ev.ID)
	rec := s.recordByID[ev.ID]

	if delivered {
		s.PacketsDelivered++
		n.PacketsSuccess++
		if rec != nil {
			s.delays = append(s.delays, s.CurrentTime-rec.StartTime)
		}
	} else if rec != nil && rec.Heard {
		s.PacketsLostCollision++
		n.PacketsCollision++
	} else {
		s.PacketsLostNoSignal++
	}

	if rec != nil {
		if delivered {
			rec.Result = ResultSuccess
			if gwID, ok := s.Server.EventGateway[ev.ID]; ok {
				rec.GatewayID = gwID
			}
		} else if rec.Heard {
			rec.Result = ResultCollisionLoss
		} else {
			rec.Result = ResultNoCoverage
		}
	}

	outcome := UplinkOutcome{SNR: math.NaN(), RSSI: math.NaN(), Delivered: delivered}
	if delivered && !math.IsNaN(n.lastSNR) {
		outcome.SNR = n.lastSNR
	}
	if delivered && !math.IsNaN(n.lastRSSI) {
		outcome.RSSI = n.lastRSSI
	}
	n.pushHistory(outcome)

	if s.cfg.ADRNode {
		s.nodeADRStep(n)
	}

	if n.nbTransLeft > 0 {
		s.Retransmissions++
		s.scheduleTransmission(n, s.CurrentTime+retransmissionDelay)
	} else if s.cfg.PacketsToSend == 0 || s.PacketsSent < s.cfg.PacketsToSend {
		var interval float64
		if s.cfg.TransmissionMode == TransmissionRandom {
			interval = s.rng.ExpFloat64() * s.cfg.PacketInterval
		} else {
			interval = s.cfg.PacketInterval
		}
		s.scheduleTransmission(n, s.CurrentTime+interval)
	} else {
		s.pruneAfterBudget()
	}
}

// nodeADRStep is the device-side ADR backoff: on a lossy or negative-margin
// link the device climbs to a more robust SF first, then raises its power.
func (s *Simulator) nodeADRStep(n *Node) {
	total := len(n.History)
	if total == 0 {
		return
	}
	success := 0
	for _, o := range n.History {
		if o.Delivered {
			success++
		}
	}
	per := float64(total-success) / float64(total)

	margin := math.NaN()
	maxSNR := math.Inf(-1)
	for _, o := range n.History {
		if !math.IsNaN(o.SNR) && o.SNR > maxSNR {
			maxSNR = o.SNR
		}
	}
	if !math.IsInf(maxSNR, -1) {
		required, ok := lorawan.RequiredSNR[n.SF]
		if !ok {
			required = 0
		}
		margin = maxSNR - required - lorawan.MarginDB
	}

	if per <= lorawan.PERThreshold && (math.IsNaN(margin) || margin >= 0) {
		return
	}
	if !s.cfg.ADRServer {
		log.WithFields(log.Fields{"node_id": n.ID}).Debug("simulator: device ADR request ignored, server ADR disabled")
		return
	}

	if n.SF < lorawan.SFMax {
		n.SF++
	} else if n.TXPowerDBm < lorawan.TXMaxDBm {
		n.TXPowerDBm = math.Min(lorawan.TXMaxDBm, n.TXPowerDBm+3.0)
	}
	n.History = n.History[:0]
	log.WithFields(log.Fields{
		"node_id":  n.ID,
		"sf":       n.SF,
		"tx_power": n.TXPowerDBm,
	}).Debug("simulator: device ADR adjusted")
}

func (s *Simulator) handleRXWindow(n *Node, ev Event) {
	n.AddEnergy(n.Profile.RXCurrentA * n.Profile.VoltageV * n.Profile.RXWindowDuration)
	if !n.Alive {
		return
	}
	n.lastStateTime = ev.Time + n.Profile.RXWindowDuration
	n.state = stateSleep

	s.Server.DeliverScheduled(n.ID, s.CurrentTime)

	var selected *Gateway
	for _, gw := range s.Gateways {
		frame := gw.PopDownlink(n.ID)
		if frame == nil {
			continue
		}
		distance := n.DistanceTo(gw.X, gw.Y)
		_, snr := n.Channel.ComputeRSSI(n.TXPowerDBm, distance, 0)
		snrThreshold := n.Channel.SensitivityDBm(n.SF) - n.Channel.NoiseFloorDBm()
		if snr >= snrThreshold {
			n.HandleDownlink(frame)
		}
		selected = gw
		break
	}

	switch {
	case n.Class == lorawan.ClassB:
		s.push(Event{Time: ev.Time + classBWindowPeriod, Type: EventRXWindow, ID: s.nextID(), NodeID: n.ID})
	case n.Class == lorawan.ClassC && selected != nil && selected.HasDownlink(n.ID):
		s.push(Event{Time: ev.Time + classCPollPeriod, Type: EventRXWindow, ID: s.nextID(), NodeID: n.ID})
	}
}

func (s *Simulator) handleMobility(n *Node, ev Event) {
	if s.mobility == nil {
		return
	}
	if n.InTransmission {
		// Moving mid-frame would change the link budget under the receiver;
		// defer until the transmission ends.
		s.scheduleMobility(n, n.currentEndTime)
		return
	}
	s.mobility.Move(n, s.CurrentTime)
	s.EventsLog = append(s.EventsLog, &EventRecord{
		EventID:   ev.ID,
		NodeID:    n.ID,
		SF:        n.SF,
		StartTime: ev.Time,
		EndTime:   ev.Time,
		RSSIDBm:   math.NaN(),
		SNRDB:     math.NaN(),
		Result:    ResultMobility,
		GatewayID: -1,
	})
	if s.cfg.PacketsToSend == 0 || s.PacketsSent < s.cfg.PacketsToSend {
		s.scheduleMobility(n, ev.Time+s.mobility.Step())
	}
}

// pruneAfterBudget drops every future event except pending TX_ENDs once the
// global packet budget is exhausted, so in-flight transmissions still
// resolve but nothing new starts.
func (s *Simulator) pruneAfterBudget() {
	kept := s.queue[:0]
	for _, ev := range s.queue {
		if ev.Type == EventTXEnd {
			kept = append(kept, ev)
		}
	}
	s.queue = kept
	heap.Init(&s.queue)
	log.Debug("simulator: packet budget reached, future transmissions pruned")
}
