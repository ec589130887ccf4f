package loransim

import (
	"math"

	log "github.com/sirupsen/logrus"

	"github.com/rot226/loransim/joinserver"
	"github.com/rot226/loransim/lorawan"
)

// deliveryTolerance is how far past its scheduled time a queued downlink may
// be (a missed beacon, clock skew) before the server drains it anyway.
const deliveryTolerance = 0.1

// RXWindowScheduler lets the server request an explicit receive-window event
// from the event loop, which Class C timed downlinks need.
type RXWindowScheduler interface {
	ScheduleRXWindow(nodeID int, at float64)
}

// ADRCommand carries the link parameters of a LinkADRReq downlink.
type ADRCommand struct {
	SF       int
	PowerDBm float64
	ChMask   uint16
	NbTrans  int
}

// DownlinkOptions qualifies a SendDownlink call. A nil AtTime means
// "deliver at the node's next opportunity".
type DownlinkOptions struct {
	Confirmed  bool
	RequestACK bool
	ADRCommand *ADRCommand
	AtTime     *float64
	Gateway    *Gateway
}

// NetworkServer deduplicates uplinks arriving via multiple gateways, runs
// the ADR control loop, activates joining devices and dispatches downlinks
// per device class.
type NetworkServer struct {
	ReceivedEvents  map[int]struct{}
	EventGateway    map[int]int
	PacketsReceived int

	ADREnabled bool
	NetID      uint32

	Scheduler  *DownlinkScheduler
	JoinServer *joinserver.JoinServer

	BeaconInterval   float64
	BeaconDrift      float64
	PingSlotInterval float64
	PingSlotOffset   float64
	LastBeaconTime   float64

	nodes    []*Node
	gateways []*Gateway
	channel  *Channel

	nextDevAddr uint32
	clock       func() float64
	rxScheduler RXWindowScheduler
}

// NewNetworkServer creates a server with Class B timing defaults.
func NewNetworkServer() *NetworkServer {
	return &NetworkServer{
		ReceivedEvents:   make(map[int]struct{}),
		EventGateway:     make(map[int]int),
		Scheduler:        NewDownlinkScheduler(),
		BeaconInterval:   lorawan.BeaconInterval,
		PingSlotInterval: 1.0,
		PingSlotOffset:   2.0,
		nextDevAddr:      1,
		clock:            func() float64 { return 0 },
	}
}

// Attach wires the server to the simulated population.
func (ns *NetworkServer) Attach(nodes []*Node, gateways []*Gateway, channel *Channel) {
	ns.nodes = nodes
	ns.gateways = gateways
	ns.channel = channel
}

// SetClock installs the simulation-time source.
func (ns *NetworkServer) SetClock(clock func() float64) {
	if clock != nil {
		ns.clock = clock
	}
}

// SetRXWindowScheduler installs the hook used to request Class C receive
// windows from the event loop.
func (ns *NetworkServer) SetRXWindowScheduler(s RXWindowScheduler) {
	ns.rxScheduler = s
}

// NotifyBeacon records that a beacon was emitted at the given time.
func (ns *NetworkServer) NotifyBeacon(t float64) {
	ns.LastBeaconTime = t
	for _, n := range ns.nodes {
		if n.Class == lorawan.ClassB {
			n.LastBeaconTime = t
		}
	}
}

// NextBeaconTime returns the next beacon time after the given instant.
func (ns *NetworkServer) NextBeaconTime(after float64) float64 {
	return lorawan.NextBeaconTime(after, ns.BeaconInterval, ns.LastBeaconTime, ns.BeaconDrift, 0)
}

// Received reports whether the uplink with the given event id reached the
// application.
func (ns *NetworkServer) Received(eventID int) bool {
	_, ok := ns.ReceivedEvents[eventID]
	return ok
}

// Receive processes one uplink reported by a gateway. Arrivals of the same
// event via other gateways are dropped as duplicates; everything else runs
// the join/security/ADR pipeline. rssi may be NaN when unknown.
func (ns *NetworkServer) Receive(eventID, nodeID, gatewayID int, rssi float64, frame lorawan.Payload) {
	if _, dup := ns.ReceivedEvents[eventID]; dup {
		log.WithFields(log.Fields{
			"event_id": eventID,
			"node_id":  nodeID,
		}).Debug("server: duplicate uplink ignored")
		return
	}
	ns.ReceivedEvents[eventID] = struct{}{}
	ns.EventGateway[eventID] = gatewayID
	ns.PacketsReceived++

	node := ns.node(nodeID)
	gw := ns.gateway(gatewayID)

	if node != nil {
		if jr, ok := frame.(*lorawan.JoinRequest); ok && ns.JoinServer != nil {
			accept, nwkSKey, appSKey, err := ns.JoinServer.HandleJoin(jr)
			if err != nil {
				log.WithFields(log.Fields{
					"node_id": nodeID,
					"error":   err,
				}).Debug("server: join-request rejected")
				return
			}
			node.NwkSKey = nwkSKey
			node.AppSKey = appSKey
			node.DevAddr = accept.DevAddr
			node.Activated = true
			ns.SendDownlink(node, accept, DownlinkOptions{Gateway: gw})
			return
		}

		if df, ok := frame.(*lorawan.DataFrame); ok && node.SecurityEnabled {
			if !lorawan.ValidateFrame(df, node.NwkSKey, node.AppSKey, node.DevAddr, 0) {
				log.WithFields(log.Fields{
					"node_id": nodeID,
				}).Debug("server: frame validation failed, dropped")
				return
			}
		}

		if !node.Activated {
			ns.activate(node, gw)
		}

		if node.ADRAckReq {
			ns.SendDownlink(node, nil, DownlinkOptions{Confirmed: true, Gateway: gw})
			node.ADRAckReq = false
			node.ADRAckCnt = 0
		}
	}

	if ns.ADREnabled && node != nil && !math.IsNaN(rssi) {
		snr := rssi - ns.channel.NoiseFloorDBm()
		node.SNRHistory = append(node.SNRHistory, snr)
		if len(node.SNRHistory) > historyDepth {
			node.SNRHistory = node.SNRHistory[1:]
		}
		if len(node.SNRHistory) >= historyDepth {
			ns.adrStep(node)
		}
	}
}

// SendDownlink queues a downlink frame for the node via the given gateway or
// the first one. Raw payloads are wrapped into a data frame; an ADR command
// replaces the payload with a LinkADRReq on FPort 0.
func (ns *NetworkServer) SendDownlink(node *Node, payload lorawan.Payload, opts DownlinkOptions) {
	gw := opts.Gateway
	if gw == nil {
		if len(ns.gateways) == 0 {
			return
		}
		gw = ns.gateways[0]
	}

	var frame lorawan.Payload
	var df *lorawan.DataFrame
	switch p := payload.(type) {
	case *lorawan.JoinAccept:
		frame = p
	case *lorawan.DataFrame:
		df = p
		frame = p
	default:
		var raw []byte
		if rp, ok := payload.(lorawan.RawPayload); ok {
			raw = rp
		}
		df = &lorawan.DataFrame{
			MHDR:      lorawan.MHDRUnconfirmedDataDown,
			FCnt:      node.FCntDown,
			FPort:     1,
			Payload:   raw,
			Confirmed: opts.Confirmed,
		}
		if opts.RequestACK {
			df.FCtrl |= lorawan.FCtrlACK
		}
		frame = df
	}

	if opts.ADRCommand != nil && df != nil {
		dr, ok := lorawan.SFToDR[opts.ADRCommand.SF]
		if !ok {
			dr = 5
		}
		pIdx := lorawan.DBmToTXPowerIndex[int(opts.ADRCommand.PowerDBm)]
		cmd := lorawan.MACCommand{
			CID: lorawan.LinkADRReq,
			Payload: &lorawan.LinkADRReqPayload{
				DataRate:   uint8(dr),
				TXPower:    uint8(pIdx),
				ChMask:     opts.ADRCommand.ChMask,
				Redundancy: lorawan.Redundancy{NbRep: uint8(opts.ADRCommand.NbTrans)},
			},
		}
		if b, err := cmd.MarshalBinary(); err == nil {
			df.FPort = 0
			df.Payload = b
		}
	}

	if df != nil && node.SecurityEnabled {
		if enc, err := lorawan.EncryptPayload(node.AppSKey, node.DevAddr, node.FCntDown, lorawan.DirDownlink, df.Payload); err == nil {
			df.Encrypted = enc
			if mic, err := lorawan.ComputeMIC(node.NwkSKey, node.DevAddr, node.FCntDown, lorawan.DirDownlink, enc); err == nil {
				df.MIC = mic
			}
		}
	}
	if df != nil {
		df.FCnt = node.FCntDown
	}
	node.FCntDown++

	lastBeacon := node.LastBeaconTime

	if opts.AtTime == nil {
		switch node.Class {
		case lorawan.ClassB:
			ns.Scheduler.ScheduleClassB(node, ns.clock(), frame, gw, ns.BeaconInterval, ns.PingSlotInterval, ns.PingSlotOffset, lastBeacon)
		default:
			// Class A waits for the next receive window, Class C listens
			// continuously; both are served straight from the gateway buffer.
			gw.BufferDownlink(node.ID, frame)
		}
	} else {
		at := *opts.AtTime
		switch node.Class {
		case lorawan.ClassB:
			ns.Scheduler.ScheduleClassB(node, at, frame, gw, ns.BeaconInterval, ns.PingSlotInterval, ns.PingSlotOffset, lastBeacon)
		case lorawan.ClassC:
			ns.Scheduler.ScheduleClassC(node, at, frame, gw)
			if ns.rxScheduler != nil {
				ns.rxScheduler.ScheduleRXWindow(node.ID, at)
			}
		default:
			ns.Scheduler.Schedule(node.ID, at, frame, gw)
		}
	}

	node.DownlinkPending++
}

// DeliverScheduled moves due scheduled frames into the gateway buffer. A
// head entry overdue by more than the tolerance is drained first at its own
// scheduled time.
func (ns *NetworkServer) DeliverScheduled(nodeID int, now float64) {
	if next, ok := ns.Scheduler.NextTime(nodeID); ok && next < now-deliveryTolerance {
		if frame, gw := ns.Scheduler.PopReady(nodeID, next); frame != nil && gw != nil {
			gw.BufferDownlink(nodeID, frame)
		}
	}
	for {
		frame, gw := ns.Scheduler.PopReady(nodeID, now)
		if frame == nil || gw == nil {
			return
		}
		gw.BufferDownlink(nodeID, frame)
	}
}

// activate derives session keys server-side for an ABP-style activation and
// queues the join-accept; the device flips to activated when it consumes the
// accept in a receive window.
func (ns *NetworkServer) activate(node *Node, gw *Gateway) {
	appNonce := ns.nextDevAddr & 0xFFFFFF
	devAddr := lorawan.DevAddr(ns.nextDevAddr)
	ns.nextDevAddr++

	devNonce := node.DevNonce - 1
	nwkSKey, appSKey, err := lorawan.DeriveSessionKeys(node.AppKey, devNonce, appNonce, ns.NetID)
	if err != nil {
		return
	}

	accept := &lorawan.JoinAccept{
		AppNonce: appNonce,
		NetID:    ns.NetID,
		DevAddr:  devAddr,
	}
	if node.SecurityEnabled {
		enc, mic, err := lorawan.EncryptJoinAccept(node.AppKey, accept)
		if err != nil {
			return
		}
		accept.Encrypted = enc
		accept.MIC = mic
	}
	node.NwkSKey = nwkSKey
	node.AppSKey = appSKey
	ns.SendDownlink(node, accept, DownlinkOptions{Gateway: gw})
}

// adrStep runs the network-server ADR algorithm over a full SNR history and
// emits a LinkADRReq when the link parameters should change.
func (ns *NetworkServer) adrStep(node *Node) {
	maxSNR := node.SNRHistory[0]
	for _, v := range node.SNRHistory[1:] {
		if v > maxSNR {
			maxSNR = v
		}
	}
	required, ok := lorawan.RequiredSNR[node.SF]
	if !ok {
		required = -20.0
	}
	margin := maxSNR - required - lorawan.MarginDB
	nstep := int(math.Round(margin / 3.0))

	sf := node.SF
	power := node.TXPowerDBm
	pIdx, ok := lorawan.DBmToTXPowerIndex[int(power)]
	if !ok {
		pIdx = 0
	}

	if nstep > 0 {
		for nstep > 0 && (sf > lorawan.SFMin || pIdx < lorawan.MaxTXPowerIndex) {
			if sf > lorawan.SFMin {
				sf--
			} else {
				pIdx++
				power = lorawan.TXPowerIndexToDBm[pIdx]
			}
			nstep--
		}
	} else if nstep < 0 {
		for nstep < 0 && (pIdx > 0 || sf < lorawan.SFMax) {
			if pIdx > 0 {
				pIdx--
				power = lorawan.TXPowerIndexToDBm[pIdx]
			} else {
				sf++
			}
			nstep++
		}
	}

	if sf != node.SF || power != node.TXPowerDBm {
		log.WithFields(log.Fields{
			"node_id":  node.ID,
			"sf":       sf,
			"tx_power": power,
		}).Debug("server: ADR adjustment queued")
		ns.SendDownlink(node, nil, DownlinkOptions{
			ADRCommand: &ADRCommand{SF: sf, PowerDBm: power, ChMask: node.ChMask, NbTrans: node.NbTrans},
		})
		node.SNRHistory = node.SNRHistory[:0]
	}
}

func (ns *NetworkServer) node(id int) *Node {
	for _, n := range ns.nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

func (ns *NetworkServer) gateway(id int) *Gateway {
	for _, g := range ns.gateways {
		if g.ID == id {
			return g
		}
	}
	return nil
}
