package loransim

import (
	"math"

	log "github.com/sirupsen/logrus"

	"github.com/rot226/loransim/lorawan"
)

// historyDepth bounds the rolling uplink-outcome and SNR histories.
const historyDepth = 20

// nodeState tracks where the radio currently is in its
// idle → tx → processing → sleep cycle (rx transiently at window times).
type nodeState int

const (
	stateIdle nodeState = iota
	stateTX
	stateProcessing
	stateSleep
	stateRX
)

// UplinkOutcome is one entry of a node's rolling transmission history. SNR
// and RSSI are NaN when the uplink was not delivered.
type UplinkOutcome struct {
	SNR       float64
	RSSI      float64
	Delivered bool
}

// EnergyProfile holds the current draw per radio state and the receive
// window length.
type EnergyProfile struct {
	VoltageV         float64
	SleepCurrentA    float64
	RXCurrentA       float64
	ProcessCurrentA  float64
	RXWindowDuration float64
}

// DefaultEnergyProfile models a typical SX127x class device.
var DefaultEnergyProfile = EnergyProfile{
	VoltageV:         3.3,
	SleepCurrentA:    1e-6,
	RXCurrentA:       11e-3,
	ProcessCurrentA:  5e-3,
	RXWindowDuration: 0.1,
}

// Node is one end-device: position, radio parameters, security session,
// battery and the counters the metrics are built from.
type Node struct {
	ID int

	X, Y               float64
	InitialX, InitialY float64

	SF                int
	InitialSF         int
	TXPowerDBm        float64
	InitialTXPowerDBm float64
	ChMask            uint16
	NbTrans           int
	Class             lorawan.DeviceClass
	Channel           *Channel

	// RXDelay is the Class A RX1 delay in seconds; RX2 opens one second
	// later.
	RXDelay float64

	SecurityEnabled bool
	Activated       bool
	AppKey          lorawan.AES128Key
	NwkSKey         lorawan.AES128Key
	AppSKey         lorawan.AES128Key
	DevAddr         lorawan.DevAddr
	JoinEUI         lorawan.EUI64
	DevEUI          lorawan.EUI64
	DevNonce        lorawan.DevNonce
	FCntUp          uint32
	FCntDown        uint32

	BatteryCapacityJ  float64
	BatteryRemainingJ float64
	EnergyConsumedJ   float64
	Alive             bool
	Profile           EnergyProfile

	PacketsSent      int
	PacketsSuccess   int
	PacketsCollision int
	AcksReceived     int
	DownlinkPending  int

	History    []UplinkOutcome
	SNRHistory []float64

	ADRAckCnt int
	ADRAckReq bool

	LastBeaconTime      float64
	PingSlotPeriodicity int
	BeaconDrift         float64

	state          nodeState
	lastStateTime  float64
	InTransmission bool
	currentEndTime float64

	nbTransLeft int
	lastRSSI    float64
	lastSNR     float64
	lastHeard   bool
}

// NewNode creates a node at the given position. A battery capacity of 0 or
// less means an unlimited energy source.
func NewNode(id int, x, y float64, sf int, txPowerDBm float64, ch *Channel, batteryCapacityJ float64) *Node {
	return &Node{
		ID:                id,
		X:                 x,
		Y:                 y,
		InitialX:          x,
		InitialY:          y,
		SF:                sf,
		InitialSF:         sf,
		TXPowerDBm:        txPowerDBm,
		InitialTXPowerDBm: txPowerDBm,
		ChMask:            0xFFFF,
		NbTrans:           1,
		Class:             lorawan.ClassA,
		Channel:           ch,
		RXDelay:           lorawan.ReceiveDelay1,
		Activated:         true,
		BatteryCapacityJ:  batteryCapacityJ,
		BatteryRemainingJ: batteryCapacityJ,
		Alive:             true,
		Profile:           DefaultEnergyProfile,
	}
}

// EnableSecurity arms the OTAA state machine: the node starts deactivated
// and its first uplinks are join-requests signed with the given AppKey.
func (n *Node) EnableSecurity(appKey lorawan.AES128Key, joinEUI, devEUI lorawan.EUI64) {
	n.SecurityEnabled = true
	n.Activated = false
	n.AppKey = appKey
	n.JoinEUI = joinEUI
	n.DevEUI = devEUI
}

// DistanceTo returns the euclidean distance to the given position.
func (n *Node) DistanceTo(x, y float64) float64 {
	dx := n.X - x
	dy := n.Y - y
	return math.Sqrt(dx*dx + dy*dy)
}

// ScheduleReceiveWindows returns the RX1 and RX2 opening times following a
// transmission that ends at txEnd.
func (n *Node) ScheduleReceiveWindows(txEnd float64) (rx1, rx2 float64) {
	rx1 = txEnd + n.RXDelay
	rx2 = rx1 + 1.0
	return rx1, rx2
}

// NextPingSlotTime returns the node's next Class-B ping slot at or after
// now, derived from its last observed beacon and clock drift.
func (n *Node) NextPingSlotTime(now, beaconInterval, pingSlotInterval, pingSlotOffset float64) float64 {
	return lorawan.NextPingSlotTime(now, n.LastBeaconTime, beaconInterval, pingSlotInterval, pingSlotOffset, n.BeaconDrift)
}

// PrepareUplink builds the frame carried by the node's next transmission: a
// join-request while the device still awaits activation, a data frame
// otherwise. Frame counters and the ADR-ACK bookkeeping advance here.
func (n *Node) PrepareUplink(payloadSize int) lorawan.Payload {
	if n.SecurityEnabled && !n.Activated {
		req := &lorawan.JoinRequest{
			JoinEUI:  n.JoinEUI,
			DevEUI:   n.DevEUI,
			DevNonce: n.DevNonce,
		}
		n.DevNonce++
		if raw, err := req.MarshalBinary(); err == nil {
			if mic, err := lorawan.ComputeJoinMIC(n.AppKey, raw); err == nil {
				req.MIC = mic
			}
		}
		return req
	}

	frame := &lorawan.DataFrame{
		MHDR:    lorawan.MHDRUnconfirmedDataUp,
		FCnt:    n.FCntUp,
		FPort:   1,
		Payload: make([]byte, payloadSize),
	}
	n.FCntUp++

	n.ADRAckCnt++
	if n.ADRAckCnt >= lorawan.ADRAckLimit {
		n.ADRAckReq = true
	}
	if n.ADRAckReq {
		frame.FCtrl |= lorawan.FCtrlADRACKReq
	}

	if n.SecurityEnabled && n.Activated {
		if enc, err := lorawan.EncryptPayload(n.AppSKey, n.DevAddr, frame.FCnt, lorawan.DirUplink, frame.Payload); err == nil {
			frame.Encrypted = enc
			if mic, err := lorawan.ComputeMIC(n.NwkSKey, n.DevAddr, frame.FCnt, lorawan.DirUplink, enc); err == nil {
				frame.MIC = mic
			}
		}
	}
	return frame
}

// HandleDownlink consumes a frame popped from a gateway buffer during a
// receive window.
func (n *Node) HandleDownlink(frame lorawan.Payload) {
	if n.DownlinkPending > 0 {
		n.DownlinkPending--
	}
	n.ADRAckCnt = 0
	n.ADRAckReq = false

	switch f := frame.(type) {
	case *lorawan.DataFrame:
		if f.Confirmed || f.IsACK() {
			n.AcksReceived++
		}
		n.applyMACCommands(f)
	case *lorawan.JoinAccept:
		n.handleJoinAccept(f)
	}
}

func (n *Node) applyMACCommands(f *lorawan.DataFrame) {
	if f.FPort != 0 {
		return
	}
	payload := f.Payload
	if n.SecurityEnabled && f.Encrypted != nil {
		dec, err := lorawan.EncryptPayload(n.AppSKey, n.DevAddr, f.FCnt, lorawan.DirDownlink, f.Encrypted)
		if err != nil {
			return
		}
		payload = dec
	}
	if len(payload) == 0 {
		return
	}

	var cmd lorawan.MACCommand
	if err := cmd.UnmarshalBinary(false, payload); err != nil {
		log.WithFields(log.Fields{
			"node_id": n.ID,
			"error":   err,
		}).Debug("node: undecodable MAC command dropped")
		return
	}

	switch cmd.CID {
	case lorawan.LinkADRReq:
		p, ok := cmd.Payload.(*lorawan.LinkADRReqPayload)
		if !ok {
			return
		}
		if sf, ok := lorawan.DRToSF[int(p.DataRate)]; ok {
			n.SF = sf
		}
		if dbm, ok := lorawan.TXPowerIndexToDBm[int(p.TXPower)]; ok {
			n.TXPowerDBm = dbm
		}
		if p.ChMask != 0 {
			n.ChMask = p.ChMask
		}
		if p.Redundancy.NbRep > 0 {
			n.NbTrans = int(p.Redundancy.NbRep)
		}
		log.WithFields(log.Fields{
			"node_id":  n.ID,
			"sf":       n.SF,
			"tx_power": n.TXPowerDBm,
		}).Debug("node: LinkADRReq applied")
	case lorawan.RXTimingSetupReq:
		p, ok := cmd.Payload.(*lorawan.RXTimingSetupReqPayload)
		if !ok {
			return
		}
		delay := float64(p.Delay)
		if delay == 0 {
			delay = lorawan.ReceiveDelay1
		}
		n.RXDelay = delay
	}
}

func (n *Node) handleJoinAccept(ja *lorawan.JoinAccept) {
	accept := *ja
	if n.SecurityEnabled && len(ja.Encrypted) == 16 {
		plain, err := lorawan.AESEncryptBlock(n.AppKey, ja.Encrypted)
		if err != nil {
			return
		}
		var dec lorawan.JoinAccept
		if err := dec.UnmarshalBinary(plain[:10]); err != nil {
			return
		}
		copy(accept.MIC[:], plain[10:14])
		mic, err := lorawan.ComputeJoinMIC(n.AppKey, plain[:10])
		if err != nil || mic != accept.MIC {
			return
		}
		accept.AppNonce = dec.AppNonce
		accept.NetID = dec.NetID
		accept.DevAddr = dec.DevAddr
	}

	if n.SecurityEnabled {
		nonce := n.DevNonce - 1
		nwk, app, err := lorawan.DeriveSessionKeys(n.AppKey, nonce, accept.AppNonce, accept.NetID)
		if err != nil {
			return
		}
		n.NwkSKey = nwk
		n.AppSKey = app
	}
	n.DevAddr = accept.DevAddr
	n.Activated = true
	n.FCntUp = 0
	log.WithFields(log.Fields{
		"node_id":  n.ID,
		"dev_addr": accept.DevAddr,
	}).Debug("node: join-accept processed")
}

// ConsumeUntil deducts the energy spent in the current radio state since the
// last accounting instant. TX energy is charged separately per transmission.
func (n *Node) ConsumeUntil(t float64) {
	if !n.Alive {
		return
	}
	elapsed := t - n.lastStateTime
	if elapsed <= 0 {
		n.lastStateTime = t
		return
	}
	var current float64
	switch n.state {
	case stateTX:
		current = 0 // charged per transmission
	case stateRX:
		current = n.Profile.RXCurrentA
	case stateProcessing:
		current = n.Profile.ProcessCurrentA
	default:
		current = n.Profile.SleepCurrentA
	}
	n.AddEnergy(current * n.Profile.VoltageV * elapsed)
	n.lastStateTime = t
}

// AddEnergy charges joules against the battery, flipping Alive once it runs
// dry. Unlimited batteries only accumulate the consumption counter.
func (n *Node) AddEnergy(joules float64) {
	n.EnergyConsumedJ += joules
	if n.BatteryCapacityJ <= 0 {
		return
	}
	n.BatteryRemainingJ -= joules
	if n.BatteryRemainingJ <= 0 {
		n.BatteryRemainingJ = 0
		n.Alive = false
		log.WithFields(log.Fields{"node_id": n.ID}).Debug("node: battery depleted")
	}
}

// pushHistory appends one uplink outcome, keeping the rolling window
// bounded.
func (n *Node) pushHistory(o UplinkOutcome) {
	n.History = append(n.History, o)
	if len(n.History) > historyDepth {
		n.History = n.History[1:]
	}
}

// PDR returns the node's lifetime packet delivery ratio.
func (n *Node) PDR() float64 {
	if n.PacketsSent == 0 {
		return 0
	}
	return float64(n.PacketsSuccess) / float64(n.PacketsSent)
}

// RecentPDR returns the delivery ratio over the rolling history window.
func (n *Node) RecentPDR() float64 {
	if len(n.History) == 0 {
		return 0
	}
	success := 0
	for _, o := range n.History {
		if o.Delivered {
			success++
		}
	}
	return float64(success) / float64(len(n.History))
}
