package lorawan

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// CID defines the MAC command identifier.
type CID byte

// MAC commands as specified by the LoRaWAN specs. Note that each *Req / *Ans
// pair shares the same value; direction decides which payload applies.
const (
	LinkADRReq          CID = 0x03
	LinkADRAns          CID = 0x03
	DutyCycleReq        CID = 0x04
	DutyCycleAns        CID = 0x04
	RXParamSetupReq     CID = 0x05
	RXParamSetupAns     CID = 0x05
	DevStatusReq        CID = 0x06
	DevStatusAns        CID = 0x06
	NewChannelReq       CID = 0x07
	NewChannelAns       CID = 0x07
	RXTimingSetupReq    CID = 0x08
	RXTimingSetupAns    CID = 0x08
	ADRParamSetupReq    CID = 0x0C
	ADRParamSetupAns    CID = 0x0C
	RejoinParamSetupReq CID = 0x0F
	RejoinParamSetupAns CID = 0x0F
	PingSlotInfoReq     CID = 0x10
	PingSlotInfoAns     CID = 0x10
	PingSlotChannelReq  CID = 0x11
	PingSlotChannelAns  CID = 0x11
	BeaconTimingReq     CID = 0x12
	BeaconTimingAns     CID = 0x12
	BeaconFreqReq       CID = 0x13
	BeaconFreqAns       CID = 0x13
	DeviceModeInd       CID = 0x20
	DeviceModeConf      CID = 0x20
)

// MACCommandPayload is the interface that every MAC command payload must
// implement.
type MACCommandPayload interface {
	MarshalBinary() (data []byte, err error)
	UnmarshalBinary(data []byte) error
}

// macPayloadInfo contains the info about a MAC payload.
type macPayloadInfo struct {
	size    int
	payload func() MACCommandPayload
}

// macPayloadRegistry contains the payload info for uplink and downlink MAC
// commands in the format map[uplink]map[CID]. Commands without a payload are
// not included.
var macPayloadRegistry = map[bool]map[CID]macPayloadInfo{
	false: {
		LinkADRReq:          {4, func() MACCommandPayload { return &LinkADRReqPayload{} }},
		DutyCycleReq:        {1, func() MACCommandPayload { return &DutyCycleReqPayload{} }},
		RXParamSetupReq:     {4, func() MACCommandPayload { return &RXParamSetupReqPayload{} }},
		NewChannelReq:       {5, func() MACCommandPayload { return &NewChannelReqPayload{} }},
		RXTimingSetupReq:    {1, func() MACCommandPayload { return &RXTimingSetupReqPayload{} }},
		ADRParamSetupReq:    {1, func() MACCommandPayload { return &ADRParamSetupReqPayload{} }},
		RejoinParamSetupReq: {1, func() MACCommandPayload { return &RejoinParamSetupReqPayload{} }},
		BeaconTimingAns:     {3, func() MACCommandPayload { return &BeaconTimingAnsPayload{} }},
	},
	true: {
		LinkADRAns:         {1, func() MACCommandPayload { return &LinkADRAnsPayload{} }},
		DevStatusAns:       {2, func() MACCommandPayload { return &DevStatusAnsPayload{} }},
		PingSlotInfoReq:    {1, func() MACCommandPayload { return &PingSlotInfoReqPayload{} }},
		PingSlotChannelAns: {1, func() MACCommandPayload { return &PingSlotChannelAnsPayload{} }},
		BeaconFreqAns:      {1, func() MACCommandPayload { return &BeaconFreqAnsPayload{} }},
		DeviceModeInd:      {1, func() MACCommandPayload { return &DeviceModeIndPayload{} }},
	},
}

// GetMACPayloadAndSize returns a new MACCommandPayload instance and its size
// for the given direction and CID.
func GetMACPayloadAndSize(uplink bool, c CID) (MACCommandPayload, int, error) {
	v, ok := macPayloadRegistry[uplink][c]
	if !ok {
		return nil, 0, fmt.Errorf("lorawan: payload unknown for uplink=%v and CID=%v", uplink, byte(c))
	}
	return v.payload(), v.size, nil
}

// MACCommand represents a MAC command with optional payload.
type MACCommand struct {
	CID     CID
	Payload MACCommandPayload
}

// MarshalBinary marshals the object in binary form.
func (m MACCommand) MarshalBinary() ([]byte, error) {
	b := []byte{byte(m.CID)}
	if m.Payload != nil {
		p, err := m.Payload.MarshalBinary()
		if err != nil {
			return nil, err
		}
		b = append(b, p...)
	}
	return b, nil
}

// UnmarshalBinary decodes the object from binary form.
func (m *MACCommand) UnmarshalBinary(uplink bool, data []byte) error {
	if len(data) == 0 {
		return errors.New("lorawan: at least 1 byte of data is expected")
	}
	m.CID = CID(data[0])
	if len(data) > 1 {
		p, _, err := GetMACPayloadAndSize(uplink, m.CID)
		if err != nil {
			return err
		}
		m.Payload = p
		if err := m.Payload.UnmarshalBinary(data[1:]); err != nil {
			return err
		}
	}
	return nil
}

// Redundancy represents the redundancy field of the LinkADRReq.
type Redundancy struct {
	ChMaskCntl uint8
	NbRep      uint8
}

// LinkADRReqPayload represents the LinkADRReq payload. ChMask is the 16-bit
// channel mask, bit 0 enabling channel 0.
type LinkADRReqPayload struct {
	DataRate   uint8
	TXPower    uint8
	ChMask     uint16
	Redundancy Redundancy
}

// MarshalBinary marshals the object in binary form.
func (p LinkADRReqPayload) MarshalBinary() ([]byte, error) {
	if p.DataRate > 15 {
		return nil, errors.New("lorawan: max value of DataRate is 15")
	}
	if p.TXPower > 15 {
		return nil, errors.New("lorawan: max value of TXPower is 15")
	}
	if p.Redundancy.ChMaskCntl > 7 {
		return nil, errors.New("lorawan: max value of ChMaskCntl is 7")
	}
	if p.Redundancy.NbRep > 15 {
		return nil, errors.New("lorawan: max value of NbRep is 15")
	}
	b := make([]byte, 4)
	b[0] = p.DataRate<<4 | p.TXPower
	binary.LittleEndian.PutUint16(b[1:3], p.ChMask)
	b[3] = p.Redundancy.ChMaskCntl<<4 | p.Redundancy.NbRep
	return b, nil
}

// UnmarshalBinary decodes the object from binary form.
func (p *LinkADRReqPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 4 {
		return errors.New("lorawan: 4 bytes of data are expected")
	}
	p.DataRate = data[0] >> 4
	p.TXPower = data[0] & 0x0F
	p.ChMask = binary.LittleEndian.Uint16(data[1:3])
	p.Redundancy.ChMaskCntl = data[3] >> 4 & 0x07
	p.Redundancy.NbRep = data[3] & 0x0F
	return nil
}

// LinkADRAnsPayload represents the LinkADRAns payload.
type LinkADRAnsPayload struct {
	ChannelMaskACK bool
	DataRateACK    bool
	PowerACK       bool
}

// MarshalBinary marshals the object in binary form.
func (p LinkADRAnsPayload) MarshalBinary() ([]byte, error) {
	var b byte
	if p.ChannelMaskACK {
		b |= 0x01
	}
	if p.DataRateACK {
		b |= 0x02
	}
	if p.PowerACK {
		b |= 0x04
	}
	return []byte{b}, nil
}

// UnmarshalBinary decodes the object from binary form.
func (p *LinkADRAnsPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 1 {
		return errors.New("lorawan: 1 byte of data is expected")
	}
	p.ChannelMaskACK = data[0]&0x01 != 0
	p.DataRateACK = data[0]&0x02 != 0
	p.PowerACK = data[0]&0x04 != 0
	return nil
}

// DutyCycleReqPayload represents the DutyCycleReq payload. The aggregated
// duty cycle equals 1 / 2^MaxDCycle.
type DutyCycleReqPayload struct {
	MaxDCycle uint8
}

// MarshalBinary marshals the object in binary form.
func (p DutyCycleReqPayload) MarshalBinary() ([]byte, error) {
	if p.MaxDCycle > 15 && p.MaxDCycle < 255 {
		return nil, errors.New("lorawan: only MaxDCycle 0 - 15 and 255 are valid")
	}
	return []byte{p.MaxDCycle}, nil
}

// UnmarshalBinary decodes the object from binary form.
func (p *DutyCycleReqPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 1 {
		return errors.New("lorawan: 1 byte of data is expected")
	}
	p.MaxDCycle = data[0]
	return nil
}

// RXParamSetupReqPayload represents the RXParamSetupReq payload. Frequency
// must be given in Hz and a multiple of 100.
type RXParamSetupReqPayload struct {
	RX1DROffset uint8
	RX2DataRate uint8
	Frequency   uint32
}

// MarshalBinary marshals the object in binary form.
func (p RXParamSetupReqPayload) MarshalBinary() ([]byte, error) {
	if p.RX1DROffset > 7 {
		return nil, errors.New("lorawan: max value of RX1DROffset is 7")
	}
	if p.RX2DataRate > 15 {
		return nil, errors.New("lorawan: max value of RX2DataRate is 15")
	}
	if p.Frequency/100 >= 1<<24 {
		return nil, errors.New("lorawan: max value of Frequency is 2^24 - 1")
	}
	if p.Frequency%100 != 0 {
		return nil, errors.New("lorawan: Frequency must be a multiple of 100")
	}
	b := make([]byte, 4)
	b[0] = p.RX1DROffset<<4 | p.RX2DataRate
	putUint24(b[1:4], p.Frequency/100)
	return b, nil
}

// UnmarshalBinary decodes the object from binary form.
func (p *RXParamSetupReqPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 4 {
		return errors.New("lorawan: 4 bytes of data are expected")
	}
	p.RX1DROffset = data[0] >> 4 & 0x07
	p.RX2DataRate = data[0] & 0x0F
	p.Frequency = uint24(data[1:4]) * 100
	return nil
}

// DevStatusAnsPayload represents the DevStatusAns payload. Margin is the
// demodulation SNR of the last DevStatusReq, in the range [-32, 31].
type DevStatusAnsPayload struct {
	Battery uint8
	Margin  int8
}

// MarshalBinary marshals the object in binary form.
func (p DevStatusAnsPayload) MarshalBinary() ([]byte, error) {
	if p.Margin < -32 {
		return nil, errors.New("lorawan: min value of Margin is -32")
	}
	if p.Margin > 31 {
		return nil, errors.New("lorawan: max value of Margin is 31")
	}
	return []byte{p.Battery, uint8(p.Margin) & 0x3F}, nil
}

// UnmarshalBinary decodes the object from binary form.
func (p *DevStatusAnsPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 2 {
		return errors.New("lorawan: 2 bytes of data are expected")
	}
	p.Battery = data[0]
	margin := int8(data[1] & 0x3F)
	if margin > 31 {
		margin = margin - 64
	}
	p.Margin = margin
	return nil
}

// NewChannelReqPayload represents the NewChannelReq payload. Freq must be
// given in Hz and a multiple of 100.
type NewChannelReqPayload struct {
	ChIndex uint8
	Freq    uint32
	MinDR   uint8
	MaxDR   uint8
}

// MarshalBinary marshals the object in binary form.
func (p NewChannelReqPayload) MarshalBinary() ([]byte, error) {
	if p.Freq/100 >= 1<<24 {
		return nil, errors.New("lorawan: max value of Freq is 2^24 - 1")
	}
	if p.Freq%100 != 0 {
		return nil, errors.New("lorawan: Freq must be a multiple of 100")
	}
	if p.MinDR > 15 {
		return nil, errors.New("lorawan: max value of MinDR is 15")
	}
	if p.MaxDR > 15 {
		return nil, errors.New("lorawan: max value of MaxDR is 15")
	}
	b := make([]byte, 5)
	b[0] = p.ChIndex
	putUint24(b[1:4], p.Freq/100)
	b[4] = p.MaxDR<<4 | p.MinDR
	return b, nil
}

// UnmarshalBinary decodes the object from binary form.
func (p *NewChannelReqPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 5 {
		return errors.New("lorawan: 5 bytes of data are expected")
	}
	p.ChIndex = data[0]
	p.Freq = uint24(data[1:4]) * 100
	p.MaxDR = data[4] >> 4
	p.MinDR = data[4] & 0x0F
	return nil
}

// RXTimingSetupReqPayload represents the RXTimingSetupReq payload. Delay is
// expressed in seconds; 0 maps to the 1 s default on the device.
type RXTimingSetupReqPayload struct {
	Delay uint8
}

// MarshalBinary marshals the object in binary form.
func (p RXTimingSetupReqPayload) MarshalBinary() ([]byte, error) {
	if p.Delay > 15 {
		return nil, errors.New("lorawan: max value of Delay is 15")
	}
	return []byte{p.Delay}, nil
}

// UnmarshalBinary decodes the object from binary form.
func (p *RXTimingSetupReqPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 1 {
		return errors.New("lorawan: 1 byte of data is expected")
	}
	p.Delay = data[0] & 0x0F
	return nil
}

// ADRParamSetupReqPayload represents the ADRParamSetupReq payload. The
// ADR_ACK_LIMIT and ADR_ACK_DELAY equal 2^exp.
type ADRParamSetupReqPayload struct {
	LimitExp uint8
	DelayExp uint8
}

// MarshalBinary marshals the object in binary form.
func (p ADRParamSetupReqPayload) MarshalBinary() ([]byte, error) {
	if p.LimitExp > 15 {
		return nil, errors.New("lorawan: max value of LimitExp is 15")
	}
	if p.DelayExp > 15 {
		return nil, errors.New("lorawan: max value of DelayExp is 15")
	}
	return []byte{p.LimitExp<<4 | p.DelayExp}, nil
}

// UnmarshalBinary decodes the object from binary form.
func (p *ADRParamSetupReqPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 1 {
		return errors.New("lorawan: 1 byte of data is expected")
	}
	p.LimitExp = data[0] >> 4
	p.DelayExp = data[0] & 0x0F
	return nil
}

// RejoinParamSetupReqPayload represents the RejoinParamSetupReq payload.
type RejoinParamSetupReqPayload struct {
	MaxTimeN  uint8
	MaxCountN uint8
}

// MarshalBinary marshals the object in binary form.
func (p RejoinParamSetupReqPayload) MarshalBinary() ([]byte, error) {
	if p.MaxTimeN > 15 {
		return nil, errors.New("lorawan: max value of MaxTimeN is 15")
	}
	if p.MaxCountN > 15 {
		return nil, errors.New("lorawan: max value of MaxCountN is 15")
	}
	return []byte{p.MaxTimeN<<4 | p.MaxCountN}, nil
}

// UnmarshalBinary decodes the object from binary form.
func (p *RejoinParamSetupReqPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 1 {
		return errors.New("lorawan: 1 byte of data is expected")
	}
	p.MaxTimeN = data[0] >> 4
	p.MaxCountN = data[0] & 0x0F
	return nil
}

// PingSlotInfoReqPayload represents the PingSlotInfoReq payload. The ping
// period equals 2^Periodicity seconds.
type PingSlotInfoReqPayload struct {
	Periodicity uint8
}

// MarshalBinary marshals the object in binary form.
func (p PingSlotInfoReqPayload) MarshalBinary() ([]byte, error) {
	if p.Periodicity > 7 {
		return nil, errors.New("lorawan: max value of Periodicity is 7")
	}
	return []byte{p.Periodicity}, nil
}

// UnmarshalBinary decodes the object from binary form.
func (p *PingSlotInfoReqPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 1 {
		return errors.New("lorawan: 1 byte of data is expected")
	}
	p.Periodicity = data[0] & 0x07
	return nil
}

// PingSlotChannelAnsPayload represents the PingSlotChannelAns payload.
type PingSlotChannelAnsPayload struct {
	ChannelFrequencyOK bool
	DataRateOK         bool
}

// MarshalBinary marshals the object in binary form.
func (p PingSlotChannelAnsPayload) MarshalBinary() ([]byte, error) {
	var b byte
	if p.ChannelFrequencyOK {
		b |= 0x01
	}
	if p.DataRateOK {
		b |= 0x02
	}
	return []byte{b}, nil
}

// UnmarshalBinary decodes the object from binary form.
func (p *PingSlotChannelAnsPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 1 {
		return errors.New("lorawan: 1 byte of data is expected")
	}
	p.ChannelFrequencyOK = data[0]&0x01 != 0
	p.DataRateOK = data[0]&0x02 != 0
	return nil
}

// BeaconTimingAnsPayload represents the BeaconTimingAns payload. Delay is
// expressed in units of 30 ms until the next beacon.
type BeaconTimingAnsPayload struct {
	Delay   uint16
	Channel uint8
}

// MarshalBinary marshals the object in binary form.
func (p BeaconTimingAnsPayload) MarshalBinary() ([]byte, error) {
	b := make([]byte, 3)
	binary.LittleEndian.PutUint16(b[0:2], p.Delay)
	b[2] = p.Channel
	return b, nil
}

// UnmarshalBinary decodes the object from binary form.
func (p *BeaconTimingAnsPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 3 {
		return errors.New("lorawan: 3 bytes of data are expected")
	}
	p.Delay = binary.LittleEndian.Uint16(data[0:2])
	p.Channel = data[2]
	return nil
}

// BeaconFreqAnsPayload represents the BeaconFreqAns payload.
type BeaconFreqAnsPayload struct {
	BeaconFrequencyOK bool
}

// MarshalBinary marshals the object in binary form.
func (p BeaconFreqAnsPayload) MarshalBinary() ([]byte, error) {
	var b byte
	if p.BeaconFrequencyOK {
		b = 0x01
	}
	return []byte{b}, nil
}

// UnmarshalBinary decodes the object from binary form.
func (p *BeaconFreqAnsPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 1 {
		return errors.New("lorawan: 1 byte of data is expected")
	}
	p.BeaconFrequencyOK = data[0]&0x01 != 0
	return nil
}

// DeviceModeIndPayload represents the DeviceModeInd payload. Only classes A
// and C can be indicated.
type DeviceModeIndPayload struct {
	Class DeviceClass
}

// MarshalBinary marshals the object in binary form.
func (p DeviceModeIndPayload) MarshalBinary() ([]byte, error) {
	switch p.Class {
	case ClassA:
		return []byte{0x00}, nil
	case ClassC:
		return []byte{0x02}, nil
	default:
		return nil, errors.New("lorawan: only class A and C can be indicated")
	}
}

// UnmarshalBinary decodes the object from binary form.
func (p *DeviceModeIndPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 1 {
		return errors.New("lorawan: 1 byte of data is expected")
	}
	switch data[0] {
	case 0x00:
		p.Class = ClassA
	case 0x02:
		p.Class = ClassC
	default:
		return fmt.Errorf("lorawan: unknown device mode %d", data[0])
	}
	return nil
}
