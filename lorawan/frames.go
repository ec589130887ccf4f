package lorawan

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// FCtrl bit assignments for data frames.
const (
	FCtrlADR       = 0x80
	FCtrlADRACKReq = 0x40
	FCtrlACK       = 0x20
)

// MHDR message-type values (MType in the upper three bits).
const (
	MHDRJoinRequest         = 0x00
	MHDRJoinAccept          = 0x20
	MHDRUnconfirmedDataUp   = 0x40
	MHDRUnconfirmedDataDown = 0x60
	MHDRConfirmedDataUp     = 0x80
	MHDRConfirmedDataDown   = 0xA0
)

// Payload is what a gateway carries for a node: raw bytes, a data frame or
// one of the join flow messages. Consumers branch with a type switch.
type Payload interface {
	payload()
}

// RawPayload wraps opaque application bytes.
type RawPayload []byte

func (RawPayload) payload()     {}
func (*DataFrame) payload()     {}
func (*JoinRequest) payload()   {}
func (*JoinAccept) payload()    {}
func (*RejoinRequest) payload() {}

// DataFrame models an (un)confirmed data frame. Payload holds the plaintext
// FRMPayload; Encrypted and MIC are filled in when the session has security
// enabled.
type DataFrame struct {
	MHDR      byte
	FCtrl     byte
	FCnt      uint32
	FPort     uint8
	Payload   []byte
	Encrypted []byte
	MIC       MIC
	Confirmed bool
}

// IsACK reports whether the frame acknowledges a confirmed uplink.
func (f *DataFrame) IsACK() bool {
	return f.FCtrl&FCtrlACK != 0
}

// JoinRequest models an OTAA join-request.
type JoinRequest struct {
	JoinEUI  EUI64
	DevEUI   EUI64
	DevNonce DevNonce
	MIC      MIC
}

// MarshalBinary marshals the object in binary form (without the MIC).
func (p JoinRequest) MarshalBinary() ([]byte, error) {
	b := make([]byte, 18)
	binary.LittleEndian.PutUint64(b[0:8], uint64(p.JoinEUI))
	binary.LittleEndian.PutUint64(b[8:16], uint64(p.DevEUI))
	binary.LittleEndian.PutUint16(b[16:18], uint16(p.DevNonce))
	return b, nil
}

// UnmarshalBinary decodes the object from binary form.
func (p *JoinRequest) UnmarshalBinary(data []byte) error {
	if len(data) != 18 {
		return errors.New("lorawan: 18 bytes of data are expected")
	}
	p.JoinEUI = EUI64(binary.LittleEndian.Uint64(data[0:8]))
	p.DevEUI = EUI64(binary.LittleEndian.Uint64(data[8:16]))
	p.DevNonce = DevNonce(binary.LittleEndian.Uint16(data[16:18]))
	return nil
}

// JoinAccept models the join-accept answer. Encrypted holds the AES block
// produced by EncryptJoinAccept when security is enabled.
type JoinAccept struct {
	AppNonce  uint32
	NetID     uint32
	DevAddr   DevAddr
	MIC       MIC
	Encrypted []byte
}

// MarshalBinary marshals the object in binary form (without the MIC).
func (p JoinAccept) MarshalBinary() ([]byte, error) {
	if p.AppNonce > 0xFFFFFF {
		return nil, errors.New("lorawan: max value of AppNonce is 2^24 - 1")
	}
	if p.NetID > 0xFFFFFF {
		return nil, errors.New("lorawan: max value of NetID is 2^24 - 1")
	}
	b := make([]byte, 10)
	putUint24(b[0:3], p.AppNonce)
	putUint24(b[3:6], p.NetID)
	binary.LittleEndian.PutUint32(b[6:10], uint32(p.DevAddr))
	return b, nil
}

// UnmarshalBinary decodes the object from binary form.
func (p *JoinAccept) UnmarshalBinary(data []byte) error {
	if len(data) != 10 {
		return errors.New("lorawan: 10 bytes of data are expected")
	}
	p.AppNonce = uint24(data[0:3])
	p.NetID = uint24(data[3:6])
	p.DevAddr = DevAddr(binary.LittleEndian.Uint32(data[6:10]))
	return nil
}

// RejoinRequest models a type 0/2 rejoin-request.
type RejoinRequest struct {
	RejoinType uint8
	NetID      uint32
	DevEUI     EUI64
	RJCount    uint16
	MIC        MIC
}

// MarshalBinary marshals the object in binary form (without the MIC).
func (p RejoinRequest) MarshalBinary() ([]byte, error) {
	if p.NetID > 0xFFFFFF {
		return nil, errors.New("lorawan: max value of NetID is 2^24 - 1")
	}
	b := make([]byte, 14)
	b[0] = p.RejoinType
	putUint24(b[1:4], p.NetID)
	binary.LittleEndian.PutUint64(b[4:12], uint64(p.DevEUI))
	binary.LittleEndian.PutUint16(b[12:14], p.RJCount)
	return b, nil
}

// UnmarshalBinary decodes the object from binary form.
func (p *RejoinRequest) UnmarshalBinary(data []byte) error {
	if len(data) != 14 {
		return errors.New("lorawan: 14 bytes of data are expected")
	}
	p.RejoinType = data[0]
	p.NetID = uint24(data[1:4])
	p.DevEUI = EUI64(binary.LittleEndian.Uint64(data[4:12]))
	p.RJCount = binary.LittleEndian.Uint16(data[12:14])
	return nil
}

func putUint24(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}

func uint24(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}
