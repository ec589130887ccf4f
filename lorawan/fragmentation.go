package lorawan

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// FragCID defines the fragmentation-session command identifier. The
// fragmented-data-block transport runs on its own application port and has
// its own CID space.
type FragCID byte

// Available fragmentation commands.
const (
	FragStatusReq        FragCID = 0x01
	FragStatusAns        FragCID = 0x01
	FragSessionSetupReq  FragCID = 0x02
	FragSessionSetupAns  FragCID = 0x02
	FragSessionDeleteReq FragCID = 0x03
	FragSessionDeleteAns FragCID = 0x03
)

// FragSessionSetupReqPayload implements the FragSessionSetupReq payload.
type FragSessionSetupReqPayload struct {
	McGroupBitMask [4]bool
	FragIndex      uint8
	NbFrag         uint16
	FragSize       uint8
	BlockAckDelay  uint8
	FragAlgo       uint8
	Padding        uint8
	Descriptor     [4]byte
}

// MarshalBinary marshals the object in binary form.
func (p FragSessionSetupReqPayload) MarshalBinary() ([]byte, error) {
	if p.FragIndex > 3 {
		return nil, errors.New("lorawan: max value of FragIndex is 3")
	}
	if p.BlockAckDelay > 7 {
		return nil, errors.New("lorawan: max value of BlockAckDelay is 7")
	}
	if p.FragAlgo > 7 {
		return nil, errors.New("lorawan: max value of FragAlgo is 7")
	}
	b := make([]byte, 10)
	for i, set := range p.McGroupBitMask {
		if set {
			b[0] |= 1 << uint(i)
		}
	}
	b[0] |= p.FragIndex << 4
	binary.LittleEndian.PutUint16(b[1:3], p.NbFrag)
	b[3] = p.FragSize
	b[4] = p.FragAlgo<<3 | p.BlockAckDelay
	b[5] = p.Padding
	copy(b[6:10], p.Descriptor[:])
	return b, nil
}

// UnmarshalBinary decodes the object from binary form.
func (p *FragSessionSetupReqPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 10 {
		return errors.New("lorawan: 10 bytes of data are expected")
	}
	for i := range p.McGroupBitMask {
		p.McGroupBitMask[i] = data[0]&(1<<uint(i)) != 0
	}
	p.FragIndex = data[0] >> 4 & 0x03
	p.NbFrag = binary.LittleEndian.Uint16(data[1:3])
	p.FragSize = data[3]
	p.FragAlgo = data[4] >> 3 & 0x07
	p.BlockAckDelay = data[4] & 0x07
	p.Padding = data[5]
	copy(p.Descriptor[:], data[6:10])
	return nil
}

// FragSessionSetupAnsPayload implements the FragSessionSetupAns payload.
type FragSessionSetupAnsPayload struct {
	FragIndex                    uint8
	WrongDescriptor              bool
	FragSessionIndexNotSupported bool
	NotEnoughMemory              bool
	EncodingUnsupported          bool
}

// MarshalBinary marshals the object in binary form.
func (p FragSessionSetupAnsPayload) MarshalBinary() ([]byte, error) {
	if p.FragIndex > 3 {
		return nil, errors.New("lorawan: max value of FragIndex is 3")
	}
	var b byte
	if p.EncodingUnsupported {
		b |= 0x01
	}
	if p.NotEnoughMemory {
		b |= 0x02
	}
	if p.FragSessionIndexNotSupported {
		b |= 0x04
	}
	if p.WrongDescriptor {
		b |= 0x08
	}
	b |= p.FragIndex << 6
	return []byte{b}, nil
}

// UnmarshalBinary decodes the object from binary form.
func (p *FragSessionSetupAnsPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 1 {
		return errors.New("lorawan: 1 byte of data is expected")
	}
	p.EncodingUnsupported = data[0]&0x01 != 0
	p.NotEnoughMemory = data[0]&0x02 != 0
	p.FragSessionIndexNotSupported = data[0]&0x04 != 0
	p.WrongDescriptor = data[0]&0x08 != 0
	p.FragIndex = data[0] >> 6
	return nil
}

// FragSessionDeleteReqPayload implements the FragSessionDeleteReq payload.
type FragSessionDeleteReqPayload struct {
	FragIndex uint8
}

// MarshalBinary marshals the object in binary form.
func (p FragSessionDeleteReqPayload) MarshalBinary() ([]byte, error) {
	if p.FragIndex > 3 {
		return nil, errors.New("lorawan: max value of FragIndex is 3")
	}
	return []byte{p.FragIndex}, nil
}

// UnmarshalBinary decodes the object from binary form.
func (p *FragSessionDeleteReqPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 1 {
		return errors.New("lorawan: 1 byte of data is expected")
	}
	p.FragIndex = data[0] & 0x03
	return nil
}

// FragSessionDeleteAnsPayload implements the FragSessionDeleteAns payload.
type FragSessionDeleteAnsPayload struct {
	FragIndex       uint8
	SessionNotFound bool
}

// MarshalBinary marshals the object in binary form.
func (p FragSessionDeleteAnsPayload) MarshalBinary() ([]byte, error) {
	if p.FragIndex > 3 {
		return nil, errors.New("lorawan: max value of FragIndex is 3")
	}
	b := p.FragIndex
	if p.SessionNotFound {
		b |= 0x04
	}
	return []byte{b}, nil
}

// UnmarshalBinary decodes the object from binary form.
func (p *FragSessionDeleteAnsPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 1 {
		return errors.New("lorawan: 1 byte of data is expected")
	}
	p.FragIndex = data[0] & 0x03
	p.SessionNotFound = data[0]&0x04 != 0
	return nil
}

// FragStatusReqPayload implements the FragStatusReq payload.
type FragStatusReqPayload struct {
	FragIndex    uint8
	Participants bool
}

// MarshalBinary marshals the object in binary form.
func (p FragStatusReqPayload) MarshalBinary() ([]byte, error) {
	if p.FragIndex > 3 {
		return nil, errors.New("lorawan: max value of FragIndex is 3")
	}
	b := p.FragIndex << 1
	if p.Participants {
		b |= 0x01
	}
	return []byte{b}, nil
}

// UnmarshalBinary decodes the object from binary form.
func (p *FragStatusReqPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 1 {
		return errors.New("lorawan: 1 byte of data is expected")
	}
	p.Participants = data[0]&0x01 != 0
	p.FragIndex = data[0] >> 1 & 0x03
	return nil
}

// FragStatusAnsPayload implements the FragStatusAns payload.
type FragStatusAnsPayload struct {
	FragIndex             uint8
	NbFragReceived        uint16
	NbFragMissing         uint8
	NotEnoughMatrixMemory bool
}

// MarshalBinary marshals the object in binary form.
func (p FragStatusAnsPayload) MarshalBinary() ([]byte, error) {
	if p.FragIndex > 3 {
		return nil, errors.New("lorawan: max value of FragIndex is 3")
	}
	if p.NbFragReceived > 0x3FFF {
		return nil, errors.New("lorawan: max value of NbFragReceived is 2^14 - 1")
	}
	b := make([]byte, 4)
	binary.LittleEndian.PutUint16(b[0:2], p.NbFragReceived|uint16(p.FragIndex)<<14)
	b[2] = p.NbFragMissing
	if p.NotEnoughMatrixMemory {
		b[3] = 0x01
	}
	return b, nil
}

// UnmarshalBinary decodes the object from binary form.
func (p *FragStatusAnsPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 4 {
		return errors.New("lorawan: 4 bytes of data are expected")
	}
	v := binary.LittleEndian.Uint16(data[0:2])
	p.NbFragReceived = v & 0x3FFF
	p.FragIndex = uint8(v >> 14)
	p.NbFragMissing = data[2]
	p.NotEnoughMatrixMemory = data[3]&0x01 != 0
	return nil
}
