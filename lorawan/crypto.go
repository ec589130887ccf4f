package lorawan

import (
	"crypto/aes"
	"encoding/binary"

	"github.com/jacobsa/crypto/cmac"
	"github.com/pkg/errors"
)

// Frame directions as used in the MIC and encryption blocks.
const (
	DirUplink   = 0
	DirDownlink = 1
)

// ComputeMIC computes the data-frame MIC: AES-CMAC over the B0 block
// followed by the (encrypted) FRMPayload.
func ComputeMIC(nwkSKey AES128Key, devAddr DevAddr, fcnt uint32, dir uint8, payload []byte) (MIC, error) {
	var mic MIC

	b0 := make([]byte, 16)
	b0[0] = 0x49
	b0[5] = dir
	binary.LittleEndian.PutUint32(b0[6:10], uint32(devAddr))
	binary.LittleEndian.PutUint32(b0[10:14], fcnt)
	b0[15] = byte(len(payload))

	hash, err := cmac.New(nwkSKey[:])
	if err != nil {
		return mic, errors.Wrap(err, "new cmac error")
	}
	if _, err := hash.Write(b0); err != nil {
		return mic, errors.Wrap(err, "hash write error")
	}
	if _, err := hash.Write(payload); err != nil {
		return mic, errors.Wrap(err, "hash write error")
	}

	hb := hash.Sum([]byte{})
	if len(hb) < 4 {
		return mic, errors.New("lorawan: the hash returned less than 4 bytes")
	}
	copy(mic[:], hb[0:4])
	return mic, nil
}

// EncryptPayload encrypts (or, being an XOR stream, decrypts) the FRMPayload
// using the LoRaWAN A-block keystream.
func EncryptPayload(appSKey AES128Key, devAddr DevAddr, fcnt uint32, dir uint8, payload []byte) ([]byte, error) {
	block, err := aes.NewCipher(appSKey[:])
	if err != nil {
		return nil, errors.Wrap(err, "new cipher error")
	}

	out := make([]byte, len(payload))
	a := make([]byte, 16)
	s := make([]byte, 16)
	for i := 0; i < len(payload); i += 16 {
		a[0] = 0x01
		a[1], a[2], a[3], a[4] = 0, 0, 0, 0
		a[5] = dir
		binary.LittleEndian.PutUint32(a[6:10], uint32(devAddr))
		binary.LittleEndian.PutUint32(a[10:14], fcnt)
		a[14] = 0
		a[15] = byte(i/16 + 1)
		block.Encrypt(s, a)
		for j := i; j < len(payload) && j < i+16; j++ {
			out[j] = payload[j] ^ s[j-i]
		}
	}
	return out, nil
}

// ValidateFrame checks the MIC and the frame-counter ordering of a secured
// data frame. It returns false on any failure; validation errors are never
// surfaced beyond that.
func ValidateFrame(f *DataFrame, nwkSKey, appSKey AES128Key, devAddr DevAddr, expectedFCnt uint32) bool {
	if f == nil {
		return false
	}
	if f.FCnt < expectedFCnt {
		return false
	}
	payload := f.Encrypted
	if payload == nil {
		payload = f.Payload
	}
	dir := uint8(DirUplink)
	if f.MHDR == MHDRUnconfirmedDataDown || f.MHDR == MHDRConfirmedDataDown {
		dir = DirDownlink
	}
	mic, err := ComputeMIC(nwkSKey, devAddr, f.FCnt, dir, payload)
	if err != nil {
		return false
	}
	return mic == f.MIC
}

// DeriveSessionKeys derives the network and application session keys from
// the AppKey and the activation nonces.
func DeriveSessionKeys(appKey AES128Key, devNonce DevNonce, appNonce, netID uint32) (nwkSKey, appSKey AES128Key, err error) {
	nwkSKey, err = deriveSKey(0x01, appKey, devNonce, appNonce, netID)
	if err != nil {
		return
	}
	appSKey, err = deriveSKey(0x02, appKey, devNonce, appNonce, netID)
	return
}

func deriveSKey(typ byte, appKey AES128Key, devNonce DevNonce, appNonce, netID uint32) (AES128Key, error) {
	var key AES128Key
	b := make([]byte, 16)
	b[0] = typ
	putUint24(b[1:4], appNonce&0xFFFFFF)
	putUint24(b[4:7], netID&0xFFFFFF)
	binary.LittleEndian.PutUint16(b[7:9], uint16(devNonce))

	block, err := aes.NewCipher(appKey[:])
	if err != nil {
		return key, errors.Wrap(err, "new cipher error")
	}
	block.Encrypt(key[:], b)
	return key, nil
}

// ComputeJoinMIC computes the MIC over a join-request, rejoin-request or
// join-accept payload.
func ComputeJoinMIC(key AES128Key, data []byte) (MIC, error) {
	var mic MIC
	hash, err := cmac.New(key[:])
	if err != nil {
		return mic, errors.Wrap(err, "new cmac error")
	}
	if _, err := hash.Write(data); err != nil {
		return mic, errors.Wrap(err, "hash write error")
	}
	hb := hash.Sum([]byte{})
	if len(hb) < 4 {
		return mic, errors.New("lorawan: the hash returned less than 4 bytes")
	}
	copy(mic[:], hb[0:4])
	return mic, nil
}

// EncryptJoinAccept encrypts the join-accept payload plus MIC. Per the
// LoRaWAN specification the network server uses the AES decrypt operation so
// that the device only needs the encrypt primitive to recover it.
func EncryptJoinAccept(appKey AES128Key, accept *JoinAccept) ([]byte, MIC, error) {
	pl, err := accept.MarshalBinary()
	if err != nil {
		return nil, MIC{}, err
	}
	mic, err := ComputeJoinMIC(appKey, pl)
	if err != nil {
		return nil, MIC{}, err
	}

	buf := make([]byte, 16)
	copy(buf, pl)
	copy(buf[len(pl):], mic[:])

	block, err := aes.NewCipher(appKey[:])
	if err != nil {
		return nil, MIC{}, errors.Wrap(err, "new cipher error")
	}
	enc := make([]byte, 16)
	block.Decrypt(enc, buf)
	return enc, mic, nil
}

// AESEncryptBlock encrypts a single 16-byte block; the device side of the
// join-accept handshake uses it to recover the plaintext.
func AESEncryptBlock(key AES128Key, data []byte) ([]byte, error) {
	if len(data) != 16 {
		return nil, errors.New("lorawan: 16 bytes of data are expected")
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, errors.Wrap(err, "new cipher error")
	}
	out := make([]byte, 16)
	block.Encrypt(out, data)
	return out, nil
}
