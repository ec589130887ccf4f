// Package joinserver implements an in-memory OTAA activation server: device
// registration, join-request and rejoin-request handling, session-key
// derivation and the key-envelope handoff towards an application server.
package joinserver

import (
	"crypto/aes"

	keywrap "github.com/NickBall/go-aes-key-wrap"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/rot226/loransim/lorawan"
)

// device holds the root key and the replay state of one registered device.
type device struct {
	joinEUI    lorawan.EUI64
	appKey     lorawan.AES128Key
	usedNonces map[lorawan.DevNonce]struct{}
	usedRJ     map[uint16]struct{}
	appSKey    lorawan.AES128Key
	activated  bool
}

// KeyEnvelope carries a session key towards the application server,
// optionally AES-key-wrapped under a named KEK.
type KeyEnvelope struct {
	KEKLabel string
	AESKey   []byte
}

// JoinServer activates devices over the air and keeps their join state.
type JoinServer struct {
	netID       uint32
	devices     map[lorawan.EUI64]*device
	nextDevAddr uint32
	appNonce    uint32
	kekLabel    string
	kek         []byte
}

// New creates a JoinServer for the given network identifier.
func New(netID uint32) *JoinServer {
	return &JoinServer{
		netID:       netID,
		devices:     make(map[lorawan.EUI64]*device),
		nextDevAddr: 1,
	}
}

// SetKEK configures the key-encryption key used to wrap the AppSKey in the
// envelope handed to the application server.
func (js *JoinServer) SetKEK(label string, kek []byte) {
	js.kekLabel = label
	js.kek = kek
}

// Register adds a device with its root AppKey. Registering the same DevEUI
// again resets its replay state.
func (js *JoinServer) Register(joinEUI, devEUI lorawan.EUI64, appKey lorawan.AES128Key) {
	js.devices[devEUI] = &device{
		joinEUI:    joinEUI,
		appKey:     appKey,
		usedNonces: make(map[lorawan.DevNonce]struct{}),
		usedRJ:     make(map[uint16]struct{}),
	}
}

// HandleJoin validates a join-request and, on success, returns the
// join-accept together with the derived session keys.
func (js *JoinServer) HandleJoin(req *lorawan.JoinRequest) (*lorawan.JoinAccept, lorawan.AES128Key, lorawan.AES128Key, error) {
	var zero lorawan.AES128Key

	dev, ok := js.devices[req.DevEUI]
	if !ok || dev.joinEUI != req.JoinEUI {
		return nil, zero, zero, ErrUnknownDevEUI
	}

	raw, err := req.MarshalBinary()
	if err != nil {
		return nil, zero, zero, err
	}
	mic, err := lorawan.ComputeJoinMIC(dev.appKey, raw)
	if err != nil {
		return nil, zero, zero, err
	}
	if mic != req.MIC {
		return nil, zero, zero, ErrInvalidMIC
	}

	if _, used := dev.usedNonces[req.DevNonce]; used {
		return nil, zero, zero, ErrDevNonceReplay
	}
	dev.usedNonces[req.DevNonce] = struct{}{}

	accept, nwkSKey, appSKey, err := js.accept(dev, req.DevNonce)
	if err != nil {
		return nil, zero, zero, err
	}

	log.WithFields(log.Fields{
		"dev_eui":  req.DevEUI,
		"dev_addr": accept.DevAddr,
	}).Debug("joinserver: device activated")

	return accept, nwkSKey, appSKey, nil
}

// HandleRejoin validates a rejoin-request and re-derives fresh session keys.
func (js *JoinServer) HandleRejoin(req *lorawan.RejoinRequest) (*lorawan.JoinAccept, lorawan.AES128Key, lorawan.AES128Key, error) {
	var zero lorawan.AES128Key

	dev, ok := js.devices[req.DevEUI]
	if !ok {
		return nil, zero, zero, ErrUnknownDevEUI
	}

	raw, err := req.MarshalBinary()
	if err != nil {
		return nil, zero, zero, err
	}
	mic, err := lorawan.ComputeJoinMIC(dev.appKey, raw)
	if err != nil {
		return nil, zero, zero, err
	}
	if mic != req.MIC {
		return nil, zero, zero, ErrInvalidMIC
	}

	if _, used := dev.usedRJ[req.RJCount]; used {
		return nil, zero, zero, ErrRejoinReplay
	}
	dev.usedRJ[req.RJCount] = struct{}{}

	accept, nwkSKey, appSKey, err := js.accept(dev, lorawan.DevNonce(req.RJCount))
	if err != nil {
		return nil, zero, zero, err
	}

	log.WithFields(log.Fields{
		"dev_eui":  req.DevEUI,
		"dev_addr": accept.DevAddr,
	}).Debug("joinserver: device rejoined")

	return accept, nwkSKey, appSKey, nil
}

// AppSKeyEnvelope returns the (optionally KEK-wrapped) AppSKey of an
// activated device for the application-server handoff.
func (js *JoinServer) AppSKeyEnvelope(devEUI lorawan.EUI64) (*KeyEnvelope, error) {
	dev, ok := js.devices[devEUI]
	if !ok {
		return nil, ErrUnknownDevEUI
	}
	if !dev.activated {
		return nil, errors.New("joinserver: device not activated")
	}

	if js.kekLabel == "" || len(js.kek) == 0 {
		return &KeyEnvelope{AESKey: dev.appSKey[:]}, nil
	}

	block, err := aes.NewCipher(js.kek)
	if err != nil {
		return nil, errors.Wrap(err, "new cipher error")
	}
	b, err := keywrap.Wrap(block, dev.appSKey[:])
	if err != nil {
		return nil, errors.Wrap(err, "key wrap error")
	}
	return &KeyEnvelope{KEKLabel: js.kekLabel, AESKey: b}, nil
}

func (js *JoinServer) accept(dev *device, nonce lorawan.DevNonce) (*lorawan.JoinAccept, lorawan.AES128Key, lorawan.AES128Key, error) {
	var zero lorawan.AES128Key

	js.appNonce = (js.appNonce + 1) & 0xFFFFFF
	devAddr := lorawan.DevAddr(js.nextDevAddr)
	js.nextDevAddr++

	nwkSKey, appSKey, err := lorawan.DeriveSessionKeys(dev.appKey, nonce, js.appNonce, js.netID)
	if err != nil {
		return nil, zero, zero, err
	}

	accept := &lorawan.JoinAccept{
		AppNonce: js.appNonce,
		NetID:    js.netID,
		DevAddr:  devAddr,
	}
	enc, mic, err := lorawan.EncryptJoinAccept(dev.appKey, accept)
	if err != nil {
		return nil, zero, zero, err
	}
	accept.Encrypted = enc
	accept.MIC = mic

	dev.appSKey = appSKey
	dev.activated = true

	return accept, nwkSKey, appSKey, nil
}
