package lorawan

import (
	"testing"

	"pgregory.net/rapid"
)

// Round-trip properties for the MAC-command and fragmentation codecs below.
// LinkADRAns, DutyCycleReq, RXTimingSetupReq, PingSlotChannelAns and
// BeaconFreqAns have no round-trip property here. Each generator stays within
// the payload's legal ranges; MarshalBinary rejects values outside them.

func checkRoundTrip(t *rapid.T, in interface{ MarshalBinary() ([]byte, error) }, out MACCommandPayload, equal func() bool) {
	t.Helper()
	b, err := in.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := out.UnmarshalBinary(b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !equal() {
		t.Fatalf("round-trip mismatch: in=%+v out=%+v", in, out)
	}
}

func TestLinkADRReqRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		in := LinkADRReqPayload{
			DataRate: uint8(rapid.IntRange(0, 15).Draw(t, "dr")),
			TXPower:  uint8(rapid.IntRange(0, 15).Draw(t, "power")),
			ChMask:   rapid.Uint16().Draw(t, "chmask"),
			Redundancy: Redundancy{
				ChMaskCntl: uint8(rapid.IntRange(0, 7).Draw(t, "cntl")),
				NbRep:      uint8(rapid.IntRange(0, 15).Draw(t, "nbrep")),
			},
		}
		var out LinkADRReqPayload
		checkRoundTrip(t, in, &out, func() bool { return in == out })
	})
}

func TestNewChannelReqRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		in := NewChannelReqPayload{
			ChIndex: uint8(rapid.IntRange(0, 255).Draw(t, "chindex")),
			Freq:    uint32(rapid.IntRange(0, 1<<24-1).Draw(t, "freq")) * 100,
			MinDR:   uint8(rapid.IntRange(0, 15).Draw(t, "mindr")),
			MaxDR:   uint8(rapid.IntRange(0, 15).Draw(t, "maxdr")),
		}
		var out NewChannelReqPayload
		checkRoundTrip(t, in, &out, func() bool { return in == out })
	})
}

func TestRXParamSetupReqRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		in := RXParamSetupReqPayload{
			RX1DROffset: uint8(rapid.IntRange(0, 7).Draw(t, "offset")),
			RX2DataRate: uint8(rapid.IntRange(0, 15).Draw(t, "dr")),
			Frequency:   uint32(rapid.IntRange(0, 1<<24-1).Draw(t, "freq")) * 100,
		}
		var out RXParamSetupReqPayload
		checkRoundTrip(t, in, &out, func() bool { return in == out })
	})
}

func TestDevStatusAnsRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		in := DevStatusAnsPayload{
			Battery: uint8(rapid.IntRange(0, 255).Draw(t, "battery")),
			Margin:  int8(rapid.IntRange(-32, 31).Draw(t, "margin")),
		}
		var out DevStatusAnsPayload
		checkRoundTrip(t, in, &out, func() bool { return in == out })
	})
}

func TestBeaconTimingAnsRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		in := BeaconTimingAnsPayload{
			Delay:   rapid.Uint16().Draw(t, "delay"),
			Channel: uint8(rapid.IntRange(0, 255).Draw(t, "channel")),
		}
		var out BeaconTimingAnsPayload
		checkRoundTrip(t, in, &out, func() bool { return in == out })
	})
}

func TestPingSlotInfoReqRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		in := PingSlotInfoReqPayload{
			Periodicity: uint8(rapid.IntRange(0, 7).Draw(t, "periodicity")),
		}
		var out PingSlotInfoReqPayload
		checkRoundTrip(t, in, &out, func() bool { return in == out })
	})
}

func TestFragSessionSetupReqRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var descriptor [4]byte
		for i := range descriptor {
			descriptor[i] = byte(rapid.IntRange(0, 255).Draw(t, "descriptor"))
		}
		in := FragSessionSetupReqPayload{
			McGroupBitMask: [4]bool{
				rapid.Bool().Draw(t, "mc0"),
				rapid.Bool().Draw(t, "mc1"),
				rapid.Bool().Draw(t, "mc2"),
				rapid.Bool().Draw(t, "mc3"),
			},
			FragIndex:     uint8(rapid.IntRange(0, 3).Draw(t, "index")),
			NbFrag:        rapid.Uint16().Draw(t, "nbfrag"),
			FragSize:      uint8(rapid.IntRange(0, 255).Draw(t, "size")),
			BlockAckDelay: uint8(rapid.IntRange(0, 7).Draw(t, "delay")),
			FragAlgo:      uint8(rapid.IntRange(0, 7).Draw(t, "algo")),
			Padding:       uint8(rapid.IntRange(0, 255).Draw(t, "padding")),
			Descriptor:    descriptor,
		}
		var out FragSessionSetupReqPayload
		checkRoundTrip(t, in, &out, func() bool { return in == out })
	})
}

func TestFragSessionAndStatusRoundTrips(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		setupAns := FragSessionSetupAnsPayload{
			FragIndex:                    uint8(rapid.IntRange(0, 3).Draw(t, "index")),
			WrongDescriptor:              rapid.Bool().Draw(t, "wrong"),
			FragSessionIndexNotSupported: rapid.Bool().Draw(t, "unsupported"),
			NotEnoughMemory:              rapid.Bool().Draw(t, "memory"),
			EncodingUnsupported:          rapid.Bool().Draw(t, "encoding"),
		}
		var outSetup FragSessionSetupAnsPayload
		checkRoundTrip(t, setupAns, &outSetup, func() bool { return setupAns == outSetup })

		deleteReq := FragSessionDeleteReqPayload{FragIndex: uint8(rapid.IntRange(0, 3).Draw(t, "del"))}
		var outDelete FragSessionDeleteReqPayload
		checkRoundTrip(t, deleteReq, &outDelete, func() bool { return deleteReq == outDelete })

		deleteAns := FragSessionDeleteAnsPayload{
			FragIndex:       uint8(rapid.IntRange(0, 3).Draw(t, "delans")),
			SessionNotFound: rapid.Bool().Draw(t, "notfound"),
		}
		var outDeleteAns FragSessionDeleteAnsPayload
		checkRoundTrip(t, deleteAns, &outDeleteAns, func() bool { return deleteAns == outDeleteAns })

		statusReq := FragStatusReqPayload{
			FragIndex:    uint8(rapid.IntRange(0, 3).Draw(t, "status")),
			Participants: rapid.Bool().Draw(t, "participants"),
		}
		var outStatusReq FragStatusReqPayload
		checkRoundTrip(t, statusReq, &outStatusReq, func() bool { return statusReq == outStatusReq })

		statusAns := FragStatusAnsPayload{
			FragIndex:             uint8(rapid.IntRange(0, 3).Draw(t, "statusans")),
			NbFragReceived:        uint16(rapid.IntRange(0, 1<<14-1).Draw(t, "received")),
			NbFragMissing:         uint8(rapid.IntRange(0, 255).Draw(t, "missing")),
			NotEnoughMatrixMemory: rapid.Bool().Draw(t, "matrix"),
		}
		var outStatusAns FragStatusAnsPayload
		checkRoundTrip(t, statusAns, &outStatusAns, func() bool { return statusAns == outStatusAns })
	})
}

func TestADRParamAndRejoinParamRoundTrips(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		adr := ADRParamSetupReqPayload{
			LimitExp: uint8(rapid.IntRange(0, 15).Draw(t, "limit")),
			DelayExp: uint8(rapid.IntRange(0, 15).Draw(t, "delay")),
		}
		var outADR ADRParamSetupReqPayload
		checkRoundTrip(t, adr, &outADR, func() bool { return adr == outADR })

		rejoin := RejoinParamSetupReqPayload{
			MaxTimeN:  uint8(rapid.IntRange(0, 15).Draw(t, "time")),
			MaxCountN: uint8(rapid.IntRange(0, 15).Draw(t, "count")),
		}
		var outRejoin RejoinParamSetupReqPayload
		checkRoundTrip(t, rejoin, &outRejoin, func() bool { return rejoin == outRejoin })
	})
}

func TestFrameRoundTrips(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		jr := JoinRequest{
			JoinEUI:  EUI64(rapid.Uint64().Draw(t, "joineui")),
			DevEUI:   EUI64(rapid.Uint64().Draw(t, "deveui")),
			DevNonce: DevNonce(rapid.Uint16().Draw(t, "nonce")),
		}
		b, err := jr.MarshalBinary()
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var outJR JoinRequest
		if err := outJR.UnmarshalBinary(b); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if jr != outJR {
			t.Fatalf("join-request mismatch: %+v != %+v", jr, outJR)
		}

		ja := JoinAccept{
			AppNonce: uint32(rapid.IntRange(0, 1<<24-1).Draw(t, "appnonce")),
			NetID:    uint32(rapid.IntRange(0, 1<<24-1).Draw(t, "netid")),
			DevAddr:  DevAddr(rapid.Uint32().Draw(t, "devaddr")),
		}
		b, err = ja.MarshalBinary()
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var outJA JoinAccept
		if err := outJA.UnmarshalBinary(b); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if ja.AppNonce != outJA.AppNonce || ja.NetID != outJA.NetID || ja.DevAddr != outJA.DevAddr {
			t.Fatalf("join-accept mismatch: %+v != %+v", ja, outJA)
		}

		rj := RejoinRequest{
			RejoinType: uint8(rapid.IntRange(0, 2).Draw(t, "type")),
			NetID:      uint32(rapid.IntRange(0, 1<<24-1).Draw(t, "rjnetid")),
			DevEUI:     EUI64(rapid.Uint64().Draw(t, "rjdeveui")),
			RJCount:    rapid.Uint16().Draw(t, "rjcount"),
		}
		b, err = rj.MarshalBinary()
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var outRJ RejoinRequest
		if err := outRJ.UnmarshalBinary(b); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if rj != outRJ {
			t.Fatalf("rejoin-request mismatch: %+v != %+v", rj, outRJ)
		}
	})
}
