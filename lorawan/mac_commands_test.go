package lorawan

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestGetMACPayloadAndSize(t *testing.T) {
	Convey("Given uplink=false and CID=LinkADRReq", t, func() {
		p, s, err := GetMACPayloadAndSize(false, LinkADRReq)
		Convey("Then a LinkADRReqPayload with size 4 is returned", func() {
			So(err, ShouldBeNil)
			So(p, ShouldHaveSameTypeAs, &LinkADRReqPayload{})
			So(s, ShouldEqual, 4)
		})
	})

	Convey("Given uplink=true and CID=DevStatusAns", t, func() {
		p, s, err := GetMACPayloadAndSize(true, DevStatusAns)
		Convey("Then a DevStatusAnsPayload with size 2 is returned", func() {
			So(err, ShouldBeNil)
			So(p, ShouldHaveSameTypeAs, &DevStatusAnsPayload{})
			So(s, ShouldEqual, 2)
		})
	})

	Convey("Given an unknown CID", t, func() {
		_, _, err := GetMACPayloadAndSize(true, CID(0x7F))
		Convey("Then an error is returned", func() {
			So(err, ShouldNotBeNil)
		})
	})
}

func TestMACCommand(t *testing.T) {
	Convey("Given an empty MACCommand", t, func() {
		var m MACCommand

		Convey("Given CID=LinkADRReq with DataRate=5, TXPower=2, ChMask=0x0007, NbRep=1", func() {
			m.CID = LinkADRReq
			m.Payload = &LinkADRReqPayload{
				DataRate:   5,
				TXPower:    2,
				ChMask:     0x0007,
				Redundancy: Redundancy{NbRep: 1},
			}
			Convey("Then MarshalBinary returns []byte{3, 82, 7, 0, 1}", func() {
				b, err := m.MarshalBinary()
				So(err, ShouldBeNil)
				So(b, ShouldResemble, []byte{3, 82, 7, 0, 1})
			})
		})

		Convey("Given the slice []byte{3, 82, 7, 0, 1}", func() {
			b := []byte{3, 82, 7, 0, 1}
			Convey("Given the direction is downlink", func() {
				err := m.UnmarshalBinary(false, b)
				Convey("Then it decodes to a LinkADRReq", func() {
					So(err, ShouldBeNil)
					So(m.CID, ShouldEqual, LinkADRReq)
					p, ok := m.Payload.(*LinkADRReqPayload)
					So(ok, ShouldBeTrue)
					So(p, ShouldResemble, &LinkADRReqPayload{
						DataRate:   5,
						TXPower:    2,
						ChMask:     0x0007,
						Redundancy: Redundancy{NbRep: 1},
					})
				})
			})

			Convey("Given the direction is uplink", func() {
				err := m.UnmarshalBinary(true, b)
				Convey("Then UnmarshalBinary returns an error", func() {
					So(err, ShouldNotBeNil)
				})
			})
		})
	})
}

func TestDevStatusAnsPayload(t *testing.T) {
	Convey("Given a DevStatusAnsPayload with Battery=200 and Margin=10", t, func() {
		p := DevStatusAnsPayload{Battery: 200, Margin: 10}
		Convey("Then MarshalBinary returns []byte{200, 10}", func() {
			b, err := p.MarshalBinary()
			So(err, ShouldBeNil)
			So(b, ShouldResemble, []byte{200, 10})
		})
	})

	Convey("Given a negative margin", t, func() {
		p := DevStatusAnsPayload{Battery: 10, Margin: -30}
		b, err := p.MarshalBinary()
		So(err, ShouldBeNil)
		Convey("Then the six-bit two's complement round-trips", func() {
			var out DevStatusAnsPayload
			So(out.UnmarshalBinary(b), ShouldBeNil)
			So(out, ShouldResemble, p)
		})
	})

	Convey("Given an out of range margin", t, func() {
		_, err := DevStatusAnsPayload{Margin: 40}.MarshalBinary()
		So(err, ShouldNotBeNil)
	})
}

func TestNewChannelReqPayload(t *testing.T) {
	Convey("Given a NewChannelReqPayload", t, func() {
		p := NewChannelReqPayload{ChIndex: 3, Freq: 868300000, MinDR: 0, MaxDR: 5}
		Convey("Then MarshalBinary returns the 5-byte encoding", func() {
			b, err := p.MarshalBinary()
			So(err, ShouldBeNil)
			So(b, ShouldHaveLength, 5)
			Convey("And UnmarshalBinary restores the payload", func() {
				var out NewChannelReqPayload
				So(out.UnmarshalBinary(b), ShouldBeNil)
				So(out, ShouldResemble, p)
			})
		})
	})

	Convey("A frequency that is not a multiple of 100 is rejected", t, func() {
		_, err := NewChannelReqPayload{Freq: 868300050}.MarshalBinary()
		So(err, ShouldNotBeNil)
	})
}

func TestDeviceModeIndPayload(t *testing.T) {
	Convey("Given class C", t, func() {
		p := DeviceModeIndPayload{Class: ClassC}
		b, err := p.MarshalBinary()
		So(err, ShouldBeNil)
		So(b, ShouldResemble, []byte{2})
		var out DeviceModeIndPayload
		So(out.UnmarshalBinary(b), ShouldBeNil)
		So(out, ShouldResemble, p)
	})

	Convey("Class B cannot be indicated", t, func() {
		_, err := DeviceModeIndPayload{Class: ClassB}.MarshalBinary()
		So(err, ShouldNotBeNil)
	})
}
