package hardware

import (
	"bytes"
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/CodedInternet/gogarden/onboard/serialbus"
)

func TestMessages(t *testing.T) {
	Convey("Given every command variant", t, func() {
		cmds := []Command{
			WhoAreYou{},
			MoveMotor{X: -123456},
			ResetMotor{},
			GetState{},
			Poll{},
			Water{DurationMs: 2000},
			Lights{DurationMs: 1},
			Pump{DurationMs: 1 << 31},
			Plow{WaitMs: 500},
			SetLed{Led: 200},
		}

		Convey("each one fits a frame and decodes to itself", func() {
			for _, c := range cmds {
				payload, err := Marshal(c)
				So(err, ShouldBeNil)
				So(len(payload), ShouldBeLessThanOrEqualTo, serialbus.MAX_PAYLOAD)
				So(payload[0], ShouldEqual, c.Tag())

				got, err := UnmarshalCommand(payload)
				So(err, ShouldBeNil)
				So(got, ShouldResemble, c)
			}
		})

		Convey("none of them decode as a response", func() {
			for _, c := range cmds {
				payload, _ := Marshal(c)
				_, err := UnmarshalResponse(payload)
				var uv *UnknownVariantError
				So(errors.As(err, &uv), ShouldBeTrue)
				So(uv.Tag, ShouldEqual, c.Tag())
			}
		})
	})

	Convey("Given every response variant", t, func() {
		var debug Debug
		copy(debug.Data[:], "pos=1234")

		responses := []Response{
			Iam{Name: NameOf("axis_x"), Version: Version{1, 2, 255}},
			Wait{Ms: 150},
			debug,
			State{Busy: true, Homed: true, EndStop: true, Water: true, Lights: true, Pump: true, Led: true, Position: -1 << 31},
			State{Position: 1<<31 - 1},
			Done{},
			Unsupported{},
			NewErrorReply(bytes.Repeat([]byte("e"), 200)),
		}

		Convey("each one fits a frame and decodes to itself", func() {
			for _, r := range responses {
				payload, err := Marshal(r)
				So(err, ShouldBeNil)
				So(len(payload), ShouldBeLessThanOrEqualTo, serialbus.MAX_PAYLOAD)

				got, err := UnmarshalResponse(payload)
				So(err, ShouldBeNil)
				So(got, ShouldResemble, r)
			}
		})
	})

	Convey("An unknown tag is reported as such", t, func() {
		_, err := UnmarshalCommand([]byte{0x7F})
		var uv *UnknownVariantError
		So(errors.As(err, &uv), ShouldBeTrue)
		So(uv.Tag, ShouldEqual, uint8(0x7F))
		So(errors.Is(err, ERR_DECODE), ShouldBeTrue)
	})

	Convey("A known tag with missing fields fails to decode", t, func() {
		_, err := UnmarshalCommand([]byte{CMD_MOVE_MOTOR})
		So(errors.Is(err, ERR_DECODE), ShouldBeTrue)
		var uv *UnknownVariantError
		So(errors.As(err, &uv), ShouldBeFalse)

		_, err = UnmarshalResponse(nil)
		So(errors.Is(err, ERR_DECODE), ShouldBeTrue)
	})

	Convey("Error replies are truncated to fit a frame", t, func() {
		r := NewErrorReply(bytes.Repeat([]byte("x"), 100))
		So(len(r.Payload), ShouldEqual, MAX_ERROR_PAYLOAD)

		r = NewErrorReply([]byte("jam"))
		So(string(r.Payload), ShouldEqual, "jam")
	})

	Convey("Node names are padded and trimmed", t, func() {
		So(NameOf("periph").String(), ShouldEqual, "periph")
		So(NameOf("a_very_long_name").String(), ShouldEqual, "a_very_lon")
		So(Version{1, 4, 2}.String(), ShouldEqual, "1.4.2")
	})
}
