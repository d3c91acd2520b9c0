package errors

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestErrors(t *testing.T) {
	Convey("Error messages name the offending value", t, func() {
		So(AxisNameError{Name: "w"}.Error(), ShouldEqual, "no such axis w")
		So(ActionTypeError{Type: "teleport", Dir: "/q/4_teleport"}.Error(), ShouldEqual,
			"unknown action type teleport in /q/4_teleport")
		So(ActionTypeError{Dir: "/q/4_"}.Error(), ShouldEqual, "unknown action type UNKNOWN in /q/4_")
		So(NodeIdentityError{Link: "/dev/ttyUSB0", Reason: "duplicate"}.Error(), ShouldEqual,
			"node UNKNOWN on /dev/ttyUSB0: duplicate")
		So(InstructionError{Index: 2, Kind: "plow", Reason: "negative wait"}.Error(), ShouldEqual,
			"instruction 2 (plow): negative wait")
	})
}
