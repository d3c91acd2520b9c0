package log

import (
	"bytes"
	"encoding/json"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	Convey("Given a logger writing to a buffer", t, func() {
		var buf bytes.Buffer

		Convey("entries are JSON with the component name", func() {
			logger := New(false, &buf).Named("queue")
			logger.Info("action finished", zap.Uint64("id", 3))

			var entry map[string]interface{}
			So(json.Unmarshal(buf.Bytes(), &entry), ShouldBeNil)
			So(entry["message"], ShouldEqual, "action finished")
			So(entry["level"], ShouldEqual, "info")
			So(entry["component"], ShouldEqual, "queue")
			So(entry["id"], ShouldEqual, float64(3))
			So(entry, ShouldContainKey, "timestamp")
		})

		Convey("debug entries are dropped unless enabled", func() {
			New(false, &buf).Debug("hidden")
			So(buf.Len(), ShouldEqual, 0)

			New(true, &buf).Debug("shown")
			So(buf.String(), ShouldContainSubstring, "shown")
		})
	})
}
