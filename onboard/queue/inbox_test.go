package queue

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/zap"
)

func TestInbox(t *testing.T) {
	Convey("Given an inbox feeding an idle queue", t, func() {
		root := t.TempDir()
		q := newTestQueue(root, newFakeRobot(false), nil)
		inbox, err := NewInbox(filepath.Join(root, "inbox"), q, zap.NewNop())
		So(err, ShouldBeNil)

		write := func(name, body string) string {
			path := filepath.Join(inbox.dir, name)
			So(os.WriteFile(path, []byte(body), 0644), ShouldBeNil)
			return path
		}

		Convey("instruction lists in either shape are queued and removed", func() {
			list := write("01-water.json", `[{"kind":"move","position":[10,20,0]},{"kind":"water_wait","duration_ms":2000}]`)
			doc := write("02-led.json", `{"commands":[{"kind":"led","led":1}]}`)
			write("notes.txt", "ignored")

			So(inbox.Scan(), ShouldEqual, 2)
			So(len(q.State().Pending), ShouldEqual, 2)

			_, err := os.Stat(list)
			So(os.IsNotExist(err), ShouldBeTrue)
			_, err = os.Stat(doc)
			So(os.IsNotExist(err), ShouldBeTrue)
		})

		Convey("invalid files are set aside", func() {
			bad := write("bad.json", `[{"kind":"teleport"}]`)

			So(inbox.Scan(), ShouldEqual, 0)
			So(q.State().Pending, ShouldBeEmpty)
			_, err := os.Stat(bad + REJECTED_SUFFIX)
			So(err, ShouldBeNil)
		})

		Convey("a stopping queue leaves valid files for the next start", func() {
			first := write("04-home.json", `[{"kind":"home"}]`)
			second := write("05-home.json", `[{"kind":"home"}]`)
			q.Stop()

			So(inbox.Scan(), ShouldEqual, 0)
			for _, path := range []string{first, second} {
				_, err := os.Stat(path)
				So(err, ShouldBeNil)
				_, err = os.Stat(path + REJECTED_SUFFIX)
				So(os.IsNotExist(err), ShouldBeTrue)
			}

			next := newTestQueue(root, newFakeRobot(false), nil)
			again, err := NewInbox(inbox.dir, next, zap.NewNop())
			So(err, ShouldBeNil)
			So(again.Scan(), ShouldEqual, 2)
			So(len(next.State().Pending), ShouldEqual, 2)
		})

		Convey("files dropped while watching are picked up", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			watching := make(chan error, 1)
			go func() {
				watching <- inbox.Watch(ctx)
			}()

			time.Sleep(50 * time.Millisecond)
			write("03-home.json", `[{"kind":"home"}]`)

			err := q.WaitFor(ctx, func(s Snapshot) bool {
				return len(s.Pending) == 1
			})
			So(err, ShouldBeNil)

			cancel()
			So(errors.Is(<-watching, context.Canceled), ShouldBeTrue)
		})
	})
}
