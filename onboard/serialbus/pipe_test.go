package serialbus

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestPipe(t *testing.T) {
	ctx := context.Background()

	Convey("bytes written to one end are read from the other", t, func() {
		a, b := NewPipe(8)

		So(a.WriteByte(ctx, 0x42), ShouldBeNil)
		got, err := b.ReadByte(ctx)
		So(err, ShouldBeNil)
		So(got, ShouldEqual, 0x42)

		So(b.WriteByte(ctx, 0x24), ShouldBeNil)
		got, _ = a.ReadByte(ctx)
		So(got, ShouldEqual, 0x24)
	})

	Convey("reading honours the context", t, func() {
		a, _ := NewPipe(8)
		tctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()

		_, err := a.ReadByte(tctx)
		So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
	})

	Convey("a full pipe blocks the writer until the context ends", t, func() {
		a, _ := NewPipe(1)
		So(a.WriteByte(ctx, 1), ShouldBeNil)

		tctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		So(errors.Is(a.WriteByte(tctx, 2), context.DeadlineExceeded), ShouldBeTrue)
	})

	Convey("drop every n removes exactly those bytes", t, func() {
		a, b := NewPipe(64, WithDropEvery(3))
		for i := 1; i <= 9; i++ {
			a.WriteByte(ctx, byte(i))
		}

		So(int(a.Written()), ShouldEqual, 9)
		So(int(a.Dropped()), ShouldEqual, 3)

		var got []byte
		for i := 0; i < 6; i++ {
			v, _ := b.ReadByte(ctx)
			got = append(got, v)
		}
		So(got, ShouldResemble, []byte{1, 2, 4, 5, 7, 8})
	})

	Convey("error rate corrupts bytes without dropping them", t, func() {
		a, b := NewPipe(256, WithErrorRate(1), WithSeed(1))
		for i := 0; i < 100; i++ {
			a.WriteByte(ctx, 0x55)
		}

		So(int(a.Corrupted()), ShouldEqual, 100)
		for i := 0; i < 100; i++ {
			v, _ := b.ReadByte(ctx)
			So(v, ShouldNotEqual, 0x55)
		}
	})

	Convey("omission rate drops roughly the configured share", t, func() {
		a, _ := NewPipe(2048, WithOmissionRate(0.5), WithSeed(3))
		for i := 0; i < 1000; i++ {
			a.WriteByte(ctx, 1)
		}

		So(int(a.Dropped()), ShouldBeBetween, 400, 600)
	})
}
