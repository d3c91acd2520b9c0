package queue

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/asdine/storm/v3"
	. "github.com/smartystreets/goconvey/convey"
)

func TestStormJournal(t *testing.T) {
	Convey("Given a journal backed by storm", t, func() {
		db, err := storm.Open(filepath.Join(t.TempDir(), "journal.db"))
		So(err, ShouldBeNil)
		Reset(func() {
			db.Close()
		})

		journal, err := NewStormJournal(db)
		So(err, ShouldBeNil)

		Convey("an empty journal has no history", func() {
			entries, err := journal.Recent(10)
			So(err, ShouldBeNil)
			So(entries, ShouldBeEmpty)
		})

		Convey("entries come back newest first", func() {
			So(journal.Record(Entry{ActionID: 1, Type: COMMAND_LIST_TYPE, Outcome: OUTCOME_FINISHED}), ShouldBeNil)
			So(journal.Record(Entry{ActionID: 2, Type: EMERGENCY_TYPE, Outcome: OUTCOME_FAILED, Error: "axis x"}), ShouldBeNil)
			So(journal.Record(Entry{ActionID: 1, Type: COMMAND_LIST_TYPE, Outcome: OUTCOME_KILLED}), ShouldBeNil)

			entries, err := journal.Recent(2)
			So(err, ShouldBeNil)
			So(len(entries), ShouldEqual, 2)
			So(entries[0].Outcome, ShouldEqual, OUTCOME_KILLED)
			So(entries[1].Error, ShouldEqual, "axis x")
			So(entries[0].Ref, ShouldNotBeBlank)
			So(entries[0].At.IsZero(), ShouldBeFalse)

			Convey("and can be looked up by reference or action", func() {
				e, err := journal.Lookup(entries[1].Ref)
				So(err, ShouldBeNil)
				So(e.ActionID, ShouldEqual, ActionID(2))

				_, err = journal.Lookup("missing")
				So(errors.Is(err, storm.ErrNotFound), ShouldBeTrue)

				history, err := journal.ForAction(1)
				So(err, ShouldBeNil)
				So(len(history), ShouldEqual, 2)
			})
		})
	})
}
