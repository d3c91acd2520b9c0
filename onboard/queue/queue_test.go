package queue

import (
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestQueueOrdering(t *testing.T) {
	Convey("Given a running queue with three actions", t, func() {
		robot := newFakeRobot(true)
		journal := &fakeJournal{}
		q := newTestQueue(t.TempDir(), robot, journal)

		a, b, c := moves(1, 2), moves(10), moves(20)
		So(q.AddAction(a), ShouldBeNil)
		So(q.AddAction(b), ShouldBeNil)
		So(q.AddAction(c), ShouldBeNil)

		ctx, cancel := within(5 * time.Second)
		defer cancel()
		q.Start(ctx)
		Reset(func() {
			q.Stop()
			q.ForceKill()
		})

		So(<-robot.entered, ShouldEqual, "move 1")

		Convey("pausing holds the current action out of the queue", func() {
			q.Pause()
			robot.release <- struct{}{}
			So(q.WaitFor(ctx, pausedMidway), ShouldBeNil)

			s := q.State()
			So(s.Paused, ShouldBeTrue)
			So(s.Current.ID, ShouldEqual, a.ID())
			So(s.Current.Progress.Ratio, ShouldEqual, 0.5)
			So(len(s.Pending), ShouldEqual, 2)
			So(s.Pending[0].ID, ShouldEqual, b.ID())
			So(s.Pending[1].ID, ShouldEqual, c.ID())

			select {
			case op := <-robot.entered:
				So(op, ShouldEqual, "nothing while paused")
			case <-time.After(50 * time.Millisecond):
			}

			q.Unpause()
			So(expectEntered(robot), ShouldEqual, "move 2")
			So(expectEntered(robot), ShouldEqual, "move 10")
			So(expectEntered(robot), ShouldEqual, "move 20")

			So(q.WaitFor(ctx, idle), ShouldBeNil)
			So(robot.Calls(), ShouldResemble, []string{"move 1", "move 2", "move 10", "move 20"})
			So(journal.Outcomes(), ShouldResemble, []Outcome{OUTCOME_FINISHED, OUTCOME_FINISHED, OUTCOME_FINISHED})

			left, err := q.store.Load()
			So(err, ShouldBeNil)
			So(left, ShouldBeEmpty)
		})

		Convey("clearing while paused keeps the interrupted action", func() {
			q.Pause()
			robot.release <- struct{}{}
			So(q.WaitFor(ctx, pausedMidway), ShouldBeNil)

			So(q.Clear(), ShouldEqual, 2)
			s := q.State()
			So(s.Current.ID, ShouldEqual, a.ID())
			So(s.Pending, ShouldBeEmpty)

			left, err := q.store.Load()
			So(err, ShouldBeNil)
			So(len(left), ShouldEqual, 1)
			So(left[0].ID(), ShouldEqual, a.ID())

			q.Unpause()
			So(expectEntered(robot), ShouldEqual, "move 2")
			So(q.WaitFor(ctx, idle), ShouldBeNil)
			So(robot.Calls(), ShouldResemble, []string{"move 1", "move 2"})
		})

		Convey("a paused action can be killed", func() {
			q.Pause()
			robot.release <- struct{}{}
			So(q.WaitFor(ctx, pausedMidway), ShouldBeNil)

			So(q.KillRunningAction(a.ID(), false), ShouldBeNil)
			s := q.State()
			So(s.Current, ShouldBeNil)
			So(len(s.Pending), ShouldEqual, 2)
			So(journal.Outcomes(), ShouldResemble, []Outcome{OUTCOME_KILLED})

			q.Unpause()
			So(expectEntered(robot), ShouldEqual, "move 10")
			So(expectEntered(robot), ShouldEqual, "move 20")
			So(q.WaitFor(ctx, idle), ShouldBeNil)
			So(robot.Calls(), ShouldResemble, []string{"move 1", "move 10", "move 20"})
		})

		Convey("a paused action killed with keepInQueue resumes from its cursor", func() {
			q.Pause()
			robot.release <- struct{}{}
			So(q.WaitFor(ctx, pausedMidway), ShouldBeNil)

			So(q.KillRunningAction(a.ID(), true), ShouldBeNil)
			s := q.State()
			So(s.Current, ShouldBeNil)
			So(len(s.Pending), ShouldEqual, 3)
			So(s.Pending[0].ID, ShouldEqual, a.ID())

			q.Unpause()
			So(expectEntered(robot), ShouldEqual, "move 2")
			So(expectEntered(robot), ShouldEqual, "move 10")
			So(expectEntered(robot), ShouldEqual, "move 20")
			So(q.WaitFor(ctx, idle), ShouldBeNil)
		})

		Convey("an emergency runs before the interrupted action resumes", func() {
			So(q.Emergency(), ShouldBeNil)
			So(q.State().Emergency, ShouldEqual, EMERGENCY_WAITING_FOR_RESET)
			robot.release <- struct{}{}

			So(expectEntered(robot), ShouldEqual, "move 2")
			So(expectEntered(robot), ShouldEqual, "move 10")
			So(expectEntered(robot), ShouldEqual, "move 20")
			So(q.WaitFor(ctx, idle), ShouldBeNil)

			So(robot.Calls(), ShouldResemble, []string{"move 1", "emergency", "move 2", "move 10", "move 20"})
		})

		Convey("killing the running action moves on to the next one", func() {
			So(errors.Is(q.KillRunningAction(b.ID(), false), ERR_NOT_RUNNING), ShouldBeTrue)
			So(q.KillRunningAction(a.ID(), false), ShouldBeNil)

			So(expectEntered(robot), ShouldEqual, "move 10")
			// the abandoned step
			robot.release <- struct{}{}
			So(expectEntered(robot), ShouldEqual, "move 20")
			So(q.WaitFor(ctx, idle), ShouldBeNil)

			So(robot.Calls(), ShouldResemble, []string{"move 1", "move 10", "move 20"})
			So(journal.Outcomes()[0], ShouldEqual, OUTCOME_KILLED)
		})

		Convey("killing with keepInQueue restarts from the persisted state", func() {
			So(q.KillRunningAction(a.ID(), true), ShouldBeNil)

			So(expectEntered(robot), ShouldEqual, "move 1")
			robot.release <- struct{}{}
			So(expectEntered(robot), ShouldEqual, "move 2")
			So(expectEntered(robot), ShouldEqual, "move 10")
			So(expectEntered(robot), ShouldEqual, "move 20")
			So(q.WaitFor(ctx, idle), ShouldBeNil)
		})

		Convey("stop lets the step return and keeps the actions on disk", func() {
			q.Stop()
			So(errors.Is(q.AddAction(moves(30)), ERR_STOPPING), ShouldBeTrue)
			robot.release <- struct{}{}

			select {
			case <-q.Done():
			case <-time.After(2 * time.Second):
				So("queue did not stop", ShouldBeEmpty)
			}

			left, err := q.store.Load()
			So(err, ShouldBeNil)
			So(len(left), ShouldEqual, 3)
			So(left[0].(*CommandListAction).Done, ShouldEqual, 1)
		})

		Convey("force kill after stop abandons a stuck step", func() {
			q.Stop()
			q.ForceKill()

			select {
			case <-q.Done():
			case <-time.After(2 * time.Second):
				So("queue did not stop", ShouldBeEmpty)
			}
			robot.release <- struct{}{}

			left, err := q.store.Load()
			So(err, ShouldBeNil)
			So(len(left), ShouldEqual, 2)
			So(left[0].ID(), ShouldEqual, b.ID())
		})
	})
}

func TestQueueRecovery(t *testing.T) {
	Convey("Given a queue stopped between two steps", t, func() {
		dir := t.TempDir()
		robot := newFakeRobot(true)
		q := newTestQueue(dir, robot, nil)

		a, b := moves(1, 2), moves(10)
		So(q.AddAction(a), ShouldBeNil)
		So(q.AddAction(b), ShouldBeNil)

		ctx, cancel := within(5 * time.Second)
		defer cancel()
		q.Start(ctx)

		So(<-robot.entered, ShouldEqual, "move 1")
		q.Stop()
		robot.release <- struct{}{}
		<-q.Done()

		Convey("a new queue resumes the interrupted action first", func() {
			robot2 := newFakeRobot(false)
			q2 := newTestQueue(dir, robot2, nil)

			s := q2.State()
			So(len(s.Pending), ShouldEqual, 2)
			So(s.Pending[0].ID, ShouldEqual, a.ID())
			So(s.Pending[1].ID, ShouldEqual, b.ID())

			q2.Start(ctx)
			So(q2.WaitFor(ctx, idle), ShouldBeNil)
			So(robot2.Calls(), ShouldResemble, []string{"move 2", "move 10"})
			q2.Stop()
		})

		Convey("new ids never collide with restored ones", func() {
			newTestQueue(dir, newFakeRobot(false), nil)
			So(NextActionID(), ShouldBeGreaterThan, b.ID())
		})
	})

	Convey("A persisted emergency is reset before anything else", t, func() {
		dir := t.TempDir()
		store, _ := OpenStore(dir)
		So(store.Save(moves(5)), ShouldBeNil)
		So(store.Save(NewEmergencyAction()), ShouldBeNil)

		robot := newFakeRobot(false)
		q := newTestQueue(dir, robot, nil)
		So(q.State().Emergency, ShouldEqual, EMERGENCY_WAITING_FOR_RESET)
		So(len(q.State().Pending), ShouldEqual, 1)

		ctx, cancel := within(5 * time.Second)
		defer cancel()
		q.Start(ctx)
		So(q.WaitFor(ctx, idle), ShouldBeNil)
		q.Stop()

		So(robot.Calls(), ShouldResemble, []string{"emergency", "move 5"})
		left, _ := store.Load()
		So(left, ShouldBeEmpty)
	})
}

func TestQueueErrors(t *testing.T) {
	Convey("A failing step is retried and reported", t, func() {
		robot := newFakeRobot(false)
		robot.moveErr = errors.New("link down")
		q := newTestQueue(t.TempDir(), robot, nil)
		So(q.AddAction(moves(3)), ShouldBeNil)

		ctx, cancel := within(5 * time.Second)
		defer cancel()
		q.Start(ctx)
		So(q.WaitFor(ctx, idle), ShouldBeNil)
		q.Stop()

		So(robot.Calls(), ShouldResemble, []string{"move 3", "move 3"})
		So(q.State().LastError, ShouldContainSubstring, "link down")
	})

	Convey("Clearing drops only the pending actions", t, func() {
		journal := &fakeJournal{}
		q := newTestQueue(t.TempDir(), newFakeRobot(false), journal)
		So(q.AddAction(moves(1)), ShouldBeNil)
		So(q.AddAction(moves(2)), ShouldBeNil)

		So(q.Clear(), ShouldEqual, 2)
		So(q.State().Pending, ShouldBeEmpty)
		So(journal.Outcomes(), ShouldResemble, []Outcome{OUTCOME_CLEARED, OUTCOME_CLEARED})

		left, _ := q.store.Load()
		So(left, ShouldBeEmpty)
	})

	Convey("Stopping a queue that never started closes Done", t, func() {
		q := newTestQueue(t.TempDir(), newFakeRobot(false), nil)
		q.Stop()
		_, open := <-q.Done()
		So(open, ShouldBeFalse)
	})
}

// pausedMidway holds once the paused current action has completed a step.
func pausedMidway(s Snapshot) bool {
	return s.Paused && s.Current != nil && s.Current.Progress != nil && s.Current.Progress.Known
}
