package queue

import (
	"errors"
	"time"

	"github.com/asdine/storm/v3"
	"github.com/google/uuid"
)

type Outcome string

const (
	OUTCOME_FINISHED Outcome = "finished"
	OUTCOME_FAILED   Outcome = "failed"
	OUTCOME_KILLED   Outcome = "killed"
	OUTCOME_CLEARED  Outcome = "cleared"
)

// Entry records how an action left the queue.
type Entry struct {
	ID       int       `storm:"increment" json:"-"`
	Ref      string    `storm:"unique" json:"ref"`
	ActionID ActionID  `storm:"index" json:"action_id"`
	Type     string    `json:"type"`
	Outcome  Outcome   `storm:"index" json:"outcome"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

type Journal interface {
	Record(e Entry) error
}

// StormJournal keeps the history in a storm database shared with the rest of
// the application.
type StormJournal struct {
	db *storm.DB
}

func NewStormJournal(db *storm.DB) (*StormJournal, error) {
	if err := db.Init(&Entry{}); err != nil {
		return nil, err
	}
	return &StormJournal{db: db}, nil
}

func (j *StormJournal) Record(e Entry) error {
	if e.Ref == "" {
		e.Ref = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	return j.db.Save(&e)
}

// Recent returns up to limit entries, newest first.
func (j *StormJournal) Recent(limit int) (entries []Entry, err error) {
	err = j.db.AllByIndex("ID", &entries, storm.Limit(limit), storm.Reverse())
	if errors.Is(err, storm.ErrNotFound) {
		return []Entry{}, nil
	}
	if entries == nil {
		entries = []Entry{}
	}
	return
}

func (j *StormJournal) Lookup(ref string) (e Entry, err error) {
	err = j.db.One("Ref", ref, &e)
	return
}

// ForAction returns every entry recorded for id.
func (j *StormJournal) ForAction(id ActionID) (entries []Entry, err error) {
	err = j.db.Find("ActionID", id, &entries)
	if errors.Is(err, storm.ErrNotFound) {
		return []Entry{}, nil
	}
	return
}

type nopJournal struct{}

func (nopJournal) Record(Entry) error { return nil }
