package errors

import "fmt"

type AxisNameError struct {
	Name string
}

func (err AxisNameError) Error() string {
	return fmt.Sprintf("no such axis %s", err.Name)
}

// ActionTypeError is returned when a persisted action carries a type tag that
// has no registered constructor.
type ActionTypeError struct {
	Type string
	Dir  string
}

func (err ActionTypeError) Error() string {
	if len(err.Type) == 0 {
		err.Type = "UNKNOWN"
	}

	return fmt.Sprintf("unknown action type %s in %s", err.Type, err.Dir)
}

// NodeIdentityError is returned by discovery when a node reports a name that
// does not map to a free role.
type NodeIdentityError struct {
	Link   string
	Name   string
	Reason string
}

func (err NodeIdentityError) Error() string {
	if len(err.Name) == 0 {
		err.Name = "UNKNOWN"
	}

	return fmt.Sprintf("node %s on %s: %s", err.Name, err.Link, err.Reason)
}

type InstructionError struct {
	Index  int
	Kind   string
	Reason string
}

func (err InstructionError) Error() string {
	return fmt.Sprintf("instruction %d (%s): %s", err.Index, err.Kind, err.Reason)
}
