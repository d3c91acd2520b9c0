package queue

import (
	"sort"

	gerrors "github.com/CodedInternet/gogarden/onboard/errors"
)

// Constructor rebuilds an action from its persisted JSON.
type Constructor func(id ActionID, data []byte) (Action, error)

var registry = map[string]Constructor{
	COMMAND_LIST_TYPE: loadCommandList,
	EMERGENCY_TYPE:    loadEmergency,
}

// Types lists every registered action type tag.
func Types() []string {
	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Reconstruct builds the action persisted in dir under typeName.
func Reconstruct(typeName string, id ActionID, data []byte, dir string) (Action, error) {
	ctor, ok := registry[typeName]
	if !ok {
		return nil, gerrors.ActionTypeError{Type: typeName, Dir: dir}
	}
	return ctor(id, data)
}
