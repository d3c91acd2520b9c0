package queue

import (
	"context"
	"fmt"
)

const EMERGENCY_TYPE = "emergency"

// EmergencyAction brings the robot into a safe state. It has no persisted
// state and always finishes in one step.
type EmergencyAction struct {
	id ActionID
}

func NewEmergencyAction() *EmergencyAction {
	return &EmergencyAction{id: NextActionID()}
}

func loadEmergency(id ActionID, _ []byte) (Action, error) {
	return &EmergencyAction{id: id}, nil
}

func (a *EmergencyAction) ID() ActionID     { return a.id }
func (a *EmergencyAction) TypeName() string { return EMERGENCY_TYPE }

func (a *EmergencyAction) Step(ctx context.Context, robot Robot) StepResult {
	if err := robot.Emergency(ctx); err != nil {
		return FinishedWithError(fmt.Errorf("emergency reset: %w", err))
	}
	return Finished()
}
