package hardware

import (
	"fmt"
	"time"
)

// Actuator pulses the lock line: active for the hold duration, then back to
// inactive. The call blocks for the whole pulse.
type Actuator struct {
	line  Output
	hold  time.Duration
	sleep Sleeper
}

func NewActuator(line Output, hold time.Duration) *Actuator {
	return &Actuator{line: line, hold: hold, sleep: time.Sleep}
}

func (actuator *Actuator) Unlock() error {
	if err := actuator.line.SetValue(Active); err != nil {
		return fmt.Errorf("drive lock active: %w", err)
	}
	actuator.sleep(actuator.hold)
	if err := actuator.line.SetValue(Inactive); err != nil {
		return fmt.Errorf("drive lock inactive: %w", err)
	}
	return nil
}
