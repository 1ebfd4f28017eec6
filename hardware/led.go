package hardware

import (
	"fmt"
	"time"
)

const (
	blinkOn  = 50 * time.Millisecond
	blinkGap = 300 * time.Millisecond
)

// BlinkStatus flashes the LED twice to show the agent is up.
func BlinkStatus(led Output, sleep Sleeper) error {
	steps := []struct {
		value int
		pause time.Duration
	}{
		{Active, blinkOn},
		{Inactive, blinkGap},
		{Active, blinkOn},
		{Inactive, 0},
	}
	for _, step := range steps {
		if err := led.SetValue(step.value); err != nil {
			return fmt.Errorf("drive status led: %w", err)
		}
		if step.pause > 0 {
			sleep(step.pause)
		}
	}
	return nil
}
