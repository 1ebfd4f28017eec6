// Package hardware drives the two GPIO outputs of the gate controller: the
// lock actuator and the status LED.
package hardware

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/warthog618/go-gpiocdev"
)

const consumer = "gate-agent"

const (
	Inactive = 0
	Active   = 1
)

// Output is a single digital output line. *gpiocdev.Line satisfies it.
type Output interface {
	SetValue(value int) error
}

type Line interface {
	Output
	Close() error
}

// Sleeper blocks for the given duration.
type Sleeper func(time.Duration)

// OpenOutput requests pin on chip as an output driven low. An empty chip
// name returns a simulated line that only logs level changes, for running
// the agent on a machine without the gate wiring.
func OpenOutput(chip string, pin int, name string, log zerolog.Logger) (Line, error) {
	if chip == "" {
		return &SimulatedLine{Name: name, Pin: pin, log: log}, nil
	}

	line, err := gpiocdev.RequestLine(chip, pin, gpiocdev.AsOutput(Inactive), gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("request %s output %s:%d: %w", name, chip, pin, err)
	}
	return line, nil
}

type SimulatedLine struct {
	Name  string
	Pin   int
	Value int
	log   zerolog.Logger
}

func (line *SimulatedLine) SetValue(value int) error {
	line.Value = value
	line.log.Debug().
		Str("event", "SimulatedOutput").
		Str("line", line.Name).
		Int("pin", line.Pin).
		Int("value", value).
		Msg("GPIO write")
	return nil
}

func (line *SimulatedLine) Close() error {
	return nil
}
