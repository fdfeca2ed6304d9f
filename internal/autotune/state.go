// Package autotune implements relay-feedback PID autotuning: a tuner state
// machine that drives the process output between two levels, measures the
// induced oscillation, and derives controller gains from its amplitude and
// period, plus the periodic runner that feeds it live measurements.
package autotune

import "fmt"

// State is the tuner lifecycle state. Transitions are monotone:
// Off -> {StepUp <-> StepDown} -> {Succeeded | Failed}. The terminal states
// are absorbing.
type State int

const (
	StateOff State = iota
	StateStepUp
	StateStepDown
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateOff:
		return "off"
	case StateStepUp:
		return "step_up"
	case StateStepDown:
		return "step_down"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether the tuner has finished, successfully or not.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Direction is the sense in which the output pushes the measurement:
// Raise for heating/aeration/alkalising, Lower for cooling/acidifying.
type Direction int

const (
	Raise Direction = iota
	Lower
)

func (d Direction) String() string {
	if d == Lower {
		return "lower"
	}
	return "raise"
}

// ParseDirection converts the configuration string form.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "raise":
		return Raise, nil
	case "lower":
		return Lower, nil
	}
	return Raise, fmt.Errorf("invalid direction %q (want raise or lower)", s)
}

// OutputMode describes how commanded output values are applied to the
// actuator: Discrete means "seconds active this period" on an on/off
// device, Continuous means an absolute level.
type OutputMode int

const (
	Discrete OutputMode = iota
	Continuous
)

func (m OutputMode) String() string {
	if m == Continuous {
		return "continuous"
	}
	return "on_off"
}

// ParseOutputMode converts the configuration string form.
func ParseOutputMode(s string) (OutputMode, error) {
	switch s {
	case "on_off":
		return Discrete, nil
	case "continuous":
		return Continuous, nil
	}
	return Discrete, fmt.Errorf("invalid output mode %q (want on_off or continuous)", s)
}
