// Package device holds the measurement and actuator interfaces the control
// loops are written against, plus the concrete drivers for the hardware on
// the reactor bus (Hamilton Arc probes over Modbus RTU, Alicat mass flow
// controllers over their ASCII serial protocol, and Modbus coil relays).
package device

import (
	"errors"
	"time"
)

// ErrUnavailable is returned by a Source when no measurement can be
// produced. Callers treat it as a recoverable skip, not a fault.
var ErrUnavailable = errors.New("measurement unavailable")

// Sample is a single timestamped measurement.
type Sample struct {
	Value float64
	Time  time.Time
}

// Source produces the most recent measurement from a sensor.
type Source interface {
	// Latest returns the most recent sample, or ErrUnavailable (possibly
	// wrapped) when the sensor cannot be read.
	Latest() (Sample, error)
}

// Actuator applies a commanded output value to hardware.
//
// The meaning of the value depends on the output mode: for discrete
// (on/off) actuators it is seconds active this period, for continuous
// actuators it is the absolute level to hold.
type Actuator interface {
	Apply(value float64) error

	// Off forces the actuator to its safe/deactivated state.
	Off() error
}
