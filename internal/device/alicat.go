package device

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"go.bug.st/serial"

	"github.com/banshee-data/autotune/internal/timeutil"
)

// SerialPorter is the minimal interface needed for a serial port. The
// abstraction enables unit testing without real hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// AlicatFrame is one parsed data frame from an Alicat mass flow controller.
// Field order on the wire: unit ID, pressure, temperature, volumetric flow,
// mass flow, setpoint, gas label.
type AlicatFrame struct {
	Pressure       float64
	Temperature    float64
	VolumetricFlow float64
	MassFlow       float64
	Setpoint       float64
	Gas            string
}

// Alicat drives a mass flow controller over the Alicat ASCII serial
// protocol. It serves both roles in a tuning run: continuous Actuator
// (flow setpoint writes) and flow telemetry Source.
type Alicat struct {
	mu    sync.Mutex
	port  SerialPorter
	r     *bufio.Reader
	unit  byte
	clock timeutil.Clock
}

// NewAlicat wraps an open serial port. unit is the device's address letter
// (factory default 'A').
func NewAlicat(port SerialPorter, unit byte, clock timeutil.Clock) *Alicat {
	return &Alicat{
		port:  port,
		r:     bufio.NewReader(port),
		unit:  unit,
		clock: clock,
	}
}

// OpenAlicat opens the serial device at path and returns a driver for the
// controller with the given unit letter.
func OpenAlicat(path string, baud int, unit byte, clock timeutil.Clock) (*Alicat, error) {
	port, err := serial.Open(path, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open alicat port %s: %w", path, err)
	}
	return NewAlicat(port, unit, clock), nil
}

// Poll requests and parses a data frame from the controller.
func (a *Alicat) Poll() (AlicatFrame, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.command(fmt.Sprintf("%c\r", a.unit))
}

// SetSetpoint writes a new flow setpoint in device units. The controller
// echoes a data frame which is parsed to confirm the write.
func (a *Alicat) SetSetpoint(v float64) (AlicatFrame, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.command(fmt.Sprintf("%cS%.2f\r", a.unit, v))
}

// Apply sets the flow setpoint. It satisfies Actuator for continuous
// output mode.
func (a *Alicat) Apply(value float64) error {
	_, err := a.SetSetpoint(value)
	return err
}

// Off drives the flow setpoint to zero.
func (a *Alicat) Off() error {
	_, err := a.SetSetpoint(0)
	return err
}

// Latest polls the controller and reports mass flow. It satisfies Source so
// the flow itself can be logged or used as a process variable.
func (a *Alicat) Latest() (Sample, error) {
	frame, err := a.Poll()
	if err != nil {
		return Sample{}, fmt.Errorf("alicat: %w: %v", ErrUnavailable, err)
	}
	return Sample{Value: frame.MassFlow, Time: a.clock.Now()}, nil
}

// Close closes the underlying port.
func (a *Alicat) Close() error {
	return a.port.Close()
}

// command must be called with the mutex held.
func (a *Alicat) command(cmd string) (AlicatFrame, error) {
	if _, err := io.WriteString(a.port, cmd); err != nil {
		return AlicatFrame{}, fmt.Errorf("alicat write: %w", err)
	}
	line, err := a.r.ReadString('\r')
	if err != nil {
		return AlicatFrame{}, fmt.Errorf("alicat read: %w", err)
	}
	return parseAlicatFrame(line, a.unit)
}

func parseAlicatFrame(line string, unit byte) (AlicatFrame, error) {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) < 6 {
		return AlicatFrame{}, fmt.Errorf("alicat frame too short: %q", line)
	}
	if fields[0] != string(unit) {
		return AlicatFrame{}, fmt.Errorf("alicat frame for unit %q, want %q", fields[0], string(unit))
	}

	var vals [5]float64
	for i := 0; i < 5; i++ {
		v, err := strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return AlicatFrame{}, fmt.Errorf("alicat frame field %d %q: %w", i+1, fields[i+1], err)
		}
		vals[i] = v
	}

	frame := AlicatFrame{
		Pressure:       vals[0],
		Temperature:    vals[1],
		VolumetricFlow: vals[2],
		MassFlow:       vals[3],
		Setpoint:       vals[4],
	}
	if len(fields) > 6 {
		frame.Gas = fields[6]
	}
	return frame, nil
}
