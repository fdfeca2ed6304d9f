// Package control implements the steady-state controllers that consume
// tuned gains: a positional PID driving a continuous actuator and a banded
// three-level controller for coarse dosing. Both run on the same
// tick-driven cadence as the tuning runner.
package control

import (
	"fmt"
	"time"

	"github.com/banshee-data/autotune/internal/autotune"
)

// PIDConfig parameterises one PID loop.
type PIDConfig struct {
	Setpoint float64
	Kp       float64
	Ki       float64
	Kd       float64

	// Direction is the sense in which output pushes the measurement.
	// Lower inverts the gains.
	Direction autotune.Direction

	// Band suppresses output while the measurement sits within
	// setpoint +/- band. Zero disables the deadband.
	Band float64

	// IntegratorMin and IntegratorMax clamp the accumulated integral
	// term to bound windup.
	IntegratorMin float64
	IntegratorMax float64

	// OutputMin and OutputMax clamp the control variable.
	OutputMin float64
	OutputMax float64
}

// Validate rejects loops that cannot run.
func (c PIDConfig) Validate() error {
	if c.OutputMax < c.OutputMin {
		return fmt.Errorf("output bounds inverted: max %v < min %v", c.OutputMax, c.OutputMin)
	}
	if c.IntegratorMax < c.IntegratorMin {
		return fmt.Errorf("integrator bounds inverted: max %v < min %v", c.IntegratorMax, c.IntegratorMin)
	}
	if c.Band < 0 {
		return fmt.Errorf("band must be non-negative, got %v", c.Band)
	}
	return nil
}

// PID is a positional PID loop. The derivative acts on the measurement
// rather than the error, so setpoint changes do not kick the output.
// Not goroutine safe.
type PID struct {
	cfg PIDConfig

	initialised  bool
	lastMeasured float64
	lastTime     time.Time
	integral     float64
	lastOutput   float64

	pTerm, iTerm, dTerm float64
}

// NewPID validates cfg and constructs the loop.
func NewPID(cfg PIDConfig) (*PID, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &PID{cfg: cfg}, nil
}

// Update advances the loop with one measurement and returns the clamped
// control variable. The first call initialises timing state and returns a
// proportional-only output.
func (p *PID) Update(measured float64, now time.Time) float64 {
	err := p.cfg.Setpoint - measured
	if p.cfg.Direction == autotune.Lower {
		err = -err
	}

	if p.cfg.Band > 0 && measured >= p.cfg.Setpoint-p.cfg.Band && measured <= p.cfg.Setpoint+p.cfg.Band {
		// Inside the deadband: hold everything, command nothing.
		p.lastMeasured = measured
		p.lastTime = now
		p.pTerm, p.iTerm, p.dTerm = 0, 0, 0
		p.lastOutput = p.clamp(0)
		return p.lastOutput
	}

	if !p.initialised {
		p.initialised = true
		p.lastMeasured = measured
		p.lastTime = now
		p.pTerm = p.cfg.Kp * err
		p.iTerm, p.dTerm = 0, 0
		p.lastOutput = p.clamp(p.pTerm)
		return p.lastOutput
	}

	dt := now.Sub(p.lastTime).Seconds()
	if dt <= 0 {
		return p.lastOutput
	}

	p.pTerm = p.cfg.Kp * err

	// Hold the integral while the output is pinned and the error keeps
	// pushing the same way.
	integrate := true
	if p.lastOutput >= p.cfg.OutputMax && err > 0 {
		integrate = false
	}
	if p.lastOutput <= p.cfg.OutputMin && err < 0 {
		integrate = false
	}
	if integrate {
		p.integral += err * dt
		if p.integral > p.cfg.IntegratorMax {
			p.integral = p.cfg.IntegratorMax
		} else if p.integral < p.cfg.IntegratorMin {
			p.integral = p.cfg.IntegratorMin
		}
	}
	p.iTerm = p.cfg.Ki * p.integral

	derivative := (measured - p.lastMeasured) / dt
	if p.cfg.Direction == autotune.Lower {
		derivative = -derivative
	}
	p.dTerm = -p.cfg.Kd * derivative

	p.lastMeasured = measured
	p.lastTime = now
	p.lastOutput = p.clamp(p.pTerm + p.iTerm + p.dTerm)
	return p.lastOutput
}

// Terms returns the most recent P, I and D contributions.
func (p *PID) Terms() (float64, float64, float64) {
	return p.pTerm, p.iTerm, p.dTerm
}

// SetGains replaces the loop gains in place, e.g. after a tuning run.
func (p *PID) SetGains(g autotune.Gains) {
	p.cfg.Kp = g.Kp
	p.cfg.Ki = g.Ki
	p.cfg.Kd = g.Kd
}

func (p *PID) clamp(v float64) float64 {
	if v > p.cfg.OutputMax {
		return p.cfg.OutputMax
	}
	if v < p.cfg.OutputMin {
		return p.cfg.OutputMin
	}
	return v
}
