package main

import (
	"math"
	"sync"
	"time"

	"github.com/banshee-data/autotune/internal/config"
	"github.com/banshee-data/autotune/internal/device"
	"github.com/banshee-data/autotune/internal/timeutil"
)

// simProcess is the dev-mode stand-in for the reactor: a first-order
// process whose value relaxes toward ambient + gain*output. Driven by the
// relay it produces a sustained oscillation around the setpoint, which is
// enough to exercise the whole tuning path without hardware.
type simProcess struct {
	mu sync.Mutex

	clock   timeutil.Clock
	ambient float64
	gain    float64
	tau     float64 // seconds

	value  float64
	output float64
	last   time.Time
}

func newSimProcess(cfg *config.Config, clock timeutil.Clock) *simProcess {
	band := cfg.GetNoiseBand()
	step := cfg.GetOutputStep()
	if step == 0 {
		step = 1
	}
	return &simProcess{
		clock:   clock,
		ambient: cfg.GetSetpoint() - 4*band,
		// Full step drives the value well past the top of the band.
		gain:  8 * band / step,
		tau:   4 * cfg.GetSamplePeriod().Seconds(),
		value: cfg.GetSetpoint() - 2*band,
		last:  clock.Now(),
	}
}

// Latest returns the current simulated value. It satisfies device.Source.
func (s *simProcess) Latest() (device.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	s.advance(now)
	return device.Sample{Value: s.value, Time: now}, nil
}

// Apply sets the held output level. It satisfies device.Actuator.
func (s *simProcess) Apply(value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance(s.clock.Now())
	s.output = value
	return nil
}

// Off zeroes the output.
func (s *simProcess) Off() error {
	return s.Apply(0)
}

func (s *simProcess) advance(now time.Time) {
	dt := now.Sub(s.last).Seconds()
	s.last = now
	if dt <= 0 || s.tau <= 0 {
		return
	}
	target := s.ambient + s.gain*s.output
	s.value += (target - s.value) * (1 - math.Exp(-dt/s.tau))
}
