package control

import (
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/autotune/internal/autotune"
	"github.com/banshee-data/autotune/internal/device"
	"github.com/banshee-data/autotune/internal/monitoring"
	"github.com/banshee-data/autotune/internal/timeutil"
)

// BandState labels which side of the control band the process is on.
type BandState string

const (
	BandHigh     BandState = "high"     // strong corrective flow
	BandLow      BandState = "low"      // reduced flow
	BandMaintain BandState = "maintain" // holding flow inside the band
)

// BandConfig parameterises a BandLoop.
type BandConfig struct {
	Name     string
	Setpoint float64

	// Hysteresis places the band edges at setpoint +/- hysteresis.
	Hysteresis float64

	// Direction is the sense in which flow pushes the measurement:
	// Raise commands FlowHigh below the band, Lower commands FlowHigh
	// above it.
	Direction autotune.Direction

	// FlowHigh, FlowLow and FlowMaintain are the three commanded levels.
	FlowHigh     float64
	FlowLow      float64
	FlowMaintain float64

	Period time.Duration
	MaxAge time.Duration
}

// Validate rejects configurations that cannot run.
func (c BandConfig) Validate() error {
	if c.Period <= 0 {
		return fmt.Errorf("control period must be positive, got %v", c.Period)
	}
	if c.MaxAge <= 0 {
		return fmt.Errorf("measurement max age must be positive, got %v", c.MaxAge)
	}
	if c.Hysteresis <= 0 {
		return fmt.Errorf("hysteresis must be positive, got %v", c.Hysteresis)
	}
	return nil
}

// BandLoop is the coarse three-level controller: it commands one of three
// fixed flow levels depending on which side of the setpoint band the
// measurement sits. It is the simple alternative to a tuned PID loop for
// processes that only need containment, not tracking.
type BandLoop struct {
	cfg      BandConfig
	source   device.Source
	actuator device.Actuator
	clock    timeutil.Clock
	recorder Recorder

	mu    sync.Mutex
	next  time.Time
	state BandState
}

// NewBandLoop validates the configuration and constructs the loop.
func NewBandLoop(cfg BandConfig, source device.Source, actuator device.Actuator, clock timeutil.Clock) (*BandLoop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = "band"
	}
	return &BandLoop{
		cfg:      cfg,
		source:   source,
		actuator: actuator,
		clock:    clock,
		next:     clock.Now(),
	}, nil
}

// SetRecorder installs the telemetry sink. May be nil.
func (l *BandLoop) SetRecorder(r Recorder) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recorder = r
}

// State returns the current band state; empty before the first decision.
func (l *BandLoop) State() BandState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Tick runs one control step; calls before the due-time are no-ops.
func (l *BandLoop) Tick(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Before(l.next) {
		return
	}
	for !l.next.After(now) {
		l.next = l.next.Add(l.cfg.Period)
	}

	sample, err := l.source.Latest()
	if err != nil {
		monitoring.Logf("control %s: no measurement, stopping flow for safety: %v", l.cfg.Name, err)
		l.commandFlow(0)
		return
	}
	if age := now.Sub(sample.Time); age > l.cfg.MaxAge {
		monitoring.Logf("control %s: measurement %v old (max %v), stopping flow for safety",
			l.cfg.Name, age, l.cfg.MaxAge)
		l.commandFlow(0)
		return
	}

	state, flow := l.decide(sample.Value)
	if state != l.state {
		monitoring.Logf("control %s: state change %s -> %s (value=%.3f setpoint=%.2f band=%.2f flow=%.2f)",
			l.cfg.Name, l.state, state, sample.Value, l.cfg.Setpoint, l.cfg.Hysteresis, flow)
		l.state = state
	}
	l.commandFlow(flow)

	if l.recorder != nil {
		if err := l.recorder.RecordControl(l.cfg.Name, sample.Value, flow, 0, 0, 0); err != nil {
			monitoring.Logf("control %s: telemetry write failed: %v", l.cfg.Name, err)
		}
	}
}

// decide maps a measurement to a band state and flow level.
func (l *BandLoop) decide(value float64) (BandState, float64) {
	lower := l.cfg.Setpoint - l.cfg.Hysteresis
	upper := l.cfg.Setpoint + l.cfg.Hysteresis

	needsPush := value < lower
	overshoot := value > upper
	if l.cfg.Direction == autotune.Lower {
		needsPush, overshoot = overshoot, needsPush
	}

	switch {
	case needsPush:
		return BandHigh, l.cfg.FlowHigh
	case overshoot:
		return BandLow, l.cfg.FlowLow
	default:
		return BandMaintain, l.cfg.FlowMaintain
	}
}

// Stop shuts the flow off.
func (l *BandLoop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	monitoring.Logf("control %s: stopping, setting flow to 0", l.cfg.Name)
	l.commandFlow(0)
}

func (l *BandLoop) commandFlow(flow float64) {
	if err := l.actuator.Apply(flow); err != nil {
		monitoring.Logf("control %s: actuator failed: %v", l.cfg.Name, err)
	}
}
