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

// Recorder is the telemetry sink for running controllers.
type Recorder interface {
	RecordControl(controller string, measured, output, p, i, d float64) error
}

// FlowConfig parameterises a FlowLoop.
type FlowConfig struct {
	Name   string
	PID    PIDConfig
	Period time.Duration

	// MaxAge is the oldest measurement the loop will act on. Staler
	// measurements force the flow to zero for safety.
	MaxAge time.Duration

	// MinFlow and MaxFlow bound the commanded flow rate.
	MinFlow float64
	MaxFlow float64
}

// FlowLoop is the periodic PID process controller: it reads a measurement,
// advances the PID, and commands a continuous actuator (an MFC flow
// setpoint). Measurement dropouts and stale data shut the flow off rather
// than holding the last command.
type FlowLoop struct {
	cfg      FlowConfig
	pid      *PID
	source   device.Source
	actuator device.Actuator
	clock    timeutil.Clock
	recorder Recorder

	mu   sync.Mutex
	next time.Time
}

// NewFlowLoop validates the configuration and constructs the loop.
func NewFlowLoop(cfg FlowConfig, source device.Source, actuator device.Actuator, clock timeutil.Clock) (*FlowLoop, error) {
	if cfg.Period <= 0 {
		return nil, fmt.Errorf("control period must be positive, got %v", cfg.Period)
	}
	if cfg.MaxAge <= 0 {
		return nil, fmt.Errorf("measurement max age must be positive, got %v", cfg.MaxAge)
	}
	if cfg.MaxFlow < cfg.MinFlow {
		return nil, fmt.Errorf("flow bounds inverted: max %v < min %v", cfg.MaxFlow, cfg.MinFlow)
	}
	pid, err := NewPID(cfg.PID)
	if err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = "flow"
	}
	return &FlowLoop{
		cfg:      cfg,
		pid:      pid,
		source:   source,
		actuator: actuator,
		clock:    clock,
		next:     clock.Now(),
	}, nil
}

// SetRecorder installs the telemetry sink. May be nil.
func (l *FlowLoop) SetRecorder(r Recorder) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recorder = r
}

// SetGains replaces the PID gains, typically with a tuning result.
func (l *FlowLoop) SetGains(g autotune.Gains) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pid.SetGains(g)
}

// Tick runs one control step; calls before the due-time are no-ops.
func (l *FlowLoop) Tick(now time.Time) {
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

	flow := l.pid.Update(sample.Value, now)
	if flow < l.cfg.MinFlow {
		flow = l.cfg.MinFlow
	} else if flow > l.cfg.MaxFlow {
		flow = l.cfg.MaxFlow
	}
	l.commandFlow(flow)

	p, i, d := l.pid.Terms()
	if l.recorder != nil {
		if err := l.recorder.RecordControl(l.cfg.Name, sample.Value, flow, p, i, d); err != nil {
			monitoring.Logf("control %s: telemetry write failed: %v", l.cfg.Name, err)
		}
	}
	monitoring.Logf("control %s: value=%.3f setpoint=%.3f flow=%.2f P=%.2f I=%.2f D=%.2f",
		l.cfg.Name, sample.Value, l.cfg.PID.Setpoint, flow, p, i, d)
}

// Stop shuts the flow off.
func (l *FlowLoop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	monitoring.Logf("control %s: stopping, setting flow to 0", l.cfg.Name)
	l.commandFlow(0)
}

func (l *FlowLoop) commandFlow(flow float64) {
	if err := l.actuator.Apply(flow); err != nil {
		monitoring.Logf("control %s: actuator failed: %v", l.cfg.Name, err)
	}
}
