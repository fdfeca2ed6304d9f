package autotune

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
)

const (
	// peakWindow is the number of most recent peaks retained for
	// convergence evaluation and period estimation.
	peakWindow = 5

	// maxPeaks is the hard failure cap: a run that detects this many
	// inflections without converging is abandoned. Deliberately fixed
	// rather than taken from the MaxCycles configuration value; see the
	// note on RunnerConfig.MaxCycles.
	maxPeaks = 20

	// amplitudeEpsilon keeps the convergence ratio finite when the
	// induced amplitude collapses toward zero.
	amplitudeEpsilon = 1e-9
)

// Config holds the tuner parameters. All values are required;
// Validate rejects non-positive periods, steps, bands and tolerances
// before a session is allowed to run.
type Config struct {
	// Setpoint is the value the process is driven to oscillate around.
	Setpoint float64

	// OutputStep is the relay step magnitude applied above/below the
	// output baseline.
	OutputStep float64

	// SampleTime is the sampling cadence. Samples arriving faster are
	// ignored.
	SampleTime time.Duration

	// Lookback is the peak-detection window; it should exceed the
	// expected oscillation period.
	Lookback time.Duration

	// OutputMin and OutputMax bound the commanded output.
	OutputMin float64
	OutputMax float64

	// NoiseBand is the deadband around the setpoint that suppresses
	// relay chatter.
	NoiseBand float64

	// Tolerance is the relative amplitude deviation below which the
	// oscillation is considered stable.
	Tolerance float64

	// Direction is the sense in which output pushes the measurement.
	Direction Direction
}

// Validate rejects configurations that cannot produce a meaningful run.
func (c Config) Validate() error {
	if c.SampleTime <= 0 {
		return fmt.Errorf("sample time must be positive, got %v", c.SampleTime)
	}
	if c.OutputStep <= 0 {
		return fmt.Errorf("output step must be positive, got %v", c.OutputStep)
	}
	if c.NoiseBand <= 0 {
		return fmt.Errorf("noise band must be positive, got %v", c.NoiseBand)
	}
	if c.Tolerance <= 0 {
		return fmt.Errorf("convergence tolerance must be positive, got %v", c.Tolerance)
	}
	if c.Lookback <= 0 {
		return fmt.Errorf("lookback window must be positive, got %v", c.Lookback)
	}
	if c.OutputMax < c.OutputMin {
		return fmt.Errorf("output bounds inverted: max %v < min %v", c.OutputMax, c.OutputMin)
	}
	return nil
}

// historyLen is the sample-history capacity: max(1, round(lookback/period)).
func (c Config) historyLen() int {
	n := int(math.Round(float64(c.Lookback) / float64(c.SampleTime)))
	if n < 1 {
		n = 1
	}
	return n
}

// Tuner is the relay-feedback state machine. It consumes one measurement
// sample at a time via Advance and exposes the commanded output, progress,
// and (after success) the identified ultimate gain and period.
//
// Tuner itself is not goroutine safe; the Runner serialises access.
type Tuner struct {
	cfg Config

	state         State
	output        float64
	initialOutput float64

	inputs     *sampleRing
	peaks      *peakRing
	peakSign   int // +1 after a running max, -1 after a running min, 0 unset
	peakCount  int
	cycleCount int

	lastRun time.Time

	ku        float64
	pu        time.Duration
	amplitude float64
}

// NewTuner validates cfg and constructs a tuner in the Off state.
func NewTuner(cfg Config) (*Tuner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Tuner{
		cfg:    cfg,
		state:  StateOff,
		inputs: newSampleRing(cfg.historyLen()),
		peaks:  newPeakRing(peakWindow),
	}, nil
}

// Advance processes one measurement sample and returns true once the run
// has terminated (Succeeded or Failed).
//
// The first call initialises the relay and makes no switching decision.
// Calls arriving within one sample period of the previous processed sample
// are ignored.
func (t *Tuner) Advance(value float64, now time.Time) bool {
	if t.state == StateOff {
		t.start(now)
		return false
	}
	if t.state.Terminal() {
		return true
	}
	if now.Sub(t.lastRun) < t.cfg.SampleTime {
		return false
	}
	t.lastRun = now
	t.cycleCount++

	t.switchRelay(value)

	switch t.state {
	case StateStepUp:
		t.output = t.initialOutput + t.cfg.OutputStep
	case StateStepDown:
		t.output = t.initialOutput - t.cfg.OutputStep
	}
	t.output = math.Min(t.output, t.cfg.OutputMax)
	t.output = math.Max(t.output, t.cfg.OutputMin)

	// A candidate extremum must dominate every value in the lookback
	// window. Both flags hold simultaneously only while the window is
	// still filling.
	isMax, isMin := true, true
	for i := 0; i < t.inputs.len(); i++ {
		v := t.inputs.at(i)
		isMax = isMax && value >= v
		isMin = isMin && value <= v
	}
	t.inputs.push(value)

	// Peak logic only runs once the window is warm.
	if !t.inputs.full() {
		return false
	}

	inflection := false
	if isMax {
		if t.peakSign == -1 {
			inflection = true
		}
		t.peakSign = 1
	} else if isMin {
		if t.peakSign == 1 {
			inflection = true
		}
		t.peakSign = -1
	}

	if inflection {
		t.peakCount++
		t.peaks.push(Peak{Value: value, Time: now})
	}

	if inflection && t.peakCount > 4 && t.converged() {
		t.state = StateSucceeded
		t.identify()
		return true
	}

	if t.peakCount >= maxPeaks {
		t.state = StateFailed
		t.output = 0
		return true
	}
	return false
}

func (t *Tuner) start(now time.Time) {
	t.peakSign = 0
	t.peakCount = 0
	t.cycleCount = 0
	t.output = 0
	t.initialOutput = 0
	t.ku = 0
	t.pu = 0
	t.amplitude = 0
	t.inputs.reset()
	t.peaks.reset()
	t.lastRun = now
	t.state = StateStepUp
}

func (t *Tuner) switchRelay(value float64) {
	upper := t.cfg.Setpoint + t.cfg.NoiseBand
	lower := t.cfg.Setpoint - t.cfg.NoiseBand

	if t.cfg.Direction == Raise {
		if t.state == StateStepUp && value > upper {
			t.state = StateStepDown
		} else if t.state == StateStepDown && value < lower {
			t.state = StateStepUp
		}
		return
	}
	// Lower: mirrored comparisons.
	if t.state == StateStepUp && value < lower {
		t.state = StateStepDown
	} else if t.state == StateStepDown && value > upper {
		t.state = StateStepUp
	}
}

// converged evaluates the oscillation stability criterion over the retained
// peaks, excluding the newest one (which has no settled successor yet).
// It also records the induced amplitude used by identify.
func (t *Tuner) converged() bool {
	peaks := t.peaks.values()
	settled := make([]float64, len(peaks)-1)
	for i := range settled {
		settled[i] = peaks[i].Value
	}
	peakRange := floats.Max(settled) - floats.Min(settled)

	var swing float64
	for i := 0; i < len(peaks)-2; i++ {
		swing += math.Abs(peaks[i].Value - peaks[i+1].Value)
	}
	t.amplitude = swing / float64(len(peaks)-1)

	deviation := math.Abs(0.5*peakRange-t.amplitude) / (t.amplitude + amplitudeEpsilon)
	return deviation < t.cfg.Tolerance
}

// identify computes the ultimate gain and period from the converged
// oscillation.
func (t *Tuner) identify() {
	t.ku = 4 * t.cfg.OutputStep / (t.amplitude * math.Pi)

	// Two non-overlapping two-peak spans each straddle one full cycle;
	// averaging them suppresses timing noise.
	peaks := t.peaks.values()
	period1 := peaks[3].Time.Sub(peaks[1].Time)
	period2 := peaks[4].Time.Sub(peaks[2].Time)
	t.pu = (period1 + period2) / 2
}

// State returns the current lifecycle state.
func (t *Tuner) State() State { return t.state }

// Output returns the commanded output, already clamped to the configured
// bounds.
func (t *Tuner) Output() float64 { return t.output }

// PeakCount returns the number of detected inflections.
func (t *Tuner) PeakCount() int { return t.peakCount }

// CycleCount returns the number of processed samples.
func (t *Tuner) CycleCount() int { return t.cycleCount }

// UltimateGain returns Ku, valid only after success.
func (t *Tuner) UltimateGain() float64 { return t.ku }

// UltimatePeriod returns Pu, valid only after success.
func (t *Tuner) UltimatePeriod() time.Duration { return t.pu }

// InducedAmplitude returns the mean peak-to-peak swing observed at the last
// convergence evaluation.
func (t *Tuner) InducedAmplitude() float64 { return t.amplitude }

// Progress estimates completion in percent. True completion time is
// unknowable in advance, so while running this is a peak-count heuristic
// capped at 95.
func (t *Tuner) Progress() float64 {
	switch t.state {
	case StateOff, StateFailed:
		return 0
	case StateSucceeded:
		return 100
	}
	return math.Min(95, float64(t.peakCount)/5*100)
}

// Gains derives PID parameters from the identified (Ku, Pu) under the
// named rule, falling back to DefaultRule for unknown names. Before the
// tuner has succeeded it returns zero gains.
func (t *Tuner) Gains(rule string) Gains {
	if t.state != StateSucceeded || t.pu <= 0 {
		return Gains{}
	}
	return ruleGains(rule, t.ku, t.pu.Seconds())
}
