package autotune

import (
	"math"
	"testing"
	"time"
)

func baseConfig() Config {
	return Config{
		Setpoint:   50,
		OutputStep: 10,
		SampleTime: 5 * time.Second,
		Lookback:   60 * time.Second,
		OutputMin:  0,
		OutputMax:  100,
		NoiseBand:  0.5,
		Tolerance:  0.10,
		Direction:  Raise,
	}
}

// feed advances the tuner with one value per sample period, starting one
// period after start, and returns the time of the last processed sample.
func feed(t *Tuner, start time.Time, period time.Duration, values []float64) time.Time {
	now := start
	for _, v := range values {
		now = now.Add(period)
		t.Advance(v, now)
	}
	return now
}

func TestHistoryCapacity(t *testing.T) {
	cfg := baseConfig()
	if got := cfg.historyLen(); got != 12 {
		t.Errorf("historyLen() = %d, want 12 for lookback=60s period=5s", got)
	}

	cfg.Lookback = 2 * time.Second
	cfg.SampleTime = 5 * time.Second
	if got := cfg.historyLen(); got != 1 {
		t.Errorf("historyLen() = %d, want minimum 1", got)
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero sample time", func(c *Config) { c.SampleTime = 0 }},
		{"negative output step", func(c *Config) { c.OutputStep = -1 }},
		{"zero noise band", func(c *Config) { c.NoiseBand = 0 }},
		{"zero tolerance", func(c *Config) { c.Tolerance = 0 }},
		{"zero lookback", func(c *Config) { c.Lookback = 0 }},
		{"inverted bounds", func(c *Config) { c.OutputMin = 10; c.OutputMax = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := baseConfig()
			tc.mutate(&cfg)
			if _, err := NewTuner(cfg); err == nil {
				t.Errorf("NewTuner accepted invalid config (%s)", tc.name)
			}
		})
	}

	// Degenerate single-point output range is allowed.
	cfg := baseConfig()
	cfg.OutputMin = 50
	cfg.OutputMax = 50
	if _, err := NewTuner(cfg); err != nil {
		t.Errorf("NewTuner rejected degenerate equal bounds: %v", err)
	}
}

func TestFirstAdvanceInitialises(t *testing.T) {
	tuner, err := NewTuner(baseConfig())
	if err != nil {
		t.Fatal(err)
	}
	if tuner.State() != StateOff {
		t.Fatalf("initial state = %v, want off", tuner.State())
	}

	start := time.Unix(1000, 0)
	if done := tuner.Advance(50, start); done {
		t.Error("first Advance reported complete")
	}
	if tuner.State() != StateStepUp {
		t.Errorf("state after first Advance = %v, want step_up", tuner.State())
	}
	if tuner.Output() != 0 {
		t.Errorf("output after first Advance = %v, want 0 (no relay decision yet)", tuner.Output())
	}
	if tuner.CycleCount() != 0 {
		t.Errorf("cycle count after first Advance = %d, want 0", tuner.CycleCount())
	}
}

func TestSamplePeriodGuard(t *testing.T) {
	tuner, _ := NewTuner(baseConfig())
	start := time.Unix(1000, 0)
	tuner.Advance(50, start)

	tuner.Advance(50, start.Add(5*time.Second))
	if tuner.CycleCount() != 1 {
		t.Fatalf("cycle count = %d, want 1", tuner.CycleCount())
	}

	// A burst call inside the sample period is ignored.
	tuner.Advance(60, start.Add(6*time.Second))
	if tuner.CycleCount() != 1 {
		t.Errorf("burst sample was processed: cycle count = %d", tuner.CycleCount())
	}
	if tuner.State() != StateStepUp {
		t.Errorf("burst sample switched relay: state = %v", tuner.State())
	}
}

func TestRelaySwitchingRaise(t *testing.T) {
	tuner, _ := NewTuner(baseConfig())
	start := time.Unix(1000, 0)
	now := feed(tuner, start, 5*time.Second, []float64{50})

	// Above setpoint+noiseband: StepUp -> StepDown.
	now = now.Add(5 * time.Second)
	tuner.Advance(50.6, now)
	if tuner.State() != StateStepDown {
		t.Fatalf("state = %v, want step_down after value > setpoint+noiseband", tuner.State())
	}
	if tuner.Output() != 0 {
		t.Errorf("output = %v, want 0 (baseline-step clamped to output_min)", tuner.Output())
	}

	// Inside the deadband: no switch.
	now = now.Add(5 * time.Second)
	tuner.Advance(50.2, now)
	if tuner.State() != StateStepDown {
		t.Errorf("state changed inside noise band: %v", tuner.State())
	}

	// Below setpoint-noiseband: StepDown -> StepUp.
	now = now.Add(5 * time.Second)
	tuner.Advance(49.3, now)
	if tuner.State() != StateStepUp {
		t.Fatalf("state = %v, want step_up after value < setpoint-noiseband", tuner.State())
	}
	if tuner.Output() != 10 {
		t.Errorf("output = %v, want baseline+step = 10", tuner.Output())
	}
}

func TestRelaySwitchingLower(t *testing.T) {
	cfg := baseConfig()
	cfg.Direction = Lower
	tuner, _ := NewTuner(cfg)
	start := time.Unix(1000, 0)
	now := feed(tuner, start, 5*time.Second, []float64{50})

	// Lower direction: dropping below setpoint-noiseband while stepping
	// up switches to StepDown.
	now = now.Add(5 * time.Second)
	tuner.Advance(49.2, now)
	if tuner.State() != StateStepDown {
		t.Fatalf("state = %v, want step_down (direction=lower, value below band)", tuner.State())
	}

	now = now.Add(5 * time.Second)
	tuner.Advance(50.8, now)
	if tuner.State() != StateStepUp {
		t.Fatalf("state = %v, want step_up (direction=lower, value above band)", tuner.State())
	}
}

func TestOutputAlwaysClamped(t *testing.T) {
	cfg := baseConfig()
	cfg.OutputMin = -5
	cfg.OutputMax = 7
	tuner, _ := NewTuner(cfg)
	start := time.Unix(1000, 0)
	now := start
	tuner.Advance(50, now)

	values := []float64{48, 52, 49, 51, 47, 53, 50}
	for _, v := range values {
		now = now.Add(5 * time.Second)
		tuner.Advance(v, now)
		if out := tuner.Output(); out < cfg.OutputMin || out > cfg.OutputMax {
			t.Errorf("output %v outside [%v, %v]", out, cfg.OutputMin, cfg.OutputMax)
		}
	}
}

// zigzag is a scripted sequence for a capacity-1 lookback window whose
// recorded peaks are exactly 55, 45, 51, 46.5, 52. The settled peaks span
// a range of 10 with consecutive swings 10, 6 and 4.5, which puts the
// amplitude deviation at ~0.024, inside a 0.10 tolerance on the fifth
// inflection.
var zigzag = []float64{50, 56, 55, 44, 45, 52, 51, 45.5, 46.5, 53, 52}

func convergenceConfig() Config {
	cfg := baseConfig()
	cfg.Lookback = 5 * time.Second // capacity 1: immediate extremum tracking
	return cfg
}

func TestConvergenceSucceeds(t *testing.T) {
	tuner, _ := NewTuner(convergenceConfig())
	start := time.Unix(0, 0)
	now := start
	tuner.Advance(50, now) // init

	var done bool
	for _, v := range zigzag {
		now = now.Add(5 * time.Second)
		done = tuner.Advance(v, now)
	}
	if !done {
		t.Fatalf("tuner did not complete; state=%v peaks=%d", tuner.State(), tuner.PeakCount())
	}
	if tuner.State() != StateSucceeded {
		t.Fatalf("state = %v, want succeeded", tuner.State())
	}
	if tuner.PeakCount() != 5 {
		t.Errorf("peak count = %d, want 5", tuner.PeakCount())
	}

	// Induced amplitude: (10 + 6 + 4.5) / 4.
	if got := tuner.InducedAmplitude(); math.Abs(got-5.125) > 1e-9 {
		t.Errorf("induced amplitude = %v, want 5.125", got)
	}

	// Peaks land 10 samples (2 per cycle) apart: both period estimates
	// are 20s, so Pu = 20s.
	if got := tuner.UltimatePeriod(); got != 20*time.Second {
		t.Errorf("Pu = %v, want 20s", got)
	}

	wantKu := 4 * 10.0 / (5.125 * math.Pi)
	if got := tuner.UltimateGain(); math.Abs(got-wantKu) > 1e-9 {
		t.Errorf("Ku = %v, want %v", got, wantKu)
	}

	if got := tuner.Progress(); got != 100 {
		t.Errorf("progress after success = %v, want 100", got)
	}
}

func TestTerminalStateAbsorbing(t *testing.T) {
	tuner, _ := NewTuner(convergenceConfig())
	start := time.Unix(0, 0)
	tuner.Advance(50, start)
	now := feed(tuner, start, 5*time.Second, zigzag)
	if tuner.State() != StateSucceeded {
		t.Fatal("setup: expected succeeded state")
	}

	ku, pu := tuner.UltimateGain(), tuner.UltimatePeriod()
	if done := tuner.Advance(999, now.Add(time.Hour)); !done {
		t.Error("Advance on terminal tuner must report complete")
	}
	if tuner.UltimateGain() != ku || tuner.UltimatePeriod() != pu {
		t.Error("terminal Advance mutated results")
	}
}

// steadyWave samples a sine-like oscillation between 45 and 55 with a 40s
// period, tabulated so repeated extrema compare exactly equal. Its constant
// amplitude keeps the deviation criterion at ~1/3, so with a 0.10 tolerance
// the run must exhaust the 20-peak cap and fail.
var steadyWave = [8]float64{50, 53.5, 55, 53.5, 50, 46.5, 45, 46.5}

func steadyValue(t time.Duration) float64 {
	return steadyWave[(t/(5*time.Second))%8]
}

func TestSteadyOscillationFailsAtPeakCap(t *testing.T) {
	tuner, _ := NewTuner(baseConfig())
	start := time.Unix(0, 0)
	tuner.Advance(steadyValue(0), start)

	lastProgress := tuner.Progress()
	var done bool
	for offset := 5 * time.Second; offset < 2000*time.Second; offset += 5 * time.Second {
		done = tuner.Advance(steadyValue(offset), start.Add(offset))

		if !tuner.State().Terminal() {
			p := tuner.Progress()
			if p < lastProgress {
				t.Fatalf("progress decreased: %v -> %v", lastProgress, p)
			}
			if p < 0 || p > 95 {
				t.Fatalf("running progress %v outside [0, 95]", p)
			}
			lastProgress = p
		}
		if done {
			break
		}
	}

	if !done {
		t.Fatal("run never terminated")
	}
	if tuner.State() != StateFailed {
		t.Fatalf("state = %v, want failed", tuner.State())
	}
	if tuner.PeakCount() != maxPeaks {
		t.Errorf("peak count = %d, want %d", tuner.PeakCount(), maxPeaks)
	}
	if tuner.Output() != 0 {
		t.Errorf("output after failure = %v, want forced 0", tuner.Output())
	}
	if tuner.Progress() != 0 {
		t.Errorf("progress after failure = %v, want 0", tuner.Progress())
	}
}

func TestNoPeaksOnMonotonicRun(t *testing.T) {
	cfg := baseConfig()
	cfg.Lookback = 10 * time.Second // capacity 2
	tuner, _ := NewTuner(cfg)
	start := time.Unix(0, 0)
	tuner.Advance(0, start)

	// A long monotonic ramp: no inflection may be recorded.
	values := make([]float64, 40)
	for i := range values {
		values[i] = float64(i)
	}
	feed(tuner, start, 5*time.Second, values)

	if tuner.PeakCount() != 0 {
		t.Errorf("monotonic ramp produced %d peaks, want 0", tuner.PeakCount())
	}
}

func TestFlatInputProducesNoPeaks(t *testing.T) {
	tuner, _ := NewTuner(baseConfig())
	start := time.Unix(0, 0)
	tuner.Advance(50, start)

	values := make([]float64, 60)
	for i := range values {
		values[i] = 50
	}
	feed(tuner, start, 5*time.Second, values)

	if tuner.PeakCount() != 0 {
		t.Errorf("flat input produced %d peaks, want 0", tuner.PeakCount())
	}
	if tuner.State().Terminal() {
		t.Errorf("flat input terminated the run: %v", tuner.State())
	}
}

func TestSawtoothPeaksAtExtrema(t *testing.T) {
	cfg := baseConfig()
	cfg.Setpoint = 5
	cfg.NoiseBand = 1
	cfg.Lookback = 10 * time.Second // capacity 2
	tuner, _ := NewTuner(cfg)
	start := time.Unix(0, 0)
	tuner.Advance(0, start)

	// Three triangle cycles: 0..10..0 in steps of 2. Each extremum
	// yields exactly one inflection, detected on the first sample past
	// the turn; the final trough has no following rise, so it is never
	// detected.
	var values []float64
	for cycle := 0; cycle < 3; cycle++ {
		for v := 2.0; v <= 10; v += 2 {
			values = append(values, v)
		}
		for v := 8.0; v >= 0; v -= 2 {
			values = append(values, v)
		}
	}
	feed(tuner, start, 5*time.Second, values)

	// 6 extrema total (3 maxima, 3 minima); the first recorded sign does
	// not count as an inflection.
	if got := tuner.PeakCount(); got != 5 {
		t.Errorf("peak count = %d, want 5 for 3 triangle cycles", got)
	}
}

func TestProgressHeuristic(t *testing.T) {
	tuner, _ := NewTuner(baseConfig())
	if got := tuner.Progress(); got != 0 {
		t.Errorf("progress while off = %v, want 0", got)
	}

	tuner.peakCount = 2
	tuner.state = StateStepUp
	if got := tuner.Progress(); got != 40 {
		t.Errorf("progress with 2 peaks = %v, want 40", got)
	}

	tuner.peakCount = 19
	if got := tuner.Progress(); got != 95 {
		t.Errorf("progress with 19 peaks = %v, want capped 95", got)
	}
}
