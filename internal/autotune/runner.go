package autotune

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/autotune/internal/device"
	"github.com/banshee-data/autotune/internal/monitoring"
	"github.com/banshee-data/autotune/internal/timeutil"
)

// maxCatchUpSteps bounds deadline realignment after the scheduler has been
// starved for a long stretch. Past this many missed periods the schedule is
// rebased on the current tick instead of replayed.
const maxCatchUpSteps = 64

// progressDelta is the minimum progress change, in percentage points, that
// triggers a telemetry emission before termination.
const progressDelta = 5.0

// Telemetry is the external time-series sink for a session. RecordTuning
// carries three independent channels (progress percent, state code, and
// elapsed seconds since session start); RecordSample logs the raw
// measurement/output pair of each processed tick.
type Telemetry interface {
	RecordTuning(sessionID string, progress float64, state int, elapsedSeconds float64) error
	RecordSample(sessionID string, value, output float64) error
}

// RunnerConfig collects everything a tuning session needs beyond the tuner
// parameters themselves.
type RunnerConfig struct {
	Tuner Config

	// Mode selects discrete (seconds-on) or continuous actuator
	// semantics.
	Mode OutputMode

	// Preflight enables the one-shot blocking response check before
	// ticking begins.
	Preflight bool

	// Rule is the headline tuning rule carried on the Result and named
	// in the completion log. Defaults to DefaultRule.
	Rule string

	// MaxCycles is accepted for compatibility with existing
	// configurations but is not wired into the failure cap: the tuner
	// fails after a fixed 20 peaks regardless. Callers must not assume
	// this value is honoured.
	MaxCycles int
}

// Result is delivered to the completion callback exactly once per session,
// on success or failure.
type Result struct {
	ID        string
	State     State
	Rule      string
	Ku        float64
	Pu        time.Duration
	Amplitude float64
	Peaks     int
	Cycles    int
	Elapsed   time.Duration

	// Gains holds the derived parameters for every known rule; empty
	// unless State is StateSucceeded.
	Gains map[string]Gains
}

// Status is a point-in-time snapshot of a running session, served by the
// HTTP API.
type Status struct {
	ID        string  `json:"id"`
	State     string  `json:"state"`
	StateCode int     `json:"state_code"`
	Progress  float64 `json:"progress"`
	Peaks     int     `json:"peaks"`
	Cycles    int     `json:"cycles"`
	Output    float64 `json:"output"`
	ElapsedS  float64 `json:"elapsed_seconds"`
	Done      bool    `json:"done"`
}

// Runner drives one tuning session on a fixed cadence: it owns the tuner,
// the measurement source and the actuator for the lifetime of the run.
// Tick is safe to call more often than the sample period; excess calls are
// no-ops until the deadline elapses. No error escapes Tick.
type Runner struct {
	id       string
	cfg      RunnerConfig
	tuner    *Tuner
	source   device.Source
	actuator device.Actuator
	clock    timeutil.Clock

	telemetry  Telemetry
	onComplete func(Result)

	mu           sync.Mutex
	next         time.Time
	started      time.Time
	lastProgress float64
	emitted      bool
	done         bool
}

// NewRunner validates the configuration and constructs a session. The
// first due-time is "now" on the supplied clock.
func NewRunner(cfg RunnerConfig, source device.Source, actuator device.Actuator, clock timeutil.Clock) (*Runner, error) {
	tuner, err := NewTuner(cfg.Tuner)
	if err != nil {
		return nil, fmt.Errorf("invalid autotune configuration: %w", err)
	}
	if source == nil || actuator == nil {
		return nil, fmt.Errorf("invalid autotune configuration: source and actuator are required")
	}
	if cfg.Rule == "" {
		cfg.Rule = DefaultRule
	}
	if !KnownRule(cfg.Rule) {
		return nil, fmt.Errorf("invalid autotune configuration: unknown tuning rule %q", cfg.Rule)
	}
	now := clock.Now()
	return &Runner{
		id:       uuid.NewString(),
		cfg:      cfg,
		tuner:    tuner,
		source:   source,
		actuator: actuator,
		clock:    clock,
		next:     now,
		started:  now,
	}, nil
}

// ID returns the session identifier.
func (r *Runner) ID() string { return r.id }

// SetTelemetry installs the progress sink. May be nil to disable emission.
func (r *Runner) SetTelemetry(t Telemetry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.telemetry = t
}

// OnComplete installs the session lifecycle callback. It is invoked at
// most once, from its own goroutine, after the session reaches a terminal
// state.
func (r *Runner) OnComplete(f func(Result)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onComplete = f
}

// Preflight performs the optional pre-flight response check. It BLOCKS the
// calling goroutine for up to min(2*sample period, 60s) while the step
// response settles; run it before the tick-driven phase, never inside it.
// Both possible warnings are advisory: the run proceeds regardless.
func (r *Runner) Preflight() {
	baseline, err := r.source.Latest()
	if err != nil {
		monitoring.Logf("autotune %s: pre-flight: no baseline measurement: %v", r.id, err)
		return
	}

	wait := 2 * r.cfg.Tuner.SampleTime
	if wait > time.Minute {
		wait = time.Minute
	}
	monitoring.Logf("autotune %s: pre-flight: baseline=%.2f, applying step %.2f for %v",
		r.id, baseline.Value, r.cfg.Tuner.OutputStep, wait)

	if err := r.applyOutput(r.cfg.Tuner.OutputStep); err != nil {
		monitoring.Logf("autotune %s: pre-flight: actuator failed: %v", r.id, err)
		return
	}
	r.clock.Sleep(wait)

	after, readErr := r.source.Latest()
	if err := r.actuator.Off(); err != nil {
		monitoring.Logf("autotune %s: pre-flight: actuator off failed: %v", r.id, err)
	}
	if readErr != nil {
		monitoring.Logf("autotune %s: pre-flight: no follow-up measurement: %v", r.id, readErr)
		return
	}

	change := after.Value - baseline.Value
	monitoring.Logf("autotune %s: pre-flight: after=%.2f change=%.2f", r.id, after.Value, change)

	expected := change > 0
	if r.cfg.Tuner.Direction == Lower {
		expected = change < 0
	}
	if math.Abs(change) < r.cfg.Tuner.NoiseBand*0.5 {
		monitoring.Logf("autotune %s: pre-flight warning: weak response (|%.3f| < half noise band %.3f); "+
			"output may be undersized or measurement unresponsive", r.id, change, r.cfg.Tuner.NoiseBand*0.5)
	} else if !expected {
		monitoring.Logf("autotune %s: pre-flight warning: response direction contradicts configured direction %s",
			r.id, r.cfg.Tuner.Direction)
	}
}

// Tick runs one scheduling step. It no-ops before the due-time, then
// processes the latest available measurement, applies the commanded
// output, and emits telemetry. All failures are logged and converted into
// skipped ticks or terminal states.
func (r *Runner) Tick(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done || now.Before(r.next) {
		return
	}

	// Realign the schedule without replaying missed samples.
	period := r.cfg.Tuner.SampleTime
	for steps := 0; !r.next.After(now); steps++ {
		if steps >= maxCatchUpSteps {
			r.next = now.Add(period)
			break
		}
		r.next = r.next.Add(period)
	}

	sample, err := r.source.Latest()
	if err != nil {
		monitoring.Logf("autotune %s: no measurement available, skipping tick: %v", r.id, err)
		return
	}

	complete := r.tuner.Advance(sample.Value, now)

	if err := r.applyOutput(r.tuner.Output()); err != nil {
		// An unreachable actuator is fatal: force a safe state and
		// end the session as failed.
		monitoring.Logf("autotune %s: actuator unavailable, aborting session: %v", r.id, err)
		r.finishLocked(StateFailed, now)
		return
	}

	r.recordSampleLocked(sample.Value)

	// On completion the emission is deferred to finishLocked so the
	// final point is written exactly once.
	if !complete {
		r.emitLocked(r.tuner.State(), now)
	}

	if c := r.tuner.CycleCount(); c > 0 && c%5 == 0 {
		monitoring.Logf("autotune %s: cycle %d: value=%.3f state=%s peaks=%d output=%.2f progress=%.1f%%",
			r.id, c, sample.Value, r.tuner.State(), r.tuner.PeakCount(), r.tuner.Output(), r.tuner.Progress())
	}

	if complete {
		r.finishLocked(r.tuner.State(), now)
	}
}

// Run drives the session until termination or context cancellation,
// polling at twice the sample cadence. Pre-flight, when enabled, executes
// synchronously before the first tick.
func (r *Runner) Run(ctx context.Context) {
	if r.cfg.Preflight {
		r.Preflight()
	}

	poll := r.cfg.Tuner.SampleTime / 2
	if poll <= 0 {
		poll = r.cfg.Tuner.SampleTime
	}
	ticker := r.clock.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Stop()
			return
		case now := <-ticker.C():
			r.Tick(now)
			if r.Done() {
				return
			}
		}
	}
}

// Stop cancels the session. The actuator is forced off before anything
// else; cancellation is terminal and does not invoke the completion
// callback.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return
	}
	if err := r.actuator.Off(); err != nil {
		monitoring.Logf("autotune %s: stop: actuator off failed: %v", r.id, err)
	}
	r.done = true
	monitoring.Logf("autotune %s: session cancelled after %d cycles", r.id, r.tuner.CycleCount())
}

// Done reports whether the session has ended (terminal state or
// cancellation).
func (r *Runner) Done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Status returns a snapshot for the API.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{
		ID:        r.id,
		State:     r.tuner.State().String(),
		StateCode: int(r.tuner.State()),
		Progress:  r.tuner.Progress(),
		Peaks:     r.tuner.PeakCount(),
		Cycles:    r.tuner.CycleCount(),
		Output:    r.tuner.Output(),
		ElapsedS:  r.clock.Since(r.started).Seconds(),
		Done:      r.done,
	}
}

// Gains exposes derived gains for the API; zero before success.
func (r *Runner) Gains(rule string) Gains {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tuner.Gains(rule)
}

// applyOutput translates the commanded value into an actuator call
// according to the output mode.
func (r *Runner) applyOutput(value float64) error {
	if r.cfg.Mode == Discrete && value <= 0 {
		return r.actuator.Off()
	}
	return r.actuator.Apply(value)
}

// recordSampleLocked logs the measurement/output pair of the current tick.
func (r *Runner) recordSampleLocked(value float64) {
	if r.telemetry == nil {
		return
	}
	if err := r.telemetry.RecordSample(r.id, value, r.tuner.Output()); err != nil {
		monitoring.Logf("autotune %s: sample write failed: %v", r.id, err)
	}
}

// emitLocked writes progress telemetry when it has moved by at least
// progressDelta points, or unconditionally at termination. state is
// reported as given rather than read from the tuner: on an actuator
// abort the session fails without the tuner itself reaching a terminal
// state.
func (r *Runner) emitLocked(state State, now time.Time) {
	if r.telemetry == nil {
		return
	}
	progress := r.tuner.Progress()
	switch state {
	case StateSucceeded:
		progress = 100
	case StateOff, StateFailed:
		progress = 0
	}
	if r.emitted && math.Abs(progress-r.lastProgress) < progressDelta && !state.Terminal() {
		return
	}
	elapsed := now.Sub(r.started).Seconds()
	if err := r.telemetry.RecordTuning(r.id, progress, int(state), elapsed); err != nil {
		monitoring.Logf("autotune %s: telemetry write failed: %v", r.id, err)
		return
	}
	r.lastProgress = progress
	r.emitted = true
}

// finishLocked runs termination handling: force the actuator off, emit
// final telemetry, and hand the result to the completion callback on a
// separate goroutine so the callback can never re-enter the tick that
// triggered it.
func (r *Runner) finishLocked(state State, now time.Time) {
	if r.done {
		return
	}
	r.done = true

	if err := r.actuator.Off(); err != nil {
		monitoring.Logf("autotune %s: completion: actuator off failed: %v", r.id, err)
	}
	r.emitLocked(state, now)

	result := Result{
		ID:        r.id,
		State:     state,
		Rule:      r.cfg.Rule,
		Ku:        r.tuner.UltimateGain(),
		Pu:        r.tuner.UltimatePeriod(),
		Amplitude: r.tuner.InducedAmplitude(),
		Peaks:     r.tuner.PeakCount(),
		Cycles:    r.tuner.CycleCount(),
		Elapsed:   now.Sub(r.started),
	}
	if state == StateSucceeded {
		result.Gains = make(map[string]Gains, len(tuningRules))
		for _, rule := range Rules() {
			result.Gains[rule] = r.tuner.Gains(rule)
		}
		monitoring.Logf("autotune %s: SUCCEEDED after %d cycles: Ku=%.4f Pu=%v amplitude=%.4f (headline rule %s)",
			r.id, result.Cycles, result.Ku, result.Pu, result.Amplitude, result.Rule)
		for _, rule := range Rules() {
			g := result.Gains[rule]
			monitoring.Logf("autotune %s: %-16s Kp=%8.4f Ki=%8.4f Kd=%8.4f", r.id, rule, g.Kp, g.Ki, g.Kd)
		}
	} else {
		monitoring.Logf("autotune %s: FAILED after %d cycles (%d peaks); "+
			"output may be too weak, the setpoint unreachable, or the noise band undersized",
			r.id, result.Cycles, result.Peaks)
	}

	if cb := r.onComplete; cb != nil {
		go cb(result)
	}
}
