package control

import (
	"math"
	"testing"
	"time"

	"github.com/banshee-data/autotune/internal/autotune"
)

func pidConfig() PIDConfig {
	return PIDConfig{
		Setpoint:      10,
		Kp:            2,
		Ki:            1,
		Kd:            0,
		IntegratorMin: -50,
		IntegratorMax: 50,
		OutputMin:     0,
		OutputMax:     100,
	}
}

func TestPIDFirstUpdateIsProportionalOnly(t *testing.T) {
	pid, err := NewPID(pidConfig())
	if err != nil {
		t.Fatal(err)
	}
	out := pid.Update(6, time.Unix(0, 0))
	if out != 8 {
		t.Errorf("first output = %v, want Kp*err = 8", out)
	}
	p, i, d := pid.Terms()
	if p != 8 || i != 0 || d != 0 {
		t.Errorf("terms = %v %v %v, want 8 0 0", p, i, d)
	}
}

func TestPIDIntegralAccumulates(t *testing.T) {
	pid, _ := NewPID(pidConfig())
	t0 := time.Unix(0, 0)
	pid.Update(6, t0)

	out := pid.Update(6, t0.Add(time.Second))
	// err=4 held for 1s: P=8, I=4, D=0.
	if out != 12 {
		t.Errorf("output = %v, want 12", out)
	}

	out = pid.Update(8, t0.Add(2*time.Second))
	// err=2: P=4, integral 4+2=6 so I=6.
	if out != 10 {
		t.Errorf("output = %v, want 10", out)
	}
}

func TestPIDDerivativeOnMeasurement(t *testing.T) {
	cfg := pidConfig()
	cfg.Ki = 0
	cfg.Kd = 1
	pid, _ := NewPID(cfg)
	t0 := time.Unix(0, 0)
	pid.Update(6, t0)

	// Measurement rising at 0.5/s opposes the output: D = -0.5.
	out := pid.Update(7, t0.Add(2*time.Second))
	if math.Abs(out-5.5) > 1e-12 {
		t.Errorf("output = %v, want P(6) + D(-0.5) = 5.5", out)
	}
}

func TestPIDAntiWindupHoldsIntegral(t *testing.T) {
	cfg := pidConfig()
	cfg.OutputMax = 10
	pid, _ := NewPID(cfg)
	t0 := time.Unix(0, 0)

	pid.Update(0, t0) // err=10, P=20, clamped to 10
	pid.Update(0, t0.Add(time.Second))
	_, i, _ := pid.Terms()
	if i != 0 {
		t.Errorf("integral term = %v, want 0 while output saturated high", i)
	}
}

func TestPIDIntegratorClamp(t *testing.T) {
	cfg := pidConfig()
	cfg.IntegratorMax = 3
	pid, _ := NewPID(cfg)
	t0 := time.Unix(0, 0)
	pid.Update(6, t0)

	for s := 1; s <= 5; s++ {
		pid.Update(6, t0.Add(time.Duration(s)*time.Second))
	}
	_, i, _ := pid.Terms()
	if i != 3 {
		t.Errorf("integral term = %v, want clamped 3", i)
	}
}

func TestPIDDeadband(t *testing.T) {
	cfg := pidConfig()
	cfg.Band = 1
	pid, _ := NewPID(cfg)

	out := pid.Update(10.5, time.Unix(0, 0))
	if out != 0 {
		t.Errorf("output inside band = %v, want 0", out)
	}
	p, i, d := pid.Terms()
	if p != 0 || i != 0 || d != 0 {
		t.Errorf("terms inside band = %v %v %v, want zeros", p, i, d)
	}
}

func TestPIDDirectionLower(t *testing.T) {
	cfg := pidConfig()
	cfg.Direction = autotune.Lower
	pid, _ := NewPID(cfg)

	// Measurement above setpoint: a lowering actuator must push.
	out := pid.Update(12, time.Unix(0, 0))
	if out != 4 {
		t.Errorf("output = %v, want 4 for inverted error", out)
	}
}

func TestPIDZeroDtReturnsLastOutput(t *testing.T) {
	pid, _ := NewPID(pidConfig())
	t0 := time.Unix(0, 0)
	first := pid.Update(6, t0)
	if again := pid.Update(0, t0); again != first {
		t.Errorf("repeated timestamp changed output: %v -> %v", first, again)
	}
}

func TestPIDSetGains(t *testing.T) {
	pid, _ := NewPID(pidConfig())
	pid.SetGains(autotune.Gains{Kp: 1, Ki: 0, Kd: 0})
	out := pid.Update(6, time.Unix(0, 0))
	if out != 4 {
		t.Errorf("output after SetGains = %v, want 4", out)
	}
}

func TestPIDConfigValidate(t *testing.T) {
	bad := pidConfig()
	bad.OutputMin = 10
	bad.OutputMax = 0
	if _, err := NewPID(bad); err == nil {
		t.Error("NewPID accepted inverted output bounds")
	}

	bad = pidConfig()
	bad.IntegratorMin = 1
	bad.IntegratorMax = -1
	if _, err := NewPID(bad); err == nil {
		t.Error("NewPID accepted inverted integrator bounds")
	}

	bad = pidConfig()
	bad.Band = -1
	if _, err := NewPID(bad); err == nil {
		t.Error("NewPID accepted negative band")
	}
}
