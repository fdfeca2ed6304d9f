// Package config loads the daemon configuration from a JSON file.
//
// All fields are pointer-typed and optional: fields omitted from the file
// fall back to the defaults baked into the Get* methods, so partial
// configs are safe. The same schema is served back by the HTTP API.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the root configuration: the tuning session parameters, the
// device wiring, and the service surface.
type Config struct {
	// Tuning session params
	Setpoint     *float64 `json:"setpoint,omitempty"`
	SamplePeriod *string  `json:"sample_period,omitempty"` // duration string like "5s"
	OutputStep   *float64 `json:"output_step,omitempty"`
	NoiseBand    *float64 `json:"noise_band,omitempty"`
	OutputMin    *float64 `json:"output_min,omitempty"`
	OutputMax    *float64 `json:"output_max,omitempty"`
	Lookback     *string  `json:"lookback,omitempty"` // duration string like "60s"
	Tolerance    *float64 `json:"tolerance,omitempty"`
	Direction    *string  `json:"direction,omitempty"`   // "raise" or "lower"
	OutputMode   *string  `json:"output_mode,omitempty"` // "on_off" or "continuous"
	Preflight    *bool    `json:"preflight,omitempty"`
	MaxCycles    *int     `json:"max_cycles,omitempty"`
	TuningRule   *string  `json:"tuning_rule,omitempty"`

	// Device params
	ModbusPort    *string  `json:"modbus_port,omitempty"`
	ModbusBaud    *int     `json:"modbus_baud,omitempty"`
	ProbeSlaveID  *int     `json:"probe_slave_id,omitempty"`
	ProbeKind     *string  `json:"probe_kind,omitempty"` // "do" or "ph"
	RelaySlaveID  *int     `json:"relay_slave_id,omitempty"`
	RelayCoil     *int     `json:"relay_coil,omitempty"`
	AlicatPort    *string  `json:"alicat_port,omitempty"`
	AlicatUnit    *string  `json:"alicat_unit,omitempty"`   // single letter "A".."Z"
	ActuatorKind  *string  `json:"actuator_kind,omitempty"` // "relay" or "mfc"
	ActuatorLimit *float64 `json:"actuator_limit,omitempty"`

	// Service params
	DBPath     *string `json:"db_path,omitempty"`
	ListenAddr *string `json:"listen_addr,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// Empty returns a Config with all fields unset, resolving everything
// through defaults.
func Empty() *Config {
	return &Config{}
}

// Load reads a Config from a JSON file. The file must have a .json
// extension and stay under the max file size.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that every field that was set carries a usable value.
// Cross-field and range checks on the resolved values happen again at
// session construction; this pass catches malformed files early.
func (c *Config) Validate() error {
	if c.SamplePeriod != nil && *c.SamplePeriod != "" {
		if _, err := time.ParseDuration(*c.SamplePeriod); err != nil {
			return fmt.Errorf("invalid sample_period %q: %w", *c.SamplePeriod, err)
		}
	}
	if c.Lookback != nil && *c.Lookback != "" {
		if _, err := time.ParseDuration(*c.Lookback); err != nil {
			return fmt.Errorf("invalid lookback %q: %w", *c.Lookback, err)
		}
	}
	if c.OutputStep != nil && *c.OutputStep <= 0 {
		return fmt.Errorf("output_step must be positive, got %f", *c.OutputStep)
	}
	if c.NoiseBand != nil && *c.NoiseBand <= 0 {
		return fmt.Errorf("noise_band must be positive, got %f", *c.NoiseBand)
	}
	if c.Tolerance != nil && *c.Tolerance <= 0 {
		return fmt.Errorf("tolerance must be positive, got %f", *c.Tolerance)
	}
	if c.OutputMin != nil && c.OutputMax != nil && *c.OutputMax < *c.OutputMin {
		return fmt.Errorf("output_max %f below output_min %f", *c.OutputMax, *c.OutputMin)
	}
	if c.Direction != nil {
		if d := *c.Direction; d != "raise" && d != "lower" {
			return fmt.Errorf("direction must be \"raise\" or \"lower\", got %q", d)
		}
	}
	if c.OutputMode != nil {
		if m := *c.OutputMode; m != "on_off" && m != "continuous" {
			return fmt.Errorf("output_mode must be \"on_off\" or \"continuous\", got %q", m)
		}
	}
	if c.MaxCycles != nil && *c.MaxCycles < 1 {
		return fmt.Errorf("max_cycles must be at least 1, got %d", *c.MaxCycles)
	}
	if c.ModbusBaud != nil && *c.ModbusBaud <= 0 {
		return fmt.Errorf("modbus_baud must be positive, got %d", *c.ModbusBaud)
	}
	if c.ProbeSlaveID != nil && (*c.ProbeSlaveID < 1 || *c.ProbeSlaveID > 247) {
		return fmt.Errorf("probe_slave_id must be in 1..247, got %d", *c.ProbeSlaveID)
	}
	if c.RelaySlaveID != nil && (*c.RelaySlaveID < 1 || *c.RelaySlaveID > 247) {
		return fmt.Errorf("relay_slave_id must be in 1..247, got %d", *c.RelaySlaveID)
	}
	if c.ProbeKind != nil {
		if k := *c.ProbeKind; k != "do" && k != "ph" {
			return fmt.Errorf("probe_kind must be \"do\" or \"ph\", got %q", k)
		}
	}
	if c.ActuatorKind != nil {
		if k := *c.ActuatorKind; k != "relay" && k != "mfc" {
			return fmt.Errorf("actuator_kind must be \"relay\" or \"mfc\", got %q", k)
		}
	}
	if c.AlicatUnit != nil {
		u := *c.AlicatUnit
		if len(u) != 1 || u[0] < 'A' || u[0] > 'Z' {
			return fmt.Errorf("alicat_unit must be a single letter A-Z, got %q", u)
		}
	}
	return nil
}

// GetSetpoint returns the setpoint value or the default.
func (c *Config) GetSetpoint() float64 {
	if c.Setpoint == nil {
		return 50
	}
	return *c.Setpoint
}

// GetSamplePeriod parses and returns the sample period as a time.Duration.
func (c *Config) GetSamplePeriod() time.Duration {
	if c.SamplePeriod == nil || *c.SamplePeriod == "" {
		return 5 * time.Second
	}
	d, err := time.ParseDuration(*c.SamplePeriod)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// GetOutputStep returns the output_step value or the default.
func (c *Config) GetOutputStep() float64 {
	if c.OutputStep == nil {
		return 10
	}
	return *c.OutputStep
}

// GetNoiseBand returns the noise_band value or the default.
func (c *Config) GetNoiseBand() float64 {
	if c.NoiseBand == nil {
		return 0.5
	}
	return *c.NoiseBand
}

// GetOutputMin returns the output_min value or the default.
func (c *Config) GetOutputMin() float64 {
	if c.OutputMin == nil {
		return 0
	}
	return *c.OutputMin
}

// GetOutputMax returns the output_max value or the default.
func (c *Config) GetOutputMax() float64 {
	if c.OutputMax == nil {
		return 100
	}
	return *c.OutputMax
}

// GetLookback parses and returns the lookback window as a time.Duration.
func (c *Config) GetLookback() time.Duration {
	if c.Lookback == nil || *c.Lookback == "" {
		return 60 * time.Second
	}
	d, err := time.ParseDuration(*c.Lookback)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// GetTolerance returns the convergence tolerance or the default.
func (c *Config) GetTolerance() float64 {
	if c.Tolerance == nil {
		return 0.1
	}
	return *c.Tolerance
}

// GetDirection returns the control direction string or the default.
func (c *Config) GetDirection() string {
	if c.Direction == nil {
		return "raise"
	}
	return *c.Direction
}

// GetOutputMode returns the output mode string or the default.
func (c *Config) GetOutputMode() string {
	if c.OutputMode == nil {
		return "on_off"
	}
	return *c.OutputMode
}

// GetPreflight returns the pre-flight flag or the default.
func (c *Config) GetPreflight() bool {
	if c.Preflight == nil {
		return true
	}
	return *c.Preflight
}

// GetMaxCycles returns the max_cycles value or the default.
func (c *Config) GetMaxCycles() int {
	if c.MaxCycles == nil {
		return 20
	}
	return *c.MaxCycles
}

// GetTuningRule returns the headline tuning rule name or the default.
func (c *Config) GetTuningRule() string {
	if c.TuningRule == nil {
		return "ziegler-nichols"
	}
	return *c.TuningRule
}

// GetModbusPort returns the RTU bus device path or the default.
func (c *Config) GetModbusPort() string {
	if c.ModbusPort == nil {
		return "/dev/ttyUSB0"
	}
	return *c.ModbusPort
}

// GetModbusBaud returns the RTU baud rate or the default.
func (c *Config) GetModbusBaud() int {
	if c.ModbusBaud == nil {
		return 19200
	}
	return *c.ModbusBaud
}

// GetProbeSlaveID returns the probe's modbus slave ID or the default.
func (c *Config) GetProbeSlaveID() int {
	if c.ProbeSlaveID == nil {
		return 1
	}
	return *c.ProbeSlaveID
}

// GetProbeKind returns the probe kind or the default.
func (c *Config) GetProbeKind() string {
	if c.ProbeKind == nil {
		return "do"
	}
	return *c.ProbeKind
}

// GetRelaySlaveID returns the relay module's modbus slave ID or the default.
func (c *Config) GetRelaySlaveID() int {
	if c.RelaySlaveID == nil {
		return 2
	}
	return *c.RelaySlaveID
}

// GetRelayCoil returns the relay coil address or the default.
func (c *Config) GetRelayCoil() int {
	if c.RelayCoil == nil {
		return 0
	}
	return *c.RelayCoil
}

// GetAlicatPort returns the MFC serial device path or the default.
func (c *Config) GetAlicatPort() string {
	if c.AlicatPort == nil {
		return "/dev/ttyUSB1"
	}
	return *c.AlicatPort
}

// GetAlicatUnit returns the MFC unit letter or the default.
func (c *Config) GetAlicatUnit() byte {
	if c.AlicatUnit == nil || len(*c.AlicatUnit) != 1 {
		return 'A'
	}
	return (*c.AlicatUnit)[0]
}

// GetActuatorKind returns the actuator kind or the default.
func (c *Config) GetActuatorKind() string {
	if c.ActuatorKind == nil {
		return "relay"
	}
	return *c.ActuatorKind
}

// GetActuatorLimit returns the maximum actuator command or the default.
func (c *Config) GetActuatorLimit() float64 {
	if c.ActuatorLimit == nil {
		return 100
	}
	return *c.ActuatorLimit
}

// GetDBPath returns the telemetry database path or the default.
func (c *Config) GetDBPath() string {
	if c.DBPath == nil {
		return "autotune.db"
	}
	return *c.DBPath
}

// GetListenAddr returns the HTTP listen address or the default.
func (c *Config) GetListenAddr() string {
	if c.ListenAddr == nil {
		return ":8080"
	}
	return *c.ListenAddr
}
