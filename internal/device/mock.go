package device

import (
	"sync"
	"time"
)

// MockSource implements Source with a scripted or programmatic value.
// When Fn is set it computes the value from the supplied clock time;
// otherwise the value set via Set is returned.
type MockSource struct {
	mu sync.Mutex

	sample Sample
	err    error

	// Fn, when non-nil, generates the sample value for a given time.
	Fn func(t time.Time) float64

	// Now supplies timestamps for Fn-generated samples.
	Now func() time.Time

	// Reads counts Latest calls.
	Reads int
}

// Set installs a fixed sample to return.
func (m *MockSource) Set(value float64, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sample = Sample{Value: value, Time: t}
	m.err = nil
}

// Fail makes Latest return the given error until Set is called.
func (m *MockSource) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Latest returns the scripted sample.
func (m *MockSource) Latest() (Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Reads++
	if m.err != nil {
		return Sample{}, m.err
	}
	if m.Fn != nil {
		now := time.Now()
		if m.Now != nil {
			now = m.Now()
		}
		return Sample{Value: m.Fn(now), Time: now}, nil
	}
	return m.sample, nil
}

// MockActuator implements Actuator and records every command it receives.
type MockActuator struct {
	mu sync.Mutex

	// ApplyErr, when set, is returned by Apply.
	ApplyErr error

	applies []float64
	offs    int
}

// Apply records the commanded value.
func (m *MockActuator) Apply(value float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ApplyErr != nil {
		return m.ApplyErr
	}
	m.applies = append(m.applies, value)
	return nil
}

// Off records a deactivation.
func (m *MockActuator) Off() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offs++
	return nil
}

// Applies returns a copy of all recorded Apply values.
func (m *MockActuator) Applies() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]float64, len(m.applies))
	copy(out, m.applies)
	return out
}

// Offs returns the number of Off calls.
func (m *MockActuator) Offs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offs
}

// LastApply returns the most recent Apply value, or 0 if none.
func (m *MockActuator) LastApply() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.applies) == 0 {
		return 0
	}
	return m.applies[len(m.applies)-1]
}
