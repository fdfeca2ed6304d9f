package device

import (
	"fmt"
	"time"

	"github.com/banshee-data/autotune/internal/timeutil"
)

// Hamilton Arc register map. The primary measurement channel (DO %, pH)
// starts at 2089 and the secondary channel (temperature) at 2409; each is
// read as a 10-register block.
const (
	arcPrimaryRegister   = 2089
	arcSecondaryRegister = 2409
	arcBlockLen          = 10
)

// ArcProbe reads a Hamilton Arc sensor (DO or pH variants share the same
// register layout) over Modbus RTU. Reads are retried a few times because
// the shared RS-485 bus occasionally drops a response.
type ArcProbe struct {
	name   string
	client RegisterClient
	clock  timeutil.Clock

	// Retries is the number of read attempts before giving up.
	Retries int
	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration
}

// NewArcProbe creates a probe driver. name is used in diagnostics only
// ("do", "ph").
func NewArcProbe(name string, client RegisterClient, clock timeutil.Clock) *ArcProbe {
	return &ArcProbe{
		name:       name,
		client:     client,
		clock:      clock,
		Retries:    3,
		RetryDelay: 100 * time.Millisecond,
	}
}

// Latest reads the primary measurement channel. It satisfies Source.
func (p *ArcProbe) Latest() (Sample, error) {
	v, err := p.readFloat(arcPrimaryRegister)
	if err != nil {
		return Sample{}, fmt.Errorf("%s probe: %w: %v", p.name, ErrUnavailable, err)
	}
	return Sample{Value: v, Time: p.clock.Now()}, nil
}

// Temperature reads the secondary (temperature) channel.
func (p *ArcProbe) Temperature() (float64, error) {
	return p.readFloat(arcSecondaryRegister)
}

func (p *ArcProbe) readFloat(start uint16) (float64, error) {
	var lastErr error
	attempts := p.Retries
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		if i > 0 {
			p.clock.Sleep(p.RetryDelay)
		}
		block, err := p.client.ReadHoldingRegisters(start, arcBlockLen)
		if err != nil {
			lastErr = err
			continue
		}
		v, err := arcFloat(block)
		if err != nil {
			lastErr = err
			continue
		}
		return v, nil
	}
	return 0, lastErr
}
