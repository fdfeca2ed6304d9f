package device

import (
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/autotune/internal/monitoring"
	"github.com/banshee-data/autotune/internal/timeutil"
)

const (
	coilOn  = 0xFF00
	coilOff = 0x0000
)

// Relay drives a Modbus coil relay with seconds-on semantics: Apply(v)
// energises the coil and schedules a deactivation v seconds later. Apply
// with a zero or negative value, or Off, deactivates immediately.
//
// This matches the discrete output mode of the tuning loop, where the
// commanded value is "seconds active this period".
type Relay struct {
	mu      sync.Mutex
	client  CoilClient
	coil    uint16
	clock   timeutil.Clock
	pending *pendingOff
}

// pendingOff is one scheduled deactivation. cancel releases the goroutine
// waiting on the timer, since a stopped timer never delivers on its
// channel.
type pendingOff struct {
	timer  timeutil.Timer
	cancel chan struct{}
}

// NewRelay creates a relay driver for the given coil address.
func NewRelay(client CoilClient, coil uint16, clock timeutil.Clock) *Relay {
	return &Relay{
		client: client,
		coil:   coil,
		clock:  clock,
	}
}

// Apply energises the relay for value seconds. Non-positive values
// deactivate it.
func (r *Relay) Apply(value float64) error {
	if value <= 0 {
		return r.Off()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.cancelPendingLocked()
	if _, err := r.client.WriteSingleCoil(r.coil, coilOn); err != nil {
		return fmt.Errorf("relay coil %d on: %w", r.coil, err)
	}

	pending := &pendingOff{
		timer:  r.clock.NewTimer(time.Duration(value * float64(time.Second))),
		cancel: make(chan struct{}),
	}
	r.pending = pending
	go func() {
		select {
		case <-pending.timer.C():
			if err := r.Off(); err != nil {
				monitoring.Logf("relay coil %d: scheduled deactivation failed: %v", r.coil, err)
			}
		case <-pending.cancel:
		}
	}()
	return nil
}

// Off deactivates the relay and cancels any scheduled deactivation.
func (r *Relay) Off() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cancelPendingLocked()
	if _, err := r.client.WriteSingleCoil(r.coil, coilOff); err != nil {
		return fmt.Errorf("relay coil %d off: %w", r.coil, err)
	}
	return nil
}

func (r *Relay) cancelPendingLocked() {
	if r.pending != nil {
		r.pending.timer.Stop()
		close(r.pending.cancel)
		r.pending = nil
	}
}
