package device

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/goburrow/modbus"
)

// RegisterClient is the subset of the Modbus client API the probe drivers
// need. modbus.Client satisfies it; tests provide fakes.
type RegisterClient interface {
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
}

// CoilClient is the subset of the Modbus client API the relay driver needs.
type CoilClient interface {
	WriteSingleCoil(address, value uint16) ([]byte, error)
}

// RTUOptions configures a Modbus RTU connection. The defaults match the
// probes deployed on the reactor bus (19200 8N2).
type RTUOptions struct {
	BaudRate int
	DataBits int
	Parity   string
	StopBits int
	Timeout  time.Duration
}

// DefaultRTUOptions returns the serial parameters used by the Hamilton and
// Alicat Modbus devices.
func DefaultRTUOptions() RTUOptions {
	return RTUOptions{
		BaudRate: 19200,
		DataBits: 8,
		Parity:   "N",
		StopBits: 2,
		Timeout:  time.Second,
	}
}

// OpenRTU opens a Modbus RTU connection to the given slave on a serial
// device path. The returned closer shuts down the underlying port.
func OpenRTU(path string, slaveID byte, opts RTUOptions) (modbus.Client, io.Closer, error) {
	handler := modbus.NewRTUClientHandler(path)
	handler.BaudRate = opts.BaudRate
	handler.DataBits = opts.DataBits
	handler.Parity = opts.Parity
	handler.StopBits = opts.StopBits
	handler.SlaveId = slaveID
	handler.Timeout = opts.Timeout

	if err := handler.Connect(); err != nil {
		return nil, nil, fmt.Errorf("open modbus rtu %s: %w", path, err)
	}
	return modbus.NewClient(handler), handler, nil
}

// register extracts the i-th 16-bit register from a Modbus response body.
func register(block []byte, i int) (uint16, error) {
	if len(block) < 2*(i+1) {
		return 0, fmt.Errorf("modbus response too short: %d bytes, need register %d", len(block), i)
	}
	return binary.BigEndian.Uint16(block[2*i:]), nil
}

// arcFloat decodes a measurement value from a Hamilton Arc register block.
// The value lives in registers 2 and 3 of the block, low word first.
func arcFloat(block []byte) (float64, error) {
	lo, err := register(block, 2)
	if err != nil {
		return 0, err
	}
	hi, err := register(block, 3)
	if err != nil {
		return 0, err
	}
	bits := uint32(hi)<<16 | uint32(lo)
	return float64(math.Float32frombits(bits)), nil
}
