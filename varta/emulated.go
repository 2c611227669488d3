package varta

import (
	"fmt"
	"sync"

	"github.com/cepro/gpio2mqtt/modbus"
	"github.com/cepro/gpio2mqtt/telemetry"
	"github.com/jonboulle/clockwork"
)

// NewEmulated returns a Client backed by an in-memory register bank instead of a real inverter. It's used when a
// device is configured as emulated, and exercises the same decode path as the real hardware.
func NewEmulated(id string, clock clockwork.Clock) *Client {
	transport := newEmulatedTransport()
	client := modbus.NewClientWithTransport("emulated", func() (modbus.Transport, error) {
		return transport, nil
	})
	return NewWithModbusClient(id, client, clock)
}

// emulatedTransport serves input registers laid out like a Varta element. Every read of the measurement block
// advances the simulated battery: it charges until full, reports ready once, then drops back to 20%.
type emulatedTransport struct {
	mu        sync.Mutex
	registers map[uint16]uint16
	soc       uint16
	energy    uint32
}

func newEmulatedTransport() *emulatedTransport {
	t := &emulatedTransport{
		registers: make(map[uint16]uint16),
		soc:       50,
	}
	t.store(1000, asciiRegisters("EMS-EMULATED"))
	t.store(1017, asciiRegisters("ENS-EMULATED"))
	t.store(1034, asciiRegisters("INV-EMULATED"))
	t.store(1054, asciiRegisters("0000000001"))
	t.registers[1051] = 1    // table version
	t.registers[1064] = 2    // battery modules
	t.registers[1071] = 6500 // capacity Wh
	return t
}

func (t *emulatedTransport) Open() error {
	return nil
}

func (t *emulatedTransport) Close() error {
	return nil
}

func (t *emulatedTransport) ReadRegisters(addr, quantity uint16, regType modbus.RegisterType) ([]uint16, error) {
	if regType != modbus.InputRegister {
		return nil, fmt.Errorf("emulated device has no %s registers", regType)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if addr == measurementBlocks[0].StartAddr {
		t.step()
	}

	vals := make([]uint16, quantity)
	for i := range vals {
		vals[i] = t.registers[addr+uint16(i)]
	}
	return vals, nil
}

func (t *emulatedTransport) step() {
	state := telemetry.StateReady
	var active, apparent, grid int16

	if t.soc < 100 {
		t.soc++
		t.energy += 100
		state = telemetry.StateCharging
		active = 1200
		apparent = 1250
		grid = -1500 // consumption
	} else {
		t.soc = 20
	}

	t.registers[1065] = uint16(state)
	t.registers[1066] = uint16(active)
	t.registers[1067] = uint16(apparent)
	t.registers[1068] = t.soc
	t.store(1069, modbus.EncodeUint32LowWordFirst(t.energy))
	t.registers[1078] = uint16(grid)
}

func (t *emulatedTransport) store(addr uint16, vals []uint16) {
	for i, val := range vals {
		t.registers[addr+uint16(i)] = val
	}
}

// asciiRegisters packs a string two characters per register, high byte first
func asciiRegisters(str string) []uint16 {
	registers := make([]uint16, (len(str)+1)/2)
	for i := 0; i < len(str); i++ {
		if i%2 == 0 {
			registers[i/2] |= uint16(str[i]) << 8
		} else {
			registers[i/2] |= uint16(str[i])
		}
	}
	return registers
}
