package varta

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cepro/gpio2mqtt/modbus"
	"github.com/cepro/gpio2mqtt/telemetry"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport serves input registers from an in-memory table and counts the reads that were issued.
type fakeTransport struct {
	mu        sync.Mutex
	registers map[uint16]uint16
	reads     []uint16 // start address of every read
	readErr   error
}

func (f *fakeTransport) Open() error  { return nil }
func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) ReadRegisters(addr, quantity uint16, regType modbus.RegisterType) ([]uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.reads = append(f.reads, addr)
	if f.readErr != nil {
		return nil, f.readErr
	}
	vals := make([]uint16, quantity)
	for i := range vals {
		vals[i] = f.registers[addr+uint16(i)]
	}
	return vals, nil
}

func (f *fakeTransport) numReads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reads)
}

func newTestClient(transport *fakeTransport) (*Client, clockwork.FakeClock) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	modbusClient := modbus.NewClientWithTransport("test", func() (modbus.Transport, error) { return transport, nil })
	return NewWithModbusClient("gpio2mqtt/battery/state", modbusClient, clock), clock
}

func TestMeasure(t *testing.T) {

	transport := &fakeTransport{
		registers: map[uint16]uint16{
			1065: 2,      // charging
			1066: 0xFFFB, // -5W active
			1067: 5,      // 5VA apparent
			1068: 42,     // %
			1069: 0x1234, // energy low word
			1070: 0x0001, // energy high word
			1078: 0,      // no grid flow
		},
	}
	client, clock := newTestClient(transport)

	measurement, err := client.Measure()
	require.NoError(t, err)

	assert.Equal(t, "gpio2mqtt/battery/state", measurement.DeviceID)
	assert.Equal(t, clock.Now(), measurement.Time)
	assert.Equal(t, telemetry.StateCharging, measurement.State)
	assert.Equal(t, uint16(42), measurement.StateOfCharge)
	assert.Equal(t, uint32(0x00011234), measurement.TotalChargeEnergy)
	assert.Equal(t, &telemetry.BatteryPower{Direction: telemetry.Discharge, Magnitude: 5}, measurement.ActiveBatteryPower)
	assert.Equal(t, &telemetry.BatteryPower{Direction: telemetry.Charge, Magnitude: 5}, measurement.ApparentBatteryPower)
	assert.Nil(t, measurement.GridPower)

	// one read for the contiguous block and one for the outlying grid power register
	assert.ElementsMatch(t, []uint16{1065, 1078}, transport.reads)
}

func TestMeasureUnknownState(t *testing.T) {
	transport := &fakeTransport{registers: map[uint16]uint16{1065: 8}}
	client, _ := newTestClient(transport)

	_, err := client.Measure()
	assert.ErrorIs(t, err, ErrDecode)
	assert.ErrorIs(t, err, telemetry.ErrUnknownState)
}

func TestMeasureTransportError(t *testing.T) {
	transport := &fakeTransport{readErr: errors.New("i/o timeout")}
	client, _ := newTestClient(transport)

	_, err := client.Measure()
	assert.ErrorIs(t, err, ErrTransport)
	assert.False(t, errors.Is(err, ErrDecode))
}

func TestDecodePower(t *testing.T) {

	tests := []struct {
		name            string
		val             int16
		expectedBattery *telemetry.BatteryPower
		expectedGrid    *telemetry.GridPower
	}{
		{
			name:            "Negative",
			val:             -5,
			expectedBattery: &telemetry.BatteryPower{Direction: telemetry.Discharge, Magnitude: 5},
			expectedGrid:    &telemetry.GridPower{Direction: telemetry.Consumption, Watts: 5},
		},
		{
			name:            "Positive",
			val:             5,
			expectedBattery: &telemetry.BatteryPower{Direction: telemetry.Charge, Magnitude: 5},
			expectedGrid:    &telemetry.GridPower{Direction: telemetry.Backfeed, Watts: 5},
		},
		{
			name:            "Zero is no flow",
			val:             0,
			expectedBattery: nil,
			expectedGrid:    nil,
		},
		{
			name:            "Most negative",
			val:             -32768,
			expectedBattery: &telemetry.BatteryPower{Direction: telemetry.Discharge, Magnitude: 32768},
			expectedGrid:    &telemetry.GridPower{Direction: telemetry.Consumption, Watts: 32768},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expectedBattery, DecodeBatteryPower(tt.val))
			assert.Equal(t, tt.expectedGrid, DecodeGridPower(tt.val))
		})
	}
}

func TestSpecificationsAreCached(t *testing.T) {

	registers := map[uint16]uint16{
		1051: 3,    // table version
		1064: 4,    // battery modules
		1071: 6500, // capacity
	}
	registers[1000] = 'V'<<8 | '1'
	registers[1054] = '1'<<8 | '2'
	transport := &fakeTransport{registers: registers}
	client, _ := newTestClient(transport)

	specs, err := client.Specifications()
	require.NoError(t, err)
	readsAfterFirstCall := transport.numReads()

	again, err := client.Specifications()
	require.NoError(t, err)

	// the second call is served from memory
	assert.Equal(t, readsAfterFirstCall, transport.numReads())
	assert.Equal(t, 2, readsAfterFirstCall)
	assert.Equal(t, specs, again)

	assert.Equal(t, uint16(3), specs.TableVersion)
	assert.Equal(t, uint16(4), specs.InstalledBatteryModules)
	assert.Equal(t, uint32(6500), specs.InstalledBatteryCapacity)
	assert.Equal(t, uint16('V'<<8|'1'), specs.SoftwareVersionEMS[0])
	assert.Equal(t, uint16('1'<<8|'2'), specs.SerialNumber[0])
}

func TestSpecificationsRetriedAfterFailure(t *testing.T) {
	transport := &fakeTransport{readErr: errors.New("connection refused")}
	client, _ := newTestClient(transport)

	_, err := client.Specifications()
	assert.ErrorIs(t, err, ErrTransport)

	transport.mu.Lock()
	transport.readErr = nil
	transport.mu.Unlock()

	_, err = client.Specifications()
	assert.NoError(t, err)
}

func TestSpecificationsConcurrentCallers(t *testing.T) {
	transport := &fakeTransport{registers: map[uint16]uint16{}}
	client, _ := newTestClient(transport)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Specifications()
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, transport.numReads())
}

func TestEmulated(t *testing.T) {
	clock := clockwork.NewFakeClock()
	client := NewEmulated("gpio2mqtt/emulated/state", clock)

	first, err := client.Measure()
	require.NoError(t, err)
	second, err := client.Measure()
	require.NoError(t, err)

	assert.Equal(t, telemetry.StateCharging, first.State)
	assert.Equal(t, uint16(51), first.StateOfCharge)
	assert.Equal(t, uint32(200), second.TotalChargeEnergy)
	assert.Equal(t, &telemetry.BatteryPower{Direction: telemetry.Charge, Magnitude: 1200}, first.ActiveBatteryPower)
	assert.Equal(t, &telemetry.GridPower{Direction: telemetry.Consumption, Watts: 1500}, first.GridPower)
	assert.Equal(t, "gpio2mqtt/emulated/state", first.DeviceID)
	assert.NotEqual(t, first.ID, second.ID)

	specs, err := client.Specifications()
	require.NoError(t, err)
	assert.Equal(t, uint16('E'<<8|'M'), specs.SoftwareVersionEMS[0])
	assert.Equal(t, uint32(6500), specs.InstalledBatteryCapacity)
	assert.Equal(t, uint16(2), specs.InstalledBatteryModules)
}
