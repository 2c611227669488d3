package varta

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cepro/gpio2mqtt/modbus"
	"github.com/cepro/gpio2mqtt/telemetry"
	"github.com/jonboulle/clockwork"
	"github.com/mitchellh/mapstructure"
)

var (
	// ErrTransport wraps failures to talk to the device
	ErrTransport = errors.New("modbus transport")
	// ErrDecode wraps register values that could not be interpreted
	ErrDecode = errors.New("decode registers")
)

// Client handles Modbus communications with a Varta element battery inverter.
type Client struct {
	id     string // routing key used to tag readings
	client *modbus.Client
	clock  clockwork.Clock
	logger *slog.Logger

	specsMu sync.Mutex
	specs   *telemetry.DeviceSpecifications // cached after the first successful read
}

// rawMeasurement holds the register values of a measurement before they are interpreted.
type rawMeasurement struct {
	State             uint16
	ActivePower       int16
	ApparentPower     int16
	StateOfCharge     uint16
	TotalChargeEnergy uint32
	GridPower         int16
}

// rawSpecifications holds the register values of the device specifications before they are copied into fixed arrays.
type rawSpecifications struct {
	SoftwareVersionEMS       []uint16
	SoftwareVersionENS       []uint16
	SoftwareVersionInverter  []uint16
	TableVersion             uint16
	SerialNumber             []uint16
	InstalledBatteryModules  uint16
	InstalledBatteryCapacity uint32
}

func New(id string, cfg modbus.Config) (*Client, error) {
	client, err := modbus.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create modbus client: %w", err)
	}
	return NewWithModbusClient(id, client, clockwork.NewRealClock()), nil
}

func NewWithModbusClient(id string, client *modbus.Client, clock clockwork.Clock) *Client {
	return &Client{
		id:     id,
		client: client,
		clock:  clock,
		logger: slog.Default().With("device_id", id),
	}
}

// Measure reads the dynamic registers of the inverter.
func (c *Client) Measure() (telemetry.Measurement, error) {

	metrics, err := c.client.PollBlocks(c, measurementBlocks)
	if err != nil {
		return telemetry.Measurement{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	t := c.clock.Now()

	var raw rawMeasurement
	err = mapstructure.Decode(metrics, &raw)
	if err != nil {
		return telemetry.Measurement{}, fmt.Errorf("%w: decode metric map: %w", ErrDecode, err)
	}

	state, err := telemetry.StateFromRegister(raw.State)
	if err != nil {
		return telemetry.Measurement{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	return telemetry.Measurement{
		ReadingMeta:          telemetry.NewReadingMeta(c.id, t),
		State:                state,
		StateOfCharge:        raw.StateOfCharge,
		TotalChargeEnergy:    raw.TotalChargeEnergy,
		ActiveBatteryPower:   DecodeBatteryPower(raw.ActivePower),
		ApparentBatteryPower: DecodeBatteryPower(raw.ApparentPower),
		GridPower:            DecodeGridPower(raw.GridPower),
	}, nil
}

// Specifications returns the static data of the inverter. It is read from the device on the first successful call
// and served from memory afterwards.
func (c *Client) Specifications() (telemetry.DeviceSpecifications, error) {
	c.specsMu.Lock()
	defer c.specsMu.Unlock()

	if c.specs != nil {
		return *c.specs, nil
	}

	metrics, err := c.client.PollBlocks(c, specificationBlocks)
	if err != nil {
		return telemetry.DeviceSpecifications{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	var raw rawSpecifications
	err = mapstructure.Decode(metrics, &raw)
	if err != nil {
		return telemetry.DeviceSpecifications{}, fmt.Errorf("%w: decode metric map: %w", ErrDecode, err)
	}

	specs := telemetry.DeviceSpecifications{
		TableVersion:             raw.TableVersion,
		InstalledBatteryModules:  raw.InstalledBatteryModules,
		InstalledBatteryCapacity: raw.InstalledBatteryCapacity,
	}
	if err := copyRegisters(specs.SoftwareVersionEMS[:], raw.SoftwareVersionEMS); err != nil {
		return telemetry.DeviceSpecifications{}, fmt.Errorf("software version ems: %w", err)
	}
	if err := copyRegisters(specs.SoftwareVersionENS[:], raw.SoftwareVersionENS); err != nil {
		return telemetry.DeviceSpecifications{}, fmt.Errorf("software version ens: %w", err)
	}
	if err := copyRegisters(specs.SoftwareVersionInverter[:], raw.SoftwareVersionInverter); err != nil {
		return telemetry.DeviceSpecifications{}, fmt.Errorf("software version inverter: %w", err)
	}
	if err := copyRegisters(specs.SerialNumber[:], raw.SerialNumber); err != nil {
		return telemetry.DeviceSpecifications{}, fmt.Errorf("serial number: %w", err)
	}

	c.specs = &specs
	c.logger.Info("Retrieved device specifications", "table_version", specs.TableVersion, "battery_modules", specs.InstalledBatteryModules, "battery_capacity", specs.InstalledBatteryCapacity)

	return specs, nil
}

// Close drops the connection to the device.
func (c *Client) Close() error {
	return c.client.Close()
}

// DecodeBatteryPower interprets a signed register where negative values are discharging. Zero is no flow.
func DecodeBatteryPower(val int16) *telemetry.BatteryPower {
	switch {
	case val < 0:
		return &telemetry.BatteryPower{Direction: telemetry.Discharge, Magnitude: unsignedAbs(val)}
	case val > 0:
		return &telemetry.BatteryPower{Direction: telemetry.Charge, Magnitude: uint16(val)}
	default:
		return nil
	}
}

// DecodeGridPower interprets a signed register where negative values are consumption from the grid. Zero is no flow.
func DecodeGridPower(val int16) *telemetry.GridPower {
	switch {
	case val < 0:
		return &telemetry.GridPower{Direction: telemetry.Consumption, Watts: unsignedAbs(val)}
	case val > 0:
		return &telemetry.GridPower{Direction: telemetry.Backfeed, Watts: uint16(val)}
	default:
		return nil
	}
}

// unsignedAbs returns |val|, including for math.MinInt16 which has no positive int16 counterpart.
func unsignedAbs(val int16) uint16 {
	return uint16(-int32(val))
}

func copyRegisters(dst, src []uint16) error {
	if len(src) != len(dst) {
		return fmt.Errorf("%w: expected %d registers, got %d", ErrDecode, len(dst), len(src))
	}
	copy(dst, src)
	return nil
}
