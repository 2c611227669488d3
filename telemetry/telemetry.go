package telemetry

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrUnknownState is returned when a state register holds a value outside of the known operating states.
var ErrUnknownState = errors.New("unknown operating state")

// ReadingMeta holds the metadata common to every reading
type ReadingMeta struct {
	ID       uuid.UUID
	DeviceID string // the routing key of the device that produced the reading
	Time     time.Time
}

// NewReadingMeta returns metadata for a new reading taken from the given device at time `t`.
func NewReadingMeta(deviceID string, t time.Time) ReadingMeta {
	return ReadingMeta{
		ID:       uuid.New(),
		DeviceID: deviceID,
		Time:     t,
	}
}

// State is the operating state reported by the battery inverter.
type State uint16

const (
	StateBusy State = iota
	StateReady
	StateCharging
	StateDischarging
	StateStandby
	StateError
	StatePassive
	StateIsLanding
)

var stateNames = [...]string{
	StateBusy:        "busy",
	StateReady:       "ready",
	StateCharging:    "charging",
	StateDischarging: "discharging",
	StateStandby:     "standby",
	StateError:       "error",
	StatePassive:     "passive",
	StateIsLanding:   "is_landing",
}

// StateFromRegister maps the raw register value onto a State.
func StateFromRegister(val uint16) (State, error) {
	if int(val) >= len(stateNames) {
		return 0, fmt.Errorf("%w: %d", ErrUnknownState, val)
	}
	return State(val), nil
}

func (s State) String() string {
	if int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", uint16(s))
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	if int(s) >= len(stateNames) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownState, uint16(s))
	}
	return []byte(stateNames[s]), nil
}

// BatteryDirection tags the direction of power flowing through the battery.
type BatteryDirection uint8

const (
	Charge BatteryDirection = iota
	Discharge
)

// BatteryPower is a non-zero battery power flow, the magnitude is in W for active power and VA for apparent power.
type BatteryPower struct {
	Direction BatteryDirection
	Magnitude uint16
}

// Signed returns the power as a signed number, positive when charging.
func (b BatteryPower) Signed() int32 {
	if b.Direction == Discharge {
		return -int32(b.Magnitude)
	}
	return int32(b.Magnitude)
}

// GridDirection tags the direction of power flowing through the grid connection.
type GridDirection uint8

const (
	Backfeed GridDirection = iota
	Consumption
)

// GridPower is a non-zero power flow at the grid connection in W.
type GridPower struct {
	Direction GridDirection
	Watts     uint16
}

// Signed returns the power as a signed number, positive when feeding back into the grid.
func (g GridPower) Signed() int32 {
	if g.Direction == Consumption {
		return -int32(g.Watts)
	}
	return int32(g.Watts)
}

// Measurement holds the data pulled from a battery inverter in one polling cycle.
// A nil power field means that there is no flow, rather than that the value is unknown.
type Measurement struct {
	ReadingMeta
	State                State
	StateOfCharge        uint16 // percentage, 0-100
	TotalChargeEnergy    uint32 // Wh
	ActiveBatteryPower   *BatteryPower
	ApparentBatteryPower *BatteryPower
	GridPower            *GridPower
}

// Fallback returns a copy of the measurement with the volatile power flows cleared. State, state of charge and
// the energy counter are carried forward.
func (m Measurement) Fallback(meta ReadingMeta) Measurement {
	m.ReadingMeta = meta
	m.ActiveBatteryPower = nil
	m.ApparentBatteryPower = nil
	m.GridPower = nil
	return m
}

// DeviceSpecifications holds the static data of a battery inverter. The register arrays are kept verbatim.
type DeviceSpecifications struct {
	SoftwareVersionEMS       [17]uint16
	SoftwareVersionENS       [17]uint16
	SoftwareVersionInverter  [17]uint16
	TableVersion             uint16
	SerialNumber             [10]uint16
	InstalledBatteryModules  uint16
	InstalledBatteryCapacity uint32 // Wh
}
