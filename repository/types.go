package repository

import (
	"time"

	"github.com/cepro/gpio2mqtt/telemetry"
)

// StoredMeasurement represents an inverter measurement that is persisted to the SQLite database, and includes a
// count of upload attempts. Power flows are stored signed and are nil when there was no flow.
type StoredMeasurement struct {
	ID                   string `gorm:"primaryKey"`
	DeviceID             string
	Time                 time.Time `gorm:"index"`
	State                string
	StateOfCharge        uint16
	TotalChargeEnergy    uint32
	ActiveBatteryPower   *int32
	ApparentBatteryPower *int32
	GridPower            *int32
	UploadAttemptCount   uint
}

func newStoredMeasurement(m telemetry.Measurement) StoredMeasurement {
	stored := StoredMeasurement{
		ID:                 m.ID.String(),
		DeviceID:           m.DeviceID,
		Time:               m.Time,
		State:              m.State.String(),
		StateOfCharge:      m.StateOfCharge,
		TotalChargeEnergy:  m.TotalChargeEnergy,
		UploadAttemptCount: 0,
	}
	if p := m.ActiveBatteryPower; p != nil {
		signed := p.Signed()
		stored.ActiveBatteryPower = &signed
	}
	if p := m.ApparentBatteryPower; p != nil {
		signed := p.Signed()
		stored.ApparentBatteryPower = &signed
	}
	if g := m.GridPower; g != nil {
		signed := g.Signed()
		stored.GridPower = &signed
	}
	return stored
}
