package dataplatform

import (
	"time"

	"github.com/cepro/gpio2mqtt/repository"
)

// supabaseMeasurement holds the json encoding schema for an inverter measurement in supabase.
type supabaseMeasurement struct {
	ID                   string    `json:"id"`
	Time                 time.Time `json:"time"`
	DeviceID             string    `json:"device_id"`
	State                string    `json:"state"`
	StateOfCharge        uint16    `json:"state_of_charge"`
	TotalChargeEnergy    uint32    `json:"total_charge_energy"`
	ActiveBatteryPower   *int32    `json:"active_battery_power"`
	ApparentBatteryPower *int32    `json:"apparent_battery_power"`
	GridPower            *int32    `json:"grid_power"`
}

func convertMeasurements(measurements []repository.StoredMeasurement) []supabaseMeasurement {
	supabaseMeasurements := make([]supabaseMeasurement, 0, len(measurements))
	for _, m := range measurements {
		supabaseMeasurements = append(supabaseMeasurements, supabaseMeasurement{
			ID:                   m.ID,
			Time:                 m.Time,
			DeviceID:             m.DeviceID,
			State:                m.State,
			StateOfCharge:        m.StateOfCharge,
			TotalChargeEnergy:    m.TotalChargeEnergy,
			ActiveBatteryPower:   m.ActiveBatteryPower,
			ApparentBatteryPower: m.ApparentBatteryPower,
			GridPower:            m.GridPower,
		})
	}
	return supabaseMeasurements
}
