package varta

import "github.com/cepro/gpio2mqtt/modbus"

// The Varta element exposes everything of interest as input registers. The dynamic values are split over two
// address ranges (1065..1071 and 1078), so a measurement always takes two reads.
var measurementBlocks = []modbus.MetricBlock{
	{
		Name:         "Measurements",
		RegisterType: modbus.InputRegister,
		StartAddr:    1065,
		NumRegisters: 6,
		Metrics: map[string]modbus.Metric{
			"State": {
				StartAddr: 1065,
				DataType:  modbus.Uint16Type,
			},
			"ActivePower": {
				StartAddr: 1066,
				DataType:  modbus.Int16Type,
			},
			"ApparentPower": {
				StartAddr: 1067,
				DataType:  modbus.Int16Type,
			},
			"StateOfCharge": {
				StartAddr: 1068,
				DataType:  modbus.Uint16Type,
			},
			"TotalChargeEnergy": {
				StartAddr: 1069,
				DataType:  modbus.Uint32LowWordFirstType,
			},
		},
	},
	{
		Name:         "GridPower",
		RegisterType: modbus.InputRegister,
		StartAddr:    1078,
		NumRegisters: 1,
		Metrics: map[string]modbus.Metric{
			"GridPower": {
				StartAddr: 1078,
				DataType:  modbus.Int16Type,
			},
		},
	},
}

var specificationBlocks = []modbus.MetricBlock{
	{
		Name:         "Specifications",
		RegisterType: modbus.InputRegister,
		StartAddr:    1000,
		NumRegisters: 65,
		Metrics: map[string]modbus.Metric{
			"SoftwareVersionEMS": {
				StartAddr: 1000,
				DataType:  modbus.Uint16ArrayType(17),
			},
			"SoftwareVersionENS": {
				StartAddr: 1017,
				DataType:  modbus.Uint16ArrayType(17),
			},
			"SoftwareVersionInverter": {
				StartAddr: 1034,
				DataType:  modbus.Uint16ArrayType(17),
			},
			"TableVersion": {
				StartAddr: 1051,
				DataType:  modbus.Uint16Type,
			},
			// A timestamp is available at 1052, but it's not of interest
			"SerialNumber": {
				StartAddr: 1054,
				DataType:  modbus.Uint16ArrayType(10),
			},
			"InstalledBatteryModules": {
				StartAddr: 1064,
				DataType:  modbus.Uint16Type,
			},
		},
	},
	{
		Name:         "InstalledCapacity",
		RegisterType: modbus.InputRegister,
		StartAddr:    1071,
		NumRegisters: 1,
		Metrics: map[string]modbus.Metric{
			"InstalledBatteryCapacity": {
				StartAddr:   1071,
				DataType:    modbus.Uint16Type,
				ScalingFunc: widenCapacity,
			},
		},
	},
}

// widenCapacity converts the single register capacity into the Wh type used by telemetry.DeviceSpecifications
func widenCapacity(scaler modbus.Scaler, val interface{}) interface{} {
	return uint32(val.(uint16))
}
