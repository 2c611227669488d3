package modbus

import (
	"encoding/binary"
	"fmt"
)

// Type represents the different types of data that can be queried over modbus.
type Type struct {
	name          string                   // the name of the data type
	dataLength    uint16                   // the number of underlying bytes to represent the data type
	fromBytesFunc func([]byte) interface{} // function to convert the bytes to the concrete data type
}

func (t Type) String() string {
	return t.name
}

// NumRegisters returns how many 16 bit registers the type occupies.
func (t Type) NumRegisters() uint16 {
	return t.dataLength / 2
}

// Uint16Type represents the 16 bit unsigned integer data type on Modbus.
var Uint16Type = Type{
	name:       "uint16",
	dataLength: 2,
	fromBytesFunc: func(bytes []byte) interface{} {
		return binary.BigEndian.Uint16(bytes)
	},
}

// Int16Type represents the 16 bit signed integer data type on Modbus.
var Int16Type = Type{
	name:       "int16",
	dataLength: 2,
	fromBytesFunc: func(bytes []byte) interface{} {
		return int16(binary.BigEndian.Uint16(bytes))
	},
}

// Uint32LowWordFirstType represents a 32 bit unsigned counter spread over two registers, where the first register holds
// the low 16 bits and the second register holds the high 16 bits.
var Uint32LowWordFirstType = Type{
	name:       "uint32_low_word_first",
	dataLength: 4,
	fromBytesFunc: func(bytes []byte) interface{} {
		return DecodeUint32LowWordFirst(bytesToRegisters(bytes))
	},
}

// Uint16ArrayType represents `numRegisters` consecutive registers that are kept verbatim as a []uint16.
func Uint16ArrayType(numRegisters uint16) Type {
	return Type{
		name:       fmt.Sprintf("uint16[%d]", numRegisters),
		dataLength: numRegisters * 2,
		fromBytesFunc: func(bytes []byte) interface{} {
			return bytesToRegisters(bytes)
		},
	}
}

// DecodeUint32LowWordFirst combines two registers, low word first, into a 32 bit value.
func DecodeUint32LowWordFirst(registerVals []uint16) uint32 {
	return uint32(registerVals[0]) | (uint32(registerVals[1]) << 16)
}

// EncodeUint32LowWordFirst splits a 32 bit value into two registers, low word first.
func EncodeUint32LowWordFirst(val uint32) []uint16 {
	return []uint16{uint16(val & 0xFFFF), uint16(val >> 16)}
}

// Scaler can be any object used to help scale modbus values.
// For trivial scaling scenarios (e.g. 'divide by 1000') this is not really required, but for more complicated scaling
// scenarios it can be neccesary to retrieve state from the `scaler`.
type Scaler interface{}

// valueScalingFunc is a prototype for a function that scales a modbus value.
type valueScalingFunc func(Scaler, interface{}) interface{}

// Metric holds a value on the modbus slave at the given address
type Metric struct {
	StartAddr   uint16
	DataType    Type
	ScalingFunc valueScalingFunc // a function to scale the recieved value to get it's 'true' value (transmitting scaled values is common in Modbus)
}

// MetricBlock represents a contigous block of modbus registers that are read in one chunk.
type MetricBlock struct {
	Name         string            // name of the block used for context/logging
	RegisterType RegisterType      // which register table the block lives in
	StartAddr    uint16            // the first register address of the block
	NumRegisters uint16            // the number of registers in this block (each register is two bytes)
	Metrics      map[string]Metric // details of all the registers of interest in this block, keyed by unique name
}
