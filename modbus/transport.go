package modbus

import (
	"encoding/binary"
	"fmt"
	"time"

	gridx "github.com/grid-x/modbus"
	svmodbus "github.com/simonvetter/modbus"
)

const (
	DriverSimonvetter = "simonvetter"
	DriverGridx       = "gridx"
)

// RegisterType selects the modbus register table that a read is issued against.
type RegisterType uint8

const (
	HoldingRegister RegisterType = iota
	InputRegister
)

func (r RegisterType) String() string {
	switch r {
	case HoldingRegister:
		return "holding"
	case InputRegister:
		return "input"
	default:
		return fmt.Sprintf("register_type(%d)", uint8(r))
	}
}

// Transport is the raw register level connection to a modbus device.
// It is implemented on top of the open source modbus libraries, and faked in tests.
type Transport interface {
	Open() error
	Close() error
	ReadRegisters(addr, quantity uint16, regType RegisterType) ([]uint16, error)
}

// Config holds the connection parameters of a modbus TCP device.
type Config struct {
	Host    string // host:port
	UnitID  uint8
	Timeout time.Duration
	Driver  string // which underlying library to use, defaults to DriverSimonvetter
}

// newTransportFunc returns a constructor for the transport selected by `cfg.Driver`.
func newTransportFunc(cfg Config) (func() (Transport, error), error) {
	switch cfg.Driver {
	case "", DriverSimonvetter:
		return func() (Transport, error) { return newSimonvetterTransport(cfg) }, nil
	case DriverGridx:
		return func() (Transport, error) { return newGridxTransport(cfg), nil }, nil
	default:
		return nil, fmt.Errorf("unknown modbus driver '%s'", cfg.Driver)
	}
}

// simonvetterTransport uses github.com/simonvetter/modbus, which works in terms of uint16 registers.
type simonvetterTransport struct {
	client *svmodbus.ModbusClient
	unitID uint8
}

func newSimonvetterTransport(cfg Config) (*simonvetterTransport, error) {
	client, err := svmodbus.NewClient(&svmodbus.ClientConfiguration{
		URL:     fmt.Sprintf("tcp://%s", cfg.Host),
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create modbus client: %w", err)
	}
	return &simonvetterTransport{client: client, unitID: cfg.UnitID}, nil
}

func (t *simonvetterTransport) Open() error {
	err := t.client.Open()
	if err != nil {
		return err
	}
	return t.client.SetUnitId(t.unitID)
}

func (t *simonvetterTransport) Close() error {
	return t.client.Close()
}

func (t *simonvetterTransport) ReadRegisters(addr, quantity uint16, regType RegisterType) ([]uint16, error) {
	svRegType := svmodbus.HOLDING_REGISTER
	if regType == InputRegister {
		svRegType = svmodbus.INPUT_REGISTER
	}
	return t.client.ReadRegisters(addr, quantity, svRegType)
}

// gridxTransport uses github.com/grid-x/modbus, which works in terms of big endian byte arrays.
type gridxTransport struct {
	handler *gridx.TCPClientHandler
	client  gridx.Client
}

func newGridxTransport(cfg Config) *gridxTransport {
	handler := gridx.NewTCPClientHandler(cfg.Host)
	handler.Timeout = cfg.Timeout
	handler.SlaveID = cfg.UnitID

	return &gridxTransport{
		handler: handler,
		client:  gridx.NewClient(handler),
	}
}

func (t *gridxTransport) Open() error {
	return t.handler.Connect()
}

func (t *gridxTransport) Close() error {
	return t.handler.Close()
}

func (t *gridxTransport) ReadRegisters(addr, quantity uint16, regType RegisterType) ([]uint16, error) {
	var bytes []byte
	var err error
	if regType == InputRegister {
		bytes, err = t.client.ReadInputRegisters(addr, quantity)
	} else {
		bytes, err = t.client.ReadHoldingRegisters(addr, quantity)
	}
	if err != nil {
		return nil, err
	}
	if len(bytes) != int(quantity)*2 {
		return nil, fmt.Errorf("short read: got %d bytes for %d registers", len(bytes), quantity)
	}
	return bytesToRegisters(bytes), nil
}

// registersToBytes lays the registers out as a big endian byte array, two bytes per register.
func registersToBytes(registerVals []uint16) []byte {
	bytes := make([]byte, len(registerVals)*2)
	for i, registerVal := range registerVals {
		loc := i * 2
		binary.BigEndian.PutUint16(bytes[loc:loc+2], registerVal)
	}
	return bytes
}

// bytesToRegisters is the inverse of registersToBytes, a trailing odd byte is ignored.
func bytesToRegisters(bytes []byte) []uint16 {
	registerVals := make([]uint16, len(bytes)/2)
	for i := range registerVals {
		registerVals[i] = binary.BigEndian.Uint16(bytes[i*2 : i*2+2])
	}
	return registerVals
}
