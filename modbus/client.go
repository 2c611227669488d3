package modbus

import (
	"fmt"
	"log/slog"
	"sync"
)

// Client provides an interface onto Modbus devices.
// It hides the underlying open source modbus library and provides functionality to map metrics to their assigned registers.
type Client struct {
	host string

	newSubClient    func() (Transport, error) // creates a fresh connection to the device
	subClient       Transport                 // the raw client of the underlying modbus library we are using
	shouldReconnect bool                      // when true, the subClient is 'dirty' and will be re-created next time a read is made
	mu              sync.Mutex                // modbus is request/response so only one call may be on the wire at a time
	logger          *slog.Logger
}

func NewClient(cfg Config) (*Client, error) {
	newSubClient, err := newTransportFunc(cfg)
	if err != nil {
		return nil, err
	}
	return NewClientWithTransport(cfg.Host, newSubClient), nil
}

// NewClientWithTransport creates a client that uses `newSubClient` to (re)connect to the device.
func NewClientWithTransport(host string, newSubClient func() (Transport, error)) *Client {
	return &Client{
		host:            host,
		newSubClient:    newSubClient,
		shouldReconnect: true,
		logger:          slog.Default().With("host", host),
	}
}

// Close closes the underlying connection, the next read will reconnect.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.shouldReconnect = true
	if c.subClient == nil {
		return nil
	}
	err := c.subClient.Close()
	c.subClient = nil
	return err
}

// createSubClient creates the open-source modbus library client and connects to the host.
func (c *Client) createSubClient() error {
	subClient, err := c.newSubClient()
	if err != nil {
		return fmt.Errorf("create modbus client: %w", err)
	}

	err = subClient.Open()
	if err != nil {
		return fmt.Errorf("open modbus client: %w", err)
	}

	c.subClient = subClient

	return nil
}

// setShouldReconnect is called when there has been an error with the modbus connection that should trigger a re-connect.
func (c *Client) setShouldReconnect() {
	c.shouldReconnect = true
}

// reconnectIfNeccesary will close the old connection and reconnect if there have been problems with the connection.
func (c *Client) reconnectIfNeccesary() error {
	if !c.shouldReconnect {
		return nil
	}

	// Ignore errors from Close() as we will continue with the reconnect anyway and start a new connection.
	if c.subClient != nil {
		c.subClient.Close()
		c.subClient = nil
	}

	err := c.createSubClient()
	if err != nil {
		return err
	}

	c.shouldReconnect = false

	c.logger.Info("Connected modbus client")

	return nil
}
