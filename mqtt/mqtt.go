// Package mqtt wraps the paho client, turning its callbacks into a single stream of inbound events.
//
// Reconnection is left entirely to paho: the stream reports each (re)connection and each connection loss, and is
// only closed by Disconnect.
package mqtt

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

const (
	QoSAtLeastOnce byte = 1

	defaultStreamBuffer   = 64
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second
	disconnectQuiesceMs   = 250
)

var (
	ErrPublishTimeout   = errors.New("publish timed out")
	ErrSubscribeTimeout = errors.New("subscribe timed out")
)

type Kind int

const (
	Message Kind = iota
	Connected
	ConnectionLost
)

func (k Kind) String() string {
	switch k {
	case Message:
		return "message"
	case Connected:
		return "connected"
	case ConnectionLost:
		return "connection_lost"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Inbound is a single event from the broker connection. Topic and Payload are only set for messages, Err only for
// connection loss.
type Inbound struct {
	Kind    Kind
	Topic   string
	Payload []byte
	Err     error
}

type Config struct {
	Host     string
	Port     int
	ClientID string
	Username string
	Password string

	// Will is published by the broker with retain set if the connection drops without a clean disconnect
	WillTopic   string
	WillPayload string

	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// Client is a thin wrapper over the paho client.
type Client struct {
	client         paho.Client
	publishTimeout time.Duration
	connectTimeout time.Duration
	logger         *slog.Logger

	stream         chan Inbound
	done           chan struct{} // closed on Disconnect to release handlers that are blocked on the stream
	mu             sync.RWMutex  // write held while the stream is closed
	closed         bool
	disconnectOnce sync.Once
}

func New(cfg Config) *Client {
	c := newClient(cfg)
	c.client = paho.NewClient(c.options(cfg))
	return c
}

func newClient(cfg Config) *Client {
	publishTimeout := cfg.PublishTimeout
	if publishTimeout <= 0 {
		publishTimeout = defaultPublishTimeout
	}
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	return &Client{
		publishTimeout: publishTimeout,
		connectTimeout: connectTimeout,
		logger:         slog.Default().With("broker", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)),
		stream:         make(chan Inbound, defaultStreamBuffer),
		done:           make(chan struct{}),
	}
}

func (c *Client) options(cfg Config) *paho.ClientOptions {
	opts := paho.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetKeepAlive(30 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(time.Minute).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost).
		SetDefaultPublishHandler(c.onMessage)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if cfg.WillTopic != "" {
		opts.SetWill(cfg.WillTopic, cfg.WillPayload, QoSAtLeastOnce, true)
	}
	return opts
}

// Connect starts connecting to the broker. Paho keeps retrying in the background if the broker can't be reached
// within the connect timeout, so only a definite refusal is returned as an error.
func (c *Client) Connect() error {
	token := c.client.Connect()
	if !token.WaitTimeout(c.connectTimeout) {
		c.logger.Warn("Broker not reachable yet, retrying in the background")
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	return nil
}

// Stream returns the inbound events, it's closed by Disconnect.
func (c *Client) Stream() <-chan Inbound {
	return c.stream
}

// Publish sends a message at QoS 1 and waits for it to be acknowledged.
func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	token := c.client.Publish(topic, QoSAtLeastOnce, retained, payload)
	if !token.WaitTimeout(c.publishTimeout) {
		return fmt.Errorf("publish to %s: %w", topic, ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe subscribes to the topics at QoS 1, messages are delivered on the stream.
func (c *Client) Subscribe(topics []string) error {
	if len(topics) == 0 {
		return nil
	}
	filters := make(map[string]byte, len(topics))
	for _, topic := range topics {
		filters[topic] = QoSAtLeastOnce
	}

	token := c.client.SubscribeMultiple(filters, nil)
	if !token.WaitTimeout(c.publishTimeout) {
		return fmt.Errorf("subscribe to %d topics: %w", len(topics), ErrSubscribeTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe to %d topics: %w", len(topics), err)
	}
	return nil
}

// Disconnect closes the connection and then the stream. It's safe to call more than once.
func (c *Client) Disconnect() {
	c.disconnectOnce.Do(func() {
		// release handlers first, paho waits for them while disconnecting
		close(c.done)
		c.client.Disconnect(disconnectQuiesceMs)

		c.mu.Lock()
		defer c.mu.Unlock()
		c.closed = true
		close(c.stream)
		c.logger.Info("Disconnected from broker")
	})
}

func (c *Client) onConnect(_ paho.Client) {
	c.logger.Info("Connected to broker")
	c.push(Inbound{Kind: Connected})
}

func (c *Client) onConnectionLost(_ paho.Client, err error) {
	c.push(Inbound{Kind: ConnectionLost, Err: err})
}

func (c *Client) onMessage(_ paho.Client, msg paho.Message) {
	c.push(Inbound{Kind: Message, Topic: msg.Topic(), Payload: msg.Payload()})
}

// push delivers onto the stream, giving up if the client is disconnected while waiting for a reader
func (c *Client) push(in Inbound) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.stream <- in:
	case <-c.done:
	}
}
