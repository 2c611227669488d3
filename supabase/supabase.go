package supabase

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	supa "github.com/nedpals/supabase-go"
)

const (
	supabaseUploadTimeout = time.Second * 10
)

var ErrUploadTimeout = errors.New("upload timed out")

// Client provides an interface onto the Supabase platform.
// It hides the underlying open source supabase library and adds reconnection and timeout logic.
type Client struct {
	url    string
	key    string
	schema string

	subClient       *supa.Client // the raw client of the underlying supabase library we are using
	shouldReconnect bool         // when true, the subClient is 'dirty' and will be re-created next time an upload is made
	uploadTimeout   time.Duration
	logger          *slog.Logger
}

func New(url, key, schema string) *Client {
	return &Client{
		url:             url,
		key:             key,
		schema:          schema,
		shouldReconnect: true, // the client is created lazily on the first upload
		uploadTimeout:   supabaseUploadTimeout,
		logger:          slog.Default().With("host", url),
	}
}

// Upload inserts the given rows into `table`. Rows are JSON encoded, so they should be a slice of structs with
// json tags that match the table's columns.
func (c *Client) Upload(table string, rows interface{}) error {

	c.reconnectIfNeccesary()

	// The supabase client library doesn't have good timeout support, so here we wrap the call in a timeout
	errCh := make(chan error, 1)
	subClient := c.subClient
	go func() {
		errCh <- subClient.DB.From(table).Insert(rows).Execute(nil)
	}()

	select {
	case <-time.After(c.uploadTimeout):
		c.setShouldReconnect()
		return fmt.Errorf("insert into %s: %w", table, ErrUploadTimeout)
	case err := <-errCh:
		if err != nil {
			c.setShouldReconnect()
			return fmt.Errorf("insert into %s: %w", table, err)
		}
		return nil
	}
}

// createSubClient creates the open-source supabase library client with the schema headers.
func (c *Client) createSubClient() {

	subClient := supa.CreateClient(c.url, c.key)

	// The supabase client library doesn't have a fully featured interface, here we specify options directly by
	// adding headers to the postgrest requests.
	if c.schema != "" {
		subClient.DB.AddHeader("Accept-Profile", c.schema)
		subClient.DB.AddHeader("Content-Profile", c.schema)
	}

	c.subClient = subClient
}

// setShouldReconnect is called when there has been an error that should trigger the client to be re-created.
func (c *Client) setShouldReconnect() {
	c.shouldReconnect = true
}

// reconnectIfNeccesary re-creates the client if there have been problems with the previous one.
func (c *Client) reconnectIfNeccesary() {
	if !c.shouldReconnect {
		return
	}

	c.createSubClient()
	c.shouldReconnect = false

	c.logger.Info("Created supabase client")
}
