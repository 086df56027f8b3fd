package dispatch

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// Client wraps a NATS connection and its JetStream context.
type Client struct {
	Conn *nats.Conn
	JS   nats.JetStreamContext
	log  *slog.Logger
}

// Connect dials NATS and initialises JetStream. The connection retries
// indefinitely once established.
func Connect(url string, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	nc, err := nats.Connect(url, nats.RetryOnFailedConnect(true), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("dispatch: connect %s: %w", url, err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("dispatch: jetstream: %w", err)
	}
	log.Info("nats connected", "url", url)
	return &Client{Conn: nc, JS: js, log: log}, nil
}

// ProvisionStream idempotently creates the work stream.
func (c *Client) ProvisionStream() error {
	_, err := c.JS.StreamInfo(StreamName)
	if err == nil {
		c.log.Info("stream exists", "stream", StreamName)
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("dispatch: check stream: %w", err)
	}

	_, err = c.JS.AddStream(&nats.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{SubjectWildcard},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
	})
	if err != nil {
		return fmt.Errorf("dispatch: create stream: %w", err)
	}
	c.log.Info("stream provisioned", "stream", StreamName)
	return nil
}

// Close drains the connection so in-flight publishes and deliveries
// flush before the socket closes.
func (c *Client) Close() {
	if c.Conn == nil {
		return
	}
	if err := c.Conn.Drain(); err != nil {
		c.Conn.Close()
	}
}
