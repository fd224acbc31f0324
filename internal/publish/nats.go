// Package publish broadcasts ingested flight updates to NATS subscribers.
package publish

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/vmihailenco/msgpack/v5"

	"flight_tracker/internal/flight"
)

// ContentType is set on every published message.
const ContentType = "application/msgpack"

// Config holds NATS connection settings.
type Config struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// Enabled reports whether a server URL has been configured.
func (c Config) Enabled() bool {
	return c.URL != ""
}

// Update is the payload of one message: every flight upserted by a tick.
type Update struct {
	TickID  string          `json:"tick_id"`
	Time    int64           `json:"time"` // Epoch ms.
	Flights []flight.Flight `json:"flights"`
}

// NATS publishes updates to a single subject.
type NATS struct {
	conn    *nats.Conn
	subject string
}

// Connect dials the server in cfg. Reconnects are retried forever.
func Connect(cfg Config) (*NATS, error) {
	subject := cfg.Subject
	if subject == "" {
		subject = "flights.updates"
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name("flight_tracker"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATS{conn: nc, subject: subject}, nil
}

// Subject returns the subject updates are published on.
func (n *NATS) Subject() string {
	return n.subject
}

// Publish sends one update. Empty updates are skipped.
func (n *NATS) Publish(ctx context.Context, u Update) error {
	if len(u.Flights) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := Encode(u)
	if err != nil {
		return err
	}

	msg := nats.NewMsg(n.subject)
	msg.Header.Set("Content-Type", ContentType)
	msg.Data = data
	if err := n.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", n.subject, err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (n *NATS) Close() error {
	return n.conn.Drain()
}

// Encode serialises u as msgpack using the JSON field names.
func Encode(u Update) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(u); err != nil {
		return nil, fmt.Errorf("encode update: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses a payload produced by Encode.
func Decode(data []byte) (Update, error) {
	var u Update
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	if err := dec.Decode(&u); err != nil {
		return Update{}, fmt.Errorf("decode update: %w", err)
	}
	return u, nil
}
