package mirror

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// natsConnectTimeout bounds the initial connection attempt.
	natsConnectTimeout = 10 * time.Second

	// natsMaxReconnects caps reconnection attempts after a drop.
	natsMaxReconnects = 5
)

// NATSConfig configures a NATS-backed transport.
type NATSConfig struct {
	// URL is the server address (default: nats.DefaultURL).
	URL string

	// Subject is the subject events travel on (default: "cosmos.events").
	// Every process mirroring the same studio uses the same subject.
	Subject string

	// Name labels the connection in server monitoring.
	Name string
}

// NATSTransport carries mirror frames over core NATS publish/subscribe.
// The connection uses NoEcho, so the server never returns this process's
// own frames.
type NATSTransport struct {
	conn    *nats.Conn
	sub     *nats.Subscription
	subject string

	mu sync.Mutex
	fn func([]byte)
}

// NewNATS connects to the server and subscribes to the configured subject.
func NewNATS(cfg NATSConfig) (*NATSTransport, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	subject := cfg.Subject
	if subject == "" {
		subject = "cosmos.events"
	}
	name := cfg.Name
	if name == "" {
		name = "cosmos-mirror"
	}

	conn, err := nats.Connect(
		url,
		nats.Name(name),
		nats.NoEcho(),
		nats.Timeout(natsConnectTimeout),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(natsMaxReconnects),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	t := &NATSTransport{
		conn:    conn,
		subject: subject,
	}

	sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		t.mu.Lock()
		fn := t.fn
		t.mu.Unlock()
		if fn != nil {
			fn(msg.Data)
		}
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe %q: %w", subject, err)
	}
	t.sub = sub

	return t, nil
}

// Send publishes one frame to the subject.
func (t *NATSTransport) Send(data []byte) error {
	if t.conn.IsClosed() {
		return ErrClosed
	}
	if err := t.conn.Publish(t.subject, data); err != nil {
		return fmt.Errorf("publish %q: %w", t.subject, err)
	}
	return nil
}

// Receive registers the frame callback.
func (t *NATSTransport) Receive(fn func(data []byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fn = fn
}

// Close drains the subscription and closes the connection. Draining lets
// frames already delivered to the client finish dispatching.
func (t *NATSTransport) Close() error {
	if err := t.sub.Drain(); err != nil {
		t.conn.Close()
		return fmt.Errorf("drain subscription: %w", err)
	}
	t.conn.Close()
	return nil
}

var _ Transport = (*NATSTransport)(nil)
