package nats

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Bus is a thin realtime publish/subscribe layer over core NATS. Signaling
// traffic is ephemeral: a stale SDP or ICE candidate redelivered after a
// reconnect is worse than a dropped one, so plain subjects are used instead
// of JetStream. Per-publisher ordering is guaranteed by NATS; no ordering is
// assumed across publishers.
type Bus struct {
	nc *nats.Conn
}

// NewBus connects to the NATS server.
func NewBus(url string) (*Bus, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &Bus{nc: nc}, nil
}

// Publish marshals payload as JSON and sends it on the subject.
func (b *Bus) Publish(subject string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	if err := b.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to subject %s: %w", subject, err)
	}
	return nil
}

// Subscription is a handle that tears down a single subject subscription.
type Subscription struct {
	sub *nats.Subscription
}

func (s *Subscription) Unsubscribe() error {
	if s.sub == nil {
		return nil
	}
	return s.sub.Unsubscribe()
}

// Subscribe registers a handler for raw message payloads on a subject.
// The handler runs on the NATS delivery goroutine; it must not block.
func (b *Bus) Subscribe(subject string, handler func(data []byte)) (*Subscription, error) {
	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to subject %s: %w", subject, err)
	}
	return &Subscription{sub: sub}, nil
}

// Close drains and closes the connection.
func (b *Bus) Close() {
	if b.nc != nil {
		b.nc.Close()
	}
}
