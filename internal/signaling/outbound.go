package signaling

import (
	"context"
	"encoding/json"
	"fmt"

	"peerlink-be/internal/pkg/logger"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const outboundTopic = "signaling.outbound"

// Outbound is the intent queue between the peer-connection orchestrator and
// the signaling channel. The orchestrator enqueues events it wants sent; a
// pump goroutine drains the queue and publishes through the room channel.
// The indirection removes the circular reference between negotiation
// callbacks (defined first) and the send path (established later): neither
// side ever holds a pointer to the other.
type Outbound struct {
	pubSub *gochannel.GoChannel
	log    logger.ILogger
}

func NewOutbound(log logger.ILogger) *Outbound {
	return &Outbound{
		pubSub: gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{}),
		log:    log,
	}
}

// Enqueue queues an event for sending. Never blocks on the network.
func (o *Outbound) Enqueue(event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal outbound event: %w", err)
	}
	return o.pubSub.Publish(outboundTopic, message.NewMessage(watermill.NewUUID(), data))
}

// Drain starts the pump: every queued event is handed to send in enqueue
// order until ctx is cancelled. Send failures are logged and dropped;
// signaling is best-effort, and a failed send never aborts the pump.
func (o *Outbound) Drain(ctx context.Context, send func(Event) error) error {
	messages, err := o.pubSub.Subscribe(ctx, outboundTopic)
	if err != nil {
		return fmt.Errorf("subscribing to outbound queue: %w", err)
	}

	go func() {
		for msg := range messages {
			var event Event
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				o.log.Warn("Signaling", "Dropping malformed outbound event", map[string]interface{}{
					"error": err.Error(),
				})
				msg.Ack()
				continue
			}
			if err := send(event); err != nil {
				o.log.Warn("Signaling", "Failed to send outbound event", map[string]interface{}{
					"type":  string(event.Type),
					"error": err.Error(),
				})
			}
			msg.Ack()
		}
	}()

	return nil
}

func (o *Outbound) Close() error {
	return o.pubSub.Close()
}
