package signaling

import (
	"encoding/json"
	"fmt"

	"peerlink-be/internal/pkg/logger"
	"peerlink-be/internal/repository/contract"

	"github.com/google/uuid"
)

// ConsentChannel listens on a user's own per-queue-entry subject for
// consent and reject signals from other waiting users. Self-echo never
// occurs here (users do not publish to their own queue subject), but the
// sender filter is applied anyway for symmetry with the room channel.
type ConsentChannel struct {
	bus     Bus
	queueId uuid.UUID
	selfId  uuid.UUID
	log     logger.ILogger
	unsub   Unsubscriber
}

func OpenConsentChannel(bus Bus, queueId uuid.UUID, selfId uuid.UUID, handler func(Event), log logger.ILogger) (*ConsentChannel, error) {
	c := &ConsentChannel{
		bus:     bus,
		queueId: queueId,
		selfId:  selfId,
		log:     log,
	}

	unsub, err := bus.Subscribe(QueueSubject(queueId), func(data []byte) {
		var event Event
		if err := json.Unmarshal(data, &event); err != nil {
			c.log.Warn("Signaling", "Dropping malformed consent event", map[string]interface{}{
				"queue_id": queueId.String(), "error": err.Error(),
			})
			return
		}
		if event.SenderId == selfId {
			return
		}
		if event.Type != EventConsent && event.Type != EventReject {
			return
		}
		handler(event)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to queue entry %s: %w", queueId, err)
	}
	c.unsub = unsub
	return c, nil
}

// SendTo publishes a consent or reject signal to the target queue entry's
// subject, stamped with the caller's identity and own queue id.
func (c *ConsentChannel) SendTo(targetQueueId uuid.UUID, event Event) error {
	event.SenderId = c.selfId
	event.QueueId = c.queueId
	return c.bus.Publish(QueueSubject(targetQueueId), event)
}

func (c *ConsentChannel) Close() error {
	if c.unsub == nil {
		return nil
	}
	unsub := c.unsub
	c.unsub = nil
	return unsub.Unsubscribe()
}

// WatchQueueEntry subscribes to row-level change events for a specific queue
// entry. Used for passive match discovery on the user's own entry and for
// the suggested-match liveness watch on a candidate's entry.
func WatchQueueEntry(bus Bus, queueId uuid.UUID, handler func(contract.QueueRowEvent), log logger.ILogger) (Unsubscriber, error) {
	return bus.Subscribe(RowChangeSubject(queueId), func(data []byte) {
		var event contract.QueueRowEvent
		if err := json.Unmarshal(data, &event); err != nil {
			log.Warn("Signaling", "Dropping malformed row-change event", map[string]interface{}{
				"queue_id": queueId.String(), "error": err.Error(),
			})
			return
		}
		handler(event)
	})
}
