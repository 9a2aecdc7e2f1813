package signaling

import (
	"encoding/json"
	"fmt"

	"peerlink-be/internal/pkg/logger"

	"github.com/google/uuid"
)

// RoomChannel is the per-room signaling channel between exactly two parties.
// Inbound events are filtered before delivery: wrong-room events are dropped,
// and self-echoed events are dropped for every type except end_session,
// which is delivered so the handler can apply its own sender check.
type RoomChannel struct {
	bus    Bus
	roomId string
	selfId uuid.UUID
	log    logger.ILogger
	unsub  Unsubscriber
}

// OpenRoomChannel subscribes to the room's subject and announces presence
// with a ready event. The handler runs on the bus delivery goroutine.
func OpenRoomChannel(bus Bus, roomId string, selfId uuid.UUID, handler func(Event), log logger.ILogger) (*RoomChannel, error) {
	c := &RoomChannel{
		bus:    bus,
		roomId: roomId,
		selfId: selfId,
		log:    log,
	}

	unsub, err := bus.Subscribe(RoomSubject(roomId), func(data []byte) {
		var event Event
		if err := json.Unmarshal(data, &event); err != nil {
			c.log.Warn("Signaling", "Dropping malformed room event", map[string]interface{}{
				"room_id": roomId, "error": err.Error(),
			})
			return
		}
		if event.RoomId != roomId {
			return
		}
		if event.SenderId == selfId && event.Type != EventEndSession {
			return
		}
		handler(event)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to room %s: %w", roomId, err)
	}
	c.unsub = unsub

	// Presence announcement: tells an already-listening peer we are ready
	// to receive its (possibly re-sent) offer.
	if err := c.Send(Event{Type: EventReady}); err != nil {
		_ = unsub.Unsubscribe()
		return nil, err
	}

	return c, nil
}

// Send stamps the event with the room scope and sender id, then publishes.
func (c *RoomChannel) Send(event Event) error {
	event.RoomId = c.roomId
	event.SenderId = c.selfId
	return c.bus.Publish(RoomSubject(c.roomId), event)
}

// RoomId returns the scope of this channel.
func (c *RoomChannel) RoomId() string {
	return c.roomId
}

// Close tears down the subscription. Safe to call more than once.
func (c *RoomChannel) Close() error {
	if c.unsub == nil {
		return nil
	}
	unsub := c.unsub
	c.unsub = nil
	return unsub.Unsubscribe()
}
