package signaling

import (
	"fmt"

	"github.com/google/uuid"
)

// Unsubscriber tears down a single subscription.
type Unsubscriber interface {
	Unsubscribe() error
}

// Bus is the realtime substrate the signaling layer rides on. Production
// wiring adapts pkg/nats; tests use an in-process fake. Delivery is ordered
// per publisher; no ordering is assumed across publishers.
type Bus interface {
	Publish(subject string, payload interface{}) error
	Subscribe(subject string, handler func(data []byte)) (Unsubscriber, error)
}

// RoomSubject scopes negotiation traffic to a single two-party room. The
// room id itself is the shared secret; nothing else restricts the scope.
func RoomSubject(roomId string) string {
	return fmt.Sprintf("rt.room.%s", roomId)
}

// QueueSubject is the per-queue-entry broadcast scope used by the
// suggestion-consent handshake, so consent signals reach exactly one
// waiting user.
func QueueSubject(queueId uuid.UUID) string {
	return fmt.Sprintf("rt.queue.%s", queueId)
}

// RowChangeSubject carries row-level change events for one queue entry.
func RowChangeSubject(queueId uuid.UUID) string {
	return fmt.Sprintf("rt.rowchange.%s", queueId)
}
