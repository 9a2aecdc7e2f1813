package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Match is the resolved pairing of two queue entries. It lives in the shared
// match store keyed by RoomId; either participant may delete it.
type Match struct {
	RoomId    string
	PeerAId   uuid.UUID // canonical order: sorted
	PeerBId   uuid.UUID
	Topic     string
	Mode      Mode
	CreatedAt time.Time
}

// NewRoomId derives a globally unique room identifier from the sorted user
// pair, the mode, a timestamp and a nonce. The room id doubles as the
// signaling-channel scope and the moderation-report key.
func NewRoomId(a, b uuid.UUID, mode Mode, now time.Time) string {
	lo, hi := SortUserPair(a, b)
	nonce := uuid.NewString()[:8]
	return fmt.Sprintf("%s_%s_%s_%d_%s", lo, hi, mode, now.UnixMilli(), nonce)
}

// SortUserPair returns the two ids in canonical (lexicographic) order.
func SortUserPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if a.String() < b.String() {
		return a, b
	}
	return b, a
}

// ParseRoomPeers recovers the two participant ids embedded in a room id.
// The passive side of a pairing uses this to learn its peer without an
// extra store round-trip.
func ParseRoomPeers(roomId string) (uuid.UUID, uuid.UUID, error) {
	parts := strings.SplitN(roomId, "_", 3)
	if len(parts) < 3 {
		return uuid.Nil, uuid.Nil, fmt.Errorf("malformed room id %q", roomId)
	}
	a, err := uuid.Parse(parts[0])
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("malformed room id %q: %w", roomId, err)
	}
	b, err := uuid.Parse(parts[1])
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("malformed room id %q: %w", roomId, err)
	}
	return a, b, nil
}
