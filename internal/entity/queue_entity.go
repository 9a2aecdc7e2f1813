package entity

import (
	"time"

	"github.com/google/uuid"
)

// Mode selects the kind of session a user is queueing for.
type Mode string

const (
	ModeVoice Mode = "voice"
	ModeChat  Mode = "chat"
)

// QueueStatus is the lifecycle state of a queue entry.
type QueueStatus string

const (
	QueueStatusWaiting QueueStatus = "waiting"
	QueueStatusMatched QueueStatus = "matched"
)

// QueueEntry is a user's pending matchmaking request. At most one active
// entry exists per user; enterQueue self-heals by deleting any orphaned row
// before inserting.
type QueueEntry struct {
	Id               uuid.UUID
	UserId           uuid.UUID
	Topic            string
	TopicEmbedding   []float32
	Mode             Mode
	Status           QueueStatus
	ConsentedQueueId *uuid.UUID // queue entry this user has provisionally accepted
	RoomId           *string    // set once matched
	CreatedAt        time.Time
	UpdatedAt        time.Time // heartbeat timestamp, touched every 10s while waiting
}

// SuggestedMatch is an ephemeral, never-persisted pairing candidate surfaced
// once the acceptance threshold has decayed to its floor.
type SuggestedMatch struct {
	QueueId           uuid.UUID
	Topic             string
	Similarity        float64
	PeerConsentedToMe bool
}

// Equal reports whether two suggestions describe the same candidate state.
// The suggestion slot is only replaced when something actually changed, so
// downstream observers are not re-notified redundantly.
func (s *SuggestedMatch) Equal(other *SuggestedMatch) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.QueueId == other.QueueId &&
		s.Topic == other.Topic &&
		s.Similarity == other.Similarity &&
		s.PeerConsentedToMe == other.PeerConsentedToMe
}

// ConsentInvite is a transient, dismissible invitation surfaced when a
// consent signal arrives from a queue entry the user has not reciprocated.
type ConsentInvite struct {
	FromQueueId uuid.UUID
	Topic       string
	ReceivedAt  time.Time
}
