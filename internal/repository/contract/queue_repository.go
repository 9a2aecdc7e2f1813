package contract

import (
	"context"
	"time"

	"peerlink-be/internal/entity"

	"github.com/google/uuid"
)

// MatchResult is a firm pairing returned by FindMatch. The caller whose poll
// discovered the match is the initiator; the other side learns the same room
// id through a queue row-change notification.
type MatchResult struct {
	RoomId      string
	PeerUserId  uuid.UUID
	PeerQueueId uuid.UUID
	PeerTopic   string
	Similarity  float64
}

// ScoredCandidate is a below-threshold candidate with its similarity score,
// surfaced by SuggestCandidates once the threshold has decayed to its floor.
type ScoredCandidate struct {
	QueueId           uuid.UUID
	UserId            uuid.UUID
	Topic             string
	Similarity        float64
	PeerConsentedToMe bool
}

// RowChangeType distinguishes queue row notifications.
type RowChangeType string

const (
	RowUpdated RowChangeType = "UPDATE"
	RowDeleted RowChangeType = "DELETE"
)

// QueueRowEvent describes a mutation of a single queue entry. Events are
// fanned out to per-entry realtime subjects so waiting clients can watch
// their own row (passive match discovery) and a suggested candidate's row
// (liveness watch).
type QueueRowEvent struct {
	Type    RowChangeType `json:"type"`
	QueueId uuid.UUID     `json:"queue_id"`
	UserId  uuid.UUID     `json:"user_id"`
	Status  string        `json:"status,omitempty"`
	RoomId  *string       `json:"room_id,omitempty"`
}

// QueueNotifier receives row-change events after a queue mutation commits.
type QueueNotifier interface {
	NotifyRowChange(ctx context.Context, event QueueRowEvent)
}

type QueueRepository interface {
	// Create inserts a fresh waiting entry. Callers must have deleted any
	// pre-existing entry for the user first (self-heal).
	Create(ctx context.Context, entry *entity.QueueEntry) error
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteByUserId(ctx context.Context, userId uuid.UUID) error
	FindOne(ctx context.Context, id uuid.UUID) (*entity.QueueEntry, error)

	// TouchHeartbeat refreshes updated_at so the stale-entry sweep keeps
	// the row alive.
	TouchHeartbeat(ctx context.Context, id uuid.UUID) error

	// SetConsent records (or clears, with nil) the queue entry this user
	// has provisionally accepted.
	SetConsent(ctx context.Context, id uuid.UUID, consentedQueueId *uuid.UUID) error

	// FindMatch atomically reserves the best waiting candidate at or above
	// threshold and marks both rows matched under a shared room id. At most
	// one successful pairing per queue entry; concurrent pollers never
	// double-match. Returns (nil, nil) when no candidate qualifies.
	FindMatch(ctx context.Context, own *entity.QueueEntry, excludedUserIds []uuid.UUID, threshold float64) (*MatchResult, error)

	// SuggestCandidates returns waiting candidates scored by similarity,
	// best first, down to the given floor. Never reserves anything.
	SuggestCandidates(ctx context.Context, own *entity.QueueEntry, excludedUserIds []uuid.UUID, floor float64, limit int) ([]*ScoredCandidate, error)

	// PairEntries firms up a mutual-consent pairing: both entries move to
	// matched under roomId. Idempotent under races: if the caller's own
	// entry was already paired, the existing room id is returned with
	// paired=false.
	// paired=true means this call performed the pairing, which makes the
	// caller the negotiation initiator.
	PairEntries(ctx context.Context, ownQueueId, peerQueueId uuid.UUID, roomId string) (finalRoomId string, paired bool, err error)

	// DeleteStale evicts entries whose heartbeat is older than maxAge.
	DeleteStale(ctx context.Context, maxAge time.Duration) (int64, error)
}
