package matchqueue

import (
	"time"

	"peerlink-be/internal/entity"

	"github.com/google/uuid"
)

const (
	// PollInterval is how often a waiting entry polls the match resolver.
	PollInterval = 3 * time.Second

	// HeartbeatInterval is how often a waiting entry touches its row so the
	// stale sweep keeps it alive.
	HeartbeatInterval = 10 * time.Second

	// StaleEntryAge is the heartbeat age past which the janitor evicts a
	// queue entry.
	StaleEntryAge = 30 * time.Second

	// ThresholdStart is the similarity bar at t=0: only near-duplicate
	// topics match immediately.
	ThresholdStart = 0.80

	// ThresholdMin is the floor the bar decays to as wait time grows.
	ThresholdMin = 0.65

	// ThresholdDecayRate is the linear decay per second of waiting; the
	// floor is reached after 30 seconds.
	ThresholdDecayRate = 0.005

	// ThresholdEpsilon pads the floor comparison so the suggestion path
	// does not flap at the exact boundary.
	ThresholdEpsilon = 1e-9

	// SuggestionFloor is the minimum similarity for a below-threshold
	// candidate to be surfaced as a suggestion at all.
	SuggestionFloor = 0.10
)

// ThresholdAt computes the acceptance threshold after the given wait:
// max(ThresholdMin, ThresholdStart - elapsedSeconds * ThresholdDecayRate).
func ThresholdAt(elapsed time.Duration) float64 {
	threshold := ThresholdStart - elapsed.Seconds()*ThresholdDecayRate
	if threshold < ThresholdMin {
		return ThresholdMin
	}
	return threshold
}

// atFloor reports whether the threshold has decayed all the way down.
func atFloor(threshold float64) bool {
	return threshold <= ThresholdMin+ThresholdEpsilon
}

// Status is the engine's queue-side state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusWaiting Status = "waiting"
	StatusMatched Status = "matched"
	StatusError   Status = "error"
)

// MatchInfo is the payload of a matched transition.
type MatchInfo struct {
	RoomId      string
	PeerUserId  uuid.UUID
	Topic       string
	Mode        entity.Mode
	IsInitiator bool
}

// UpdateKind discriminates engine updates delivered to the façade.
type UpdateKind string

const (
	UpdateStatus     UpdateKind = "status"
	UpdateMatched    UpdateKind = "matched"
	UpdateSuggestion UpdateKind = "suggestion"
	UpdateInvite     UpdateKind = "invite"
	UpdateNotice     UpdateKind = "notice"
)

// Update is a single state transition emitted by the engine. Exactly one of
// the payload fields is meaningful, selected by Kind.
type Update struct {
	Kind       UpdateKind
	Status     Status
	Match      *MatchInfo
	Suggestion *entity.SuggestedMatch // nil means cleared
	Invite     *entity.ConsentInvite
	Notice     string
	Err        error
}
