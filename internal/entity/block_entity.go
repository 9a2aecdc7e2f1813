package entity

import (
	"time"

	"github.com/google/uuid"
)

// UserBlock records that one user blocked another. Blocks are directional
// in storage but symmetric in effect: both directions are merged into the
// exclusion set of every match-resolver call.
type UserBlock struct {
	Id            uuid.UUID
	UserId        uuid.UUID // the blocker
	BlockedUserId uuid.UUID
	CreatedAt     time.Time
}

// BlockList is the merged exclusion state loaded at session start.
type BlockList struct {
	BlockedUserIds   []uuid.UUID // users I blocked
	BlockedByUserIds []uuid.UUID // users who blocked me
}

// Combined returns the union of both directions, deduplicated.
func (b *BlockList) Combined() []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(b.BlockedUserIds)+len(b.BlockedByUserIds))
	var out []uuid.UUID
	for _, id := range b.BlockedUserIds {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	for _, id := range b.BlockedByUserIds {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// Add appends a newly blocked user locally without a refetch (used when a
// report is filed mid-session).
func (b *BlockList) Add(userId uuid.UUID) {
	for _, id := range b.BlockedUserIds {
		if id == userId {
			return
		}
	}
	b.BlockedUserIds = append(b.BlockedUserIds, userId)
}
