package contract

import (
	"context"

	"peerlink-be/internal/entity"
)

// MatchRepository stores resolved Match rows keyed by room id. Rows are
// short-lived: either participant may delete one (cleanup, report), and the
// store expires them so a stale row is treated as absent.
type MatchRepository interface {
	Save(ctx context.Context, match *entity.Match) error

	// Find returns (nil, nil) when the room is unknown or expired.
	Find(ctx context.Context, roomId string) (*entity.Match, error)
	Delete(ctx context.Context, roomId string) error
}
