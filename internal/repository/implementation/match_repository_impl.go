package implementation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"peerlink-be/internal/entity"
	"peerlink-be/internal/repository/contract"

	"github.com/redis/go-redis/v9"
)

// matchTTL bounds how long a Match row survives without cleanup. A row past
// its TTL is simply absent, which the engine treats as "match gone".
const matchTTL = 6 * time.Hour

type MatchRepositoryImpl struct {
	rdb *redis.Client
}

func NewMatchRepository(rdb *redis.Client) contract.MatchRepository {
	return &MatchRepositoryImpl{rdb: rdb}
}

func matchKey(roomId string) string {
	return fmt.Sprintf("match:%s", roomId)
}

func (r *MatchRepositoryImpl) Save(ctx context.Context, match *entity.Match) error {
	data, err := json.Marshal(match)
	if err != nil {
		return fmt.Errorf("failed to marshal match: %w", err)
	}
	return r.rdb.Set(ctx, matchKey(match.RoomId), data, matchTTL).Err()
}

func (r *MatchRepositoryImpl) Find(ctx context.Context, roomId string) (*entity.Match, error) {
	data, err := r.rdb.Get(ctx, matchKey(roomId)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var match entity.Match
	if err := json.Unmarshal(data, &match); err != nil {
		return nil, fmt.Errorf("failed to unmarshal match %s: %w", roomId, err)
	}
	return &match, nil
}

func (r *MatchRepositoryImpl) Delete(ctx context.Context, roomId string) error {
	return r.rdb.Del(ctx, matchKey(roomId)).Err()
}
