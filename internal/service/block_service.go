package service

import (
	"context"
	"sync"
	"time"

	"peerlink-be/internal/entity"
	"peerlink-be/internal/pkg/logger"
	"peerlink-be/internal/repository/contract"

	"github.com/google/uuid"
)

// BlockListService owns one user's exclusion set. The list is loaded once
// at session start; a mid-session report appends locally without a refetch,
// so the resolver exclusion is correct immediately even if the durable
// write lags.
type BlockListService struct {
	repo   contract.BlockRepository
	log    logger.ILogger
	userId uuid.UUID

	mu   sync.Mutex
	list *entity.BlockList
}

func NewBlockListService(userId uuid.UUID, repo contract.BlockRepository, log logger.ILogger) *BlockListService {
	return &BlockListService{
		repo:   repo,
		log:    log,
		userId: userId,
		list:   &entity.BlockList{},
	}
}

// Load fetches both block directions. A load failure leaves the current
// (possibly empty) list in place; matching proceeds without exclusions
// rather than not at all.
func (s *BlockListService) Load(ctx context.Context) error {
	list, err := s.repo.GetBlockList(ctx, s.userId)
	if err != nil {
		s.log.Warn("Blocks", "Failed to load block list", map[string]interface{}{
			"user_id": s.userId.String(), "error": err.Error(),
		})
		return err
	}
	s.mu.Lock()
	s.list = list
	s.mu.Unlock()
	return nil
}

// Exclusion snapshots the combined (both directions) exclusion set.
func (s *BlockListService) Exclusion() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list.Combined()
}

// MarkUserBlocked appends the peer locally first, then persists. The local
// append is what keeps a just-reported peer out of the very next resolver
// call.
func (s *BlockListService) MarkUserBlocked(ctx context.Context, blockedUserId uuid.UUID) error {
	s.mu.Lock()
	s.list.Add(blockedUserId)
	s.mu.Unlock()

	err := s.repo.Create(ctx, &entity.UserBlock{
		Id:            uuid.New(),
		UserId:        s.userId,
		BlockedUserId: blockedUserId,
		CreatedAt:     time.Now(),
	})
	if err != nil {
		s.log.Error("Blocks", "Failed to persist block", map[string]interface{}{
			"user_id": s.userId.String(),
			"blocked": blockedUserId.String(),
			"error":   err.Error(),
		})
		return err
	}
	return nil
}
