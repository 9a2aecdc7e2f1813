package contract

import (
	"context"

	"peerlink-be/internal/entity"

	"github.com/google/uuid"
)

type BlockRepository interface {
	Create(ctx context.Context, block *entity.UserBlock) error

	// GetBlockList loads both directions for a user: who they blocked and
	// who blocked them.
	GetBlockList(ctx context.Context, userId uuid.UUID) (*entity.BlockList, error)
}
