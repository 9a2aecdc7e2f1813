package implementation

import (
	"context"

	"peerlink-be/internal/entity"
	"peerlink-be/internal/mapper"
	"peerlink-be/internal/model"
	"peerlink-be/internal/repository/contract"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type BlockRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.BlockMapper
}

func NewBlockRepository(db *gorm.DB) contract.BlockRepository {
	return &BlockRepositoryImpl{
		db:     db,
		mapper: mapper.NewBlockMapper(),
	}
}

func (r *BlockRepositoryImpl) Create(ctx context.Context, block *entity.UserBlock) error {
	m := r.mapper.ToModel(block)
	// Re-reporting the same peer is a no-op, not an error.
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(m).Error
	if err != nil {
		return err
	}
	*block = *r.mapper.ToEntity(m)
	return nil
}

func (r *BlockRepositoryImpl) GetBlockList(ctx context.Context, userId uuid.UUID) (*entity.BlockList, error) {
	var blocked []model.UserBlock
	if err := r.db.WithContext(ctx).Where("user_id = ?", userId).Find(&blocked).Error; err != nil {
		return nil, err
	}

	var blockedBy []model.UserBlock
	if err := r.db.WithContext(ctx).Where("blocked_user_id = ?", userId).Find(&blockedBy).Error; err != nil {
		return nil, err
	}

	list := &entity.BlockList{
		BlockedUserIds:   make([]uuid.UUID, len(blocked)),
		BlockedByUserIds: make([]uuid.UUID, len(blockedBy)),
	}
	for i, b := range blocked {
		list.BlockedUserIds[i] = b.BlockedUserId
	}
	for i, b := range blockedBy {
		list.BlockedByUserIds[i] = b.UserId
	}
	return list, nil
}
