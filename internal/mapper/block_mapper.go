package mapper

import (
	"peerlink-be/internal/entity"
	"peerlink-be/internal/model"
)

type BlockMapper struct{}

func NewBlockMapper() *BlockMapper {
	return &BlockMapper{}
}

func (m *BlockMapper) ToEntity(b *model.UserBlock) *entity.UserBlock {
	if b == nil {
		return nil
	}

	return &entity.UserBlock{
		Id:            b.Id,
		UserId:        b.UserId,
		BlockedUserId: b.BlockedUserId,
		CreatedAt:     b.CreatedAt,
	}
}

func (m *BlockMapper) ToModel(b *entity.UserBlock) *model.UserBlock {
	if b == nil {
		return nil
	}

	return &model.UserBlock{
		Id:            b.Id,
		UserId:        b.UserId,
		BlockedUserId: b.BlockedUserId,
		CreatedAt:     b.CreatedAt,
	}
}
