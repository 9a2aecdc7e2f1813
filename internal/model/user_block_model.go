package model

import (
	"time"

	"github.com/google/uuid"
)

type UserBlock struct {
	Id            uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	UserId        uuid.UUID `gorm:"type:uuid;not null;index:idx_user_blocks_pair,unique"`
	BlockedUserId uuid.UUID `gorm:"type:uuid;not null;index:idx_user_blocks_pair,unique;index"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

func (UserBlock) TableName() string {
	return "user_blocks"
}
