package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

type QueueEntry struct {
	Id               uuid.UUID       `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	UserId           uuid.UUID       `gorm:"type:uuid;not null;index"`
	Topic            string          `gorm:"type:text;not null"`
	TopicEmbedding   pgvector.Vector `gorm:"type:vector(768)"`
	Mode             string          `gorm:"type:varchar(16);not null;index"`
	Status           string          `gorm:"type:varchar(16);not null;index;default:'waiting'"`
	ConsentedQueueId *uuid.UUID      `gorm:"type:uuid"`
	RoomId           *string         `gorm:"type:text"`
	CreatedAt        time.Time       `gorm:"autoCreateTime"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime;index"`
}

func (QueueEntry) TableName() string {
	return "queue_entries"
}
