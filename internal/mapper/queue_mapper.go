package mapper

import (
	"peerlink-be/internal/entity"
	"peerlink-be/internal/model"

	"github.com/pgvector/pgvector-go"
)

type QueueMapper struct{}

func NewQueueMapper() *QueueMapper {
	return &QueueMapper{}
}

func (m *QueueMapper) ToEntity(q *model.QueueEntry) *entity.QueueEntry {
	if q == nil {
		return nil
	}

	return &entity.QueueEntry{
		Id:               q.Id,
		UserId:           q.UserId,
		Topic:            q.Topic,
		TopicEmbedding:   q.TopicEmbedding.Slice(),
		Mode:             entity.Mode(q.Mode),
		Status:           entity.QueueStatus(q.Status),
		ConsentedQueueId: q.ConsentedQueueId,
		RoomId:           q.RoomId,
		CreatedAt:        q.CreatedAt,
		UpdatedAt:        q.UpdatedAt,
	}
}

func (m *QueueMapper) ToModel(q *entity.QueueEntry) *model.QueueEntry {
	if q == nil {
		return nil
	}

	return &model.QueueEntry{
		Id:               q.Id,
		UserId:           q.UserId,
		Topic:            q.Topic,
		TopicEmbedding:   pgvector.NewVector(q.TopicEmbedding),
		Mode:             string(q.Mode),
		Status:           string(q.Status),
		ConsentedQueueId: q.ConsentedQueueId,
		RoomId:           q.RoomId,
		CreatedAt:        q.CreatedAt,
		UpdatedAt:        q.UpdatedAt,
	}
}

func (m *QueueMapper) ToEntities(models []*model.QueueEntry) []*entity.QueueEntry {
	entities := make([]*entity.QueueEntry, len(models))
	for i, q := range models {
		entities[i] = m.ToEntity(q)
	}
	return entities
}
