package implementation

import (
	"context"
	"errors"
	"time"

	"peerlink-be/internal/entity"
	"peerlink-be/internal/mapper"
	"peerlink-be/internal/model"
	"peerlink-be/internal/repository/contract"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type QueueRepositoryImpl struct {
	db       *gorm.DB
	mapper   *mapper.QueueMapper
	notifier contract.QueueNotifier
}

// NewQueueRepository creates the postgres-backed queue store. The notifier
// receives a row-change event after every committed mutation; it may be nil
// in tests.
func NewQueueRepository(db *gorm.DB, notifier contract.QueueNotifier) contract.QueueRepository {
	return &QueueRepositoryImpl{
		db:       db,
		mapper:   mapper.NewQueueMapper(),
		notifier: notifier,
	}
}

func (r *QueueRepositoryImpl) notify(ctx context.Context, event contract.QueueRowEvent) {
	if r.notifier != nil {
		r.notifier.NotifyRowChange(ctx, event)
	}
}

func (r *QueueRepositoryImpl) Create(ctx context.Context, entry *entity.QueueEntry) error {
	m := r.mapper.ToModel(entry)
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	*entry = *r.mapper.ToEntity(m)
	return nil
}

func (r *QueueRepositoryImpl) Delete(ctx context.Context, id uuid.UUID) error {
	var m model.QueueEntry
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	if err := r.db.WithContext(ctx).Delete(&model.QueueEntry{}, "id = ?", id).Error; err != nil {
		return err
	}

	r.notify(ctx, contract.QueueRowEvent{
		Type:    contract.RowDeleted,
		QueueId: m.Id,
		UserId:  m.UserId,
	})
	return nil
}

func (r *QueueRepositoryImpl) DeleteByUserId(ctx context.Context, userId uuid.UUID) error {
	var models []*model.QueueEntry
	if err := r.db.WithContext(ctx).Where("user_id = ?", userId).Find(&models).Error; err != nil {
		return err
	}
	if len(models) == 0 {
		return nil
	}

	if err := r.db.WithContext(ctx).Where("user_id = ?", userId).Delete(&model.QueueEntry{}).Error; err != nil {
		return err
	}

	for _, m := range models {
		r.notify(ctx, contract.QueueRowEvent{
			Type:    contract.RowDeleted,
			QueueId: m.Id,
			UserId:  m.UserId,
		})
	}
	return nil
}

func (r *QueueRepositoryImpl) FindOne(ctx context.Context, id uuid.UUID) (*entity.QueueEntry, error) {
	var m model.QueueEntry
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.mapper.ToEntity(&m), nil
}

func (r *QueueRepositoryImpl) TouchHeartbeat(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&model.QueueEntry{}).
		Where("id = ?", id).
		Update("updated_at", time.Now()).Error
}

func (r *QueueRepositoryImpl) SetConsent(ctx context.Context, id uuid.UUID, consentedQueueId *uuid.UUID) error {
	err := r.db.WithContext(ctx).
		Model(&model.QueueEntry{}).
		Where("id = ?", id).
		Update("consented_queue_id", consentedQueueId).Error
	if err != nil {
		return err
	}
	// Consent changes are delivered via the per-entry broadcast channel,
	// not row-change events, so no notification here.
	return nil
}

// blockExclusionCondition enforces block exclusivity at the source of
// truth. The caller-supplied exclusion list is a snapshot loaded at session
// start; a block persisted mid-session must keep both directions apart on
// the very next resolver call, including for the blocked side, whose
// snapshot never contains the new row.
const blockExclusionCondition = `NOT EXISTS (
	SELECT 1 FROM user_blocks b
	WHERE (b.user_id = ? AND b.blocked_user_id = queue_entries.user_id)
	   OR (b.user_id = queue_entries.user_id AND b.blocked_user_id = ?)
)`

// scoredRow carries a queue entry together with its cosine similarity to the
// caller's embedding. pgvector's <=> operator is cosine distance, so
// similarity = 1 - distance.
type scoredRow struct {
	model.QueueEntry
	Similarity float64
}

func (r *QueueRepositoryImpl) FindMatch(ctx context.Context, own *entity.QueueEntry, excludedUserIds []uuid.UUID, threshold float64) (*contract.MatchResult, error) {
	var result *contract.MatchResult
	var events []contract.QueueRowEvent

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Lock our own row first. A concurrent poller on the other side may
		// have paired us already; in that case the pairing arrives through
		// the row-change watch and this poll returns empty-handed.
		var ownRow model.QueueEntry
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", own.Id).
			First(&ownRow).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if ownRow.Status != string(entity.QueueStatusWaiting) {
			return nil
		}

		queryVector := pgvector.NewVector(own.TopicEmbedding)

		var candidate scoredRow
		query := tx.Model(&model.QueueEntry{}).
			Select("queue_entries.*, 1 - (topic_embedding <=> ?) AS similarity", queryVector).
			Where("status = ?", string(entity.QueueStatusWaiting)).
			Where("mode = ?", string(own.Mode)).
			Where("user_id <> ?", own.UserId).
			Where("1 - (topic_embedding <=> ?) >= ?", queryVector, threshold).
			Where(blockExclusionCondition, own.UserId, own.UserId)
		if len(excludedUserIds) > 0 {
			query = query.Where("user_id NOT IN ?", excludedUserIds)
		}
		// SKIP LOCKED keeps concurrent pollers from blocking on a candidate
		// another transaction is already reserving.
		err = query.Order("similarity DESC").
			Limit(1).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Take(&candidate).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		roomId := entity.NewRoomId(own.UserId, candidate.UserId, own.Mode, time.Now())

		pairUpdate := map[string]interface{}{
			"status":  string(entity.QueueStatusMatched),
			"room_id": roomId,
		}
		if err := tx.Model(&model.QueueEntry{}).Where("id IN ?", []uuid.UUID{ownRow.Id, candidate.Id}).Updates(pairUpdate).Error; err != nil {
			return err
		}

		result = &contract.MatchResult{
			RoomId:      roomId,
			PeerUserId:  candidate.UserId,
			PeerQueueId: candidate.Id,
			PeerTopic:   candidate.Topic,
			Similarity:  candidate.Similarity,
		}
		events = append(events,
			contract.QueueRowEvent{
				Type:    contract.RowUpdated,
				QueueId: ownRow.Id,
				UserId:  ownRow.UserId,
				Status:  string(entity.QueueStatusMatched),
				RoomId:  &roomId,
			},
			contract.QueueRowEvent{
				Type:    contract.RowUpdated,
				QueueId: candidate.Id,
				UserId:  candidate.UserId,
				Status:  string(entity.QueueStatusMatched),
				RoomId:  &roomId,
			},
		)
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Notify only after the transaction committed, so late subscribers
	// never observe a pairing that rolled back.
	for _, event := range events {
		r.notify(ctx, event)
	}
	return result, nil
}

func (r *QueueRepositoryImpl) SuggestCandidates(ctx context.Context, own *entity.QueueEntry, excludedUserIds []uuid.UUID, floor float64, limit int) ([]*contract.ScoredCandidate, error) {
	if limit <= 0 {
		limit = 5
	}

	queryVector := pgvector.NewVector(own.TopicEmbedding)

	var rows []scoredRow
	query := r.db.WithContext(ctx).
		Model(&model.QueueEntry{}).
		Select("queue_entries.*, 1 - (topic_embedding <=> ?) AS similarity", queryVector).
		Where("status = ?", string(entity.QueueStatusWaiting)).
		Where("mode = ?", string(own.Mode)).
		Where("user_id <> ?", own.UserId).
		Where("1 - (topic_embedding <=> ?) >= ?", queryVector, floor).
		Where(blockExclusionCondition, own.UserId, own.UserId)
	if len(excludedUserIds) > 0 {
		query = query.Where("user_id NOT IN ?", excludedUserIds)
	}
	if err := query.Order("similarity DESC").Limit(limit).Scan(&rows).Error; err != nil {
		return nil, err
	}

	candidates := make([]*contract.ScoredCandidate, len(rows))
	for i, row := range rows {
		candidates[i] = &contract.ScoredCandidate{
			QueueId:           row.Id,
			UserId:            row.UserId,
			Topic:             row.Topic,
			Similarity:        row.Similarity,
			PeerConsentedToMe: row.ConsentedQueueId != nil && *row.ConsentedQueueId == own.Id,
		}
	}
	return candidates, nil
}

func (r *QueueRepositoryImpl) PairEntries(ctx context.Context, ownQueueId, peerQueueId uuid.UUID, roomId string) (string, bool, error) {
	finalRoomId := roomId
	paired := false
	var events []contract.QueueRowEvent

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Lock both rows in id order so two sides confirming simultaneously
		// serialize instead of deadlocking.
		ids := []uuid.UUID{ownQueueId, peerQueueId}
		if ids[1].String() < ids[0].String() {
			ids[0], ids[1] = ids[1], ids[0]
		}

		var rows []model.QueueEntry
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id IN ?", ids).
			Order("id").
			Find(&rows).Error
		if err != nil {
			return err
		}
		if len(rows) != 2 {
			return contract.ErrCandidateGone
		}

		var ownRow, peerRow model.QueueEntry
		for _, row := range rows {
			if row.Id == ownQueueId {
				ownRow = row
			} else {
				peerRow = row
			}
		}

		// The other side may have won the race; adopt its room id. But a
		// peer that paired with a third party while our row is still
		// waiting is gone, not adopted.
		if ownRow.Status == string(entity.QueueStatusMatched) && ownRow.RoomId != nil {
			finalRoomId = *ownRow.RoomId
			return nil
		}
		if peerRow.Status == string(entity.QueueStatusMatched) {
			return contract.ErrCandidateGone
		}

		pairUpdate := map[string]interface{}{
			"status":  string(entity.QueueStatusMatched),
			"room_id": roomId,
		}
		if err := tx.Model(&model.QueueEntry{}).Where("id IN ?", ids).Updates(pairUpdate).Error; err != nil {
			return err
		}
		paired = true

		for _, row := range rows {
			events = append(events, contract.QueueRowEvent{
				Type:    contract.RowUpdated,
				QueueId: row.Id,
				UserId:  row.UserId,
				Status:  string(entity.QueueStatusMatched),
				RoomId:  &roomId,
			})
		}
		return nil
	})
	if err != nil {
		return "", false, err
	}

	for _, event := range events {
		r.notify(ctx, event)
	}
	return finalRoomId, paired, nil
}

func (r *QueueRepositoryImpl) DeleteStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge)

	var models []*model.QueueEntry
	if err := r.db.WithContext(ctx).Where("updated_at < ?", cutoff).Find(&models).Error; err != nil {
		return 0, err
	}
	if len(models) == 0 {
		return 0, nil
	}

	ids := make([]uuid.UUID, len(models))
	for i, m := range models {
		ids[i] = m.Id
	}

	res := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&model.QueueEntry{})
	if res.Error != nil {
		return 0, res.Error
	}

	for _, m := range models {
		r.notify(ctx, contract.QueueRowEvent{
			Type:    contract.RowDeleted,
			QueueId: m.Id,
			UserId:  m.UserId,
		})
	}
	return res.RowsAffected, nil
}
