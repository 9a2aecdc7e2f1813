package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"peerlink-be/internal/entity"
	"peerlink-be/internal/repository/contract"
	"peerlink-be/internal/signaling"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Debug(string, string, map[string]interface{}) {}
func (nopLogger) Info(string, string, map[string]interface{})  {}
func (nopLogger) Warn(string, string, map[string]interface{})  {}
func (nopLogger) Error(string, string, map[string]interface{}) {}
func (nopLogger) Sync() error                                  { return nil }

type nopUnsub struct{}

func (nopUnsub) Unsubscribe() error { return nil }

type stubBus struct{}

func (stubBus) Publish(string, interface{}) error { return nil }
func (stubBus) Subscribe(string, func([]byte)) (signaling.Unsubscriber, error) {
	return nopUnsub{}, nil
}

type stubProvider struct{}

func (stubProvider) Generate(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

type stubQueueRepo struct {
	mu      sync.Mutex
	created []*entity.QueueEntry
}

func (r *stubQueueRepo) Create(ctx context.Context, entry *entity.QueueEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, entry)
	return nil
}
func (r *stubQueueRepo) createdCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.created)
}
func (r *stubQueueRepo) Delete(context.Context, uuid.UUID) error         { return nil }
func (r *stubQueueRepo) DeleteByUserId(context.Context, uuid.UUID) error { return nil }
func (r *stubQueueRepo) FindOne(context.Context, uuid.UUID) (*entity.QueueEntry, error) {
	return nil, nil
}
func (r *stubQueueRepo) TouchHeartbeat(context.Context, uuid.UUID) error         { return nil }
func (r *stubQueueRepo) SetConsent(context.Context, uuid.UUID, *uuid.UUID) error { return nil }
func (r *stubQueueRepo) FindMatch(context.Context, *entity.QueueEntry, []uuid.UUID, float64) (*contract.MatchResult, error) {
	return nil, nil
}
func (r *stubQueueRepo) SuggestCandidates(context.Context, *entity.QueueEntry, []uuid.UUID, float64, int) ([]*contract.ScoredCandidate, error) {
	return nil, nil
}
func (r *stubQueueRepo) PairEntries(context.Context, uuid.UUID, uuid.UUID, string) (string, bool, error) {
	return "", false, nil
}
func (r *stubQueueRepo) DeleteStale(context.Context, time.Duration) (int64, error) {
	return 0, nil
}

type stubMatchRepo struct{}

func (stubMatchRepo) Save(context.Context, *entity.Match) error           { return nil }
func (stubMatchRepo) Find(context.Context, string) (*entity.Match, error) { return nil, nil }
func (stubMatchRepo) Delete(context.Context, string) error                { return nil }

type scriptedBlockRepo struct {
	mu    sync.Mutex
	list  entity.BlockList
	loads int
}

func (r *scriptedBlockRepo) Create(context.Context, *entity.UserBlock) error { return nil }

func (r *scriptedBlockRepo) GetBlockList(context.Context, uuid.UUID) (*entity.BlockList, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loads++
	list := r.list
	return &list, nil
}

func (r *scriptedBlockRepo) setBlockedBy(userId uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.list.BlockedByUserIds = append(r.list.BlockedByUserIds, userId)
}

func (r *scriptedBlockRepo) loadCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loads
}

// A block persisted after session start (the other side of a report) must
// reach this session's exclusion snapshot before the automatic re-queue
// resolves anything.
func TestRequeueRefreshesBlockListSnapshot(t *testing.T) {
	queueRepo := &stubQueueRepo{}
	blockRepo := &scriptedBlockRepo{}

	s := New(uuid.New(), Deps{
		QueueRepo:  queueRepo,
		MatchRepo:  stubMatchRepo{},
		BlockRepo:  blockRepo,
		Bus:        stubBus{},
		Embeddings: stubProvider{},
		Log:        nopLogger{},
	})
	s.Start(context.Background())
	defer s.Close(context.Background())

	require.Equal(t, 1, blockRepo.loadCount())
	assert.Empty(t, s.blocks.Exclusion())

	// Simulate an earlier enterQueue so the re-queue has a topic to reuse.
	s.mu.Lock()
	s.lastTopic = "amateur astronomy"
	s.lastMode = entity.ModeChat
	s.mu.Unlock()

	// The peer reports this user mid-session; only the store learns of it.
	reporter := uuid.New()
	blockRepo.setBlockedBy(reporter)

	s.requeue("The session ended")

	require.Eventually(t, func() bool {
		return queueRepo.createdCount() == 1
	}, 2*time.Second, 10*time.Millisecond, "re-queue should create a fresh entry")

	assert.Equal(t, 2, blockRepo.loadCount())
	assert.Contains(t, s.blocks.Exclusion(), reporter)
}
