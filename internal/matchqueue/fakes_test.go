package matchqueue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"peerlink-be/internal/entity"
	"peerlink-be/internal/repository/contract"
	"peerlink-be/internal/signaling"

	"github.com/google/uuid"
)

type nopLogger struct{}

func (nopLogger) Debug(string, string, map[string]interface{}) {}
func (nopLogger) Info(string, string, map[string]interface{})  {}
func (nopLogger) Warn(string, string, map[string]interface{})  {}
func (nopLogger) Error(string, string, map[string]interface{}) {}
func (nopLogger) Sync() error                                  { return nil }

// fakeBus dispatches published events synchronously to in-process
// subscribers, JSON round-tripping payloads the way the real substrate does.
type fakeBus struct {
	mu       sync.Mutex
	handlers map[string][]func([]byte)
	active   int
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: map[string][]func([]byte){}}
}

func (b *fakeBus) Publish(subject string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	b.mu.Lock()
	handlers := append([]func([]byte){}, b.handlers[subject]...)
	b.mu.Unlock()
	for _, h := range handlers {
		h(data)
	}
	return nil
}

type fakeUnsub struct {
	bus  *fakeBus
	done bool
}

func (u *fakeUnsub) Unsubscribe() error {
	u.bus.mu.Lock()
	defer u.bus.mu.Unlock()
	if !u.done {
		u.done = true
		u.bus.active--
	}
	return nil
}

func (b *fakeBus) Subscribe(subject string, handler func(data []byte)) (signaling.Unsubscriber, error) {
	b.mu.Lock()
	b.handlers[subject] = append(b.handlers[subject], handler)
	b.active++
	b.mu.Unlock()
	return &fakeUnsub{bus: b}, nil
}

func (b *fakeBus) liveSubscriptions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

type fixedProvider struct {
	vector []float32
}

func (p fixedProvider) Generate(context.Context, string) ([]float32, error) {
	return p.vector, nil
}

type failingProvider struct {
	err error
}

func (p failingProvider) Generate(context.Context, string) ([]float32, error) {
	return nil, p.err
}

// fakeQueueRepo is an in-memory QueueRepository with scriptable FindMatch,
// SuggestCandidates and PairEntries results.
type fakeQueueRepo struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*entity.QueueEntry

	matchResult *contract.MatchResult
	candidates  []*contract.ScoredCandidate

	pairRoomId string
	pairPaired bool
	pairErr    error
	pairCalls  int

	consentSet map[uuid.UUID]*uuid.UUID
}

func newFakeQueueRepo() *fakeQueueRepo {
	return &fakeQueueRepo{
		entries:    map[uuid.UUID]*entity.QueueEntry{},
		consentSet: map[uuid.UUID]*uuid.UUID{},
	}
}

func (r *fakeQueueRepo) Create(_ context.Context, entry *entity.QueueEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *entry
	r.entries[entry.Id] = &cp
	return nil
}

func (r *fakeQueueRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
	return nil
}

func (r *fakeQueueRepo) DeleteByUserId(_ context.Context, userId uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.entries {
		if e.UserId == userId {
			delete(r.entries, id)
		}
	}
	return nil
}

func (r *fakeQueueRepo) FindOne(_ context.Context, id uuid.UUID) (*entity.QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, nil
}

func (r *fakeQueueRepo) TouchHeartbeat(context.Context, uuid.UUID) error { return nil }

func (r *fakeQueueRepo) SetConsent(_ context.Context, id uuid.UUID, consentedQueueId *uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consentSet[id] = consentedQueueId
	return nil
}

func (r *fakeQueueRepo) FindMatch(context.Context, *entity.QueueEntry, []uuid.UUID, float64) (*contract.MatchResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.matchResult, nil
}

func (r *fakeQueueRepo) SuggestCandidates(context.Context, *entity.QueueEntry, []uuid.UUID, float64, int) ([]*contract.ScoredCandidate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.candidates, nil
}

func (r *fakeQueueRepo) PairEntries(_ context.Context, _, _ uuid.UUID, roomId string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pairCalls++
	if r.pairErr != nil {
		return "", false, r.pairErr
	}
	if r.pairRoomId != "" {
		return r.pairRoomId, r.pairPaired, nil
	}
	return roomId, true, nil
}

func (r *fakeQueueRepo) DeleteStale(context.Context, time.Duration) (int64, error) { return 0, nil }

type fakeMatchRepo struct {
	mu    sync.Mutex
	saved []*entity.Match
}

func (r *fakeMatchRepo) Save(_ context.Context, match *entity.Match) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, match)
	return nil
}

func (r *fakeMatchRepo) Find(context.Context, string) (*entity.Match, error) { return nil, nil }
func (r *fakeMatchRepo) Delete(context.Context, string) error                { return nil }
