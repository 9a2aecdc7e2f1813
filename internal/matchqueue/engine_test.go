package matchqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"peerlink-be/internal/entity"
	"peerlink-be/internal/repository/contract"
	"peerlink-be/internal/signaling"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*Engine, *fakeQueueRepo, *fakeMatchRepo, *fakeBus, uuid.UUID) {
	t.Helper()
	repo := newFakeQueueRepo()
	matches := &fakeMatchRepo{}
	bus := newFakeBus()
	userId := uuid.New()
	engine := NewEngine(userId, repo, matches, bus, fixedProvider{vector: []float32{0.1, 0.2}}, nil, nopLogger{})
	t.Cleanup(func() { engine.Stop(context.Background()) })
	return engine, repo, matches, bus, userId
}

func waitUpdate(t *testing.T, engine *Engine, kind UpdateKind) Update {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case u := <-engine.Updates():
			if u.Kind == kind {
				return u
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s update", kind)
		}
	}
}

func ownEntry(t *testing.T, engine *Engine) *entity.QueueEntry {
	t.Helper()
	engine.mu.Lock()
	defer engine.mu.Unlock()
	require.NotNil(t, engine.entry)
	return engine.entry
}

func TestEnterQueueEmitsWaiting(t *testing.T) {
	engine, repo, _, _, userId := newTestEngine(t)

	err := engine.EnterQueue(context.Background(), "vintage synthesizers", entity.ModeChat)
	require.NoError(t, err)

	u := waitUpdate(t, engine, UpdateStatus)
	assert.Equal(t, StatusWaiting, u.Status)
	assert.Equal(t, StatusWaiting, engine.Status())

	repo.mu.Lock()
	assert.Len(t, repo.entries, 1)
	for _, e := range repo.entries {
		assert.Equal(t, userId, e.UserId)
		assert.Equal(t, entity.QueueStatusWaiting, e.Status)
	}
	repo.mu.Unlock()

	assert.ErrorIs(t, engine.EnterQueue(context.Background(), "again", entity.ModeChat), ErrAlreadyQueued)
}

func TestEnterQueueRejectsEmptyTopic(t *testing.T) {
	engine, _, _, _, _ := newTestEngine(t)
	assert.ErrorIs(t, engine.EnterQueue(context.Background(), "", entity.ModeChat), ErrEmptyTopic)
}

func TestEnterQueueEmbeddingFailure(t *testing.T) {
	repo := newFakeQueueRepo()
	bus := newFakeBus()
	boom := errors.New("embedding service down")
	engine := NewEngine(uuid.New(), repo, &fakeMatchRepo{}, bus, failingProvider{err: boom}, nil, nopLogger{})

	err := engine.EnterQueue(context.Background(), "anything", entity.ModeVoice)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StatusError, engine.Status())

	u := waitUpdate(t, engine, UpdateStatus)
	assert.Equal(t, StatusError, u.Status)
	assert.ErrorIs(t, u.Err, boom)

	// The error state is recoverable: a retry with a working provider is
	// allowed.
	repo.mu.Lock()
	assert.Empty(t, repo.entries)
	repo.mu.Unlock()
}

func TestLeaveQueueReturnsToIdle(t *testing.T) {
	engine, repo, _, _, _ := newTestEngine(t)

	require.NoError(t, engine.EnterQueue(context.Background(), "topic", entity.ModeChat))
	waitUpdate(t, engine, UpdateStatus)

	engine.LeaveQueue(context.Background())
	u := waitUpdate(t, engine, UpdateStatus)
	assert.Equal(t, StatusIdle, u.Status)

	repo.mu.Lock()
	assert.Empty(t, repo.entries)
	repo.mu.Unlock()

	// Idempotent.
	engine.LeaveQueue(context.Background())
}

func TestPassiveMatchDiscoveryViaRowEvent(t *testing.T) {
	engine, _, matches, bus, userId := newTestEngine(t)

	require.NoError(t, engine.EnterQueue(context.Background(), "topic", entity.ModeVoice))
	waitUpdate(t, engine, UpdateStatus)
	entry := ownEntry(t, engine)

	peerId := uuid.New()
	roomId := entity.NewRoomId(userId, peerId, entity.ModeVoice, time.Now())

	require.NoError(t, bus.Publish(signaling.RowChangeSubject(entry.Id), contract.QueueRowEvent{
		Type:    contract.RowUpdated,
		QueueId: entry.Id,
		UserId:  userId,
		Status:  string(entity.QueueStatusMatched),
		RoomId:  &roomId,
	}))

	u := waitUpdate(t, engine, UpdateMatched)
	require.NotNil(t, u.Match)
	assert.Equal(t, roomId, u.Match.RoomId)
	assert.Equal(t, peerId, u.Match.PeerUserId)
	assert.False(t, u.Match.IsInitiator, "row-event discovery is always the passive side")
	assert.Equal(t, StatusMatched, engine.Status())

	// The passive side never writes the match row; the initiator does.
	matches.mu.Lock()
	assert.Empty(t, matches.saved)
	matches.mu.Unlock()
}

func TestOwnRowDeletionWhileWaitingEvicts(t *testing.T) {
	engine, _, _, bus, userId := newTestEngine(t)

	require.NoError(t, engine.EnterQueue(context.Background(), "topic", entity.ModeChat))
	waitUpdate(t, engine, UpdateStatus)
	entry := ownEntry(t, engine)

	require.NoError(t, bus.Publish(signaling.RowChangeSubject(entry.Id), contract.QueueRowEvent{
		Type:    contract.RowDeleted,
		QueueId: entry.Id,
		UserId:  userId,
	}))

	waitUpdate(t, engine, UpdateNotice)
	u := waitUpdate(t, engine, UpdateStatus)
	assert.Equal(t, StatusIdle, u.Status)
}

func TestUnsolicitedConsentBecomesInvite(t *testing.T) {
	engine, _, _, bus, _ := newTestEngine(t)

	require.NoError(t, engine.EnterQueue(context.Background(), "topic", entity.ModeChat))
	waitUpdate(t, engine, UpdateStatus)
	entry := ownEntry(t, engine)

	fromQueueId := uuid.New()
	require.NoError(t, bus.Publish(signaling.QueueSubject(entry.Id), signaling.Event{
		Type:     signaling.EventConsent,
		SenderId: uuid.New(),
		QueueId:  fromQueueId,
		Topic:    "adjacent topic",
	}))

	u := waitUpdate(t, engine, UpdateInvite)
	require.NotNil(t, u.Invite)
	assert.Equal(t, fromQueueId, u.Invite.FromQueueId)
	assert.Equal(t, "adjacent topic", u.Invite.Topic)

	_, found := engine.invites.Get(fromQueueId)
	assert.True(t, found)

	engine.DismissInvite(fromQueueId)
	_, found = engine.invites.Get(fromQueueId)
	assert.False(t, found)
}

func TestAcceptInviteFirmsUpPairing(t *testing.T) {
	engine, repo, matches, bus, userId := newTestEngine(t)

	require.NoError(t, engine.EnterQueue(context.Background(), "topic", entity.ModeChat))
	waitUpdate(t, engine, UpdateStatus)
	entry := ownEntry(t, engine)

	// Peer's entry must exist for the firm-up lookup.
	peerUserId := uuid.New()
	peerEntry := &entity.QueueEntry{
		Id:     uuid.New(),
		UserId: peerUserId,
		Topic:  "adjacent topic",
		Mode:   entity.ModeChat,
		Status: entity.QueueStatusWaiting,
	}
	require.NoError(t, repo.Create(context.Background(), peerEntry))

	require.NoError(t, bus.Publish(signaling.QueueSubject(entry.Id), signaling.Event{
		Type:     signaling.EventConsent,
		SenderId: peerUserId,
		QueueId:  peerEntry.Id,
		Topic:    peerEntry.Topic,
	}))
	waitUpdate(t, engine, UpdateInvite)

	require.NoError(t, engine.AcceptSuggestedMatch(context.Background(), peerEntry.Id))

	u := waitUpdate(t, engine, UpdateMatched)
	require.NotNil(t, u.Match)
	assert.Equal(t, peerUserId, u.Match.PeerUserId)
	assert.True(t, u.Match.IsInitiator, "the side that performed the pairing initiates")

	repo.mu.Lock()
	assert.Equal(t, 1, repo.pairCalls)
	repo.mu.Unlock()

	matches.mu.Lock()
	require.Len(t, matches.saved, 1)
	lo, hi := entity.SortUserPair(userId, peerUserId)
	assert.Equal(t, lo, matches.saved[0].PeerAId)
	assert.Equal(t, hi, matches.saved[0].PeerBId)
	matches.mu.Unlock()
}

func TestLosingPairRaceFollowsWinnersRoom(t *testing.T) {
	engine, repo, matches, bus, _ := newTestEngine(t)

	require.NoError(t, engine.EnterQueue(context.Background(), "topic", entity.ModeVoice))
	waitUpdate(t, engine, UpdateStatus)
	entry := ownEntry(t, engine)

	peerUserId := uuid.New()
	peerEntry := &entity.QueueEntry{
		Id:     uuid.New(),
		UserId: peerUserId,
		Topic:  "topic",
		Mode:   entity.ModeVoice,
		Status: entity.QueueStatusWaiting,
	}
	require.NoError(t, repo.Create(context.Background(), peerEntry))

	winnersRoom := entity.NewRoomId(engine.userId, peerUserId, entity.ModeVoice, time.Now())
	repo.mu.Lock()
	repo.pairRoomId = winnersRoom
	repo.pairPaired = false
	repo.mu.Unlock()

	require.NoError(t, bus.Publish(signaling.QueueSubject(entry.Id), signaling.Event{
		Type:     signaling.EventConsent,
		SenderId: peerUserId,
		QueueId:  peerEntry.Id,
	}))
	waitUpdate(t, engine, UpdateInvite)

	require.NoError(t, engine.AcceptSuggestedMatch(context.Background(), peerEntry.Id))

	u := waitUpdate(t, engine, UpdateMatched)
	require.NotNil(t, u.Match)
	assert.Equal(t, winnersRoom, u.Match.RoomId)
	assert.False(t, u.Match.IsInitiator)

	matches.mu.Lock()
	assert.Empty(t, matches.saved, "only the race winner records the match row")
	matches.mu.Unlock()
}

func TestConsentCandidateGone(t *testing.T) {
	engine, repo, _, bus, _ := newTestEngine(t)

	require.NoError(t, engine.EnterQueue(context.Background(), "topic", entity.ModeChat))
	waitUpdate(t, engine, UpdateStatus)
	entry := ownEntry(t, engine)

	// Invite from an entry that no longer exists by accept time.
	ghostQueueId := uuid.New()
	require.NoError(t, bus.Publish(signaling.QueueSubject(entry.Id), signaling.Event{
		Type:     signaling.EventConsent,
		SenderId: uuid.New(),
		QueueId:  ghostQueueId,
	}))
	waitUpdate(t, engine, UpdateInvite)

	require.NoError(t, engine.AcceptSuggestedMatch(context.Background(), ghostQueueId))

	u := waitUpdate(t, engine, UpdateNotice)
	assert.Contains(t, u.Notice, "no longer available")
	assert.Equal(t, StatusWaiting, engine.Status(), "still queued after a dead-end consent")

	repo.mu.Lock()
	assert.Equal(t, 0, repo.pairCalls)
	repo.mu.Unlock()
}

func TestIncomingRejectClearsSuggestion(t *testing.T) {
	engine, repo, _, bus, _ := newTestEngine(t)

	require.NoError(t, engine.EnterQueue(context.Background(), "topic", entity.ModeChat))
	waitUpdate(t, engine, UpdateStatus)
	entry := ownEntry(t, engine)

	candidate := &contract.ScoredCandidate{
		QueueId:    uuid.New(),
		UserId:     uuid.New(),
		Topic:      "nearby",
		Similarity: 0.4,
	}
	repo.mu.Lock()
	repo.candidates = []*contract.ScoredCandidate{candidate}
	repo.mu.Unlock()

	engine.refreshSuggestion(context.Background(), entry, nil)
	u := waitUpdate(t, engine, UpdateSuggestion)
	require.NotNil(t, u.Suggestion)
	assert.Equal(t, candidate.QueueId, u.Suggestion.QueueId)

	require.NoError(t, engine.AcceptSuggestedMatch(context.Background(), candidate.QueueId))
	require.NoError(t, bus.Publish(signaling.QueueSubject(entry.Id), signaling.Event{
		Type:     signaling.EventReject,
		SenderId: candidate.UserId,
		QueueId:  candidate.QueueId,
	}))

	u = waitUpdate(t, engine, UpdateSuggestion)
	assert.Nil(t, u.Suggestion, "rejection clears the slot")
	waitUpdate(t, engine, UpdateNotice)
	assert.Equal(t, StatusWaiting, engine.Status())
}

func TestRefreshSuggestionChangeOnly(t *testing.T) {
	engine, repo, _, _, _ := newTestEngine(t)

	require.NoError(t, engine.EnterQueue(context.Background(), "topic", entity.ModeChat))
	waitUpdate(t, engine, UpdateStatus)
	entry := ownEntry(t, engine)

	candidate := &contract.ScoredCandidate{
		QueueId:    uuid.New(),
		UserId:     uuid.New(),
		Topic:      "nearby",
		Similarity: 0.42,
	}
	repo.mu.Lock()
	repo.candidates = []*contract.ScoredCandidate{candidate}
	repo.mu.Unlock()

	engine.refreshSuggestion(context.Background(), entry, nil)
	waitUpdate(t, engine, UpdateSuggestion)

	// Identical candidate state: no re-notification.
	engine.refreshSuggestion(context.Background(), entry, nil)
	select {
	case u := <-engine.Updates():
		t.Fatalf("unexpected %s update for unchanged suggestion", u.Kind)
	case <-time.After(100 * time.Millisecond):
	}

	// A changed score on the same candidate does re-notify.
	repo.mu.Lock()
	repo.candidates = []*contract.ScoredCandidate{{
		QueueId:    candidate.QueueId,
		UserId:     candidate.UserId,
		Topic:      candidate.Topic,
		Similarity: 0.55,
	}}
	repo.mu.Unlock()
	engine.refreshSuggestion(context.Background(), entry, nil)
	u := waitUpdate(t, engine, UpdateSuggestion)
	require.NotNil(t, u.Suggestion)
	assert.Equal(t, 0.55, u.Suggestion.Similarity)
}

func TestSuggestedEntryDisappearing(t *testing.T) {
	engine, repo, _, bus, _ := newTestEngine(t)

	require.NoError(t, engine.EnterQueue(context.Background(), "topic", entity.ModeChat))
	waitUpdate(t, engine, UpdateStatus)
	entry := ownEntry(t, engine)

	candidate := &contract.ScoredCandidate{
		QueueId:    uuid.New(),
		UserId:     uuid.New(),
		Topic:      "nearby",
		Similarity: 0.3,
	}
	repo.mu.Lock()
	repo.candidates = []*contract.ScoredCandidate{candidate}
	repo.mu.Unlock()

	engine.refreshSuggestion(context.Background(), entry, nil)
	waitUpdate(t, engine, UpdateSuggestion)

	require.NoError(t, bus.Publish(signaling.RowChangeSubject(candidate.QueueId), contract.QueueRowEvent{
		Type:    contract.RowDeleted,
		QueueId: candidate.QueueId,
		UserId:  candidate.UserId,
	}))

	u := waitUpdate(t, engine, UpdateSuggestion)
	assert.Nil(t, u.Suggestion)
	waitUpdate(t, engine, UpdateNotice)
}

func TestPollPathMatchPromotesInitiator(t *testing.T) {
	engine, repo, matches, _, userId := newTestEngine(t)

	require.NoError(t, engine.EnterQueue(context.Background(), "topic", entity.ModeVoice))
	waitUpdate(t, engine, UpdateStatus)

	peerId := uuid.New()
	roomId := entity.NewRoomId(userId, peerId, entity.ModeVoice, time.Now())
	repo.mu.Lock()
	repo.matchResult = &contract.MatchResult{
		RoomId:     roomId,
		PeerUserId: peerId,
		Similarity: 0.91,
	}
	repo.mu.Unlock()

	engine.pollOnce(context.Background())

	u := waitUpdate(t, engine, UpdateMatched)
	require.NotNil(t, u.Match)
	assert.True(t, u.Match.IsInitiator, "the discovering poller initiates")
	assert.Equal(t, roomId, u.Match.RoomId)

	matches.mu.Lock()
	assert.Len(t, matches.saved, 1)
	matches.mu.Unlock()

	// A duplicate report of the same pairing is swallowed.
	engine.completeMatch(roomId, peerId, false)
	select {
	case u := <-engine.Updates():
		t.Fatalf("unexpected %s update after duplicate match report", u.Kind)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestLateSuggestionRefreshAfterLeaveReleasesWatch(t *testing.T) {
	engine, repo, _, bus, _ := newTestEngine(t)

	require.NoError(t, engine.EnterQueue(context.Background(), "topic", entity.ModeChat))
	waitUpdate(t, engine, UpdateStatus)
	entry := ownEntry(t, engine)

	repo.mu.Lock()
	repo.candidates = []*contract.ScoredCandidate{{
		QueueId:    uuid.New(),
		UserId:     uuid.New(),
		Topic:      "nearby",
		Similarity: 0.4,
	}}
	repo.mu.Unlock()

	engine.LeaveQueue(context.Background())
	require.Equal(t, 0, bus.liveSubscriptions(), "teardown reaps every subscription")

	// A poll tick already past its own liveness check can finish after
	// teardown and try to register a watch on the suggested entry.
	engine.refreshSuggestion(context.Background(), entry, nil)

	assert.Equal(t, 0, bus.liveSubscriptions(), "a watch created after teardown is released")
}
