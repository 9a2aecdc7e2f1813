package matchqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"peerlink-be/internal/entity"
	"peerlink-be/internal/pkg/logger"
	"peerlink-be/internal/repository/contract"
	"peerlink-be/internal/repository/memory"
	"peerlink-be/internal/signaling"
	"peerlink-be/pkg/embedding"

	"github.com/google/uuid"
)

var (
	ErrNotQueued     = errors.New("no active queue entry")
	ErrAlreadyQueued = errors.New("queue entry already active")
	ErrEmptyTopic    = errors.New("topic must not be empty")
)

// Engine owns one user's queue membership: the decaying-threshold poll loop,
// the heartbeat, the mutual-consent handshake and the suggestion slot. It
// emits Updates on a buffered channel; the session façade is the consumer.
//
// Identity is injected configuration; the engine never reads any
// process-global state.
type Engine struct {
	repo     contract.QueueRepository
	matches  contract.MatchRepository
	bus      signaling.Bus
	provider embedding.Provider
	invites  *memory.InviteRepository
	log      logger.ILogger

	userId uuid.UUID

	// exclusion snapshots the combined block list (both directions) for
	// every resolver call.
	exclusion func() []uuid.UUID

	updates chan Update

	mu              sync.Mutex
	status          Status
	entry           *entity.QueueEntry
	enteredAt       time.Time
	suggestion      *entity.SuggestedMatch
	consentedTo     *uuid.UUID
	matched         bool
	cancel          context.CancelFunc
	consentCh       *signaling.ConsentChannel
	rowWatch        signaling.Unsubscriber
	suggestionWatch signaling.Unsubscriber

	// pollBusy guards against overlapping poll ticks: a tick still in
	// flight causes the next one to be skipped, never run concurrently.
	pollBusy atomic.Bool
}

func NewEngine(
	userId uuid.UUID,
	repo contract.QueueRepository,
	matches contract.MatchRepository,
	bus signaling.Bus,
	provider embedding.Provider,
	exclusion func() []uuid.UUID,
	log logger.ILogger,
) *Engine {
	if exclusion == nil {
		exclusion = func() []uuid.UUID { return nil }
	}
	return &Engine{
		repo:      repo,
		matches:   matches,
		bus:       bus,
		provider:  provider,
		invites:   memory.NewInviteRepository(),
		log:       log,
		userId:    userId,
		exclusion: exclusion,
		status:    StatusIdle,
		updates:   make(chan Update, 64),
	}
}

// Updates delivers engine state transitions. The channel is never closed;
// consumers stop reading when they tear the engine down.
func (e *Engine) Updates() <-chan Update {
	return e.updates
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *Engine) emit(update Update) {
	select {
	case e.updates <- update:
	default:
		e.log.Warn("MatchQueue", "Update channel full, dropping update", map[string]interface{}{
			"kind": string(update.Kind),
		})
	}
}

func (e *Engine) setError(err error) {
	e.mu.Lock()
	e.status = StatusError
	e.mu.Unlock()
	e.emit(Update{Kind: UpdateStatus, Status: StatusError, Err: err})
}

// EnterQueue requests an embedding for the topic, self-heals any orphaned
// row, inserts a fresh waiting entry and starts the poll and heartbeat
// loops. Failures surface as StatusError; the caller must re-invoke to
// retry.
func (e *Engine) EnterQueue(ctx context.Context, topic string, mode entity.Mode) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	e.mu.Lock()
	if e.status == StatusWaiting || e.status == StatusMatched {
		e.mu.Unlock()
		return ErrAlreadyQueued
	}
	e.mu.Unlock()

	// Self-heal: a crashed session may have left an orphaned row behind.
	if err := e.repo.DeleteByUserId(ctx, e.userId); err != nil {
		e.setError(fmt.Errorf("clearing previous queue entry: %w", err))
		return err
	}

	vector, err := e.provider.Generate(ctx, topic)
	if err != nil {
		err = fmt.Errorf("generating topic embedding: %w", err)
		e.setError(err)
		return err
	}

	entry := &entity.QueueEntry{
		Id:             uuid.New(),
		UserId:         e.userId,
		Topic:          topic,
		TopicEmbedding: vector,
		Mode:           mode,
		Status:         entity.QueueStatusWaiting,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if err := e.repo.Create(ctx, entry); err != nil {
		err = fmt.Errorf("inserting queue entry: %w", err)
		e.setError(err)
		return err
	}

	consentCh, err := signaling.OpenConsentChannel(e.bus, entry.Id, e.userId, e.handleConsentEvent, e.log)
	if err != nil {
		_ = e.repo.Delete(ctx, entry.Id)
		e.setError(err)
		return err
	}
	rowWatch, err := signaling.WatchQueueEntry(e.bus, entry.Id, e.handleOwnRowEvent, e.log)
	if err != nil {
		_ = consentCh.Close()
		_ = e.repo.Delete(ctx, entry.Id)
		e.setError(err)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())

	e.mu.Lock()
	e.entry = entry
	e.enteredAt = time.Now()
	e.status = StatusWaiting
	e.matched = false
	e.suggestion = nil
	e.consentedTo = nil
	e.cancel = cancel
	e.consentCh = consentCh
	e.rowWatch = rowWatch
	e.mu.Unlock()

	go e.pollLoop(runCtx)
	go e.heartbeatLoop(runCtx)

	e.emit(Update{Kind: UpdateStatus, Status: StatusWaiting})
	return nil
}

// LeaveQueue is idempotent. Local state is reset and all timers and
// subscriptions are torn down before the row delete goes out: a failed
// delete leaves an orphaned row that the stale sweep (or the next
// EnterQueue) cleans up.
func (e *Engine) LeaveQueue(ctx context.Context) {
	entry := e.teardown(StatusIdle)
	e.emit(Update{Kind: UpdateStatus, Status: StatusIdle})

	if entry != nil {
		if err := e.repo.Delete(ctx, entry.Id); err != nil {
			e.log.Warn("MatchQueue", "Failed to delete queue entry, row will be swept", map[string]interface{}{
				"queue_id": entry.Id.String(),
				"error":    err.Error(),
			})
		}
	}
}

// Stop cancels all engine activity without emitting a status transition.
// Used when the owning session goes away entirely.
func (e *Engine) Stop(ctx context.Context) {
	entry := e.teardown(StatusIdle)
	if entry != nil {
		_ = e.repo.Delete(ctx, entry.Id)
	}
}

// ReleaseEntry deletes the user's queue row after a successful pairing.
// Queue status stays matched; only the shared row goes away.
func (e *Engine) ReleaseEntry(ctx context.Context) {
	e.mu.Lock()
	entry := e.entry
	e.entry = nil
	e.mu.Unlock()

	if entry != nil {
		if err := e.repo.Delete(ctx, entry.Id); err != nil {
			e.log.Warn("MatchQueue", "Failed pairing cleanup of queue entry", map[string]interface{}{
				"queue_id": entry.Id.String(),
				"error":    err.Error(),
			})
		}
	}
}

// teardown synchronously stops timers and subscriptions before any async
// gap, so no stale callback can mutate state after logical session end.
func (e *Engine) teardown(next Status) *entity.QueueEntry {
	e.mu.Lock()
	entry := e.entry
	cancel := e.cancel
	consentCh := e.consentCh
	rowWatch := e.rowWatch
	suggestionWatch := e.suggestionWatch
	e.entry = nil
	e.status = next
	e.suggestion = nil
	e.consentedTo = nil
	e.matched = false
	e.cancel = nil
	e.consentCh = nil
	e.rowWatch = nil
	e.suggestionWatch = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if consentCh != nil {
		_ = consentCh.Close()
	}
	if rowWatch != nil {
		_ = rowWatch.Unsubscribe()
	}
	if suggestionWatch != nil {
		_ = suggestionWatch.Unsubscribe()
	}
	e.invites.Clear()
	return entry
}

func (e *Engine) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !e.pollBusy.CompareAndSwap(false, true) {
				continue // previous tick still in flight
			}
			e.pollOnce(ctx)
			e.pollBusy.Store(false)
		}
	}
}

func (e *Engine) pollOnce(ctx context.Context) {
	e.mu.Lock()
	if e.status != StatusWaiting || e.entry == nil {
		e.mu.Unlock()
		return
	}
	entry := e.entry
	elapsed := time.Since(e.enteredAt)
	e.mu.Unlock()

	threshold := ThresholdAt(elapsed)
	excluded := e.exclusion()

	result, err := e.repo.FindMatch(ctx, entry, excluded, threshold)
	if err != nil {
		// Transient: the next tick is the retry path.
		e.log.Warn("MatchQueue", "Match poll failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if result != nil {
		e.completeMatch(result.RoomId, result.PeerUserId, true)
		return
	}

	if atFloor(threshold) {
		e.refreshSuggestion(ctx, entry, excluded)
	}
}

func (e *Engine) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.mu.Lock()
			entry := e.entry
			waiting := e.status == StatusWaiting
			e.mu.Unlock()
			if !waiting || entry == nil {
				continue
			}
			if err := e.repo.TouchHeartbeat(ctx, entry.Id); err != nil {
				e.log.Warn("MatchQueue", "Heartbeat failed", map[string]interface{}{
					"queue_id": entry.Id.String(),
					"error":    err.Error(),
				})
			}
		}
	}
}

func (e *Engine) refreshSuggestion(ctx context.Context, entry *entity.QueueEntry, excluded []uuid.UUID) {
	candidates, err := e.repo.SuggestCandidates(ctx, entry, excluded, SuggestionFloor, 1)
	if err != nil {
		e.log.Warn("MatchQueue", "Suggestion query failed", map[string]interface{}{"error": err.Error()})
		return
	}

	var next *entity.SuggestedMatch
	if len(candidates) > 0 {
		best := candidates[0]
		next = &entity.SuggestedMatch{
			QueueId:           best.QueueId,
			Topic:             best.Topic,
			Similarity:        best.Similarity,
			PeerConsentedToMe: best.PeerConsentedToMe,
		}
	}

	e.mu.Lock()
	if e.suggestion.Equal(next) {
		e.mu.Unlock()
		return
	}
	identityChanged := next == nil || e.suggestion == nil || e.suggestion.QueueId != next.QueueId
	oldWatch := e.suggestionWatch
	if identityChanged {
		e.suggestionWatch = nil
	}
	e.suggestion = next
	e.mu.Unlock()

	if identityChanged {
		if oldWatch != nil {
			_ = oldWatch.Unsubscribe()
		}
		if next != nil {
			watch, err := signaling.WatchQueueEntry(e.bus, next.QueueId, e.handleSuggestionRowEvent, e.log)
			if err != nil {
				e.log.Warn("MatchQueue", "Failed to watch suggested entry", map[string]interface{}{
					"queue_id": next.QueueId.String(),
					"error":    err.Error(),
				})
			} else {
				// teardown may have reaped subscriptions while the watch
				// was being set up; a watch stored after that would leak
				// until process exit.
				e.mu.Lock()
				stillWanted := e.entry != nil && e.suggestion != nil && e.suggestion.QueueId == next.QueueId
				if stillWanted {
					e.suggestionWatch = watch
				}
				e.mu.Unlock()
				if !stillWanted {
					_ = watch.Unsubscribe()
				}
			}
		}
	}

	e.emit(Update{Kind: UpdateSuggestion, Suggestion: copySuggestion(next)})
}

func copySuggestion(s *entity.SuggestedMatch) *entity.SuggestedMatch {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// completeMatch is the single funnel into the matched state. Idempotent:
// the poll path, the consent path and the row-change watch can all race to
// report the same pairing.
func (e *Engine) completeMatch(roomId string, peerUserId uuid.UUID, isInitiator bool) {
	e.mu.Lock()
	if e.matched || e.entry == nil {
		e.mu.Unlock()
		return
	}
	e.matched = true
	e.status = StatusMatched
	topic := e.entry.Topic
	mode := e.entry.Mode
	cancel := e.cancel
	consentCh := e.consentCh
	suggestionWatch := e.suggestionWatch
	e.cancel = nil
	e.consentCh = nil
	e.suggestionWatch = nil
	e.suggestion = nil
	e.consentedTo = nil
	e.mu.Unlock()

	// Stop the loops and the consent machinery; the row watch stays up
	// only long enough for teardown to reap it.
	if cancel != nil {
		cancel()
	}
	if consentCh != nil {
		_ = consentCh.Close()
	}
	if suggestionWatch != nil {
		_ = suggestionWatch.Unsubscribe()
	}
	e.invites.Clear()

	if isInitiator && e.matches != nil {
		peerA, peerB := entity.SortUserPair(e.userId, peerUserId)
		saveCtx, cancelSave := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelSave()
		err := e.matches.Save(saveCtx, &entity.Match{
			RoomId:    roomId,
			PeerAId:   peerA,
			PeerBId:   peerB,
			Topic:     topic,
			Mode:      mode,
			CreatedAt: time.Now(),
		})
		if err != nil {
			e.log.Warn("MatchQueue", "Failed to record match row", map[string]interface{}{
				"room_id": roomId,
				"error":   err.Error(),
			})
		}
	}

	e.log.Info("MatchQueue", "Matched", map[string]interface{}{
		"room_id":   roomId,
		"peer":      peerUserId.String(),
		"initiator": isInitiator,
	})

	e.emit(Update{Kind: UpdateMatched, Status: StatusMatched, Match: &MatchInfo{
		RoomId:      roomId,
		PeerUserId:  peerUserId,
		Topic:       topic,
		Mode:        mode,
		IsInitiator: isInitiator,
	}})
}

// handleOwnRowEvent reacts to changes of the user's own queue row: the
// passive side of a pairing discovers its room here, and an external
// eviction (stale sweep) surfaces as a return to idle.
func (e *Engine) handleOwnRowEvent(event contract.QueueRowEvent) {
	switch event.Type {
	case contract.RowUpdated:
		if event.Status == string(entity.QueueStatusMatched) && event.RoomId != nil {
			peerA, peerB, err := entity.ParseRoomPeers(*event.RoomId)
			if err != nil {
				e.log.Warn("MatchQueue", "Ignoring pairing with malformed room id", map[string]interface{}{
					"room_id": *event.RoomId,
					"error":   err.Error(),
				})
				return
			}
			peer := peerA
			if peer == e.userId {
				peer = peerB
			}
			e.completeMatch(*event.RoomId, peer, false)
		}
	case contract.RowDeleted:
		e.mu.Lock()
		evicted := e.status == StatusWaiting && !e.matched && e.entry != nil
		e.mu.Unlock()
		if evicted {
			e.teardown(StatusIdle)
			e.emit(Update{Kind: UpdateNotice, Notice: "You were removed from the queue after a connection problem."})
			e.emit(Update{Kind: UpdateStatus, Status: StatusIdle})
		}
	}
}

// handleSuggestionRowEvent is the liveness watch on the currently suggested
// candidate's queue row.
func (e *Engine) handleSuggestionRowEvent(event contract.QueueRowEvent) {
	if event.Type == contract.RowUpdated && event.Status == string(entity.QueueStatusWaiting) {
		return
	}
	// A transition into our own pairing is not "candidate gone".
	if event.RoomId != nil {
		if peerA, peerB, err := entity.ParseRoomPeers(*event.RoomId); err == nil {
			if peerA == e.userId || peerB == e.userId {
				return
			}
		}
	}

	e.mu.Lock()
	if e.matched || e.suggestion == nil || e.suggestion.QueueId != event.QueueId {
		e.mu.Unlock()
		return
	}
	e.suggestion = nil
	watch := e.suggestionWatch
	e.suggestionWatch = nil
	e.mu.Unlock()

	if watch != nil {
		_ = watch.Unsubscribe()
	}
	e.emit(Update{Kind: UpdateSuggestion, Suggestion: nil})
	e.emit(Update{Kind: UpdateNotice, Notice: "That person is no longer available."})
}
