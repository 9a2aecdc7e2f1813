package matchqueue

import (
	"context"
	"errors"
	"time"

	"peerlink-be/internal/entity"
	"peerlink-be/internal/repository/contract"
	"peerlink-be/internal/signaling"

	"github.com/google/uuid"
)

// AcceptSuggestedMatch records consent for the given queue entry and signals
// it to the peer. When the peer has already consented to us (a reciprocation,
// or an accepted invite), the pairing is firmed up immediately.
func (e *Engine) AcceptSuggestedMatch(ctx context.Context, targetQueueId uuid.UUID) error {
	e.mu.Lock()
	if e.status != StatusWaiting || e.entry == nil {
		e.mu.Unlock()
		return ErrNotQueued
	}
	entry := e.entry
	consentCh := e.consentCh
	reciprocating := e.suggestion != nil &&
		e.suggestion.QueueId == targetQueueId &&
		e.suggestion.PeerConsentedToMe
	if _, invited := e.invites.Get(targetQueueId); invited {
		reciprocating = true
	}
	target := targetQueueId
	e.consentedTo = &target
	e.mu.Unlock()

	if err := e.repo.SetConsent(ctx, entry.Id, &target); err != nil {
		e.mu.Lock()
		e.consentedTo = nil
		e.mu.Unlock()
		return err
	}

	if consentCh != nil {
		err := consentCh.SendTo(targetQueueId, signaling.Event{
			Type:  signaling.EventConsent,
			Topic: entry.Topic,
		})
		if err != nil {
			e.log.Warn("MatchQueue", "Failed to signal consent", map[string]interface{}{
				"target": targetQueueId.String(),
				"error":  err.Error(),
			})
		}
	}

	if reciprocating {
		e.firmUpConsent(ctx, targetQueueId)
	}
	return nil
}

// RejectSuggestedMatch withdraws any recorded consent, signals the rejection
// to the peer and clears the local suggestion slot.
func (e *Engine) RejectSuggestedMatch(ctx context.Context, targetQueueId uuid.UUID) error {
	e.mu.Lock()
	if e.status != StatusWaiting || e.entry == nil {
		e.mu.Unlock()
		return ErrNotQueued
	}
	entry := e.entry
	consentCh := e.consentCh
	e.consentedTo = nil
	clearedSlot := e.suggestion != nil && e.suggestion.QueueId == targetQueueId
	var watch signaling.Unsubscriber
	if clearedSlot {
		e.suggestion = nil
		watch = e.suggestionWatch
		e.suggestionWatch = nil
	}
	e.mu.Unlock()

	if err := e.repo.SetConsent(ctx, entry.Id, nil); err != nil {
		e.log.Warn("MatchQueue", "Failed to clear consent", map[string]interface{}{"error": err.Error()})
	}
	if consentCh != nil {
		if err := consentCh.SendTo(targetQueueId, signaling.Event{Type: signaling.EventReject}); err != nil {
			e.log.Warn("MatchQueue", "Failed to signal rejection", map[string]interface{}{
				"target": targetQueueId.String(),
				"error":  err.Error(),
			})
		}
	}
	if watch != nil {
		_ = watch.Unsubscribe()
	}
	e.invites.Delete(targetQueueId)
	if clearedSlot {
		e.emit(Update{Kind: UpdateSuggestion, Suggestion: nil})
	}
	return nil
}

// DismissInvite drops a pending invitation without signaling anything to the
// inviter; their consent simply never gets reciprocated.
func (e *Engine) DismissInvite(fromQueueId uuid.UUID) {
	e.invites.Delete(fromQueueId)
}

// handleConsentEvent runs on the signaling subscription goroutine.
func (e *Engine) handleConsentEvent(event signaling.Event) {
	switch event.Type {
	case signaling.EventConsent:
		e.handleIncomingConsent(event)
	case signaling.EventReject:
		e.handleIncomingReject(event)
	}
}

func (e *Engine) handleIncomingConsent(event signaling.Event) {
	e.mu.Lock()
	if e.matched || e.status != StatusWaiting {
		e.mu.Unlock()
		return
	}
	reciprocated := e.consentedTo != nil && *e.consentedTo == event.QueueId
	matchesSuggestion := e.suggestion != nil && e.suggestion.QueueId == event.QueueId
	var suggestion *entity.SuggestedMatch
	if matchesSuggestion && !e.suggestion.PeerConsentedToMe {
		e.suggestion.PeerConsentedToMe = true
		suggestion = copySuggestion(e.suggestion)
	}
	e.mu.Unlock()

	if reciprocated {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		e.firmUpConsent(ctx, event.QueueId)
		return
	}

	if matchesSuggestion {
		if suggestion != nil {
			e.emit(Update{Kind: UpdateSuggestion, Suggestion: suggestion})
		}
		return
	}

	// Unsolicited consent from someone we are not even looking at: surface
	// it as a dismissible invitation.
	invite := &entity.ConsentInvite{
		FromQueueId: event.QueueId,
		Topic:       event.Topic,
		ReceivedAt:  time.Now(),
	}
	e.invites.Save(invite)
	e.emit(Update{Kind: UpdateInvite, Invite: invite})
}

func (e *Engine) handleIncomingReject(event signaling.Event) {
	e.mu.Lock()
	if e.matched {
		e.mu.Unlock()
		return
	}
	withdrawnConsent := e.consentedTo != nil && *e.consentedTo == event.QueueId
	if withdrawnConsent {
		e.consentedTo = nil
	}
	clearedSlot := e.suggestion != nil && e.suggestion.QueueId == event.QueueId
	var watch signaling.Unsubscriber
	if clearedSlot {
		e.suggestion = nil
		watch = e.suggestionWatch
		e.suggestionWatch = nil
	}
	entry := e.entry
	e.mu.Unlock()

	if withdrawnConsent && entry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.repo.SetConsent(ctx, entry.Id, nil); err != nil {
			e.log.Warn("MatchQueue", "Failed to clear consent after rejection", map[string]interface{}{"error": err.Error()})
		}
	}
	if watch != nil {
		_ = watch.Unsubscribe()
	}
	e.invites.Delete(event.QueueId)
	if clearedSlot {
		e.emit(Update{Kind: UpdateSuggestion, Suggestion: nil})
	}
	e.emit(Update{Kind: UpdateNotice, Notice: "They declined. Still looking for someone else."})
}

// clearCandidate drops recorded consent and, when the given entry occupies
// the suggestion slot, clears the slot and its liveness watch.
func (e *Engine) clearCandidate(targetQueueId uuid.UUID) {
	e.mu.Lock()
	e.consentedTo = nil
	clearedSlot := e.suggestion != nil && e.suggestion.QueueId == targetQueueId
	var watch signaling.Unsubscriber
	if clearedSlot {
		e.suggestion = nil
		watch = e.suggestionWatch
		e.suggestionWatch = nil
	}
	e.mu.Unlock()

	if watch != nil {
		_ = watch.Unsubscribe()
	}
	e.invites.Delete(targetQueueId)
	if clearedSlot {
		e.emit(Update{Kind: UpdateSuggestion, Suggestion: nil})
	}
}

// firmUpConsent turns a mutual consent into a real pairing. Both sides race
// through here; PairEntries decides the winner and the winner becomes the
// negotiation initiator.
func (e *Engine) firmUpConsent(ctx context.Context, targetQueueId uuid.UUID) {
	e.mu.Lock()
	if e.matched || e.entry == nil {
		e.mu.Unlock()
		return
	}
	entry := e.entry
	e.mu.Unlock()

	target, err := e.repo.FindOne(ctx, targetQueueId)
	if err != nil {
		e.log.Warn("MatchQueue", "Consent firm-up lookup failed", map[string]interface{}{
			"target": targetQueueId.String(),
			"error":  err.Error(),
		})
		return
	}
	if target == nil {
		e.clearCandidate(targetQueueId)
		e.emit(Update{Kind: UpdateNotice, Notice: "That person is no longer available."})
		return
	}

	roomId := entity.NewRoomId(e.userId, target.UserId, entry.Mode, time.Now())
	finalRoomId, paired, err := e.repo.PairEntries(ctx, entry.Id, target.Id, roomId)
	if errors.Is(err, contract.ErrCandidateGone) {
		e.clearCandidate(targetQueueId)
		e.emit(Update{Kind: UpdateNotice, Notice: "That person is no longer available."})
		return
	}
	if err != nil {
		e.log.Warn("MatchQueue", "Consent firm-up pairing failed", map[string]interface{}{
			"target": targetQueueId.String(),
			"error":  err.Error(),
		})
		return
	}

	// paired=false means the peer's firm-up won the race or a poll pairing
	// landed first; either way finalRoomId is the room to join, and the
	// other side initiates.
	e.completeMatch(finalRoomId, target.UserId, paired)
}
