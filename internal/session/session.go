package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"peerlink-be/internal/entity"
	"peerlink-be/internal/matchqueue"
	"peerlink-be/internal/pkg/logger"
	"peerlink-be/internal/repository/contract"
	"peerlink-be/internal/rtc"
	"peerlink-be/internal/service"
	"peerlink-be/internal/signaling"
	"peerlink-be/pkg/embedding"

	"github.com/google/uuid"
)

var (
	ErrNoActiveRoom  = errors.New("no active room")
	ErrNoActiveMatch = errors.New("no active match to report")
)

// EventKind discriminates session events delivered to the consumer.
type EventKind string

const (
	EventStatus     EventKind = "status"
	EventMatch      EventKind = "match"
	EventSuggestion EventKind = "suggestion"
	EventInvite     EventKind = "invite"
	EventNotice     EventKind = "notice"
	EventChat       EventKind = "chat"
	EventTyping     EventKind = "typing"
)

// Event is one externally observable session transition. Exactly one
// payload field is meaningful, selected by Kind.
type Event struct {
	Kind       EventKind
	Status     Status
	Match      *matchqueue.MatchInfo
	Suggestion *entity.SuggestedMatch
	Invite     *entity.ConsentInvite
	Notice     string
	Message    *entity.ChatMessage
	PeerTyping bool
}

// Deps are the collaborators a Session composes. Identity is injected;
// nothing here is process-global.
type Deps struct {
	QueueRepo  contract.QueueRepository
	MatchRepo  contract.MatchRepository
	BlockRepo  contract.BlockRepository
	Bus        signaling.Bus
	Embeddings embedding.Provider
	Ice        *service.IceConfigService
	Audio      rtc.AudioSource
	Log        logger.ILogger
}

// Session is the façade over the match queue engine, the peer-connection
// orchestrator and the media control: one object per connected user, one
// composite status, one event stream. All failures are converted into
// status/notice events at the async boundary that caused them; nothing
// escapes to the consumer as a panic or an unhandled error.
type Session struct {
	userId  uuid.UUID
	engine  *matchqueue.Engine
	blocks  *service.BlockListService
	ice     *service.IceConfigService
	matches contract.MatchRepository
	bus     signaling.Bus
	audio   rtc.AudioSource
	log     logger.ILogger

	events chan Event

	mu        sync.Mutex
	orch      *rtc.Orchestrator
	current   *matchqueue.MatchInfo
	transport rtc.TransportState
	mediaErr  error
	status    Status
	lastTopic string
	lastMode  entity.Mode
	wantAudio bool
	muted     bool
	closed    bool
	cancel    context.CancelFunc
}

func New(userId uuid.UUID, deps Deps) *Session {
	s := &Session{
		userId:  userId,
		blocks:  service.NewBlockListService(userId, deps.BlockRepo, deps.Log),
		ice:     deps.Ice,
		matches: deps.MatchRepo,
		bus:     deps.Bus,
		audio:   deps.Audio,
		log:     deps.Log,
		status:  StatusIdle,
		events:  make(chan Event, 64),
	}
	s.engine = matchqueue.NewEngine(
		userId,
		deps.QueueRepo,
		deps.MatchRepo,
		deps.Bus,
		deps.Embeddings,
		s.blocks.Exclusion,
		deps.Log,
	)
	return s
}

// Start loads the block list and begins consuming engine updates. A block
// list load failure is logged, not fatal; matching proceeds without
// exclusions until the next session.
func (s *Session) Start(ctx context.Context) {
	_ = s.blocks.Load(ctx)

	pumpCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	go s.pump(pumpCtx)
}

// Events delivers session transitions. Never closed; consumers stop
// reading when they close the session.
func (s *Session) Events() <-chan Event {
	return s.events
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) emit(event Event) {
	select {
	case s.events <- event:
	default:
		s.log.Warn("Session", "Event channel full, dropping event", map[string]interface{}{
			"kind": string(event.Kind),
		})
	}
}

// emitStatus recomputes the composite status and emits it when it changed.
func (s *Session) emitStatus() {
	s.mu.Lock()
	next := deriveStatus(s.mediaErr, s.engine.Status(), s.transport)
	changed := next != s.status
	s.status = next
	s.mu.Unlock()

	if changed {
		s.emit(Event{Kind: EventStatus, Status: next})
	}
}

func (s *Session) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case update := <-s.engine.Updates():
			s.handleEngineUpdate(update)
		}
	}
}

func (s *Session) handleEngineUpdate(update matchqueue.Update) {
	switch update.Kind {
	case matchqueue.UpdateStatus:
		s.emitStatus()
	case matchqueue.UpdateMatched:
		s.emit(Event{Kind: EventMatch, Match: update.Match})
		s.startRoom(update.Match)
	case matchqueue.UpdateSuggestion:
		s.emit(Event{Kind: EventSuggestion, Suggestion: update.Suggestion})
	case matchqueue.UpdateInvite:
		s.emit(Event{Kind: EventInvite, Invite: update.Invite})
	case matchqueue.UpdateNotice:
		s.emit(Event{Kind: EventNotice, Notice: update.Notice})
	}
}

// startRoom builds the orchestrator for a fresh match and begins
// negotiation. Transport creation failures map to a media status; the
// session does not retry on its own.
func (s *Session) startRoom(match *matchqueue.MatchInfo) {
	if match == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	servers := s.ice.Servers(ctx)

	var orch *rtc.Orchestrator
	callbacks := rtc.Callbacks{
		OnStateChange: func(state rtc.TransportState) {
			s.handleTransportState(orch, state)
		},
		OnRemoteEnd: func() {
			s.requeue("Your match left. Looking for someone new.")
		},
		OnChatMessage: func(msg entity.ChatMessage) {
			m := msg
			s.emit(Event{Kind: EventChat, Message: &m})
		},
		OnPeerTyping: func(typing bool) {
			s.emit(Event{Kind: EventTyping, PeerTyping: typing})
		},
	}
	orch = rtc.NewOrchestrator(servers, s.bus, s.audio, callbacks, s.log)

	s.mu.Lock()
	s.current = match
	s.orch = orch
	s.transport = ""
	withAudio := match.Mode == entity.ModeVoice || s.wantAudio
	muted := s.muted
	s.mu.Unlock()

	if err := orch.Start(context.Background(), match.RoomId, s.userId, match.IsInitiator, withAudio); err != nil {
		s.log.Error("Session", "Failed to start negotiation", map[string]interface{}{
			"room_id": match.RoomId, "error": err.Error(),
		})
		s.mu.Lock()
		s.orch = nil
		s.current = nil
		if errors.Is(err, rtc.ErrPermissionDenied) || errors.Is(err, rtc.ErrNoDevice) {
			s.mediaErr = err
		} else {
			// Inability to create a local transport at all.
			s.mediaErr = errors.Join(rtc.ErrSessionClosed, err)
		}
		s.mu.Unlock()
		s.engine.LeaveQueue(context.Background())
		s.emitStatus()
		return
	}

	if muted {
		_ = orch.SetMuted(true)
	}
}

func (s *Session) handleTransportState(from *rtc.Orchestrator, state rtc.TransportState) {
	s.mu.Lock()
	if s.orch != from {
		s.mu.Unlock()
		return // stale callback from a torn-down room
	}
	s.transport = state
	s.mu.Unlock()

	switch state {
	case rtc.TransportConnected:
		// The shared queue row has served its purpose once connected.
		go s.engine.ReleaseEntry(context.Background())
		s.emitStatus()
	case rtc.TransportFailed:
		s.emitStatus()
		s.requeue("Connection failed. Looking for someone new.")
	case rtc.TransportClosed:
		// Teardown paths emit their own status.
	default:
		s.emitStatus()
	}
}

// requeue tears the room down and re-enters the queue with the last topic
// and mode. Used for peer-initiated ends, negotiation failures and reports.
func (s *Session) requeue(notice string) {
	s.closeRoom(false)

	s.mu.Lock()
	topic := s.lastTopic
	mode := s.lastMode
	closed := s.closed
	s.mu.Unlock()

	if notice != "" {
		s.emit(Event{Kind: EventNotice, Notice: notice})
	}
	if closed || topic == "" {
		s.emitStatus()
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		// The block list may have grown since session start, on either
		// side of a report. Refresh the snapshot so the exclusion fast
		// path matches what the resolver enforces in SQL.
		_ = s.blocks.Load(ctx)
		s.engine.LeaveQueue(ctx)
		if err := s.engine.EnterQueue(ctx, topic, mode); err != nil {
			s.log.Error("Session", "Automatic re-queue failed", map[string]interface{}{"error": err.Error()})
		}
		s.emitStatus()
	}()
}

func (s *Session) closeRoom(announce bool) {
	s.mu.Lock()
	orch := s.orch
	s.orch = nil
	s.current = nil
	s.transport = ""
	s.mu.Unlock()

	if orch == nil {
		return
	}
	if announce {
		orch.End()
	} else {
		orch.Close()
	}
}

// EnterQueue starts matchmaking. Clears any previous media error: a new
// attempt gets a clean slate.
func (s *Session) EnterQueue(ctx context.Context, topic string, mode entity.Mode) error {
	s.mu.Lock()
	s.lastTopic = topic
	s.lastMode = mode
	s.mediaErr = nil
	s.mu.Unlock()

	err := s.engine.EnterQueue(ctx, topic, mode)
	s.emitStatus()
	return err
}

// LeaveQueue abandons matchmaking and any in-flight negotiation.
func (s *Session) LeaveQueue(ctx context.Context) {
	s.closeRoom(true)
	s.engine.LeaveQueue(ctx)
	s.emitStatus()
}

func (s *Session) AcceptSuggestedMatch(ctx context.Context, targetQueueId uuid.UUID) error {
	return s.engine.AcceptSuggestedMatch(ctx, targetQueueId)
}

func (s *Session) RejectSuggestedMatch(ctx context.Context, targetQueueId uuid.UUID) error {
	return s.engine.RejectSuggestedMatch(ctx, targetQueueId)
}

func (s *Session) DismissInvite(fromQueueId uuid.UUID) {
	s.engine.DismissInvite(fromQueueId)
}

// SendChatMessage transmits over the data channel of the active room.
func (s *Session) SendChatMessage(text string) (entity.ChatMessage, error) {
	s.mu.Lock()
	orch := s.orch
	s.mu.Unlock()
	if orch == nil {
		return entity.ChatMessage{}, ErrNoActiveRoom
	}
	return orch.SendChatMessage(text)
}

func (s *Session) SendTypingStart() {
	s.mu.Lock()
	orch := s.orch
	s.mu.Unlock()
	if orch != nil {
		orch.SendTypingStart()
	}
}

func (s *Session) SendTypingStop() {
	s.mu.Lock()
	orch := s.orch
	s.mu.Unlock()
	if orch != nil {
		orch.SendTypingStop()
	}
}

func (s *Session) ChatHistory() []entity.ChatMessage {
	s.mu.Lock()
	orch := s.orch
	s.mu.Unlock()
	if orch == nil {
		return nil
	}
	return orch.ChatHistory()
}

// RequestLocalAudio grants the microphone. Before a room exists it only
// records intent for the next negotiation; during negotiation it attaches
// the track; after the connection is established it is rejected.
func (s *Session) RequestLocalAudio() error {
	s.mu.Lock()
	s.wantAudio = true
	orch := s.orch
	s.mu.Unlock()

	if orch == nil {
		return nil
	}
	err := orch.RequestLocalAudio()
	if errors.Is(err, rtc.ErrPermissionDenied) || errors.Is(err, rtc.ErrNoDevice) {
		s.mu.Lock()
		s.mediaErr = err
		s.mu.Unlock()
		s.emitStatus()
	}
	return err
}

func (s *Session) SetMuted(muted bool) error {
	s.mu.Lock()
	s.muted = muted
	orch := s.orch
	s.mu.Unlock()

	if orch == nil {
		return nil
	}
	return orch.SetMuted(muted)
}

func (s *Session) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// End terminates everything: the active room (announced to the peer) and
// queue membership. The user is done, not re-queued.
func (s *Session) End(ctx context.Context) {
	s.closeRoom(true)
	s.engine.LeaveQueue(ctx)
	s.emitStatus()
}

// ReportPeer files a moderation block against the current peer: the peer
// joins the local exclusion set immediately, the shared Match row is
// removed so the pairing cannot be resumed, the room is torn down and the
// user is returned to the queue. The two can never be paired again.
func (s *Session) ReportPeer(ctx context.Context) error {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()
	if current == nil {
		return ErrNoActiveMatch
	}

	if err := s.blocks.MarkUserBlocked(ctx, current.PeerUserId); err != nil {
		// Local exclusion already applied; the durable write failing does
		// not keep the report from taking effect for this session.
		s.log.Warn("Session", "Block persisted locally only", map[string]interface{}{"error": err.Error()})
	}
	if err := s.matches.Delete(ctx, current.RoomId); err != nil {
		s.log.Warn("Session", "Failed to delete reported match row", map[string]interface{}{
			"room_id": current.RoomId, "error": err.Error(),
		})
	}

	s.closeRoom(true)
	s.requeue("Report filed. Looking for someone new.")
	return nil
}

// Close shuts the session down entirely. Idempotent.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	s.closeRoom(true)
	s.engine.Stop(ctx)
	if cancel != nil {
		cancel()
	}
}
