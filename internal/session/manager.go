package session

import (
	"context"
	"sync"

	"peerlink-be/internal/pkg/logger"
	"peerlink-be/internal/repository/contract"
	"peerlink-be/internal/rtc"
	"peerlink-be/internal/service"
	"peerlink-be/internal/signaling"
	"peerlink-be/pkg/embedding"

	"github.com/google/uuid"
)

// Manager tracks at most one live Session per user. A second acquisition
// for the same user closes the previous session first, so a reconnecting
// client never ends up with two competing queue entries.
type Manager struct {
	queueRepo  contract.QueueRepository
	matchRepo  contract.MatchRepository
	blockRepo  contract.BlockRepository
	bus        signaling.Bus
	embeddings embedding.Provider
	ice        *service.IceConfigService
	audio      rtc.AudioSource
	log        logger.ILogger

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
}

func NewManager(
	queueRepo contract.QueueRepository,
	matchRepo contract.MatchRepository,
	blockRepo contract.BlockRepository,
	bus signaling.Bus,
	embeddings embedding.Provider,
	ice *service.IceConfigService,
	audio rtc.AudioSource,
	log logger.ILogger,
) *Manager {
	return &Manager{
		queueRepo:  queueRepo,
		matchRepo:  matchRepo,
		blockRepo:  blockRepo,
		bus:        bus,
		embeddings: embeddings,
		ice:        ice,
		audio:      audio,
		log:        log,
		sessions:   make(map[uuid.UUID]*Session),
	}
}

// Acquire returns a started session for the user, replacing any previous
// one.
func (m *Manager) Acquire(ctx context.Context, userId uuid.UUID) *Session {
	m.mu.Lock()
	previous := m.sessions[userId]
	delete(m.sessions, userId)
	m.mu.Unlock()

	if previous != nil {
		m.log.Info("Session", "Replacing existing session", map[string]interface{}{
			"user_id": userId.String(),
		})
		previous.Close(ctx)
	}

	s := New(userId, Deps{
		QueueRepo:  m.queueRepo,
		MatchRepo:  m.matchRepo,
		BlockRepo:  m.blockRepo,
		Bus:        m.bus,
		Embeddings: m.embeddings,
		Ice:        m.ice,
		Audio:      m.audio,
		Log:        m.log,
	})
	s.Start(ctx)

	m.mu.Lock()
	m.sessions[userId] = s
	m.mu.Unlock()
	return s
}

// Release closes the user's session if it is the given one. A stale
// release (the user already re-acquired) is a no-op.
func (m *Manager) Release(ctx context.Context, userId uuid.UUID, s *Session) {
	m.mu.Lock()
	if m.sessions[userId] != s {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, userId)
	m.mu.Unlock()

	s.Close(ctx)
}

// Shutdown closes every live session.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[uuid.UUID]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close(ctx)
	}
}
