package memory

import (
	"time"

	"peerlink-be/internal/entity"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// inviteTTL is how long a consent invitation stays actionable. Invites are
// transient and dismissible; an unanswered one simply expires.
const inviteTTL = 45 * time.Second

// InviteRepository holds pending consent invitations in memory, keyed by the
// inviting queue entry id. Invites never touch durable storage.
type InviteRepository struct {
	cache *cache.Cache
}

func NewInviteRepository() *InviteRepository {
	return &InviteRepository{
		cache: cache.New(inviteTTL, time.Minute),
	}
}

func (r *InviteRepository) Save(invite *entity.ConsentInvite) {
	r.cache.Set(invite.FromQueueId.String(), invite, cache.DefaultExpiration)
}

func (r *InviteRepository) Get(fromQueueId uuid.UUID) (*entity.ConsentInvite, bool) {
	if x, found := r.cache.Get(fromQueueId.String()); found {
		return x.(*entity.ConsentInvite), true
	}
	return nil, false
}

func (r *InviteRepository) Delete(fromQueueId uuid.UUID) {
	r.cache.Delete(fromQueueId.String())
}

func (r *InviteRepository) Clear() {
	r.cache.Flush()
}
