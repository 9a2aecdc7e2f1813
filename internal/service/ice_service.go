package service

import (
	"context"
	"time"

	"peerlink-be/internal/config"
	"peerlink-be/internal/pkg/logger"

	"github.com/patrickmn/go-cache"
	"github.com/pion/webrtc/v4"
)

const iceCacheKey = "ice-servers"

// CredentialProvider fetches short-lived TURN credentials from an external
// provisioner. Optional; absent or failing providers fall back to the
// statically configured servers.
type CredentialProvider interface {
	FetchIceServers(ctx context.Context) ([]webrtc.ICEServer, error)
}

// IceConfigService provisions the ICE server set for new peer connections.
// Results are cached for the configured TTL because TURN credentials are
// typically minted with expiries much longer than one negotiation.
type IceConfigService struct {
	cfg      config.RtcConfig
	provider CredentialProvider
	cache    *cache.Cache
	log      logger.ILogger
}

func NewIceConfigService(cfg config.RtcConfig, provider CredentialProvider, log logger.ILogger) *IceConfigService {
	ttl := time.Duration(cfg.IceCacheTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &IceConfigService{
		cfg:      cfg,
		provider: provider,
		cache:    cache.New(ttl, time.Minute),
		log:      log,
	}
}

// Servers returns the ICE server list, preferring provisioned TURN
// credentials and degrading to the STUN-only static configuration. Never
// returns an empty list and never fails the caller.
func (s *IceConfigService) Servers(ctx context.Context) []webrtc.ICEServer {
	if cached, found := s.cache.Get(iceCacheKey); found {
		return cached.([]webrtc.ICEServer)
	}

	servers := s.static()
	if s.provider != nil {
		provisioned, err := s.provider.FetchIceServers(ctx)
		if err != nil {
			s.log.Warn("Ice", "Provisioning failed, using static fallback", map[string]interface{}{
				"error": err.Error(),
			})
		} else if len(provisioned) > 0 {
			servers = provisioned
		}
	}

	s.cache.Set(iceCacheKey, servers, cache.DefaultExpiration)
	return servers
}

func (s *IceConfigService) static() []webrtc.ICEServer {
	servers := []webrtc.ICEServer{{URLs: s.cfg.StunServers}}
	if s.cfg.TurnURL != "" {
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{s.cfg.TurnURL},
			Username:   s.cfg.TurnUser,
			Credential: s.cfg.TurnPass,
		})
	}
	return servers
}
