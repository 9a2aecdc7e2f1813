package service

import (
	"context"
	"errors"
	"testing"

	"peerlink-be/internal/config"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Debug(string, string, map[string]interface{}) {}
func (nopLogger) Info(string, string, map[string]interface{})  {}
func (nopLogger) Warn(string, string, map[string]interface{})  {}
func (nopLogger) Error(string, string, map[string]interface{}) {}
func (nopLogger) Sync() error                                  { return nil }

type scriptedProvider struct {
	servers []webrtc.ICEServer
	err     error
	calls   int
}

func (p *scriptedProvider) FetchIceServers(ctx context.Context) ([]webrtc.ICEServer, error) {
	p.calls++
	return p.servers, p.err
}

func rtcConfig() config.RtcConfig {
	return config.RtcConfig{
		StunServers:        []string{"stun:stun.example.com:3478"},
		IceCacheTTLSeconds: 300,
	}
}

func TestServersStaticWithoutProvider(t *testing.T) {
	svc := NewIceConfigService(rtcConfig(), nil, nopLogger{})

	servers := svc.Servers(context.Background())

	require.Len(t, servers, 1)
	assert.Equal(t, []string{"stun:stun.example.com:3478"}, servers[0].URLs)
}

func TestServersIncludesStaticTurnWhenConfigured(t *testing.T) {
	cfg := rtcConfig()
	cfg.TurnURL = "turn:turn.example.com:3478"
	cfg.TurnUser = "u"
	cfg.TurnPass = "p"
	svc := NewIceConfigService(cfg, nil, nopLogger{})

	servers := svc.Servers(context.Background())

	require.Len(t, servers, 2)
	assert.Equal(t, []string{"turn:turn.example.com:3478"}, servers[1].URLs)
	assert.Equal(t, "u", servers[1].Username)
	assert.Equal(t, "p", servers[1].Credential)
}

func TestServersPrefersProvisionedCredentials(t *testing.T) {
	provider := &scriptedProvider{servers: []webrtc.ICEServer{{
		URLs: []string{"turn:minted.example.com:443"}, Username: "ephemeral",
	}}}
	svc := NewIceConfigService(rtcConfig(), provider, nopLogger{})

	servers := svc.Servers(context.Background())

	require.Len(t, servers, 1)
	assert.Equal(t, []string{"turn:minted.example.com:443"}, servers[0].URLs)
}

func TestServersFallsBackWhenProvisioningFails(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("provisioner down")}
	svc := NewIceConfigService(rtcConfig(), provider, nopLogger{})

	servers := svc.Servers(context.Background())

	require.Len(t, servers, 1)
	assert.Equal(t, []string{"stun:stun.example.com:3478"}, servers[0].URLs)
}

func TestServersCachesWithinTTL(t *testing.T) {
	provider := &scriptedProvider{servers: []webrtc.ICEServer{{
		URLs: []string{"turn:minted.example.com:443"},
	}}}
	svc := NewIceConfigService(rtcConfig(), provider, nopLogger{})

	svc.Servers(context.Background())
	svc.Servers(context.Background())

	assert.Equal(t, 1, provider.calls)
}
