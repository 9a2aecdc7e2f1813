package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"peerlink-be/internal/pkg/logger"

	"github.com/pion/webrtc/v4"
)

var (
	// ErrPermissionDenied is returned by an AudioSource whose capture
	// permission was refused. The session survives; voice simply stays off.
	ErrPermissionDenied = errors.New("audio capture permission denied")

	// ErrNoDevice means no capture source is available at all.
	ErrNoDevice = errors.New("no audio capture device available")

	// ErrAlreadyConnected rejects a microphone grant that arrives after the
	// peer connection is established: the negotiated session has no audio
	// transceiver and is not renegotiated mid-flight.
	ErrAlreadyConnected = errors.New("connection already established without audio")
)

// AudioSource produces encoded audio samples for a local track. Stream
// blocks, pushing samples until ctx is cancelled. Sources report capture
// problems with ErrPermissionDenied or ErrNoDevice.
type AudioSource interface {
	Stream(ctx context.Context, track *webrtc.TrackLocalStaticSample) error
	Close() error
}

// mediaControl owns the local audio track: attachment to the peer
// connection, the capture pump and the mute toggle. Muting swaps the
// sender's track out rather than pausing capture, so unmute is instant.
type mediaControl struct {
	mu     sync.Mutex
	source AudioSource
	track  *webrtc.TrackLocalStaticSample
	sender *webrtc.RTPSender
	cancel context.CancelFunc
	muted  bool
	log    logger.ILogger
}

func newMediaControl(source AudioSource, log logger.ILogger) *mediaControl {
	return &mediaControl{source: source, log: log}
}

// attach creates the opus track, adds it to the peer connection and starts
// the capture pump. Must run before the offer is created so the track is
// part of the negotiated session.
func (m *mediaControl) attach(pc *webrtc.PeerConnection) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.source == nil {
		return ErrNoDevice
	}
	if m.sender != nil {
		return nil
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "peerlink-audio",
	)
	if err != nil {
		return fmt.Errorf("creating local audio track: %w", err)
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("adding local audio track: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.track = track
	m.sender = sender
	m.cancel = cancel

	go func() {
		if err := m.source.Stream(ctx, track); err != nil && !errors.Is(err, context.Canceled) {
			m.log.Warn("Media", "Audio capture stopped", map[string]interface{}{"error": err.Error()})
		}
	}()
	return nil
}

// SetMuted toggles outbound audio. No-op when no track is attached.
func (m *mediaControl) SetMuted(muted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sender == nil || m.muted == muted {
		m.muted = muted
		return nil
	}

	var replacement webrtc.TrackLocal
	if !muted {
		replacement = m.track
	}
	if err := m.sender.ReplaceTrack(replacement); err != nil {
		return fmt.Errorf("toggling mute: %w", err)
	}
	m.muted = muted
	return nil
}

func (m *mediaControl) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

func (m *mediaControl) active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sender != nil
}

func (m *mediaControl) stop() {
	m.mu.Lock()
	cancel := m.cancel
	source := m.source
	m.cancel = nil
	m.sender = nil
	m.track = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if source != nil {
		_ = source.Close()
	}
}
