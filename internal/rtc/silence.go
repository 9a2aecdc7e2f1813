package rtc

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// opusSilence is a minimal opus frame decoding to silence.
var opusSilence = []byte{0xF8, 0xFF, 0xFE}

const silenceFrameDuration = 20 * time.Millisecond

// SilenceSource keeps an audio track negotiated and flowing when no real
// capture device is wired in. Receivers decode it as silence.
type SilenceSource struct{}

func NewSilenceSource() *SilenceSource {
	return &SilenceSource{}
}

func (s *SilenceSource) Stream(ctx context.Context, track *webrtc.TrackLocalStaticSample) error {
	ticker := time.NewTicker(silenceFrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			err := track.WriteSample(media.Sample{
				Data:     opusSilence,
				Duration: silenceFrameDuration,
			})
			if err != nil {
				return err
			}
		}
	}
}

func (s *SilenceSource) Close() error { return nil }
