package rtc

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// candidateBuffer holds remote ICE candidates that arrive before the remote
// description is applied. Until Ready is called, Add buffers; afterwards
// candidates are applied directly. Buffered candidates flush in arrival
// order, and a single failing candidate never blocks the rest.
type candidateBuffer struct {
	mu      sync.Mutex
	ready   bool
	pending []webrtc.ICECandidateInit
	apply   func(webrtc.ICECandidateInit) error
	onError func(webrtc.ICECandidateInit, error)
}

func newCandidateBuffer(apply func(webrtc.ICECandidateInit) error, onError func(webrtc.ICECandidateInit, error)) *candidateBuffer {
	return &candidateBuffer{
		apply:   apply,
		onError: onError,
	}
}

func (b *candidateBuffer) Add(candidate webrtc.ICECandidateInit) {
	b.mu.Lock()
	if !b.ready {
		b.pending = append(b.pending, candidate)
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	if err := b.apply(candidate); err != nil {
		b.onError(candidate, err)
	}
}

// Ready flushes everything buffered so far and switches to direct apply.
func (b *candidateBuffer) Ready() {
	b.mu.Lock()
	if b.ready {
		b.mu.Unlock()
		return
	}
	b.ready = true
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()

	for _, candidate := range pending {
		if err := b.apply(candidate); err != nil {
			b.onError(candidate, err)
		}
	}
}

// Reset re-arms buffering, dropping anything still pending. Used when the
// remote description is about to be replaced by a re-offer.
func (b *candidateBuffer) Reset() {
	b.mu.Lock()
	b.ready = false
	b.pending = nil
	b.mu.Unlock()
}
