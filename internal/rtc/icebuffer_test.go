package rtc

import (
	"errors"
	"fmt"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
)

func candidateNamed(n int) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: fmt.Sprintf("candidate-%d", n)}
}

func TestCandidateBufferHoldsUntilReady(t *testing.T) {
	var applied []string
	buf := newCandidateBuffer(
		func(c webrtc.ICECandidateInit) error {
			applied = append(applied, c.Candidate)
			return nil
		},
		func(webrtc.ICECandidateInit, error) { t.Fatal("unexpected apply error") },
	)

	buf.Add(candidateNamed(1))
	buf.Add(candidateNamed(2))
	assert.Empty(t, applied, "nothing applies before the remote description")

	buf.Ready()
	assert.Equal(t, []string{"candidate-1", "candidate-2"}, applied, "flush preserves arrival order")

	buf.Add(candidateNamed(3))
	assert.Equal(t, []string{"candidate-1", "candidate-2", "candidate-3"}, applied, "post-ready candidates apply directly")
}

func TestCandidateBufferFailureSkipsOnlyThatCandidate(t *testing.T) {
	var applied, failed []string
	buf := newCandidateBuffer(
		func(c webrtc.ICECandidateInit) error {
			if c.Candidate == "candidate-2" {
				return errors.New("unsupported transport")
			}
			applied = append(applied, c.Candidate)
			return nil
		},
		func(c webrtc.ICECandidateInit, _ error) {
			failed = append(failed, c.Candidate)
		},
	)

	buf.Add(candidateNamed(1))
	buf.Add(candidateNamed(2))
	buf.Add(candidateNamed(3))
	buf.Ready()

	assert.Equal(t, []string{"candidate-1", "candidate-3"}, applied)
	assert.Equal(t, []string{"candidate-2"}, failed)
}

func TestCandidateBufferReset(t *testing.T) {
	var applied []string
	buf := newCandidateBuffer(
		func(c webrtc.ICECandidateInit) error {
			applied = append(applied, c.Candidate)
			return nil
		},
		func(webrtc.ICECandidateInit, error) {},
	)

	buf.Add(candidateNamed(1))
	buf.Reset()
	buf.Ready()
	assert.Empty(t, applied, "reset drops pending candidates")

	// Reset re-arms buffering after a previous Ready.
	buf.Reset()
	buf.Add(candidateNamed(2))
	assert.Empty(t, applied, "candidates buffer again after a reset")
	buf.Ready()
	assert.Equal(t, []string{"candidate-2"}, applied)
}

func TestCandidateBufferReadyIdempotent(t *testing.T) {
	calls := 0
	buf := newCandidateBuffer(
		func(webrtc.ICECandidateInit) error { calls++; return nil },
		func(webrtc.ICECandidateInit, error) {},
	)
	buf.Add(candidateNamed(1))
	buf.Ready()
	buf.Ready()
	assert.Equal(t, 1, calls)
}

func TestTransportStateMapping(t *testing.T) {
	assert.Equal(t, TransportConnecting, transportStateOf(webrtc.PeerConnectionStateConnecting))
	assert.Equal(t, TransportConnected, transportStateOf(webrtc.PeerConnectionStateConnected))
	assert.Equal(t, TransportFailed, transportStateOf(webrtc.PeerConnectionStateFailed))
	assert.Equal(t, TransportClosed, transportStateOf(webrtc.PeerConnectionStateClosed))

	assert.True(t, TransportFailed.Terminal())
	assert.True(t, TransportClosed.Terminal())
	assert.False(t, TransportDisconnected.Terminal(), "disconnected can still recover")
	assert.False(t, TransportConnected.Terminal())
}
