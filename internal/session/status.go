package session

import (
	"errors"

	"peerlink-be/internal/matchqueue"
	"peerlink-be/internal/rtc"
)

// Status is the composite, externally observable session state.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusWaiting    Status = "waiting"
	StatusConnecting Status = "connecting"
	StatusConnected  Status = "connected"

	// Media statuses are distinct so a consumer can render specific
	// remediation instead of a generic failure.
	StatusPermissionDenied Status = "permission-denied"
	StatusNoMic            Status = "no-mic"
	StatusMediaError       Status = "media-error"

	StatusError Status = "error"
)

// deriveStatus folds the three independent state sources into one status.
//
// Precedence, highest first:
//  1. media error      -> permission-denied | no-mic | media-error
//  2. transport failed -> error
//  3. transport connected / connecting -> connected | connecting
//  4. queue state      -> idle | waiting | connecting (matched) | error
//
// Transport "closed" and "disconnected" carry no precedence of their own:
// by the time they are observed the session has either re-queued or gone
// idle, and the queue state is the truth.
func deriveStatus(mediaErr error, queue matchqueue.Status, transport rtc.TransportState) Status {
	switch {
	case errors.Is(mediaErr, rtc.ErrPermissionDenied):
		return StatusPermissionDenied
	case errors.Is(mediaErr, rtc.ErrNoDevice):
		return StatusNoMic
	case mediaErr != nil:
		return StatusMediaError
	}

	switch transport {
	case rtc.TransportFailed:
		return StatusError
	case rtc.TransportConnected:
		return StatusConnected
	case rtc.TransportConnecting, rtc.TransportNew:
		return StatusConnecting
	}

	switch queue {
	case matchqueue.StatusWaiting:
		return StatusWaiting
	case matchqueue.StatusMatched:
		// Matched but no transport yet: negotiation is about to start.
		return StatusConnecting
	case matchqueue.StatusError:
		return StatusError
	default:
		return StatusIdle
	}
}
