package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"peerlink-be/internal/entity"
	"peerlink-be/internal/pkg/logger"
	"peerlink-be/internal/signaling"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// NegotiationTimeout bounds the window between starting negotiation and the
// connection becoming established. A session stuck connecting past this is
// declared failed so the user can return to the queue.
const NegotiationTimeout = 30 * time.Second

var ErrSessionClosed = errors.New("rtc session closed")

// TransportState is the peer connection's lifecycle state, decoupled from
// pion's enum so observers upstream are not tied to the webrtc package.
type TransportState string

const (
	TransportNew          TransportState = "new"
	TransportConnecting   TransportState = "connecting"
	TransportConnected    TransportState = "connected"
	TransportDisconnected TransportState = "disconnected"
	TransportFailed       TransportState = "failed"
	TransportClosed       TransportState = "closed"
)

func transportStateOf(s webrtc.PeerConnectionState) TransportState {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return TransportNew
	case webrtc.PeerConnectionStateConnecting:
		return TransportConnecting
	case webrtc.PeerConnectionStateConnected:
		return TransportConnected
	case webrtc.PeerConnectionStateDisconnected:
		return TransportDisconnected
	case webrtc.PeerConnectionStateFailed:
		return TransportFailed
	default:
		return TransportClosed
	}
}

// Terminal reports whether the transport cannot recover from this state.
func (s TransportState) Terminal() bool {
	return s == TransportFailed || s == TransportClosed
}

// Callbacks are the orchestrator's upward-facing event surface. All
// callbacks run on internal goroutines; implementations must not block.
type Callbacks struct {
	OnStateChange func(TransportState)
	OnRemoteEnd   func()
	OnChatMessage func(entity.ChatMessage)
	OnPeerTyping  func(bool)
}

// Orchestrator drives one peer connection through offer/answer/ICE
// negotiation over the room's signaling channel. The initiator creates the
// data channel and the offer; the responder waits for both. Outbound
// signals flow through the intent queue, never directly from negotiation
// callbacks.
type Orchestrator struct {
	iceServers []webrtc.ICEServer
	bus        signaling.Bus
	cb         Callbacks
	log        logger.ILogger

	chat  *chatChannel
	media *mediaControl

	mu           sync.Mutex
	pc           *webrtc.PeerConnection
	room         *signaling.RoomChannel
	outbound     *signaling.Outbound
	iceBuf       *candidateBuffer
	selfId       uuid.UUID
	isInitiator  bool
	connectTimer *time.Timer
	connected    bool
	closed       bool
	cancel       context.CancelFunc
}

func NewOrchestrator(iceServers []webrtc.ICEServer, bus signaling.Bus, source AudioSource, cb Callbacks, log logger.ILogger) *Orchestrator {
	o := &Orchestrator{
		iceServers: iceServers,
		bus:        bus,
		cb:         cb,
		log:        log,
		media:      newMediaControl(source, log),
	}
	o.chat = newChatChannel(cb.OnChatMessage, cb.OnPeerTyping, log)
	return o
}

// Start opens the room channel and begins negotiation. withAudio attaches
// the local audio track before the offer so it is part of the negotiated
// session; audio attach failures abort the start so the caller can decide
// whether to retry without voice.
func (o *Orchestrator) Start(ctx context.Context, roomId string, selfId uuid.UUID, isInitiator bool, withAudio bool) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrSessionClosed
	}
	if o.pc != nil {
		o.mu.Unlock()
		return fmt.Errorf("negotiation already started for room %s", roomId)
	}
	o.selfId = selfId
	o.isInitiator = isInitiator
	o.mu.Unlock()

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: o.iceServers})
	if err != nil {
		return fmt.Errorf("creating peer connection: %w", err)
	}

	outbound := signaling.NewOutbound(o.log)
	iceBuf := newCandidateBuffer(
		func(c webrtc.ICECandidateInit) error { return pc.AddICECandidate(c) },
		func(c webrtc.ICECandidateInit, err error) {
			o.log.Warn("Rtc", "Discarding unusable ICE candidate", map[string]interface{}{
				"room_id": roomId, "error": err.Error(),
			})
		},
	)

	runCtx, cancel := context.WithCancel(context.Background())

	o.mu.Lock()
	o.pc = pc
	o.outbound = outbound
	o.iceBuf = iceBuf
	o.cancel = cancel
	o.mu.Unlock()

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return // gathering complete
		}
		payload, err := json.Marshal(c.ToJSON())
		if err != nil {
			o.log.Warn("Rtc", "Failed to encode ICE candidate", map[string]interface{}{"error": err.Error()})
			return
		}
		o.enqueue(signaling.Event{Type: signaling.EventICE, Candidate: payload})
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		o.handleConnectionState(s)
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		o.log.Info("Rtc", "Remote track started", map[string]interface{}{
			"room_id": roomId, "kind": track.Kind().String(),
		})
		go o.drainRemoteTrack(runCtx, track)
	})

	if withAudio {
		if err := o.media.attach(pc); err != nil {
			cancel()
			_ = pc.Close()
			_ = outbound.Close()
			o.reset()
			return err
		}
	}

	if isInitiator {
		ordered := true
		dc, err := pc.CreateDataChannel("chat", &webrtc.DataChannelInit{Ordered: &ordered})
		if err != nil {
			cancel()
			_ = pc.Close()
			_ = outbound.Close()
			o.reset()
			return fmt.Errorf("creating chat channel: %w", err)
		}
		o.chat.bind(dc)
	} else {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			if dc.Label() != "chat" {
				o.log.Warn("Rtc", "Ignoring unexpected data channel", map[string]interface{}{"label": dc.Label()})
				return
			}
			o.chat.bind(dc)
		})
	}

	room, err := signaling.OpenRoomChannel(o.bus, roomId, selfId, o.handleSignal, o.log)
	if err != nil {
		cancel()
		_ = pc.Close()
		_ = outbound.Close()
		o.reset()
		return err
	}
	o.mu.Lock()
	o.room = room
	o.mu.Unlock()

	if err := outbound.Drain(runCtx, room.Send); err != nil {
		o.Close()
		return err
	}

	if isInitiator {
		if err := o.sendOffer(pc); err != nil {
			o.Close()
			return err
		}
	}

	o.mu.Lock()
	o.connectTimer = time.AfterFunc(NegotiationTimeout, o.negotiationTimedOut)
	o.mu.Unlock()

	o.notifyState(TransportConnecting)
	return nil
}

func (o *Orchestrator) sendOffer(pc *webrtc.PeerConnection) error {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("creating offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("applying local offer: %w", err)
	}
	o.enqueue(signaling.Event{
		Type:    signaling.EventSDP,
		SDPType: signaling.SDPOffer,
		SDP:     offer.SDP,
	})
	return nil
}

func (o *Orchestrator) enqueue(event signaling.Event) {
	o.mu.Lock()
	outbound := o.outbound
	o.mu.Unlock()
	if outbound == nil {
		return
	}
	if err := outbound.Enqueue(event); err != nil {
		o.log.Warn("Rtc", "Failed to queue outbound signal", map[string]interface{}{
			"type": string(event.Type), "error": err.Error(),
		})
	}
}

func (o *Orchestrator) handleSignal(event signaling.Event) {
	switch event.Type {
	case signaling.EventReady:
		o.handleReady()
	case signaling.EventSDP:
		switch event.SDPType {
		case signaling.SDPOffer:
			o.handleOffer(event)
		case signaling.SDPAnswer:
			o.handleAnswer(event)
		}
	case signaling.EventICE:
		o.handleCandidate(event)
	case signaling.EventEndSession:
		// Self-echo of end_session is delivered by the room channel; only
		// the peer's counts.
		if event.SenderId != o.selfId {
			o.handleRemoteEnd()
		}
	}
}

// handleReady covers the peer that joins the room after our offer already
// went out: the original offer raced the subscription, so send it again.
func (o *Orchestrator) handleReady() {
	o.mu.Lock()
	pc := o.pc
	isInitiator := o.isInitiator
	o.mu.Unlock()
	if pc == nil || !isInitiator {
		return
	}
	if pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		return
	}
	local := pc.LocalDescription()
	if local == nil {
		return
	}
	o.log.Debug("Rtc", "Peer became ready, re-sending offer", nil)
	o.enqueue(signaling.Event{
		Type:    signaling.EventSDP,
		SDPType: signaling.SDPOffer,
		SDP:     local.SDP,
	})
}

func (o *Orchestrator) handleOffer(event signaling.Event) {
	o.mu.Lock()
	pc := o.pc
	iceBuf := o.iceBuf
	isInitiator := o.isInitiator
	o.mu.Unlock()
	if pc == nil || isInitiator {
		return // the initiator never accepts an offer
	}

	// A repeated offer replaces the remote description; candidates from
	// the previous round no longer apply.
	if pc.RemoteDescription() != nil {
		iceBuf.Reset()
	}

	err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  event.SDP,
	})
	if err != nil {
		o.log.Warn("Rtc", "Rejecting remote offer", map[string]interface{}{"error": err.Error()})
		return
	}
	iceBuf.Ready()

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		o.log.Error("Rtc", "Failed to create answer", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		o.log.Error("Rtc", "Failed to apply local answer", map[string]interface{}{"error": err.Error()})
		return
	}
	o.enqueue(signaling.Event{
		Type:    signaling.EventSDP,
		SDPType: signaling.SDPAnswer,
		SDP:     answer.SDP,
	})
}

func (o *Orchestrator) handleAnswer(event signaling.Event) {
	o.mu.Lock()
	pc := o.pc
	iceBuf := o.iceBuf
	isInitiator := o.isInitiator
	o.mu.Unlock()
	if pc == nil || !isInitiator {
		return
	}

	// Stale-answer guard: an answer is only applicable while our offer is
	// outstanding. Anything else is a duplicate from a previous round.
	if pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		o.log.Debug("Rtc", "Dropping stale answer", map[string]interface{}{
			"signaling_state": pc.SignalingState().String(),
		})
		return
	}

	err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  event.SDP,
	})
	if err != nil {
		o.log.Warn("Rtc", "Rejecting remote answer", map[string]interface{}{"error": err.Error()})
		return
	}
	iceBuf.Ready()
}

func (o *Orchestrator) handleCandidate(event signaling.Event) {
	o.mu.Lock()
	iceBuf := o.iceBuf
	o.mu.Unlock()
	if iceBuf == nil || len(event.Candidate) == 0 {
		return
	}

	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(event.Candidate, &candidate); err != nil {
		o.log.Warn("Rtc", "Dropping malformed ICE candidate", map[string]interface{}{"error": err.Error()})
		return
	}
	iceBuf.Add(candidate)
}

func (o *Orchestrator) handleConnectionState(s webrtc.PeerConnectionState) {
	state := transportStateOf(s)

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	if state == TransportConnected {
		o.connected = true
		if o.connectTimer != nil {
			o.connectTimer.Stop()
			o.connectTimer = nil
		}
	}
	o.mu.Unlock()

	o.notifyState(state)
}

func (o *Orchestrator) negotiationTimedOut() {
	o.mu.Lock()
	expired := !o.connected && !o.closed
	o.mu.Unlock()
	if !expired {
		return
	}

	o.log.Warn("Rtc", "Negotiation timed out", map[string]interface{}{
		"timeout": NegotiationTimeout.String(),
	})
	o.notifyState(TransportFailed)
	o.Close()
}

func (o *Orchestrator) handleRemoteEnd() {
	o.log.Info("Rtc", "Peer ended the session", nil)
	o.Close()
	if o.cb.OnRemoteEnd != nil {
		o.cb.OnRemoteEnd()
	}
}

func (o *Orchestrator) notifyState(state TransportState) {
	if o.cb.OnStateChange != nil {
		o.cb.OnStateChange(state)
	}
}

// drainRemoteTrack keeps the receiver's buffers moving. Playback is the
// embedding application's concern; the orchestrator only prevents backup.
func (o *Orchestrator) drainRemoteTrack(ctx context.Context, track *webrtc.TrackRemote) {
	for {
		if ctx.Err() != nil {
			return
		}
		if _, _, err := track.ReadRTP(); err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				o.log.Debug("Rtc", "Remote track read ended", map[string]interface{}{"error": err.Error()})
			}
			return
		}
	}
}

// RequestLocalAudio grants the microphone to an in-flight session. Only
// permitted before the connection is established; the negotiated session is
// never renegotiated to add audio afterwards.
func (o *Orchestrator) RequestLocalAudio() error {
	o.mu.Lock()
	pc := o.pc
	connected := o.connected
	closed := o.closed
	isInitiator := o.isInitiator
	o.mu.Unlock()

	if closed {
		return ErrSessionClosed
	}
	if connected {
		return ErrAlreadyConnected
	}
	if pc == nil {
		return ErrSessionClosed
	}

	if err := o.media.attach(pc); err != nil {
		return err
	}
	// The track changes the session; the initiator refreshes its offer so
	// the peer negotiates it in.
	if isInitiator && pc.SignalingState() == webrtc.SignalingStateStable {
		return o.sendOffer(pc)
	}
	return nil
}

func (o *Orchestrator) SetMuted(muted bool) error {
	return o.media.SetMuted(muted)
}

func (o *Orchestrator) Muted() bool {
	return o.media.Muted()
}

func (o *Orchestrator) AudioActive() bool {
	return o.media.active()
}

// SendChatMessage transmits text over the data channel and returns the
// recorded message. Fails with ErrChannelNotOpen until the channel is up.
func (o *Orchestrator) SendChatMessage(text string) (entity.ChatMessage, error) {
	return o.chat.Send(text)
}

func (o *Orchestrator) SendTypingStart() { o.chat.NotifyTyping() }
func (o *Orchestrator) SendTypingStop()  { o.chat.StopTyping() }

func (o *Orchestrator) ChatHistory() []entity.ChatMessage {
	return o.chat.History()
}

func (o *Orchestrator) PeerTyping() bool {
	return o.chat.PeerTyping()
}

// End announces the teardown to the peer, then closes. The announcement is
// sent directly rather than through the intent queue so it goes out before
// the pump stops.
func (o *Orchestrator) End() {
	o.mu.Lock()
	room := o.room
	selfId := o.selfId
	o.mu.Unlock()

	if room != nil {
		err := room.Send(signaling.Event{Type: signaling.EventEndSession, SenderId: selfId})
		if err != nil {
			o.log.Warn("Rtc", "Failed to announce session end", map[string]interface{}{"error": err.Error()})
		}
	}
	o.Close()
}

// Close tears everything down. Idempotent.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	pc := o.pc
	room := o.room
	outbound := o.outbound
	cancel := o.cancel
	timer := o.connectTimer
	o.pc = nil
	o.room = nil
	o.outbound = nil
	o.iceBuf = nil
	o.cancel = nil
	o.connectTimer = nil
	o.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if cancel != nil {
		cancel()
	}
	o.chat.unbind()
	o.media.stop()
	if room != nil {
		_ = room.Close()
	}
	if outbound != nil {
		_ = outbound.Close()
	}
	if pc != nil {
		_ = pc.Close()
	}
	o.notifyState(TransportClosed)
}

func (o *Orchestrator) reset() {
	o.mu.Lock()
	o.pc = nil
	o.outbound = nil
	o.iceBuf = nil
	o.cancel = nil
	o.mu.Unlock()
}
