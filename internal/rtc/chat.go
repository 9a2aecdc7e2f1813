package rtc

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"peerlink-be/internal/entity"
	"peerlink-be/internal/pkg/logger"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// ErrChannelNotOpen is returned when a chat send is attempted before the
// data channel exists or after it closed.
var ErrChannelNotOpen = errors.New("chat channel not open")

const (
	// chatHistoryLimit bounds the in-memory transcript; older messages
	// fall off the front.
	chatHistoryLimit = 100

	// typingDebounce is both the outgoing typing_start re-send suppression
	// window and the incoming auto-clear timeout for a peer that stopped
	// typing without saying so.
	typingDebounce = 3 * time.Second
)

// Data-channel wire messages: a discriminated JSON union. Chat payload
// fields are only present for type "chat".
const (
	wireChat        = "chat"
	wireTypingStart = "typing_start"
	wireTypingStop  = "typing_stop"
)

type wireMessage struct {
	Type    string              `json:"type"`
	Message *entity.ChatMessage `json:"message,omitempty"`
}

// stopper abstracts time.Timer for tests.
type stopper interface {
	Stop() bool
}

// dataChannel is the slice of *webrtc.DataChannel the chat protocol needs,
// abstracted so tests can drive the codec without a negotiated connection.
type dataChannel interface {
	SendText(text string) error
	ReadyState() webrtc.DataChannelState
	OnMessage(handler func(msg webrtc.DataChannelMessage))
}

// chatChannel implements the in-room chat protocol over a single ordered
// data channel. All exported methods are safe for concurrent use.
type chatChannel struct {
	mu      sync.Mutex
	dc      dataChannel
	history []entity.ChatMessage

	peerTyping   bool
	peerTypingTm stopper
	selfTypingTm stopper
	typingSent   bool

	onMessage       func(entity.ChatMessage)
	onTypingChanged func(bool)
	log             logger.ILogger

	// Injectable timing for tests.
	now      func() time.Time
	newTimer func(d time.Duration, f func()) stopper
}

func newChatChannel(onMessage func(entity.ChatMessage), onTypingChanged func(bool), log logger.ILogger) *chatChannel {
	return &chatChannel{
		onMessage:       onMessage,
		onTypingChanged: onTypingChanged,
		log:             log,
		now:             time.Now,
		newTimer: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}
}

// bind attaches the protocol to a concrete data channel. Called by the
// orchestrator once the negotiated channel is available on either side.
func (c *chatChannel) bind(dc dataChannel) {
	c.mu.Lock()
	c.dc = dc
	c.mu.Unlock()

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.handleIncoming(msg.Data)
	})
}

// unbind detaches the channel, failing subsequent sends.
func (c *chatChannel) unbind() {
	c.mu.Lock()
	c.dc = nil
	peerTm := c.peerTypingTm
	selfTm := c.selfTypingTm
	c.peerTypingTm = nil
	c.selfTypingTm = nil
	c.peerTyping = false
	c.typingSent = false
	c.mu.Unlock()

	if peerTm != nil {
		peerTm.Stop()
	}
	if selfTm != nil {
		selfTm.Stop()
	}
}

func (c *chatChannel) openChannel() (dataChannel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dc == nil || c.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return nil, ErrChannelNotOpen
	}
	return c.dc, nil
}

// Send transmits a chat message and records it in the local transcript.
func (c *chatChannel) Send(text string) (entity.ChatMessage, error) {
	dc, err := c.openChannel()
	if err != nil {
		return entity.ChatMessage{}, err
	}

	msg := entity.ChatMessage{
		Id:        uuid.NewString(),
		Text:      text,
		Timestamp: c.now().UnixMilli(),
		Sender:    entity.ChatSenderMe,
	}
	data, err := json.Marshal(wireMessage{Type: wireChat, Message: &msg})
	if err != nil {
		return entity.ChatMessage{}, err
	}

	// typing_stop goes out first so the peer never shows a stale typing
	// indicator after the message arrives.
	c.StopTyping()

	if err := dc.SendText(string(data)); err != nil {
		return entity.ChatMessage{}, err
	}

	c.mu.Lock()
	c.appendLocked(msg)
	c.mu.Unlock()
	return msg, nil
}

// NotifyTyping signals typing activity to the peer. Repeated calls within
// the debounce window are suppressed; silence for the window's duration
// emits an automatic typing_stop.
func (c *chatChannel) NotifyTyping() {
	c.mu.Lock()
	alreadySent := c.typingSent
	if c.selfTypingTm != nil {
		c.selfTypingTm.Stop()
	}
	c.typingSent = true
	c.selfTypingTm = c.newTimer(typingDebounce, c.typingIdle)
	c.mu.Unlock()

	if !alreadySent {
		c.sendTypingSignal(wireTypingStart)
	}
}

// StopTyping explicitly ends the typing indication.
func (c *chatChannel) StopTyping() {
	c.mu.Lock()
	wasSent := c.typingSent
	c.typingSent = false
	if c.selfTypingTm != nil {
		c.selfTypingTm.Stop()
		c.selfTypingTm = nil
	}
	c.mu.Unlock()

	if wasSent {
		c.sendTypingSignal(wireTypingStop)
	}
}

func (c *chatChannel) typingIdle() {
	c.mu.Lock()
	wasSent := c.typingSent
	c.typingSent = false
	c.selfTypingTm = nil
	c.mu.Unlock()

	if wasSent {
		c.sendTypingSignal(wireTypingStop)
	}
}

func (c *chatChannel) sendTypingSignal(kind string) {
	dc, err := c.openChannel()
	if err != nil {
		return // typing signals are best-effort
	}
	data, _ := json.Marshal(wireMessage{Type: kind})
	if err := dc.SendText(string(data)); err != nil {
		c.log.Debug("Chat", "Typing signal dropped", map[string]interface{}{"error": err.Error()})
	}
}

func (c *chatChannel) handleIncoming(data []byte) {
	var wire wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		c.log.Warn("Chat", "Dropping malformed data-channel message", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	switch wire.Type {
	case wireChat:
		if wire.Message == nil {
			c.log.Warn("Chat", "Dropping chat message without payload", nil)
			return
		}
		msg := *wire.Message
		msg.Sender = entity.ChatSenderPeer
		c.mu.Lock()
		c.appendLocked(msg)
		c.mu.Unlock()
		// An arriving message clears any lingering typing indicator.
		c.setPeerTyping(false)
		if c.onMessage != nil {
			c.onMessage(msg)
		}
	case wireTypingStart:
		c.mu.Lock()
		if c.peerTypingTm != nil {
			c.peerTypingTm.Stop()
		}
		c.peerTypingTm = c.newTimer(typingDebounce, func() { c.setPeerTyping(false) })
		c.mu.Unlock()
		c.setPeerTyping(true)
	case wireTypingStop:
		c.setPeerTyping(false)
	default:
		c.log.Debug("Chat", "Ignoring unknown data-channel message type", map[string]interface{}{
			"type": wire.Type,
		})
	}
}

func (c *chatChannel) setPeerTyping(typing bool) {
	c.mu.Lock()
	changed := c.peerTyping != typing
	c.peerTyping = typing
	if !typing && c.peerTypingTm != nil {
		c.peerTypingTm.Stop()
		c.peerTypingTm = nil
	}
	c.mu.Unlock()

	if changed && c.onTypingChanged != nil {
		c.onTypingChanged(typing)
	}
}

func (c *chatChannel) PeerTyping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerTyping
}

func (c *chatChannel) appendLocked(msg entity.ChatMessage) {
	c.history = append(c.history, msg)
	if len(c.history) > chatHistoryLimit {
		c.history = c.history[len(c.history)-chatHistoryLimit:]
	}
}

// History returns a copy of the bounded transcript, oldest first.
func (c *chatChannel) History() []entity.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]entity.ChatMessage, len(c.history))
	copy(out, c.history)
	return out
}
