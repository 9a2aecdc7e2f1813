package rtc

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"peerlink-be/internal/entity"

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

type fakeDataChannel struct {
	mu      sync.Mutex
	state   webrtc.DataChannelState
	sent    []string
	handler func(webrtc.DataChannelMessage)
}

func newOpenDataChannel() *fakeDataChannel {
	return &fakeDataChannel{state: webrtc.DataChannelStateOpen}
}

func (d *fakeDataChannel) SendText(text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, text)
	return nil
}

func (d *fakeDataChannel) ReadyState() webrtc.DataChannelState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *fakeDataChannel) OnMessage(handler func(msg webrtc.DataChannelMessage)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = handler
}

func (d *fakeDataChannel) deliver(t *testing.T, payload string) {
	t.Helper()
	d.mu.Lock()
	handler := d.handler
	d.mu.Unlock()
	require.NotNil(t, handler, "chat not bound")
	handler(webrtc.DataChannelMessage{IsString: true, Data: []byte(payload)})
}

func (d *fakeDataChannel) sentWire(t *testing.T) []wireMessage {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]wireMessage, len(d.sent))
	for i, raw := range d.sent {
		require.NoError(t, json.Unmarshal([]byte(raw), &out[i]))
	}
	return out
}

// fakeTimer records scheduled callbacks so tests fire them deterministically.
type fakeTimer struct {
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := t.stopped
	t.stopped = true
	return !was
}

func (t *fakeTimer) fire() {
	if !t.stopped {
		t.stopped = true
		t.f()
	}
}

type fakeClock struct {
	mu     sync.Mutex
	at     time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{at: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}

func (c *fakeClock) newTimer(_ time.Duration, f func()) stopper {
	c.mu.Lock()
	defer c.mu.Unlock()
	tm := &fakeTimer{f: f}
	c.timers = append(c.timers, tm)
	return tm
}

func (c *fakeClock) fireLatest() {
	c.mu.Lock()
	var tm *fakeTimer
	if len(c.timers) > 0 {
		tm = c.timers[len(c.timers)-1]
	}
	c.mu.Unlock()
	if tm != nil {
		tm.fire()
	}
}

func newTestChat(t *testing.T) (*chatChannel, *fakeDataChannel, *fakeClock, *[]entity.ChatMessage, *[]bool) {
	t.Helper()
	var received []entity.ChatMessage
	var typing []bool
	chat := newChatChannel(
		func(m entity.ChatMessage) { received = append(received, m) },
		func(b bool) { typing = append(typing, b) },
		nopLogger{},
	)
	clock := newFakeClock()
	chat.now = clock.now
	chat.newTimer = clock.newTimer

	dc := newOpenDataChannel()
	chat.bind(dc)
	return chat, dc, clock, &received, &typing
}

func TestChatSendRecordsAndTransmits(t *testing.T) {
	chat, dc, clock, _, _ := newTestChat(t)

	msg, err := chat.Send("hello there")
	require.NoError(t, err)
	assert.NotEmpty(t, msg.Id)
	assert.Equal(t, "hello there", msg.Text)
	assert.Equal(t, clock.now().UnixMilli(), msg.Timestamp)
	assert.Equal(t, entity.ChatSenderMe, msg.Sender)

	history := chat.History()
	require.Len(t, history, 1)
	assert.Equal(t, msg, history[0])

	wires := dc.sentWire(t)
	require.Len(t, wires, 1)
	assert.Equal(t, wireChat, wires[0].Type)
	require.NotNil(t, wires[0].Message)
	assert.Equal(t, msg.Id, wires[0].Message.Id)
	assert.Equal(t, "hello there", wires[0].Message.Text)
}

func TestChatSendFailsWhenChannelNotOpen(t *testing.T) {
	chat, dc, _, _, _ := newTestChat(t)

	dc.mu.Lock()
	dc.state = webrtc.DataChannelStateClosed
	dc.mu.Unlock()
	_, err := chat.Send("nope")
	assert.ErrorIs(t, err, ErrChannelNotOpen)

	chat.unbind()
	_, err = chat.Send("still nope")
	assert.ErrorIs(t, err, ErrChannelNotOpen)
}

func TestChatIncomingMessage(t *testing.T) {
	chat, dc, _, received, _ := newTestChat(t)

	dc.deliver(t, `{"type":"chat","message":{"id":"m1","text":"hi","timestamp":123}}`)

	require.Len(t, *received, 1)
	got := (*received)[0]
	assert.Equal(t, "m1", got.Id)
	assert.Equal(t, "hi", got.Text)
	assert.Equal(t, int64(123), got.Timestamp)
	assert.Equal(t, entity.ChatSenderPeer, got.Sender)

	history := chat.History()
	require.Len(t, history, 1)
	assert.Equal(t, got, history[0])
}

func TestChatMalformedAndUnknownIgnored(t *testing.T) {
	chat, dc, _, received, _ := newTestChat(t)

	dc.deliver(t, `{not json`)
	dc.deliver(t, `{"type":"presence_ping"}`)
	dc.deliver(t, `{"type":"chat"}`)

	assert.Empty(t, *received)
	assert.Empty(t, chat.History())
}

func TestChatHistoryBounded(t *testing.T) {
	chat, dc, _, _, _ := newTestChat(t)

	for i := 0; i < chatHistoryLimit+25; i++ {
		dc.deliver(t, `{"type":"chat","message":{"id":"m","text":"x","timestamp":1}}`)
	}
	assert.Len(t, chat.History(), chatHistoryLimit)
}

func TestPeerTypingIndicator(t *testing.T) {
	chat, dc, clock, _, typing := newTestChat(t)

	dc.deliver(t, `{"type":"typing_start"}`)
	assert.True(t, chat.PeerTyping())
	assert.Equal(t, []bool{true}, *typing)

	// Repeated start does not re-notify.
	dc.deliver(t, `{"type":"typing_start"}`)
	assert.Equal(t, []bool{true}, *typing)

	dc.deliver(t, `{"type":"typing_stop"}`)
	assert.False(t, chat.PeerTyping())
	assert.Equal(t, []bool{true, false}, *typing)

	// No explicit stop: the debounce timer clears it.
	dc.deliver(t, `{"type":"typing_start"}`)
	assert.True(t, chat.PeerTyping())
	clock.fireLatest()
	assert.False(t, chat.PeerTyping())
	assert.Equal(t, []bool{true, false, true, false}, *typing)
}

func TestPeerTypingClearedByArrivingMessage(t *testing.T) {
	chat, dc, _, _, typing := newTestChat(t)

	dc.deliver(t, `{"type":"typing_start"}`)
	dc.deliver(t, `{"type":"chat","message":{"id":"m1","text":"done typing","timestamp":5}}`)

	assert.False(t, chat.PeerTyping())
	assert.Equal(t, []bool{true, false}, *typing)
}

func TestOutgoingTypingDebounce(t *testing.T) {
	chat, dc, clock, _, _ := newTestChat(t)

	chat.NotifyTyping()
	chat.NotifyTyping()
	chat.NotifyTyping()

	wires := dc.sentWire(t)
	require.Len(t, wires, 1, "typing_start sent once per burst")
	assert.Equal(t, wireTypingStart, wires[0].Type)

	// Going idle emits the stop.
	clock.fireLatest()
	wires = dc.sentWire(t)
	require.Len(t, wires, 2)
	assert.Equal(t, wireTypingStop, wires[1].Type)

	// A new burst after idling starts again.
	chat.NotifyTyping()
	wires = dc.sentWire(t)
	require.Len(t, wires, 3)
	assert.Equal(t, wireTypingStart, wires[2].Type)
}

func TestExplicitStopTyping(t *testing.T) {
	chat, dc, _, _, _ := newTestChat(t)

	chat.NotifyTyping()
	chat.StopTyping()
	// Stop without a prior start is a no-op.
	chat.StopTyping()

	wires := dc.sentWire(t)
	require.Len(t, wires, 2)
	assert.Equal(t, wireTypingStart, wires[0].Type)
	assert.Equal(t, wireTypingStop, wires[1].Type)
}

func TestSendImpliesTypingStop(t *testing.T) {
	chat, dc, _, _, _ := newTestChat(t)

	chat.NotifyTyping()
	_, err := chat.Send("wrote it")
	require.NoError(t, err)

	wires := dc.sentWire(t)
	require.Len(t, wires, 3)
	assert.Equal(t, wireTypingStart, wires[0].Type)
	assert.Equal(t, wireTypingStop, wires[1].Type, "stop precedes the payload")
	assert.Equal(t, wireChat, wires[2].Type)
}
