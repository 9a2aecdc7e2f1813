package entity

// ChatSender tags which side of the session produced a message.
type ChatSender string

const (
	ChatSenderMe   ChatSender = "me"
	ChatSenderPeer ChatSender = "peer"
)

// ChatMessage is immutable once created. Messages live only in the bounded
// in-session history; they are never persisted except when attached to a
// moderation report snapshot.
type ChatMessage struct {
	Id        string     `json:"id"`
	Text      string     `json:"text"`
	Timestamp int64      `json:"timestamp"` // epoch ms
	Sender    ChatSender `json:"sender,omitempty"`
}
