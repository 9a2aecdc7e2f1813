package dto

// Websocket action frames: one inbound JSON object per client action.
const (
	ActionEnterQueue    = "enter_queue"
	ActionLeaveQueue    = "leave_queue"
	ActionAccept        = "accept_suggested_match"
	ActionReject        = "reject_suggested_match"
	ActionDismissInvite = "dismiss_invite"
	ActionChat          = "send_chat_message"
	ActionTypingStart   = "typing_start"
	ActionTypingStop    = "typing_stop"
	ActionRequestAudio  = "request_local_audio"
	ActionSetMuted      = "set_muted"
	ActionReport        = "report_peer"
	ActionEnd           = "end"
)

type ActionFrame struct {
	Action        string `json:"action" validate:"required"`
	Topic         string `json:"topic,omitempty"`
	Mode          string `json:"mode,omitempty"`
	TargetQueueId string `json:"target_queue_id,omitempty"`
	Text          string `json:"text,omitempty"`
	Muted         bool   `json:"muted,omitempty"`
}

// EnterQueueRequest is the validated payload of an enter_queue action.
type EnterQueueRequest struct {
	Topic string `json:"topic" validate:"required,min=1,max=300"`
	Mode  string `json:"mode" validate:"required,oneof=voice chat"`
}

// Outbound event frames mirror session events one to one.
type EventFrame struct {
	Event      string              `json:"event"`
	Status     string              `json:"status,omitempty"`
	Match      *MatchPayload       `json:"match,omitempty"`
	Suggestion *SuggestionPayload  `json:"suggestion,omitempty"`
	Invite     *InvitePayload      `json:"invite,omitempty"`
	Notice     string              `json:"notice,omitempty"`
	Message    *ChatMessagePayload `json:"message,omitempty"`
	PeerTyping *bool               `json:"peer_typing,omitempty"`
}

type MatchPayload struct {
	RoomId      string `json:"room_id"`
	PeerUserId  string `json:"peer_user_id"`
	Topic       string `json:"topic"`
	Mode        string `json:"mode"`
	IsInitiator bool   `json:"is_initiator"`
}

type SuggestionPayload struct {
	QueueId           string  `json:"queue_id"`
	Topic             string  `json:"topic"`
	Similarity        float64 `json:"similarity"`
	PeerConsentedToMe bool    `json:"peer_consented_to_me"`
}

type InvitePayload struct {
	FromQueueId string `json:"from_queue_id"`
	Topic       string `json:"topic"`
	ReceivedAt  int64  `json:"received_at"`
}

type ChatMessagePayload struct {
	Id        string `json:"id"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	Sender    string `json:"sender"`
}
