package controller

import (
	"context"
	"sync"

	"peerlink-be/internal/dto"
	"peerlink-be/internal/entity"
	"peerlink-be/internal/pkg/logger"
	"peerlink-be/internal/pkg/serverutils"
	"peerlink-be/internal/session"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

type ISessionController interface {
	RegisterRoutes(r fiber.Router)
	ServeWs(ctx *fiber.Ctx) error
}

type sessionController struct {
	manager  *session.Manager
	validate *validator.Validate
	log      logger.ILogger
}

func NewSessionController(manager *session.Manager, log logger.ILogger) ISessionController {
	return &sessionController{
		manager:  manager,
		validate: validator.New(),
		log:      log,
	}
}

func (c *sessionController) RegisterRoutes(r fiber.Router) {
	r.Get("/ws/session", c.ServeWs)
}

// ServeWs upgrades the connection and binds it to the user's session. One
// live socket per user; a second connection replaces the first.
func (c *sessionController) ServeWs(ctx *fiber.Ctx) error {
	userIdStr, err := serverutils.ParseBearerUser(ctx)
	if err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, err.Error())
	}
	userId, err := uuid.Parse(userIdStr)
	if err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid user id in token")
	}

	if !websocket.IsWebSocketUpgrade(ctx) {
		return fiber.ErrUpgradeRequired
	}

	return websocket.New(func(conn *websocket.Conn) {
		c.handleConn(conn, userId)
	})(ctx)
}

func (c *sessionController) handleConn(conn *websocket.Conn, userId uuid.UUID) {
	connCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess := c.manager.Acquire(connCtx, userId)
	defer c.manager.Release(context.Background(), userId, sess)

	// The websocket connection allows only one concurrent writer; both the
	// event pump and the read loop (error notices) go through writeFrame.
	var writeMu sync.Mutex
	writeFrame := func(frame dto.EventFrame) bool {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteJSON(frame); err != nil {
			c.log.Debug("session_ws", "write failed, dropping connection", map[string]interface{}{
				"user_id": userId.String(),
				"error":   err.Error(),
			})
			return false
		}
		return true
	}

	go func() {
		for {
			select {
			case <-connCtx.Done():
				return
			case event, ok := <-sess.Events():
				if !ok {
					return
				}
				if !writeFrame(eventToFrame(event)) {
					cancel()
					_ = conn.Close()
					return
				}
			}
		}
	}()

	for {
		var frame dto.ActionFrame
		if err := conn.ReadJSON(&frame); err != nil {
			c.log.Debug("session_ws", "connection closed", map[string]interface{}{
				"user_id": userId.String(),
			})
			return
		}
		if notice := c.dispatch(connCtx, sess, frame); notice != "" {
			if !writeFrame(dto.EventFrame{Event: string(session.EventNotice), Notice: notice}) {
				return
			}
		}
	}
}

// dispatch applies one inbound action frame to the session. A non-empty
// return value is surfaced to the client as a notice.
func (c *sessionController) dispatch(ctx context.Context, sess *session.Session, frame dto.ActionFrame) string {
	switch frame.Action {
	case dto.ActionEnterQueue:
		req := dto.EnterQueueRequest{Topic: frame.Topic, Mode: frame.Mode}
		if err := c.validate.Struct(req); err != nil {
			return "Invalid enter_queue request: topic and mode (voice|chat) are required"
		}
		if err := sess.EnterQueue(ctx, req.Topic, entity.Mode(req.Mode)); err != nil {
			return err.Error()
		}
	case dto.ActionLeaveQueue:
		sess.LeaveQueue(ctx)
	case dto.ActionAccept:
		targetId, err := uuid.Parse(frame.TargetQueueId)
		if err != nil {
			return "Invalid target_queue_id"
		}
		if err := sess.AcceptSuggestedMatch(ctx, targetId); err != nil {
			return err.Error()
		}
	case dto.ActionReject:
		targetId, err := uuid.Parse(frame.TargetQueueId)
		if err != nil {
			return "Invalid target_queue_id"
		}
		if err := sess.RejectSuggestedMatch(ctx, targetId); err != nil {
			return err.Error()
		}
	case dto.ActionDismissInvite:
		fromId, err := uuid.Parse(frame.TargetQueueId)
		if err != nil {
			return "Invalid target_queue_id"
		}
		sess.DismissInvite(fromId)
	case dto.ActionChat:
		if _, err := sess.SendChatMessage(frame.Text); err != nil {
			return err.Error()
		}
	case dto.ActionTypingStart:
		sess.SendTypingStart()
	case dto.ActionTypingStop:
		sess.SendTypingStop()
	case dto.ActionRequestAudio:
		if err := sess.RequestLocalAudio(); err != nil {
			return err.Error()
		}
	case dto.ActionSetMuted:
		if err := sess.SetMuted(frame.Muted); err != nil {
			return err.Error()
		}
	case dto.ActionReport:
		if err := sess.ReportPeer(ctx); err != nil {
			return err.Error()
		}
	case dto.ActionEnd:
		sess.End(ctx)
	default:
		return "Unknown action: " + frame.Action
	}
	return ""
}

func eventToFrame(event session.Event) dto.EventFrame {
	frame := dto.EventFrame{Event: string(event.Kind)}
	switch event.Kind {
	case session.EventStatus:
		frame.Status = string(event.Status)
	case session.EventMatch:
		if event.Match != nil {
			frame.Match = &dto.MatchPayload{
				RoomId:      event.Match.RoomId,
				PeerUserId:  event.Match.PeerUserId.String(),
				Topic:       event.Match.Topic,
				Mode:        string(event.Match.Mode),
				IsInitiator: event.Match.IsInitiator,
			}
		}
	case session.EventSuggestion:
		if event.Suggestion != nil {
			frame.Suggestion = &dto.SuggestionPayload{
				QueueId:           event.Suggestion.QueueId.String(),
				Topic:             event.Suggestion.Topic,
				Similarity:        event.Suggestion.Similarity,
				PeerConsentedToMe: event.Suggestion.PeerConsentedToMe,
			}
		}
	case session.EventInvite:
		if event.Invite != nil {
			frame.Invite = &dto.InvitePayload{
				FromQueueId: event.Invite.FromQueueId.String(),
				Topic:       event.Invite.Topic,
				ReceivedAt:  event.Invite.ReceivedAt.UnixMilli(),
			}
		}
	case session.EventNotice:
		frame.Notice = event.Notice
	case session.EventChat:
		if event.Message != nil {
			frame.Message = &dto.ChatMessagePayload{
				Id:        event.Message.Id,
				Text:      event.Message.Text,
				Timestamp: event.Message.Timestamp,
				Sender:    string(event.Message.Sender),
			}
		}
	case session.EventTyping:
		typing := event.PeerTyping
		frame.PeerTyping = &typing
	}
	return frame
}
