package main

import (
	"context"
	"log"
	"time"

	"peerlink-be/internal/bootstrap"
	"peerlink-be/internal/config"
	"peerlink-be/internal/entity"
	"peerlink-be/internal/session"
	"peerlink-be/pkg/database"

	"github.com/fatih/color"
	"github.com/google/uuid"
)

// Simulates two users queueing on similar topics against the live backing
// services (Postgres, Redis, NATS), printing every session event until they
// match, exchange a chat message and hang up.
func main() {
	color.Cyan("🚀 Starting peer matching simulation\n")

	cfg := config.Load()
	gormDB, err := database.NewGormDBFromDSN(cfg.Database.Connection)
	if err != nil {
		log.Fatalf("Unable to connect to GORM DB: %v", err)
	}

	container := bootstrap.NewContainer(gormDB, cfg)
	defer container.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	alice := uuid.New()
	bob := uuid.New()

	sessA := container.SessionManager.Acquire(ctx, alice)
	sessB := container.SessionManager.Acquire(ctx, bob)
	defer container.SessionManager.Release(context.Background(), alice, sessA)
	defer container.SessionManager.Release(context.Background(), bob, sessB)

	aConnected := make(chan struct{})
	go watch("alice", sessA, aConnected)
	go watch("bob", sessB, nil)

	color.Yellow("\n[1] Both users enter the queue")
	if err := sessA.EnterQueue(ctx, "learning to play jazz piano", entity.ModeChat); err != nil {
		log.Fatalf("alice enter_queue: %v", err)
	}
	if err := sessB.EnterQueue(ctx, "practicing jazz piano improvisation", entity.ModeChat); err != nil {
		log.Fatalf("bob enter_queue: %v", err)
	}

	color.Yellow("\n[2] Waiting for the pair to connect")
	select {
	case <-aConnected:
	case <-ctx.Done():
		color.Red("Timed out waiting for a connection")
		return
	}
	color.Green("Connected")

	color.Yellow("\n[3] Alice sends a chat message")
	if _, err := sessA.SendChatMessage("hey, fellow piano person!"); err != nil {
		color.Red("send failed: %v", err)
	}
	time.Sleep(2 * time.Second)

	color.Yellow("\n[4] Alice ends the session")
	sessA.End(ctx)
	time.Sleep(2 * time.Second)

	color.Cyan("\n✅ Simulation complete")
}

func watch(name string, sess *session.Session, connected chan struct{}) {
	for event := range sess.Events() {
		switch event.Kind {
		case session.EventStatus:
			color.White("[%s] status: %s", name, event.Status)
			if event.Status == session.StatusConnected && connected != nil {
				close(connected)
				connected = nil
			}
		case session.EventMatch:
			color.Green("[%s] matched with %s in room %s (initiator=%v)",
				name, event.Match.PeerUserId, event.Match.RoomId, event.Match.IsInitiator)
		case session.EventSuggestion:
			if event.Suggestion != nil {
				color.Magenta("[%s] suggestion: %s (similarity %.2f)",
					name, event.Suggestion.Topic, event.Suggestion.Similarity)
			}
		case session.EventInvite:
			if event.Invite != nil {
				color.Magenta("[%s] invite from queue %s", name, event.Invite.FromQueueId)
			}
		case session.EventNotice:
			color.Yellow("[%s] notice: %s", name, event.Notice)
		case session.EventChat:
			color.Cyan("[%s] chat <%s>: %s", name, event.Message.Sender, event.Message.Text)
		case session.EventTyping:
			color.White("[%s] peer typing: %v", name, event.PeerTyping)
		}
	}
}
