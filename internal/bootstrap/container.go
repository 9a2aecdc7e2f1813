package bootstrap

import (
	"log"

	"peerlink-be/internal/config"
	"peerlink-be/internal/controller"
	"peerlink-be/internal/matchqueue"
	"peerlink-be/internal/pkg/logger"
	"peerlink-be/internal/repository/implementation"
	"peerlink-be/internal/rtc"
	"peerlink-be/internal/service"
	"peerlink-be/internal/session"
	"peerlink-be/internal/signaling"
	"peerlink-be/pkg/embedding"
	"peerlink-be/pkg/embedding/jina"
	pktNats "peerlink-be/pkg/nats"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Container struct {
	// Controllers
	RtcController     controller.IRtcController
	SessionController controller.ISessionController

	// Background services (exposed for main.go to run)
	SessionManager *session.Manager
	Janitor        *matchqueue.Janitor

	natsBus *pktNats.Bus
}

// natsSignalingBus adapts pkg/nats to the signaling bus contract. The
// concrete Subscribe return type differs, nothing else does.
type natsSignalingBus struct {
	bus *pktNats.Bus
}

func (b *natsSignalingBus) Publish(subject string, payload interface{}) error {
	return b.bus.Publish(subject, payload)
}

func (b *natsSignalingBus) Subscribe(subject string, handler func(data []byte)) (signaling.Unsubscriber, error) {
	return b.bus.Subscribe(subject, handler)
}

func NewContainer(db *gorm.DB, cfg *config.Config) *Container {
	// 1. Core facades
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")

	// 2. Realtime bus
	natsBus, err := pktNats.NewBus(cfg.App.NatsURL)
	if err != nil {
		log.Fatalf("Failed to connect to NATS at %s: %v", cfg.App.NatsURL, err)
	}
	bus := &natsSignalingBus{bus: natsBus}
	notifier := signaling.NewBusQueueNotifier(bus, sysLogger)

	// 3. Stores
	redisOpts, err := redis.ParseURL(cfg.App.RedisURL)
	if err != nil {
		log.Fatalf("Invalid REDIS_URL: %v", err)
	}
	rdb := redis.NewClient(redisOpts)

	queueRepo := implementation.NewQueueRepository(db, notifier)
	matchRepo := implementation.NewMatchRepository(rdb)
	blockRepo := implementation.NewBlockRepository(db)

	// 4. Embeddings
	var embeddingProvider embedding.Provider
	switch cfg.Ai.EmbeddingProvider {
	case "ollama":
		embeddingProvider = embedding.NewOllamaProvider(cfg.Ai.OllamaBaseURL, cfg.Ai.OllamaModel)
	default:
		embeddingProvider = jina.NewJinaProvider(cfg.Ai.JinaAPIKey)
	}

	// 5. Domain services
	iceService := service.NewIceConfigService(cfg.Rtc, nil, sysLogger)
	sessionManager := session.NewManager(
		queueRepo,
		matchRepo,
		blockRepo,
		bus,
		embeddingProvider,
		iceService,
		rtc.NewSilenceSource(),
		sysLogger,
	)
	janitor := matchqueue.NewJanitor(queueRepo, sysLogger)

	// 6. Controllers
	rtcController := controller.NewRtcController(iceService)
	sessionController := controller.NewSessionController(sessionManager, sysLogger)

	return &Container{
		RtcController:     rtcController,
		SessionController: sessionController,
		SessionManager:    sessionManager,
		Janitor:           janitor,
		natsBus:           natsBus,
	}
}

// Close releases the realtime bus connection.
func (c *Container) Close() {
	c.natsBus.Close()
}
