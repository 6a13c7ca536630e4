package server

import (
	"context"
	"sync"
	"time"

	"backend-stridelink/internal/archive"
	"backend-stridelink/internal/channel"
	"backend-stridelink/internal/config"
	"backend-stridelink/internal/db"
	"backend-stridelink/internal/display"
	"backend-stridelink/internal/export"
	"backend-stridelink/internal/message"
	"backend-stridelink/internal/metrics"
	"backend-stridelink/internal/session"
	"backend-stridelink/internal/split"
	"backend-stridelink/internal/stream"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Server wires the host side together: the sync channel toward the wearable,
// the session controller, the metrics pipeline, durable archiving and the UI
// stream. One wearable link, one session at a time.
type Server struct {
	App   *fiber.App
	Cfg   config.Config
	DB    db.Querier
	Redis *redis.Client
	Log   *zap.Logger

	Hub        *stream.Hub
	Channel    *channel.Channel
	Controller *session.Controller
	Engine     *metrics.Engine
	Archive    *archive.Service
	Export     *export.Service

	publisher *display.Publisher
	notifier  split.Notifier

	mu       sync.Mutex
	detector *split.Detector
	splits   []message.SplitEvent

	cancel context.CancelFunc
}

func NewServer(cfg config.Config, dbq db.Querier, redisClient *redis.Client, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}

	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	ch := channel.New(nil, channel.Options{
		Heartbeat:      time.Duration(cfg.HeartbeatSec) * time.Second,
		LivenessMisses: cfg.LivenessMisses,
		BackoffBase:    time.Duration(cfg.BackoffBaseSec) * time.Second,
		BackoffCap:     time.Duration(cfg.BackoffCapSec) * time.Second,
		OutboundCap:    cfg.OutboundCap,
		InboundCap:     cfg.InboundCap,
		StopGrace:      time.Duration(cfg.StopGraceSec) * time.Second,
	}, log)

	archiveSvc := archive.NewService(dbq, log)

	s := &Server{
		App:        app,
		Cfg:        cfg,
		DB:         dbq,
		Redis:      redisClient,
		Log:        log,
		Hub:        stream.NewHub(redisClient, log),
		Channel:    ch,
		Engine:     metrics.NewEngine(archiveSvc, log),
		Archive:    archiveSvc,
		Export:     export.NewService(archiveSvc, cfg.ExportDir, log),
		notifier:   split.LogNotifier{Log: log},
		Controller: session.NewController(ch, time.Duration(cfg.AckTimeoutSec)*time.Second, log),
	}
	s.publisher = display.NewPublisher(ch, time.Duration(cfg.DisplayIntervalMs)*time.Millisecond, log)
	s.Engine.OnUpdate(s.onSnapshot)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.pump(ctx)
	go s.publisher.Run(ctx)

	registerRoutes(s)
	return s
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"link":   string(s.Channel.State()),
		})
	})

	registerSessionRoutes(s.App.Group("/sessions"), s)
	registerChannelRoutes(s.App.Group("/channel"), s)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Hub)
}

// pump drains the channel's inbound side into the metrics engine. Control
// and transport frames never reach here; the channel consumes them itself.
func (s *Server) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-s.Channel.Receive():
			if !ok {
				return
			}
			if env.Kind == message.KindSample && env.Sample != nil {
				s.Engine.Apply(*env.Sample)
			}
		}
	}
}

// onSnapshot runs after every accepted sample: fan the snapshot out to the
// UI stream and the display publisher, and detect split crossings.
func (s *Server) onSnapshot(snap metrics.Snapshot) {
	s.publisher.Update(snap)
	s.Hub.BroadcastSnapshot(snap)

	s.mu.Lock()
	det := s.detector
	var events []message.SplitEvent
	if det != nil {
		events = det.Observe(snap)
		s.splits = append(s.splits, events...)
	}
	s.mu.Unlock()

	for _, ev := range events {
		env := message.Envelope{
			Kind:      message.KindSplit,
			SessionID: snap.SessionID,
			SentAt:    time.Now(),
			Split:     &ev,
		}
		if err := s.Channel.Send(env); err != nil {
			s.Log.Warn("split event not sent", zap.Error(err))
		}
		s.publisher.NoteSplit(ev)
		s.Hub.BroadcastSplit(snap.SessionID, ev)
		s.notifier.SplitReached(snap.SessionID, ev)
	}
}

// Splits returns the splits detected so far in the current session.
func (s *Server) Splits() []message.SplitEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]message.SplitEvent, len(s.splits))
	copy(out, s.splits)
	return out
}

// Shutdown stops the pump and publisher, closes the wearable link, flushes
// the archive and brings the HTTP listener down.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	if err := s.Channel.Close(); err != nil {
		s.Log.Warn("channel close", zap.Error(err))
	}
	s.Archive.Close()
	return s.App.ShutdownWithContext(ctx)
}
