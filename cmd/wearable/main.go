package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backend-stridelink/internal/channel"
	"backend-stridelink/internal/config"
	"backend-stridelink/internal/logging"
	"backend-stridelink/internal/message"
	"backend-stridelink/internal/session"
	"backend-stridelink/internal/wearable"

	"go.uber.org/zap"
)

// The wearable simulator: connects to the host, mirrors session state,
// streams synthetic sensor samples and renders display frames to the log.
func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, "json", "stridelink-wearable")
	if err != nil {
		log.Printf("logger init failed: %v", err)
		logger = zap.NewNop()
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("wearable exited with error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	ch := channel.New(&channel.WebsocketDialer{URL: cfg.HostWSURL}, channel.Options{
		Heartbeat:      time.Duration(cfg.HeartbeatSec) * time.Second,
		LivenessMisses: cfg.LivenessMisses,
		BackoffBase:    time.Duration(cfg.BackoffBaseSec) * time.Second,
		BackoffCap:     time.Duration(cfg.BackoffCapSec) * time.Second,
		OutboundCap:    cfg.OutboundCap,
		InboundCap:     cfg.InboundCap,
		StopGrace:      time.Duration(cfg.StopGraceSec) * time.Second,
	}, logger)

	follower := session.NewFollower(logger)
	disp := wearable.NewDisplay(logger)
	sampler := wearable.NewSampler(ch, func() (string, session.State) {
		return follower.SessionID(), follower.State()
	}, time.Duration(cfg.SampleIntervalMs)*time.Millisecond, logger)

	ch.OnStateChange(func(s channel.LinkState) {
		logger.Info("link state", zap.String("state", string(s)))
	})

	if err := ch.Connect(ctx); err != nil {
		return err
	}
	go sampler.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			return ch.Close()
		case env, ok := <-ch.Receive():
			if !ok {
				return nil
			}
			switch env.Kind {
			case message.KindStart, message.KindPause, message.KindResume, message.KindStop, message.KindSplit:
				follower.Apply(env)
			case message.KindDisplay:
				if env.Display != nil {
					disp.Apply(*env.Display)
				}
			}
		}
	}
}
