package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coyapp/chat-service/internal/api"
	"github.com/coyapp/chat-service/internal/auth"
	"github.com/coyapp/chat-service/internal/cache"
	"github.com/coyapp/chat-service/internal/config"
	"github.com/coyapp/chat-service/internal/events"
	"github.com/coyapp/chat-service/internal/kafka"
	"github.com/coyapp/chat-service/internal/logger"
	"github.com/coyapp/chat-service/internal/projection"
	"github.com/coyapp/chat-service/internal/service"
	"github.com/coyapp/chat-service/internal/store"
	"github.com/coyapp/chat-service/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	zlog, err := logger.New(cfg.App.Env)
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.New(ctx, &cfg.Mongo, zlog)
	if err != nil {
		zlog.Fatalw("mongo init failed", "err", err)
	}
	defer func() { _ = st.Close(context.Background()) }()

	rcache, err := cache.NewRedis(ctx, &cfg.Redis, zlog)
	if err != nil {
		zlog.Fatalw("redis init failed", "err", err)
	}
	defer func() { _ = rcache.Close() }()

	kprod := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.NotifyTopic)
	defer func() { _ = kprod.Close() }()
	push := events.NewPublisher(kprod, zlog)

	registry := service.NewRegistry(st, rcache, zlog)
	ledger := service.NewLedger(st, st, st, push, rcache, cfg.Chat.Allowance(), zlog)
	friends := service.NewWorkflow(st, st, push, rcache, zlog)

	mgr := projection.NewManager(st, st, cfg.Chat.ReconcileWindow(), zlog)
	go mgr.Run(ctx)

	jv, err := auth.NewValidator(cfg.JWT)
	if err != nil {
		zlog.Fatalw("jwt init failed", "err", err)
	}

	wsrv := ws.NewServer(mgr, ledger, zlog)
	app := api.NewServer(registry, ledger, friends, jv, wsrv)

	go func() {
		if err := app.Listen(fmt.Sprintf(":%d", cfg.App.Port)); err != nil {
			zlog.Fatalw("server listen failed", "err", err)
		}
	}()
	zlog.Infow("chat-service started", "port", cfg.App.Port, "env", cfg.App.Env)

	<-ctx.Done()
	stop()

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = app.ShutdownWithContext(shutCtx)
	zlog.Infow("chat-service stopped")
}
