package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sharathr123/restochat/internal/auth"
	"github.com/sharathr123/restochat/internal/chat"
	"github.com/sharathr123/restochat/internal/config"
	"github.com/sharathr123/restochat/internal/data"
	"github.com/sharathr123/restochat/internal/db"
	"github.com/sharathr123/restochat/internal/middleware"
	"github.com/sharathr123/restochat/internal/presence"
	"github.com/sharathr123/restochat/internal/realtime"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx := context.Background()

	dbClient, err := db.New(ctx, cfg.MongoURI)
	if err != nil {
		log.Fatalf("failed to connect to DB: %v", err)
	}
	defer func() {
		_ = dbClient.Close(ctx)
	}()

	if err := dbClient.CreateIndexes(ctx); err != nil {
		log.Fatalf("failed to create indexes: %v", err)
	}

	usersStore := data.NewUsersStore(dbClient.UsersCollection())
	chatsStore := data.NewChatsStore(dbClient.ChatsCollection())

	keys, activeKid, err := cfg.SigningKeys()
	if err != nil {
		log.Fatalf("jwt keys: %v", err)
	}
	jwtMgr := auth.NewJWTManagerFromKeys(keys, activeKid, cfg.TokenTTL)

	hub := realtime.NewHub()

	// Viewing state lives in Redis when configured so multiple processes
	// agree on who has which conversation open; otherwise it stays local.
	var views chat.ViewTracker
	if cfg.RedisURL != "" {
		redisViews, err := presence.NewRedisViews(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer func() {
			_ = redisViews.Close()
		}()
		views = redisViews
		log.Printf("viewing state: redis")
	} else {
		views = chat.NewActiveViews()
		log.Printf("viewing state: in-memory")
	}

	svc := chat.NewService(chatsStore, usersStore, hub, views, hub)

	limiter := middleware.NewLimiterStore(cfg.RateLimitRPM, cfg.RateLimitBurst, 5*time.Minute)
	defer limiter.Stop()

	srv := newServer(usersStore, chatsStore, svc, hub, jwtMgr, limiter)

	router := gin.Default()
	srv.routes(router)

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("listening on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}

	// Closing the hub tells every connected client to reconnect elsewhere.
	hub.Shutdown()
	log.Println("stopped")
}
