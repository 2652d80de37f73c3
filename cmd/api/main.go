package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"accord/auth"
	"accord/conflict"
	"accord/couple"
	"accord/db"
	"accord/realtime"
	"accord/request"
	"accord/synthesis"
)

func main() {
	ctx := context.Background()

	connString := os.Getenv("DATABASE_URL")
	pool, err := db.NewPool(ctx, connString)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	hub := realtime.NewHub()
	notifier := realtime.NewNotifier(hub)

	coupleRepo := couple.NewRepository(pool)
	conflictRepo := conflict.NewRepository(pool)

	authService := auth.NewService(auth.NewRepository(pool), jwtSecret)
	coupleService := couple.NewService(pool, coupleRepo)
	conflictService := conflict.NewService(pool, conflictRepo, coupleRepo).WithNotifier(notifier)
	requestService := request.NewService(pool, request.NewRepository(pool), conflictRepo).WithNotifier(notifier)

	mediator := synthesis.NewHTTPMediator(os.Getenv("MEDIATOR_URL"), os.Getenv("MEDIATOR_API_KEY"))
	orchestrator := synthesis.NewOrchestrator(pool, conflictRepo, mediator).WithNotifier(notifier)

	server := &Server{
		authService:     authService,
		coupleService:   coupleService,
		conflictService: conflictService,
		mediator:        orchestrator,
		requestService:  requestService,
	}
	server.ws = realtime.NewWSHandler(hub, server.channelAllowed)

	addr := os.Getenv("ADDR")
	if addr == "" {
		addr = ":8080"
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil {
		log.Fatalf("serve: %v", err)
	}
}
