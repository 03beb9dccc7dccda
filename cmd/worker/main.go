package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"presence/internal/config"
	"presence/internal/presence"
	"presence/internal/queue"
	"presence/internal/store"
)

// Worker consumes redemption events and flags device-fingerprint collisions.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "presence:redemptions")
	}

	tracker := presence.NewAnomalyTracker()

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for redemption events...")
	for msg := range messages {
		if msg.Type != "redemption" {
			continue
		}

		var ev presence.RedemptionEvent
		if err := json.Unmarshal(msg.Body, &ev); err != nil {
			log.Printf("malformed event dropped: %v", err)
			continue
		}

		if n := tracker.Observe(ev); n > 1 {
			log.Printf("fingerprint collision: session=%s fingerprint=%s students=%d (latest %s)",
				ev.SessionID, ev.FingerprintHash[:12], n, ev.StudentID)
		}
	}

	log.Println("worker stopped")
}
