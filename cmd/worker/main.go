package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"presenzo/internal/classroom"
	"presenzo/internal/config"
	"presenzo/internal/queue"
	"presenzo/internal/store"
)

const sweepInterval = time.Minute

// Worker clears expired attendance codes from class rows. The api publishes
// an expiry notification when a session's timer fires; the periodic sweep
// catches codes whose notification was lost (api restart, queue hiccup).
// Expired codes already fail validation by timestamp, so this is hygiene,
// not enforcement.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "")
	}

	classRepo := classroom.NewRepository(db.Client)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	log.Println("worker started, sweeping expired attendance codes...")
	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				log.Println("worker stopped")
				return
			}
			classID, code, ok := queue.ParseExpiry(msg)
			if !ok {
				continue
			}
			if err := classRepo.ClearAttendanceCode(ctx, classID, code); err != nil {
				log.Printf("clear code for class %s failed: %v", classID, err)
				continue
			}
			log.Printf("cleared expired code for class %s", classID)

		case <-ticker.C:
			n, err := classRepo.SweepExpiredCodes(ctx, time.Now())
			if err != nil {
				log.Printf("sweep failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("sweep cleared %d expired code(s)", n)
			}

		case <-ctx.Done():
			log.Println("worker stopped")
			return
		}
	}
}
