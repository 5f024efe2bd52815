package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/taskhub/chat-service/internal/config"
	"github.com/taskhub/chat-service/internal/db"
	"github.com/taskhub/chat-service/internal/logging"
	"github.com/taskhub/chat-service/internal/message"
	"github.com/taskhub/chat-service/internal/store/rabbitmq"
	"github.com/taskhub/chat-service/internal/store/redisstore"
)

// The notifier drains message-created events and records a notification per
// receiver. Delivery to live sockets happens in-process in the server; this
// consumer covers the offline side (and keeps the unread cache honest when
// other writers touch the table).

func main() {
	cfg, err := config.Load(os.Getenv("CHAT_CONFIG_FILE"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Rabbit.URL == "" {
		log.Fatal("rabbit.url is required for the notifier (set CHAT_RABBIT_URL)")
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		logger.Fatal("database connect failed", zap.Error(err))
	}
	repo := message.NewRepo(gdb)

	var cache *redisstore.Store
	if cfg.Redis.Addr != "" {
		cache, err = redisstore.New(cfg.Redis)
		if err != nil {
			logger.Fatal("redis connect failed", zap.Error(err))
		}
		defer func() { _ = cache.Close() }()
	}

	conn, err := amqp.Dial(cfg.Rabbit.URL)
	if err != nil {
		logger.Fatal("rabbit dial failed", zap.Error(err))
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("rabbit channel failed", zap.Error(err))
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.Rabbit.Queue); err != nil {
		logger.Fatal("queue declare failed", zap.Error(err))
	}

	concurrency := cfg.Rabbit.Concurrency
	if err := ch.Qos(concurrency, 0, false); err != nil {
		logger.Fatal("qos failed", zap.Error(err))
	}

	msgs, err := ch.Consume(cfg.Rabbit.Queue, "", false, false, false, false, nil)
	if err != nil {
		logger.Fatal("consume failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("notifier started",
		zap.String("queue", cfg.Rabbit.Queue), zap.Int("concurrency", concurrency))

	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				var ev rabbitmq.MessageCreated
				if err := json.Unmarshal(d.Body, &ev); err != nil || ev.MessageID <= 0 {
					logger.Warn("bad event payload",
						zap.Int("worker", workerID), zap.Error(err))
					_ = d.Nack(false, false)
					continue
				}

				if err := handleEvent(ctx, repo, cache, logger, ev.MessageID); err != nil {
					if shuttingDown(ctx, err) {
						// Not the event's fault; requeue instead of
						// dead-lettering so the next run picks it up.
						logger.Info("requeueing event on shutdown",
							zap.Int64("message_id", ev.MessageID))
						_ = d.Nack(false, true)
						continue
					}
					logger.Error("event handling failed",
						zap.Int("worker", workerID),
						zap.Int64("message_id", ev.MessageID), zap.Error(err))
					_ = d.Nack(false, false)
					continue
				}

				if err := d.Ack(false); err != nil {
					logger.Error("ack failed",
						zap.Int64("message_id", ev.MessageID), zap.Error(err))
				}
			}
		}(i)
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("notifier shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				logger.Warn("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			jobs <- d
		}
	}
}

// shuttingDown reports whether a handler failure was caused by the consumer's
// own shutdown rather than by the event itself.
func shuttingDown(ctx context.Context, err error) bool {
	if ctx.Err() == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func handleEvent(ctx context.Context, repo *message.Repo, cache *redisstore.Store, logger *zap.Logger, messageID int64) error {
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	m, err := repo.GetByID(cctx, messageID)
	if err != nil {
		return err
	}

	if cache != nil {
		if err := cache.Invalidate(cctx, m.ReceiverID); err != nil {
			logger.Warn("unread cache invalidate failed",
				zap.Int64("user_id", m.ReceiverID), zap.Error(err))
		}
	}

	// Notification fan-out target. Push providers hook in here; for now the
	// structured log line is the delivery record.
	logger.Info("notification",
		zap.Int64("message_id", m.ID),
		zap.Int64("receiver_id", m.ReceiverID),
		zap.Int64("sender_id", m.SenderID),
		zap.String("sender_name", m.SenderName))

	return nil
}
