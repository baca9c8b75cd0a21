// Worker runs the scheduled session cleanup on asynq and, when KAFKA_BROKERS and LOKI_URL are set,
// forwards security events from Kafka to Loki.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/segmentio/kafka-go"

	"edge-guard/backend/internal/config"
	"edge-guard/backend/internal/db"
	"edge-guard/backend/internal/session/cleanup"
	sessionrepo "edge-guard/backend/internal/session/repository"
	"edge-guard/backend/internal/telemetry"
	"edge-guard/backend/internal/telemetry/loki"
	"edge-guard/backend/internal/telemetry/producer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer database.Close()

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		log.Fatalf("worker: redis url: %v", err)
	}

	kafkaProducer, err := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.SecurityEventsTopic)
	if err != nil {
		log.Fatalf("kafka: %v", err)
	}
	defer kafkaProducer.Close()

	var events telemetry.EventEmitter
	if kafkaProducer != nil {
		events = kafkaProducer
	}

	mux := asynq.NewServeMux()
	cleanup.Register(mux, cleanup.NewHandler(sessionrepo.NewPostgresRepository(database), cfg.SessionRetention(), events))

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 2,
		Queues:      map[string]int{"default": 1},
	})
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Location: time.UTC})
	entryID, err := cleanup.Schedule(scheduler, cfg.SessionCleanupCron)
	if err != nil {
		log.Fatalf("worker: schedule cleanup: %v", err)
	}
	log.Printf("worker: session cleanup scheduled (%s, entry %s)", cfg.SessionCleanupCron, entryID)

	if err := srv.Start(mux); err != nil {
		log.Fatalf("worker: asynq server: %v", err)
	}
	if err := scheduler.Start(); err != nil {
		log.Fatalf("worker: asynq scheduler: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	if forwarder := newForwarder(cfg); forwarder != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			forwarder.run(ctx)
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("worker: shutting down...")
	cancel()
	scheduler.Shutdown()
	srv.Shutdown()
	wg.Wait()
	log.Println("worker: stopped")
}

// forwarder consumes security events from Kafka and pushes them to Loki.
type forwarder struct {
	reader *kafka.Reader
	loki   *loki.Client
}

// newForwarder returns nil when Kafka or Loki is not configured.
func newForwarder(cfg *config.Config) *forwarder {
	brokers := cfg.KafkaBrokersList()
	if len(brokers) == 0 || cfg.LokiURL == "" {
		log.Println("worker: event forwarding disabled (KAFKA_BROKERS or LOKI_URL unset)")
		return nil
	}
	client, err := loki.NewClient(cfg.LokiURL, nil)
	if err != nil {
		log.Fatalf("worker: %v", err)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          cfg.SecurityEventsTopic,
		GroupID:        cfg.KafkaGroupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		CommitInterval: time.Second,
	})
	log.Printf("worker: consuming from %s (group %s), pushing to %s", cfg.SecurityEventsTopic, cfg.KafkaGroupID, cfg.LokiURL)
	return &forwarder{reader: reader, loki: client}
}

func (f *forwarder) run(ctx context.Context) {
	defer f.reader.Close()
	for {
		msg, err := f.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("worker: kafka read error: %v", err)
			continue
		}

		pushCtx, pushCancel := context.WithTimeout(ctx, 10*time.Second)
		if err := f.loki.PushEventJSON(pushCtx, msg.Value); err != nil {
			log.Printf("worker: loki push failed: %v", err)
		}
		pushCancel()
	}
}
