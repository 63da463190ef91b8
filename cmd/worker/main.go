package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/emilgoldsmith/strafforts/internal/config"
	"github.com/emilgoldsmith/strafforts/internal/lifecycle"
	"github.com/emilgoldsmith/strafforts/internal/mailinglist"
	persistence "github.com/emilgoldsmith/strafforts/internal/persistence/postgres"
	"github.com/emilgoldsmith/strafforts/internal/rankings"
	"github.com/emilgoldsmith/strafforts/internal/strava"
	"github.com/emilgoldsmith/strafforts/internal/syncer"
	"github.com/emilgoldsmith/strafforts/internal/tasks"
	"github.com/emilgoldsmith/strafforts/internal/worker"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	repo := persistence.NewRepository(pool)
	queue := tasks.NewQueue(pool)

	stravaClient := strava.NewClient(strava.Config{
		ClientID:     cfg.StravaClientID,
		ClientSecret: cfg.StravaClientSecret,
		BaseURL:      cfg.StravaBaseURL,
		AuthURL:      cfg.StravaAuthURL,
		TokenURL:     cfg.StravaTokenURL,
		DeauthURL:    cfg.StravaDeauthURL,
	})

	var mailer mailinglist.Manager = mailinglist.NoopManager{}
	if cfg.MailingListURL != "" {
		mailer = mailinglist.NewHTTPManager(cfg.MailingListURL, cfg.MailingListToken, 10*time.Second)
	}

	activitySyncer := syncer.New(stravaClient, repo, cfg.SyncPageSize)
	engine := rankings.NewEngine(repo, cfg.BestEffortsLimit)
	summaries := rankings.NewSummarizer(repo, cfg.SummaryCacheTTL)
	deauthorizer := lifecycle.NewDeauthorizer(repo, stravaClient, queue)

	handler := worker.NewHandler(activitySyncer, engine, summaries, deauthorizer, mailer)
	dlq := tasks.NewDLQWriter(pool)

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}

	go func() {
		log.Printf("worker metrics listening on %s", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	var wg sync.WaitGroup
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	taskTypes := []string{tasks.TypeSyncAthlete, tasks.TypeDeauthorizeAthlete, tasks.TypeMailingListUpdate}
	for _, taskType := range taskTypes {
		topic := tasks.Topic(taskType)
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:         cfg.KafkaBrokers,
			GroupID:         cfg.WorkerGroupID,
			Topic:           topic,
			MinBytes:        1e3,
			MaxBytes:        10e6,
			CommitInterval:  time.Second,
			RetentionTime:   24 * time.Hour,
			ReadLagInterval: -1,
		})

		proc := tasks.NewProcessor(reader, handler, dlq)

		wg.Add(1)
		go func(topic string, r *kafka.Reader) {
			defer wg.Done()
			defer r.Close()

			log.Printf("worker started (topic=%s, group=%s)", topic, cfg.WorkerGroupID)
			if err := proc.Run(ctx); err != nil && err != context.Canceled {
				log.Printf("worker stopped with error (topic=%s): %v", topic, err)
			}
		}(topic, reader)
	}

	<-stop
	log.Println("worker shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}

	wg.Wait()
}
