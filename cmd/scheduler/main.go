package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/emilgoldsmith/strafforts/internal/billing"
	"github.com/emilgoldsmith/strafforts/internal/config"
	"github.com/emilgoldsmith/strafforts/internal/payments"
	persistence "github.com/emilgoldsmith/strafforts/internal/persistence/postgres"
	"github.com/emilgoldsmith/strafforts/internal/tasks"
)

const retryBatchSize = 50

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
	provider := payments.NewClient(cfg.PaymentBaseURL, cfg.PaymentAPIKey)
	orchestrator := billing.New(repo, provider, billing.Config{
		Currency:            cfg.Currency,
		EarlyBirdsEnabled:   cfg.EarlyBirdsProLogin,
		OldMatesEnabled:     cfg.OldMatesProLogin,
		InactivityThreshold: cfg.InactivityThreshold,
		RenewalWindow:       cfg.RenewalSweepWindow,
	})

	manager := tasks.NewDLQManager(pool, cfg.TaskMaxRetries, cfg.TaskBaseDelay)

	cronLogger := cron.PrintfLogger(log.New(os.Stderr, "cron: ", log.LstdFlags))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	if _, err := c.AddFunc(cfg.RenewalCronSpec, func() {
		renewed, err := orchestrator.RenewDue(ctx)
		if err != nil {
			log.Printf("renewal sweep error: %v", err)
			return
		}
		if renewed > 0 {
			log.Printf("renewal sweep renewed %d subscriptions", renewed)
		}
	}); err != nil {
		log.Fatalf("failed to schedule renewal sweep: %v", err)
	}

	if _, err := c.AddFunc(cfg.RetryCronSpec, func() {
		processed, err := manager.RunOnce(ctx, retryBatchSize)
		if err != nil {
			log.Printf("task retry sweep error: %v", err)
			return
		}
		if processed > 0 {
			log.Printf("task retry sweep processed %d entries", processed)
		}
	}); err != nil {
		log.Fatalf("failed to schedule task retry sweep: %v", err)
	}

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}
	go func() {
		log.Printf("scheduler metrics listening on %s", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	c.Start()
	log.Printf("scheduler started (renewals=%q, retries=%q)", cfg.RenewalCronSpec, cfg.RetryCronSpec)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("scheduler shutdown requested")
	cancel()
	<-c.Stop().Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}
}
