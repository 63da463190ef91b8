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

	"github.com/emilgoldsmith/strafforts/internal/api"
	"github.com/emilgoldsmith/strafforts/internal/auth"
	"github.com/emilgoldsmith/strafforts/internal/billing"
	"github.com/emilgoldsmith/strafforts/internal/config"
	"github.com/emilgoldsmith/strafforts/internal/payments"
	persistence "github.com/emilgoldsmith/strafforts/internal/persistence/postgres"
	"github.com/emilgoldsmith/strafforts/internal/rankings"
	"github.com/emilgoldsmith/strafforts/internal/strava"
	"github.com/emilgoldsmith/strafforts/internal/tasks"
	httptransport "github.com/emilgoldsmith/strafforts/internal/transport/http"
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
	producer := tasks.NewKafkaProducer(cfg.KafkaBrokers)
	defer producer.Close()

	dispatcher := tasks.NewDispatcher(pool, producer, cfg.TaskPollInterval, cfg.TaskBatchSize)
	go dispatcher.Start(ctx)

	queue := tasks.NewQueue(pool)

	stravaClient := strava.NewClient(strava.Config{
		ClientID:     cfg.StravaClientID,
		ClientSecret: cfg.StravaClientSecret,
		BaseURL:      cfg.StravaBaseURL,
		AuthURL:      cfg.StravaAuthURL,
		TokenURL:     cfg.StravaTokenURL,
		DeauthURL:    cfg.StravaDeauthURL,
	})

	provider := payments.NewClient(cfg.PaymentBaseURL, cfg.PaymentAPIKey)
	orchestrator := billing.New(repo, provider, billing.Config{
		Currency:            cfg.Currency,
		EarlyBirdsEnabled:   cfg.EarlyBirdsProLogin,
		OldMatesEnabled:     cfg.OldMatesProLogin,
		InactivityThreshold: cfg.InactivityThreshold,
		RenewalWindow:       cfg.RenewalSweepWindow,
	})

	summaries := rankings.NewSummarizer(repo, cfg.SummaryCacheTTL)

	handler := api.NewHandler(repo, stravaClient, orchestrator, summaries, queue, cfg.AppBaseURL)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	// CORS for the browser frontend
	cors := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", cfg.AppBaseURL)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}

	// Basic request logger
	logger := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("%s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, api.PublicPath)

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, authMiddleware.Wrap(logger(cors(mux))))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("api listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	dispatcher.Wait()
}
