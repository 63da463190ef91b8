package main

import (
	"log"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"

	"github.com/emilgoldsmith/strafforts/internal/config"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	sourceURL := "file://migrations"
	if len(os.Args) > 2 {
		sourceURL = "file://" + os.Args[2]
	}

	m, err := migrate.New(sourceURL, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to initialise migrations: %v", err)
	}

	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "down":
		if err := m.Down(); err != nil && err != migrate.ErrNoChange {
			log.Fatalf("migrate down: %v", err)
		}
		log.Println("migrations rolled back")
	default:
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			log.Fatalf("migrate up: %v", err)
		}
		log.Println("migrations applied")
	}
}
