package main

// Run database migrations:
//   go run ./cmd/migrate            apply pending migrations
//   go run ./cmd/migrate -down      roll back the latest migration
//   go run ./cmd/migrate -status    print migration status

import (
	"context"
	"flag"
	"log"
	"os"

	"docextract-backend/internal/shared/config"
	"docextract-backend/internal/shared/storage/db"
)

func main() {
	down := flag.Bool("down", false, "roll back the most recent migration")
	status := flag.Bool("status", false, "print migration status")
	flag.Parse()

	cfg := config.Load()
	ctx := context.Background()

	opts, err := db.OptionsFromEnv(db.DefaultMigrateOptions())
	if err != nil {
		log.Printf("invalid pool options: %v", err)
		os.Exit(1)
	}
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, opts)
	if err != nil {
		log.Printf("failed to connect database: %v", err)
		os.Exit(1)
	}
	defer sqlDB.Close()

	switch {
	case *status:
		err = db.MigrationStatus(ctx, sqlDB)
	case *down:
		err = db.RollbackMigration(ctx, sqlDB)
	default:
		err = db.RunMigrations(ctx, sqlDB)
	}
	if err != nil {
		log.Printf("migration failed: %v", err)
		os.Exit(1)
	}
}
