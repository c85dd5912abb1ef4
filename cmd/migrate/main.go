package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"squadlink/config"
	"squadlink/internal/repository"
	"squadlink/pkg/database"
)

const usage = `
Squadlink - Database CLI Tool

Usage:
  migrate [command] [flags]

Commands:
  up          Apply all pending migrations
  down        Roll back all migrations (DANGEROUS)
  status      Show database connection status and schema version
  seed        Seed the database with players, rooms and messages
  truncate    Truncate all tables (DANGEROUS)

Flags:
  -players int    Number of players to seed (default 5)
  -messages int   Messages per seeded room (default 6)

Examples:
  go run cmd/migrate/main.go up
  go run cmd/migrate/main.go seed -players 8
`

func main() {
	players := flag.Int("players", 5, "Number of players to seed")
	messages := flag.Int("messages", 6, "Messages per seeded room")

	flag.Usage = func() {
		fmt.Print(usage)
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	command := flag.Arg(0)

	cfg := config.LoadConfig()
	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	switch command {
	case "up":
		log.Println("Running migrations...")
		if err := repository.InitSchema(db); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Println("Migrations completed")
	case "down":
		log.Println("WARNING: This will DROP all tables!")
		if err := repository.DropSchema(db); err != nil {
			log.Fatalf("Rollback failed: %v", err)
		}
		log.Println("Rollback completed")
	case "status":
		if err := database.HealthCheck(); err != nil {
			log.Fatalf("Database unreachable: %v", err)
		}
		version, dirty, err := repository.SchemaVersion(db)
		if err != nil {
			log.Fatalf("Failed to read schema version: %v", err)
		}
		log.Printf("Database %s@%s:%s is reachable, schema version %d (dirty=%v)", cfg.DBName, cfg.DBHost, cfg.DBPort, version, dirty)
	case "seed":
		if err := repository.InitSchema(db); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		result, err := repository.Seed(ctx, db, &repository.SeedConfig{
			PlayerCount:     *players,
			MessagesPerRoom: *messages,
		})
		if err != nil {
			log.Fatalf("Seeding failed: %v", err)
		}
		log.Println("Seed Summary:")
		log.Printf("   - Players: %d", len(result.Profiles))
		log.Printf("   - Rooms: %d", len(result.Rooms))
		log.Printf("   - Messages: %d", result.Messages)
	case "truncate":
		log.Println("WARNING: This will TRUNCATE all tables!")
		if err := repository.TruncateAll(ctx, db); err != nil {
			log.Fatalf("Truncate failed: %v", err)
		}
		log.Println("All tables truncated")
	default:
		flag.Usage()
		os.Exit(1)
	}
}
