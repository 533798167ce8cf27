package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"pulse-dm/config"
	"pulse-dm/pkg/database"
	"pulse-dm/pkg/logger"

	"go.uber.org/zap"
)

const usage = `
pulse-dm - Database CLI Tool

Usage:
  migrate [command]

Commands:
  up          Apply all pending migrations
  down        Roll back every applied migration
  version     Show the applied migration version
  status      Check the connection and core tables

Examples:
  go run ./cmd/migrate up
  go run ./cmd/migrate version
`

func main() {
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
	l := logger.New(cfg.AppMode, logger.WithLevel(cfg.LogLevel))
	defer l.Sync()
	log := l.Logger

	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, log)
	if err != nil {
		log.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()

	switch command {
	case "up":
		if err := database.Migrate(pool, log); err != nil {
			log.Fatal("migration failed", zap.Error(err))
		}
	case "down":
		if err := database.Rollback(pool); err != nil {
			log.Fatal("rollback failed", zap.Error(err))
		}
		log.Info("rollback completed")
	case "version":
		version, dirty, err := database.Version(pool)
		if err != nil {
			log.Fatal("read version failed", zap.Error(err))
		}
		log.Info("migration version", zap.Uint("version", version), zap.Bool("dirty", dirty))
	case "status":
		for _, table := range []string{"users", "follows", "conversations", "messages"} {
			exists, err := database.TableExists(ctx, pool, table)
			if err != nil {
				log.Warn("error checking table", zap.String("table", table), zap.Error(err))
				continue
			}
			log.Info("table", zap.String("table", table), zap.Bool("exists", exists))
		}
	default:
		fmt.Printf("Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}
