package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"gomarket_pricewatch/config"
	"gomarket_pricewatch/internal/core/models"
	"gomarket_pricewatch/internal/scraper/app"
	"gomarket_pricewatch/pkg/dbconnect/postgres"
	"gomarket_pricewatch/pkg/logger"
)

func main() {
	configPath := flag.String("config", getEnv("PRICEWATCH_CONFIG", "config.yaml"), "path to the YAML config")
	once := flag.String("once", "", "scrape a single source and exit")
	jobType := flag.String("job", string(models.JobTypeFull), "job type for -once")
	flag.Parse()

	log.Printf("\nStarted app\n")
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connector := postgres.NewPgConnector(&cfg.Postgres, logger.NewLogger(os.Stdout, "[Postgres]"))
	defer connector.Close()

	server := app.NewPricewatchServer(connector, cfg, os.Stdout)
	if *once != "" {
		err = server.RunOnce(ctx, models.Source(*once), models.JobType(*jobType))
	} else {
		err = server.Run(ctx)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("pricewatch: %v", err)
	}
	log.Printf("Stopped app")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
