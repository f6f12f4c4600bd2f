// Command devserver runs the local development web server: a filesystem
// watcher, precompiler, in-memory file cache, static HTTP responder, and
// live-reload websocket broadcaster wired together by internal/supervisor.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"

	"github.com/joho/godotenv"

	"github.com/ocx/devserver/internal/config"
	"github.com/ocx/devserver/internal/logging"
	"github.com/ocx/devserver/internal/supervisor"
)

func main() {
	configPath := flag.String("config", "devserver.yaml", "path to the YAML configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, continuing with process environment")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger := logging.Structured()
	slog.SetDefault(logger)

	sup := supervisor.New(cfg)
	if err := sup.Run(context.Background()); err != nil {
		logger.Error("devserver exited with error", "error", err)
		log.Fatal(err)
	}
}
