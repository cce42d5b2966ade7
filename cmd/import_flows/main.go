package main

import (
	"context"
	"flag"
	"log"
	"os"

	"whatsapp-chatbot/internal/config"
	"whatsapp-chatbot/internal/database"
	"whatsapp-chatbot/internal/logging"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// import_flows loads a chatbot bundle (chatbot, auto responses and flows) from
// a JSON file into the configured database.
func main() {
	path := flag.String("file", "", "bundle JSON file (defaults to the first argument)")
	flag.Parse()
	if *path == "" && flag.NArg() > 0 {
		*path = flag.Arg(0)
	}
	if *path == "" {
		log.Fatal("usage: import_flows -file bundle.json")
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	f, err := os.Open(*path)
	if err != nil {
		logger.Fatal("failed to open bundle", zap.Error(err))
	}
	defer f.Close()

	bundle, err := database.DecodeBundle(f)
	if err != nil {
		logger.Fatal("invalid bundle", zap.String("file", *path), zap.Error(err))
	}

	db, err := database.Open(cfg, logger)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}

	id, err := database.ImportBundle(context.Background(), db, bundle)
	if err != nil {
		logger.Fatal("import failed", zap.Error(err))
	}
	logger.Info("bundle imported",
		zap.Uint("chatbot_id", id),
		zap.Int("auto_responses", len(bundle.AutoResponses)),
		zap.Int("flows", len(bundle.Flows)))
}
