package main

import (
	"log"

	"whatsapp-chatbot/internal/config"
	"whatsapp-chatbot/internal/database"
	"whatsapp-chatbot/internal/logging"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// sync_sequences resets postgres id sequences after migrate_data inserted
// rows with explicit ids.
func main() {
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

	cfg.DBDriver = "postgres"
	db, err := database.Open(cfg, logger)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}

	tables := []string{
		"messages",
		"chatbots",
		"auto_responses",
		"flows",
		"flow_steps",
		"conversation_sessions",
		"interaction_logs",
	}

	logger.Info("syncing postgres sequences")

	for _, table := range tables {
		query := "SELECT setval(pg_get_serial_sequence('" + table + "', 'id'), coalesce(max(id), 0) + 1, false) FROM " + table
		if err := db.Exec(query).Error; err != nil {
			logger.Error("sequence sync failed", zap.String("table", table), zap.Error(err))
		} else {
			logger.Info("sequence synced", zap.String("table", table))
		}
	}
}
