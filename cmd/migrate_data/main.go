package main

import (
	"log"

	"whatsapp-chatbot/internal/config"
	"whatsapp-chatbot/internal/database"
	"whatsapp-chatbot/internal/logging"
	"whatsapp-chatbot/internal/models"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// migrate_data copies every table from the sqlite file at DB_PATH into the
// postgres database described by the DB_* settings.
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

	// 1. Connect to SQLite (Source)
	sqliteDB, err := gorm.Open(sqlite.Open(cfg.DBPath), &gorm.Config{Logger: database.NewGormLogger(logger, 0)})
	if err != nil {
		logger.Fatal("failed to connect to sqlite", zap.Error(err))
	}
	logger.Info("connected to sqlite", zap.String("path", cfg.DBPath))

	// 2. Connect to PostgreSQL (Destination)
	cfg.DBDriver = "postgres"
	pgDB, err := database.Open(cfg, logger)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}

	logger.Info("starting data migration")

	// Parents first so foreign keys resolve
	migrateTable[models.Contact](sqliteDB, pgDB, logger, "contacts")
	migrateTable[models.Message](sqliteDB, pgDB, logger, "messages")
	migrateTable[models.Chatbot](sqliteDB, pgDB, logger, "chatbots")
	migrateTable[models.AutoResponse](sqliteDB, pgDB, logger, "auto_responses")
	migrateTable[models.Flow](sqliteDB, pgDB, logger, "flows")
	migrateTable[models.Step](sqliteDB, pgDB, logger, "flow_steps")
	migrateTable[models.ConversationSession](sqliteDB, pgDB, logger, "conversation_sessions")
	migrateTable[models.InteractionLog](sqliteDB, pgDB, logger, "interaction_logs")

	logger.Info("migration completed, run sync_sequences next")
}

func migrateTable[T any](src, dst *gorm.DB, logger *zap.Logger, table string) {
	var rows []T
	if err := src.Find(&rows).Error; err != nil {
		logger.Error("read failed", zap.String("table", table), zap.Error(err))
		return
	}
	if len(rows) == 0 {
		logger.Info("table empty, skipped", zap.String("table", table))
		return
	}

	err := dst.Transaction(func(tx *gorm.DB) error {
		// Omit associations so flows do not re-insert their steps
		return tx.Omit(clause.Associations).CreateInBatches(&rows, 500).Error
	})
	if err != nil {
		logger.Error("write failed", zap.String("table", table), zap.Error(err))
		return
	}
	logger.Info("table migrated", zap.String("table", table), zap.Int("rows", len(rows)))
}
