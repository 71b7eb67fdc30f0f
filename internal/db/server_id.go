package db

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/sitesafe/ptwcore/internal/models"
	"gorm.io/gorm"
)

// GetOrCreateServerID retrieves the stable instance ID from the database, or
// generates and stores a new one. Delivery workers use it to claim outbox
// rows so concurrent instances never process the same event.
func GetOrCreateServerID(db *gorm.DB) (string, error) {
	var cfg models.ServerConfig

	err := db.Where("key = ?", models.ServerConfigKeyServerID).First(&cfg).Error
	if err == nil {
		return cfg.Value, nil
	}
	if err != gorm.ErrRecordNotFound {
		return "", fmt.Errorf("failed to query server config: %w", err)
	}

	serverID := uuid.New().String()
	cfg = models.ServerConfig{
		Key:   models.ServerConfigKeyServerID,
		Value: serverID,
	}
	if err := db.Create(&cfg).Error; err != nil {
		return "", fmt.Errorf("failed to create server ID: %w", err)
	}

	slog.Info("Generated new server ID", "server_id", serverID)
	return serverID, nil
}
