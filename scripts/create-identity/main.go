// Bootstrap tool: creates an identity directly in the database. Useful for
// the first admin before the API is reachable.
//
// Usage: go run ./scripts/create-identity <username> <email> <password> [role] [grade]
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/sitesafe/ptwcore/internal/auth"
	"github.com/sitesafe/ptwcore/internal/config"
	"github.com/sitesafe/ptwcore/internal/db"
	"github.com/sitesafe/ptwcore/internal/logger"
	"github.com/sitesafe/ptwcore/internal/models"
)

func main() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: go run ./scripts/create-identity <username> <email> <password> [role] [grade]")
		os.Exit(1)
	}
	username := os.Args[1]
	email := os.Args[2]
	password := os.Args[3]
	role := models.RoleAdmin
	if len(os.Args) > 4 {
		role = os.Args[4]
	}
	grade := ""
	if len(os.Args) > 5 {
		grade = os.Args[5]
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(cfg.Log.Format, cfg.Log.Level)

	database, err := db.New(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := db.Migrate(database); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		log.Fatalf("Failed to hash password: %v", err)
	}

	// One default tenant is enough for a bootstrap install; platform-managed
	// deployments replace this with their own tenant provisioning.
	var tenant models.Tenant
	err = database.Where("name = ?", "default").First(&tenant).Error
	if err != nil {
		tenant = models.Tenant{ID: uuid.New(), Name: "default", Active: true}
		if err := database.Create(&tenant).Error; err != nil {
			log.Fatalf("Failed to create default tenant: %v", err)
		}
	}

	identity := models.Identity{
		TenantID:     tenant.ID,
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Grade:        grade,
		Active:       true,
	}
	if err := database.Create(&identity).Error; err != nil {
		log.Fatalf("Failed to create identity: %v", err)
	}

	fmt.Printf("Created identity %s (%s) in tenant %s\n", username, role, tenant.Name)
}
