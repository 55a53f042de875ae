package db

import (
	"fmt"

	"github.com/zulandar/ticketbooth/internal/models"
	"gorm.io/gorm"
)

// AllModels returns the GORM models backing the SQL ticket store.
func AllModels() []interface{} {
	return []interface{}{
		&models.Ticket{},
		&models.OpenTicket{},
		&models.TicketCounter{},
	}
}

// AutoMigrate creates or updates the ticket store tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
