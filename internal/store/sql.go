package store

import (
	"context"
	"fmt"

	"github.com/zulandar/ticketbooth/internal/models"
	"gorm.io/gorm"
)

// counterName is the ticket_counters row holding last_ticket_number.
const counterName = "tickets"

// SQLBackend keeps the state in three tables: tickets, open_tickets and
// ticket_counters. Save rewrites all of them inside one transaction.
type SQLBackend struct {
	db       *gorm.DB
	lockPath string
}

// NewSQLBackend returns a backend over db. Tables must already exist; see
// db.AutoMigrate.
func NewSQLBackend(db *gorm.DB) *SQLBackend {
	return &SQLBackend{db: db}
}

// WithLockFile makes Lock use an advisory lock file instead of a database
// lock. Used for sqlite, which has no named locks.
func (b *SQLBackend) WithLockFile(path string) *SQLBackend {
	b.lockPath = path
	return b
}

// Lock serializes writers across processes: a MySQL named lock, or the lock
// file when one is set. Other databases get a no-op lock.
func (b *SQLBackend) Lock(ctx context.Context) (func() error, error) {
	if b.lockPath != "" {
		return lockFile(ctx, b.lockPath)
	}
	if b.db.Dialector.Name() != "mysql" {
		return func() error { return nil }, nil
	}
	sqlDB, err := b.db.DB()
	if err != nil {
		return nil, fmt.Errorf("store: sql handle: %w", err)
	}
	return lockNamed(ctx, sqlDB)
}

// Load reads the three tables in one transaction.
func (b *SQLBackend) Load(ctx context.Context) (*models.State, error) {
	state := models.NewState()

	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var counters []models.TicketCounter
		if err := tx.Where("name = ?", counterName).Find(&counters).Error; err != nil {
			return fmt.Errorf("store: load counter: %w", err)
		}
		if len(counters) > 0 {
			state.LastTicketNumber = counters[0].Value
		}

		var tickets []models.Ticket
		if err := tx.Order("ticket_number ASC").Find(&tickets).Error; err != nil {
			return fmt.Errorf("store: load tickets: %w", err)
		}
		for i := range tickets {
			t := tickets[i]
			state.TicketsByChannel[t.ChannelID] = &t
		}

		var open []models.OpenTicket
		if err := tx.Find(&open).Error; err != nil {
			return fmt.Errorf("store: load open tickets: %w", err)
		}
		for _, o := range open {
			state.OpenTicketsByUser[o.UserID] = o.ChannelID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := validateState(state); err != nil {
		return nil, &CorruptError{Source: "database", Err: err}
	}
	return state, nil
}

// Save replaces the persisted state with state.
func (b *SQLBackend) Save(ctx context.Context, state *models.State) error {
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		counter := models.TicketCounter{Name: counterName, Value: state.LastTicketNumber}
		if err := tx.Save(&counter).Error; err != nil {
			return fmt.Errorf("store: save counter: %w", err)
		}

		if err := tx.Where("1 = 1").Delete(&models.Ticket{}).Error; err != nil {
			return fmt.Errorf("store: clear tickets: %w", err)
		}
		if err := tx.Where("1 = 1").Delete(&models.OpenTicket{}).Error; err != nil {
			return fmt.Errorf("store: clear open tickets: %w", err)
		}

		if len(state.TicketsByChannel) > 0 {
			tickets := make([]models.Ticket, 0, len(state.TicketsByChannel))
			for _, t := range state.TicketsByChannel {
				tickets = append(tickets, *t)
			}
			if err := tx.Create(&tickets).Error; err != nil {
				return fmt.Errorf("store: save tickets: %w", err)
			}
		}
		if len(state.OpenTicketsByUser) > 0 {
			open := make([]models.OpenTicket, 0, len(state.OpenTicketsByUser))
			for userID, channelID := range state.OpenTicketsByUser {
				open = append(open, models.OpenTicket{UserID: userID, ChannelID: channelID})
			}
			if err := tx.Create(&open).Error; err != nil {
				return fmt.Errorf("store: save open tickets: %w", err)
			}
		}
		return nil
	})
}
