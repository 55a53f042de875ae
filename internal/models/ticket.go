package models

import "fmt"

// TicketStatus is the lifecycle state of an active ticket. Closed tickets
// are removed from the store rather than kept with a terminal status.
type TicketStatus string

const (
	StatusOpen    TicketStatus = "open"
	StatusClaimed TicketStatus = "claimed"
)

// Valid reports whether s is a status an active ticket can hold.
func (s TicketStatus) Valid() bool {
	return s == StatusOpen || s == StatusClaimed
}

// Ticket is the bookkeeping record for one active support ticket, keyed by
// the channel that hosts it.
type Ticket struct {
	TicketNumber int          `json:"ticket_number" gorm:"primaryKey;autoIncrement:false"`
	ChannelID    string       `json:"channel_id" gorm:"size:32;not null;uniqueIndex"`
	OpenerID     string       `json:"opener_id" gorm:"size:32;not null;index"`
	ClaimedBy    *string      `json:"claimed_by" gorm:"size:32"`
	Status       TicketStatus `json:"status" gorm:"size:16;not null;default:open"`
}

// Claimed reports whether a staff member has taken the ticket.
func (t *Ticket) Claimed() bool {
	return t.ClaimedBy != nil && *t.ClaimedBy != ""
}

// ClaimedByID returns the claiming user ID, or "" if unclaimed.
func (t *Ticket) ClaimedByID() string {
	if t.ClaimedBy == nil {
		return ""
	}
	return *t.ClaimedBy
}

// ChannelName returns the display name of the ticket's channel.
func (t *Ticket) ChannelName() string {
	return FormatTicketName(t.TicketNumber)
}

// FormatTicketName renders a ticket number as its channel name, e.g. ticket-0042.
func FormatTicketName(n int) string {
	return fmt.Sprintf("ticket-%04d", n)
}

// OpenTicket is the SQL row form of the per-user open ticket index.
type OpenTicket struct {
	UserID    string `gorm:"primaryKey;size:32"`
	ChannelID string `gorm:"size:32;not null"`
}

// TicketCounter is the SQL row form of the ticket number counter.
type TicketCounter struct {
	Name  string `gorm:"primaryKey;size:32"`
	Value int    `gorm:"not null;default:0"`
}
