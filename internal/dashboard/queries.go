package dashboard

import (
	"github.com/zulandar/ticketbooth/internal/models"
)

// Summary holds ticket counts by status.
type Summary struct {
	Total   int `json:"total"`
	Open    int `json:"open"`
	Claimed int `json:"claimed"`
}

// Summarize counts tickets by status.
func Summarize(tickets []models.Ticket) Summary {
	s := Summary{Total: len(tickets)}
	for _, t := range tickets {
		switch t.Status {
		case models.StatusClaimed:
			s.Claimed++
		default:
			s.Open++
		}
	}
	return s
}

// TicketView is the JSON shape of one ticket.
type TicketView struct {
	TicketNumber int    `json:"ticket_number"`
	Name         string `json:"name"`
	ChannelID    string `json:"channel_id"`
	OpenerID     string `json:"opener_id"`
	ClaimedBy    string `json:"claimed_by,omitempty"`
	Status       string `json:"status"`
}

func toView(t models.Ticket) TicketView {
	return TicketView{
		TicketNumber: t.TicketNumber,
		Name:         t.ChannelName(),
		ChannelID:    t.ChannelID,
		OpenerID:     t.OpenerID,
		ClaimedBy:    t.ClaimedByID(),
		Status:       string(t.Status),
	}
}

func findTicket(tickets []models.Ticket, channelID string) (models.Ticket, bool) {
	for _, t := range tickets {
		if t.ChannelID == channelID {
			return t, true
		}
	}
	return models.Ticket{}, false
}
