package ticket

import (
	"context"
	"sort"

	"github.com/zulandar/ticketbooth/internal/models"
	"go.uber.org/zap"
)

// Sweep removes records whose channel no longer exists on the platform, for
// example after a moderator deleted a ticket channel by hand. Tickets with an
// open or close in flight are skipped, as are channels whose existence could
// not be determined. Returns the removed tickets.
func (e *Engine) Sweep(ctx context.Context) ([]models.Ticket, error) {
	snap, err := e.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	gone := make(map[string]int)
	for _, t := range SortedTickets(snap) {
		if e.inFlight(e.closing, t.ChannelID) || e.inFlight(e.opening, t.OpenerID) {
			continue
		}
		exists, err := e.channels.ChannelExists(ctx, t.ChannelID)
		if err != nil {
			e.log.Warn("sweep: check channel", zap.String("channel", t.ChannelID), zap.Error(err))
			continue
		}
		if !exists {
			gone[t.ChannelID] = t.TicketNumber
		}
	}
	if len(gone) == 0 {
		return nil, nil
	}

	var removed []models.Ticket
	err = e.store.Update(ctx, func(st *models.State) error {
		for channelID, number := range gone {
			t, ok := st.TicketsByChannel[channelID]
			if !ok || t.TicketNumber != number {
				continue
			}
			removed = append(removed, *st.Remove(channelID))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(removed, func(i, j int) bool { return removed[i].TicketNumber < removed[j].TicketNumber })
	for _, t := range removed {
		e.log.Info("sweep: removed stale ticket",
			zap.Int("ticket", t.TicketNumber), zap.String("channel", t.ChannelID), zap.String("opener", t.OpenerID))
	}
	return removed, nil
}

// SortedTickets returns the tickets in st ordered by ticket number.
func SortedTickets(st *models.State) []models.Ticket {
	out := make([]models.Ticket, 0, len(st.TicketsByChannel))
	for _, t := range st.TicketsByChannel {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TicketNumber < out[j].TicketNumber })
	return out
}
