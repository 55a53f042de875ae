package ticket

import (
	"context"
	"fmt"

	"github.com/zulandar/ticketbooth/internal/models"
	"github.com/zulandar/ticketbooth/internal/store"
)

// Sequencer hands out strictly increasing ticket numbers. Numbers are never
// reused, including after a failed channel creation or a restart.
type Sequencer struct {
	store *store.Store
}

// NewSequencer returns a Sequencer backed by s.
func NewSequencer(s *store.Store) *Sequencer {
	return &Sequencer{store: s}
}

// Next increments and persists the counter, returning the new value.
func (q *Sequencer) Next(ctx context.Context) (int, error) {
	var n int
	err := q.store.Update(ctx, func(st *models.State) error {
		st.LastTicketNumber++
		n = st.LastTicketNumber
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("ticket: allocate number: %w", err)
	}
	return n, nil
}
