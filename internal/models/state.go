package models

// State is the full persisted ticket bookkeeping. It is loaded at the start
// of every mutating operation and rewritten whole at the end.
type State struct {
	LastTicketNumber  int                `json:"last_ticket_number"`
	OpenTicketsByUser map[string]string  `json:"open_tickets_by_user"`
	TicketsByChannel  map[string]*Ticket `json:"tickets_by_channel"`
}

// NewState returns the zero state used when nothing has been persisted yet.
func NewState() *State {
	return &State{
		OpenTicketsByUser: make(map[string]string),
		TicketsByChannel:  make(map[string]*Ticket),
	}
}

// Normalize fills in maps that were absent from the persisted document.
func (s *State) Normalize() {
	if s.OpenTicketsByUser == nil {
		s.OpenTicketsByUser = make(map[string]string)
	}
	if s.TicketsByChannel == nil {
		s.TicketsByChannel = make(map[string]*Ticket)
	}
}

// Insert records t in both indexes.
func (s *State) Insert(t *Ticket) {
	s.TicketsByChannel[t.ChannelID] = t
	s.OpenTicketsByUser[t.OpenerID] = t.ChannelID
}

// Remove deletes the ticket hosted in channelID from both indexes. The user
// index entry is only dropped if it still points at this channel. Returns the
// removed ticket, or nil if none was recorded.
func (s *State) Remove(channelID string) *Ticket {
	t, ok := s.TicketsByChannel[channelID]
	if !ok {
		return nil
	}
	delete(s.TicketsByChannel, channelID)
	if s.OpenTicketsByUser[t.OpenerID] == channelID {
		delete(s.OpenTicketsByUser, t.OpenerID)
	}
	return t
}
