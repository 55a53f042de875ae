package ticket

import (
	"errors"
	"fmt"
)

// ErrTicketNotFound means the channel has no ticket record.
var ErrTicketNotFound = errors.New("ticket data not found")

// ValidationError rejects a request before any state is touched.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ticket: %s: %v", e.Reason, e.Err)
	}
	return "ticket: " + e.Reason
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ConflictKind distinguishes the conflicting-state rejections.
type ConflictKind int

const (
	// ConflictOpenTicket: the user already has an open ticket in ChannelID.
	ConflictOpenTicket ConflictKind = iota + 1
	// ConflictAlreadyClaimed: UserID claimed the ticket first.
	ConflictAlreadyClaimed
	// ConflictClaimedByOther: only UserID (or an admin) may close the ticket.
	ConflictClaimedByOther
	// ConflictInProgress: another open or close for the same key is running.
	ConflictInProgress
)

// ConflictError rejects an action because of existing state. UserID and
// ChannelID reference the conflicting party.
type ConflictError struct {
	Kind      ConflictKind
	ChannelID string
	UserID    string
}

func (e *ConflictError) Error() string {
	switch e.Kind {
	case ConflictOpenTicket:
		return fmt.Sprintf("ticket: user already has an open ticket in channel %s", e.ChannelID)
	case ConflictAlreadyClaimed:
		return fmt.Sprintf("ticket: already claimed by %s", e.UserID)
	case ConflictClaimedByOther:
		return fmt.Sprintf("ticket: claimed by %s", e.UserID)
	case ConflictInProgress:
		return "ticket: another action is already in progress"
	default:
		return "ticket: conflict"
	}
}

// AuthorizationError rejects an actor lacking the required role.
type AuthorizationError struct {
	Action string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("ticket: forbidden: not allowed to %s", e.Action)
}

// AdapterError wraps a failed call to a platform collaborator.
type AdapterError struct {
	Op  string
	Err error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("ticket: %s: %v", e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }
