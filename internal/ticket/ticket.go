// Package ticket implements the support ticket lifecycle: number sequencing
// and the open, claim and close transitions with their authorization rules.
//
// The engine is platform-agnostic. Channel provisioning, transcript export
// and notification delivery are reached through the Provisioner, Transcriber
// and Notifier interfaces; the chat adapter translates platform events into
// plain Open, Claim and Close calls.
//
// All bookkeeping goes through store.Store, whose lock is held only around
// the load-mutate-save step. Adapter calls never run under the lock.
package ticket

import (
	"context"
	"errors"
	"time"

	"github.com/zulandar/ticketbooth/internal/models"
)

// Actor is the user performing an action, with the role flags the caller
// resolved from the platform.
type Actor struct {
	ID      string
	Name    string
	IsStaff bool // holds the support role
	IsAdmin bool // may manage channels
}

// Channel identifies a ticket channel on the platform.
type Channel struct {
	ID   string
	Name string
}

// AccessList describes who may see a private ticket channel. The adapter
// always grants its own bot user access in addition.
type AccessList struct {
	DenyEveryone bool
	UserIDs      []string
	RoleIDs      []string
}

// ChannelSpec is a request to create a private ticket channel.
type ChannelSpec struct {
	Name     string
	ParentID string
	Access   AccessList
	Reason   string
}

// Document is an exported transcript.
type Document struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Provisioner creates and removes ticket channels.
type Provisioner interface {
	// CheckCategory verifies that the parent category exists and is usable.
	CheckCategory(ctx context.Context, categoryID string) error
	CreatePrivateChannel(ctx context.Context, spec ChannelSpec) (Channel, error)
	DeleteChannel(ctx context.Context, channelID, reason string) error
	// ChannelExists reports whether the channel is still present on the platform.
	ChannelExists(ctx context.Context, channelID string) (bool, error)
}

// Transcriber renders a channel's message history into a document.
type Transcriber interface {
	Export(ctx context.Context, ch Channel, limit int, loc *time.Location) (*Document, error)
}

// Archiver persists transcripts when archival is enabled.
type Archiver interface {
	Archive(ctx context.Context, channelName string, doc *Document) (string, error)
}

// ErrUnreachable is returned (wrapped) by Notifier.DirectMessage when the
// recipient does not accept direct messages.
var ErrUnreachable = errors.New("recipient unreachable")

// Notifier delivers lifecycle notices.
type Notifier interface {
	// Notify posts evt to the log channel and, where relevant, into the
	// ticket channel itself.
	Notify(ctx context.Context, evt Event) error
	// DirectMessage sends evt privately to userID.
	DirectMessage(ctx context.Context, userID string, evt Event) error
}

// EventKind names a lifecycle notice.
type EventKind string

const (
	EventOpened         EventKind = "opened"
	EventClaimed        EventKind = "claimed"
	EventClosed         EventKind = "closed"
	EventDeliveryFailed EventKind = "delivery_failed"
)

// Event is a lifecycle notice handed to the Notifier.
type Event struct {
	Kind       EventKind
	Ticket     models.Ticket
	Channel    Channel
	Actor      Actor
	Transcript *Document // closed events only; nil when export failed
	Err        error     // delivery_failed events only
	Time       time.Time
}
